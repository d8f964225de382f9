package validator

import (
	"encoding/json"
	"errors"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/connext/indra-sub007/common"
	"github.com/connext/indra-sub007/model"
)

var testSecret = []byte("test-secret")

func signedRequest(t *testing.T, expected *model.ChannelState) *common.UpdateRequest {
	signer := common.NewHmacSigner(expected.User, testSecret)
	sig, err := signer.Sign(expected.Hash())
	require.NoError(t, err)

	raw, err := json.Marshal(&common.PaymentArgs{Recipient: common.SellerHub})
	require.NoError(t, err)

	return &common.UpdateRequest{
		Reason:        common.ReasonPayment,
		Args:          raw,
		TxCountGlobal: expected.TxCountGlobal,
		SigUser:       sig,
	}
}

func TestValidateRequest(t *testing.T) {
	v := New(common.HmacVerifier(testSecret))
	expected := model.NewChannelState("0xaa01", "0xcc01")
	expected.TxCountGlobal = 4

	req := signedRequest(t, expected)
	assert.NoError(t, v.ValidateRequest(req, expected))
}

func TestValidateRequestStaleTxCount(t *testing.T) {
	v := New(common.HmacVerifier(testSecret))
	expected := model.NewChannelState("0xaa01", "0xcc01")
	expected.TxCountGlobal = 4

	req := signedRequest(t, expected)
	req.TxCountGlobal = 3

	err := v.ValidateRequest(req, expected)
	require.Error(t, err)
	assert.True(t, errors.Is(err, common.ErrStaleTxCount))
}

func TestValidateRequestBadSignature(t *testing.T) {
	v := New(common.HmacVerifier(testSecret))
	expected := model.NewChannelState("0xaa01", "0xcc01")
	expected.TxCountGlobal = 4

	req := signedRequest(t, expected)
	req.SigUser = "0xdeadbeef"

	err := v.ValidateRequest(req, expected)
	require.Error(t, err)
	assert.True(t, errors.Is(err, common.ErrValidation))
}

func TestValidateRequestUnknownReason(t *testing.T) {
	v := New(common.HmacVerifier(testSecret))
	expected := model.NewChannelState("0xaa01", "0xcc01")

	req := signedRequest(t, expected)
	req.Reason = common.UpdateReason("Bogus")

	err := v.ValidateRequest(req, expected)
	require.Error(t, err)
	assert.True(t, errors.Is(err, common.ErrValidation))
}

func TestValidateDepositRequest(t *testing.T) {
	v := New(common.HmacVerifier(testSecret))
	user := "0xaa01"
	weiAmt := decimal.NewFromInt(1000)
	tokenAmt := decimal.NewFromInt(0)

	sig, err := common.NewHmacSigner(user, testSecret).Sign(
		common.DepositRequestDigest(user, weiAmt, tokenAmt))
	require.NoError(t, err)

	assert.NoError(t, v.ValidateDepositRequest(user, weiAmt, tokenAmt, sig))

	// the signature binds the amounts
	err = v.ValidateDepositRequest(user, decimal.NewFromInt(2000), tokenAmt, sig)
	require.Error(t, err)
	assert.True(t, errors.Is(err, common.ErrValidation))

	// any non-empty string is not a signature
	err = v.ValidateDepositRequest(user, weiAmt, tokenAmt, "0xreqsig")
	require.Error(t, err)
	assert.True(t, errors.Is(err, common.ErrValidation))

	err = v.ValidateDepositRequest(user, weiAmt, tokenAmt, "")
	require.Error(t, err)
	assert.True(t, errors.Is(err, common.ErrValidation))
}

func TestValidateThreadArgs(t *testing.T) {
	v := New(common.HmacVerifier(testSecret))

	args := &common.ThreadArgs{
		Sender:   "0xaa01",
		Receiver: "0xbb02",
	}
	signer := common.NewHmacSigner(args.Sender, testSecret)
	sig, err := signer.Sign(args.Hash())
	require.NoError(t, err)
	args.SigSender = sig

	assert.NoError(t, v.ValidateThreadArgs(args))

	// tampering after signing breaks the signature
	args.ThreadID = 7
	err = v.ValidateThreadArgs(args)
	require.Error(t, err)
	assert.True(t, errors.Is(err, common.ErrValidation))
}

func TestValidateThreadArgsSelfThread(t *testing.T) {
	v := New(common.HmacVerifier(testSecret))
	err := v.ValidateThreadArgs(&common.ThreadArgs{Sender: "0xaa01", Receiver: "0xaa01", SigSender: "x"})
	require.Error(t, err)
	assert.True(t, errors.Is(err, common.ErrValidation))
}
