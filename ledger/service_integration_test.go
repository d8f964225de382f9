package ledger

import (
	"context"
	"encoding/json"
	"os"
	"testing"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/mysql"
	"gorm.io/gorm"

	"github.com/connext/indra-sub007/chaintx"
	"github.com/connext/indra-sub007/common"
	"github.com/connext/indra-sub007/dao"
	"github.com/connext/indra-sub007/model"
	"github.com/connext/indra-sub007/stategen"
	"github.com/connext/indra-sub007/util"
	"github.com/connext/indra-sub007/validator"
)

var testSecret = []byte("ledger-test-secret")

// fakeChain accepts every broadcast.
type fakeChain struct{}

func (fakeChain) GetTransactionCount(ctx context.Context, addr string) (uint64, error) {
	return 0, nil
}
func (fakeChain) EstimateGas(ctx context.Context, p chaintx.TxParams) (uint64, error) {
	return 21000, nil
}
func (fakeChain) SendTransaction(ctx context.Context, p chaintx.TxParams) (string, error) {
	return "0xhash" + util.RandHexStr(8), nil
}
func (fakeChain) GetTransactionByHash(ctx context.Context, hash string) (*chaintx.TxInfo, error) {
	return &chaintx.TxInfo{Hash: hash}, nil
}
func (fakeChain) GetTransactionReceipt(ctx context.Context, hash string) (*chaintx.Receipt, error) {
	return nil, nil
}
func (fakeChain) BlockNumber(ctx context.Context) (uint64, error) {
	return 100, nil
}

// Requires MySQL and redis, e.g.
//
//	HUB_TEST_MYSQL_DSN='root:123456@tcp(127.0.0.1:3306)/hub_ledger_test' \
//	HUB_TEST_REDIS_ADDR=127.0.0.1:6379 go test ./ledger/...
func testService(t *testing.T) (*Service, *dao.Dao) {
	return testServiceWithCfg(t, nil)
}

func testServiceWithCfg(t *testing.T, mutate func(*common.LedgerConfig)) (*Service, *dao.Dao) {
	dsn := os.Getenv("HUB_TEST_MYSQL_DSN")
	addr := os.Getenv("HUB_TEST_REDIS_ADDR")
	if dsn == "" || addr == "" {
		t.Skip("HUB_TEST_MYSQL_DSN or HUB_TEST_REDIS_ADDR not set")
	}

	db, err := gorm.Open(mysql.Open(dsn), &gorm.Config{})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(
		&model.ChannelState{},
		&model.ChannelUpdate{},
		&model.ThreadState{},
		&model.OnchainTransaction{},
		&model.NonceState{},
		&model.Payment{},
	))

	rds := redis.NewClient(&redis.Options{Addr: addr})
	require.NoError(t, rds.Ping(context.Background()).Err())

	d := dao.NewDao(db, rds)
	cfg := common.DefaultLedgerConfig()
	cfg.HubAddress = "0xhub"
	cfg.ContractAddress = "0xcc01"
	if mutate != nil {
		mutate(&cfg)
	}

	chainSvc := chaintx.NewService(d, fakeChain{}, cfg.HubAddress, time.Second)
	val := validator.New(common.HmacVerifier(testSecret))
	signer := common.NewHmacSigner(cfg.HubAddress, testSecret)
	return NewService(d, val, chainSvc, signer, cfg), d
}

func userSign(t *testing.T, user string, expected *model.ChannelState) string {
	sig, err := common.NewHmacSigner(user, testSecret).Sign(expected.Hash())
	require.NoError(t, err)
	return sig
}

func depositRequestSig(t *testing.T, user string, weiAmt, tokenAmt decimal.Decimal) string {
	sig, err := common.NewHmacSigner(user, testSecret).Sign(
		common.DepositRequestDigest(user, weiAmt, tokenAmt))
	require.NoError(t, err)
	return sig
}

func TestDepositRequestAndUpdateFlow(t *testing.T) {
	s, d := testService(t)
	ctx := context.Background()
	user := "0xtest" + util.RandHexStr(8)
	defer d.ClearStagedProposal(ctx, user) //nolint:errcheck

	weiAmt := dec("1000")
	proposal, err := s.RequestDeposit(ctx, user, weiAmt, dec("0"), depositRequestSig(t, user, weiAmt, dec("0")))
	require.NoError(t, err)
	require.NotNil(t, proposal)
	assert.Equal(t, uint64(1), proposal.TxCountGlobal)
	assert.NotEmpty(t, proposal.SigHub)

	// the user recomputes the expected state and signs it
	base := model.NewChannelState(user, "0xcc01")
	expected, err := stategen.NextState(base, proposal.Reason, proposal.Args)
	require.NoError(t, err)

	out, err := s.Update(ctx, user, []common.UpdateRequest{{
		Reason:        proposal.Reason,
		Args:          proposal.Args,
		TxCountGlobal: proposal.TxCountGlobal,
		SigUser:       userSign(t, user, expected),
	}})
	require.NoError(t, err)
	require.Len(t, out, 1)
	assert.NotEmpty(t, out[0].SigHub)
	assert.NotEmpty(t, out[0].SigUser)
	require.NotNil(t, out[0].OnchainLogicalID)

	cs, err := d.GetChannel(d.DB().WithContext(ctx), user)
	require.NoError(t, err)
	require.NotNil(t, cs)
	assert.Equal(t, uint64(1), cs.TxCountGlobal)
	assert.Equal(t, uint64(1), cs.TxCountChain)
	assert.True(t, cs.PendingDepositWeiUser.Equal(weiAmt))
	// hub matched the wei deposit with token collateral at rate 1
	assert.True(t, cs.PendingDepositTokenHub.Equal(weiAmt))
	assert.NotZero(t, cs.Timeout)

	// the consumed proposal is gone
	staged, err := d.GetStagedProposal(ctx, user)
	require.NoError(t, err)
	assert.Nil(t, staged)

	// no collateral top-up is proposed while the deposit is pending
	topUp, err := s.CollateralizeIfNecessary(ctx, user, nil)
	require.NoError(t, err)
	assert.Nil(t, topUp)
	staged, err = d.GetStagedProposal(ctx, user)
	require.NoError(t, err)
	assert.Nil(t, staged)
}

func TestDepositRequestRejectsBadSignature(t *testing.T) {
	s, d := testService(t)
	ctx := context.Background()
	user := "0xtest" + util.RandHexStr(8)

	_, err := s.RequestDeposit(ctx, user, dec("1000"), dec("0"), "0xforged")
	require.Error(t, err)
	assert.ErrorIs(t, err, common.ErrValidation)

	staged, err := d.GetStagedProposal(ctx, user)
	require.NoError(t, err)
	assert.Nil(t, staged)
}

func TestUpdateRejectedWhileInDispute(t *testing.T) {
	s, d := testService(t)
	ctx := context.Background()
	user := "0xtest" + util.RandHexStr(8)

	err := d.RunInTx(ctx, func(tx *gorm.DB) error {
		if _, err := d.EnsureChannel(tx, user, "0xcc01"); err != nil {
			return err
		}
		return d.SetChannelStatus(tx, user, model.ChannelStatusDispute)
	})
	require.NoError(t, err)

	raw, err := json.Marshal(&common.PaymentArgs{Recipient: common.SellerHub})
	require.NoError(t, err)
	_, err = s.Update(ctx, user, []common.UpdateRequest{{
		Reason:        common.ReasonPayment,
		Args:          raw,
		TxCountGlobal: 1,
		SigUser:       "0xsig",
	}})
	require.Error(t, err)
	assert.ErrorIs(t, err, common.ErrPolicy)

	cs, err := d.GetChannel(d.DB().WithContext(ctx), user)
	require.NoError(t, err)
	assert.Equal(t, uint64(0), cs.TxCountGlobal)
}

func TestClientCannotSubmitHubOriginatedReasons(t *testing.T) {
	s, d := testService(t)
	ctx := context.Background()
	user := "0xtest" + util.RandHexStr(8)

	err := d.RunInTx(ctx, func(tx *gorm.DB) error {
		_, err := d.EnsureChannel(tx, user, "0xcc01")
		return err
	})
	require.NoError(t, err)

	for _, reason := range []common.UpdateReason{common.ReasonConfirmPending, common.ReasonEmptyChannel} {
		raw, err := json.Marshal(&common.ConfirmPendingArgs{TransactionHash: "0xhash"})
		require.NoError(t, err)
		_, err = s.Update(ctx, user, []common.UpdateRequest{{
			Reason:        reason,
			Args:          raw,
			TxCountGlobal: 1,
			SigUser:       "0xsig",
		}})
		require.Error(t, err)
		assert.ErrorIs(t, err, common.ErrValidation)
	}
}

func TestFinalizeExitAppendsUpdate(t *testing.T) {
	s, d := testService(t)
	ctx := context.Background()
	user := "0xtest" + util.RandHexStr(8)

	err := d.RunInTx(ctx, func(tx *gorm.DB) error {
		cs, err := d.EnsureChannel(tx, user, "0xcc01")
		if err != nil {
			return err
		}
		cs.BalanceWeiUser = dec("500")
		cs.BalanceTokenHub = dec("40")
		cs.Status = model.ChannelStatusDispute
		return d.SaveChannel(tx, cs)
	})
	require.NoError(t, err)

	err = d.RunInTx(ctx, func(tx *gorm.DB) error {
		cs, err := d.LockChannel(tx, user)
		if err != nil {
			return err
		}
		return s.FinalizeExit(tx, cs, "0xsettlementhash")
	})
	require.NoError(t, err)

	// the emptied state lands as an appended, hub-signed log entry
	cu, err := d.LatestUpdate(d.DB().WithContext(ctx), user)
	require.NoError(t, err)
	require.NotNil(t, cu)
	assert.Equal(t, string(common.ReasonEmptyChannel), cu.Reason)
	assert.Equal(t, uint64(1), cu.TxCountGlobal)
	assert.NotEmpty(t, cu.SigHub)

	snapshot, err := cu.Snapshot()
	require.NoError(t, err)
	assert.True(t, snapshot.BalanceWeiUser.IsZero())
	assert.True(t, snapshot.BalanceTokenHub.IsZero())
	assert.Equal(t, model.ChannelStatusOpen, snapshot.Status)

	cs, err := d.GetChannel(d.DB().WithContext(ctx), user)
	require.NoError(t, err)
	assert.Equal(t, uint64(1), cs.TxCountGlobal)
	assert.True(t, cs.BalanceWeiUser.IsZero())
	assert.False(t, cs.HasPending())
}

func TestWithdrawalOverdraftStagesNothing(t *testing.T) {
	s, d := testService(t)
	ctx := context.Background()
	user := "0xtest" + util.RandHexStr(8)
	defer d.ClearStagedProposal(ctx, user) //nolint:errcheck

	// channel row must exist but holds no balance
	err := d.RunInTx(ctx, func(tx *gorm.DB) error {
		_, err := d.EnsureChannel(tx, user, "0xcc01")
		return err
	})
	require.NoError(t, err)

	_, err = s.RequestWithdrawal(ctx, user, dec("1"), dec("0"))
	require.Error(t, err)
	assert.ErrorIs(t, err, common.ErrInsufficientBalance)

	staged, err := d.GetStagedProposal(ctx, user)
	require.NoError(t, err)
	assert.Nil(t, staged)
}
