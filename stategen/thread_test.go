package stategen

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/connext/indra-sub007/common"
	"github.com/connext/indra-sub007/model"
)

func threadArgs() *common.ThreadArgs {
	return &common.ThreadArgs{
		Sender:             "0xaa01",
		Receiver:           "0xbb02",
		ThreadID:           0,
		BalanceWeiSender:   dec("100"),
		BalanceTokenSender: dec("50"),
	}
}

func TestOpenThreadSenderChannel(t *testing.T) {
	prev := baseState() // user 0xaa01
	raw := mustRaw(t, threadArgs())

	next, err := NextState(prev, common.ReasonOpenThread, raw)
	require.NoError(t, err)

	assert.True(t, next.BalanceWeiUser.Equal(dec("400")))
	assert.True(t, next.BalanceTokenUser.Equal(dec("250")))
	assert.True(t, next.BalanceWeiHub.Equal(prev.BalanceWeiHub))
	assert.Equal(t, uint64(1), next.ThreadCount)
}

func TestOpenThreadReceiverChannel(t *testing.T) {
	prev := baseState()
	prev.User = "0xbb02"
	raw := mustRaw(t, threadArgs())

	next, err := NextState(prev, common.ReasonOpenThread, raw)
	require.NoError(t, err)

	// the hub bonds the sender balance in the receiver's channel
	assert.True(t, next.BalanceWeiHub.Equal(dec("900")))
	assert.True(t, next.BalanceTokenHub.Equal(dec("1950")))
	assert.True(t, next.BalanceWeiUser.Equal(prev.BalanceWeiUser))
	assert.Equal(t, uint64(1), next.ThreadCount)
}

func TestOpenThreadRejectsNonZeroReceiverBalance(t *testing.T) {
	prev := baseState()
	args := threadArgs()
	args.BalanceWeiReceiver = dec("1")
	_, err := NextState(prev, common.ReasonOpenThread, mustRaw(t, args))
	require.Error(t, err)
	assert.True(t, errors.Is(err, common.ErrValidation))
}

func TestOpenThreadRejectsOverdraft(t *testing.T) {
	prev := baseState()
	args := threadArgs()
	args.BalanceWeiSender = dec("501")
	_, err := NextState(prev, common.ReasonOpenThread, mustRaw(t, args))
	require.Error(t, err)
	assert.True(t, errors.Is(err, common.ErrInsufficientBalance))
}

func TestCloseThreadSettlesBothChannels(t *testing.T) {
	args := threadArgs()
	args.BalanceWeiSender = dec("60")
	args.BalanceWeiReceiver = dec("40")
	args.BalanceTokenSender = dec("50")
	args.TxCount = 3
	raw := mustRaw(t, args)

	sender := baseState()
	sender.ThreadCount = 1
	nextSender, err := NextState(sender, common.ReasonCloseThread, raw)
	require.NoError(t, err)
	assert.True(t, nextSender.BalanceWeiUser.Equal(dec("560")))
	assert.True(t, nextSender.BalanceWeiHub.Equal(dec("1040")))
	assert.Equal(t, uint64(0), nextSender.ThreadCount)

	receiver := baseState()
	receiver.User = "0xbb02"
	receiver.ThreadCount = 1
	nextReceiver, err := NextState(receiver, common.ReasonCloseThread, raw)
	require.NoError(t, err)
	assert.True(t, nextReceiver.BalanceWeiUser.Equal(dec("540")))
	assert.True(t, nextReceiver.BalanceWeiHub.Equal(dec("1060")))
	assert.Equal(t, uint64(0), nextReceiver.ThreadCount)
}

func TestCloseThreadWithoutOpenThread(t *testing.T) {
	prev := baseState()
	_, err := NextState(prev, common.ReasonCloseThread, mustRaw(t, threadArgs()))
	require.Error(t, err)
	assert.True(t, errors.Is(err, common.ErrValidation))
}

func TestThreadRoot(t *testing.T) {
	zero := ThreadRoot(nil)
	assert.Equal(t, "0x0000000000000000000000000000000000000000000000000000000000000000", zero)

	t1 := model.ThreadState{Sender: "0xaa01", Receiver: "0xbb02", ThreadID: 0, BalanceWeiSender: dec("100")}
	t2 := model.ThreadState{Sender: "0xbb02", Receiver: "0xcc03", ThreadID: 1, BalanceTokenSender: dec("5")}

	// insensitive to input order
	r1 := ThreadRoot([]model.ThreadState{t1, t2})
	r2 := ThreadRoot([]model.ThreadState{t2, t1})
	assert.Equal(t, r1, r2)
	assert.NotEqual(t, zero, r1)

	// sensitive to balances
	t1.BalanceWeiSender = dec("101")
	r3 := ThreadRoot([]model.ThreadState{t1, t2})
	assert.NotEqual(t, r1, r3)
}
