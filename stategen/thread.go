package stategen

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"sort"

	"github.com/connext/indra-sub007/common"
	"github.com/connext/indra-sub007/model"
	"golang.org/x/xerrors"
)

// Thread transitions are applied to both participants' channels, each
// consuming its own txCountGlobal. Which side a channel plays is derived
// from the channel's user.
//
// Open: the sender bonds the initial thread balance out of their channel's
// user column; the hub bonds the same amount out of its own column in the
// receiver's channel so it can settle the receiver's gains at close.
//
// Close: in the sender's channel the user recovers the sender's final
// balance and the hub collects what was spent; in the receiver's channel the
// user gains the receiver's final balance and the hub recovers the rest.

func applyOpenThread(next *model.ChannelState, args *common.ThreadArgs) error {
	if args.TxCount != 0 {
		return xerrors.Errorf("%w: thread must open at txCount 0", common.ErrValidation)
	}
	if args.BalanceWeiReceiver.Sign() != 0 || args.BalanceTokenReceiver.Sign() != 0 {
		return xerrors.Errorf("%w: thread must open with zero receiver balance", common.ErrValidation)
	}
	if anyNegative(args.BalanceWeiSender, args.BalanceTokenSender) {
		return xerrors.Errorf("%w: negative thread bond", common.ErrValidation)
	}

	switch next.User {
	case args.Sender:
		next.BalanceWeiUser = next.BalanceWeiUser.Sub(args.BalanceWeiSender)
		next.BalanceTokenUser = next.BalanceTokenUser.Sub(args.BalanceTokenSender)
	case args.Receiver:
		next.BalanceWeiHub = next.BalanceWeiHub.Sub(args.BalanceWeiSender)
		next.BalanceTokenHub = next.BalanceTokenHub.Sub(args.BalanceTokenSender)
	default:
		return xerrors.Errorf("%w: channel user is not a thread participant", common.ErrValidation)
	}

	next.ThreadCount++
	return nil
}

func applyCloseThread(next *model.ChannelState, args *common.ThreadArgs) error {
	if anyNegative(args.BalanceWeiSender, args.BalanceWeiReceiver, args.BalanceTokenSender, args.BalanceTokenReceiver) {
		return xerrors.Errorf("%w: negative thread balance", common.ErrValidation)
	}
	if next.ThreadCount == 0 {
		return xerrors.Errorf("%w: no open thread to close", common.ErrValidation)
	}

	switch next.User {
	case args.Sender:
		next.BalanceWeiUser = next.BalanceWeiUser.Add(args.BalanceWeiSender)
		next.BalanceTokenUser = next.BalanceTokenUser.Add(args.BalanceTokenSender)
		next.BalanceWeiHub = next.BalanceWeiHub.Add(args.BalanceWeiReceiver)
		next.BalanceTokenHub = next.BalanceTokenHub.Add(args.BalanceTokenReceiver)
	case args.Receiver:
		next.BalanceWeiUser = next.BalanceWeiUser.Add(args.BalanceWeiReceiver)
		next.BalanceTokenUser = next.BalanceTokenUser.Add(args.BalanceTokenReceiver)
		next.BalanceWeiHub = next.BalanceWeiHub.Add(args.BalanceWeiSender)
		next.BalanceTokenHub = next.BalanceTokenHub.Add(args.BalanceTokenSender)
	default:
		return xerrors.Errorf("%w: channel user is not a thread participant", common.ErrValidation)
	}

	next.ThreadCount--
	return nil
}

// ThreadRoot commits to the set of open threads of a channel. Empty set
// commits to the zero root.
func ThreadRoot(threads []model.ThreadState) string {
	if len(threads) == 0 {
		return "0x" + hex.EncodeToString(make([]byte, 32))
	}

	sorted := make([]model.ThreadState, len(threads))
	copy(sorted, threads)
	sort.Slice(sorted, func(i, j int) bool {
		a, b := &sorted[i], &sorted[j]
		if a.Sender != b.Sender {
			return a.Sender < b.Sender
		}
		if a.Receiver != b.Receiver {
			return a.Receiver < b.Receiver
		}
		return a.ThreadID < b.ThreadID
	})

	h := sha256.New()
	for i := range sorted {
		t := &sorted[i]
		fmt.Fprintf(h, "%s|%s|%d|%s|%s|%s|%s|%d\n",
			t.Sender, t.Receiver, t.ThreadID,
			t.BalanceWeiSender.String(), t.BalanceWeiReceiver.String(),
			t.BalanceTokenSender.String(), t.BalanceTokenReceiver.String(),
			t.TxCount)
	}
	return "0x" + hex.EncodeToString(h.Sum(nil))
}
