// Package stategen is the pure state-transition function of the channel
// ledger: given the previous state and typed arguments for a reason code it
// deterministically computes the next unsigned state. It touches no storage.
package stategen

import (
	"encoding/json"

	"github.com/connext/indra-sub007/common"
	"github.com/connext/indra-sub007/model"
	"github.com/shopspring/decimal"
	"golang.org/x/xerrors"
)

// NextState computes the unsigned successor of prev for the given reason.
// Signatures are cleared; the caller signs the result.
func NextState(prev *model.ChannelState, reason common.UpdateReason, raw json.RawMessage) (*model.ChannelState, error) {
	next := *prev
	next.SigHub = ""
	next.SigUser = ""
	next.TxCountGlobal = prev.TxCountGlobal + 1

	var err error
	switch reason {
	case common.ReasonProposePendingDeposit:
		var args common.DepositArgs
		if err = json.Unmarshal(raw, &args); err == nil {
			err = applyDeposit(&next, &args)
		}
	case common.ReasonProposePendingWithdrawal:
		var args common.WithdrawalArgs
		if err = json.Unmarshal(raw, &args); err == nil {
			err = applyWithdrawal(&next, &args)
		}
	case common.ReasonExchange:
		var args common.ExchangeArgs
		if err = json.Unmarshal(raw, &args); err == nil {
			err = applyExchange(&next, &args)
		}
	case common.ReasonPayment:
		var args common.PaymentArgs
		if err = json.Unmarshal(raw, &args); err == nil {
			err = applyPayment(&next, &args)
		}
	case common.ReasonOpenThread:
		var args common.ThreadArgs
		if err = json.Unmarshal(raw, &args); err == nil {
			err = applyOpenThread(&next, &args)
		}
	case common.ReasonCloseThread:
		var args common.ThreadArgs
		if err = json.Unmarshal(raw, &args); err == nil {
			err = applyCloseThread(&next, &args)
		}
	case common.ReasonConfirmPending:
		applyConfirmPending(&next)
	case common.ReasonEmptyChannel:
		applyEmptyChannel(&next)
	default:
		return nil, xerrors.Errorf("%w: unknown reason %q", common.ErrValidation, reason)
	}
	if err != nil {
		return nil, err
	}

	if err := checkNonNegative(&next); err != nil {
		return nil, err
	}
	return &next, nil
}

// Invalidate regenerates the channel state after rolling back a pending
// range: the last valid snapshot with all pending fields zeroed, consuming
// the next counter value.
func Invalidate(lastValid *model.ChannelState, nextTxCount uint64) *model.ChannelState {
	next := *lastValid
	next.SigHub = ""
	next.SigUser = ""
	next.TxCountGlobal = nextTxCount
	next.Timeout = 0
	zeroPending(&next)
	return &next
}

func applyDeposit(next *model.ChannelState, args *common.DepositArgs) error {
	if anyNegative(args.DepositWeiHub, args.DepositWeiUser, args.DepositTokenHub, args.DepositTokenUser) {
		return xerrors.Errorf("%w: negative deposit amount", common.ErrValidation)
	}
	next.PendingDepositWeiHub = next.PendingDepositWeiHub.Add(args.DepositWeiHub)
	next.PendingDepositWeiUser = next.PendingDepositWeiUser.Add(args.DepositWeiUser)
	next.PendingDepositTokenHub = next.PendingDepositTokenHub.Add(args.DepositTokenHub)
	next.PendingDepositTokenUser = next.PendingDepositTokenUser.Add(args.DepositTokenUser)
	next.TxCountChain++
	next.Timeout = args.Timeout
	return nil
}

func applyWithdrawal(next *model.ChannelState, args *common.WithdrawalArgs) error {
	if anyNegative(args.WithdrawalWeiHub, args.WithdrawalWeiUser, args.WithdrawalTokenHub, args.WithdrawalTokenUser) {
		return xerrors.Errorf("%w: negative withdrawal amount", common.ErrValidation)
	}
	next.BalanceWeiHub = next.BalanceWeiHub.Sub(args.WithdrawalWeiHub)
	next.BalanceWeiUser = next.BalanceWeiUser.Sub(args.WithdrawalWeiUser)
	next.BalanceTokenHub = next.BalanceTokenHub.Sub(args.WithdrawalTokenHub)
	next.BalanceTokenUser = next.BalanceTokenUser.Sub(args.WithdrawalTokenUser)
	next.PendingWithdrawalWeiHub = next.PendingWithdrawalWeiHub.Add(args.WithdrawalWeiHub)
	next.PendingWithdrawalWeiUser = next.PendingWithdrawalWeiUser.Add(args.WithdrawalWeiUser)
	next.PendingWithdrawalTokenHub = next.PendingWithdrawalTokenHub.Add(args.WithdrawalTokenHub)
	next.PendingWithdrawalTokenUser = next.PendingWithdrawalTokenUser.Add(args.WithdrawalTokenUser)
	next.TxCountChain++
	next.Timeout = args.Timeout
	return nil
}

func applyExchange(next *model.ChannelState, args *common.ExchangeArgs) error {
	if args.ExchangeRate.Sign() <= 0 {
		return xerrors.Errorf("%w: exchange rate must be positive", common.ErrValidation)
	}
	sellWei := args.WeiToSell.Sign() > 0
	sellTokens := args.TokensToSell.Sign() > 0
	if sellWei == sellTokens {
		return xerrors.Errorf("%w: exchange must sell exactly one asset", common.ErrValidation)
	}

	var dWei, dTokens decimal.Decimal
	if sellWei {
		dWei = args.WeiToSell
		dTokens = args.WeiToSell.Mul(args.ExchangeRate).Floor()
	} else {
		dTokens = args.TokensToSell
		dWei = args.TokensToSell.Div(args.ExchangeRate).Floor()
	}

	switch args.Seller {
	case common.SellerUser:
		if sellWei {
			next.BalanceWeiUser = next.BalanceWeiUser.Sub(dWei)
			next.BalanceWeiHub = next.BalanceWeiHub.Add(dWei)
			next.BalanceTokenHub = next.BalanceTokenHub.Sub(dTokens)
			next.BalanceTokenUser = next.BalanceTokenUser.Add(dTokens)
		} else {
			next.BalanceTokenUser = next.BalanceTokenUser.Sub(dTokens)
			next.BalanceTokenHub = next.BalanceTokenHub.Add(dTokens)
			next.BalanceWeiHub = next.BalanceWeiHub.Sub(dWei)
			next.BalanceWeiUser = next.BalanceWeiUser.Add(dWei)
		}
	case common.SellerHub:
		if sellWei {
			next.BalanceWeiHub = next.BalanceWeiHub.Sub(dWei)
			next.BalanceWeiUser = next.BalanceWeiUser.Add(dWei)
			next.BalanceTokenUser = next.BalanceTokenUser.Sub(dTokens)
			next.BalanceTokenHub = next.BalanceTokenHub.Add(dTokens)
		} else {
			next.BalanceTokenHub = next.BalanceTokenHub.Sub(dTokens)
			next.BalanceTokenUser = next.BalanceTokenUser.Add(dTokens)
			next.BalanceWeiUser = next.BalanceWeiUser.Sub(dWei)
			next.BalanceWeiHub = next.BalanceWeiHub.Add(dWei)
		}
	default:
		return xerrors.Errorf("%w: unknown seller %q", common.ErrValidation, args.Seller)
	}
	return nil
}

func applyPayment(next *model.ChannelState, args *common.PaymentArgs) error {
	if anyNegative(args.AmountWei, args.AmountToken) {
		return xerrors.Errorf("%w: negative payment amount", common.ErrValidation)
	}
	switch args.Recipient {
	case common.SellerHub:
		next.BalanceWeiUser = next.BalanceWeiUser.Sub(args.AmountWei)
		next.BalanceWeiHub = next.BalanceWeiHub.Add(args.AmountWei)
		next.BalanceTokenUser = next.BalanceTokenUser.Sub(args.AmountToken)
		next.BalanceTokenHub = next.BalanceTokenHub.Add(args.AmountToken)
	case common.SellerUser:
		next.BalanceWeiHub = next.BalanceWeiHub.Sub(args.AmountWei)
		next.BalanceWeiUser = next.BalanceWeiUser.Add(args.AmountWei)
		next.BalanceTokenHub = next.BalanceTokenHub.Sub(args.AmountToken)
		next.BalanceTokenUser = next.BalanceTokenUser.Add(args.AmountToken)
	default:
		return xerrors.Errorf("%w: unknown payment recipient %q", common.ErrValidation, args.Recipient)
	}
	return nil
}

func applyConfirmPending(next *model.ChannelState) {
	next.BalanceWeiHub = next.BalanceWeiHub.Add(next.PendingDepositWeiHub)
	next.BalanceWeiUser = next.BalanceWeiUser.Add(next.PendingDepositWeiUser)
	next.BalanceTokenHub = next.BalanceTokenHub.Add(next.PendingDepositTokenHub)
	next.BalanceTokenUser = next.BalanceTokenUser.Add(next.PendingDepositTokenUser)
	// withdrawals were deducted from the balances when proposed
	zeroPending(next)
	next.Timeout = 0
}

// applyEmptyChannel zeroes the ledger after the contract paid both parties
// out of a dispute. Counters keep their high-water marks and the channel is
// reusable.
func applyEmptyChannel(next *model.ChannelState) {
	zero := decimal.Decimal{}
	next.BalanceWeiHub = zero
	next.BalanceWeiUser = zero
	next.BalanceTokenHub = zero
	next.BalanceTokenUser = zero
	zeroPending(next)
	next.Timeout = 0
	next.Status = model.ChannelStatusOpen
}

func zeroPending(cs *model.ChannelState) {
	zero := decimal.Decimal{}
	cs.PendingDepositWeiHub = zero
	cs.PendingDepositWeiUser = zero
	cs.PendingDepositTokenHub = zero
	cs.PendingDepositTokenUser = zero
	cs.PendingWithdrawalWeiHub = zero
	cs.PendingWithdrawalWeiUser = zero
	cs.PendingWithdrawalTokenHub = zero
	cs.PendingWithdrawalTokenUser = zero
}

func anyNegative(ds ...decimal.Decimal) bool {
	for _, d := range ds {
		if d.Sign() < 0 {
			return true
		}
	}
	return false
}

func checkNonNegative(cs *model.ChannelState) error {
	if anyNegative(
		cs.BalanceWeiHub, cs.BalanceWeiUser,
		cs.BalanceTokenHub, cs.BalanceTokenUser,
	) {
		return xerrors.Errorf("%w", common.ErrInsufficientBalance)
	}
	return nil
}
