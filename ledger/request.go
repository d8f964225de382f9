package ledger

import (
	"bytes"
	"context"
	"encoding/json"
	"time"

	"github.com/shopspring/decimal"
	"golang.org/x/xerrors"
	"gorm.io/gorm"

	"github.com/connext/indra-sub007/common"
	"github.com/connext/indra-sub007/dao"
	"github.com/connext/indra-sub007/model"
	"github.com/connext/indra-sub007/stategen"
)

// RequestDeposit stages a ProposePendingDeposit for the user's amounts plus
// the hub's matching collateral. The caller inspects and signs the returned
// args, then resubmits them through Update. At most one proposal may be
// staged per user.
func (s *Service) RequestDeposit(ctx context.Context, user string, weiAmt, tokenAmt decimal.Decimal, sigUser string) (*dao.StagedProposal, error) {
	if weiAmt.Sign() < 0 || tokenAmt.Sign() < 0 {
		return nil, xerrors.Errorf("%w: negative deposit amount", common.ErrValidation)
	}
	if err := s.val.ValidateDepositRequest(user, weiAmt, tokenAmt, sigUser); err != nil {
		return nil, err
	}

	now := time.Now()
	args := common.DepositArgs{
		DepositWeiUser:   weiAmt,
		DepositTokenUser: tokenAmt,
		Timeout:          s.challengeTimeout(now),
	}

	var proposal *dao.StagedProposal
	err := s.dao.RunInTx(ctx, func(tx *gorm.DB) error {
		cs, err := s.dao.EnsureChannel(tx, user, s.cfg.ContractAddress)
		if err != nil {
			return err
		}
		if cs.HasPending() {
			return common.ErrPendingOperation
		}

		// the hub matches a wei deposit with token collateral at the
		// configured rate, capped by the channel maximum
		args.DepositTokenHub = matchCollateral(
			weiAmt.Mul(s.cfg.ExchangeRate).Floor(),
			cs.BalanceTokenHub.Add(cs.PendingDepositTokenHub),
			s.cfg.Collateral.MaxCollateral,
		)

		proposal, err = s.buildProposal(cs, common.ReasonProposePendingDeposit, &args, now)
		return err
	})
	if err != nil {
		return nil, err
	}

	return s.stage(ctx, proposal)
}

// RequestWithdrawal stages a ProposePendingWithdrawal of settled user
// balance. Overdrafts are rejected and nothing is staged.
func (s *Service) RequestWithdrawal(ctx context.Context, user string, weiAmt, tokenAmt decimal.Decimal) (*dao.StagedProposal, error) {
	if weiAmt.Sign() < 0 || tokenAmt.Sign() < 0 {
		return nil, xerrors.Errorf("%w: negative withdrawal amount", common.ErrValidation)
	}

	now := time.Now()
	args := common.WithdrawalArgs{
		WithdrawalWeiUser:   weiAmt,
		WithdrawalTokenUser: tokenAmt,
		Timeout:             s.challengeTimeout(now),
	}

	var proposal *dao.StagedProposal
	err := s.dao.RunInTx(ctx, func(tx *gorm.DB) error {
		cs, err := s.dao.LockChannel(tx, user)
		if err != nil {
			return err
		}
		if cs == nil {
			return common.ErrChannelNotFound
		}
		if cs.HasPending() {
			return common.ErrPendingOperation
		}

		proposal, err = s.buildProposal(cs, common.ReasonProposePendingWithdrawal, &args, now)
		return err
	})
	if err != nil {
		return nil, err
	}

	return s.stage(ctx, proposal)
}

// RequestExchange stages an in-channel swap at the configured rate, the user
// selling exactly one asset.
func (s *Service) RequestExchange(ctx context.Context, user string, weiToSell, tokensToSell decimal.Decimal) (*dao.StagedProposal, error) {
	now := time.Now()
	args := common.ExchangeArgs{
		Seller:       common.SellerUser,
		WeiToSell:    weiToSell,
		TokensToSell: tokensToSell,
		ExchangeRate: s.cfg.ExchangeRate,
	}

	var proposal *dao.StagedProposal
	err := s.dao.RunInTx(ctx, func(tx *gorm.DB) error {
		cs, err := s.dao.LockChannel(tx, user)
		if err != nil {
			return err
		}
		if cs == nil {
			return common.ErrChannelNotFound
		}

		proposal, err = s.buildProposal(cs, common.ReasonExchange, &args, now)
		return err
	})
	if err != nil {
		return nil, err
	}

	return s.stage(ctx, proposal)
}

// buildProposal runs the state generator and hub-signs the result without
// persisting anything.
func (s *Service) buildProposal(cs *model.ChannelState, reason common.UpdateReason, args interface{}, now time.Time) (*dao.StagedProposal, error) {
	raw, err := json.Marshal(args)
	if err != nil {
		return nil, err
	}
	next, err := stategen.NextState(cs, reason, raw)
	if err != nil {
		return nil, err
	}
	sigHub, err := s.signer.Sign(next.Hash())
	if err != nil {
		return nil, err
	}
	return &dao.StagedProposal{
		User:          cs.User,
		Reason:        reason,
		Args:          raw,
		TxCountGlobal: next.TxCountGlobal,
		SigHub:        sigHub,
		CreatedAt:     now.Unix(),
	}, nil
}

// stage installs the proposal in the staging store. The store is consulted
// outside the row lock; a lost SetNX race means another proposal got there
// first. Re-requesting the identical proposal is idempotent.
func (s *Service) stage(ctx context.Context, p *dao.StagedProposal) (*dao.StagedProposal, error) {
	ok, err := s.dao.StageProposal(ctx, p)
	if err != nil {
		return nil, err
	}
	if ok {
		return p, nil
	}

	existing, err := s.dao.GetStagedProposal(ctx, p.User)
	if err != nil {
		return nil, err
	}
	if existing != nil && existing.Reason == p.Reason &&
		existing.TxCountGlobal == p.TxCountGlobal &&
		bytes.Equal(existing.Args, p.Args) {
		return existing, nil
	}
	return nil, common.ErrProposalPending
}
