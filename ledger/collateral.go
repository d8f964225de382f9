package ledger

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"github.com/connext/indra-sub007/common"
	"github.com/connext/indra-sub007/dao"
	"github.com/connext/indra-sub007/metrics"
	"github.com/connext/indra-sub007/model"
)

// CollateralizeIfNecessary tops up the hub's token collateral in a user's
// channel. It is a no-op while anything is pending (never stack a second
// on-chain operation on an unsettled one) and while a proposal is staged, so
// repeated scheduling is idempotent. The staged deposit still needs the
// user's countersignature before it lands on the ledger.
func (s *Service) CollateralizeIfNecessary(ctx context.Context, user string, manualTarget *decimal.Decimal) (*dao.StagedProposal, error) {
	staged, err := s.dao.GetStagedProposal(ctx, user)
	if err != nil {
		return nil, err
	}
	if staged != nil {
		return nil, nil
	}

	now := time.Now()
	var proposal *dao.StagedProposal
	err = s.dao.RunInTx(ctx, func(tx *gorm.DB) error {
		cs, err := s.dao.LockChannel(tx, user)
		if err != nil {
			return err
		}
		if cs == nil || cs.HasPending() || cs.Status != model.ChannelStatusOpen {
			return nil
		}

		tippers, err := s.dao.CountRecentTippers(tx, user, now.Add(-s.cfg.Collateral.RecentWindow))
		if err != nil {
			return err
		}

		amount := computeCollateralAmount(s.cfg.Collateral, tippers, cs.BalanceTokenHub, manualTarget)
		if amount.Sign() <= 0 {
			return nil
		}

		args := common.DepositArgs{
			DepositTokenHub: amount,
			Timeout:         s.challengeTimeout(now),
		}
		proposal, err = s.buildProposal(cs, common.ReasonProposePendingDeposit, &args, now)
		return err
	})
	if err != nil || proposal == nil {
		return nil, err
	}

	metrics.RecordOne(ctx, metrics.Collateralizations)
	return s.stage(ctx, proposal)
}

// computeCollateralAmount is the collateralization policy. A manual target
// never exceeds the configured channel maximum and never implies withdrawing
// hub collateral (floored at zero). Otherwise the target scales with the
// number of distinct recent tippers, floored at the configured minimum and
// capped at the maximum.
func computeCollateralAmount(cc common.CollateralConfig, recentTippers int64, hubTokenBalance decimal.Decimal, manualTarget *decimal.Decimal) decimal.Decimal {
	if manualTarget != nil {
		amount := decimal.Min(
			manualTarget.Sub(hubTokenBalance),
			cc.MaxCollateral.Sub(hubTokenBalance),
		)
		if amount.Sign() < 0 {
			return decimal.Decimal{}
		}
		return amount
	}

	var target decimal.Decimal
	if recentTippers == 0 {
		target = cc.MinCollateral
	} else {
		target = decimal.Min(
			decimal.NewFromInt(recentTippers).Mul(cc.PerTipperAmount).Mul(cc.MaxMultiple),
			cc.MaxCollateral,
		)
	}

	amount := target.Sub(hubTokenBalance)
	if amount.Sign() < 0 {
		return decimal.Decimal{}
	}
	return amount
}

// matchCollateral caps a computed hub deposit so the channel never exceeds
// its configured collateral maximum.
func matchCollateral(want, current, max decimal.Decimal) decimal.Decimal {
	amount := decimal.Min(want, max.Sub(current))
	if amount.Sign() < 0 {
		return decimal.Decimal{}
	}
	return amount
}
