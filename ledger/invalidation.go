package ledger

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"golang.org/x/xerrors"
	"gorm.io/gorm"

	"github.com/connext/indra-sub007/common"
	"github.com/connext/indra-sub007/metrics"
	"github.com/connext/indra-sub007/model"
	"github.com/connext/indra-sub007/stategen"
)

// applyInvalidation unwinds the range (previousValid, lastInvalid]: every
// update in it is flagged invalid and the channel state is regenerated from
// the last valid update with the rolled-back pending fields zeroed.
//
// Admission: the targeted update's timeout must have elapsed (a deposit
// still legitimately in flight may not be rolled back), and a range whose
// backing transaction already confirmed may never be invalidated. Concurrent
// attempts serialize on the user's row lock; the second one sees a stale
// txCount and is rejected.
func (s *Service) applyInvalidation(ctx context.Context, tx *gorm.DB, cs *model.ChannelState, req *common.UpdateRequest) (*model.ChannelUpdate, error) {
	var args common.InvalidationArgs
	if err := json.Unmarshal(req.Args, &args); err != nil {
		return nil, xerrors.Errorf("%w: malformed invalidation args: %v", common.ErrValidation, err)
	}
	if args.PreviousValidTxCount >= args.LastInvalidTxCount || args.LastInvalidTxCount > cs.TxCountGlobal {
		return nil, xerrors.Errorf("%w: bad invalidation range (%d, %d]",
			common.ErrValidation, args.PreviousValidTxCount, args.LastInvalidTxCount)
	}
	if req.TxCountGlobal != cs.TxCountGlobal+1 {
		return nil, xerrors.Errorf("%w: got %d, expected %d",
			common.ErrStaleTxCount, req.TxCountGlobal, cs.TxCountGlobal+1)
	}

	target, err := s.dao.UpdateByTxCount(tx, cs.User, args.LastInvalidTxCount)
	if err != nil {
		return nil, err
	}
	if target == nil {
		return nil, xerrors.Errorf("%w: no update at txCount %d", common.ErrValidation, args.LastInvalidTxCount)
	}
	if target.Invalid != nil {
		return nil, xerrors.Errorf("%w: range is already invalidated", common.ErrStaleTxCount)
	}

	snapshot, err := target.Snapshot()
	if err != nil {
		return nil, err
	}
	if snapshot.Timeout != 0 && time.Now().Unix() < snapshot.Timeout {
		return nil, common.ErrTimeoutNotElapsed
	}
	if target.OnchainLogicalID != nil {
		otx, err := s.dao.GetOnchainTx(tx, *target.OnchainLogicalID)
		if err != nil {
			return nil, err
		}
		if otx != nil && otx.State == model.OnchainTxStateConfirmed {
			return nil, xerrors.Errorf("%w: backing transaction confirmed on chain", common.ErrPolicy)
		}
	}

	lastValid, err := s.lastValidSnapshot(tx, cs, args.PreviousValidTxCount)
	if err != nil {
		return nil, err
	}

	if err := s.dao.MarkInvalid(tx, cs.User, args.PreviousValidTxCount, args.LastInvalidTxCount, string(args.Reason)); err != nil {
		return nil, err
	}

	next := stategen.Invalidate(lastValid, cs.TxCountGlobal+1)

	// hub-originated invalidations are persisted directly; a user-submitted
	// one must carry a valid signature over the regenerated state
	if req.SigUser != "" {
		if err := s.val.ValidateRequest(req, next); err != nil {
			return nil, err
		}
	}

	cu, err := s.persistUpdate(tx, cs, common.ReasonInvalidation, req.Args, next, req.SigUser, nil)
	if err != nil {
		return nil, err
	}
	metrics.RecordOne(ctx, metrics.Invalidations)
	return cu, nil
}

func (s *Service) lastValidSnapshot(tx *gorm.DB, cs *model.ChannelState, txCount uint64) (*model.ChannelState, error) {
	if txCount == 0 {
		base := model.NewChannelState(cs.User, cs.ContractAddress)
		return base, nil
	}
	prev, err := s.dao.UpdateByTxCount(tx, cs.User, txCount)
	if err != nil {
		return nil, err
	}
	if prev == nil || prev.Invalid != nil {
		return nil, xerrors.Errorf("%w: previousValidTxCount %d is not a valid update",
			common.ErrValidation, txCount)
	}
	return prev.Snapshot()
}

// ReconcileOnce scans valid updates whose backing chain transaction failed
// and, once their timeout has elapsed, rolls each dependent range back with
// exactly one invalidation. Safe to run repeatedly.
func (s *Service) ReconcileOnce(ctx context.Context) error {
	pending, err := s.dao.PendingFailedUpdates(s.dao.DB().WithContext(ctx))
	if err != nil {
		return err
	}

	for i := range pending {
		cu := pending[i]
		if err := s.invalidateFailed(ctx, cu.User, cu.TxCountGlobal); err != nil {
			log.Warnw("invalidation of failed pending update failed",
				"user", cu.User, "txCount", cu.TxCountGlobal, "err", err)
		}
	}
	return nil
}

// invalidateFailed rolls back everything from the failed update through the
// channel head. ErrTimeoutNotElapsed is benign: the next reconcile pass
// retries.
func (s *Service) invalidateFailed(ctx context.Context, user string, failedTxCount uint64) error {
	err := s.dao.RunInTx(ctx, func(tx *gorm.DB) error {
		cs, err := s.dao.LockChannel(tx, user)
		if err != nil {
			return err
		}
		if cs == nil {
			return nil
		}

		target, err := s.dao.UpdateByTxCount(tx, user, failedTxCount)
		if err != nil {
			return err
		}
		if target == nil || target.Invalid != nil {
			// resolved by an earlier pass or a client-submitted invalidation
			return nil
		}

		args := common.InvalidationArgs{
			PreviousValidTxCount: failedTxCount - 1,
			LastInvalidTxCount:   cs.TxCountGlobal,
			Reason:               common.InvalidationTxFailed,
		}
		raw, err := json.Marshal(&args)
		if err != nil {
			return err
		}
		req := common.UpdateRequest{
			Reason:        common.ReasonInvalidation,
			Args:          raw,
			TxCountGlobal: cs.TxCountGlobal + 1,
		}
		_, err = s.applyInvalidation(ctx, tx, cs, &req)
		return err
	})
	if errors.Is(err, common.ErrTimeoutNotElapsed) {
		return nil
	}
	return err
}

// onPendingTxDone is the completion callback registered with the on-chain
// transaction service. Confirmation turns the pending fields into settled
// balances via a hub-originated ConfirmPending; failure feeds the
// invalidation path.
func (s *Service) onPendingTxDone(ctx context.Context, otx *model.OnchainTransaction, confirmed bool) error {
	refs, err := s.dao.UpdatesReferencing(s.dao.DB().WithContext(ctx), otx.LogicalID)
	if err != nil {
		return err
	}
	if len(refs) == 0 {
		log.Debugw("terminal chain tx references no live update", "logicalId", otx.LogicalID)
		return nil
	}

	user := refs[0].User
	if confirmed {
		return s.confirmPending(ctx, user, otx.Hash)
	}
	return s.invalidateFailed(ctx, user, refs[0].TxCountGlobal)
}

func (s *Service) confirmPending(ctx context.Context, user, txHash string) error {
	return s.dao.RunInTx(ctx, func(tx *gorm.DB) error {
		cs, err := s.dao.LockChannel(tx, user)
		if err != nil {
			return err
		}
		if cs == nil || !cs.HasPending() {
			return nil
		}

		raw, err := json.Marshal(&common.ConfirmPendingArgs{TransactionHash: txHash})
		if err != nil {
			return err
		}
		next, err := stategen.NextState(cs, common.ReasonConfirmPending, raw)
		if err != nil {
			return err
		}
		_, err = s.persistUpdate(tx, cs, common.ReasonConfirmPending, raw, next, "", nil)
		return err
	})
}

// FinalizeExit appends the hub-originated update that empties a channel
// after a confirmed dispute settlement, so the append-only log stays the
// source of truth for regeneration and sync. Runs inside the caller's
// transaction; the channel row must already be locked.
func (s *Service) FinalizeExit(tx *gorm.DB, cs *model.ChannelState, txHash string) error {
	raw, err := json.Marshal(&common.EmptyChannelArgs{TransactionHash: txHash})
	if err != nil {
		return err
	}
	next, err := stategen.NextState(cs, common.ReasonEmptyChannel, raw)
	if err != nil {
		return err
	}
	_, err = s.persistUpdate(tx, cs, common.ReasonEmptyChannel, raw, next, "", nil)
	return err
}
