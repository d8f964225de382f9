package ledger

import (
	"bytes"
	"context"
	"encoding/json"

	"golang.org/x/xerrors"
	"gorm.io/gorm"

	"go.opencensus.io/tag"

	"github.com/connext/indra-sub007/common"
	"github.com/connext/indra-sub007/metrics"
	"github.com/connext/indra-sub007/model"
	"github.com/connext/indra-sub007/stategen"
)

// Update applies a batch of signed updates for one user, in order, under the
// user's row lock. Any failure aborts the whole batch with no partial
// writes. On success the consumed staged proposal is cleared and payment
// recipients are re-collateralized.
func (s *Service) Update(ctx context.Context, user string, reqs []common.UpdateRequest) ([]model.ChannelUpdate, error) {
	var (
		out            []model.ChannelUpdate
		consumedStaged bool
		payees         []string
	)

	err := s.dao.RunInTx(ctx, func(tx *gorm.DB) error {
		cs, err := s.dao.EnsureChannel(tx, user, s.cfg.ContractAddress)
		if err != nil {
			return err
		}

		for i := range reqs {
			cu, err := s.applyOne(ctx, tx, cs, &reqs[i])
			if err != nil {
				return err
			}
			out = append(out, *cu)

			switch reqs[i].Reason {
			case common.ReasonProposePendingDeposit,
				common.ReasonProposePendingWithdrawal,
				common.ReasonExchange:
				consumedStaged = true
			case common.ReasonPayment:
				var args common.PaymentArgs
				if err := json.Unmarshal(reqs[i].Args, &args); err == nil && args.FinalRecipient != "" {
					payees = append(payees, args.FinalRecipient)
				}
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	if consumedStaged {
		if err := s.dao.ClearStagedProposal(ctx, user); err != nil {
			log.Warnw("clearing staged proposal failed", "user", user, "err", err)
		}
	}
	for _, payee := range payees {
		if _, err := s.CollateralizeIfNecessary(ctx, payee, nil); err != nil {
			log.Warnw("post-payment collateralization failed", "user", payee, "err", err)
		}
	}
	return out, nil
}

// applyOne advances cs by one update. cs is mutated to the accepted state.
func (s *Service) applyOne(ctx context.Context, tx *gorm.DB, cs *model.ChannelState, req *common.UpdateRequest) (*model.ChannelUpdate, error) {
	// a disputed channel is settled by the contract; only invalidations of
	// the off-chain tail are still admissible
	if cs.Status != model.ChannelStatusOpen && req.Reason != common.ReasonInvalidation {
		return nil, xerrors.Errorf("%w: channel is in %s", common.ErrPolicy, cs.Status)
	}

	// a request at the channel's current counter countersigns the latest
	// half-signed row instead of producing a new one
	if req.TxCountGlobal == cs.TxCountGlobal && cs.TxCountGlobal > 0 {
		return s.countersign(tx, cs, req)
	}

	if req.Reason == common.ReasonInvalidation {
		return s.applyInvalidation(ctx, tx, cs, req)
	}

	switch req.Reason {
	case common.ReasonConfirmPending, common.ReasonEmptyChannel:
		return nil, xerrors.Errorf("%w: %s updates are hub-originated", common.ErrValidation, req.Reason)
	}

	expected, err := stategen.NextState(cs, req.Reason, req.Args)
	if err != nil {
		return nil, err
	}

	var thread *model.ThreadState
	switch req.Reason {
	case common.ReasonOpenThread, common.ReasonCloseThread:
		thread, err = s.prepareThread(tx, cs, req, expected)
		if err != nil {
			return nil, err
		}
	case common.ReasonProposePendingDeposit,
		common.ReasonProposePendingWithdrawal,
		common.ReasonExchange:
		if err := s.matchStagedProposal(ctx, cs.User, req); err != nil {
			return nil, err
		}
	}

	if err := s.val.ValidateRequest(req, expected); err != nil {
		return nil, err
	}

	var logicalID *uint64
	switch req.Reason {
	case common.ReasonProposePendingDeposit, common.ReasonProposePendingWithdrawal:
		otx, err := s.submitPendingTx(ctx, tx, cs.User, req)
		if err != nil {
			return nil, err
		}
		logicalID = &otx.LogicalID
	}

	cu, err := s.persistUpdate(tx, cs, req.Reason, req.Args, expected, req.SigUser, logicalID)
	if err != nil {
		return nil, err
	}

	switch req.Reason {
	case common.ReasonPayment:
		if err := s.recordPayment(tx, cs.User, cu, req.Args); err != nil {
			return nil, err
		}
	case common.ReasonOpenThread, common.ReasonCloseThread:
		if err := s.mirrorThreadUpdate(tx, cs.User, req.Reason, req.Args, thread); err != nil {
			return nil, err
		}
	}

	return cu, nil
}

// countersign attaches the user's signature to an existing hub-signed row
// (hub-initiated collateral deposits and mirrored thread updates land this
// way).
func (s *Service) countersign(tx *gorm.DB, cs *model.ChannelState, req *common.UpdateRequest) (*model.ChannelUpdate, error) {
	cu, err := s.dao.UpdateByTxCount(tx, cs.User, req.TxCountGlobal)
	if err != nil {
		return nil, err
	}
	if cu == nil || cu.Invalid != nil {
		return nil, xerrors.Errorf("%w: no update to countersign at txCount %d",
			common.ErrValidation, req.TxCountGlobal)
	}
	if cu.SigUser != "" {
		return nil, xerrors.Errorf("%w: update %d is already fully signed",
			common.ErrStaleTxCount, req.TxCountGlobal)
	}
	if cu.Reason != string(req.Reason) || !jsonEqual([]byte(cu.Args), req.Args) {
		return nil, xerrors.Errorf("%w: countersignature does not match the pending update",
			common.ErrValidation)
	}

	snapshot, err := cu.Snapshot()
	if err != nil {
		return nil, err
	}
	if err := s.val.ValidateRequest(req, snapshot); err != nil {
		return nil, err
	}

	cu.SigUser = req.SigUser
	if err := s.dao.SaveUpdate(tx, cu); err != nil {
		return nil, err
	}

	cs.SigUser = req.SigUser
	if err := s.dao.SaveChannel(tx, cs); err != nil {
		return nil, err
	}
	return cu, nil
}

func (s *Service) matchStagedProposal(ctx context.Context, user string, req *common.UpdateRequest) error {
	staged, err := s.dao.GetStagedProposal(ctx, user)
	if err != nil {
		return err
	}
	if staged == nil {
		return xerrors.Errorf("%w: no staged proposal for this update", common.ErrValidation)
	}
	if staged.Reason != req.Reason ||
		staged.TxCountGlobal != req.TxCountGlobal ||
		!jsonEqual(staged.Args, req.Args) {
		return xerrors.Errorf("%w: update does not match the staged proposal", common.ErrValidation)
	}
	return nil
}

// submitPendingTx broadcasts the on-chain leg of a pending update inside the
// enclosing transaction scope. The calldata encoding is delegated to the
// contract binding behind the RPC node.
func (s *Service) submitPendingTx(ctx context.Context, tx *gorm.DB, user string, req *common.UpdateRequest) (*model.OnchainTransaction, error) {
	payload, _ := json.Marshal(map[string]interface{}{
		"user":    user,
		"txCount": req.TxCountGlobal,
	})

	var value = zeroDecimal()
	if req.Reason == common.ReasonProposePendingDeposit {
		var args common.DepositArgs
		if err := json.Unmarshal(req.Args, &args); err != nil {
			return nil, err
		}
		value = args.DepositWeiHub
	}

	return s.chain.Send(ctx, tx, sendParams(s.cfg.ContractAddress, value, string(req.Args), payload))
}

// persistUpdate countersigns expected, appends the update row and moves the
// channel row to the new state.
func (s *Service) persistUpdate(tx *gorm.DB, cs *model.ChannelState, reason common.UpdateReason, rawArgs []byte, expected *model.ChannelState, sigUser string, logicalID *uint64) (*model.ChannelUpdate, error) {
	sigHub, err := s.signer.Sign(expected.Hash())
	if err != nil {
		return nil, err
	}

	cu := &model.ChannelUpdate{
		User:             expected.User,
		Reason:           string(reason),
		Args:             string(rawArgs),
		TxCountGlobal:    expected.TxCountGlobal,
		TxCountChain:     expected.TxCountChain,
		SigHub:           sigHub,
		SigUser:          sigUser,
		OnchainLogicalID: logicalID,
	}
	if err := cu.SetSnapshot(expected); err != nil {
		return nil, err
	}
	if err := s.dao.InsertUpdate(tx, cu); err != nil {
		return nil, err
	}

	updatedAt := cs.UpdatedAt
	*cs = *expected
	cs.UpdatedAt = updatedAt
	cs.SigHub = sigHub
	cs.SigUser = sigUser
	if err := s.dao.SaveChannel(tx, cs); err != nil {
		return nil, err
	}

	metrics.RecordOne(tx.Statement.Context, metrics.UpdatesAccepted,
		tag.Upsert(metrics.Reason, string(reason)))
	return cu, nil
}

func (s *Service) recordPayment(tx *gorm.DB, user string, cu *model.ChannelUpdate, rawArgs []byte) error {
	var args common.PaymentArgs
	if err := json.Unmarshal(rawArgs, &args); err != nil {
		return err
	}

	sender, recipient := user, args.FinalRecipient
	if args.Recipient == common.SellerUser {
		// hub paying out the receiving leg of a forwarded payment
		sender, recipient = args.Sender, user
	}
	if recipient == "" {
		recipient = s.signer.Address()
	}
	if sender == "" {
		sender = user
	}

	return s.dao.InsertPayment(tx, &model.Payment{
		Sender:      sender,
		Recipient:   recipient,
		AmountWei:   args.AmountWei,
		AmountToken: args.AmountToken,
		UpdateID:    cu.ID,
	})
}

func jsonEqual(a, b []byte) bool {
	var ja, jb interface{}
	if err := json.Unmarshal(a, &ja); err != nil {
		return false
	}
	if err := json.Unmarshal(b, &jb); err != nil {
		return false
	}
	na, _ := json.Marshal(ja)
	nb, _ := json.Marshal(jb)
	return bytes.Equal(na, nb)
}
