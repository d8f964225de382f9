package ledger

import (
	"encoding/json"

	"golang.org/x/xerrors"
	"gorm.io/gorm"

	"github.com/connext/indra-sub007/common"
	"github.com/connext/indra-sub007/model"
	"github.com/connext/indra-sub007/stategen"
)

// prepareThread validates the thread snapshot of an OpenThread/CloseThread
// update, appends the thread row and stamps the submitting channel's new
// thread root onto the expected state before signature validation.
func (s *Service) prepareThread(tx *gorm.DB, cs *model.ChannelState, req *common.UpdateRequest, expected *model.ChannelState) (*model.ThreadState, error) {
	var args common.ThreadArgs
	if err := json.Unmarshal(req.Args, &args); err != nil {
		return nil, xerrors.Errorf("%w: malformed thread args: %v", common.ErrValidation, err)
	}
	if err := s.val.ValidateThreadArgs(&args); err != nil {
		return nil, err
	}
	if cs.User != args.Sender && cs.User != args.Receiver {
		return nil, xerrors.Errorf("%w: user is not a thread participant", common.ErrValidation)
	}

	var row *model.ThreadState
	var err error
	switch req.Reason {
	case common.ReasonOpenThread:
		row, err = s.openThread(tx, &args)
	case common.ReasonCloseThread:
		row, err = s.closeThread(tx, &args)
	}
	if err != nil {
		return nil, err
	}

	open, err := s.dao.OpenThreads(tx, cs.User)
	if err != nil {
		return nil, err
	}
	expected.ThreadRoot = stategen.ThreadRoot(open)
	return row, nil
}

func (s *Service) openThread(tx *gorm.DB, args *common.ThreadArgs) (*model.ThreadState, error) {
	nextID, err := s.dao.NextThreadID(tx, args.Sender, args.Receiver)
	if err != nil {
		return nil, err
	}
	if args.ThreadID != nextID {
		return nil, xerrors.Errorf("%w: expected threadId %d, got %d",
			common.ErrValidation, nextID, args.ThreadID)
	}

	row := &model.ThreadState{
		Sender:             args.Sender,
		Receiver:           args.Receiver,
		ThreadID:           args.ThreadID,
		BalanceWeiSender:   args.BalanceWeiSender,
		BalanceTokenSender: args.BalanceTokenSender,
		TxCount:            0,
		SigSender:          args.SigSender,
		Status:             model.ThreadStatusOpen,
	}
	if err := s.dao.InsertThread(tx, row); err != nil {
		return nil, err
	}
	return row, nil
}

func (s *Service) closeThread(tx *gorm.DB, args *common.ThreadArgs) (*model.ThreadState, error) {
	cur, err := s.dao.CurrentThread(tx, args.Sender, args.Receiver)
	if err != nil {
		return nil, err
	}
	if cur == nil || cur.Status != model.ThreadStatusOpen || cur.ThreadID != args.ThreadID {
		return nil, xerrors.Errorf("%w: no open thread %d between %s and %s",
			common.ErrValidation, args.ThreadID, args.Sender, args.Receiver)
	}
	if args.TxCount < cur.TxCount {
		return nil, xerrors.Errorf("%w: thread txCount went backwards", common.ErrValidation)
	}

	// the final split must conserve the bonded value, asset by asset
	bondWei := cur.BalanceWeiSender.Add(cur.BalanceWeiReceiver)
	bondToken := cur.BalanceTokenSender.Add(cur.BalanceTokenReceiver)
	finalWei := args.BalanceWeiSender.Add(args.BalanceWeiReceiver)
	finalToken := args.BalanceTokenSender.Add(args.BalanceTokenReceiver)
	if !finalWei.Equal(bondWei) || !finalToken.Equal(bondToken) {
		return nil, xerrors.Errorf("%w: thread close does not conserve value", common.ErrValidation)
	}

	row := &model.ThreadState{
		Sender:               args.Sender,
		Receiver:             args.Receiver,
		ThreadID:             args.ThreadID,
		BalanceWeiSender:     args.BalanceWeiSender,
		BalanceWeiReceiver:   args.BalanceWeiReceiver,
		BalanceTokenSender:   args.BalanceTokenSender,
		BalanceTokenReceiver: args.BalanceTokenReceiver,
		TxCount:              args.TxCount,
		SigSender:            args.SigSender,
		Status:               model.ThreadStatusClosed,
	}
	if err := s.dao.InsertThread(tx, row); err != nil {
		return nil, err
	}
	return row, nil
}

// mirrorThreadUpdate applies the matching update to the other participant's
// channel, hub-signed only; the other participant countersigns it after
// pulling it through sync. The second lock is always taken while holding the
// submitter's, so thread traffic between a pair serializes on the submitter.
func (s *Service) mirrorThreadUpdate(tx *gorm.DB, user string, reason common.UpdateReason, rawArgs []byte, thread *model.ThreadState) error {
	other := thread.Sender
	if user == thread.Sender {
		other = thread.Receiver
	}

	otherCs, err := s.dao.EnsureChannel(tx, other, s.cfg.ContractAddress)
	if err != nil {
		return err
	}

	expected, err := stategen.NextState(otherCs, reason, rawArgs)
	if err != nil {
		return err
	}
	open, err := s.dao.OpenThreads(tx, other)
	if err != nil {
		return err
	}
	expected.ThreadRoot = stategen.ThreadRoot(open)

	_, err = s.persistUpdate(tx, otherCs, reason, rawArgs, expected, "", nil)
	return err
}
