// Package dispute drives the unilateral-exit state machine: OPEN ->
// startUnilateralExit -> DISPUTE -> (dispute period elapsed) -> settlement
// submitted -> OPEN on failure, emptied channel on success.
package dispute

import (
	"context"
	"encoding/json"
	"time"

	logging "github.com/ipfs/go-log/v2"
	"go.uber.org/atomic"
	"golang.org/x/xerrors"
	"gorm.io/gorm"

	"github.com/connext/indra-sub007/chaintx"
	"github.com/connext/indra-sub007/common"
	"github.com/connext/indra-sub007/dao"
	"github.com/connext/indra-sub007/metrics"
	"github.com/connext/indra-sub007/model"
)

var log = logging.Logger("dispute")

// Finalizer appends the ledger update that empties a channel once its
// settlement transaction confirmed.
type Finalizer interface {
	FinalizeExit(tx *gorm.DB, cs *model.ChannelState, txHash string) error
}

type Service struct {
	dao    *dao.Dao
	chain  *chaintx.Service
	ledger Finalizer
	cfg    common.LedgerConfig

	disputePeriod time.Duration
	interval      time.Duration
	inPoll        *atomic.Bool
	cancel        context.CancelFunc
	done          chan struct{}
}

func NewService(d *dao.Dao, chain *chaintx.Service, ledger Finalizer, cfg common.LedgerConfig, disputePeriod time.Duration) *Service {
	return &Service{
		dao:           d,
		chain:         chain,
		ledger:        ledger,
		cfg:           cfg,
		disputePeriod: disputePeriod,
		interval:      time.Minute,
		inPoll:        atomic.NewBool(false),
		done:          make(chan struct{}),
	}
}

// StartUnilateralExit submits the latest exitable state to the contract and
// flips the channel into DISPUTE. It requires that the latest double-signed
// zero-timeout update is also the channel's latest update overall; a
// dangling half-signed update means the channel head is contested and exit
// evidence would be stale.
func (s *Service) StartUnilateralExit(ctx context.Context, user, reason string) error {
	err := s.dao.RunInTx(ctx, func(tx *gorm.DB) error {
		cs, err := s.dao.LockChannel(tx, user)
		if err != nil {
			return err
		}
		if cs == nil {
			return common.ErrChannelNotFound
		}
		if cs.Status == model.ChannelStatusDispute {
			return xerrors.Errorf("%w: channel is already in dispute", common.ErrPolicy)
		}
		if pending, err := s.dao.PendingDisputeForUser(tx, user); err != nil {
			return err
		} else if pending != nil {
			return xerrors.Errorf("%w: dispute %d is still pending", common.ErrPolicy, pending.ID)
		}

		latest, err := s.dao.LatestUpdate(tx, user)
		if err != nil {
			return err
		}
		if err := exitable(latest); err != nil {
			return err
		}

		payload, _ := json.Marshal(map[string]string{"user": user})
		otx, err := s.chain.Send(ctx, tx, chaintx.SendParams{
			To:   s.cfg.ContractAddress,
			Data: latest.State,
			Meta: &chaintx.Meta{Payload: payload},
		})
		if err != nil {
			return err
		}

		// The contract records the authoritative closing time when the exit
		// transaction lands; DisputeEnds approximates it from the local clock
		// and configured period, so it can run a little early.
		// TODO: read the closing time from the start-exit receipt once the
		// poll loop surfaces receipt logs.
		cd := &model.ChannelDispute{
			User:             user,
			Reason:           reason,
			OnchainTxIDStart: otx.LogicalID,
			DisputeEnds:      time.Now().Add(s.disputePeriod).Unix(),
			Status:           model.DisputeStatusPending,
		}
		if err := s.dao.InsertDispute(tx, cd); err != nil {
			return err
		}
		return s.dao.SetChannelStatus(tx, user, model.ChannelStatusDispute)
	})
	if err != nil {
		return err
	}

	metrics.RecordOne(ctx, metrics.DisputesStarted)
	return nil
}

// exitable reports why an update cannot back a unilateral exit, nil when it
// can.
func exitable(latest *model.ChannelUpdate) error {
	if latest == nil {
		return xerrors.Errorf("%w: channel has no updates", common.ErrNotExitable)
	}
	if latest.Invalid != nil {
		return xerrors.Errorf("%w: latest update %d is invalidated", common.ErrNotExitable, latest.TxCountGlobal)
	}
	if latest.SigHub == "" || latest.SigUser == "" {
		return xerrors.Errorf("%w: latest update %d is not double-signed", common.ErrNotExitable, latest.TxCountGlobal)
	}
	snapshot, err := latest.Snapshot()
	if err != nil {
		return err
	}
	if snapshot.Timeout != 0 {
		return xerrors.Errorf("%w: latest update %d still has timeout %d", common.ErrNotExitable, latest.TxCountGlobal, snapshot.Timeout)
	}
	return nil
}

// PollOnce advances every pending dispute: past the contract's recorded
// closing time it submits the settlement transaction; once that transaction
// is terminal the dispute finishes (channel emptied on success, back to OPEN
// for a fresh cycle on failure). Idempotent.
func (s *Service) PollOnce(ctx context.Context) error {
	disputes, err := s.dao.PendingDisputes(s.dao.DB().WithContext(ctx))
	if err != nil {
		return err
	}

	now := time.Now().Unix()
	for i := range disputes {
		cd := disputes[i]

		var stepErr error
		if cd.OnchainTxIDEmpty == nil {
			if now < cd.DisputeEnds {
				continue
			}
			stepErr = s.submitSettlement(ctx, &cd)
		} else {
			stepErr = s.resolveSettlement(ctx, &cd)
		}
		if stepErr != nil {
			log.Warnw("dispute poll step failed", "user", cd.User, "dispute", cd.ID, "err", stepErr)
		}
	}
	return nil
}

func (s *Service) submitSettlement(ctx context.Context, cd *model.ChannelDispute) error {
	return s.dao.RunInTx(ctx, func(tx *gorm.DB) error {
		if _, err := s.dao.LockChannel(tx, cd.User); err != nil {
			return err
		}

		payload, _ := json.Marshal(map[string]string{"user": cd.User})
		otx, err := s.chain.Send(ctx, tx, chaintx.SendParams{
			To:   s.cfg.ContractAddress,
			Meta: &chaintx.Meta{Payload: payload},
		})
		if err != nil {
			return err
		}

		cd.OnchainTxIDEmpty = &otx.LogicalID
		return s.dao.SaveDispute(tx, cd)
	})
}

func (s *Service) resolveSettlement(ctx context.Context, cd *model.ChannelDispute) error {
	otx, err := s.dao.GetOnchainTx(s.dao.DB().WithContext(ctx), *cd.OnchainTxIDEmpty)
	if err != nil {
		return err
	}
	if otx == nil || !otx.State.Terminal() {
		return nil
	}

	return s.dao.RunInTx(ctx, func(tx *gorm.DB) error {
		cs, err := s.dao.LockChannel(tx, cd.User)
		if err != nil {
			return err
		}

		if otx.State == model.OnchainTxStateConfirmed && cs != nil {
			if err := s.ledger.FinalizeExit(tx, cs, otx.Hash); err != nil {
				return err
			}
		} else if otx.State == model.OnchainTxStateFailed {
			log.Warnw("settlement transaction failed, channel back to OPEN",
				"user", cd.User, "logicalId", otx.LogicalID, "err", otx.LastError)
		}

		if err := s.dao.SetChannelStatus(tx, cd.User, model.ChannelStatusOpen); err != nil {
			return err
		}
		cd.Status = model.DisputeStatusFinished
		return s.dao.SaveDispute(tx, cd)
	})
}

func (s *Service) Start(ctx context.Context) {
	ctx, s.cancel = context.WithCancel(ctx)

	go func() {
		defer close(s.done)

		timer := time.NewTicker(s.interval)
		defer timer.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-timer.C:
				if !s.inPoll.Load() {
					s.inPoll.Store(true)
					go func() {
						defer s.inPoll.Store(false)
						if err := s.PollOnce(ctx); err != nil {
							log.Warnf("dispute poll failed: %v", err)
						}
					}()
				}
			}
		}
	}()
}

func (s *Service) Stop() {
	if s.cancel != nil {
		s.cancel()
		<-s.done
	}
}
