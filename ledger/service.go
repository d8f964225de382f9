// Package ledger sequences channel updates, runs the collateralization
// policy, manages the thread sub-ledger and exposes the sync protocol. Every
// mutation of a user's channel happens under that user's row lock inside one
// transaction scope.
package ledger

import (
	"context"
	"time"

	logging "github.com/ipfs/go-log/v2"
	"github.com/shopspring/decimal"
	"go.uber.org/atomic"

	"github.com/connext/indra-sub007/chaintx"
	"github.com/connext/indra-sub007/common"
	"github.com/connext/indra-sub007/dao"
	"github.com/connext/indra-sub007/validator"
)

var log = logging.Logger("ledger")

// Completion-callback tag registered with the on-chain transaction service.
const CallbackPendingTx = "ledger.pending_tx"

type Service struct {
	dao    *dao.Dao
	val    *validator.Validator
	chain  *chaintx.Service
	signer common.Signer
	cfg    common.LedgerConfig

	// reconcile loop
	interval    time.Duration
	inReconcile *atomic.Bool
	cancel      context.CancelFunc
	done        chan struct{}
}

func NewService(d *dao.Dao, val *validator.Validator, chain *chaintx.Service, signer common.Signer, cfg common.LedgerConfig) *Service {
	s := &Service{
		dao:         d,
		val:         val,
		chain:       chain,
		signer:      signer,
		cfg:         cfg,
		interval:    30 * time.Second,
		inReconcile: atomic.NewBool(false),
		done:        make(chan struct{}),
	}
	chain.RegisterCallback(CallbackPendingTx, s.onPendingTxDone)
	return s
}

// Start runs the reconcile loop: failed chain transactions whose dependent
// updates timed out are rolled back via the standard invalidation path.
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
				if !s.inReconcile.Load() {
					s.inReconcile.Store(true)
					go func() {
						defer s.inReconcile.Store(false)
						if err := s.ReconcileOnce(ctx); err != nil {
							log.Warnf("reconcile failed: %v", err)
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

func (s *Service) challengeTimeout(now time.Time) int64 {
	return now.Add(s.cfg.ChallengePeriod).Unix()
}

func sendParams(to string, value decimal.Decimal, data string, payload []byte) chaintx.SendParams {
	return chaintx.SendParams{
		To:    to,
		Value: value,
		Data:  data,
		Meta:  &chaintx.Meta{Callback: CallbackPendingTx, Payload: payload},
	}
}

func zeroDecimal() decimal.Decimal {
	return decimal.Decimal{}
}
