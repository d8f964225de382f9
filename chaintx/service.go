// Package chaintx owns the lifecycle of blockchain transactions issued by
// the ledger: nonce handling, broadcast, polling and failure classification.
// State machine per logical transaction: new -> submitted -> confirmed|failed.
package chaintx

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	logging "github.com/ipfs/go-log/v2"
	"go.opencensus.io/tag"
	"go.uber.org/atomic"
	"go.uber.org/ratelimit"
	"gorm.io/gorm"

	"github.com/connext/indra-sub007/dao"
	"github.com/connext/indra-sub007/metrics"
	"github.com/connext/indra-sub007/model"
	"github.com/connext/indra-sub007/util"
	"github.com/shopspring/decimal"
)

var log = logging.Logger("chaintx")

// CallbackFunc is invoked once when a logical transaction reaches a terminal
// state during polling. Handlers run outside the poll row transaction and go
// through the standard locked ledger path themselves.
type CallbackFunc func(ctx context.Context, otx *model.OnchainTransaction, confirmed bool) error

// Meta is the completion-callback reference stored on a logical transaction.
type Meta struct {
	Callback string          `json:"callback,omitempty"`
	Payload  json.RawMessage `json:"payload,omitempty"`
}

type SendParams struct {
	To    string
	Value decimal.Decimal
	Data  string
	Gas   uint64
	Meta  *Meta
}

type Service struct {
	dao    *dao.Dao
	client Client
	from   string

	interval  time.Duration
	dropGrace time.Duration
	rl        ratelimit.Limiter

	mu        sync.RWMutex
	callbacks map[string]CallbackFunc

	inPoll *atomic.Bool
	cancel context.CancelFunc
	done   chan struct{}
}

func NewService(d *dao.Dao, client Client, from string, interval time.Duration) *Service {
	return &Service{
		dao:       d,
		client:    client,
		from:      from,
		interval:  interval,
		dropGrace: 5 * time.Minute,
		rl:        ratelimit.New(20),
		callbacks: make(map[string]CallbackFunc),
		inPoll:    atomic.NewBool(false),
		done:      make(chan struct{}),
	}
}

func (s *Service) RegisterCallback(tag string, fn CallbackFunc) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.callbacks[tag] = fn
}

func (s *Service) callback(tag string) CallbackFunc {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.callbacks[tag]
}

// Send allocates a logical transaction inside the caller's transaction scope
// and broadcasts one physical attempt. A recognized terminal broadcast error
// marks the row failed right away; an unrecognized error leaves it new so
// the poll loop can retry the broadcast. The row becomes visible with the
// caller's commit.
func (s *Service) Send(ctx context.Context, tx *gorm.DB, p SendParams) (*model.OnchainTransaction, error) {
	nonce, err := s.nextNonce(ctx, tx)
	if err != nil {
		return nil, err
	}

	gas := p.Gas
	if gas == 0 {
		gas, err = s.client.EstimateGas(ctx, TxParams{
			From: s.from, To: p.To, Value: p.Value, Data: p.Data,
		})
		if err != nil {
			return nil, err
		}
	}

	var meta string
	if p.Meta != nil {
		raw, err := json.Marshal(p.Meta)
		if err != nil {
			return nil, err
		}
		meta = string(raw)
	}

	otx := &model.OnchainTransaction{
		From:  s.from,
		To:    p.To,
		Value: p.Value,
		Data:  p.Data,
		Gas:   gas,
		Nonce: nonce,
		State: model.OnchainTxStateNew,
		Meta:  meta,
	}
	if err := s.dao.InsertOnchainTx(tx, otx); err != nil {
		return nil, err
	}

	s.broadcast(ctx, tx, otx)
	return otx, nil
}

func (s *Service) nextNonce(ctx context.Context, tx *gorm.DB) (uint64, error) {
	chainNonce, err := s.client.GetTransactionCount(ctx, s.from)
	if err != nil {
		return 0, err
	}
	return s.dao.AllocateNonce(tx, s.from, chainNonce)
}

// broadcast performs one physical attempt, reusing the logical row's nonce.
func (s *Service) broadcast(ctx context.Context, tx *gorm.DB, otx *model.OnchainTransaction) {
	otx.Attempt++
	hash, err := s.client.SendTransaction(ctx, TxParams{
		From:  otx.From,
		To:    otx.To,
		Value: otx.Value,
		Data:  otx.Data,
		Gas:   otx.Gas,
		Nonce: otx.Nonce,
	})
	now := time.Now()
	if err != nil {
		otx.LastError = err.Error()
		if class := Classify(err); class.Terminal() {
			log.Warnw("broadcast failed terminally",
				"logicalId", otx.LogicalID, "class", class.String(), "err", err)
			otx.State = model.OnchainTxStateFailed
			otx.FailedOn = &now
		} else {
			log.Warnw("broadcast failed, will retry on next poll",
				"logicalId", otx.LogicalID, "attempt", otx.Attempt, "err", err)
		}
	} else {
		otx.Hash = hash
		otx.State = model.OnchainTxStateSubmitted
		otx.SubmittedAt = &now
	}
	if err := s.dao.SaveOnchainTx(tx, otx); err != nil {
		log.Errorw("save after broadcast failed", "logicalId", otx.LogicalID, "err", err)
	}
}

// Poll advances every non-terminal logical transaction. It only reads
// transaction rows plus the chain, so it never blocks ledger operations;
// running it twice with no new chain data is a no-op.
func (s *Service) Poll(ctx context.Context) error {
	rows, err := s.dao.NonTerminalTxs(s.dao.DB().WithContext(ctx))
	if err != nil {
		return err
	}

	for i := range rows {
		otx := rows[i]
		s.rl.Take()

		switch otx.State {
		case model.OnchainTxStateNew:
			err = s.dao.RunInTx(ctx, func(tx *gorm.DB) error {
				s.broadcast(ctx, tx, &otx)
				return nil
			})
		case model.OnchainTxStateSubmitted:
			err = s.pollSubmitted(ctx, &otx)
		}
		if err != nil {
			log.Warnw("poll step failed", "logicalId", otx.LogicalID, "err", err)
			continue
		}

		if otx.State.Terminal() {
			s.fireCallback(ctx, &otx)
		}
	}
	return nil
}

func (s *Service) pollSubmitted(ctx context.Context, otx *model.OnchainTransaction) error {
	receipt, err := s.client.GetTransactionReceipt(ctx, otx.Hash)
	if err != nil {
		// never guess from an unrecognized provider error
		if Classify(err) == ClassUnknown {
			log.Debugw("receipt lookup failed, leaving state untouched",
				"logicalId", otx.LogicalID, "err", err)
			return nil
		}
		return s.markFailed(ctx, otx, err.Error())
	}

	if receipt != nil {
		if receipt.Status == 1 {
			return s.markConfirmed(ctx, otx)
		}
		return s.markFailed(ctx, otx, "transaction reverted")
	}

	info, err := s.client.GetTransactionByHash(ctx, otx.Hash)
	if err != nil {
		log.Debugw("tx lookup failed, leaving state untouched",
			"logicalId", otx.LogicalID, "err", err)
		return nil
	}
	if info == nil && otx.SubmittedAt != nil && time.Since(*otx.SubmittedAt) > s.dropGrace {
		return s.markFailed(ctx, otx, "dropped by node")
	}
	return nil
}

func (s *Service) markConfirmed(ctx context.Context, otx *model.OnchainTransaction) error {
	now := time.Now()
	otx.State = model.OnchainTxStateConfirmed
	otx.ConfirmedOn = &now
	metrics.RecordOne(ctx, metrics.ChainTxTerminal, tag.Upsert(metrics.Outcome, "confirmed"))
	return s.dao.SaveOnchainTx(s.dao.DB().WithContext(ctx), otx)
}

func (s *Service) markFailed(ctx context.Context, otx *model.OnchainTransaction, reason string) error {
	now := time.Now()
	otx.State = model.OnchainTxStateFailed
	otx.FailedOn = &now
	otx.LastError = reason
	metrics.RecordOne(ctx, metrics.ChainTxTerminal, tag.Upsert(metrics.Outcome, "failed"))
	return s.dao.SaveOnchainTx(s.dao.DB().WithContext(ctx), otx)
}

func (s *Service) fireCallback(ctx context.Context, otx *model.OnchainTransaction) {
	if otx.Meta == "" {
		return
	}
	var meta Meta
	if err := json.Unmarshal([]byte(otx.Meta), &meta); err != nil || meta.Callback == "" {
		return
	}
	fn := s.callback(meta.Callback)
	if fn == nil {
		log.Warnw("no handler registered for callback", "callback", meta.Callback)
		return
	}
	if err := fn(ctx, otx, otx.State == model.OnchainTxStateConfirmed); err != nil {
		log.Warnw("completion callback failed",
			"logicalId", otx.LogicalID, "callback", meta.Callback, "err", err)
	}
}

// Await blocks via bounded-sleep polling until the logical transaction
// reaches confirmed or failed.
func (s *Service) Await(ctx context.Context, logicalID uint64) (*model.OnchainTransaction, error) {
	for {
		otx, err := s.dao.GetOnchainTx(s.dao.DB().WithContext(ctx), logicalID)
		if err != nil {
			return nil, err
		}
		if otx != nil && otx.State.Terminal() {
			return otx, nil
		}
		if err := util.SleepWithContext(ctx, s.interval); err != nil {
			return nil, err
		}
	}
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
						if err := s.Poll(ctx); err != nil {
							log.Warnf("poll failed: %v", err)
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
