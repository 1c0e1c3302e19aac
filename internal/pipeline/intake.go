// Package pipeline implements the trade order execution pipeline: intake
// validation, duplicate-submission prevention, asynchronous execution
// against the brokerage, and bounded retry.
package pipeline

import (
	"context"
	"fmt"
	"time"

	"trade-pipeline-go/internal/config"
	"trade-pipeline-go/internal/lock"
	"trade-pipeline-go/internal/models"
	"trade-pipeline-go/internal/queue"
	"trade-pipeline-go/internal/store"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// PlaceOrderRequest carries a client's order submission.
type PlaceOrderRequest struct {
	UserID          uint                `json:"user_id"`
	BrokerAccountID uint                `json:"broker_account_id"`
	InstrumentID    uint                `json:"instrument_id"`
	Type            models.OrderType    `json:"type"`
	Side            models.OrderSide    `json:"side"`
	Quantity        int64               `json:"quantity"`
	LimitPrice      decimal.NullDecimal `json:"limit_price"`
	StopPrice       decimal.NullDecimal `json:"stop_price"`
	StrategyID      *uint               `json:"strategy_id,omitempty"`
}

// Service is the synchronous intake surface of the pipeline. It validates
// requests, guards against duplicate submission, persists the trade, and
// hands it to the execution queue.
type Service struct {
	store  *store.TradeStore
	locker lock.Locker
	queue  queue.Queue
	cfg    *config.Pipeline
	logger *zap.Logger
}

// NewService creates the intake service.
func NewService(st *store.TradeStore, locker lock.Locker, q queue.Queue, cfg *config.Pipeline, logger *zap.Logger) *Service {
	return &Service{
		store:  st,
		locker: locker,
		queue:  q,
		cfg:    cfg,
		logger: logger.Named("intake"),
	}
}

// PlaceOrder validates and persists a new order and enqueues it for
// execution. Nothing is written before the duplicate guard succeeds.
func (s *Service) PlaceOrder(ctx context.Context, req PlaceOrderRequest) (*models.Trade, error) {
	if req.Quantity <= 0 {
		return nil, fmt.Errorf("quantity %d: %w", req.Quantity, ErrInvalidQuantity)
	}

	account, err := s.store.GetAccount(ctx, req.BrokerAccountID)
	if err != nil {
		return nil, ErrInvalidAccount
	}
	if account.UserID != req.UserID || !account.Active {
		return nil, ErrInvalidAccount
	}

	instrument, err := s.store.GetInstrument(ctx, req.InstrumentID)
	if err != nil {
		return nil, ErrInstrumentNotFound
	}
	if !instrument.Enabled {
		return nil, ErrInstrumentNotFound
	}

	switch req.Type {
	case models.OrderTypeLimit:
		if !req.LimitPrice.Valid {
			return nil, fmt.Errorf("LIMIT order: %w", ErrMissingPrice)
		}
	case models.OrderTypeStopLoss:
		if !req.StopPrice.Valid {
			return nil, fmt.Errorf("STOP_LOSS order: %w", ErrMissingPrice)
		}
	}

	trade := &models.Trade{
		UserID:          req.UserID,
		BrokerAccountID: req.BrokerAccountID,
		InstrumentID:    req.InstrumentID,
		Symbol:          instrument.Symbol,
		Type:            req.Type,
		Side:            req.Side,
		Quantity:        req.Quantity,
		LimitPrice:      req.LimitPrice,
		StopPrice:       req.StopPrice,
		Status:          models.StatusPending,
		StrategyID:      req.StrategyID,
		AutoTrade:       req.StrategyID != nil,
	}

	if err := s.createGuarded(ctx, trade); err != nil {
		return nil, err
	}

	job := queue.Job{TradeID: trade.ID, EnqueuedAt: time.Now()}
	if err := s.queue.Enqueue(ctx, job, 0); err != nil {
		// The trade row exists; operators can re-enqueue it through the
		// retry surface, so don't roll it back here.
		s.logger.Error("Trade created but enqueue failed",
			zap.Uint("trade_id", trade.ID), zap.Error(err))
		return trade, fmt.Errorf("trade %d created but not enqueued: %w", trade.ID, err)
	}

	s.logger.Info("Order accepted",
		zap.Uint("trade_id", trade.ID),
		zap.Uint("user_id", trade.UserID),
		zap.String("symbol", trade.Symbol),
		zap.String("side", string(trade.Side)),
		zap.Int64("quantity", trade.Quantity),
	)
	return trade, nil
}

// lockKey computes the conflict domain: orders against different
// instruments or accounts never contend.
func (s *Service) lockKey(t *models.Trade) string {
	return fmt.Sprintf("trade:lock:%d:%d:%d", t.UserID, t.InstrumentID, t.BrokerAccountID)
}

// createGuarded serializes equivalent submissions through the distributed
// lock, re-checks the recency window, and only then writes the trade row.
func (s *Service) createGuarded(ctx context.Context, trade *models.Trade) error {
	key := s.lockKey(trade)
	value := uuid.NewString()
	ttl := time.Duration(s.cfg.LockTTLMs) * time.Millisecond

	if err := s.acquireWithRetry(ctx, key, value, ttl); err != nil {
		return err
	}
	// Release on every exit path. A failure inside the critical section
	// must not leave the key behind; the TTL only backstops a crashed
	// holder. WithoutCancel so a cancelled request still releases.
	defer func() {
		if err := s.locker.Release(context.WithoutCancel(ctx), key, value); err != nil {
			s.logger.Warn("Failed to release submission lock", zap.String("key", key), zap.Error(err))
		}
	}()

	window := time.Duration(s.cfg.DedupeWindowMs) * time.Millisecond
	existing, err := s.store.FindRecentEquivalent(ctx, trade, time.Now().Add(-window))
	if err != nil {
		return err
	}
	if existing != nil {
		s.logger.Info("Duplicate submission blocked",
			zap.Uint("existing_trade_id", existing.ID),
			zap.String("key", key),
		)
		return fmt.Errorf("trade %d: %w", existing.ID, ErrDuplicateTrade)
	}

	return s.store.Create(ctx, trade)
}

// acquireWithRetry attempts the lock, then retries up to the configured
// attempt count with a fixed delay before reporting contention.
func (s *Service) acquireWithRetry(ctx context.Context, key, value string, ttl time.Duration) error {
	delay := time.Duration(s.cfg.LockRetryDelayMs) * time.Millisecond

	for attempt := 0; attempt <= s.cfg.LockRetries; attempt++ {
		ok, err := s.locker.Acquire(ctx, key, value, ttl)
		if err != nil {
			return fmt.Errorf("lock acquisition failed: %w", err)
		}
		if ok {
			return nil
		}
		if attempt == s.cfg.LockRetries {
			break
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(delay):
		}
	}

	s.logger.Warn("Submission lock contended", zap.String("key", key))
	return fmt.Errorf("lock %s: %w", key, ErrLockContention)
}

// Cancel flips a trade to CANCELLED if it is still cancellable. It never
// contacts the brokerage; an in-flight placement already issued may still
// fill and is reconciled externally.
func (s *Service) Cancel(ctx context.Context, tradeID uint) (*models.Trade, error) {
	ok, err := s.store.MarkCancelled(ctx, tradeID, time.Now())
	if err != nil {
		return nil, err
	}
	if !ok {
		// Either missing or no longer cancellable; a fresh read says which.
		if _, err := s.store.Get(ctx, tradeID); err != nil {
			return nil, err
		}
		return nil, fmt.Errorf("trade %d: %w", tradeID, ErrNotCancellable)
	}

	s.logger.Info("Trade cancelled", zap.Uint("trade_id", tradeID))
	return s.store.Get(ctx, tradeID)
}

// ExpireStale sweeps non-terminal trades older than the configured maximum
// age into EXPIRED.
func (s *Service) ExpireStale(ctx context.Context) (int64, error) {
	maxAge := time.Duration(s.cfg.StaleAfterMs) * time.Millisecond
	expired, err := s.store.ExpireOlderThan(ctx, time.Now().Add(-maxAge))
	if err != nil {
		return 0, err
	}
	if expired > 0 {
		s.logger.Info("Expired stale trades", zap.Int64("count", expired))
	}
	return expired, nil
}
