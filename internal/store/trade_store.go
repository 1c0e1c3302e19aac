// Package store wraps the relational database behind the operations the
// pipeline needs. Every status transition is a single-row conditional
// UPDATE keyed by trade id and expected current status, so concurrent
// workers serialize through the database and a lost race is visible as
// zero affected rows.
package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"trade-pipeline-go/internal/models"

	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

// ErrNotFound is returned when a row does not exist.
var ErrNotFound = errors.New("record not found")

// TradeStore provides persistent access to trades and their collaborator
// rows.
type TradeStore struct {
	db *gorm.DB
}

// NewTradeStore creates a store on the given database handle.
func NewTradeStore(db *gorm.DB) *TradeStore {
	return &TradeStore{db: db}
}

// Create persists a new trade row.
func (s *TradeStore) Create(ctx context.Context, trade *models.Trade) error {
	if err := s.db.WithContext(ctx).Create(trade).Error; err != nil {
		return fmt.Errorf("failed to create trade: %w", err)
	}
	return nil
}

// Get loads a trade by id.
func (s *TradeStore) Get(ctx context.Context, id uint) (*models.Trade, error) {
	var trade models.Trade
	err := s.db.WithContext(ctx).First(&trade, id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, fmt.Errorf("trade %d: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load trade %d: %w", id, err)
	}
	return &trade, nil
}

// ListByUser returns a user's trades, newest first, optionally filtered by
// status.
func (s *TradeStore) ListByUser(ctx context.Context, userID uint, status models.TradeStatus, limit int) ([]models.Trade, error) {
	q := s.db.WithContext(ctx).Where("user_id = ?", userID).Order("id desc")
	if status != "" {
		q = q.Where("status = ?", status)
	}
	if limit > 0 {
		q = q.Limit(limit)
	}

	var trades []models.Trade
	if err := q.Find(&trades).Error; err != nil {
		return nil, fmt.Errorf("failed to list trades for user %d: %w", userID, err)
	}
	return trades, nil
}

// FindRecentEquivalent looks for a trade with the same conflict tuple
// created after the cutoff. It returns nil when none exists.
func (s *TradeStore) FindRecentEquivalent(ctx context.Context, candidate *models.Trade, createdAfter time.Time) (*models.Trade, error) {
	var existing models.Trade
	err := s.db.WithContext(ctx).
		Where("user_id = ? AND instrument_id = ? AND broker_account_id = ? AND side = ? AND quantity = ?",
			candidate.UserID, candidate.InstrumentID, candidate.BrokerAccountID, candidate.Side, candidate.Quantity).
		Where("created_at > ?", createdAfter).
		First(&existing).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query recent equivalent trades: %w", err)
	}
	return &existing, nil
}

// GetAccount loads a broker account by id.
func (s *TradeStore) GetAccount(ctx context.Context, id uint) (*models.BrokerAccount, error) {
	var account models.BrokerAccount
	err := s.db.WithContext(ctx).First(&account, id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, fmt.Errorf("broker account %d: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load broker account %d: %w", id, err)
	}
	return &account, nil
}

// GetInstrument loads an instrument by id.
func (s *TradeStore) GetInstrument(ctx context.Context, id uint) (*models.Instrument, error) {
	var instrument models.Instrument
	err := s.db.WithContext(ctx).First(&instrument, id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, fmt.Errorf("instrument %d: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load instrument %d: %w", id, err)
	}
	return &instrument, nil
}

// transition runs a conditional update and reports whether a row moved.
func (s *TradeStore) transition(ctx context.Context, query *gorm.DB, updates map[string]any) (bool, error) {
	res := query.WithContext(ctx).Updates(updates)
	if res.Error != nil {
		return false, fmt.Errorf("failed to update trade: %w", res.Error)
	}
	return res.RowsAffected > 0, nil
}

// MarkSubmitted moves a PENDING trade to SUBMITTED with a submission
// timestamp. Returns false when the trade is no longer PENDING, which is
// how a worker detects a duplicate delivery or a lost race.
func (s *TradeStore) MarkSubmitted(ctx context.Context, id uint, at time.Time) (bool, error) {
	return s.transition(ctx,
		s.db.Model(&models.Trade{}).Where("id = ? AND status = ?", id, models.StatusPending),
		map[string]any{
			"status":       models.StatusSubmitted,
			"submitted_at": at,
		})
}

// Fill carries the execution results recorded on a successful placement.
type Fill struct {
	Quantity      int64
	AvgPrice      decimal.NullDecimal
	BrokerOrderID string
	At            time.Time
	Partial       bool
}

// MarkFilled moves a SUBMITTED trade to FILLED (or PARTIALLY_FILLED)
// recording the brokerage's fill data.
func (s *TradeStore) MarkFilled(ctx context.Context, id uint, fill Fill) (bool, error) {
	status := models.StatusFilled
	if fill.Partial {
		status = models.StatusPartiallyFilled
	}
	return s.transition(ctx,
		s.db.Model(&models.Trade{}).Where("id = ? AND status = ?", id, models.StatusSubmitted),
		map[string]any{
			"status":          status,
			"filled_quantity": fill.Quantity,
			"avg_fill_price":  fill.AvgPrice,
			"broker_order_id": fill.BrokerOrderID,
			"filled_at":       fill.At,
		})
}

// MarkRejected moves a SUBMITTED trade to REJECTED with the failure reason.
// Only infrastructure failures increment the retry counter, and the counter
// never passes maxRetries: an attempt that was already the last permitted
// one must leave the trade at the cap, not beyond it.
func (s *TradeStore) MarkRejected(ctx context.Context, id uint, reason string, countRetry bool, maxRetries int) (bool, error) {
	updates := map[string]any{
		"status":         models.StatusRejected,
		"failure_reason": reason,
	}
	if countRetry {
		updates["retry_count"] = gorm.Expr("MIN(retry_count + 1, ?)", maxRetries)
	}
	return s.transition(ctx,
		s.db.Model(&models.Trade{}).Where("id = ? AND status = ?", id, models.StatusSubmitted),
		updates)
}

// MarkCancelled moves a cancellable trade to CANCELLED.
func (s *TradeStore) MarkCancelled(ctx context.Context, id uint, at time.Time) (bool, error) {
	return s.transition(ctx,
		s.db.Model(&models.Trade{}).Where("id = ? AND status IN ?", id, models.CancellableStatuses),
		map[string]any{
			"status":       models.StatusCancelled,
			"cancelled_at": at,
		})
}

// MarkExpired moves a non-terminal trade to EXPIRED.
func (s *TradeStore) MarkExpired(ctx context.Context, id uint) (bool, error) {
	return s.transition(ctx,
		s.db.Model(&models.Trade{}).Where("id = ? AND status IN ?", id, models.NonTerminalStatuses),
		map[string]any{"status": models.StatusExpired})
}

// ExpireOlderThan sweeps every non-terminal trade created before the cutoff
// into EXPIRED and returns how many rows moved.
func (s *TradeStore) ExpireOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	res := s.db.WithContext(ctx).Model(&models.Trade{}).
		Where("status IN ? AND created_at < ?", models.NonTerminalStatuses, cutoff).
		Updates(map[string]any{"status": models.StatusExpired})
	if res.Error != nil {
		return 0, fmt.Errorf("failed to expire stale trades: %w", res.Error)
	}
	return res.RowsAffected, nil
}

// ResetForRetry atomically moves a REJECTED trade under the retry cap back
// to PENDING, incrementing the retry counter and clearing the failure
// reason. Returns false when the trade is not REJECTED or the cap is
// reached; the caller distinguishes the two from a fresh read.
func (s *TradeStore) ResetForRetry(ctx context.Context, id uint, maxRetries int) (bool, error) {
	return s.transition(ctx,
		s.db.Model(&models.Trade{}).
			Where("id = ? AND status = ? AND retry_count < ?", id, models.StatusRejected, maxRetries),
		map[string]any{
			"status":         models.StatusPending,
			"retry_count":    gorm.Expr("retry_count + 1"),
			"failure_reason": "",
		})
}

// ListRejectedUnderCap returns a user's REJECTED trades that are still
// eligible for retry.
func (s *TradeStore) ListRejectedUnderCap(ctx context.Context, userID uint, maxRetries int) ([]models.Trade, error) {
	var trades []models.Trade
	err := s.db.WithContext(ctx).
		Where("user_id = ? AND status = ? AND retry_count < ?", userID, models.StatusRejected, maxRetries).
		Order("id").
		Find(&trades).Error
	if err != nil {
		return nil, fmt.Errorf("failed to list rejected trades for user %d: %w", userID, err)
	}
	return trades, nil
}
