package pipeline

import (
	"context"
	"fmt"
	"time"

	"trade-pipeline-go/internal/config"
	"trade-pipeline-go/internal/models"
	"trade-pipeline-go/internal/queue"
	"trade-pipeline-go/internal/store"

	"go.uber.org/zap"
)

// RetryController re-enqueues rejected trades with exponential backoff,
// bounded by the configured maximum attempt count.
type RetryController struct {
	store  *store.TradeStore
	queue  queue.Queue
	cfg    *config.Pipeline
	logger *zap.Logger
}

// NewRetryController creates a retry controller.
func NewRetryController(st *store.TradeStore, q queue.Queue, cfg *config.Pipeline, logger *zap.Logger) *RetryController {
	return &RetryController{
		store:  st,
		queue:  q,
		cfg:    cfg,
		logger: logger.Named("retry"),
	}
}

// backoff computes baseDelay * 2^retryCount.
func (r *RetryController) backoff(retryCount int) time.Duration {
	base := time.Duration(r.cfg.RetryBaseDelayMs) * time.Millisecond
	return base * time.Duration(1<<uint(retryCount))
}

// Retry moves a REJECTED trade under the retry cap back to PENDING and
// re-enqueues it after an exponential backoff delay. It returns the delay
// applied.
func (r *RetryController) Retry(ctx context.Context, tradeID uint) (time.Duration, error) {
	trade, err := r.store.Get(ctx, tradeID)
	if err != nil {
		return 0, err
	}
	if trade.Status != models.StatusRejected {
		return 0, fmt.Errorf("trade %d in state %s: %w", tradeID, trade.Status, ErrNotRejected)
	}
	if trade.RetryCount >= r.cfg.MaxRetries {
		return 0, fmt.Errorf("trade %d at %d retries: %w", tradeID, trade.RetryCount, ErrMaxRetriesExceeded)
	}

	delay := r.backoff(trade.RetryCount)

	moved, err := r.store.ResetForRetry(ctx, tradeID, r.cfg.MaxRetries)
	if err != nil {
		return 0, err
	}
	if !moved {
		// Raced: someone else retried, cancelled, or exhausted the cap
		// between our read and the conditional update.
		fresh, ferr := r.store.Get(ctx, tradeID)
		if ferr != nil {
			return 0, ferr
		}
		if fresh.Status != models.StatusRejected {
			return 0, fmt.Errorf("trade %d in state %s: %w", tradeID, fresh.Status, ErrNotRejected)
		}
		return 0, fmt.Errorf("trade %d at %d retries: %w", tradeID, fresh.RetryCount, ErrMaxRetriesExceeded)
	}

	job := queue.Job{TradeID: tradeID, EnqueuedAt: time.Now()}
	if err := r.queue.Enqueue(ctx, job, delay); err != nil {
		return 0, fmt.Errorf("trade %d reset but not enqueued: %w", tradeID, err)
	}

	r.logger.Info("Trade scheduled for retry",
		zap.Uint("trade_id", tradeID),
		zap.Int("attempt", trade.RetryCount+1),
		zap.Duration("delay", delay),
	)
	return delay, nil
}

// BulkResult summarizes a RetryAllFailed run.
type BulkResult struct {
	Retried int `json:"retried"`
	Skipped int `json:"skipped"`
}

// RetryAllFailed retries every REJECTED trade under the cap for a user.
// Each trade is retried independently; an error on one does not abort the
// batch.
func (r *RetryController) RetryAllFailed(ctx context.Context, userID uint) (BulkResult, error) {
	trades, err := r.store.ListRejectedUnderCap(ctx, userID, r.cfg.MaxRetries)
	if err != nil {
		return BulkResult{}, err
	}

	var result BulkResult
	for _, trade := range trades {
		if _, err := r.Retry(ctx, trade.ID); err != nil {
			r.logger.Warn("Skipping trade in bulk retry",
				zap.Uint("trade_id", trade.ID), zap.Error(err))
			result.Skipped++
			continue
		}
		result.Retried++
	}

	r.logger.Info("Bulk retry complete",
		zap.Uint("user_id", userID),
		zap.Int("retried", result.Retried),
		zap.Int("skipped", result.Skipped),
	)
	return result, nil
}
