// Package queue provides the durable execution queue that decouples order
// intake from broker submission. Delivery is at-least-once; consumers must
// be idempotent.
package queue

import (
	"context"
	"time"
)

// Job is the payload carried for each queued execution.
type Job struct {
	TradeID    uint      `json:"trade_id"`
	EnqueuedAt time.Time `json:"enqueued_at"`
}

// Handler processes a delivered job. A non-nil error parks the job on the
// failed list for the admin surface; it does not re-deliver automatically.
type Handler func(ctx context.Context, job Job) error

// Queue is the enqueue/consume contract between intake and the workers.
type Queue interface {
	// Enqueue makes the job eligible for delivery after the given delay.
	// A zero delay means immediately.
	Enqueue(ctx context.Context, job Job, delay time.Duration) error

	// Consume delivers jobs to the handler until ctx is cancelled.
	Consume(ctx context.Context, handler Handler) error
}

// Stats is a snapshot of queue depths for the admin surface.
type Stats struct {
	Ready      int64 `json:"ready"`
	Delayed    int64 `json:"delayed"`
	Processing int64 `json:"processing"`
	Failed     int64 `json:"failed"`
}

// Admin exposes the operational surface of a queue: depth inspection,
// re-driving failed jobs, and purging. These operations touch only queue
// state, never trade rows.
type Admin interface {
	Stats(ctx context.Context) (Stats, error)
	FailedJobs(ctx context.Context, limit int64) ([]Job, error)
	RetryFailedJob(ctx context.Context, job Job) error
	RetryAllFailed(ctx context.Context) (int64, error)
	PurgeFailed(ctx context.Context) (int64, error)
}
