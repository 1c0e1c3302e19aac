package queue

import (
	"context"
	"fmt"
	"sync"
	"time"
)

type delayedJob struct {
	job Job
	due time.Time
}

// MemoryQueue is an in-process Queue with the same delivery semantics as
// the Redis implementation. It backs tests and dry-run mode; jobs do not
// survive a restart.
type MemoryQueue struct {
	mu      sync.Mutex
	ready   []Job
	delayed []delayedJob
	failed  []Job
	now     func() time.Time
}

var (
	_ Queue = (*MemoryQueue)(nil)
	_ Admin = (*MemoryQueue)(nil)
)

// NewMemoryQueue creates an empty in-memory queue.
func NewMemoryQueue() *MemoryQueue {
	return &MemoryQueue{now: time.Now}
}

// Enqueue adds the job, eligible after the given delay.
func (q *MemoryQueue) Enqueue(_ context.Context, job Job, delay time.Duration) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	if delay <= 0 {
		q.ready = append(q.ready, job)
		return nil
	}
	q.delayed = append(q.delayed, delayedJob{job: job, due: q.now().Add(delay)})
	return nil
}

// promote moves due delayed jobs to the ready slice. Caller must hold mu.
func (q *MemoryQueue) promote() {
	now := q.now()
	remaining := q.delayed[:0]
	for _, d := range q.delayed {
		if !d.due.After(now) {
			q.ready = append(q.ready, d.job)
		} else {
			remaining = append(remaining, d)
		}
	}
	q.delayed = remaining
}

// pop returns the next eligible job, if any.
func (q *MemoryQueue) pop() (Job, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	q.promote()
	if len(q.ready) == 0 {
		return Job{}, false
	}
	job := q.ready[0]
	q.ready = q.ready[1:]
	return job, true
}

// Consume polls for jobs and delivers them to the handler until ctx is
// cancelled.
func (q *MemoryQueue) Consume(ctx context.Context, handler Handler) error {
	ticker := time.NewTicker(10 * time.Millisecond)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			for {
				job, ok := q.pop()
				if !ok {
					break
				}
				if err := handler(ctx, job); err != nil {
					q.mu.Lock()
					q.failed = append(q.failed, job)
					q.mu.Unlock()
				}
			}
		}
	}
}

// Stats returns the current queue depths.
func (q *MemoryQueue) Stats(_ context.Context) (Stats, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.promote()
	return Stats{
		Ready:   int64(len(q.ready)),
		Delayed: int64(len(q.delayed)),
		Failed:  int64(len(q.failed)),
	}, nil
}

// FailedJobs returns up to limit parked jobs.
func (q *MemoryQueue) FailedJobs(_ context.Context, limit int64) ([]Job, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if limit <= 0 || limit > int64(len(q.failed)) {
		limit = int64(len(q.failed))
	}
	jobs := make([]Job, limit)
	copy(jobs, q.failed[:limit])
	return jobs, nil
}

// RetryFailedJob moves a specific parked job back to the ready slice.
func (q *MemoryQueue) RetryFailedJob(_ context.Context, job Job) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	for i, f := range q.failed {
		if f.TradeID == job.TradeID {
			q.failed = append(q.failed[:i], q.failed[i+1:]...)
			q.ready = append(q.ready, f)
			return nil
		}
	}
	return fmt.Errorf("job for trade %d not found on failed list", job.TradeID)
}

// RetryAllFailed re-drives every parked job.
func (q *MemoryQueue) RetryAllFailed(_ context.Context) (int64, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	moved := int64(len(q.failed))
	q.ready = append(q.ready, q.failed...)
	q.failed = nil
	return moved, nil
}

// PurgeFailed drops all parked jobs.
func (q *MemoryQueue) PurgeFailed(_ context.Context) (int64, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	count := int64(len(q.failed))
	q.failed = nil
	return count, nil
}
