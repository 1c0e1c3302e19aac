package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

const (
	keyReady      = "execq:ready"
	keyDelayed    = "execq:delayed"
	keyProcessing = "execq:processing"
	keyFailed     = "execq:failed"

	promoteBatch    = 100
	promoteInterval = 100 * time.Millisecond
	popTimeout      = time.Second
)

// promoteScript atomically moves jobs whose due time has passed from the
// delayed zset to the ready list.
var promoteScript = redis.NewScript(`
local due = redis.call("ZRANGEBYSCORE", KEYS[1], "-inf", ARGV[1], "LIMIT", 0, ARGV[2])
for _, payload in ipairs(due) do
	redis.call("ZREM", KEYS[1], payload)
	redis.call("LPUSH", KEYS[2], payload)
end
return #due
`)

// RedisQueue is a durable at-least-once queue on Redis: a ready list for
// eligible jobs, a sorted set for delayed jobs scored by due time, a
// processing list holding in-flight deliveries, and a failed list for the
// admin surface.
type RedisQueue struct {
	client redis.UniversalClient
	logger *zap.Logger
}

var (
	_ Queue = (*RedisQueue)(nil)
	_ Admin = (*RedisQueue)(nil)
)

// NewRedisQueue creates a queue backed by the given Redis client.
func NewRedisQueue(client redis.UniversalClient, logger *zap.Logger) *RedisQueue {
	return &RedisQueue{
		client: client,
		logger: logger.Named("redis-queue"),
	}
}

// Enqueue pushes the job onto the ready list, or onto the delayed set when
// a delay is requested.
func (q *RedisQueue) Enqueue(ctx context.Context, job Job, delay time.Duration) error {
	payload, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("failed to marshal job: %w", err)
	}

	if delay <= 0 {
		if err := q.client.LPush(ctx, keyReady, payload).Err(); err != nil {
			return fmt.Errorf("failed to enqueue job: %w", err)
		}
		return nil
	}

	due := float64(time.Now().Add(delay).UnixMilli())
	if err := q.client.ZAdd(ctx, keyDelayed, redis.Z{Score: due, Member: payload}).Err(); err != nil {
		return fmt.Errorf("failed to enqueue delayed job: %w", err)
	}
	return nil
}

// RunMover promotes due delayed jobs onto the ready list until ctx is
// cancelled. Exactly one mover per deployment is enough, but running one
// per worker process is harmless because promotion is atomic.
func (q *RedisQueue) RunMover(ctx context.Context) {
	ticker := time.NewTicker(promoteInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			now := time.Now().UnixMilli()
			moved, err := promoteScript.Run(ctx, q.client,
				[]string{keyDelayed, keyReady}, now, promoteBatch).Int()
			if err != nil && !errors.Is(err, context.Canceled) {
				q.logger.Error("Failed to promote delayed jobs", zap.Error(err))
				continue
			}
			if moved > 0 {
				q.logger.Debug("Promoted delayed jobs", zap.Int("count", moved))
			}
		}
	}
}

// Consume delivers jobs to the handler until ctx is cancelled. Each job is
// moved to the processing list while in flight (at-least-once: a crashed
// consumer leaves it there for operator recovery), acknowledged on success,
// and parked on the failed list when the handler errors.
func (q *RedisQueue) Consume(ctx context.Context, handler Handler) error {
	for {
		if err := ctx.Err(); err != nil {
			return nil
		}

		payload, err := q.client.BLMove(ctx, keyReady, keyProcessing, "RIGHT", "LEFT", popTimeout).Result()
		if errors.Is(err, redis.Nil) {
			continue
		}
		if err != nil {
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				return nil
			}
			q.logger.Error("Failed to pop job", zap.Error(err))
			select {
			case <-ctx.Done():
				return nil
			case <-time.After(popTimeout):
			}
			continue
		}

		var job Job
		if err := json.Unmarshal([]byte(payload), &job); err != nil {
			q.logger.Error("Discarding undecodable job payload", zap.Error(err), zap.String("payload", payload))
			q.park(payload)
			continue
		}

		if err := handler(ctx, job); err != nil {
			q.logger.Warn("Job handler failed, parking job",
				zap.Uint("trade_id", job.TradeID),
				zap.Error(err),
			)
			q.park(payload)
			continue
		}

		q.ack(payload)
	}
}

// ack removes a completed delivery from the processing list.
func (q *RedisQueue) ack(payload string) {
	// Use a background context so shutdown does not orphan an acked job.
	ctx, cancel := context.WithTimeout(context.Background(), popTimeout)
	defer cancel()
	if err := q.client.LRem(ctx, keyProcessing, 1, payload).Err(); err != nil {
		q.logger.Error("Failed to ack job", zap.Error(err))
	}
}

// park moves a failed delivery from the processing list to the failed list.
func (q *RedisQueue) park(payload string) {
	ctx, cancel := context.WithTimeout(context.Background(), popTimeout)
	defer cancel()
	pipe := q.client.TxPipeline()
	pipe.LRem(ctx, keyProcessing, 1, payload)
	pipe.LPush(ctx, keyFailed, payload)
	if _, err := pipe.Exec(ctx); err != nil {
		q.logger.Error("Failed to park job on failed list", zap.Error(err))
	}
}

// Stats returns the current queue depths.
func (q *RedisQueue) Stats(ctx context.Context) (Stats, error) {
	pipe := q.client.Pipeline()
	ready := pipe.LLen(ctx, keyReady)
	delayed := pipe.ZCard(ctx, keyDelayed)
	processing := pipe.LLen(ctx, keyProcessing)
	failed := pipe.LLen(ctx, keyFailed)
	if _, err := pipe.Exec(ctx); err != nil {
		return Stats{}, fmt.Errorf("failed to read queue stats: %w", err)
	}
	return Stats{
		Ready:      ready.Val(),
		Delayed:    delayed.Val(),
		Processing: processing.Val(),
		Failed:     failed.Val(),
	}, nil
}

// FailedJobs returns up to limit jobs from the failed list, newest first.
func (q *RedisQueue) FailedJobs(ctx context.Context, limit int64) ([]Job, error) {
	if limit <= 0 {
		limit = 100
	}
	payloads, err := q.client.LRange(ctx, keyFailed, 0, limit-1).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to list failed jobs: %w", err)
	}

	jobs := make([]Job, 0, len(payloads))
	for _, p := range payloads {
		var job Job
		if err := json.Unmarshal([]byte(p), &job); err != nil {
			continue
		}
		jobs = append(jobs, job)
	}
	return jobs, nil
}

// RetryFailedJob moves a specific failed job back onto the ready list.
func (q *RedisQueue) RetryFailedJob(ctx context.Context, job Job) error {
	payload, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("failed to marshal job: %w", err)
	}

	removed, err := q.client.LRem(ctx, keyFailed, 1, payload).Result()
	if err != nil {
		return fmt.Errorf("failed to remove job from failed list: %w", err)
	}
	if removed == 0 {
		return fmt.Errorf("job for trade %d not found on failed list", job.TradeID)
	}
	return q.client.LPush(ctx, keyReady, payload).Err()
}

// RetryAllFailed drains the failed list back onto the ready list and
// returns the number of jobs re-driven.
func (q *RedisQueue) RetryAllFailed(ctx context.Context) (int64, error) {
	var moved int64
	for {
		err := q.client.LMove(ctx, keyFailed, keyReady, "RIGHT", "LEFT").Err()
		if errors.Is(err, redis.Nil) {
			return moved, nil
		}
		if err != nil {
			return moved, fmt.Errorf("failed to re-drive failed jobs: %w", err)
		}
		moved++
	}
}

// PurgeFailed deletes all parked jobs and returns how many were dropped.
func (q *RedisQueue) PurgeFailed(ctx context.Context) (int64, error) {
	count, err := q.client.LLen(ctx, keyFailed).Result()
	if err != nil {
		return 0, fmt.Errorf("failed to read failed list length: %w", err)
	}
	if err := q.client.Del(ctx, keyFailed).Err(); err != nil {
		return 0, fmt.Errorf("failed to purge failed list: %w", err)
	}
	return count, nil
}
