package pipeline

import (
	"context"
	"errors"
	"testing"
	"time"

	"trade-pipeline-go/internal/models"
	"trade-pipeline-go/internal/queue"
	"trade-pipeline-go/internal/store"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func (e *testEnv) retryController() *RetryController {
	return NewRetryController(e.store, e.queue, e.cfg, zap.NewNop())
}

// createRejected creates a trade parked in REJECTED with the given retry
// count.
func createRejected(t *testing.T, env *testEnv, retryCount int) *models.Trade {
	trade := createPending(t, env)
	require.NoError(t, env.db.Model(trade).Updates(map[string]any{
		"status":         models.StatusRejected,
		"retry_count":    retryCount,
		"failure_reason": "Insufficient balance",
	}).Error)
	// Free the dedupe window for subsequent createRejected calls.
	require.NoError(t, env.db.Model(trade).Update("created_at", time.Now().Add(-time.Minute)).Error)

	loaded, err := env.store.Get(context.Background(), trade.ID)
	require.NoError(t, err)
	return loaded
}

func TestRetry_ExactBackoffDelays(t *testing.T) {
	env := setupEnv(t)
	rc := env.retryController()
	ctx := context.Background()

	trade := createRejected(t, env, 0)

	expected := []time.Duration{time.Second, 2 * time.Second, 4 * time.Second}
	for attempt, want := range expected {
		delay, err := rc.Retry(ctx, trade.ID)
		assert.NoError(t, err)
		assert.Equal(t, want, delay, "attempt %d", attempt+1)

		loaded, _ := env.store.Get(ctx, trade.ID)
		assert.Equal(t, models.StatusPending, loaded.Status)
		assert.Equal(t, attempt+1, loaded.RetryCount)
		assert.Empty(t, loaded.FailureReason)

		// Park it again for the next attempt.
		assert.NoError(t, env.db.Model(&models.Trade{}).Where("id = ?", trade.ID).Updates(map[string]any{
			"status":         models.StatusRejected,
			"failure_reason": "Insufficient balance",
		}).Error)
	}

	// Fourth call: the cap is reached.
	_, err := rc.Retry(ctx, trade.ID)
	assert.True(t, errors.Is(err, ErrMaxRetriesExceeded))

	loaded, _ := env.store.Get(ctx, trade.ID)
	assert.Equal(t, models.StatusRejected, loaded.Status)
	assert.Equal(t, 3, loaded.RetryCount)
}

func TestRetry_EnqueuesWithDelay(t *testing.T) {
	env := setupEnv(t)
	rc := env.retryController()
	ctx := context.Background()

	trade := createRejected(t, env, 1)

	delay, err := rc.Retry(ctx, trade.ID)
	assert.NoError(t, err)
	assert.Equal(t, 2*time.Second, delay)

	stats, err := env.queue.Stats(ctx)
	assert.NoError(t, err)
	assert.Equal(t, int64(1), stats.Delayed, "retry must not be eligible before its backoff elapses")
}

func TestRetry_ErrorKinds(t *testing.T) {
	env := setupEnv(t)
	rc := env.retryController()
	ctx := context.Background()

	t.Run("NotRejected", func(t *testing.T) {
		trade := createPending(t, env)
		_, err := rc.Retry(ctx, trade.ID)
		assert.True(t, errors.Is(err, ErrNotRejected))
		// Free the dedupe window for the following subtests.
		require.NoError(t, env.db.Model(trade).Update("created_at", time.Now().Add(-time.Minute)).Error)
	})

	t.Run("AtCap", func(t *testing.T) {
		trade := createRejected(t, env, 3)
		_, err := rc.Retry(ctx, trade.ID)
		assert.True(t, errors.Is(err, ErrMaxRetriesExceeded))
	})

	t.Run("Unknown", func(t *testing.T) {
		_, err := rc.Retry(ctx, 9999)
		assert.True(t, errors.Is(err, store.ErrNotFound))
	})
}

func TestRetryCountNeverExceedsCap(t *testing.T) {
	env := setupEnv(t)
	rc := env.retryController()
	mockBroker := new(MockBroker)
	w := env.worker(mockBroker)
	ctx := context.Background()

	// The last permitted retry moves the counter to the cap.
	trade := createRejected(t, env, 2)
	_, err := rc.Retry(ctx, trade.ID)
	assert.NoError(t, err)

	loaded, _ := env.store.Get(ctx, trade.ID)
	assert.Equal(t, models.StatusPending, loaded.Status)
	assert.Equal(t, 3, loaded.RetryCount)

	// The retried attempt then hits an infrastructure failure, which is
	// also counted. The counter must clamp at the cap instead of passing it.
	mockBroker.On("PlaceOrder", mock.Anything).
		Return(nil, errors.New("connection refused: brokerage unavailable"))
	assert.NoError(t, w.Process(ctx, queue.Job{TradeID: trade.ID}))

	loaded, _ = env.store.Get(ctx, trade.ID)
	assert.Equal(t, models.StatusRejected, loaded.Status)
	assert.Equal(t, 3, loaded.RetryCount)

	// And the exhausted trade cannot be retried again.
	_, err = rc.Retry(ctx, trade.ID)
	assert.True(t, errors.Is(err, ErrMaxRetriesExceeded))
}

func TestRetryAllFailed(t *testing.T) {
	env := setupEnv(t)
	rc := env.retryController()
	ctx := context.Background()

	eligible1 := createRejected(t, env, 0)
	eligible2 := createRejected(t, env, 2)
	capped := createRejected(t, env, 3)

	// Another user's rejected trade must be untouched.
	otherUser := createRejected(t, env, 0)
	assert.NoError(t, env.db.Model(&models.Trade{}).Where("id = ?", otherUser.ID).
		Update("user_id", 2).Error)

	result, err := rc.RetryAllFailed(ctx, 1)
	assert.NoError(t, err)
	assert.Equal(t, 2, result.Retried)
	assert.Equal(t, 0, result.Skipped)

	for _, id := range []uint{eligible1.ID, eligible2.ID} {
		loaded, _ := env.store.Get(ctx, id)
		assert.Equal(t, models.StatusPending, loaded.Status)
	}

	loaded, _ := env.store.Get(ctx, capped.ID)
	assert.Equal(t, models.StatusRejected, loaded.Status)
	assert.Equal(t, 3, loaded.RetryCount)

	loaded, _ = env.store.Get(ctx, otherUser.ID)
	assert.Equal(t, models.StatusRejected, loaded.Status)

	// Both retries live on the delayed queue.
	stats, _ := env.queue.Stats(ctx)
	assert.Equal(t, int64(2), stats.Delayed)
}
