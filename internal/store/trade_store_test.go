package store

import (
	"context"
	"testing"
	"time"

	"trade-pipeline-go/internal/models"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
)

// setupStore creates a fresh in-memory database for each test.
func setupStore(t *testing.T) (*TradeStore, *gorm.DB) {
	db, err := gorm.Open(sqlite.Open("file::memory:"), &gorm.Config{})
	assert.NoError(t, err)

	// Pin the pool to one connection so every query sees the same
	// in-memory database.
	sqlDB, err := db.DB()
	assert.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)

	err = db.AutoMigrate(&models.Trade{}, &models.BrokerAccount{}, &models.Instrument{})
	assert.NoError(t, err)

	return NewTradeStore(db), db
}

func newPendingTrade() *models.Trade {
	return &models.Trade{
		UserID:          1,
		BrokerAccountID: 1,
		InstrumentID:    1,
		Symbol:          "AAPL",
		Type:            models.OrderTypeLimit,
		Side:            models.OrderSideBuy,
		Quantity:        10,
		LimitPrice:      decimal.NewNullDecimal(decimal.NewFromInt(70000)),
		Status:          models.StatusPending,
	}
}

func TestMarkSubmitted_OnlyFromPending(t *testing.T) {
	st, _ := setupStore(t)
	ctx := context.Background()

	trade := newPendingTrade()
	assert.NoError(t, st.Create(ctx, trade))

	moved, err := st.MarkSubmitted(ctx, trade.ID, time.Now())
	assert.NoError(t, err)
	assert.True(t, moved)

	loaded, err := st.Get(ctx, trade.ID)
	assert.NoError(t, err)
	assert.Equal(t, models.StatusSubmitted, loaded.Status)
	assert.NotNil(t, loaded.SubmittedAt)

	// A second delivery must not move the trade again.
	moved, err = st.MarkSubmitted(ctx, trade.ID, time.Now())
	assert.NoError(t, err)
	assert.False(t, moved)
}

func TestTerminalStatesAreImmutable(t *testing.T) {
	st, db := setupStore(t)
	ctx := context.Background()

	for _, status := range []models.TradeStatus{models.StatusFilled, models.StatusCancelled, models.StatusExpired} {
		trade := newPendingTrade()
		assert.NoError(t, st.Create(ctx, trade))
		assert.NoError(t, db.Model(trade).Update("status", status).Error)

		moved, err := st.MarkSubmitted(ctx, trade.ID, time.Now())
		assert.NoError(t, err)
		assert.False(t, moved, "MarkSubmitted from %s", status)

		moved, err = st.MarkCancelled(ctx, trade.ID, time.Now())
		assert.NoError(t, err)
		assert.False(t, moved, "MarkCancelled from %s", status)

		moved, err = st.MarkExpired(ctx, trade.ID)
		assert.NoError(t, err)
		assert.False(t, moved, "MarkExpired from %s", status)

		moved, err = st.ResetForRetry(ctx, trade.ID, 3)
		assert.NoError(t, err)
		assert.False(t, moved, "ResetForRetry from %s", status)

		loaded, err := st.Get(ctx, trade.ID)
		assert.NoError(t, err)
		assert.Equal(t, status, loaded.Status)
	}
}

func TestMarkRejected_RetryCounting(t *testing.T) {
	st, db := setupStore(t)
	ctx := context.Background()

	trade := newPendingTrade()
	assert.NoError(t, st.Create(ctx, trade))
	_, err := st.MarkSubmitted(ctx, trade.ID, time.Now())
	assert.NoError(t, err)

	// Business rejection: reason recorded, counter untouched.
	moved, err := st.MarkRejected(ctx, trade.ID, "Insufficient balance", false, 3)
	assert.NoError(t, err)
	assert.True(t, moved)

	loaded, _ := st.Get(ctx, trade.ID)
	assert.Equal(t, models.StatusRejected, loaded.Status)
	assert.Equal(t, "Insufficient balance", loaded.FailureReason)
	assert.Equal(t, 0, loaded.RetryCount)

	// Infrastructure failure on a fresh attempt: counter incremented.
	trade2 := newPendingTrade()
	assert.NoError(t, st.Create(ctx, trade2))
	_, err = st.MarkSubmitted(ctx, trade2.ID, time.Now())
	assert.NoError(t, err)

	moved, err = st.MarkRejected(ctx, trade2.ID, "connection refused", true, 3)
	assert.NoError(t, err)
	assert.True(t, moved)

	loaded, _ = st.Get(ctx, trade2.ID)
	assert.Equal(t, 1, loaded.RetryCount)

	// Counter already at the cap: a further counted failure clamps there.
	trade3 := newPendingTrade()
	assert.NoError(t, st.Create(ctx, trade3))
	assert.NoError(t, db.Model(trade3).Update("retry_count", 3).Error)
	_, err = st.MarkSubmitted(ctx, trade3.ID, time.Now())
	assert.NoError(t, err)

	moved, err = st.MarkRejected(ctx, trade3.ID, "connection refused", true, 3)
	assert.NoError(t, err)
	assert.True(t, moved)

	loaded, _ = st.Get(ctx, trade3.ID)
	assert.Equal(t, 3, loaded.RetryCount)
}

func TestResetForRetry_Cap(t *testing.T) {
	st, db := setupStore(t)
	ctx := context.Background()

	trade := newPendingTrade()
	assert.NoError(t, st.Create(ctx, trade))
	assert.NoError(t, db.Model(trade).Updates(map[string]any{
		"status":         models.StatusRejected,
		"retry_count":    2,
		"failure_reason": "timeout",
	}).Error)

	moved, err := st.ResetForRetry(ctx, trade.ID, 3)
	assert.NoError(t, err)
	assert.True(t, moved)

	loaded, _ := st.Get(ctx, trade.ID)
	assert.Equal(t, models.StatusPending, loaded.Status)
	assert.Equal(t, 3, loaded.RetryCount)
	assert.Empty(t, loaded.FailureReason)

	// Now at the cap: a further reset must not move the row.
	assert.NoError(t, db.Model(trade).Update("status", models.StatusRejected).Error)
	moved, err = st.ResetForRetry(ctx, trade.ID, 3)
	assert.NoError(t, err)
	assert.False(t, moved)
}

func TestFindRecentEquivalent(t *testing.T) {
	st, db := setupStore(t)
	ctx := context.Background()

	trade := newPendingTrade()
	assert.NoError(t, st.Create(ctx, trade))

	// Same tuple inside the window.
	found, err := st.FindRecentEquivalent(ctx, newPendingTrade(), time.Now().Add(-5*time.Second))
	assert.NoError(t, err)
	assert.NotNil(t, found)
	assert.Equal(t, trade.ID, found.ID)

	// Different quantity never conflicts.
	other := newPendingTrade()
	other.Quantity = 99
	found, err = st.FindRecentEquivalent(ctx, other, time.Now().Add(-5*time.Second))
	assert.NoError(t, err)
	assert.Nil(t, found)

	// Outside the window the original no longer blocks.
	assert.NoError(t, db.Model(trade).Update("created_at", time.Now().Add(-time.Minute)).Error)
	found, err = st.FindRecentEquivalent(ctx, newPendingTrade(), time.Now().Add(-5*time.Second))
	assert.NoError(t, err)
	assert.Nil(t, found)
}

func TestExpireOlderThan(t *testing.T) {
	st, db := setupStore(t)
	ctx := context.Background()

	stale := newPendingTrade()
	assert.NoError(t, st.Create(ctx, stale))
	assert.NoError(t, db.Model(stale).Update("created_at", time.Now().Add(-2*time.Hour)).Error)

	fresh := newPendingTrade()
	fresh.Quantity = 5
	assert.NoError(t, st.Create(ctx, fresh))

	filled := newPendingTrade()
	filled.Quantity = 7
	assert.NoError(t, st.Create(ctx, filled))
	assert.NoError(t, db.Model(filled).Updates(map[string]any{
		"status":     models.StatusFilled,
		"created_at": time.Now().Add(-2 * time.Hour),
	}).Error)

	expired, err := st.ExpireOlderThan(ctx, time.Now().Add(-time.Hour))
	assert.NoError(t, err)
	assert.Equal(t, int64(1), expired)

	loaded, _ := st.Get(ctx, stale.ID)
	assert.Equal(t, models.StatusExpired, loaded.Status)

	loaded, _ = st.Get(ctx, fresh.ID)
	assert.Equal(t, models.StatusPending, loaded.Status)

	// Terminal rows are never swept.
	loaded, _ = st.Get(ctx, filled.ID)
	assert.Equal(t, models.StatusFilled, loaded.Status)
}
