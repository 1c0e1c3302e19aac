package lock

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestMemoryLocker_MutualExclusion(t *testing.T) {
	l := NewMemoryLocker()
	ctx := context.Background()

	ok, err := l.Acquire(ctx, "k", "a", time.Minute)
	assert.NoError(t, err)
	assert.True(t, ok)

	ok, err = l.Acquire(ctx, "k", "b", time.Minute)
	assert.NoError(t, err)
	assert.False(t, ok)

	assert.NoError(t, l.Release(ctx, "k", "a"))

	ok, err = l.Acquire(ctx, "k", "b", time.Minute)
	assert.NoError(t, err)
	assert.True(t, ok)
}

func TestMemoryLocker_StaleReleaseIsNoOp(t *testing.T) {
	l := NewMemoryLocker()
	ctx := context.Background()

	now := time.Now()
	l.now = func() time.Time { return now }

	// A acquires with a short TTL, then its lock expires.
	ok, _ := l.Acquire(ctx, "k", "a", 10*time.Millisecond)
	assert.True(t, ok)
	now = now.Add(20 * time.Millisecond)

	// B re-acquires the expired key.
	ok, _ = l.Acquire(ctx, "k", "b", time.Minute)
	assert.True(t, ok)

	// A's late release must not steal B's lock.
	assert.NoError(t, l.Release(ctx, "k", "a"))
	ok, _ = l.Acquire(ctx, "k", "c", time.Minute)
	assert.False(t, ok)

	// B's own release works.
	assert.NoError(t, l.Release(ctx, "k", "b"))
	ok, _ = l.Acquire(ctx, "k", "c", time.Minute)
	assert.True(t, ok)
}

func TestMemoryLocker_ConcurrentAcquire(t *testing.T) {
	l := NewMemoryLocker()
	ctx := context.Background()

	const attempts = 32
	var wg sync.WaitGroup
	acquired := make(chan string, attempts)

	for i := 0; i < attempts; i++ {
		wg.Add(1)
		go func(value string) {
			defer wg.Done()
			ok, err := l.Acquire(ctx, "k", value, time.Minute)
			assert.NoError(t, err)
			if ok {
				acquired <- value
			}
		}(fmt.Sprintf("holder-%d", i))
	}
	wg.Wait()
	close(acquired)

	// Exactly one winner.
	assert.Len(t, acquired, 1)
}

func TestMemoryLocker_DifferentKeysDoNotContend(t *testing.T) {
	l := NewMemoryLocker()
	ctx := context.Background()

	ok, _ := l.Acquire(ctx, "k1", "a", time.Minute)
	assert.True(t, ok)
	ok, _ = l.Acquire(ctx, "k2", "b", time.Minute)
	assert.True(t, ok)
}
