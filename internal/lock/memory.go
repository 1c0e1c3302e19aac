package lock

import (
	"context"
	"sync"
	"time"
)

type memoryEntry struct {
	value     string
	expiresAt time.Time
}

// MemoryLocker is an in-process Locker with the same conditional semantics
// as the Redis implementation. It backs tests and dry-run mode; it provides
// no cross-process exclusion.
type MemoryLocker struct {
	mu      sync.Mutex
	entries map[string]memoryEntry
	now     func() time.Time
}

var _ Locker = (*MemoryLocker)(nil)

// NewMemoryLocker creates an empty in-memory locker.
func NewMemoryLocker() *MemoryLocker {
	return &MemoryLocker{
		entries: make(map[string]memoryEntry),
		now:     time.Now,
	}
}

// Acquire sets key to value with the TTL if the key is absent or expired.
func (l *MemoryLocker) Acquire(_ context.Context, key, value string, ttl time.Duration) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if e, ok := l.entries[key]; ok && l.now().Before(e.expiresAt) {
		return false, nil
	}
	l.entries[key] = memoryEntry{value: value, expiresAt: l.now().Add(ttl)}
	return true, nil
}

// Release deletes key only if it still holds value.
func (l *MemoryLocker) Release(_ context.Context, key, value string) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if e, ok := l.entries[key]; ok && e.value == value {
		delete(l.entries, key)
	}
	return nil
}
