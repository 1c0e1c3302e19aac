// Package lock provides the distributed mutual exclusion primitive used by
// the duplicate guard. A lock is a key in an external store holding a value
// unique to the acquiring attempt; release is conditional on that value so
// an expired lock re-acquired by someone else is never stolen.
package lock

import (
	"context"
	"time"
)

// Locker is the set-if-absent-with-expiry / compare-and-delete contract.
type Locker interface {
	// Acquire atomically sets key to value with the given TTL if the key
	// is absent. It returns true if the lock was obtained.
	Acquire(ctx context.Context, key, value string, ttl time.Duration) (bool, error)

	// Release deletes key only if it still holds value. Releasing with a
	// stale value is a no-op.
	Release(ctx context.Context, key, value string) error
}
