package lock

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"
)

// releaseScript deletes the key only when it still holds the caller's
// value, so a lock that expired and was re-acquired by another attempt is
// never deleted by the stale holder.
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// RedisLocker implements Locker on top of a Redis key space.
type RedisLocker struct {
	client redis.UniversalClient
}

var _ Locker = (*RedisLocker)(nil)

// NewRedisLocker creates a Locker backed by the given Redis client.
func NewRedisLocker(client redis.UniversalClient) *RedisLocker {
	return &RedisLocker{client: client}
}

// Acquire performs SET key value NX PX ttl.
func (l *RedisLocker) Acquire(ctx context.Context, key, value string, ttl time.Duration) (bool, error) {
	return l.client.SetNX(ctx, key, value, ttl).Result()
}

// Release runs the compare-and-delete script.
func (l *RedisLocker) Release(ctx context.Context, key, value string) error {
	return releaseScript.Run(ctx, l.client, []string{key}, value).Err()
}
