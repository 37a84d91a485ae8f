package lock

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// =============================================================================
// REDIS LOCKER - Cross-process lease
// =============================================================================

// releaseScript deletes the key only if it still holds our token, so an
// expired lease taken over by another replica is never released by us.
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// RedisLocker holds per-loan leases in Redis. The lease TTL bounds how long
// a crashed holder can block a loan; it must exceed the longest single-loan
// operation.
type RedisLocker struct {
	Client       redis.UniversalClient
	Prefix       string
	TTL          time.Duration
	PollInterval time.Duration
}

func NewRedisLocker(client redis.UniversalClient) *RedisLocker {
	return &RedisLocker{
		Client:       client,
		Prefix:       "loan-engine:lock:",
		TTL:          30 * time.Second,
		PollInterval: 25 * time.Millisecond,
	}
}

// Lock polls SET NX until it wins or ctx ends.
func (r *RedisLocker) Lock(ctx context.Context, key string) (Unlock, error) {
	redisKey := r.Prefix + key
	token := uuid.NewString()

	ticker := time.NewTicker(r.PollInterval)
	defer ticker.Stop()

	for {
		ok, err := r.Client.SetNX(ctx, redisKey, token, r.TTL).Result()
		if err != nil && !errors.Is(err, context.Canceled) && !errors.Is(err, context.DeadlineExceeded) {
			return nil, fmt.Errorf("failed to acquire lock %s: %w", key, err)
		}
		if ok {
			return func() {
				// Release with a fresh context: the caller's may already be done.
				releaseCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
				defer cancel()
				releaseScript.Run(releaseCtx, r.Client, []string{redisKey}, token)
			}, nil
		}

		select {
		case <-ctx.Done():
			return nil, errors.Join(ErrLockTimeout, ctx.Err())
		case <-ticker.C:
		}
	}
}
