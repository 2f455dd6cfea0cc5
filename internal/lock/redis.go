// Package lock provides a named, leased mutual-exclusion primitive backed by
// Redis. Locks are scoped by business key and must be effective across
// processes, so an in-process mutex is not a valid implementation.
package lock

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// ErrTimeout is returned when the wait window elapses before acquisition.
// The lock was never held, so the caller has mutated nothing.
var ErrTimeout = errors.New("lock wait timeout")

// releaseScript deletes the lock only if this holder's token is still
// present. A holder whose lease expired must not delete a successor's lock.
var releaseScript = redis.NewScript(`
if redis.call("get", KEYS[1]) == ARGV[1] then
	return redis.call("del", KEYS[1])
end
return 0
`)

// Redis implements the keyed lock on a Redis client. The lease is enforced
// server-side via key expiry; a crashed holder cannot wedge the key.
type Redis struct {
	client *redis.Client
	prefix string
	retry  time.Duration
}

// NewRedis connects to Redis using a URL and verifies the connection.
func NewRedis(redisURL string) (*Redis, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}

	client := redis.NewClient(opts)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("connect to redis: %w", err)
	}

	return NewRedisWithClient(client), nil
}

// NewRedisWithClient creates a lock manager from an existing Redis client.
func NewRedisWithClient(client *redis.Client) *Redis {
	return &Redis{
		client: client,
		prefix: "lock:",
		retry:  50 * time.Millisecond,
	}
}

func (l *Redis) key(name string) string {
	return l.prefix + name
}

// WithLock acquires the named lock, runs fn, and releases the lock on every
// exit path. Acquisition blocks up to wait; if the window elapses the call
// fails with ErrTimeout and fn is never run. The lease bounds how long the
// lock survives a holder that never returns.
func (l *Redis) WithLock(ctx context.Context, name string, wait, lease time.Duration, fn func(ctx context.Context) error) error {
	token := uuid.NewString()
	key := l.key(name)
	deadline := time.Now().Add(wait)

	for {
		ok, err := l.client.SetNX(ctx, key, token, lease).Result()
		if err != nil {
			return fmt.Errorf("acquire lock %q: %w", name, err)
		}
		if ok {
			break
		}
		if !time.Now().Before(deadline) {
			return fmt.Errorf("lock %q: %w", name, ErrTimeout)
		}

		timer := time.NewTimer(l.retry)
		select {
		case <-ctx.Done():
			timer.Stop()
			return fmt.Errorf("acquire lock %q: %w", name, ctx.Err())
		case <-timer.C:
		}
	}

	defer func() {
		// Release with a fresh context so the lock is freed even when the
		// caller's context is already cancelled.
		releaseCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_, _ = releaseScript.Run(releaseCtx, l.client, []string{key}, token).Result()
	}()

	return fn(ctx)
}

// Ping checks if Redis is reachable.
func (l *Redis) Ping(ctx context.Context) error {
	return l.client.Ping(ctx).Err()
}

// Close closes the Redis connection.
func (l *Redis) Close() error {
	return l.client.Close()
}
