package lock

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/redis/go-redis/v9"
)

const (
	defaultRedisTTL   = 30 * time.Second
	defaultRetryDelay = 50 * time.Millisecond
	redisKeyPrefix    = "lock:"
)

// releaseScript deletes the key only while it still carries our token.
const releaseScript = `if redis.call("get", KEYS[1]) == ARGV[1] then return redis.call("del", KEYS[1]) else return 0 end`

type redisClient interface {
	SetNX(ctx context.Context, key string, value interface{}, expiration time.Duration) *redis.BoolCmd
	Eval(ctx context.Context, script string, keys []string, args ...interface{}) *redis.Cmd
}

// RedisLocker implements Locker with SET NX PX and a compare-and-delete release. The TTL
// bounds how long a crashed holder can block others.
type RedisLocker struct {
	client     redisClient
	ttl        time.Duration
	retryDelay time.Duration
	onRelease  func(key string, err error)
}

// RedisOption customises RedisLocker.
type RedisOption func(*RedisLocker)

// WithTTL sets the lease duration of each lock.
func WithTTL(ttl time.Duration) RedisOption {
	return func(l *RedisLocker) {
		if ttl > 0 {
			l.ttl = ttl
		}
	}
}

// WithRetryDelay sets the polling interval while waiting for a held lock.
func WithRetryDelay(delay time.Duration) RedisOption {
	return func(l *RedisLocker) {
		if delay > 0 {
			l.retryDelay = delay
		}
	}
}

// WithReleaseHook receives failures of the release script, which are otherwise dropped.
func WithReleaseHook(hook func(key string, err error)) RedisOption {
	return func(l *RedisLocker) {
		l.onRelease = hook
	}
}

// NewRedisLocker constructs a Locker on top of client.
func NewRedisLocker(client redisClient, opts ...RedisOption) (*RedisLocker, error) {
	if client == nil {
		return nil, errors.New("lock: redis client is required")
	}
	locker := &RedisLocker{client: client, ttl: defaultRedisTTL, retryDelay: defaultRetryDelay}
	for _, opt := range opts {
		if opt != nil {
			opt(locker)
		}
	}
	return locker, nil
}

// Acquire polls SET NX until it wins or ctx is done.
func (l *RedisLocker) Acquire(ctx context.Context, key string) (func(), error) {
	redisKey := redisKeyPrefix + key
	token := ulid.Make().String()

	for {
		ok, err := l.client.SetNX(ctx, redisKey, token, l.ttl).Result()
		if err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return nil, errors.Join(ErrNotAcquired, ctxErr)
			}
			return nil, fmt.Errorf("lock: acquire %s: %w", key, err)
		}
		if ok {
			break
		}
		timer := time.NewTimer(l.retryDelay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil, errors.Join(ErrNotAcquired, ctx.Err())
		case <-timer.C:
		}
	}

	var once sync.Once
	return func() {
		once.Do(func() {
			releaseCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
			defer cancel()
			err := l.client.Eval(releaseCtx, releaseScript, []string{redisKey}, token).Err()
			if err != nil && l.onRelease != nil {
				l.onRelease(key, err)
			}
		})
	}, nil
}
