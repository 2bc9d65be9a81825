package idempotency

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	redisKeyPrefix       = "idem:"
	redisReserveAttempts = 3
)

type redisClient interface {
	SetNX(ctx context.Context, key string, value interface{}, expiration time.Duration) *redis.BoolCmd
	Get(ctx context.Context, key string) *redis.StringCmd
	Set(ctx context.Context, key string, value interface{}, expiration time.Duration) *redis.StatusCmd
	Del(ctx context.Context, keys ...string) *redis.IntCmd
}

// RedisStore shares reservations across instances. Records are JSON values that expire with
// the configured TTL.
type RedisStore struct {
	client redisClient
}

// NewRedisStore wraps a go-redis client.
func NewRedisStore(client redisClient) (*RedisStore, error) {
	if client == nil {
		return nil, errors.New("idempotency: redis client is required")
	}
	return &RedisStore{client: client}, nil
}

// Reserve implements Store with SET NX.
func (s *RedisStore) Reserve(ctx context.Context, key, fingerprint string, now time.Time, ttl time.Duration) (Record, bool, error) {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	id := redisKeyPrefix + hashKey(key)
	pending := Record{Fingerprint: fingerprint, State: StatePending, ExpiresAt: now.Add(ttl)}
	payload, err := json.Marshal(pending)
	if err != nil {
		return Record{}, false, err
	}

	for attempt := 0; attempt < redisReserveAttempts; attempt++ {
		created, err := s.client.SetNX(ctx, id, payload, ttl).Result()
		if err != nil {
			return Record{}, false, fmt.Errorf("idempotency: reserve: %w", err)
		}
		if created {
			return pending, true, nil
		}

		raw, err := s.client.Get(ctx, id).Bytes()
		if errors.Is(err, redis.Nil) {
			// expired between SETNX and GET
			continue
		}
		if err != nil {
			return Record{}, false, fmt.Errorf("idempotency: load: %w", err)
		}
		var existing Record
		if err := json.Unmarshal(raw, &existing); err != nil {
			return Record{}, false, fmt.Errorf("idempotency: decode: %w", err)
		}
		if existing.Fingerprint != fingerprint {
			return Record{}, false, ErrFingerprintMismatch
		}
		return existing, false, nil
	}
	return Record{}, false, errors.New("idempotency: reserve: key kept expiring")
}

// Complete implements Store.
func (s *RedisStore) Complete(ctx context.Context, key string, record Record, ttl time.Duration) error {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	payload, err := json.Marshal(record)
	if err != nil {
		return err
	}
	if err := s.client.Set(ctx, redisKeyPrefix+hashKey(key), payload, ttl).Err(); err != nil {
		return fmt.Errorf("idempotency: complete: %w", err)
	}
	return nil
}

// Release implements Store.
func (s *RedisStore) Release(ctx context.Context, key string) error {
	if err := s.client.Del(ctx, redisKeyPrefix+hashKey(key)).Err(); err != nil {
		return fmt.Errorf("idempotency: release: %w", err)
	}
	return nil
}
