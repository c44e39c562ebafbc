package ledger

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisStore keeps window counters in Redis so the budget survives
// restarts and is shared across replicas.
type RedisStore struct {
	client *redis.Client
	ttl    time.Duration
}

// NewRedisStore creates a store on the given client. ttl bounds how long
// a window counter outlives its window; it only needs to exceed the
// window length.
func NewRedisStore(client *redis.Client, ttl time.Duration) *RedisStore {
	return &RedisStore{client: client, ttl: ttl}
}

// Add adjusts the counter atomically with INCRBYFLOAT and refreshes the
// key's TTL.
func (s *RedisStore) Add(ctx context.Context, key string, delta float64) (float64, error) {
	pipe := s.client.Pipeline()
	incr := pipe.IncrByFloat(ctx, key, delta)
	if s.ttl > 0 {
		pipe.Expire(ctx, key, s.ttl)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return 0, fmt.Errorf("incrbyfloat: %w", err)
	}
	return incr.Val(), nil
}

// Get reads the counter; a missing key reads as zero.
func (s *RedisStore) Get(ctx context.Context, key string) (float64, error) {
	val, err := s.client.Get(ctx, key).Float64()
	if errors.Is(err, redis.Nil) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("get: %w", err)
	}
	return val, nil
}

// Ping reports whether Redis is reachable.
func (s *RedisStore) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}
