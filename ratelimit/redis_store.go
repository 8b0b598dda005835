package ratelimit

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const redisKeyPrefix = "rl:"

// RedisStore shares records between instances. Keys expire through Redis TTLs
// so Sweep has nothing to do.
type RedisStore struct {
	redis redis.UniversalClient
}

func NewRedisStore(client redis.UniversalClient) *RedisStore {
	return &RedisStore{redis: client}
}

func (s *RedisStore) Get(ctx context.Context, key string) (*Record, error) {
	raw, err := s.redis.Get(ctx, redisKeyPrefix+key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}

	var rec Record
	if err := json.Unmarshal(raw, &rec); err != nil {
		// A corrupt entry is treated as absent and overwritten on the next Set.
		return nil, nil
	}
	return &rec, nil
}

func (s *RedisStore) Set(ctx context.Context, key string, rec Record) error {
	raw, err := json.Marshal(rec)
	if err != nil {
		return err
	}

	expiry := rec.ResetTime
	if rec.BlockedUntil.After(expiry) {
		expiry = rec.BlockedUntil
	}
	ttl := time.Until(expiry)
	if ttl < time.Second {
		ttl = time.Second
	}

	if err := s.redis.Set(ctx, redisKeyPrefix+key, raw, ttl).Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	return nil
}

func (s *RedisStore) Delete(ctx context.Context, key string) error {
	if err := s.redis.Del(ctx, redisKeyPrefix+key).Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	return nil
}

func (s *RedisStore) Sweep(context.Context, time.Time) error {
	return nil
}
