// Package cache provides read-through caching helpers backed by Redis.
package cache

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// ErrCacheMiss indicates the requested key is absent.
var ErrCacheMiss = errors.New("cache: miss")

const scanBatchSize = 128

// Store reads and writes serialized entries with a TTL and supports
// pattern-based invalidation after writes.
type Store interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	Invalidate(ctx context.Context, patterns ...string) error
	Ping(ctx context.Context) error
}

type redisStore struct {
	client redis.UniversalClient
}

// NewRedisStore wraps a Redis client as a Store.
func NewRedisStore(client redis.UniversalClient) (Store, error) {
	if client == nil {
		return nil, errors.New("cache: redis client is required")
	}
	return &redisStore{client: client}, nil
}

func (s *redisStore) Get(ctx context.Context, key string) ([]byte, error) {
	value, err := s.client.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrCacheMiss
	}
	if err != nil {
		return nil, fmt.Errorf("cache: get %q: %w", key, err)
	}
	return value, nil
}

func (s *redisStore) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	if err := s.client.Set(ctx, key, value, ttl).Err(); err != nil {
		return fmt.Errorf("cache: set %q: %w", key, err)
	}
	return nil
}

// Invalidate removes all keys matching the given glob patterns. SCAN keeps
// the operation incremental so large keyspaces do not block the server.
func (s *redisStore) Invalidate(ctx context.Context, patterns ...string) error {
	for _, pattern := range patterns {
		if pattern == "" {
			continue
		}
		iter := s.client.Scan(ctx, 0, pattern, scanBatchSize).Iterator()
		batch := make([]string, 0, scanBatchSize)
		for iter.Next(ctx) {
			batch = append(batch, iter.Val())
			if len(batch) >= scanBatchSize {
				if err := s.client.Del(ctx, batch...).Err(); err != nil {
					return fmt.Errorf("cache: invalidate %q: %w", pattern, err)
				}
				batch = batch[:0]
			}
		}
		if err := iter.Err(); err != nil {
			return fmt.Errorf("cache: scan %q: %w", pattern, err)
		}
		if len(batch) > 0 {
			if err := s.client.Del(ctx, batch...).Err(); err != nil {
				return fmt.Errorf("cache: invalidate %q: %w", pattern, err)
			}
		}
	}
	return nil
}

func (s *redisStore) Ping(ctx context.Context) error {
	if err := s.client.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("cache: ping: %w", err)
	}
	return nil
}

type noopStore struct{}

// NewNoopStore returns a Store that caches nothing. Used when Redis is
// disabled so callers never need a nil check.
func NewNoopStore() Store { return noopStore{} }

func (noopStore) Get(context.Context, string) ([]byte, error) { return nil, ErrCacheMiss }

func (noopStore) Set(context.Context, string, []byte, time.Duration) error { return nil }

func (noopStore) Invalidate(context.Context, ...string) error { return nil }

func (noopStore) Ping(context.Context) error { return nil }
