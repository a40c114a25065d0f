package sink

import (
	"context"
	"fmt"
	"sync"

	"github.com/redis/go-redis/v9"
)

// DefaultRedisKey is the list records are pushed to when no key is configured.
const DefaultRedisKey = "webtris:reports"

// RedisSink appends records to a Redis list with RPUSH.
// A single RPUSH is atomic on the server, so records never interleave.
// The sink owns the client and closes it on Close.
type RedisSink struct {
	mu     sync.RWMutex
	redis  *redis.Client
	key    string
	closed bool
}

// NewRedisSink creates a sink pushing to key.
func NewRedisSink(redisClient *redis.Client, key string) *RedisSink {
	if redisClient == nil {
		panic("redis client cannot be nil")
	}
	if key == "" {
		key = DefaultRedisKey
	}
	return &RedisSink{
		redis: redisClient,
		key:   key,
	}
}

// Key returns the list key records are pushed to.
func (s *RedisSink) Key() string {
	return s.key
}

// Append pushes the record's payload onto the list.
func (s *RedisSink) Append(ctx context.Context, rec Record) error {
	// Held for the whole push so Close cannot run underneath an in-flight write.
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return ErrClosed
	}

	err := s.redis.RPush(ctx, s.key, rec.Payload).Err()
	observe("redis", rec, err)
	if err != nil {
		return fmt.Errorf("redis rpush: %w", err)
	}
	return nil
}

// Close closes the Redis client.
func (s *RedisSink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil
	}
	s.closed = true

	if err := s.redis.Close(); err != nil {
		return fmt.Errorf("close redis sink: %w", err)
	}
	return nil
}
