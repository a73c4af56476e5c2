// Package abuse implements the protective controls in front of
// credential-verification endpoints: fixed-window rate limiting and
// progressive lockout. Counters are best-effort protection, not a source of
// authorization truth; when the store is unreachable the callers fail
// closed with a reason distinct from an actual limit hit.
package abuse

import (
	"context"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"
)

// ErrNoRecord signals an absent key.
var ErrNoRecord = errors.New("abuse: no record")

// Store is the counter/state backend shared by RateLimiter and
// LockoutTracker. Incr must return the post-increment count in a single
// atomic step; a separate read-then-increment is not acceptable.
type Store interface {
	// Incr increments the counter at key, starting a fresh window of the
	// given length when none exists, and returns the post-increment count
	// with the window's remaining time.
	Incr(ctx context.Context, key string, window time.Duration) (int64, time.Duration, error)
	Get(ctx context.Context, key string) ([]byte, error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	Delete(ctx context.Context, key string) error
}

// RedisStore implements Store on redis.
type RedisStore struct {
	client *redis.Client
}

// NewRedisStore wraps the given client.
func NewRedisStore(client *redis.Client) *RedisStore {
	return &RedisStore{client: client}
}

// Incr runs INCR, EXPIRE NX and TTL in one pipeline. INCR is atomic on the
// server, so two concurrent callers can never both observe the
// pre-increment count; EXPIRE NX pins the window start to the first event.
func (s *RedisStore) Incr(ctx context.Context, key string, window time.Duration) (int64, time.Duration, error) {
	pipe := s.client.TxPipeline()
	incr := pipe.Incr(ctx, key)
	pipe.ExpireNX(ctx, key, window)
	ttl := pipe.TTL(ctx, key)
	if _, err := pipe.Exec(ctx); err != nil {
		return 0, 0, err
	}
	remaining := ttl.Val()
	if remaining < 0 {
		remaining = window
	}
	return incr.Val(), remaining, nil
}

// Get loads the raw value at key.
func (s *RedisStore) Get(ctx context.Context, key string) ([]byte, error) {
	payload, err := s.client.Get(ctx, key).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, ErrNoRecord
		}
		return nil, err
	}
	return payload, nil
}

// Set stores value at key with ttl.
func (s *RedisStore) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	return s.client.Set(ctx, key, value, ttl).Err()
}

// Delete removes key.
func (s *RedisStore) Delete(ctx context.Context, key string) error {
	return s.client.Del(ctx, key).Err()
}
