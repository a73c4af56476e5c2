package authz

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// Cache stores resolved permission sets. Implementations are best-effort:
// a miss or a store error just forces recomputation.
type Cache interface {
	Get(ctx context.Context, key string) (*EffectivePermissionSet, error)
	Set(ctx context.Context, key string, set *EffectivePermissionSet, ttl time.Duration) error
	Delete(ctx context.Context, key string) error
}

// ErrCacheMiss signals an absent entry.
var ErrCacheMiss = errors.New("authz: cache miss")

// MemoryCache is a process-local cache. Entries are replaced whole so
// readers see either the previous or the new set, never a partial write.
type MemoryCache struct {
	mu      sync.RWMutex
	entries map[string]memoryEntry
}

type memoryEntry struct {
	set       *EffectivePermissionSet
	expiresAt time.Time
}

// NewMemoryCache constructs an empty in-process cache.
func NewMemoryCache() *MemoryCache {
	return &MemoryCache{entries: make(map[string]memoryEntry)}
}

// Get returns the cached set or ErrCacheMiss. An entry found past its ttl
// is removed on the spot.
func (c *MemoryCache) Get(_ context.Context, key string) (*EffectivePermissionSet, error) {
	c.mu.RLock()
	entry, ok := c.entries[key]
	c.mu.RUnlock()
	if !ok {
		return nil, ErrCacheMiss
	}
	if time.Now().After(entry.expiresAt) {
		c.mu.Lock()
		if current, ok := c.entries[key]; ok && current.expiresAt.Equal(entry.expiresAt) {
			delete(c.entries, key)
		}
		c.mu.Unlock()
		return nil, ErrCacheMiss
	}
	return entry.set, nil
}

// Set stores the set under key for ttl. Each write also sweeps entries past
// their ttl, so keys abandoned by version bumps cannot accumulate.
func (c *MemoryCache) Set(_ context.Context, key string, set *EffectivePermissionSet, ttl time.Duration) error {
	now := time.Now()
	c.mu.Lock()
	for k, entry := range c.entries {
		if now.After(entry.expiresAt) {
			delete(c.entries, k)
		}
	}
	c.entries[key] = memoryEntry{set: set, expiresAt: now.Add(ttl)}
	c.mu.Unlock()
	return nil
}

// Delete removes the entry for key.
func (c *MemoryCache) Delete(_ context.Context, key string) error {
	c.mu.Lock()
	delete(c.entries, key)
	c.mu.Unlock()
	return nil
}

// RedisCache stores permission sets as JSON payloads with a TTL, sharing
// staleness bounds across service replicas.
type RedisCache struct {
	client *redis.Client
}

// NewRedisCache wraps the given client.
func NewRedisCache(client *redis.Client) *RedisCache {
	return &RedisCache{client: client}
}

// Get loads and decodes the cached set.
func (c *RedisCache) Get(ctx context.Context, key string) (*EffectivePermissionSet, error) {
	payload, err := c.client.Get(ctx, key).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, ErrCacheMiss
		}
		return nil, err
	}
	var set EffectivePermissionSet
	if err := json.Unmarshal(payload, &set); err != nil {
		return nil, err
	}
	return &set, nil
}

// Set encodes and stores the set with ttl.
func (c *RedisCache) Set(ctx context.Context, key string, set *EffectivePermissionSet, ttl time.Duration) error {
	payload, err := json.Marshal(set)
	if err != nil {
		return err
	}
	return c.client.Set(ctx, key, payload, ttl).Err()
}

// Delete removes the entry for key.
func (c *RedisCache) Delete(ctx context.Context, key string) error {
	return c.client.Del(ctx, key).Err()
}
