package session

import (
	"context"
	"sync"
	"time"

	redis "github.com/redis/go-redis/v9"
)

// TTLCache stores opaque byte blobs under a string key with expiry,
// backed by Redis when configured and an in-memory map otherwise — the
// same dual-backend shape as Cache, generalized to carry arbitrary
// serialized values instead of a session-id-to-upstream-session hash.
type TTLCache struct {
	mu        sync.Mutex
	inmemory  map[string]ttlEntry
	extClient *redis.Client
}

type ttlEntry struct {
	value     []byte
	expiresAt time.Time
}

// NewTTLCache returns a Redis-backed cache when connectionString is
// non-empty, otherwise an in-memory one.
func NewTTLCache(ctx context.Context, connectionString string) (*TTLCache, error) {
	c := &TTLCache{}
	if connectionString == "" {
		c.inmemory = map[string]ttlEntry{}
		return c, nil
	}
	opt, err := redis.ParseURL(connectionString)
	if err != nil {
		return nil, err
	}
	c.extClient = redis.NewClient(opt)
	return c, c.extClient.Ping(ctx).Err()
}

// Set stores value under key with the given TTL.
func (c *TTLCache) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	if c.extClient != nil {
		return c.extClient.Set(ctx, key, value, ttl).Err()
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.inmemory[key] = ttlEntry{value: value, expiresAt: time.Now().Add(ttl)}
	return nil
}

// Get returns the stored value for key, or ok=false if absent or expired.
func (c *TTLCache) Get(ctx context.Context, key string) ([]byte, bool, error) {
	if c.extClient != nil {
		val, err := c.extClient.Get(ctx, key).Bytes()
		if err == redis.Nil {
			return nil, false, nil
		}
		if err != nil {
			return nil, false, err
		}
		return val, true, nil
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	entry, ok := c.inmemory[key]
	if !ok {
		return nil, false, nil
	}
	if time.Now().After(entry.expiresAt) {
		delete(c.inmemory, key)
		return nil, false, nil
	}
	return entry.value, true, nil
}

// Delete removes key, if present.
func (c *TTLCache) Delete(ctx context.Context, key string) error {
	if c.extClient != nil {
		return c.extClient.Del(ctx, key).Err()
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.inmemory, key)
	return nil
}

// DeleteMatching removes every key for which match returns true. Used for
// tag-based invalidation (e.g. every tools-surface entry for a profile).
// The in-memory path scans directly; the Redis path is expected to be
// driven by a caller-maintained secondary index instead, since Redis has
// no cheap full-keyspace scan in a shared cluster — callers that need
// tag invalidation against Redis should key entries so a targeted DEL
// (or a small SCAN with a key prefix) suffices rather than relying on
// this method there.
func (c *TTLCache) DeleteMatching(ctx context.Context, match func(key string) bool) error {
	if c.extClient != nil {
		return nil
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	for k := range c.inmemory {
		if match(k) {
			delete(c.inmemory, k)
		}
	}
	return nil
}

// Close closes the underlying Redis connection, if any.
func (c *TTLCache) Close() error {
	if c.extClient != nil {
		return c.extClient.Close()
	}
	return nil
}
