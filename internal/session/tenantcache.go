package session

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"time"
)

// TenantSourceCache[T] caches materialized per-tenant tool-source
// instances (e.g. a synthesized httptools/openapitools config for a
// TenantLocal source) keyed by (tenantID, sourceID), invalidated wholesale
// by control-plane writes to that tenant. Generic over the materialized
// value's concrete type so each TenantLocal kind (declarative HTTP,
// OpenAPI-derived, ...) gets its own typed cache instance rather than
// sharing one cache of `any`.
type TenantSourceCache[T any] struct {
	cache  *TTLCache
	ttl    time.Duration
	logger *slog.Logger

	mu          sync.Mutex
	tenantIndex map[string]map[string]struct{} // tenantId -> sourceIds
}

// NewTenantSourceCache returns a tenant tool-source cache with the given
// entry TTL.
func NewTenantSourceCache[T any](cache *TTLCache, ttl time.Duration, logger *slog.Logger) *TenantSourceCache[T] {
	if logger == nil {
		logger = slog.Default()
	}
	return &TenantSourceCache[T]{
		cache:       cache,
		ttl:         ttl,
		logger:      logger,
		tenantIndex: map[string]map[string]struct{}{},
	}
}

// Get returns the materialized source instance for (tenantID, sourceID).
func (c *TenantSourceCache[T]) Get(tenantID, sourceID string) (T, bool) {
	var zero T
	raw, ok, err := c.cache.Get(context.Background(), tenantSourceKey(tenantID, sourceID))
	if err != nil {
		c.logger.Warn("tenant tool-source cache read failed", "error", err)
		return zero, false
	}
	if !ok {
		return zero, false
	}
	var value T
	if err := json.Unmarshal(raw, &value); err != nil {
		c.logger.Warn("tenant tool-source cache entry corrupt", "error", err)
		return zero, false
	}
	return value, true
}

// Put caches the materialized source instance for (tenantID, sourceID).
func (c *TenantSourceCache[T]) Put(tenantID, sourceID string, value T) {
	raw, err := json.Marshal(value)
	if err != nil {
		c.logger.Warn("tenant tool-source cache encode failed", "error", err)
		return
	}
	if err := c.cache.Set(context.Background(), tenantSourceKey(tenantID, sourceID), raw, c.ttl); err != nil {
		c.logger.Warn("tenant tool-source cache write failed", "error", err)
		return
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	sources, ok := c.tenantIndex[tenantID]
	if !ok {
		sources = map[string]struct{}{}
		c.tenantIndex[tenantID] = sources
	}
	sources[sourceID] = struct{}{}
}

// Invalidate drops the cached instance for one (tenantID, sourceID) pair.
func (c *TenantSourceCache[T]) Invalidate(tenantID, sourceID string) {
	if err := c.cache.Delete(context.Background(), tenantSourceKey(tenantID, sourceID)); err != nil {
		c.logger.Warn("tenant tool-source cache delete failed", "error", err)
	}
	c.mu.Lock()
	delete(c.tenantIndex[tenantID], sourceID)
	c.mu.Unlock()
}

// InvalidateTenant drops every cached source instance for tenantID. Used
// when a control-plane write changes a tenant's source list wholesale.
func (c *TenantSourceCache[T]) InvalidateTenant(tenantID string) {
	c.mu.Lock()
	sources := c.tenantIndex[tenantID]
	delete(c.tenantIndex, tenantID)
	c.mu.Unlock()

	for sourceID := range sources {
		if err := c.cache.Delete(context.Background(), tenantSourceKey(tenantID, sourceID)); err != nil {
			c.logger.Warn("tenant tool-source cache delete failed", "error", err)
		}
	}
}

func tenantSourceKey(tenantID, sourceID string) string {
	return "tenant-source:" + tenantID + ":" + sourceID
}
