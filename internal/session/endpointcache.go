package session

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/kagenti/mcp-gateway/internal/upstream"
)

// EndpointCache caches an upstream's resolved endpoints — (upstreamId ->
// {endpointId -> {url, auth}}) — with TTL, so the router's upstream
// dispatch path doesn't hit the control plane on every call. Invalidated
// wholesale per upstream by admin writes elsewhere in the system (an
// endpoint's URL or auth changing, an upstream being disabled).
type EndpointCache struct {
	cache  *TTLCache
	ttl    time.Duration
	logger *slog.Logger
}

// NewEndpointCache returns an endpoint cache with the given entry TTL.
func NewEndpointCache(cache *TTLCache, ttl time.Duration, logger *slog.Logger) *EndpointCache {
	if logger == nil {
		logger = slog.Default()
	}
	return &EndpointCache{cache: cache, ttl: ttl, logger: logger}
}

// Get returns the cached endpoint set for upstreamID, if present.
func (c *EndpointCache) Get(upstreamID string) ([]upstream.Endpoint, bool) {
	raw, ok, err := c.cache.Get(context.Background(), endpointKey(upstreamID))
	if err != nil {
		c.logger.Warn("endpoint cache read failed", "error", err)
		return nil, false
	}
	if !ok {
		return nil, false
	}
	var endpoints []upstream.Endpoint
	if err := json.Unmarshal(raw, &endpoints); err != nil {
		c.logger.Warn("endpoint cache entry corrupt", "error", err)
		return nil, false
	}
	return endpoints, true
}

// Put caches endpoints for upstreamID.
func (c *EndpointCache) Put(upstreamID string, endpoints []upstream.Endpoint) {
	raw, err := json.Marshal(endpoints)
	if err != nil {
		c.logger.Warn("endpoint cache encode failed", "error", err)
		return
	}
	if err := c.cache.Set(context.Background(), endpointKey(upstreamID), raw, c.ttl); err != nil {
		c.logger.Warn("endpoint cache write failed", "error", err)
	}
}

// InvalidateUpstream drops the cached endpoint set for upstreamID, forcing
// the next lookup to rebuild it from the control plane.
func (c *EndpointCache) InvalidateUpstream(upstreamID string) {
	if err := c.cache.Delete(context.Background(), endpointKey(upstreamID)); err != nil {
		c.logger.Warn("endpoint cache delete failed", "error", err)
	}
}

func endpointKey(upstreamID string) string {
	return "endpoint:" + upstreamID
}
