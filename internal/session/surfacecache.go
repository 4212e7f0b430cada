package session

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"github.com/kagenti/mcp-gateway/internal/router"
)

// storedSurface is what actually sits behind a tools-surface cache entry:
// the profile it was built for (so invalidateProfile can find it) plus
// the router.Surface itself.
type storedSurface struct {
	ProfileID string         `json:"profileId"`
	Surface   router.Surface `json:"surface"`
}

// SurfaceCache is the tools-surface cache: keyed by sessionToken
// with TTL, evicting on Get an entry whose stored fingerprint no longer
// matches the profile's current one, and supporting bulk invalidation of
// every entry tagged with a given profile (driven by the contract-event
// watcher when a profile's allowlist/transforms/sources change).
//
// Implements router.SurfaceCache.
type SurfaceCache struct {
	cache  *TTLCache
	ttl    time.Duration
	logger *slog.Logger

	mu           sync.Mutex
	profileIndex map[string]map[string]struct{} // profileId -> sessionTokens
}

// NewSurfaceCache returns a tools-surface cache with the given entry TTL.
func NewSurfaceCache(cache *TTLCache, ttl time.Duration, logger *slog.Logger) *SurfaceCache {
	if logger == nil {
		logger = slog.Default()
	}
	return &SurfaceCache{
		cache:        cache,
		ttl:          ttl,
		logger:       logger,
		profileIndex: map[string]map[string]struct{}{},
	}
}

// Get returns the cached surface for sessionToken if present and its
// fingerprint still matches fingerprint.
func (c *SurfaceCache) Get(sessionToken, fingerprint string) (router.Surface, bool) {
	raw, ok, err := c.cache.Get(context.Background(), surfaceKey(sessionToken))
	if err != nil {
		c.logger.Warn("tools-surface cache read failed", "error", err)
		return router.Surface{}, false
	}
	if !ok {
		return router.Surface{}, false
	}
	var stored storedSurface
	if err := json.Unmarshal(raw, &stored); err != nil {
		c.logger.Warn("tools-surface cache entry corrupt", "error", err)
		return router.Surface{}, false
	}
	if stored.Surface.Fingerprint != fingerprint {
		c.Invalidate(sessionToken)
		return router.Surface{}, false
	}
	return stored.Surface, true
}

// Put caches surface (stamped with fingerprint) under sessionToken,
// tagged with profileID for later bulk invalidation.
func (c *SurfaceCache) Put(profileID, sessionToken, fingerprint string, surface router.Surface) {
	surface.Fingerprint = fingerprint
	stored := storedSurface{ProfileID: profileID, Surface: surface}
	raw, err := json.Marshal(stored)
	if err != nil {
		c.logger.Warn("tools-surface cache encode failed", "error", err)
		return
	}
	if err := c.cache.Set(context.Background(), surfaceKey(sessionToken), raw, c.ttl); err != nil {
		c.logger.Warn("tools-surface cache write failed", "error", err)
		return
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	tokens, ok := c.profileIndex[profileID]
	if !ok {
		tokens = map[string]struct{}{}
		c.profileIndex[profileID] = tokens
	}
	tokens[sessionToken] = struct{}{}
}

// Invalidate evicts the entry for sessionToken, if any.
func (c *SurfaceCache) Invalidate(sessionToken string) {
	if err := c.cache.Delete(context.Background(), surfaceKey(sessionToken)); err != nil {
		c.logger.Warn("tools-surface cache delete failed", "error", err)
	}
}

// InvalidateProfile drops every cached surface tagged with profileID.
// Used by the contract-event watcher when a profile's enabledTools,
// transforms or source list changes underneath a live session.
func (c *SurfaceCache) InvalidateProfile(profileID string) {
	c.mu.Lock()
	tokens := c.profileIndex[profileID]
	delete(c.profileIndex, profileID)
	c.mu.Unlock()

	for token := range tokens {
		c.Invalidate(token)
	}
}

func surfaceKey(sessionToken string) string {
	return "tools-surface:" + sessionToken
}
