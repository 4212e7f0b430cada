package extproc

import (
	"context"
	"fmt"
	"time"

	"github.com/kagenti/mcp-gateway/internal/session"
	"github.com/kagenti/mcp-gateway/internal/upstream"
)

// SessionMap maps a gateway-facing mcp-session-id, scoped to one upstream,
// onto the remote session id the pooled upstream connection actually holds
// with that backend — ext_proc routes bytes directly to the backend via
// Envoy header mutation, so (unlike internal/glue, which proxies through a
// live *upstream.Connection on every call) it has to hand Envoy a session
// id the backend will recognize on its own.
type SessionMap struct {
	cache *session.TTLCache
	ttl   time.Duration
}

// NewSessionMap wraps a TTLCache for gateway-session -> remote-session
// lookups.
func NewSessionMap(cache *session.TTLCache, ttl time.Duration) *SessionMap {
	return &SessionMap{cache: cache, ttl: ttl}
}

func sessionMapKey(gatewaySessionID, upstreamID string) string {
	return "extproc-session:" + upstreamID + ":" + gatewaySessionID
}

// Resolve returns the remote session id bound to (gatewaySessionID,
// upstreamID), minting one from the pooled upstream connection's own
// handshake if this is the first call of the pair.
func (m *SessionMap) Resolve(ctx context.Context, manager *upstream.Manager, gatewaySessionID, upstreamID string, endpoint upstream.Endpoint) (string, error) {
	key := sessionMapKey(gatewaySessionID, upstreamID)
	if cached, ok, err := m.cache.Get(ctx, key); err == nil && ok {
		return string(cached), nil
	}

	conn, err := manager.Get(ctx, upstreamID, endpoint, 0)
	if err != nil {
		return "", fmt.Errorf("extproc: connect to upstream %q: %w", upstreamID, err)
	}
	remoteSessionID := conn.GetSessionId()
	if remoteSessionID == "" {
		return "", fmt.Errorf("extproc: upstream %q returned no session id on initialize", upstreamID)
	}
	if err := m.cache.Set(ctx, key, []byte(remoteSessionID), m.ttl); err != nil {
		return "", fmt.Errorf("extproc: cache remote session: %w", err)
	}
	return remoteSessionID, nil
}

// Forget drops the cached remote session for (gatewaySessionID, upstreamID),
// e.g. after the backend reports the session is no longer valid (HTTP 404),
// so the next call mints a fresh one.
func (m *SessionMap) Forget(ctx context.Context, gatewaySessionID, upstreamID string) error {
	return m.cache.Delete(ctx, sessionMapKey(gatewaySessionID, upstreamID))
}
