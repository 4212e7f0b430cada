package upstream

import (
	"context"
	"fmt"
	"sync"
)

// connectFunc matches Connect's signature; overridable in tests so Manager's
// pooling/dedup logic can be exercised without a live upstream.
type connectFunc func(ctx context.Context, endpoint Endpoint, hop int) (*Connection, error)

// Manager owns the live connections to every endpoint of every configured
// upstream, connecting lazily and reusing connections across calls. One
// Manager is shared across all profiles that reference the same upstream.
type Manager struct {
	mu          sync.RWMutex
	connections map[string]map[string]*Connection // upstreamID -> endpointID -> connection
	connect     connectFunc
}

// NewManager returns an empty connection pool.
func NewManager() *Manager {
	return &Manager{connections: map[string]map[string]*Connection{}, connect: Connect}
}

// Get returns the live connection for (upstreamID, endpointID), connecting
// it first if necessary. hop is the loop counter observed on the request
// driving this call.
func (m *Manager) Get(ctx context.Context, upstreamID string, endpoint Endpoint, hop int) (*Connection, error) {
	m.mu.RLock()
	if byEndpoint, ok := m.connections[upstreamID]; ok {
		if conn, ok := byEndpoint[endpoint.ID]; ok {
			m.mu.RUnlock()
			return conn, nil
		}
	}
	m.mu.RUnlock()

	conn, err := m.connect(ctx, endpoint, hop)
	if err != nil {
		return nil, err
	}

	m.mu.Lock()
	if m.connections[upstreamID] == nil {
		m.connections[upstreamID] = map[string]*Connection{}
	}
	if existing, ok := m.connections[upstreamID][endpoint.ID]; ok {
		m.mu.Unlock()
		_ = conn.Disconnect()
		return existing, nil
	}
	m.connections[upstreamID][endpoint.ID] = conn
	m.mu.Unlock()
	return conn, nil
}

// Invalidate drops a connection, closing it, so the next Get reconnects.
// Used when a ping/call reveals the connection is dead.
func (m *Manager) Invalidate(upstreamID, endpointID string) error {
	m.mu.Lock()
	byEndpoint, ok := m.connections[upstreamID]
	if !ok {
		m.mu.Unlock()
		return nil
	}
	conn, ok := byEndpoint[endpointID]
	if ok {
		delete(byEndpoint, endpointID)
	}
	m.mu.Unlock()
	if !ok {
		return nil
	}
	return conn.Disconnect()
}

// DisconnectAll closes every live connection. Used on shutdown.
func (m *Manager) DisconnectAll() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	var firstErr error
	for upstreamID, byEndpoint := range m.connections {
		for endpointID, conn := range byEndpoint {
			if err := conn.Disconnect(); err != nil && firstErr == nil {
				firstErr = fmt.Errorf("upstream: disconnect %s/%s: %w", upstreamID, endpointID, err)
			}
		}
	}
	m.connections = map[string]map[string]*Connection{}
	return firstErr
}
