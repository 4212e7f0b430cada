// Package localsources gives internal/httptools and internal/openapitools
// sources one uniform face — ListTools/CallTool — so the rest of the
// system (aggregation, routing, dispatch) never needs to know which
// declarative engine actually produced a given SharedLocal/TenantLocal
// source.
package localsources

import (
	"context"
	"fmt"
	"sync"

	"github.com/mark3labs/mcp-go/mcp"
)

// Source is the shape httptools.Source, openapitools.Source and
// localstdio.Source all already expose; satisfied by each without any
// adapter shim.
type Source interface {
	ListTools() []mcp.Tool
	CallTool(ctx context.Context, toolName string, arguments map[string]any) (*mcp.CallToolResult, error)
}

// sessionShutdowner is implemented by sources that hold session-scoped
// state (e.g. localstdio.Source in per_session lifecycle mode). It is
// checked with a type assertion rather than folded into Source, since
// most sources have nothing session-scoped to release.
type sessionShutdowner interface {
	ShutdownSession(sessionID string)
}

// shutdowner is implemented by sources that own a long-lived resource
// (e.g. a localstdio.Source running a persistent or per-session child
// process) that must be released on process shutdown.
type shutdowner interface {
	Shutdown() error
}

// Registry holds every configured local source, keyed by source id, and
// dispatches calls to whichever one owns a given id.
type Registry struct {
	mu      sync.RWMutex
	sources map[string]Source
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{sources: map[string]Source{}}
}

// Register adds (or replaces) the source bound to id.
func (r *Registry) Register(id string, src Source) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sources[id] = src
}

// Get returns the source bound to id, if any.
func (r *Registry) Get(id string) (Source, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	src, ok := r.sources[id]
	return src, ok
}

// CallTool implements router.LocalCaller against this registry.
func (r *Registry) CallTool(ctx context.Context, sourceID, originalName string, args map[string]any) (*mcp.CallToolResult, error) {
	src, ok := r.Get(sourceID)
	if !ok {
		return nil, fmt.Errorf("localsources: unknown source %q", sourceID)
	}
	return src.CallTool(ctx, originalName, args)
}

// ShutdownSession asks every registered source that holds session-scoped
// state (currently only a per_session localstdio.Source) to release
// whatever it is holding for sessionID. Sources with nothing session-scoped
// are silently skipped.
func (r *Registry) ShutdownSession(sessionID string) {
	r.mu.RLock()
	sources := make([]Source, 0, len(r.sources))
	for _, src := range r.sources {
		sources = append(sources, src)
	}
	r.mu.RUnlock()

	for _, src := range sources {
		if s, ok := src.(sessionShutdowner); ok {
			s.ShutdownSession(sessionID)
		}
	}
}

// Shutdown releases every registered source's long-lived resources (e.g. a
// localstdio.Source's persistent or per-session child processes), returning
// the first error encountered but still attempting every source.
func (r *Registry) Shutdown() error {
	r.mu.RLock()
	sources := make([]Source, 0, len(r.sources))
	for _, src := range r.sources {
		sources = append(sources, src)
	}
	r.mu.RUnlock()

	var firstErr error
	for _, src := range sources {
		if s, ok := src.(shutdowner); ok {
			if err := s.Shutdown(); err != nil && firstErr == nil {
				firstErr = err
			}
		}
	}
	return firstErr
}
