// Package aggregator merges tool/resource/prompt catalogs from many sources
// into one collision-safe, client-facing surface and builds the routing
// table used to dispatch calls back to their owning source.
package aggregator

import (
	"fmt"
	"log/slog"
	"sync"

	"github.com/kagenti/mcp-gateway/internal/ids"
	"github.com/mark3labs/mcp-go/mcp"
)

// SourceKind identifies the kind of backend a route points at.
type SourceKind int

const (
	// Upstream routes a call to a remote MCP server.
	Upstream SourceKind = iota
	// SharedLocal routes a call to a source shared across all profiles
	// (declarative HTTP or OpenAPI tool sources, in the Adapter or
	// shared Gateway sources).
	SharedLocal
	// TenantLocal routes a call to a per-tenant materialized source.
	TenantLocal
)

// ToolRoute is the (kind, source, originalName) a resolved tool name maps to.
type ToolRoute struct {
	Kind         SourceKind
	SourceID     string
	OriginalName string
}

// ResourceRoute is the (source, originalURI) a resolved resource URI maps to.
type ResourceRoute struct {
	SourceID    string
	OriginalURI string
}

// PromptRoute is the (source, originalName) a resolved prompt name maps to.
type PromptRoute struct {
	SourceID     string
	OriginalName string
}

// SourceTools is one source's tool list tagged with its kind and id, the
// unit of input to MergeTools.
type SourceTools struct {
	Kind     SourceKind
	SourceID string
	Tools    []mcp.Tool
}

// SourceResources is one source's resource list.
type SourceResources struct {
	SourceID  string
	Resources []mcp.Resource
}

// SourcePrompts is one source's prompt list.
type SourcePrompts struct {
	SourceID string
	Prompts  []mcp.Prompt
}

// Surface is the merged, collision-resolved snapshot for one profile
// (or the single implicit profile in the Adapter).
type Surface struct {
	Tools           []mcp.Tool
	Resources       []mcp.Resource
	Prompts         []mcp.Prompt
	ToolRoutes      map[string]ToolRoute
	ResourceRoutes  map[string]ResourceRoute
	PromptRoutes    map[string]PromptRoute
	AmbiguousTools  map[string]struct{}
}

// Registry holds the most recently merged Surface and serves routing
// lookups against it. It is safe for concurrent use; writers (Refresh)
// replace the whole snapshot atomically so readers never observe a
// partially updated registry.
type Registry struct {
	mu      sync.RWMutex
	surface Surface
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{surface: Surface{
		ToolRoutes:     map[string]ToolRoute{},
		ResourceRoutes: map[string]ResourceRoute{},
		PromptRoutes:   map[string]PromptRoute{},
		AmbiguousTools: map[string]struct{}{},
	}}
}

// Refresh replaces the registry's current snapshot wholesale. Used after
// backend restarts or JIT tools-surface rebuilds.
func (r *Registry) Refresh(s Surface) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.surface = s
}

// Snapshot returns the currently active surface.
func (r *Registry) Snapshot() Surface {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.surface
}

// RouteTool resolves an exposed tool name to its owning source.
// Prefixed lookups (source:name) always succeed, even when the base name
// never collided.
func (r *Registry) RouteTool(name string) (ToolRoute, bool) {
	s := r.Snapshot()
	route, ok := s.ToolRoutes[name]
	return route, ok
}

// RouteResource resolves an exposed resource URI to its owning source.
func (r *Registry) RouteResource(uri string) (ResourceRoute, bool) {
	s := r.Snapshot()
	route, ok := s.ResourceRoutes[uri]
	return route, ok
}

// RoutePrompt resolves an exposed prompt name to its owning source.
func (r *Registry) RoutePrompt(name string) (PromptRoute, bool) {
	s := r.Snapshot()
	route, ok := s.PromptRoutes[name]
	return route, ok
}

type toolRecord struct {
	kind         SourceKind
	sourceID     string
	originalName string
	tool         mcp.Tool
}

// MergeTools applies the deterministic collision policy over tools drawn
// from N sources and returns the merged tool list plus the routing table
// (including prefixed aliases). Within a single source, a duplicate
// exposed name (post-transform) is dropped with a warning rather than
// silently overwritten.
func MergeTools(sources []SourceTools) ([]mcp.Tool, map[string]ToolRoute, map[string]struct{}) {
	var records []toolRecord
	for _, src := range sources {
		seen := map[string]struct{}{}
		for _, tool := range src.Tools {
			exposed := tool.Name
			if _, dup := seen[exposed]; dup {
				slog.Warn("duplicate tool name from source; dropping",
					"source", src.SourceID, "tool", exposed)
				continue
			}
			seen[exposed] = struct{}{}
			records = append(records, toolRecord{
				kind:         src.Kind,
				sourceID:     src.SourceID,
				originalName: tool.Name,
				tool:         tool,
			})
		}
	}

	counts := map[string]int{}
	for _, rec := range records {
		counts[rec.tool.Name]++
	}
	ambiguous := map[string]struct{}{}
	for name, n := range counts {
		if n > 1 {
			ambiguous[name] = struct{}{}
		}
	}

	routes := map[string]ToolRoute{}
	merged := make([]mcp.Tool, 0, len(records))
	for _, rec := range records {
		baseName := rec.tool.Name
		isCollision := counts[baseName] > 1
		finalName := baseName
		if isCollision {
			finalName = fmt.Sprintf("%s:%s", rec.sourceID, baseName)
		}
		rec.tool.Name = finalName
		merged = append(merged, rec.tool)

		route := ToolRoute{Kind: rec.kind, SourceID: rec.sourceID, OriginalName: rec.originalName}
		routes[finalName] = route

		if !isCollision {
			alias := fmt.Sprintf("%s:%s", rec.sourceID, baseName)
			if _, exists := routes[alias]; !exists {
				routes[alias] = route
			}
		}
	}

	return merged, routes, ambiguous
}

// MergeResources applies the cross-source URI-collision policy. Counting
// keys on the ORIGINAL uri across sources, never on an already-rewritten
// exposed uri, so a second refresh never produces an apparent
// re-collision of already-prefixed URIs.
func MergeResources(sources []SourceResources) ([]mcp.Resource, map[string]ResourceRoute) {
	counts := map[string]int{}
	for _, src := range sources {
		for _, res := range src.Resources {
			counts[res.URI]++
		}
	}

	var merged []mcp.Resource
	routes := map[string]ResourceRoute{}
	for _, src := range sources {
		for _, res := range src.Resources {
			originalURI := res.URI
			if counts[originalURI] > 1 {
				res.URI = ids.ResourceCollisionURN(src.SourceID, originalURI)
			}
			routes[res.URI] = ResourceRoute{SourceID: src.SourceID, OriginalURI: originalURI}
			merged = append(merged, res)
		}
	}
	return merged, routes
}

// MergePrompts applies the name-collision policy for prompts, identical in
// shape to tools but without a secondary "ambiguous" set (prompts/get
// requires an exact name).
func MergePrompts(sources []SourcePrompts) ([]mcp.Prompt, map[string]PromptRoute) {
	type rec struct {
		sourceID     string
		originalName string
		prompt       mcp.Prompt
	}
	var records []rec
	for _, src := range sources {
		seen := map[string]struct{}{}
		for _, p := range src.Prompts {
			if _, dup := seen[p.Name]; dup {
				slog.Warn("duplicate prompt name from source; dropping",
					"source", src.SourceID, "prompt", p.Name)
				continue
			}
			seen[p.Name] = struct{}{}
			records = append(records, rec{sourceID: src.SourceID, originalName: p.Name, prompt: p})
		}
	}

	counts := map[string]int{}
	for _, r := range records {
		counts[r.prompt.Name]++
	}

	var merged []mcp.Prompt
	routes := map[string]PromptRoute{}
	for _, r := range records {
		baseName := r.prompt.Name
		isCollision := counts[baseName] > 1
		finalName := baseName
		if isCollision {
			finalName = fmt.Sprintf("%s:%s", r.sourceID, baseName)
		}
		r.prompt.Name = finalName
		merged = append(merged, r.prompt)

		route := PromptRoute{SourceID: r.sourceID, OriginalName: r.originalName}
		routes[finalName] = route
		if !isCollision {
			alias := fmt.Sprintf("%s:%s", r.sourceID, baseName)
			if _, exists := routes[alias]; !exists {
				routes[alias] = route
			}
		}
	}
	return merged, routes
}
