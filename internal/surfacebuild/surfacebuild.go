// Package surfacebuild assembles a profile's router.Surface from its
// configured local sources and upstreams: list each source's tools (local
// sources directly, upstreams over a live MCP connection), merge them
// through internal/aggregator's collision policy, apply the profile's
// transform overrides and allowlist, and stamp the result with the
// profile's current fingerprint.
package surfacebuild

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/kagenti/mcp-gateway/internal/aggregator"
	"github.com/kagenti/mcp-gateway/internal/config"
	"github.com/kagenti/mcp-gateway/internal/localsources"
	"github.com/kagenti/mcp-gateway/internal/router"
	"github.com/kagenti/mcp-gateway/internal/transform"
	"github.com/kagenti/mcp-gateway/internal/upstream"
	"github.com/mark3labs/mcp-go/mcp"
)

// UpstreamLister lists the tools a connected upstream currently advertises.
// Backed by upstream.Manager.Get + the pooled client's own ListTools.
type UpstreamLister func(ctx context.Context, upstreamID string, endpoint upstream.Endpoint) ([]mcp.Tool, error)

// EndpointResolver resolves an upstream's currently-enabled endpoints —
// satisfied by both config.EndpointResolver's static closure and any
// cache-backed equivalent (e.g. internal/session's EndpointCache-fronted
// resolver in the Gateway), so this package doesn't need to import
// internal/session just to name the type.
type EndpointResolver func(ctx context.Context, upstreamID string) ([]upstream.Endpoint, error)

// Builder builds one profile's router.Surface on demand, suitable as a
// router.SurfaceBuilder once bound to a profile via Bind.
type Builder struct {
	Local             *localsources.Registry
	Endpoints         EndpointResolver
	ListUpstreamTools UpstreamLister
	Logger            *slog.Logger
}

// Bind returns a router.SurfaceBuilder closed over one profile, ready to
// pass into glue.Config.Build.
func (b *Builder) Bind(profile *config.Profile) router.SurfaceBuilder {
	return func(ctx context.Context) (router.Surface, error) {
		return b.build(ctx, profile)
	}
}

func (b *Builder) build(ctx context.Context, profile *config.Profile) (router.Surface, error) {
	logger := b.Logger
	if logger == nil {
		logger = slog.Default()
	}
	pipeline := profile.Pipeline()

	var toolSources []aggregator.SourceTools
	for _, sourceID := range profile.SourceIDs {
		src, ok := b.Local.Get(sourceID)
		if !ok {
			err := fmt.Errorf("surfacebuild: profile %q references unknown local source %q", profile.ID, sourceID)
			if !profile.AllowPartialUpstreams {
				return router.Surface{}, err
			}
			logger.Warn("skipping unknown local source", "profile", profile.ID, "source", sourceID, "error", err)
			continue
		}
		tools := applyToolTransforms(pipeline, src.ListTools())
		toolSources = append(toolSources, aggregator.SourceTools{Kind: aggregator.SharedLocal, SourceID: sourceID, Tools: tools})
	}

	for _, upstreamID := range profile.UpstreamIDs {
		endpoints, err := b.Endpoints(ctx, upstreamID)
		if err != nil || len(endpoints) == 0 {
			wrapped := fmt.Errorf("surfacebuild: resolve endpoints for upstream %q: %w", upstreamID, err)
			if !profile.AllowPartialUpstreams {
				return router.Surface{}, wrapped
			}
			logger.Warn("skipping unreachable upstream", "profile", profile.ID, "upstream", upstreamID, "error", wrapped)
			continue
		}
		tools, err := b.ListUpstreamTools(ctx, upstreamID, firstEnabled(endpoints))
		if err != nil {
			if !profile.AllowPartialUpstreams {
				return router.Surface{}, fmt.Errorf("surfacebuild: list tools from upstream %q: %w", upstreamID, err)
			}
			logger.Warn("failed to list tools from upstream", "profile", profile.ID, "upstream", upstreamID, "error", err)
			continue
		}
		toolSources = append(toolSources, aggregator.SourceTools{Kind: aggregator.Upstream, SourceID: upstreamID, Tools: applyToolTransforms(pipeline, tools)})
	}

	mergedTools, toolRoutes, ambiguous := aggregator.MergeTools(toolSources)
	mergedTools, toolRoutes = filterByAllowlist(profile, mergedTools, toolRoutes)

	surface := aggregator.Surface{
		Tools:          mergedTools,
		ToolRoutes:     toolRoutes,
		AmbiguousTools: ambiguous,
		ResourceRoutes: map[string]aggregator.ResourceRoute{},
		PromptRoutes:   map[string]aggregator.PromptRoute{},
	}
	return router.Surface{Surface: surface, Fingerprint: profile.Fingerprint()}, nil
}

func applyToolTransforms(pipeline *transform.Pipeline, tools []mcp.Tool) []mcp.Tool {
	out := make([]mcp.Tool, len(tools))
	for i, t := range tools {
		original := t.Name
		t.Name = pipeline.ExposedToolName(original)
		if schema, err := schemaAsMap(t.InputSchema); err == nil {
			pipeline.ApplySchemaTransforms(original, schema)
			if rewritten, err := json.Marshal(schema); err == nil {
				var s mcp.ToolInputSchema
				if json.Unmarshal(rewritten, &s) == nil {
					t.InputSchema = s
				}
			}
		}
		out[i] = t
	}
	return out
}

func filterByAllowlist(profile *config.Profile, tools []mcp.Tool, routes map[string]aggregator.ToolRoute) ([]mcp.Tool, map[string]aggregator.ToolRoute) {
	filteredRoutes := map[string]aggregator.ToolRoute{}
	filteredTools := make([]mcp.Tool, 0, len(tools))
	for _, t := range tools {
		route, ok := routes[t.Name]
		if !ok {
			continue
		}
		if !profile.ToolAllowed(router.StableToolRef(route.SourceID, route.OriginalName)) {
			continue
		}
		filteredTools = append(filteredTools, t)
		filteredRoutes[t.Name] = route
	}
	// Keep every alias ("source:name") whose underlying (sourceId,
	// originalName) target still has a surviving primary route entry —
	// an alias is a lookup shortcut, never itself an advertised tool
	// name, so its survival tracks the target's, not its own literal
	// presence in the merged tool list.
	for name, route := range routes {
		if _, already := filteredRoutes[name]; already {
			continue
		}
		if !profile.ToolAllowed(router.StableToolRef(route.SourceID, route.OriginalName)) {
			continue
		}
		for _, fr := range filteredRoutes {
			if fr.SourceID == route.SourceID && fr.OriginalName == route.OriginalName {
				filteredRoutes[name] = route
				break
			}
		}
	}
	return filteredTools, filteredRoutes
}

func schemaAsMap(schema mcp.ToolInputSchema) (map[string]any, error) {
	b, err := json.Marshal(schema)
	if err != nil {
		return nil, err
	}
	var m map[string]any
	if err := json.Unmarshal(b, &m); err != nil {
		return nil, err
	}
	return m, nil
}

func firstEnabled(endpoints []upstream.Endpoint) upstream.Endpoint {
	for _, ep := range endpoints {
		if ep.Enabled {
			return ep
		}
	}
	return endpoints[0]
}
