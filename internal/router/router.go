// Package router resolves a tools/call request to its owning source,
// validates and rewrites its arguments, picks an effective timeout and
// retry policy, and dispatches the call locally or to an upstream MCP
// server with categorized retry.
package router

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/kagenti/mcp-gateway/internal/aggregator"
	"github.com/mark3labs/mcp-go/mcp"
)

// ErrUnknownTool is returned when a tool name resolves to no route, even
// after a JIT surface rebuild.
var ErrUnknownTool = errors.New("router: unknown tool")

// ErrAmbiguousTool is returned when a tool name collided across sources and
// the caller did not disambiguate with a "source:name" prefix.
var ErrAmbiguousTool = errors.New("router: ambiguous tool name")

// Surface is the minimal read surface router needs from a tools-surface
// snapshot (aggregator.Surface plus the fingerprint it was built with).
type Surface struct {
	aggregator.Surface
	Fingerprint string
}

// SurfaceCache is the tools-surface cache dependency (internal/session).
type SurfaceCache interface {
	Get(sessionToken, fingerprint string) (Surface, bool)
	Put(profileID, sessionToken, fingerprint string, surface Surface)
	Invalidate(sessionToken string)
}

// SurfaceBuilder (re)builds a profile's tools surface from scratch, e.g. by
// connecting to every configured source and running internal/aggregator.
type SurfaceBuilder func(ctx context.Context) (Surface, error)

// TransformApplier reverse-maps exposed call arguments back to a source's
// original parameter names and injects configured defaults.
type TransformApplier func(originalToolName string, args map[string]any) map[string]any

// LocalCaller invokes a SharedLocal or TenantLocal source directly.
type LocalCaller func(ctx context.Context, sourceID, originalName string, args map[string]any) (*mcp.CallToolResult, error)

// UpstreamCaller proxies a tools/call to a remote MCP server bound to
// sourceID for the current session, retrying per policy within deadline.
type UpstreamCaller func(ctx context.Context, sourceID, originalName string, args map[string]any, hop int, policy *RetryPolicy, deadline time.Time) (*mcp.CallToolResult, error)

// ToolTimeout names a per-tool timeout/retry override, keyed by
// "sourceId:originalName".
type ToolTimeout struct {
	Tool        string
	TimeoutSecs *int64
	Retry       *RetryPolicy
}

// Policy carries the profile-level and system-level knobs the router needs
// to resolve an effective timeout and retry policy for one call.
type Policy struct {
	ProfileTimeoutSecs *int64
	SystemDefaultSecs  int64
	SystemMaxSecs      int64
	ToolPolicies       []ToolTimeout
}

// EffectiveTimeout resolves the timeout for one tool call: a per-tool
// override beats a profile-level override beats the system default, each
// clamped to the system maximum, with a 1-second floor.
func EffectiveTimeout(policy Policy, toolRef string) time.Duration {
	secs := clamp(policy.SystemDefaultSecs, policy.SystemMaxSecs)
	if policy.ProfileTimeoutSecs != nil && *policy.ProfileTimeoutSecs > 0 {
		secs = clamp(*policy.ProfileTimeoutSecs, policy.SystemMaxSecs)
	}
	for _, tp := range policy.ToolPolicies {
		if tp.Tool != toolRef {
			continue
		}
		if tp.TimeoutSecs != nil && *tp.TimeoutSecs > 0 {
			secs = clamp(*tp.TimeoutSecs, policy.SystemMaxSecs)
		}
		break
	}
	if secs < 1 {
		secs = 1
	}
	return time.Duration(secs) * time.Second
}

// EffectiveRetryPolicy returns the retry policy configured for a tool ref,
// or nil (meaning: at most one attempt, no retry).
func EffectiveRetryPolicy(policy Policy, toolRef string) *RetryPolicy {
	for _, tp := range policy.ToolPolicies {
		if tp.Tool == toolRef {
			return tp.Retry
		}
	}
	return nil
}

func clamp(secs, max int64) int64 {
	if max > 0 && secs > max {
		return max
	}
	return secs
}

// StableToolRef renders the "source:original" key used to look up per-tool
// policies and to address upstream dispatch.
func StableToolRef(sourceID, originalName string) string {
	return fmt.Sprintf("%s:%s", sourceID, originalName)
}

// Resolution is the outcome of routing and validating one tools/call.
type Resolution struct {
	Route        aggregator.ToolRoute
	OriginalArgs map[string]any
	ToolRef      string
	Timeout      time.Duration
	Retry        *RetryPolicy
}

// Resolve looks the tool name up in the cached (or freshly built) surface,
// JIT-rebuilding once on a cache miss, validates args against the
// advertised schema, and reverse-maps them to the source's original
// parameter names. The returned Surface is the one the route was resolved
// against (useful for schema lookups by the caller).
func Resolve(
	ctx context.Context,
	cache SurfaceCache,
	build SurfaceBuilder,
	profileID, sessionToken, fingerprint, toolName string,
	exposedArgs map[string]any,
	transform TransformApplier,
	timeoutPolicy Policy,
) (Resolution, Surface, error) {
	surface, hit := cache.Get(sessionToken, fingerprint)
	builtNow := false
	if !hit {
		built, err := build(ctx)
		if err != nil {
			return Resolution{}, Surface{}, fmt.Errorf("router: build tools surface: %w", err)
		}
		cache.Put(profileID, sessionToken, fingerprint, built)
		surface = built
		builtNow = true
	}

	route, ok := surface.ToolRoutes[toolName]
	if !ok && !builtNow {
		cache.Invalidate(sessionToken)
		built, err := build(ctx)
		if err != nil {
			return Resolution{}, Surface{}, fmt.Errorf("router: JIT rebuild tools surface: %w", err)
		}
		cache.Put(profileID, sessionToken, fingerprint, built)
		surface = built
		route, ok = surface.ToolRoutes[toolName]
	}
	if !ok {
		if _, ambiguous := surface.AmbiguousTools[toolName]; ambiguous {
			return Resolution{}, surface, ErrAmbiguousTool
		}
		return Resolution{}, surface, ErrUnknownTool
	}

	if tool := findTool(surface.Tools, toolName); tool != nil {
		schema, err := schemaToMap(tool.InputSchema)
		if err != nil {
			return Resolution{}, surface, fmt.Errorf("router: decode input schema for %q: %w", toolName, err)
		}
		if verr := ValidateArguments(schema, exposedArgs); verr != nil {
			return Resolution{}, surface, verr
		}
	}

	args := transform(route.OriginalName, exposedArgs)
	toolRef := StableToolRef(route.SourceID, route.OriginalName)

	return Resolution{
		Route:        route,
		OriginalArgs: args,
		ToolRef:      toolRef,
		Timeout:      EffectiveTimeout(timeoutPolicy, toolRef),
		Retry:        EffectiveRetryPolicy(timeoutPolicy, toolRef),
	}, surface, nil
}

func findTool(tools []mcp.Tool, name string) *mcp.Tool {
	for i := range tools {
		if tools[i].Name == name {
			return &tools[i]
		}
	}
	return nil
}

// schemaToMap round-trips a tool's advertised input schema through JSON
// into a plain map, the shape ValidateArguments and gojsonschema operate on.
func schemaToMap(schema mcp.ToolInputSchema) (map[string]any, error) {
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

// Dispatch executes a resolved call: local sources run through caller
// directly under the resolved timeout; upstream sources run through
// upstreamCall with retry, honoring hop and the resolved deadline.
func Dispatch(
	ctx context.Context,
	res Resolution,
	local LocalCaller,
	upstreamCall UpstreamCaller,
	hop int,
) (*mcp.CallToolResult, error) {
	deadline := time.Now().Add(res.Timeout)

	switch res.Route.Kind {
	case aggregator.SharedLocal, aggregator.TenantLocal:
		callCtx, cancel := context.WithTimeout(ctx, res.Timeout)
		defer cancel()
		result, err := local(callCtx, res.Route.SourceID, res.Route.OriginalName, res.OriginalArgs)
		if err != nil {
			if errors.Is(callCtx.Err(), context.DeadlineExceeded) {
				return nil, fmt.Errorf("router: tool call timed out after %s: %w", res.Timeout, err)
			}
			return nil, err
		}
		return result, nil
	default:
		return upstreamCall(ctx, res.Route.SourceID, res.Route.OriginalName, res.OriginalArgs, hop, res.Retry, deadline)
	}
}
