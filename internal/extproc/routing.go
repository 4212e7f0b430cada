package extproc

import (
	"context"
	"errors"
	"fmt"
	"net/url"

	basepb "github.com/envoyproxy/go-control-plane/envoy/config/core/v3"
	eppb "github.com/envoyproxy/go-control-plane/envoy/service/ext_proc/v3"

	"github.com/kagenti/mcp-gateway/internal/aggregator"
	"github.com/kagenti/mcp-gateway/internal/upstream"
)

const (
	initHostHeader   = "mcp-init-host"
	routingKeyHeader = "x-mcp-router-key"
)

// RouteMCPRequest dispatches one parsed MCP body to the right handler.
func (s *ExtProcServer) RouteMCPRequest(ctx context.Context, req *MCPRequest) []*eppb.ProcessingResponse {
	if req.isToolCall() {
		return s.HandleToolCall(ctx, req)
	}
	return s.HandleNoneToolCall(req)
}

// HandleToolCall resolves a tools/call request's target upstream through
// the aggregator's routing table, strips the collision-safe prefix off the
// tool name, binds a remote session, and tells Envoy to re-route the
// (header-mutated) request straight at the backend.
func (s *ExtProcServer) HandleToolCall(ctx context.Context, req *MCPRequest) []*eppb.ProcessingResponse {
	response := NewResponse()

	toolName := req.ToolName()
	if toolName == "" {
		s.Logger.Error("tools/call with no tool name")
		return response.WithImmediateResponse(400, "no tool name set").Build()
	}
	gatewaySession := req.GetSessionID()
	if gatewaySession == "" {
		s.Logger.Info("no mcp-session-id on tools/call")
		return response.WithImmediateResponse(400, "no session ID found").Build()
	}

	route, ok := s.Registry.RouteTool(toolName)
	if !ok {
		s.Logger.Debug("no route for tool", "tool", toolName)
		return response.WithImmediateJSONRPCResponse(200, []*basepb.HeaderValueOption{{
			Header: &basepb.HeaderValue{Key: sessionHeader, RawValue: []byte(gatewaySession)},
		}}, `
event: message
data: {"result":{"content":[{"type":"text","text":"MCP error -32602: Tool not found"}],"isError":true},"jsonrpc":"2.0"}`).Build()
	}
	if route.Kind != aggregator.Upstream {
		// local sources aren't reachable by Envoy directly; let the request
		// fall through to the Gateway's own HTTP surface to handle.
		s.Logger.Debug("tool resolves to a local source, not fast-pathing", "tool", toolName)
		return response.WithDoNothingResponse(req.Streaming).Build()
	}

	endpoint, err := s.firstEnabledEndpoint(ctx, route.SourceID)
	if err != nil {
		s.Logger.Error("failed to resolve upstream endpoint", "upstream", route.SourceID, "error", err)
		return response.WithImmediateResponse(502, "upstream unavailable").Build()
	}

	remoteSession, err := s.Sessions.Resolve(ctx, s.Manager, gatewaySession, route.SourceID, endpoint)
	if err != nil {
		var routerErr *RouterError
		if errors.As(err, &routerErr) {
			return response.WithImmediateResponse(routerErr.Code(), routerErr.Error()).Build()
		}
		s.Logger.Error("failed to bind remote session", "error", err)
		return response.WithImmediateResponse(500, "internal error").Build()
	}

	req.upstreamID = route.SourceID
	req.ReWriteToolName(route.OriginalName)

	headers := NewHeaders().
		WithMCPMethod(req.Method).
		WithMCPToolName(route.OriginalName).
		WithMCPServerName(route.SourceID).
		WithMCPSession(remoteSession)

	u, err := url.Parse(endpoint.URL)
	if err != nil {
		s.Logger.Error("failed to parse endpoint URL", "endpoint", endpoint.URL, "error", err)
		return response.WithImmediateResponse(500, "internal error").Build()
	}
	headers.WithAuthority(u.Host).WithPath(u.Path)

	body, err := req.ToBytes()
	if err != nil {
		s.Logger.Error("failed to marshal rewritten body", "error", err)
		return response.WithImmediateResponse(500, "internal error").Build()
	}
	headers.WithContentLength(len(body))

	if req.Streaming {
		return response.
			WithRequestHeadersReponse(headers.Build()).
			withStreamedBody(body).
			Build()
	}
	return response.WithRequestBodyHeadersAndBodyReponse(headers.Build(), body).Build()
}

// HandleNoneToolCall forwards everything else (initialize, list_tools,
// notifications) unmodified to the Gateway's own HTTP surface, which is
// where non-tool-call MCP semantics (surface building, auth, contract
// fanout) actually live.
func (s *ExtProcServer) HandleNoneToolCall(req *MCPRequest) []*eppb.ProcessingResponse {
	response := NewResponse()
	if req.isInitializeRequest() {
		key := req.GetSingleHeaderValue(routingKeyHeader)
		target := req.GetSingleHeaderValue(initHostHeader)
		if target != "" {
			if key != s.RoutingConfig.RouterAPIKey {
				s.Logger.Warn("rejecting remote-initialize request with a bad routing key")
				return response.WithImmediateResponse(400, "bad request").Build()
			}
			headers := NewHeaders().WithAuthority(target)
			return response.withRequestBodySetUnsetHeadersResponse(headers.Build(), []string{initHostHeader, routingKeyHeader}).Build()
		}
	}
	return response.WithRequestBodyHeadersResponse(NewHeaders().WithMCPMethod(req.Method).Build()).Build()
}

func (s *ExtProcServer) firstEnabledEndpoint(ctx context.Context, upstreamID string) (upstream.Endpoint, error) {
	endpoints, err := s.Endpoints(ctx, upstreamID)
	if err != nil {
		return upstream.Endpoint{}, err
	}
	for _, ep := range endpoints {
		if ep.Enabled {
			return ep, nil
		}
	}
	if len(endpoints) == 0 {
		return upstream.Endpoint{}, fmt.Errorf("no endpoints configured for upstream %q", upstreamID)
	}
	return endpoints[0], nil
}

