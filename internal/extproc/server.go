// Package extproc is an optional Envoy ext_proc admission layer: an
// alternative, lower-latency data path that lets Envoy route tool-call
// bytes straight at a resolved upstream instead of hairpinning every call
// through internal/glue's HTTP surface. It consults the same
// internal/aggregator routing table the Gateway builds, so enabling it
// changes nothing about which server a tool call reaches — only how many
// hops the bytes take to get there. Everything that isn't a resolvable
// upstream tool call (initialize, list_tools, local-source tool calls)
// falls through to the Gateway's normal surface.
package extproc

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	eppb "github.com/envoyproxy/go-control-plane/envoy/service/ext_proc/v3"

	"github.com/kagenti/mcp-gateway/internal/aggregator"
	"github.com/kagenti/mcp-gateway/internal/upstream"
)

// EndpointResolver resolves an upstream's currently-enabled endpoints.
type EndpointResolver func(ctx context.Context, upstreamID string) ([]upstream.Endpoint, error)

// RoutingConfig carries the deployment-specific values the ext_proc filter
// needs to build an authority header and to gate remote-initialize.
type RoutingConfig struct {
	// RouterAPIKey authorizes a remote-initialize request (one that sets
	// mcp-init-host itself, rather than relying on Envoy's own routing) —
	// without it, any client could redirect the gateway's initialize call
	// anywhere.
	RouterAPIKey string
}

// ExtProcServer implements Envoy's ExternalProcessor gRPC service against
// one shared tool-call routing table built from every enabled upstream.
type ExtProcServer struct {
	Registry      *aggregator.Registry
	Endpoints     EndpointResolver
	Manager       *upstream.Manager
	Sessions      *SessionMap
	RoutingConfig RoutingConfig
	Logger        *slog.Logger

	eppb.UnimplementedExternalProcessorServer
}

// Process implements the Envoy ext_proc bidirectional stream: one call
// handles exactly one HTTP request/response pair, so all per-request state
// is kept in locals rather than on the receiver.
func (s *ExtProcServer) Process(stream eppb.ExternalProcessor_ProcessServer) error {
	var requestHeaders *eppb.HttpHeaders
	var mcpReq *MCPRequest

	for {
		req, err := stream.Recv()
		if err != nil {
			return err
		}

		switch r := req.Request.(type) {
		case *eppb.ProcessingRequest_RequestHeaders:
			requestHeaders = r.RequestHeaders
			responses, _ := s.HandleRequestHeaders(requestHeaders)
			if err := sendAll(stream, responses); err != nil {
				return err
			}

		case *eppb.ProcessingRequest_RequestBody:
			mcpReq = &MCPRequest{Headers: requestHeaders.GetHeaders(), Streaming: !r.RequestBody.GetEndOfStream()}
			if len(r.RequestBody.GetBody()) > 0 {
				if err := json.Unmarshal(r.RequestBody.GetBody(), mcpReq); err != nil {
					s.Logger.Error("failed to unmarshal MCP request body", "error", err)
					if err := sendAll(stream, NewResponse().WithDoNothingResponse(mcpReq.Streaming).Build()); err != nil {
						return err
					}
					continue
				}
			}
			if err := mcpReq.Validate(); err != nil {
				s.Logger.Debug("invalid MCP request, passing through unmodified", "error", err)
				if err := sendAll(stream, NewResponse().WithDoNothingResponse(mcpReq.Streaming).Build()); err != nil {
					return err
				}
				continue
			}
			responses := s.RouteMCPRequest(stream.Context(), mcpReq)
			if err := sendAll(stream, responses); err != nil {
				return err
			}

		case *eppb.ProcessingRequest_ResponseHeaders:
			responses, _ := s.HandleResponseHeaders(stream.Context(), r.ResponseHeaders, mcpReq)
			if err := sendAll(stream, responses); err != nil {
				return err
			}

		case *eppb.ProcessingRequest_ResponseBody:
			responses, _ := s.HandleResponseBody(r.ResponseBody)
			if err := sendAll(stream, responses); err != nil {
				return err
			}

		case *eppb.ProcessingRequest_ResponseTrailers:
			responses, _ := s.HandleResponseTrailers(r.ResponseTrailers)
			if err := sendAll(stream, responses); err != nil {
				return err
			}
		}
	}
}

// HandleRequestHeaders records nothing server-side (headers are replayed
// to the caller as a local in Process); it only tells Envoy to continue.
func (s *ExtProcServer) HandleRequestHeaders(_ *eppb.HttpHeaders) ([]*eppb.ProcessingResponse, error) {
	return []*eppb.ProcessingResponse{{
		Response: &eppb.ProcessingResponse_RequestHeaders{RequestHeaders: &eppb.HeadersResponse{}},
	}}, nil
}

func sendAll(stream eppb.ExternalProcessor_ProcessServer, responses []*eppb.ProcessingResponse) error {
	for _, resp := range responses {
		if err := stream.Send(resp); err != nil {
			return fmt.Errorf("extproc: send response: %w", err)
		}
	}
	return nil
}
