package extproc

import (
	"context"

	eppb "github.com/envoyproxy/go-control-plane/envoy/service/ext_proc/v3"
)

// HandleResponseHeaders rewrites the backend's own mcp-session-id back to
// the gateway-facing one the client already holds, and forgets the cached
// remote session on a 404 (the backend considers it gone) so the next call
// re-initializes.
func (s *ExtProcServer) HandleResponseHeaders(ctx context.Context, responseHeaders *eppb.HttpHeaders, req *MCPRequest) ([]*eppb.ProcessingResponse, error) {
	response := NewResponse()
	headers := NewHeaders()

	if req != nil && req.GetSessionID() != "" {
		headers.WithMCPSession(req.GetSessionID())
	}

	status := getSingleValueHeader(responseHeaders.GetHeaders(), ":status")
	if status == "404" && req != nil && req.upstreamID != "" {
		s.Logger.Info("backend reported session not found, forgetting remote session", "session", req.GetSessionID(), "upstream", req.upstreamID)
		if err := s.Sessions.Forget(ctx, req.GetSessionID(), req.upstreamID); err != nil {
			s.Logger.Error("failed to forget remote session", "error", err)
		}
	}

	return response.WithResponseHeaderResponse(headers.Build()).Build(), nil
}

// HandleResponseBody passes response bodies through unmodified; ext_proc's
// job here is header rewriting, not payload transformation.
func (s *ExtProcServer) HandleResponseBody(_ *eppb.HttpBody) ([]*eppb.ProcessingResponse, error) {
	return []*eppb.ProcessingResponse{{
		Response: &eppb.ProcessingResponse_ResponseBody{ResponseBody: &eppb.BodyResponse{}},
	}}, nil
}

// HandleResponseTrailers passes response trailers through unmodified.
func (s *ExtProcServer) HandleResponseTrailers(_ *eppb.HttpTrailers) ([]*eppb.ProcessingResponse, error) {
	return []*eppb.ProcessingResponse{{
		Response: &eppb.ProcessingResponse_ResponseTrailers{ResponseTrailers: &eppb.TrailersResponse{}},
	}}, nil
}
