package extproc

import (
	"fmt"

	basepb "github.com/envoyproxy/go-control-plane/envoy/config/core/v3"
)

const (
	mcpServerNameHeader = "x-mcp-servername"
	toolHeader          = "x-mcp-toolname"
	methodHeader        = "x-mcp-method"
	sessionHeader       = "mcp-session-id"
	authorityHeader     = ":authority"
	authorizationHeader = "authorization"
)

// HeadersBuilder builds headers to add to a request or response.
type HeadersBuilder struct {
	headers []*basepb.HeaderValueOption
}

// NewHeaders returns a new HeadersBuilder.
func NewHeaders() *HeadersBuilder {
	return &HeadersBuilder{headers: []*basepb.HeaderValueOption{}}
}

// Build returns the accumulated header set.
func (hb *HeadersBuilder) Build() []*basepb.HeaderValueOption {
	return hb.headers
}

// WithAuthority sets the :authority header.
func (hb *HeadersBuilder) WithAuthority(authority string) *HeadersBuilder {
	hb.headers = append(hb.headers, &basepb.HeaderValueOption{
		Header: &basepb.HeaderValue{Key: authorityHeader, RawValue: []byte(authority)},
	})
	return hb
}

// WithAuth sets the authorization header.
func (hb *HeadersBuilder) WithAuth(cred string) *HeadersBuilder {
	hb.headers = append(hb.headers, &basepb.HeaderValueOption{
		Header: &basepb.HeaderValue{Key: authorizationHeader, RawValue: []byte(cred)},
	})
	return hb
}

// WithContentLength sets the content-length header.
func (hb *HeadersBuilder) WithContentLength(length int) *HeadersBuilder {
	hb.headers = append(hb.headers, &basepb.HeaderValueOption{
		Header: &basepb.HeaderValue{Key: "content-length", RawValue: []byte(fmt.Sprintf("%d", length))},
	})
	return hb
}

// WithMCPToolName sets the x-mcp-toolname header.
func (hb *HeadersBuilder) WithMCPToolName(toolName string) *HeadersBuilder {
	hb.headers = append(hb.headers, &basepb.HeaderValueOption{
		Header: &basepb.HeaderValue{Key: toolHeader, RawValue: []byte(toolName)},
	})
	return hb
}

// WithMCPServerName sets the x-mcp-servername header.
func (hb *HeadersBuilder) WithMCPServerName(serverName string) *HeadersBuilder {
	hb.headers = append(hb.headers, &basepb.HeaderValueOption{
		Header: &basepb.HeaderValue{Key: mcpServerNameHeader, RawValue: []byte(serverName)},
	})
	return hb
}

// WithMCPMethod sets the x-mcp-method header.
func (hb *HeadersBuilder) WithMCPMethod(method string) *HeadersBuilder {
	hb.headers = append(hb.headers, &basepb.HeaderValueOption{
		Header: &basepb.HeaderValue{Key: methodHeader, RawValue: []byte(method)},
	})
	return hb
}

// WithMCPSession sets the mcp-session-id header.
func (hb *HeadersBuilder) WithMCPSession(session string) *HeadersBuilder {
	hb.headers = append(hb.headers, &basepb.HeaderValueOption{
		Header: &basepb.HeaderValue{Key: sessionHeader, RawValue: []byte(session)},
	})
	return hb
}

// WithCustomHeader sets an arbitrary header.
func (hb *HeadersBuilder) WithCustomHeader(key, value string) *HeadersBuilder {
	hb.headers = append(hb.headers, &basepb.HeaderValueOption{
		Header: &basepb.HeaderValue{Key: key, RawValue: []byte(value)},
	})
	return hb
}

// WithPath sets the :path header.
func (hb *HeadersBuilder) WithPath(path string) *HeadersBuilder {
	hb.headers = append(hb.headers, &basepb.HeaderValueOption{
		Header: &basepb.HeaderValue{Key: ":path", RawValue: []byte(path)},
	})
	return hb
}

// getSingleValueHeader reads one header's raw value out of an Envoy header map.
func getSingleValueHeader(headers *basepb.HeaderMap, key string) string {
	if headers == nil {
		return ""
	}
	for _, h := range headers.Headers {
		if len(h.Key) == len(key) && (h.Key == key || equalFold(h.Key, key)) {
			if len(h.RawValue) > 0 {
				return string(h.RawValue)
			}
			return h.Value
		}
	}
	return ""
}

func equalFold(a, b string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		ca, cb := a[i], b[i]
		if 'A' <= ca && ca <= 'Z' {
			ca += 'a' - 'A'
		}
		if 'A' <= cb && cb <= 'Z' {
			cb += 'a' - 'A'
		}
		if ca != cb {
			return false
		}
	}
	return true
}
