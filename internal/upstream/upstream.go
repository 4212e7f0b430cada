// Package upstream is a thin client for talking to backend MCP servers over
// the streamable HTTP transport: it performs the initialize handshake,
// carries an explicit upstream auth header (never the caller's own
// Authorization header), and stamps every outbound hop with a loop-guard
// counter.
package upstream

import (
	"context"
	"encoding/base64"
	"fmt"
	"net/url"
	"strconv"

	"github.com/kagenti/mcp-gateway/internal/httptools"
	"github.com/mark3labs/mcp-go/client"
	"github.com/mark3labs/mcp-go/client/transport"
	"github.com/mark3labs/mcp-go/mcp"
)

// HopHeader is the loop-guard header forwarded (and incremented) on every
// proxied upstream call.
const HopHeader = "x-mcp-gateway-hop"

// MaxHops bounds how many times a request may be re-proxied before the
// gateway refuses to forward it further.
const MaxHops = 8

// Endpoint is one reachable address for an Upstream, with its own auth.
type Endpoint struct {
	ID      string
	URL     string
	Auth    *httptools.AuthConfig
	Enabled bool
}

// Config describes a backend MCP server as a set of equivalent endpoints.
type Config struct {
	ID        string
	Enabled   bool
	Endpoints []Endpoint
}

// Connection wraps one initialized mcp-go client session against a single
// upstream endpoint.
type Connection struct {
	*client.Client
	EndpointID string
	init       *mcp.InitializeResult
}

// Init returns the result of the MCP initialize handshake for this
// connection, or nil if Connect has not completed.
func (c *Connection) Init() *mcp.InitializeResult { return c.init }

// BuildHeaders constructs the header set sent with every request on a
// connection: the hop counter (when non-zero) plus whichever upstream auth
// variant is configured. Query auth is applied to the URL separately by
// ApplyQueryAuth, never here.
func BuildHeaders(auth *httptools.AuthConfig, hop int) map[string]string {
	headers := map[string]string{}
	if hop > 0 {
		headers[HopHeader] = strconv.Itoa(hop)
	}
	if auth == nil {
		return headers
	}
	switch auth.Kind {
	case httptools.AuthNone, httptools.AuthQuery:
	case httptools.AuthBearer:
		headers["Authorization"] = "Bearer " + auth.Token
	case httptools.AuthHeader:
		headers[auth.Header] = auth.Value
	case httptools.AuthBasic:
		encoded := base64.StdEncoding.EncodeToString([]byte(auth.Username + ":" + auth.Password))
		headers["Authorization"] = "Basic " + encoded
	}
	return headers
}

// ApplyQueryAuth appends a Query-variant auth pair to rawURL. Any other auth
// variant (or nil) leaves the URL unchanged.
func ApplyQueryAuth(rawURL string, auth *httptools.AuthConfig) (string, error) {
	if auth == nil || auth.Kind != httptools.AuthQuery {
		return rawURL, nil
	}
	u, err := url.Parse(rawURL)
	if err != nil {
		return "", fmt.Errorf("upstream: invalid endpoint URL %q: %w", rawURL, err)
	}
	q := u.Query()
	q.Set(auth.Name, auth.Value)
	u.RawQuery = q.Encode()
	return u.String(), nil
}

// Connect performs the full MCP handshake against one endpoint: POST
// initialize, store the returned session id, then POST
// notifications/initialized and require it be accepted. hop is the loop
// counter this gateway observed on the inbound request that is causing this
// connection to be (re-)established; it is rejected outright at MaxHops.
func Connect(ctx context.Context, endpoint Endpoint, hop int) (*Connection, error) {
	if hop >= MaxHops {
		return nil, fmt.Errorf("upstream: proxy loop detected (max hops %d exceeded) connecting to %q", MaxHops, endpoint.ID)
	}

	target, err := ApplyQueryAuth(endpoint.URL, endpoint.Auth)
	if err != nil {
		return nil, err
	}
	headers := BuildHeaders(endpoint.Auth, hop+1)

	httpClient, err := client.NewStreamableHttpClient(target,
		transport.WithContinuousListening(),
		transport.WithHTTPHeaders(headers),
	)
	if err != nil {
		return nil, fmt.Errorf("upstream: failed to create client for %q: %w", endpoint.ID, err)
	}

	if err := httpClient.Start(ctx); err != nil {
		return nil, fmt.Errorf("upstream: failed to start streamable client for %q: %w", endpoint.ID, err)
	}

	initResp, err := httpClient.Initialize(ctx, mcp.InitializeRequest{
		Params: mcp.InitializeParams{
			ProtocolVersion: mcp.LATEST_PROTOCOL_VERSION,
			Capabilities: mcp.ClientCapabilities{
				Roots: &struct {
					ListChanged bool `json:"listChanged,omitempty"`
				}{ListChanged: true},
			},
			ClientInfo: mcp.Implementation{
				Name:    "mcp-gateway",
				Version: "0.0.1",
			},
		},
	})
	if err != nil {
		_ = httpClient.Close()
		return nil, fmt.Errorf("upstream: initialize failed for %q: %w", endpoint.ID, err)
	}

	return &Connection{Client: httpClient, EndpointID: endpoint.ID, init: initResp}, nil
}

// Disconnect closes the underlying session. Safe to call on a nil
// connection.
func (c *Connection) Disconnect() error {
	if c == nil || c.Client == nil {
		return nil
	}
	return c.Close()
}
