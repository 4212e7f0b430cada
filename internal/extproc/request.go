package extproc

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	corev3 "github.com/envoyproxy/go-control-plane/envoy/config/core/v3"
)

// ErrInvalidRequest flags a malformed JSON-RPC envelope.
var ErrInvalidRequest = fmt.Errorf("MCP request is invalid")

// RouterError is an error with an associated HTTP status code, so a failed
// routing decision can carry the status it wants reflected back to Envoy.
type RouterError struct {
	StatusCode int32
	Err        error
}

func (re *RouterError) Error() string {
	if re.Err != nil {
		return re.Err.Error()
	}
	return fmt.Sprintf("router error: status %d", re.StatusCode)
}

func (re *RouterError) Unwrap() error { return re.Err }

// Code returns the HTTP status code to reflect back to Envoy.
func (re *RouterError) Code() int32 { return re.StatusCode }

// NewRouterError wraps err with an HTTP status.
func NewRouterError(code int32, err error) *RouterError {
	return &RouterError{StatusCode: code, Err: err}
}

// NewRouterErrorf is NewRouterError with a formatted message.
func NewRouterErrorf(code int32, format string, args ...any) *RouterError {
	return &RouterError{StatusCode: code, Err: fmt.Errorf(format, args...)}
}

const (
	methodToolCall = "tools/call"
)

// MCPRequest is one JSON-RPC request body observed on the MCP streamable
// HTTP transport, as seen by the ext_proc filter.
type MCPRequest struct {
	ID         *int              `json:"id"`
	JSONRPC    string            `json:"jsonrpc"`
	Method     string            `json:"method"`
	Params     map[string]any    `json:"params"`
	Headers    *corev3.HeaderMap `json:"-"`
	Streaming  bool              `json:"-"`
	sessionID  string            `json:"-"`
	upstreamID string            `json:"-"`
}

// GetSingleHeaderValue returns one header's raw value off the stored
// request headers.
func (mr *MCPRequest) GetSingleHeaderValue(key string) string {
	return getSingleValueHeader(mr.Headers, key)
}

// GetSessionID returns the gateway-facing mcp-session-id, caching the
// lookup since it's read repeatedly while routing one request.
func (mr *MCPRequest) GetSessionID() string {
	if mr.sessionID == "" {
		mr.sessionID = getSingleValueHeader(mr.Headers, sessionHeader)
	}
	return mr.sessionID
}

// Validate checks the JSON-RPC envelope is well-formed enough to route.
func (mr *MCPRequest) Validate() error {
	if mr.JSONRPC != "2.0" {
		return errors.Join(ErrInvalidRequest, fmt.Errorf("json rpc version invalid"))
	}
	if mr.Method == "" {
		return errors.Join(ErrInvalidRequest, fmt.Errorf("no method set in json rpc payload"))
	}
	if mr.ID == nil && !mr.isNotificationRequest() {
		return errors.Join(ErrInvalidRequest, fmt.Errorf("no id set in json rpc payload for non-notification method: %s", mr.Method))
	}
	return nil
}

func (mr *MCPRequest) isNotificationRequest() bool {
	return strings.HasPrefix(mr.Method, "notifications")
}

func (mr *MCPRequest) isToolCall() bool {
	return mr.Method == methodToolCall
}

func (mr *MCPRequest) isInitializeRequest() bool {
	return mr.Method == "initialize" || mr.Method == "notifications/initialized"
}

// ToolName returns the "name" param of a tools/call request, or "".
func (mr *MCPRequest) ToolName() string {
	if !mr.isToolCall() {
		return ""
	}
	tool, ok := mr.Params["name"]
	if !ok {
		return ""
	}
	t, ok := tool.(string)
	if !ok {
		return ""
	}
	return t
}

// ReWriteToolName replaces the tool name in-place, stripping the
// routing prefix before the request reaches its real upstream.
func (mr *MCPRequest) ReWriteToolName(actualTool string) {
	mr.Params["name"] = actualTool
}

// ToBytes re-marshals the (possibly rewritten) request.
func (mr *MCPRequest) ToBytes() ([]byte, error) {
	return json.Marshal(mr)
}
