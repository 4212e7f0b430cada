package glue

import (
	"context"
	"net/http"

	"github.com/kagenti/mcp-gateway/internal/authhook"
)

// mcpSessionHeader is the MCP Streamable HTTP transport's session-id
// header: issued by the server on initialize, required on every request
// after that (spec's §6 framing of the GET/DELETE/POST /mcp surface).
const mcpSessionHeader = "Mcp-Session-Id"

type contextKey int

const (
	headersKey contextKey = iota
	sessionPrincipalKey
	fingerprintKey
)

// WithRequestContext stashes what the auth/routing layer needs to read
// out of the original HTTP request onto ctx, before handing the request
// to the wrapped mcp-go handler: mcp-go propagates the *http.Request's
// context through to tool handlers, the same as any other Go HTTP
// middleware, so values stored here are visible inside Server.callTool.
func WithRequestContext(ctx context.Context, headers http.Header, principal authhook.SessionPrincipal, fingerprint string) context.Context {
	ctx = context.WithValue(ctx, headersKey, headers)
	ctx = context.WithValue(ctx, sessionPrincipalKey, principal)
	ctx = context.WithValue(ctx, fingerprintKey, fingerprint)
	return ctx
}

func headersFromContext(ctx context.Context) http.Header {
	h, _ := ctx.Value(headersKey).(http.Header)
	if h == nil {
		return http.Header{}
	}
	return h
}

func sessionPrincipalFromContext(ctx context.Context) authhook.SessionPrincipal {
	p, _ := ctx.Value(sessionPrincipalKey).(authhook.SessionPrincipal)
	return p
}

func fingerprintFromContext(ctx context.Context) string {
	fp, _ := ctx.Value(fingerprintKey).(string)
	return fp
}

// sessionTokenFromContext reads the session id straight off the
// Mcp-Session-Id header stashed by WithRequestContext, rather than
// depending on an mcp-go-internal session accessor — the header is part
// of the MCP transport's own wire contract, stable regardless of which
// server library implements it.
func sessionTokenFromContext(ctx context.Context) string {
	return headersFromContext(ctx).Get(mcpSessionHeader)
}

// SessionIDFromContext is sessionTokenFromContext exported for local
// sources (e.g. internal/localstdio's per_session lifecycle) that need to
// key session-scoped state off the same id router.Dispatch/Server.callTool
// already resolve requests against, without re-deriving their own
// session-tracking scheme.
func SessionIDFromContext(ctx context.Context) string {
	return sessionTokenFromContext(ctx)
}
