// Package glue wires the routing, session and auth pieces into a live
// MCP Streamable HTTP surface: POST/GET/DELETE /mcp (or /{profileId}/mcp
// in the Gateway), built on mcp-go/server the same way the teacher's
// broker builds its federated broker server.
package glue

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"

	"github.com/kagenti/mcp-gateway/internal/authhook"
	"github.com/kagenti/mcp-gateway/internal/router"
	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
)

// Config wires one profile's (or, in the Adapter, the single implicit
// profile's) dependencies into a Server.
type Config struct {
	Name      string // server name advertised at initialize
	Version   string
	ProfileID string

	Cache         router.SurfaceCache
	Build         router.SurfaceBuilder
	Transform     router.TransformApplier
	Local         router.LocalCaller
	Upstream      router.UpstreamCaller
	TimeoutPolicy router.Policy

	// Fingerprint returns the profile's current tools-surface
	// fingerprint (sha256 of allowlist+transforms+sourceIds); evaluated
	// on every request so a control-plane write is picked up without
	// restarting the server.
	Fingerprint func() string

	// Auth, when non-nil, gates every request (including binding a
	// principal at initialize) through its configured Mode. A nil Auth
	// means the profile's dataPlaneAuthMode is Disabled.
	Auth   *authhook.Enforcer
	Logger *slog.Logger

	// ShutdownLocalSession, when non-nil, is called with a session's id
	// as it closes, so local sources holding session-scoped state (e.g.
	// a per_session stdio child process) can release it. Optional: a nil
	// value just skips this step.
	ShutdownLocalSession func(sessionID string)
}

// Server is one profile's live MCP surface.
type Server struct {
	cfg       Config
	mcpServer *server.MCPServer
	http      *server.StreamableHTTPServer
	logger    *slog.Logger

	registeredTools []mcp.Tool
	principals      sync.Map // sessionToken (string) -> authhook.SessionPrincipal
}

// NewServer builds the mcp-go server, wires its lifecycle/error hooks
// plus initialize-time auth binding, and wraps it in a streamable-HTTP
// handler. Call Refresh once after construction (and again whenever the
// aggregator's surface changes) to populate the tools mcp-go advertises.
func NewServer(cfg Config) *Server {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	s := &Server{cfg: cfg, logger: logger}

	hooks := &server.Hooks{}
	hooks.AddOnRegisterSession(func(ctx context.Context, session server.ClientSession) {
		token := session.SessionID()
		logger.Info("session registered", "profile", cfg.ProfileID, "sessionId", token)
		if cfg.Auth == nil {
			return
		}
		principal, err := s.bindPrincipalOnInitialize(ctx, headersFromContext(ctx))
		if err != nil {
			logger.Warn("rejected session at initialize", "profile", cfg.ProfileID, "sessionId", token, "error", err)
			return
		}
		s.principals.Store(token, principal)
	})
	hooks.AddOnUnregisterSession(func(_ context.Context, session server.ClientSession) {
		token := session.SessionID()
		logger.Info("session unregistered", "profile", cfg.ProfileID, "sessionId", token)
		cfg.Cache.Invalidate(token)
		s.principals.Delete(token)
		if cfg.ShutdownLocalSession != nil {
			cfg.ShutdownLocalSession(token)
		}
	})
	hooks.AddBeforeAny(func(_ context.Context, _ any, method mcp.MCPMethod, _ any) {
		logger.Debug("handling request", "profile", cfg.ProfileID, "method", method)
	})
	hooks.AddOnError(func(_ context.Context, _ any, method mcp.MCPMethod, _ any, err error) {
		logger.Warn("request failed", "profile", cfg.ProfileID, "method", method, "error", err)
	})

	s.mcpServer = server.NewMCPServer(
		cfg.Name,
		cfg.Version,
		server.WithHooks(hooks),
		server.WithToolCapabilities(true),
	)
	s.http = server.NewStreamableHTTPServer(s.mcpServer)
	return s
}

// bindPrincipalOnInitialize authenticates the session-initializing
// request per the configured auth mode, producing the SessionPrincipal
// later requests on this session are checked against.
func (s *Server) bindPrincipalOnInitialize(ctx context.Context, headers http.Header) (authhook.SessionPrincipal, error) {
	auth := s.cfg.Auth
	switch auth.Mode {
	case authhook.Disabled:
		return authhook.SessionPrincipal{}, nil
	case authhook.ApiKeyInitOnly, authhook.ApiKeyEveryRequest:
		principal, err := authhook.AuthenticateOnInitialize(ctx, auth.Store, auth.TenantID, auth.ProfileID, headers, auth.AcceptXAPIKey)
		if err != nil {
			return authhook.SessionPrincipal{}, err
		}
		return authhook.SessionPrincipal{APIKey: &principal}, nil
	case authhook.JwtEveryRequest:
		principal, err := authhook.AuthorizeJWTRequest(ctx, auth.Validator, auth.Allower, auth.TenantID, auth.ProfileID, headers)
		if err != nil {
			return authhook.SessionPrincipal{}, err
		}
		return authhook.SessionPrincipal{JWT: &principal}, nil
	default:
		return authhook.SessionPrincipal{}, fmt.Errorf("glue: unknown auth mode %v", auth.Mode)
	}
}

// ServeHTTP implements http.Handler: it extracts what the auth/routing
// layer needs from the live request (headers, the bound session
// principal, the profile's current fingerprint), stashes them on the
// request's context, and delegates to the wrapped mcp-go handler — which
// propagates that same context down into every hook and tool handler it
// invokes, the same as any other context-respecting net/http middleware.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	token := r.Header.Get(mcpSessionHeader)
	var principal authhook.SessionPrincipal
	if token != "" {
		if p, ok := s.principals.Load(token); ok {
			principal, _ = p.(authhook.SessionPrincipal)
		}
	}
	fingerprint := ""
	if s.cfg.Fingerprint != nil {
		fingerprint = s.cfg.Fingerprint()
	}
	ctx := WithRequestContext(r.Context(), r.Header, principal, fingerprint)
	s.http.ServeHTTP(w, r.WithContext(ctx))
}

// Refresh replaces the advertised tool set with newTools, letting
// mcp-go's AddTools/DeleteTools emit the list_changed notifications
// clients are subscribed to.
func (s *Server) Refresh(newTools []mcp.Tool) {
	added, removed := diffTools(s.registeredTools, newTools)
	if len(removed) > 0 {
		names := make([]string, len(removed))
		for i, t := range removed {
			names[i] = t.Name
		}
		s.mcpServer.DeleteTools(names...)
	}
	if len(added) > 0 {
		s.mcpServer.AddTools(s.toServerTools(added)...)
	}
	s.registeredTools = newTools
}

func (s *Server) toServerTools(tools []mcp.Tool) []server.ServerTool {
	out := make([]server.ServerTool, 0, len(tools))
	for _, t := range tools {
		out = append(out, server.ServerTool{Tool: t, Handler: s.callTool})
	}
	return out
}

// callTool is the single handler bound to every advertised tool: it
// re-resolves the call against the current tools surface (so a JIT
// surface rebuild or an argument-shape change since Refresh is always
// honored) rather than baking routing decisions in at registration time.
func (s *Server) callTool(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	if s.cfg.Auth != nil {
		if err := s.cfg.Auth.EnforceRequest(ctx, headersFromContext(ctx), sessionPrincipalFromContext(ctx)); err != nil {
			return mcp.NewToolResultError(err.Error()), nil
		}
	}

	sessionToken := sessionTokenFromContext(ctx)
	fingerprint := fingerprintFromContext(ctx)
	args := req.GetArguments()

	res, _, err := router.Resolve(ctx, s.cfg.Cache, s.cfg.Build, s.cfg.ProfileID, sessionToken, fingerprint,
		req.Params.Name, args, s.cfg.Transform, s.cfg.TimeoutPolicy)
	if err != nil {
		return s.toolErrorResult(req.Params.Name, err), nil
	}

	result, err := router.Dispatch(ctx, res, s.cfg.Local, s.cfg.Upstream, 0)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return result, nil
}

func (s *Server) toolErrorResult(toolName string, err error) *mcp.CallToolResult {
	var verr *router.ValidationError
	if errors.As(err, &verr) {
		return mcp.NewToolResultError(verr.Error())
	}
	switch {
	case errors.Is(err, router.ErrUnknownTool):
		return mcp.NewToolResultError(fmt.Sprintf("unknown tool %q", toolName))
	case errors.Is(err, router.ErrAmbiguousTool):
		return mcp.NewToolResultError(fmt.Sprintf("tool name %q is ambiguous across sources; disambiguate with \"source:name\"", toolName))
	default:
		return mcp.NewToolResultError(err.Error())
	}
}

func diffTools(oldTools, newTools []mcp.Tool) (added, removed []mcp.Tool) {
	oldByName := make(map[string]mcp.Tool, len(oldTools))
	for _, t := range oldTools {
		oldByName[t.Name] = t
	}
	newByName := make(map[string]mcp.Tool, len(newTools))
	for _, t := range newTools {
		newByName[t.Name] = t
	}
	for _, t := range newTools {
		if _, ok := oldByName[t.Name]; !ok {
			added = append(added, t)
		}
	}
	for _, t := range oldTools {
		if _, ok := newByName[t.Name]; !ok {
			removed = append(removed, t)
		}
	}
	return added, removed
}
