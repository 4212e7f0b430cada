// Package localstdio implements the local stdio MCP process Source
// variant: a child process speaking MCP over stdin/stdout, managed with
// one of three lifecycles (persistent, per_session, per_call), grounded
// on the same mark3labs/mcp-go client.Client/Initialize handshake
// internal/upstream uses for streamable HTTP sources.
package localstdio

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/kagenti/mcp-gateway/internal/glue"
	"github.com/mark3labs/mcp-go/client"
	"github.com/mark3labs/mcp-go/mcp"
)

// Lifecycle selects how a stdio source's child process is reused across
// calls, per spec.md's stdio scenarios S5/S6.
type Lifecycle string

const (
	// Persistent starts one process at source load and reuses it for
	// every call from every session, until the source is shut down.
	Persistent Lifecycle = "persistent"
	// PerSession starts one process per MCP session, reused for every
	// call within that session and torn down when the session closes.
	PerSession Lifecycle = "per_session"
	// PerCall starts and tears down a fresh process for every call.
	// The default, matching the teacher's conservative no-shared-state
	// posture for an untrusted local process.
	PerCall Lifecycle = "per_call"
)

// ServerConfig declares one stdio-backed MCP tool source.
type ServerConfig struct {
	Command        string
	Args           []string
	Env            map[string]string
	Lifecycle      Lifecycle
	StartupTimeout time.Duration
}

// Source is a local stdio MCP process source: ListTools/CallTool, the
// same face internal/localsources.Registry already expects from
// internal/httptools and internal/openapitools.
type Source struct {
	name    string
	config  ServerConfig
	timeout time.Duration
	logger  *slog.Logger

	tools []mcp.Tool

	mu      sync.Mutex
	shared  *client.Client            // Persistent only
	byToken map[string]*client.Client // PerSession only
}

// Load starts a process once to discover the source's tool list and closes
// it again (for Persistent, a second process is then started and kept
// running), validating the configured
// command is actually runnable before the source is registered.
func Load(ctx context.Context, name string, config ServerConfig, defaultTimeout time.Duration, logger *slog.Logger) (*Source, error) {
	if config.Command == "" {
		return nil, fmt.Errorf("localstdio: source %q: command is required", name)
	}
	if config.Lifecycle == "" {
		config.Lifecycle = PerCall
	}
	if logger == nil {
		logger = slog.Default()
	}
	timeout := config.StartupTimeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}

	src := &Source{
		name:    name,
		config:  config,
		timeout: timeout,
		logger:  logger,
		byToken: map[string]*client.Client{},
	}

	discovery, err := src.spawn(ctx)
	if err != nil {
		return nil, fmt.Errorf("localstdio: source %q: start for tool discovery: %w", name, err)
	}
	result, err := discovery.ListTools(ctx, mcp.ListToolsRequest{})
	closeErr := discovery.Close()
	if err != nil {
		return nil, fmt.Errorf("localstdio: source %q: list tools: %w", name, err)
	}
	if closeErr != nil {
		logger.Warn("localstdio: discovery process close failed", "source", name, "error", closeErr)
	}
	src.tools = result.Tools

	if config.Lifecycle == Persistent {
		proc, err := src.spawn(ctx)
		if err != nil {
			return nil, fmt.Errorf("localstdio: source %q: start persistent process: %w", name, err)
		}
		src.shared = proc
	}
	return src, nil
}

// ListTools implements localsources.Source.
func (s *Source) ListTools() []mcp.Tool { return s.tools }

// CallTool implements localsources.Source. The session a call belongs to
// (needed by PerSession) is read off ctx via glue.SessionIDFromContext,
// the same Mcp-Session-Id header internal/glue's own request handling
// resolves sessions against, so the router.LocalCaller signature never
// has to carry a session id of its own.
func (s *Source) CallTool(ctx context.Context, toolName string, arguments map[string]any) (*mcp.CallToolResult, error) {
	proc, cleanup, err := s.acquire(ctx)
	if err != nil {
		return nil, fmt.Errorf("localstdio: source %q: acquire process: %w", s.name, err)
	}
	defer cleanup()

	return proc.CallTool(ctx, mcp.CallToolRequest{
		Params: mcp.CallToolParams{
			Name:      toolName,
			Arguments: arguments,
		},
	})
}

// ShutdownSession implements the optional session-scoped shutdown
// localsources.Registry looks for: a PerSession source drops and closes
// the process bound to this session; other lifecycles have nothing
// session-scoped to release.
func (s *Source) ShutdownSession(sessionID string) {
	if s.config.Lifecycle != PerSession {
		return
	}
	s.mu.Lock()
	proc, ok := s.byToken[sessionID]
	delete(s.byToken, sessionID)
	s.mu.Unlock()
	if !ok {
		return
	}
	if err := proc.Close(); err != nil {
		s.logger.Warn("localstdio: closing per-session process failed", "source", s.name, "session", sessionID, "error", err)
	}
}

// Shutdown stops whatever process(es) this source currently owns.
func (s *Source) Shutdown() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	var firstErr error
	if s.shared != nil {
		if err := s.shared.Close(); err != nil {
			firstErr = err
		}
		s.shared = nil
	}
	for token, proc := range s.byToken {
		if err := proc.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
		delete(s.byToken, token)
	}
	return firstErr
}

// acquire returns the process a call should run against, plus a cleanup
// func the caller must always invoke once the call completes: a no-op for
// Persistent/PerSession (the process outlives the call) and a process
// teardown for PerCall.
func (s *Source) acquire(ctx context.Context) (*client.Client, func(), error) {
	switch s.config.Lifecycle {
	case Persistent:
		s.mu.Lock()
		proc := s.shared
		s.mu.Unlock()
		if proc == nil {
			return nil, nil, fmt.Errorf("persistent process not running")
		}
		return proc, func() {}, nil

	case PerSession:
		sessionID := glue.SessionIDFromContext(ctx)
		s.mu.Lock()
		proc, ok := s.byToken[sessionID]
		s.mu.Unlock()
		if ok {
			return proc, func() {}, nil
		}
		proc, err := s.spawn(ctx)
		if err != nil {
			return nil, nil, err
		}
		s.mu.Lock()
		if existing, ok := s.byToken[sessionID]; ok {
			s.mu.Unlock()
			_ = proc.Close()
			return existing, func() {}, nil
		}
		s.byToken[sessionID] = proc
		s.mu.Unlock()
		return proc, func() {}, nil

	default: // PerCall
		proc, err := s.spawn(ctx)
		if err != nil {
			return nil, nil, err
		}
		return proc, func() { _ = proc.Close() }, nil
	}
}

// spawn starts a fresh child process and completes the MCP initialize
// handshake against it, the stdio transport's equivalent of
// internal/upstream.Connect's streamable-HTTP handshake.
func (s *Source) spawn(ctx context.Context) (*client.Client, error) {
	env := make([]string, 0, len(s.config.Env))
	for k, v := range s.config.Env {
		env = append(env, k+"="+v)
	}

	c, err := client.NewStdioMCPClient(s.config.Command, env, s.config.Args...)
	if err != nil {
		return nil, fmt.Errorf("start process: %w", err)
	}

	startCtx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()
	if _, err := c.Initialize(startCtx, mcp.InitializeRequest{
		Params: mcp.InitializeParams{
			ProtocolVersion: mcp.LATEST_PROTOCOL_VERSION,
			ClientInfo: mcp.Implementation{
				Name:    "mcp-gateway",
				Version: "0.0.1",
			},
		},
	}); err != nil {
		_ = c.Close()
		return nil, fmt.Errorf("initialize: %w", err)
	}
	return c, nil
}
