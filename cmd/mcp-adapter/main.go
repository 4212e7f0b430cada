// main implements the CLI for the MCP Adapter: a single-tenant, single
// implicit Profile proxy, configured from one static file and run with no
// control plane, grounded on the broker/router binary's flag, logging and
// graceful-shutdown shape.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"time"

	"github.com/kagenti/mcp-gateway/internal/authhook"
	"github.com/kagenti/mcp-gateway/internal/config"
	"github.com/kagenti/mcp-gateway/internal/glue"
	"github.com/kagenti/mcp-gateway/internal/httptools"
	"github.com/kagenti/mcp-gateway/internal/localsources"
	"github.com/kagenti/mcp-gateway/internal/openapitools"
	"github.com/kagenti/mcp-gateway/internal/safety"
	"github.com/kagenti/mcp-gateway/internal/session"
	"github.com/kagenti/mcp-gateway/internal/surfacebuild"
	"github.com/kagenti/mcp-gateway/internal/upstream"
	"github.com/mark3labs/mcp-go/mcp"
)

var logger = slog.New(slog.NewTextHandler(os.Stdout, nil))

func main() {
	var (
		addr            string
		configFile      string
		logLevel        int
		logFormat       string
		defaultTimeout  int64
		maxTimeout      int64
		surfaceCacheTTL time.Duration
		apiKeyCredName  string
		acceptXAPIKey   bool
	)
	flag.StringVar(&addr, "addr", "0.0.0.0:8080", "address the adapter's MCP surface listens on")
	flag.StringVar(&configFile, "config", "./config/mcp-adapter/config.yaml", "where to locate the adapter's profile/upstream/source config")
	flag.IntVar(&logLevel, "log-level", int(slog.LevelInfo), "set the log level 0=info, 4=warn, 8=error and -4=debug")
	flag.StringVar(&logFormat, "log-format", "txt", "switch to json logs with --log-format=json")
	flag.Int64Var(&defaultTimeout, "default-tool-timeout-secs", 30, "system default per-tool-call timeout")
	flag.Int64Var(&maxTimeout, "max-tool-timeout-secs", 300, "system ceiling a profile or tool override cannot exceed")
	flag.DurationVar(&surfaceCacheTTL, "surface-cache-ttl", 5*time.Minute, "how long a session's resolved tools surface stays cached")
	flag.StringVar(&apiKeyCredName, "api-key-credential", "adapter-api-key", "credential name (under pkg/credentials' mount) holding the expected API key, when dataPlaneAuthMode requires one")
	flag.BoolVar(&acceptXAPIKey, "accept-x-api-key-header", false, "also accept the key from an x-api-key header, not just Authorization: Bearer")
	flag.Parse()

	slog.SetLogLoggerLevel(slog.Level(logLevel))
	if logFormat == "json" {
		logger = slog.New(slog.NewJSONHandler(os.Stdout, nil))
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	loader := config.NewLoader(configFile, "", logger)
	state, err := loader.Load()
	if err != nil {
		log.Fatalf("config: %v", err)
	}
	if len(state.Profiles) != 1 {
		log.Fatalf("config: the adapter runs exactly one implicit profile, found %d", len(state.Profiles))
	}
	profile := state.Profiles[0]

	localRegistry, err := buildLocalSources(state)
	if err != nil {
		log.Fatalf("config: %v", err)
	}

	manager := upstream.NewManager()
	endpoints := config.EndpointResolver(state.Upstreams)

	ttlCache, err := session.NewTTLCache(ctx, "")
	if err != nil {
		log.Fatalf("session cache: %v", err)
	}
	surfaceCache := session.NewSurfaceCache(ttlCache, surfaceCacheTTL, logger)

	builder := &surfacebuild.Builder{
		Local:     localRegistry,
		Endpoints: endpoints,
		ListUpstreamTools: func(ctx context.Context, upstreamID string, endpoint upstream.Endpoint) ([]mcp.Tool, error) {
			conn, err := manager.Get(ctx, upstreamID, endpoint, 0)
			if err != nil {
				return nil, err
			}
			res, err := conn.ListTools(ctx, mcp.ListToolsRequest{})
			if err != nil {
				return nil, err
			}
			return res.Tools, nil
		},
		Logger: logger,
	}

	dispatcher := glue.NewUpstreamDispatcher(manager, glue.EndpointResolver(endpoints), logger)

	var enforcer *authhook.Enforcer
	mode, err := resolveAuthMode(profile.DataPlaneAuthMode)
	if err != nil {
		log.Fatalf("config: %v", err)
	}
	if mode != authhook.Disabled {
		if mode == authhook.JwtEveryRequest {
			log.Fatalf("config: the adapter does not support JwtEveryRequest (no OIDC infrastructure); use ApiKeyInitOnly or ApiKeyEveryRequest")
		}
		enforcer = &authhook.Enforcer{
			Mode:          mode,
			Store:         &authhook.CredentialKeyStore{CredentialName: apiKeyCredName},
			TenantID:      profile.TenantID,
			ProfileID:     profile.ID,
			AcceptXAPIKey: acceptXAPIKey || profile.AcceptAlternateAPIKeyHeader,
		}
	}

	srv := glue.NewServer(glue.Config{
		Name:          "mcp-adapter",
		Version:       "0.0.1",
		ProfileID:     profile.ID,
		Cache:         surfaceCache,
		Build:         builder.Bind(profile),
		Transform:     profile.Pipeline().ApplyCallTransforms,
		Local:         localRegistry.CallTool,
		Upstream:      dispatcher.Call,
		TimeoutPolicy: profile.TimeoutPolicy(defaultTimeout, maxTimeout),
		Fingerprint:   profile.Fingerprint,
		Auth:          enforcer,
		Logger:        logger,
	})

	surface, err := builder.Bind(profile)(ctx)
	if err != nil {
		log.Fatalf("initial tools surface build: %v", err)
	}
	srv.Refresh(surface.Tools)
	logger.Info("built initial tools surface", "profile", profile.ID, "tools", len(surface.Tools))

	mux := http.NewServeMux()
	mux.Handle("/mcp", srv)
	httpSrv := &http.Server{
		Addr:         addr,
		Handler:      mux,
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 0, // streamable HTTP holds long-lived connections open
	}

	go func() {
		logger.Info("[http] starting MCP Adapter", "listening", addr)
		if err := httpSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("[http] %v", err)
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down MCP Adapter")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := httpSrv.Shutdown(shutdownCtx); err != nil {
		log.Printf("HTTP shutdown error: %v; ignoring", err)
	}
	if err := manager.DisconnectAll(); err != nil {
		log.Printf("upstream disconnect error: %v; ignoring", err)
	}
}

func resolveAuthMode(mode config.DataPlaneAuthMode) (authhook.Mode, error) {
	switch mode {
	case "", config.AuthDisabled:
		return authhook.Disabled, nil
	case config.AuthAPIKeyInitOnly:
		return authhook.ApiKeyInitOnly, nil
	case config.AuthAPIKeyEveryRequest:
		return authhook.ApiKeyEveryRequest, nil
	case config.AuthJWTEveryRequest:
		return authhook.JwtEveryRequest, nil
	default:
		return authhook.Disabled, fmt.Errorf("unknown dataPlaneAuthMode %q", mode)
	}
}

func buildLocalSources(state *config.State) (*localsources.Registry, error) {
	registry := localsources.NewRegistry()
	for id, cfg := range state.HTTPSources {
		src, err := httptools.New(id, cfg, 30*time.Second)
		if err != nil {
			return nil, fmt.Errorf("http source %q: %w", id, err)
		}
		registry.Register(id, src)
	}
	for id, cfg := range state.OpenAPISources {
		src, err := openapitools.Load(context.Background(), id, cfg, http.DefaultClient, 30*time.Second, safety.Permissive())
		if err != nil {
			return nil, fmt.Errorf("openapi source %q: %w", id, err)
		}
		registry.Register(id, src)
	}
	return registry, nil
}
