// main implements the CLI for the MCP Gateway: a multi-tenant binary
// serving many profiles at /{profileId}/mcp from durable, hot-reloaded
// control-plane state, grounded on the broker/router binary's flag,
// logging, hot-reload and graceful-shutdown shape.
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
	"strings"
	"sync"
	"time"

	"github.com/kagenti/mcp-gateway/internal/authhook"
	"github.com/kagenti/mcp-gateway/internal/config"
	"github.com/kagenti/mcp-gateway/internal/contracts"
	"github.com/kagenti/mcp-gateway/internal/glue"
	"github.com/kagenti/mcp-gateway/internal/httptools"
	"github.com/kagenti/mcp-gateway/internal/localsources"
	"github.com/kagenti/mcp-gateway/internal/localstdio"
	"github.com/kagenti/mcp-gateway/internal/openapitools"
	"github.com/kagenti/mcp-gateway/internal/router"
	"github.com/kagenti/mcp-gateway/internal/safety"
	"github.com/kagenti/mcp-gateway/internal/session"
	"github.com/kagenti/mcp-gateway/internal/surfacebuild"
	"github.com/kagenti/mcp-gateway/internal/upstream"
	"github.com/mark3labs/mcp-go/mcp"
)

var logger = slog.New(slog.NewTextHandler(os.Stdout, nil))

// gateway owns every live profile server plus the shared dependencies they
// are all built from, and knows how to (re)build itself from a
// config.State — the multi-tenant analogue of the Adapter's one-shot
// wiring in cmd/mcp-adapter.
type gateway struct {
	mu      sync.RWMutex
	servers map[string]*glue.Server // profileId -> server

	baseURL          string
	defaultTimeout   int64
	maxTimeout       int64
	acceptXAPIKey    bool
	apiKeyCredential string

	local        *localsources.Registry
	manager      *upstream.Manager
	surfaceCache *session.SurfaceCache
	endpoints    *session.EndpointCache
	tracker      *contracts.Tracker
	logger       *slog.Logger
}

// OnStateChange implements config.StateObserver: every hot-reload rebuilds
// (or adds, or tears down) one glue.Server per profile.
func (g *gateway) OnStateChange(ctx context.Context, state *config.State) {
	g.logger.Info("config changed, rebuilding profile servers", "profiles", len(state.Profiles))
	g.sync(ctx, state)
}

func (g *gateway) sync(ctx context.Context, state *config.State) {
	wanted := make(map[string]*config.Profile, len(state.Profiles))
	for _, p := range state.Profiles {
		wanted[p.ID] = p
	}

	g.mu.Lock()
	for id := range g.servers {
		if p, ok := wanted[id]; !ok || !p.Enabled {
			delete(g.servers, id)
			g.logger.Info("profile removed or disabled, tearing down its server", "profile", id)
		}
	}
	g.mu.Unlock()

	for _, profile := range state.Profiles {
		if !profile.Enabled {
			continue
		}
		srv, err := g.buildProfileServer(profile, state)
		if err != nil {
			g.logger.Error("failed to build profile server; leaving previous version (if any) in place", "profile", profile.ID, "error", err)
			continue
		}
		surface, err := srv.builder(ctx)
		if err != nil {
			g.logger.Error("failed to build initial tools surface", "profile", profile.ID, "error", err)
			continue
		}
		srv.server.Refresh(surface.Tools)
		if change := g.tracker.UpdateToolsContract(profile.ID, surface.Tools); change != nil {
			event, err := g.tracker.PublishLocalChange(ctx, change)
			if err != nil {
				g.logger.Error("failed to publish contract change", "profile", profile.ID, "error", err)
			} else {
				g.logger.Info("tools contract changed", "profile", profile.ID, "hash", change.ContractHash, "eventId", event.EventID)
			}
		}

		g.mu.Lock()
		g.servers[profile.ID] = srv.server
		g.mu.Unlock()
	}
}

type builtServer struct {
	server  *glue.Server
	builder router.SurfaceBuilder
}

func (g *gateway) buildProfileServer(profile *config.Profile, state *config.State) (*builtServer, error) {
	mode, err := resolveAuthMode(profile.DataPlaneAuthMode)
	if err != nil {
		return nil, err
	}
	var enforcer *authhook.Enforcer
	if mode != authhook.Disabled {
		enforcer = &authhook.Enforcer{
			Mode:          mode,
			Store:         &authhook.CredentialKeyStore{CredentialName: fmt.Sprintf("%s-%s", g.apiKeyCredential, profile.ID)},
			TenantID:      profile.TenantID,
			ProfileID:     profile.ID,
			AcceptXAPIKey: g.acceptXAPIKey || profile.AcceptAlternateAPIKeyHeader,
		}
		if mode == authhook.JwtEveryRequest {
			return nil, fmt.Errorf("profile %q: JwtEveryRequest requires an OIDC validator/allower wired in per deployment; not configured here", profile.ID)
		}
	}

	endpointResolver := func(ctx context.Context, upstreamID string) ([]upstream.Endpoint, error) {
		if cached, ok := g.endpoints.Get(upstreamID); ok {
			return cached, nil
		}
		up, ok := state.Upstreams[upstreamID]
		if !ok {
			return nil, fmt.Errorf("gateway: unknown upstream %q", upstreamID)
		}
		g.endpoints.Put(upstreamID, up.Endpoints)
		return up.Endpoints, nil
	}

	builder := &surfacebuild.Builder{
		Local:     g.local,
		Endpoints: endpointResolver,
		ListUpstreamTools: func(ctx context.Context, upstreamID string, endpoint upstream.Endpoint) ([]mcp.Tool, error) {
			conn, err := g.manager.Get(ctx, upstreamID, endpoint, 0)
			if err != nil {
				return nil, err
			}
			res, err := conn.ListTools(ctx, mcp.ListToolsRequest{})
			if err != nil {
				return nil, err
			}
			return res.Tools, nil
		},
		Logger: g.logger,
	}
	dispatcher := glue.NewUpstreamDispatcher(g.manager, glue.EndpointResolver(endpointResolver), g.logger)

	bound := builder.Bind(profile)
	srv := glue.NewServer(glue.Config{
		Name:                 "mcp-gateway",
		Version:              "0.0.1",
		ProfileID:            profile.ID,
		Cache:                g.surfaceCache,
		Build:                bound,
		Transform:            profile.Pipeline().ApplyCallTransforms,
		Local:                g.local.CallTool,
		Upstream:             dispatcher.Call,
		TimeoutPolicy:        profile.TimeoutPolicy(g.defaultTimeout, g.maxTimeout),
		Fingerprint:          profile.Fingerprint,
		Auth:                 enforcer,
		Logger:               g.logger,
		ShutdownLocalSession: g.local.ShutdownSession,
	})
	return &builtServer{server: srv, builder: bound}, nil
}

func main() {
	var (
		addr                  string
		configFile            string
		logLevel              int
		logFormat             string
		defaultTimeout        int64
		maxTimeout            int64
		surfaceCacheTTL       time.Duration
		endpointCacheTTL      time.Duration
		redisURL              string
		apiKeyCredential      string
		acceptXAPIKey         bool
		gatewayBaseURL        string
		contractFanoutDSN     string
		contractFanoutChannel string
	)
	flag.StringVar(&addr, "addr", "0.0.0.0:8080", "address the gateway's MCP surfaces listen on")
	flag.StringVar(&configFile, "config", "./config/mcp-gateway/config.yaml", "where to locate the gateway's profile/upstream/source config")
	flag.IntVar(&logLevel, "log-level", int(slog.LevelInfo), "set the log level 0=info, 4=warn, 8=error and -4=debug")
	flag.StringVar(&logFormat, "log-format", "txt", "switch to json logs with --log-format=json")
	flag.Int64Var(&defaultTimeout, "default-tool-timeout-secs", 30, "system default per-tool-call timeout")
	flag.Int64Var(&maxTimeout, "max-tool-timeout-secs", 300, "system ceiling a profile or tool override cannot exceed")
	flag.DurationVar(&surfaceCacheTTL, "surface-cache-ttl", 5*time.Minute, "how long a session's resolved tools surface stays cached")
	flag.DurationVar(&endpointCacheTTL, "endpoint-cache-ttl", time.Minute, "how long a resolved upstream endpoint set stays cached")
	flag.StringVar(&redisURL, "redis-url", "", "Redis connection string for shared session/surface/endpoint caches; empty runs a single-node in-memory cache")
	flag.StringVar(&apiKeyCredential, "api-key-credential-prefix", "gateway-api-key", "credential name prefix (under pkg/credentials' mount); the per-profile credential is \"<prefix>-<profileId>\"")
	flag.BoolVar(&acceptXAPIKey, "accept-x-api-key-header", false, "also accept the key from an x-api-key header, not just Authorization: Bearer")
	flag.StringVar(&gatewayBaseURL, "gateway-base-url", "", "externally-reachable base URL, used to detect profile/upstream self-loops")
	flag.StringVar(&contractFanoutDSN, "contract-fanout-dsn", "", "Postgres connection string for durable contract-change events and cross-node list_changed fanout; empty runs single-node, in-memory only")
	flag.StringVar(&contractFanoutChannel, "contract-fanout-channel", "mcp_gateway_contract_events", "Postgres NOTIFY channel used for contract-fanout-dsn")
	flag.Parse()

	slog.SetLogLoggerLevel(slog.Level(logLevel))
	if logFormat == "json" {
		logger = slog.New(slog.NewJSONHandler(os.Stdout, nil))
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	loader := config.NewLoader(configFile, gatewayBaseURL, logger)

	ttlCache, err := session.NewTTLCache(ctx, redisURL)
	if err != nil {
		log.Fatalf("session cache: %v", err)
	}

	gw := &gateway{
		servers:          map[string]*glue.Server{},
		baseURL:          gatewayBaseURL,
		defaultTimeout:   defaultTimeout,
		maxTimeout:       maxTimeout,
		acceptXAPIKey:    acceptXAPIKey,
		apiKeyCredential: apiKeyCredential,
		manager:          upstream.NewManager(),
		surfaceCache:     session.NewSurfaceCache(ttlCache, surfaceCacheTTL, logger),
		endpoints:        session.NewEndpointCache(ttlCache, endpointCacheTTL, logger),
		tracker:          contracts.NewTracker(),
		logger:           logger,
	}

	var fanoutListener *contracts.FanoutListener
	if contractFanoutDSN != "" {
		nodeID := fmt.Sprintf("%s-%d", hostnameOrUnknown(), os.Getpid())
		store, err := contracts.NewPostgresFanoutStore(contractFanoutDSN, contractFanoutChannel)
		if err != nil {
			log.Fatalf("contract fanout: %v", err)
		}
		gw.tracker.EnableFanout(store, nodeID)

		fanoutListener, err = contracts.NewFanoutListener(contractFanoutDSN, contractFanoutChannel, nodeID, gw.tracker, logger)
		if err != nil {
			log.Fatalf("contract fanout: %v", err)
		}
		go fanoutListener.Run(ctx)
		logger.Info("contract fanout enabled", "nodeId", nodeID, "channel", contractFanoutChannel)
	}

	loader.RegisterObserver(gw)
	if err := loader.Start(ctx); err != nil {
		log.Fatalf("config: %v", err)
	}
	state := loader.State()

	if contractFanoutDSN != "" {
		for _, profile := range state.Profiles {
			if err := gw.tracker.ReplayProfile(ctx, profile.ID, 0, 1000); err != nil {
				logger.Warn("contract fanout replay failed at startup", "profile", profile.ID, "error", err)
			}
		}
	}

	gw.local, err = buildLocalSources(state)
	if err != nil {
		log.Fatalf("config: %v", err)
	}
	gw.sync(ctx, state)

	mux := http.NewServeMux()
	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		profileID, rest, ok := strings.Cut(strings.TrimPrefix(r.URL.Path, "/"), "/")
		if !ok || rest != "mcp" {
			http.NotFound(w, r)
			return
		}
		gw.mu.RLock()
		srv, ok := gw.servers[profileID]
		gw.mu.RUnlock()
		if !ok {
			http.Error(w, fmt.Sprintf("unknown or disabled profile %q", profileID), http.StatusNotFound)
			return
		}
		srv.ServeHTTP(w, r)
	})

	httpSrv := &http.Server{
		Addr:         addr,
		Handler:      mux,
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 0,
	}
	go func() {
		logger.Info("[http] starting MCP Gateway", "listening", addr)
		if err := httpSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("[http] %v", err)
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down MCP Gateway")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := httpSrv.Shutdown(shutdownCtx); err != nil {
		log.Printf("HTTP shutdown error: %v; ignoring", err)
	}
	if err := gw.manager.DisconnectAll(); err != nil {
		log.Printf("upstream disconnect error: %v; ignoring", err)
	}
	if err := gw.local.Shutdown(); err != nil {
		log.Printf("local source shutdown error: %v; ignoring", err)
	}
	if fanoutListener != nil {
		if err := fanoutListener.Close(); err != nil {
			log.Printf("contract fanout listener close error: %v; ignoring", err)
		}
	}
}

// hostnameOrUnknown returns os.Hostname(), falling back to a fixed string
// rather than failing the process just because a contract-fanout node id
// couldn't be made prettier.
func hostnameOrUnknown() string {
	host, err := os.Hostname()
	if err != nil || host == "" {
		return "unknown-host"
	}
	return host
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
		src, err := httptools.NewWithPolicy(id, cfg, 30*time.Second, safety.GatewayDefault())
		if err != nil {
			return nil, fmt.Errorf("http source %q: %w", id, err)
		}
		registry.Register(id, src)
	}
	for id, cfg := range state.OpenAPISources {
		src, err := openapitools.Load(context.Background(), id, cfg, http.DefaultClient, 30*time.Second, safety.GatewayDefault())
		if err != nil {
			return nil, fmt.Errorf("openapi source %q: %w", id, err)
		}
		registry.Register(id, src)
	}
	for id, cfg := range state.StdioSources {
		src, err := localstdio.Load(context.Background(), id, cfg, 30*time.Second, logger)
		if err != nil {
			return nil, fmt.Errorf("stdio source %q: %w", id, err)
		}
		registry.Register(id, src)
	}
	return registry, nil
}
