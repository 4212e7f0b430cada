// main implements the CLI for mcp-router: the optional Envoy ext_proc
// sidecar that fast-paths upstream tool calls straight to their backend,
// grounded on the broker/router binary's flag, logging and config-reload
// shape.
package main

import (
	"context"
	"flag"
	"log"
	"log/slog"
	"net"
	"os"
	"os/signal"
	"time"

	envoy_service_ext_proc_v3 "github.com/envoyproxy/go-control-plane/envoy/service/ext_proc/v3"
	"google.golang.org/grpc"

	"github.com/kagenti/mcp-gateway/internal/aggregator"
	"github.com/kagenti/mcp-gateway/internal/config"
	"github.com/kagenti/mcp-gateway/internal/extproc"
	"github.com/kagenti/mcp-gateway/internal/session"
	"github.com/kagenti/mcp-gateway/internal/upstream"
	"github.com/mark3labs/mcp-go/mcp"
)

var logger = slog.New(slog.NewTextHandler(os.Stdout, nil))

func main() {
	var (
		addr           string
		configFile     string
		logLevel       int
		logFormat      string
		routerAPIKey   string
		sessionMapTTL  time.Duration
		endpointTTL    time.Duration
		redisURL       string
	)
	flag.StringVar(&addr, "addr", getEnv("SERVER_ADDRESS", "0.0.0.0:9002"), "gRPC address Envoy's ext_proc filter connects to")
	flag.StringVar(&configFile, "config", "./config/mcp-gateway/config.yaml", "where to locate the profile/upstream/source config driving routing decisions")
	flag.IntVar(&logLevel, "log-level", int(slog.LevelInfo), "set the log level 0=info, 4=warn, 8=error and -4=debug")
	flag.StringVar(&logFormat, "log-format", "txt", "switch to json logs with --log-format=json")
	flag.StringVar(&routerAPIKey, "router-api-key", "", "shared key required on remote-initialize requests")
	flag.DurationVar(&sessionMapTTL, "remote-session-ttl", 30*time.Minute, "how long a minted remote upstream session stays bound to a gateway session")
	flag.DurationVar(&endpointTTL, "endpoint-cache-ttl", time.Minute, "how long a resolved upstream endpoint set stays cached")
	flag.StringVar(&redisURL, "redis-url", "", "Redis connection string for the shared remote-session/endpoint caches; empty runs a single-node in-memory cache")
	flag.Parse()

	slog.SetLogLoggerLevel(slog.Level(logLevel))
	if logFormat == "json" {
		logger = slog.New(slog.NewJSONHandler(os.Stdout, nil))
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	loader := config.NewLoader(configFile, "", logger)

	ttlCache, err := session.NewTTLCache(ctx, redisURL)
	if err != nil {
		log.Fatalf("session cache: %v", err)
	}
	endpoints := session.NewEndpointCache(ttlCache, endpointTTL, logger)
	manager := upstream.NewManager()

	registry := aggregator.NewRegistry()
	extSrv := &extproc.ExtProcServer{
		Registry: registry,
		Endpoints: func(ctx context.Context, upstreamID string) ([]upstream.Endpoint, error) {
			if cached, ok := endpoints.Get(upstreamID); ok {
				return cached, nil
			}
			state := loader.State()
			up, ok := state.Upstreams[upstreamID]
			if !ok {
				return nil, os.ErrNotExist
			}
			endpoints.Put(upstreamID, up.Endpoints)
			return up.Endpoints, nil
		},
		Manager:       manager,
		Sessions:      extproc.NewSessionMap(ttlCache, sessionMapTTL),
		RoutingConfig: extproc.RoutingConfig{RouterAPIKey: routerAPIKey},
		Logger:        logger,
	}

	reloader := &routingReloader{registry: registry, manager: manager, endpoints: endpoints, logger: logger}
	loader.RegisterObserver(reloader)
	if err := loader.Start(ctx); err != nil {
		log.Fatalf("config: %v", err)
	}
	reloader.OnStateChange(ctx, loader.State())

	lis, err := net.Listen("tcp", addr)
	if err != nil {
		log.Fatalf("failed to listen: %v", err)
	}
	grpcSrv := grpc.NewServer()
	envoy_service_ext_proc_v3.RegisterExternalProcessorServer(grpcSrv, extSrv)

	go func() {
		logger.Info("ext_proc server starting", "listening", addr)
		if err := grpcSrv.Serve(lis); err != nil {
			log.Fatalf("failed to serve: %v", err)
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down mcp-router")
	grpcSrv.GracefulStop()
	if err := manager.DisconnectAll(); err != nil {
		log.Printf("upstream disconnect error: %v; ignoring", err)
	}
}

// routingReloader rebuilds the shared routing table every time config
// changes, merging the tools of every enabled upstream in the config into
// one registry — Envoy's ext_proc filter sees one global tool namespace, so
// this intentionally doesn't do the per-profile allowlisting
// internal/surfacebuild does for the HTTP surface; it only needs to know
// which upstream a (collision-safe) tool name belongs to.
type routingReloader struct {
	registry  *aggregator.Registry
	manager   *upstream.Manager
	endpoints *session.EndpointCache
	logger    *slog.Logger
}

func (r *routingReloader) OnStateChange(ctx context.Context, state *config.State) {
	var toolSources []aggregator.SourceTools
	for upstreamID, up := range state.Upstreams {
		if !up.Enabled || len(up.Endpoints) == 0 {
			continue
		}
		endpoint := up.Endpoints[0]
		for _, ep := range up.Endpoints {
			if ep.Enabled {
				endpoint = ep
				break
			}
		}
		conn, err := r.manager.Get(ctx, upstreamID, endpoint, 0)
		if err != nil {
			r.logger.Warn("skipping unreachable upstream while rebuilding routing table", "upstream", upstreamID, "error", err)
			continue
		}
		res, err := conn.ListTools(ctx, mcp.ListToolsRequest{})
		if err != nil {
			r.logger.Warn("failed to list tools while rebuilding routing table", "upstream", upstreamID, "error", err)
			continue
		}
		toolSources = append(toolSources, aggregator.SourceTools{Kind: aggregator.Upstream, SourceID: upstreamID, Tools: res.Tools})
		r.endpoints.Put(upstreamID, up.Endpoints)
	}

	tools, routes, ambiguous := aggregator.MergeTools(toolSources)
	r.registry.Refresh(aggregator.Surface{
		Tools:          tools,
		ToolRoutes:     routes,
		AmbiguousTools: ambiguous,
		ResourceRoutes: map[string]aggregator.ResourceRoute{},
		PromptRoutes:   map[string]aggregator.PromptRoute{},
	})
	r.logger.Info("rebuilt ext_proc routing table", "tools", len(tools), "upstreams", len(toolSources))
}

func getEnv(key, fallback string) string {
	if value, ok := os.LookupEnv(key); ok {
		return value
	}
	return fallback
}
