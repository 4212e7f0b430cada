package surfacebuild

import (
	"context"
	"testing"

	"github.com/kagenti/mcp-gateway/internal/config"
	"github.com/kagenti/mcp-gateway/internal/localsources"
	"github.com/kagenti/mcp-gateway/internal/upstream"
	"github.com/mark3labs/mcp-go/mcp"
)

type fakeSource struct {
	tools []mcp.Tool
}

func (f *fakeSource) ListTools() []mcp.Tool { return f.tools }
func (f *fakeSource) CallTool(context.Context, string, map[string]any) (*mcp.CallToolResult, error) {
	return nil, nil
}

func noUpstreams(context.Context, string) ([]upstream.Endpoint, error) {
	return nil, nil
}

func TestBuilderBuildMergesLocalSourcesAndAppliesAllowlist(t *testing.T) {
	local := localsources.NewRegistry()
	local.Register("weather", &fakeSource{tools: []mcp.Tool{{Name: "forecast"}, {Name: "alerts"}}})

	profile := &config.Profile{
		ID:           "p1",
		SourceIDs:    []string{"weather"},
		EnabledTools: []string{"weather:forecast"},
	}
	b := &Builder{Local: local, Endpoints: noUpstreams, ListUpstreamTools: nil}

	surface, err := b.build(context.Background(), profile)
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	if len(surface.Tools) != 1 || surface.Tools[0].Name != "forecast" {
		t.Fatalf("Tools = %+v, want only forecast to survive the allowlist", surface.Tools)
	}
	route, ok := surface.ToolRoutes["forecast"]
	if !ok || route.SourceID != "weather" || route.OriginalName != "forecast" {
		t.Fatalf("ToolRoutes[forecast] = %+v, %v", route, ok)
	}
	if surface.Fingerprint != profile.Fingerprint() {
		t.Fatalf("Fingerprint = %q, want %q", surface.Fingerprint, profile.Fingerprint())
	}
}

func TestBuilderBuildFailsOnUnknownSourceWithoutAllowPartial(t *testing.T) {
	local := localsources.NewRegistry()
	profile := &config.Profile{ID: "p1", SourceIDs: []string{"missing"}}
	b := &Builder{Local: local, Endpoints: noUpstreams}

	if _, err := b.build(context.Background(), profile); err == nil {
		t.Fatalf("expected an error for an unknown source with AllowPartialUpstreams=false")
	}
}

func TestBuilderBuildToleratesUnknownSourceWithAllowPartial(t *testing.T) {
	local := localsources.NewRegistry()
	profile := &config.Profile{ID: "p1", SourceIDs: []string{"missing"}, AllowPartialUpstreams: true}
	b := &Builder{Local: local, Endpoints: noUpstreams}

	surface, err := b.build(context.Background(), profile)
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	if len(surface.Tools) != 0 {
		t.Fatalf("Tools = %+v, want none", surface.Tools)
	}
}

func TestBuilderBindReturnsWorkingSurfaceBuilder(t *testing.T) {
	local := localsources.NewRegistry()
	local.Register("weather", &fakeSource{tools: []mcp.Tool{{Name: "forecast"}}})
	profile := &config.Profile{ID: "p1", SourceIDs: []string{"weather"}}
	b := &Builder{Local: local, Endpoints: noUpstreams}

	build := b.Bind(profile)
	surface, err := build(context.Background())
	if err != nil {
		t.Fatalf("bound builder: %v", err)
	}
	if len(surface.Tools) != 1 {
		t.Fatalf("Tools = %+v, want one", surface.Tools)
	}
}
