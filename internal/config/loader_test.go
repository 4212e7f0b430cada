package config

import (
	"context"
	"os"
	"path/filepath"
	"testing"
)

func writeConfigFile(t *testing.T, contents string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	if err := os.WriteFile(path, []byte(contents), 0o600); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
	return path
}

const validConfigYAML = `
upstreams:
  - id: up1
    enabled: true
    endpoints:
      - id: e1
        url: https://backend.example.com/mcp
        enabled: true
profiles:
  - id: 3fa85f64-5717-4562-b3fc-2c963f66afa6
    tenantId: t1
    name: default
    enabled: true
    upstreamIds: [up1]
`

func TestLoaderLoadParsesProfilesAndUpstreams(t *testing.T) {
	path := writeConfigFile(t, validConfigYAML)
	l := NewLoader(path, "", nil)

	state, err := l.Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if len(state.Profiles) != 1 {
		t.Fatalf("Profiles = %d, want 1", len(state.Profiles))
	}
	if state.Profiles[0].TenantID != "t1" {
		t.Fatalf("TenantID = %q, want t1", state.Profiles[0].TenantID)
	}
	up, ok := state.Upstreams["up1"]
	if !ok || len(up.Endpoints) != 1 || up.Endpoints[0].URL != "https://backend.example.com/mcp" {
		t.Fatalf("Upstreams[up1] = %+v, want one endpoint to backend.example.com", up)
	}
}

func TestLoaderLoadRejectsInvalidProfile(t *testing.T) {
	path := writeConfigFile(t, `
profiles:
  - id: not-a-uuid
    tenantId: t1
    name: default
`)
	l := NewLoader(path, "", nil)
	if _, err := l.Load(); err == nil {
		t.Fatalf("expected Load to reject a non-UUIDv4 profile id")
	}
}

func TestLoaderStartPopulatesState(t *testing.T) {
	path := writeConfigFile(t, validConfigYAML)
	l := NewLoader(path, "", nil)
	if err := l.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if l.State() == nil || len(l.State().Profiles) != 1 {
		t.Fatalf("State() = %+v, want one profile", l.State())
	}
}

func TestLoaderProfileByID(t *testing.T) {
	state := &State{Profiles: []*Profile{{ID: "p1"}, {ID: "p2"}}}
	if state.ProfileByID("p2") == nil {
		t.Fatalf("expected to find profile p2")
	}
	if state.ProfileByID("missing") != nil {
		t.Fatalf("expected no profile for an unknown id")
	}
}
