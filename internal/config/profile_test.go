package config

import (
	"testing"

	"github.com/kagenti/mcp-gateway/internal/upstream"
)

func TestProfileValidateRejectsNonUUIDv4ID(t *testing.T) {
	p := &Profile{ID: "not-a-uuid", TenantID: "t1", Name: "default"}
	if err := p.Validate(nil, "", nil); err == nil {
		t.Fatalf("expected a validation error for a non-UUIDv4 id")
	}
}

func TestProfileValidateAcceptsUUIDv4ID(t *testing.T) {
	p := &Profile{ID: "3fa85f64-5717-4562-b3fc-2c963f66afa6", TenantID: "t1", Name: "default"}
	if err := p.Validate(nil, "", nil); err != nil {
		t.Fatalf("Validate: %v", err)
	}
}

func TestProfileValidateRejectsDuplicateNameWithinTenant(t *testing.T) {
	other := &Profile{ID: "3fa85f64-5717-4562-b3fc-2c963f66afa6", TenantID: "t1", Name: "Default"}
	p := &Profile{ID: "6ba85f64-5717-4562-b3fc-2c963f66afa7", TenantID: "t1", Name: "default"}
	if err := p.Validate([]*Profile{other, p}, "", nil); err == nil {
		t.Fatalf("expected a validation error for a case-insensitive duplicate name")
	}
}

func TestProfileValidateAllowsSameNameAcrossTenants(t *testing.T) {
	other := &Profile{ID: "3fa85f64-5717-4562-b3fc-2c963f66afa6", TenantID: "t2", Name: "default"}
	p := &Profile{ID: "6ba85f64-5717-4562-b3fc-2c963f66afa7", TenantID: "t1", Name: "default"}
	if err := p.Validate([]*Profile{other, p}, "", nil); err != nil {
		t.Fatalf("Validate: %v", err)
	}
}

func TestProfileValidateRejectsUpstreamSelfLoop(t *testing.T) {
	p := &Profile{
		ID:          "3fa85f64-5717-4562-b3fc-2c963f66afa6",
		TenantID:    "t1",
		Name:        "default",
		UpstreamIDs: []string{"up1"},
	}
	upstreams := map[string]*Upstream{
		"up1": {ID: "up1", Enabled: true, Endpoints: []upstream.Endpoint{
			{ID: "e1", URL: "https://gateway.example.com/3fa85f64-5717-4562-b3fc-2c963f66afa6/mcp"},
		}},
	}
	if err := p.Validate([]*Profile{p}, "https://gateway.example.com", upstreams); err == nil {
		t.Fatalf("expected a self-loop validation error")
	}
}

func TestProfileValidateAllowsDistinctUpstreamPath(t *testing.T) {
	p := &Profile{
		ID:          "3fa85f64-5717-4562-b3fc-2c963f66afa6",
		TenantID:    "t1",
		Name:        "default",
		UpstreamIDs: []string{"up1"},
	}
	upstreams := map[string]*Upstream{
		"up1": {ID: "up1", Enabled: true, Endpoints: []upstream.Endpoint{
			{ID: "e1", URL: "https://other-service.example.com/mcp"},
		}},
	}
	if err := p.Validate([]*Profile{p}, "https://gateway.example.com", upstreams); err != nil {
		t.Fatalf("Validate: %v", err)
	}
}

func TestProfileFingerprintIsStableAcrossFieldOrdering(t *testing.T) {
	p1 := &Profile{EnabledTools: []string{"b:tool", "a:tool"}, SourceIDs: []string{"s2", "s1"}}
	p2 := &Profile{EnabledTools: []string{"a:tool", "b:tool"}, SourceIDs: []string{"s1", "s2"}}
	if p1.Fingerprint() != p2.Fingerprint() {
		t.Fatalf("fingerprints should be order-independent: %q vs %q", p1.Fingerprint(), p2.Fingerprint())
	}
}

func TestProfileFingerprintChangesWithAllowlist(t *testing.T) {
	p1 := &Profile{EnabledTools: []string{"a:tool"}}
	p2 := &Profile{EnabledTools: []string{"a:tool", "b:tool"}}
	if p1.Fingerprint() == p2.Fingerprint() {
		t.Fatalf("expected different fingerprints for different allowlists")
	}
}

func TestProfileToolAllowedEmptyAllowlistAllowsAll(t *testing.T) {
	p := &Profile{}
	if !p.ToolAllowed("anything:at-all") {
		t.Fatalf("expected an empty allowlist to allow every tool")
	}
}

func TestProfileToolAllowedChecksExactMatch(t *testing.T) {
	p := &Profile{EnabledTools: []string{"weather:get"}}
	if !p.ToolAllowed("weather:get") {
		t.Fatalf("expected weather:get to be allowed")
	}
	if p.ToolAllowed("weather:forecast") {
		t.Fatalf("expected weather:forecast to be rejected")
	}
}

func TestProfileTimeoutPolicyProjectsToolPolicies(t *testing.T) {
	secs := int64(30)
	p := &Profile{ToolCallTimeoutSecs: &secs, ToolPolicies: []ToolPolicy{{Tool: "a:b", TimeoutSecs: &secs}}}
	policy := p.TimeoutPolicy(10, 60)
	if policy.SystemDefaultSecs != 10 || policy.SystemMaxSecs != 60 {
		t.Fatalf("policy = %+v, want system defaults threaded through", policy)
	}
	if len(policy.ToolPolicies) != 1 || policy.ToolPolicies[0].Tool != "a:b" {
		t.Fatalf("policy.ToolPolicies = %+v, want [a:b]", policy.ToolPolicies)
	}
}

func TestEndpointResolverResolvesConfiguredUpstream(t *testing.T) {
	upstreams := map[string]*Upstream{
		"up1": {ID: "up1", Endpoints: []upstream.Endpoint{{ID: "e1", URL: "https://e1.example"}}},
	}
	resolve := EndpointResolver(upstreams)
	eps, err := resolve(nil, "up1")
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if len(eps) != 1 || eps[0].ID != "e1" {
		t.Fatalf("eps = %+v, want [e1]", eps)
	}
}

func TestEndpointResolverErrorsOnUnknownUpstream(t *testing.T) {
	resolve := EndpointResolver(map[string]*Upstream{})
	if _, err := resolve(nil, "missing"); err == nil {
		t.Fatalf("expected an error for an unknown upstream")
	}
}
