package config

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net/url"
	"regexp"
	"sort"
	"strings"

	"github.com/kagenti/mcp-gateway/internal/router"
	"github.com/kagenti/mcp-gateway/internal/upstream"
)

// DataPlaneAuthMode names the per-profile request-authentication mode
// internal/authhook enforces. Mirrors authhook.Mode by name rather than by
// value, so config parsing doesn't need to import authhook's iota ordering.
type DataPlaneAuthMode string

const (
	AuthDisabled           DataPlaneAuthMode = "Disabled"
	AuthAPIKeyInitOnly     DataPlaneAuthMode = "ApiKeyInitOnly"
	AuthAPIKeyEveryRequest DataPlaneAuthMode = "ApiKeyEveryRequest"
	AuthJWTEveryRequest    DataPlaneAuthMode = "JwtEveryRequest"
)

// ToolPolicy overrides the timeout/retry for one "source:original" tool ref.
type ToolPolicy struct {
	Tool        string
	TimeoutSecs *int64
	Retry       *router.RetryPolicy
}

// Profile is a named, tenant-owned bundle of upstreams and sources exposed
// as one MCP surface. The Adapter runs exactly one implicit Profile; the
// Gateway runs many, addressed by id.
type Profile struct {
	ID                    string
	TenantID              string
	Name                  string
	Enabled               bool
	AllowPartialUpstreams bool
	UpstreamIDs           []string
	SourceIDs             []string
	Transforms            map[string]ToolPolicyTransform // original tool name -> override
	EnabledTools          []string                        // allowlist, "source:original"; empty => allow-all
	DataPlaneAuthMode     DataPlaneAuthMode
	AcceptAlternateAPIKeyHeader bool
	ToolCallTimeoutSecs   *int64
	ToolPolicies          []ToolPolicy
}

// ToolPolicyTransform is the per-tool rename/default override a profile (or
// source) configures, the config-layer twin of transform.ToolOverride.
type ToolPolicyTransform struct {
	Rename       string
	Description  string
	ParamRenames map[string]string
	Defaults     map[string]any
}

var uuidV4 = regexp.MustCompile(`^[0-9a-f]{8}-[0-9a-f]{4}-4[0-9a-f]{3}-[89ab][0-9a-f]{3}-[0-9a-f]{12}$`)

// Validate checks a Profile's invariants: the id must be a UUIDv4 string,
// the name must be unique (case-insensitively) among the same tenant's
// profiles in allProfiles, and, when gatewayBaseURL is set, no endpoint URL
// of the profile's upstreams may have this profile's own MCP path, ignoring
// a trailing slash (a self-loop).
func (p *Profile) Validate(allProfiles []*Profile, gatewayBaseURL string, upstreams map[string]*Upstream) error {
	if !uuidV4.MatchString(strings.ToLower(p.ID)) {
		return fmt.Errorf("config: profile id %q is not a UUIDv4", p.ID)
	}
	for _, other := range allProfiles {
		if other == p || other.TenantID != p.TenantID {
			continue
		}
		if strings.EqualFold(other.Name, p.Name) {
			return fmt.Errorf("config: profile name %q is not unique within tenant %q", p.Name, p.TenantID)
		}
	}
	if gatewayBaseURL == "" {
		return nil
	}
	ownPath, err := profileMCPPath(gatewayBaseURL, p.ID)
	if err != nil {
		return err
	}
	for _, upstreamID := range p.UpstreamIDs {
		up, ok := upstreams[upstreamID]
		if !ok {
			continue
		}
		for _, ep := range up.Endpoints {
			u, err := url.Parse(ep.URL)
			if err != nil {
				continue
			}
			if strings.TrimSuffix(u.Path, "/") == strings.TrimSuffix(ownPath, "/") {
				return fmt.Errorf("config: profile %q has an upstream endpoint %q that resolves back to its own MCP path (self-loop)", p.ID, ep.URL)
			}
		}
	}
	return nil
}

func profileMCPPath(gatewayBaseURL, profileID string) (string, error) {
	u, err := url.Parse(gatewayBaseURL)
	if err != nil {
		return "", fmt.Errorf("config: invalid gateway base URL %q: %w", gatewayBaseURL, err)
	}
	return strings.TrimSuffix(u.Path, "/") + "/" + profileID + "/mcp", nil
}

// Fingerprint is the sha256 (hex) of the canonicalized JSON of the
// allowlist, transforms, and source-id list — the tools-surface cache
// invalidates whenever this changes, per spec.md §3's "Tools-surface
// snapshot" entity.
func (p *Profile) Fingerprint() string {
	allowlist := append([]string(nil), p.EnabledTools...)
	sort.Strings(allowlist)
	sourceIDs := append([]string(nil), p.SourceIDs...)
	sort.Strings(sourceIDs)

	payload := struct {
		Allowlist  []string                       `json:"allowlist"`
		Transforms map[string]ToolPolicyTransform `json:"transforms"`
		SourceIDs  []string                       `json:"sourceIds"`
	}{Allowlist: allowlist, Transforms: p.Transforms, SourceIDs: sourceIDs}

	b, err := json.Marshal(payload)
	if err != nil {
		// Marshal of plain maps/slices of strings never fails; this is
		// unreachable, but a zero-value fingerprint is still safe (it
		// just forces a cache miss on every lookup).
		return ""
	}
	sum := sha256.Sum256(b)
	return hex.EncodeToString(sum[:])
}

// ToolAllowed reports whether toolRef ("source:original") passes this
// profile's allowlist. An empty EnabledTools list means allow-all.
func (p *Profile) ToolAllowed(toolRef string) bool {
	if len(p.EnabledTools) == 0 {
		return true
	}
	for _, t := range p.EnabledTools {
		if t == toolRef {
			return true
		}
	}
	return false
}

// TimeoutPolicy projects this profile's timeout/retry configuration into
// the router.Policy shape Resolve/Dispatch consume.
func (p *Profile) TimeoutPolicy(systemDefaultSecs, systemMaxSecs int64) router.Policy {
	tps := make([]router.ToolTimeout, 0, len(p.ToolPolicies))
	for _, tp := range p.ToolPolicies {
		tps = append(tps, router.ToolTimeout{Tool: tp.Tool, TimeoutSecs: tp.TimeoutSecs, Retry: tp.Retry})
	}
	return router.Policy{
		ProfileTimeoutSecs: p.ToolCallTimeoutSecs,
		SystemDefaultSecs:  systemDefaultSecs,
		SystemMaxSecs:      systemMaxSecs,
		ToolPolicies:       tps,
	}
}

// Upstream is a remote MCP server reachable over one or more equivalent
// endpoints, per spec.md §3's Upstream entity.
type Upstream struct {
	ID        string
	Enabled   bool
	Endpoints []upstream.Endpoint
}

// EndpointResolver adapts a static map of upstream configs into the
// EndpointResolver glue.UpstreamDispatcher needs, for deployments that
// don't need a cache in front of it (e.g. the Adapter, whose config never
// changes at runtime).
func EndpointResolver(upstreams map[string]*Upstream) func(ctx context.Context, upstreamID string) ([]upstream.Endpoint, error) {
	return func(_ context.Context, upstreamID string) ([]upstream.Endpoint, error) {
		up, ok := upstreams[upstreamID]
		if !ok {
			return nil, fmt.Errorf("config: unknown upstream %q", upstreamID)
		}
		return up.Endpoints, nil
	}
}
