package glue

import (
	"context"
	"errors"
	"net/http"
	"testing"

	"github.com/kagenti/mcp-gateway/internal/authhook"
	"github.com/kagenti/mcp-gateway/internal/router"
	"github.com/mark3labs/mcp-go/mcp"
)

func toolNamed(name string) mcp.Tool { return mcp.Tool{Name: name} }

func TestDiffToolsFindsAddedAndRemoved(t *testing.T) {
	oldTools := []mcp.Tool{toolNamed("a"), toolNamed("b")}
	newTools := []mcp.Tool{toolNamed("b"), toolNamed("c")}

	added, removed := diffTools(oldTools, newTools)
	if len(added) != 1 || added[0].Name != "c" {
		t.Fatalf("added = %+v, want [c]", added)
	}
	if len(removed) != 1 || removed[0].Name != "a" {
		t.Fatalf("removed = %+v, want [a]", removed)
	}
}

func TestDiffToolsNoChangesWhenIdentical(t *testing.T) {
	tools := []mcp.Tool{toolNamed("a")}
	added, removed := diffTools(tools, tools)
	if len(added) != 0 || len(removed) != 0 {
		t.Fatalf("added=%v removed=%v, want both empty", added, removed)
	}
}

func TestToolErrorResultMapsKnownSentinels(t *testing.T) {
	s := &Server{}

	res := s.toolErrorResult("x", router.ErrUnknownTool)
	if !res.IsError {
		t.Fatalf("expected error result for ErrUnknownTool")
	}

	res = s.toolErrorResult("x", router.ErrAmbiguousTool)
	if !res.IsError {
		t.Fatalf("expected error result for ErrAmbiguousTool")
	}
}

func TestToolErrorResultUnwrapsValidationError(t *testing.T) {
	s := &Server{}
	verr := router.ValidateArguments(map[string]any{"required": []any{"city"}}, map[string]any{})
	if verr == nil {
		t.Fatalf("expected a validation error fixture")
	}
	res := s.toolErrorResult("weather_get", verr)
	if !res.IsError {
		t.Fatalf("expected error result for ValidationError")
	}
}

type fakeAPIKeyStore struct {
	principal authhook.ApiKeyPrincipal
	err       error
}

func (f *fakeAPIKeyStore) Authenticate(_ context.Context, _, _, _ string) (authhook.ApiKeyPrincipal, error) {
	if f.err != nil {
		return authhook.ApiKeyPrincipal{}, f.err
	}
	return f.principal, nil
}
func (f *fakeAPIKeyStore) IsActive(_ context.Context, _, _ string) (bool, error) { return true, nil }
func (f *fakeAPIKeyStore) Touch(_ context.Context, _, _ string) error            { return nil }

type fakeJWTValidator struct {
	principal authhook.JWTPrincipal
	err       error
}

func (f *fakeJWTValidator) Validate(_ context.Context, _ string) (authhook.JWTPrincipal, error) {
	if f.err != nil {
		return authhook.JWTPrincipal{}, f.err
	}
	return f.principal, nil
}

type fakeAllower struct{ allowed bool }

func (f *fakeAllower) IsOIDCPrincipalAllowed(_ context.Context, _, _, _, _ string) (bool, error) {
	return f.allowed, nil
}

func headersWithAPIKey(key string) http.Header {
	h := http.Header{}
	h.Set("x-api-key", key)
	return h
}

func TestBindPrincipalOnInitializeDisabledModeReturnsEmptyPrincipal(t *testing.T) {
	s := &Server{cfg: Config{Auth: &authhook.Enforcer{Mode: authhook.Disabled}}}
	p, err := s.bindPrincipalOnInitialize(context.Background(), http.Header{})
	if err != nil {
		t.Fatalf("bindPrincipalOnInitialize: %v", err)
	}
	if p.APIKey != nil || p.JWT != nil {
		t.Fatalf("expected empty principal for disabled mode, got %+v", p)
	}
}

func TestBindPrincipalOnInitializeApiKeyModeBindsKey(t *testing.T) {
	store := &fakeAPIKeyStore{principal: authhook.ApiKeyPrincipal{TenantID: "t1", KeyID: "k1"}}
	enforcer := &authhook.Enforcer{Mode: authhook.ApiKeyInitOnly, Store: store, TenantID: "t1", ProfileID: "p1", AcceptXAPIKey: true}
	s := &Server{cfg: Config{Auth: enforcer}}

	p, err := s.bindPrincipalOnInitialize(context.Background(), headersWithAPIKey("secret"))
	if err != nil {
		t.Fatalf("bindPrincipalOnInitialize: %v", err)
	}
	if p.APIKey == nil || p.APIKey.KeyID != "k1" {
		t.Fatalf("principal = %+v, want bound api key k1", p)
	}
}

func TestBindPrincipalOnInitializeRejectsMissingKey(t *testing.T) {
	enforcer := &authhook.Enforcer{Mode: authhook.ApiKeyInitOnly, Store: &fakeAPIKeyStore{}, TenantID: "t1", ProfileID: "p1"}
	s := &Server{cfg: Config{Auth: enforcer}}

	_, err := s.bindPrincipalOnInitialize(context.Background(), http.Header{})
	if !errors.Is(err, authhook.ErrUnauthorized) {
		t.Fatalf("err = %v, want ErrUnauthorized", err)
	}
}

func TestBindPrincipalOnInitializeJwtModeBindsPrincipal(t *testing.T) {
	validator := &fakeJWTValidator{principal: authhook.JWTPrincipal{Issuer: "iss", Subject: "subj"}}
	enforcer := &authhook.Enforcer{Mode: authhook.JwtEveryRequest, Validator: validator, Allower: &fakeAllower{allowed: true}, TenantID: "t1", ProfileID: "p1"}
	s := &Server{cfg: Config{Auth: enforcer}}

	h := http.Header{}
	h.Set("Authorization", "Bearer jwt-token")
	p, err := s.bindPrincipalOnInitialize(context.Background(), h)
	if err != nil {
		t.Fatalf("bindPrincipalOnInitialize: %v", err)
	}
	if p.JWT == nil || p.JWT.Subject != "subj" {
		t.Fatalf("principal = %+v, want bound jwt subj", p)
	}
}

func TestWithRequestContextRoundTripsHeadersPrincipalFingerprint(t *testing.T) {
	h := http.Header{}
	h.Set(mcpSessionHeader, "sess-1")
	principal := authhook.SessionPrincipal{APIKey: &authhook.ApiKeyPrincipal{KeyID: "k1"}}

	ctx := WithRequestContext(context.Background(), h, principal, "fp-1")

	if got := sessionTokenFromContext(ctx); got != "sess-1" {
		t.Fatalf("sessionTokenFromContext() = %q, want sess-1", got)
	}
	if got := fingerprintFromContext(ctx); got != "fp-1" {
		t.Fatalf("fingerprintFromContext() = %q, want fp-1", got)
	}
	got := sessionPrincipalFromContext(ctx)
	if got.APIKey == nil || got.APIKey.KeyID != "k1" {
		t.Fatalf("sessionPrincipalFromContext() = %+v, want bound api key k1", got)
	}
}

func TestHeadersFromContextDefaultsToEmptyWhenUnset(t *testing.T) {
	h := headersFromContext(context.Background())
	if h == nil || len(h) != 0 {
		t.Fatalf("headersFromContext() = %v, want empty non-nil header", h)
	}
}
