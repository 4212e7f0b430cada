// Package authhook gates data-plane requests (tools/call and friends)
// behind one of a profile's configured auth modes: disabled, API-key
// checked once at session initialize, API-key checked on every request, or
// a bearer JWT checked and bound to the session on every request.
package authhook

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
)

// Mode selects how a profile gates data-plane requests.
type Mode int

const (
	// Disabled performs no data-plane authentication.
	Disabled Mode = iota
	// ApiKeyInitOnly requires a valid API key at session initialize; later
	// requests only re-check that the key bound at initialize is still active.
	ApiKeyInitOnly
	// ApiKeyEveryRequest requires a valid, matching API key on every
	// request, re-authenticated each time.
	ApiKeyEveryRequest
	// JwtEveryRequest requires a valid bearer JWT on every request, whose
	// issuer and subject must match the one bound at initialize.
	JwtEveryRequest
)

// ErrUnauthorized is wrapped by every rejection this package returns, so
// callers can map it to an HTTP 401 without string-matching messages.
var ErrUnauthorized = errors.New("unauthorized")

func unauthorized(msg string) error {
	return fmt.Errorf("%s: %w", msg, ErrUnauthorized)
}

// ApiKeyPrincipal identifies an authenticated API key, bound into a
// session at initialize time.
type ApiKeyPrincipal struct {
	TenantID string
	KeyID    string
}

// JWTPrincipal identifies an authenticated bearer JWT's subject, bound
// into a session at initialize time.
type JWTPrincipal struct {
	Issuer  string
	Subject string
}

// SessionPrincipal is whatever this package bound to a session at
// initialize time; later requests are checked against it.
type SessionPrincipal struct {
	APIKey *ApiKeyPrincipal
	JWT    *JWTPrincipal
}

// ApiKeyStore resolves and tracks API keys. TenantID/ProfileID scope the
// lookup; KeyID identifies the specific key that matched.
type ApiKeyStore interface {
	Authenticate(ctx context.Context, tenantID, profileID, secret string) (ApiKeyPrincipal, error)
	IsActive(ctx context.Context, tenantID, keyID string) (bool, error)
	Touch(ctx context.Context, tenantID, keyID string) error
}

// JWTValidator validates a bearer token and extracts its principal. An
// OIDC-backed implementation validates signature, issuer and expiry and
// reads "sub" (falling back to "oid" for Entra ID) for the subject.
type JWTValidator interface {
	Validate(ctx context.Context, token string) (JWTPrincipal, error)
}

// PrincipalAllower decides whether an authenticated principal may use a
// profile, independent of whether the credential itself is valid.
type PrincipalAllower interface {
	IsOIDCPrincipalAllowed(ctx context.Context, tenantID, profileID, issuer, subject string) (bool, error)
}

// ExtractAPIKeySecret pulls an API key out of the request: from the
// x-api-key header when acceptXAPIKey is set, otherwise (or as a
// fallback) from a "Bearer <token>" Authorization header.
func ExtractAPIKeySecret(headers http.Header, acceptXAPIKey bool) (string, bool) {
	if acceptXAPIKey {
		if v := strings.TrimSpace(headers.Get("x-api-key")); v != "" {
			return v, true
		}
	}
	return ExtractBearerToken(headers)
}

// ExtractBearerToken pulls a trimmed token out of a "Bearer <token>"
// Authorization header.
func ExtractBearerToken(headers http.Header) (string, bool) {
	authz := headers.Get("Authorization")
	if authz == "" {
		return "", false
	}
	token, ok := strings.CutPrefix(authz, "Bearer ")
	if !ok {
		return "", false
	}
	token = strings.TrimSpace(token)
	if token == "" {
		return "", false
	}
	return token, true
}

// AuthenticateOnInitialize validates the API key presented at session
// initialize and meters its use. Every data-plane auth mode that uses API
// keys runs this once, regardless of whether it also re-checks later.
func AuthenticateOnInitialize(
	ctx context.Context,
	store ApiKeyStore,
	tenantID, profileID string,
	headers http.Header,
	acceptXAPIKey bool,
) (ApiKeyPrincipal, error) {
	secret, ok := ExtractAPIKeySecret(headers, acceptXAPIKey)
	if !ok {
		return ApiKeyPrincipal{}, unauthorized("API key is required for initialize")
	}
	principal, err := store.Authenticate(ctx, tenantID, profileID, secret)
	if err != nil {
		return ApiKeyPrincipal{}, fmt.Errorf("authhook: authenticate api key: %w", err)
	}
	if err := store.Touch(ctx, principal.TenantID, principal.KeyID); err != nil {
		return ApiKeyPrincipal{}, fmt.Errorf("authhook: touch api key: %w", err)
	}
	return principal, nil
}

// AuthorizeJWTRequest validates the bearer JWT on the request and checks
// that its subject is allowed to use the profile, without regard to any
// session binding (used both at initialize and, compared against the
// bound principal, on every later request).
func AuthorizeJWTRequest(
	ctx context.Context,
	validator JWTValidator,
	allower PrincipalAllower,
	tenantID, profileID string,
	headers http.Header,
) (JWTPrincipal, error) {
	token, ok := ExtractBearerToken(headers)
	if !ok {
		return JWTPrincipal{}, unauthorized("bearer token is required")
	}
	principal, err := validator.Validate(ctx, token)
	if err != nil {
		return JWTPrincipal{}, unauthorized("invalid bearer token")
	}
	allowed, err := allower.IsOIDCPrincipalAllowed(ctx, tenantID, profileID, principal.Issuer, principal.Subject)
	if err != nil {
		return JWTPrincipal{}, fmt.Errorf("authhook: check oidc principal: %w", err)
	}
	if !allowed {
		return JWTPrincipal{}, unauthorized("unauthorized")
	}
	return principal, nil
}

// Enforcer checks one data-plane request against a profile's configured
// Mode, using whatever principal was bound to the session at initialize.
type Enforcer struct {
	Mode          Mode
	Store         ApiKeyStore
	Validator     JWTValidator
	Allower       PrincipalAllower
	TenantID      string
	ProfileID     string
	AcceptXAPIKey bool
}

// EnforceRequest gates one non-initialize request per e.Mode.
func (e Enforcer) EnforceRequest(ctx context.Context, headers http.Header, session SessionPrincipal) error {
	switch e.Mode {
	case Disabled:
		return nil
	case ApiKeyInitOnly:
		return e.enforceAPIKeyInitOnly(ctx, session)
	case ApiKeyEveryRequest:
		return e.enforceAPIKeyEveryRequest(ctx, headers, session)
	case JwtEveryRequest:
		return e.enforceJWTEveryRequest(ctx, headers, session)
	default:
		return fmt.Errorf("authhook: unknown mode %v", e.Mode)
	}
}

func (e Enforcer) enforceAPIKeyInitOnly(ctx context.Context, session SessionPrincipal) error {
	if session.APIKey == nil {
		return unauthorized("missing API key in session; re-initialize required")
	}
	if session.APIKey.TenantID != e.TenantID {
		return unauthorized("unauthorized")
	}
	active, err := e.Store.IsActive(ctx, session.APIKey.TenantID, session.APIKey.KeyID)
	if err != nil {
		return fmt.Errorf("authhook: check api key active: %w", err)
	}
	if !active {
		return unauthorized("API key revoked")
	}
	return e.Store.Touch(ctx, session.APIKey.TenantID, session.APIKey.KeyID)
}

func (e Enforcer) enforceAPIKeyEveryRequest(ctx context.Context, headers http.Header, session SessionPrincipal) error {
	if session.APIKey == nil {
		return unauthorized("missing API key in session; re-initialize required")
	}
	if session.APIKey.TenantID != e.TenantID {
		return unauthorized("unauthorized")
	}
	secret, ok := ExtractAPIKeySecret(headers, e.AcceptXAPIKey)
	if !ok {
		return unauthorized("API key header is required")
	}
	principal, err := e.Store.Authenticate(ctx, e.TenantID, e.ProfileID, secret)
	if err != nil {
		return fmt.Errorf("authhook: authenticate api key: %w", err)
	}
	if principal.KeyID != session.APIKey.KeyID {
		return unauthorized("unauthorized")
	}
	return e.Store.Touch(ctx, principal.TenantID, principal.KeyID)
}

func (e Enforcer) enforceJWTEveryRequest(ctx context.Context, headers http.Header, session SessionPrincipal) error {
	principal, err := AuthorizeJWTRequest(ctx, e.Validator, e.Allower, e.TenantID, e.ProfileID, headers)
	if err != nil {
		return err
	}
	if session.JWT == nil {
		return unauthorized("missing OIDC binding in session; re-initialize required")
	}
	if session.JWT.Issuer != principal.Issuer || session.JWT.Subject != principal.Subject {
		return unauthorized("session token principal does not match bearer token")
	}
	return nil
}
