package authhook

import (
	"context"
	"errors"
	"net/http"
	"testing"

	"github.com/stretchr/testify/require"
)

type fakeAPIKeyStore struct {
	principal  ApiKeyPrincipal
	authErr    error
	active     bool
	touchCalls int
	authedWith string
}

func (f *fakeAPIKeyStore) Authenticate(_ context.Context, tenantID, profileID, secret string) (ApiKeyPrincipal, error) {
	f.authedWith = secret
	if f.authErr != nil {
		return ApiKeyPrincipal{}, f.authErr
	}
	return f.principal, nil
}

func (f *fakeAPIKeyStore) IsActive(_ context.Context, tenantID, keyID string) (bool, error) {
	return f.active, nil
}

func (f *fakeAPIKeyStore) Touch(_ context.Context, tenantID, keyID string) error {
	f.touchCalls++
	return nil
}

type fakeJWTValidator struct {
	principal JWTPrincipal
	err       error
}

func (f *fakeJWTValidator) Validate(_ context.Context, token string) (JWTPrincipal, error) {
	if f.err != nil {
		return JWTPrincipal{}, f.err
	}
	return f.principal, nil
}

type fakeAllower struct{ allowed bool }

func (f *fakeAllower) IsOIDCPrincipalAllowed(_ context.Context, tenantID, profileID, issuer, subject string) (bool, error) {
	return f.allowed, nil
}

func headersWithBearer(token string) http.Header {
	h := http.Header{}
	h.Set("Authorization", "Bearer "+token)
	return h
}

func TestExtractAPIKeySecretPrefersXAPIKeyHeader(t *testing.T) {
	h := http.Header{}
	h.Set("x-api-key", " secret-1 ")
	h.Set("Authorization", "Bearer other")

	secret, ok := ExtractAPIKeySecret(h, true)
	require.True(t, ok)
	require.Equal(t, "secret-1", secret)
}

func TestExtractAPIKeySecretFallsBackToBearerWhenXAPIKeyDisabled(t *testing.T) {
	h := http.Header{}
	h.Set("x-api-key", "secret-1")
	h.Set("Authorization", "Bearer from-bearer")

	secret, ok := ExtractAPIKeySecret(h, false)
	require.True(t, ok)
	require.Equal(t, "from-bearer", secret)
}

func TestExtractBearerTokenRejectsMissingOrEmpty(t *testing.T) {
	_, ok := ExtractBearerToken(http.Header{})
	require.False(t, ok)

	h := http.Header{}
	h.Set("Authorization", "Bearer   ")
	_, ok = ExtractBearerToken(h)
	require.False(t, ok)
}

func TestAuthenticateOnInitializeTouchesKeyOnSuccess(t *testing.T) {
	store := &fakeAPIKeyStore{principal: ApiKeyPrincipal{TenantID: "t1", KeyID: "k1"}, active: true}
	h := headersWithBearer("shh")

	principal, err := AuthenticateOnInitialize(context.Background(), store, "t1", "p1", h, false)
	require.NoError(t, err)
	require.Equal(t, "k1", principal.KeyID)
	require.Equal(t, 1, store.touchCalls)
	require.Equal(t, "shh", store.authedWith)
}

func TestAuthenticateOnInitializeRejectsMissingKey(t *testing.T) {
	store := &fakeAPIKeyStore{}
	_, err := AuthenticateOnInitialize(context.Background(), store, "t1", "p1", http.Header{}, false)
	require.ErrorIs(t, err, ErrUnauthorized)
}

func TestEnforceRequestDisabledModeAlwaysPasses(t *testing.T) {
	e := Enforcer{Mode: Disabled}
	err := e.EnforceRequest(context.Background(), http.Header{}, SessionPrincipal{})
	require.NoError(t, err)
}

func TestEnforceRequestApiKeyInitOnlyRequiresSessionBinding(t *testing.T) {
	e := Enforcer{Mode: ApiKeyInitOnly, Store: &fakeAPIKeyStore{active: true}, TenantID: "t1"}
	err := e.EnforceRequest(context.Background(), http.Header{}, SessionPrincipal{})
	require.ErrorIs(t, err, ErrUnauthorized)
}

func TestEnforceRequestApiKeyInitOnlyRejectsRevokedKey(t *testing.T) {
	store := &fakeAPIKeyStore{active: false}
	e := Enforcer{Mode: ApiKeyInitOnly, Store: store, TenantID: "t1"}
	session := SessionPrincipal{APIKey: &ApiKeyPrincipal{TenantID: "t1", KeyID: "k1"}}

	err := e.EnforceRequest(context.Background(), http.Header{}, session)
	require.ErrorIs(t, err, ErrUnauthorized)
}

func TestEnforceRequestApiKeyInitOnlyPassesAndTouches(t *testing.T) {
	store := &fakeAPIKeyStore{active: true}
	e := Enforcer{Mode: ApiKeyInitOnly, Store: store, TenantID: "t1"}
	session := SessionPrincipal{APIKey: &ApiKeyPrincipal{TenantID: "t1", KeyID: "k1"}}

	err := e.EnforceRequest(context.Background(), http.Header{}, session)
	require.NoError(t, err)
	require.Equal(t, 1, store.touchCalls)
}

func TestEnforceRequestApiKeyEveryRequestRejectsMismatchedKey(t *testing.T) {
	store := &fakeAPIKeyStore{principal: ApiKeyPrincipal{TenantID: "t1", KeyID: "k2"}}
	e := Enforcer{Mode: ApiKeyEveryRequest, Store: store, TenantID: "t1", ProfileID: "p1"}
	session := SessionPrincipal{APIKey: &ApiKeyPrincipal{TenantID: "t1", KeyID: "k1"}}

	err := e.EnforceRequest(context.Background(), headersWithBearer("x"), session)
	require.ErrorIs(t, err, ErrUnauthorized)
}

func TestEnforceRequestApiKeyEveryRequestPassesWhenKeysMatch(t *testing.T) {
	store := &fakeAPIKeyStore{principal: ApiKeyPrincipal{TenantID: "t1", KeyID: "k1"}}
	e := Enforcer{Mode: ApiKeyEveryRequest, Store: store, TenantID: "t1", ProfileID: "p1"}
	session := SessionPrincipal{APIKey: &ApiKeyPrincipal{TenantID: "t1", KeyID: "k1"}}

	err := e.EnforceRequest(context.Background(), headersWithBearer("x"), session)
	require.NoError(t, err)
}

func TestEnforceRequestJwtEveryRequestRejectsSubjectMismatch(t *testing.T) {
	validator := &fakeJWTValidator{principal: JWTPrincipal{Issuer: "iss", Subject: "new-subj"}}
	allower := &fakeAllower{allowed: true}
	e := Enforcer{Mode: JwtEveryRequest, Validator: validator, Allower: allower, TenantID: "t1", ProfileID: "p1"}
	session := SessionPrincipal{JWT: &JWTPrincipal{Issuer: "iss", Subject: "bound-subj"}}

	err := e.EnforceRequest(context.Background(), headersWithBearer("jwt"), session)
	require.ErrorIs(t, err, ErrUnauthorized)
}

func TestEnforceRequestJwtEveryRequestRejectsDisallowedPrincipal(t *testing.T) {
	validator := &fakeJWTValidator{principal: JWTPrincipal{Issuer: "iss", Subject: "subj"}}
	allower := &fakeAllower{allowed: false}
	e := Enforcer{Mode: JwtEveryRequest, Validator: validator, Allower: allower, TenantID: "t1", ProfileID: "p1"}
	session := SessionPrincipal{JWT: &JWTPrincipal{Issuer: "iss", Subject: "subj"}}

	err := e.EnforceRequest(context.Background(), headersWithBearer("jwt"), session)
	require.ErrorIs(t, err, ErrUnauthorized)
}

func TestEnforceRequestJwtEveryRequestPassesOnMatchingBinding(t *testing.T) {
	validator := &fakeJWTValidator{principal: JWTPrincipal{Issuer: "iss", Subject: "subj"}}
	allower := &fakeAllower{allowed: true}
	e := Enforcer{Mode: JwtEveryRequest, Validator: validator, Allower: allower, TenantID: "t1", ProfileID: "p1"}
	session := SessionPrincipal{JWT: &JWTPrincipal{Issuer: "iss", Subject: "subj"}}

	err := e.EnforceRequest(context.Background(), headersWithBearer("jwt"), session)
	require.NoError(t, err)
}

func TestAuthorizeJWTRequestMapsValidatorErrorToUnauthorized(t *testing.T) {
	validator := &fakeJWTValidator{err: errors.New("boom")}
	allower := &fakeAllower{allowed: true}

	_, err := AuthorizeJWTRequest(context.Background(), validator, allower, "t1", "p1", headersWithBearer("jwt"))
	require.ErrorIs(t, err, ErrUnauthorized)
}
