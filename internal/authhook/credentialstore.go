package authhook

import (
	"context"
	"crypto/subtle"

	"github.com/kagenti/mcp-gateway/pkg/credentials"
)

// CredentialKeyStore is the simplest possible ApiKeyStore: exactly one
// active key per store, read from pkg/credentials's mounted-secret store
// by a fixed name. The Adapter uses one store; the Gateway builds one store
// per profile, each with its own credential name.
type CredentialKeyStore struct {
	// CredentialName is the file name pkg/credentials.Get reads under its
	// mount path, e.g. "adapter-api-key".
	CredentialName string
}

// Authenticate reports secret valid only if it matches the configured
// credential's current contents, compared in constant time.
func (s *CredentialKeyStore) Authenticate(_ context.Context, tenantID, _ string, secret string) (ApiKeyPrincipal, error) {
	want, err := credentials.Get(s.CredentialName)
	if err != nil {
		return ApiKeyPrincipal{}, unauthorized("api key credential unavailable")
	}
	if subtle.ConstantTimeCompare([]byte(secret), []byte(want)) != 1 {
		return ApiKeyPrincipal{}, unauthorized("invalid api key")
	}
	return ApiKeyPrincipal{TenantID: tenantID, KeyID: s.CredentialName}, nil
}

// IsActive always reports true: a single mounted-secret key has no
// separate revocation state beyond the file itself being replaced.
func (s *CredentialKeyStore) IsActive(_ context.Context, _, _ string) (bool, error) {
	return true, nil
}

// Touch is a no-op: this store keeps no last-used bookkeeping.
func (s *CredentialKeyStore) Touch(_ context.Context, _, _ string) error {
	return nil
}
