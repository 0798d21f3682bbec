package credentials

import (
	"context"
	"time"
)

// Cache stores resolved credentials. Implementations must be safe for
// concurrent use and own their eviction policy.
type Cache interface {
	Get(ctx context.Context, workspaceID, provider, secretName string) (string, bool, error)
	Set(ctx context.Context, workspaceID, provider, secretName, value string) error
	Invalidate(ctx context.Context, workspaceID, provider, secretName string) error
}

// ConfigStore looks up provider configuration. A missing row is reported as
// ErrNoProviderConfig.
type ConfigStore interface {
	GetProviderConfig(ctx context.Context, workspaceID, provider string) (*ProviderConfig, error)
}

// VaultStore reads hosted credentials. A missing secret is reported with an
// error matching ErrNotFound.
type VaultStore interface {
	GetCredential(ctx context.Context, workspaceID, provider, secretName string) (string, error)
}

// Encryptor protects tenant data at rest.
type Encryptor interface {
	Encrypt(workspaceID string, plaintext []byte) ([]byte, error)
	Decrypt(workspaceID string, ciphertext []byte) ([]byte, error)
}

// HealthRecorder observes the outcome of remote credential-source calls.
type HealthRecorder interface {
	RecordSuccess(ctx context.Context, workspaceID, provider string, mode Mode)
	RecordFailure(ctx context.Context, workspaceID, provider string, mode Mode, err error)
}

// Fetcher resolves one credential for a single mode.
type Fetcher interface {
	Fetch(ctx context.Context, workspaceID, provider, secretName string) (string, error)
}

// AccessToken is a cached OAuth access token.
type AccessToken struct {
	Token     string
	ExpiresAt time.Time
}

// TokenStore persists OAuth tokens. Refresh tokens are stored encrypted.
type TokenStore interface {
	SaveRefreshToken(ctx context.Context, workspaceID, provider string, encrypted []byte) error
	// GetRefreshToken reports a missing token with an error matching ErrNotFound.
	GetRefreshToken(ctx context.Context, workspaceID, provider string) ([]byte, error)
	// GetAccessToken returns nil when no access token is cached.
	GetAccessToken(ctx context.Context, workspaceID, provider string) (*AccessToken, error)
	SaveAccessToken(ctx context.Context, workspaceID, provider string, token AccessToken) error
}

type noopHealth struct{}

func (noopHealth) RecordSuccess(context.Context, string, string, Mode)        {}
func (noopHealth) RecordFailure(context.Context, string, string, Mode, error) {}
