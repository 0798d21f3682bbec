package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/systmms/credgate/internal/credentials"
)

// OAuthTokenStore implements credentials.TokenStore over the oauth_tokens
// table. Refresh tokens arrive already encrypted; access tokens are
// encrypted here.
type OAuthTokenStore struct {
	db        *DB
	encryptor credentials.Encryptor
	now       func() time.Time
}

// NewOAuthTokenStore creates an OAuthTokenStore.
func NewOAuthTokenStore(db *DB, encryptor credentials.Encryptor, opts ...Option) *OAuthTokenStore {
	o := applyOptions(opts)
	return &OAuthTokenStore{db: db, encryptor: encryptor, now: o.now}
}

// SaveRefreshToken stores an encrypted refresh token.
func (s *OAuthTokenStore) SaveRefreshToken(ctx context.Context, workspaceID, provider string, encrypted []byte) error {
	query := `INSERT INTO oauth_tokens (workspace_id, provider, encrypted_refresh_token, updated_at)
		VALUES ($1, $2, $3, $4) ` +
		s.db.upsert([]string{"workspace_id", "provider"}, "encrypted_refresh_token", "updated_at")
	if _, err := s.db.exec(ctx, query, workspaceID, provider, encrypted, s.now().UTC()); err != nil {
		return fmt.Errorf("failed to save refresh token: %w", err)
	}
	return nil
}

// GetRefreshToken returns the encrypted refresh token.
func (s *OAuthTokenStore) GetRefreshToken(ctx context.Context, workspaceID, provider string) ([]byte, error) {
	var encrypted []byte
	err := s.db.queryRow(ctx,
		`SELECT encrypted_refresh_token FROM oauth_tokens WHERE workspace_id = $1 AND provider = $2`,
		workspaceID, provider,
	).Scan(&encrypted)
	if errors.Is(err, sql.ErrNoRows) || (err == nil && len(encrypted) == 0) {
		return nil, credentials.NotFound("refresh token lookup", ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query refresh token: %w", err)
	}
	return encrypted, nil
}

// GetAccessToken returns the cached access token, or nil when none is stored.
func (s *OAuthTokenStore) GetAccessToken(ctx context.Context, workspaceID, provider string) (*credentials.AccessToken, error) {
	var (
		encrypted []byte
		expiresAt sql.NullTime
	)
	err := s.db.queryRow(ctx,
		`SELECT encrypted_access_token, access_token_expires_at FROM oauth_tokens WHERE workspace_id = $1 AND provider = $2`,
		workspaceID, provider,
	).Scan(&encrypted, &expiresAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query access token: %w", err)
	}
	if len(encrypted) == 0 || !expiresAt.Valid {
		return nil, nil
	}

	token, err := s.encryptor.Decrypt(workspaceID, encrypted)
	if err != nil {
		return nil, credentials.Configuration("decrypt access token", err)
	}
	return &credentials.AccessToken{Token: string(token), ExpiresAt: expiresAt.Time}, nil
}

// SaveAccessToken encrypts and caches an access token.
func (s *OAuthTokenStore) SaveAccessToken(ctx context.Context, workspaceID, provider string, token credentials.AccessToken) error {
	encrypted, err := s.encryptor.Encrypt(workspaceID, []byte(token.Token))
	if err != nil {
		return fmt.Errorf("failed to encrypt access token: %w", err)
	}

	query := `INSERT INTO oauth_tokens (workspace_id, provider, encrypted_access_token, access_token_expires_at, updated_at)
		VALUES ($1, $2, $3, $4, $5) ` +
		s.db.upsert([]string{"workspace_id", "provider"}, "encrypted_access_token", "access_token_expires_at", "updated_at")
	if _, err := s.db.exec(ctx, query, workspaceID, provider, encrypted, token.ExpiresAt.UTC(), s.now().UTC()); err != nil {
		return fmt.Errorf("failed to save access token: %w", err)
	}
	return nil
}

var _ credentials.TokenStore = (*OAuthTokenStore)(nil)
