package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/systmms/credgate/internal/credentials"
)

// VaultStore implements credentials.VaultStore. Values are encrypted with a
// per-workspace key before they reach the database.
type VaultStore struct {
	db        *DB
	encryptor credentials.Encryptor
	now       func() time.Time
}

// NewVaultStore creates a VaultStore.
func NewVaultStore(db *DB, encryptor credentials.Encryptor, opts ...Option) *VaultStore {
	o := applyOptions(opts)
	return &VaultStore{db: db, encryptor: encryptor, now: o.now}
}

// GetCredential decrypts a hosted credential.
func (s *VaultStore) GetCredential(ctx context.Context, workspaceID, provider, secretName string) (string, error) {
	var ciphertext []byte
	err := s.db.queryRow(ctx,
		`SELECT encrypted_value FROM vault_credentials WHERE workspace_id = $1 AND provider = $2 AND secret_name = $3`,
		workspaceID, provider, secretName,
	).Scan(&ciphertext)
	if errors.Is(err, sql.ErrNoRows) {
		return "", credentials.NotFound("vault lookup", ErrNotFound)
	}
	if err != nil {
		return "", fmt.Errorf("failed to query vault: %w", err)
	}

	plaintext, err := s.encryptor.Decrypt(workspaceID, ciphertext)
	if err != nil {
		return "", credentials.Configuration("decrypt vault credential", err)
	}
	return string(plaintext), nil
}

// PutCredential encrypts and upserts a hosted credential.
func (s *VaultStore) PutCredential(ctx context.Context, workspaceID, provider, secretName, value string) error {
	ciphertext, err := s.encryptor.Encrypt(workspaceID, []byte(value))
	if err != nil {
		return fmt.Errorf("failed to encrypt credential: %w", err)
	}

	query := `INSERT INTO vault_credentials (workspace_id, provider, secret_name, encrypted_value, updated_at)
		VALUES ($1, $2, $3, $4, $5) ` +
		s.db.upsert([]string{"workspace_id", "provider", "secret_name"}, "encrypted_value", "updated_at")
	if _, err := s.db.exec(ctx, query, workspaceID, provider, secretName, ciphertext, s.now().UTC()); err != nil {
		return fmt.Errorf("failed to store credential: %w", err)
	}
	return nil
}

// DeleteCredential removes a hosted credential. Deleting a missing entry
// returns ErrNotFound.
func (s *VaultStore) DeleteCredential(ctx context.Context, workspaceID, provider, secretName string) error {
	res, err := s.db.exec(ctx,
		`DELETE FROM vault_credentials WHERE workspace_id = $1 AND provider = $2 AND secret_name = $3`,
		workspaceID, provider, secretName)
	if err != nil {
		return fmt.Errorf("failed to delete credential: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to delete credential: %w", err)
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

var _ credentials.VaultStore = (*VaultStore)(nil)
