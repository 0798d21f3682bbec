package crypto

import (
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"strings"

	"golang.org/x/crypto/hkdf"

	cgerrors "github.com/systmms/credgate/internal/errors"
	"github.com/systmms/credgate/internal/secure"
)

// kdfSalt separates credgate subkeys from any other use of the master key.
var kdfSalt = []byte("credgate/workspace-key/v1")

// Encryptor encrypts per workspace. The master key stays sealed in a
// secure.Buffer and is only opened while a subkey is derived.
type Encryptor struct {
	master *secure.Buffer
}

// NewEncryptor creates an Encryptor from a 32-byte master key. The key slice is
// wiped.
func NewEncryptor(masterKey []byte) (*Encryptor, error) {
	if len(masterKey) != keyLen {
		return nil, fmt.Errorf("master key must be %d bytes, got %d", keyLen, len(masterKey))
	}
	return &Encryptor{master: secure.NewBuffer(masterKey)}, nil
}

// NewEncryptorFromEnv reads a base64 or hex encoded master key from the named
// environment variable.
func NewEncryptorFromEnv(name string) (*Encryptor, error) {
	raw := strings.TrimSpace(os.Getenv(name))
	if raw == "" {
		return nil, cgerrors.ConfigError{
			Field:      "encryption.master_key_env",
			Value:      name,
			Message:    "master key environment variable is not set",
			Suggestion: fmt.Sprintf("Generate a key with 'openssl rand -base64 32' and export it as %s", name),
		}
	}

	key, err := DecodeKey(raw)
	if err != nil {
		return nil, cgerrors.ConfigError{
			Field:      "encryption.master_key_env",
			Value:      name,
			Message:    err.Error(),
			Suggestion: "The master key must be 32 bytes, base64 or hex encoded",
		}
	}
	return NewEncryptor(key)
}

// DecodeKey accepts a 32-byte key encoded as hex or standard base64.
func DecodeKey(s string) ([]byte, error) {
	if len(s) == hex.EncodedLen(keyLen) {
		if key, err := hex.DecodeString(s); err == nil {
			return key, nil
		}
	}
	key, err := base64.StdEncoding.DecodeString(s)
	if err != nil {
		return nil, fmt.Errorf("decoding master key: %w", err)
	}
	if len(key) != keyLen {
		return nil, fmt.Errorf("master key must be %d bytes, got %d", keyLen, len(key))
	}
	return key, nil
}

// Encrypt seals plaintext under the workspace subkey. The workspace id is
// bound as additional data, so ciphertext cannot be moved between tenants.
func (e *Encryptor) Encrypt(workspaceID string, plaintext []byte) ([]byte, error) {
	key, err := e.subkey(workspaceID)
	if err != nil {
		return nil, err
	}
	defer wipe(key)
	return seal(key, plaintext, []byte(workspaceID))
}

// Decrypt reverses Encrypt for the same workspace.
func (e *Encryptor) Decrypt(workspaceID string, ciphertext []byte) ([]byte, error) {
	key, err := e.subkey(workspaceID)
	if err != nil {
		return nil, err
	}
	defer wipe(key)
	return open(key, ciphertext, []byte(workspaceID))
}

// Destroy drops the sealed master key.
func (e *Encryptor) Destroy() {
	e.master.Destroy()
}

func (e *Encryptor) subkey(workspaceID string) ([]byte, error) {
	locked, err := e.master.Open()
	if err != nil {
		return nil, fmt.Errorf("opening master key: %w", err)
	}
	defer locked.Destroy()

	r := hkdf.New(sha256.New, locked.Bytes(), kdfSalt, []byte(workspaceID))
	key := make([]byte, keyLen)
	if _, err := io.ReadFull(r, key); err != nil {
		return nil, fmt.Errorf("deriving key for workspace %s: %w", workspaceID, err)
	}
	return key, nil
}

func wipe(b []byte) {
	for i := range b {
		b[i] = 0
	}
}
