package crypto

import (
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/zalando/go-keyring"

	cgerrors "github.com/systmms/credgate/internal/errors"
)

// KeyringAccount is the account name the master key is stored under in the
// OS keychain.
const KeyringAccount = "master-key"

// KeySource names where the master key may be read from. The environment
// variable wins when both are set.
type KeySource struct {
	Env            string
	KeyringService string
}

// NewEncryptorFromSource reads the master key from the environment, falling
// back to the OS keychain when a keyring service is configured.
func NewEncryptorFromSource(src KeySource) (*Encryptor, error) {
	if strings.TrimSpace(os.Getenv(src.Env)) != "" || src.KeyringService == "" {
		return NewEncryptorFromEnv(src.Env)
	}
	return NewEncryptorFromKeyring(src.KeyringService)
}

// NewEncryptorFromKeyring reads an encoded master key from the OS keychain.
func NewEncryptorFromKeyring(service string) (*Encryptor, error) {
	raw, err := keyring.Get(service, KeyringAccount)
	if err != nil {
		if errors.Is(err, keyring.ErrNotFound) {
			return nil, cgerrors.ConfigError{
				Field:      "encryption.keyring_service",
				Value:      service,
				Message:    "no master key stored in the OS keychain",
				Suggestion: "Run 'credgate keygen --keyring' to generate and store one",
			}
		}
		return nil, cgerrors.UserError{
			Message:    "Failed to read master key from the OS keychain",
			Details:    err.Error(),
			Suggestion: "Check that a Secret Service or Keychain daemon is running, or set the master key environment variable instead",
			Err:        err,
		}
	}

	key, err := DecodeKey(strings.TrimSpace(raw))
	if err != nil {
		return nil, cgerrors.ConfigError{
			Field:      "encryption.keyring_service",
			Value:      service,
			Message:    err.Error(),
			Suggestion: "The stored master key must be 32 bytes, base64 or hex encoded",
		}
	}
	return NewEncryptor(key)
}

// GenerateKey returns a fresh base64 encoded master key.
func GenerateKey() (string, error) {
	key := make([]byte, keyLen)
	if _, err := rand.Read(key); err != nil {
		return "", fmt.Errorf("generating master key: %w", err)
	}
	encoded := base64.StdEncoding.EncodeToString(key)
	wipe(key)
	return encoded, nil
}

// StoreKeyInKeyring saves an encoded master key to the OS keychain.
func StoreKeyInKeyring(service, encoded string) error {
	if _, err := DecodeKey(encoded); err != nil {
		return err
	}
	if err := keyring.Set(service, KeyringAccount, encoded); err != nil {
		return fmt.Errorf("storing master key in keychain: %w", err)
	}
	return nil
}
