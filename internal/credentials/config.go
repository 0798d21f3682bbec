package credentials

import (
	"fmt"
	"strings"
)

// ProviderConfig is one workspace's configuration for a provider.
type ProviderConfig struct {
	Mode   Mode
	Fields map[string]interface{}
}

// String returns a non-empty string field.
func (c *ProviderConfig) String(key string) (string, bool) {
	if c == nil || c.Fields == nil {
		return "", false
	}
	s, ok := c.Fields[key].(string)
	if !ok || strings.TrimSpace(s) == "" {
		return "", false
	}
	return s, true
}

// StringOr returns a string field or def when it is absent.
func (c *ProviderConfig) StringOr(key, def string) string {
	if s, ok := c.String(key); ok {
		return s
	}
	return def
}

// Require returns a string field or a configuration error naming it.
func (c *ProviderConfig) Require(key string) (string, error) {
	if s, ok := c.String(key); ok {
		return s, nil
	}
	return "", MissingField(key)
}

// SecretMapping returns the per-secret identifier from the "secrets" object.
func (c *ProviderConfig) SecretMapping(secretName string) (string, bool) {
	if c == nil || c.Fields == nil {
		return "", false
	}
	secrets, ok := c.Fields["secrets"].(map[string]interface{})
	if !ok {
		return "", false
	}
	s, ok := secrets[secretName].(string)
	if !ok || s == "" {
		return "", false
	}
	return s, true
}

// RequireSecretMapping is SecretMapping with a configuration error.
func (c *ProviderConfig) RequireSecretMapping(secretName string) (string, error) {
	if s, ok := c.SecretMapping(secretName); ok {
		return s, nil
	}
	return "", MissingField(fmt.Sprintf("secrets.%s", secretName))
}
