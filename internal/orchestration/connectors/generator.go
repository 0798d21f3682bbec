// Package connectors writes freshly generated secret values to cloud secret
// managers.
package connectors

import (
	"crypto/rand"
	"fmt"
	"math/big"

	"github.com/systmms/credgate/internal/logging"
	"github.com/systmms/credgate/internal/orchestration"
)

// DefaultLength is the generated value length when none is configured.
const DefaultLength = 32

// Character sets selectable with the "charset" connector setting.
var charsets = map[string]string{
	"alphanumeric": "abcdefghijklmnopqrstuvwxyzABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789",
	"hex":          "0123456789abcdef",
	"urlsafe":      "abcdefghijklmnopqrstuvwxyzABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789-_",
	"symbols":      "abcdefghijklmnopqrstuvwxyzABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789!#$%&*+-=?@^_",
}

// Generator produces random secret values.
type Generator struct {
	Length  int
	Charset string
}

// GeneratorFromConfig reads "length" and "charset" from a connector config.
func GeneratorFromConfig(cfg orchestration.ConnectorConfig) (Generator, error) {
	g := Generator{Length: DefaultLength, Charset: charsets["alphanumeric"]}

	switch v := cfg.Credentials["length"].(type) {
	case nil:
	case int:
		g.Length = v
	case float64:
		g.Length = int(v)
	default:
		return g, fmt.Errorf("length must be a number, got %T", v)
	}
	if g.Length < 16 || g.Length > 4096 {
		return g, fmt.Errorf("length must be between 16 and 4096, got %d", g.Length)
	}

	if name, ok := cfg.String("charset"); ok {
		set, known := charsets[name]
		if !known {
			return g, fmt.Errorf("unknown charset %q", name)
		}
		g.Charset = set
	}
	return g, nil
}

// Generate returns a uniformly random value.
func (g Generator) Generate() (logging.Secret, error) {
	if g.Length <= 0 || g.Charset == "" {
		return "", fmt.Errorf("generator is not configured")
	}

	limit := big.NewInt(int64(len(g.Charset)))
	out := make([]byte, g.Length)
	for i := range out {
		n, err := rand.Int(rand.Reader, limit)
		if err != nil {
			return "", fmt.Errorf("failed to generate random bytes: %w", err)
		}
		out[i] = g.Charset[n.Int64()]
	}
	return logging.Secret(out), nil
}
