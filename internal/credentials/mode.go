package credentials

import (
	"fmt"
	"strings"
)

// Mode selects how a workspace resolves credentials for one provider.
type Mode string

const (
	// ModeHosted reads from the credgate vault.
	ModeHosted Mode = "hosted"
	// ModeOAuth exchanges a stored refresh token for an access token.
	ModeOAuth Mode = "oauth"
	// ModeKMS reads from the customer's own cloud secret manager.
	ModeKMS Mode = "kms"
	// ModeAPIKey fetches from a customer-operated HTTP endpoint.
	ModeAPIKey Mode = "api_key"
)

// Modes lists every mode in a stable order.
func Modes() []Mode {
	return []Mode{ModeHosted, ModeOAuth, ModeKMS, ModeAPIKey}
}

// ParseMode parses a stored mode name.
func ParseMode(s string) (Mode, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "hosted":
		return ModeHosted, nil
	case "oauth":
		return ModeOAuth, nil
	case "kms":
		return ModeKMS, nil
	case "api_key", "apikey":
		return ModeAPIKey, nil
	default:
		return "", &Error{
			Kind: KindConfiguration,
			Op:   "parse mode",
			Err:  fmt.Errorf("invalid credential mode %q", s),
		}
	}
}

func (m Mode) String() string {
	return string(m)
}
