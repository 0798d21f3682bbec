package policy

import (
	"fmt"
	"regexp"
	"strings"
	"unicode"

	cgerrors "github.com/systmms/credgate/internal/errors"
)

// Guardrails are static, deployment-wide restrictions read from credgate.yaml.
// Unlike stored policies they are not scoped to a workspace and cannot be
// overridden by approval.
type Guardrails struct {
	AllowedProviders  []string                        `yaml:"allowed_providers,omitempty"`
	BlockedProviders  []string                        `yaml:"blocked_providers,omitempty"`
	Environments      map[string]EnvironmentGuardrail `yaml:"environments,omitempty"`
	SecretComplexity  *Complexity                     `yaml:"secret_complexity,omitempty"`
	ForbiddenPatterns []string                        `yaml:"forbidden_patterns,omitempty"`
}

// EnvironmentGuardrail narrows the provider lists for one environment.
type EnvironmentGuardrail struct {
	AllowedProviders []string `yaml:"allowed_providers,omitempty"`
	BlockedProviders []string `yaml:"blocked_providers,omitempty"`
}

// Complexity is the minimum shape of a secret value stored by hand.
type Complexity struct {
	MinLength     int  `yaml:"min_length,omitempty"`
	MaxLength     int  `yaml:"max_length,omitempty"`
	RequireUpper  bool `yaml:"require_upper,omitempty"`
	RequireLower  bool `yaml:"require_lower,omitempty"`
	RequireDigit  bool `yaml:"require_digit,omitempty"`
	RequireSymbol bool `yaml:"require_symbol,omitempty"`
}

// Guard enforces Guardrails. A nil Guard allows everything.
type Guard struct {
	rails     Guardrails
	forbidden []*regexp.Regexp
}

// NewGuard compiles the forbidden patterns.
func NewGuard(g Guardrails) (*Guard, error) {
	guard := &Guard{rails: g}
	for i, p := range g.ForbiddenPatterns {
		re, err := regexp.Compile(p)
		if err != nil {
			return nil, cgerrors.ConfigError{
				Field:      fmt.Sprintf("guardrails.forbidden_patterns[%d]", i),
				Value:      p,
				Message:    "invalid regular expression",
				Suggestion: "Forbidden patterns use Go regexp syntax",
			}
		}
		guard.forbidden = append(guard.forbidden, re)
	}
	return guard, nil
}

// CheckProvider rejects providers that are blocked, or missing from a
// non-empty allow list, globally or for environment.
func (g *Guard) CheckProvider(environment, provider string) error {
	if g == nil {
		return nil
	}
	if err := checkLists(provider, g.rails.AllowedProviders, g.rails.BlockedProviders, ""); err != nil {
		return err
	}
	if environment == "" {
		return nil
	}
	env, ok := g.rails.Environments[environment]
	if !ok {
		return nil
	}
	return checkLists(provider, env.AllowedProviders, env.BlockedProviders, environment)
}

func checkLists(provider string, allowed, blocked []string, environment string) error {
	where := ""
	if environment != "" {
		where = fmt.Sprintf(" for environment '%s'", environment)
	}
	if containsFold(blocked, provider) {
		return cgerrors.UserError{
			Message:    fmt.Sprintf("Provider '%s' is blocked by guardrails%s", provider, where),
			Suggestion: "Use a different provider or update 'guardrails' in credgate.yaml",
		}
	}
	if len(allowed) > 0 && !containsFold(allowed, provider) {
		return cgerrors.UserError{
			Message:    fmt.Sprintf("Provider '%s' is not allowed%s", provider, where),
			Suggestion: fmt.Sprintf("Allowed providers: %s", strings.Join(allowed, ", ")),
		}
	}
	return nil
}

func containsFold(list []string, s string) bool {
	for _, item := range list {
		if strings.EqualFold(item, s) {
			return true
		}
	}
	return false
}

// CheckSecretValue validates a secret value supplied by an operator.
// Messages never include the value.
func (g *Guard) CheckSecretValue(value string) error {
	if g == nil {
		return nil
	}
	if c := g.rails.SecretComplexity; c != nil {
		if err := c.check(value); err != nil {
			return err
		}
	}
	for _, re := range g.forbidden {
		if re.MatchString(value) {
			return cgerrors.UserError{
				Message:    "Secret value matches a forbidden pattern",
				Suggestion: "Use a different value, e.g. one produced by the rotation generator",
			}
		}
	}
	return nil
}

func (c *Complexity) check(value string) error {
	n := len([]rune(value))
	if c.MinLength > 0 && n < c.MinLength {
		return complexityError(fmt.Sprintf("at least %d characters", c.MinLength))
	}
	if c.MaxLength > 0 && n > c.MaxLength {
		return complexityError(fmt.Sprintf("at most %d characters", c.MaxLength))
	}

	var upper, lower, digit, symbol bool
	for _, r := range value {
		switch {
		case unicode.IsUpper(r):
			upper = true
		case unicode.IsLower(r):
			lower = true
		case unicode.IsDigit(r):
			digit = true
		case unicode.IsPunct(r) || unicode.IsSymbol(r):
			symbol = true
		}
	}
	switch {
	case c.RequireUpper && !upper:
		return complexityError("an uppercase letter")
	case c.RequireLower && !lower:
		return complexityError("a lowercase letter")
	case c.RequireDigit && !digit:
		return complexityError("a digit")
	case c.RequireSymbol && !symbol:
		return complexityError("a symbol")
	}
	return nil
}

func complexityError(requirement string) error {
	return cgerrors.UserError{
		Message:    "Secret must contain " + requirement,
		Suggestion: "See guardrails.secret_complexity in credgate.yaml",
	}
}
