package policy

import (
	"errors"
	"fmt"
	"regexp"
	"strings"
	"sync"
)

// PatternError reports a malformed pattern, time of day or timezone in a
// policy.
type PatternError struct {
	PolicyName string
	Field      string
	Value      string
	Err        error
}

func (e *PatternError) Error() string {
	msg := fmt.Sprintf("invalid %s %q", e.Field, e.Value)
	if e.PolicyName != "" {
		msg = fmt.Sprintf("policy %q: %s", e.PolicyName, msg)
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *PatternError) Unwrap() error {
	return e.Err
}

var (
	globCache   = make(map[string]*regexp.Regexp)
	globCacheMu sync.RWMutex
)

// compileGlob turns a pattern where '*' matches any run of characters into an
// anchored regexp. Every other character is literal.
func compileGlob(pattern string) (*regexp.Regexp, error) {
	globCacheMu.RLock()
	re, ok := globCache[pattern]
	globCacheMu.RUnlock()
	if ok {
		return re, nil
	}

	parts := strings.Split(pattern, "*")
	for i, p := range parts {
		parts[i] = regexp.QuoteMeta(p)
	}
	re, err := regexp.Compile("^" + strings.Join(parts, ".*") + "$")
	if err != nil {
		return nil, err
	}

	globCacheMu.Lock()
	globCache[pattern] = re
	globCacheMu.Unlock()
	return re, nil
}

// MatchPattern reports whether value matches pattern. Patterns without '*'
// require exact equality.
func MatchPattern(pattern, value string) (bool, error) {
	if !strings.Contains(pattern, "*") {
		return pattern == value, nil
	}
	re, err := compileGlob(pattern)
	if err != nil {
		return false, &PatternError{Field: "pattern", Value: pattern, Err: err}
	}
	return re.MatchString(value), nil
}

// MatchesScope reports whether a policy applies to the context. An absent
// pattern matches everything.
func MatchesScope(p *Policy, ctx EvaluationContext) (bool, error) {
	switch p.Scope {
	case ScopeWorkspace:
		return true, nil
	case ScopeProvider:
		return matchOptional(p, "provider_pattern", p.ProviderPattern, ctx.Provider)
	case ScopeSecret:
		ok, err := matchOptional(p, "provider_pattern", p.ProviderPattern, ctx.Provider)
		if err != nil || !ok {
			return false, err
		}
		return matchOptional(p, "secret_pattern", p.SecretPattern, ctx.SecretName)
	default:
		return false, &PatternError{PolicyName: p.Name, Field: "scope", Value: string(p.Scope)}
	}
}

func matchOptional(p *Policy, field, pattern, value string) (bool, error) {
	if pattern == "" {
		return true, nil
	}
	ok, err := MatchPattern(pattern, value)
	if err != nil {
		var pe *PatternError
		if errors.As(err, &pe) {
			pe.PolicyName = p.Name
			pe.Field = field
		}
		return false, err
	}
	return ok, nil
}
