package policy

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMatchPattern(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		pattern string
		value   string
		want    bool
	}{
		{name: "prefix_glob_matches", pattern: "prod-*", value: "prod-db", want: true},
		{name: "prefix_glob_rejects", pattern: "prod-*", value: "staging-db", want: false},
		{name: "exact_match", pattern: "github", value: "github", want: true},
		{name: "exact_rejects_prefix", pattern: "git", value: "github", want: false},
		{name: "star_matches_empty", pattern: "prod-*", value: "prod-", want: true},
		{name: "infix_glob", pattern: "*-db-*", value: "eu-db-primary", want: true},
		{name: "dot_is_literal", pattern: "api.*", value: "apixkey", want: false},
		{name: "dot_literal_matches", pattern: "api.*", value: "api.key", want: true},
		{name: "regex_chars_literal", pattern: "a+b*", value: "aab", want: false},
		{name: "anchored", pattern: "db*", value: "prod-db1", want: false},
		{name: "lone_star", pattern: "*", value: "anything", want: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			got, err := MatchPattern(tt.pattern, tt.value)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestMatchesScope(t *testing.T) {
	t.Parallel()

	ctx := EvaluationContext{Provider: "aws", SecretName: "prod-db"}

	tests := []struct {
		name   string
		policy Policy
		want   bool
	}{
		{name: "workspace_always", policy: Policy{Scope: ScopeWorkspace, ProviderPattern: "gcp"}, want: true},
		{name: "provider_no_pattern", policy: Policy{Scope: ScopeProvider}, want: true},
		{name: "provider_match", policy: Policy{Scope: ScopeProvider, ProviderPattern: "aw*"}, want: true},
		{name: "provider_mismatch", policy: Policy{Scope: ScopeProvider, ProviderPattern: "gcp"}, want: false},
		{name: "provider_ignores_secret_pattern", policy: Policy{Scope: ScopeProvider, SecretPattern: "nope"}, want: true},
		{name: "secret_both_match", policy: Policy{Scope: ScopeSecret, ProviderPattern: "aws", SecretPattern: "prod-*"}, want: true},
		{name: "secret_provider_mismatch", policy: Policy{Scope: ScopeSecret, ProviderPattern: "gcp", SecretPattern: "prod-*"}, want: false},
		{name: "secret_name_mismatch", policy: Policy{Scope: ScopeSecret, SecretPattern: "staging-*"}, want: false},
		{name: "secret_no_patterns", policy: Policy{Scope: ScopeSecret}, want: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			got, err := MatchesScope(&tt.policy, ctx)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestMatchesScope_UnknownScope(t *testing.T) {
	t.Parallel()

	_, err := MatchesScope(&Policy{Name: "odd", Scope: "team"}, EvaluationContext{})
	var pe *PatternError
	require.ErrorAs(t, err, &pe)
	assert.Equal(t, "scope", pe.Field)
	assert.Equal(t, "odd", pe.PolicyName)
}
