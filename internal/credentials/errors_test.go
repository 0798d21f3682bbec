package credentials

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseMode(t *testing.T) {
	t.Parallel()

	tests := []struct {
		in   string
		want Mode
	}{
		{"hosted", ModeHosted},
		{"OAuth", ModeOAuth},
		{" kms ", ModeKMS},
		{"api_key", ModeAPIKey},
		{"apikey", ModeAPIKey},
	}
	for _, tt := range tests {
		got, err := ParseMode(tt.in)
		require.NoError(t, err, tt.in)
		assert.Equal(t, tt.want, got)
	}

	_, err := ParseMode("ldap")
	assert.ErrorIs(t, err, ErrConfiguration)
	assert.Contains(t, err.Error(), `"ldap"`)
}

func TestKindOf(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		err  error
		want Kind
	}{
		{"untyped", errors.New("boom"), KindTransient},
		{"canceled", context.Canceled, KindCanceled},
		{"deadline", fmt.Errorf("wrapped: %w", context.DeadlineExceeded), KindCanceled},
		{"not_found_sentinel", ErrNotFound, KindNotFound},
		{"typed", &Error{Kind: KindCircuitOpen}, KindCircuitOpen},
		{"wrapped_typed", fmt.Errorf("outer: %w", MissingField("x")), KindConfiguration},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tt.want, KindOf(tt.err))
		})
	}
}

func TestError_MatchesOnlyItsSentinel(t *testing.T) {
	t.Parallel()

	err := &Error{Kind: KindNotFound, Mode: ModeKMS, Provider: "aws", Op: "secret missing"}
	assert.ErrorIs(t, err, ErrNotFound)
	assert.NotErrorIs(t, err, ErrTransient)
	assert.NotErrorIs(t, err, ErrConfiguration)
	assert.Equal(t, "aws (kms): secret missing", err.Error())
}

func TestClassify(t *testing.T) {
	t.Parallel()

	t.Run("keeps_inner_kind", func(t *testing.T) {
		t.Parallel()
		err := classify(ModeOAuth, "github", "outer", NotFound("no token", nil))
		assert.Equal(t, KindNotFound, err.Kind)
		assert.Equal(t, ModeOAuth, err.Mode)
		assert.Equal(t, "github", err.Provider)
	})

	t.Run("untyped_is_transient", func(t *testing.T) {
		t.Parallel()
		cause := errors.New("dial tcp: timeout")
		err := classify(ModeHosted, "aws", "vault read failed", cause)
		assert.Equal(t, KindTransient, err.Kind)
		assert.ErrorIs(t, err, cause)
		assert.Equal(t, "aws (hosted): vault read failed: dial tcp: timeout", err.Error())
	})
}

func TestRetryable(t *testing.T) {
	t.Parallel()

	assert.True(t, retryable(errors.New("timeout")))
	assert.False(t, retryable(ErrNotFound))
	assert.False(t, retryable(MissingField("kms_provider")))
	assert.False(t, retryable(context.Canceled))
}
