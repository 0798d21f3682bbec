package commands

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/systmms/credgate/internal/breaker"
	"github.com/systmms/credgate/internal/config"
	"github.com/systmms/credgate/internal/credentials"
	cgerrors "github.com/systmms/credgate/internal/errors"
	"github.com/systmms/credgate/internal/logging"
	"github.com/systmms/credgate/internal/orchestration"
	"github.com/systmms/credgate/internal/policy"
)

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestTargetFlags_Validate(t *testing.T) {
	t.Parallel()

	assert.NoError(t, targetFlags{workspace: "ws", provider: "github", secret: "token"}.validate())

	err := targetFlags{provider: "github"}.validate()
	var ue cgerrors.UserError
	require.ErrorAs(t, err, &ue)
	assert.Contains(t, ue.Message, "--workspace, --secret")
}

func TestExplainResolveError(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name       string
		err        error
		suggestion string
	}{
		{name: "not_found", err: credentials.NotFound("vault lookup", nil), suggestion: "put-secret"},
		{name: "circuit_open", err: &credentials.Error{Kind: credentials.KindCircuitOpen}, suggestion: "credgate breaker"},
		{name: "configuration", err: credentials.MissingField("kms_provider"), suggestion: "provider set"},
		{name: "transient", err: errors.New("connection reset"), suggestion: "temporarily unavailable"},
		{name: "transient_retryable", err: errors.New("rate limit exceeded"), suggestion: "retry shortly"},
		{name: "provider_hint", err: &credentials.Error{
			Kind:     credentials.KindTransient,
			Mode:     credentials.ModeKMS,
			Provider: "aws",
			Err:      errors.New("AccessDenied: not authorized"),
		}, suggestion: "IAM permissions"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			err := explainResolveError(tt.err)
			var ue cgerrors.UserError
			require.ErrorAs(t, err, &ue)
			assert.Contains(t, ue.Suggestion, tt.suggestion)
			assert.ErrorIs(t, err, tt.err)
		})
	}

	assert.Equal(t, context.Canceled, explainResolveError(context.Canceled))
}

func TestRenderSummary(t *testing.T) {
	t.Parallel()

	summary := policy.Summarize([]policy.Result{
		{PolicyName: "limits", Passed: true, Action: policy.ActionWarn, Reason: "Approaching rotation limit"},
		{PolicyName: "business-hours", Passed: false, Action: policy.ActionBlock, Reason: "Outside maintenance window"},
	})

	var buf bytes.Buffer
	require.NoError(t, renderSummary(&buf, summary, 6))

	out := buf.String()
	assert.Contains(t, out, "POLICY")
	assert.Contains(t, out, "business-hours")
	assert.Contains(t, out, "Rotations in period: 6")
	assert.Contains(t, out, "Decision: BLOCKED")
	assert.Contains(t, out, "✗ business-hours: Outside maintenance window")
	assert.Contains(t, out, "! limits: Approaching rotation limit")
}

func TestDecisionText(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "ALLOWED", decisionText(&policy.Summary{Allowed: true}))
	assert.Equal(t, "ALLOWED WITH WARNINGS", decisionText(&policy.Summary{Allowed: true, Warnings: []string{"w"}}))
	assert.Equal(t, "REQUIRES APPROVAL", decisionText(&policy.Summary{Allowed: true, RequiresApproval: true}))
	assert.Equal(t, "BLOCKED", decisionText(&policy.Summary{Allowed: false, RequiresApproval: true}))
}

func TestRenderOutcome(t *testing.T) {
	t.Parallel()

	target := targetFlags{workspace: "ws", provider: "aws", secret: "prod-db"}

	t.Run("completed", func(t *testing.T) {
		t.Parallel()
		var buf bytes.Buffer
		outcome := &orchestration.Outcome{
			Success:  true,
			Status:   orchestration.StatusCompleted,
			Warnings: []string{"Approaching rotation limit"},
			Result: &orchestration.RotationResult{
				Success:  true,
				NewValue: "generated-value",
				Metadata: map[string]interface{}{"version_id": "v2", "provider": "aws"},
			},
		}
		require.NoError(t, renderOutcome(&buf, target, outcome))
		out := buf.String()
		assert.Contains(t, out, "✓ Rotated aws/[REDACTED]")
		assert.Less(t, strings.Index(out, "provider: aws"), strings.Index(out, "version_id: v2"))
		assert.Contains(t, out, "! Approaching rotation limit")
		assert.NotContains(t, out, "generated-value")
		assert.NotContains(t, out, "prod-db")
		assert.NoError(t, outcomeError(outcome))
	})

	t.Run("dry_run", func(t *testing.T) {
		t.Parallel()
		var buf bytes.Buffer
		require.NoError(t, renderOutcome(&buf, target, &orchestration.Outcome{Success: true, Status: orchestration.StatusCompleted, DryRun: true}))
		assert.Contains(t, buf.String(), "Dry run passed for aws")
	})

	t.Run("blocked", func(t *testing.T) {
		t.Parallel()
		var buf bytes.Buffer
		outcome := &orchestration.Outcome{Status: orchestration.StatusBlocked, Reasons: []string{"Hard limit reached: 10 rotations in 30d"}}
		require.NoError(t, renderOutcome(&buf, target, outcome))
		assert.Contains(t, buf.String(), "blocked by policy")
		assert.Contains(t, buf.String(), "- Hard limit reached")
		assert.ErrorContains(t, outcomeError(outcome), "blocked")
	})

	t.Run("requires_approval", func(t *testing.T) {
		t.Parallel()
		outcome := &orchestration.Outcome{Status: orchestration.StatusRequiresApproval}
		var buf bytes.Buffer
		require.NoError(t, renderOutcome(&buf, target, outcome))
		assert.Contains(t, buf.String(), "requires approval")
		assert.ErrorContains(t, outcomeError(outcome), "approval")
	})

	t.Run("failed", func(t *testing.T) {
		t.Parallel()
		outcome := &orchestration.Outcome{Status: orchestration.StatusFailed, Result: &orchestration.RotationResult{Error: "throttled"}}
		var buf bytes.Buffer
		require.NoError(t, renderOutcome(&buf, target, outcome))
		assert.Contains(t, buf.String(), "throttled")
		assert.ErrorContains(t, outcomeError(outcome), "Rotation failed")
	})
}

func TestReadPolicyFile(t *testing.T) {
	t.Parallel()

	path := writeFile(t, "policy.yaml", `workspace_id: ws-1
name: business-hours-only
priority: 100
scope: provider
provider_pattern: aws
rules:
  rotation_limits:
    soft_limit: 5
    hard_limit: 10
    period: 30d
  maintenance_windows:
    - day_of_week: mon-fri
      start_time: "09:00"
      end_time: "17:00"
      timezone: Europe/Berlin
  allowed_environments: [staging, production]
`)

	np, err := readPolicyFile(path)
	require.NoError(t, err)
	assert.Equal(t, "business-hours-only", np.Name)
	assert.Equal(t, policy.ScopeProvider, np.Scope)
	require.NotNil(t, np.Rules.RotationLimits)
	require.NotNil(t, np.Rules.RotationLimits.HardLimit)
	assert.Equal(t, 10, *np.Rules.RotationLimits.HardLimit)
	require.Len(t, np.Rules.MaintenanceWindows, 1)
	assert.Equal(t, "Europe/Berlin", np.Rules.MaintenanceWindows[0].Timezone)
	assert.Equal(t, []string{"staging", "production"}, np.Rules.AllowedEnvironments)

	_, err = readPolicyFile(writeFile(t, "bad.yaml", "name: [unclosed\n"))
	var ce cgerrors.ConfigError
	assert.ErrorAs(t, err, &ce)

	_, err = readPolicyFile(filepath.Join(t.TempDir(), "missing.yaml"))
	var ue cgerrors.UserError
	assert.ErrorAs(t, err, &ue)
}

func TestReadFields(t *testing.T) {
	t.Parallel()

	fields, err := readFields(writeFile(t, "kms.yaml", "kms_provider: aws\naws_region: eu-central-1\nsecrets:\n  api_key: arn:aws:secretsmanager:x\n"))
	require.NoError(t, err)
	assert.Equal(t, "aws", fields["kms_provider"])
	assert.Equal(t, map[string]interface{}{"api_key": "arn:aws:secretsmanager:x"}, fields["secrets"])

	fields, err = readFields("")
	require.NoError(t, err)
	assert.Empty(t, fields)
}

func TestReadSecretValue(t *testing.T) {
	t.Setenv("CREDGATE_TEST_VALUE", "from-env")

	value, err := readSecretValue("", strings.NewReader("from-stdin\r\nignored\n"))
	require.NoError(t, err)
	assert.Equal(t, "from-stdin", value.Reveal())

	value, err = readSecretValue("", strings.NewReader("no-newline"))
	require.NoError(t, err)
	assert.Equal(t, "no-newline", value.Reveal())

	value, err = readSecretValue("CREDGATE_TEST_VALUE", strings.NewReader("unused"))
	require.NoError(t, err)
	assert.Equal(t, "from-env", value.Reveal())

	_, err = readSecretValue("", strings.NewReader(""))
	assert.ErrorContains(t, err, "No value provided")

	_, err = readSecretValue("CREDGATE_TEST_VALUE_UNSET", nil)
	assert.ErrorContains(t, err, "is not set")
}

func TestBreakerCommand(t *testing.T) {
	t.Parallel()

	failed := time.Date(2025, 3, 12, 10, 0, 0, 0, time.UTC)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/health/breakers", r.URL.Path)
		_ = json.NewEncoder(w).Encode([]breaker.Snapshot{
			{Key: "oauth:ws-1:github", State: breaker.StateOpen, FailureCount: 5, LastFailureTime: failed},
			{Key: "kms:ws-1:aws", State: breaker.StateClosed},
			{Key: "oauth:ws-2:gitlab", State: breaker.StateHalfOpen, FailureCount: 0},
		})
	}))
	defer srv.Close()

	run := func(args ...string) string {
		cmd := NewBreakerCommand(&config.Config{Logger: logging.Discard()})
		var out bytes.Buffer
		cmd.SetOut(&out)
		cmd.SetArgs(append([]string{"--addr", srv.URL}, args...))
		require.NoError(t, cmd.Execute())
		return out.String()
	}

	all := run()
	assert.Contains(t, all, "kms:ws-1:aws")
	assert.Contains(t, all, "⚠ open")
	assert.Contains(t, all, "2025-03-12T10:00:00Z")

	open := run("--open")
	assert.NotContains(t, open, "kms:ws-1:aws")
	assert.Contains(t, open, "oauth:ws-2:gitlab")

	github := run("--provider", "github")
	assert.Contains(t, github, "oauth:ws-1:github")
	assert.NotContains(t, github, "gitlab")
}

func TestBreakerCommand_Unreachable(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.NotFoundHandler())
	addr := srv.URL
	srv.Close()

	cmd := NewBreakerCommand(&config.Config{Logger: logging.Discard()})
	cmd.SetOut(&bytes.Buffer{})
	cmd.SetErr(&bytes.Buffer{})
	cmd.SetArgs([]string{"--addr", addr})
	err := cmd.Execute()

	var ue cgerrors.UserError
	require.ErrorAs(t, err, &ue)
	assert.Contains(t, ue.Suggestion, "credgate probe")
}

func TestMigrateCommand_Print(t *testing.T) {
	t.Parallel()

	cfg := &config.Config{
		Path:   writeFile(t, "credgate.yaml", "database:\n  driver: mysql\n"),
		Logger: logging.Discard(),
	}
	cmd := NewMigrateCommand(cfg)
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetArgs([]string{"--print"})
	require.NoError(t, cmd.Execute())

	assert.Contains(t, out.String(), "CREATE TABLE")
	assert.Contains(t, out.String(), "rotation_metering")
}

func TestProviderPutSecret_Guardrails(t *testing.T) {
	t.Parallel()

	path := writeFile(t, "credgate.yaml", `guardrails:
  blocked_providers: [heroku]
  secret_complexity:
    min_length: 16
`)

	tests := []struct {
		name     string
		provider string
		stdin    string
		wantErr  string
	}{
		{name: "blocked_provider", provider: "heroku", stdin: "a-long-enough-value\n", wantErr: "blocked by guardrails"},
		{name: "too_simple", provider: "github", stdin: "short\n", wantErr: "at least 16 characters"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			cmd := newProviderPutSecretCommand(&config.Config{Path: path, Logger: logging.Discard()})
			cmd.SetIn(strings.NewReader(tt.stdin))
			cmd.SetArgs([]string{"-w", "ws", "-p", tt.provider, "-s", "token"})
			cmd.SilenceUsage = true
			cmd.SilenceErrors = true

			err := cmd.Execute()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestKeygenCommand(t *testing.T) {
	t.Parallel()

	t.Run("prints_key", func(t *testing.T) {
		t.Parallel()
		cmd := NewKeygenCommand(&config.Config{Logger: logging.Discard()})
		var out bytes.Buffer
		cmd.SetOut(&out)
		cmd.SetArgs([]string{})
		require.NoError(t, cmd.Execute())

		key, err := base64.StdEncoding.DecodeString(strings.TrimSpace(out.String()))
		require.NoError(t, err)
		assert.Len(t, key, 32)
	})

	t.Run("keyring_requires_service", func(t *testing.T) {
		t.Parallel()
		cfg := &config.Config{
			Path:   writeFile(t, "credgate.yaml", "database:\n  driver: postgres\n"),
			Logger: logging.Discard(),
		}
		cmd := NewKeygenCommand(cfg)
		cmd.SetArgs([]string{"--keyring"})
		cmd.SilenceUsage = true
		cmd.SilenceErrors = true

		var cfgErr cgerrors.ConfigError
		require.ErrorAs(t, cmd.Execute(), &cfgErr)
		assert.Equal(t, "encryption.keyring_service", cfgErr.Field)
	})
}

func TestDoctorChecks(t *testing.T) {
	t.Setenv("CREDGATE_TEST_MASTER_KEY", base64.StdEncoding.EncodeToString(bytes.Repeat([]byte{7}, 32)))
	t.Setenv("CREDGATE_TEST_GH_SECRET", "")

	def, err := config.Parse([]byte(`encryption:
  master_key_env: CREDGATE_TEST_MASTER_KEY
oauth:
  github:
    client_id: Iv1.abc
    client_secret_env: CREDGATE_TEST_GH_SECRET
connectors:
  aws:
    aws_region: eu-west-1
  gcp:
    length: 4
`))
	require.NoError(t, err)

	assert.Equal(t, "healthy", checkMasterKey(def).Status)
	assert.Equal(t, "error", checkOAuthClients(def).Status)

	def.Encryption.MasterKeyEnv = "CREDGATE_TEST_MASTER_KEY_UNSET"
	assert.Equal(t, "error", checkMasterKey(def).Status)

	connectors := checkConnectors(&config.Config{Definition: def})
	require.Len(t, connectors, 2)
	assert.Equal(t, "connector aws", connectors[0].Name)
	assert.Equal(t, "healthy", connectors[0].Status)
	assert.Equal(t, "error", connectors[1].Status)
	assert.Contains(t, connectors[1].Message, "gcp_project_id")

	db, mock, err := sqlmock.New(sqlmock.MonitorPingsOption(true))
	require.NoError(t, err)
	defer db.Close()
	mock.ExpectPing()
	assert.Equal(t, "healthy", checkDatabase(context.Background(), db).Status)

	mock.ExpectPing().WillReturnError(errors.New("connection refused"))
	failed := checkDatabase(context.Background(), db)
	assert.Equal(t, "error", failed.Status)
	assert.Contains(t, failed.Message, "connection refused")
	require.NoError(t, mock.ExpectationsWereMet())

	var buf bytes.Buffer
	err = renderChecks(&buf, []CheckResult{
		{Name: "master key", Status: "healthy"},
		{Name: "oauth clients", Status: "warning", Suggestion: "add clients"},
		failed,
	}, true)
	assert.EqualError(t, err, "some checks failed")
	assert.Contains(t, buf.String(), "Summary: 2/3 checks passed")
	assert.Contains(t, buf.String(), "💡 add clients")
}
