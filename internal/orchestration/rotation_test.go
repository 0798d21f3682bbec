package orchestration_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/systmms/credgate/internal/orchestration"
	"github.com/systmms/credgate/internal/policy"
	"github.com/systmms/credgate/internal/testutil"
)

const workspace = "9c1d2e3f-4a5b-4c6d-8e7f-0a1b2c3d4e5f"

type rotationFixture struct {
	policies  *testutil.FakePolicyStore
	metering  *testutil.FakeMetering
	connector *testutil.FakeConnector
	now       time.Time
}

func newRotationFixture() *rotationFixture {
	return &rotationFixture{
		policies:  &testutil.FakePolicyStore{},
		metering:  &testutil.FakeMetering{},
		connector: &testutil.FakeConnector{Name: "aws"},
		now:       time.Date(2025, 3, 12, 12, 0, 0, 0, time.UTC),
	}
}

func (f *rotationFixture) orchestrator(t *testing.T, opts ...orchestration.Option) *orchestration.RotationOrchestrator {
	t.Helper()
	engine := policy.NewEngine(f.policies, f.metering,
		policy.WithEvaluator(policy.NewEvaluator(policy.WithClock(func() time.Time { return f.now }))))
	dispatcher, err := orchestration.NewConnectorOrchestrator(nil, f.connector)
	require.NoError(t, err)
	return orchestration.NewRotationOrchestrator(engine, dispatcher, opts...)
}

func (f *rotationFixture) addPolicy(name string, rules policy.Rules) {
	f.policies.Add(policy.Policy{WorkspaceID: workspace, Name: name, Enabled: true, Scope: policy.ScopeWorkspace, Rules: rules})
}

func intPtr(v int) *int    { return &v }
func boolPtr(v bool) *bool { return &v }

func TestExecuteRotation_Completed(t *testing.T) {
	t.Parallel()

	f := newRotationFixture()
	f.metering.Count = 6
	f.addPolicy("limits", policy.Rules{RotationLimits: &policy.RotationLimits{SoftLimit: intPtr(5), HardLimit: intPtr(10), Period: "30d"}})

	o := f.orchestrator(t, orchestration.WithRecorder(f.metering))
	outcome, err := o.ExecuteRotation(context.Background(), workspace, "aws", "db", "production",
		orchestration.ConnectorConfig{Credentials: map[string]interface{}{"aws_region": "us-east-1"}}, false)
	require.NoError(t, err)

	assert.True(t, outcome.Success)
	assert.Equal(t, orchestration.StatusCompleted, outcome.Status)
	assert.Equal(t, []string{"limits: Soft limit reached: 6 rotations in 30d"}, outcome.Warnings)
	require.NotNil(t, outcome.Result)
	assert.Len(t, outcome.PolicyResults, 1)

	require.Len(t, f.connector.Requests, 1)
	req := f.connector.Requests[0]
	assert.Equal(t, orchestration.RotationRequest{
		WorkspaceID: workspace, Provider: "aws", SecretName: "db", Environment: "production",
	}, req)
	assert.Equal(t, "aws", f.connector.Configs[0].Provider)

	assert.Equal(t, []int{policy.DefaultMeteringPeriodDays}, f.metering.Periods)
	assert.Equal(t, 1, f.metering.Recorded)
}

func TestExecuteRotation_Blocked(t *testing.T) {
	t.Parallel()

	f := newRotationFixture()
	f.metering.Count = 10
	f.addPolicy("cap", policy.Rules{RotationLimits: &policy.RotationLimits{HardLimit: intPtr(10), Period: "30d"}})
	f.addPolicy("gate", policy.Rules{RequireApproval: boolPtr(true)})

	o := f.orchestrator(t, orchestration.WithRecorder(f.metering))
	outcome, err := o.ExecuteRotation(context.Background(), workspace, "aws", "db", "production", orchestration.ConnectorConfig{}, false)
	require.NoError(t, err)

	assert.False(t, outcome.Success)
	assert.Equal(t, orchestration.StatusBlocked, outcome.Status)
	assert.Equal(t, []string{"cap: Hard limit reached: 10 rotations in 30d"}, outcome.Reasons)
	assert.Nil(t, outcome.Result)
	assert.Zero(t, f.connector.RotationCount())
	assert.Zero(t, f.metering.Recorded)
}

func TestExecuteRotation_RequiresApproval(t *testing.T) {
	t.Parallel()

	f := newRotationFixture()
	f.metering.Count = 7
	f.addPolicy("limits", policy.Rules{RotationLimits: &policy.RotationLimits{SoftLimit: intPtr(5), Period: "30d"}})
	f.addPolicy("gate", policy.Rules{RequireApproval: boolPtr(true)})

	outcome, err := f.orchestrator(t).ExecuteRotation(context.Background(), workspace, "aws", "db", "", orchestration.ConnectorConfig{}, false)
	require.NoError(t, err)

	assert.False(t, outcome.Success)
	assert.Equal(t, orchestration.StatusRequiresApproval, outcome.Status)
	assert.Equal(t, []string{"limits: Soft limit reached: 7 rotations in 30d"}, outcome.Warnings)
	assert.Zero(t, f.connector.RotationCount())
}

func TestExecuteRotation_DryRun(t *testing.T) {
	t.Parallel()

	t.Run("admitted_dry_run_skips_connector", func(t *testing.T) {
		t.Parallel()
		f := newRotationFixture()

		outcome, err := f.orchestrator(t, orchestration.WithRecorder(f.metering)).
			ExecuteRotation(context.Background(), workspace, "aws", "db", "", orchestration.ConnectorConfig{}, true)
		require.NoError(t, err)
		assert.True(t, outcome.Success)
		assert.True(t, outcome.DryRun)
		assert.Equal(t, true, outcome.Result.Metadata["dry_run"])
		assert.Zero(t, f.connector.RotationCount())
		assert.Zero(t, f.metering.Recorded)
	})

	t.Run("dry_run_still_respects_windows", func(t *testing.T) {
		t.Parallel()
		f := newRotationFixture()
		f.now = time.Date(2025, 3, 12, 3, 0, 0, 0, time.UTC)
		f.addPolicy("business-hours", policy.Rules{MaintenanceWindows: []policy.MaintenanceWindow{
			{StartTime: "09:00", EndTime: "17:00", Timezone: "UTC"},
		}})

		outcome, err := f.orchestrator(t).ExecuteRotation(context.Background(), workspace, "aws", "db", "", orchestration.ConnectorConfig{}, true)
		require.NoError(t, err)
		assert.Equal(t, orchestration.StatusBlocked, outcome.Status)
		assert.Equal(t, []string{"business-hours: Outside of maintenance window"}, outcome.Reasons)
	})
}

func TestExecuteRotation_Errors(t *testing.T) {
	t.Parallel()

	t.Run("metering_failure", func(t *testing.T) {
		t.Parallel()
		f := newRotationFixture()
		f.metering.Err = errors.New("db down")

		_, err := f.orchestrator(t).ExecuteRotation(context.Background(), workspace, "aws", "db", "", orchestration.ConnectorConfig{}, false)
		assert.ErrorContains(t, err, "db down")
		assert.Zero(t, f.connector.RotationCount())
	})

	t.Run("malformed_policy", func(t *testing.T) {
		t.Parallel()
		f := newRotationFixture()
		f.addPolicy("broken", policy.Rules{MaintenanceWindows: []policy.MaintenanceWindow{
			{StartTime: "09:00", EndTime: "17:00", Timezone: "Moon/Base"},
		}})

		_, err := f.orchestrator(t).ExecuteRotation(context.Background(), workspace, "aws", "db", "", orchestration.ConnectorConfig{}, false)
		var pe *policy.PatternError
		assert.ErrorAs(t, err, &pe)
	})

	t.Run("connector_failure", func(t *testing.T) {
		t.Parallel()
		f := newRotationFixture()
		f.connector.RotateFunc = func(context.Context, orchestration.RotationRequest, orchestration.ConnectorConfig) (*orchestration.RotationResult, error) {
			return nil, errors.New("throttled")
		}

		_, err := f.orchestrator(t, orchestration.WithRecorder(f.metering)).
			ExecuteRotation(context.Background(), workspace, "aws", "db", "", orchestration.ConnectorConfig{}, false)
		assert.ErrorContains(t, err, "rotation failed: throttled")
		assert.Zero(t, f.metering.Recorded)
	})

	t.Run("unsuccessful_result", func(t *testing.T) {
		t.Parallel()
		f := newRotationFixture()
		f.connector.RotateFunc = func(context.Context, orchestration.RotationRequest, orchestration.ConnectorConfig) (*orchestration.RotationResult, error) {
			return &orchestration.RotationResult{Success: false, Error: "verification failed"}, nil
		}

		outcome, err := f.orchestrator(t, orchestration.WithRecorder(f.metering)).
			ExecuteRotation(context.Background(), workspace, "aws", "db", "", orchestration.ConnectorConfig{}, false)
		require.NoError(t, err)
		assert.False(t, outcome.Success)
		assert.Equal(t, orchestration.StatusFailed, outcome.Status)
		assert.Zero(t, f.metering.Recorded)
	})

	t.Run("unsupported_provider", func(t *testing.T) {
		t.Parallel()
		f := newRotationFixture()
		_, err := f.orchestrator(t).ExecuteRotation(context.Background(), workspace, "render", "db", "", orchestration.ConnectorConfig{}, false)
		assert.ErrorContains(t, err, "unsupported provider: render")
	})
}

func TestExecuteRotation_MeteringPeriod(t *testing.T) {
	t.Parallel()

	f := newRotationFixture()
	_, err := f.orchestrator(t, orchestration.WithMeteringPeriod(7)).
		ExecuteRotation(context.Background(), workspace, "aws", "db", "", orchestration.ConnectorConfig{}, false)
	require.NoError(t, err)
	assert.Equal(t, []int{7}, f.metering.Periods)
}

func TestRotationMetrics(t *testing.T) {
	orchestration.InitMetrics()
	require.NotNil(t, orchestration.GetRotationsTotal())

	f := newRotationFixture()
	_, err := f.orchestrator(t).ExecuteRotation(context.Background(), workspace, "aws", "metrics-db", "", orchestration.ConnectorConfig{}, false)
	require.NoError(t, err)

	counter, err := orchestration.GetRotationsTotal().GetMetricWithLabelValues("aws", "completed")
	require.NoError(t, err)
	assert.NotNil(t, counter)
}
