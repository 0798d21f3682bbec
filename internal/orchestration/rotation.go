package orchestration

import (
	"context"
	"fmt"
	"time"

	"github.com/systmms/credgate/internal/logging"
	"github.com/systmms/credgate/internal/policy"
)

// Status is the terminal state of one rotation attempt.
type Status string

const (
	StatusBlocked          Status = "blocked"
	StatusRequiresApproval Status = "requires_approval"
	StatusCompleted        Status = "completed"
	StatusFailed           Status = "failed"
)

// Outcome reports an admitted, blocked or held rotation. Blocked and held
// rotations are outcomes, not errors.
type Outcome struct {
	Success       bool            `json:"success"`
	Status        Status          `json:"status"`
	DryRun        bool            `json:"dry_run,omitempty"`
	Reasons       []string        `json:"reasons,omitempty"`
	Warnings      []string        `json:"warnings"`
	Result        *RotationResult `json:"rotation_result,omitempty"`
	PolicyResults []policy.Result `json:"policy_results"`
}

// PolicyEngine admits rotations.
type PolicyEngine interface {
	RotationCount(ctx context.Context, workspaceID string, periodDays int) (int, error)
	EvaluatePolicies(ctx context.Context, evalCtx policy.EvaluationContext) (*policy.Summary, error)
}

// SecretRotator performs an admitted rotation.
type SecretRotator interface {
	RotateSecret(ctx context.Context, req RotationRequest, cfg ConnectorConfig) (*RotationResult, error)
}

// RotationRecorder counts completed rotations toward rotation limits.
type RotationRecorder interface {
	RecordRotation(ctx context.Context, workspaceID string) error
}

// RotationOrchestrator sequences admission and connector execution.
type RotationOrchestrator struct {
	engine     PolicyEngine
	rotator    SecretRotator
	recorder   RotationRecorder
	periodDays int
	logger     *logging.Logger
	metrics    *Metrics
	now        func() time.Time
}

// Option configures a RotationOrchestrator.
type Option func(*RotationOrchestrator)

// WithRecorder records completed, non-dry-run rotations.
func WithRecorder(r RotationRecorder) Option {
	return func(o *RotationOrchestrator) { o.recorder = r }
}

// WithMeteringPeriod sets the trailing window in days rotation limits count
// over.
func WithMeteringPeriod(days int) Option {
	return func(o *RotationOrchestrator) {
		if days > 0 {
			o.periodDays = days
		}
	}
}

// WithLogger sets the logger.
func WithLogger(l *logging.Logger) Option {
	return func(o *RotationOrchestrator) { o.logger = l }
}

// NewRotationOrchestrator creates a RotationOrchestrator.
func NewRotationOrchestrator(engine PolicyEngine, rotator SecretRotator, opts ...Option) *RotationOrchestrator {
	o := &RotationOrchestrator{
		engine:     engine,
		rotator:    rotator,
		periodDays: policy.DefaultMeteringPeriodDays,
		logger:     logging.Discard(),
		metrics:    NewMetrics(),
		now:        time.Now,
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// ExecuteRotation counts recent rotations, evaluates policies and, when
// admitted, invokes the connector. Dry runs are admitted the same way and
// short-circuited by the rotator.
func (o *RotationOrchestrator) ExecuteRotation(
	ctx context.Context,
	workspaceID, provider, secretName, environment string,
	cfg ConnectorConfig,
	dryRun bool,
) (*Outcome, error) {
	start := o.now()

	count, err := o.engine.RotationCount(ctx, workspaceID, o.periodDays)
	if err != nil {
		return nil, err
	}

	summary, err := o.engine.EvaluatePolicies(ctx, policy.EvaluationContext{
		WorkspaceID:          workspaceID,
		Provider:             provider,
		SecretName:           secretName,
		Environment:          environment,
		CurrentRotationCount: count,
	})
	if err != nil {
		return nil, err
	}

	outcome := &Outcome{
		DryRun:        dryRun,
		Warnings:      summary.Warnings,
		PolicyResults: summary.Results,
	}

	if !summary.Allowed {
		outcome.Status = StatusBlocked
		outcome.Reasons = summary.BlockingReasons
		o.logger.Warn("Rotation of %s/%s blocked by policy", provider, logging.Secret(secretName))
		o.metrics.RecordRotation(provider, outcome.Status, o.now().Sub(start))
		return outcome, nil
	}

	if summary.RequiresApproval {
		outcome.Status = StatusRequiresApproval
		o.logger.Info("Rotation of %s/%s requires approval", provider, logging.Secret(secretName))
		o.metrics.RecordRotation(provider, outcome.Status, o.now().Sub(start))
		return outcome, nil
	}

	if cfg.Provider == "" {
		cfg.Provider = provider
	}
	result, err := o.rotator.RotateSecret(ctx, RotationRequest{
		WorkspaceID: workspaceID,
		Provider:    provider,
		SecretName:  secretName,
		Environment: environment,
		DryRun:      dryRun,
	}, cfg)
	if err != nil {
		o.metrics.RecordRotation(provider, StatusFailed, o.now().Sub(start))
		return nil, fmt.Errorf("rotation failed: %w", err)
	}

	outcome.Result = result
	outcome.Success = result.Success
	outcome.Status = StatusCompleted
	if !result.Success {
		outcome.Status = StatusFailed
	}

	if result.Success && !dryRun && o.recorder != nil {
		if err := o.recorder.RecordRotation(ctx, workspaceID); err != nil {
			o.logger.Warn("Failed to record rotation for metering: %v", err)
		}
	}

	o.logger.Info("Rotation of %s/%s %s", provider, logging.Secret(secretName), outcome.Status)
	o.metrics.RecordRotation(provider, outcome.Status, o.now().Sub(start))
	return outcome, nil
}
