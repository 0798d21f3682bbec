package policy

import (
	"context"
	"fmt"
	"sort"

	"github.com/systmms/credgate/internal/logging"
)

// DefaultMeteringPeriodDays is the trailing window rotation limits count over.
const DefaultMeteringPeriodDays = 30

// Store persists policies.
type Store interface {
	// ListEnabledPolicies returns the enabled policies of a workspace ordered
	// by priority descending, then creation time ascending.
	ListEnabledPolicies(ctx context.Context, workspaceID string) ([]Policy, error)

	// CreatePolicy stores a new, enabled policy.
	CreatePolicy(ctx context.Context, p NewPolicy) (*Policy, error)
}

// MeteringStore sums recorded rotations.
type MeteringStore interface {
	RotationCount(ctx context.Context, workspaceID string, periodDays int) (int, error)
}

// Engine evaluates every applicable policy of a workspace.
type Engine struct {
	store     Store
	metering  MeteringStore
	evaluator *Evaluator
	logger    *logging.Logger
	metrics   *Metrics
}

// EngineOption configures an Engine.
type EngineOption func(*Engine)

// WithEvaluator replaces the default evaluator.
func WithEvaluator(e *Evaluator) EngineOption {
	return func(en *Engine) { en.evaluator = e }
}

// WithLogger sets the logger.
func WithLogger(l *logging.Logger) EngineOption {
	return func(en *Engine) { en.logger = l }
}

// NewEngine creates an Engine.
func NewEngine(store Store, metering MeteringStore, opts ...EngineOption) *Engine {
	e := &Engine{
		store:     store,
		metering:  metering,
		evaluator: NewEvaluator(),
		logger:    logging.Discard(),
		metrics:   NewMetrics(),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// ApplicablePolicies loads the enabled policies whose scope matches ctx, in
// evaluation order.
func (e *Engine) ApplicablePolicies(ctx context.Context, evalCtx EvaluationContext) ([]Policy, error) {
	policies, err := e.store.ListEnabledPolicies(ctx, evalCtx.WorkspaceID)
	if err != nil {
		return nil, fmt.Errorf("failed to load policies: %w", err)
	}

	sort.SliceStable(policies, func(i, j int) bool {
		if policies[i].Priority != policies[j].Priority {
			return policies[i].Priority > policies[j].Priority
		}
		return policies[i].CreatedAt.Before(policies[j].CreatedAt)
	})

	applicable := policies[:0]
	for i := range policies {
		ok, err := MatchesScope(&policies[i], evalCtx)
		if err != nil {
			return nil, err
		}
		if ok {
			applicable = append(applicable, policies[i])
		}
	}
	return applicable, nil
}

// EvaluatePolicies evaluates every applicable policy and aggregates the
// results. A malformed policy aborts the whole evaluation with its error.
func (e *Engine) EvaluatePolicies(ctx context.Context, evalCtx EvaluationContext) (*Summary, error) {
	policies, err := e.ApplicablePolicies(ctx, evalCtx)
	if err != nil {
		return nil, err
	}

	results := make([]Result, 0, len(policies))
	for i := range policies {
		result, err := e.evaluator.Evaluate(&policies[i], evalCtx)
		if err != nil {
			return nil, fmt.Errorf("failed to evaluate policy %q: %w", policies[i].Name, err)
		}
		e.logger.Debug("Policy %q: %s", result.PolicyName, result.Action)
		e.metrics.RecordEvaluation(result.Action)
		results = append(results, result)
	}

	summary := Summarize(results)
	e.metrics.RecordDecision(decision(summary))
	return summary, nil
}

// RotationCount returns the rotations recorded over the trailing period.
func (e *Engine) RotationCount(ctx context.Context, workspaceID string, periodDays int) (int, error) {
	if e.metering == nil {
		return 0, fmt.Errorf("no metering store configured")
	}
	if periodDays <= 0 {
		periodDays = DefaultMeteringPeriodDays
	}
	count, err := e.metering.RotationCount(ctx, workspaceID, periodDays)
	if err != nil {
		return 0, fmt.Errorf("failed to read rotation count: %w", err)
	}
	return count, nil
}

// CreatePolicy validates and stores a policy.
func (e *Engine) CreatePolicy(ctx context.Context, p NewPolicy) (*Policy, error) {
	candidate := &Policy{
		WorkspaceID:     p.WorkspaceID,
		Name:            p.Name,
		Description:     p.Description,
		Priority:        p.Priority,
		Enabled:         true,
		Scope:           p.Scope,
		ProviderPattern: p.ProviderPattern,
		SecretPattern:   p.SecretPattern,
		Rules:           p.Rules,
	}
	if err := Validate(candidate); err != nil {
		return nil, err
	}

	created, err := e.store.CreatePolicy(ctx, p)
	if err != nil {
		return nil, fmt.Errorf("failed to create policy: %w", err)
	}
	e.logger.Info("Created policy %q (%s)", created.Name, created.ID)
	return created, nil
}

func decision(s *Summary) string {
	switch {
	case !s.Allowed:
		return "blocked"
	case s.RequiresApproval:
		return "requires_approval"
	default:
		return "allowed"
	}
}
