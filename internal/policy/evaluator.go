package policy

import (
	"fmt"
	"slices"
	"strings"
	"time"
)

// Reasons reported for policies that do not apply.
const (
	ReasonDisabled      = "Policy disabled"
	ReasonScopeMismatch = "Policy scope does not match"
)

// Evaluator applies a single policy to a context. It performs no I/O.
type Evaluator struct {
	now func() time.Time
}

// EvaluatorOption configures an Evaluator.
type EvaluatorOption func(*Evaluator)

// WithClock overrides the time source used for maintenance windows.
func WithClock(now func() time.Time) EvaluatorOption {
	return func(e *Evaluator) { e.now = now }
}

// NewEvaluator creates an Evaluator.
func NewEvaluator(opts ...EvaluatorOption) *Evaluator {
	e := &Evaluator{now: time.Now}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Evaluate applies p to ctx. Checks run in a fixed order and only escalate
// the action: rotation limits, maintenance windows, allowed environments,
// then the approval gate. Malformed patterns, times and timezones return a
// *PatternError.
func (e *Evaluator) Evaluate(p *Policy, ctx EvaluationContext) (Result, error) {
	result := Result{
		PolicyID:   p.ID,
		PolicyName: p.Name,
		Passed:     true,
		Action:     ActionAllow,
	}

	if !p.Enabled {
		result.Reason = ReasonDisabled
		return result, nil
	}

	applies, err := MatchesScope(p, ctx)
	if err != nil {
		return Result{}, err
	}
	if !applies {
		result.Reason = ReasonScopeMismatch
		return result, nil
	}

	action := ActionAllow
	var reasons []string

	if limits := p.Rules.RotationLimits; limits != nil {
		if limits.HardLimit != nil && ctx.CurrentRotationCount >= *limits.HardLimit {
			action = escalate(action, ActionBlock)
			reasons = append(reasons, fmt.Sprintf("Hard limit reached: %d rotations in %s",
				ctx.CurrentRotationCount, limits.Period))
		} else if limits.SoftLimit != nil && ctx.CurrentRotationCount >= *limits.SoftLimit {
			action = escalate(action, ActionWarn)
			reasons = append(reasons, fmt.Sprintf("Soft limit reached: %d rotations in %s",
				ctx.CurrentRotationCount, limits.Period))
		}
	}

	if p.Rules.MaintenanceWindows != nil {
		inside, err := InMaintenanceWindow(p.Name, p.Rules.MaintenanceWindows, e.now())
		if err != nil {
			return Result{}, err
		}
		if !inside {
			action = escalate(action, ActionBlock)
			reasons = append(reasons, "Outside of maintenance window")
		}
	}

	if p.Rules.AllowedEnvironments != nil && ctx.Environment != "" {
		if !slices.Contains(p.Rules.AllowedEnvironments, ctx.Environment) {
			action = escalate(action, ActionBlock)
			reasons = append(reasons, fmt.Sprintf("Environment '%s' not allowed", ctx.Environment))
		}
	}

	if p.Rules.RequireApproval != nil && *p.Rules.RequireApproval && action == ActionAllow {
		action = ActionRequireApproval
		reasons = append(reasons, "Approval required by policy")
	}

	result.Action = action
	result.Passed = action == ActionAllow || action == ActionWarn
	result.Reason = strings.Join(reasons, "; ")
	return result, nil
}

// Summarize aggregates results. The outcome does not depend on their order.
func Summarize(results []Result) *Summary {
	summary := &Summary{
		Allowed:         true,
		Warnings:        []string{},
		BlockingReasons: []string{},
		Results:         results,
	}
	if summary.Results == nil {
		summary.Results = []Result{}
	}

	for _, r := range results {
		switch r.Action {
		case ActionWarn:
			if r.Reason != "" {
				summary.Warnings = append(summary.Warnings, fmt.Sprintf("%s: %s", r.PolicyName, r.Reason))
			}
		case ActionBlock:
			summary.Allowed = false
			if r.Reason != "" {
				summary.BlockingReasons = append(summary.BlockingReasons, fmt.Sprintf("%s: %s", r.PolicyName, r.Reason))
			}
		case ActionRequireApproval:
			summary.RequiresApproval = true
		}
	}
	return summary
}
