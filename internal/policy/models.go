// Package policy decides whether a rotation may run. Policies carry rotation
// limits, maintenance windows, environment allow-lists and approval gates;
// the Evaluator applies one policy to one context and the Engine aggregates
// every applicable policy of a workspace.
package policy

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Scope is the granularity a policy applies at.
type Scope string

const (
	// ScopeWorkspace applies to every rotation in the workspace.
	ScopeWorkspace Scope = "workspace"
	// ScopeProvider applies to providers matching ProviderPattern.
	ScopeProvider Scope = "provider"
	// ScopeSecret applies to secrets matching both patterns.
	ScopeSecret Scope = "secret"
)

// ParseScope parses a stored scope name.
func ParseScope(s string) (Scope, error) {
	switch Scope(strings.ToLower(s)) {
	case ScopeWorkspace:
		return ScopeWorkspace, nil
	case ScopeProvider:
		return ScopeProvider, nil
	case ScopeSecret:
		return ScopeSecret, nil
	default:
		return "", fmt.Errorf("invalid policy scope %q", s)
	}
}

// Action is a policy decision, ordered by severity.
type Action int

const (
	ActionAllow Action = iota
	ActionWarn
	ActionRequireApproval
	ActionBlock
)

func (a Action) String() string {
	switch a {
	case ActionWarn:
		return "warn"
	case ActionRequireApproval:
		return "require_approval"
	case ActionBlock:
		return "block"
	default:
		return "allow"
	}
}

// MarshalText renders the action name.
func (a Action) MarshalText() ([]byte, error) {
	return []byte(a.String()), nil
}

// UnmarshalText parses an action name.
func (a *Action) UnmarshalText(text []byte) error {
	switch strings.ToLower(string(text)) {
	case "allow":
		*a = ActionAllow
	case "warn":
		*a = ActionWarn
	case "require_approval", "requireapproval":
		*a = ActionRequireApproval
	case "block":
		*a = ActionBlock
	default:
		return fmt.Errorf("invalid policy action %q", text)
	}
	return nil
}

// escalate returns the more severe of a and b.
func escalate(a, b Action) Action {
	if b > a {
		return b
	}
	return a
}

// Policy is one governance rule set.
type Policy struct {
	ID              uuid.UUID `json:"id"`
	WorkspaceID     string    `json:"workspace_id"`
	Name            string    `json:"name"`
	Description     string    `json:"description,omitempty"`
	Priority        int       `json:"priority"`
	Enabled         bool      `json:"enabled"`
	Scope           Scope     `json:"scope"`
	ProviderPattern string    `json:"provider_pattern,omitempty"`
	SecretPattern   string    `json:"secret_pattern,omitempty"`
	Rules           Rules     `json:"rules"`
	CreatedAt       time.Time `json:"created_at"`
	UpdatedAt       time.Time `json:"updated_at"`
}

// Rules holds the optional sub-rules of a policy. Absent rules are nil.
type Rules struct {
	RotationLimits      *RotationLimits     `json:"rotation_limits,omitempty" yaml:"rotation_limits,omitempty"`
	MaintenanceWindows  []MaintenanceWindow `json:"maintenance_windows" yaml:"maintenance_windows"`
	PreviewFirst        *bool               `json:"preview_first,omitempty" yaml:"preview_first,omitempty"`
	RequireApproval     *bool               `json:"require_approval,omitempty" yaml:"require_approval,omitempty"`
	AutoRedeploy        *bool               `json:"auto_redeploy,omitempty" yaml:"auto_redeploy,omitempty"`
	AllowedEnvironments []string            `json:"allowed_environments" yaml:"allowed_environments"`
}

// RotationLimits caps rotations over a trailing period.
type RotationLimits struct {
	SoftLimit *int   `json:"soft_limit,omitempty" yaml:"soft_limit,omitempty"`
	HardLimit *int   `json:"hard_limit,omitempty" yaml:"hard_limit,omitempty"`
	Period    string `json:"period" yaml:"period"`
}

// MaintenanceWindow is a recurring local time range. DayOfWeek, when set, is
// matched by substring ("mon-fri" matches Monday and Friday only).
type MaintenanceWindow struct {
	DayOfWeek string `json:"day_of_week,omitempty" yaml:"day_of_week,omitempty"`
	StartTime string `json:"start_time" yaml:"start_time"`
	EndTime   string `json:"end_time" yaml:"end_time"`
	Timezone  string `json:"timezone" yaml:"timezone"`
}

// EvaluationContext is the facts a policy is evaluated against. An empty
// Environment means the rotation is not tied to an environment.
type EvaluationContext struct {
	WorkspaceID          string `json:"workspace_id"`
	Provider             string `json:"provider"`
	SecretName           string `json:"secret_name"`
	Environment          string `json:"environment,omitempty"`
	CurrentRotationCount int    `json:"current_rotation_count"`
}

// Result is the outcome of evaluating one policy.
type Result struct {
	PolicyID   uuid.UUID `json:"policy_id"`
	PolicyName string    `json:"policy_name"`
	Passed     bool      `json:"passed"`
	Reason     string    `json:"reason,omitempty"`
	Action     Action    `json:"action"`
}

// Summary aggregates the results of every applicable policy. A context can
// be blocked and require approval at once; check Allowed first.
type Summary struct {
	Allowed          bool     `json:"allowed"`
	RequiresApproval bool     `json:"requires_approval"`
	Warnings         []string `json:"warnings"`
	BlockingReasons  []string `json:"blocking_reasons"`
	Results          []Result `json:"results"`
}

// NewPolicy is the input for creating a policy.
type NewPolicy struct {
	WorkspaceID     string `yaml:"workspace_id"`
	Name            string `yaml:"name"`
	Description     string `yaml:"description,omitempty"`
	Priority        int    `yaml:"priority"`
	Scope           Scope  `yaml:"scope"`
	ProviderPattern string `yaml:"provider_pattern,omitempty"`
	SecretPattern   string `yaml:"secret_pattern,omitempty"`
	Rules           Rules  `yaml:"rules"`
}
