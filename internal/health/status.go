// Package health tracks the health of credential sources per workspace,
// provider and mode, probes them on an interval and serves the Prometheus
// metrics endpoint.
package health

import (
	"fmt"
	"strings"
	"time"

	"github.com/systmms/credgate/internal/credentials"
)

// Status is the health of one credential source.
type Status int

const (
	// StatusUnknown indicates nothing has been recorded yet.
	StatusUnknown Status = iota

	// StatusHealthy indicates the last resolution succeeded.
	StatusHealthy

	// StatusDegraded indicates recent failures below the unhealthy threshold.
	StatusDegraded

	// StatusUnhealthy indicates consecutive failures at or above the threshold.
	StatusUnhealthy
)

func (s Status) String() string {
	switch s {
	case StatusHealthy:
		return "healthy"
	case StatusDegraded:
		return "degraded"
	case StatusUnhealthy:
		return "unhealthy"
	default:
		return "unknown"
	}
}

// MarshalText renders the status name in JSON and YAML output.
func (s Status) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// UnmarshalText parses a status name.
func (s *Status) UnmarshalText(text []byte) error {
	switch strings.ToLower(string(text)) {
	case "healthy":
		*s = StatusHealthy
	case "degraded":
		*s = StatusDegraded
	case "unhealthy":
		*s = StatusUnhealthy
	case "unknown", "":
		*s = StatusUnknown
	default:
		return fmt.Errorf("invalid health status %q", text)
	}
	return nil
}

// CredentialHealth is the recorded health of one credential source.
type CredentialHealth struct {
	WorkspaceID  string           `json:"workspace_id"`
	Provider     string           `json:"provider"`
	Mode         credentials.Mode `json:"mode"`
	Status       Status           `json:"status"`
	LastCheck    time.Time        `json:"last_check"`
	LastSuccess  time.Time        `json:"last_success,omitempty"`
	LastFailure  time.Time        `json:"last_failure,omitempty"`
	FailureCount int              `json:"failure_count"`
	ErrorMessage string           `json:"error_message,omitempty"`
}
