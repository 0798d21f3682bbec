package health

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/systmms/credgate/internal/credentials"
	"github.com/systmms/credgate/internal/logging"
)

// TokenExpiryStore reads cached OAuth access tokens.
type TokenExpiryStore interface {
	GetAccessToken(ctx context.Context, workspaceID, provider string) (*credentials.AccessToken, error)
}

// MonitorConfig holds configuration for the health monitor.
type MonitorConfig struct {
	// UnhealthyThreshold is the number of consecutive failures before a
	// source is reported unhealthy. Fewer failures report degraded.
	// Default: 3
	UnhealthyThreshold int
}

// DefaultMonitorConfig returns the default monitor configuration.
func DefaultMonitorConfig() MonitorConfig {
	return MonitorConfig{
		UnhealthyThreshold: 3,
	}
}

// Monitor records resolution outcomes per (workspace, provider, mode). It
// implements credentials.HealthRecorder.
type Monitor struct {
	config  MonitorConfig
	tokens  TokenExpiryStore
	states  map[string]*CredentialHealth
	mu      sync.RWMutex
	now     func() time.Time
	logger  *logging.Logger
	metrics *Metrics
}

// MonitorOption configures a Monitor.
type MonitorOption func(*Monitor)

// WithTokenStore enables OAuth expiry checks.
func WithTokenStore(tokens TokenExpiryStore) MonitorOption {
	return func(m *Monitor) { m.tokens = tokens }
}

// WithClock overrides the time source (for testing).
func WithClock(now func() time.Time) MonitorOption {
	return func(m *Monitor) { m.now = now }
}

// WithLogger sets the logger.
func WithLogger(l *logging.Logger) MonitorOption {
	return func(m *Monitor) { m.logger = l }
}

// NewMonitor creates a new health monitor with the given configuration.
func NewMonitor(config MonitorConfig, opts ...MonitorOption) *Monitor {
	if config.UnhealthyThreshold <= 0 {
		config.UnhealthyThreshold = DefaultMonitorConfig().UnhealthyThreshold
	}
	m := &Monitor{
		config:  config,
		states:  make(map[string]*CredentialHealth),
		now:     time.Now,
		logger:  logging.Discard(),
		metrics: NewMetrics(),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

func stateKey(workspaceID, provider string, mode credentials.Mode) string {
	return fmt.Sprintf("%s/%s/%s", workspaceID, provider, mode)
}

func (m *Monitor) getOrCreate(workspaceID, provider string, mode credentials.Mode) *CredentialHealth {
	key := stateKey(workspaceID, provider, mode)
	state, ok := m.states[key]
	if !ok {
		state = &CredentialHealth{
			WorkspaceID: workspaceID,
			Provider:    provider,
			Mode:        mode,
			Status:      StatusUnknown,
		}
		m.states[key] = state
	}
	return state
}

// RecordSuccess marks a source healthy and clears its failure count.
func (m *Monitor) RecordSuccess(_ context.Context, workspaceID, provider string, mode credentials.Mode) {
	m.mu.Lock()
	state := m.getOrCreate(workspaceID, provider, mode)
	now := m.now()
	state.Status = StatusHealthy
	state.LastCheck = now
	state.LastSuccess = now
	state.FailureCount = 0
	state.ErrorMessage = ""
	m.mu.Unlock()

	m.logger.Debug("Recording health success for %s (%s)", provider, mode)
	m.metrics.RecordStatus(provider, mode, StatusHealthy)
}

// RecordFailure counts a failed resolution. err must already be free of
// remote response bodies; resolver errors are.
func (m *Monitor) RecordFailure(_ context.Context, workspaceID, provider string, mode credentials.Mode, err error) {
	m.mu.Lock()
	state := m.getOrCreate(workspaceID, provider, mode)
	now := m.now()
	state.LastCheck = now
	state.LastFailure = now
	state.FailureCount++
	if err != nil {
		state.ErrorMessage = err.Error()
	}
	if state.FailureCount >= m.config.UnhealthyThreshold {
		state.Status = StatusUnhealthy
	} else {
		state.Status = StatusDegraded
	}
	status := state.Status
	m.mu.Unlock()

	m.logger.Warn("Recording health failure for %s (%s): %v", provider, mode, err)
	m.metrics.RecordStatus(provider, mode, status)
	m.metrics.RecordFailure(provider, mode)
}

// Status returns the most recently checked source for a workspace and
// provider. A provider with no recorded outcome is StatusUnknown.
func (m *Monitor) Status(workspaceID, provider string) CredentialHealth {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var latest *CredentialHealth
	for _, state := range m.states {
		if state.WorkspaceID != workspaceID || state.Provider != provider {
			continue
		}
		if latest == nil || state.LastCheck.After(latest.LastCheck) {
			latest = state
		}
	}
	if latest == nil {
		return CredentialHealth{
			WorkspaceID: workspaceID,
			Provider:    provider,
			Mode:        "unknown",
			Status:      StatusUnknown,
		}
	}
	return *latest
}

// All returns every recorded source ordered by workspace, provider and mode.
func (m *Monitor) All() []CredentialHealth {
	m.mu.RLock()
	out := make([]CredentialHealth, 0, len(m.states))
	for _, state := range m.states {
		out = append(out, *state)
	}
	m.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		return stateKey(out[i].WorkspaceID, out[i].Provider, out[i].Mode) <
			stateKey(out[j].WorkspaceID, out[j].Provider, out[j].Mode)
	})
	return out
}

// TokenExpiry returns when the cached OAuth access token expires, or the zero
// time when none is cached.
func (m *Monitor) TokenExpiry(ctx context.Context, workspaceID, provider string) (time.Time, error) {
	if m.tokens == nil {
		return time.Time{}, fmt.Errorf("no token store configured")
	}
	token, err := m.tokens.GetAccessToken(ctx, workspaceID, provider)
	if err != nil {
		return time.Time{}, fmt.Errorf("failed to read access token expiry: %w", err)
	}
	if token == nil {
		return time.Time{}, nil
	}
	return token.ExpiresAt, nil
}

// IsTokenExpiringSoon reports whether the cached access token expires within
// threshold. No cached token is not expiring.
func (m *Monitor) IsTokenExpiringSoon(ctx context.Context, workspaceID, provider string, threshold time.Duration) (bool, error) {
	expiresAt, err := m.TokenExpiry(ctx, workspaceID, provider)
	if err != nil {
		return false, err
	}
	if expiresAt.IsZero() {
		return false, nil
	}
	return expiresAt.Sub(m.now()) < threshold, nil
}
