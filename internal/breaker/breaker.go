// Package breaker isolates failing credential sources behind per-key circuit breakers.
//
// Each key (conventionally "<mode>:<workspace>:<provider>") has an independent
// state machine. State is process-local: every instance of credgate keeps its own
// view of provider health and a restart resets all breakers to Closed.
package breaker

import (
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/systmms/credgate/internal/logging"
)

// State is the state of a single circuit.
type State string

const (
	StateClosed   State = "closed"
	StateOpen     State = "open"
	StateHalfOpen State = "half_open"
)

// Config holds the thresholds shared by every circuit of a breaker.
type Config struct {
	// FailureThreshold is the failure count at which a circuit opens.
	// Default: 5
	FailureThreshold int

	// Timeout is how long a circuit stays open after its last failure
	// before a probe is allowed.
	// Default: 60 seconds
	Timeout time.Duration

	// HalfOpenMaxRequests bounds the probes granted while half-open.
	// Default: 3
	HalfOpenMaxRequests int
}

// DefaultConfig returns the default breaker configuration.
func DefaultConfig() Config {
	return Config{
		FailureThreshold:    5,
		Timeout:             60 * time.Second,
		HalfOpenMaxRequests: 3,
	}
}

// Key builds the circuit key for a mode, workspace and provider.
func Key(mode, workspaceID, provider string) string {
	return fmt.Sprintf("%s:%s:%s", mode, workspaceID, provider)
}

type circuit struct {
	state           State
	failureCount    int
	lastFailureTime time.Time
	lastSuccessTime time.Time
	halfOpenProbes  int
}

// Snapshot is a read-only copy of one circuit, for diagnostics.
type Snapshot struct {
	Key             string    `json:"key"`
	State           State     `json:"state"`
	FailureCount    int       `json:"failure_count"`
	LastFailureTime time.Time `json:"last_failure_time,omitempty"`
	LastSuccessTime time.Time `json:"last_success_time,omitempty"`
	HalfOpenProbes  int       `json:"half_open_probes"`
}

// CircuitBreaker tracks failure state for many independent keys.
type CircuitBreaker struct {
	config   Config
	circuits map[string]*circuit
	now      func() time.Time
	logger   *logging.Logger
	metrics  *Metrics
	mu       sync.Mutex
}

// Option configures a CircuitBreaker.
type Option func(*CircuitBreaker)

// WithClock overrides the time source (for testing).
func WithClock(now func() time.Time) Option {
	return func(b *CircuitBreaker) {
		b.now = now
	}
}

// WithLogger sets the logger used for state transitions.
func WithLogger(logger *logging.Logger) Option {
	return func(b *CircuitBreaker) {
		b.logger = logger
	}
}

// New creates a circuit breaker. Zero-valued config fields fall back to defaults.
func New(config Config, opts ...Option) *CircuitBreaker {
	defaults := DefaultConfig()
	if config.FailureThreshold <= 0 {
		config.FailureThreshold = defaults.FailureThreshold
	}
	if config.Timeout <= 0 {
		config.Timeout = defaults.Timeout
	}
	if config.HalfOpenMaxRequests <= 0 {
		config.HalfOpenMaxRequests = defaults.HalfOpenMaxRequests
	}

	b := &CircuitBreaker{
		config:   config,
		circuits: make(map[string]*circuit),
		now:      time.Now,
		logger:   logging.Discard(),
		metrics:  NewMetrics(),
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// getOrCreate must be called with b.mu held.
func (b *CircuitBreaker) getOrCreate(key string) *circuit {
	c, ok := b.circuits[key]
	if !ok {
		c = &circuit{state: StateClosed}
		b.circuits[key] = c
	}
	return c
}

// CanAttempt reports whether a call for key may proceed.
//
// It mutates state: an open circuit whose timeout has elapsed moves to
// half-open, and every attempt granted while half-open consumes a probe.
func (b *CircuitBreaker) CanAttempt(key string) bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	c := b.getOrCreate(key)

	switch c.state {
	case StateClosed:
		c.halfOpenProbes = 0
		return true

	case StateOpen:
		if c.lastFailureTime.IsZero() || b.now().Sub(c.lastFailureTime) <= b.config.Timeout {
			return false
		}
		b.transition(key, c, StateHalfOpen)
		c.failureCount = 0
		c.halfOpenProbes = 0
		return true

	case StateHalfOpen:
		if c.halfOpenProbes >= b.config.HalfOpenMaxRequests {
			return false
		}
		c.halfOpenProbes++
		return true
	}

	return false
}

// RecordSuccess records a successful call for key.
func (b *CircuitBreaker) RecordSuccess(key string) {
	b.mu.Lock()
	defer b.mu.Unlock()

	c, ok := b.circuits[key]
	if !ok {
		return
	}

	if c.state == StateHalfOpen {
		b.transition(key, c, StateClosed)
	}
	c.failureCount = 0
	c.halfOpenProbes = 0
	c.lastSuccessTime = b.now()
}

// RecordFailure records a failed call for key. The circuit opens once the
// failure threshold is reached, or immediately when a half-open probe fails.
func (b *CircuitBreaker) RecordFailure(key string) {
	b.mu.Lock()
	defer b.mu.Unlock()

	c := b.getOrCreate(key)
	c.failureCount++
	c.lastFailureTime = b.now()

	if c.state == StateHalfOpen {
		b.transition(key, c, StateOpen)
		c.halfOpenProbes = 0
		b.logger.Warn("Circuit breaker re-opened for '%s' after failed probe", key)
		return
	}

	if c.failureCount >= b.config.FailureThreshold && c.state != StateOpen {
		b.transition(key, c, StateOpen)
		b.logger.Warn("Circuit breaker opened for '%s' after %d failures", key, c.failureCount)
	}
}

// State returns the current state for key. Unknown keys are closed.
func (b *CircuitBreaker) State(key string) State {
	b.mu.Lock()
	defer b.mu.Unlock()

	c, ok := b.circuits[key]
	if !ok {
		return StateClosed
	}
	return c.state
}

// Reset forgets all state for key.
func (b *CircuitBreaker) Reset(key string) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if _, ok := b.circuits[key]; ok {
		delete(b.circuits, key)
		b.metrics.RecordState(key, StateClosed)
	}
}

// Snapshot returns a copy of every known circuit ordered by key.
func (b *CircuitBreaker) Snapshot() []Snapshot {
	b.mu.Lock()
	defer b.mu.Unlock()

	out := make([]Snapshot, 0, len(b.circuits))
	for key, c := range b.circuits {
		out = append(out, Snapshot{
			Key:             key,
			State:           c.state,
			FailureCount:    c.failureCount,
			LastFailureTime: c.lastFailureTime,
			LastSuccessTime: c.lastSuccessTime,
			HalfOpenProbes:  c.halfOpenProbes,
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Key < out[j].Key })
	return out
}

// transition must be called with b.mu held.
func (b *CircuitBreaker) transition(key string, c *circuit, to State) {
	from := c.state
	c.state = to
	b.metrics.RecordTransition(key, from, to)
	b.logger.Debug("Circuit %s: %s -> %s", key, from, to)
}
