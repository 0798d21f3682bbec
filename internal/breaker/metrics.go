package breaker

import (
	"strings"
	"sync"
	"sync/atomic"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	circuitState       *prometheus.GaugeVec
	circuitTransitions *prometheus.CounterVec

	metricsOnce       sync.Once
	metricsRegistered atomic.Bool
)

// Metrics records breaker state changes. Recording is a no-op until InitMetrics is called.
type Metrics struct{}

// NewMetrics creates a new Metrics instance.
func NewMetrics() *Metrics {
	return &Metrics{}
}

// InitMetrics registers the breaker metrics with the default registry.
func InitMetrics() {
	metricsOnce.Do(func() {
		circuitState = promauto.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "credgate_circuit_state",
				Help: "Current circuit state (0=closed, 1=half_open, 2=open)",
			},
			[]string{"mode", "provider"},
		)

		circuitTransitions = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "credgate_circuit_transitions_total",
				Help: "Total number of circuit state transitions",
			},
			[]string{"mode", "from", "to"},
		)

		metricsRegistered.Store(true)
	})
}

// RecordTransition records a transition for key.
func (m *Metrics) RecordTransition(key string, from, to State) {
	if !metricsRegistered.Load() {
		return
	}
	mode, provider := labelsFor(key)
	circuitTransitions.WithLabelValues(mode, string(from), string(to)).Inc()
	circuitState.WithLabelValues(mode, provider).Set(stateValue(to))
}

// RecordState sets the state gauge for key without counting a transition.
func (m *Metrics) RecordState(key string, state State) {
	if !metricsRegistered.Load() {
		return
	}
	mode, provider := labelsFor(key)
	circuitState.WithLabelValues(mode, provider).Set(stateValue(state))
}

// labelsFor drops the workspace segment so label cardinality stays bounded by
// the number of providers, not tenants.
func labelsFor(key string) (mode, provider string) {
	parts := strings.SplitN(key, ":", 3)
	switch len(parts) {
	case 3:
		return parts[0], parts[2]
	case 2:
		return parts[0], parts[1]
	default:
		return key, ""
	}
}

func stateValue(s State) float64 {
	switch s {
	case StateHalfOpen:
		return 1
	case StateOpen:
		return 2
	default:
		return 0
	}
}

// GetCircuitState returns the state gauge for testing.
func GetCircuitState() *prometheus.GaugeVec {
	return circuitState
}

// GetCircuitTransitions returns the transition counter for testing.
func GetCircuitTransitions() *prometheus.CounterVec {
	return circuitTransitions
}
