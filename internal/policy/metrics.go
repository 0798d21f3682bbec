package policy

import (
	"sync"
	"sync/atomic"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	evaluationsTotal *prometheus.CounterVec
	decisionsTotal   *prometheus.CounterVec

	metricsOnce       sync.Once
	metricsRegistered atomic.Bool
)

// Metrics records policy decisions.
type Metrics struct{}

// NewMetrics creates a new Metrics instance.
func NewMetrics() *Metrics {
	return &Metrics{}
}

// InitMetrics registers the policy metrics.
func InitMetrics() {
	metricsOnce.Do(func() {
		evaluationsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "credgate_policy_evaluations_total",
				Help: "Total single-policy evaluations by resulting action",
			},
			[]string{"action"},
		)

		decisionsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "credgate_policy_decisions_total",
				Help: "Total aggregated admission decisions",
			},
			[]string{"decision"},
		)

		metricsRegistered.Store(true)
	})
}

// RecordEvaluation counts one policy evaluation.
func (m *Metrics) RecordEvaluation(action Action) {
	if !metricsRegistered.Load() || evaluationsTotal == nil {
		return
	}
	evaluationsTotal.WithLabelValues(action.String()).Inc()
}

// RecordDecision counts one aggregated decision.
func (m *Metrics) RecordDecision(decision string) {
	if !metricsRegistered.Load() || decisionsTotal == nil {
		return
	}
	decisionsTotal.WithLabelValues(decision).Inc()
}

// GetDecisionsTotal returns the decision counter for testing.
func GetDecisionsTotal() *prometheus.CounterVec {
	return decisionsTotal
}
