package orchestration

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	rotationsTotal   *prometheus.CounterVec
	rotationDuration *prometheus.HistogramVec

	metricsOnce       sync.Once
	metricsRegistered atomic.Bool
)

// Metrics records rotation outcomes.
type Metrics struct{}

// NewMetrics creates a new Metrics instance.
func NewMetrics() *Metrics {
	return &Metrics{}
}

// InitMetrics registers the rotation metrics.
func InitMetrics() {
	metricsOnce.Do(func() {
		rotationsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "credgate_rotations_total",
				Help: "Total rotation attempts by provider and outcome",
			},
			[]string{"provider", "outcome"},
		)

		rotationDuration = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "credgate_rotation_duration_seconds",
				Help:    "Time from admission to connector completion",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"provider"},
		)

		metricsRegistered.Store(true)
	})
}

// RecordRotation records one rotation attempt.
func (m *Metrics) RecordRotation(provider string, status Status, d time.Duration) {
	if !metricsRegistered.Load() || rotationsTotal == nil {
		return
	}
	rotationsTotal.WithLabelValues(provider, string(status)).Inc()
	rotationDuration.WithLabelValues(provider).Observe(d.Seconds())
}

// GetRotationsTotal returns the rotations counter for testing.
func GetRotationsTotal() *prometheus.CounterVec {
	return rotationsTotal
}
