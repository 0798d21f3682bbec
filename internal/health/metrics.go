package health

import (
	"sync"
	"sync/atomic"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/systmms/credgate/internal/credentials"
)

var (
	// Source health
	credentialStatus   *prometheus.GaugeVec
	credentialFailures *prometheus.CounterVec

	// Probes
	probeDuration *prometheus.HistogramVec

	// Registration guard
	metricsOnce       sync.Once
	metricsRegistered atomic.Bool
)

// Metrics provides methods to record health metrics. Workspace ids are not
// used as labels.
type Metrics struct{}

// NewMetrics creates a new Metrics instance.
func NewMetrics() *Metrics {
	return &Metrics{}
}

// InitMetrics initializes the health metrics.
// This should be called once at startup if Prometheus metrics are enabled.
func InitMetrics() {
	metricsOnce.Do(func() {
		credentialStatus = promauto.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "credgate_credential_health_status",
				Help: "Current credential source health (0=unknown, 1=healthy, 2=degraded, 3=unhealthy)",
			},
			[]string{"provider", "mode"},
		)

		credentialFailures = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "credgate_credential_health_failures_total",
				Help: "Total failed resolutions recorded by the health monitor",
			},
			[]string{"provider", "mode"},
		)

		probeDuration = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "credgate_probe_duration_seconds",
				Help:    "Duration of credential probes in seconds",
				Buckets: []float64{0.01, 0.05, 0.1, 0.5, 1, 5},
			},
			[]string{"provider", "outcome"},
		)

		metricsRegistered.Store(true)
	})
}

// RecordStatus sets the status gauge for a source.
func (m *Metrics) RecordStatus(provider string, mode credentials.Mode, status Status) {
	if !metricsRegistered.Load() || credentialStatus == nil {
		return
	}
	credentialStatus.WithLabelValues(provider, string(mode)).Set(float64(status))
}

// RecordFailure counts a failed resolution.
func (m *Metrics) RecordFailure(provider string, mode credentials.Mode) {
	if !metricsRegistered.Load() || credentialFailures == nil {
		return
	}
	credentialFailures.WithLabelValues(provider, string(mode)).Inc()
}

// RecordProbe records one probe.
func (m *Metrics) RecordProbe(provider, outcome string, durationSeconds float64) {
	if !metricsRegistered.Load() || probeDuration == nil {
		return
	}
	probeDuration.WithLabelValues(provider, outcome).Observe(durationSeconds)
}

// GetCredentialStatus returns the status gauge for testing.
func GetCredentialStatus() *prometheus.GaugeVec {
	return credentialStatus
}

// GetCredentialFailures returns the failure counter for testing.
func GetCredentialFailures() *prometheus.CounterVec {
	return credentialFailures
}

// GetProbeDuration returns the probe histogram for testing.
func GetProbeDuration() *prometheus.HistogramVec {
	return probeDuration
}

// IsMetricsRegistered returns whether metrics have been initialized.
func IsMetricsRegistered() bool {
	return metricsRegistered.Load()
}
