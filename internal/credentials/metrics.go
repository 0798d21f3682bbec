package credentials

import (
	"sync"
	"sync/atomic"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	resolutionsTotal  *prometheus.CounterVec
	resolutionLatency *prometheus.HistogramVec
	retriesTotal      *prometheus.CounterVec
	fallbacksTotal    *prometheus.CounterVec
	cacheLookupsTotal *prometheus.CounterVec

	metricsOnce       sync.Once
	metricsRegistered atomic.Bool
)

// Metrics records resolver activity.
type Metrics struct{}

// NewMetrics creates a new Metrics instance.
func NewMetrics() *Metrics {
	return &Metrics{}
}

// InitMetrics registers the resolver metrics.
func InitMetrics() {
	metricsOnce.Do(func() {
		resolutionsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "credgate_resolutions_total",
				Help: "Total credential resolutions by mode and outcome",
			},
			[]string{"mode", "outcome"},
		)

		resolutionLatency = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "credgate_resolution_duration_seconds",
				Help:    "Duration of uncached credential resolutions in seconds",
				Buckets: []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5},
			},
			[]string{"mode"},
		)

		retriesTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "credgate_resolution_retries_total",
				Help: "Total retries after failed resolution attempts",
			},
			[]string{"mode"},
		)

		fallbacksTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "credgate_resolution_fallbacks_total",
				Help: "Total KMS resolutions that fell back to the hosted vault",
			},
			[]string{"reason"},
		)

		cacheLookupsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "credgate_cache_lookups_total",
				Help: "Total credential cache lookups by result",
			},
			[]string{"result"},
		)

		metricsRegistered.Store(true)
	})
}

// RecordResolution records the outcome of one uncached resolution.
func (m *Metrics) RecordResolution(mode Mode, outcome string, durationSeconds float64) {
	if !metricsRegistered.Load() {
		return
	}
	resolutionsTotal.WithLabelValues(string(mode), outcome).Inc()
	resolutionLatency.WithLabelValues(string(mode)).Observe(durationSeconds)
}

// RecordRetry records one retry.
func (m *Metrics) RecordRetry(mode Mode) {
	if !metricsRegistered.Load() {
		return
	}
	retriesTotal.WithLabelValues(string(mode)).Inc()
}

// RecordFallback records a KMS fallback.
func (m *Metrics) RecordFallback(reason string) {
	if !metricsRegistered.Load() {
		return
	}
	fallbacksTotal.WithLabelValues(reason).Inc()
}

// RecordCacheLookup records a cache hit or miss.
func (m *Metrics) RecordCacheLookup(hit bool) {
	if !metricsRegistered.Load() {
		return
	}
	result := "miss"
	if hit {
		result = "hit"
	}
	cacheLookupsTotal.WithLabelValues(result).Inc()
}

// GetResolutionsTotal returns the resolution counter for testing.
func GetResolutionsTotal() *prometheus.CounterVec {
	return resolutionsTotal
}

// GetFallbacksTotal returns the fallback counter for testing.
func GetFallbacksTotal() *prometheus.CounterVec {
	return fallbacksTotal
}
