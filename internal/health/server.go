package health

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/systmms/credgate/internal/breaker"
	"github.com/systmms/credgate/internal/logging"
)

// MetricsServerConfig controls the credgate observability listener. Only the
// Prometheus route moves with Path; /health, /health/credentials and
// /health/breakers are fixed.
type MetricsServerConfig struct {
	// Enabled starts the listener from Start. When false Start is a no-op.
	Enabled bool

	// Port is bound on all interfaces.
	Port int

	// Path serves the credgate_* metric families. Empty means /metrics.
	Path string

	ReadTimeout  time.Duration
	WriteTimeout time.Duration
}

// DefaultMetricsServerConfig keeps the listener off. `credgate probe` enables it
// from the metrics section of the config file.
func DefaultMetricsServerConfig() MetricsServerConfig {
	return MetricsServerConfig{
		Enabled:      false,
		Port:         9090,
		Path:         "/metrics",
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 10 * time.Second,
	}
}

// MetricsServer serves Prometheus metrics, a liveness endpoint and, when a
// monitor is attached, the recorded credential health.
type MetricsServer struct {
	config  MetricsServerConfig
	monitor *Monitor
	breaker *breaker.CircuitBreaker
	logger  *logging.Logger
	server  *http.Server
}

// NewMetricsServer creates a new metrics server. monitor may be nil.
func NewMetricsServer(config MetricsServerConfig, monitor *Monitor, logger *logging.Logger) *MetricsServer {
	if logger == nil {
		logger = logging.Discard()
	}
	return &MetricsServer{
		config:  config,
		monitor: monitor,
		logger:  logger,
	}
}

// AttachBreaker serves the circuit snapshot of b on /health/breakers.
// Call before Start.
func (s *MetricsServer) AttachBreaker(b *breaker.CircuitBreaker) {
	s.breaker = b
}

// Handler returns the server's routes.
func (s *MetricsServer) Handler() http.Handler {
	path := s.config.Path
	if path == "" {
		path = "/metrics"
	}

	mux := http.NewServeMux()
	mux.Handle(path, promhttp.Handler())

	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("OK"))
	})

	if s.monitor != nil {
		mux.HandleFunc("/health/credentials", func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Content-Type", "application/json")
			if err := json.NewEncoder(w).Encode(s.monitor.All()); err != nil {
				s.logger.Error("Failed to encode credential health: %v", err)
			}
		})
	}

	if s.breaker != nil {
		mux.HandleFunc("/health/breakers", func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Content-Type", "application/json")
			if err := json.NewEncoder(w).Encode(s.breaker.Snapshot()); err != nil {
				s.logger.Error("Failed to encode breaker snapshot: %v", err)
			}
		})
	}

	return mux
}

// Start starts the metrics HTTP server.
func (s *MetricsServer) Start() error {
	if !s.config.Enabled {
		return nil
	}

	InitMetrics()

	s.server = &http.Server{
		Addr:         fmt.Sprintf(":%d", s.config.Port),
		Handler:      s.Handler(),
		ReadTimeout:  s.config.ReadTimeout,
		WriteTimeout: s.config.WriteTimeout,
	}

	go func() {
		if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			// Metrics are non-critical; keep serving credentials.
			s.logger.Error("Metrics server error: %v", err)
		}
	}()

	s.logger.Info("Serving metrics on %s%s", s.server.Addr, s.config.Path)
	return nil
}

// Stop gracefully shuts down the metrics server.
func (s *MetricsServer) Stop(ctx context.Context) error {
	if s.server == nil {
		return nil
	}

	return s.server.Shutdown(ctx)
}

// Addr returns the server address.
func (s *MetricsServer) Addr() string {
	if s.server == nil {
		return ""
	}
	return s.server.Addr
}
