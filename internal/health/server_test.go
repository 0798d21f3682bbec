package health

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/systmms/credgate/internal/breaker"
	"github.com/systmms/credgate/internal/credentials"
)

func TestInitMetrics(t *testing.T) {
	InitMetrics()

	assert.True(t, IsMetricsRegistered())
	assert.NotNil(t, GetCredentialStatus())
	assert.NotNil(t, GetCredentialFailures())
	assert.NotNil(t, GetProbeDuration())
}

func TestMetrics_Record(t *testing.T) {
	InitMetrics()

	metrics := NewMetrics()
	metrics.RecordStatus("aws", credentials.ModeKMS, StatusDegraded)
	metrics.RecordFailure("aws", credentials.ModeKMS)
	metrics.RecordProbe("aws", "success", 0.02)

	gauge, err := GetCredentialStatus().GetMetricWithLabelValues("aws", "kms")
	require.NoError(t, err)
	assert.NotNil(t, gauge)
}

func TestDefaultMetricsServerConfig(t *testing.T) {
	t.Parallel()

	config := DefaultMetricsServerConfig()
	assert.False(t, config.Enabled)
	assert.Equal(t, 9090, config.Port)
	assert.Equal(t, "/metrics", config.Path)
}

func TestMetricsServer_DisabledDoesNotListen(t *testing.T) {
	t.Parallel()

	s := NewMetricsServer(DefaultMetricsServerConfig(), nil, nil)
	require.NoError(t, s.Start())
	assert.Empty(t, s.Addr())
	assert.NoError(t, s.Stop(context.Background()))
}

func TestMetricsServer_Handler(t *testing.T) {
	InitMetrics()

	monitor := NewMonitor(DefaultMonitorConfig())
	monitor.RecordFailure(context.Background(), ws, "github", credentials.ModeOAuth, errors.New("timeout"))

	srv := httptest.NewServer(NewMetricsServer(DefaultMetricsServerConfig(), monitor, nil).Handler())
	defer srv.Close()

	t.Run("health", func(t *testing.T) {
		resp, err := http.Get(srv.URL + "/health")
		require.NoError(t, err)
		defer resp.Body.Close()
		body, _ := io.ReadAll(resp.Body)
		assert.Equal(t, http.StatusOK, resp.StatusCode)
		assert.Equal(t, "OK", string(body))
	})

	t.Run("metrics", func(t *testing.T) {
		resp, err := http.Get(srv.URL + "/metrics")
		require.NoError(t, err)
		defer resp.Body.Close()
		body, _ := io.ReadAll(resp.Body)
		assert.Contains(t, string(body), "credgate_credential_health_status")
	})

	t.Run("credentials", func(t *testing.T) {
		resp, err := http.Get(srv.URL + "/health/credentials")
		require.NoError(t, err)
		defer resp.Body.Close()

		var states []CredentialHealth
		require.NoError(t, json.NewDecoder(resp.Body).Decode(&states))
		require.Len(t, states, 1)
		assert.Equal(t, StatusDegraded, states[0].Status)
		assert.Equal(t, "github", states[0].Provider)
	})
}

func TestMetricsServer_CustomPathKeepsHealthRoutes(t *testing.T) {
	InitMetrics()

	config := DefaultMetricsServerConfig()
	config.Path = "/internal/prom"
	srv := httptest.NewServer(NewMetricsServer(config, nil, nil).Handler())
	defer srv.Close()

	t.Run("metrics_on_custom_path", func(t *testing.T) {
		resp, err := http.Get(srv.URL + "/internal/prom")
		require.NoError(t, err)
		defer resp.Body.Close()
		body, _ := io.ReadAll(resp.Body)
		assert.Contains(t, string(body), "go_goroutines")
	})

	t.Run("default_path_unrouted", func(t *testing.T) {
		resp, err := http.Get(srv.URL + "/metrics")
		require.NoError(t, err)
		resp.Body.Close()
		assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	})

	t.Run("health_fixed", func(t *testing.T) {
		resp, err := http.Get(srv.URL + "/health")
		require.NoError(t, err)
		resp.Body.Close()
		assert.Equal(t, http.StatusOK, resp.StatusCode)
	})
}

func TestMetricsServer_Breakers(t *testing.T) {
	t.Parallel()

	b := breaker.New(breaker.Config{FailureThreshold: 1, Timeout: time.Minute, HalfOpenMaxRequests: 1})
	b.RecordFailure(breaker.Key("oauth", ws, "github"))

	server := NewMetricsServer(DefaultMetricsServerConfig(), nil, nil)
	server.AttachBreaker(b)
	srv := httptest.NewServer(server.Handler())
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/health/breakers")
	require.NoError(t, err)
	defer resp.Body.Close()

	var snapshots []breaker.Snapshot
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&snapshots))
	require.Len(t, snapshots, 1)
	assert.Equal(t, breaker.StateOpen, snapshots[0].State)
	assert.Equal(t, 1, snapshots[0].FailureCount)

	resp, err = http.Get(srv.URL + "/health/credentials")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}
