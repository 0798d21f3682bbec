package breaker

import (
	"sync"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMetrics_InitWhileRecording(t *testing.T) {
	t.Parallel()

	m := NewMetrics()
	key := Key("oauth", "ws-metrics", "github")

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(2)
		go func() {
			defer wg.Done()
			InitMetrics()
		}()
		go func() {
			defer wg.Done()
			m.RecordTransition(key, StateClosed, StateOpen)
			m.RecordState(key, StateHalfOpen)
		}()
	}
	wg.Wait()

	require.True(t, metricsRegistered.Load())
	m.RecordState(key, StateOpen)
	assert.Equal(t, float64(2), testutil.ToFloat64(circuitState.WithLabelValues("oauth", "github")))
}

func TestLabelsFor(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name         string
		key          string
		wantMode     string
		wantProvider string
	}{
		{name: "full_key", key: "kms:ws-1:aws", wantMode: "kms", wantProvider: "aws"},
		{name: "no_workspace", key: "oauth:github", wantMode: "oauth", wantProvider: "github"},
		{name: "bare", key: "hosted", wantMode: "hosted"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			mode, provider := labelsFor(tt.key)
			assert.Equal(t, tt.wantMode, mode)
			assert.Equal(t, tt.wantProvider, provider)
		})
	}
}
