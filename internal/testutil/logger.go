package testutil

import (
	"bytes"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/systmms/credgate/internal/logging"
)

// LogCapture collects logger output so tests can check redaction.
//
//	logger, logs := testutil.NewLogCapture(t)
//	resolver := credentials.NewResolver(cache, configs, vault, credentials.WithLogger(logger))
//	...
//	logs.AssertNotContains(t, "super-secret")
type LogCapture struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

// NewLogCapture returns a debug-enabled logger writing into a LogCapture.
func NewLogCapture(t *testing.T) (*logging.Logger, *LogCapture) {
	t.Helper()
	c := &LogCapture{}
	return logging.NewWithWriter(c, true, true), c
}

// Write implements io.Writer.
func (c *LogCapture) Write(p []byte) (int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.buf.Write(p)
}

// Output returns everything logged so far.
func (c *LogCapture) Output() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.buf.String()
}

// AssertContains asserts the output contains substr.
func (c *LogCapture) AssertContains(t *testing.T, substr string) {
	t.Helper()
	assert.Contains(t, c.Output(), substr)
}

// AssertNotContains asserts the output never contains substr.
func (c *LogCapture) AssertNotContains(t *testing.T, substr string) {
	t.Helper()
	out := c.Output()
	if strings.Contains(out, substr) {
		t.Errorf("log output leaked %q:\n%s", substr, out)
	}
}
