package client

import (
	"bytes"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultOptions(t *testing.T) {
	opts := DefaultOptions()
	assert.Equal(t, "mysql", opts.DriverName)
	assert.Equal(t, 10, opts.PoolMaxOpen)
	assert.Equal(t, QueueWait, opts.QueuePolicy)
	assert.Equal(t, 60*time.Second, opts.CacheTTL)
	assert.Equal(t, 3, opts.RetryAttempts)
	assert.False(t, opts.CacheEnabled)
}

func TestWithDefaults(t *testing.T) {
	o := Options{PoolMaxOpen: 2, PoolMinIdle: 5, RetryAttempts: -1, RetryDelay: -time.Second}.withDefaults()

	assert.Equal(t, "mysql", o.DriverName)
	assert.Equal(t, 2, o.PoolMinIdle, "min idle is capped at max open")
	assert.Equal(t, 1, o.RetryAttempts)
	assert.Equal(t, time.Duration(0), o.RetryDelay)
	assert.Equal(t, "id", o.PrimaryKey)
	assert.NotNil(t, o.Now)
}

func TestQueuePolicyString(t *testing.T) {
	assert.Equal(t, "wait", QueueWait.String())
	assert.Equal(t, "fail-fast", QueueFailFast.String())
}

func TestLogger_LevelAndRedaction(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLogger("warn", &buf)

	logger.Info("dropped")
	logger.Warn("kept", String("password", "hunter2"), Int("n", 3))

	lines := bytes.Split(bytes.TrimSpace(buf.Bytes()), []byte("\n"))
	require.Len(t, lines, 1)

	var entry map[string]interface{}
	require.NoError(t, json.Unmarshal(lines[0], &entry))
	assert.Equal(t, "WARN", entry["level"])
	assert.Equal(t, "kept", entry["message"])
	assert.Equal(t, "[REDACTED]", entry["password"])
	assert.Equal(t, float64(3), entry["n"])
}

func TestLogger_WithFields(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLogger("DEBUG", &buf).WithFields(String("component", "pool"))
	logger.Debug("hello")

	var entry map[string]interface{}
	require.NoError(t, json.Unmarshal(bytes.TrimSpace(buf.Bytes()), &entry))
	assert.Equal(t, "pool", entry["component"])
}

func TestParseLogLevel(t *testing.T) {
	assert.Equal(t, DEBUG, ParseLogLevel("debug"))
	assert.Equal(t, WARN, ParseLogLevel("WARNING"))
	assert.Equal(t, INFO, ParseLogLevel("verbose"))
}
