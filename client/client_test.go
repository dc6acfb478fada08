package client_test

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dan-strohschein/querykit/client"
	"github.com/dan-strohschein/querykit/testutil"
)

func TestConnect_RetriesWithBackoff(t *testing.T) {
	mock := testutil.NewMockDriver().FailOpen(2)
	c := testutil.NewMockClient(t, mock, func(o *client.Options) {
		o.RetryAttempts = 3
		o.RetryDelay = time.Millisecond
	})

	var retries []client.ConnectionEvent
	c.Subscribe(func(e client.Event) { retries = append(retries, e.(client.ConnectionEvent)) }, client.TopicConnectionRetry)

	require.NoError(t, c.Connect(context.Background()))
	assert.Equal(t, client.Connected, c.State())

	require.Len(t, retries, 2)
	assert.Equal(t, 2, retries[0].Attempt)
	assert.Equal(t, time.Millisecond, retries[0].Delay)
	assert.Equal(t, 3, retries[1].Attempt)
	assert.Equal(t, 2*time.Millisecond, retries[1].Delay)
	assert.ErrorIs(t, retries[0].Err, testutil.ErrOpenFailed)
}

func TestConnect_FailsAfterAllAttempts(t *testing.T) {
	mock := testutil.NewMockDriver().FailOpen(10)
	c := testutil.NewMockClient(t, mock, func(o *client.Options) { o.RetryAttempts = 3 })

	var transitions []client.StateTransition
	c.OnStateChange(func(tr client.StateTransition) { transitions = append(transitions, tr) })

	err := c.Connect(context.Background())
	var ce *client.ConnectionError
	require.ErrorAs(t, err, &ce)
	assert.Equal(t, "E_CONNECTION_FAILED", ce.Code)
	assert.Equal(t, 3, ce.Attempts)
	assert.ErrorIs(t, err, testutil.ErrOpenFailed)
	assert.Equal(t, client.Disconnected, c.State())

	require.Len(t, transitions, 2)
	assert.Equal(t, client.Connecting, transitions[0].To)
	assert.Equal(t, client.Disconnected, transitions[1].To)
	assert.ErrorIs(t, transitions[1].Error, testutil.ErrOpenFailed)
}

func TestConnect_ValidationErrorIsNotRetried(t *testing.T) {
	bad := &client.ValidationError{Code: "E_MISSING_DATABASE", Message: "no database"}
	mock := testutil.NewMockDriver().FailOpenWith(10, bad)
	c := testutil.NewMockClient(t, mock, func(o *client.Options) { o.RetryAttempts = 5 })

	err := c.Connect(context.Background())
	var ce *client.ConnectionError
	require.ErrorAs(t, err, &ce)
	assert.Equal(t, 1, ce.Attempts)
	assert.True(t, client.IsValidationError(err))
}

func TestConnect_IgnoresCancelledContext(t *testing.T) {
	mock := testutil.NewMockDriver().FailOpen(1)
	c := testutil.NewMockClient(t, mock, func(o *client.Options) { o.RetryAttempts = 2 })

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	require.NoError(t, c.Connect(ctx), "the retry loop runs to completion")
}

func TestConnect_IsIdempotent(t *testing.T) {
	mock := testutil.NewMockDriver()
	c := testutil.NewMockClient(t, mock)
	ctx := context.Background()

	require.NoError(t, c.Connect(ctx))
	require.NoError(t, c.Connect(ctx))
	require.NoError(t, c.ConnectSingle(ctx), "a pool is already open")
	assert.Equal(t, 1, mock.Counts().Opens)
}

func TestLazyConnect(t *testing.T) {
	mock := testutil.NewMockDriver()
	c := testutil.NewMockClient(t, mock)
	assert.Equal(t, client.Disconnected, c.State())

	_, err := c.Query(context.Background(), "SELECT 1")
	require.NoError(t, err)
	assert.Equal(t, client.Connected, c.State())
	assert.Equal(t, 1, mock.Counts().Opens)

	stats, ok := c.PoolStats()
	require.True(t, ok)
	assert.Equal(t, 0, stats.InUse, "connection returned after the statement")
}

func TestSingleConnection(t *testing.T) {
	mock := testutil.NewMockDriver()
	c := testutil.NewMockClient(t, mock)
	ctx := context.Background()

	require.NoError(t, c.ConnectSingle(ctx))
	_, ok := c.PoolStats()
	assert.False(t, ok)

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := c.Query(ctx, "SELECT ?", i)
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	assert.Len(t, mock.Calls(), 10)
	assert.Equal(t, 1, mock.Counts().Opens)
	assert.Equal(t, 1, mock.Counts().InUse)

	require.NoError(t, c.Close(ctx))
	assert.Equal(t, 0, mock.Counts().InUse)
}

func TestClose(t *testing.T) {
	mock := testutil.NewMockDriver()
	c := testutil.NewMockClient(t, mock)
	ctx := context.Background()

	var closed int
	c.Subscribe(func(client.Event) { closed++ }, client.TopicConnectionClosed)

	require.NoError(t, c.Close(ctx), "closing an unopened client is a no-op")
	assert.Equal(t, 0, closed)

	require.NoError(t, c.Connect(ctx))
	var states []client.ConnectionState
	c.OnStateChange(func(tr client.StateTransition) { states = append(states, tr.To) })

	require.NoError(t, c.Close(ctx))
	assert.Equal(t, []client.ConnectionState{client.Closing, client.Disconnected}, states)
	assert.Equal(t, 1, closed)

	_, ok := c.PoolStats()
	assert.False(t, ok)
}

func TestTestConnection(t *testing.T) {
	mock := testutil.NewMockDriver()
	c := testutil.NewMockClient(t, mock)
	ctx := context.Background()

	var tested []client.ConnectionEvent
	c.Subscribe(func(e client.Event) { tested = append(tested, e.(client.ConnectionEvent)) }, client.TopicConnectionTested)

	latency, err := c.TestConnection(ctx)
	require.NoError(t, err)
	assert.GreaterOrEqual(t, latency, time.Duration(0))

	down := errors.New("server has gone away")
	mock.FailPing(down)
	require.ErrorIs(t, c.Ping(ctx), down)

	require.Len(t, tested, 2)
	assert.NoError(t, tested[0].Err)
	assert.ErrorIs(t, tested[1].Err, down)
}

func TestHealthMonitorReconnects(t *testing.T) {
	mock := testutil.NewMockDriver()
	c := testutil.NewMockClient(t, mock, func(o *client.Options) {
		o.HealthCheckInterval = 5 * time.Millisecond
		o.HealthFailureThreshold = 2
	})
	require.NoError(t, c.Connect(context.Background()))

	mock.FailPing(errors.New("connection reset"))
	reconnected := testutil.WaitFor(t, 2*time.Second, 5*time.Millisecond, func() bool {
		return mock.Counts().Opens >= 2
	})
	require.True(t, reconnected, "health monitor never reconnected")

	mock.FailPing(nil)
	assert.True(t, testutil.WaitFor(t, time.Second, 5*time.Millisecond, func() bool {
		return c.State() == client.Connected
	}))
}

func TestDebugInfo(t *testing.T) {
	mock := testutil.NewMockDriver()
	c := testutil.NewMockClient(t, mock, func(o *client.Options) {
		o.CacheEnabled = true
		o.LoggingEnabled = true
		o.QueuePolicy = client.QueueFailFast
	})
	ctx := context.Background()

	_, err := c.Query(ctx, "SELECT 1")
	require.NoError(t, err)
	_, err = c.Query(ctx, "SELECT 1")
	require.NoError(t, err)

	tx, err := c.Begin(ctx)
	require.NoError(t, err)
	defer tx.Rollback()

	assert.False(t, c.IsDebugMode())
	c.EnableDebugMode()
	assert.True(t, c.IsDebugMode())

	var info map[string]interface{}
	require.NoError(t, json.Unmarshal([]byte(c.DumpDebugInfoJSON()), &info))

	assert.Equal(t, client.Version, info["version"])
	assert.Equal(t, "CONNECTED", info["state"])
	assert.Equal(t, true, info["debugMode"])
	assert.Equal(t, float64(1), info["activeTransactions"])
	assert.Equal(t, float64(1), info["queryLogEntries"])

	cache := info["cache"].(map[string]interface{})
	assert.Equal(t, float64(1), cache["hits"])
	assert.Equal(t, float64(1), cache["size"])
	assert.InDelta(t, 0.5, cache["hitRate"], 0.001)

	opts := info["options"].(map[string]interface{})
	assert.Equal(t, "fail-fast", opts["queuePolicy"])

	c.DisableDebugMode()
	assert.False(t, c.IsDebugMode())
}

func TestFormatErrorFollowsDebugMode(t *testing.T) {
	mock := testutil.NewMockDriver()
	mock.ExpectQuery("SELECT").WillReturnError(errors.New("boom"))
	c := testutil.NewMockClient(t, mock)

	_, err := c.Query(context.Background(), "SELECT 1")
	require.Error(t, err)

	assert.Contains(t, client.FormatError(err, false), "E_QUERY_FAILED")

	var data map[string]interface{}
	require.NoError(t, json.Unmarshal([]byte(client.FormatError(err, true)), &data))
	assert.Equal(t, "E_QUERY_FAILED", data["code"])
}
