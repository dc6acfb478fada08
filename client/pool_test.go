package client

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func fullPool(t *testing.T, maxOpen int, policy QueuePolicy, queueLimit int) *sqlPool {
	t.Helper()
	p := newSQLPool(nil, Options{PoolMaxOpen: maxOpen, QueuePolicy: policy, QueueLimit: queueLimit})
	for i := 0; i < maxOpen; i++ {
		require.NoError(t, p.reserve(context.Background()))
	}
	return p
}

func TestPoolReserve_FailFast(t *testing.T) {
	p := fullPool(t, 2, QueueFailFast, 0)

	err := p.reserve(context.Background())
	var ce *ConnectionError
	require.ErrorAs(t, err, &ce)
	assert.Equal(t, "E_POOL_EXHAUSTED", ce.Code)
	assert.Equal(t, int64(1), p.stats.rejected.Load())
}

func TestPoolReserve_WaitsForRelease(t *testing.T) {
	p := fullPool(t, 1, QueueWait, 0)

	done := make(chan error, 1)
	go func() { done <- p.reserve(context.Background()) }()

	require.Eventually(t, func() bool { return p.stats.waiting.Load() == 1 },
		time.Second, time.Millisecond)
	<-p.slots

	require.NoError(t, <-done)
	assert.Equal(t, int64(1), p.stats.waitCount.Load())
	assert.Equal(t, int32(0), p.stats.waiting.Load())
	assert.Len(t, p.slots, 1)
}

func TestPoolReserve_ContextTimeout(t *testing.T) {
	p := fullPool(t, 1, QueueWait, 0)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()

	err := p.reserve(ctx)
	require.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Equal(t, int64(1), p.stats.timeouts.Load())
}

func TestPoolReserve_QueueLimit(t *testing.T) {
	p := fullPool(t, 1, QueueWait, 1)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- p.reserve(ctx) }()

	require.Eventually(t, func() bool { return p.stats.waiting.Load() == 1 },
		time.Second, time.Millisecond)

	err := p.reserve(context.Background())
	var ce *ConnectionError
	require.ErrorAs(t, err, &ce)
	assert.Equal(t, "E_POOL_QUEUE_FULL", ce.Code)

	cancel()
	assert.ErrorIs(t, <-done, context.Canceled)
}

func TestPoolAcquire_Closed(t *testing.T) {
	p := newSQLPool(nil, Options{PoolMaxOpen: 1})
	p.closed.Store(true)

	_, err := p.Acquire(context.Background())
	var ce *ConnectionError
	require.ErrorAs(t, err, &ce)
	assert.Equal(t, "E_POOL_CLOSED", ce.Code)
}

func TestBuildDSN(t *testing.T) {
	tests := []struct {
		name     string
		opts     Options
		want     string
		contains []string
		wantCode string
	}{
		{
			name: "explicit dsn wins",
			opts: Options{DriverName: "postgres", DSN: "postgres://x"},
			want: "postgres://x",
		},
		{
			name: "mysql",
			opts: Options{DriverName: "mysql", Host: "db.internal", Port: 3307, User: "app", Password: "pw", Database: "shop"},
			contains: []string{
				"app:pw@tcp(db.internal:3307)/shop",
				"parseTime=true",
			},
		},
		{
			name: "sqlite default params",
			opts: Options{DriverName: "sqlite3", Database: "/tmp/app.db"},
			want: "/tmp/app.db?_busy_timeout=5000&_foreign_keys=on",
		},
		{
			name: "sqlite keeps caller params",
			opts: Options{DriverName: "sqlite3", Database: "file:app.db?mode=memory"},
			want: "file:app.db?mode=memory",
		},
		{
			name:     "sqlite without database",
			opts:     Options{DriverName: "sqlite3"},
			wantCode: "E_MISSING_DATABASE",
		},
		{
			name:     "unknown driver",
			opts:     Options{DriverName: "oracle"},
			wantCode: "E_UNSUPPORTED_DRIVER",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			dsn, err := BuildDSN(tt.opts)
			if tt.wantCode != "" {
				var ve *ValidationError
				require.ErrorAs(t, err, &ve)
				assert.Equal(t, tt.wantCode, ve.Code)
				return
			}
			require.NoError(t, err)
			if tt.want != "" {
				assert.Equal(t, tt.want, dsn)
			}
			for _, s := range tt.contains {
				assert.True(t, strings.Contains(dsn, s), "%q does not contain %q", dsn, s)
			}
		})
	}
}

func TestSQLDriver_InvalidConfigIsValidationError(t *testing.T) {
	_, err := NewSQLDriver().OpenPool(context.Background(), Options{DriverName: "sqlite3"})
	assert.True(t, IsValidationError(err))
}
