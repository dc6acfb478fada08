// Package testutil provides a mock driver, SQLite-backed clients and row
// factories for testing code built on the querykit client.
package testutil

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/stretchr/testify/require"

	"github.com/dan-strohschein/querykit/client"
)

var nameCounter uint64

// OptionFunc adjusts client options before the client is created.
type OptionFunc func(*client.Options)

// NewMockClient creates a client backed by mock. Retry delays are zeroed and
// logging is silenced. The client is closed when the test ends.
func NewMockClient(t testing.TB, mock *MockDriver, fns ...OptionFunc) *client.Client {
	t.Helper()

	opts := client.DefaultOptions()
	opts.Driver = mock
	opts.RetryDelay = 0
	opts.Logger = client.NewNoopLogger()
	for _, fn := range fns {
		fn(&opts)
	}

	c := client.NewClient(&opts)
	t.Cleanup(func() {
		_ = c.Close(context.Background())
	})
	return c
}

// NewSQLiteClient creates a connected client on a fresh SQLite database in
// the test's temporary directory.
//
// Example:
//
//	c := testutil.NewSQLiteClient(t)
//	testutil.Exec(t, c, "CREATE TABLE users (id INTEGER PRIMARY KEY, name TEXT)")
func NewSQLiteClient(t testing.TB, fns ...OptionFunc) *client.Client {
	t.Helper()

	opts := client.DefaultOptions()
	opts.DriverName = "sqlite3"
	opts.Database = filepath.Join(t.TempDir(), UniqueName("test")+".db")
	opts.RetryAttempts = 1
	opts.RetryDelay = 0
	opts.Logger = client.NewNoopLogger()
	for _, fn := range fns {
		fn(&opts)
	}

	c := client.NewClient(&opts)
	ctx, cancel := WithTimeout(t)
	defer cancel()
	require.NoError(t, c.Connect(ctx), "failed to open sqlite database")

	t.Cleanup(func() {
		if err := c.Close(context.Background()); err != nil {
			t.Logf("warning: failed to close client: %v", err)
		}
	})
	return c
}

// Exec runs a statement outside the cache and fails the test on error.
func Exec(t testing.TB, c *client.Client, text string, params ...interface{}) *client.ResultSet {
	t.Helper()
	rs, err := c.Exec(context.Background(), text, params...)
	require.NoError(t, err, "exec %q", text)
	return rs
}

// CreateTable creates table with the given column definitions.
func CreateTable(t testing.TB, c *client.Client, table string, columns ...string) {
	t.Helper()
	Exec(t, c, fmt.Sprintf("CREATE TABLE %s (%s)", table, strings.Join(columns, ", ")))
}

// InsertRows inserts every row and fails the test on the first error.
func InsertRows(t testing.TB, c *client.Client, table string, rows []client.Row) {
	t.Helper()
	ctx := context.Background()
	for i, row := range rows {
		_, err := c.Insert(ctx, table, row)
		require.NoError(t, err, "insert row %d into %s", i, table)
	}
}

// UniqueName generates a unique identifier-safe name.
// Format: <prefix>_<timestamp>_<counter>
func UniqueName(prefix string) string {
	if prefix == "" {
		prefix = "test"
	}
	n := atomic.AddUint64(&nameCounter, 1)
	return fmt.Sprintf("%s_%d_%d", prefix, time.Now().Unix(), n)
}

// WithTimeout creates a context with timeout for tests.
// Default timeout is 10 seconds.
func WithTimeout(t testing.TB, timeout ...time.Duration) (context.Context, context.CancelFunc) {
	t.Helper()

	duration := 10 * time.Second
	if len(timeout) > 0 {
		duration = timeout[0]
	}

	ctx, cancel := context.WithTimeout(context.Background(), duration)
	t.Cleanup(cancel)

	return ctx, cancel
}

// FakeClock is a manually advanced clock for Options.Now.
type FakeClock struct {
	now atomic.Int64
}

// NewFakeClock creates a clock stopped at start.
func NewFakeClock(start time.Time) *FakeClock {
	c := &FakeClock{}
	c.now.Store(start.UnixNano())
	return c
}

// Now returns the current fake time.
func (c *FakeClock) Now() time.Time {
	return time.Unix(0, c.now.Load()).UTC()
}

// Advance moves the clock forward by d.
func (c *FakeClock) Advance(d time.Duration) {
	c.now.Add(int64(d))
}

// WaitFor polls condition until it returns true or timeout elapses.
func WaitFor(t testing.TB, timeout, interval time.Duration, condition func() bool) bool {
	t.Helper()

	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if condition() {
			return true
		}
		time.Sleep(interval)
	}
	return condition()
}

// SkipIf skips the test if condition is true.
func SkipIf(t testing.TB, condition bool, reason string) {
	t.Helper()
	if condition {
		t.Skip(reason)
	}
}
