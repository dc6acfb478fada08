package client

import (
	"context"
	"time"
)

// Driver is the Database Client capability the client is built on. It opens
// pooled or standalone connections from the connection settings in Options.
type Driver interface {
	// OpenPool creates a connection pool and verifies it can reach the server.
	OpenPool(ctx context.Context, opts Options) (Pool, error)

	// OpenConn creates a standalone connection that is closed on Release.
	OpenConn(ctx context.Context, opts Options) (Conn, error)
}

// Pool hands out connections and owns their lifetime.
type Pool interface {
	// Acquire reserves a connection. The caller must call Release on it.
	Acquire(ctx context.Context) (Conn, error)

	// Stats returns a snapshot of pool statistics.
	Stats() PoolStats

	// Close closes every connection in the pool.
	Close() error
}

// Conn is one database session.
type Conn interface {
	// Execute runs a statement. Row-returning statements fill
	// ResultSet.Rows; others fill RowsAffected and LastInsertID.
	Execute(ctx context.Context, text string, params []interface{}) (*ResultSet, error)

	// Begin starts a transaction on this connection. Subsequent Execute
	// calls run inside it until Commit or Rollback.
	Begin(ctx context.Context) error
	Commit() error
	Rollback() error

	// Ping verifies the session is usable.
	Ping(ctx context.Context) error

	// Release returns the connection to its pool, or closes it if standalone.
	Release() error
}

// PoolStats is a point-in-time view of a pool.
type PoolStats struct {
	MaxOpen      int
	InUse        int
	Idle         int
	Waiting      int
	WaitCount    int64
	WaitDuration time.Duration
	Timeouts     int64
	Rejected     int64
}
