package client

import (
	"time"
)

// Options configures the querykit client behavior.
type Options struct {
	// DriverName selects the database/sql driver: "mysql" or "sqlite3".
	// Default: "mysql"
	DriverName string

	// DSN overrides the data source name built from Host/Port/User/Password/Database.
	DSN string

	Host     string
	Port     int
	User     string
	Password string

	// Database is the schema name for mysql, or the file path for sqlite3.
	Database string

	// PoolMinIdle is the number of idle connections kept open.
	// Default: 2
	PoolMinIdle int

	// PoolMaxOpen is the maximum number of open connections.
	// Default: 10
	PoolMaxOpen int

	// QueuePolicy decides what happens when every connection is busy.
	// Default: QueueWait
	QueuePolicy QueuePolicy

	// QueueLimit bounds the number of callers waiting for a connection.
	// Zero means unbounded.
	QueueLimit int

	// PoolIdleTimeout is the duration after which idle connections are closed.
	// Default: 30s
	PoolIdleTimeout time.Duration

	// CacheEnabled turns on result caching for row-returning statements.
	// Default: false
	CacheEnabled bool

	// CacheTTL is the default time-to-live of a cache entry.
	// Default: 60s
	CacheTTL time.Duration

	// CacheMaxEntries bounds the cache; the least recently used entry is
	// evicted when full. Zero means unbounded.
	CacheMaxEntries int

	// LoggingEnabled records every executed statement in the query log.
	// Default: false
	LoggingEnabled bool

	// Logger is the logger implementation to use.
	// If nil, a JSON logger at LogLevel writing to stderr is used.
	Logger Logger

	// LogLevel sets the minimum log level (DEBUG, INFO, WARN, ERROR).
	// Default: "INFO"
	LogLevel string

	// RetryAttempts is the number of attempts made when establishing a connection.
	// Default: 3
	RetryAttempts int

	// RetryDelay is the wait before the second attempt; it doubles after each failure.
	// Default: 1s
	RetryDelay time.Duration

	// TimestampsEnabled fills CreatedAtColumn/UpdatedAtColumn on insert and update.
	// Default: false
	TimestampsEnabled bool

	// Default: "created_at"
	CreatedAtColumn string

	// Default: "updated_at"
	UpdatedAtColumn string

	// PrimaryKey is the column used by FindByID.
	// Default: "id"
	PrimaryKey string

	// HealthCheckInterval enables the background health monitor when positive.
	HealthCheckInterval time.Duration

	// HealthFailureThreshold is the number of consecutive failed checks
	// before the monitor reconnects.
	// Default: 3
	HealthFailureThreshold int

	// DebugMode makes logged errors include details and stack traces.
	DebugMode bool

	// Driver replaces the database/sql backed driver, mainly for tests.
	Driver Driver

	// Now is the clock used for cache expiry and automatic timestamps.
	// Default: time.Now
	Now func() time.Time
}

// QueuePolicy controls pool acquisition when every connection is in use.
type QueuePolicy int

const (
	// QueueWait blocks until a connection is released or the context ends.
	QueueWait QueuePolicy = iota
	// QueueFailFast returns E_POOL_EXHAUSTED immediately.
	QueueFailFast
)

// String returns the config spelling of the policy.
func (p QueuePolicy) String() string {
	if p == QueueFailFast {
		return "fail-fast"
	}
	return "wait"
}

// DefaultOptions returns Options with default values.
func DefaultOptions() Options {
	return Options{
		DriverName:             "mysql",
		Host:                   "localhost",
		Port:                   3306,
		PoolMinIdle:            2,
		PoolMaxOpen:            10,
		PoolIdleTimeout:        30 * time.Second,
		CacheTTL:               60 * time.Second,
		LogLevel:               "INFO",
		RetryAttempts:          3,
		RetryDelay:             time.Second,
		CreatedAtColumn:        "created_at",
		UpdatedAtColumn:        "updated_at",
		PrimaryKey:             "id",
		HealthFailureThreshold: 3,
	}
}

// withDefaults fills zero values that would make the client unusable.
func (o Options) withDefaults() Options {
	d := DefaultOptions()
	if o.DriverName == "" {
		o.DriverName = d.DriverName
	}
	if o.PoolMaxOpen <= 0 {
		o.PoolMaxOpen = d.PoolMaxOpen
	}
	if o.PoolMinIdle < 0 {
		o.PoolMinIdle = 0
	}
	if o.PoolMinIdle > o.PoolMaxOpen {
		o.PoolMinIdle = o.PoolMaxOpen
	}
	if o.CacheTTL <= 0 {
		o.CacheTTL = d.CacheTTL
	}
	if o.RetryAttempts <= 0 {
		o.RetryAttempts = 1
	}
	if o.RetryDelay < 0 {
		o.RetryDelay = 0
	}
	if o.CreatedAtColumn == "" {
		o.CreatedAtColumn = d.CreatedAtColumn
	}
	if o.UpdatedAtColumn == "" {
		o.UpdatedAtColumn = d.UpdatedAtColumn
	}
	if o.PrimaryKey == "" {
		o.PrimaryKey = d.PrimaryKey
	}
	if o.HealthFailureThreshold <= 0 {
		o.HealthFailureThreshold = d.HealthFailureThreshold
	}
	if o.LogLevel == "" {
		o.LogLevel = d.LogLevel
	}
	if o.Now == nil {
		o.Now = time.Now
	}
	return o
}
