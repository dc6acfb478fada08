package client

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"
)

// Client runs statements against a relational database with caching, hooks,
// transactions and batching layered on top. It is safe for concurrent use.
type Client struct {
	opts      Options
	driver    Driver
	logger    Logger
	stateMgr  *stateManager
	debugMode atomic.Bool

	mu   sync.Mutex // guards pool, conn and health
	pool Pool
	conn Conn // single persistent connection
	// connMu serializes statements on the single persistent connection.
	connMu sync.Mutex
	health *HealthMonitor

	cache    *CacheStore
	queryLog *QueryLog
	hooks    *hookRegistry
	events   *eventBus

	activeTx sync.Map // map[string]*Tx
}

// NewClient creates a new client with the given options.
// If opts is nil, default options are used. No connection is opened until
// Connect, ConnectSingle or the first statement.
func NewClient(opts *Options) *Client {
	if opts == nil {
		defaultOpts := DefaultOptions()
		opts = &defaultOpts
	}
	o := opts.withDefaults()

	logger := o.Logger
	if logger == nil {
		logger = NewLogger(o.LogLevel, nil)
	}

	driver := o.Driver
	if driver == nil {
		driver = NewSQLDriver()
	}

	c := &Client{
		opts:     o,
		driver:   driver,
		logger:   logger,
		stateMgr: newStateManager(),
		cache:    NewCacheStore(o.CacheTTL, o.CacheMaxEntries, o.Now),
		queryLog: NewQueryLog(),
		hooks:    newHookRegistry(),
		events:   newEventBus(),
	}
	c.debugMode.Store(o.DebugMode)
	return c
}

// Connect opens the connection pool, retrying with doubling backoff. The
// retry loop runs to completion or exhaustion even if ctx is cancelled.
// Calling Connect when a pool is already open is a no-op.
func (c *Client) Connect(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.pool != nil {
		return nil
	}
	if err := c.establish(ctx, "pool"); err != nil {
		return err
	}
	c.startHealthLocked()
	return nil
}

// ConnectSingle opens one persistent connection instead of a pool. It is a
// no-op when a pool or single connection is already open.
func (c *Client) ConnectSingle(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.pool != nil || c.conn != nil {
		return nil
	}
	if err := c.establish(ctx, "single"); err != nil {
		return err
	}
	c.startHealthLocked()
	return nil
}

// establish runs the retry loop. Callers hold c.mu.
func (c *Client) establish(ctx context.Context, mode string) error {
	fresh := c.stateMgr.state() == Disconnected
	if fresh {
		if err := c.stateMgr.transitionTo(Connecting, nil); err != nil {
			return err
		}
	}

	ctx = context.WithoutCancel(ctx)
	attempts := c.opts.RetryAttempts
	delay := c.opts.RetryDelay

	c.logger.Info("connecting to database",
		String("driver", c.opts.DriverName),
		String("mode", mode),
		Int("attempts", attempts))

	var lastErr error
	attempt := 1
	for ; attempt <= attempts; attempt++ {
		err := c.open(ctx, mode)
		if err == nil {
			if fresh {
				c.stateMgr.transitionTo(Connected, nil)
			}
			c.logger.Info("connection established", String("mode", mode), Int("attempt", attempt))
			c.events.emit(ConnectionEvent{Kind: TopicConnectionAcquired, Mode: mode, Attempt: attempt})
			return nil
		}

		lastErr = err
		c.logger.Warn("connection attempt failed", Int("attempt", attempt), Error("error", err))

		// Bad configuration never fixes itself.
		if IsValidationError(err) {
			break
		}
		if attempt < attempts {
			c.events.emit(ConnectionEvent{Kind: TopicConnectionRetry, Mode: mode, Attempt: attempt + 1, Delay: delay, Err: err})
			time.Sleep(delay)
			delay *= 2
		}
	}
	if attempt > attempts {
		attempt = attempts
	}

	c.logger.Error("all connection attempts failed", Int("attempts", attempt), Error("error", lastErr))
	if fresh {
		c.stateMgr.transitionTo(Disconnected, lastErr)
	}

	return &ConnectionError{
		Code:       "E_CONNECTION_FAILED",
		Message:    fmt.Sprintf("failed to connect after %d attempts", attempt),
		Attempts:   attempt,
		Details:    map[string]interface{}{"driver": c.opts.DriverName, "mode": mode},
		Cause:      lastErr,
		StackTrace: captureStackTrace(),
		Timestamp:  time.Now(),
	}
}

func (c *Client) open(ctx context.Context, mode string) error {
	if mode == "single" {
		conn, err := c.driver.OpenConn(ctx, c.opts)
		if err != nil {
			return err
		}
		c.conn = conn
		return nil
	}

	pool, err := c.driver.OpenPool(ctx, c.opts)
	if err != nil {
		return err
	}
	c.pool = pool
	return nil
}

func (c *Client) startHealthLocked() {
	if c.opts.HealthCheckInterval <= 0 || c.health != nil {
		return
	}
	c.health = newHealthMonitor(c, c.opts.HealthCheckInterval, c.opts.HealthFailureThreshold)
	c.health.Start()
}

// acquire resolves a connection with the pool-first policy: the pool if
// open, else the single persistent connection, else a lazily created pool.
// The returned func gives the connection back and must always be called.
func (c *Client) acquire(ctx context.Context) (Conn, func(), error) {
	for lazy := false; ; lazy = true {
		c.mu.Lock()
		pool, single := c.pool, c.conn
		c.mu.Unlock()

		switch {
		case pool != nil:
			conn, err := pool.Acquire(ctx)
			if err != nil {
				return nil, nil, err
			}
			return conn, func() {
				if err := conn.Release(); err != nil {
					c.logger.Warn("failed to release connection", Error("error", err))
				}
			}, nil
		case single != nil:
			c.connMu.Lock()
			return single, c.connMu.Unlock, nil
		case lazy:
			// Closed between Connect and here.
			return nil, nil, ErrPoolClosed()
		}

		if err := c.Connect(ctx); err != nil {
			return nil, nil, err
		}
	}
}

// TestConnection pings the database and reports the round-trip latency.
func (c *Client) TestConnection(ctx context.Context) (time.Duration, error) {
	conn, release, err := c.acquire(ctx)
	if err != nil {
		c.events.emit(ConnectionEvent{Kind: TopicConnectionTested, Err: err})
		return 0, err
	}
	defer release()

	start := time.Now()
	err = conn.Ping(ctx)
	latency := time.Since(start)

	c.events.emit(ConnectionEvent{Kind: TopicConnectionTested, Latency: latency, Err: err})
	if err != nil {
		c.logger.Warn("connection test failed", Error("error", err))
		return latency, err
	}
	c.logger.Debug("connection test succeeded", Duration("latency", latency))
	return latency, nil
}

// Ping verifies the database is reachable.
func (c *Client) Ping(ctx context.Context) error {
	_, err := c.TestConnection(ctx)
	return err
}

// reconnect drops the current pool or connection and establishes the same
// kind again. Used by the health monitor.
func (c *Client) reconnect(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	var mode string
	switch {
	case c.pool != nil:
		mode = "pool"
		c.pool.Close()
		c.pool = nil
	case c.conn != nil:
		mode = "single"
		c.conn.Release()
		c.conn = nil
	default:
		return nil
	}

	c.logger.Warn("reconnecting", String("mode", mode))
	c.stateMgr.transitionTo(Closing, nil)
	c.stateMgr.transitionTo(Disconnected, nil)
	return c.establish(ctx, mode)
}

// Close rolls back open transactions and closes the pool or connection.
func (c *Client) Close(ctx context.Context) error {
	c.mu.Lock()
	health := c.health
	c.health = nil
	c.mu.Unlock()
	if health != nil {
		health.Stop()
	}

	c.activeTx.Range(func(_, v interface{}) bool {
		tx := v.(*Tx)
		if err := tx.Rollback(); err != nil {
			c.logger.Error("failed to roll back transaction during close",
				String("tx_id", tx.ID()),
				Error("error", err))
		}
		return true
	})

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.pool == nil && c.conn == nil {
		return nil
	}
	c.stateMgr.transitionTo(Closing, nil)

	var errs []error
	mode := "pool"
	if c.pool != nil {
		errs = append(errs, c.pool.Close())
		c.pool = nil
	}
	if c.conn != nil {
		mode = "single"
		c.connMu.Lock()
		errs = append(errs, c.conn.Release())
		c.connMu.Unlock()
		c.conn = nil
	}
	closeErr := errors.Join(errs...)

	c.stateMgr.transitionTo(Disconnected, closeErr)
	if closeErr != nil {
		c.logger.Error("error during close", Error("error", closeErr))
	} else {
		c.logger.Info("connection closed", String("mode", mode))
	}
	c.events.emit(ConnectionEvent{Kind: TopicConnectionClosed, Mode: mode, Err: closeErr})
	return closeErr
}

// State returns the current connection state.
func (c *Client) State() ConnectionState {
	return c.stateMgr.state()
}

// OnStateChange registers a handler to be called on state transitions.
func (c *Client) OnStateChange(handler StateChangeHandler) {
	c.stateMgr.onStateChange(handler)
}

// PoolStats returns pool statistics; ok is false when no pool is open.
func (c *Client) PoolStats() (stats PoolStats, ok bool) {
	c.mu.Lock()
	pool := c.pool
	c.mu.Unlock()
	if pool == nil {
		return PoolStats{}, false
	}
	return pool.Stats(), true
}

// ClearCache drops every cached result and returns how many were dropped.
func (c *Client) ClearCache() int {
	n := c.cache.Clear()
	c.logger.Debug("cache cleared", Int("entries", n))
	c.events.emit(CacheClearedEvent{Entries: n})
	return n
}

// CacheStats returns a snapshot of cache counters.
func (c *Client) CacheStats() CacheStats {
	return c.cache.Stats()
}

// QueryLog returns the executed statements recorded while LoggingEnabled.
func (c *Client) QueryLog() []QueryLogEntry {
	return c.queryLog.Entries()
}

// ClearQueryLog empties the query log and returns how many entries it held.
func (c *Client) ClearQueryLog() int {
	return c.queryLog.Clear()
}

// Options returns a copy of the effective options.
func (c *Client) Options() Options {
	return c.opts
}

// Logger returns the client logger.
func (c *Client) Logger() Logger {
	return c.logger
}

// GetVersion returns the build version of the client.
func (c *Client) GetVersion() string {
	return Version
}
