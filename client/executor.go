package client

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// ExecOption adjusts a single Execute call.
type ExecOption func(*execConfig)

type execConfig struct {
	noCache bool
	ttl     time.Duration
}

// WithoutCache bypasses the cache for one call, for both lookup and store.
func WithoutCache() ExecOption {
	return func(c *execConfig) { c.noCache = true }
}

// WithTTL overrides the cache time-to-live for one call.
func WithTTL(ttl time.Duration) ExecOption {
	return func(c *execConfig) { c.ttl = ttl }
}

// Execute runs stmt through the pipeline:
//
//	validate → cache lookup → beforeQuery → execute → query log →
//	afterQuery → cache store → query.executed
//
// A cache hit returns the stored *ResultSet without running any hook; the
// value is shared and must not be modified. Any failure after the cache
// lookup runs the onError hooks and returns a *QueryExecutionError wrapping
// the cause. Only row-returning statements are cached.
func (c *Client) Execute(ctx context.Context, stmt Statement, opts ...ExecOption) (*ResultSet, error) {
	var cfg execConfig
	for _, opt := range opts {
		opt(&cfg)
	}

	if err := stmt.validate(); err != nil {
		return nil, err
	}

	cacheable := c.opts.CacheEnabled && !cfg.noCache && InferCommandKind(stmt.Text) == KindQuery
	var key string
	if cacheable {
		key = CacheKey(stmt)
		if rs, ok := c.cache.Get(key); ok {
			c.logger.Debug("cache hit", String("query", stmt.Text))
			c.events.emit(CacheHitEvent{Statement: stmt, RowCount: rs.RowCount()})
			return rs, nil
		}
	}

	hc := &HookContext{
		Stage:     StageBeforeQuery,
		Statement: stmt,
		IssuedAt:  c.opts.Now(),
		TraceID:   uuid.NewString(),
		Metadata:  make(map[string]interface{}),
	}
	if err := c.runHooks(ctx, hc); err != nil {
		return nil, c.fail(ctx, hc, "E_HOOK_ABORTED", "beforeQuery hook aborted execution", err)
	}

	start := time.Now()
	rs, err := c.run(ctx, stmt)
	elapsed := time.Since(start)
	if err != nil {
		return nil, c.fail(ctx, hc, "E_QUERY_FAILED", "statement execution failed", err)
	}

	if c.opts.LoggingEnabled {
		c.queryLog.Append(QueryLogEntry{
			Statement: stmt,
			Duration:  elapsed,
			RowCount:  rs.RowCount(),
			Timestamp: hc.IssuedAt,
			TraceID:   hc.TraceID,
		})
	}

	hc.Stage = StageAfterQuery
	hc.Result = rs
	hc.ExecutionTime = elapsed
	if err := c.runHooks(ctx, hc); err != nil {
		return nil, c.fail(ctx, hc, "E_HOOK_ABORTED", "afterQuery hook failed", err)
	}

	if cacheable {
		c.cache.Set(key, rs, cfg.ttl)
	}

	c.logger.Debug("statement executed",
		String("trace_id", hc.TraceID),
		String("query", stmt.Text),
		Int64("rows", rs.RowCount()),
		Duration("duration", elapsed))
	c.events.emit(QueryEvent{
		Kind:      TopicQueryExecuted,
		Statement: stmt,
		RowCount:  rs.RowCount(),
		Duration:  elapsed,
		TraceID:   hc.TraceID,
	})
	return rs, nil
}

func (c *Client) run(ctx context.Context, stmt Statement) (*ResultSet, error) {
	conn, release, err := c.acquire(ctx)
	if err != nil {
		return nil, err
	}
	defer release()

	return conn.Execute(ctx, stmt.Text, stmt.Params)
}

// fail reports a pipeline failure and builds the error returned to the caller.
func (c *Client) fail(ctx context.Context, hc *HookContext, code, msg string, cause error) error {
	hc.Err = cause
	c.runErrorHooks(ctx, hc)

	c.logger.Error("statement failed",
		String("trace_id", hc.TraceID),
		String("query", hc.Statement.Text),
		String("error", FormatError(cause, c.IsDebugMode())))
	c.events.emit(QueryEvent{
		Kind:      TopicQueryError,
		Statement: hc.Statement,
		TraceID:   hc.TraceID,
		Err:       cause,
	})

	return &QueryExecutionError{
		Code:       code,
		Message:    msg,
		Query:      hc.Statement.Text,
		Params:     hc.Statement.Params,
		TraceID:    hc.TraceID,
		Cause:      cause,
		StackTrace: captureStackTrace(),
		Timestamp:  time.Now(),
	}
}

// Query executes a row-returning statement and returns its rows.
func (c *Client) Query(ctx context.Context, text string, params ...interface{}) ([]Row, error) {
	rs, err := c.Execute(ctx, NewStatement(text, params...))
	if err != nil {
		return nil, err
	}
	return rs.Rows, nil
}

// Exec executes a statement without consulting the cache.
func (c *Client) Exec(ctx context.Context, text string, params ...interface{}) (*ResultSet, error) {
	return c.Execute(ctx, NewStatement(text, params...), WithoutCache())
}
