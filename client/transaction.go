package client

import (
	"context"
	"fmt"
	"runtime/debug"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Tx is a transaction bound to one dedicated connection. Statements run on
// that connection directly; the result cache and hooks are not involved, so
// a transaction always sees its own uncommitted writes.
//
// The connection is released exactly once, when the transaction reaches
// TxCommitted or TxRolledBack.
type Tx struct {
	id        string
	conn      Conn
	release   func() error
	client    *Client
	state     TxState
	startedAt time.Time
	mu        sync.Mutex
	once      sync.Once
}

// Begin starts a transaction on a dedicated connection: a pooled one when a
// pool is open, otherwise a standalone connection that is closed on release.
func (c *Client) Begin(ctx context.Context) (*Tx, error) {
	conn, err := c.acquireDedicated(ctx)
	if err != nil {
		return nil, &TransactionError{
			Code:       "E_BEGIN_FAILED",
			Message:    "failed to acquire a connection for the transaction",
			Cause:      err,
			StackTrace: captureStackTrace(),
			Timestamp:  time.Now(),
		}
	}

	tx := &Tx{
		id:        uuid.NewString(),
		conn:      conn,
		release:   conn.Release,
		client:    c,
		state:     TxIdle,
		startedAt: time.Now(),
	}

	if err := conn.Begin(ctx); err != nil {
		tx.state = TxRolledBack
		tx.releaseConn()
		return nil, &TransactionError{
			Code:          "E_BEGIN_FAILED",
			Message:       "failed to begin transaction",
			TransactionID: tx.id,
			State:         tx.state.String(),
			Cause:         err,
			StackTrace:    captureStackTrace(),
			Timestamp:     time.Now(),
		}
	}
	tx.state = TxActive

	c.activeTx.Store(tx.id, tx)
	c.logger.Debug("transaction started", String("tx_id", tx.id))
	c.events.emit(TransactionEvent{Kind: TopicTransactionStarted, TransactionID: tx.id})
	return tx, nil
}

func (c *Client) acquireDedicated(ctx context.Context) (Conn, error) {
	c.mu.Lock()
	pool, single := c.pool, c.conn
	c.mu.Unlock()

	if pool == nil && single == nil {
		if err := c.Connect(ctx); err != nil {
			return nil, err
		}
		c.mu.Lock()
		pool = c.pool
		c.mu.Unlock()
	}

	if pool != nil {
		return pool.Acquire(ctx)
	}
	return c.driver.OpenConn(ctx, c.opts)
}

// ID returns the transaction ID.
func (tx *Tx) ID() string {
	return tx.id
}

// State returns the current transaction state.
func (tx *Tx) State() TxState {
	tx.mu.Lock()
	defer tx.mu.Unlock()
	return tx.state
}

// Execute runs stmt inside the transaction.
func (tx *Tx) Execute(ctx context.Context, stmt Statement) (*ResultSet, error) {
	if err := stmt.validate(); err != nil {
		return nil, err
	}

	tx.mu.Lock()
	defer tx.mu.Unlock()

	if tx.state != TxActive {
		return nil, ErrTransactionNotActive(tx.id, tx.state)
	}

	start := time.Now()
	rs, err := tx.conn.Execute(ctx, stmt.Text, stmt.Params)
	elapsed := time.Since(start)
	if err != nil {
		tx.client.logger.Error("statement failed in transaction",
			String("tx_id", tx.id),
			String("query", stmt.Text),
			Error("error", err))
		return nil, &QueryExecutionError{
			Code:       "E_TX_QUERY_FAILED",
			Message:    "statement failed inside transaction",
			Query:      stmt.Text,
			Params:     stmt.Params,
			Details:    map[string]interface{}{"transaction_id": tx.id},
			Cause:      err,
			StackTrace: captureStackTrace(),
			Timestamp:  time.Now(),
		}
	}

	if tx.client.opts.LoggingEnabled {
		tx.client.queryLog.Append(QueryLogEntry{
			Statement: stmt,
			Duration:  elapsed,
			RowCount:  rs.RowCount(),
			Timestamp: start,
			TraceID:   tx.id,
		})
	}
	return rs, nil
}

// Query runs a row-returning statement inside the transaction.
func (tx *Tx) Query(ctx context.Context, text string, params ...interface{}) ([]Row, error) {
	rs, err := tx.Execute(ctx, NewStatement(text, params...))
	if err != nil {
		return nil, err
	}
	return rs.Rows, nil
}

// Exec runs a statement inside the transaction.
func (tx *Tx) Exec(ctx context.Context, text string, params ...interface{}) (*ResultSet, error) {
	return tx.Execute(ctx, NewStatement(text, params...))
}

// Commit commits the transaction. If the commit fails the transaction is
// considered rolled back and its connection is released.
func (tx *Tx) Commit() error {
	tx.mu.Lock()
	defer tx.mu.Unlock()

	if tx.state != TxActive {
		return ErrTransactionNotActive(tx.id, tx.state)
	}

	if err := tx.conn.Commit(); err != nil {
		tx.finish(TxRolledBack, err)
		return &TransactionError{
			Code:          "E_COMMIT_FAILED",
			Message:       "failed to commit transaction",
			TransactionID: tx.id,
			State:         tx.state.String(),
			Cause:         err,
			StackTrace:    captureStackTrace(),
			Timestamp:     time.Now(),
		}
	}

	tx.finish(TxCommitted, nil)
	return nil
}

// Rollback rolls the transaction back. Rolling back twice is a no-op.
func (tx *Tx) Rollback() error {
	return tx.rollback(nil)
}

func (tx *Tx) rollback(cause error) error {
	tx.mu.Lock()
	defer tx.mu.Unlock()

	switch tx.state {
	case TxRolledBack:
		return nil
	case TxActive:
	default:
		return ErrTransactionNotActive(tx.id, tx.state)
	}

	err := tx.conn.Rollback()
	tx.finish(TxRolledBack, cause)
	if err != nil {
		return &TransactionError{
			Code:          "E_ROLLBACK_FAILED",
			Message:       "failed to roll back transaction",
			TransactionID: tx.id,
			State:         tx.state.String(),
			Cause:         err,
			StackTrace:    captureStackTrace(),
			Timestamp:     time.Now(),
		}
	}
	return nil
}

// finish moves to a terminal state, releases the connection and emits the
// matching event. Callers hold tx.mu.
func (tx *Tx) finish(to TxState, cause error) {
	if !tx.state.canTransition(to) {
		return
	}
	tx.state = to
	tx.releaseConn()

	c := tx.client
	c.activeTx.Delete(tx.id)
	duration := time.Since(tx.startedAt)

	if to == TxCommitted {
		c.logger.Debug("transaction committed", String("tx_id", tx.id), Duration("duration", duration))
		c.events.emit(TransactionEvent{Kind: TopicTransactionCommitted, TransactionID: tx.id, Duration: duration})
		return
	}
	c.logger.Debug("transaction rolled back", String("tx_id", tx.id), Duration("duration", duration), Error("cause", cause))
	c.events.emit(TransactionEvent{Kind: TopicTransactionRolledBack, TransactionID: tx.id, Duration: duration, Err: cause})
}

func (tx *Tx) releaseConn() {
	tx.once.Do(func() {
		if err := tx.release(); err != nil {
			tx.client.logger.Warn("failed to release transaction connection",
				String("tx_id", tx.id),
				Error("error", err))
		}
	})
}

// WithTransaction runs fn inside a transaction. It commits when fn returns
// nil and rolls back when fn returns an error or panics. A callback error is
// returned as a *TransactionError whose Unwrap yields the original error.
// Panics are re-raised after the rollback. If fn commits or rolls back tx
// itself, WithTransaction leaves it alone.
func (c *Client) WithTransaction(ctx context.Context, fn func(tx *Tx) error) error {
	tx, err := c.Begin(ctx)
	if err != nil {
		return err
	}

	defer func() {
		if r := recover(); r != nil {
			rollbackErr := tx.rollback(fmt.Errorf("panic: %v", r))
			c.logger.Warn("transaction rolled back due to panic",
				String("tx_id", tx.id),
				Duration("duration", time.Since(tx.startedAt)),
				Error("panic", fmt.Errorf("%v", r)),
				Error("rollback_error", rollbackErr),
				String("stack", string(debug.Stack())))
			panic(r)
		}
	}()

	if err := fn(tx); err != nil {
		if tx.State() == TxActive {
			if rollbackErr := tx.rollback(err); rollbackErr != nil {
				c.logger.Error("failed to roll back transaction after error",
					String("tx_id", tx.id),
					Error("original_error", err),
					Error("rollback_error", rollbackErr))
			}
		}
		return &TransactionError{
			Code:          "E_TX_CALLBACK_FAILED",
			Message:       "transaction callback failed",
			TransactionID: tx.id,
			State:         tx.State().String(),
			Cause:         err,
			StackTrace:    captureStackTrace(),
			Timestamp:     time.Now(),
		}
	}

	if tx.State() != TxActive {
		return nil
	}
	return tx.Commit()
}
