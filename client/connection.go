package client

import (
	"context"
	"database/sql"
	"fmt"
	"net"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/go-sql-driver/mysql"
	"github.com/jmoiron/sqlx"

	"github.com/dan-strohschein/querykit/mapper"
)

// SQLDriver implements Driver on top of database/sql. Any registered
// database/sql driver works; DSNs are built for "mysql" and "sqlite3".
type SQLDriver struct{}

// NewSQLDriver returns the database/sql backed driver.
func NewSQLDriver() *SQLDriver {
	return &SQLDriver{}
}

// OpenPool opens a *sqlx.DB sized from opts and pings it.
func (d *SQLDriver) OpenPool(ctx context.Context, opts Options) (Pool, error) {
	db, err := d.open(ctx, opts)
	if err != nil {
		return nil, err
	}

	db.SetMaxOpenConns(opts.PoolMaxOpen)
	db.SetMaxIdleConns(opts.PoolMinIdle)
	if opts.PoolIdleTimeout > 0 {
		db.SetConnMaxIdleTime(opts.PoolIdleTimeout)
	}

	return newSQLPool(db, opts), nil
}

// OpenConn opens a single dedicated connection. Release closes both the
// connection and its private handle.
func (d *SQLDriver) OpenConn(ctx context.Context, opts Options) (Conn, error) {
	db, err := d.open(ctx, opts)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(1)

	conn, err := db.Connx(ctx)
	if err != nil {
		db.Close()
		return nil, err
	}

	return &sqlConn{
		conn: conn,
		release: func() error {
			connErr := conn.Close()
			dbErr := db.Close()
			if connErr != nil {
				return connErr
			}
			return dbErr
		},
	}, nil
}

func (d *SQLDriver) open(ctx context.Context, opts Options) (*sqlx.DB, error) {
	dsn, err := BuildDSN(opts)
	if err != nil {
		return nil, err
	}

	db, err := sqlx.Open(opts.DriverName, dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open %s database: %w", opts.DriverName, err)
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to connect to %s database: %w", opts.DriverName, err)
	}
	return db, nil
}

// BuildDSN returns opts.DSN when set, otherwise builds one for the driver.
func BuildDSN(opts Options) (string, error) {
	if opts.DSN != "" {
		return opts.DSN, nil
	}

	switch opts.DriverName {
	case "mysql":
		cfg := mysql.NewConfig()
		cfg.User = opts.User
		cfg.Passwd = opts.Password
		cfg.Net = "tcp"
		cfg.Addr = net.JoinHostPort(opts.Host, strconv.Itoa(opts.Port))
		cfg.DBName = opts.Database
		cfg.ParseTime = true
		cfg.Loc = time.UTC
		return cfg.FormatDSN(), nil
	case "sqlite3":
		if opts.Database == "" {
			return "", newValidationError("E_MISSING_DATABASE", "database", "sqlite3 requires a database file path")
		}
		if strings.Contains(opts.Database, "?") {
			return opts.Database, nil
		}
		return opts.Database + "?_busy_timeout=5000&_foreign_keys=on", nil
	default:
		return "", newValidationError("E_UNSUPPORTED_DRIVER", "driver",
			"cannot build a DSN for driver %q, set DSN explicitly", opts.DriverName)
	}
}

// sqlxRunner is satisfied by both *sqlx.Conn and *sqlx.Tx.
type sqlxRunner interface {
	QueryxContext(ctx context.Context, query string, args ...interface{}) (*sqlx.Rows, error)
	ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error)
}

// sqlConn is a Conn over one *sqlx.Conn.
type sqlConn struct {
	conn    *sqlx.Conn
	tx      *sqlx.Tx
	release func() error
	once    sync.Once
	mu      sync.Mutex
}

func (c *sqlConn) runner() sqlxRunner {
	if c.tx != nil {
		return c.tx
	}
	return c.conn
}

// Execute runs text on the session, inside the open transaction if any.
func (c *sqlConn) Execute(ctx context.Context, text string, params []interface{}) (*ResultSet, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	r := c.runner()
	if returnsRows(text) {
		rows, err := r.QueryxContext(ctx, text, params...)
		if err != nil {
			return nil, err
		}
		return scanRows(rows)
	}

	res, err := r.ExecContext(ctx, text, params...)
	if err != nil {
		return nil, err
	}

	out := &ResultSet{}
	// Drivers that do not support these report an error; zero is the answer then.
	if n, err := res.RowsAffected(); err == nil {
		out.RowsAffected = n
	}
	if id, err := res.LastInsertId(); err == nil {
		out.LastInsertID = id
	}
	return out, nil
}

func scanRows(rows *sqlx.Rows) (rs *ResultSet, err error) {
	defer func() {
		if cerr := rows.Close(); cerr != nil && err == nil {
			err = cerr
		}
	}()

	cols, err := rows.Columns()
	if err != nil {
		return nil, err
	}

	out := &ResultSet{Columns: cols, Rows: make([]Row, 0)}
	for rows.Next() {
		m := make(map[string]interface{}, len(cols))
		if err := rows.MapScan(m); err != nil {
			return nil, err
		}
		out.Rows = append(out.Rows, Row(mapper.NormalizeRow(m)))
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *sqlConn) Begin(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.tx != nil {
		return fmt.Errorf("transaction already open on this connection")
	}
	tx, err := c.conn.BeginTxx(ctx, nil)
	if err != nil {
		return err
	}
	c.tx = tx
	return nil
}

func (c *sqlConn) Commit() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.tx == nil {
		return fmt.Errorf("no open transaction to commit")
	}
	err := c.tx.Commit()
	c.tx = nil
	return err
}

func (c *sqlConn) Rollback() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.tx == nil {
		return fmt.Errorf("no open transaction to roll back")
	}
	err := c.tx.Rollback()
	c.tx = nil
	return err
}

func (c *sqlConn) Ping(ctx context.Context) error {
	return c.conn.PingContext(ctx)
}

// Release is idempotent; only the first call reaches the pool.
func (c *sqlConn) Release() error {
	var err error
	c.once.Do(func() {
		c.mu.Lock()
		if c.tx != nil {
			c.tx.Rollback()
			c.tx = nil
		}
		c.mu.Unlock()
		err = c.release()
	})
	return err
}
