package testutil

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"

	"github.com/dan-strohschein/querykit/client"
)

// MockDriver is an in-memory client.Driver for tests. Statements are matched
// against expectations by substring; unmatched statements return an empty
// result unless the driver is strict.
//
// Example usage:
//
//	mock := testutil.NewMockDriver()
//	mock.ExpectQuery("FROM users").
//	    WillReturnRows(client.Row{"id": int64(1), "name": "Alice"})
//
//	c := client.NewClient(&client.Options{Driver: mock})
//	rows, err := c.Query(ctx, "SELECT * FROM users")
//	mock.VerifyExpectations(t)
type MockDriver struct {
	mu           sync.Mutex
	expectations []*Expectation
	calls        []Call
	strict       bool
	failOpen     int
	openErr      error
	pingErr      error

	opens     int
	begins    int
	commits   int
	rollbacks int
	releases  int
	inUse     int
}

// Expectation is a canned response for statements containing a fragment.
type Expectation struct {
	fragment    string
	rows        []client.Row
	result      *client.ResultSet
	err         error
	respond     func(text string, params []interface{}) (*client.ResultSet, error)
	times       int // -1 = any
	actualCalls int
}

// Call is one statement the driver executed.
type Call struct {
	Text   string
	Params []interface{}
	InTx   bool
}

// ErrOpenFailed is returned by OpenPool and OpenConn while FailOpen is active.
var ErrOpenFailed = errors.New("mock: connection refused")

// NewMockDriver creates a mock driver with no expectations.
func NewMockDriver() *MockDriver {
	return &MockDriver{}
}

// Strict makes unmatched statements fail.
func (m *MockDriver) Strict() *MockDriver {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.strict = true
	return m
}

// FailOpen makes the next n open attempts fail with ErrOpenFailed.
func (m *MockDriver) FailOpen(n int) *MockDriver {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failOpen = n
	m.openErr = ErrOpenFailed
	return m
}

// FailOpenWith makes the next n open attempts fail with err.
func (m *MockDriver) FailOpenWith(n int, err error) *MockDriver {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failOpen = n
	m.openErr = err
	return m
}

// FailPing makes every Ping return err; nil restores success.
func (m *MockDriver) FailPing(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.pingErr = err
}

// ExpectQuery registers an expectation for statements containing fragment.
// It matches any number of times until Times is set.
func (m *MockDriver) ExpectQuery(fragment string) *Expectation {
	m.mu.Lock()
	defer m.mu.Unlock()

	exp := &Expectation{fragment: fragment, times: -1}
	m.expectations = append(m.expectations, exp)
	return exp
}

// ExpectExec is ExpectQuery for statements that do not return rows.
func (m *MockDriver) ExpectExec(fragment string) *Expectation {
	return m.ExpectQuery(fragment)
}

// WillReturnRows makes matching statements return rows.
func (e *Expectation) WillReturnRows(rows ...client.Row) *Expectation {
	if rows == nil {
		rows = []client.Row{}
	}
	e.rows = rows
	return e
}

// WillReturnResult makes matching statements report affected rows.
func (e *Expectation) WillReturnResult(rowsAffected, lastInsertID int64) *Expectation {
	e.result = &client.ResultSet{RowsAffected: rowsAffected, LastInsertID: lastInsertID}
	return e
}

// WillReturnError makes matching statements fail with err.
func (e *Expectation) WillReturnError(err error) *Expectation {
	e.err = err
	return e
}

// WillRespond computes the response from the statement.
func (e *Expectation) WillRespond(fn func(text string, params []interface{}) (*client.ResultSet, error)) *Expectation {
	e.respond = fn
	return e
}

// Times limits how often this expectation matches. Once exhausted, later
// expectations with a matching fragment are tried.
func (e *Expectation) Times(n int) *Expectation {
	e.times = n
	return e
}

// Once is a shorthand for Times(1).
func (e *Expectation) Once() *Expectation {
	return e.Times(1)
}

// VerifyExpectations checks that every expectation with a call count was met.
func (m *MockDriver) VerifyExpectations(t testing.TB) {
	t.Helper()
	m.mu.Lock()
	defer m.mu.Unlock()

	for i, exp := range m.expectations {
		if exp.times != -1 && exp.actualCalls != exp.times {
			t.Errorf("expectation %d (%q): expected %d calls, got %d",
				i, exp.fragment, exp.times, exp.actualCalls)
		}
	}
}

// Calls returns every executed statement in order.
func (m *MockDriver) Calls() []Call {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]Call(nil), m.calls...)
}

// CallCount returns how many executed statements contain fragment.
func (m *MockDriver) CallCount(fragment string) int {
	m.mu.Lock()
	defer m.mu.Unlock()

	n := 0
	for _, c := range m.calls {
		if strings.Contains(c.Text, fragment) {
			n++
		}
	}
	return n
}

// Counts is a snapshot of connection and transaction activity.
type Counts struct {
	Opens     int
	Begins    int
	Commits   int
	Rollbacks int
	Releases  int
	InUse     int
}

// Counts returns the current activity counters.
func (m *MockDriver) Counts() Counts {
	m.mu.Lock()
	defer m.mu.Unlock()
	return Counts{
		Opens:     m.opens,
		Begins:    m.begins,
		Commits:   m.commits,
		Rollbacks: m.rollbacks,
		Releases:  m.releases,
		InUse:     m.inUse,
	}
}

// Reset clears expectations, calls and counters.
func (m *MockDriver) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.expectations = nil
	m.calls = nil
	m.failOpen = 0
	m.openErr = nil
	m.pingErr = nil
	m.opens, m.begins, m.commits, m.rollbacks, m.releases = 0, 0, 0, 0, 0
}

func (m *MockDriver) open() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failOpen > 0 {
		m.failOpen--
		return m.openErr
	}
	m.opens++
	return nil
}

// OpenPool implements client.Driver.
func (m *MockDriver) OpenPool(_ context.Context, opts client.Options) (client.Pool, error) {
	if err := m.open(); err != nil {
		return nil, err
	}
	return &mockPool{driver: m, maxOpen: opts.PoolMaxOpen}, nil
}

// OpenConn implements client.Driver.
func (m *MockDriver) OpenConn(_ context.Context, _ client.Options) (client.Conn, error) {
	if err := m.open(); err != nil {
		return nil, err
	}
	m.mu.Lock()
	m.inUse++
	m.mu.Unlock()
	return &mockConn{driver: m}, nil
}

func (m *MockDriver) execute(text string, params []interface{}, inTx bool) (*client.ResultSet, error) {
	m.mu.Lock()
	m.calls = append(m.calls, Call{Text: text, Params: params, InTx: inTx})

	var exp *Expectation
	for _, e := range m.expectations {
		if strings.Contains(text, e.fragment) && (e.times == -1 || e.actualCalls < e.times) {
			e.actualCalls++
			exp = e
			break
		}
	}
	strict := m.strict
	m.mu.Unlock()

	if exp == nil {
		if strict {
			return nil, fmt.Errorf("mock: unexpected statement: %s", text)
		}
		return defaultResult(text), nil
	}

	switch {
	case exp.respond != nil:
		return exp.respond(text, params)
	case exp.err != nil:
		return nil, exp.err
	case exp.rows != nil:
		rows := make([]client.Row, len(exp.rows))
		for i, r := range exp.rows {
			rows[i] = copyRow(r)
		}
		return &client.ResultSet{Columns: columnsOf(rows), Rows: rows}, nil
	case exp.result != nil:
		rs := *exp.result
		return &rs, nil
	default:
		return defaultResult(text), nil
	}
}

func defaultResult(text string) *client.ResultSet {
	if client.InferCommandKind(text) == client.KindQuery {
		return &client.ResultSet{Rows: []client.Row{}}
	}
	return &client.ResultSet{}
}

func columnsOf(rows []client.Row) []string {
	if len(rows) == 0 {
		return nil
	}
	cols := make([]string, 0, len(rows[0]))
	for k := range rows[0] {
		cols = append(cols, k)
	}
	return cols
}

func copyRow(r client.Row) client.Row {
	out := make(client.Row, len(r))
	for k, v := range r {
		out[k] = v
	}
	return out
}

type mockPool struct {
	driver  *MockDriver
	maxOpen int
	mu      sync.Mutex
	closed  bool
}

func (p *mockPool) Acquire(ctx context.Context) (client.Conn, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	p.mu.Lock()
	closed := p.closed
	p.mu.Unlock()
	if closed {
		return nil, client.ErrPoolClosed()
	}

	p.driver.mu.Lock()
	p.driver.inUse++
	p.driver.mu.Unlock()
	return &mockConn{driver: p.driver}, nil
}

func (p *mockPool) Stats() client.PoolStats {
	p.driver.mu.Lock()
	defer p.driver.mu.Unlock()
	return client.PoolStats{MaxOpen: p.maxOpen, InUse: p.driver.inUse}
}

func (p *mockPool) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.closed = true
	return nil
}

type mockConn struct {
	driver   *MockDriver
	mu       sync.Mutex
	inTx     bool
	released bool
}

func (c *mockConn) Execute(ctx context.Context, text string, params []interface{}) (*client.ResultSet, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	c.mu.Lock()
	inTx := c.inTx
	c.mu.Unlock()
	return c.driver.execute(text, params, inTx)
}

func (c *mockConn) Begin(_ context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.inTx {
		return errors.New("mock: transaction already open")
	}
	c.inTx = true
	c.driver.mu.Lock()
	c.driver.begins++
	c.driver.mu.Unlock()
	return nil
}

func (c *mockConn) Commit() error {
	return c.end(func(d *MockDriver) { d.commits++ })
}

func (c *mockConn) Rollback() error {
	return c.end(func(d *MockDriver) { d.rollbacks++ })
}

func (c *mockConn) end(count func(*MockDriver)) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.inTx {
		return errors.New("mock: no transaction open")
	}
	c.inTx = false
	c.driver.mu.Lock()
	count(c.driver)
	c.driver.mu.Unlock()
	return nil
}

func (c *mockConn) Ping(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	c.driver.mu.Lock()
	defer c.driver.mu.Unlock()
	return c.driver.pingErr
}

func (c *mockConn) Release() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.released {
		return nil
	}
	c.released = true
	c.driver.mu.Lock()
	c.driver.releases++
	c.driver.inUse--
	c.driver.mu.Unlock()
	return nil
}
