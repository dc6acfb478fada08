package client

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/jmoiron/sqlx"
)

// poolCounters tracks connection pool statistics.
type poolCounters struct {
	inUse        atomic.Int32
	waiting      atomic.Int32
	waitCount    atomic.Int64
	waitDuration atomic.Int64 // nanoseconds
	timeouts     atomic.Int64
	rejected     atomic.Int64
}

// sqlPool gates a *sqlx.DB with a slot channel so the queueing policy can be
// enforced; database/sql on its own always waits without bound.
type sqlPool struct {
	db         *sqlx.DB
	slots      chan struct{}
	maxOpen    int
	policy     QueuePolicy
	queueLimit int
	stats      poolCounters
	closed     atomic.Bool
}

func newSQLPool(db *sqlx.DB, opts Options) *sqlPool {
	return &sqlPool{
		db:         db,
		slots:      make(chan struct{}, opts.PoolMaxOpen),
		maxOpen:    opts.PoolMaxOpen,
		policy:     opts.QueuePolicy,
		queueLimit: opts.QueueLimit,
	}
}

// Acquire reserves a slot, then a session from database/sql.
func (p *sqlPool) Acquire(ctx context.Context) (Conn, error) {
	if p.closed.Load() {
		return nil, ErrPoolClosed()
	}

	if err := p.reserve(ctx); err != nil {
		return nil, err
	}

	conn, err := p.db.Connx(ctx)
	if err != nil {
		<-p.slots
		return nil, err
	}
	p.stats.inUse.Add(1)

	return &sqlConn{
		conn: conn,
		release: func() error {
			err := conn.Close()
			p.stats.inUse.Add(-1)
			<-p.slots
			return err
		},
	}, nil
}

func (p *sqlPool) reserve(ctx context.Context) error {
	select {
	case p.slots <- struct{}{}:
		return nil
	default:
	}

	if p.policy == QueueFailFast {
		p.stats.rejected.Add(1)
		return ErrPoolExhausted(p.maxOpen)
	}
	if p.queueLimit > 0 && int(p.stats.waiting.Load()) >= p.queueLimit {
		p.stats.rejected.Add(1)
		return ErrQueueFull(p.queueLimit)
	}

	p.stats.waiting.Add(1)
	defer p.stats.waiting.Add(-1)
	p.stats.waitCount.Add(1)
	start := time.Now()

	select {
	case p.slots <- struct{}{}:
		p.stats.waitDuration.Add(int64(time.Since(start)))
		return nil
	case <-ctx.Done():
		p.stats.timeouts.Add(1)
		return ctx.Err()
	}
}

// Stats returns a snapshot of pool statistics.
func (p *sqlPool) Stats() PoolStats {
	dbStats := p.db.Stats()
	return PoolStats{
		MaxOpen:      p.maxOpen,
		InUse:        int(p.stats.inUse.Load()),
		Idle:         dbStats.Idle,
		Waiting:      int(p.stats.waiting.Load()),
		WaitCount:    p.stats.waitCount.Load(),
		WaitDuration: time.Duration(p.stats.waitDuration.Load()),
		Timeouts:     p.stats.timeouts.Load(),
		Rejected:     p.stats.rejected.Load(),
	}
}

// Close closes the underlying handle. Connections still checked out are
// closed by database/sql when released.
func (p *sqlPool) Close() error {
	if !p.closed.CompareAndSwap(false, true) {
		return nil
	}
	return p.db.Close()
}
