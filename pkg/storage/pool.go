package storage

import (
	"context"
	"database/sql"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cuemby/reroll-core/pkg/log"
	"github.com/cuemby/reroll-core/pkg/metrics"
	_ "modernc.org/sqlite"
)

// PoolStats is a point-in-time snapshot of the pool's counters.
type PoolStats struct {
	TotalRequests        int64
	Successes            int64
	Failures              int64
	PoolExhaustionEvents  int64
	DeadConnReplaced      int64
}

// Pool guards access to the embedded SQLite datastore with a fixed-size
// logical connection budget, per spec §4.1. The underlying *sql.DB already
// multiplexes real OS connections; Pool adds the bounded-concurrency,
// liveness-check, and overflow semantics the spec calls for on top of it.
type Pool struct {
	db      *sql.DB
	path    string
	size    int
	sem     chan struct{}
	monitor *QueryMonitor

	mu     sync.Mutex
	closed bool

	totalRequests        int64
	successes            int64
	failures              int64
	poolExhaustionEvents  int64
	deadConnReplaced      int64
}

// PoolConfig configures Open.
type PoolConfig struct {
	Path string
	Size int // default 5
}

// OpenPool opens the SQLite file at cfg.Path with the pragmas spec §4.1
// mandates (foreign keys on, WAL journaling, normal synchronous, 10k page
// cache, memory temp store, ~256MiB mmap) and returns a Pool bounding
// logical concurrency to cfg.Size.
func OpenPool(cfg PoolConfig) (*Pool, error) {
	size := cfg.Size
	if size <= 0 {
		size = 5
	}

	dsn := fmt.Sprintf(
		"%s?_pragma=foreign_keys(ON)&_pragma=journal_mode(WAL)&_pragma=synchronous(NORMAL)&_pragma=cache_size(-10000)&_pragma=temp_store(MEMORY)&_pragma=mmap_size(268435456)",
		cfg.Path,
	)

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open datastore: %w", err)
	}
	db.SetMaxOpenConns(size + 1) // +1 headroom for the overflow path
	db.SetMaxIdleConns(size)

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping datastore: %w", err)
	}

	return &Pool{
		db:      db,
		path:    cfg.Path,
		size:    size,
		sem:     make(chan struct{}, size),
		monitor: newQueryMonitor(),
	}, nil
}

// Monitor returns the pool's query-timing/failure counters (spec §4.1).
func (p *Pool) Monitor() *QueryMonitor { return p.monitor }

// Path returns the datastore's file path.
func (p *Pool) Path() string { return p.path }

// Conn is a borrowed handle returned by Acquire. Callers must call
// Release exactly once, on every exit path.
type Conn struct {
	pool     *Pool
	overflow bool
	released int32
}

// Raw exposes the underlying *sql.DB for statement execution. Every real
// connection is still drawn from the same pooled *sql.DB; Conn exists to
// carry the logical-slot/overflow bookkeeping.
func (c *Conn) Raw() *sql.DB { return c.pool.db }

// Release returns the logical slot to the pool. Safe to call multiple
// times; only the first call has effect.
func (c *Conn) Release() {
	if !atomic.CompareAndSwapInt32(&c.released, 0, 1) {
		return
	}
	if !c.overflow {
		<-c.pool.sem
	}
}

// Acquire borrows a logical connection slot. If all N slots are busy, a
// transient overflow connection is issued immediately rather than
// blocking indefinitely (spec §4.1); the overflow event is counted. Every
// handoff is liveness-checked with a trivial round trip; a dead
// connection triggers one counted replacement attempt.
func (p *Pool) Acquire(ctx context.Context) (*Conn, error) {
	atomic.AddInt64(&p.totalRequests, 1)
	metrics.PoolRequestsTotal.Inc()

	p.mu.Lock()
	closed := p.closed
	p.mu.Unlock()
	if closed {
		atomic.AddInt64(&p.failures, 1)
		return nil, ErrPoolClosed
	}

	conn := &Conn{pool: p}
	select {
	case p.sem <- struct{}{}:
	default:
		atomic.AddInt64(&p.poolExhaustionEvents, 1)
		metrics.PoolExhaustionEventsTotal.Inc()
		conn.overflow = true
	}

	if err := p.checkLiveness(ctx); err != nil {
		atomic.AddInt64(&p.deadConnReplaced, 1)
		metrics.PoolDeadConnReplacedTotal.Inc()
		if err := p.checkLiveness(ctx); err != nil {
			conn.Release()
			atomic.AddInt64(&p.failures, 1)
			return nil, fmt.Errorf("acquire connection: %w", err)
		}
	}

	atomic.AddInt64(&p.successes, 1)
	return conn, nil
}

func (p *Pool) checkLiveness(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	return p.db.PingContext(ctx)
}

// Stats returns a snapshot of the pool's counters.
func (p *Pool) Stats() PoolStats {
	return PoolStats{
		TotalRequests:        atomic.LoadInt64(&p.totalRequests),
		Successes:            atomic.LoadInt64(&p.successes),
		Failures:             atomic.LoadInt64(&p.failures),
		PoolExhaustionEvents: atomic.LoadInt64(&p.poolExhaustionEvents),
		DeadConnReplaced:     atomic.LoadInt64(&p.deadConnReplaced),
	}
}

// Close checkpoints the WAL and closes the underlying datastore.
func (p *Pool) Close() error {
	p.mu.Lock()
	p.closed = true
	p.mu.Unlock()

	if _, err := p.db.Exec("PRAGMA wal_checkpoint(TRUNCATE)"); err != nil {
		log.Logger.Warn().Err(err).Msg("wal checkpoint on close failed")
	}
	return p.db.Close()
}
