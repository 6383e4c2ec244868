package storage

import (
	"sync"
	"time"

	"github.com/cuemby/reroll-core/pkg/metrics"
)

const slowQueryThreshold = time.Second

// QueryMonitorStats is a point-in-time snapshot of query-timing counters.
type QueryMonitorStats struct {
	Total     int64
	Failed    int64
	Rollbacks int64
	Slow      int64
}

// QueryMonitor keeps total/failed/rollback/slow counters under a single
// mutex, per spec §4.1 and §5. Only statements run through Timed are timed
// and counted; WithTx adds its rollbacks and begin/commit failures.
type QueryMonitor struct {
	mu        sync.Mutex
	total     int64
	failed    int64
	rollbacks int64
	slow      int64
}

func newQueryMonitor() *QueryMonitor {
	return &QueryMonitor{}
}

// Observe records one completed statement's duration and outcome.
func (m *QueryMonitor) Observe(d time.Duration, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.total++
	metrics.QueryTotal.Inc()
	if err != nil {
		m.failed++
		metrics.QueryFailedTotal.Inc()
	}
	if d > slowQueryThreshold {
		m.slow++
		metrics.QuerySlowTotal.Inc()
	}
}

func (m *QueryMonitor) recordRollback() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.rollbacks++
	metrics.QueryRollbackTotal.Inc()
}

func (m *QueryMonitor) recordFailure() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failed++
	metrics.QueryFailedTotal.Inc()
}

// Stats returns a snapshot of the counters.
func (m *QueryMonitor) Stats() QueryMonitorStats {
	m.mu.Lock()
	defer m.mu.Unlock()
	return QueryMonitorStats{
		Total:     m.total,
		Failed:    m.failed,
		Rollbacks: m.rollbacks,
		Slow:      m.slow,
	}
}

// Timed runs fn, times it, and records the outcome on the monitor.
func Timed[T any](m *QueryMonitor, fn func() (T, error)) (T, error) {
	start := time.Now()
	result, err := fn()
	m.Observe(time.Since(start), err)
	return result, err
}
