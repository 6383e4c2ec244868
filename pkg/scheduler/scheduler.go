package scheduler

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cuemby/reroll-core/pkg/log"
	"github.com/cuemby/reroll-core/pkg/metrics"
	"github.com/rs/zerolog"
)

// shutdownGrace is spec §5's 10-second cooperative-cancellation window.
const shutdownGrace = 10 * time.Second

// TaskFunc is one scheduled task's unit of work.
type TaskFunc func(ctx context.Context) error

// Task configures one named background job: its tick interval and the
// backoff range applied after a failing run.
type Task struct {
	Name       string
	Interval   time.Duration
	MinBackoff time.Duration
	MaxBackoff time.Duration
	Run        TaskFunc
}

// Scheduler runs a fixed set of named Tasks, each on its own ticker
// goroutine. Overlapping ticks for the same task are skipped rather than
// queued; a failing run backs off exponentially before its next attempt.
type Scheduler struct {
	tasks  []*Task
	logger zerolog.Logger
	wg     sync.WaitGroup
	ctx    context.Context
	cancel context.CancelFunc
}

// New creates a Scheduler for tasks. Tasks are not started until Start.
func New(tasks []*Task) *Scheduler {
	ctx, cancel := context.WithCancel(context.Background())
	return &Scheduler{
		tasks:  tasks,
		logger: log.WithComponent("scheduler"),
		ctx:    ctx,
		cancel: cancel,
	}
}

// Start launches one goroutine per task.
func (s *Scheduler) Start() {
	for _, t := range s.tasks {
		s.wg.Add(1)
		go s.runTask(t)
	}
}

// Stop cancels every task's context and waits up to shutdownGrace for
// in-flight runs to exit cooperatively.
func (s *Scheduler) Stop() {
	s.cancel()
	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(shutdownGrace):
		s.logger.Warn().Msg("scheduler stop exceeded grace period")
	}
}

func (s *Scheduler) runTask(t *Task) {
	defer s.wg.Done()
	ticker := time.NewTicker(t.Interval)
	defer ticker.Stop()

	var running atomic.Bool
	backoff := t.MinBackoff
	var nextAllowed time.Time

	for {
		select {
		case now := <-ticker.C:
			if s.ctx.Err() != nil {
				return
			}
			if now.Before(nextAllowed) {
				continue
			}
			if !running.CompareAndSwap(false, true) {
				s.logger.Warn().Str("task", t.Name).Msg("tick skipped: previous run still in progress")
				metrics.ScheduledTaskSkippedTotal.WithLabelValues(t.Name).Inc()
				continue
			}

			start := time.Now()
			err := t.Run(s.ctx)
			running.Store(false)
			select {
			case <-ticker.C:
				s.logger.Warn().Str("task", t.Name).Msg("tick skipped: previous run still in progress")
				metrics.ScheduledTaskSkippedTotal.WithLabelValues(t.Name).Inc()
			default:
			}
			metrics.ScheduledTaskDuration.WithLabelValues(t.Name).Observe(time.Since(start).Seconds())

			if err != nil {
				s.logger.Error().Err(err).Str("task", t.Name).Msg("scheduled task failed")
				metrics.ScheduledTaskFailuresTotal.WithLabelValues(t.Name).Inc()
				nextAllowed = time.Now().Add(backoff)
				backoff = nextBackoff(backoff, t.MaxBackoff)
			} else {
				backoff = t.MinBackoff
			}
		case <-s.ctx.Done():
			return
		}
	}
}

func nextBackoff(cur, max time.Duration) time.Duration {
	next := cur * 2
	if next > max {
		return max
	}
	return next
}
