package scheduler

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestSchedulerRunsTaskOnTick(t *testing.T) {
	var runs atomic.Int32
	s := New([]*Task{{
		Name:       "t",
		Interval:   10 * time.Millisecond,
		MinBackoff: time.Millisecond,
		MaxBackoff: time.Millisecond,
		Run: func(ctx context.Context) error {
			runs.Add(1)
			return nil
		},
	}})

	s.Start()
	time.Sleep(55 * time.Millisecond)
	s.Stop()

	assert.Greater(t, runs.Load(), int32(1))
}

func TestSchedulerStopCancelsInFlightRun(t *testing.T) {
	started := make(chan struct{})
	var cancelledInTime atomic.Bool
	s := New([]*Task{{
		Name:       "slow",
		Interval:   5 * time.Millisecond,
		MinBackoff: time.Millisecond,
		MaxBackoff: time.Millisecond,
		Run: func(ctx context.Context) error {
			close(started)
			select {
			case <-ctx.Done():
				cancelledInTime.Store(true)
			case <-time.After(shutdownGrace):
			}
			return nil
		},
	}})

	s.Start()
	<-started
	s.Stop()

	assert.True(t, cancelledInTime.Load())
}

func TestSchedulerSkipsOverlappingRun(t *testing.T) {
	var concurrent atomic.Int32
	var maxConcurrent atomic.Int32
	release := make(chan struct{})

	s := New([]*Task{{
		Name:       "overlap",
		Interval:   5 * time.Millisecond,
		MinBackoff: time.Millisecond,
		MaxBackoff: time.Millisecond,
		Run: func(ctx context.Context) error {
			n := concurrent.Add(1)
			defer concurrent.Add(-1)
			for {
				cur := maxConcurrent.Load()
				if n <= cur || maxConcurrent.CompareAndSwap(cur, n) {
					break
				}
			}
			<-release
			return nil
		},
	}})

	s.Start()
	time.Sleep(40 * time.Millisecond)
	close(release)
	s.Stop()

	assert.Equal(t, int32(1), maxConcurrent.Load())
}

func TestNextBackoffDoublesAndCaps(t *testing.T) {
	assert.Equal(t, 2*time.Second, nextBackoff(time.Second, time.Minute))
	assert.Equal(t, time.Minute, nextBackoff(50*time.Second, time.Minute))
	assert.Equal(t, time.Minute, nextBackoff(time.Minute, time.Minute))
}
