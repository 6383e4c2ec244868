package ingest

import (
	"time"

	"github.com/cuemby/reroll-core/pkg/types"
)

// DefaultGapThreshold is the default contiguity window between heartbeats
// within the same Run (spec §3).
const DefaultGapThreshold = 60 * time.Minute

// DeriveRuns groups heartbeats (already ordered by ts) into Runs: maximal
// spans without a gap exceeding gapThreshold, per spec §3.
func DeriveRuns(workerID int64, heartbeats []*types.Heartbeat, gapThreshold time.Duration) []*types.Run {
	if len(heartbeats) == 0 {
		return nil
	}

	var runs []*types.Run
	start := 0
	flush := func(end int) {
		// A run of a single heartbeat has no duration and would violate the
		// end_ts > start_ts invariant (spec §3); skip it.
		if end == start {
			return
		}
		run := buildRun(workerID, heartbeats[start:end+1])
		runs = append(runs, run)
	}

	for i := 1; i < len(heartbeats); i++ {
		if heartbeats[i].TS.Sub(heartbeats[i-1].TS) > gapThreshold {
			flush(i - 1)
			start = i
		}
	}
	flush(len(heartbeats) - 1)
	return runs
}

func buildRun(workerID int64, hbs []*types.Heartbeat) *types.Run {
	first, last := hbs[0], hbs[len(hbs)-1]

	var sumInstances, mainOnCount, peak int
	for _, hb := range hbs {
		sumInstances += hb.InstancesOnline
		if hb.InstancesOnline > peak {
			peak = hb.InstancesOnline
		}
		if hb.MainActive {
			mainOnCount++
		}
	}

	run := &types.Run{
		WorkerID:       workerID,
		StartTS:        first.TS,
		EndTS:          last.TS,
		StartPacks:     first.PacksCumulative,
		EndPacks:       last.PacksCumulative,
		AvgInstances:   float64(sumInstances) / float64(len(hbs)),
		PeakInstances:  peak,
		MainOnFraction: float64(mainOnCount) / float64(len(hbs)),
	}

	minutes := last.TS.Sub(first.TS).Minutes()
	if minutes > 0 {
		run.PacksPerMinute = float64(last.PacksCumulative-first.PacksCumulative) / minutes
	}
	return run
}
