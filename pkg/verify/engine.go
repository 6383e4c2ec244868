package verify

import (
	"context"
	"fmt"
	"time"

	"github.com/cuemby/reroll-core/pkg/events"
	"github.com/cuemby/reroll-core/pkg/storage"
	"github.com/cuemby/reroll-core/pkg/types"
)

// DefaultCacheTTL is spec §6's probability_cache_ttl_seconds default.
const DefaultCacheTTL = 5 * time.Minute

// Thresholds for the TESTING -> DEAD computed transition (spec §4.4 names
// DeadThreshold/DeadConfidenceThreshold without fixing their value; chosen
// here as a strictly narrower band than the "likely DEAD" recommendation
// range (P<30, confidence>60) so an automatic state change is always a
// case a human reviewer would also label likely-dead).
const (
	DeadProbabilityThreshold = 20.0
	DeadConfidenceThreshold  = 70.0
)

// MemberBreakdown is one tester's contribution to a GP's computation,
// part of the gp-summary query's member-breakdown output (spec §4.6).
type MemberBreakdown struct {
	WorkerID         int64
	Remaining        float64
	ProbabilityAlive float64 // Remaining clamped to [0,k] / k, as a percent
}

// Result is one computation of a GP's alive probability.
type Result struct {
	GPID             int64
	ProbabilityAlive float64 // percent, 0-100
	Confidence       float64 // 0-95
	TotalTests       int
	MissTests        int
	NoshowTests      int
	Members          []MemberBreakdown
	Recommendation   string
}

// Compute runs the spec §4.4 probability model over gp's test results,
// grouped by tester in submission order. Grounded on
// enhanced_gp_test_utils.py's compute_chance_noshow_as_dud/compute_prob:
// each tester keeps a running "remaining pack budget" seeded at k,
// decremented by 1.0 per MISS or d(s,f) per NOSHOW, clamped at zero and
// normalized back to a [0,1] fraction before the cross-tester product.
func Compute(gp *types.GodPack, results []*types.TestResult) Result {
	k := gp.PackSlotCount
	if k < 1 {
		k = 1
	}
	if k > 5 {
		k = 5
	}

	type tester struct {
		order     []int64
		remaining float64
	}
	order := make([]int64, 0)
	members := make(map[int64]*tester)

	var miss, noshow int
	for _, tr := range results {
		m, ok := members[tr.WorkerID]
		if !ok {
			m = &tester{remaining: float64(k)}
			members[tr.WorkerID] = m
			order = append(order, tr.WorkerID)
		}
		switch tr.Kind {
		case types.TestMiss:
			m.remaining -= 1.0
			miss++
		case types.TestNoshow:
			m.remaining -= dudEquivalent(tr.OpenSlots, tr.FriendCount)
			noshow++
		}
	}

	probAlive := 1.0
	breakdown := make([]MemberBreakdown, 0, len(order))
	for _, workerID := range order {
		m := members[workerID]
		remaining := m.remaining
		if remaining < 0 {
			remaining = 0
		}
		pt := remaining / float64(k)
		probAlive *= pt
		breakdown = append(breakdown, MemberBreakdown{
			WorkerID:         workerID,
			Remaining:        remaining,
			ProbabilityAlive: pt * 100,
		})
	}
	if len(order) == 0 {
		probAlive = 1.0
	}

	conf := confidence(miss, noshow)
	probPct := probAlive * 100

	return Result{
		GPID:             gp.ID,
		ProbabilityAlive: probPct,
		Confidence:       conf,
		TotalTests:       len(results),
		MissTests:        miss,
		NoshowTests:      noshow,
		Members:          breakdown,
		Recommendation:   recommend(probPct, conf),
	}
}

// Engine is the GP Verification Engine (C4): Compute plus the TTL'd
// GPStatistics cache and the GP-state transitions it drives.
type Engine struct {
	store    *storage.Store
	bus      *events.Broker
	cacheTTL time.Duration
}

// Config configures an Engine. CacheTTL defaults to DefaultCacheTTL when
// zero or negative.
type Config struct {
	Store    *storage.Store
	Bus      *events.Broker
	CacheTTL time.Duration
}

// New creates an Engine.
func New(cfg Config) *Engine {
	ttl := cfg.CacheTTL
	if ttl <= 0 {
		ttl = DefaultCacheTTL
	}
	return &Engine{store: cfg.Store, bus: cfg.Bus, cacheTTL: ttl}
}

// Evaluate returns gpID's cached statistics if fresh (within cacheTTL),
// otherwise recomputes, persists, and (when the computed result crosses
// the dead thresholds on a still-TESTING GP) drives the TESTING -> DEAD
// transition. forceRecalculate bypasses the cache regardless of age.
func (e *Engine) Evaluate(ctx context.Context, gpID int64, now time.Time, forceRecalculate bool) (Result, error) {
	if !forceRecalculate {
		if cached, err := e.store.GetGPStatistics(ctx, gpID); err == nil {
			if now.Sub(cached.LastCalculatedTS) < e.cacheTTL {
				return fromCached(cached), nil
			}
		} else if err != storage.ErrNotFound {
			return Result{}, fmt.Errorf("get cached statistics: %w", err)
		}
	}

	gp, err := e.store.GetGodPack(ctx, gpID)
	if err != nil {
		return Result{}, fmt.Errorf("get godpack: %w", err)
	}
	results, err := e.store.ListTestResults(ctx, gpID)
	if err != nil {
		return Result{}, fmt.Errorf("list test results: %w", err)
	}

	res := Compute(gp, results)
	stats := &types.GPStatistics{
		GPID:             gpID,
		ProbabilityAlive: res.ProbabilityAlive,
		TotalTests:       res.TotalTests,
		MissTests:        res.MissTests,
		NoshowTests:      res.NoshowTests,
		ConfidenceLevel:  res.Confidence,
		LastCalculatedTS: now,
	}
	if err := e.store.UpsertGPStatistics(ctx, stats); err != nil {
		return Result{}, fmt.Errorf("upsert statistics: %w", err)
	}

	if gp.State == types.GPTesting &&
		res.ProbabilityAlive < DeadProbabilityThreshold && res.Confidence > DeadConfidenceThreshold {
		if err := e.transition(ctx, gp, types.GPDead); err != nil {
			return res, fmt.Errorf("transition to dead: %w", err)
		}
	}
	return res, nil
}

// SetAlive implements the manual TESTING -> ALIVE transition.
func (e *Engine) SetAlive(ctx context.Context, gpID int64) error {
	gp, err := e.store.GetGodPack(ctx, gpID)
	if err != nil {
		return fmt.Errorf("get godpack: %w", err)
	}
	return e.transition(ctx, gp, types.GPAlive)
}

// SetDead implements the manual TESTING -> DEAD transition.
func (e *Engine) SetDead(ctx context.Context, gpID int64) error {
	gp, err := e.store.GetGodPack(ctx, gpID)
	if err != nil {
		return fmt.Errorf("get godpack: %w", err)
	}
	return e.transition(ctx, gp, types.GPDead)
}

// SetInvalid implements the parse-time TESTING -> INVALID transition.
func (e *Engine) SetInvalid(ctx context.Context, gpID int64) error {
	gp, err := e.store.GetGodPack(ctx, gpID)
	if err != nil {
		return fmt.Errorf("get godpack: %w", err)
	}
	return e.transition(ctx, gp, types.GPInvalid)
}

func (e *Engine) transition(ctx context.Context, gp *types.GodPack, target types.GPState) error {
	if gp.State == target {
		return nil
	}
	from := gp.State
	if err := e.store.UpdateGodPackState(ctx, gp.ID, target); err != nil {
		return err
	}
	if e.bus != nil {
		e.bus.Publish(&events.Event{
			Type:        events.GodpackStateChanged,
			Severity:    events.SeverityInfo,
			Message:     fmt.Sprintf("godpack %d state %s -> %s", gp.ID, from, target),
			ActorWorker: gp.DiscoveredBy,
		})
	}
	return nil
}

func fromCached(st *types.GPStatistics) Result {
	return Result{
		GPID:             st.GPID,
		ProbabilityAlive: st.ProbabilityAlive,
		Confidence:       st.ConfidenceLevel,
		TotalTests:       st.TotalTests,
		MissTests:        st.MissTests,
		NoshowTests:      st.NoshowTests,
		Recommendation:   recommend(st.ProbabilityAlive, st.ConfidenceLevel),
	}
}
