package registry

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/cuemby/reroll-core/pkg/events"
	"github.com/cuemby/reroll-core/pkg/log"
	"github.com/cuemby/reroll-core/pkg/storage"
	"github.com/cuemby/reroll-core/pkg/types"
)

// ErrGuardFailed is returned when a requested status transition's guard
// (spec §4.3's transition table) is not satisfied.
var ErrGuardFailed = errors.New("registry: status transition guard failed")

// Config holds the Registry group of spec §6's configuration record.
type Config struct {
	HeartbeatRateMin      int     // default 30
	InactiveTimeMin       int     // default 61
	InactiveInstanceCount int     // default 0
	InactivePPMThreshold  float64 // default 0.1
	LeechEnabled          bool    // default false
	LeechMinGP            int64   // default 1
	LeechMinPacks         int64   // default 10000
}

// DefaultConfig returns the spec-documented defaults.
func DefaultConfig() Config {
	return Config{
		HeartbeatRateMin:      30,
		InactiveTimeMin:       61,
		InactiveInstanceCount: 0,
		InactivePPMThreshold:  0.1,
		LeechEnabled:          false,
		LeechMinGP:            1,
		LeechMinPacks:         10000,
	}
}

// Registry is the Worker Registry (C3).
type Registry struct {
	store *storage.Store
	bus   *events.Broker
	cfg   Config
}

// New creates a Registry.
func New(store *storage.Store, bus *events.Broker, cfg Config) *Registry {
	return &Registry{store: store, bus: bus, cfg: cfg}
}

// heartbeatGrace is the +1 minute tolerance the transition table applies to
// HeartbeatRateMin in every guard that references it.
func (r *Registry) heartbeatGrace() time.Duration {
	return time.Duration(r.cfg.HeartbeatRateMin+1) * time.Minute
}

func (r *Registry) inactiveTime() time.Duration {
	return time.Duration(r.cfg.InactiveTimeMin) * time.Minute
}

// SetStatus applies an explicit status transition, enforcing the guards
// spec §4.3 attaches to each target status. Any status may transition to
// any other; only the destination's own guard is checked ("from: any").
func (r *Registry) SetStatus(ctx context.Context, workerID int64, target types.WorkerStatus) error {
	w, err := r.store.GetWorker(ctx, workerID)
	if err != nil {
		return fmt.Errorf("get worker: %w", err)
	}

	switch target {
	case types.WorkerActive, types.WorkerFarm:
		if !w.HasPlayerID() {
			return fmt.Errorf("%w: %s requires a bound player id", ErrGuardFailed, target)
		}
	case types.WorkerLeech:
		if !r.cfg.LeechEnabled {
			return fmt.Errorf("%w: leech status disabled globally", ErrGuardFailed)
		}
		if w.TotalGPs < r.cfg.LeechMinGP || w.TotalPacks < r.cfg.LeechMinPacks {
			return fmt.Errorf("%w: worker below leech thresholds", ErrGuardFailed)
		}
	case types.WorkerInactive, types.WorkerBanned, types.WorkerPremium:
		// no guard
	case types.WorkerWaiting:
		return fmt.Errorf("%w: waiting is derived, not settable", ErrGuardFailed)
	default:
		return fmt.Errorf("%w: unknown status %q", ErrGuardFailed, target)
	}

	if w.Status == target {
		return nil
	}
	from := w.Status
	w.Status = target
	if err := r.store.UpdateWorker(ctx, w); err != nil {
		return fmt.Errorf("update worker: %w", err)
	}

	if r.bus != nil {
		r.bus.Publish(&events.Event{
			Type:        events.UserStatusChanged,
			Severity:    events.SeverityInfo,
			Message:     fmt.Sprintf("worker %d status %s -> %s", workerID, from, target),
			ActorWorker: workerID,
		})
	}
	return nil
}

// ReconcileStaleness scans every active worker for the heartbeat- and
// throughput-staleness guards of spec §4.3 and auto-kicks matching workers
// to inactive. Modeled on a node-down reconciliation loop (heartbeat-age
// comparison driving a state write), generalized from a binary up/down
// check to the richer active/waiting/inactive ladder.
func (r *Registry) ReconcileStaleness(ctx context.Context, now time.Time) error {
	workers, err := r.store.ListWorkers(ctx)
	if err != nil {
		return fmt.Errorf("list workers: %w", err)
	}

	for _, w := range workers {
		if w.Status != types.WorkerActive {
			continue
		}
		if err := r.reconcileOne(ctx, w, now); err != nil {
			log.WithWorkerID(w.ID).Error().Err(err).Msg("staleness reconcile failed")
		}
	}
	return nil
}

func (r *Registry) reconcileOne(ctx context.Context, w *types.Worker, now time.Time) error {
	if w.LastHeartbeatTS.IsZero() {
		return nil
	}
	age := now.Sub(w.LastHeartbeatTS)

	if age > r.inactiveTime() {
		return r.kick(ctx, w, "no heartbeat beyond inactive_time_min")
	}
	if age <= r.heartbeatGrace() {
		return nil
	}

	instances, err := r.RealInstanceCount(ctx, w, now)
	if err != nil {
		return err
	}
	if instances <= r.cfg.InactiveInstanceCount {
		return r.kick(ctx, w, "instance count at or below inactive_instance_count")
	}

	ppm, ok, err := r.recentPacksPerMinute(ctx, w.ID)
	if err != nil {
		return err
	}
	if ok && ppm > 0 && ppm < r.cfg.InactivePPMThreshold {
		return r.kick(ctx, w, "packs-per-minute below inactive_ppm_threshold")
	}
	return nil
}

func (r *Registry) kick(ctx context.Context, w *types.Worker, reason string) error {
	from := w.Status
	w.Status = types.WorkerInactive
	if err := r.store.UpdateWorker(ctx, w); err != nil {
		return fmt.Errorf("auto-kick update: %w", err)
	}
	log.WithWorkerID(w.ID).Warn().Str("reason", reason).Msg("worker auto-kicked to inactive")
	if r.bus != nil {
		r.bus.Publish(&events.Event{
			Type:        events.UserStatusChanged,
			Severity:    events.SeverityWarn,
			Message:     fmt.Sprintf("worker %d auto-kicked %s -> inactive: %s", w.ID, from, reason),
			ActorWorker: w.ID,
		})
	}
	return nil
}

// RealInstanceCount is spec §4.3's active-worker instance formula:
// hb_instances + the sum of subsystem instances with a heartbeat within
// HeartbeatRate+1 minutes. Zero for any worker not currently active.
func (r *Registry) RealInstanceCount(ctx context.Context, w *types.Worker, now time.Time) (int, error) {
	if w.Status != types.WorkerActive {
		return 0, nil
	}
	recent, err := r.store.RecentHeartbeats(ctx, w.ID, 1)
	if err != nil {
		return 0, fmt.Errorf("recent heartbeats: %w", err)
	}
	total := 0
	if len(recent) == 1 && now.Sub(recent[0].TS) <= r.heartbeatGrace() {
		total = recent[0].InstancesOnline
	}
	subTotal, err := r.store.RecentSubsystemInstances(ctx, w.ID, now, r.heartbeatGrace())
	if err != nil {
		return 0, fmt.Errorf("recent subsystem instances: %w", err)
	}
	return total + subTotal, nil
}

// recentPacksPerMinute derives a short-term rate from the two most recent
// heartbeats' cumulative pack counters, rather than requiring a
// precomputed Run to exist.
func (r *Registry) recentPacksPerMinute(ctx context.Context, workerID int64) (float64, bool, error) {
	hbs, err := r.store.RecentHeartbeats(ctx, workerID, 2)
	if err != nil {
		return 0, false, fmt.Errorf("recent heartbeats: %w", err)
	}
	if len(hbs) < 2 {
		return 0, false, nil
	}
	newer, older := hbs[0], hbs[1]
	minutes := newer.TS.Sub(older.TS).Minutes()
	if minutes <= 0 {
		return 0, false, nil
	}
	delta := newer.PacksCumulative - older.PacksCumulative
	if delta < 0 {
		return 0, false, nil
	}
	return float64(delta) / minutes, true, nil
}

// statusPriority implements spec §4.3's sort tie-break order: active <
// farm < leech < waiting < inactive. Banned/premium are not named in the
// table; they sort after inactive as the least-operationally-relevant
// tier.
func statusPriority(s types.WorkerStatus) int {
	switch s {
	case types.WorkerActive:
		return 0
	case types.WorkerFarm:
		return 1
	case types.WorkerLeech:
		return 2
	case types.WorkerWaiting:
		return 3
	case types.WorkerInactive:
		return 4
	default:
		return 5
	}
}

// ViewStatus returns w's status for sorted-view purposes, substituting the
// derived "waiting" state for an active worker whose heartbeat has aged
// past HeartbeatRate+1 but not yet past InactiveTimeMin.
func (r *Registry) ViewStatus(w *types.Worker, now time.Time) types.WorkerStatus {
	if w.Status != types.WorkerActive || w.LastHeartbeatTS.IsZero() {
		return w.Status
	}
	age := now.Sub(w.LastHeartbeatTS)
	if age > r.heartbeatGrace() && age <= r.inactiveTime() {
		return types.WorkerWaiting
	}
	return w.Status
}

// SortedView returns workers ordered per spec §4.3's tie-break: status
// priority ascending, then packs_per_min descending.
func (r *Registry) SortedView(ctx context.Context, workers []*types.Worker, now time.Time) []*types.Worker {
	ppm := make(map[int64]float64, len(workers))
	for _, w := range workers {
		rate, ok, err := r.recentPacksPerMinute(ctx, w.ID)
		if err == nil && ok {
			ppm[w.ID] = rate
		}
	}

	out := make([]*types.Worker, len(workers))
	copy(out, workers)
	sort.SliceStable(out, func(i, j int) bool {
		pi, pj := statusPriority(r.ViewStatus(out[i], now)), statusPriority(r.ViewStatus(out[j], now))
		if pi != pj {
			return pi < pj
		}
		return ppm[out[i].ID] > ppm[out[j].ID]
	})
	return out
}
