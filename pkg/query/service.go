package query

import (
	"context"
	"fmt"
	"math"
	"sort"
	"time"

	"github.com/cuemby/reroll-core/pkg/registry"
	"github.com/cuemby/reroll-core/pkg/storage"
	"github.com/cuemby/reroll-core/pkg/types"
	"github.com/cuemby/reroll-core/pkg/verify"
)

// Service answers the read-only queries of spec §4.6 over the storage
// layer, the registry's derived view state, and the verification engine's
// cached probability model.
type Service struct {
	store *storage.Store
	reg   *registry.Registry
	eng   *verify.Engine
}

// New builds a Service. reg and eng must be non-nil.
func New(store *storage.Store, reg *registry.Registry, eng *verify.Engine) *Service {
	return &Service{store: store, reg: reg, eng: eng}
}

const activeHeartbeatWindow = 60 * time.Minute
const longSessionThreshold = 8 * time.Hour

// UserStatsResult answers the user-stats query.
type UserStatsResult struct {
	WorkerID      int64
	TotalRuns     int
	RuntimeHours  float64
	TotalPacks    int64
	AvgPPM        float64
	PeakInstances int
	Efficiency    float64 // packs per instance-hour
	Consistency   float64 // 100 - 100*sigma/mu of per-run PPM, 50 when n=1
	LastActive    time.Time
	Status        types.WorkerStatus
}

// UserStats implements spec §4.6's user-stats query over the last
// windowDays.
func (s *Service) UserStats(ctx context.Context, workerID int64, windowDays int, now time.Time) (UserStatsResult, error) {
	w, err := s.store.GetWorker(ctx, workerID)
	if err != nil {
		return UserStatsResult{}, fmt.Errorf("get worker: %w", err)
	}

	since := now.AddDate(0, 0, -windowDays)
	runs, err := s.store.ListRuns(ctx, workerID, since)
	if err != nil {
		return UserStatsResult{}, fmt.Errorf("list runs: %w", err)
	}

	res := UserStatsResult{
		WorkerID:   workerID,
		LastActive: w.LastHeartbeatTS,
		Status:     s.reg.ViewStatus(w, now),
		TotalPacks: w.TotalPacks,
	}
	if len(runs) == 0 {
		res.Consistency = 50
		return res, nil
	}

	res.TotalRuns = len(runs)
	var instanceHours, packsDelta float64
	ppms := make([]float64, 0, len(runs))
	for _, r := range runs {
		dur := r.EndTS.Sub(r.StartTS).Hours()
		res.RuntimeHours += dur
		instanceHours += r.AvgInstances * dur
		packsDelta += float64(r.EndPacks - r.StartPacks)
		if r.PeakInstances > res.PeakInstances {
			res.PeakInstances = r.PeakInstances
		}
		ppms = append(ppms, r.PacksPerMinute)
	}
	res.AvgPPM = mean(ppms)
	if instanceHours > 0 {
		res.Efficiency = packsDelta / instanceHours
	}
	res.Consistency = consistency(ppms)
	return res, nil
}

// ServerStatsResult answers the server-stats query.
type ServerStatsResult struct {
	ActiveUsersNow int
	TotalInstances int
	ServerPPMSum   float64
	AvgEfficiency  float64
	Top5           []UserStatsResult
	HourlyTimeline []HourlyBucket
}

// HourlyBucket is one hour's total packs-delta across all workers.
type HourlyBucket struct {
	HourStart time.Time
	Packs     float64
}

// ServerStats implements spec §4.6's server-stats query over the last
// windowDays.
func (s *Service) ServerStats(ctx context.Context, windowDays int, now time.Time) (ServerStatsResult, error) {
	workers, err := s.store.ListWorkers(ctx)
	if err != nil {
		return ServerStatsResult{}, fmt.Errorf("list workers: %w", err)
	}

	var res ServerStatsResult
	var effs []float64
	var userStats []UserStatsResult
	for _, w := range workers {
		if !w.LastHeartbeatTS.IsZero() && now.Sub(w.LastHeartbeatTS) <= activeHeartbeatWindow {
			res.ActiveUsersNow++
			instances, err := s.reg.RealInstanceCount(ctx, w, now)
			if err == nil {
				res.TotalInstances += instances
			}
		}
		us, err := s.UserStats(ctx, w.ID, windowDays, now)
		if err != nil {
			continue
		}
		if us.TotalRuns == 0 {
			continue
		}
		res.ServerPPMSum += us.AvgPPM
		effs = append(effs, us.Efficiency)
		userStats = append(userStats, us)
	}
	res.AvgEfficiency = mean(effs)

	sort.SliceStable(userStats, func(i, j int) bool { return userStats[i].Efficiency > userStats[j].Efficiency })
	if len(userStats) > 5 {
		userStats = userStats[:5]
	}
	res.Top5 = userStats

	since := now.AddDate(0, 0, -windowDays)
	runs, err := s.store.ListRunsAllWorkers(ctx, since)
	if err != nil {
		return ServerStatsResult{}, fmt.Errorf("list all runs: %w", err)
	}
	res.HourlyTimeline = bucketByHour(runs, since, now)
	return res, nil
}

func bucketByHour(runs []*types.Run, since, now time.Time) []HourlyBucket {
	start := since.Truncate(time.Hour)
	hours := int(now.Sub(start).Hours()) + 1
	if hours < 1 {
		hours = 1
	}
	buckets := make([]HourlyBucket, hours)
	for i := range buckets {
		buckets[i].HourStart = start.Add(time.Duration(i) * time.Hour)
	}
	for _, r := range runs {
		idx := int(r.EndTS.Sub(start).Hours())
		if idx < 0 || idx >= len(buckets) {
			continue
		}
		buckets[idx].Packs += float64(r.EndPacks - r.StartPacks)
	}
	return buckets
}

// LeaderboardMetric selects the ranking dimension for Leaderboard.
type LeaderboardMetric string

const (
	MetricEfficiency  LeaderboardMetric = "efficiency"
	MetricTotalPacks  LeaderboardMetric = "total_packs"
	MetricRuntime     LeaderboardMetric = "runtime"
	MetricConsistency LeaderboardMetric = "consistency"
)

// LeaderboardEntry is one ranked row.
type LeaderboardEntry struct {
	WorkerID int64
	Value    float64
}

// Leaderboard implements spec §4.6's leaderboard query, ranking every
// worker with at least one run in the window by metric, descending.
func (s *Service) Leaderboard(ctx context.Context, metric LeaderboardMetric, windowDays, topK int) ([]LeaderboardEntry, error) {
	switch metric {
	case MetricEfficiency, MetricTotalPacks, MetricRuntime, MetricConsistency:
	default:
		return nil, fmt.Errorf("unknown leaderboard metric %q", metric)
	}
	workers, err := s.store.ListWorkers(ctx)
	if err != nil {
		return nil, fmt.Errorf("list workers: %w", err)
	}
	now := time.Now()

	var entries []LeaderboardEntry
	for _, w := range workers {
		us, err := s.UserStats(ctx, w.ID, windowDays, now)
		if err != nil || us.TotalRuns == 0 {
			continue
		}
		var v float64
		switch metric {
		case MetricEfficiency:
			v = us.Efficiency
		case MetricTotalPacks:
			v = float64(us.TotalPacks)
		case MetricRuntime:
			v = us.RuntimeHours
		case MetricConsistency:
			v = us.Consistency
		default:
			return nil, fmt.Errorf("unknown leaderboard metric %q", metric)
		}
		entries = append(entries, LeaderboardEntry{WorkerID: w.ID, Value: v})
	}

	sort.SliceStable(entries, func(i, j int) bool { return entries[i].Value > entries[j].Value })
	if topK > 0 && len(entries) > topK {
		entries = entries[:topK]
	}
	return entries, nil
}

// AnomalyKind classifies one flagged anomaly.
type AnomalyKind string

const (
	AnomalyHighPerformance AnomalyKind = "high_performance"
	AnomalyLowPerformance  AnomalyKind = "low_performance"
	AnomalyInstanceSpike   AnomalyKind = "instance_spike"
	AnomalyLongSession     AnomalyKind = "long_session"
)

// Anomaly is one flagged deviation from a worker's own distribution.
type Anomaly struct {
	Kind     AnomalyKind
	RunStart time.Time
	RunEnd   time.Time
	Value    float64
	Mean     float64
	StdDev   float64
}

// Anomalies implements spec §4.6's anomalies query: runs more than 2
// standard deviations from the worker's own PPM/instance mean, plus any
// run longer than longSessionThreshold.
func (s *Service) Anomalies(ctx context.Context, workerID int64, windowDays int, now time.Time) ([]Anomaly, error) {
	since := now.AddDate(0, 0, -windowDays)
	runs, err := s.store.ListRuns(ctx, workerID, since)
	if err != nil {
		return nil, fmt.Errorf("list runs: %w", err)
	}
	if len(runs) < 2 {
		return nil, nil
	}

	ppms := make([]float64, len(runs))
	instances := make([]float64, len(runs))
	for i, r := range runs {
		ppms[i] = r.PacksPerMinute
		instances[i] = float64(r.PeakInstances)
	}
	ppmMean, ppmStd := meanStdDev(ppms)
	instMean, instStd := meanStdDev(instances)

	var out []Anomaly
	for _, r := range runs {
		if r.EndTS.Sub(r.StartTS) > longSessionThreshold {
			out = append(out, Anomaly{Kind: AnomalyLongSession, RunStart: r.StartTS, RunEnd: r.EndTS,
				Value: r.EndTS.Sub(r.StartTS).Hours()})
		}
		if ppmStd > 0 {
			if r.PacksPerMinute > ppmMean+2*ppmStd {
				out = append(out, Anomaly{Kind: AnomalyHighPerformance, RunStart: r.StartTS, RunEnd: r.EndTS,
					Value: r.PacksPerMinute, Mean: ppmMean, StdDev: ppmStd})
			} else if r.PacksPerMinute < ppmMean-2*ppmStd {
				out = append(out, Anomaly{Kind: AnomalyLowPerformance, RunStart: r.StartTS, RunEnd: r.EndTS,
					Value: r.PacksPerMinute, Mean: ppmMean, StdDev: ppmStd})
			}
		}
		if instStd > 0 && float64(r.PeakInstances) > instMean+2*instStd {
			out = append(out, Anomaly{Kind: AnomalyInstanceSpike, RunStart: r.StartTS, RunEnd: r.EndTS,
				Value: float64(r.PeakInstances), Mean: instMean, StdDev: instStd})
		}
	}
	return out, nil
}

// Expiring implements spec §4.6's expiring query: GPs expiring within
// [now, now+daysAhead].
func (s *Service) Expiring(ctx context.Context, daysAhead int, now time.Time) ([]*types.GodPack, error) {
	return s.store.ListExpiring(ctx, now, time.Duration(daysAhead)*24*time.Hour)
}

// GPSummaryResult answers the gp-summary query.
type GPSummaryResult struct {
	GP              *types.GodPack
	ProbabilityAlive float64
	Confidence      float64
	TotalTests      int
	Members         []verify.MemberBreakdown
	Recommendation  string
}

// GPSummary implements spec §4.6's gp-summary query, reusing the cached
// verification result rather than recomputing on every read.
func (s *Service) GPSummary(ctx context.Context, gpID int64, now time.Time) (GPSummaryResult, error) {
	gp, err := s.store.GetGodPack(ctx, gpID)
	if err != nil {
		return GPSummaryResult{}, fmt.Errorf("get godpack: %w", err)
	}
	res, err := s.eng.Evaluate(ctx, gpID, now, false)
	if err != nil {
		return GPSummaryResult{}, fmt.Errorf("evaluate: %w", err)
	}
	return GPSummaryResult{
		GP:               gp,
		ProbabilityAlive: res.ProbabilityAlive,
		Confidence:       res.Confidence,
		TotalTests:       res.TotalTests,
		Members:          res.Members,
		Recommendation:   res.Recommendation,
	}, nil
}

func mean(vs []float64) float64 {
	if len(vs) == 0 {
		return 0
	}
	var sum float64
	for _, v := range vs {
		sum += v
	}
	return sum / float64(len(vs))
}

func meanStdDev(vs []float64) (float64, float64) {
	m := mean(vs)
	if len(vs) == 0 {
		return 0, 0
	}
	var sumSq float64
	for _, v := range vs {
		d := v - m
		sumSq += d * d
	}
	return m, math.Sqrt(sumSq / float64(len(vs)))
}

// consistency is 100 - 100*sigma/mu of vs, the spec §4.6 formula; a
// single-run worker has no spread to measure, so it reports the neutral
// midpoint 50 rather than a meaningless 100.
func consistency(vs []float64) float64 {
	if len(vs) < 2 {
		return 50
	}
	m, sd := meanStdDev(vs)
	if m == 0 {
		return 0
	}
	c := 100 - 100*sd/m
	if c < 0 {
		return 0
	}
	if c > 100 {
		return 100
	}
	return c
}
