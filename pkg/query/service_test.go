package query

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/cuemby/reroll-core/pkg/registry"
	"github.com/cuemby/reroll-core/pkg/storage"
	"github.com/cuemby/reroll-core/pkg/types"
	"github.com/cuemby/reroll-core/pkg/verify"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openTestStore(t *testing.T) *storage.Store {
	t.Helper()
	dir := t.TempDir()
	st, err := storage.Open(context.Background(), storage.Config{
		Path:                filepath.Join(dir, "reroll.db"),
		PoolSize:            5,
		BackupRetentionDays: 30,
		MaxBackupCount:      50,
	})
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })
	return st
}

func newTestService(t *testing.T, store *storage.Store) *Service {
	t.Helper()
	reg := registry.New(store, nil, registry.DefaultConfig())
	eng := verify.New(verify.Config{Store: store})
	return New(store, reg, eng)
}

func TestUserStatsSingleRunReportsNeutralConsistency(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()
	now := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)

	w, err := store.GetOrCreateWorker(ctx, 1, "w1", now)
	require.NoError(t, err)
	require.NoError(t, store.UpsertRun(ctx, &types.Run{
		WorkerID: w.ID, StartTS: now.Add(-time.Hour), EndTS: now,
		StartPacks: 0, EndPacks: 120, AvgInstances: 2, PeakInstances: 3, PacksPerMinute: 2,
	}))

	svc := newTestService(t, store)
	res, err := svc.UserStats(ctx, w.ID, 30, now)
	require.NoError(t, err)
	assert.Equal(t, 1, res.TotalRuns)
	assert.Equal(t, 50.0, res.Consistency)
	assert.InDelta(t, 60.0, res.Efficiency, 0.0001)
}

func TestUserStatsNoRunsDefaultsEfficiencyZero(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()
	now := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)

	w, err := store.GetOrCreateWorker(ctx, 1, "w1", now)
	require.NoError(t, err)

	svc := newTestService(t, store)
	res, err := svc.UserStats(ctx, w.ID, 30, now)
	require.NoError(t, err)
	assert.Equal(t, 0, res.TotalRuns)
	assert.Equal(t, 0.0, res.Efficiency)
	assert.Equal(t, 50.0, res.Consistency)
}

func TestLeaderboardRanksDescendingByMetric(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()
	now := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)

	w1, err := store.GetOrCreateWorker(ctx, 1, "w1", now)
	require.NoError(t, err)
	w2, err := store.GetOrCreateWorker(ctx, 2, "w2", now)
	require.NoError(t, err)

	require.NoError(t, store.UpsertRun(ctx, &types.Run{
		WorkerID: w1.ID, StartTS: now.Add(-time.Hour), EndTS: now,
		StartPacks: 0, EndPacks: 60, AvgInstances: 1,
	}))
	require.NoError(t, store.UpsertRun(ctx, &types.Run{
		WorkerID: w2.ID, StartTS: now.Add(-time.Hour), EndTS: now,
		StartPacks: 0, EndPacks: 300, AvgInstances: 1,
	}))
	w1.TotalPacks = 60
	require.NoError(t, store.UpdateWorker(ctx, w1))
	w2.TotalPacks = 300
	require.NoError(t, store.UpdateWorker(ctx, w2))

	svc := newTestService(t, store)
	entries, err := svc.Leaderboard(ctx, MetricTotalPacks, 30, 10)
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, w2.ID, entries[0].WorkerID)
	assert.Equal(t, w1.ID, entries[1].WorkerID)
}

func TestLeaderboardRejectsUnknownMetric(t *testing.T) {
	store := openTestStore(t)
	svc := newTestService(t, store)
	_, err := svc.Leaderboard(context.Background(), LeaderboardMetric("bogus"), 30, 10)
	assert.Error(t, err)
}

func TestAnomaliesFlagsLongSessionAndOutliers(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()
	now := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)

	w, err := store.GetOrCreateWorker(ctx, 1, "w1", now)
	require.NoError(t, err)

	for i := 0; i < 5; i++ {
		start := now.Add(-time.Duration(i+1) * 2 * time.Hour)
		require.NoError(t, store.UpsertRun(ctx, &types.Run{
			WorkerID: w.ID, StartTS: start, EndTS: start.Add(time.Hour),
			PacksPerMinute: 10, PeakInstances: 2,
		}))
	}
	longStart := now.Add(-20 * time.Hour)
	require.NoError(t, store.UpsertRun(ctx, &types.Run{
		WorkerID: w.ID, StartTS: longStart, EndTS: longStart.Add(9 * time.Hour),
		PacksPerMinute: 100, PeakInstances: 2,
	}))

	svc := newTestService(t, store)
	anomalies, err := svc.Anomalies(ctx, w.ID, 30, now)
	require.NoError(t, err)

	var kinds []AnomalyKind
	for _, a := range anomalies {
		kinds = append(kinds, a.Kind)
	}
	assert.Contains(t, kinds, AnomalyLongSession)
	assert.Contains(t, kinds, AnomalyHighPerformance)
}

func TestExpiringReturnsWithinWindow(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()
	now := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)

	gp := &types.GodPack{DiscoveryMessageID: "m1", DiscoveryTS: now, PackSlotCount: 5,
		AccountName: "A", FriendCode: "123456789", State: types.GPAlive, Ratio: 1,
		ExpiresAt: now.Add(3 * 24 * time.Hour)}
	_, id, err := store.InsertGodPack(ctx, gp)
	require.NoError(t, err)

	svc := newTestService(t, store)
	expiring, err := svc.Expiring(ctx, 7, now)
	require.NoError(t, err)
	require.Len(t, expiring, 1)
	assert.Equal(t, id, expiring[0].ID)
}

func TestGPSummaryReflectsVerificationResult(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()
	now := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)

	gp := &types.GodPack{DiscoveryMessageID: "m1", DiscoveryTS: now, PackSlotCount: 5,
		AccountName: "A", FriendCode: "123456789", State: types.GPTesting, Ratio: -1,
		ExpiresAt: now.Add(48 * time.Hour)}
	_, id, err := store.InsertGodPack(ctx, gp)
	require.NoError(t, err)
	_, err = store.GetOrCreateWorker(ctx, 1, "w1", now)
	require.NoError(t, err)
	require.NoError(t, store.InsertTestResult(ctx, &types.TestResult{
		WorkerID: 1, GPID: id, TS: now, Kind: types.TestMiss,
	}))

	svc := newTestService(t, store)
	res, err := svc.GPSummary(ctx, id, now)
	require.NoError(t, err)
	assert.Equal(t, 1, res.TotalTests)
	assert.InDelta(t, 80.0, res.ProbabilityAlive, 0.0001)
}
