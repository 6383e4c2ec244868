package scheduler

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/cuemby/reroll-core/pkg/events"
	"github.com/cuemby/reroll-core/pkg/registry"
	"github.com/cuemby/reroll-core/pkg/storage"
	"github.com/cuemby/reroll-core/pkg/types"
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

func TestExpirationScanTransitionsAliveToExpired(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()
	now := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)

	gp := &types.GodPack{DiscoveryMessageID: "m1", DiscoveryTS: now.Add(-72 * time.Hour), PackSlotCount: 5,
		AccountName: "A", FriendCode: "111111111", State: types.GPAlive, Ratio: 1, ExpiresAt: now.Add(-time.Hour)}
	_, id, err := store.InsertGodPack(ctx, gp)
	require.NoError(t, err)

	var archived []int64
	archive := func(ctx context.Context, gpID int64) error {
		archived = append(archived, gpID)
		return nil
	}

	task := NewExpirationScanTask(store, nil, archive, time.Hour)
	require.NoError(t, task.Run(ctx))

	updated, err := store.GetGodPack(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, types.GPExpired, updated.State)
	assert.Equal(t, []int64{id}, archived)
}

func TestExpirationScanTransitionsTestingToDead(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()
	now := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)

	gp := &types.GodPack{DiscoveryMessageID: "m2", DiscoveryTS: now.Add(-72 * time.Hour), PackSlotCount: 5,
		AccountName: "B", FriendCode: "222222222", State: types.GPTesting, Ratio: -1, ExpiresAt: now.Add(-time.Minute)}
	_, id, err := store.InsertGodPack(ctx, gp)
	require.NoError(t, err)

	task := NewExpirationScanTask(store, nil, nil, time.Hour)
	require.NoError(t, task.Run(ctx))

	updated, err := store.GetGodPack(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, types.GPDead, updated.State)
}

func TestExpirationScanWarnsOnceWithinWindow(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()
	now := time.Now()

	gp := &types.GodPack{DiscoveryMessageID: "m3", DiscoveryTS: now, PackSlotCount: 5,
		AccountName: "C", FriendCode: "333333333", State: types.GPAlive, Ratio: 1, ExpiresAt: now.Add(30 * time.Minute)}
	_, id, err := store.InsertGodPack(ctx, gp)
	require.NoError(t, err)

	bus := events.NewBroker(nil)
	sub := bus.Subscribe()
	defer bus.Unsubscribe(sub)

	task := NewExpirationScanTask(store, bus, nil, time.Hour)
	require.NoError(t, task.Run(ctx))
	require.NoError(t, task.Run(ctx))

	warned, err := store.HasRecentExpirationWarning(ctx, id, now)
	require.NoError(t, err)
	assert.True(t, warned)
}

func TestWorkerCleanupTaskDelegatesToRegistry(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()
	now := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)

	w, err := store.GetOrCreateWorker(ctx, 1, "w1", now.Add(-2*time.Hour))
	require.NoError(t, err)
	w.PlayerID = "p1"
	w.Status = types.WorkerActive
	w.LastHeartbeatTS = now.Add(-2 * time.Hour)
	require.NoError(t, store.UpdateWorker(ctx, w))

	reg := registry.New(store, nil, registry.DefaultConfig())
	task := NewWorkerCleanupTask(reg)
	require.NoError(t, task.Run(ctx))

	updated, err := store.GetOrCreateWorker(ctx, 1, "w1", now)
	require.NoError(t, err)
	assert.Equal(t, types.WorkerInactive, updated.Status)
}

func TestStatsSnapshotTaskAveragesRecentRuns(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()
	now := time.Now()

	w, err := store.GetOrCreateWorker(ctx, 1, "w1", now)
	require.NoError(t, err)

	require.NoError(t, store.UpsertRun(ctx, &types.Run{
		WorkerID: w.ID, StartTS: now.Add(-20 * time.Minute), EndTS: now.Add(-10 * time.Minute),
		AvgInstances: 2.0,
	}))
	require.NoError(t, store.UpsertRun(ctx, &types.Run{
		WorkerID: w.ID, StartTS: now.Add(-10 * time.Minute), EndTS: now,
		AvgInstances: 4.0,
	}))

	task := NewStatsSnapshotTask(store, 30*time.Minute)
	require.NoError(t, task.Run(ctx))

	updated, err := store.GetOrCreateWorker(ctx, 1, "w1", now)
	require.NoError(t, err)
	assert.InDelta(t, 3.0, updated.AverageInstances, 0.0001)
}

func TestBackupTaskWritesScheduledBackup(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()

	task := NewBackupTask(store.Backups())
	require.NoError(t, task.Run(ctx))
}

func TestEnhancedCleanupTaskPrunesAndVacuums(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()
	now := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)

	w, err := store.GetOrCreateWorker(ctx, 1, "w1", now.AddDate(0, 0, -40))
	require.NoError(t, err)
	_, err = store.InsertHeartbeat(ctx, &types.Heartbeat{
		MessageID: "hb1", WorkerID: w.ID, TS: now.AddDate(0, 0, -40), PacksCumulative: 1, InstancesOnline: 1,
	})
	require.NoError(t, err)

	task := NewEnhancedCleanupTask(store, nil, 30)
	require.NoError(t, task.Run(ctx))

	hbs, err := store.ListHeartbeats(ctx, w.ID)
	require.NoError(t, err)
	assert.Empty(t, hbs)
}

func TestDailySyncTaskBuildsDigest(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()

	task := NewDailySyncTask(store, nil)
	require.NoError(t, task.Run(ctx))

	recorded, err := store.ListSystemEventsSince(ctx, time.Now().Add(-time.Minute))
	require.NoError(t, err)
	require.NotEmpty(t, recorded)
	assert.Equal(t, "DATA_EXPORT", recorded[len(recorded)-1].EventType)
}
