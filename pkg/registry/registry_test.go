package registry

import (
	"context"
	"path/filepath"
	"testing"
	"time"

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

func TestSetStatusActiveRequiresPlayerID(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()
	now := time.Now()
	_, err := store.GetOrCreateWorker(ctx, 1, "w1", now)
	require.NoError(t, err)

	reg := New(store, nil, DefaultConfig())
	err = reg.SetStatus(ctx, 1, types.WorkerActive)
	assert.ErrorIs(t, err, ErrGuardFailed)

	w, err := store.GetWorker(ctx, 1)
	require.NoError(t, err)
	w.PlayerID = "p-1"
	require.NoError(t, store.UpdateWorker(ctx, w))

	require.NoError(t, reg.SetStatus(ctx, 1, types.WorkerActive))
	w, err = store.GetWorker(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, types.WorkerActive, w.Status)
}

func TestSetStatusLeechRequiresThresholds(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()
	_, err := store.GetOrCreateWorker(ctx, 2, "w2", time.Now())
	require.NoError(t, err)

	cfg := DefaultConfig()
	cfg.LeechEnabled = true
	cfg.LeechMinGP = 1
	cfg.LeechMinPacks = 100
	reg := New(store, nil, cfg)

	err = reg.SetStatus(ctx, 2, types.WorkerLeech)
	assert.ErrorIs(t, err, ErrGuardFailed)

	w, err := store.GetWorker(ctx, 2)
	require.NoError(t, err)
	w.TotalGPs = 1
	w.TotalPacks = 1000
	require.NoError(t, store.UpdateWorker(ctx, w))

	require.NoError(t, reg.SetStatus(ctx, 2, types.WorkerLeech))
}

func TestReconcileStalenessKicksInactiveWorker(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()
	now := time.Now()

	w, err := store.GetOrCreateWorker(ctx, 3, "w3", now)
	require.NoError(t, err)
	w.PlayerID = "p-3"
	w.Status = types.WorkerActive
	w.LastHeartbeatTS = now.Add(-2 * time.Hour)
	require.NoError(t, store.UpdateWorker(ctx, w))

	reg := New(store, nil, DefaultConfig())
	require.NoError(t, reg.ReconcileStaleness(ctx, now))

	w, err = store.GetWorker(ctx, 3)
	require.NoError(t, err)
	assert.Equal(t, types.WorkerInactive, w.Status)
}

func TestReconcileStalenessLeavesFreshWorkerActive(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()
	now := time.Now()

	w, err := store.GetOrCreateWorker(ctx, 4, "w4", now)
	require.NoError(t, err)
	w.PlayerID = "p-4"
	w.Status = types.WorkerActive
	w.LastHeartbeatTS = now.Add(-time.Minute)
	require.NoError(t, store.UpdateWorker(ctx, w))

	reg := New(store, nil, DefaultConfig())
	require.NoError(t, reg.ReconcileStaleness(ctx, now))

	w, err = store.GetWorker(ctx, 4)
	require.NoError(t, err)
	assert.Equal(t, types.WorkerActive, w.Status)
}

func TestViewStatusDerivesWaiting(t *testing.T) {
	reg := New(nil, nil, DefaultConfig())
	now := time.Now()
	w := &types.Worker{Status: types.WorkerActive, LastHeartbeatTS: now.Add(-45 * time.Minute)}
	assert.Equal(t, types.WorkerWaiting, reg.ViewStatus(w, now))

	w2 := &types.Worker{Status: types.WorkerActive, LastHeartbeatTS: now.Add(-time.Minute)}
	assert.Equal(t, types.WorkerActive, reg.ViewStatus(w2, now))
}

func TestSortedViewOrdersByStatusThenRate(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()
	now := time.Now()

	active, _ := store.GetOrCreateWorker(ctx, 10, "a", now)
	active.Status = types.WorkerActive
	require.NoError(t, store.UpdateWorker(ctx, active))

	farm, _ := store.GetOrCreateWorker(ctx, 11, "f", now)
	farm.Status = types.WorkerFarm
	require.NoError(t, store.UpdateWorker(ctx, farm))

	reg := New(store, nil, DefaultConfig())
	sorted := reg.SortedView(ctx, []*types.Worker{farm, active}, now)
	require.Len(t, sorted, 2)
	assert.Equal(t, int64(10), sorted[0].ID)
	assert.Equal(t, int64(11), sorted[1].ID)
}
