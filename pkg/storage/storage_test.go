package storage

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/cuemby/reroll-core/pkg/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	dir := t.TempDir()
	st, err := Open(context.Background(), Config{
		Path:                filepath.Join(dir, "reroll.db"),
		PoolSize:            5,
		BackupRetentionDays: 30,
		MaxBackupCount:      50,
	})
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })
	return st
}

func TestOpenAppliesMigrations(t *testing.T) {
	st := openTestStore(t)
	conn, err := st.pool.Acquire(context.Background())
	require.NoError(t, err)
	defer conn.Release()

	var version int
	err = conn.Raw().QueryRow("SELECT COALESCE(MAX(version), 0) FROM schema_version").Scan(&version)
	require.NoError(t, err)
	assert.Equal(t, 1, version)
}

func TestWorkerCreateGetUpdate(t *testing.T) {
	ctx := context.Background()
	st := openTestStore(t)

	w := &types.Worker{ID: 1, DisplayName: "alice", Status: types.WorkerInactive, CreatedAt: time.Now()}
	require.NoError(t, st.CreateWorker(ctx, w))

	got, err := st.GetWorker(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, "alice", got.DisplayName)
	assert.Equal(t, types.WorkerInactive, got.Status)

	got.Status = types.WorkerActive
	got.PlayerID = "p-1"
	got.TotalPacks = 42
	require.NoError(t, st.UpdateWorker(ctx, got))

	updated, err := st.GetWorker(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, types.WorkerActive, updated.Status)
	assert.EqualValues(t, 42, updated.TotalPacks)

	_, err = st.GetWorker(ctx, 999)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestGetOrCreateWorkerIsIdempotent(t *testing.T) {
	ctx := context.Background()
	st := openTestStore(t)
	now := time.Now()

	w1, err := st.GetOrCreateWorker(ctx, 5, "bob", now)
	require.NoError(t, err)
	assert.Equal(t, types.WorkerInactive, w1.Status)

	w1.Status = types.WorkerActive
	require.NoError(t, st.UpdateWorker(ctx, w1))

	w2, err := st.GetOrCreateWorker(ctx, 5, "bob-renamed", now)
	require.NoError(t, err)
	assert.Equal(t, types.WorkerActive, w2.Status, "second call must not reset an existing worker")
}

func TestInsertHeartbeatIsIdempotent(t *testing.T) {
	ctx := context.Background()
	st := openTestStore(t)
	require.NoError(t, st.CreateWorker(ctx, &types.Worker{ID: 1, Status: types.WorkerInactive, CreatedAt: time.Now()}))

	hb := &types.Heartbeat{
		MessageID: "msg-100", WorkerID: 1, TS: time.Now(),
		InstancesOnline: 3, InstancesOffline: 1, PacksCumulative: 10,
	}

	ins1, err := st.InsertHeartbeat(ctx, hb)
	require.NoError(t, err)
	assert.True(t, ins1)

	ins2, err := st.InsertHeartbeat(ctx, hb)
	require.NoError(t, err)
	assert.False(t, ins2, "re-ingesting the same message id must be a no-op")

	all, err := st.ListHeartbeats(ctx, 1)
	require.NoError(t, err)
	require.Len(t, all, 1)

	w, err := st.GetWorker(ctx, 1)
	require.NoError(t, err)
	assert.EqualValues(t, 10, w.TotalPacks)
	assert.WithinDuration(t, hb.TS, w.LastHeartbeatTS, time.Second)
}

func TestInsertGodPackIsIdempotent(t *testing.T) {
	ctx := context.Background()
	st := openTestStore(t)

	gp := &types.GodPack{
		DiscoveryMessageID: "gp-msg-1", DiscoveryTS: time.Now(), PackSlotCount: 5,
		State: types.GPTesting, Ratio: types.UnknownRatio, ExpiresAt: time.Now().Add(72 * time.Hour),
	}

	ins1, id1, err := st.InsertGodPack(ctx, gp)
	require.NoError(t, err)
	assert.True(t, ins1)

	ins2, id2, err := st.InsertGodPack(ctx, gp)
	require.NoError(t, err)
	assert.False(t, ins2)
	assert.Equal(t, id1, id2)
}

func TestTestResultInsertInvalidatesStatistics(t *testing.T) {
	ctx := context.Background()
	st := openTestStore(t)

	gp := &types.GodPack{
		DiscoveryMessageID: "gp-msg-2", DiscoveryTS: time.Now(), PackSlotCount: 5,
		State: types.GPTesting, Ratio: types.UnknownRatio, ExpiresAt: time.Now().Add(72 * time.Hour),
	}
	_, id, err := st.InsertGodPack(ctx, gp)
	require.NoError(t, err)

	require.NoError(t, st.UpsertGPStatistics(ctx, &types.GPStatistics{
		GPID: id, ProbabilityAlive: 90, ConfidenceLevel: 80, LastCalculatedTS: time.Now(),
	}))
	_, err = st.GetGPStatistics(ctx, id)
	require.NoError(t, err)

	require.NoError(t, st.CreateWorker(ctx, &types.Worker{ID: 7, Status: types.WorkerActive, CreatedAt: time.Now()}))
	require.NoError(t, st.InsertTestResult(ctx, &types.TestResult{
		WorkerID: 7, GPID: id, TS: time.Now(), Kind: types.TestMiss,
	}))

	_, err = st.GetGPStatistics(ctx, id)
	assert.ErrorIs(t, err, ErrNotFound, "a new test result must invalidate the cached statistics")
}

func TestExpirationWarningDedupeWindow(t *testing.T) {
	ctx := context.Background()
	st := openTestStore(t)
	now := time.Now()

	has, err := st.HasRecentExpirationWarning(ctx, 1, now)
	require.NoError(t, err)
	assert.False(t, has)

	require.NoError(t, st.RecordExpirationWarning(ctx, 1, now))

	has, err = st.HasRecentExpirationWarning(ctx, 1, now.Add(time.Hour))
	require.NoError(t, err)
	assert.True(t, has)

	has, err = st.HasRecentExpirationWarning(ctx, 1, now.Add(25*time.Hour))
	require.NoError(t, err)
	assert.False(t, has, "warning older than 24h must not count as recent")
}

func TestBackupCreateAndRestoreRoundTrip(t *testing.T) {
	ctx := context.Background()
	st := openTestStore(t)
	require.NoError(t, st.CreateWorker(ctx, &types.Worker{ID: 1, DisplayName: "alice", Status: types.WorkerActive, CreatedAt: time.Now()}))

	meta, err := st.backups.Create(ctx, KindManual)
	require.NoError(t, err)
	assert.True(t, meta.IntegrityOK)
	assert.EqualValues(t, 1, meta.TableCounts["workers"])

	require.NoError(t, st.CreateWorker(ctx, &types.Worker{ID: 2, DisplayName: "bob", Status: types.WorkerActive, CreatedAt: time.Now()}))

	require.NoError(t, st.pool.Close())
	require.NoError(t, st.backups.Restore(ctx, meta.Path))

	reopened, err := OpenPool(PoolConfig{Path: st.pool.Path(), Size: 5})
	require.NoError(t, err)
	defer reopened.Close()

	var count int
	err = reopened.db.QueryRow("SELECT COUNT(*) FROM workers").Scan(&count)
	require.NoError(t, err)
	assert.Equal(t, 1, count, "restore must roll back to the backup's pre-second-insert state")
}

func TestPoolAcquireOverflowsRatherThanBlocking(t *testing.T) {
	ctx := context.Background()
	st := openTestStore(t)

	before := st.pool.Stats()
	var conns []*Conn
	for i := 0; i < 10; i++ {
		conn, err := st.pool.Acquire(ctx)
		require.NoError(t, err)
		conns = append(conns, conn)
	}
	for _, c := range conns {
		c.Release()
	}

	stats := st.pool.Stats()
	assert.Greater(t, stats.PoolExhaustionEvents, int64(0))
	assert.Equal(t, int64(10), stats.TotalRequests-before.TotalRequests)
}
