package ingest

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
	store, err := storage.Open(context.Background(), storage.Config{
		Path:                filepath.Join(dir, "reroll.db"),
		PoolSize:            5,
		BackupRetentionDays: 30,
		MaxBackupCount:      50,
	})
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return store
}

func TestIngestHeartbeatCreatesWorker(t *testing.T) {
	store := openTestStore(t)
	ing := New(Config{Store: store})

	ts := time.Date(2025, 1, 1, 12, 0, 0, 0, time.UTC)
	body := "42\nOnline: 1,2,main\nOffline: 3\nTime: 17m Packs: 4250"

	ctx := context.Background()
	ing.IngestHeartbeat(ctx, "msg-100", body, ts)

	w, err := store.GetWorker(ctx, 42)
	require.NoError(t, err)
	assert.True(t, w.LastHeartbeatTS.Equal(ts))
	assert.EqualValues(t, 4250, w.TotalPacks)

	hbs, err := store.ListHeartbeats(ctx, 42)
	require.NoError(t, err)
	require.Len(t, hbs, 1)
	assert.Equal(t, 3, hbs[0].InstancesOnline)
	assert.Equal(t, 1, hbs[0].InstancesOffline)
	assert.True(t, hbs[0].MainActive)
}

func TestIngestHeartbeatIdempotentReingest(t *testing.T) {
	store := openTestStore(t)
	ing := New(Config{Store: store})
	ctx := context.Background()

	ts := time.Date(2025, 1, 1, 12, 0, 0, 0, time.UTC)
	body := "42\nOnline: 1,2,main\nOffline: 3\nTime: 17m Packs: 4250"

	ing.IngestHeartbeat(ctx, "msg-100", body, ts)
	ing.IngestHeartbeat(ctx, "msg-100", body, ts)

	hbs, err := store.ListHeartbeats(ctx, 42)
	require.NoError(t, err)
	assert.Len(t, hbs, 1)
}

func TestIngestHeartbeatDropsOnUnresolvableName(t *testing.T) {
	store := openTestStore(t)
	ing := New(Config{Store: store, Resolver: func(ctx context.Context, name string) (int64, bool) {
		return 0, false
	}})
	ctx := context.Background()

	body := "UnknownFarmer\nOnline: 1\nOffline:\nTime: 5m Packs: 10"
	ing.IngestHeartbeat(ctx, "msg-200", body, time.Now())

	workers, err := store.ListWorkers(ctx)
	require.NoError(t, err)
	assert.Empty(t, workers)
}

func TestIngestGodPackDiscoveryPersistsAndIsIdempotent(t *testing.T) {
	store := openTestStore(t)
	ing := New(Config{Store: store})
	ctx := context.Background()

	ts := time.Date(2025, 1, 1, 10, 0, 0, 0, time.UTC)
	body := "God pack found\nAce (123456789) [3P] [2/5]"

	ing.IngestGodPackDiscovery(ctx, "msg-900", body, ts, 1, 42)
	ing.IngestGodPackDiscovery(ctx, "msg-900", body, ts, 1, 42)

	gps, err := store.ListGodPacksByState(ctx, types.GPTesting)
	require.NoError(t, err)
	require.Len(t, gps, 1)
	assert.Equal(t, 3, gps[0].PackSlotCount)
	assert.Equal(t, 2, gps[0].Ratio)
	assert.Equal(t, time.Date(2025, 1, 5, 6, 0, 0, 0, time.UTC), gps[0].ExpiresAt)
}

func TestIngestGodPackDiscoveryIgnoresNonMatchingMessages(t *testing.T) {
	store := openTestStore(t)
	ing := New(Config{Store: store})
	ctx := context.Background()

	ing.IngestGodPackDiscovery(ctx, "msg-901", "just a regular chat message", time.Now(), 1, 42)

	gps, err := store.ListGodPacksByState(ctx, types.GPTesting)
	require.NoError(t, err)
	assert.Empty(t, gps)
}

func TestRecomputeRunsDerivesFromHeartbeatHistory(t *testing.T) {
	store := openTestStore(t)
	ing := New(Config{Store: store})
	ctx := context.Background()

	base := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	ing.IngestHeartbeat(ctx, "m1", "7\nOnline: 1\nOffline:\nTime: 0m Packs: 100", base)
	ing.IngestHeartbeat(ctx, "m2", "7\nOnline: 1\nOffline:\nTime: 30m Packs: 150", base.Add(30*time.Minute))

	require.NoError(t, ing.RecomputeRuns(ctx, 7, DefaultGapThreshold))

	runs, err := store.ListRuns(ctx, 7, base.Add(-time.Hour))
	require.NoError(t, err)
	require.Len(t, runs, 1)
	assert.EqualValues(t, 100, runs[0].StartPacks)
	assert.EqualValues(t, 150, runs[0].EndPacks)
}
