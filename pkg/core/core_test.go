package core

import (
	"context"
	"testing"
	"time"

	"github.com/cuemby/reroll-core/pkg/config"
	"github.com/cuemby/reroll-core/pkg/events"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testConfig(t *testing.T) config.Config {
	t.Helper()
	cfg := config.Default()
	cfg.Core.StateDir = t.TempDir()
	return cfg
}

func TestNewAssemblesEveryComponent(t *testing.T) {
	c, err := New(context.Background(), Options{Config: testConfig(t)})
	require.NoError(t, err)
	defer c.Shutdown()

	assert.NotNil(t, c.Store)
	assert.NotNil(t, c.Bus)
	assert.NotNil(t, c.Ingestor)
	assert.NotNil(t, c.Registry)
	assert.NotNil(t, c.Verify)
	assert.NotNil(t, c.Query)
	assert.NotNil(t, c.Scheduler)
	assert.NotNil(t, c.Collector)
}

func TestNewRejectsInvalidConfig(t *testing.T) {
	cfg := testConfig(t)
	cfg.Core.PoolSize = 0
	_, err := New(context.Background(), Options{Config: cfg})
	assert.Error(t, err)
}

func TestStartThenShutdownSucceeds(t *testing.T) {
	c, err := New(context.Background(), Options{Config: testConfig(t)})
	require.NoError(t, err)
	c.Start()
	assert.NoError(t, c.Shutdown())
}

func TestDefaultResolverMatchesWorkerByDisplayName(t *testing.T) {
	c, err := New(context.Background(), Options{Config: testConfig(t)})
	require.NoError(t, err)
	defer c.Shutdown()

	ctx := context.Background()
	now := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	w, err := c.Store.GetOrCreateWorker(ctx, 42, "SomeTrainer", now)
	require.NoError(t, err)

	id, ok := storeNameResolver(c.Store)(ctx, "sometrainer")
	assert.True(t, ok)
	assert.Equal(t, w.ID, id)

	_, ok = storeNameResolver(c.Store)(ctx, "nobody")
	assert.False(t, ok)
}

func TestDroppedEventRecordsSystemEvent(t *testing.T) {
	cfg := testConfig(t)
	cfg.Emission.SubscriberBufferCapacity = 1
	c, err := New(context.Background(), Options{Config: cfg})
	require.NoError(t, err)
	defer c.Shutdown()

	sub := c.Bus.Subscribe()
	defer c.Bus.Unsubscribe(sub)

	c.Bus.Publish(&events.Event{Type: "FIRST"})
	c.Bus.Publish(&events.Event{Type: "SECOND"})
	time.Sleep(100 * time.Millisecond)

	since, err := c.Store.ListSystemEventsSince(context.Background(), time.Time{})
	require.NoError(t, err)
	found := false
	for _, ev := range since {
		if ev.EventType == "SUBSCRIBER_BUFFER_OVERFLOW" {
			found = true
		}
	}
	assert.True(t, found)
}

func TestWrapArchiveNilIsNoop(t *testing.T) {
	archive := wrapArchive(nil)
	assert.NoError(t, archive(context.Background(), 1))
}

func TestWrapArchiveRetriesThroughFailures(t *testing.T) {
	attempts := 0
	archive := wrapArchive(func(ctx context.Context, gpID int64) error {
		attempts++
		if attempts < 2 {
			return assert.AnError
		}
		return nil
	})
	require.NoError(t, archive(context.Background(), 7))
	assert.Equal(t, 2, attempts)
}
