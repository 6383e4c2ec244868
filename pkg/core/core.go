package core

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/cuemby/reroll-core/pkg/config"
	"github.com/cuemby/reroll-core/pkg/events"
	"github.com/cuemby/reroll-core/pkg/ingest"
	"github.com/cuemby/reroll-core/pkg/log"
	"github.com/cuemby/reroll-core/pkg/metrics"
	"github.com/cuemby/reroll-core/pkg/query"
	"github.com/cuemby/reroll-core/pkg/ratelimit"
	"github.com/cuemby/reroll-core/pkg/registry"
	"github.com/cuemby/reroll-core/pkg/scheduler"
	"github.com/cuemby/reroll-core/pkg/storage"
	"github.com/cuemby/reroll-core/pkg/types"
	"github.com/cuemby/reroll-core/pkg/verify"
	"github.com/google/uuid"
)

// ArchiveFunc performs the external-thread archive call of spec §4.5 for
// a godpack that has just expired or died. Callers outside this module
// supply the concrete implementation (forum/chat API, out of scope here);
// a nil ArchiveFunc makes archiving a no-op.
type ArchiveFunc func(ctx context.Context, gpID int64) error

// Options configures New. Archive and Resolver are optional collaborators
// supplied by the embedding process; every other dependency is built from
// Config.
type Options struct {
	Config   config.Config
	Archive  ArchiveFunc
	Resolver ingest.WorkerResolver
}

// Core holds every live component of one running instance.
type Core struct {
	cfg config.Config

	Store     *storage.Store
	Bus       *events.Broker
	Ingestor  *ingest.Ingestor
	Registry  *registry.Registry
	Verify    *verify.Engine
	Query     *query.Service
	Scheduler *scheduler.Scheduler
	Collector *metrics.Collector
}

// New validates cfg, opens the datastore, and assembles every component:
// build each dependency, then the scheduled tasks that depend on all of
// them, then assemble the struct. It starts the event broker but not the
// scheduler or the collector; call Start for those.
func New(ctx context.Context, opts Options) (*Core, error) {
	cfg := opts.Config
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("core: invalid configuration: %w", err)
	}

	if err := os.MkdirAll(cfg.Core.StateDir, 0755); err != nil {
		return nil, fmt.Errorf("core: create state dir: %w", err)
	}

	dbPath := filepath.Join(cfg.Core.StateDir, "reroll.db")
	store, err := storage.Open(ctx, storage.Config{
		Path:                dbPath,
		PoolSize:            cfg.Core.PoolSize,
		BackupRetentionDays: cfg.Retention.BackupRetentionDays,
		MaxBackupCount:      cfg.Retention.MaxBackupCount,
	})
	if err != nil {
		return nil, fmt.Errorf("core: open storage: %w", err)
	}

	bus := events.NewBrokerWithBufferSize(droppedEventWarner(store), cfg.Emission.SubscriberBufferCapacity)
	bus.Start()

	resolver := opts.Resolver
	if resolver == nil {
		resolver = storeNameResolver(store)
	}
	ingestor := ingest.New(ingest.Config{
		Store:     store,
		Bus:       bus,
		Resolver:  resolver,
		ResetHour: cfg.Scheduling.DailyResetLocalHour,
	})

	reg := registry.New(store, bus, registry.Config{
		HeartbeatRateMin:      cfg.Registry.HeartbeatRateMin,
		InactiveTimeMin:       cfg.Registry.InactiveTimeMin,
		InactiveInstanceCount: cfg.Registry.InactiveInstanceCount,
		InactivePPMThreshold:  cfg.Registry.InactivePPMThreshold,
		LeechEnabled:          cfg.Registry.LeechEnabled,
		LeechMinGP:            cfg.Registry.LeechMinGP,
		LeechMinPacks:         cfg.Registry.LeechMinPacks,
	})

	eng := verify.New(verify.Config{
		Store:    store,
		Bus:      bus,
		CacheTTL: cfg.ProbabilityCacheTTL(),
	})

	svc := query.New(store, reg, eng)

	archive := wrapArchive(opts.Archive)
	tasks := []*scheduler.Task{
		scheduler.NewExpirationScanTask(store, bus, archive, cfg.ExpirationWarningWindow()),
		scheduler.NewWorkerCleanupTask(reg),
		scheduler.NewStatsSnapshotTask(store, cfg.StatsSnapshotInterval()),
		scheduler.NewBackupTask(store.Backups()),
		scheduler.NewEnhancedCleanupTask(store, bus, cfg.Retention.BackupRetentionDays),
		scheduler.NewDailySyncTask(store, bus),
	}

	return &Core{
		cfg:       cfg,
		Store:     store,
		Bus:       bus,
		Ingestor:  ingestor,
		Registry:  reg,
		Verify:    eng,
		Query:     svc,
		Scheduler: scheduler.New(tasks),
		Collector: metrics.NewCollector(store),
	}, nil
}

// Start launches the scheduled-task goroutines and the population-metrics
// collector. The event broker is already running by the time New returns.
func (c *Core) Start() {
	c.Scheduler.Start()
	c.Collector.Start()
}

// Shutdown stops the collector, then the scheduler, then the event broker,
// then closes the datastore, in that order.
func (c *Core) Shutdown() error {
	c.Collector.Stop()
	c.Scheduler.Stop()
	c.Bus.Stop()
	if err := c.Store.Close(); err != nil {
		return fmt.Errorf("core: close store: %w", err)
	}
	return nil
}

// wrapArchive retries fn through ratelimit.Retry with the spec §4.5
// defaults (3 attempts, 1s then 2s backoff, honoring rate-limit hints). A
// nil fn becomes a no-op so the expiration-scan task always has a callable
// ArchiveFunc.
func wrapArchive(fn ArchiveFunc) scheduler.ArchiveFunc {
	if fn == nil {
		return func(ctx context.Context, gpID int64) error { return nil }
	}
	return func(ctx context.Context, gpID int64) error {
		return ratelimit.Retry(ctx, nil, ratelimit.DefaultMaxAttempts, ratelimit.DefaultBaseDelay,
			func(ctx context.Context) error { return fn(ctx, gpID) })
	}
}

// droppedEventWarner records a WARN SystemEvent whenever the emission bus
// has to discard a queued event to make room for a new one (spec §4.7/§7),
// without pkg/events depending on pkg/storage.
func droppedEventWarner(store *storage.Store) events.DropHandler {
	return func(sub events.Subscriber, dropped *events.Event) {
		body, _ := json.Marshal(map[string]string{
			"dropped_event_type": string(dropped.Type),
			"dropped_event_id":   dropped.ID,
		})
		err := store.RecordSystemEvent(context.Background(), &types.SystemEvent{
			ID:        uuid.New().String(),
			EventType: "SUBSCRIBER_BUFFER_OVERFLOW",
			Severity:  types.SeverityWarn,
			Payload:   string(body),
			TS:        time.Now(),
		})
		if err != nil {
			log.WithComponent("core").Error().Err(err).Msg("record dropped-event system event failed")
		}
	}
}

// storeNameResolver resolves a worker name against the registry by a
// linear scan of ListWorkers, the fallback used when the embedding process
// supplies no faster lookup (e.g. an in-memory name index).
func storeNameResolver(store *storage.Store) ingest.WorkerResolver {
	return func(ctx context.Context, name string) (int64, bool) {
		workers, err := store.ListWorkers(ctx)
		if err != nil {
			return 0, false
		}
		for _, w := range workers {
			if strings.EqualFold(w.DisplayName, name) {
				return w.ID, true
			}
		}
		return 0, false
	}
}
