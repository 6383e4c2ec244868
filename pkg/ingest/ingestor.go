package ingest

import (
	"context"
	"fmt"
	"hash/fnv"
	"sync"
	"time"

	"github.com/cuemby/reroll-core/pkg/events"
	"github.com/cuemby/reroll-core/pkg/log"
	"github.com/cuemby/reroll-core/pkg/metrics"
	"github.com/cuemby/reroll-core/pkg/storage"
	"github.com/cuemby/reroll-core/pkg/types"
)

const workerShardCount = 32

// WorkerResolver resolves a name (that is neither a bare id nor a mention)
// against the worker registry, returning the worker id it maps to.
type WorkerResolver func(ctx context.Context, name string) (int64, bool)

// Ingestor is the Event Ingestor (C2): it recognizes, parses, and
// idempotently persists inbound heartbeat and GP-discovery messages.
type Ingestor struct {
	store      *storage.Store
	bus        *events.Broker
	resolver   WorkerResolver
	resetHour  int
	shardLocks [workerShardCount]sync.Mutex
}

// Config configures an Ingestor. ResetHour defaults to 6 (spec §6
// daily_reset_local_hour) when zero.
type Config struct {
	Store     *storage.Store
	Bus       *events.Broker
	Resolver  WorkerResolver
	ResetHour int
}

// New creates an Ingestor.
func New(cfg Config) *Ingestor {
	resetHour := cfg.ResetHour
	if resetHour == 0 {
		resetHour = 6
	}
	return &Ingestor{
		store:     cfg.Store,
		bus:       cfg.Bus,
		resolver:  cfg.Resolver,
		resetHour: resetHour,
	}
}

func (g *Ingestor) shardLock(workerID int64) *sync.Mutex {
	h := fnv.New32a()
	fmt.Fprintf(h, "%d", workerID)
	return &g.shardLocks[h.Sum32()%workerShardCount]
}

// IngestHeartbeat recognizes, parses, resolves identity, and persists an
// inbound heartbeat message. Parse and resolution failures are logged and
// dropped per spec §7's ingestion error policy; they are not returned as
// errors to the caller.
func (g *Ingestor) IngestHeartbeat(ctx context.Context, messageID, body string, ts time.Time) {
	parsed, err := ParseHeartbeat(body)
	if err != nil {
		log.Logger.Warn().Str("message_id", messageID).Msg("heartbeat recognition failed")
		metrics.ParseFailuresTotal.WithLabelValues("heartbeat").Inc()
		return
	}

	workerID, ok := g.resolveWorker(ctx, parsed.RawIdentity)
	if !ok {
		log.Logger.Info().Str("message_id", messageID).Str("identity", parsed.RawIdentity).
			Msg("heartbeat dropped: unknown worker")
		return
	}

	lock := g.shardLock(workerID)
	lock.Lock()
	defer lock.Unlock()

	if _, err := g.store.GetOrCreateWorker(ctx, workerID, "", ts); err != nil {
		log.WithWorkerID(workerID).Error().Err(err).Msg("get-or-create worker failed")
		return
	}

	hb := &types.Heartbeat{
		MessageID:          messageID,
		WorkerID:           workerID,
		TS:                 ts,
		InstancesOnline:    parsed.InstancesOnline,
		InstancesOffline:   parsed.InstancesOffline,
		TimeRunningMinutes: parsed.TimeRunningMinutes,
		PacksCumulative:    parsed.PacksCumulative,
		MainActive:         parsed.MainActive,
		SelectedPacks:      parsed.SelectedPacks,
	}

	inserted, err := g.store.InsertHeartbeat(ctx, hb)
	if err != nil {
		log.WithWorkerID(workerID).Error().Err(err).Msg("insert heartbeat failed")
		return
	}
	if !inserted {
		return // idempotent re-ingest (spec §4.2, §7)
	}
	metrics.HeartbeatsIngestedTotal.Inc()

	for _, sub := range parsed.Subsystems {
		subRow := &types.Subsystem{
			ID:              fmt.Sprintf("%d:%s", workerID, sub.Name),
			WorkerID:        workerID,
			Name:            sub.Name,
			LastHeartbeatTS: ts,
			InstancesOnline: sub.InstancesOnline,
		}
		if err := g.store.UpsertSubsystem(ctx, subRow); err != nil {
			log.WithWorkerID(workerID).Warn().Err(err).Str("subsystem", sub.Name).Msg("upsert subsystem failed")
		}
	}
}

// IngestGodPackDiscovery recognizes, parses, and persists an inbound
// GP-discovery message. Non-matching messages are silently ignored.
func (g *Ingestor) IngestGodPackDiscovery(ctx context.Context, messageID, body string, ts time.Time, attachmentCount int, discoveredBy int64) {
	if !RecognizeGodPackDiscovery(body, attachmentCount) {
		return
	}
	parsed, err := ParseGodPackDiscovery(body)
	if err != nil {
		log.Logger.Warn().Str("message_id", messageID).Msg("gp-discovery parse failed")
		metrics.ParseFailuresTotal.WithLabelValues("godpack").Inc()
		return
	}

	gp := &types.GodPack{
		DiscoveryMessageID: messageID,
		DiscoveryTS:        ts,
		PackSlotCount:      parsed.PackSlotCount,
		AccountName:        parsed.AccountName,
		FriendCode:         parsed.FriendCode,
		State:              types.GPTesting,
		Ratio:              parsed.Ratio,
		ExpiresAt:          ExpiresAt(ts, g.resetHour),
		DiscoveredBy:       discoveredBy,
	}

	inserted, id, err := g.store.InsertGodPack(ctx, gp)
	if err != nil {
		log.Logger.Error().Err(err).Str("message_id", messageID).Msg("insert godpack failed")
		return
	}
	if !inserted {
		return // idempotent re-ingest
	}

	if g.bus != nil {
		g.bus.Publish(&events.Event{
			Type:        events.GodpackAdded,
			Severity:    events.SeverityInfo,
			Message:     fmt.Sprintf("godpack %d discovered", id),
			ActorWorker: discoveredBy,
		})
	}
}

// resolveWorker turns a ParsedHeartbeat's raw identity into a worker id,
// resolving names against the registry via g.resolver when neither a bare
// id nor a mention.
func (g *Ingestor) resolveWorker(ctx context.Context, raw string) (int64, bool) {
	id, isID, name := ResolveIdentity(raw)
	if isID {
		return id, true
	}
	if g.resolver == nil {
		return 0, false
	}
	return g.resolver(ctx, name)
}

// RecomputeRuns derives and persists Run rows from workerID's full
// heartbeat history (spec §3: "(re)computed on demand from heartbeats").
func (g *Ingestor) RecomputeRuns(ctx context.Context, workerID int64, gapThreshold time.Duration) error {
	heartbeats, err := g.store.ListHeartbeats(ctx, workerID)
	if err != nil {
		return fmt.Errorf("list heartbeats: %w", err)
	}
	if gapThreshold <= 0 {
		gapThreshold = DefaultGapThreshold
	}
	for _, run := range DeriveRuns(workerID, heartbeats, gapThreshold) {
		if err := g.store.UpsertRun(ctx, run); err != nil {
			return fmt.Errorf("upsert run: %w", err)
		}
	}
	return nil
}
