// Package types defines the entity structs shared by every core component:
// storage, ingestion, the worker registry, the verification engine, the
// scheduler, and the query API all operate on these types rather than on
// loosely-typed maps.
package types

import "time"

// WorkerStatus is the lifecycle state of a reroll worker (spec §3, §4.3).
type WorkerStatus string

const (
	WorkerActive   WorkerStatus = "active"
	WorkerInactive WorkerStatus = "inactive"
	WorkerFarm     WorkerStatus = "farm"
	WorkerLeech    WorkerStatus = "leech"
	WorkerBanned   WorkerStatus = "banned"
	WorkerPremium  WorkerStatus = "premium"
	// WorkerWaiting is a derived, non-persisted state used only in sorted
	// views: a heartbeat is late but has not yet crossed InactiveTime.
	WorkerWaiting WorkerStatus = "waiting"
)

// Worker is a client reroller. Identity is the externally-assigned 64-bit
// worker_id; a Worker row is created on first heartbeat or explicit
// registration and is never destroyed.
type Worker struct {
	ID               int64
	DisplayName      string
	PlayerID         string // empty when unset
	Status           WorkerStatus
	TotalPacks       int64
	TotalGPs         int64
	AverageInstances float64
	LastHeartbeatTS  time.Time
	CreatedAt        time.Time
}

// HasPlayerID reports whether the worker has an external player id bound,
// the guard required by the active/farm status transitions (spec §4.3).
func (w *Worker) HasPlayerID() bool {
	return w.PlayerID != ""
}

// Subsystem is a nested sub-worker under a Worker (spec §9): a Worker may
// have zero or more, each with its own recent heartbeat and instance count.
type Subsystem struct {
	ID              string
	WorkerID        int64
	Name            string
	LastHeartbeatTS time.Time
	InstancesOnline int
}

// Heartbeat is an immutable, idempotent telemetry record (spec §3).
type Heartbeat struct {
	MessageID          string
	WorkerID           int64
	TS                 time.Time
	InstancesOnline    int
	InstancesOffline   int
	TimeRunningMinutes int
	PacksCumulative    int64
	MainActive         bool
	SelectedPacks      []string
	// Subsystems is the optional per-subsystem breakdown parsed from
	// "Sub:<name>" lines (spec §9 supplement); empty when the heartbeat
	// carries none.
	Subsystems []SubsystemSample
}

// SubsystemSample is one subsystem's instance count observed on a single
// heartbeat, prior to being folded into a persisted Subsystem row.
type SubsystemSample struct {
	Name            string
	InstancesOnline int
}

// Run is a derived, cacheable record covering a contiguous span of
// heartbeats from one worker without a gap exceeding the configured
// gap threshold (spec §3).
type Run struct {
	WorkerID       int64
	StartTS        time.Time
	EndTS          time.Time
	StartPacks     int64
	EndPacks       int64
	AvgInstances   float64
	PeakInstances  int
	PacksPerMinute float64
	MainOnFraction float64
}

// GPState is the lifecycle state of a candidate god pack (spec §3, §4.4).
type GPState string

const (
	GPTesting GPState = "TESTING"
	GPAlive   GPState = "ALIVE"
	GPDead    GPState = "DEAD"
	GPInvalid GPState = "INVALID"
	GPExpired GPState = "EXPIRED"
)

// UnknownRatio is the sentinel ratio value meaning "not yet determined".
const UnknownRatio = -1

// GodPack is a candidate pack requiring distributed verification (spec §3).
type GodPack struct {
	ID                   int64
	DiscoveryMessageID   string
	DiscoveryTS          time.Time
	PackSlotCount        int
	AccountName          string
	FriendCode           string
	ScreenshotURL        string
	State                GPState
	Ratio                int
	ExpiresAt            time.Time
	DiscoveredBy         int64 // 0 when unknown
	DiscoveredByWorkerOK bool
}

// TestKind distinguishes the two verification outcomes (spec §3, GLOSSARY).
type TestKind string

const (
	TestMiss   TestKind = "MISS"
	TestNoshow TestKind = "NOSHOW"
)

// TestResult is one worker's verification attempt against a GodPack.
type TestResult struct {
	WorkerID    int64
	GPID        int64
	TS          time.Time
	Kind        TestKind
	OpenSlots   int  // NOSHOW only
	FriendCount int  // NOSHOW only
	HasSlotData bool // true when OpenSlots/FriendCount are populated
}

// GPStatistics is the cached verification computation for one GodPack.
type GPStatistics struct {
	GPID             int64
	ProbabilityAlive float64 // 0-100
	TotalTests       int
	MissTests        int
	NoshowTests      int
	ConfidenceLevel  float64 // 0-95
	LastCalculatedTS time.Time
}

// ExpirationWarning audits a dispatched expiration notification; at most
// one per GP per rolling 24h (spec §3).
type ExpirationWarning struct {
	GPID     int64
	WarnedAt time.Time
}

// Severity classifies a SystemEvent (spec §3, §7).
type Severity string

const (
	SeverityInfo     Severity = "INFO"
	SeverityWarn     Severity = "WARN"
	SeverityCritical Severity = "CRITICAL"
)

// SystemEvent is the audit record for every mutating core operation.
type SystemEvent struct {
	ID          string
	EventType   string
	Severity    Severity
	Payload     string // serialized JSON
	ActorWorker int64  // 0 when no actor
	HasActor    bool
	TS          time.Time
}
