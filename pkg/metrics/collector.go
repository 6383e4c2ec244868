package metrics

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/cuemby/reroll-core/pkg/types"
)

// PopulationSource is the slice of storage operations the collector needs.
// Defined here (rather than importing pkg/storage directly) since pkg/storage
// itself reports counters into this package; *storage.Store satisfies this
// interface without either package importing the other.
type PopulationSource interface {
	ListWorkers(ctx context.Context) ([]*types.Worker, error)
	ListGodPacksByState(ctx context.Context, state types.GPState) ([]*types.GodPack, error)
	PoolHealth() (requests, failures, exhaustions int64)
	QueryHealth() (total, failed, rollbacks int64)
}

// Collector polls the storage engine on an interval and republishes
// point-in-time population gauges, since those are cheaper to poll than to
// update on every write path. It also derives the "storage" readiness
// component from the same poll, rather than leaving storage health as a
// once-set-at-startup flag: a pool that starts exhausting connections or
// failing statements flips readiness without anyone calling UpdateComponent
// by hand.
type Collector struct {
	source PopulationSource
	stopCh chan struct{}

	lastExhaustions int64
	lastQueryTotal  int64
	lastQueryFailed int64
}

// NewCollector creates a metrics collector over source.
func NewCollector(source PopulationSource) *Collector {
	return &Collector{
		source: source,
		stopCh: make(chan struct{}),
	}
}

// Start begins collecting metrics every 15s.
func (c *Collector) Start() {
	ticker := time.NewTicker(15 * time.Second)
	go func() {
		c.collect()
		for {
			select {
			case <-ticker.C:
				c.collect()
			case <-c.stopCh:
				ticker.Stop()
				return
			}
		}
	}()
}

// Stop stops the collector.
func (c *Collector) Stop() {
	close(c.stopCh)
}

func (c *Collector) collect() {
	c.collectWorkerMetrics()
	c.collectGodPackMetrics()
	c.collectStorageHealth()
}

func (c *Collector) collectWorkerMetrics() {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	workers, err := c.source.ListWorkers(ctx)
	if err != nil {
		return
	}

	counts := make(map[types.WorkerStatus]int)
	for _, w := range workers {
		counts[w.Status]++
	}
	for _, status := range []types.WorkerStatus{
		types.WorkerActive, types.WorkerInactive, types.WorkerFarm,
		types.WorkerLeech, types.WorkerBanned, types.WorkerPremium,
	} {
		WorkersTotal.WithLabelValues(string(status)).Set(float64(counts[status]))
	}
}

func (c *Collector) collectGodPackMetrics() {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	for _, state := range []types.GPState{
		types.GPTesting, types.GPAlive, types.GPDead, types.GPInvalid, types.GPExpired,
	} {
		gps, err := c.source.ListGodPacksByState(ctx, state)
		if err != nil {
			continue
		}
		GodPacksTotal.WithLabelValues(string(state)).Set(float64(len(gps)))
	}
}

// collectStorageHealth marks "storage" unhealthy when, since the previous
// poll, the pool has recorded a fresh exhaustion event or more than half of
// the statements run failed. Both counters are cumulative, so only the
// delta since lastExhaustions/lastQueryTotal/lastQueryFailed matters.
func (c *Collector) collectStorageHealth() {
	_, _, exhaustions := c.source.PoolHealth()
	total, failed, _ := c.source.QueryHealth()

	healthy, msg := true, "ok"
	switch {
	case exhaustions > c.lastExhaustions:
		healthy = false
		msg = fmt.Sprintf("pool exhaustion event recorded (total %d)", exhaustions)
	case total > c.lastQueryTotal:
		deltaTotal := total - c.lastQueryTotal
		deltaFailed := failed - c.lastQueryFailed
		if deltaFailed*2 > deltaTotal {
			healthy = false
			msg = fmt.Sprintf("%d/%d statements failed since last check", deltaFailed, deltaTotal)
		}
	}

	c.lastExhaustions = exhaustions
	c.lastQueryTotal = total
	c.lastQueryFailed = failed

	UpdateComponent("storage", healthy, msg)
}

// HealthStatus is the JSON shape served by HealthHandler/ReadyHandler.
type HealthStatus struct {
	Status     string            `json:"status"` // "healthy", "not_ready", "unhealthy"
	Timestamp  time.Time         `json:"timestamp"`
	Components map[string]string `json:"components,omitempty"`
	Message    string            `json:"message,omitempty"`
	Version    string            `json:"version,omitempty"`
	Uptime     string            `json:"uptime,omitempty"`
	StartTime  time.Time         `json:"-"`
}

// ComponentHealth is one entry in the readiness registry. Components fall
// into two groups: "storage" is kept current by Collector.collectStorageHealth
// on every poll tick; "ingest" and "scheduler" are set once at process start
// by cmd/rerollctl, since construction succeeding is the only readiness
// signal those two have to offer.
type ComponentHealth struct {
	Name    string
	Healthy bool
	Message string
	Updated time.Time
}

type healthRegistry struct {
	mu         sync.RWMutex
	components map[string]ComponentHealth
	startTime  time.Time
	version    string
}

var registry = &healthRegistry{
	components: make(map[string]ComponentHealth),
	startTime:  time.Now(),
}

// criticalComponents gates /ready: every entry must be registered and
// healthy before the process accepts traffic (spec §6 readiness contract).
var criticalComponents = []string{"storage", "ingest", "scheduler"}

// SetVersion sets the version string for health responses.
func SetVersion(version string) {
	registry.mu.Lock()
	defer registry.mu.Unlock()
	registry.version = version
}

// RegisterComponent records a component's initial health at startup.
func RegisterComponent(name string, healthy bool, message string) {
	UpdateComponent(name, healthy, message)
}

// UpdateComponent records a component's current health, overwriting any
// prior entry for the same name.
func UpdateComponent(name string, healthy bool, message string) {
	registry.mu.Lock()
	defer registry.mu.Unlock()
	registry.components[name] = ComponentHealth{
		Name:    name,
		Healthy: healthy,
		Message: message,
		Updated: time.Now(),
	}
}

// GetHealth reports every registered component's health, "unhealthy" overall
// if any one of them is unhealthy.
func GetHealth() HealthStatus {
	registry.mu.RLock()
	defer registry.mu.RUnlock()

	status := "healthy"
	components := make(map[string]string, len(registry.components))
	for name, comp := range registry.components {
		if !comp.Healthy {
			status = "unhealthy"
			components[name] = "unhealthy: " + comp.Message
		} else {
			components[name] = "healthy"
		}
	}

	return HealthStatus{
		Status:     status,
		Timestamp:  time.Now(),
		Components: components,
		Version:    registry.version,
		Uptime:     time.Since(registry.startTime).String(),
		StartTime:  registry.startTime,
	}
}

// GetReadiness reports whether every entry in criticalComponents is both
// registered and healthy.
func GetReadiness() HealthStatus {
	registry.mu.RLock()
	defer registry.mu.RUnlock()

	status := "ready"
	message := ""
	components := make(map[string]string, len(criticalComponents))

	for _, name := range criticalComponents {
		comp, ok := registry.components[name]
		switch {
		case !ok:
			status = "not_ready"
			message = "waiting for " + name + " initialization"
			components[name] = "not registered"
		case !comp.Healthy:
			status = "not_ready"
			message = "waiting for " + name
			components[name] = "not ready: " + comp.Message
		default:
			components[name] = "ready"
		}
	}

	return HealthStatus{
		Status:     status,
		Timestamp:  time.Now(),
		Components: components,
		Message:    message,
		Version:    registry.version,
		Uptime:     time.Since(registry.startTime).String(),
		StartTime:  registry.startTime,
	}
}

// HealthHandler serves /health: 200 unless a registered component is
// unhealthy, in which case 503.
func HealthHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		health := GetHealth()
		w.Header().Set("Content-Type", "application/json")
		code := http.StatusOK
		if health.Status == "unhealthy" {
			code = http.StatusServiceUnavailable
		}
		w.WriteHeader(code)
		_ = json.NewEncoder(w).Encode(health)
	}
}

// ReadyHandler serves /ready: 200 only once every critical component is
// registered and healthy, 503 otherwise.
func ReadyHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		readiness := GetReadiness()
		w.Header().Set("Content-Type", "application/json")
		code := http.StatusOK
		if readiness.Status != "ready" {
			code = http.StatusServiceUnavailable
		}
		w.WriteHeader(code)
		_ = json.NewEncoder(w).Encode(readiness)
	}
}

// LivenessHandler serves /live: always 200 while the process is running, so
// an orchestrator never restarts a process that is merely waiting on a
// dependency (that's what /ready is for).
func LivenessHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		_ = json.NewEncoder(w).Encode(map[string]string{
			"status": "alive",
			"uptime": time.Since(registry.startTime).String(),
		})
	}
}
