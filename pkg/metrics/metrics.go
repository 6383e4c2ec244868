package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Storage pool metrics (spec §4.1)
	PoolRequestsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "reroll_pool_requests_total",
			Help: "Total number of connection pool acquire attempts",
		},
	)

	PoolExhaustionEventsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "reroll_pool_exhaustion_events_total",
			Help: "Total number of times the pool issued an overflow connection",
		},
	)

	PoolDeadConnReplacedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "reroll_pool_dead_conn_replaced_total",
			Help: "Total number of dead connections replaced on acquire",
		},
	)

	QueryTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "reroll_query_total",
			Help: "Total number of statements executed",
		},
	)

	QueryFailedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "reroll_query_failed_total",
			Help: "Total number of statements that returned an error",
		},
	)

	QuerySlowTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "reroll_query_slow_total",
			Help: "Total number of statements slower than 1s",
		},
	)

	QueryRollbackTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "reroll_query_rollback_total",
			Help: "Total number of transactions rolled back",
		},
	)

	// Worker registry metrics (spec §4.3)
	WorkersTotal = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "reroll_workers_total",
			Help: "Total number of workers by status",
		},
		[]string{"status"},
	)

	// Ingestion metrics (spec §4.2)
	HeartbeatsIngestedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "reroll_heartbeats_ingested_total",
			Help: "Total number of heartbeats persisted",
		},
	)

	ParseFailuresTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "reroll_parse_failures_total",
			Help: "Total number of inbound messages that failed recognition/parsing, by kind",
		},
		[]string{"kind"},
	)

	// GP / verification metrics (spec §4.4)
	GodPacksTotal = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "reroll_godpacks_total",
			Help: "Total number of god packs by state",
		},
		[]string{"state"},
	)

	TestResultsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "reroll_test_results_total",
			Help: "Total number of verification test results recorded, by kind",
		},
		[]string{"kind"},
	)

	VerificationDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "reroll_verification_duration_seconds",
			Help:    "Time taken to (re)compute GP statistics",
			Buckets: prometheus.DefBuckets,
		},
	)

	// Expiration scheduler metrics (spec §4.5)
	ExpirationWarningsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "reroll_expiration_warnings_total",
			Help: "Total number of expiration warnings recorded",
		},
	)

	ExternalArchiveFailuresTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "reroll_external_archive_failures_total",
			Help: "Total number of external-thread archive attempts exhausted after retry",
		},
	)

	// Scheduled task metrics (spec §5)
	ScheduledTaskDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "reroll_scheduled_task_duration_seconds",
			Help:    "Time taken by a scheduled task run, by task name",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"task"},
	)

	ScheduledTaskFailuresTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "reroll_scheduled_task_failures_total",
			Help: "Total number of scheduled task runs that returned an error, by task name",
		},
		[]string{"task"},
	)

	ScheduledTaskSkippedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "reroll_scheduled_task_skipped_total",
			Help: "Total number of scheduled task ticks skipped due to re-entrancy guard, by task name",
		},
		[]string{"task"},
	)

	// Backup metrics (spec §4.1)
	BackupsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "reroll_backups_total",
			Help: "Total number of backups created, by kind",
		},
		[]string{"kind"},
	)

	BackupFailuresTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "reroll_backup_failures_total",
			Help: "Total number of backup attempts that failed, by kind",
		},
		[]string{"kind"},
	)

	// Emission bus metrics (spec §4.7)
	EventsPublishedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "reroll_events_published_total",
			Help: "Total number of events published to the bus, by type",
		},
		[]string{"type"},
	)

	EventsDroppedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "reroll_events_dropped_total",
			Help: "Total number of events dropped due to a full subscriber buffer",
		},
	)

	// Query API metrics (spec §4.6)
	APIRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "reroll_api_requests_total",
			Help: "Total number of query API requests, by route and status",
		},
		[]string{"route", "status"},
	)

	APIRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "reroll_api_request_duration_seconds",
			Help:    "Query API request duration in seconds, by route",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"route"},
	)
)

func init() {
	prometheus.MustRegister(
		PoolRequestsTotal,
		PoolExhaustionEventsTotal,
		PoolDeadConnReplacedTotal,
		QueryTotal,
		QueryFailedTotal,
		QuerySlowTotal,
		QueryRollbackTotal,
		WorkersTotal,
		HeartbeatsIngestedTotal,
		ParseFailuresTotal,
		GodPacksTotal,
		TestResultsTotal,
		VerificationDuration,
		ExpirationWarningsTotal,
		ExternalArchiveFailuresTotal,
		ScheduledTaskDuration,
		ScheduledTaskFailuresTotal,
		ScheduledTaskSkippedTotal,
		BackupsTotal,
		BackupFailuresTotal,
		EventsPublishedTotal,
		EventsDroppedTotal,
		APIRequestsTotal,
		APIRequestDuration,
	)
}

// Handler returns the Prometheus HTTP handler.
func Handler() http.Handler {
	return promhttp.Handler()
}

// Timer is a helper for timing operations.
type Timer struct {
	start time.Time
}

// NewTimer creates a new timer.
func NewTimer() *Timer {
	return &Timer{start: time.Now()}
}

// ObserveDuration records the duration to a histogram.
func (t *Timer) ObserveDuration(histogram prometheus.Histogram) {
	histogram.Observe(time.Since(t.start).Seconds())
}

// ObserveDurationVec records the duration to a histogram vec with labels.
func (t *Timer) ObserveDurationVec(histogram prometheus.ObserverVec, labels ...string) {
	histogram.WithLabelValues(labels...).Observe(time.Since(t.start).Seconds())
}

// Duration returns the elapsed time since the timer started.
func (t *Timer) Duration() time.Duration {
	return time.Since(t.start)
}
