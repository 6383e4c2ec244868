// Package scheduler hosts the named background tasks of spec §5: stats
// snapshot, worker cleanup, backup, enhanced cleanup, expiration scan,
// and daily sync. Each task runs on its own ticker; overlapping ticks are
// suppressed with a WARN log rather than queued, and a failing task backs
// off exponentially (60s-1h) before its next attempt.
package scheduler
