// Package query is the read-only Query & Aggregation API (spec §4.6):
// user-stats, server-stats, leaderboard, anomalies, expiring, and
// gp-summary, implemented as plain methods on Service over C1's storage
// so any transport (the thin HTTP handlers here, or an out-of-scope chat
// front-end) can call them directly.
package query
