/*
Package types defines the core data structures shared across the reroll
fleet coordinator: workers, heartbeats, derived runs, god packs, test
results, cached verification statistics, expiration warnings, and system
events.

# Integration points

  - pkg/storage persists every type here to the embedded relational store.
  - pkg/ingest builds Heartbeat/GodPack/TestResult values from inbound text.
  - pkg/registry drives Worker.Status through its state machine.
  - pkg/verify computes and caches GPStatistics.
  - pkg/scheduler reads/writes GodPack.State and ExpirationWarning.
  - pkg/query reads everything to answer leaderboard/anomaly/summary queries.
  - pkg/events carries SystemEvent-shaped notifications to subscribers.
*/
package types
