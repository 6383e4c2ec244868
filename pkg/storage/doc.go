// Package storage is the embedded relational storage engine (spec §4.1): a
// pooled connection handle over a single SQLite file, a scoped-transaction
// helper, a versioned migration runner, per-entity CRUD, query-timing
// counters, and a backup manager.
package storage
