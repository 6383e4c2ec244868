// Package ingest is the Event Ingestor (spec §4.2): recognizers and
// parsers for inbound heartbeat and GP-discovery messages, idempotent
// persistence keyed on message id, worker-name resolution against the
// registry, and run derivation from a worker's heartbeat history.
package ingest
