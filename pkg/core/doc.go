// Package core is the composition root: it wires storage, the event bus,
// ingestion, the worker registry, the verification engine, the scheduled
// tasks, and the query service into one running instance, built the same
// way as a cluster manager composes its own dependency graph minus the
// cluster-consensus and container-runtime pieces this service has no use
// for.
package core
