// Package metrics defines and registers the Prometheus metrics exposed by
// the reroll core: storage pool/query counters, worker and GP population
// gauges, ingestion and verification counters, scheduled-task latency,
// and emission-bus throughput. Exposed via Handler for scraping.
package metrics
