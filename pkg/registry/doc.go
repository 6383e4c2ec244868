// Package registry is the Worker Registry (spec §4.3): the status state
// machine (active/inactive/farm/leech/banned/premium plus the derived
// "waiting" view state), heartbeat-staleness auto-kick, and the
// real-instance-count and sort-priority formulas consumed by queries.
package registry
