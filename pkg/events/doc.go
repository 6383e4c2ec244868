// Package events implements the Emission Bus (spec §4.7): in-process
// fan-out of typed SystemEvent-shaped notifications to subscribers, with
// best-effort, non-blocking delivery bounded by a per-subscriber buffer.
// When a subscriber's buffer is full the oldest queued event is dropped to
// make room and a WARN callback fires so the caller can record a
// SystemEvent audit row without this package depending on storage.
package events
