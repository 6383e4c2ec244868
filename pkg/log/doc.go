// Package log provides structured, leveled logging for the reroll core
// using zerolog: a single global logger configured via Init, plus
// component- and entity-tagged child loggers for the storage, registry,
// verification, scheduler, and ingestion packages.
package log
