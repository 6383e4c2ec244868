package storage

import "errors"

var (
	// ErrNotFound is returned when a lookup by primary key finds no row.
	ErrNotFound = errors.New("storage: not found")

	// ErrPoolClosed is returned by Acquire once the pool has been closed.
	ErrPoolClosed = errors.New("storage: pool closed")

	// ErrMigrationFailed wraps any error surfaced while applying a
	// migration; callers treat this as fatal per spec §7.
	ErrMigrationFailed = errors.New("storage: migration failed")

	// ErrBackupFailed wraps any error surfaced while writing a backup.
	ErrBackupFailed = errors.New("storage: backup failed")

	// ErrIntegrityCheck is returned when a restored backup fails its
	// integrity check before being promoted to the live datastore.
	ErrIntegrityCheck = errors.New("storage: backup failed integrity check")
)
