package storage

import (
	"context"
	"time"
)

// HasRecentExpirationWarning reports whether gpID has a recorded warning
// within the last 24h, the dedupe guard in spec §4.5.
func (s *Store) HasRecentExpirationWarning(ctx context.Context, gpID int64, now time.Time) (bool, error) {
	conn, err := s.pool.Acquire(ctx)
	if err != nil {
		return false, err
	}
	defer conn.Release()

	var count int
	row := conn.Raw().QueryRowContext(ctx, `
		SELECT COUNT(*) FROM expiration_warnings WHERE gp_id = ? AND warned_at >= ?`,
		gpID, now.Add(-24*time.Hour).UTC().Format(time.RFC3339Nano))
	if err := row.Scan(&count); err != nil {
		return false, err
	}
	return count > 0, nil
}

// RecordExpirationWarning inserts a warning row for gpID at now.
func (s *Store) RecordExpirationWarning(ctx context.Context, gpID int64, now time.Time) error {
	return s.pool.WithTx(ctx, func(ctx context.Context, tx *Tx) error {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO expiration_warnings (gp_id, warned_at) VALUES (?, ?)`,
			gpID, now.UTC().Format(time.RFC3339Nano),
		)
		return err
	})
}
