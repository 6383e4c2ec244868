package storage

import (
	"context"
	"time"
)

// PruneCounts reports how many rows were deleted per table by PruneOldData.
type PruneCounts struct {
	Heartbeats         int64
	TestResults        int64
	Runs               int64
	ExpirationWarnings int64
	SystemEvents       int64
}

// PruneOldData deletes rows older than retentionDays, the enhanced-cleanup
// task's data-retention sweep. System events are kept for twice as long as
// the other tables since they're the audit trail operators fall back to.
func (s *Store) PruneOldData(ctx context.Context, now time.Time, retentionDays int) (PruneCounts, error) {
	var counts PruneCounts
	cutoff := now.AddDate(0, 0, -retentionDays).UTC().Format(time.RFC3339Nano)
	eventCutoff := now.AddDate(0, 0, -retentionDays*2).UTC().Format(time.RFC3339Nano)

	err := s.pool.WithTx(ctx, func(ctx context.Context, tx *Tx) error {
		res, err := tx.ExecContext(ctx, "DELETE FROM heartbeats WHERE ts < ?", cutoff)
		if err != nil {
			return err
		}
		counts.Heartbeats, _ = res.RowsAffected()

		res, err = tx.ExecContext(ctx, "DELETE FROM test_results WHERE ts < ?", cutoff)
		if err != nil {
			return err
		}
		counts.TestResults, _ = res.RowsAffected()

		res, err = tx.ExecContext(ctx, "DELETE FROM runs WHERE end_ts < ?", cutoff)
		if err != nil {
			return err
		}
		counts.Runs, _ = res.RowsAffected()

		res, err = tx.ExecContext(ctx, "DELETE FROM expiration_warnings WHERE warned_at < ?", cutoff)
		if err != nil {
			return err
		}
		counts.ExpirationWarnings, _ = res.RowsAffected()

		res, err = tx.ExecContext(ctx, "DELETE FROM system_events WHERE ts < ?", eventCutoff)
		if err != nil {
			return err
		}
		counts.SystemEvents, _ = res.RowsAffected()
		return nil
	})
	return counts, err
}

// Vacuum reclaims space left by PruneOldData's deletes.
func (s *Store) Vacuum(ctx context.Context) error {
	conn, err := s.pool.Acquire(ctx)
	if err != nil {
		return err
	}
	defer conn.Release()
	_, err = conn.Raw().ExecContext(ctx, "VACUUM")
	return err
}

// Optimize runs SQLite's query-planner statistics refresh, cheap enough to
// run on every enhanced-cleanup tick alongside Vacuum.
func (s *Store) Optimize(ctx context.Context) error {
	conn, err := s.pool.Acquire(ctx)
	if err != nil {
		return err
	}
	defer conn.Release()
	_, err = conn.Raw().ExecContext(ctx, "PRAGMA optimize")
	return err
}
