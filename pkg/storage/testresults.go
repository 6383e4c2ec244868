package storage

import (
	"context"
	"fmt"
	"time"

	"github.com/cuemby/reroll-core/pkg/types"
)

// InsertTestResult records one worker's verification attempt and marks
// the GP's cached GPStatistics stale (spec §4.4: writer paths mark the
// cache stale).
func (s *Store) InsertTestResult(ctx context.Context, tr *types.TestResult) error {
	return s.pool.WithTx(ctx, func(ctx context.Context, tx *Tx) error {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO test_results (gp_id, worker_id, ts, kind, open_slots, friend_count, has_slot_data)
			VALUES (?, ?, ?, ?, ?, ?, ?)`,
			tr.GPID, tr.WorkerID, tr.TS.UTC().Format(time.RFC3339Nano), string(tr.Kind),
			tr.OpenSlots, tr.FriendCount, boolToInt(tr.HasSlotData),
		)
		if err != nil {
			return err
		}
		_, err = tx.ExecContext(ctx, `DELETE FROM gp_statistics WHERE gp_id = ?`, tr.GPID)
		return err
	})
}

// ListTestResults returns every test result for gpID, ordered by ts, the
// input the verification engine groups by tester.
func (s *Store) ListTestResults(ctx context.Context, gpID int64) ([]*types.TestResult, error) {
	conn, err := s.pool.Acquire(ctx)
	if err != nil {
		return nil, err
	}
	defer conn.Release()

	rows, err := conn.Raw().QueryContext(ctx, `
		SELECT gp_id, worker_id, ts, kind, open_slots, friend_count, has_slot_data
		FROM test_results WHERE gp_id = ? ORDER BY ts`, gpID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*types.TestResult
	for rows.Next() {
		tr := &types.TestResult{}
		var ts, kind string
		var hasSlot int
		if err := rows.Scan(&tr.GPID, &tr.WorkerID, &ts, &kind, &tr.OpenSlots, &tr.FriendCount, &hasSlot); err != nil {
			return nil, fmt.Errorf("scan test result: %w", err)
		}
		tr.TS, _ = time.Parse(time.RFC3339Nano, ts)
		tr.Kind = types.TestKind(kind)
		tr.HasSlotData = hasSlot != 0
		out = append(out, tr)
	}
	return out, rows.Err()
}
