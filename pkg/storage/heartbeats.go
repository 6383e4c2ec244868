package storage

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/cuemby/reroll-core/pkg/types"
)

// InsertHeartbeat persists hb keyed on its message id. Re-ingestion of an
// already-seen message id is a no-op and reports inserted=false, the
// idempotency contract required by spec §4.2 and §7.
func (s *Store) InsertHeartbeat(ctx context.Context, hb *types.Heartbeat) (inserted bool, err error) {
	err = s.pool.WithTx(ctx, func(ctx context.Context, tx *Tx) error {
		res, err := tx.ExecContext(ctx, `
			INSERT INTO heartbeats (message_id, worker_id, ts, instances_online, instances_offline,
				time_running_minutes, packs_cumulative, main_active, selected_packs)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
			ON CONFLICT(message_id) DO NOTHING`,
			hb.MessageID, hb.WorkerID, hb.TS.UTC().Format(time.RFC3339Nano), hb.InstancesOnline,
			hb.InstancesOffline, hb.TimeRunningMinutes, hb.PacksCumulative, boolToInt(hb.MainActive),
			strings.Join(hb.SelectedPacks, ","),
		)
		if err != nil {
			return err
		}
		n, err := res.RowsAffected()
		if err != nil {
			return err
		}
		inserted = n > 0
		if !inserted {
			return nil
		}

		return s.refreshWorkerOnHeartbeat(ctx, tx, hb)
	})
	return inserted, err
}

// refreshWorkerOnHeartbeat advances last_heartbeat_ts/total_packs if this
// heartbeat is newer/higher than what is currently recorded, keeping the
// invariant last_heartbeat_ts = max over its heartbeats (spec §8).
func (s *Store) refreshWorkerOnHeartbeat(ctx context.Context, tx *Tx, hb *types.Heartbeat) error {
	_, err := tx.ExecContext(ctx, `
		UPDATE workers SET
			last_heartbeat_ts = CASE
				WHEN last_heartbeat_ts IS NULL OR ? > last_heartbeat_ts THEN ? ELSE last_heartbeat_ts END,
			total_packs = MAX(total_packs, ?)
		WHERE id = ?`,
		hb.TS.UTC().Format(time.RFC3339Nano), hb.TS.UTC().Format(time.RFC3339Nano), hb.PacksCumulative, hb.WorkerID,
	)
	return err
}

// ListHeartbeats returns every heartbeat for workerID, ordered by ts, the
// raw material the run-derivation logic in pkg/ingest consumes.
func (s *Store) ListHeartbeats(ctx context.Context, workerID int64) ([]*types.Heartbeat, error) {
	conn, err := s.pool.Acquire(ctx)
	if err != nil {
		return nil, err
	}
	defer conn.Release()

	rows, err := Timed(s.pool.monitor, func() (*sql.Rows, error) {
		return conn.Raw().QueryContext(ctx, `
			SELECT message_id, worker_id, ts, instances_online, instances_offline,
				time_running_minutes, packs_cumulative, main_active, selected_packs
			FROM heartbeats WHERE worker_id = ? ORDER BY ts`, workerID)
	})
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*types.Heartbeat
	for rows.Next() {
		hb := &types.Heartbeat{}
		var ts, selected string
		var mainActive int
		if err := rows.Scan(&hb.MessageID, &hb.WorkerID, &ts, &hb.InstancesOnline, &hb.InstancesOffline,
			&hb.TimeRunningMinutes, &hb.PacksCumulative, &mainActive, &selected); err != nil {
			return nil, fmt.Errorf("scan heartbeat: %w", err)
		}
		hb.TS, _ = time.Parse(time.RFC3339Nano, ts)
		hb.MainActive = mainActive != 0
		if selected != "" {
			hb.SelectedPacks = strings.Split(selected, ",")
		}
		out = append(out, hb)
	}
	return out, rows.Err()
}

// RecentHeartbeats returns up to n of workerID's most recent heartbeats,
// newest first — the window pkg/registry uses to derive a short-term
// packs-per-minute rate without rescanning full history.
func (s *Store) RecentHeartbeats(ctx context.Context, workerID int64, n int) ([]*types.Heartbeat, error) {
	conn, err := s.pool.Acquire(ctx)
	if err != nil {
		return nil, err
	}
	defer conn.Release()

	rows, err := Timed(s.pool.monitor, func() (*sql.Rows, error) {
		return conn.Raw().QueryContext(ctx, `
			SELECT message_id, worker_id, ts, instances_online, instances_offline,
				time_running_minutes, packs_cumulative, main_active, selected_packs
			FROM heartbeats WHERE worker_id = ? ORDER BY ts DESC LIMIT ?`, workerID, n)
	})
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*types.Heartbeat
	for rows.Next() {
		hb := &types.Heartbeat{}
		var ts, selected string
		var mainActive int
		if err := rows.Scan(&hb.MessageID, &hb.WorkerID, &ts, &hb.InstancesOnline, &hb.InstancesOffline,
			&hb.TimeRunningMinutes, &hb.PacksCumulative, &mainActive, &selected); err != nil {
			return nil, fmt.Errorf("scan heartbeat: %w", err)
		}
		hb.TS, _ = time.Parse(time.RFC3339Nano, ts)
		hb.MainActive = mainActive != 0
		if selected != "" {
			hb.SelectedPacks = strings.Split(selected, ",")
		}
		out = append(out, hb)
	}
	return out, rows.Err()
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
