package storage

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/cuemby/reroll-core/pkg/types"
)

// CreateWorker inserts a new worker row. Workers are never deleted once
// created (spec §3).
func (s *Store) CreateWorker(ctx context.Context, w *types.Worker) error {
	return s.pool.WithTx(ctx, func(ctx context.Context, tx *Tx) error {
		_, err := Timed(s.pool.monitor, func() (sql.Result, error) {
			return tx.ExecContext(ctx, `
				INSERT INTO workers (id, display_name, player_id, status, total_packs, total_gps, average_instances, last_heartbeat_ts, created_at)
				VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
				w.ID, w.DisplayName, w.PlayerID, string(w.Status), w.TotalPacks, w.TotalGPs, w.AverageInstances,
				nullableTime(w.LastHeartbeatTS), w.CreatedAt.UTC().Format(time.RFC3339Nano),
			)
		})
		return err
	})
}

// GetWorker returns the worker with id, or ErrNotFound.
func (s *Store) GetWorker(ctx context.Context, id int64) (*types.Worker, error) {
	conn, err := s.pool.Acquire(ctx)
	if err != nil {
		return nil, err
	}
	defer conn.Release()

	row, err := Timed(s.pool.monitor, func() (*sql.Row, error) {
		return conn.Raw().QueryRowContext(ctx, `
			SELECT id, display_name, player_id, status, total_packs, total_gps, average_instances, last_heartbeat_ts, created_at
			FROM workers WHERE id = ?`, id), nil
	})
	if err != nil {
		return nil, err
	}
	return scanWorker(row)
}

// ListWorkers returns every worker, ordered by id.
func (s *Store) ListWorkers(ctx context.Context) ([]*types.Worker, error) {
	conn, err := s.pool.Acquire(ctx)
	if err != nil {
		return nil, err
	}
	defer conn.Release()

	rows, err := Timed(s.pool.monitor, func() (*sql.Rows, error) {
		return conn.Raw().QueryContext(ctx, `
			SELECT id, display_name, player_id, status, total_packs, total_gps, average_instances, last_heartbeat_ts, created_at
			FROM workers ORDER BY id`)
	})
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*types.Worker
	for rows.Next() {
		w, err := scanWorkerRows(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, w)
	}
	return out, rows.Err()
}

// UpdateWorker persists every mutable field of w.
func (s *Store) UpdateWorker(ctx context.Context, w *types.Worker) error {
	return s.pool.WithTx(ctx, func(ctx context.Context, tx *Tx) error {
		res, err := Timed(s.pool.monitor, func() (sql.Result, error) {
			return tx.ExecContext(ctx, `
				UPDATE workers SET display_name = ?, player_id = ?, status = ?, total_packs = ?,
					total_gps = ?, average_instances = ?, last_heartbeat_ts = ?
				WHERE id = ?`,
				w.DisplayName, w.PlayerID, string(w.Status), w.TotalPacks, w.TotalGPs, w.AverageInstances,
				nullableTime(w.LastHeartbeatTS), w.ID,
			)
		})
		if err != nil {
			return err
		}
		return requireAffected(res, ErrNotFound)
	})
}

// GetOrCreateWorker returns the worker with id, creating it with default
// status inactive if absent (spec §4.2: a worker row is created on first
// heartbeat or explicit registration).
func (s *Store) GetOrCreateWorker(ctx context.Context, id int64, displayName string, now time.Time) (*types.Worker, error) {
	var result *types.Worker
	err := s.pool.WithTx(ctx, func(ctx context.Context, tx *Tx) error {
		row := tx.QueryRowContext(ctx, `
			SELECT id, display_name, player_id, status, total_packs, total_gps, average_instances, last_heartbeat_ts, created_at
			FROM workers WHERE id = ?`, id)
		w, err := scanWorker(row)
		if err == nil {
			result = w
			return nil
		}
		if err != ErrNotFound {
			return err
		}

		w = &types.Worker{
			ID:          id,
			DisplayName: displayName,
			Status:      types.WorkerInactive,
			CreatedAt:   now,
		}
		_, err = tx.ExecContext(ctx, `
			INSERT INTO workers (id, display_name, player_id, status, total_packs, total_gps, average_instances, last_heartbeat_ts, created_at)
			VALUES (?, ?, '', ?, 0, 0, 0, NULL, ?)`,
			w.ID, w.DisplayName, string(w.Status), w.CreatedAt.UTC().Format(time.RFC3339Nano),
		)
		if err != nil {
			return err
		}
		result = w
		return nil
	})
	return result, err
}

func scanWorker(row *sql.Row) (*types.Worker, error) {
	w := &types.Worker{}
	var status string
	var lastHB sql.NullString
	var createdAt string
	err := row.Scan(&w.ID, &w.DisplayName, &w.PlayerID, &status, &w.TotalPacks, &w.TotalGPs,
		&w.AverageInstances, &lastHB, &createdAt)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan worker: %w", err)
	}
	w.Status = types.WorkerStatus(status)
	w.LastHeartbeatTS = parseNullableTime(lastHB)
	w.CreatedAt, _ = time.Parse(time.RFC3339Nano, createdAt)
	return w, nil
}

func scanWorkerRows(rows *sql.Rows) (*types.Worker, error) {
	w := &types.Worker{}
	var status string
	var lastHB sql.NullString
	var createdAt string
	err := rows.Scan(&w.ID, &w.DisplayName, &w.PlayerID, &status, &w.TotalPacks, &w.TotalGPs,
		&w.AverageInstances, &lastHB, &createdAt)
	if err != nil {
		return nil, fmt.Errorf("scan worker: %w", err)
	}
	w.Status = types.WorkerStatus(status)
	w.LastHeartbeatTS = parseNullableTime(lastHB)
	w.CreatedAt, _ = time.Parse(time.RFC3339Nano, createdAt)
	return w, nil
}

func nullableTime(t time.Time) any {
	if t.IsZero() {
		return nil
	}
	return t.UTC().Format(time.RFC3339Nano)
}

func parseNullableTime(ns sql.NullString) time.Time {
	if !ns.Valid {
		return time.Time{}
	}
	t, _ := time.Parse(time.RFC3339Nano, ns.String)
	return t
}

func requireAffected(res sql.Result, notFound error) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return notFound
	}
	return nil
}
