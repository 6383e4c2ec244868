package storage

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/cuemby/reroll-core/pkg/types"
)

// UpsertRun writes a derived run row, keyed on (worker_id, start_ts).
// Runs are recomputed by pkg/ingest from heartbeat spans and replaced
// wholesale on re-derivation, so this is an upsert rather than an insert.
func (s *Store) UpsertRun(ctx context.Context, r *types.Run) error {
	return s.pool.WithTx(ctx, func(ctx context.Context, tx *Tx) error {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO runs (worker_id, start_ts, end_ts, start_packs, end_packs, avg_instances,
				peak_instances, packs_per_minute, main_on_fraction)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
			ON CONFLICT(worker_id, start_ts) DO UPDATE SET
				end_ts = excluded.end_ts,
				start_packs = excluded.start_packs,
				end_packs = excluded.end_packs,
				avg_instances = excluded.avg_instances,
				peak_instances = excluded.peak_instances,
				packs_per_minute = excluded.packs_per_minute,
				main_on_fraction = excluded.main_on_fraction`,
			r.WorkerID, r.StartTS.UTC().Format(time.RFC3339Nano), r.EndTS.UTC().Format(time.RFC3339Nano),
			r.StartPacks, r.EndPacks, r.AvgInstances, r.PeakInstances, r.PacksPerMinute, r.MainOnFraction,
		)
		return err
	})
}

// ListRuns returns every run for workerID within [since, now], ordered by
// start_ts, the window pkg/query uses for user-stats/leaderboard queries.
func (s *Store) ListRuns(ctx context.Context, workerID int64, since time.Time) ([]*types.Run, error) {
	conn, err := s.pool.Acquire(ctx)
	if err != nil {
		return nil, err
	}
	defer conn.Release()

	rows, err := Timed(s.pool.monitor, func() (*sql.Rows, error) {
		return conn.Raw().QueryContext(ctx, `
			SELECT worker_id, start_ts, end_ts, start_packs, end_packs, avg_instances,
				peak_instances, packs_per_minute, main_on_fraction
			FROM runs WHERE worker_id = ? AND end_ts >= ? ORDER BY start_ts`,
			workerID, since.UTC().Format(time.RFC3339Nano))
	})
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*types.Run
	for rows.Next() {
		r := &types.Run{}
		var startTS, endTS string
		if err := rows.Scan(&r.WorkerID, &startTS, &endTS, &r.StartPacks, &r.EndPacks, &r.AvgInstances,
			&r.PeakInstances, &r.PacksPerMinute, &r.MainOnFraction); err != nil {
			return nil, fmt.Errorf("scan run: %w", err)
		}
		r.StartTS, _ = time.Parse(time.RFC3339Nano, startTS)
		r.EndTS, _ = time.Parse(time.RFC3339Nano, endTS)
		out = append(out, r)
	}
	return out, rows.Err()
}

// ListRunsAllWorkers returns every run across all workers since the given
// time, for server-wide aggregation (spec §4.6 server-stats).
func (s *Store) ListRunsAllWorkers(ctx context.Context, since time.Time) ([]*types.Run, error) {
	conn, err := s.pool.Acquire(ctx)
	if err != nil {
		return nil, err
	}
	defer conn.Release()

	rows, err := Timed(s.pool.monitor, func() (*sql.Rows, error) {
		return conn.Raw().QueryContext(ctx, `
			SELECT worker_id, start_ts, end_ts, start_packs, end_packs, avg_instances,
				peak_instances, packs_per_minute, main_on_fraction
			FROM runs WHERE end_ts >= ? ORDER BY start_ts`, since.UTC().Format(time.RFC3339Nano))
	})
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*types.Run
	for rows.Next() {
		r := &types.Run{}
		var startTS, endTS string
		if err := rows.Scan(&r.WorkerID, &startTS, &endTS, &r.StartPacks, &r.EndPacks, &r.AvgInstances,
			&r.PeakInstances, &r.PacksPerMinute, &r.MainOnFraction); err != nil {
			return nil, fmt.Errorf("scan run: %w", err)
		}
		r.StartTS, _ = time.Parse(time.RFC3339Nano, startTS)
		r.EndTS, _ = time.Parse(time.RFC3339Nano, endTS)
		out = append(out, r)
	}
	return out, rows.Err()
}
