package storage

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/cuemby/reroll-core/pkg/types"
)

// UpsertSubsystem creates or refreshes a subsystem row keyed on
// (worker_id, name), per spec §9's nested sub-worker supplement.
func (s *Store) UpsertSubsystem(ctx context.Context, sub *types.Subsystem) error {
	return s.pool.WithTx(ctx, func(ctx context.Context, tx *Tx) error {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO subsystems (id, worker_id, name, last_heartbeat_ts, instances_online)
			VALUES (?, ?, ?, ?, ?)
			ON CONFLICT(worker_id, name) DO UPDATE SET
				last_heartbeat_ts = excluded.last_heartbeat_ts,
				instances_online = excluded.instances_online`,
			sub.ID, sub.WorkerID, sub.Name, nullableTime(sub.LastHeartbeatTS), sub.InstancesOnline,
		)
		return err
	})
}

// ListSubsystems returns every subsystem row for workerID.
func (s *Store) ListSubsystems(ctx context.Context, workerID int64) ([]*types.Subsystem, error) {
	conn, err := s.pool.Acquire(ctx)
	if err != nil {
		return nil, err
	}
	defer conn.Release()

	rows, err := Timed(s.pool.monitor, func() (*sql.Rows, error) {
		return conn.Raw().QueryContext(ctx, `
			SELECT id, worker_id, name, last_heartbeat_ts, instances_online
			FROM subsystems WHERE worker_id = ?`, workerID)
	})
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*types.Subsystem
	for rows.Next() {
		sub := &types.Subsystem{}
		var lastHB sql.NullString
		if err := rows.Scan(&sub.ID, &sub.WorkerID, &sub.Name, &lastHB, &sub.InstancesOnline); err != nil {
			return nil, fmt.Errorf("scan subsystem: %w", err)
		}
		sub.LastHeartbeatTS = parseNullableTime(lastHB)
		out = append(out, sub)
	}
	return out, rows.Err()
}

// RecentSubsystemInstances sums InstancesOnline across subsystems whose
// last heartbeat is within maxAge of now, the "real instance count"
// formula from spec §4.3.
func (s *Store) RecentSubsystemInstances(ctx context.Context, workerID int64, now time.Time, maxAge time.Duration) (int, error) {
	subs, err := s.ListSubsystems(ctx, workerID)
	if err != nil {
		return 0, err
	}
	total := 0
	for _, sub := range subs {
		if sub.LastHeartbeatTS.IsZero() {
			continue
		}
		if now.Sub(sub.LastHeartbeatTS) <= maxAge {
			total += sub.InstancesOnline
		}
	}
	return total, nil
}
