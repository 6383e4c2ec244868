package storage

import (
	"context"
	"time"

	"github.com/cuemby/reroll-core/pkg/types"
)

// RecordSystemEvent appends an audit row. Scheduled tasks and pkg/core's
// event-drop handler call this directly alongside publishing to the
// emission bus; the two are independent sinks, not chained.
func (s *Store) RecordSystemEvent(ctx context.Context, ev *types.SystemEvent) error {
	return s.pool.WithTx(ctx, func(ctx context.Context, tx *Tx) error {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO system_events (id, event_type, severity, payload, actor_worker, ts)
			VALUES (?, ?, ?, ?, ?, ?)`,
			ev.ID, ev.EventType, string(ev.Severity), ev.Payload, ev.ActorWorker,
			ev.TS.UTC().Format(time.RFC3339Nano),
		)
		return err
	})
}

// ListSystemEventsSince returns every audit row at or after since, oldest
// first, for the daily-sync and operator-facing tooling.
func (s *Store) ListSystemEventsSince(ctx context.Context, since time.Time) ([]*types.SystemEvent, error) {
	conn, err := s.pool.Acquire(ctx)
	if err != nil {
		return nil, err
	}
	defer conn.Release()

	rows, err := conn.Raw().QueryContext(ctx, `
		SELECT id, event_type, severity, payload, actor_worker, ts
		FROM system_events WHERE ts >= ? ORDER BY ts`, since.UTC().Format(time.RFC3339Nano))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*types.SystemEvent
	for rows.Next() {
		ev := &types.SystemEvent{}
		var severity, ts string
		if err := rows.Scan(&ev.ID, &ev.EventType, &severity, &ev.Payload, &ev.ActorWorker, &ts); err != nil {
			return nil, err
		}
		ev.Severity = types.Severity(severity)
		ev.TS, _ = time.Parse(time.RFC3339Nano, ts)
		ev.HasActor = ev.ActorWorker != 0
		out = append(out, ev)
	}
	return out, rows.Err()
}
