package storage

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/cuemby/reroll-core/pkg/types"
)

// InsertGodPack persists a new candidate GP keyed on its discovery
// message id. Re-ingestion of the same message id is a no-op (spec §4.2).
func (s *Store) InsertGodPack(ctx context.Context, gp *types.GodPack) (inserted bool, id int64, err error) {
	err = s.pool.WithTx(ctx, func(ctx context.Context, tx *Tx) error {
		existingID, findErr := s.findGodPackByMessageID(ctx, tx, gp.DiscoveryMessageID)
		if findErr == nil {
			id = existingID
			inserted = false
			return nil
		}
		if findErr != ErrNotFound {
			return findErr
		}

		res, err := tx.ExecContext(ctx, `
			INSERT INTO godpacks (discovery_message_id, discovery_ts, pack_slot_count, account_name,
				friend_code, screenshot_url, state, ratio, expires_at, discovered_by)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			gp.DiscoveryMessageID, gp.DiscoveryTS.UTC().Format(time.RFC3339Nano), gp.PackSlotCount,
			gp.AccountName, gp.FriendCode, gp.ScreenshotURL, string(gp.State), gp.Ratio,
			gp.ExpiresAt.UTC().Format(time.RFC3339Nano), gp.DiscoveredBy,
		)
		if err != nil {
			return err
		}
		id, err = res.LastInsertId()
		inserted = true
		return err
	})
	return inserted, id, err
}

func (s *Store) findGodPackByMessageID(ctx context.Context, tx *Tx, messageID string) (int64, error) {
	var id int64
	err := tx.QueryRowContext(ctx, `SELECT id FROM godpacks WHERE discovery_message_id = ?`, messageID).Scan(&id)
	if err == sql.ErrNoRows {
		return 0, ErrNotFound
	}
	return id, err
}

// GetGodPack returns the GP with id, or ErrNotFound.
func (s *Store) GetGodPack(ctx context.Context, id int64) (*types.GodPack, error) {
	conn, err := s.pool.Acquire(ctx)
	if err != nil {
		return nil, err
	}
	defer conn.Release()

	row := conn.Raw().QueryRowContext(ctx, `
		SELECT id, discovery_message_id, discovery_ts, pack_slot_count, account_name, friend_code,
			screenshot_url, state, ratio, expires_at, discovered_by
		FROM godpacks WHERE id = ?`, id)
	return scanGodPack(row)
}

// ListGodPacksByState returns every GP in the given state.
func (s *Store) ListGodPacksByState(ctx context.Context, state types.GPState) ([]*types.GodPack, error) {
	conn, err := s.pool.Acquire(ctx)
	if err != nil {
		return nil, err
	}
	defer conn.Release()

	rows, err := conn.Raw().QueryContext(ctx, `
		SELECT id, discovery_message_id, discovery_ts, pack_slot_count, account_name, friend_code,
			screenshot_url, state, ratio, expires_at, discovered_by
		FROM godpacks WHERE state = ?`, string(state))
	if err != nil {
		return nil, err
	}
	return scanGodPacks(rows)
}

// ListExpiring returns GPs in state TESTING or ALIVE whose expires_at
// lies within [now, now+window] (spec §4.6 expiring query).
func (s *Store) ListExpiring(ctx context.Context, now time.Time, window time.Duration) ([]*types.GodPack, error) {
	conn, err := s.pool.Acquire(ctx)
	if err != nil {
		return nil, err
	}
	defer conn.Release()

	rows, err := conn.Raw().QueryContext(ctx, `
		SELECT id, discovery_message_id, discovery_ts, pack_slot_count, account_name, friend_code,
			screenshot_url, state, ratio, expires_at, discovered_by
		FROM godpacks
		WHERE state IN ('TESTING', 'ALIVE') AND expires_at BETWEEN ? AND ?
		ORDER BY expires_at`,
		now.UTC().Format(time.RFC3339Nano), now.Add(window).UTC().Format(time.RFC3339Nano))
	if err != nil {
		return nil, err
	}
	return scanGodPacks(rows)
}

// UpdateGodPackState transitions a GP's state.
func (s *Store) UpdateGodPackState(ctx context.Context, id int64, state types.GPState) error {
	return s.pool.WithTx(ctx, func(ctx context.Context, tx *Tx) error {
		res, err := tx.ExecContext(ctx, `UPDATE godpacks SET state = ? WHERE id = ?`, string(state), id)
		if err != nil {
			return err
		}
		return requireAffected(res, ErrNotFound)
	})
}

// UpdateGodPackRatio updates the observed slot ratio for a GP.
func (s *Store) UpdateGodPackRatio(ctx context.Context, id int64, ratio int) error {
	return s.pool.WithTx(ctx, func(ctx context.Context, tx *Tx) error {
		res, err := tx.ExecContext(ctx, `UPDATE godpacks SET ratio = ? WHERE id = ?`, ratio, id)
		if err != nil {
			return err
		}
		return requireAffected(res, ErrNotFound)
	})
}

func scanGodPack(row *sql.Row) (*types.GodPack, error) {
	gp := &types.GodPack{}
	var discoveryTS, expiresAt, state string
	err := row.Scan(&gp.ID, &gp.DiscoveryMessageID, &discoveryTS, &gp.PackSlotCount, &gp.AccountName,
		&gp.FriendCode, &gp.ScreenshotURL, &state, &gp.Ratio, &expiresAt, &gp.DiscoveredBy)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan godpack: %w", err)
	}
	gp.State = types.GPState(state)
	gp.DiscoveryTS, _ = time.Parse(time.RFC3339Nano, discoveryTS)
	gp.ExpiresAt, _ = time.Parse(time.RFC3339Nano, expiresAt)
	gp.DiscoveredByWorkerOK = gp.DiscoveredBy != 0
	return gp, nil
}

func scanGodPacks(rows *sql.Rows) ([]*types.GodPack, error) {
	defer rows.Close()
	var out []*types.GodPack
	for rows.Next() {
		gp := &types.GodPack{}
		var discoveryTS, expiresAt, state string
		if err := rows.Scan(&gp.ID, &gp.DiscoveryMessageID, &discoveryTS, &gp.PackSlotCount, &gp.AccountName,
			&gp.FriendCode, &gp.ScreenshotURL, &state, &gp.Ratio, &expiresAt, &gp.DiscoveredBy); err != nil {
			return nil, fmt.Errorf("scan godpack: %w", err)
		}
		gp.State = types.GPState(state)
		gp.DiscoveryTS, _ = time.Parse(time.RFC3339Nano, discoveryTS)
		gp.ExpiresAt, _ = time.Parse(time.RFC3339Nano, expiresAt)
		gp.DiscoveredByWorkerOK = gp.DiscoveredBy != 0
		out = append(out, gp)
	}
	return out, rows.Err()
}
