package storage

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/cuemby/reroll-core/pkg/types"
)

// UpsertGPStatistics writes the verification engine's cached computation
// for one GP.
func (s *Store) UpsertGPStatistics(ctx context.Context, st *types.GPStatistics) error {
	return s.pool.WithTx(ctx, func(ctx context.Context, tx *Tx) error {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO gp_statistics (gp_id, probability_alive, total_tests, miss_tests, noshow_tests,
				confidence_level, last_calculated_ts)
			VALUES (?, ?, ?, ?, ?, ?, ?)
			ON CONFLICT(gp_id) DO UPDATE SET
				probability_alive = excluded.probability_alive,
				total_tests = excluded.total_tests,
				miss_tests = excluded.miss_tests,
				noshow_tests = excluded.noshow_tests,
				confidence_level = excluded.confidence_level,
				last_calculated_ts = excluded.last_calculated_ts`,
			st.GPID, st.ProbabilityAlive, st.TotalTests, st.MissTests, st.NoshowTests,
			st.ConfidenceLevel, st.LastCalculatedTS.UTC().Format(time.RFC3339Nano),
		)
		return err
	})
}

// GetGPStatistics returns the cached statistics for gpID, or ErrNotFound
// when the cache is empty (stale or never computed).
func (s *Store) GetGPStatistics(ctx context.Context, gpID int64) (*types.GPStatistics, error) {
	conn, err := s.pool.Acquire(ctx)
	if err != nil {
		return nil, err
	}
	defer conn.Release()

	row := conn.Raw().QueryRowContext(ctx, `
		SELECT gp_id, probability_alive, total_tests, miss_tests, noshow_tests, confidence_level, last_calculated_ts
		FROM gp_statistics WHERE gp_id = ?`, gpID)

	st := &types.GPStatistics{}
	var lastCalc string
	err = row.Scan(&st.GPID, &st.ProbabilityAlive, &st.TotalTests, &st.MissTests, &st.NoshowTests,
		&st.ConfidenceLevel, &lastCalc)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan gp statistics: %w", err)
	}
	st.LastCalculatedTS, _ = time.Parse(time.RFC3339Nano, lastCalc)
	return st, nil
}
