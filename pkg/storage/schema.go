package storage

import (
	"context"
	"fmt"

	"github.com/cuemby/reroll-core/pkg/log"
)

// migration is one numbered, additive schema step (spec §4.1: migrations
// are additive only except for index changes).
type migration struct {
	version int
	desc    string
	stmts   []string
}

var migrations = []migration{
	{
		version: 1,
		desc:    "initial schema",
		stmts: []string{
			`CREATE TABLE IF NOT EXISTS workers (
				id INTEGER PRIMARY KEY,
				display_name TEXT NOT NULL DEFAULT '',
				player_id TEXT NOT NULL DEFAULT '',
				status TEXT NOT NULL DEFAULT 'inactive',
				total_packs INTEGER NOT NULL DEFAULT 0,
				total_gps INTEGER NOT NULL DEFAULT 0,
				average_instances REAL NOT NULL DEFAULT 0,
				last_heartbeat_ts TEXT,
				created_at TEXT NOT NULL
			)`,
			`CREATE INDEX IF NOT EXISTS idx_workers_status ON workers(status)`,
			`CREATE INDEX IF NOT EXISTS idx_workers_last_heartbeat_ts ON workers(last_heartbeat_ts)`,
			`CREATE INDEX IF NOT EXISTS idx_workers_total_packs ON workers(total_packs)`,

			`CREATE TABLE IF NOT EXISTS subsystems (
				id TEXT PRIMARY KEY,
				worker_id INTEGER NOT NULL REFERENCES workers(id) ON DELETE CASCADE,
				name TEXT NOT NULL,
				last_heartbeat_ts TEXT,
				instances_online INTEGER NOT NULL DEFAULT 0,
				UNIQUE(worker_id, name)
			)`,
			`CREATE INDEX IF NOT EXISTS idx_subsystems_worker ON subsystems(worker_id)`,

			`CREATE TABLE IF NOT EXISTS heartbeats (
				message_id TEXT PRIMARY KEY,
				worker_id INTEGER NOT NULL REFERENCES workers(id) ON DELETE CASCADE,
				ts TEXT NOT NULL,
				instances_online INTEGER NOT NULL DEFAULT 0,
				instances_offline INTEGER NOT NULL DEFAULT 0,
				time_running_minutes INTEGER NOT NULL DEFAULT 0,
				packs_cumulative INTEGER NOT NULL DEFAULT 0,
				main_active INTEGER NOT NULL DEFAULT 0,
				selected_packs TEXT NOT NULL DEFAULT ''
			)`,
			`CREATE INDEX IF NOT EXISTS idx_heartbeats_worker_ts ON heartbeats(worker_id, ts)`,
			`CREATE INDEX IF NOT EXISTS idx_heartbeats_ts ON heartbeats(ts)`,
			`CREATE INDEX IF NOT EXISTS idx_heartbeats_main_active ON heartbeats(main_active)`,
			`CREATE INDEX IF NOT EXISTS idx_heartbeats_packs_cumulative ON heartbeats(packs_cumulative)`,

			`CREATE TABLE IF NOT EXISTS runs (
				worker_id INTEGER NOT NULL REFERENCES workers(id) ON DELETE CASCADE,
				start_ts TEXT NOT NULL,
				end_ts TEXT NOT NULL,
				start_packs INTEGER NOT NULL DEFAULT 0,
				end_packs INTEGER NOT NULL DEFAULT 0,
				avg_instances REAL NOT NULL DEFAULT 0,
				peak_instances INTEGER NOT NULL DEFAULT 0,
				packs_per_minute REAL NOT NULL DEFAULT 0,
				main_on_fraction REAL NOT NULL DEFAULT 0,
				PRIMARY KEY (worker_id, start_ts)
			)`,
			`CREATE INDEX IF NOT EXISTS idx_runs_worker ON runs(worker_id, end_ts)`,

			`CREATE TABLE IF NOT EXISTS godpacks (
				id INTEGER PRIMARY KEY AUTOINCREMENT,
				discovery_message_id TEXT NOT NULL UNIQUE,
				discovery_ts TEXT NOT NULL,
				pack_slot_count INTEGER NOT NULL DEFAULT 1,
				account_name TEXT NOT NULL DEFAULT '',
				friend_code TEXT NOT NULL DEFAULT '',
				screenshot_url TEXT NOT NULL DEFAULT '',
				state TEXT NOT NULL DEFAULT 'TESTING',
				ratio INTEGER NOT NULL DEFAULT -1,
				expires_at TEXT NOT NULL,
				discovered_by INTEGER NOT NULL DEFAULT 0
			)`,
			`CREATE INDEX IF NOT EXISTS idx_godpacks_state ON godpacks(state)`,
			`CREATE INDEX IF NOT EXISTS idx_godpacks_discovery_ts ON godpacks(discovery_ts)`,
			`CREATE INDEX IF NOT EXISTS idx_godpacks_expires_at ON godpacks(expires_at)`,
			`CREATE INDEX IF NOT EXISTS idx_godpacks_pack_slot_count ON godpacks(pack_slot_count)`,
			`CREATE INDEX IF NOT EXISTS idx_godpacks_friend_code ON godpacks(friend_code)`,
			`CREATE INDEX IF NOT EXISTS idx_godpacks_account_name ON godpacks(account_name)`,

			`CREATE TABLE IF NOT EXISTS test_results (
				id INTEGER PRIMARY KEY AUTOINCREMENT,
				gp_id INTEGER NOT NULL REFERENCES godpacks(id) ON DELETE CASCADE,
				worker_id INTEGER NOT NULL REFERENCES workers(id) ON DELETE CASCADE,
				ts TEXT NOT NULL,
				kind TEXT NOT NULL,
				open_slots INTEGER NOT NULL DEFAULT 0,
				friend_count INTEGER NOT NULL DEFAULT 0,
				has_slot_data INTEGER NOT NULL DEFAULT 0
			)`,
			`CREATE INDEX IF NOT EXISTS idx_test_results_gp ON test_results(gp_id)`,
			`CREATE INDEX IF NOT EXISTS idx_test_results_worker ON test_results(worker_id)`,
			`CREATE INDEX IF NOT EXISTS idx_test_results_ts ON test_results(ts)`,
			`CREATE INDEX IF NOT EXISTS idx_test_results_kind ON test_results(kind)`,

			`CREATE TABLE IF NOT EXISTS gp_statistics (
				gp_id INTEGER PRIMARY KEY REFERENCES godpacks(id) ON DELETE CASCADE,
				probability_alive REAL NOT NULL DEFAULT 0,
				total_tests INTEGER NOT NULL DEFAULT 0,
				miss_tests INTEGER NOT NULL DEFAULT 0,
				noshow_tests INTEGER NOT NULL DEFAULT 0,
				confidence_level REAL NOT NULL DEFAULT 0,
				last_calculated_ts TEXT NOT NULL
			)`,
			`CREATE INDEX IF NOT EXISTS idx_gp_statistics_probability ON gp_statistics(probability_alive)`,
			`CREATE INDEX IF NOT EXISTS idx_gp_statistics_last_calc ON gp_statistics(last_calculated_ts)`,
			`CREATE INDEX IF NOT EXISTS idx_gp_statistics_confidence ON gp_statistics(confidence_level)`,

			`CREATE TABLE IF NOT EXISTS expiration_warnings (
				gp_id INTEGER NOT NULL REFERENCES godpacks(id) ON DELETE CASCADE,
				warned_at TEXT NOT NULL,
				PRIMARY KEY (gp_id, warned_at)
			)`,

			`CREATE TABLE IF NOT EXISTS system_events (
				id TEXT PRIMARY KEY,
				event_type TEXT NOT NULL,
				severity TEXT NOT NULL,
				payload TEXT NOT NULL DEFAULT '',
				actor_worker INTEGER NOT NULL DEFAULT 0,
				ts TEXT NOT NULL
			)`,
			`CREATE INDEX IF NOT EXISTS idx_system_events_ts ON system_events(ts)`,
		},
	},
}

// Migrator applies pending migrations at startup. Each migration runs in
// its own transaction and is preceded by an automatic SCHEMA_CHANGE
// backup; a failed migration aborts startup without recording the new
// version (spec §4.1, §7).
type Migrator struct {
	pool    *Pool
	backups *BackupManager
}

// NewMigrator builds a Migrator over pool, using backups for the
// pre-migration SCHEMA_CHANGE backup. backups may be nil in tests that do
// not exercise the backup path.
func NewMigrator(pool *Pool, backups *BackupManager) *Migrator {
	return &Migrator{pool: pool, backups: backups}
}

// Migrate applies every migration with version > the current schema
// version, in order.
func (m *Migrator) Migrate(ctx context.Context) error {
	if err := m.ensureVersionTable(ctx); err != nil {
		return fmt.Errorf("%w: %v", ErrMigrationFailed, err)
	}

	current, err := m.currentVersion(ctx)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrMigrationFailed, err)
	}

	for _, mig := range migrations {
		if mig.version <= current {
			continue
		}

		if m.backups != nil {
			if _, err := m.backups.Create(ctx, KindSchemaChange); err != nil {
				return fmt.Errorf("%w: pre-migration backup: %v", ErrMigrationFailed, err)
			}
		}

		if err := m.pool.WithTx(ctx, func(ctx context.Context, tx *Tx) error {
			for _, stmt := range mig.stmts {
				if _, err := tx.ExecContext(ctx, stmt); err != nil {
					return fmt.Errorf("migration %d (%s): %w", mig.version, mig.desc, err)
				}
			}
			_, err := tx.ExecContext(ctx, `INSERT INTO schema_version(version, applied_at) VALUES (?, datetime('now'))`, mig.version)
			return err
		}); err != nil {
			log.Logger.Error().Err(err).Int("version", mig.version).Msg("migration failed")
			return fmt.Errorf("%w: %v", ErrMigrationFailed, err)
		}

		current = mig.version
	}

	return nil
}

func (m *Migrator) ensureVersionTable(ctx context.Context) error {
	return m.pool.WithTx(ctx, func(ctx context.Context, tx *Tx) error {
		_, err := tx.ExecContext(ctx, `CREATE TABLE IF NOT EXISTS schema_version (
			version INTEGER PRIMARY KEY,
			applied_at TEXT NOT NULL
		)`)
		return err
	})
}

func (m *Migrator) currentVersion(ctx context.Context) (int, error) {
	conn, err := m.pool.Acquire(ctx)
	if err != nil {
		return 0, err
	}
	defer conn.Release()

	var version int
	row := conn.Raw().QueryRowContext(ctx, `SELECT COALESCE(MAX(version), 0) FROM schema_version`)
	if err := row.Scan(&version); err != nil {
		return 0, err
	}
	return version, nil
}
