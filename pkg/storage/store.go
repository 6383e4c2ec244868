package storage

import (
	"context"
	"fmt"
	"path/filepath"
)

// Store composes the connection pool, migrator, and backup manager into
// the single entry point used by every other core component.
type Store struct {
	pool    *Pool
	backups *BackupManager
}

// Config configures Open.
type Config struct {
	Path                string
	PoolSize            int
	BackupRetentionDays int
	MaxBackupCount      int
}

// Open opens (creating if absent) the datastore at cfg.Path, applies
// pending migrations, and returns a ready Store.
func Open(ctx context.Context, cfg Config) (*Store, error) {
	pool, err := OpenPool(PoolConfig{Path: cfg.Path, Size: cfg.PoolSize})
	if err != nil {
		return nil, err
	}

	stateDir := filepath.Dir(cfg.Path)
	backups := NewBackupManager(pool, stateDir, cfg.BackupRetentionDays, cfg.MaxBackupCount)

	migrator := NewMigrator(pool, backups)
	if err := migrator.Migrate(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("apply migrations: %w", err)
	}

	return &Store{pool: pool, backups: backups}, nil
}

// Pool returns the underlying connection pool, for components (metrics,
// health checks) that need pool-level statistics.
func (s *Store) Pool() *Pool { return s.pool }

// Backups returns the backup manager.
func (s *Store) Backups() *BackupManager { return s.backups }

// Close closes the underlying pool.
func (s *Store) Close() error { return s.pool.Close() }

// PoolHealth reports the connection pool's cumulative request, failure, and
// overflow counters, for pkg/metrics.Collector's readiness derivation. It
// returns plain integers rather than PoolStats so pkg/metrics never needs to
// import pkg/storage.
func (s *Store) PoolHealth() (requests, failures, exhaustions int64) {
	st := s.pool.Stats()
	return st.TotalRequests, st.Failures, st.PoolExhaustionEvents
}

// QueryHealth reports the query monitor's cumulative total/failed/rollback
// counters, for the same reason as PoolHealth.
func (s *Store) QueryHealth() (total, failed, rollbacks int64) {
	st := s.pool.Monitor().Stats()
	return st.Total, st.Failed, st.Rollbacks
}
