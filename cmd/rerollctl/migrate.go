package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/cuemby/reroll-core/pkg/storage"
	"github.com/spf13/cobra"
)

// migrateCmd applies pending schema migrations and exits. pkg/storage.Open
// already applies migrations as part of normal startup (preceded by an
// automatic SCHEMA_CHANGE backup); this subcommand exposes that same path
// explicitly for operators who want to migrate ahead of a deploy rather
// than on first request.
var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Apply pending datastore migrations",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}

		if err := os.MkdirAll(cfg.Core.StateDir, 0755); err != nil {
			return &exitCodeError{code: exitStorageUnavailable, err: fmt.Errorf("create state dir: %w", err)}
		}

		dbPath := filepath.Join(cfg.Core.StateDir, "reroll.db")
		store, err := storage.Open(context.Background(), storage.Config{
			Path:                dbPath,
			PoolSize:            cfg.Core.PoolSize,
			BackupRetentionDays: cfg.Retention.BackupRetentionDays,
			MaxBackupCount:      cfg.Retention.MaxBackupCount,
		})
		if err != nil {
			code := exitStorageUnavailable
			if strings.Contains(err.Error(), "apply migrations") {
				code = exitMigrationFailure
			}
			return &exitCodeError{code: code, err: err}
		}
		defer store.Close()

		fmt.Printf("migrations applied at %s\n", dbPath)
		return nil
	},
}
