package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

// Exit codes (spec §6).
const (
	exitOK                 = 0
	exitConfigError        = 1
	exitStorageUnavailable = 2
	exitMigrationFailure   = 3
)

var (
	// Version information (set via ldflags during build)
	Version   = "dev"
	Commit    = "unknown"
	BuildTime = "unknown"
)

var configPath string

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(exitCodeFor(err))
	}
}

var rootCmd = &cobra.Command{
	Use:   "rerollctl",
	Short: "reroll-core fleet coordinator",
	Long: `rerollctl runs and inspects the reroll fleet coordinator: ingestion,
worker registry, GP verification, scheduled maintenance, and the read-only
query API, all over one embedded datastore.`,
	Version: Version,
}

func init() {
	rootCmd.SetVersionTemplate(fmt.Sprintf(
		"rerollctl version %s\nCommit: %s\nBuilt: %s\n",
		Version, Commit, BuildTime,
	))

	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "Path to YAML config file (defaults applied when unset)")
	rootCmd.PersistentFlags().String("log-level", "info", "Log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().Bool("log-json", false, "Output logs in JSON format")

	cobra.OnInitialize(initLogging)

	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(migrateCmd)
	rootCmd.AddCommand(configCmd)
}

// exitCodeError lets a subcommand attach the specific spec §6 exit code a
// failure should produce, instead of cobra's blanket exit(1).
type exitCodeError struct {
	code int
	err  error
}

func (e *exitCodeError) Error() string { return e.err.Error() }
func (e *exitCodeError) Unwrap() error { return e.err }

func exitCodeFor(err error) int {
	if ec, ok := err.(*exitCodeError); ok {
		return ec.code
	}
	return exitConfigError
}
