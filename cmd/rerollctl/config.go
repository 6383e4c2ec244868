package main

import (
	"fmt"

	"github.com/cuemby/reroll-core/pkg/config"
	"github.com/spf13/cobra"
)

// loadConfig reads configPath (or the documented defaults, if unset) and
// validates it, returning an *exitCodeError with exitConfigError on either
// failure (spec §6).
func loadConfig() (config.Config, error) {
	var cfg config.Config
	var err error
	if configPath == "" {
		cfg = config.Default()
	} else {
		cfg, err = config.Load(configPath)
		if err != nil {
			return config.Config{}, &exitCodeError{code: exitConfigError, err: fmt.Errorf("load config: %w", err)}
		}
	}
	if err := cfg.Validate(); err != nil {
		return config.Config{}, &exitCodeError{code: exitConfigError, err: err}
	}
	return cfg, nil
}

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Inspect and validate configuration",
}

var configValidateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Load and validate the configuration file",
	RunE: func(cmd *cobra.Command, args []string) error {
		if _, err := loadConfig(); err != nil {
			return err
		}
		fmt.Println("configuration is valid")
		return nil
	},
}

func init() {
	configCmd.AddCommand(configValidateCmd)
}
