package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Core groups the storage-pool and timeout settings.
type Core struct {
	StateDir            string `yaml:"state_dir"`
	PoolSize            int    `yaml:"pool_size"`
	QueryTimeoutSeconds int    `yaml:"query_timeout_seconds"`
}

// Retention groups backup retention settings.
type Retention struct {
	AutoBackupEnabled   bool `yaml:"auto_backup_enabled"`
	BackupRetentionDays int  `yaml:"backup_retention_days"`
	MaxBackupCount      int  `yaml:"max_backup_count"`
}

// Registry groups worker-status state-machine settings (spec §4.3).
type Registry struct {
	HeartbeatRateMin      int     `yaml:"heartbeat_rate_min"`
	InactiveTimeMin       int     `yaml:"inactive_time_min"`
	InactiveInstanceCount int     `yaml:"inactive_instance_count"`
	InactivePPMThreshold  float64 `yaml:"inactive_ppm_threshold"`
	LeechEnabled          bool    `yaml:"leech_enabled"`
	LeechMinGP            int64   `yaml:"leech_min_gp"`
	LeechMinPacks         int64   `yaml:"leech_min_packs"`
}

// Verification groups the GP verification engine's cache settings (spec
// §4.4).
type Verification struct {
	ProbabilityCacheTTLSeconds int `yaml:"probability_cache_ttl_seconds"`
}

// Scheduling groups the scheduled-task intervals (spec §5).
type Scheduling struct {
	StatsIntervalMin       int `yaml:"stats_interval_min"`
	ExpirationScanSec      int `yaml:"expiration_scan_sec"`
	ExpirationWarningHours int `yaml:"expiration_warning_hours"`
	DailyResetLocalHour    int `yaml:"daily_reset_local_hour"`
}

// Emission groups the event bus's buffering settings (spec §4.7).
type Emission struct {
	SubscriberBufferCapacity int `yaml:"subscriber_buffer_capacity"`
}

// Config is the full configuration record of spec §6.
type Config struct {
	Core         Core         `yaml:"core"`
	Retention    Retention    `yaml:"retention"`
	Registry     Registry     `yaml:"registry"`
	Verification Verification `yaml:"verification"`
	Scheduling   Scheduling   `yaml:"scheduling"`
	Emission     Emission     `yaml:"emission"`
}

// Default returns the spec §6 default configuration.
func Default() Config {
	return Config{
		Core: Core{
			StateDir:            "./data",
			PoolSize:            5,
			QueryTimeoutSeconds: 30,
		},
		Retention: Retention{
			AutoBackupEnabled:   true,
			BackupRetentionDays: 30,
			MaxBackupCount:      50,
		},
		Registry: Registry{
			HeartbeatRateMin:      30,
			InactiveTimeMin:       61,
			InactiveInstanceCount: 0,
			InactivePPMThreshold:  0.1,
			LeechEnabled:          false,
			LeechMinGP:            1,
			LeechMinPacks:         10000,
		},
		Verification: Verification{
			ProbabilityCacheTTLSeconds: 300,
		},
		Scheduling: Scheduling{
			StatsIntervalMin:       30,
			ExpirationScanSec:      300,
			ExpirationWarningHours: 6,
			DailyResetLocalHour:    6,
		},
		Emission: Emission{
			SubscriberBufferCapacity: 1024,
		},
	}
}

// Load reads a YAML file at path over the spec §6 defaults: keys absent
// from the file keep their default value.
func Load(path string) (Config, error) {
	cfg := Default()
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("read config: %w", err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return Config{}, fmt.Errorf("parse config: %w", err)
	}
	return cfg, nil
}

// Validate enforces the numeric-range invariants spec §6 implies, the Go
// equivalent of the original's startup validation pass. It returns every
// violation found, joined, rather than stopping at the first.
func (c Config) Validate() error {
	var errs []string

	if c.Core.StateDir == "" {
		errs = append(errs, "core.state_dir must be set")
	}
	if c.Core.PoolSize <= 0 {
		errs = append(errs, "core.pool_size must be > 0")
	}
	if c.Core.QueryTimeoutSeconds <= 0 {
		errs = append(errs, "core.query_timeout_seconds must be > 0")
	}

	if c.Retention.BackupRetentionDays < 0 {
		errs = append(errs, "retention.backup_retention_days must be >= 0")
	}
	if c.Retention.MaxBackupCount < 0 {
		errs = append(errs, "retention.max_backup_count must be >= 0")
	}

	if c.Registry.HeartbeatRateMin <= 0 {
		errs = append(errs, "registry.heartbeat_rate_min must be > 0")
	}
	if c.Registry.InactiveTimeMin <= 0 {
		errs = append(errs, "registry.inactive_time_min must be > 0")
	}
	if c.Registry.InactiveInstanceCount < 0 {
		errs = append(errs, "registry.inactive_instance_count must be >= 0")
	}
	if c.Registry.InactivePPMThreshold < 0 {
		errs = append(errs, "registry.inactive_ppm_threshold must be >= 0")
	}
	if c.Registry.LeechMinGP < 0 {
		errs = append(errs, "registry.leech_min_gp must be >= 0")
	}
	if c.Registry.LeechMinPacks < 0 {
		errs = append(errs, "registry.leech_min_packs must be >= 0")
	}

	if c.Verification.ProbabilityCacheTTLSeconds <= 0 {
		errs = append(errs, "verification.probability_cache_ttl_seconds must be > 0")
	}

	if c.Scheduling.StatsIntervalMin <= 0 {
		errs = append(errs, "scheduling.stats_interval_min must be > 0")
	}
	if c.Scheduling.ExpirationScanSec <= 0 {
		errs = append(errs, "scheduling.expiration_scan_sec must be > 0")
	}
	if c.Scheduling.ExpirationWarningHours <= 0 {
		errs = append(errs, "scheduling.expiration_warning_hours must be > 0")
	}
	if c.Scheduling.DailyResetLocalHour < 0 || c.Scheduling.DailyResetLocalHour > 23 {
		errs = append(errs, "scheduling.daily_reset_local_hour must be in [0, 23]")
	}

	if c.Emission.SubscriberBufferCapacity <= 0 {
		errs = append(errs, "emission.subscriber_buffer_capacity must be > 0")
	}

	if len(errs) == 0 {
		return nil
	}
	return &ValidationError{Violations: errs}
}

// ValidationError reports every config violation Validate found.
type ValidationError struct {
	Violations []string
}

func (e *ValidationError) Error() string {
	msg := fmt.Sprintf("%d configuration error(s):", len(e.Violations))
	for _, v := range e.Violations {
		msg += "\n  - " + v
	}
	return msg
}

// ProbabilityCacheTTL returns the verification cache TTL as a Duration.
func (c Config) ProbabilityCacheTTL() time.Duration {
	return time.Duration(c.Verification.ProbabilityCacheTTLSeconds) * time.Second
}

// ExpirationScanInterval returns the expiration-scan task interval.
func (c Config) ExpirationScanInterval() time.Duration {
	return time.Duration(c.Scheduling.ExpirationScanSec) * time.Second
}

// ExpirationWarningWindow returns how far ahead of expiry a warning fires.
func (c Config) ExpirationWarningWindow() time.Duration {
	return time.Duration(c.Scheduling.ExpirationWarningHours) * time.Hour
}

// StatsSnapshotInterval returns the stats-snapshot task interval.
func (c Config) StatsSnapshotInterval() time.Duration {
	return time.Duration(c.Scheduling.StatsIntervalMin) * time.Minute
}
