package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultPassesValidate(t *testing.T) {
	assert.NoError(t, Default().Validate())
}

func TestLoadOverlaysDefaults(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
core:
  state_dir: /var/lib/reroll
  pool_size: 10
registry:
  leech_enabled: true
`), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "/var/lib/reroll", cfg.Core.StateDir)
	assert.Equal(t, 10, cfg.Core.PoolSize)
	assert.True(t, cfg.Registry.LeechEnabled)
	assert.Equal(t, 30, cfg.Core.QueryTimeoutSeconds, "unset keys keep their default")
	assert.Equal(t, 1024, cfg.Emission.SubscriberBufferCapacity, "unset keys keep their default")
}

func TestValidateCollectsMultipleViolations(t *testing.T) {
	cfg := Default()
	cfg.Core.PoolSize = 0
	cfg.Registry.InactiveTimeMin = -1
	cfg.Scheduling.DailyResetLocalHour = 30

	err := cfg.Validate()
	require.Error(t, err)
	var verr *ValidationError
	require.ErrorAs(t, err, &verr)
	assert.Len(t, verr.Violations, 3)
}

func TestValidateRejectsEmptyStateDir(t *testing.T) {
	cfg := Default()
	cfg.Core.StateDir = ""
	assert.Error(t, cfg.Validate())
}
