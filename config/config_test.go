package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaults(t *testing.T) {
	v := viper.New()
	SetDefaults(v)

	var cfg Config
	require.NoError(t, v.Unmarshal(&cfg))

	assert.Equal(t, "exportd.db", cfg.Database.Path)
	assert.Equal(t, 2, cfg.Engine.Workers)
	assert.Equal(t, 15, cfg.Engine.TickerIntervalSeconds)
	assert.Equal(t, 500, cfg.Selection.MaxItems)
	assert.Equal(t, 10, cfg.Engine.StuckThresholdMinutes)
}

func TestQuotaByRole(t *testing.T) {
	v := viper.New()
	SetDefaults(v)

	var cfg Config
	require.NoError(t, v.Unmarshal(&cfg))

	assert.Equal(t, 50, cfg.Quota.MaxActiveSchedules("admin"))
	assert.Equal(t, 3, cfg.Quota.MaxActiveSchedules("member"))
	// Unknown roles get no quota at all.
	assert.Equal(t, 0, cfg.Quota.MaxActiveSchedules("viewer"))
}

func TestLoadFromFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "exportd.toml")
	content := `
[database]
path = "/tmp/engine-test.db"

[engine]
workers = 5
ticker_interval_seconds = 30

[selection]
max_items = 200

[quota.active_schedules_by_role]
admin = 99
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))

	cfg, err := LoadFromFile(path)
	require.NoError(t, err)

	assert.Equal(t, "/tmp/engine-test.db", cfg.Database.Path)
	assert.Equal(t, 5, cfg.Engine.Workers)
	assert.Equal(t, 30, cfg.Engine.TickerIntervalSeconds)
	assert.Equal(t, 200, cfg.Selection.MaxItems)
	assert.Equal(t, 99, cfg.Quota.MaxActiveSchedules("admin"))
	// Unset sections keep their defaults.
	assert.Equal(t, 2, cfg.Engine.PollIntervalSeconds)
}

func TestLoadFromFileMissing(t *testing.T) {
	_, err := LoadFromFile(filepath.Join(t.TempDir(), "nope.toml"))
	assert.Error(t, err)
}
