// Package config holds the exportd engine configuration, loaded from a
// TOML file with environment-variable overrides (EXPORTD_*).
package config

// Config represents the core exportd configuration
type Config struct {
	Database  DatabaseConfig  `mapstructure:"database"`
	Engine    EngineConfig    `mapstructure:"engine"`
	Selection SelectionConfig `mapstructure:"selection"`
	Quota     QuotaConfig     `mapstructure:"quota"`
}

// DatabaseConfig configures the SQLite database
type DatabaseConfig struct {
	Path string `mapstructure:"path"`
}

// EngineConfig configures the firing loop and the dispatcher worker pool
type EngineConfig struct {
	// Workers is the number of concurrent export workers (default: 2)
	Workers int `mapstructure:"workers"`

	// TickerIntervalSeconds is how often the firing loop checks for due
	// schedule definitions (default: 15)
	TickerIntervalSeconds int `mapstructure:"ticker_interval_seconds"`

	// PollIntervalSeconds is how often an idle worker polls for pending
	// jobs (default: 2)
	PollIntervalSeconds int `mapstructure:"poll_interval_seconds"`

	// DequeuePerSecond rate-limits job claims across the whole pool
	// (default: 4).
	DequeuePerSecond float64 `mapstructure:"dequeue_per_second"`

	// StuckThresholdMinutes is how long a processing job may sit at 0%
	// progress before the stuck signal raises (default: 10)
	StuckThresholdMinutes int `mapstructure:"stuck_threshold_minutes"`

	// RetentionDays is how long terminal jobs are kept before cleanup
	// removes them (default: 90). Archival, not cleanup, is the
	// user-facing deletion substitute.
	RetentionDays int `mapstructure:"retention_days"`
}

// SelectionConfig bounds bulk selections
type SelectionConfig struct {
	// MaxItems is the absolute ceiling on items per bulk export.
	// Request-supplied ceilings are capped at this value (default: 500).
	MaxItems int `mapstructure:"max_items"`
}

// QuotaConfig caps active schedule definitions per organization,
// keyed by the creating actor's role. A role absent from the map
// cannot create schedules at all.
type QuotaConfig struct {
	ActiveSchedulesByRole map[string]int `mapstructure:"active_schedules_by_role"`
}

// MaxActiveSchedules returns the active-schedule quota for a role,
// or 0 when the role has no quota (and so cannot create schedules).
func (q QuotaConfig) MaxActiveSchedules(role string) int {
	return q.ActiveSchedulesByRole[role]
}
