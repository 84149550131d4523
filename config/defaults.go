package config

import "github.com/spf13/viper"

// SetDefaults configures default values for all configuration options
func SetDefaults(v *viper.Viper) {
	// Database defaults
	v.SetDefault("database.path", "exportd.db")

	// Engine defaults
	v.SetDefault("engine.workers", 2)
	v.SetDefault("engine.ticker_interval_seconds", 15)
	v.SetDefault("engine.poll_interval_seconds", 2)
	v.SetDefault("engine.dequeue_per_second", 4.0)
	v.SetDefault("engine.stuck_threshold_minutes", 10)
	v.SetDefault("engine.retention_days", 90)

	// Selection defaults
	v.SetDefault("selection.max_items", 500)

	// Quota defaults: active schedule definitions per organization by role.
	// Roles missing here cannot create schedules.
	v.SetDefault("quota.active_schedules_by_role", map[string]int{
		"owner":   50,
		"admin":   50,
		"manager": 10,
		"member":  3,
	})
}
