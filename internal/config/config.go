// Package config loads pgtrickle's process-wide, reloadable configuration
// knobs (§6) over github.com/spf13/viper.
package config

import (
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config is the resolved set of §6 configuration knobs.
type Config struct {
	Enabled                     bool
	DatabaseURL                 string
	CatalogSchema                string
	SchedulerIntervalMS          int
	MinScheduleSeconds           int
	MaxConsecutiveErrors         int
	MaxConcurrentRefreshes       int
	ChangeBufferSchema           string
	DifferentialMaxChangeRatio   float64
	BlockSourceDDL               bool
	UsePreparedStatements        bool
	MergePlannerHints            bool
	CleanupUseTruncate           bool
	MergeWorkMemMB               int
	StatementTimeout             time.Duration
	AdminListenAddr              string
}

// Load reads configuration from (in ascending precedence) defaults, an
// optional config file, and PGTRICKLE_-prefixed environment variables.
func Load(configPath string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix("pgtrickle")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if configPath != "" {
		v.SetConfigFile(configPath)
		if err := v.ReadInConfig(); err != nil {
			return nil, err
		}
	}

	cfg := &Config{
		Enabled:                    v.GetBool("enabled"),
		DatabaseURL:                v.GetString("database_url"),
		CatalogSchema:              v.GetString("catalog_schema"),
		SchedulerIntervalMS:        v.GetInt("scheduler_interval_ms"),
		MinScheduleSeconds:         v.GetInt("min_schedule_seconds"),
		MaxConsecutiveErrors:       v.GetInt("max_consecutive_errors"),
		MaxConcurrentRefreshes:     v.GetInt("max_concurrent_refreshes"),
		ChangeBufferSchema:         v.GetString("change_buffer_schema"),
		DifferentialMaxChangeRatio: v.GetFloat64("differential_max_change_ratio"),
		BlockSourceDDL:             v.GetBool("block_source_ddl"),
		UsePreparedStatements:      v.GetBool("use_prepared_statements"),
		MergePlannerHints:          v.GetBool("merge_planner_hints"),
		CleanupUseTruncate:         v.GetBool("cleanup_use_truncate"),
		MergeWorkMemMB:             v.GetInt("merge_work_mem_mb"),
		StatementTimeout:           v.GetDuration("statement_timeout"),
		AdminListenAddr:            v.GetString("admin_listen_addr"),
	}
	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("enabled", true)
	v.SetDefault("catalog_schema", "pgtrickle")
	v.SetDefault("scheduler_interval_ms", 1000)
	v.SetDefault("min_schedule_seconds", 60)
	v.SetDefault("max_consecutive_errors", 3)
	v.SetDefault("max_concurrent_refreshes", 4)
	v.SetDefault("change_buffer_schema", "pgtrickle_changes")
	v.SetDefault("differential_max_change_ratio", 0.3)
	v.SetDefault("block_source_ddl", false)
	v.SetDefault("use_prepared_statements", true)
	v.SetDefault("merge_planner_hints", false)
	v.SetDefault("cleanup_use_truncate", true)
	v.SetDefault("merge_work_mem_mb", 64)
	v.SetDefault("statement_timeout", 30*time.Second)
	v.SetDefault("admin_listen_addr", ":8090")
}
