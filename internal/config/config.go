// Package config loads process configuration from defaults, an optional YAML
// file and environment variables.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/Xavier-Fan123/oil-trading-system-sub012/internal/execution"
	"github.com/Xavier-Fan123/oil-trading-system-sub012/internal/logger"
)

// Store backends
const (
	StoreMemory = "memory"
	StoreRedis  = "redis"
	StoreSQL    = "sql"
)

// Config holds all configuration for the report scheduler processes
type Config struct {
	// RedisURL is the connection URL for Redis
	RedisURL string
	// APIPort is the port the API server listens on
	APIPort string

	Store     StoreConfig
	Scheduler SchedulerConfig
	Worker    WorkerConfig
	History   HistoryConfig

	// Logging configuration
	Logging *logger.Config
}

// StoreConfig selects where schedules are persisted
type StoreConfig struct {
	// Backend is redis or sql. memory is only accepted by store.Open for
	// tests and single-process embedding.
	Backend string
	// SQLPath is the sqlite database file used by the sql backend
	SQLPath string
}

// SchedulerConfig tunes the polling loop
type SchedulerConfig struct {
	Interval time.Duration
	// LeaseEnabled makes replicas take turns polling through a Redis lease
	LeaseEnabled bool
	LeaseTTL     time.Duration
	// FireRate caps schedules fired per second; 0 means unlimited
	FireRate  float64
	FireBurst int
}

// HistoryConfig sets how long execution results are kept
type HistoryConfig struct {
	SuccessTTL time.Duration
	FailureTTL time.Duration
}

// Load reads configuration. path names a YAML file; when empty, reportsched.yaml
// in the working directory is used if it exists. Environment variables such as
// REDIS_URL or SCHEDULER_INTERVAL override both.
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
		}
	} else {
		v.SetConfigName("reportsched")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		if err := v.ReadInConfig(); err != nil {
			var notFound viper.ConfigFileNotFoundError
			if !errors.As(err, &notFound) {
				return nil, fmt.Errorf("failed to read config file: %w", err)
			}
		}
	}

	cfg := &Config{
		RedisURL: v.GetString("redis_url"),
		APIPort:  v.GetString("api_port"),
		Store: StoreConfig{
			Backend: strings.ToLower(v.GetString("store_backend")),
			SQLPath: v.GetString("sql_path"),
		},
		Scheduler: SchedulerConfig{
			Interval:     v.GetDuration("scheduler_interval"),
			LeaseEnabled: v.GetBool("scheduler_lease_enabled"),
			LeaseTTL:     v.GetDuration("scheduler_lease_ttl"),
			FireRate:     v.GetFloat64("scheduler_fire_rate"),
			FireBurst:    v.GetInt("scheduler_fire_burst"),
		},
		Worker: WorkerConfig{
			Mode:           WorkerMode(v.GetString("worker_mode")),
			Concurrency:    v.GetInt("worker_concurrency"),
			Priorities:     parsePriorities(v.GetString("worker_priorities")),
			RequestTimeout: v.GetDuration("request_timeout"),
			PollInterval:   v.GetDuration("worker_poll_interval"),
		},
		History: HistoryConfig{
			SuccessTTL: v.GetDuration("result_ttl_success"),
			FailureTTL: v.GetDuration("result_ttl_failure"),
		},
		Logging: loadLoggingConfig(v),
	}
	cfg.Worker.applyModeDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("redis_url", "redis://localhost:6379")
	v.SetDefault("api_port", "8080")
	v.SetDefault("store_backend", StoreRedis)
	v.SetDefault("sql_path", "data/reportsched.db")

	v.SetDefault("scheduler_interval", time.Second)
	v.SetDefault("scheduler_lease_enabled", true)
	v.SetDefault("scheduler_lease_ttl", 30*time.Second)
	v.SetDefault("scheduler_fire_rate", 0)
	v.SetDefault("scheduler_fire_burst", 10)

	v.SetDefault("worker_mode", string(WorkerModeDefault))
	v.SetDefault("worker_concurrency", 5)
	v.SetDefault("worker_priorities", "")
	v.SetDefault("request_timeout", 5*time.Minute)
	v.SetDefault("worker_poll_interval", 500*time.Millisecond)

	v.SetDefault("result_ttl_success", time.Hour)
	v.SetDefault("result_ttl_failure", 24*time.Hour)

	v.SetDefault("log_level", string(logger.LevelInfo))
	v.SetDefault("log_format", string(logger.FormatJSON))
	v.SetDefault("log_console_enabled", true)
	v.SetDefault("log_color", true)
	v.SetDefault("log_console_buffer_size", 65536)
	v.SetDefault("log_console_flush_interval", 100*time.Millisecond)
	v.SetDefault("log_file_enabled", false)
	v.SetDefault("log_file_path", "/var/log/reportsched/reportsched.log")
	v.SetDefault("log_file_max_size_mb", 100)
	v.SetDefault("log_file_max_backups", 5)
	v.SetDefault("log_file_max_age_days", 30)
	v.SetDefault("log_file_compress", true)
	v.SetDefault("log_file_buffer_size", 10000)
	v.SetDefault("log_file_batch_size", 100)
	v.SetDefault("log_file_batch_interval", 100*time.Millisecond)
}

// Validate checks the configuration as a whole
func (c *Config) Validate() error {
	if c.RedisURL == "" {
		return fmt.Errorf("REDIS_URL cannot be empty")
	}
	if c.APIPort == "" {
		return fmt.Errorf("API_PORT cannot be empty")
	}

	switch c.Store.Backend {
	case StoreMemory:
		// api and scheduler are separate processes, each would get its own empty map
		return fmt.Errorf("store backend memory cannot be shared between processes (use redis or sql)")
	case StoreRedis:
	case StoreSQL:
		if c.Store.SQLPath == "" {
			return fmt.Errorf("SQL_PATH cannot be empty with the sql store backend")
		}
	default:
		return fmt.Errorf("invalid store backend: %s (must be one of: redis, sql)", c.Store.Backend)
	}

	if c.Scheduler.Interval < 100*time.Millisecond {
		return fmt.Errorf("scheduler interval too short: %v (minimum 100ms)", c.Scheduler.Interval)
	}
	if c.Scheduler.Interval > time.Minute {
		return fmt.Errorf("scheduler interval too long: %v (maximum 1 minute)", c.Scheduler.Interval)
	}
	if c.Scheduler.LeaseEnabled && c.Scheduler.LeaseTTL <= c.Scheduler.Interval {
		return fmt.Errorf("scheduler lease TTL %v must be longer than the interval %v", c.Scheduler.LeaseTTL, c.Scheduler.Interval)
	}
	if c.Scheduler.FireRate < 0 {
		return fmt.Errorf("scheduler fire rate cannot be negative")
	}

	if err := c.Worker.Validate(); err != nil {
		return err
	}

	if c.History.SuccessTTL <= 0 || c.History.FailureTTL <= 0 {
		return fmt.Errorf("result TTLs must be positive")
	}

	if err := c.Logging.Validate(); err != nil {
		return fmt.Errorf("invalid logging config: %w", err)
	}
	return nil
}

func loadLoggingConfig(v *viper.Viper) *logger.Config {
	cfg := logger.DefaultConfig()
	cfg.Level = logger.LogLevel(strings.ToLower(v.GetString("log_level")))
	cfg.Format = logger.LogFormat(strings.ToLower(v.GetString("log_format")))

	// Tier 1: Console
	cfg.Console.Enabled = v.GetBool("log_console_enabled")
	cfg.Console.Color = v.GetBool("log_color")
	cfg.Console.BufferSize = v.GetInt("log_console_buffer_size")
	cfg.Console.FlushInterval = v.GetDuration("log_console_flush_interval")

	// Tier 2: File
	cfg.File.Enabled = v.GetBool("log_file_enabled")
	cfg.File.Path = v.GetString("log_file_path")
	cfg.File.MaxSizeMB = v.GetInt("log_file_max_size_mb")
	cfg.File.MaxBackups = v.GetInt("log_file_max_backups")
	cfg.File.MaxAgeDays = v.GetInt("log_file_max_age_days")
	cfg.File.Compress = v.GetBool("log_file_compress")
	cfg.File.BufferSize = v.GetInt("log_file_buffer_size")
	cfg.File.BatchSize = v.GetInt("log_file_batch_size")
	cfg.File.BatchInterval = v.GetDuration("log_file_batch_interval")

	return cfg
}

// parsePriorities parses a comma-separated list of queue priorities.
// Unknown names are kept so Validate can report them.
func parsePriorities(s string) []execution.Priority {
	if strings.TrimSpace(s) == "" {
		return nil
	}
	var priorities []execution.Priority
	for _, part := range strings.Split(s, ",") {
		if trimmed := strings.TrimSpace(strings.ToLower(part)); trimmed != "" {
			priorities = append(priorities, execution.Priority(trimmed))
		}
	}
	return priorities
}
