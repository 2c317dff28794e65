// Package config loads engine settings from a config file and
// environment variables.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds all tunables for the cache engine and sync daemon.
type Config struct {
	// Endpoint is the remote reminder service base URL.
	Endpoint string `mapstructure:"endpoint"`
	// DatabasePath is the SQLite cache file location.
	DatabasePath string `mapstructure:"database_path"`
	// DayStartHour is the local hour (0-23) at which a logical day
	// begins.
	DayStartHour int `mapstructure:"day_start_hour"`
	// RetentionCeilingBytes caps the estimated cache size before LRU
	// eviction of disabled rows kicks in.
	RetentionCeilingBytes int64 `mapstructure:"retention_ceiling_bytes"`
	// SyncInterval is the background reconciliation period.
	SyncInterval time.Duration `mapstructure:"sync_interval"`
	// PushBatchSize bounds mutations drained per cycle.
	PushBatchSize int `mapstructure:"push_batch_size"`
	// QueueCeilingBytes triggers compaction of oversized pending
	// mutation payloads. Zero disables compaction.
	QueueCeilingBytes int64 `mapstructure:"queue_ceiling_bytes"`
	// MaxRetries bounds delivery attempts per queued mutation.
	MaxRetries int `mapstructure:"max_retries"`
	// RequestTimeout bounds each remote HTTP request.
	RequestTimeout time.Duration `mapstructure:"request_timeout"`
	// RequestAttempts is the in-call retry budget for transient
	// failures.
	RequestAttempts int `mapstructure:"request_attempts"`
	// LogFile receives daemon logs; empty means stderr.
	LogFile string `mapstructure:"log_file"`
	// Timezone names the location for day-boundary scheduling; empty
	// means the system local zone.
	Timezone string `mapstructure:"timezone"`
}

// Load reads configuration with precedence: explicit file path, then
// remindd.yaml in the config dir, then REMINDD_* environment variables,
// then built-in defaults. A missing config file is not an error.
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix("REMINDD")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config %s: %w", path, err)
		}
	} else {
		v.SetConfigName("remindd")
		v.SetConfigType("yaml")
		if dir, err := os.UserConfigDir(); err == nil {
			v.AddConfigPath(filepath.Join(dir, "remindd"))
		}
		v.AddConfigPath(".")
		if err := v.ReadInConfig(); err != nil {
			var notFound viper.ConfigFileNotFoundError
			if !errors.As(err, &notFound) {
				return nil, fmt.Errorf("failed to read config: %w", err)
			}
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate rejects values the engine cannot run with.
func (c *Config) Validate() error {
	if c.DayStartHour < 0 || c.DayStartHour > 23 {
		return fmt.Errorf("day_start_hour must be 0-23, got %d", c.DayStartHour)
	}
	if c.RetentionCeilingBytes <= 0 {
		return fmt.Errorf("retention_ceiling_bytes must be positive, got %d", c.RetentionCeilingBytes)
	}
	if c.SyncInterval < time.Second {
		return fmt.Errorf("sync_interval must be at least 1s, got %s", c.SyncInterval)
	}
	if c.PushBatchSize <= 0 {
		return fmt.Errorf("push_batch_size must be positive, got %d", c.PushBatchSize)
	}
	if c.MaxRetries <= 0 {
		return fmt.Errorf("max_retries must be positive, got %d", c.MaxRetries)
	}
	if c.Timezone != "" {
		if _, err := time.LoadLocation(c.Timezone); err != nil {
			return fmt.Errorf("invalid timezone %q: %w", c.Timezone, err)
		}
	}
	return nil
}

// Location resolves the configured timezone, falling back to local.
func (c *Config) Location() *time.Location {
	if c.Timezone == "" {
		return time.Local
	}
	loc, err := time.LoadLocation(c.Timezone)
	if err != nil {
		return time.Local
	}
	return loc
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("endpoint", "http://localhost:8080")
	v.SetDefault("database_path", defaultDatabasePath())
	v.SetDefault("day_start_hour", 4)
	v.SetDefault("retention_ceiling_bytes", int64(25<<20))
	v.SetDefault("sync_interval", 5*time.Minute)
	v.SetDefault("push_batch_size", 100)
	v.SetDefault("queue_ceiling_bytes", int64(4<<20))
	v.SetDefault("max_retries", 8)
	v.SetDefault("request_timeout", 15*time.Second)
	v.SetDefault("request_attempts", 3)
	v.SetDefault("log_file", "")
	v.SetDefault("timezone", "")
}

func defaultDatabasePath() string {
	dir, err := os.UserCacheDir()
	if err != nil {
		return "remindd.db"
	}
	return filepath.Join(dir, "remindd", "cache.db")
}
