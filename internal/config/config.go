// Package config loads the audit server's own configuration: judge
// invocation, cache sizing, queue concurrency, history limits, and session
// storage. It follows the teacher's nested mapstructure-tagged Config
// plus viper.Unmarshal + applyDefaults shape, restructured for this
// domain's own knobs (the teacher's own Config.Session concerned agent
// sessions running on VMs, unrelated to this package's thought.SessionConfig,
// which is a per-request audit config a caller submits).
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/viper"
)

// JudgeConfig controls how the external judge process is invoked.
type JudgeConfig struct {
	Executable         string   `mapstructure:"executable"`
	ExtraArgs          []string `mapstructure:"extra_args"`
	AuditTimeoutMillis int      `mapstructure:"audit_timeout_millis"`
}

// CacheConfig sizes the audit result cache.
type CacheConfig struct {
	Capacity int           `mapstructure:"capacity"`
	TTL      time.Duration `mapstructure:"ttl"`
}

// QueueConfig bounds audit concurrency.
type QueueConfig struct {
	Concurrency int `mapstructure:"concurrency"`
}

// HistoryConfig controls iteration-history compression and eviction.
type HistoryConfig struct {
	CompressionAge        time.Duration `mapstructure:"compression_age"`
	CompressionThreshold  int           `mapstructure:"compression_threshold_bytes"`
	MaxIterationsInMemory int           `mapstructure:"max_iterations_in_memory"`
	MaxMemoryUsageBytes   int64         `mapstructure:"max_memory_usage_bytes"`
}

// SessionConfig controls on-disk session persistence. Not to be confused
// with thought.SessionConfig, the per-audit-request config a caller submits.
type SessionConfig struct {
	StateDir         string        `mapstructure:"state_dir"`
	MaxAge           time.Duration `mapstructure:"max_age"`
	DefaultThreshold int           `mapstructure:"default_threshold"`
}

// RubricConfig controls where the review rubric interpolated into the
// judge prompt comes from.
type RubricConfig struct {
	URL                string `mapstructure:"url"`
	FetchTimeoutMillis int    `mapstructure:"fetch_timeout_millis"`
}

// Config is the root configuration for the audit server.
type Config struct {
	Judge   JudgeConfig   `mapstructure:"judge"`
	Cache   CacheConfig   `mapstructure:"cache"`
	Queue   QueueConfig   `mapstructure:"queue"`
	History HistoryConfig `mapstructure:"history"`
	Session SessionConfig `mapstructure:"session"`
	Rubric  RubricConfig  `mapstructure:"rubric"`
}

// Load reads configuration from file and environment, applying defaults
// for anything left unset.
func Load() (*Config, error) {
	cfg := &Config{}

	if err := viper.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	applyDefaults(cfg)

	return cfg, nil
}

// applyDefaults sets default values for unset fields.
func applyDefaults(cfg *Config) {
	if cfg.Judge.Executable == "" {
		cfg.Judge.Executable = "codex"
	}
	if cfg.Judge.AuditTimeoutMillis == 0 {
		cfg.Judge.AuditTimeoutMillis = 30000
	}

	if cfg.Cache.Capacity == 0 {
		cfg.Cache.Capacity = 500
	}
	if cfg.Cache.TTL == 0 {
		cfg.Cache.TTL = 15 * time.Minute
	}

	if cfg.Queue.Concurrency == 0 {
		cfg.Queue.Concurrency = 5
	}

	if cfg.History.CompressionAge == 0 {
		cfg.History.CompressionAge = 1 * time.Hour
	}
	if cfg.History.CompressionThreshold == 0 {
		cfg.History.CompressionThreshold = 8 * 1024
	}
	if cfg.History.MaxIterationsInMemory == 0 {
		cfg.History.MaxIterationsInMemory = 50
	}
	if cfg.History.MaxMemoryUsageBytes == 0 {
		cfg.History.MaxMemoryUsageBytes = 100 * 1024 * 1024
	}

	if cfg.Session.StateDir == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			home = "."
		}
		cfg.Session.StateDir = filepath.Join(home, ".ganauditd", "sessions")
	}
	if cfg.Session.MaxAge == 0 {
		cfg.Session.MaxAge = 7 * 24 * time.Hour
	}
	if cfg.Session.DefaultThreshold == 0 {
		cfg.Session.DefaultThreshold = 85
	}

	if cfg.Rubric.FetchTimeoutMillis == 0 {
		cfg.Rubric.FetchTimeoutMillis = 5000
	}
}

// Validate checks the configuration for internally-inconsistent values
// that would otherwise surface as confusing runtime errors.
func (c *Config) Validate() error {
	if c.Judge.Executable == "" {
		return fmt.Errorf("judge executable is required")
	}
	if c.Judge.AuditTimeoutMillis <= 0 {
		return fmt.Errorf("judge audit_timeout_millis must be positive")
	}
	if c.Cache.Capacity < 0 {
		return fmt.Errorf("cache capacity must not be negative")
	}
	if c.Queue.Concurrency <= 0 {
		return fmt.Errorf("queue concurrency must be positive")
	}
	if c.Session.DefaultThreshold < 0 || c.Session.DefaultThreshold > 100 {
		return fmt.Errorf("session default_threshold must be between 0 and 100")
	}
	return nil
}
