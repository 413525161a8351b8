// Package config loads the service configuration from YAML with environment
// overrides for deployment-specific values.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/schedulekit/constraints/cache"
	"github.com/schedulekit/constraints/engine"
	"github.com/schedulekit/constraints/monitor"
)

// Config is the root service configuration.
type Config struct {
	Server   ServerConfig   `yaml:"server"`
	Database DatabaseConfig `yaml:"database"`
	Engine   EngineConfig   `yaml:"engine"`
	Cache    CacheConfig    `yaml:"cache"`
	Monitor  MonitorConfig  `yaml:"monitor"`
	Logging  LoggingConfig  `yaml:"logging"`
}

type ServerConfig struct {
	Port            int           `yaml:"port"`
	ReadTimeout     time.Duration `yaml:"read_timeout"`
	WriteTimeout    time.Duration `yaml:"write_timeout"`
	IdleTimeout     time.Duration `yaml:"idle_timeout"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
}

type DatabaseConfig struct {
	URL string `yaml:"url"`
}

type EngineConfig struct {
	ParallelEvaluations int `yaml:"parallel_evaluations"`
	HistoryLimit        int `yaml:"history_limit"`
}

type CacheConfig struct {
	Enabled         bool          `yaml:"enabled"`
	TTL             time.Duration `yaml:"ttl"`
	MaxSize         int           `yaml:"max_size"`
	CleanupInterval time.Duration `yaml:"cleanup_interval"`
	AdaptiveTTL     bool          `yaml:"adaptive_ttl"`
}

type MonitorConfig struct {
	SampleInterval time.Duration `yaml:"sample_interval"`
	Retention      time.Duration `yaml:"retention"`
}

type LoggingConfig struct {
	Level string `yaml:"level"`
}

// Default returns the configuration used when no file is present.
func Default() *Config {
	ec := engine.DefaultConfig()
	return &Config{
		Server: ServerConfig{
			Port:            8080,
			ReadTimeout:     15 * time.Second,
			WriteTimeout:    15 * time.Second,
			IdleTimeout:     60 * time.Second,
			ShutdownTimeout: 30 * time.Second,
		},
		Engine: EngineConfig{
			ParallelEvaluations: ec.ParallelEvaluations,
			HistoryLimit:        ec.HistoryLimit,
		},
		Cache: CacheConfig{
			Enabled:         ec.Cache.Enabled,
			TTL:             ec.Cache.TTL,
			MaxSize:         ec.Cache.MaxSize,
			CleanupInterval: ec.Cache.CleanupInterval,
			AdaptiveTTL:     ec.Cache.AdaptiveTTL,
		},
		Monitor: MonitorConfig{
			SampleInterval: ec.Monitor.SampleInterval,
			Retention:      ec.Monitor.Retention,
		},
		Logging: LoggingConfig{Level: "INFO"},
	}
}

// Load reads YAML from path (skipped when empty), then applies environment
// overrides and validates.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config file: %w", err)
		}
	}

	cfg.applyEnv()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// applyEnv lets deployment environments override file values.
func (c *Config) applyEnv() {
	if v := os.Getenv("DATABASE_URL"); v != "" {
		c.Database.URL = v
	}
	if v := os.Getenv("PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			c.Server.Port = port
		}
	}
	if v := os.Getenv("LOG_LEVEL"); v != "" {
		c.Logging.Level = v
	}
}

// Validate checks the loaded configuration.
func (c *Config) Validate() error {
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid server port: %d", c.Server.Port)
	}
	if c.Engine.ParallelEvaluations < 1 {
		return fmt.Errorf("parallel_evaluations must be at least 1, got %d", c.Engine.ParallelEvaluations)
	}
	if c.Cache.Enabled {
		if c.Cache.MaxSize < 1 {
			return fmt.Errorf("cache max_size must be at least 1, got %d", c.Cache.MaxSize)
		}
		if c.Cache.TTL <= 0 {
			return fmt.Errorf("cache ttl must be positive, got %s", c.Cache.TTL)
		}
	}
	return nil
}

// ToEngineConfig maps the service configuration onto the engine's own
// config type.
func (c *Config) ToEngineConfig() engine.Config {
	return engine.Config{
		ParallelEvaluations: c.Engine.ParallelEvaluations,
		HistoryLimit:        c.Engine.HistoryLimit,
		Cache: cache.Config{
			Enabled:         c.Cache.Enabled,
			TTL:             c.Cache.TTL,
			MaxSize:         c.Cache.MaxSize,
			CleanupInterval: c.Cache.CleanupInterval,
			AdaptiveTTL:     c.Cache.AdaptiveTTL,
		},
		Monitor: monitor.Config{
			SampleInterval: c.Monitor.SampleInterval,
			Retention:      c.Monitor.Retention,
		},
	}
}
