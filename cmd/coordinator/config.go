package main

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/ljungh/tandem/internal/drift"
	"github.com/ljungh/tandem/internal/session"
)

// Config is the coordinator's yaml configuration. Every field has a default
// and an environment override so the binary runs with no file at all.
type Config struct {
	Server struct {
		Addr string `yaml:"addr"`
	} `yaml:"server"`
	Session struct {
		TTL         string `yaml:"ttl"`
		HostGrace   string `yaml:"host_grace"`
		MaxSessions int    `yaml:"max_sessions"`
	} `yaml:"session"`
	Sync struct {
		Interval      string `yaml:"interval"`
		DriftFairMs   int64  `yaml:"drift_fair_ms"`
		DriftPoorMs   int64  `yaml:"drift_poor_ms"`
		OffsetBoundMs int64  `yaml:"offset_bound_ms"`
	} `yaml:"sync"`
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

func loadConfig(path string) (*Config, error) {
	var config Config
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, &config); err != nil {
			return nil, fmt.Errorf("failed to parse config: %w", err)
		}
	}

	if config.Server.Addr == "" {
		config.Server.Addr = ":" + getEnv("PORT", "8080")
	}
	if config.Session.MaxSessions == 0 {
		config.Session.MaxSessions = getEnvAsInt("MAX_SESSIONS", 0)
	}
	return &config, nil
}

func parseDuration(raw string, def time.Duration) (time.Duration, error) {
	if raw == "" {
		return def, nil
	}
	d, err := time.ParseDuration(raw)
	if err != nil {
		return 0, fmt.Errorf("invalid duration %q: %w", raw, err)
	}
	return d, nil
}

func (c *Config) sessionConfig() (session.Config, error) {
	cfg := session.DefaultConfig()

	var err error
	if cfg.SessionTTL, err = parseDuration(c.Session.TTL, cfg.SessionTTL); err != nil {
		return cfg, err
	}
	if cfg.HostGrace, err = parseDuration(c.Session.HostGrace, cfg.HostGrace); err != nil {
		return cfg, err
	}
	if cfg.SyncInterval, err = parseDuration(c.Sync.Interval, cfg.SyncInterval); err != nil {
		return cfg, err
	}
	cfg.MaxSessions = c.Session.MaxSessions
	if c.Sync.OffsetBoundMs > 0 {
		cfg.OffsetBoundMs = c.Sync.OffsetBoundMs
	}
	return cfg, nil
}

func (c *Config) driftConfig() drift.Config {
	cfg := drift.DefaultConfig()
	if c.Sync.DriftFairMs > 0 {
		cfg.FairThresholdMs = c.Sync.DriftFairMs
	}
	if c.Sync.DriftPoorMs > 0 {
		cfg.PoorThresholdMs = c.Sync.DriftPoorMs
	}
	return cfg
}
