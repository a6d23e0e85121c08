// Wanderline Proximity - Proximity Alert Coordination Engine
// Copyright 2026 Wanderline Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/wanderline/proximity

// Package config loads layered configuration: built-in defaults, an
// optional YAML file, then PROXIMITY_-prefixed environment variables.
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/structs"
	"github.com/knadh/koanf/v2"
)

// DefaultConfigPaths lists where a config file is searched, first hit wins.
var DefaultConfigPaths = []string{
	"config.yaml",
	"config.yml",
	"/etc/proximity/config.yaml",
	"/etc/proximity/config.yml",
}

// ConfigPathEnvVar overrides the config file search entirely.
const ConfigPathEnvVar = "PROXIMITY_CONFIG_PATH"

// envPrefix is stripped from environment variables before mapping them to
// koanf paths: PROXIMITY_SERVER_PORT -> server.port.
const envPrefix = "PROXIMITY_"

// Config is the full daemon configuration.
type Config struct {
	Server   ServerConfig   `koanf:"server"`
	Store    StoreConfig    `koanf:"store"`
	Events   EventsConfig   `koanf:"events"`
	Debounce DebounceConfig `koanf:"debounce"`
	Recovery RecoveryConfig `koanf:"recovery"`
	Logging  LoggingConfig  `koanf:"logging"`
}

// ServerConfig tunes the debug/ops HTTP listener.
type ServerConfig struct {
	Host            string        `koanf:"host"`
	Port            int           `koanf:"port"`
	Timeout         time.Duration `koanf:"timeout"`
	ShutdownTimeout time.Duration `koanf:"shutdown_timeout"`
	RateLimitReqs   int           `koanf:"rate_limit_reqs"`
	RateLimitWindow time.Duration `koanf:"rate_limit_window"`
}

// StoreConfig locates the settings database. An empty path runs the store
// in memory.
type StoreConfig struct {
	Path string `koanf:"path"`
}

// EventsConfig tunes the control-event ingest.
type EventsConfig struct {
	Topic         string  `koanf:"topic"`
	BufferSize    int     `koanf:"buffer_size"`
	RatePerSecond float64 `koanf:"rate_per_second"`
	RateBurst     int     `koanf:"rate_burst"`
}

// DebounceConfig carries the timing knobs for the three debouncers.
type DebounceConfig struct {
	UpdateBaseDelay        time.Duration `koanf:"update_base_delay"`
	UpdateDelayStep        time.Duration `koanf:"update_delay_step"`
	UpdateMaxDelay         time.Duration `koanf:"update_max_delay"`
	UpdateMaxRetries       int           `koanf:"update_max_retries"`
	EnabledDelay           time.Duration `koanf:"enabled_delay"`
	EnabledCooldown        time.Duration `koanf:"enabled_cooldown"`
	EnabledDuplicateWindow time.Duration `koanf:"enabled_duplicate_window"`
	GeolocateHistorySize   int           `koanf:"geolocate_history_size"`
}

// RecoveryConfig bounds the error-recovery controller.
type RecoveryConfig struct {
	MaxAttempts int `koanf:"max_attempts"`
}

// LoggingConfig mirrors the logging package's setup knobs.
type LoggingConfig struct {
	Level  string `koanf:"level"`
	Format string `koanf:"format"`
	Caller bool   `koanf:"caller"`
}

func defaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Host:            "0.0.0.0",
			Port:            8490,
			Timeout:         30 * time.Second,
			ShutdownTimeout: 10 * time.Second,
			RateLimitReqs:   100,
			RateLimitWindow: time.Minute,
		},
		Store: StoreConfig{
			Path: "/data/proximity",
		},
		Events: EventsConfig{
			Topic:         "proximity.control-events",
			BufferSize:    256,
			RatePerSecond: 50,
			RateBurst:     100,
		},
		Debounce: DebounceConfig{
			UpdateBaseDelay:        500 * time.Millisecond,
			UpdateDelayStep:        200 * time.Millisecond,
			UpdateMaxDelay:         2 * time.Second,
			UpdateMaxRetries:       5,
			EnabledDelay:           300 * time.Millisecond,
			EnabledCooldown:        2 * time.Second,
			EnabledDuplicateWindow: 5 * time.Second,
			GeolocateHistorySize:   10,
		},
		Recovery: RecoveryConfig{
			MaxAttempts: 3,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
			Caller: false,
		},
	}
}

// Load builds the configuration from defaults, an optional YAML file, and
// environment variables, then validates it. Precedence: env > file >
// defaults.
func Load() (*Config, error) {
	k := koanf.New(".")

	if err := k.Load(structs.Provider(defaultConfig(), "koanf"), nil); err != nil {
		return nil, fmt.Errorf("load defaults: %w", err)
	}

	if path := findConfigFile(); path != "" {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("load config file %s: %w", path, err)
		}
	}

	envProvider := env.Provider(envPrefix, ".", func(s string) string {
		return strings.ReplaceAll(strings.ToLower(strings.TrimPrefix(s, envPrefix)), "_", ".")
	})
	if err := k.Load(envProvider, nil); err != nil {
		return nil, fmt.Errorf("load environment: %w", err)
	}

	cfg := &Config{}
	if err := k.Unmarshal("", cfg); err != nil {
		return nil, fmt.Errorf("unmarshal configuration: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}
	return cfg, nil
}

func findConfigFile() string {
	if envPath := os.Getenv(ConfigPathEnvVar); envPath != "" {
		if _, err := os.Stat(envPath); err == nil {
			return envPath
		}
	}
	for _, path := range DefaultConfigPaths {
		if _, err := os.Stat(path); err == nil {
			return path
		}
	}
	return ""
}

// Validate rejects configurations the daemon cannot run with.
func (c *Config) Validate() error {
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return fmt.Errorf("server.port %d out of range", c.Server.Port)
	}
	if c.Server.Timeout <= 0 {
		return fmt.Errorf("server.timeout must be positive")
	}
	if c.Events.Topic == "" {
		return fmt.Errorf("events.topic must not be empty")
	}
	if c.Events.RatePerSecond <= 0 {
		return fmt.Errorf("events.rate_per_second must be positive")
	}
	if c.Debounce.UpdateBaseDelay <= 0 {
		return fmt.Errorf("debounce.update_base_delay must be positive")
	}
	if c.Debounce.UpdateMaxDelay < c.Debounce.UpdateBaseDelay {
		return fmt.Errorf("debounce.update_max_delay must be at least update_base_delay")
	}
	if c.Debounce.UpdateMaxRetries < 1 {
		return fmt.Errorf("debounce.update_max_retries must be at least 1")
	}
	if c.Debounce.EnabledCooldown >= c.Debounce.EnabledDuplicateWindow {
		return fmt.Errorf("debounce.enabled_duplicate_window must exceed enabled_cooldown")
	}
	if c.Recovery.MaxAttempts < 1 {
		return fmt.Errorf("recovery.max_attempts must be at least 1")
	}
	switch c.Logging.Format {
	case "json", "console":
	default:
		return fmt.Errorf("logging.format %q must be json or console", c.Logging.Format)
	}
	return nil
}

// Addr returns the listen address for the HTTP server.
func (c *ServerConfig) Addr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}
