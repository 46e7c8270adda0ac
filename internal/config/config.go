// Copyright 2026 The Orchestrator Authors
// SPDX-License-Identifier: Apache-2.0

// Package config loads server configuration from an optional YAML file
// and ORCHESTRATOR_-prefixed environment variables, with environment
// values taking precedence.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds the full server configuration.
type Config struct {
	// Addr is the listen address of the HTTP server.
	Addr string `mapstructure:"addr"`

	// LogLevel is one of debug, info, warn, error.
	LogLevel string `mapstructure:"log_level"`

	// TokenKey is the shared HS256 key verifying subscriber tokens.
	// The server refuses to start without one.
	TokenKey string `mapstructure:"token_key"`

	// Heartbeat is the keepalive interval for open streams.
	Heartbeat time.Duration `mapstructure:"heartbeat"`

	// SessionInactivityTimeout is the sliding expiry for idle sessions.
	SessionInactivityTimeout time.Duration `mapstructure:"session_inactivity_timeout"`

	// MessageTTL bounds the age of retained task messages.
	MessageTTL time.Duration `mapstructure:"message_ttl"`

	// Retention overrides for terminal tasks, by task type. Zero
	// values keep the built-in delay.
	RetentionEphemeral   time.Duration `mapstructure:"retention_ephemeral"`
	RetentionLongRunning time.Duration `mapstructure:"retention_long_running"`
	RetentionSwarm       time.Duration `mapstructure:"retention_swarm"`

	// BufferCapacity is the ring size of the observability buffer.
	BufferCapacity int `mapstructure:"buffer_capacity"`

	// FeedSize is the per-subscriber live feed queue size.
	FeedSize int `mapstructure:"feed_size"`

	// DatabaseDSN enables the durable status mirror when non-empty.
	DatabaseDSN string `mapstructure:"database_dsn"`

	// DatabaseMigrate runs the mirror's schema migration at start-up.
	DatabaseMigrate bool `mapstructure:"database_migrate"`

	// ShutdownTimeout bounds graceful shutdown.
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
}

// Load reads configuration from the named file (optional) and the
// environment.
func Load(path string) (*Config, error) {
	v := viper.New()

	v.SetDefault("addr", ":8080")
	v.SetDefault("log_level", "info")
	v.SetDefault("heartbeat", 15*time.Second)
	v.SetDefault("session_inactivity_timeout", 60*time.Second)
	v.SetDefault("message_ttl", time.Hour)
	v.SetDefault("buffer_capacity", 1000)
	v.SetDefault("feed_size", 256)
	v.SetDefault("database_migrate", false)
	v.SetDefault("shutdown_timeout", 10*time.Second)

	v.SetEnvPrefix("ORCHESTRATOR")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			var notFound viper.ConfigFileNotFoundError
			if !errors.As(err, &notFound) {
				return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
			}
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks the configuration for values the server cannot run
// with.
func (c *Config) Validate() error {
	if c.Addr == "" {
		return fmt.Errorf("addr cannot be empty")
	}
	if c.TokenKey == "" {
		return fmt.Errorf("token_key must be set (ORCHESTRATOR_TOKEN_KEY)")
	}
	if c.Heartbeat <= 0 {
		return fmt.Errorf("heartbeat must be positive")
	}
	if c.BufferCapacity <= 0 {
		return fmt.Errorf("buffer_capacity must be positive")
	}
	switch c.LogLevel {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("unknown log_level %q", c.LogLevel)
	}
	return nil
}
