// Driftline - Real-Time Chat Event Distribution
// Copyright 2026 Driftline Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/driftline/driftline

// Package config loads layered configuration: built-in defaults, then an
// optional YAML file, then DRIFTLINE_* environment variables. Later layers
// win.
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/structs"
	"github.com/knadh/koanf/v2"
)

// ConfigPathEnvVar points at an explicit config file, bypassing the search
// paths.
const ConfigPathEnvVar = "DRIFTLINE_CONFIG"

// DefaultConfigPaths are searched in order when no explicit path is set.
var DefaultConfigPaths = []string{
	"driftline.yaml",
	"config/driftline.yaml",
	"/etc/driftline/driftline.yaml",
}

// Config is the complete runtime configuration.
type Config struct {
	Server   ServerConfig   `koanf:"server"`
	Auth     AuthConfig     `koanf:"auth"`
	Logging  LoggingConfig  `koanf:"logging"`
	Events   EventsConfig   `koanf:"events"`
	Store    StoreConfig    `koanf:"store"`
	Presence PresenceConfig `koanf:"presence"`
}

// ServerConfig controls the HTTP listener.
type ServerConfig struct {
	Host            string        `koanf:"host"`
	Port            int           `koanf:"port" validate:"min=1,max=65535"`
	ReadTimeout     time.Duration `koanf:"read_timeout" validate:"min=1s"`
	WriteTimeout    time.Duration `koanf:"write_timeout" validate:"min=1s"`
	ShutdownTimeout time.Duration `koanf:"shutdown_timeout" validate:"min=1s"`
	CORSOrigins     []string      `koanf:"cors_origins"`
	RateLimit       int           `koanf:"rate_limit" validate:"min=1"`
	RateLimitWindow time.Duration `koanf:"rate_limit_window" validate:"min=1s"`
}

// AuthConfig controls login and stream authentication. An empty JWT secret
// makes the server generate an ephemeral one at startup, which invalidates
// sessions on restart.
type AuthConfig struct {
	JWTSecret    string        `koanf:"jwt_secret" validate:"omitempty,min=32"`
	TokenTTL     time.Duration `koanf:"token_ttl" validate:"min=1m"`
	CookieName   string        `koanf:"cookie_name" validate:"required"`
	CookieSecure bool          `koanf:"cookie_secure"`

	// AdminUsername and AdminPassword seed the bootstrap user. Logins stay
	// disabled when no password is set.
	AdminUsername string `koanf:"admin_username" validate:"required"`
	AdminPassword string `koanf:"admin_password"`
}

// LoggingConfig controls the global logger.
type LoggingConfig struct {
	Level  string `koanf:"level" validate:"oneof=trace debug info warn error fatal panic disabled"`
	Format string `koanf:"format" validate:"oneof=json console"`
	Caller bool   `koanf:"caller"`
}

// EventsConfig sizes the distribution pipeline.
type EventsConfig struct {
	QueueSize  int `koanf:"queue_size" validate:"min=1"`
	SendBuffer int `koanf:"send_buffer" validate:"min=1"`
}

// StoreConfig controls reaction persistence.
type StoreConfig struct {
	Path     string `koanf:"path"`
	InMemory bool   `koanf:"in_memory"`
}

// PresenceConfig controls presence bookkeeping.
type PresenceConfig struct {
	SweepInterval time.Duration `koanf:"sweep_interval" validate:"min=1s"`
	Retention     time.Duration `koanf:"retention" validate:"min=1m"`
}

// defaultConfig returns production defaults for a single-node deployment.
func defaultConfig() Config {
	return Config{
		Server: ServerConfig{
			Host:            "0.0.0.0",
			Port:            8080,
			ReadTimeout:     15 * time.Second,
			WriteTimeout:    15 * time.Second,
			ShutdownTimeout: 10 * time.Second,
			CORSOrigins:     []string{"http://localhost:3000"},
			RateLimit:       100,
			RateLimitWindow: time.Minute,
		},
		Auth: AuthConfig{
			TokenTTL:      24 * time.Hour,
			CookieName:    "driftline_token",
			AdminUsername: "admin",
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
		},
		Events: EventsConfig{
			QueueSize:  256,
			SendBuffer: 256,
		},
		Store: StoreConfig{
			Path: "data/reactions",
		},
		Presence: PresenceConfig{
			SweepInterval: 5 * time.Minute,
			Retention:     24 * time.Hour,
		},
	}
}

// Load builds the configuration from defaults, an optional YAML file, and
// the environment, then validates it.
func Load() (*Config, error) {
	k := koanf.New(".")

	defaults := defaultConfig()
	if err := k.Load(structs.Provider(defaults, "koanf"), nil); err != nil {
		return nil, fmt.Errorf("load defaults: %w", err)
	}

	if path := findConfigFile(); path != "" {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("load config file %s: %w", path, err)
		}
	}

	envProvider := env.Provider("DRIFTLINE_", ".", envTransform)
	if err := k.Load(envProvider, nil); err != nil {
		return nil, fmt.Errorf("load environment: %w", err)
	}

	if err := processSliceFields(k); err != nil {
		return nil, err
	}

	cfg := &Config{}
	if err := k.Unmarshal("", cfg); err != nil {
		return nil, fmt.Errorf("unmarshal configuration: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validate configuration: %w", err)
	}
	return cfg, nil
}

// Validate checks struct-level constraints.
func (c *Config) Validate() error {
	if err := validator.New().Struct(c); err != nil {
		return err
	}
	if !c.Store.InMemory && c.Store.Path == "" {
		return fmt.Errorf("store.path is required unless store.in_memory is set")
	}
	return nil
}

// Addr returns the listener address.
func (c *ServerConfig) Addr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

func findConfigFile() string {
	if path := os.Getenv(ConfigPathEnvVar); path != "" {
		if _, err := os.Stat(path); err == nil {
			return path
		}
	}
	for _, path := range DefaultConfigPaths {
		if _, err := os.Stat(path); err == nil {
			return path
		}
	}
	return ""
}

// envTransform maps DRIFTLINE_SERVER_READ_TIMEOUT to server.read_timeout:
// strip the prefix, lower-case, and turn the first underscore into the
// section separator.
func envTransform(key string) string {
	key = strings.ToLower(strings.TrimPrefix(key, "DRIFTLINE_"))
	return strings.Replace(key, "_", ".", 1)
}

// sliceConfigPaths are parsed from comma-separated strings when set through
// the environment.
var sliceConfigPaths = []string{
	"server.cors_origins",
}

func processSliceFields(k *koanf.Koanf) error {
	for _, path := range sliceConfigPaths {
		val := k.Get(path)
		strVal, ok := val.(string)
		if !ok || strVal == "" {
			continue
		}
		parts := strings.Split(strVal, ",")
		trimmed := make([]string, 0, len(parts))
		for _, p := range parts {
			if p = strings.TrimSpace(p); p != "" {
				trimmed = append(trimmed, p)
			}
		}
		if err := k.Set(path, trimmed); err != nil {
			return fmt.Errorf("set %s: %w", path, err)
		}
	}
	return nil
}
