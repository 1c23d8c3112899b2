// Driftline - Real-Time Chat Event Distribution
// Copyright 2026 Driftline Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/driftline/driftline

package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Server.Port != 8080 {
		t.Errorf("Port = %d, want 8080", cfg.Server.Port)
	}
	if cfg.Auth.CookieName != "driftline_token" {
		t.Errorf("CookieName = %q", cfg.Auth.CookieName)
	}
	if cfg.Auth.AdminUsername != "admin" {
		t.Errorf("AdminUsername = %q", cfg.Auth.AdminUsername)
	}
	if cfg.Events.SendBuffer != 256 {
		t.Errorf("SendBuffer = %d, want 256", cfg.Events.SendBuffer)
	}
	if cfg.Presence.Retention != 24*time.Hour {
		t.Errorf("Retention = %v", cfg.Presence.Retention)
	}
}

func TestLoad_EnvOverridesDefaults(t *testing.T) {
	t.Setenv("DRIFTLINE_SERVER_PORT", "9999")
	t.Setenv("DRIFTLINE_LOGGING_LEVEL", "debug")
	t.Setenv("DRIFTLINE_SERVER_CORS_ORIGINS", "https://a.example, https://b.example")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Server.Port != 9999 {
		t.Errorf("Port = %d, want 9999", cfg.Server.Port)
	}
	if cfg.Logging.Level != "debug" {
		t.Errorf("Level = %q, want debug", cfg.Logging.Level)
	}
	origins := cfg.Server.CORSOrigins
	if len(origins) != 2 || origins[0] != "https://a.example" || origins[1] != "https://b.example" {
		t.Errorf("CORSOrigins = %v", origins)
	}
}

func TestLoad_FileLayeredUnderEnv(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "driftline.yaml")
	content := []byte("server:\n  port: 7070\nlogging:\n  level: warn\n")
	if err := os.WriteFile(path, content, 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}

	t.Setenv(ConfigPathEnvVar, path)
	t.Setenv("DRIFTLINE_LOGGING_LEVEL", "error")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Server.Port != 7070 {
		t.Errorf("Port = %d, want 7070 from file", cfg.Server.Port)
	}
	if cfg.Logging.Level != "error" {
		t.Errorf("Level = %q, want env to beat file", cfg.Logging.Level)
	}
}

func TestLoad_RejectsInvalidValues(t *testing.T) {
	tests := []struct {
		name  string
		key   string
		value string
	}{
		{"port out of range", "DRIFTLINE_SERVER_PORT", "70000"},
		{"unknown log level", "DRIFTLINE_LOGGING_LEVEL", "loud"},
		{"short jwt secret", "DRIFTLINE_AUTH_JWT_SECRET", "tooshort"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Setenv(tt.key, tt.value)
			if _, err := Load(); err == nil {
				t.Errorf("Load accepted %s=%s", tt.key, tt.value)
			}
		})
	}
}

func TestEnvTransform(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"DRIFTLINE_SERVER_PORT", "server.port"},
		{"DRIFTLINE_SERVER_READ_TIMEOUT", "server.read_timeout"},
		{"DRIFTLINE_AUTH_JWT_SECRET", "auth.jwt_secret"},
		{"DRIFTLINE_PRESENCE_SWEEP_INTERVAL", "presence.sweep_interval"},
	}
	for _, tt := range tests {
		if got := envTransform(tt.in); got != tt.want {
			t.Errorf("envTransform(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestServerConfig_Addr(t *testing.T) {
	sc := ServerConfig{Host: "127.0.0.1", Port: 8080}
	if got := sc.Addr(); got != "127.0.0.1:8080" {
		t.Errorf("Addr() = %q", got)
	}
}
