// Inkweld - Collaborative Writing and Worldbuilding Platform
// Copyright 2026 Bobby Quantum (bobbyquantum)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/bobbyquantum/inkweld

package config

import (
	"strings"
	"testing"
	"time"
)

const testSecret = "0123456789abcdef0123456789abcdef"

func validConfig() *Config {
	cfg := defaultConfig()
	cfg.Security.JWTSecret = testSecret
	return cfg
}

func TestDefaultsMatchDeploymentSurface(t *testing.T) {
	cfg := defaultConfig()

	checks := []struct {
		name string
		got  time.Duration
		want time.Duration
	}{
		{"handshake_timeout", cfg.Realtime.HandshakeTimeout, 10 * time.Second},
		{"idle_timeout", cfg.Realtime.IdleTimeout, 30 * time.Second},
		{"batch_interval", cfg.Realtime.BatchInterval, 50 * time.Millisecond},
		{"ping_interval", cfg.Realtime.PingInterval, 30 * time.Second},
		{"pong_timeout", cfg.Realtime.PongTimeout, 45 * time.Second},
		{"close_grace", cfg.Realtime.CloseGrace, 2 * time.Second},
	}
	for _, c := range checks {
		if c.got != c.want {
			t.Errorf("default %s = %s, want %s", c.name, c.got, c.want)
		}
	}

	if cfg.Realtime.MaxBatchBytes != 1<<20 {
		t.Errorf("default max_batch_bytes = %d, want %d", cfg.Realtime.MaxBatchBytes, 1<<20)
	}
	if cfg.Realtime.PeerBacklogBytes != 8<<20 {
		t.Errorf("default peer_backlog_bytes = %d, want %d", cfg.Realtime.PeerBacklogBytes, 8<<20)
	}
	if cfg.Storage.Backend != "badger" {
		t.Errorf("default storage backend = %q, want badger", cfg.Storage.Backend)
	}
}

func TestLoadFromEnvironment(t *testing.T) {
	t.Setenv("JWT_SECRET", testSecret)
	t.Setenv("HANDSHAKE_MS", "5000")
	t.Setenv("BATCH_MS", "25")
	t.Setenv("PERSIST_BACKEND", "memory")
	t.Setenv("HTTP_PORT", "9090")
	t.Setenv("CORS_ORIGINS", "https://a.example, https://b.example")
	t.Setenv("CONFIG_PATH", "/nonexistent/config.yaml")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() failed: %v", err)
	}

	if cfg.Realtime.HandshakeTimeout != 5*time.Second {
		t.Errorf("HANDSHAKE_MS=5000 produced %s, want 5s", cfg.Realtime.HandshakeTimeout)
	}
	if cfg.Realtime.BatchInterval != 25*time.Millisecond {
		t.Errorf("BATCH_MS=25 produced %s, want 25ms", cfg.Realtime.BatchInterval)
	}
	if cfg.Storage.Backend != "memory" {
		t.Errorf("PERSIST_BACKEND=memory produced %q", cfg.Storage.Backend)
	}
	if cfg.Server.Port != 9090 {
		t.Errorf("HTTP_PORT=9090 produced %d", cfg.Server.Port)
	}
	if len(cfg.Server.CORSOrigins) != 2 || cfg.Server.CORSOrigins[1] != "https://b.example" {
		t.Errorf("CORS_ORIGINS split incorrectly: %v", cfg.Server.CORSOrigins)
	}
}

func TestEnvTransformSkipsUnknownVariables(t *testing.T) {
	if got := envTransformFunc("PATH"); got != "" {
		t.Errorf("unmapped variable PATH should be skipped, got %q", got)
	}
	if got := envTransformFunc("HANDSHAKE_MS"); got != "realtime.handshake_timeout" {
		t.Errorf("HANDSHAKE_MS mapped to %q", got)
	}
	if got := envTransformFunc("persist_backend"); got != "storage.backend" {
		t.Errorf("persist_backend mapped to %q", got)
	}
}

func TestValidate(t *testing.T) {
	t.Run("valid config passes", func(t *testing.T) {
		if err := validConfig().Validate(); err != nil {
			t.Fatalf("valid config rejected: %v", err)
		}
	})

	t.Run("missing jwt secret", func(t *testing.T) {
		cfg := defaultConfig()
		err := cfg.Validate()
		if err == nil || !strings.Contains(err.Error(), "JWT_SECRET") {
			t.Errorf("expected JWT_SECRET error, got %v", err)
		}
	})

	t.Run("short jwt secret", func(t *testing.T) {
		cfg := validConfig()
		cfg.Security.JWTSecret = "short"
		if err := cfg.Validate(); err == nil {
			t.Error("expected error for short secret")
		}
	})

	t.Run("unknown backend", func(t *testing.T) {
		cfg := validConfig()
		cfg.Storage.Backend = "dynamo"
		if err := cfg.Validate(); err == nil {
			t.Error("expected error for unknown backend")
		}
	})

	t.Run("pong timeout below ping interval", func(t *testing.T) {
		cfg := validConfig()
		cfg.Realtime.PongTimeout = cfg.Realtime.PingInterval / 2
		if err := cfg.Validate(); err == nil {
			t.Error("expected error for pong timeout below ping interval")
		}
	})

	t.Run("recheck interval over a minute", func(t *testing.T) {
		cfg := validConfig()
		cfg.Realtime.RecheckInterval = 2 * time.Minute
		if err := cfg.Validate(); err == nil {
			t.Error("expected error for excessive recheck interval")
		}
	})
}
