// Inkweld - Collaborative Writing and Worldbuilding Platform
// Copyright 2026 Bobby Quantum (bobbyquantum)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/bobbyquantum/inkweld

// Package config loads and validates the coordination service configuration.
//
// Configuration is layered with Koanf v2: built-in defaults, then an optional
// YAML config file, then environment variables. Environment variables win.
package config

import "time"

// Config is the root configuration for the coordination service.
type Config struct {
	Server   ServerConfig   `koanf:"server"`
	Storage  StorageConfig  `koanf:"storage"`
	Realtime RealtimeConfig `koanf:"realtime"`
	Security SecurityConfig `koanf:"security"`
	Logging  LoggingConfig  `koanf:"logging"`
}

// ServerConfig holds HTTP listener settings.
type ServerConfig struct {
	Host string `koanf:"host"`
	Port int    `koanf:"port" validate:"gte=1,lte=65535"`

	// ReadHeaderTimeout bounds the time spent reading request headers
	// before the WebSocket upgrade.
	ReadHeaderTimeout time.Duration `koanf:"read_header_timeout"`

	// ShutdownTimeout is the graceful shutdown budget for the HTTP server.
	ShutdownTimeout time.Duration `koanf:"shutdown_timeout"`

	CORSOrigins []string `koanf:"cors_origins"`

	// RateLimitReqs requests per RateLimitWindow per client IP on the
	// upgrade endpoints. Zero disables rate limiting.
	RateLimitReqs   int           `koanf:"rate_limit_reqs"`
	RateLimitWindow time.Duration `koanf:"rate_limit_window"`
}

// StorageConfig selects and tunes the persistence backend.
type StorageConfig struct {
	// Backend selects the persistence adapter: "badger" for the embedded
	// ordered key-value engine, "memory" for the ephemeral variant used by
	// tests and single-request runtimes.
	Backend string `koanf:"backend" validate:"oneof=badger memory"`

	// Path is the BadgerDB directory. Ignored by the memory backend.
	Path string `koanf:"path"`

	// SyncWrites forces fsync on every badger commit. Durability is
	// otherwise per batch flush.
	SyncWrites bool `koanf:"sync_writes"`

	// AppendRetries is the number of retries for a failed append before
	// the owning coordinator degrades.
	AppendRetries int           `koanf:"append_retries" validate:"gte=0,lte=10"`
	RetryBackoff  time.Duration `koanf:"retry_backoff"`

	// GCInterval is how often the badger value-log garbage collector runs.
	GCInterval time.Duration `koanf:"gc_interval"`
}

// RealtimeConfig tunes the document coordinators and connection handling.
// The millisecond-suffixed environment names from the deployment surface
// (HANDSHAKE_MS, IDLE_MS, ...) map onto these fields.
type RealtimeConfig struct {
	// HandshakeTimeout is the budget for the first auth text frame.
	HandshakeTimeout time.Duration `koanf:"handshake_timeout"`

	// IdleTimeout is the zero-peer delay before a coordinator is torn down.
	IdleTimeout time.Duration `koanf:"idle_timeout"`

	// BatchInterval and MaxBatchBytes bound the trailing-edge persistence
	// batch. Whichever trips first flushes.
	BatchInterval time.Duration `koanf:"batch_interval"`
	MaxBatchBytes int           `koanf:"max_batch_bytes" validate:"gt=0"`

	// PeerBacklogBytes caps a peer's unsent broadcast backlog before the
	// peer is dropped with close code 4008.
	PeerBacklogBytes int `koanf:"peer_backlog_bytes" validate:"gt=0"`

	PingInterval time.Duration `koanf:"ping_interval"`
	PongTimeout  time.Duration `koanf:"pong_timeout"`

	// CloseGrace bounds cooperative connection teardown.
	CloseGrace time.Duration `koanf:"close_grace"`

	// RecheckInterval is how often a live connection re-runs the access
	// check so revocations take effect without a reconnect.
	RecheckInterval time.Duration `koanf:"recheck_interval"`

	// MaxAwarenessBytes clamps a single awareness payload.
	MaxAwarenessBytes int `koanf:"max_awareness_bytes" validate:"gt=0"`

	// FrameRate and FrameBurst rate-limit inbound frames per connection.
	FrameRate  float64 `koanf:"frame_rate"`
	FrameBurst int     `koanf:"frame_burst"`

	// Placement selects the coordinator placement strategy: "local" keeps a
	// single process-wide registry, "hashed" routes each project key to one
	// of PlacementShards host shards.
	Placement       string `koanf:"placement" validate:"oneof=local hashed"`
	PlacementShards int    `koanf:"placement_shards" validate:"gte=1"`
}

// SecurityConfig holds token verification settings.
type SecurityConfig struct {
	// JWTSecret signs and verifies bearer tokens (HS256). Required.
	JWTSecret string `koanf:"jwt_secret"`

	// TokenLeeway is the clock-skew allowance for exp/nbf validation.
	TokenLeeway time.Duration `koanf:"token_leeway"`
}

// LoggingConfig configures the zerolog-based logging facade.
type LoggingConfig struct {
	Level  string `koanf:"level" validate:"oneof=trace debug info warn error fatal disabled"`
	Format string `koanf:"format" validate:"oneof=json console"`
	Caller bool   `koanf:"caller"`
}

// defaultConfig returns a Config with all default values. Defaults are
// applied first, then overridden by config file and environment variables.
func defaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Host:              "0.0.0.0",
			Port:              8787,
			ReadHeaderTimeout: 10 * time.Second,
			ShutdownTimeout:   15 * time.Second,
			CORSOrigins:       []string{"*"},
			RateLimitReqs:     120,
			RateLimitWindow:   time.Minute,
		},
		Storage: StorageConfig{
			Backend:       "badger",
			Path:          "/data/documents",
			SyncWrites:    false,
			AppendRetries: 3,
			RetryBackoff:  50 * time.Millisecond,
			GCInterval:    10 * time.Minute,
		},
		Realtime: RealtimeConfig{
			HandshakeTimeout:  10 * time.Second,
			IdleTimeout:       30 * time.Second,
			BatchInterval:     50 * time.Millisecond,
			MaxBatchBytes:     1 << 20, // 1 MiB
			PeerBacklogBytes:  8 << 20, // 8 MiB
			PingInterval:      30 * time.Second,
			PongTimeout:       45 * time.Second,
			CloseGrace:        2 * time.Second,
			RecheckInterval:   30 * time.Second,
			MaxAwarenessBytes: 64 << 10, // 64 KiB
			FrameRate:         200,
			FrameBurst:        400,
			Placement:         "local",
			PlacementShards:   16,
		},
		Security: SecurityConfig{
			JWTSecret:   "",
			TokenLeeway: 30 * time.Second,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
			Caller: false,
		},
	}
}
