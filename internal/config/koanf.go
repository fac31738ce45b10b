// Inkweld - Collaborative Writing and Worldbuilding Platform
// Copyright 2026 Bobby Quantum (bobbyquantum)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/bobbyquantum/inkweld

package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/structs"
	"github.com/knadh/koanf/v2"
)

// DefaultConfigPaths lists the paths where config files are searched in
// order of priority. The first file found wins.
var DefaultConfigPaths = []string{
	"config.yaml",
	"config.yml",
	"/etc/inkweld/config.yaml",
	"/etc/inkweld/config.yml",
}

// ConfigPathEnvVar overrides the config file path.
const ConfigPathEnvVar = "CONFIG_PATH"

// Load loads configuration using Koanf v2 with layered sources:
//  1. Defaults: built-in sensible defaults
//  2. Config file: optional YAML file (if present)
//  3. Environment variables: override any setting
func Load() (*Config, error) {
	k := koanf.New(".")

	// Layer 1: defaults from struct
	if err := k.Load(structs.Provider(defaultConfig(), "koanf"), nil); err != nil {
		return nil, fmt.Errorf("failed to load defaults: %w", err)
	}

	// Layer 2: config file (optional)
	if configPath := findConfigFile(); configPath != "" {
		if err := k.Load(file.Provider(configPath), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("failed to load config file %s: %w", configPath, err)
		}
	}

	// Layer 3: environment variables (highest priority)
	if err := k.Load(env.Provider("", ".", envTransformFunc), nil); err != nil {
		return nil, fmt.Errorf("failed to load environment variables: %w", err)
	}

	// Millisecond-suffixed environment variables carry bare integers.
	if err := processMillisFields(k); err != nil {
		return nil, fmt.Errorf("failed to process duration fields: %w", err)
	}
	if err := processSliceFields(k); err != nil {
		return nil, fmt.Errorf("failed to process slice fields: %w", err)
	}

	cfg := &Config{}
	if err := k.Unmarshal("", cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal configuration: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return cfg, nil
}

// findConfigFile searches for a config file in the default paths.
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

// millisConfigPaths are duration fields whose environment variables carry
// bare millisecond integers (HANDSHAKE_MS=10000). Plain duration strings
// ("10s") are passed through untouched.
var millisConfigPaths = []string{
	"realtime.handshake_timeout",
	"realtime.idle_timeout",
	"realtime.batch_interval",
	"realtime.ping_interval",
	"realtime.pong_timeout",
	"realtime.close_grace",
	"realtime.recheck_interval",
}

// processMillisFields rewrites bare integer values on duration paths into
// millisecond duration strings so unmarshaling into time.Duration succeeds.
func processMillisFields(k *koanf.Koanf) error {
	for _, path := range millisConfigPaths {
		val := k.Get(path)
		strVal, ok := val.(string)
		if !ok {
			continue
		}
		n, err := strconv.ParseInt(strings.TrimSpace(strVal), 10, 64)
		if err != nil {
			continue // not a bare integer, let the duration hook parse it
		}
		if err := k.Set(path, fmt.Sprintf("%dms", n)); err != nil {
			return fmt.Errorf("failed to set %s: %w", path, err)
		}
	}
	return nil
}

// sliceConfigPaths are config paths parsed as comma-separated slices when
// supplied via environment variables.
var sliceConfigPaths = []string{
	"server.cors_origins",
}

// processSliceFields converts comma-separated strings to slices for known
// slice fields. Env vars come in as strings but the config expects slices.
func processSliceFields(k *koanf.Koanf) error {
	for _, path := range sliceConfigPaths {
		val := k.Get(path)
		if val == nil {
			continue
		}
		if _, ok := val.([]interface{}); ok {
			continue
		}
		if _, ok := val.([]string); ok {
			continue
		}
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
		if len(trimmed) > 0 {
			if err := k.Set(path, trimmed); err != nil {
				return fmt.Errorf("failed to set %s: %w", path, err)
			}
		}
	}
	return nil
}

// envTransformFunc maps environment variable names to koanf config paths.
// Unmapped variables are skipped so stray environment variables cannot
// pollute the configuration.
func envTransformFunc(key string) string {
	envMappings := map[string]string{
		// Server
		"http_host":           "server.host",
		"http_port":           "server.port",
		"http_shutdown":       "server.shutdown_timeout",
		"cors_origins":        "server.cors_origins",
		"rate_limit_requests": "server.rate_limit_reqs",
		"rate_limit_window":   "server.rate_limit_window",

		// Storage
		"persist_backend":       "storage.backend",
		"storage_path":          "storage.path",
		"storage_sync_writes":   "storage.sync_writes",
		"storage_retries":       "storage.append_retries",
		"storage_retry_backoff": "storage.retry_backoff",
		"storage_gc_interval":   "storage.gc_interval",

		// Realtime (deployment surface uses _MS names with bare integers)
		"handshake_ms":        "realtime.handshake_timeout",
		"idle_ms":             "realtime.idle_timeout",
		"batch_ms":            "realtime.batch_interval",
		"max_batch_bytes":     "realtime.max_batch_bytes",
		"peer_backlog_bytes":  "realtime.peer_backlog_bytes",
		"ping_ms":             "realtime.ping_interval",
		"pong_timeout_ms":     "realtime.pong_timeout",
		"close_grace_ms":      "realtime.close_grace",
		"recheck_ms":          "realtime.recheck_interval",
		"max_awareness_bytes": "realtime.max_awareness_bytes",
		"frame_rate":          "realtime.frame_rate",
		"frame_burst":         "realtime.frame_burst",
		"placement":           "realtime.placement",
		"placement_shards":    "realtime.placement_shards",

		// Security
		"jwt_secret":   "security.jwt_secret",
		"token_leeway": "security.token_leeway",

		// Logging
		"log_level":  "logging.level",
		"log_format": "logging.format",
		"log_caller": "logging.caller",
	}

	if mapped, ok := envMappings[strings.ToLower(key)]; ok {
		return mapped
	}
	return ""
}
