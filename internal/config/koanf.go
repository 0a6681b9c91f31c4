// Cartographus - Media Server Analytics and Geographic Visualization
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/cartographus

package config

import (
	"fmt"
	"net"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/structs"
	"github.com/knadh/koanf/v2"
)

// DefaultConfigPaths are searched in order when CONFIG_PATH is unset.
var DefaultConfigPaths = []string{
	"config.yaml",
	"config.yml",
	"/etc/cartographus/config.yaml",
	"/etc/cartographus/config.yml",
}

// ConfigPathEnvVar names the environment variable holding an explicit config file path.
const ConfigPathEnvVar = "CONFIG_PATH"

func defaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Host:            "0.0.0.0",
			Port:            3857,
			ReadTimeout:     15 * time.Second,
			WriteTimeout:    30 * time.Second,
			ShutdownTimeout: 10 * time.Second,
		},
		Plex: PlexConfig{
			WebhooksEnabled:   false,
			RequestsPerSecond: 2,
			RequestTimeout:    10 * time.Second,
		},
		BufferHealth: BufferHealthConfig{
			PollInterval:          5 * time.Second,
			CriticalThreshold:     20.0,
			RiskyThreshold:        50.0,
			DrainSmoothing:        0.5,
			BufferCapacitySeconds: 30.0,
		},
		Sessions: SessionsConfig{
			IdleTimeout:   2 * time.Minute,
			SweepInterval: 10 * time.Second,
			StopGrace:     30 * time.Second,
			Shards:        32,
			DedupWindow:   10 * time.Minute,
			DedupCapacity: 10000,
		},
		WebSocket: WebSocketConfig{
			PingInterval:   30 * time.Second,
			WriteWait:      10 * time.Second,
			SendQueueSize:  256,
			MaxMessageSize: 4096,
		},
		Database: DatabaseConfig{
			Path:          "/data/cartographus-realtime.duckdb",
			MaxMemory:     "1GB",
			Threads:       0,
			AppendRetries: 3,
			RetryBackoff:  100 * time.Millisecond,
			QueryTimeout:  10 * time.Second,
		},
		WAL: WALConfig{
			Enabled:         true,
			Path:            "/data/wal",
			SyncWrites:      true,
			RetryInterval:   15 * time.Second,
			MaxRetries:      10,
			RetryBackoff:    time.Second,
			GCInterval:      10 * time.Minute,
			ConfirmedTTL:    time.Hour,
			MemTableSizeMiB: 16,
		},
		NATS: NATSConfig{
			Enabled:        false,
			URL:            "nats://127.0.0.1:4222",
			EmbeddedServer: true,
			StoreDir:       "/data/nats/jetstream",
			MaxMemory:      256 << 20,
			MaxStore:       1 << 30,
			SubjectPrefix:  "playback",
		},
		Security: SecurityConfig{
			RateLimitReqs:   100,
			RateLimitWindow: time.Minute,
			CORSOrigins:     []string{"*"},
		},
		Pagination: PaginationConfig{
			DefaultLimit: 100,
			MaxLimit:     1000,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
		},
	}
}

// Default returns the built-in configuration without reading files or the environment.
func Default() *Config {
	return defaultConfig()
}

// LoadWithKoanf loads and validates configuration from all layers.
func LoadWithKoanf() (*Config, error) {
	k := koanf.New(".")

	if err := k.Load(structs.Provider(defaultConfig(), "koanf"), nil); err != nil {
		return nil, fmt.Errorf("failed to load defaults: %w", err)
	}

	if path := findConfigFile(); path != "" {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("failed to load config file %s: %w", path, err)
		}
	}

	if err := k.Load(env.Provider("", ".", envTransformFunc), nil); err != nil {
		return nil, fmt.Errorf("failed to load environment variables: %w", err)
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

func findConfigFile() string {
	if p := os.Getenv(ConfigPathEnvVar); p != "" {
		if _, err := os.Stat(p); err == nil {
			return p
		}
	}
	for _, p := range DefaultConfigPaths {
		if _, err := os.Stat(p); err == nil {
			return p
		}
	}
	return ""
}

// sliceConfigPaths are split on commas when they arrive as plain strings from env.
var sliceConfigPaths = []string{
	"security.cors_origins",
}

func processSliceFields(k *koanf.Koanf) error {
	for _, path := range sliceConfigPaths {
		s, ok := k.Get(path).(string)
		if !ok || s == "" {
			continue
		}
		parts := strings.Split(s, ",")
		out := make([]string, 0, len(parts))
		for _, p := range parts {
			if p = strings.TrimSpace(p); p != "" {
				out = append(out, p)
			}
		}
		if err := k.Set(path, out); err != nil {
			return fmt.Errorf("failed to set %s: %w", path, err)
		}
	}
	return nil
}

// envMappings maps flat environment variable names (lowercased) to koanf paths.
// Unmapped variables are ignored so unrelated environment does not leak in.
var envMappings = map[string]string{
	"http_host":             "server.host",
	"http_port":             "server.port",
	"http_read_timeout":     "server.read_timeout",
	"http_write_timeout":    "server.write_timeout",
	"http_shutdown_timeout": "server.shutdown_timeout",

	"plex_url":                 "plex.url",
	"plex_token":               "plex.token",
	"enable_plex_webhooks":     "plex.webhooks_enabled",
	"plex_webhook_secret":      "plex.webhook_secret",
	"enable_plex_monitoring":   "plex.monitoring_enabled",
	"enable_plex_realtime":     "plex.realtime_enabled",
	"plex_requests_per_second": "plex.requests_per_second",
	"plex_request_timeout":     "plex.request_timeout",

	"buffer_health_poll_interval":      "buffer_health.poll_interval",
	"buffer_health_critical_threshold": "buffer_health.critical_threshold",
	"buffer_health_risky_threshold":    "buffer_health.risky_threshold",
	"buffer_health_drain_smoothing":    "buffer_health.drain_smoothing",
	"buffer_health_capacity_seconds":   "buffer_health.buffer_capacity_seconds",

	"session_idle_timeout":   "sessions.idle_timeout",
	"session_sweep_interval": "sessions.sweep_interval",
	"session_stop_grace":     "sessions.stop_grace",
	"session_shards":         "sessions.shards",
	"webhook_dedup_window":   "sessions.dedup_window",
	"webhook_dedup_capacity": "sessions.dedup_capacity",

	"ws_ping_interval":    "websocket.ping_interval",
	"ws_write_wait":       "websocket.write_wait",
	"ws_send_queue_size":  "websocket.send_queue_size",
	"ws_max_message_size": "websocket.max_message_size",

	"duckdb_path":           "database.path",
	"duckdb_max_memory":     "database.max_memory",
	"duckdb_threads":        "database.threads",
	"duckdb_append_retries": "database.append_retries",
	"duckdb_retry_backoff":  "database.retry_backoff",
	"duckdb_query_timeout":  "database.query_timeout",

	"wal_enabled":        "wal.enabled",
	"wal_path":           "wal.path",
	"wal_sync_writes":    "wal.sync_writes",
	"wal_retry_interval": "wal.retry_interval",
	"wal_max_retries":    "wal.max_retries",
	"wal_retry_backoff":  "wal.retry_backoff",
	"wal_gc_interval":    "wal.gc_interval",
	"wal_confirmed_ttl":  "wal.confirmed_ttl",

	"nats_enabled":        "nats.enabled",
	"nats_url":            "nats.url",
	"nats_embedded":       "nats.embedded_server",
	"nats_store_dir":      "nats.store_dir",
	"nats_max_memory":     "nats.max_memory",
	"nats_max_store":      "nats.max_store",
	"nats_subject_prefix": "nats.subject_prefix",

	"rate_limit_requests": "security.rate_limit_reqs",
	"rate_limit_window":   "security.rate_limit_window",
	"disable_rate_limit":  "security.rate_limit_disabled",
	"cors_origins":        "security.cors_origins",

	"cursor_signing_key":   "pagination.cursor_key",
	"pagination_default":   "pagination.default_limit",
	"pagination_max_limit": "pagination.max_limit",

	"log_level":  "logging.level",
	"log_format": "logging.format",
	"log_caller": "logging.caller",
}

func envTransformFunc(key string) string {
	if mapped, ok := envMappings[strings.ToLower(key)]; ok {
		return mapped
	}
	return ""
}

func joinHostPort(host string, port int) string {
	return net.JoinHostPort(host, strconv.Itoa(port))
}
