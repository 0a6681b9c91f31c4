// Cartographus - Media Server Analytics and Geographic Visualization
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/cartographus

// Package config loads the realtime core configuration.
//
// Values are layered with koanf: struct defaults, then an optional YAML file
// (CONFIG_PATH or one of DefaultConfigPaths), then environment variables.
// Later layers win.
package config

import "time"

// Config is the root configuration.
type Config struct {
	Server       ServerConfig       `koanf:"server"`
	Plex         PlexConfig         `koanf:"plex"`
	BufferHealth BufferHealthConfig `koanf:"buffer_health"`
	Sessions     SessionsConfig     `koanf:"sessions"`
	WebSocket    WebSocketConfig    `koanf:"websocket"`
	Database     DatabaseConfig     `koanf:"database"`
	WAL          WALConfig          `koanf:"wal"`
	NATS         NATSConfig         `koanf:"nats"`
	Security     SecurityConfig     `koanf:"security"`
	Pagination   PaginationConfig   `koanf:"pagination"`
	Logging      LoggingConfig      `koanf:"logging"`
}

// ServerConfig holds HTTP listener settings.
type ServerConfig struct {
	Host            string        `koanf:"host"`
	Port            int           `koanf:"port"`
	ReadTimeout     time.Duration `koanf:"read_timeout"`
	WriteTimeout    time.Duration `koanf:"write_timeout"`
	ShutdownTimeout time.Duration `koanf:"shutdown_timeout"`
}

// PlexConfig covers both inbound webhooks and the outbound monitoring client.
//
// An empty WebhookSecret disables signature verification. That mode is
// supported for servers that cannot sign requests but is logged at startup.
type PlexConfig struct {
	URL             string `koanf:"url"`
	Token           string `koanf:"token"`
	WebhooksEnabled bool   `koanf:"webhooks_enabled"`
	WebhookSecret   string `koanf:"webhook_secret"`

	// MonitoringEnabled turns on the /status/sessions poller.
	MonitoringEnabled bool `koanf:"monitoring_enabled"`
	// RealtimeEnabled turns on the notification WebSocket client.
	RealtimeEnabled bool `koanf:"realtime_enabled"`

	RequestsPerSecond float64       `koanf:"requests_per_second"`
	RequestTimeout    time.Duration `koanf:"request_timeout"`
}

// BufferHealthConfig holds the buffer health classification policy.
type BufferHealthConfig struct {
	PollInterval          time.Duration `koanf:"poll_interval"`
	CriticalThreshold     float64       `koanf:"critical_threshold"`
	RiskyThreshold        float64       `koanf:"risky_threshold"`
	DrainSmoothing        float64       `koanf:"drain_smoothing"`
	BufferCapacitySeconds float64       `koanf:"buffer_capacity_seconds"`
}

// SessionsConfig controls session lifetime in the tracker.
type SessionsConfig struct {
	IdleTimeout   time.Duration `koanf:"idle_timeout"`
	SweepInterval time.Duration `koanf:"sweep_interval"`
	StopGrace     time.Duration `koanf:"stop_grace"`
	Shards        int           `koanf:"shards"`
	DedupWindow   time.Duration `koanf:"dedup_window"`
	DedupCapacity int           `koanf:"dedup_capacity"`
}

// WebSocketConfig controls subscriber heartbeats and queues.
type WebSocketConfig struct {
	PingInterval   time.Duration `koanf:"ping_interval"`
	WriteWait      time.Duration `koanf:"write_wait"`
	SendQueueSize  int           `koanf:"send_queue_size"`
	MaxMessageSize int64         `koanf:"max_message_size"`
}

// DatabaseConfig holds DuckDB settings.
type DatabaseConfig struct {
	Path          string        `koanf:"path"`
	MaxMemory     string        `koanf:"max_memory"`
	Threads       int           `koanf:"threads"`
	AppendRetries int           `koanf:"append_retries"`
	RetryBackoff  time.Duration `koanf:"retry_backoff"`
	QueryTimeout  time.Duration `koanf:"query_timeout"`
}

// WALConfig holds BadgerDB write-ahead log settings.
type WALConfig struct {
	Enabled         bool          `koanf:"enabled"`
	Path            string        `koanf:"path"`
	SyncWrites      bool          `koanf:"sync_writes"`
	RetryInterval   time.Duration `koanf:"retry_interval"`
	MaxRetries      int           `koanf:"max_retries"`
	RetryBackoff    time.Duration `koanf:"retry_backoff"`
	GCInterval      time.Duration `koanf:"gc_interval"`
	ConfirmedTTL    time.Duration `koanf:"confirmed_ttl"`
	MemTableSizeMiB int64         `koanf:"memtable_size_mib"`
}

// NATSConfig holds event bus settings.
type NATSConfig struct {
	Enabled        bool   `koanf:"enabled"`
	URL            string `koanf:"url"`
	EmbeddedServer bool   `koanf:"embedded_server"`
	StoreDir       string `koanf:"store_dir"`
	MaxMemory      int64  `koanf:"max_memory"`
	MaxStore       int64  `koanf:"max_store"`
	SubjectPrefix  string `koanf:"subject_prefix"`
}

// SecurityConfig holds rate limiting and CORS settings.
type SecurityConfig struct {
	RateLimitReqs     int           `koanf:"rate_limit_reqs"`
	RateLimitWindow   time.Duration `koanf:"rate_limit_window"`
	RateLimitDisabled bool          `koanf:"rate_limit_disabled"`
	CORSOrigins       []string      `koanf:"cors_origins"`
}

// PaginationConfig holds cursor settings.
type PaginationConfig struct {
	// CursorKey signs cursors. A random key is generated at startup when
	// empty, which invalidates outstanding cursors on restart.
	CursorKey    string `koanf:"cursor_key"`
	DefaultLimit int    `koanf:"default_limit"`
	MaxLimit     int    `koanf:"max_limit"`
}

// LoggingConfig mirrors logging.Config.
type LoggingConfig struct {
	Level  string `koanf:"level"`
	Format string `koanf:"format"`
	Caller bool   `koanf:"caller"`
}

// Addr returns the HTTP listen address.
func (s ServerConfig) Addr() string {
	return joinHostPort(s.Host, s.Port)
}
