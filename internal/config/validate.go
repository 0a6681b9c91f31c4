// Cartographus - Media Server Analytics and Geographic Visualization
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/cartographus

package config

import (
	"fmt"
	"net/url"
	"strings"
)

// Validate checks cross-field consistency after all layers are merged.
func (c *Config) Validate() error {
	if err := c.validateServer(); err != nil {
		return err
	}
	if err := c.validatePlex(); err != nil {
		return err
	}
	if err := c.validateBufferHealth(); err != nil {
		return err
	}
	if err := c.validateSessions(); err != nil {
		return err
	}
	if err := c.validateWebSocket(); err != nil {
		return err
	}
	if err := c.validateStorage(); err != nil {
		return err
	}
	if err := c.validatePagination(); err != nil {
		return err
	}
	return c.validateLogging()
}

func (c *Config) validateServer() error {
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return fmt.Errorf("server.port must be between 1 and 65535, got %d", c.Server.Port)
	}
	if c.Server.ShutdownTimeout <= 0 {
		return fmt.Errorf("server.shutdown_timeout must be positive")
	}
	if !c.Security.RateLimitDisabled {
		if c.Security.RateLimitReqs <= 0 {
			return fmt.Errorf("security.rate_limit_reqs must be positive when rate limiting is enabled")
		}
		if c.Security.RateLimitWindow <= 0 {
			return fmt.Errorf("security.rate_limit_window must be positive when rate limiting is enabled")
		}
	}
	return nil
}

func (c *Config) validatePlex() error {
	if !c.Plex.MonitoringEnabled && !c.Plex.RealtimeEnabled {
		return nil
	}
	if c.Plex.URL == "" {
		return fmt.Errorf("plex.url is required when monitoring or realtime is enabled")
	}
	u, err := url.Parse(c.Plex.URL)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return fmt.Errorf("plex.url must be an absolute http(s) URL, got %q", c.Plex.URL)
	}
	if c.Plex.Token == "" {
		return fmt.Errorf("plex.token is required when monitoring or realtime is enabled")
	}
	if c.Plex.RequestsPerSecond <= 0 {
		return fmt.Errorf("plex.requests_per_second must be positive")
	}
	return nil
}

func (c *Config) validateBufferHealth() error {
	bh := c.BufferHealth
	if bh.CriticalThreshold <= 0 || bh.CriticalThreshold >= 100 {
		return fmt.Errorf("buffer_health.critical_threshold must be in (0,100), got %.1f", bh.CriticalThreshold)
	}
	if bh.RiskyThreshold <= 0 || bh.RiskyThreshold >= 100 {
		return fmt.Errorf("buffer_health.risky_threshold must be in (0,100), got %.1f", bh.RiskyThreshold)
	}
	if bh.CriticalThreshold >= bh.RiskyThreshold {
		return fmt.Errorf("buffer_health.critical_threshold (%.1f) must be below risky_threshold (%.1f)",
			bh.CriticalThreshold, bh.RiskyThreshold)
	}
	if bh.DrainSmoothing <= 0 || bh.DrainSmoothing > 1 {
		return fmt.Errorf("buffer_health.drain_smoothing must be in (0,1], got %.2f", bh.DrainSmoothing)
	}
	if bh.PollInterval <= 0 {
		return fmt.Errorf("buffer_health.poll_interval must be positive")
	}
	if bh.BufferCapacitySeconds <= 0 {
		return fmt.Errorf("buffer_health.buffer_capacity_seconds must be positive")
	}
	return nil
}

func (c *Config) validateSessions() error {
	s := c.Sessions
	if s.IdleTimeout <= 0 || s.SweepInterval <= 0 {
		return fmt.Errorf("sessions.idle_timeout and sessions.sweep_interval must be positive")
	}
	if s.StopGrace < 0 {
		return fmt.Errorf("sessions.stop_grace must not be negative")
	}
	if s.Shards < 1 {
		return fmt.Errorf("sessions.shards must be at least 1, got %d", s.Shards)
	}
	if s.DedupWindow <= 0 || s.DedupCapacity <= 0 {
		return fmt.Errorf("sessions.dedup_window and sessions.dedup_capacity must be positive")
	}
	return nil
}

func (c *Config) validateWebSocket() error {
	ws := c.WebSocket
	if ws.PingInterval <= 0 || ws.WriteWait <= 0 {
		return fmt.Errorf("websocket.ping_interval and websocket.write_wait must be positive")
	}
	if ws.SendQueueSize < 1 {
		return fmt.Errorf("websocket.send_queue_size must be at least 1")
	}
	return nil
}

func (c *Config) validateStorage() error {
	if c.Database.Path == "" {
		return fmt.Errorf("database.path is required")
	}
	if c.Database.AppendRetries < 1 {
		return fmt.Errorf("database.append_retries must be at least 1")
	}
	if c.WAL.Enabled && c.WAL.Path == "" {
		return fmt.Errorf("wal.path is required when the WAL is enabled")
	}
	if c.NATS.Enabled && !c.NATS.EmbeddedServer && c.NATS.URL == "" {
		return fmt.Errorf("nats.url is required when using an external NATS server")
	}
	return nil
}

func (c *Config) validatePagination() error {
	p := c.Pagination
	if p.MaxLimit < 1 || p.DefaultLimit < 1 || p.DefaultLimit > p.MaxLimit {
		return fmt.Errorf("pagination limits invalid: default=%d max=%d", p.DefaultLimit, p.MaxLimit)
	}
	if p.CursorKey != "" && len(p.CursorKey) < 16 {
		return fmt.Errorf("pagination.cursor_key must be at least 16 characters")
	}
	return nil
}

func (c *Config) validateLogging() error {
	switch strings.ToLower(c.Logging.Level) {
	case "trace", "debug", "info", "warn", "warning", "error":
	default:
		return fmt.Errorf("logging.level %q is not supported", c.Logging.Level)
	}
	switch c.Logging.Format {
	case "json", "console":
	default:
		return fmt.Errorf("logging.format must be json or console, got %q", c.Logging.Format)
	}
	return nil
}
