// Cartographus - Media Server Analytics and Geographic Visualization
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/cartographus

package eventprocessor

import (
	"net"
	"net/url"
	"strconv"
	"time"

	"github.com/tomtom215/cartographus-realtime/internal/config"
)

// PublisherConfig holds NATS connection settings for the publisher.
type PublisherConfig struct {
	URL              string
	MaxReconnects    int
	ReconnectWait    time.Duration
	ReconnectBuffer  int
	EnableTrackMsgID bool // nolint:revive // ID is correct per Go conventions
}

// DefaultPublisherConfig returns production defaults for publisher.
func DefaultPublisherConfig(url string) PublisherConfig {
	return PublisherConfig{
		URL:              url,
		MaxReconnects:    -1, // Unlimited
		ReconnectWait:    2 * time.Second,
		ReconnectBuffer:  8 * 1024 * 1024,
		EnableTrackMsgID: true,
	}
}

// ServerConfig holds embedded NATS server settings.
type ServerConfig struct {
	Host              string
	Port              int
	StoreDir          string
	JetStreamMaxMem   int64
	JetStreamMaxStore int64
}

// ServerConfigFrom derives the embedded server listen address from the
// configured client URL.
func ServerConfigFrom(cfg config.NATSConfig) ServerConfig {
	sc := ServerConfig{
		Host:              "127.0.0.1",
		Port:              4222,
		StoreDir:          cfg.StoreDir,
		JetStreamMaxMem:   cfg.MaxMemory,
		JetStreamMaxStore: cfg.MaxStore,
	}
	if u, err := url.Parse(cfg.URL); err == nil && u.Host != "" {
		host, port, err := net.SplitHostPort(u.Host)
		if err == nil {
			sc.Host = host
			if p, err := strconv.Atoi(port); err == nil {
				sc.Port = p
			}
		}
	}
	return sc
}

// StreamConfig holds JetStream stream settings.
type StreamConfig struct {
	Name            string
	Subjects        []string
	MaxAge          time.Duration
	MaxBytes        int64
	DuplicateWindow time.Duration
}

// DefaultStreamConfig returns the stream that captures every subject under
// prefix.
func DefaultStreamConfig(prefix string) StreamConfig {
	if prefix == "" {
		prefix = DefaultSubjectPrefix
	}
	return StreamConfig{
		Name:            "PLAYBACK_EVENTS",
		Subjects:        []string{prefix + ".>"},
		MaxAge:          7 * 24 * time.Hour,
		MaxBytes:        1 << 30,
		DuplicateWindow: 2 * time.Minute,
	}
}

// CircuitBreakerConfig holds circuit breaker settings.
type CircuitBreakerConfig struct {
	Name             string
	MaxRequests      uint32        // Allowed in half-open state
	Interval         time.Duration // Reset interval for counts
	Timeout          time.Duration // Time to stay open
	FailureThreshold uint32        // Consecutive failures before opening
}

// DefaultCircuitBreakerConfig returns production defaults.
func DefaultCircuitBreakerConfig(name string) CircuitBreakerConfig {
	return CircuitBreakerConfig{
		Name:             name,
		MaxRequests:      3,
		Interval:         30 * time.Second,
		Timeout:          10 * time.Second,
		FailureThreshold: 5,
	}
}
