// Cartographus - Media Server Analytics and Geographic Visualization
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/cartographus

package main

import (
	"context"
	"time"

	"github.com/tomtom215/cartographus-realtime/internal/config"
	"github.com/tomtom215/cartographus-realtime/internal/eventprocessor"
	"github.com/tomtom215/cartographus-realtime/internal/logging"
	"github.com/tomtom215/cartographus-realtime/internal/supervisor"
	"github.com/tomtom215/cartographus-realtime/internal/supervisor/services"
)

// NATSComponents holds the optional message bus pieces.
type NATSComponents struct {
	server    *eventprocessor.EmbeddedServer
	publisher *eventprocessor.Publisher
	stream    eventprocessor.StreamConfig
	url       string
}

// InitNATS starts the embedded server when configured and connects the
// publisher. It returns nil when NATS is disabled.
func InitNATS(cfg *config.Config) (*NATSComponents, error) {
	if !cfg.NATS.Enabled {
		logging.Info().Msg("NATS disabled (NATS_ENABLED=false), bus publishing off")
		return nil, nil
	}

	c := &NATSComponents{
		url:    cfg.NATS.URL,
		stream: eventprocessor.DefaultStreamConfig(cfg.NATS.SubjectPrefix),
	}

	if cfg.NATS.EmbeddedServer {
		srv, err := eventprocessor.NewEmbeddedServer(eventprocessor.ServerConfigFrom(cfg.NATS), 10*time.Second)
		if err != nil {
			return nil, err
		}
		c.server = srv
		c.url = srv.ClientURL()
		logging.Info().Str("url", c.url).Msg("Embedded NATS server started")
	}

	pub, err := eventprocessor.NewNATSPublisher(
		eventprocessor.DefaultPublisherConfig(c.url),
		eventprocessor.Topics{Prefix: cfg.NATS.SubjectPrefix},
		nil,
	)
	if err != nil {
		c.Close()
		return nil, err
	}
	c.publisher = pub
	logging.Info().Str("url", c.url).Str("prefix", cfg.NATS.SubjectPrefix).Msg("NATS publisher connected")
	return c, nil
}

// Publisher returns the bus publisher, or nil when NATS is disabled.
func (c *NATSComponents) Publisher() *eventprocessor.Publisher {
	if c == nil {
		return nil
	}
	return c.publisher
}

// AddToSupervisor registers the embedded server and the stream
// initializer with the data layer.
func (c *NATSComponents) AddToSupervisor(tree *supervisor.SupervisorTree) {
	if c == nil {
		return
	}
	if c.server != nil {
		tree.AddDataService(c.server)
	}
	url, stream := c.url, c.stream
	tree.AddDataService(services.NewNATSStreamService(func(ctx context.Context) error {
		return eventprocessor.EnsureStreamAt(ctx, url, stream)
	}))
}

// Ready reports whether the bus is usable for the readiness probe.
func (c *NATSComponents) Ready(_ context.Context) error {
	if c == nil {
		return nil
	}
	return c.publisher.Healthy()
}

// Close closes the publisher. The embedded server is stopped by the
// supervisor, or here if the tree never started.
func (c *NATSComponents) Close() {
	if c == nil {
		return
	}
	if c.publisher != nil {
		if err := c.publisher.Close(); err != nil {
			logging.Error().Err(err).Msg("Error closing NATS publisher")
		}
	}
	if c.server != nil && c.server.IsRunning() {
		c.server.Shutdown()
	}
}
