// Cartographus - Media Server Analytics and Geographic Visualization
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/cartographus

package services

import (
	"context"
	"time"

	"github.com/thejerf/suture/v4"

	"github.com/tomtom215/cartographus-realtime/internal/logging"
)

// EnsureFunc creates or updates the JetStream stream. It is satisfied by
// a closure over eventprocessor.EnsureStreamAt.
type EnsureFunc func(ctx context.Context) error

// NATSStreamService makes sure the playback stream exists. The NATS server
// may come up after us, so failures are retried with capped exponential
// backoff. Once the stream exists the service finishes and asks suture not
// to restart it.
type NATSStreamService struct {
	ensure     EnsureFunc
	minBackoff time.Duration
	maxBackoff time.Duration
	name       string
}

// NewNATSStreamService creates the service.
func NewNATSStreamService(ensure EnsureFunc) *NATSStreamService {
	return &NATSStreamService{
		ensure:     ensure,
		minBackoff: time.Second,
		maxBackoff: 30 * time.Second,
		name:       "nats-stream",
	}
}

// Serve implements suture.Service.
func (s *NATSStreamService) Serve(ctx context.Context) error {
	backoff := s.minBackoff
	for {
		err := s.ensure(ctx)
		if err == nil {
			logging.Info().Str("service", s.name).Msg("JetStream stream ready")
			return suture.ErrDoNotRestart
		}
		logging.Warn().Err(err).Dur("retry_in", backoff).Msg("JetStream stream not ready")

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(backoff):
		}
		backoff *= 2
		if backoff > s.maxBackoff {
			backoff = s.maxBackoff
		}
	}
}

// String implements fmt.Stringer for suture's logs.
func (s *NATSStreamService) String() string {
	return s.name
}
