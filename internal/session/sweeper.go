// Cartographus - Media Server Analytics and Geographic Visualization
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/cartographus

package session

import (
	"context"
	"time"

	"github.com/tomtom215/cartographus-realtime/internal/logging"
)

// Sweeper runs Tracker.Sweep on an interval. It is a suture.Service.
type Sweeper struct {
	tracker  *Tracker
	interval time.Duration
}

// NewSweeper creates a sweeper; interval defaults to 10s.
func NewSweeper(t *Tracker, interval time.Duration) *Sweeper {
	if interval <= 0 {
		interval = 10 * time.Second
	}
	return &Sweeper{tracker: t, interval: interval}
}

// Serve sweeps until ctx is canceled.
func (s *Sweeper) Serve(ctx context.Context) error {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if n := s.tracker.Sweep(s.tracker.now()); n > 0 {
				logging.Info().Int("expired", n).Msg("Idle sessions stopped")
			}
		}
	}
}

func (s *Sweeper) String() string {
	return "session-sweeper"
}
