// Cartographus - Media Server Analytics and Geographic Visualization
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/cartographus

package main

import (
	"context"

	"github.com/tomtom215/cartographus-realtime/internal/config"
	"github.com/tomtom215/cartographus-realtime/internal/eventstore"
	"github.com/tomtom215/cartographus-realtime/internal/logging"
	"github.com/tomtom215/cartographus-realtime/internal/supervisor"
	"github.com/tomtom215/cartographus-realtime/internal/wal"
)

// WALComponents holds the write-ahead log and its retry loop.
type WALComponents struct {
	wal *wal.BadgerWAL
}

// InitWAL opens the write-ahead log. It returns nil when the WAL is
// disabled, in which case failed appends are reported but not replayed.
func InitWAL(cfg *config.Config) (*WALComponents, error) {
	if !cfg.WAL.Enabled {
		logging.Warn().Msg("WAL disabled (WAL_ENABLED=false). Events whose append fails will not be replayed.")
		return nil, nil
	}

	logging.Info().Str("path", cfg.WAL.Path).Bool("sync_writes", cfg.WAL.SyncWrites).Msg("Initializing WAL...")
	w, err := wal.Open(&cfg.WAL)
	if err != nil {
		return nil, err
	}

	stats := w.Stats()
	logging.Info().
		Int64("pending", stats.PendingCount).
		Int64("failed", stats.FailedCount).
		Msg("WAL opened")
	return &WALComponents{wal: w}, nil
}

// Log returns the WAL as the event store's log. A nil interface is
// returned when the WAL is disabled.
func (c *WALComponents) Log() eventstore.Log {
	if c == nil {
		return nil
	}
	return c.wal
}

// Recover replays entries left pending by the previous run before the
// server accepts traffic.
func (c *WALComponents) Recover(ctx context.Context, store *eventstore.Store) {
	if c == nil {
		return
	}
	loop := wal.NewRetryLoop(c.wal, store)
	if n := loop.RetryPending(ctx); n > 0 {
		logging.Info().Int("recovered", n).Msg("WAL recovery completed")
	}
}

// AddToSupervisor registers the background retry loop with the data layer.
func (c *WALComponents) AddToSupervisor(tree *supervisor.SupervisorTree, store *eventstore.Store) {
	if c == nil {
		return
	}
	tree.AddDataService(wal.NewRetryLoop(c.wal, store))
}

// Ready reports WAL health for the readiness probe.
func (c *WALComponents) Ready(_ context.Context) error {
	if c == nil {
		return nil
	}
	return c.wal.Ping()
}

// Close closes the WAL. Call after the supervisor tree has stopped.
func (c *WALComponents) Close() {
	if c == nil {
		return
	}
	if err := c.wal.Close(); err != nil {
		logging.Error().Err(err).Msg("Error closing WAL")
	}
}
