// Cartographus - Media Server Analytics and Geographic Visualization
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/cartographus

package wal

import (
	"context"
	"math"
	"time"

	"github.com/tomtom215/cartographus-realtime/internal/logging"
	"github.com/tomtom215/cartographus-realtime/internal/metrics"
)

// Replayer re-applies a pending entry to its destination. A nil error
// means the entry is durably stored and may be confirmed.
type Replayer interface {
	ReplayEntry(ctx context.Context, entry *Entry) error
}

// ReplayerFunc adapts a function to Replayer.
type ReplayerFunc func(ctx context.Context, entry *Entry) error

// ReplayEntry calls f.
func (f ReplayerFunc) ReplayEntry(ctx context.Context, entry *Entry) error {
	return f(ctx, entry)
}

// RetryLoop periodically replays pending entries with per-entry
// exponential backoff and runs value-log GC. It is a suture.Service.
type RetryLoop struct {
	wal      *BadgerWAL
	replayer Replayer
	cfg      RetryConfig
	now      func() time.Time
}

// RetryConfig tunes the RetryLoop.
type RetryConfig struct {
	Interval    time.Duration
	MaxRetries  int
	BaseBackoff time.Duration
	MaxBackoff  time.Duration
	GCInterval  time.Duration
}

// NewRetryLoop creates a retry loop from the WAL's configuration.
func NewRetryLoop(w *BadgerWAL, replayer Replayer) *RetryLoop {
	cfg := RetryConfig{
		Interval:    w.cfg.RetryInterval,
		MaxRetries:  w.cfg.MaxRetries,
		BaseBackoff: w.cfg.RetryBackoff,
		MaxBackoff:  5 * time.Minute,
		GCInterval:  w.cfg.GCInterval,
	}
	if cfg.Interval <= 0 {
		cfg.Interval = 15 * time.Second
	}
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = 10
	}
	if cfg.BaseBackoff <= 0 {
		cfg.BaseBackoff = time.Second
	}
	return &RetryLoop{wal: w, replayer: replayer, cfg: cfg, now: time.Now}
}

// Serve replays pending entries once immediately (startup recovery) and
// then every Interval until ctx is canceled.
func (r *RetryLoop) Serve(ctx context.Context) error {
	r.RetryPending(ctx)

	ticker := time.NewTicker(r.cfg.Interval)
	defer ticker.Stop()

	var gc <-chan time.Time
	if r.cfg.GCInterval > 0 {
		gcTicker := time.NewTicker(r.cfg.GCInterval)
		defer gcTicker.Stop()
		gc = gcTicker.C
	}

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			r.RetryPending(ctx)
		case <-gc:
			if err := r.wal.RunGC(); err != nil {
				logging.Warn().Err(err).Msg("WAL value log GC failed")
			}
		}
	}
}

// String names the service in supervisor logs.
func (r *RetryLoop) String() string {
	return "wal-retry-loop"
}

type retryResult int

const (
	retrySucceeded retryResult = iota
	retryFailed
	retrySkipped
	retryExhausted
)

// RetryPending makes one pass over the pending entries and returns how many
// were confirmed.
func (r *RetryLoop) RetryPending(ctx context.Context) int {
	entries, err := r.wal.GetPending(ctx)
	if err != nil {
		logging.Error().Err(err).Msg("WAL retry: failed to get pending entries")
		return 0
	}
	if len(entries) == 0 {
		return 0
	}

	var succeeded, failed, exhausted int
	for _, entry := range entries {
		if ctx.Err() != nil {
			break
		}
		switch r.processEntry(ctx, entry) {
		case retrySucceeded:
			succeeded++
		case retryFailed:
			failed++
		case retryExhausted:
			exhausted++
		}
	}

	if succeeded > 0 || failed > 0 || exhausted > 0 {
		logging.Info().
			Int("pending", len(entries)).
			Int("succeeded", succeeded).
			Int("failed", failed).
			Int("exhausted", exhausted).
			Msg("WAL retry pass complete")
	}
	return succeeded
}

func (r *RetryLoop) processEntry(ctx context.Context, entry *Entry) retryResult {
	if entry.Attempts >= r.cfg.MaxRetries {
		logging.Error().
			Str("entry_id", entry.ID).
			Int("attempts", entry.Attempts).
			Str("last_error", entry.LastError).
			Msg("WAL retry: entry exceeded max retries, parking as failed")
		if err := r.wal.MarkFailed(ctx, entry.ID, entry.LastError); err != nil {
			logging.Error().Err(err).Str("entry_id", entry.ID).Msg("WAL retry: failed to park entry")
		}
		metrics.WALRecoveries.WithLabelValues("exhausted").Inc()
		return retryExhausted
	}

	if !r.isReadyForRetry(entry) {
		return retrySkipped
	}

	replayCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	err := r.replayer.ReplayEntry(replayCtx, entry)
	cancel()

	if err != nil {
		logging.Warn().
			Err(err).
			Str("entry_id", entry.ID).
			Int("attempt", entry.Attempts+1).
			Msg("WAL retry: replay failed")
		if updateErr := r.wal.UpdateAttempt(ctx, entry.ID, err.Error()); updateErr != nil {
			logging.Error().Err(updateErr).Str("entry_id", entry.ID).Msg("WAL retry: failed to update attempt")
		}
		metrics.WALRecoveries.WithLabelValues("failed").Inc()
		return retryFailed
	}

	if err := r.wal.Confirm(ctx, entry.ID); err != nil {
		logging.Error().Err(err).Str("entry_id", entry.ID).Msg("WAL retry: failed to confirm entry")
		return retryFailed
	}
	metrics.WALRecoveries.WithLabelValues("replayed").Inc()
	return retrySucceeded
}

func (r *RetryLoop) isReadyForRetry(entry *Entry) bool {
	if entry.LastAttemptAt.IsZero() {
		return true
	}
	return r.now().Sub(entry.LastAttemptAt) >= r.calculateBackoff(entry.Attempts)
}

// calculateBackoff returns base * 2^attempts capped at MaxBackoff.
func (r *RetryLoop) calculateBackoff(attempts int) time.Duration {
	if attempts > 50 {
		return r.cfg.MaxBackoff
	}
	backoff := time.Duration(float64(r.cfg.BaseBackoff) * math.Pow(2, float64(attempts)))
	if backoff < 0 || backoff > r.cfg.MaxBackoff {
		backoff = r.cfg.MaxBackoff
	}
	return backoff
}
