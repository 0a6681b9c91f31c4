// Cartographus - Media Server Analytics and Geographic Visualization
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/cartographus

// Package eventstore appends playback events durably.
//
// Append writes the event to the write-ahead log, inserts it into DuckDB
// with a bounded number of retries on transient errors, and confirms the
// log entry once the row exists. When the retries are exhausted the caller
// gets ErrStorageUnavailable and the log entry stays pending for the WAL
// retry loop, so an accepted event is never silently dropped.
package eventstore

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/tomtom215/cartographus-realtime/internal/database"
	"github.com/tomtom215/cartographus-realtime/internal/logging"
	"github.com/tomtom215/cartographus-realtime/internal/metrics"
	"github.com/tomtom215/cartographus-realtime/internal/models"
	"github.com/tomtom215/cartographus-realtime/internal/wal"
)

var (
	// ErrStorageUnavailable means the event could not be inserted after all
	// retries. The HTTP layer maps it to 503.
	ErrStorageUnavailable = errors.New("event storage unavailable")

	// ErrInvalidEvent is returned for events without a session key or
	// idempotency key.
	ErrInvalidEvent = errors.New("invalid playback event")
)

// Inserter is the DuckDB write path used by the store.
type Inserter interface {
	InsertPlaybackEvent(ctx context.Context, event *models.PlaybackEvent) (bool, error)
}

// Log is the write-ahead log used by the store.
type Log interface {
	Write(ctx context.Context, entryID string, event interface{}) (string, error)
	Confirm(ctx context.Context, entryID string) error
	MarkFailed(ctx context.Context, entryID, reason string) error
}

// Config tunes Append retries.
type Config struct {
	Retries int
	Backoff time.Duration
}

// Store is the append-only playback event store.
type Store struct {
	db  Inserter
	log Log
	cfg Config

	// isTransient classifies insert errors; database.IsTransient by default.
	isTransient func(error) bool

	// writeMu serializes inserts. Session state never takes this lock.
	writeMu sync.Mutex
}

// New creates a store. log may be nil, in which case events are inserted
// without a write-ahead log and a failed append is reported but not
// replayed later.
func New(db Inserter, log Log, cfg Config) *Store {
	if cfg.Retries < 0 {
		cfg.Retries = 0
	}
	if cfg.Backoff <= 0 {
		cfg.Backoff = 100 * time.Millisecond
	}
	return &Store{db: db, log: log, cfg: cfg, isTransient: database.IsTransient}
}

// record is the WAL payload. The idempotency key is carried beside the
// event because the event's JSON form omits it.
type record struct {
	Event          *models.PlaybackEvent `json:"event"`
	IdempotencyKey string                `json:"idempotency_key"`
}

// Append stores event once. inserted is false when an event with the same
// idempotency key already exists.
func (s *Store) Append(ctx context.Context, event *models.PlaybackEvent) (bool, error) {
	if event == nil || event.SessionKey == "" || event.IdempotencyKey == "" {
		return false, ErrInvalidEvent
	}
	if event.ID == uuid.Nil {
		event.ID = models.NewPlaybackEventID()
	}

	entryID := ""
	if s.log != nil {
		id, err := s.log.Write(ctx, event.ID.String(), record{Event: event, IdempotencyKey: event.IdempotencyKey})
		if err != nil {
			metrics.RecordAppend("failed")
			return false, fmt.Errorf("%w: wal write: %v", ErrStorageUnavailable, err)
		}
		entryID = id
	}

	inserted, err := s.insertWithRetry(ctx, event)
	if err != nil {
		metrics.RecordAppend("failed")
		if !errors.Is(err, ErrStorageUnavailable) && entryID != "" {
			// A permanent error will not succeed on replay either.
			if markErr := s.log.MarkFailed(ctx, entryID, err.Error()); markErr != nil {
				logging.Warn().Err(markErr).Str("entry_id", entryID).Msg("Failed to park WAL entry")
			}
		}
		return false, err
	}

	if entryID != "" {
		if err := s.log.Confirm(ctx, entryID); err != nil {
			// The row exists; a later replay is a no-op on the idempotency key.
			logging.Warn().Err(err).Str("entry_id", entryID).Msg("Failed to confirm WAL entry")
		}
	}

	if inserted {
		metrics.RecordAppend("inserted")
	} else {
		metrics.RecordAppend("duplicate")
	}
	return inserted, nil
}

func (s *Store) insertWithRetry(ctx context.Context, event *models.PlaybackEvent) (bool, error) {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	var lastErr error
	backoff := s.cfg.Backoff
	for attempt := 0; attempt <= s.cfg.Retries; attempt++ {
		if attempt > 0 {
			metrics.EventStoreRetries.Inc()
			select {
			case <-ctx.Done():
				return false, fmt.Errorf("%w: %v", ErrStorageUnavailable, ctx.Err())
			case <-time.After(backoff):
			}
			backoff *= 2
		}

		inserted, err := s.db.InsertPlaybackEvent(ctx, event)
		if err == nil {
			return inserted, nil
		}
		if !s.isTransient(err) {
			return false, err
		}
		lastErr = err
		logging.Ctx(ctx).Warn().
			Err(err).
			Int("attempt", attempt+1).
			Str("session_key", event.SessionKey).
			Msg("Transient storage error, retrying append")
	}
	return false, fmt.Errorf("%w: %v", ErrStorageUnavailable, lastErr)
}

// ReplayEntry inserts a pending WAL entry. It implements wal.Replayer.
func (s *Store) ReplayEntry(ctx context.Context, entry *wal.Entry) error {
	var rec record
	if err := entry.UnmarshalPayload(&rec); err != nil {
		return fmt.Errorf("decode wal entry %s: %w", entry.ID, err)
	}
	if rec.Event == nil {
		return fmt.Errorf("wal entry %s has no event", entry.ID)
	}
	rec.Event.IdempotencyKey = rec.IdempotencyKey

	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	inserted, err := s.db.InsertPlaybackEvent(ctx, rec.Event)
	if err != nil {
		return err
	}
	if inserted {
		metrics.RecordAppend("recovered")
	}
	return nil
}
