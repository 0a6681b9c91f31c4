// Cartographus - Media Server Analytics and Geographic Visualization
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/cartographus

package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/tomtom215/cartographus-realtime/internal/metrics"
	"github.com/tomtom215/cartographus-realtime/internal/models"
)

// ErrMissingIdempotencyKey is returned by InsertPlaybackEvent for events
// that were never assigned an idempotency key.
var ErrMissingIdempotencyKey = errors.New("playback event has no idempotency key")

// Position is a point in the (started_at DESC, id DESC) order.
type Position struct {
	StartedAt time.Time
	ID        uuid.UUID
}

const playbackColumns = `id, source, session_key, started_at, user_id, username,
	media_type, title, parent_title, grandparent_title, rating_key, year,
	platform, player, product, machine_id, ip_address, location_type,
	transcode_decision, video_decision, audio_decision, server_id, created_at`

// InsertPlaybackEvent appends event. A row with the same id or idempotency
// key already present makes the call a no-op that returns inserted=false.
//
// Timestamps are stored as UTC microseconds, the TIMESTAMP precision. The
// caller's event is not modified; build it with models.StorageTime to hold
// the same instant a read returns.
func (db *DB) InsertPlaybackEvent(ctx context.Context, event *models.PlaybackEvent) (bool, error) {
	if event.IdempotencyKey == "" {
		return false, ErrMissingIdempotencyKey
	}
	row := *event
	if row.ID == uuid.Nil {
		row.ID = models.NewPlaybackEventID()
	}
	if row.CreatedAt.IsZero() {
		row.CreatedAt = time.Now()
	}
	row.StartedAt = models.StorageTime(row.StartedAt)
	row.CreatedAt = models.StorageTime(row.CreatedAt)

	ctx, cancel := db.ensureContext(ctx)
	defer cancel()

	start := time.Now()
	defer func() { metrics.RecordDBQuery("insert_playback", time.Since(start)) }()

	query := `INSERT INTO playback_events (` + playbackColumns + `, idempotency_key)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	ON CONFLICT DO NOTHING`

	res, err := db.conn.ExecContext(ctx, query,
		row.ID.String(), row.Source, row.SessionKey, row.StartedAt,
		row.UserID, row.Username,
		row.MediaType, row.Title, row.ParentTitle, row.GrandparentTitle,
		row.RatingKey, row.Year,
		row.Platform, row.Player, row.Product, row.MachineID,
		row.IPAddress, row.LocationType,
		row.TranscodeDecision, row.VideoDecision, row.AudioDecision,
		row.ServerID, row.CreatedAt,
		row.IdempotencyKey,
	)
	if err != nil {
		return false, fmt.Errorf("failed to insert playback event: %w", err)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to read affected rows: %w", err)
	}
	return affected > 0, nil
}

// IdempotencyKeyExists reports whether an event with key is stored.
func (db *DB) IdempotencyKeyExists(ctx context.Context, key string) (bool, error) {
	ctx, cancel := db.ensureContext(ctx)
	defer cancel()

	var exists bool
	err := db.conn.QueryRowContext(ctx,
		`SELECT EXISTS(SELECT 1 FROM playback_events WHERE idempotency_key = ?)`, key,
	).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("failed to check idempotency key: %w", err)
	}
	return exists, nil
}

// GetPlaybackEventsAfter returns up to limit events strictly after pos in
// (started_at DESC, id DESC) order, or from the newest event when pos is
// nil. hasMore reports whether at least one further event exists.
func (db *DB) GetPlaybackEventsAfter(ctx context.Context, pos *Position, limit int, filter models.PlaybackFilter) ([]models.PlaybackEvent, bool, error) {
	ctx, cancel := db.ensureContext(ctx)
	defer cancel()

	start := time.Now()
	defer func() { metrics.RecordDBQuery("playbacks_keyset", time.Since(start)) }()

	conditions, args := buildFilterConditions(filter)
	if pos != nil {
		// DuckDB compares a bound uuid as VARCHAR inside a row constructor,
		// hence the explicit cast.
		conditions = append(conditions, "(started_at, id) < (?, CAST(? AS UUID))")
		args = append(args, pos.StartedAt.UTC(), pos.ID.String())
	}
	args = append(args, limit+1)

	query := `SELECT ` + playbackColumns + `
	FROM playback_events
	` + whereClause(conditions) + `
	ORDER BY started_at DESC, id DESC
	LIMIT ?`

	events, err := db.queryPlaybackEvents(ctx, query, args...)
	if err != nil {
		return nil, false, err
	}

	hasMore := len(events) > limit
	if hasMore {
		events = events[:limit]
	}
	return events, hasMore, nil
}

// GetPlaybackEventsOffset is the legacy LIMIT/OFFSET read with the same
// order and filters as GetPlaybackEventsAfter.
func (db *DB) GetPlaybackEventsOffset(ctx context.Context, limit, offset int, filter models.PlaybackFilter) ([]models.PlaybackEvent, error) {
	ctx, cancel := db.ensureContext(ctx)
	defer cancel()

	start := time.Now()
	defer func() { metrics.RecordDBQuery("playbacks_offset", time.Since(start)) }()

	conditions, args := buildFilterConditions(filter)
	args = append(args, limit, offset)

	query := `SELECT ` + playbackColumns + `
	FROM playback_events
	` + whereClause(conditions) + `
	ORDER BY started_at DESC, id DESC
	LIMIT ? OFFSET ?`

	return db.queryPlaybackEvents(ctx, query, args...)
}

// CountPlaybackEvents returns the number of stored events.
func (db *DB) CountPlaybackEvents(ctx context.Context) (int64, error) {
	ctx, cancel := db.ensureContext(ctx)
	defer cancel()

	var n int64
	if err := db.conn.QueryRowContext(ctx, `SELECT COUNT(*) FROM playback_events`).Scan(&n); err != nil {
		return 0, fmt.Errorf("failed to count playback events: %w", err)
	}
	return n, nil
}

func (db *DB) queryPlaybackEvents(ctx context.Context, query string, args ...interface{}) ([]models.PlaybackEvent, error) {
	rows, err := db.conn.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query playback events: %w", err)
	}
	defer closeWithLog(rows, "rows")

	events := make([]models.PlaybackEvent, 0)
	for rows.Next() {
		e, err := scanPlaybackEvent(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan playback event: %w", err)
		}
		events = append(events, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating playback events: %w", err)
	}
	return events, nil
}

func scanPlaybackEvent(rows *sql.Rows) (models.PlaybackEvent, error) {
	var e models.PlaybackEvent
	var year sql.NullInt64
	err := rows.Scan(
		&e.ID, &e.Source, &e.SessionKey, &e.StartedAt, &e.UserID, &e.Username,
		&e.MediaType, &e.Title, &e.ParentTitle, &e.GrandparentTitle, &e.RatingKey, &year,
		&e.Platform, &e.Player, &e.Product, &e.MachineID, &e.IPAddress, &e.LocationType,
		&e.TranscodeDecision, &e.VideoDecision, &e.AudioDecision, &e.ServerID, &e.CreatedAt,
	)
	if err != nil {
		return e, err
	}
	if year.Valid {
		y := int(year.Int64)
		e.Year = &y
	}
	e.StartedAt = e.StartedAt.UTC()
	e.CreatedAt = e.CreatedAt.UTC()
	return e, nil
}
