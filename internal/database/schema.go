// Cartographus - Media Server Analytics and Geographic Visualization
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/cartographus

package database

import (
	"context"
	"fmt"
)

var schemaStatements = []string{
	`CREATE TABLE IF NOT EXISTS playback_events (
		id UUID PRIMARY KEY,
		idempotency_key TEXT NOT NULL UNIQUE,
		source TEXT NOT NULL,
		session_key TEXT NOT NULL,
		started_at TIMESTAMP NOT NULL,
		user_id INTEGER NOT NULL DEFAULT 0,
		username TEXT NOT NULL,
		media_type TEXT NOT NULL,
		title TEXT NOT NULL,
		parent_title TEXT,
		grandparent_title TEXT,
		rating_key TEXT,
		year INTEGER,
		platform TEXT NOT NULL,
		player TEXT NOT NULL,
		product TEXT,
		machine_id TEXT,
		ip_address TEXT NOT NULL,
		location_type TEXT NOT NULL,
		transcode_decision TEXT,
		video_decision TEXT,
		audio_decision TEXT,
		server_id TEXT,
		created_at TIMESTAMP NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_playback_started_id ON playback_events(started_at, id)`,
	`CREATE INDEX IF NOT EXISTS idx_playback_username ON playback_events(username)`,
	`CREATE INDEX IF NOT EXISTS idx_playback_session_key ON playback_events(session_key)`,
}

func (db *DB) createSchema(ctx context.Context) error {
	for _, stmt := range schemaStatements {
		if _, err := db.conn.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("schema: %w", err)
		}
	}
	return nil
}
