// Cartographus - Media Server Analytics and Geographic Visualization
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/cartographus

// Package pagination serves playback history in stable pages.
//
// Cursor mode seeks on the (started_at, id) tuple of the last row served,
// so the cost of a page does not grow with depth and sequential pages never
// overlap or skip rows as long as no writes land in between. Each page is a
// snapshot taken at read time; rows inserted after a cursor was issued
// appear in later pages only if they sort after the cursor.
//
// Offset mode exists for older clients and returns the same order.
package pagination

import (
	"context"
	"fmt"

	"github.com/tomtom215/cartographus-realtime/internal/database"
	"github.com/tomtom215/cartographus-realtime/internal/models"
)

// Reader is the storage side of the paginator.
type Reader interface {
	GetPlaybackEventsAfter(ctx context.Context, pos *database.Position, limit int, filter models.PlaybackFilter) ([]models.PlaybackEvent, bool, error)
	GetPlaybackEventsOffset(ctx context.Context, limit, offset int, filter models.PlaybackFilter) ([]models.PlaybackEvent, error)
}

// Page is one cursor page.
type Page struct {
	Events     []models.PlaybackEvent
	NextCursor *string
	HasMore    bool
}

// Paginator pages playback history.
type Paginator struct {
	reader   Reader
	codec    *Codec
	maxLimit int
}

// New creates a paginator. maxLimit caps the page size; values above it
// are rejected by the API layer before they get here.
func New(reader Reader, codec *Codec, maxLimit int) *Paginator {
	if maxLimit <= 0 {
		maxLimit = 1000
	}
	return &Paginator{reader: reader, codec: codec, maxLimit: maxLimit}
}

// Page returns up to limit events after cursor, or the newest events when
// cursor is empty. A cursor that fails verification yields ErrInvalidCursor.
func (p *Paginator) Page(ctx context.Context, cursor string, limit int, filter models.PlaybackFilter) (*Page, error) {
	if limit < 1 || limit > p.maxLimit {
		return nil, fmt.Errorf("limit must be between 1 and %d", p.maxLimit)
	}

	var pos *database.Position
	if cursor != "" {
		decoded, err := p.codec.Decode(cursor)
		if err != nil {
			return nil, err
		}
		pos = &decoded
	}

	events, hasMore, err := p.reader.GetPlaybackEventsAfter(ctx, pos, limit, filter)
	if err != nil {
		return nil, err
	}
	if events == nil {
		events = []models.PlaybackEvent{}
	}

	page := &Page{Events: events, HasMore: hasMore && len(events) > 0}
	if page.HasMore {
		last := events[len(events)-1]
		next := p.codec.Encode(database.Position{StartedAt: last.StartedAt, ID: last.ID})
		page.NextCursor = &next
	}
	return page, nil
}

// Offset is the legacy read: limit events after skipping offset.
func (p *Paginator) Offset(ctx context.Context, limit, offset int, filter models.PlaybackFilter) ([]models.PlaybackEvent, error) {
	if limit < 1 || limit > p.maxLimit {
		return nil, fmt.Errorf("limit must be between 1 and %d", p.maxLimit)
	}
	if offset < 0 {
		return nil, fmt.Errorf("offset must be non-negative")
	}
	events, err := p.reader.GetPlaybackEventsOffset(ctx, limit, offset, filter)
	if err != nil {
		return nil, err
	}
	if events == nil {
		events = []models.PlaybackEvent{}
	}
	return events, nil
}
