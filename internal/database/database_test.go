// Cartographus - Media Server Analytics and Geographic Visualization
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/cartographus

package database

import (
	"context"
	"database/sql/driver"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/tomtom215/cartographus-realtime/internal/config"
	"github.com/tomtom215/cartographus-realtime/internal/models"
)

// testDBSemaphore serializes DuckDB usage across tests; concurrent CGO
// database instances are slow under CI resource pressure.
var testDBSemaphore = make(chan struct{}, 1)

func setupTestDB(t *testing.T) *DB {
	t.Helper()

	testDBSemaphore <- struct{}{}
	t.Cleanup(func() { <-testDBSemaphore })

	db, err := New(&config.DatabaseConfig{Path: ":memory:", MaxMemory: "512MB", Threads: 2})
	if err != nil {
		t.Fatalf("Failed to create test database: %v", err)
	}
	t.Cleanup(func() {
		if err := db.Close(); err != nil {
			t.Errorf("close: %v", err)
		}
	})
	return db
}

var baseTime = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func newEvent(i int, startedAt time.Time) *models.PlaybackEvent {
	return &models.PlaybackEvent{
		ID:             models.NewPlaybackEventID(),
		Source:         models.SourcePlexWebhook,
		SessionKey:     fmt.Sprintf("player-%d:%d", i, 1000+i),
		StartedAt:      startedAt,
		IdempotencyKey: fmt.Sprintf("player-%d:%d|media.play|%d", i, 1000+i, startedAt.Unix()),
		Username:       fmt.Sprintf("user%d", i%3),
		MediaType:      []string{"movie", "episode"}[i%2],
		Title:          fmt.Sprintf("Title %d", i),
		Platform:       []string{"Roku", "Chrome"}[i%2],
		Player:         "Living Room",
		IPAddress:      "192.168.1.10",
		LocationType:   "lan",
	}
}

func TestInsertPlaybackEvent_Idempotent(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()

	ev := newEvent(1, baseTime)
	inserted, err := db.InsertPlaybackEvent(ctx, ev)
	if err != nil || !inserted {
		t.Fatalf("first insert = %v, %v", inserted, err)
	}

	// Same idempotency key, different id: still a no-op.
	dup := newEvent(1, baseTime)
	inserted, err = db.InsertPlaybackEvent(ctx, dup)
	if err != nil {
		t.Fatalf("duplicate insert error: %v", err)
	}
	if inserted {
		t.Error("duplicate insert reported inserted=true")
	}

	n, err := db.CountPlaybackEvents(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if n != 1 {
		t.Errorf("row count = %d, want 1", n)
	}

	exists, err := db.IdempotencyKeyExists(ctx, ev.IdempotencyKey)
	if err != nil || !exists {
		t.Errorf("IdempotencyKeyExists = %v, %v", exists, err)
	}
}

func TestInsertPlaybackEvent_RequiresIdempotencyKey(t *testing.T) {
	db := setupTestDB(t)
	ev := newEvent(1, baseTime)
	ev.IdempotencyKey = ""
	if _, err := db.InsertPlaybackEvent(context.Background(), ev); !errors.Is(err, ErrMissingIdempotencyKey) {
		t.Errorf("err = %v, want ErrMissingIdempotencyKey", err)
	}
}

func TestInsertPlaybackEvent_RoundTripFields(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()

	year := 2019
	ev := newEvent(2, baseTime.Add(123456789*time.Nanosecond))
	ev.GrandparentTitle = models.StringPtr("Show")
	ev.Year = &year

	before := *ev
	if _, err := db.InsertPlaybackEvent(ctx, ev); err != nil {
		t.Fatal(err)
	}
	if ev.StartedAt != before.StartedAt || ev.CreatedAt != before.CreatedAt || ev.ID != before.ID {
		t.Errorf("insert modified the caller's event: %+v, was %+v", ev, before)
	}

	got, _, err := db.GetPlaybackEventsAfter(ctx, nil, 10, models.PlaybackFilter{})
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 1 {
		t.Fatalf("len = %d", len(got))
	}
	if got[0].ID != ev.ID {
		t.Errorf("ID = %s, want %s", got[0].ID, ev.ID)
	}
	if want := models.StorageTime(ev.StartedAt); !got[0].StartedAt.Equal(want) {
		t.Errorf("StartedAt = %v, want %v (microsecond truncated)", got[0].StartedAt, want)
	}
	if got[0].GrandparentTitle == nil || *got[0].GrandparentTitle != "Show" {
		t.Errorf("GrandparentTitle = %v", got[0].GrandparentTitle)
	}
	if got[0].ParentTitle != nil {
		t.Errorf("ParentTitle = %v, want nil", *got[0].ParentTitle)
	}
	if got[0].Year == nil || *got[0].Year != 2019 {
		t.Errorf("Year = %v", got[0].Year)
	}
}

func TestGetPlaybackEventsAfter_KeysetChain(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()

	// Pairs share a timestamp so the id tie-break is exercised.
	const total = 25
	for i := 0; i < total; i++ {
		ts := baseTime.Add(time.Duration(i/2) * time.Minute)
		if _, err := db.InsertPlaybackEvent(ctx, newEvent(i, ts)); err != nil {
			t.Fatal(err)
		}
	}

	seen := make(map[uuid.UUID]bool)
	var pos *Position
	var prev *models.PlaybackEvent
	pages := 0
	for {
		events, hasMore, err := db.GetPlaybackEventsAfter(ctx, pos, 7, models.PlaybackFilter{})
		if err != nil {
			t.Fatal(err)
		}
		pages++
		for i := range events {
			e := events[i]
			if seen[e.ID] {
				t.Fatalf("event %s returned twice", e.ID)
			}
			seen[e.ID] = true
			if prev != nil && !precedes(*prev, e) {
				t.Fatalf("order violated: %v/%s then %v/%s", prev.StartedAt, prev.ID, e.StartedAt, e.ID)
			}
			prev = &events[i]
		}
		if !hasMore {
			break
		}
		last := events[len(events)-1]
		pos = &Position{StartedAt: last.StartedAt, ID: last.ID}
	}

	if len(seen) != total {
		t.Errorf("saw %d events, want %d", len(seen), total)
	}
	if pages != 4 {
		t.Errorf("pages = %d, want 4", pages)
	}
}

// precedes reports whether a sorts before b in (started_at DESC, id DESC).
func precedes(a, b models.PlaybackEvent) bool {
	if !a.StartedAt.Equal(b.StartedAt) {
		return a.StartedAt.After(b.StartedAt)
	}
	return a.ID.String() > b.ID.String()
}

func TestGetPlaybackEventsAfter_EmptyPage(t *testing.T) {
	db := setupTestDB(t)

	events, hasMore, err := db.GetPlaybackEventsAfter(context.Background(),
		&Position{StartedAt: baseTime, ID: uuid.New()}, 10, models.PlaybackFilter{})
	if err != nil {
		t.Fatal(err)
	}
	if len(events) != 0 || hasMore {
		t.Errorf("got %d events, hasMore=%v", len(events), hasMore)
	}
	if events == nil {
		t.Error("events should be an empty slice, not nil")
	}
}

func TestGetPlaybackEventsOffset_Filters(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()

	for i := 0; i < 10; i++ {
		if _, err := db.InsertPlaybackEvent(ctx, newEvent(i, baseTime.Add(time.Duration(i)*time.Hour))); err != nil {
			t.Fatal(err)
		}
	}

	start := baseTime.Add(2 * time.Hour)
	end := baseTime.Add(7 * time.Hour)

	tests := []struct {
		name   string
		filter models.PlaybackFilter
		want   int
	}{
		{"no filter", models.PlaybackFilter{}, 10},
		{"movies", models.PlaybackFilter{MediaTypes: []string{"movie"}}, 5},
		{"two users", models.PlaybackFilter{Users: []string{"user0", "user1"}}, 7},
		{"platform", models.PlaybackFilter{Platforms: []string{"Chrome"}}, 5},
		{"date range", models.PlaybackFilter{StartDate: &start, EndDate: &end}, 6},
		{"combined", models.PlaybackFilter{StartDate: &start, MediaTypes: []string{"episode"}}, 4},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := db.GetPlaybackEventsOffset(ctx, 100, 0, tt.filter)
			if err != nil {
				t.Fatal(err)
			}
			if len(got) != tt.want {
				t.Errorf("len = %d, want %d", len(got), tt.want)
			}
		})
	}

	page, err := db.GetPlaybackEventsOffset(ctx, 3, 3, models.PlaybackFilter{})
	if err != nil {
		t.Fatal(err)
	}
	if len(page) != 3 || !page[0].StartedAt.Equal(baseTime.Add(6*time.Hour)) {
		t.Errorf("offset page starts at %v", page[0].StartedAt)
	}
}

func TestPing(t *testing.T) {
	db := setupTestDB(t)
	if err := db.Ping(context.Background()); err != nil {
		t.Errorf("Ping() = %v", err)
	}
}

func TestIsTransient(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"nil", nil, false},
		{"bad conn", fmt.Errorf("exec: %w", driver.ErrBadConn), true},
		{"deadline", context.DeadlineExceeded, true},
		{"closed", errors.New("sql: database is closed"), true},
		{"conflict", errors.New("TransactionContext Error: Transaction conflict: cannot update"), true},
		{"constraint", errors.New("Constraint Error: NOT NULL constraint failed"), false},
		{"syntax", errors.New("Parser Error: syntax error"), false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := IsTransient(tt.err); got != tt.want {
				t.Errorf("IsTransient(%v) = %v, want %v", tt.err, got, tt.want)
			}
		})
	}
}
