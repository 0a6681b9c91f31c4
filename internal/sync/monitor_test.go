// Cartographus - Media Server Analytics and Geographic Visualization
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/cartographus

package sync

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/tomtom215/cartographus-realtime/internal/models"
	"github.com/tomtom215/cartographus-realtime/internal/session"
)

var t0 = time.Date(2026, 3, 1, 20, 0, 0, 0, time.UTC)

type fakeSource struct {
	sessions []models.PlexSession
	err      error
}

func (f *fakeSource) GetSessions(context.Context) ([]models.PlexSession, error) {
	return f.sessions, f.err
}

type fakeUpdater struct {
	mu      sync.Mutex
	updates []session.Update
}

func (f *fakeUpdater) Apply(u session.Update) session.Result {
	f.mu.Lock()
	f.updates = append(f.updates, u)
	f.mu.Unlock()
	return session.Result{Outcome: session.Applied}
}

func (f *fakeUpdater) take() []session.Update {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := f.updates
	f.updates = nil
	return out
}

type fakeRecorder struct {
	events []*models.PlaybackEvent
}

func (f *fakeRecorder) RecordPlayback(_ context.Context, e *models.PlaybackEvent) (bool, error) {
	f.events = append(f.events, e)
	return true, nil
}

func plexSession(machineID, ratingKey, state string, viewOffset int64, maxOffset float64) models.PlexSession {
	s := models.PlexSession{
		SessionKey: "1",
		RatingKey:  ratingKey,
		Type:       "movie",
		Title:      "Arrival",
		Year:       2016,
		ViewOffset: viewOffset,
		User:       &models.PlexSessionUser{ID: "12", Title: "bob"},
		Player: &models.PlexSessionPlayer{
			MachineID: machineID,
			Platform:  "Android",
			Product:   "Plex for Android",
			Title:     "Pixel",
			State:     state,
			Address:   "203.0.113.9",
		},
	}
	if maxOffset > 0 {
		s.TranscodeSession = &models.PlexTranscodeSession{VideoDecision: "transcode", MaxOffsetAvailable: maxOffset}
	}
	return s
}

func newTestMonitor(src *fakeSource) (*Monitor, *fakeUpdater, *fakeRecorder) {
	up := &fakeUpdater{}
	rec := &fakeRecorder{}
	m := NewMonitor(src, up, rec, MonitorConfig{PollInterval: time.Second, BufferCapacitySeconds: 20})
	m.now = func() time.Time { return t0 }
	return m, up, rec
}

func TestMonitorPollBufferFill(t *testing.T) {
	src := &fakeSource{sessions: []models.PlexSession{
		plexSession("dev1", "100", "playing", 30_000, 39_000),
		plexSession("dev2", "200", "paused", 5_000, 0),
	}}
	m, up, _ := newTestMonitor(src)

	if err := m.Poll(context.Background()); err != nil {
		t.Fatalf("Poll: %v", err)
	}
	updates := up.take()
	if len(updates) != 2 {
		t.Fatalf("got %d updates, want 2", len(updates))
	}

	u := updates[0]
	if u.SessionKey != "dev1:100" || u.State != models.StatePlaying || !u.NewPlay {
		t.Errorf("update = %+v", u)
	}
	// 9s buffered of a 20s buffer.
	if u.BufferFillPercent == nil || *u.BufferFillPercent != 45 {
		t.Errorf("fill = %v, want 45", u.BufferFillPercent)
	}
	if u.MaxOffsetAvailable == nil || *u.MaxOffsetAvailable != 39_000 {
		t.Errorf("max offset = %v", u.MaxOffsetAvailable)
	}

	if updates[1].BufferFillPercent != nil {
		t.Error("direct play session should carry no buffer sample")
	}
	if updates[1].State != models.StatePaused {
		t.Errorf("state = %q", updates[1].State)
	}
}

func TestMonitorFillCapped(t *testing.T) {
	src := &fakeSource{sessions: []models.PlexSession{plexSession("dev1", "100", "playing", 0, 90_000)}}
	m, up, _ := newTestMonitor(src)

	_ = m.Poll(context.Background())
	u := up.take()[0]
	if *u.BufferFillPercent != 100 {
		t.Errorf("fill = %v, want 100", *u.BufferFillPercent)
	}
}

func TestMonitorRecordsNewSessionsOnce(t *testing.T) {
	src := &fakeSource{sessions: []models.PlexSession{plexSession("dev1", "100", "playing", 120_000, 0)}}
	m, up, rec := newTestMonitor(src)

	for i := 0; i < 3; i++ {
		if err := m.Poll(context.Background()); err != nil {
			t.Fatalf("Poll: %v", err)
		}
	}
	if len(rec.events) != 1 {
		t.Fatalf("recorded %d events, want 1", len(rec.events))
	}
	e := rec.events[0]
	if e.Source != models.SourcePlexPoll {
		t.Errorf("source = %q", e.Source)
	}
	if e.IdempotencyKey != "dev1:100|plex_poll|1" {
		t.Errorf("idempotency key = %q", e.IdempotencyKey)
	}
	if !e.StartedAt.Equal(t0.Add(-2 * time.Minute)) {
		t.Errorf("started at = %v", e.StartedAt)
	}
	if e.Username != "bob" || e.UserID != 12 || e.LocationType != "wan" {
		t.Errorf("event = %+v", e)
	}

	updates := up.take()
	if len(updates) != 3 || !updates[0].NewPlay || updates[1].NewPlay || updates[2].NewPlay {
		t.Errorf("NewPlay flags wrong: %+v", updates)
	}
}

func TestMonitorStopsVanishedSessions(t *testing.T) {
	src := &fakeSource{sessions: []models.PlexSession{
		plexSession("dev1", "100", "playing", 0, 0),
		plexSession("dev2", "200", "playing", 0, 0),
	}}
	m, up, _ := newTestMonitor(src)
	_ = m.Poll(context.Background())
	up.take()

	src.sessions = src.sessions[1:]
	_ = m.Poll(context.Background())

	var stopped []string
	for _, u := range up.take() {
		if u.State == models.StateStopped {
			stopped = append(stopped, u.SessionKey)
		}
	}
	if len(stopped) != 1 || stopped[0] != "dev1:100" {
		t.Errorf("stopped = %v, want [dev1:100]", stopped)
	}
}

func TestMonitorPollErrorKeepsState(t *testing.T) {
	src := &fakeSource{sessions: []models.PlexSession{plexSession("dev1", "100", "playing", 0, 0)}}
	m, up, _ := newTestMonitor(src)
	_ = m.Poll(context.Background())
	up.take()

	src.err = errors.New("connection refused")
	if err := m.Poll(context.Background()); err == nil {
		t.Fatal("expected error")
	}
	if n := len(up.take()); n != 0 {
		t.Errorf("failed poll applied %d updates", n)
	}

	src.err = nil
	_ = m.Poll(context.Background())
	for _, u := range up.take() {
		if u.State == models.StateStopped || u.NewPlay {
			t.Errorf("session should survive a failed poll: %+v", u)
		}
	}
}

func TestMonitorHandleNotification(t *testing.T) {
	m, up, _ := newTestMonitor(&fakeSource{})

	m.HandleNotification(models.PlexPlayingNotification{
		SessionKey:       "5",
		ClientIdentifier: "dev9",
		RatingKey:        "300",
		State:            "buffering",
		ViewOffset:       4_000,
	})
	m.HandleNotification(models.PlexPlayingNotification{})

	updates := up.take()
	if len(updates) != 1 {
		t.Fatalf("got %d updates, want 1", len(updates))
	}
	u := updates[0]
	if u.SessionKey != "dev9:300" || u.State != models.StateBuffering || *u.ViewOffset != 4_000 {
		t.Errorf("update = %+v", u)
	}
}
