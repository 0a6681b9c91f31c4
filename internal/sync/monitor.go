// Cartographus - Media Server Analytics and Geographic Visualization
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/cartographus

package sync

import (
	"context"
	"strconv"
	"sync"
	"time"

	"github.com/tomtom215/cartographus-realtime/internal/logging"
	"github.com/tomtom215/cartographus-realtime/internal/models"
	"github.com/tomtom215/cartographus-realtime/internal/session"
)

// SessionSource lists active Plex sessions.
type SessionSource interface {
	GetSessions(ctx context.Context) ([]models.PlexSession, error)
}

// SessionUpdater folds observations into live session state.
type SessionUpdater interface {
	Apply(u session.Update) session.Result
}

// PlaybackRecorder persists newly observed playbacks.
type PlaybackRecorder interface {
	RecordPlayback(ctx context.Context, event *models.PlaybackEvent) (bool, error)
}

// MonitorConfig holds poll timing and the buffer size used for fill.
type MonitorConfig struct {
	PollInterval          time.Duration
	BufferCapacitySeconds float64
}

// Monitor polls /status/sessions and applies notifications from the
// realtime stream.
type Monitor struct {
	source   SessionSource
	tracker  SessionUpdater
	recorder PlaybackRecorder
	cfg      MonitorConfig
	now      func() time.Time

	mu sync.Mutex
	// present holds the keys seen by the last successful poll.
	present map[string]struct{}
}

// NewMonitor creates a monitor. recorder may be nil.
func NewMonitor(source SessionSource, tracker SessionUpdater, recorder PlaybackRecorder, cfg MonitorConfig) *Monitor {
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = 5 * time.Second
	}
	if cfg.BufferCapacitySeconds <= 0 {
		cfg.BufferCapacitySeconds = 30
	}
	return &Monitor{
		source:   source,
		tracker:  tracker,
		recorder: recorder,
		cfg:      cfg,
		now:      time.Now,
		present:  make(map[string]struct{}),
	}
}

// Serve polls until ctx is canceled. It is a suture.Service.
func (m *Monitor) Serve(ctx context.Context) error {
	ticker := time.NewTicker(m.cfg.PollInterval)
	defer ticker.Stop()

	for {
		if err := m.Poll(ctx); err != nil && ctx.Err() == nil {
			logging.Warn().Err(err).Msg("Plex session poll failed")
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

func (m *Monitor) String() string {
	return "plex-session-monitor"
}

// Poll fetches sessions once. Sessions that disappeared since the previous
// successful poll are stopped; sessions seen for the first time are
// recorded as playback events.
func (m *Monitor) Poll(ctx context.Context) error {
	sessions, err := m.source.GetSessions(ctx)
	if err != nil {
		return err
	}
	now := m.now()

	m.mu.Lock()
	defer m.mu.Unlock()

	current := make(map[string]struct{}, len(sessions))
	for i := range sessions {
		s := &sessions[i]
		key := s.CanonicalSessionKey()
		if key == "" {
			continue
		}
		current[key] = struct{}{}

		_, known := m.present[key]
		m.tracker.Apply(m.sessionUpdate(s, key, !known, now))

		if !known && m.recorder != nil {
			if _, err := m.recorder.RecordPlayback(ctx, sessionEvent(s, key, now)); err != nil {
				logging.Warn().Err(err).Str("session_key", key).Msg("Failed to record polled playback")
			}
		}
	}

	for key := range m.present {
		if _, ok := current[key]; !ok {
			m.tracker.Apply(session.Update{SessionKey: key, State: models.StateStopped, At: now})
		}
	}
	m.present = current
	return nil
}

// HandleNotification applies one realtime "playing" notification.
func (m *Monitor) HandleNotification(n models.PlexPlayingNotification) {
	key := n.CanonicalSessionKey()
	if key == "" {
		return
	}
	offset := n.ViewOffset
	m.tracker.Apply(session.Update{
		SessionKey: key,
		State:      n.SessionState(),
		RatingKey:  n.RatingKey,
		ViewOffset: &offset,
		At:         m.now(),
	})
}

func (m *Monitor) sessionUpdate(s *models.PlexSession, key string, first bool, now time.Time) session.Update {
	offset := s.ViewOffset
	u := session.Update{
		SessionKey: key,
		State:      s.SessionState(),
		NewPlay:    first,
		RatingKey:  s.RatingKey,
		Title:      sessionTitle(s),
		ViewOffset: &offset,
		At:         now,
	}
	if s.User != nil {
		u.Username = s.User.Title
	}
	if s.Player != nil {
		u.Player = s.Player.Title
	}
	if buffered, ok := s.BufferedSeconds(); ok {
		fill := buffered * 100 / m.cfg.BufferCapacitySeconds
		if fill > 100 {
			fill = 100
		}
		maxOffset := s.TranscodeSession.MaxOffsetAvailable
		u.BufferFillPercent = &fill
		u.MaxOffsetAvailable = &maxOffset
	}
	return u
}

func sessionTitle(s *models.PlexSession) string {
	if s.GrandparentTitle != "" && (s.Type == "episode" || s.Type == "track") {
		return s.GrandparentTitle + " - " + s.Title
	}
	return s.Title
}

// sessionEvent builds the PlaybackEvent for a session first seen by a poll.
// Plex's own session key identifies one playback, so it anchors the
// idempotency key.
func sessionEvent(s *models.PlexSession, key string, now time.Time) *models.PlaybackEvent {
	started := now.Add(-time.Duration(s.ViewOffset) * time.Millisecond).UTC().Truncate(time.Second)
	event := &models.PlaybackEvent{
		ID:             models.NewPlaybackEventID(),
		Source:         models.SourcePlexPoll,
		SessionKey:     key,
		StartedAt:      started,
		IdempotencyKey: key + "|" + models.SourcePlexPoll + "|" + s.SessionKey,
		MediaType:      s.Type,
		Title:          s.Title,
		RatingKey:      models.StringPtr(s.RatingKey),
		CreatedAt:      models.StorageTime(now),
	}
	if s.Year > 0 {
		year := s.Year
		event.Year = &year
	}
	switch s.Type {
	case "episode", "track":
		event.ParentTitle = models.StringPtr(s.ParentTitle)
		event.GrandparentTitle = models.StringPtr(s.GrandparentTitle)
	}
	if s.User != nil {
		event.Username = s.User.Title
		if id, err := strconv.Atoi(s.User.ID); err == nil {
			event.UserID = id
		}
	}
	if p := s.Player; p != nil {
		event.Platform = p.Platform
		event.Player = p.Title
		event.Product = models.StringPtr(p.Product)
		event.MachineID = models.StringPtr(p.MachineID)
		event.IPAddress = p.Address
		event.LocationType = models.LocationTypeFor(p.Local)
	}
	event.TranscodeDecision = models.StringPtr(s.TranscodeDecision())
	if t := s.TranscodeSession; t != nil {
		event.VideoDecision = models.StringPtr(t.VideoDecision)
		event.AudioDecision = models.StringPtr(t.AudioDecision)
	}
	return event
}
