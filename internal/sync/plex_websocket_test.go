// Cartographus - Media Server Analytics and Geographic Visualization
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/cartographus

package sync

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/tomtom215/cartographus-realtime/internal/models"
)

const (
	playingFrame  = `{"NotificationContainer":{"type":"playing","size":1,"PlaySessionStateNotification":[{"sessionKey":"3","clientIdentifier":"tv","ratingKey":"77","state":"paused","viewOffset":1000}]}}`
	activityFrame = `{"NotificationContainer":{"type":"activity","size":1}}`
)

func TestBuildWebSocketURL(t *testing.T) {
	tests := []struct {
		base    string
		want    string
		wantErr bool
	}{
		{"http://plex.local:32400", "ws://plex.local:32400/:/websockets/notifications?X-Plex-Token=tok", false},
		{"https://plex.example.com", "wss://plex.example.com/:/websockets/notifications?X-Plex-Token=tok", false},
		{"not a url", "", true},
	}
	for _, tt := range tests {
		c := NewPlexWebSocketClient(tt.base, "tok", nil)
		got, err := c.buildWebSocketURL()
		if (err != nil) != tt.wantErr {
			t.Errorf("%q: err = %v", tt.base, err)
			continue
		}
		if got != tt.want {
			t.Errorf("%q: got %q, want %q", tt.base, got, tt.want)
		}
	}
}

func TestNextBackoff(t *testing.T) {
	d := time.Second
	var seq []time.Duration
	for i := 0; i < 7; i++ {
		seq = append(seq, d)
		d = nextBackoff(d, 32*time.Second)
	}
	want := []time.Duration{1, 2, 4, 8, 16, 32, 32}
	for i := range want {
		if seq[i] != want[i]*time.Second {
			t.Fatalf("backoff sequence = %v", seq)
		}
	}
}

// notificationServer sends frames on every connection then closes it.
func notificationServer(t *testing.T, frames []string, conns *atomic.Int32) *httptest.Server {
	t.Helper()
	upgrader := websocket.Upgrader{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/:/websockets/notifications" || r.URL.Query().Get("X-Plex-Token") != "tok" {
			http.Error(w, "forbidden", http.StatusForbidden)
			return
		}
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		conns.Add(1)
		for _, f := range frames {
			if err := conn.WriteMessage(websocket.TextMessage, []byte(f)); err != nil {
				return
			}
		}
		time.Sleep(20 * time.Millisecond)
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestPlexWebSocketDispatchesPlaying(t *testing.T) {
	var conns atomic.Int32
	srv := notificationServer(t, []string{activityFrame, "garbage", playingFrame}, &conns)

	got := make(chan models.PlexPlayingNotification, 16)
	c := NewPlexWebSocketClient(srv.URL, "tok", func(n models.PlexPlayingNotification) { got <- n })
	c.minBackoff = 10 * time.Millisecond

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- c.Serve(ctx) }()

	select {
	case n := <-got:
		if n.CanonicalSessionKey() != "tv:77" || n.SessionState() != models.StatePaused {
			t.Errorf("notification = %+v", n)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("no playing notification received")
	}

	// The server hangs up after each batch; the client must come back.
	deadline := time.Now().Add(5 * time.Second)
	for conns.Load() < 2 && time.Now().Before(deadline) {
		time.Sleep(10 * time.Millisecond)
	}
	if conns.Load() < 2 {
		t.Errorf("client did not reconnect, connections = %d", conns.Load())
	}

	cancel()
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("Serve did not return after cancel")
	}
}

func TestPlexWebSocketRejectedDial(t *testing.T) {
	var conns atomic.Int32
	srv := notificationServer(t, nil, &conns)

	c := NewPlexWebSocketClient(srv.URL, "wrong", nil)
	connected, err := c.runOnce(context.Background())
	if connected || err == nil {
		t.Errorf("runOnce = %v, %v; want failed dial", connected, err)
	}
}
