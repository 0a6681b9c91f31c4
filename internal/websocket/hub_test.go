// Cartographus - Media Server Analytics and Geographic Visualization
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/cartographus

package websocket

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/goccy/go-json"
	"github.com/gorilla/websocket"

	"github.com/tomtom215/cartographus-realtime/internal/logging"
)

//nolint:gochecknoinits // init ensures consistent logging for tests
func init() {
	logging.Init(logging.Config{Level: "info", Format: "console", Output: io.Discard})
}

func startHub(t *testing.T, cfg Config) (*Hub, context.CancelFunc) {
	t.Helper()
	hub := NewHub(cfg)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		_ = hub.RunWithContext(ctx)
		close(done)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
	})
	return hub, cancel
}

func newHubServer(t *testing.T, hub *Hub) *httptest.Server {
	t.Helper()
	upgrader := websocket.Upgrader{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		hub.Subscribe(conn)
	}))
	t.Cleanup(srv.Close)
	return srv
}

func dial(t *testing.T, srv *httptest.Server) *websocket.Conn {
	t.Helper()
	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http")
	conn, resp, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if resp != nil && resp.Body != nil {
		defer resp.Body.Close()
	}
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() { _ = conn.Close() })
	return conn
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

type frame struct {
	Type      string          `json:"type"`
	Data      json.RawMessage `json:"data"`
	Timestamp time.Time       `json:"timestamp"`
}

func readFrame(t *testing.T, conn *websocket.Conn) frame {
	t.Helper()
	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var f frame
	if err := conn.ReadJSON(&f); err != nil {
		t.Fatalf("read frame: %v", err)
	}
	return f
}

func TestHub_BroadcastOrder(t *testing.T) {
	hub, _ := startHub(t, Config{})
	srv := newHubServer(t, hub)

	a := dial(t, srv)
	b := dial(t, srv)
	waitFor(t, "two subscribers", func() bool { return hub.GetClientCount() == 2 })

	const n = 50
	for i := 0; i < n; i++ {
		hub.BroadcastJSON("plex_realtime_playback", map[string]int{"seq": i})
	}

	for _, conn := range []*websocket.Conn{a, b} {
		for i := 0; i < n; i++ {
			f := readFrame(t, conn)
			var data struct{ Seq int }
			if err := json.Unmarshal(f.Data, &data); err != nil {
				t.Fatalf("decode data: %v", err)
			}
			if data.Seq != i {
				t.Fatalf("frame %d carried seq %d", i, data.Seq)
			}
			if f.Type != "plex_realtime_playback" || f.Timestamp.IsZero() {
				t.Fatalf("bad frame envelope: %+v", f)
			}
		}
	}
}

func TestHub_SlowConsumerDisconnected(t *testing.T) {
	const (
		queue  = 2
		slowN  = 100
		frames = 20
	)
	hub, _ := startHub(t, Config{SendQueueSize: queue})

	// Subscribers without pumps never drain their queues. The fast one has
	// room for every frame.
	slow := make([]*Client, slowN)
	for i := range slow {
		slow[i] = &Client{id: clientIDCounter.Add(1), hub: hub, send: make(chan []byte, queue)}
		hub.register <- slow[i]
	}
	fast := &Client{id: clientIDCounter.Add(1), hub: hub, send: make(chan []byte, frames)}
	hub.register <- fast

	for i := 0; i < frames; i++ {
		hub.BroadcastJSON("new_playback", i)
	}
	waitFor(t, "slow consumer removal", func() bool { return hub.GetClientCount() == 1 })

	for i, c := range slow {
		got := 0
		for range c.send {
			got++
		}
		if got != queue {
			t.Errorf("slow consumer %d had %d queued frames, want %d", i, got, queue)
		}
		if c.closeReason != ReasonSlowConsumer {
			t.Errorf("slow consumer %d close reason = %q, want %q", i, c.closeReason, ReasonSlowConsumer)
		}
	}

	waitFor(t, "all frames at the fast consumer", func() bool { return len(fast.send) == frames })
	for i := 0; i < frames; i++ {
		var f struct {
			Type string `json:"type"`
			Data int    `json:"data"`
		}
		if err := json.Unmarshal(<-fast.send, &f); err != nil {
			t.Fatalf("decode frame %d: %v", i, err)
		}
		if f.Type != "new_playback" || f.Data != i {
			t.Fatalf("fast consumer frame %d = %+v", i, f)
		}
	}

	if code, text := closeFrame(ReasonSlowConsumer); code != websocket.ClosePolicyViolation || text != "slow consumer" {
		t.Errorf("close frame = %d %q", code, text)
	}
}

func TestHub_MissedPongsDisconnect(t *testing.T) {
	hub, _ := startHub(t, Config{PingInterval: 40 * time.Millisecond, WriteWait: time.Second})
	srv := newHubServer(t, hub)

	silent := dial(t, srv)
	silent.SetPingHandler(func(string) error { return nil })
	healthy := dial(t, srv)
	waitFor(t, "two subscribers", func() bool { return hub.GetClientCount() == 2 })

	// The default handler answers pings while the read loop runs.
	go func() {
		for {
			if _, _, err := healthy.ReadMessage(); err != nil {
				return
			}
		}
	}()

	_ = silent.SetReadDeadline(time.Now().Add(2 * time.Second))
	var closeErr *websocket.CloseError
	for {
		_, _, err := silent.ReadMessage()
		if err == nil {
			continue
		}
		if !errors.As(err, &closeErr) {
			t.Fatalf("expected close frame, got %v", err)
		}
		break
	}
	if closeErr.Code != websocket.CloseGoingAway || closeErr.Text != "pong timeout" {
		t.Errorf("close = %d %q, want 1001 pong timeout", closeErr.Code, closeErr.Text)
	}

	waitFor(t, "silent subscriber removal", func() bool { return hub.GetClientCount() == 1 })
	time.Sleep(200 * time.Millisecond)
	if hub.GetClientCount() != 1 {
		t.Error("subscriber answering pings was disconnected")
	}
}

func TestHub_UnknownFramesIgnored(t *testing.T) {
	hub, _ := startHub(t, Config{})
	srv := newHubServer(t, hub)

	conn := dial(t, srv)
	waitFor(t, "subscriber", func() bool { return hub.GetClientCount() == 1 })

	for _, msg := range []string{"not json", `{"type":"subscribe","topics":["x"]}`, `{}`} {
		if err := conn.WriteMessage(websocket.TextMessage, []byte(msg)); err != nil {
			t.Fatalf("write: %v", err)
		}
	}
	if err := conn.WriteMessage(websocket.BinaryMessage, []byte{0x01, 0x02}); err != nil {
		t.Fatalf("write binary: %v", err)
	}
	if err := conn.WriteMessage(websocket.TextMessage, []byte(`{"type":"ping"}`)); err != nil {
		t.Fatalf("write ping: %v", err)
	}

	if f := readFrame(t, conn); f.Type != MessageTypePong {
		t.Errorf("reply type = %q, want pong", f.Type)
	}
	hub.BroadcastJSON("buffer_health_update", nil)
	if f := readFrame(t, conn); f.Type != "buffer_health_update" {
		t.Errorf("frame type = %q", f.Type)
	}
	if hub.GetClientCount() != 1 {
		t.Error("unknown frames disconnected the subscriber")
	}
}

func TestHub_Unsubscribe(t *testing.T) {
	hub, _ := startHub(t, Config{})
	conn := &Client{id: clientIDCounter.Add(1), hub: hub, send: make(chan []byte, 4)}
	hub.register <- conn
	waitFor(t, "subscriber", func() bool { return hub.GetClientCount() == 1 })

	hub.Unsubscribe(conn.id)
	hub.Unsubscribe(conn.id)
	hub.Unsubscribe(99999999)
	waitFor(t, "removal", func() bool { return hub.GetClientCount() == 0 })
	if conn.closeReason != ReasonUnsubscribed {
		t.Errorf("close reason = %q", conn.closeReason)
	}
}

func TestHub_ShutdownClosesSubscribers(t *testing.T) {
	hub, cancel := startHub(t, Config{})
	srv := newHubServer(t, hub)

	conn := dial(t, srv)
	waitFor(t, "subscriber", func() bool { return hub.GetClientCount() == 1 })

	cancel()

	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, _, err := conn.ReadMessage()
	var closeErr *websocket.CloseError
	if !errors.As(err, &closeErr) || closeErr.Code != websocket.CloseGoingAway {
		t.Fatalf("expected 1001 close, got %v", err)
	}

	// Broadcasting to a stopped hub returns instead of blocking.
	done := make(chan struct{})
	go func() {
		for i := 0; i < 2000; i++ {
			hub.BroadcastJSON("new_playback", i)
		}
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("broadcast blocked after shutdown")
	}
	if id := hub.Subscribe(nil); id != 0 {
		t.Errorf("Subscribe after shutdown returned %d", id)
	}
}
