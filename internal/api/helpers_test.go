// Cartographus - Media Server Analytics and Geographic Visualization
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/cartographus

package api

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"sync"
	"testing"

	"github.com/goccy/go-json"
	"github.com/gorilla/websocket"

	"github.com/tomtom215/cartographus-realtime/internal/config"
	"github.com/tomtom215/cartographus-realtime/internal/database"
	"github.com/tomtom215/cartographus-realtime/internal/ingest"
	"github.com/tomtom215/cartographus-realtime/internal/logging"
	"github.com/tomtom215/cartographus-realtime/internal/models"
)

func TestMain(m *testing.M) {
	logging.Init(logging.Config{Level: "error", Output: io.Discard})
	os.Exit(m.Run())
}

type fakeProcessor struct {
	mu    sync.Mutex
	hooks []*models.PlexWebhook
	raw   [][]byte
	res   ingest.WebhookResult
	err   error
}

func (f *fakeProcessor) HandleWebhook(_ context.Context, hook *models.PlexWebhook, raw []byte) (ingest.WebhookResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.hooks = append(f.hooks, hook)
	f.raw = append(f.raw, raw)
	return f.res, f.err
}

func (f *fakeProcessor) calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.hooks)
}

// fakeReader serves a fixed, already ordered event list.
type fakeReader struct {
	events     []models.PlaybackEvent
	lastFilter models.PlaybackFilter
}

func (f *fakeReader) GetPlaybackEventsAfter(_ context.Context, pos *database.Position, limit int, filter models.PlaybackFilter) ([]models.PlaybackEvent, bool, error) {
	f.lastFilter = filter
	start := 0
	if pos != nil {
		for i, e := range f.events {
			if e.ID == pos.ID {
				start = i + 1
				break
			}
		}
	}
	rest := f.events[start:]
	if len(rest) > limit {
		return rest[:limit], true, nil
	}
	return rest, false, nil
}

func (f *fakeReader) GetPlaybackEventsOffset(_ context.Context, limit, offset int, filter models.PlaybackFilter) ([]models.PlaybackEvent, error) {
	f.lastFilter = filter
	if offset >= len(f.events) {
		return nil, nil
	}
	rest := f.events[offset:]
	if len(rest) > limit {
		rest = rest[:limit]
	}
	return rest, nil
}

type fakeSessions struct{}

func (fakeSessions) Sessions() []models.SessionSnapshot {
	return []models.SessionSnapshot{{SessionKey: "tv:1", State: models.StatePlaying}}
}

func (fakeSessions) AtRisk() models.BufferHealthUpdate {
	return models.BufferHealthUpdate{Sessions: []models.BufferHealthSample{}, CriticalCount: 0}
}

type fakeSubscriber struct {
	conns chan *websocket.Conn
}

func (f *fakeSubscriber) Subscribe(conn *websocket.Conn) uint64 {
	f.conns <- conn
	return 1
}

func testConfig() *config.Config {
	cfg := config.Default()
	cfg.Plex.WebhooksEnabled = true
	cfg.Plex.WebhookSecret = ""
	cfg.Security.RateLimitDisabled = true
	return cfg
}

func newTestRouter(cfg *config.Config, deps Dependencies) http.Handler {
	h := NewHandler(cfg, deps)
	return NewRouter(h, NewChiMiddleware(ChiMiddlewareConfigFrom(cfg.Security))).SetupChi()
}

func do(t *testing.T, h http.Handler, method, target, contentType, body string, headers map[string]string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, target, strings.NewReader(body))
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

type envelope struct {
	Status string          `json:"status"`
	Data   json.RawMessage `json:"data"`
	Error  *struct {
		Code    string                 `json:"code"`
		Message string                 `json:"message"`
		Details map[string]interface{} `json:"details"`
	} `json:"error"`
}

func decode(t *testing.T, rec *httptest.ResponseRecorder) envelope {
	t.Helper()
	var env envelope
	if err := json.Unmarshal(rec.Body.Bytes(), &env); err != nil {
		t.Fatalf("decode response %q: %v", rec.Body.String(), err)
	}
	return env
}

func errorCode(t *testing.T, rec *httptest.ResponseRecorder) string {
	t.Helper()
	env := decode(t, rec)
	if env.Error == nil {
		return ""
	}
	return env.Error.Code
}
