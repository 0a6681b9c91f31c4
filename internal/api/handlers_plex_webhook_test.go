// Cartographus - Media Server Analytics and Geographic Visualization
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/cartographus

package api

import (
	"bytes"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"mime/multipart"
	"net/http"
	"strings"
	"testing"

	"github.com/goccy/go-json"

	"github.com/tomtom215/cartographus-realtime/internal/eventstore"
	"github.com/tomtom215/cartographus-realtime/internal/ingest"
	"github.com/tomtom215/cartographus-realtime/internal/models"
)

const (
	webhookPath = "/api/v1/plex/webhook"
	playJSON    = `{"event":"media.play","Account":{"title":"alice"},"Player":{"uuid":"tv","title":"Living Room"},"Metadata":{"ratingKey":"1","type":"movie","title":"Heat"}}`
)

func sign(secret string, body []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}

// flipHexChar changes the hex digit at i to a different valid digit.
func flipHexChar(sig string, i int) string {
	b := []byte(sig)
	if b[i] == '0' {
		b[i] = '1'
	} else {
		b[i] = '0'
	}
	return string(b)
}

func multipartBody(t *testing.T, payload string) (string, string) {
	t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	thumb, err := mw.CreateFormFile("thumb", "thumb.jpg")
	if err != nil {
		t.Fatal(err)
	}
	_, _ = thumb.Write([]byte{0xff, 0xd8, 0xff})
	if err := mw.WriteField("payload", payload); err != nil {
		t.Fatal(err)
	}
	if err := mw.Close(); err != nil {
		t.Fatal(err)
	}
	return buf.String(), mw.FormDataContentType()
}

func TestPlexWebhookSignature(t *testing.T) {
	const secret = "0123456789abcdef0123456789abcdef"

	tests := []struct {
		name       string
		signature  string
		wantStatus int
		wantCode   string
	}{
		{"missing", "", http.StatusUnauthorized, CodeMissingSignature},
		{"wrong", sign("other", []byte(playJSON)), http.StatusUnauthorized, CodeInvalidSignature},
		{"garbage", "zz", http.StatusUnauthorized, CodeInvalidSignature},
		{"one character altered", flipHexChar(sign(secret, []byte(playJSON)), 17), http.StatusUnauthorized, CodeInvalidSignature},
		{"truncated", sign(secret, []byte(playJSON))[:63], http.StatusUnauthorized, CodeInvalidSignature},
		{"valid", sign(secret, []byte(playJSON)), http.StatusOK, ""},
		{"valid uppercase", strings.ToUpper(sign(secret, []byte(playJSON))), http.StatusOK, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := testConfig()
			cfg.Plex.WebhookSecret = secret
			proc := &fakeProcessor{}
			h := newTestRouter(cfg, Dependencies{Webhooks: proc})

			headers := map[string]string{}
			if tt.signature != "" {
				headers[signatureHeader] = tt.signature
			}
			rec := do(t, h, http.MethodPost, webhookPath, "application/json", playJSON, headers)
			if rec.Code != tt.wantStatus {
				t.Fatalf("status = %d, want %d: %s", rec.Code, tt.wantStatus, rec.Body.String())
			}
			if code := errorCode(t, rec); code != tt.wantCode {
				t.Errorf("code = %q, want %q", code, tt.wantCode)
			}
			wantCalls := 0
			if tt.wantStatus == http.StatusOK {
				wantCalls = 1
			}
			if proc.calls() != wantCalls {
				t.Errorf("processor calls = %d, want %d", proc.calls(), wantCalls)
			}
		})
	}
}

func TestPlexWebhookMultipart(t *testing.T) {
	const secret = "s3cret"
	cfg := testConfig()
	cfg.Plex.WebhookSecret = secret
	proc := &fakeProcessor{}
	h := newTestRouter(cfg, Dependencies{Webhooks: proc})

	body, contentType := multipartBody(t, playJSON)
	rec := do(t, h, http.MethodPost, webhookPath, contentType, body, map[string]string{
		signatureHeader: sign(secret, []byte(body)),
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d: %s", rec.Code, rec.Body.String())
	}
	if proc.calls() != 1 {
		t.Fatalf("processor calls = %d", proc.calls())
	}
	if got := string(proc.raw[0]); got != playJSON {
		t.Errorf("payload = %q", got)
	}
	if proc.hooks[0].Event != models.EventMediaPlay {
		t.Errorf("event = %q", proc.hooks[0].Event)
	}
}

func TestPlexWebhookInvalidPayload(t *testing.T) {
	noPayload, noPayloadType := multipartBody(t, "")
	tests := []struct {
		name        string
		contentType string
		body        string
	}{
		{"empty", "application/json", ""},
		{"whitespace", "application/json", "  \n"},
		{"not json", "application/json", "event=media.play"},
		{"truncated", "application/json", `{"event":"media.play"`},
		{"no event", "application/json", `{"Account":{"title":"alice"}}`},
		{"multipart without payload", noPayloadType, noPayload},
		{"multipart without boundary", "multipart/form-data", "--x--"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			proc := &fakeProcessor{}
			h := newTestRouter(testConfig(), Dependencies{Webhooks: proc})
			rec := do(t, h, http.MethodPost, webhookPath, tt.contentType, tt.body, nil)
			if rec.Code != http.StatusBadRequest {
				t.Fatalf("status = %d, want 400", rec.Code)
			}
			if code := errorCode(t, rec); code != CodeInvalidPayload {
				t.Errorf("code = %q", code)
			}
			if proc.calls() != 0 {
				t.Error("processor called for invalid payload")
			}
		})
	}
}

func TestPlexWebhookBodyLimit(t *testing.T) {
	proc := &fakeProcessor{}
	h := newTestRouter(testConfig(), Dependencies{Webhooks: proc})

	big := `{"event":"media.play","pad":"` + strings.Repeat("a", maxWebhookBody) + `"}`
	rec := do(t, h, http.MethodPost, webhookPath, "application/json", big, nil)
	if rec.Code != http.StatusRequestEntityTooLarge {
		t.Fatalf("status = %d, want 413", rec.Code)
	}
	if proc.calls() != 0 {
		t.Error("processor called for oversized body")
	}
}

func TestPlexWebhookDisabled(t *testing.T) {
	cfg := testConfig()
	cfg.Plex.WebhooksEnabled = false
	h := newTestRouter(cfg, Dependencies{Webhooks: &fakeProcessor{}})

	rec := do(t, h, http.MethodPost, webhookPath, "application/json", playJSON, nil)
	if rec.Code != http.StatusNotFound || errorCode(t, rec) != CodeWebhooksDisabled {
		t.Errorf("got %d %s", rec.Code, rec.Body.String())
	}
}

func TestPlexWebhookResponses(t *testing.T) {
	tests := []struct {
		name          string
		res           ingest.WebhookResult
		err           error
		wantStatus    int
		wantCode      string
		wantDuplicate bool
	}{
		{"accepted", ingest.WebhookResult{Inserted: true}, nil, http.StatusOK, "", false},
		{"duplicate", ingest.WebhookResult{Duplicate: true}, nil, http.StatusOK, "", true},
		{"storage down", ingest.WebhookResult{}, fmt.Errorf("append: %w", eventstore.ErrStorageUnavailable), http.StatusServiceUnavailable, CodeStorageUnavailable, false},
		{"no session", ingest.WebhookResult{}, fmt.Errorf("append: %w", eventstore.ErrInvalidEvent), http.StatusBadRequest, CodeInvalidPayload, false},
		{"other", ingest.WebhookResult{}, errors.New("boom"), http.StatusInternalServerError, CodeInternal, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			proc := &fakeProcessor{res: tt.res, err: tt.err}
			h := newTestRouter(testConfig(), Dependencies{Webhooks: proc})

			rec := do(t, h, http.MethodPost, webhookPath, "application/json", playJSON, nil)
			if rec.Code != tt.wantStatus {
				t.Fatalf("status = %d, want %d", rec.Code, tt.wantStatus)
			}
			env := decode(t, rec)
			if tt.wantCode != "" {
				if env.Error == nil || env.Error.Code != tt.wantCode {
					t.Errorf("error = %+v, want %s", env.Error, tt.wantCode)
				}
				return
			}
			var ack models.WebhookAck
			if err := json.Unmarshal(env.Data, &ack); err != nil {
				t.Fatal(err)
			}
			if !ack.Received || ack.Event != "media.play" || ack.Duplicate != tt.wantDuplicate {
				t.Errorf("ack = %+v", ack)
			}
		})
	}
}

func TestPlexWebhookUnknownEventPassesThrough(t *testing.T) {
	proc := &fakeProcessor{}
	h := newTestRouter(testConfig(), Dependencies{Webhooks: proc})

	rec := do(t, h, http.MethodPost, webhookPath, "application/json", `{"event":"media.transcode.future"}`, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	if proc.calls() != 1 || proc.hooks[0].Event != "media.transcode.future" {
		t.Errorf("unknown event not forwarded: %+v", proc.hooks)
	}
}
