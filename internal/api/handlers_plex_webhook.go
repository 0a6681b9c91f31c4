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
	"io"
	"mime"
	"mime/multipart"
	"net/http"
	"strings"
	"time"

	"github.com/goccy/go-json"

	"github.com/tomtom215/cartographus-realtime/internal/eventstore"
	"github.com/tomtom215/cartographus-realtime/internal/logging"
	"github.com/tomtom215/cartographus-realtime/internal/metrics"
	"github.com/tomtom215/cartographus-realtime/internal/models"
)

// maxWebhookBody caps webhook request bodies.
const maxWebhookBody = 1 << 20

// signatureHeader carries hex(HMAC-SHA256(secret, body)).
const signatureHeader = "X-Plex-Signature"

// PlexWebhook handles POST /api/v1/plex/webhook.
//
// Plex posts multipart/form-data with the JSON in a "payload" field; plain
// application/json bodies are accepted too. When a secret is configured the
// signature covers the raw request body in either form.
//
// A redelivered webhook gets the same 200 with duplicate=true and has no
// side effects.
func (h *Handler) PlexWebhook(w http.ResponseWriter, r *http.Request) {
	start := time.Now()

	if !h.config.Plex.WebhooksEnabled || h.deps.Webhooks == nil {
		h.rejectWebhook(w, http.StatusNotFound, CodeWebhooksDisabled, "Plex webhooks are not enabled", nil)
		return
	}

	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxWebhookBody))
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			h.rejectWebhook(w, http.StatusRequestEntityTooLarge, CodeInvalidPayload, "Webhook body exceeds 1 MiB", nil)
			return
		}
		h.rejectWebhook(w, http.StatusBadRequest, CodeInvalidPayload, "Failed to read request body", err)
		return
	}

	if secret := h.config.Plex.WebhookSecret; secret != "" {
		if err := verifyWebhookSignature(body, r.Header.Get(signatureHeader), secret); err != nil {
			code := CodeInvalidSignature
			if errors.Is(err, ErrMissingSignature) {
				code = CodeMissingSignature
			}
			h.rejectWebhook(w, http.StatusUnauthorized, code, "Webhook signature verification failed", nil)
			return
		}
	}

	payload, err := webhookPayload(r.Header.Get("Content-Type"), body)
	if err != nil {
		h.rejectWebhook(w, http.StatusBadRequest, CodeInvalidPayload, err.Error(), nil)
		return
	}

	var hook models.PlexWebhook
	if err := json.Unmarshal(payload, &hook); err != nil {
		h.rejectWebhook(w, http.StatusBadRequest, CodeInvalidPayload, "Failed to parse webhook JSON", nil)
		return
	}
	if hook.Event == "" {
		h.rejectWebhook(w, http.StatusBadRequest, CodeInvalidPayload, "Webhook has no event", nil)
		return
	}

	logging.Ctx(r.Context()).Info().
		Str("event", logging.SanitizeValue(string(hook.Event))).
		Str("user", logging.SanitizeValue(hook.GetUsername())).
		Str("content", logging.SanitizeValue(hook.GetContentTitle())).
		Msg("Webhook received")
	if !hook.Event.Known() {
		logging.Ctx(r.Context()).Warn().Str("event", logging.SanitizeValue(string(hook.Event))).Msg("Unknown webhook event type")
	}

	result, err := h.deps.Webhooks.HandleWebhook(r.Context(), &hook, payload)
	switch {
	case err == nil:
	case errors.Is(err, eventstore.ErrStorageUnavailable):
		h.rejectWebhook(w, http.StatusServiceUnavailable, CodeStorageUnavailable, "Event storage is temporarily unavailable, retry later", err)
		return
	case errors.Is(err, eventstore.ErrInvalidEvent):
		h.rejectWebhook(w, http.StatusBadRequest, CodeInvalidPayload, "Webhook does not identify a playback session", err)
		return
	default:
		h.rejectWebhook(w, http.StatusInternalServerError, CodeInternal, "Failed to process webhook", err)
		return
	}

	respondSuccess(w, models.WebhookAck{
		Received:  true,
		Event:     string(hook.Event),
		Duplicate: result.Duplicate,
	}, start)
}

func (h *Handler) rejectWebhook(w http.ResponseWriter, status int, code, message string, err error) {
	metrics.WebhooksRejected.WithLabelValues(code).Inc()
	respondError(w, status, code, message, err)
}

// verifyWebhookSignature checks signature against hex(HMAC-SHA256(secret, body)).
func verifyWebhookSignature(body []byte, signature, secret string) error {
	signature = strings.TrimSpace(signature)
	if signature == "" {
		return ErrMissingSignature
	}
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	expected := hex.EncodeToString(mac.Sum(nil))

	if !hmac.Equal([]byte(strings.ToLower(signature)), []byte(expected)) {
		return ErrInvalidSignature
	}
	return nil
}

// webhookPayload extracts the JSON document from a raw body.
func webhookPayload(contentType string, body []byte) ([]byte, error) {
	mediaType, params, _ := mime.ParseMediaType(contentType)
	if mediaType == "multipart/form-data" {
		return multipartPayload(body, params["boundary"])
	}
	if len(bytes.TrimSpace(body)) == 0 {
		return nil, fmt.Errorf("%w: empty body", ErrInvalidPayload)
	}
	return body, nil
}

// multipartPayload returns the "payload" field of a multipart body. Other
// parts, such as the thumbnail Plex attaches, are skipped.
func multipartPayload(body []byte, boundary string) ([]byte, error) {
	if boundary == "" {
		return nil, fmt.Errorf("%w: multipart body without boundary", ErrInvalidPayload)
	}
	mr := multipart.NewReader(bytes.NewReader(body), boundary)
	for {
		part, err := mr.NextPart()
		if err == io.EOF {
			return nil, fmt.Errorf("%w: no payload field", ErrInvalidPayload)
		}
		if err != nil {
			return nil, fmt.Errorf("%w: malformed multipart body", ErrInvalidPayload)
		}
		if part.FormName() != "payload" {
			continue
		}
		payload, err := io.ReadAll(part)
		if err != nil {
			return nil, fmt.Errorf("%w: malformed multipart body", ErrInvalidPayload)
		}
		if len(bytes.TrimSpace(payload)) == 0 {
			return nil, fmt.Errorf("%w: empty payload field", ErrInvalidPayload)
		}
		return payload, nil
	}
}
