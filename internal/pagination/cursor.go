// Cartographus - Media Server Analytics and Geographic Visualization
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/cartographus

package pagination

import (
	"bytes"
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"fmt"
	"time"

	"github.com/goccy/go-json"
	"github.com/google/uuid"

	"github.com/tomtom215/cartographus-realtime/internal/database"
)

// ErrInvalidCursor covers every way a cursor can fail to decode. Callers
// must not distinguish between the causes; the API reports all of them as
// VALIDATION_ERROR.
var ErrInvalidCursor = errors.New("invalid cursor")

const (
	cursorVersion = 1
	macSize       = 16
	// maxCursorLen bounds the work done on hostile input.
	maxCursorLen = 512
)

// cursorEncoding rejects non-zero trailing bits so that every token has
// exactly one spelling.
var cursorEncoding = base64.RawURLEncoding.Strict()

type cursorPayload struct {
	V  int    `json:"v"`
	T  string `json:"t"`
	ID string `json:"id"`
}

// Codec signs and verifies cursors with HMAC-SHA256.
type Codec struct {
	key []byte
}

// NewCodec returns a codec keyed by key. An empty key is replaced by 32
// random bytes, so cursors issued before a restart stop verifying.
func NewCodec(key []byte) (*Codec, error) {
	if len(key) == 0 {
		key = make([]byte, 32)
		if _, err := rand.Read(key); err != nil {
			return nil, fmt.Errorf("generate cursor key: %w", err)
		}
	}
	k := make([]byte, len(key))
	copy(k, key)
	return &Codec{key: k}, nil
}

// Encode returns the opaque token for pos.
func (c *Codec) Encode(pos database.Position) string {
	payload, err := json.Marshal(cursorPayload{
		V:  cursorVersion,
		T:  pos.StartedAt.UTC().Format(time.RFC3339Nano),
		ID: pos.ID.String(),
	})
	if err != nil {
		// A struct of two strings and an int always marshals.
		panic(fmt.Sprintf("pagination: marshal cursor: %v", err))
	}
	token := make([]byte, 0, len(payload)+macSize)
	token = append(token, payload...)
	token = append(token, c.mac(payload)...)
	return cursorEncoding.EncodeToString(token)
}

// Decode verifies token and returns the position it encodes.
func (c *Codec) Decode(token string) (database.Position, error) {
	var zero database.Position
	if token == "" || len(token) > maxCursorLen {
		return zero, ErrInvalidCursor
	}

	raw, err := cursorEncoding.DecodeString(token)
	if err != nil || len(raw) <= macSize {
		return zero, ErrInvalidCursor
	}

	payload, sig := raw[:len(raw)-macSize], raw[len(raw)-macSize:]
	if !hmac.Equal(sig, c.mac(payload)) {
		return zero, ErrInvalidCursor
	}

	var p cursorPayload
	dec := json.NewDecoder(bytes.NewReader(payload))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&p); err != nil || p.V != cursorVersion {
		return zero, ErrInvalidCursor
	}

	startedAt, err := time.Parse(time.RFC3339Nano, p.T)
	if err != nil {
		return zero, ErrInvalidCursor
	}
	id, err := uuid.Parse(p.ID)
	if err != nil {
		return zero, ErrInvalidCursor
	}
	return database.Position{StartedAt: startedAt.UTC(), ID: id}, nil
}

func (c *Codec) mac(payload []byte) []byte {
	h := hmac.New(sha256.New, c.key)
	h.Write(payload)
	return h.Sum(nil)[:macSize]
}
