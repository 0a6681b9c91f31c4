// Cartographus - Media Server Analytics and Geographic Visualization
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/cartographus

package api

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/tomtom215/cartographus-realtime/internal/models"
	"github.com/tomtom215/cartographus-realtime/internal/validation"
)

// PlaybacksRequest is the validated query of GET /api/v1/playbacks.
// Cursor and Offset are mutually exclusive; Offset selects the legacy
// response shape.
type PlaybacksRequest struct {
	Limit      int    `query:"limit" validate:"min=1,max=1000"`
	Offset     *int   `query:"offset" validate:"omitempty,min=0,max=1000000,excluded_with=Cursor"`
	Cursor     string `query:"cursor" validate:"omitempty,base64rawurl"`
	StartDate  string `query:"start_date" validate:"omitempty,datetime=2006-01-02T15:04:05Z07:00"`
	EndDate    string `query:"end_date" validate:"omitempty,datetime=2006-01-02T15:04:05Z07:00"`
	MediaTypes string `query:"media_types"`
	Users      string `query:"users"`
	Platforms  string `query:"platforms"`
}

// parsePlaybacksRequest reads and validates the query. Integers that do not
// parse are reported as validation failures rather than replaced by
// defaults.
func parsePlaybacksRequest(r *http.Request, defaultLimit int) (*PlaybacksRequest, *validation.RequestValidationError) {
	q := r.URL.Query()
	req := &PlaybacksRequest{
		Limit:      defaultLimit,
		Cursor:     q.Get("cursor"),
		StartDate:  q.Get("start_date"),
		EndDate:    q.Get("end_date"),
		MediaTypes: q.Get("media_types"),
		Users:      q.Get("users"),
		Platforms:  q.Get("platforms"),
	}

	if v := q.Get("limit"); v != "" {
		n, err := strconv.Atoi(strings.TrimSpace(v))
		if err != nil {
			return nil, validation.NewRequestValidationError("limit", "numeric", "limit must be an integer")
		}
		req.Limit = n
	}
	if v := q.Get("offset"); v != "" {
		n, err := strconv.Atoi(strings.TrimSpace(v))
		if err != nil {
			return nil, validation.NewRequestValidationError("offset", "numeric", "offset must be an integer")
		}
		req.Offset = &n
	}

	if verr := validation.ValidateStruct(req); verr != nil {
		return nil, verr
	}
	return req, nil
}

// Filter converts the request's filters. Dates were validated as RFC3339.
func (req *PlaybacksRequest) Filter() models.PlaybackFilter {
	var f models.PlaybackFilter
	if t, err := time.Parse(time.RFC3339, req.StartDate); err == nil {
		f.StartDate = &t
	}
	if t, err := time.Parse(time.RFC3339, req.EndDate); err == nil {
		f.EndDate = &t
	}
	f.MediaTypes = parseCommaSeparated(req.MediaTypes)
	f.Users = parseCommaSeparated(req.Users)
	f.Platforms = parseCommaSeparated(req.Platforms)
	return f
}

// parseCommaSeparated splits a list parameter, dropping empty items.
func parseCommaSeparated(value string) []string {
	if value == "" {
		return nil
	}
	var result []string
	for _, part := range strings.Split(value, ",") {
		if trimmed := strings.TrimSpace(part); trimmed != "" {
			result = append(result, trimmed)
		}
	}
	return result
}
