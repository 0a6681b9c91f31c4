// Cartographus - Media Server Analytics and Geographic Visualization
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/cartographus

package api

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/tomtom215/cartographus-realtime/internal/models"
	"github.com/tomtom215/cartographus-realtime/internal/pagination"
	"github.com/tomtom215/cartographus-realtime/internal/validation"
)

// Playbacks handles GET /api/v1/playbacks.
//
// Without offset the response is a cursor page:
//
//	{"events":[...],"pagination":{"limit":100,"has_more":true,"next_cursor":"..."}}
//
// With offset (and no cursor) data is a bare array of events, the shape
// older clients expect.
func (h *Handler) Playbacks(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	if h.deps.Playbacks == nil {
		respondError(w, http.StatusServiceUnavailable, CodeServiceUnavailable, "Playback history is unavailable", nil)
		return
	}

	req, verr := parsePlaybacksRequest(r, h.defaultPageSize())
	if verr != nil {
		respondValidationError(w, verr)
		return
	}
	if req.Limit > h.maxPageSize() {
		respondValidationError(w, validation.NewRequestValidationError("limit", "max", "limit must be between 1 and "+strconv.Itoa(h.maxPageSize())))
		return
	}
	filter := req.Filter()

	if req.Offset != nil {
		events, err := h.deps.Playbacks.Offset(r.Context(), req.Limit, *req.Offset, filter)
		if err != nil {
			respondError(w, http.StatusInternalServerError, CodeInternal, "Failed to retrieve playback events", err)
			return
		}
		respondSuccess(w, events, start)
		return
	}

	page, err := h.deps.Playbacks.Page(r.Context(), req.Cursor, req.Limit, filter)
	if err != nil {
		if errors.Is(err, pagination.ErrInvalidCursor) {
			respondValidationError(w, validation.NewRequestValidationError("cursor", "integrity", "cursor is invalid or has been tampered with"))
			return
		}
		respondError(w, http.StatusInternalServerError, CodeInternal, "Failed to retrieve playback events", err)
		return
	}

	respondSuccess(w, models.PlaybacksResponse{
		Events: page.Events,
		Pagination: models.PaginationInfo{
			Limit:      req.Limit,
			HasMore:    page.HasMore,
			NextCursor: page.NextCursor,
		},
	}, start)
}

func (h *Handler) defaultPageSize() int {
	if n := h.config.Pagination.DefaultLimit; n > 0 {
		return n
	}
	return 100
}

func (h *Handler) maxPageSize() int {
	if n := h.config.Pagination.MaxLimit; n > 0 && n <= 1000 {
		return n
	}
	return 1000
}

func respondValidationError(w http.ResponseWriter, verr *validation.RequestValidationError) {
	apiErr := verr.ToAPIError()
	respondErrorDetails(w, http.StatusBadRequest, apiErr.Code, apiErr.Message, apiErr.Details, nil)
}
