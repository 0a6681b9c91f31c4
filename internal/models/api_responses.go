// Cartographus - Media Server Analytics and Geographic Visualization
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/cartographus

package models

import "time"

// APIResponse is the envelope of every JSON API response.
//
//	{"status":"success","data":{...},"metadata":{"timestamp":"..."}}
//	{"status":"error","data":null,"error":{"code":"VALIDATION_ERROR","message":"..."}}
type APIResponse struct {
	Status   string      `json:"status"`
	Data     interface{} `json:"data"`
	Metadata Metadata    `json:"metadata"`
	Error    *APIError   `json:"error,omitempty"`
}

// Metadata carries response timing.
type Metadata struct {
	Timestamp   time.Time `json:"timestamp"`
	QueryTimeMS int64     `json:"query_time_ms,omitempty"`
}

// APIError is the machine-readable error body.
type APIError struct {
	Code    string                 `json:"code"`
	Message string                 `json:"message"`
	Details map[string]interface{} `json:"details,omitempty"`
}

// PaginationInfo describes a cursor page. NextCursor is null on the last page.
type PaginationInfo struct {
	Limit      int     `json:"limit"`
	HasMore    bool    `json:"has_more"`
	NextCursor *string `json:"next_cursor"`
}

// PlaybacksResponse is the cursor-mode body of GET /api/v1/playbacks.
type PlaybacksResponse struct {
	Events     []PlaybackEvent `json:"events"`
	Pagination PaginationInfo  `json:"pagination"`
}

// WebhookAck is the success body of the webhook endpoint.
type WebhookAck struct {
	Received  bool   `json:"received"`
	Event     string `json:"event"`
	Duplicate bool   `json:"duplicate,omitempty"`
}
