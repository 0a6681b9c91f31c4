// Cartographus - Media Server Analytics and Geographic Visualization
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/cartographus

package api

import "errors"

// Webhook rejection reasons.
var (
	ErrInvalidPayload   = errors.New("invalid webhook payload")
	ErrMissingSignature = errors.New("missing webhook signature")
	ErrInvalidSignature = errors.New("invalid webhook signature")
)

// API error codes.
const (
	CodeValidation         = "VALIDATION_ERROR"
	CodeInvalidPayload     = "INVALID_PAYLOAD"
	CodeMissingSignature   = "MISSING_SIGNATURE"
	CodeInvalidSignature   = "INVALID_SIGNATURE"
	CodeWebhooksDisabled   = "WEBHOOKS_DISABLED"
	CodeStorageUnavailable = "STORAGE_UNAVAILABLE"
	CodeRateLimited        = "RATE_LIMITED"
	CodeInternal           = "INTERNAL_ERROR"
	CodeServiceUnavailable = "SERVICE_UNAVAILABLE"
	CodeMethodNotAllowed   = "METHOD_NOT_ALLOWED"
	CodeNotFound           = "NOT_FOUND"
)
