// Cartographus - Media Server Analytics and Geographic Visualization
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/cartographus

package logging

import (
	"fmt"
	"strings"
)

// maxLoggedValue bounds attacker controlled strings (webhook titles, usernames).
const maxLoggedValue = 256

// SanitizeValue escapes control characters so that values taken from request
// bodies cannot forge log lines, and truncates long values.
func SanitizeValue(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	for _, r := range s {
		if r < 0x20 || r == 0x7F {
			fmt.Fprintf(&b, "\\x%02x", r)
			continue
		}
		b.WriteRune(r)
	}
	out := b.String()
	if len(out) > maxLoggedValue {
		return out[:maxLoggedValue] + "..."
	}
	return out
}

// MaskSecret keeps the first four characters of a secret for correlation.
func MaskSecret(secret string) string {
	if secret == "" {
		return ""
	}
	if len(secret) <= 4 {
		return "****"
	}
	return secret[:4] + "****"
}
