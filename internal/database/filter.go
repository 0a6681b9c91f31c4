// Cartographus - Media Server Analytics and Geographic Visualization
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/cartographus

package database

import (
	"strings"

	"github.com/tomtom215/cartographus-realtime/internal/models"
)

// buildFilterConditions returns AND-able conditions and their arguments.
// Column names are fixed; only values are bound.
func buildFilterConditions(f models.PlaybackFilter) ([]string, []interface{}) {
	var conditions []string
	var args []interface{}

	if f.StartDate != nil {
		conditions = append(conditions, "started_at >= ?")
		args = append(args, f.StartDate.UTC())
	}
	if f.EndDate != nil {
		conditions = append(conditions, "started_at <= ?")
		args = append(args, f.EndDate.UTC())
	}
	conditions, args = appendInCondition(conditions, args, "media_type", f.MediaTypes)
	conditions, args = appendInCondition(conditions, args, "username", f.Users)
	conditions, args = appendInCondition(conditions, args, "platform", f.Platforms)

	return conditions, args
}

func appendInCondition(conditions []string, args []interface{}, column string, values []string) ([]string, []interface{}) {
	if len(values) == 0 {
		return conditions, args
	}
	placeholders := make([]string, len(values))
	for i, v := range values {
		placeholders[i] = "?"
		args = append(args, v)
	}
	return append(conditions, column+" IN ("+strings.Join(placeholders, ", ")+")"), args
}

// whereClause joins conditions into a WHERE clause, or "" when there are none.
func whereClause(conditions []string) string {
	if len(conditions) == 0 {
		return ""
	}
	return "WHERE " + strings.Join(conditions, " AND ")
}
