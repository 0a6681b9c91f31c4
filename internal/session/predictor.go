// Cartographus - Media Server Analytics and Geographic Visualization
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/cartographus

package session

import (
	"time"

	"github.com/tomtom215/cartographus-realtime/internal/models"
)

// Predictor classifies buffer fill and smooths the drain rate.
//
// Fill is a percentage of the buffer capacity. The drain rate is the
// decrease in fill percent per second, smoothed with an exponentially
// weighted moving average; a negative rate means the buffer is filling.
type Predictor struct {
	// CriticalThreshold: fill below it is critical.
	CriticalThreshold float64
	// RiskyThreshold: fill at or below it (and not critical) is risky.
	RiskyThreshold float64
	// Alpha is the EWMA weight of the newest observation, in (0, 1].
	Alpha float64
}

// DefaultPredictor uses 20/50 thresholds and alpha 0.5.
func DefaultPredictor() Predictor {
	return Predictor{CriticalThreshold: 20, RiskyThreshold: 50, Alpha: 0.5}
}

// Classify maps a fill percentage to a health class.
func (p Predictor) Classify(fill float64) models.HealthStatus {
	switch {
	case fill < p.CriticalThreshold:
		return models.HealthCritical
	case fill <= p.RiskyThreshold:
		return models.HealthRisky
	default:
		return models.HealthHealthy
	}
}

// NextDrainRate folds a new fill observation into the smoothed rate.
// elapsed is the time since the previous sample; a non-positive elapsed
// (clock skew, duplicate timestamp) keeps the previous rate.
func (p Predictor) NextDrainRate(prevRate, prevFill, fill float64, elapsed time.Duration) float64 {
	secs := elapsed.Seconds()
	if secs <= 0 {
		return prevRate
	}
	instant := (prevFill - fill) / secs
	return p.Alpha*instant + (1-p.Alpha)*prevRate
}

// SecondsToStall predicts when a draining buffer empties. It returns nil
// when the buffer is steady or filling.
func SecondsToStall(fill, drainRate float64) *float64 {
	if drainRate <= 0 {
		return nil
	}
	s := fill / drainRate
	if s < 0 {
		s = 0
	}
	return &s
}
