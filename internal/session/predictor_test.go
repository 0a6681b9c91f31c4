// Cartographus - Media Server Analytics and Geographic Visualization
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/cartographus

package session

import (
	"math"
	"testing"
	"time"

	"github.com/tomtom215/cartographus-realtime/internal/models"
)

func TestPredictor_Classify(t *testing.T) {
	t.Parallel()

	p := DefaultPredictor()
	tests := []struct {
		fill float64
		want models.HealthStatus
	}{
		{0, models.HealthCritical},
		{19.99, models.HealthCritical},
		{20, models.HealthRisky},
		{35, models.HealthRisky},
		{50, models.HealthRisky},
		{50.01, models.HealthHealthy},
		{100, models.HealthHealthy},
	}
	for _, tt := range tests {
		if got := p.Classify(tt.fill); got != tt.want {
			t.Errorf("Classify(%v) = %q, want %q", tt.fill, got, tt.want)
		}
	}
}

func TestPredictor_NextDrainRate(t *testing.T) {
	t.Parallel()

	p := DefaultPredictor()

	// 80 -> 70 over 5s is 2 %/s instantaneous; half-weighted against 0.
	if got := p.NextDrainRate(0, 80, 70, 5*time.Second); math.Abs(got-1) > 1e-9 {
		t.Errorf("rate = %v, want 1", got)
	}
	// Filling buffer gives a negative rate.
	if got := p.NextDrainRate(0, 40, 60, 10*time.Second); got >= 0 {
		t.Errorf("rate = %v, want negative", got)
	}
	if got := p.NextDrainRate(3, 80, 10, 0); got != 3 {
		t.Errorf("zero elapsed rate = %v, want previous 3", got)
	}
	if got := p.NextDrainRate(3, 80, 10, -time.Second); got != 3 {
		t.Errorf("negative elapsed rate = %v, want previous 3", got)
	}
}

func TestSecondsToStall(t *testing.T) {
	t.Parallel()

	if got := SecondsToStall(10, 2); got == nil || *got != 5 {
		t.Errorf("SecondsToStall(10, 2) = %v, want 5", got)
	}
	if got := SecondsToStall(10, 0); got != nil {
		t.Errorf("steady buffer should have no stall prediction, got %v", *got)
	}
	if got := SecondsToStall(10, -1); got != nil {
		t.Errorf("filling buffer should have no stall prediction, got %v", *got)
	}
}
