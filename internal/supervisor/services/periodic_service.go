// Cartographus - Media Server Analytics and Geographic Visualization
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/cartographus

package services

import (
	"context"
	"time"
)

// PeriodicService calls fn every interval until ctx is canceled.
type PeriodicService struct {
	name     string
	interval time.Duration
	fn       func(ctx context.Context)
}

// NewPeriodicService creates the service. A non-positive interval
// defaults to one minute.
func NewPeriodicService(name string, interval time.Duration, fn func(ctx context.Context)) *PeriodicService {
	if interval <= 0 {
		interval = time.Minute
	}
	return &PeriodicService{name: name, interval: interval, fn: fn}
}

// Serve implements suture.Service.
func (p *PeriodicService) Serve(ctx context.Context) error {
	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			p.fn(ctx)
		}
	}
}

// String implements fmt.Stringer for suture's logs.
func (p *PeriodicService) String() string {
	return p.name
}
