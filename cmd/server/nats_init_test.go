// Cartographus - Media Server Analytics and Geographic Visualization
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/cartographus

package main

import (
	"context"
	"testing"

	"github.com/tomtom215/cartographus-realtime/internal/config"
)

func TestInitNATS_Disabled(t *testing.T) {
	cfg := config.Default()
	cfg.NATS.Enabled = false

	c, err := InitNATS(cfg)
	if err != nil {
		t.Fatalf("InitNATS: %v", err)
	}
	if c != nil {
		t.Fatal("expected nil components when NATS is disabled")
	}
}

func TestNATSComponents_NilSafe(t *testing.T) {
	var c *NATSComponents
	if c.Publisher() != nil {
		t.Error("Publisher() should be nil")
	}
	if err := c.Ready(context.Background()); err != nil {
		t.Errorf("Ready() = %v", err)
	}
	c.AddToSupervisor(nil)
	c.Close()
}

func TestInitWAL_Disabled(t *testing.T) {
	cfg := config.Default()
	cfg.WAL.Enabled = false

	c, err := InitWAL(cfg)
	if err != nil {
		t.Fatalf("InitWAL: %v", err)
	}
	if c != nil {
		t.Fatal("expected nil components when WAL is disabled")
	}
	if c.Log() != nil {
		t.Error("Log() should be a nil interface")
	}
	if err := c.Ready(context.Background()); err != nil {
		t.Errorf("Ready() = %v", err)
	}
	c.Close()
}
