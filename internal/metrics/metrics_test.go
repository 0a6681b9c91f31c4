// Cartographus - Media Server Analytics and Geographic Visualization
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/cartographus

package metrics

import (
	"errors"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	io_prometheus_client "github.com/prometheus/client_model/go"
)

func counterValue(t *testing.T, c prometheus.Counter) float64 {
	t.Helper()
	var m io_prometheus_client.Metric
	if err := c.Write(&m); err != nil {
		t.Fatalf("write metric: %v", err)
	}
	return m.GetCounter().GetValue()
}

func gaugeValue(t *testing.T, g prometheus.Gauge) float64 {
	t.Helper()
	var m io_prometheus_client.Metric
	if err := g.Write(&m); err != nil {
		t.Fatalf("write metric: %v", err)
	}
	return m.GetGauge().GetValue()
}

func TestRecordAPIRequest(t *testing.T) {
	c := APIRequestsTotal.WithLabelValues("GET", "/api/v1/playbacks", "200")
	before := counterValue(t, c)

	RecordAPIRequest("GET", "/api/v1/playbacks", "200", 5*time.Millisecond)

	if got := counterValue(t, c); got != before+1 {
		t.Errorf("api_requests_total = %v, want %v", got, before+1)
	}
}

func TestTrackActiveRequest(t *testing.T) {
	before := gaugeValue(t, APIActiveRequests)
	TrackActiveRequest(true)
	if got := gaugeValue(t, APIActiveRequests); got != before+1 {
		t.Errorf("after inc = %v", got)
	}
	TrackActiveRequest(false)
	if got := gaugeValue(t, APIActiveRequests); got != before {
		t.Errorf("after dec = %v", got)
	}
}

func TestRecordPublish(t *testing.T) {
	ok := NATSMessagesPublished.WithLabelValues("playback.events", "success")
	failed := NATSMessagesPublished.WithLabelValues("playback.events", "error")
	okBefore, failedBefore := counterValue(t, ok), counterValue(t, failed)

	RecordPublish("playback.events", nil)
	RecordPublish("playback.events", errors.New("nats: timeout"))

	if counterValue(t, ok) != okBefore+1 {
		t.Error("success not counted")
	}
	if counterValue(t, failed) != failedBefore+1 {
		t.Error("error not counted")
	}
}

func TestSetAtRisk(t *testing.T) {
	SetAtRisk(3, 5)
	if got := gaugeValue(t, SessionsAtRisk.WithLabelValues("critical")); got != 3 {
		t.Errorf("critical = %v", got)
	}
	if got := gaugeValue(t, SessionsAtRisk.WithLabelValues("risky")); got != 5 {
		t.Errorf("risky = %v", got)
	}
}
