package main

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ride-simulator/internal/metrics"
	"ride-simulator/internal/trip"
)

func TestSetupLoggerLevels(t *testing.T) {
	tests := []struct {
		level string
		want  slog.Level
	}{
		{"debug", slog.LevelDebug},
		{"INFO", slog.LevelInfo},
		{"warn", slog.LevelWarn},
		{"error", slog.LevelError},
		{"verbose", slog.LevelInfo},
	}
	for _, tt := range tests {
		l := setupLogger(&bytes.Buffer{}, tt.level, "json")
		assert.True(t, l.Enabled(context.Background(), tt.want), tt.level)
		assert.False(t, l.Enabled(context.Background(), tt.want-1), tt.level)
	}
}

func TestSetupLoggerFormats(t *testing.T) {
	var buf bytes.Buffer
	setupLogger(&buf, "info", "json").Info("hello", "trip_id", "t1")
	var line map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &line))
	assert.Equal(t, "t1", line["trip_id"])

	buf.Reset()
	setupLogger(&buf, "info", "text").Info("hello", "trip_id", "t1")
	assert.Contains(t, buf.String(), "trip_id=t1")
}

func TestMetricsAdapters(t *testing.T) {
	c := metrics.NewCollector(100, time.Second, 50)

	tm := wrapTripMetrics(c)
	tm.TripCreated()
	tm.PhaseEntered(trip.EnRoute)
	tm.SimulationTick()
	tm.DriverArrived()
	tm.ActiveTrips(3)
	assert.Equal(t, 1.0, testutil.ToFloat64(c.TripsCreated))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.PhaseTransitions.WithLabelValues("en_route")))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.SimulationTicks))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.DriverArrivals))
	assert.Equal(t, 3.0, testutil.ToFloat64(c.ActiveTrips))

	sm := wrapSinkMetrics(c)
	sm.SinkDelivered("nats")
	sm.SinkDropped("redis")
	sm.SinkFailed("journal")
	assert.Equal(t, 1.0, testutil.ToFloat64(c.SinkDelivered.WithLabelValues("nats")))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.SinkDropped.WithLabelValues("redis")))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.SinkErrors.WithLabelValues("journal")))

	pm := wrapPublisherMetrics(c)
	pm.NATSSetConnected(true)
	pm.NATSPublishedInc()
	assert.Equal(t, 1.0, testutil.ToFloat64(c.NATSConnected))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.NATSPublished))

	wrapHTTPMetrics(c).ObserveHTTP("/v1/trips", "POST", 201, time.Millisecond)
	assert.Equal(t, 1, testutil.CollectAndCount(c.HTTPDuration))
}

func TestNilCollectorYieldsNilInterfaces(t *testing.T) {
	assert.Nil(t, wrapTripMetrics(nil))
	assert.Nil(t, wrapSinkMetrics(nil))
	assert.Nil(t, wrapPublisherMetrics(nil))
	assert.Nil(t, wrapHTTPMetrics(nil))
}
