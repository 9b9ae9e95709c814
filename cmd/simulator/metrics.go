package main

import (
	"strconv"
	"time"

	"ride-simulator/internal/api"
	"ride-simulator/internal/metrics"
	"ride-simulator/internal/publisher"
	"ride-simulator/internal/trip"
)

// wrapPublisherMetrics adapts our Collector to the PublisherMetrics interface.
func wrapPublisherMetrics(c *metrics.Collector) publisher.PublisherMetrics {
	if c == nil {
		return nil
	}
	return &pubMetrics{c: c}
}

type pubMetrics struct{ c *metrics.Collector }

func (p *pubMetrics) NATSPublishedInc()              { p.c.NATSPublished.Inc() }
func (p *pubMetrics) NATSPublishErrInc()             { p.c.NATSPublishErrs.Inc() }
func (p *pubMetrics) PublishObserve(d time.Duration) { p.c.PublishDuration.Observe(d.Seconds()) }
func (p *pubMetrics) NATSSetConnected(b bool) {
	if b {
		p.c.NATSConnected.Set(1)
	} else {
		p.c.NATSConnected.Set(0)
	}
}

func wrapSinkMetrics(c *metrics.Collector) publisher.SinkMetrics {
	if c == nil {
		return nil
	}
	return &sinkMetrics{c: c}
}

type sinkMetrics struct{ c *metrics.Collector }

func (s *sinkMetrics) SinkDelivered(name string) { s.c.SinkDelivered.WithLabelValues(name).Inc() }
func (s *sinkMetrics) SinkDropped(name string)   { s.c.SinkDropped.WithLabelValues(name).Inc() }
func (s *sinkMetrics) SinkFailed(name string)    { s.c.SinkErrors.WithLabelValues(name).Inc() }

func wrapTripMetrics(c *metrics.Collector) trip.Metrics {
	if c == nil {
		return nil
	}
	return &tripMetrics{c: c}
}

type tripMetrics struct{ c *metrics.Collector }

func (t *tripMetrics) TripCreated()              { t.c.TripsCreated.Inc() }
func (t *tripMetrics) PhaseEntered(p trip.Phase) { t.c.PhaseTransitions.WithLabelValues(p.String()).Inc() }
func (t *tripMetrics) SimulationTick()           { t.c.SimulationTicks.Inc() }
func (t *tripMetrics) DriverArrived()            { t.c.DriverArrivals.Inc() }
func (t *tripMetrics) ActiveTrips(n int)         { t.c.ActiveTrips.Set(float64(n)) }

func wrapHTTPMetrics(c *metrics.Collector) api.HTTPMetrics {
	if c == nil {
		return nil
	}
	return &httpMetrics{c: c}
}

type httpMetrics struct{ c *metrics.Collector }

func (h *httpMetrics) ObserveHTTP(route, method string, code int, d time.Duration) {
	h.c.HTTPDuration.WithLabelValues(route, method, strconv.Itoa(code)).Observe(d.Seconds())
}
