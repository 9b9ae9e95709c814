package metrics

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type Collector struct {
	reg *prometheus.Registry

	ActiveTrips prometheus.Gauge

	TripsCreated     prometheus.Counter
	PhaseTransitions *prometheus.CounterVec // phase label: phase entered
	SimulationTicks  prometheus.Counter
	DriverArrivals   prometheus.Counter

	NATSPublished   prometheus.Counter
	NATSPublishErrs prometheus.Counter
	NATSConnected   prometheus.Gauge

	SinkDelivered *prometheus.CounterVec // sink label
	SinkDropped   *prometheus.CounterVec // sink label
	SinkErrors    *prometheus.CounterVec // sink label

	PublishDuration prometheus.Histogram
	HTTPDuration    *prometheus.HistogramVec // route, method, code

	StepMeters       prometheus.Gauge
	TickInterval     prometheus.Gauge // seconds
	ArrivalThreshold prometheus.Gauge // meters
}

func NewCollector(stepMeters float64, tickInterval time.Duration, arrivalThresholdMeters float64) *Collector {
	reg := prometheus.NewRegistry()

	c := &Collector{
		reg: reg,
		ActiveTrips: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "ridesim_active_trips",
			Help: "Number of trips that have not reached a terminal phase.",
		}),
		TripsCreated: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "ridesim_trips_created_total",
			Help: "Total trips created.",
		}),
		PhaseTransitions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "ridesim_phase_transitions_total",
			Help: "Phase transitions by phase entered.",
		}, []string{"phase"}),
		SimulationTicks: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "ridesim_simulation_ticks_total",
			Help: "Total driver movement ticks.",
		}),
		DriverArrivals: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "ridesim_driver_arrivals_total",
			Help: "Total simulated drivers that reached their rider.",
		}),
		NATSPublished: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "ridesim_nats_published_total",
			Help: "Total NATS messages published.",
		}),
		NATSPublishErrs: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "ridesim_nats_publish_errors_total",
			Help: "Total NATS publish errors.",
		}),
		NATSConnected: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "ridesim_nats_connected",
			Help: "1 if NATS connection is established, 0 otherwise.",
		}),
		SinkDelivered: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "ridesim_sink_delivered_total",
			Help: "Events handed to an event sink.",
		}, []string{"sink"}),
		SinkDropped: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "ridesim_sink_dropped_total",
			Help: "Events dropped because a sink buffer was full.",
		}, []string{"sink"}),
		SinkErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "ridesim_sink_errors_total",
			Help: "Events a sink failed to write.",
		}, []string{"sink"}),
		PublishDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "ridesim_publish_duration_seconds",
			Help:    "Duration to marshal and publish a NATS message.",
			Buckets: prometheus.ExponentialBuckets(0.0005, 2, 15),
		}),
		HTTPDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "ridesim_http_request_duration_seconds",
			Help:    "HTTP request latency.",
			Buckets: prometheus.DefBuckets,
		}, []string{"route", "method", "code"}),
		StepMeters: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "ridesim_default_step_meters",
			Help: "Default distance covered per tick.",
		}),
		TickInterval: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "ridesim_default_tick_interval_seconds",
			Help: "Default tick interval in seconds.",
		}),
		ArrivalThreshold: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "ridesim_default_arrival_threshold_meters",
			Help: "Default arrival radius in meters.",
		}),
	}

	reg.MustRegister(
		c.ActiveTrips,
		c.TripsCreated, c.PhaseTransitions, c.SimulationTicks, c.DriverArrivals,
		c.NATSPublished, c.NATSPublishErrs, c.NATSConnected,
		c.SinkDelivered, c.SinkDropped, c.SinkErrors,
		c.PublishDuration, c.HTTPDuration,
		c.StepMeters, c.TickInterval, c.ArrivalThreshold,
	)

	c.StepMeters.Set(stepMeters)
	c.TickInterval.Set(tickInterval.Seconds())
	c.ArrivalThreshold.Set(arrivalThresholdMeters)

	return c
}

func (c *Collector) Handler() http.Handler { return promhttp.HandlerFor(c.reg, promhttp.HandlerOpts{}) }

// Serve starts an HTTP server exposing /metrics on the given address.
func (c *Collector) Serve(addr string, logger *slog.Logger) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", c.Handler())
	srv := &http.Server{Addr: addr, Handler: mux}
	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("metrics server error", "err", err)
		}
	}()
	logger.Info("metrics listening", "addr", addr)
	return srv
}
