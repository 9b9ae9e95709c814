package main

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"ride-simulator/internal/api"
	"ride-simulator/internal/config"
	"ride-simulator/internal/db"
	"ride-simulator/internal/metrics"
	"ride-simulator/internal/publisher"
	"ride-simulator/internal/redis"
	"ride-simulator/internal/timerq"
	"ride-simulator/internal/trip"
)

const shutdownTimeout = 5 * time.Second

func main() {
	// Load configuration from .env and environment
	cfg, err := config.Load()
	if err != nil {
		slog.Error("config error", "err", err)
		os.Exit(1)
	}

	logger := setupLogger(os.Stdout, cfg.LogLevel, cfg.LogFormat)
	slog.SetDefault(logger)

	// Root context with cancellation on SIGINT/SIGTERM
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx, cfg, logger); err != nil {
		logger.Error("simulator stopped", "err", err)
		os.Exit(1)
	}
	logger.Info("shutdown complete")
}

func run(ctx context.Context, cfg *config.Config, logger *slog.Logger) error {
	var mcol *metrics.Collector
	if cfg.MetricsAddr != "" {
		mcol = metrics.NewCollector(cfg.Simulation.StepMeters, cfg.Simulation.TickInterval, cfg.Simulation.ArrivalThresholdMeters)
		srv := mcol.Serve(cfg.MetricsAddr, logger)
		defer shutdown(srv, logger, "metrics")
	}
	sinkM := wrapSinkMetrics(mcol)

	var (
		sinks  []trip.Sink
		pumps  []*publisher.Async
		deps   = api.RouterDeps{Defaults: cfg.Simulation, Metrics: wrapHTTPMetrics(mcol), Logger: logger}
		attach = func(name string, pub publisher.Publisher) {
			a := publisher.NewAsync(name, pub, cfg.SinkBuffer, sinkM, logger)
			a.Start()
			sinks = append(sinks, a)
			pumps = append(pumps, a)
		}
	)

	if cfg.NATSURL != "" {
		pub, err := publisher.NewNATSPublisher(cfg.NATSURL, cfg.NATSSubjectPrefix, cfg.LogNATSSubjects, wrapPublisherMetrics(mcol), logger)
		if err != nil {
			return err
		}
		defer pub.Close()
		attach("nats", pub)
	}

	if cfg.RedisAddr != "" {
		client, err := redis.Connect(ctx, cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB)
		if err != nil {
			return err
		}
		defer client.Close()
		store := redis.NewLocationStore(client, cfg.RedisGeoKey, logger)
		if err := store.Reset(ctx); err != nil {
			return err
		}
		// Runs after the pumps drain; removes drivers of trips halted on shutdown.
		defer func() {
			cctx, ccancel := context.WithTimeout(context.Background(), shutdownTimeout)
			defer ccancel()
			if err := store.Close(cctx); err != nil {
				logger.Warn("clearing driver locations", "err", err)
			}
		}()
		attach("redis", store)
		deps.Drivers = store
		logger.Info("driver locations mirrored to redis", "addr", cfg.RedisAddr)
	}

	if cfg.DatabaseURL != "" {
		dsn := cfg.DatabaseURL
		if cfg.JournalDBName != "" {
			var err error
			if dsn, err = db.WithDBName(dsn, cfg.JournalDBName); err != nil {
				return err
			}
		}
		sqlDB, err := db.Open(dsn)
		if err != nil {
			return err
		}
		defer sqlDB.Close()
		if err := db.Ping(ctx, sqlDB); err != nil {
			return err
		}
		journal := db.NewJournal(sqlDB)
		if err := journal.EnsureSchema(ctx); err != nil {
			return err
		}
		attach("journal", journal)
		deps.History = journal
		logger.Info("trip journal enabled", "dsn", db.Redact(dsn))
	}

	// Pumps drain after the registry and loop have stopped emitting.
	defer func() {
		for _, p := range pumps {
			p.Close()
		}
	}()

	loop := timerq.NewLoop(logger)
	loop.Start()
	defer loop.Stop()

	reg := trip.NewRegistry(trip.Options{
		Queue:     loop,
		Timings:   cfg.Timings,
		Locator:   trip.NewOffsetLocator(cfg.DriverStartMeters, cfg.DriverStartBearing),
		Sinks:     sinks,
		Metrics:   wrapTripMetrics(mcol),
		Logger:    logger,
		Retention: cfg.TerminalRetention,
	})
	defer reg.Close()
	deps.Trips = reg

	srv := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           api.NewRouter(deps),
		ReadHeaderTimeout: 10 * time.Second,
	}
	errCh := make(chan error, 1)
	go func() {
		logger.Info("http listening", "addr", cfg.HTTPAddr,
			"step_meters", cfg.Simulation.StepMeters,
			"tick_interval", cfg.Simulation.TickInterval,
			"arrival_threshold_meters", cfg.Simulation.ArrivalThresholdMeters,
		)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case <-ctx.Done():
		logger.Info("shutting down")
	case err := <-errCh:
		if err != nil {
			return err
		}
	}
	shutdown(srv, logger, "http")
	return nil
}

func shutdown(srv *http.Server, logger *slog.Logger, name string) {
	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		logger.Warn("server shutdown", "server", name, "err", err)
	}
}

func setupLogger(w io.Writer, level, format string) *slog.Logger {
	var logLevel slog.Level
	switch strings.ToLower(level) {
	case "debug":
		logLevel = slog.LevelDebug
	case "info":
		logLevel = slog.LevelInfo
	case "warn":
		logLevel = slog.LevelWarn
	case "error":
		logLevel = slog.LevelError
	default:
		logLevel = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{
		Level: logLevel,
	}

	if strings.ToLower(format) == "text" {
		return slog.New(slog.NewTextHandler(w, opts))
	}
	return slog.New(slog.NewJSONHandler(w, opts))
}
