package api

import (
	"log/slog"
	"time"

	"github.com/gin-gonic/gin"

	"ride-simulator/internal/sim"
	"ride-simulator/internal/trip"
)

// HTTPMetrics records request latency per route.
type HTTPMetrics interface {
	ObserveHTTP(route, method string, code int, d time.Duration)
}

// RouterDeps contains all dependencies needed for the router.
type RouterDeps struct {
	Trips    Trips
	Defaults sim.Config
	// Drivers and History are optional; their routes answer 503 when nil.
	Drivers NearbyDrivers
	History TripHistory
	Metrics HTTPMetrics
	Logger  *slog.Logger
}

// NewRouter creates a new Gin router with all routes registered.
func NewRouter(deps RouterDeps) *gin.Engine {
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(requestLogger(logger, deps.Metrics))

	router.GET("/health", func(c *gin.Context) {
		c.JSON(200, gin.H{"status": "ok"})
	})

	h := &TripHandler{
		trips:    deps.Trips,
		defaults: deps.Defaults,
		drivers:  deps.Drivers,
		history:  deps.History,
		log:      logger,
	}
	s := &streamer{trips: deps.Trips, log: logger}

	v1 := router.Group("/v1")
	{
		trips := v1.Group("/trips")
		{
			trips.POST("", h.CreateTrip)
			trips.GET("", h.ListTrips)
			trips.GET("/:id", h.GetTrip)
			trips.DELETE("/:id", h.ReleaseTrip)
			trips.POST("/:id/start", h.Action(trip.ActionStart))
			trips.POST("/:id/complete", h.Action(trip.ActionComplete))
			trips.POST("/:id/cancel", h.Action(trip.ActionCancel))
			trips.GET("/:id/history", h.History)
			trips.GET("/:id/events", s.Events)
		}

		v1.GET("/drivers/nearby", h.NearbyDrivers)
	}

	return router
}

func requestLogger(logger *slog.Logger, m HTTPMetrics) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		route := c.FullPath()
		if route == "" {
			route = "unmatched"
		}
		elapsed := time.Since(start)
		code := c.Writer.Status()
		if m != nil {
			m.ObserveHTTP(route, c.Request.Method, code, elapsed)
		}
		level := slog.LevelDebug
		if code >= 500 {
			level = slog.LevelError
		}
		logger.Log(c.Request.Context(), level, "http request",
			"method", c.Request.Method,
			"route", route,
			"status", code,
			"duration", elapsed,
		)
	}
}
