package api

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"ride-simulator/internal/db"
	"ride-simulator/internal/geo"
	"ride-simulator/internal/redis"
	"ride-simulator/internal/sim"
	"ride-simulator/internal/trip"
)

// Trips is the part of the trip registry the HTTP layer drives.
type Trips interface {
	CreateTrip(origin, destination geo.Point, cfg sim.Config) (string, error)
	Dispatch(id string, a trip.Action) (bool, error)
	Snapshot(id string) (trip.Snapshot, error)
	SubscribeWithSnapshot(id string, fn trip.Listener) (trip.Snapshot, func(), error)
	List() ([]trip.Snapshot, error)
	Release(id string) error
}

type NearbyDrivers interface {
	NearbyDrivers(ctx context.Context, lat, lng, radiusKm float64) ([]redis.DriverLocation, error)
}

type TripHistory interface {
	History(ctx context.Context, tripID string) ([]db.Record, error)
}

// TripHandler handles HTTP requests for trips.
type TripHandler struct {
	trips    Trips
	defaults sim.Config
	drivers  NearbyDrivers
	history  TripHistory
	log      *slog.Logger
}

type CreateTripRequest struct {
	Origin      *geo.Point         `json:"origin" binding:"required"`
	Destination *geo.Point         `json:"destination" binding:"required"`
	Simulation  *SimulationRequest `json:"simulation"`
}

// SimulationRequest overrides the server defaults field by field.
type SimulationRequest struct {
	StepMeters             *float64 `json:"step_meters"`
	TickIntervalMs         *int64   `json:"tick_interval_ms"`
	ArrivalThresholdMeters *float64 `json:"arrival_threshold_meters"`
}

func (r *SimulationRequest) apply(cfg sim.Config) sim.Config {
	if r == nil {
		return cfg
	}
	if r.StepMeters != nil {
		cfg.StepMeters = *r.StepMeters
	}
	if r.TickIntervalMs != nil {
		cfg.TickInterval = time.Duration(*r.TickIntervalMs) * time.Millisecond
	}
	if r.ArrivalThresholdMeters != nil {
		cfg.ArrivalThresholdMeters = *r.ArrivalThresholdMeters
	}
	return cfg
}

type ActionResponse struct {
	Changed bool          `json:"changed"`
	Trip    trip.Snapshot `json:"trip"`
}

// CreateTrip handles POST /v1/trips
func (h *TripHandler) CreateTrip(c *gin.Context) {
	var req CreateTripRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondError(c, fmt.Errorf("%w: %v", errBadRequest, err))
		return
	}

	id, err := h.trips.CreateTrip(*req.Origin, *req.Destination, req.Simulation.apply(h.defaults))
	if err != nil {
		respondError(c, err)
		return
	}
	snap, err := h.trips.Snapshot(id)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, snap)
}

// GetTrip handles GET /v1/trips/:id
func (h *TripHandler) GetTrip(c *gin.Context) {
	snap, err := h.trips.Snapshot(c.Param("id"))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, snap)
}

// ListTrips handles GET /v1/trips
func (h *TripHandler) ListTrips(c *gin.Context) {
	list, err := h.trips.List()
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, list)
}

// Action returns the handler for POST /v1/trips/:id/<action>.
func (h *TripHandler) Action(a trip.Action) gin.HandlerFunc {
	return func(c *gin.Context) {
		id := c.Param("id")
		changed, err := h.trips.Dispatch(id, a)
		if err != nil {
			respondError(c, err)
			return
		}
		snap, err := h.trips.Snapshot(id)
		if err != nil {
			respondError(c, err)
			return
		}
		c.JSON(http.StatusOK, ActionResponse{Changed: changed, Trip: snap})
	}
}

// ReleaseTrip handles DELETE /v1/trips/:id
func (h *TripHandler) ReleaseTrip(c *gin.Context) {
	if err := h.trips.Release(c.Param("id")); err != nil {
		respondError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

// History handles GET /v1/trips/:id/history
func (h *TripHandler) History(c *gin.Context) {
	if h.history == nil {
		respondError(c, fmt.Errorf("%w: trip journal", errUnavailable))
		return
	}
	records, err := h.history.History(c.Request.Context(), c.Param("id"))
	if err != nil {
		respondError(c, err)
		return
	}
	if len(records) == 0 {
		respondError(c, fmt.Errorf("%w: %s", trip.ErrTripNotFound, c.Param("id")))
		return
	}
	c.JSON(http.StatusOK, records)
}

// NearbyDrivers handles GET /v1/drivers/nearby?lat=&lng=&radius_km=
func (h *TripHandler) NearbyDrivers(c *gin.Context) {
	if h.drivers == nil {
		respondError(c, fmt.Errorf("%w: driver location store", errUnavailable))
		return
	}
	lat, err1 := strconv.ParseFloat(c.Query("lat"), 64)
	lng, err2 := strconv.ParseFloat(c.Query("lng"), 64)
	if err1 != nil || err2 != nil {
		respondError(c, fmt.Errorf("%w: lat and lng are required", errBadRequest))
		return
	}
	if err := (geo.Point{Latitude: lat, Longitude: lng}).Validate(); err != nil {
		respondError(c, err)
		return
	}
	radius := 5.0
	if v := c.Query("radius_km"); v != "" {
		r, err := strconv.ParseFloat(v, 64)
		if err != nil || r <= 0 {
			respondError(c, fmt.Errorf("%w: invalid radius_km %q", errBadRequest, v))
			return
		}
		radius = r
	}

	drivers, err := h.drivers.NearbyDrivers(c.Request.Context(), lat, lng, radius)
	if err != nil {
		h.log.Error("nearby drivers lookup", "err", err)
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, drivers)
}
