// Package sim moves a synthetic driver toward a fixed target in constant
// steps on a fixed cadence and derives remaining distance and ETA.
package sim

import (
	"errors"
	"fmt"
	"math"
	"time"

	"ride-simulator/internal/geo"
)

// ErrInvalidConfiguration is returned for a non-positive step or tick interval.
var ErrInvalidConfiguration = errors.New("invalid simulation configuration")

// arrivalTolerance absorbs floating point drift when a step lands exactly on
// the threshold.
const arrivalTolerance = 1e-6

// Config is fixed for the lifetime of an engine.
type Config struct {
	StepMeters             float64       `json:"step_meters"`
	TickInterval           time.Duration `json:"-"`
	ArrivalThresholdMeters float64       `json:"arrival_threshold_meters"`
}

// Validate reports ErrInvalidConfiguration for a non-positive step or tick
// interval, or a negative threshold.
func (c Config) Validate() error {
	switch {
	case math.IsNaN(c.StepMeters) || c.StepMeters <= 0 || math.IsInf(c.StepMeters, 0):
		return fmt.Errorf("%w: step must be positive, got %v", ErrInvalidConfiguration, c.StepMeters)
	case c.TickInterval <= 0:
		return fmt.Errorf("%w: tick interval must be positive, got %s", ErrInvalidConfiguration, c.TickInterval)
	case math.IsNaN(c.ArrivalThresholdMeters) || c.ArrivalThresholdMeters < 0:
		return fmt.Errorf("%w: arrival threshold must be non-negative, got %v", ErrInvalidConfiguration, c.ArrivalThresholdMeters)
	}
	return nil
}

// SpeedMetersPerMinute is the average speed implied by one step per tick.
func (c Config) SpeedMetersPerMinute() float64 {
	return c.StepMeters / c.TickInterval.Minutes()
}

// State is the per-tick snapshot of a simulation. Values are never mutated
// in place; Tick returns a new State.
type State struct {
	Driver                  geo.Point `json:"driver"`
	Target                  geo.Point `json:"target"`
	InitialDistanceMeters   float64   `json:"initial_distance_meters"`
	DistanceRemainingMeters float64   `json:"distance_remaining_meters"`
	ETAMinutes              float64   `json:"eta_minutes"`
	Progress                float64   `json:"progress"`
	Ticks                   int       `json:"ticks"`
	Arrived                 bool      `json:"arrived"`
}

// NewState builds the state of a simulation that has not ticked yet.
func NewState(driver, target geo.Point, cfg Config) State {
	d := geo.DistanceMeters(driver, target)
	s := State{
		Driver:                  driver,
		Target:                  target,
		InitialDistanceMeters:   d,
		DistanceRemainingMeters: d,
	}
	s.ETAMinutes = eta(d, cfg)
	s.Progress = progress(s)
	return s
}

// Tick advances s by one step. An arrived state is returned unchanged.
func Tick(s State, cfg Config) State {
	if s.Arrived {
		return s
	}
	next := s
	next.Ticks++

	// already inside the radius: arrive in place, no bearing needed
	if within(s.DistanceRemainingMeters, cfg) {
		next.Arrived = true
		return next
	}

	if cfg.StepMeters >= s.DistanceRemainingMeters {
		next.Driver = s.Target
		next.DistanceRemainingMeters = 0
	} else {
		bearing := geo.InitialBearing(s.Driver, s.Target)
		next.Driver = geo.DestinationPoint(s.Driver, bearing, cfg.StepMeters)
		remaining := geo.DistanceMeters(next.Driver, s.Target)
		if remaining > s.DistanceRemainingMeters {
			remaining = s.DistanceRemainingMeters
		}
		next.DistanceRemainingMeters = remaining
	}
	next.ETAMinutes = eta(next.DistanceRemainingMeters, cfg)
	next.Progress = progress(next)
	next.Arrived = within(next.DistanceRemainingMeters, cfg)
	return next
}

// within treats distances up to arrivalTolerance beyond the threshold as
// arrived, so a start 0.5µm past it still counts.
func within(remaining float64, cfg Config) bool {
	return remaining <= cfg.ArrivalThresholdMeters+arrivalTolerance
}

func eta(remaining float64, cfg Config) float64 {
	speed := cfg.SpeedMetersPerMinute()
	if speed <= 0 || remaining <= 0 {
		return 0
	}
	return remaining / speed
}

func progress(s State) float64 {
	if s.InitialDistanceMeters <= 0 {
		return 1
	}
	p := 1 - s.DistanceRemainingMeters/s.InitialDistanceMeters
	return math.Max(0, math.Min(1, p))
}
