package trip

import (
	"errors"

	"ride-simulator/internal/geo"
	"ride-simulator/internal/sim"
)

var (
	// ErrInvalidCoordinates is returned when an origin or destination is out of range.
	ErrInvalidCoordinates = geo.ErrInvalidCoordinates

	// ErrInvalidConfiguration is returned when the simulation settings are unusable.
	ErrInvalidConfiguration = sim.ErrInvalidConfiguration

	// ErrTripNotFound is returned for ids that were never created or were released.
	ErrTripNotFound = errors.New("trip not found")

	// ErrTripActive is returned when releasing a trip that has not finished.
	ErrTripActive = errors.New("trip has not reached a terminal phase")

	// ErrUnknownAction is returned when parsing an unsupported rider action.
	ErrUnknownAction = errors.New("unknown action")

	// ErrClosed is returned after the registry has been shut down.
	ErrClosed = errors.New("trip registry closed")
)
