package trip

import (
	"time"

	"ride-simulator/internal/geo"
)

type EventType string

const (
	// EventCreated is only seen by sinks; nobody can subscribe before the id exists.
	EventCreated         EventType = "trip_created"
	EventPhaseChanged    EventType = "phase_changed"
	EventPositionUpdated EventType = "position_updated"
	EventArrived         EventType = "arrived"
)

// Event is an immutable notification about one trip. Seq increases by one
// per event within a trip.
type Event struct {
	Type     EventType    `json:"type"`
	TripID   string       `json:"trip_id"`
	Seq      uint64       `json:"seq"`
	At       time.Time    `json:"at"`
	Change   *PhaseChange `json:"change,omitempty"`
	Position *Position    `json:"position,omitempty"`
}

type PhaseChange struct {
	From Phase `json:"from"`
	To   Phase `json:"to"`
}

type Position struct {
	Driver                  geo.Point `json:"driver"`
	DistanceRemainingMeters float64   `json:"distance_remaining_meters"`
	ETAMinutes              float64   `json:"eta_minutes"`
	Progress                float64   `json:"progress"`
}

// Listener receives events for a single trip on the queue goroutine.
// It must return quickly and must not call back into the registry.
type Listener func(Event)

// Sink receives every event of every trip. Deliver must not block.
type Sink interface {
	Deliver(Event)
}

// SinkFunc adapts a function to Sink.
type SinkFunc func(Event)

func (f SinkFunc) Deliver(ev Event) { f(ev) }
