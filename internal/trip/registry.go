// Package trip sequences bookings through their lifecycle and drives the
// driver simulation between assignment and arrival.
package trip

import (
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/google/uuid"

	"ride-simulator/internal/geo"
	"ride-simulator/internal/sim"
	"ride-simulator/internal/timerq"
)

// Metrics is the subset of instrumentation the registry reports to.
type Metrics interface {
	TripCreated()
	PhaseEntered(p Phase)
	SimulationTick()
	DriverArrived()
	ActiveTrips(n int)
}

type Options struct {
	Queue   timerq.Queue
	Timings Timings
	Locator DriverLocator
	Sinks   []Sink
	Metrics Metrics
	Logger  *slog.Logger
	// Retention is how long a finished trip stays readable before it is
	// released automatically. Zero keeps it until Release is called.
	Retention time.Duration
	NewID     func() string
}

// Snapshot is a read-only copy of a trip.
type Snapshot struct {
	ID             string      `json:"id"`
	Origin         geo.Point   `json:"origin"`
	Destination    geo.Point   `json:"destination"`
	Phase          Phase       `json:"phase"`
	Status         string      `json:"status"`
	CanCancel      bool        `json:"can_cancel"`
	Simulation     *sim.State  `json:"simulation,omitempty"`
	Driver         *DriverView `json:"driver,omitempty"`
	CreatedAt      time.Time   `json:"created_at"`
	PhaseEnteredAt time.Time   `json:"phase_entered_at"`
}

// DriverView is revealed once a driver has been assigned.
type DriverView struct {
	Profile  DriverProfile `json:"profile"`
	Location geo.Point     `json:"location"`
	Start    geo.Point     `json:"start"`
}

// Registry owns every live trip. Trips are created, advanced and observed
// exclusively on the configured queue.
type Registry struct {
	q         timerq.Queue
	timings   Timings
	locator   DriverLocator
	sinks     []Sink
	metrics   Metrics
	log       *slog.Logger
	retention time.Duration
	newID     func() string

	// guarded by running on q
	trips  map[string]*lifecycle
	active int
	closed bool
}

func NewRegistry(opts Options) *Registry {
	r := &Registry{
		q:         opts.Queue,
		timings:   opts.Timings,
		locator:   opts.Locator,
		sinks:     opts.Sinks,
		metrics:   opts.Metrics,
		log:       opts.Logger,
		retention: opts.Retention,
		newID:     opts.NewID,
		trips:     make(map[string]*lifecycle),
	}
	if r.timings.SearchDelay < 0 {
		r.timings.SearchDelay = 0
	}
	if r.timings.AssignDelay < 0 {
		r.timings.AssignDelay = 0
	}
	if r.locator == nil {
		r.locator = NewOffsetLocator(1500, 45)
	}
	if r.log == nil {
		r.log = slog.Default()
	}
	if r.newID == nil {
		r.newID = uuid.NewString
	}
	return r
}

// CreateTrip validates the booking and starts it in the Searching phase.
// On error nothing is created and no event is emitted.
func (r *Registry) CreateTrip(origin, destination geo.Point, cfg sim.Config) (string, error) {
	if err := origin.Validate(); err != nil {
		return "", fmt.Errorf("origin: %w", err)
	}
	if err := destination.Validate(); err != nil {
		return "", fmt.Errorf("destination: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return "", err
	}
	a, err := r.locator.Assign(origin)
	if err != nil {
		return "", fmt.Errorf("assign driver: %w", err)
	}

	id := r.newID()
	err = r.do(func() error {
		if r.closed {
			return ErrClosed
		}
		if _, exists := r.trips[id]; exists {
			return fmt.Errorf("duplicate trip id %q", id)
		}
		lc := newLifecycle(r, id, origin, destination, cfg, a)
		r.trips[id] = lc
		r.active++
		if r.metrics != nil {
			r.metrics.TripCreated()
			r.metrics.ActiveTrips(r.active)
		}
		r.log.Info("trip created", "trip_id", id, "origin", origin.String(), "destination", destination.String(), "driver_id", a.Driver.ID)
		lc.begin()
		return nil
	})
	if err != nil {
		return "", err
	}
	return id, nil
}

// Dispatch applies a rider action and reports whether the phase changed.
// Actions that are not valid for the current phase are ignored.
func (r *Registry) Dispatch(id string, a Action) (bool, error) {
	var changed bool
	err := r.withTrip(id, func(lc *lifecycle) error {
		changed = lc.dispatch(a)
		if !changed {
			r.log.Debug("action ignored", "trip_id", id, "action", string(a), "phase", lc.phase.String())
		}
		return nil
	})
	return changed, err
}

// Subscribe registers fn for the trip's future events. The returned func
// stops delivery as soon as it returns and may be called from any goroutine.
func (r *Registry) Subscribe(id string, fn Listener) (func(), error) {
	var unsubscribe func()
	err := r.withTrip(id, func(lc *lifecycle) error {
		unsubscribe = lc.subscribe(fn)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return unsubscribe, nil
}

// SubscribeWithSnapshot returns the trip's current snapshot together with a
// subscription that starts right after it, so no event is missed or repeated.
func (r *Registry) SubscribeWithSnapshot(id string, fn Listener) (Snapshot, func(), error) {
	var (
		snap        Snapshot
		unsubscribe func()
	)
	err := r.withTrip(id, func(lc *lifecycle) error {
		snap = lc.snapshot()
		unsubscribe = lc.subscribe(fn)
		return nil
	})
	if err != nil {
		return Snapshot{}, nil, err
	}
	return snap, unsubscribe, nil
}

func (r *Registry) Snapshot(id string) (Snapshot, error) {
	var snap Snapshot
	err := r.withTrip(id, func(lc *lifecycle) error {
		snap = lc.snapshot()
		return nil
	})
	return snap, err
}

// List returns snapshots of every known trip, oldest first.
func (r *Registry) List() ([]Snapshot, error) {
	var out []Snapshot
	err := r.do(func() error {
		out = make([]Snapshot, 0, len(r.trips))
		for _, lc := range r.trips {
			out = append(out, lc.snapshot())
		}
		return nil
	})
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out, err
}

// Release discards a finished trip so the rider can book again.
func (r *Registry) Release(id string) error {
	return r.withTrip(id, func(lc *lifecycle) error {
		if !lc.phase.Terminal() {
			return fmt.Errorf("%w: %s is %s", ErrTripActive, id, lc.phase)
		}
		r.drop(lc)
		return nil
	})
}

// Len returns the number of trips held, finished ones included.
func (r *Registry) Len() int {
	n := 0
	_ = r.do(func() error {
		n = len(r.trips)
		return nil
	})
	return n
}

// Close halts every trip without emitting further events.
func (r *Registry) Close() {
	err := r.do(func() error {
		for _, lc := range r.trips {
			lc.halt()
		}
		r.trips = make(map[string]*lifecycle)
		r.active = 0
		r.closed = true
		if r.metrics != nil {
			r.metrics.ActiveTrips(0)
		}
		return nil
	})
	if err != nil && !errors.Is(err, timerq.ErrClosed) {
		r.log.Error("close trip registry", "err", err)
	}
}

func (r *Registry) do(fn func() error) error {
	var inner error
	if err := r.q.Do(func() { inner = fn() }); err != nil {
		if errors.Is(err, timerq.ErrClosed) {
			return ErrClosed
		}
		return err
	}
	return inner
}

func (r *Registry) withTrip(id string, fn func(*lifecycle) error) error {
	return r.do(func() error {
		lc, ok := r.trips[id]
		if !ok {
			return fmt.Errorf("%w: %s", ErrTripNotFound, id)
		}
		return fn(lc)
	})
}

func (r *Registry) drop(lc *lifecycle) {
	lc.halt()
	delete(r.trips, lc.id)
	r.log.Debug("trip released", "trip_id", lc.id)
}

func (r *Registry) phaseEntered(lc *lifecycle, from, to Phase) {
	r.log.Info("trip phase changed", "trip_id", lc.id, "from", from.String(), "to", to.String())
	if r.metrics != nil {
		r.metrics.PhaseEntered(to)
	}
	if !to.Terminal() {
		return
	}
	r.active--
	if r.metrics != nil {
		r.metrics.ActiveTrips(r.active)
	}
	if r.retention > 0 {
		lc.release = r.q.AfterFunc(r.retention, func() {
			if r.trips[lc.id] == lc {
				r.drop(lc)
			}
		})
	}
}

func (r *Registry) observe(ev Event) {
	if r.metrics != nil {
		switch ev.Type {
		case EventPositionUpdated:
			r.metrics.SimulationTick()
		case EventArrived:
			r.metrics.DriverArrived()
		}
	}
	if ev.Type == EventPositionUpdated {
		r.log.Debug("driver position", "trip_id", ev.TripID, "remaining_m", ev.Position.DistanceRemainingMeters, "eta_min", ev.Position.ETAMinutes)
	}
	for _, s := range r.sinks {
		s.Deliver(ev)
	}
}
