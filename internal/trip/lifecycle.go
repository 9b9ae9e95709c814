package trip

import (
	"sync/atomic"
	"time"

	"ride-simulator/internal/geo"
	"ride-simulator/internal/sim"
	"ride-simulator/internal/timerq"
)

// Timings are the fixed delays between the automatic phases.
type Timings struct {
	SearchDelay time.Duration
	AssignDelay time.Duration
}

// DefaultTimings mirror the booking demo: two seconds of searching, then
// three seconds until the driver sets off.
func DefaultTimings() Timings {
	return Timings{SearchDelay: 2 * time.Second, AssignDelay: 3 * time.Second}
}

type subscription struct {
	fn     Listener
	active atomic.Bool
}

// lifecycle owns one trip. Every method runs on the registry's queue.
type lifecycle struct {
	reg *Registry

	id          string
	origin      geo.Point
	destination geo.Point
	cfg         sim.Config
	assignment  Assignment

	phase          Phase
	createdAt      time.Time
	phaseEnteredAt time.Time

	delay   *timerq.Timer
	release *timerq.Timer
	engine  *sim.Engine
	driver  geo.Point

	seq  uint64
	subs []*subscription
}

func newLifecycle(r *Registry, id string, origin, destination geo.Point, cfg sim.Config, a Assignment) *lifecycle {
	now := r.q.Now()
	return &lifecycle{
		reg:            r,
		id:             id,
		origin:         origin,
		destination:    destination,
		cfg:            cfg,
		assignment:     a,
		phase:          Searching,
		createdAt:      now,
		phaseEnteredAt: now,
		driver:         a.Start,
	}
}

func (lc *lifecycle) begin() {
	lc.emit(Event{Type: EventCreated})
	lc.delay = lc.reg.q.AfterFunc(lc.reg.timings.SearchDelay, func() {
		lc.fire(triggerSearchElapsed)
	})
}

func (lc *lifecycle) dispatch(a Action) bool {
	t, ok := a.trigger()
	if !ok {
		return false
	}
	return lc.fire(t)
}

// fire applies t. Pairs outside the transition table are ignored.
func (lc *lifecycle) fire(t trigger) bool {
	to, ok := transition(lc.phase, t)
	if !ok {
		return false
	}
	from := lc.phase

	lc.delay.Stop()
	lc.delay = nil
	if lc.engine != nil {
		lc.engine.Stop()
		lc.engine = nil
	}

	lc.phase = to
	lc.phaseEnteredAt = lc.reg.q.Now()
	lc.emit(Event{Type: EventPhaseChanged, Change: &PhaseChange{From: from, To: to}})
	lc.reg.phaseEntered(lc, from, to)

	switch to {
	case Assigned:
		lc.delay = lc.reg.q.AfterFunc(lc.reg.timings.AssignDelay, func() {
			lc.fire(triggerAssignElapsed)
		})
	case EnRoute:
		// cfg was validated when the trip was created
		e, err := sim.Start(lc.reg.q, lc.assignment.Start, lc.origin, lc.cfg, engineListener{lc})
		if err != nil {
			lc.reg.log.Error("simulation failed to start", "trip_id", lc.id, "err", err)
			return true
		}
		lc.engine = e
	}
	return true
}

// halt drops every timer and the engine without emitting anything.
func (lc *lifecycle) halt() {
	lc.delay.Stop()
	lc.release.Stop()
	if lc.engine != nil {
		lc.engine.Stop()
		lc.engine = nil
	}
	for _, s := range lc.subs {
		s.active.Store(false)
	}
	lc.subs = nil
}

func (lc *lifecycle) subscribe(fn Listener) func() {
	s := &subscription{fn: fn}
	s.active.Store(true)

	kept := make([]*subscription, 0, len(lc.subs)+1)
	for _, old := range lc.subs {
		if old.active.Load() {
			kept = append(kept, old)
		}
	}
	lc.subs = append(kept, s)
	return func() { s.active.Store(false) }
}

func (lc *lifecycle) emit(ev Event) {
	lc.seq++
	ev.TripID = lc.id
	ev.Seq = lc.seq
	ev.At = lc.reg.q.Now()
	for _, s := range lc.subs {
		if s.active.Load() {
			s.fn(ev)
		}
	}
	lc.reg.observe(ev)
}

func (lc *lifecycle) snapshot() Snapshot {
	s := Snapshot{
		ID:             lc.id,
		Origin:         lc.origin,
		Destination:    lc.destination,
		Phase:          lc.phase,
		Status:         lc.phase.Label(),
		CanCancel:      lc.phase.Cancellable(),
		CreatedAt:      lc.createdAt,
		PhaseEnteredAt: lc.phaseEnteredAt,
	}
	if lc.engine != nil {
		st := lc.engine.State()
		s.Simulation = &st
	}
	if lc.phase != Searching {
		s.Driver = &DriverView{
			Profile:  lc.assignment.Driver,
			Location: lc.driver,
			Start:    lc.assignment.Start,
		}
	}
	return s
}

type engineListener struct{ lc *lifecycle }

func (l engineListener) PositionUpdated(s sim.State) {
	l.lc.driver = s.Driver
	l.lc.emit(Event{Type: EventPositionUpdated, Position: &Position{
		Driver:                  s.Driver,
		DistanceRemainingMeters: s.DistanceRemainingMeters,
		ETAMinutes:              s.ETAMinutes,
		Progress:                s.Progress,
	}})
}

func (l engineListener) Arrived(s sim.State) {
	l.lc.driver = s.Driver
	l.lc.emit(Event{Type: EventArrived, Position: &Position{
		Driver:                  s.Driver,
		DistanceRemainingMeters: s.DistanceRemainingMeters,
		ETAMinutes:              s.ETAMinutes,
		Progress:                s.Progress,
	}})
	l.lc.fire(triggerArrival)
}
