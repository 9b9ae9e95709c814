package sim

import (
	"ride-simulator/internal/geo"
	"ride-simulator/internal/timerq"
)

// Listener receives engine output on the queue goroutine.
type Listener interface {
	PositionUpdated(State)
	Arrived(State)
}

// Engine drives Tick from a timer queue. All methods must be called from
// queue context.
type Engine struct {
	q        timerq.Queue
	cfg      Config
	listener Listener

	state   State
	timer   *timerq.Timer
	stopped bool
}

// Start validates cfg and schedules the first tick one interval from now.
func Start(q timerq.Queue, driver, target geo.Point, cfg Config, l Listener) (*Engine, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	e := &Engine{
		q:        q,
		cfg:      cfg,
		listener: l,
		state:    NewState(driver, target, cfg),
	}
	e.schedule()
	return e, nil
}

func (e *Engine) schedule() {
	e.timer = e.q.AfterFunc(e.cfg.TickInterval, e.tick)
}

func (e *Engine) tick() {
	if e.stopped {
		return
	}
	e.state = Tick(e.state, e.cfg)
	if e.listener != nil {
		e.listener.PositionUpdated(e.state)
	}
	// the listener may have stopped us
	if e.stopped {
		return
	}
	if e.state.Arrived {
		e.stopped = true
		if e.listener != nil {
			e.listener.Arrived(e.state)
		}
		return
	}
	e.schedule()
}

// Stop cancels the pending tick. No state change or callback happens after
// it returns. Stop is idempotent.
func (e *Engine) Stop() {
	e.stopped = true
	e.timer.Stop()
}

// State returns the most recent simulation state.
func (e *Engine) State() State { return e.state }

// Running reports whether more ticks are scheduled.
func (e *Engine) Running() bool { return !e.stopped }

// Config returns the configuration the engine was started with.
func (e *Engine) Config() Config { return e.cfg }
