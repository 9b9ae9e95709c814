package timerq

import (
	"log/slog"
	"sync"
	"time"
)

// Loop is the wall-clock Queue. All callbacks run on a single goroutine
// started by Start.
type Loop struct {
	log   *slog.Logger
	tasks chan func()
	quit  chan struct{}
	done  chan struct{}

	startOnce sync.Once
	stopOnce  sync.Once
}

func NewLoop(logger *slog.Logger) *Loop {
	if logger == nil {
		logger = slog.Default()
	}
	return &Loop{
		log:   logger,
		tasks: make(chan func()),
		quit:  make(chan struct{}),
		done:  make(chan struct{}),
	}
}

// Start launches the loop goroutine. Calling it more than once is harmless.
func (l *Loop) Start() {
	l.startOnce.Do(func() { go l.run() })
}

// Stop halts the loop and waits for the running callback, if any, to return.
// Timers that fire afterwards are discarded.
func (l *Loop) Stop() {
	l.stopOnce.Do(func() { close(l.quit) })
	l.startOnce.Do(func() { close(l.done) })
	<-l.done
}

func (l *Loop) run() {
	defer close(l.done)
	for {
		select {
		case <-l.quit:
			return
		case fn := <-l.tasks:
			l.exec(fn)
		}
	}
}

func (l *Loop) exec(fn func()) {
	defer func() {
		if r := recover(); r != nil {
			l.log.Error("timer queue callback panicked", "panic", r)
		}
	}()
	fn()
}

func (l *Loop) post(fn func()) bool {
	select {
	case <-l.quit:
		return false
	default:
	}
	select {
	case l.tasks <- fn:
		return true
	case <-l.quit:
		return false
	}
}

func (l *Loop) Now() time.Time { return time.Now() }

func (l *Loop) AfterFunc(d time.Duration, fn func()) *Timer {
	t := &Timer{}
	rt := time.AfterFunc(d, func() {
		l.post(func() {
			if t.fire() {
				fn()
			}
		})
	})
	t.release = func() { rt.Stop() }
	return t
}

func (l *Loop) Do(fn func()) error {
	done := make(chan struct{})
	if !l.post(func() {
		defer close(done)
		fn()
	}) {
		return ErrClosed
	}
	<-done
	return nil
}
