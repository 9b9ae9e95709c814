// Package timerq provides the single logical timer queue that trip
// lifecycles and simulation engines schedule their work on.
//
// Every callback scheduled on a Queue runs on that queue, one at a time.
// Stopping a Timer from queue context guarantees its callback never runs,
// even if its deadline has already passed.
package timerq

import (
	"errors"
	"sync/atomic"
	"time"
)

// ErrClosed is returned by Do once the queue has been stopped.
var ErrClosed = errors.New("timer queue closed")

// Queue serialises timers and externally submitted work.
type Queue interface {
	// Now returns the queue's notion of the current time.
	Now() time.Time
	// AfterFunc schedules fn to run on the queue after d.
	AfterFunc(d time.Duration, fn func()) *Timer
	// Do runs fn on the queue and waits for it to return.
	// It must not be called from a callback already running on the queue.
	Do(fn func()) error
}

const (
	timerPending int32 = iota
	timerFired
	timerStopped
)

// Timer is a handle to a scheduled callback.
type Timer struct {
	state   atomic.Int32
	release func()
}

// Stop cancels the timer. It reports whether the call prevented the
// callback from running. Stop on a nil Timer is a no-op.
func (t *Timer) Stop() bool {
	if t == nil {
		return false
	}
	if !t.state.CompareAndSwap(timerPending, timerStopped) {
		return false
	}
	if t.release != nil {
		t.release()
	}
	return true
}

// Pending reports whether the timer has neither fired nor been stopped.
func (t *Timer) Pending() bool {
	return t != nil && t.state.Load() == timerPending
}

func (t *Timer) fire() bool {
	return t.state.CompareAndSwap(timerPending, timerFired)
}
