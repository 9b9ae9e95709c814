package timerq

import (
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

var epoch = time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)

func TestManualRunsInDeadlineOrder(t *testing.T) {
	q := NewManual(epoch)
	var order []string
	q.AfterFunc(3*time.Second, func() { order = append(order, "c") })
	q.AfterFunc(time.Second, func() { order = append(order, "a") })
	q.AfterFunc(2*time.Second, func() { order = append(order, "b1") })
	q.AfterFunc(2*time.Second, func() { order = append(order, "b2") })

	assert.Equal(t, 3, q.Advance(2*time.Second))
	assert.Equal(t, []string{"a", "b1", "b2"}, order)
	assert.Equal(t, epoch.Add(2*time.Second), q.Now())
	assert.Equal(t, 1, q.Pending())

	assert.Equal(t, 1, q.Advance(time.Hour))
	assert.Equal(t, []string{"a", "b1", "b2", "c"}, order)
	assert.Equal(t, 0, q.Pending())
}

func TestManualNowInsideCallback(t *testing.T) {
	q := NewManual(epoch)
	var seen time.Time
	q.AfterFunc(1500*time.Millisecond, func() { seen = q.Now() })
	q.Advance(5 * time.Second)
	assert.Equal(t, epoch.Add(1500*time.Millisecond), seen)
	assert.Equal(t, epoch.Add(5*time.Second), q.Now())
}

func TestManualRecurringWithinWindow(t *testing.T) {
	q := NewManual(epoch)
	ticks := 0
	var tick func()
	tick = func() {
		ticks++
		q.AfterFunc(time.Second, tick)
	}
	q.AfterFunc(time.Second, tick)

	q.Advance(10 * time.Second)
	assert.Equal(t, 10, ticks)
	assert.Equal(t, 1, q.Pending())
}

func TestStopPreventsCallback(t *testing.T) {
	q := NewManual(epoch)
	fired := false
	tm := q.AfterFunc(time.Second, func() { fired = true })

	require.True(t, tm.Pending())
	assert.True(t, tm.Stop())
	assert.False(t, tm.Stop(), "second stop reports nothing prevented")
	assert.False(t, tm.Pending())

	q.Advance(time.Minute)
	assert.False(t, fired)
}

func TestStopFromEarlierCallbackAtSameInstant(t *testing.T) {
	q := NewManual(epoch)
	var later *Timer
	fired := false
	q.AfterFunc(time.Second, func() { later.Stop() })
	later = q.AfterFunc(time.Second, func() { fired = true })

	q.Advance(time.Second)
	assert.False(t, fired)
}

func TestStopAfterFire(t *testing.T) {
	q := NewManual(epoch)
	tm := q.AfterFunc(0, func() {})
	q.Advance(0)
	assert.False(t, tm.Stop())

	var nilTimer *Timer
	assert.False(t, nilTimer.Stop())
}

func TestLoopSerialisesCallbacks(t *testing.T) {
	l := NewLoop(nil)
	l.Start()
	defer l.Stop()

	var inFlight, maxInFlight atomic.Int32
	done := make(chan struct{}, 20)
	for i := 0; i < 20; i++ {
		l.AfterFunc(time.Millisecond, func() {
			n := inFlight.Add(1)
			if n > maxInFlight.Load() {
				maxInFlight.Store(n)
			}
			time.Sleep(100 * time.Microsecond)
			inFlight.Add(-1)
			done <- struct{}{}
		})
	}
	for i := 0; i < 20; i++ {
		select {
		case <-done:
		case <-time.After(2 * time.Second):
			t.Fatal("callbacks did not run")
		}
	}
	assert.Equal(t, int32(1), maxInFlight.Load())
}

func TestLoopDoWaits(t *testing.T) {
	l := NewLoop(nil)
	l.Start()
	defer l.Stop()

	x := 0
	require.NoError(t, l.Do(func() { x = 42 }))
	assert.Equal(t, 42, x)
}

func TestLoopStopInsideDoWins(t *testing.T) {
	l := NewLoop(nil)
	l.Start()
	defer l.Stop()

	var fired atomic.Bool
	var tm *Timer
	require.NoError(t, l.Do(func() {
		tm = l.AfterFunc(0, func() { fired.Store(true) })
		// the runtime timer may already have fired; the callback is still queued behind us
		time.Sleep(5 * time.Millisecond)
		tm.Stop()
	}))
	require.NoError(t, l.Do(func() {}))
	time.Sleep(10 * time.Millisecond)
	assert.False(t, fired.Load())
}

func TestLoopRecoversPanics(t *testing.T) {
	l := NewLoop(nil)
	l.Start()
	defer l.Stop()

	require.NoError(t, l.Do(func() { panic("boom") }))
	x := 0
	require.NoError(t, l.Do(func() { x = 1 }))
	assert.Equal(t, 1, x)
}

func TestLoopClosed(t *testing.T) {
	l := NewLoop(nil)
	l.Start()
	l.Stop()
	l.Stop()

	assert.ErrorIs(t, l.Do(func() {}), ErrClosed)

	fired := make(chan struct{}, 1)
	l.AfterFunc(time.Millisecond, func() { fired <- struct{}{} })
	select {
	case <-fired:
		t.Fatal("callback ran after stop")
	case <-time.After(20 * time.Millisecond):
	}
}

func TestLoopStopWithoutStart(t *testing.T) {
	l := NewLoop(nil)
	l.Stop()
	assert.ErrorIs(t, l.Do(func() {}), ErrClosed)
}
