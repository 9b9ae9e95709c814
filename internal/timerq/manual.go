package timerq

import (
	"container/heap"
	"sync"
	"time"
)

// Manual is a virtual-time Queue. Nothing runs until Advance is called, and
// Do executes inline on the caller's goroutine. It is meant for tests and
// for replaying trips faster than real time.
type Manual struct {
	mu      sync.Mutex
	now     time.Time
	seq     uint64
	entries entryHeap
}

func NewManual(start time.Time) *Manual {
	return &Manual{now: start}
}

func (m *Manual) Now() time.Time {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.now
}

func (m *Manual) AfterFunc(d time.Duration, fn func()) *Timer {
	if d < 0 {
		d = 0
	}
	t := &Timer{}
	m.mu.Lock()
	m.seq++
	heap.Push(&m.entries, &entry{when: m.now.Add(d), seq: m.seq, timer: t, fn: fn})
	m.mu.Unlock()
	return t
}

func (m *Manual) Do(fn func()) error {
	fn()
	return nil
}

// Advance moves virtual time forward by d, running every callback that
// becomes due in deadline order. Timers scheduled by those callbacks run too
// if they fall inside the window. It returns the number of callbacks run.
func (m *Manual) Advance(d time.Duration) int {
	m.mu.Lock()
	target := m.now.Add(d)
	m.mu.Unlock()

	ran := 0
	for {
		m.mu.Lock()
		if m.entries.Len() == 0 || m.entries[0].when.After(target) {
			m.now = target
			m.mu.Unlock()
			return ran
		}
		e := heap.Pop(&m.entries).(*entry)
		m.now = e.when
		m.mu.Unlock()

		if e.timer.fire() {
			e.fn()
			ran++
		}
	}
}

// Pending returns the number of timers still waiting to fire.
func (m *Manual) Pending() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, e := range m.entries {
		if e.timer.Pending() {
			n++
		}
	}
	return n
}

type entry struct {
	when  time.Time
	seq   uint64
	timer *Timer
	fn    func()
}

type entryHeap []*entry

func (h entryHeap) Len() int { return len(h) }
func (h entryHeap) Less(i, j int) bool {
	if h[i].when.Equal(h[j].when) {
		return h[i].seq < h[j].seq
	}
	return h[i].when.Before(h[j].when)
}
func (h entryHeap) Swap(i, j int) { h[i], h[j] = h[j], h[i] }
func (h *entryHeap) Push(x any)   { *h = append(*h, x.(*entry)) }
func (h *entryHeap) Pop() any {
	old := *h
	n := len(old)
	e := old[n-1]
	old[n-1] = nil
	*h = old[:n-1]
	return e
}
