package publisher

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"ride-simulator/internal/trip"
)

// Publisher writes one trip event to an external system.
type Publisher interface {
	Publish(ctx context.Context, ev trip.Event) error
}

// PublisherFunc adapts a function to Publisher.
type PublisherFunc func(ctx context.Context, ev trip.Event) error

func (f PublisherFunc) Publish(ctx context.Context, ev trip.Event) error { return f(ctx, ev) }

type SinkMetrics interface {
	SinkDelivered(sink string)
	SinkDropped(sink string)
	SinkFailed(sink string)
}

const publishTimeout = 5 * time.Second

// Async decouples a Publisher from the timer queue. Deliver never blocks:
// when the buffer is full the event is dropped and counted.
type Async struct {
	name    string
	pub     Publisher
	events  chan trip.Event
	quit    chan struct{}
	done    chan struct{}
	metrics SinkMetrics
	log     *slog.Logger

	startOnce sync.Once
	closeOnce sync.Once
}

var _ trip.Sink = (*Async)(nil)

func NewAsync(name string, pub Publisher, buffer int, m SinkMetrics, logger *slog.Logger) *Async {
	if buffer <= 0 {
		buffer = 1
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Async{
		name:    name,
		pub:     pub,
		events:  make(chan trip.Event, buffer),
		quit:    make(chan struct{}),
		done:    make(chan struct{}),
		metrics: m,
		log:     logger.With("sink", name),
	}
}

// Start begins delivering events.
func (a *Async) Start() {
	a.startOnce.Do(func() { go a.run() })
}

func (a *Async) Deliver(ev trip.Event) {
	select {
	case <-a.quit:
		return
	default:
	}
	select {
	case a.events <- ev:
	default:
		if a.metrics != nil {
			a.metrics.SinkDropped(a.name)
		}
		a.log.Warn("sink buffer full, event dropped", "trip_id", ev.TripID, "type", string(ev.Type), "seq", ev.Seq)
	}
}

// Close stops accepting events, flushes what is buffered and waits for the
// worker to exit.
func (a *Async) Close() {
	a.closeOnce.Do(func() { close(a.quit) })
	a.startOnce.Do(func() { go a.run() })
	<-a.done
}

func (a *Async) run() {
	defer close(a.done)
	for {
		select {
		case ev := <-a.events:
			a.publish(ev)
		case <-a.quit:
			for {
				select {
				case ev := <-a.events:
					a.publish(ev)
				default:
					return
				}
			}
		}
	}
}

func (a *Async) publish(ev trip.Event) {
	ctx, cancel := context.WithTimeout(context.Background(), publishTimeout)
	defer cancel()
	if err := a.pub.Publish(ctx, ev); err != nil {
		if a.metrics != nil {
			a.metrics.SinkFailed(a.name)
		}
		a.log.Error("publish event", "trip_id", ev.TripID, "type", string(ev.Type), "err", err)
		return
	}
	if a.metrics != nil {
		a.metrics.SinkDelivered(a.name)
	}
}
