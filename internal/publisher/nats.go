package publisher

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/nats-io/nats.go"

	"ride-simulator/internal/trip"
)

type NATSPublisher struct {
	conn        natsConn
	close       func()
	prefix      string
	logSubjects bool
	metrics     PublisherMetrics
	log         *slog.Logger
}

type PublisherMetrics interface {
	NATSPublishedInc()
	NATSPublishErrInc()
	PublishObserve(d time.Duration)
	NATSSetConnected(connected bool)
}

type natsConn interface {
	Publish(subject string, data []byte) error
}

func NewNATSPublisher(url, prefix string, logSubjects bool, m PublisherMetrics, logger *slog.Logger) (*NATSPublisher, error) {
	if logger == nil {
		logger = slog.Default()
	}
	nc, err := nats.Connect(url,
		nats.Name("ride-simulator"),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if m != nil {
				m.NATSSetConnected(false)
			}
			logger.Warn("nats disconnected", "err", err)
		}),
		nats.ReconnectHandler(func(_ *nats.Conn) {
			if m != nil {
				m.NATSSetConnected(true)
			}
			logger.Info("nats reconnected")
		}),
		nats.ClosedHandler(func(_ *nats.Conn) {
			if m != nil {
				m.NATSSetConnected(false)
			}
			logger.Info("nats closed")
		}),
	)
	if err != nil {
		return nil, err
	}
	if m != nil {
		m.NATSSetConnected(true)
	}
	p := newNATSPublisher(nc, prefix, logSubjects, m, logger)
	p.close = func() {
		_ = nc.Drain()
		nc.Close()
	}
	return p, nil
}

func newNATSPublisher(conn natsConn, prefix string, logSubjects bool, m PublisherMetrics, logger *slog.Logger) *NATSPublisher {
	if prefix == "" {
		prefix = "trips"
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &NATSPublisher{conn: conn, prefix: prefix, logSubjects: logSubjects, metrics: m, log: logger}
}

func (p *NATSPublisher) Close() {
	if p.close != nil {
		p.close()
	}
}

// EventMessage is the JSON body published for every trip event.
type EventMessage struct {
	TripID    string    `json:"tripId"`
	Type      string    `json:"type"`
	Seq       uint64    `json:"seq"`
	Timestamp time.Time `json:"timestamp"`
	From      string    `json:"from,omitempty"`
	To        string    `json:"to,omitempty"`
	Lat       *float64  `json:"lat,omitempty"`
	Lon       *float64  `json:"lon,omitempty"`
	Remaining *float64  `json:"distanceRemainingMeters,omitempty"`
	ETA       *float64  `json:"etaMinutes,omitempty"`
	Progress  *float64  `json:"progress,omitempty"`
}

func NewEventMessage(ev trip.Event) EventMessage {
	msg := EventMessage{
		TripID:    ev.TripID,
		Type:      string(ev.Type),
		Seq:       ev.Seq,
		Timestamp: ev.At,
	}
	if ev.Change != nil {
		msg.From = ev.Change.From.String()
		msg.To = ev.Change.To.String()
	}
	if pos := ev.Position; pos != nil {
		lat, lon := pos.Driver.Latitude, pos.Driver.Longitude
		remaining, eta, progress := pos.DistanceRemainingMeters, pos.ETAMinutes, pos.Progress
		msg.Lat, msg.Lon = &lat, &lon
		msg.Remaining, msg.ETA, msg.Progress = &remaining, &eta, &progress
	}
	return msg
}

// Subject returns <prefix>.<tripID>.<type>.
func (p *NATSPublisher) Subject(ev trip.Event) string {
	return fmt.Sprintf("%s.%s.%s", p.prefix, subjectToken(ev.TripID), subjectToken(string(ev.Type)))
}

func (p *NATSPublisher) Publish(_ context.Context, ev trip.Event) error {
	subject := p.Subject(ev)
	b, err := json.Marshal(NewEventMessage(ev))
	if err != nil {
		return err
	}
	if p.logSubjects {
		p.log.Debug("nats publish", "subject", subject)
	}
	start := time.Now()
	err = p.conn.Publish(subject, b)
	if p.metrics != nil {
		p.metrics.PublishObserve(time.Since(start))
		if err != nil {
			p.metrics.NATSPublishErrInc()
		} else {
			p.metrics.NATSPublishedInc()
		}
	}
	return err
}

func subjectToken(s string) string {
	s = strings.TrimSpace(s)
	// NATS token cannot contain spaces, '>', '*', or trailing '.'
	repl := strings.NewReplacer(" ", "_", ".", "_", ">", "_", "*", "_", "/", "_", "\t", "_")
	s = repl.Replace(s)
	if s == "" {
		s = "_"
	}
	return s
}
