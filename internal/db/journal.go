package db

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"ride-simulator/internal/trip"
)

const schema = `
CREATE TABLE IF NOT EXISTS trip_events (
  trip_id      TEXT             NOT NULL,
  seq          BIGINT           NOT NULL,
  event_type   TEXT             NOT NULL,
  from_phase   TEXT,
  to_phase     TEXT,
  driver_lat   DOUBLE PRECISION,
  driver_lon   DOUBLE PRECISION,
  remaining_m  DOUBLE PRECISION,
  occurred_at  TIMESTAMPTZ      NOT NULL,
  PRIMARY KEY (trip_id, seq)
)`

// Record is one journaled trip event.
type Record struct {
	TripID     string    `json:"trip_id"`
	Seq        int64     `json:"seq"`
	Type       string    `json:"type"`
	From       *string   `json:"from,omitempty"`
	To         *string   `json:"to,omitempty"`
	DriverLat  *float64  `json:"driver_lat,omitempty"`
	DriverLon  *float64  `json:"driver_lon,omitempty"`
	Remaining  *float64  `json:"distance_remaining_meters,omitempty"`
	OccurredAt time.Time `json:"occurred_at"`
}

// Journal appends trip milestones to Postgres. It is an export for
// analytics; trips are never rebuilt from it.
type Journal struct {
	db *sql.DB
}

func NewJournal(db *sql.DB) *Journal { return &Journal{db: db} }

func (j *Journal) EnsureSchema(ctx context.Context) error {
	if _, err := j.db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("create trip_events: %w", err)
	}
	return nil
}

// Publish records creation, phase changes and arrival. Per-tick positions
// are skipped.
func (j *Journal) Publish(ctx context.Context, ev trip.Event) error {
	rec, ok := toRecord(ev)
	if !ok {
		return nil
	}
	q := `INSERT INTO trip_events
  (trip_id, seq, event_type, from_phase, to_phase, driver_lat, driver_lon, remaining_m, occurred_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
ON CONFLICT (trip_id, seq) DO NOTHING`
	_, err := j.db.ExecContext(ctx, q,
		rec.TripID, rec.Seq, rec.Type, rec.From, rec.To,
		rec.DriverLat, rec.DriverLon, rec.Remaining, rec.OccurredAt,
	)
	if err != nil {
		return fmt.Errorf("insert trip event %s/%d: %w", rec.TripID, rec.Seq, err)
	}
	return nil
}

// History returns the journaled events of a trip in sequence order.
func (j *Journal) History(ctx context.Context, tripID string) ([]Record, error) {
	q := `SELECT trip_id, seq, event_type, from_phase, to_phase, driver_lat, driver_lon, remaining_m, occurred_at
FROM trip_events WHERE trip_id = $1 ORDER BY seq`
	rows, err := j.db.QueryContext(ctx, q, tripID)
	if err != nil {
		return nil, fmt.Errorf("query trip_events: %w", err)
	}
	defer rows.Close()

	var out []Record
	for rows.Next() {
		var r Record
		if err := rows.Scan(&r.TripID, &r.Seq, &r.Type, &r.From, &r.To, &r.DriverLat, &r.DriverLon, &r.Remaining, &r.OccurredAt); err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

func toRecord(ev trip.Event) (Record, bool) {
	if ev.Type == trip.EventPositionUpdated {
		return Record{}, false
	}
	r := Record{
		TripID:     ev.TripID,
		Seq:        int64(ev.Seq),
		Type:       string(ev.Type),
		OccurredAt: ev.At.UTC(),
	}
	if c := ev.Change; c != nil {
		from, to := c.From.String(), c.To.String()
		r.From, r.To = &from, &to
	}
	if p := ev.Position; p != nil {
		lat, lon, remaining := p.Driver.Latitude, p.Driver.Longitude, p.DistanceRemainingMeters
		r.DriverLat, r.DriverLon, r.Remaining = &lat, &lon, &remaining
	}
	return r, true
}
