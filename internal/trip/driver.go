package trip

import (
	"math"
	"sync"

	"ride-simulator/internal/geo"
)

type Vehicle struct {
	Make         string `json:"make"`
	Model        string `json:"model"`
	Year         int    `json:"year"`
	Color        string `json:"color"`
	LicensePlate string `json:"license_plate"`
}

type DriverProfile struct {
	ID          string  `json:"id"`
	Name        string  `json:"name"`
	Rating      float64 `json:"rating"`
	TotalTrips  int     `json:"total_trips"`
	PhoneNumber string  `json:"phone_number"`
	Vehicle     Vehicle `json:"vehicle"`
}

// Assignment is the driver chosen for a booking and where they start from.
type Assignment struct {
	Driver DriverProfile
	Start  geo.Point
}

// DriverLocator picks a driver for a new booking. It is consulted once,
// when the trip is created.
type DriverLocator interface {
	Assign(origin geo.Point) (Assignment, error)
}

// DefaultRoster is used by OffsetLocator when no roster is configured.
var DefaultRoster = []DriverProfile{
	{
		ID: "driver_456", Name: "Sarah Wilson", Rating: 4.9, TotalTrips: 1250, PhoneNumber: "+1987654321",
		Vehicle: Vehicle{Make: "Toyota", Model: "Camry", Year: 2020, Color: "Blue", LicensePlate: "ABC-123"},
	},
	{
		ID: "driver_457", Name: "Kwame Mensah", Rating: 4.8, TotalTrips: 860, PhoneNumber: "+233244123456",
		Vehicle: Vehicle{Make: "Honda", Model: "Accord", Year: 2019, Color: "Silver", LicensePlate: "GR-4471-21"},
	},
	{
		ID: "driver_458", Name: "Ama Owusu", Rating: 4.7, TotalTrips: 412, PhoneNumber: "+233201987654",
		Vehicle: Vehicle{Make: "Hyundai", Model: "Elantra", Year: 2021, Color: "White", LicensePlate: "GT-9023-22"},
	},
}

// OffsetLocator places a synthetic driver a fixed distance and bearing away
// from the rider and hands out roster entries round robin.
type OffsetLocator struct {
	DistanceMeters float64
	BearingRadians float64
	Roster         []DriverProfile

	mu   sync.Mutex
	next int
}

func NewOffsetLocator(distanceMeters, bearingDegrees float64) *OffsetLocator {
	return &OffsetLocator{
		DistanceMeters: distanceMeters,
		BearingRadians: bearingDegrees * math.Pi / 180,
	}
}

func (l *OffsetLocator) Assign(origin geo.Point) (Assignment, error) {
	roster := l.Roster
	if len(roster) == 0 {
		roster = DefaultRoster
	}
	l.mu.Lock()
	d := roster[l.next%len(roster)]
	l.next++
	l.mu.Unlock()

	start := geo.DestinationPoint(origin, l.BearingRadians, l.DistanceMeters)
	if err := start.Validate(); err != nil {
		return Assignment{}, err
	}
	return Assignment{Driver: d, Start: start}, nil
}
