package geo

import (
	"errors"
	"fmt"
	"math"
)

// EarthRadiusMeters is the mean Earth radius used by every formula here.
const EarthRadiusMeters = 6371000.0

// ErrInvalidCoordinates is returned for out-of-range or non-finite points.
var ErrInvalidCoordinates = errors.New("invalid coordinates")

// Point is a WGS84 position in degrees.
type Point struct {
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
}

func (p Point) String() string {
	return fmt.Sprintf("(%.6f, %.6f)", p.Latitude, p.Longitude)
}

// Validate reports ErrInvalidCoordinates when latitude is outside [-90, 90]
// or longitude is outside [-180, 180].
func (p Point) Validate() error {
	if !finite(p.Latitude) || p.Latitude < -90 || p.Latitude > 90 {
		return fmt.Errorf("%w: latitude %v out of range", ErrInvalidCoordinates, p.Latitude)
	}
	if !finite(p.Longitude) || p.Longitude < -180 || p.Longitude > 180 {
		return fmt.Errorf("%w: longitude %v out of range", ErrInvalidCoordinates, p.Longitude)
	}
	return nil
}

// DistanceMeters returns the haversine great-circle distance between a and b.
func DistanceMeters(a, b Point) float64 {
	lat1, lat2 := toRad(a.Latitude), toRad(b.Latitude)
	dLat := lat2 - lat1
	dLon := toRad(b.Longitude - a.Longitude)
	h := math.Sin(dLat/2)*math.Sin(dLat/2) + math.Cos(lat1)*math.Cos(lat2)*math.Sin(dLon/2)*math.Sin(dLon/2)
	if h > 1 {
		h = 1
	}
	c := 2 * math.Atan2(math.Sqrt(h), math.Sqrt(1-h))
	return EarthRadiusMeters * c
}

// InitialBearing returns the forward azimuth from a to b in radians, within [0, 2π).
// The result is meaningless for coincident points.
func InitialBearing(a, b Point) float64 {
	lat1, lat2 := toRad(a.Latitude), toRad(b.Latitude)
	dLon := toRad(b.Longitude - a.Longitude)
	y := math.Sin(dLon) * math.Cos(lat2)
	x := math.Cos(lat1)*math.Sin(lat2) - math.Sin(lat1)*math.Cos(lat2)*math.Cos(dLon)
	return normalizeBearing(math.Atan2(y, x))
}

// DestinationPoint projects origin by distance meters along bearing (radians).
func DestinationPoint(origin Point, bearing, distance float64) Point {
	if distance == 0 {
		return origin
	}
	delta := distance / EarthRadiusMeters
	lat1 := toRad(origin.Latitude)
	lon1 := toRad(origin.Longitude)

	sinLat2 := math.Sin(lat1)*math.Cos(delta) + math.Cos(lat1)*math.Sin(delta)*math.Cos(bearing)
	sinLat2 = math.Max(-1, math.Min(1, sinLat2))
	lat2 := math.Asin(sinLat2)
	lon2 := lon1 + math.Atan2(
		math.Sin(bearing)*math.Sin(delta)*math.Cos(lat1),
		math.Cos(delta)-math.Sin(lat1)*sinLat2,
	)
	return Point{Latitude: toDeg(lat2), Longitude: normalizeLongitude(toDeg(lon2))}
}

// BearingDegrees is InitialBearing expressed in compass degrees.
func BearingDegrees(a, b Point) float64 {
	return toDeg(InitialBearing(a, b))
}

func toRad(d float64) float64 { return d * math.Pi / 180 }
func toDeg(r float64) float64 { return r * 180 / math.Pi }

func finite(f float64) bool { return !math.IsNaN(f) && !math.IsInf(f, 0) }

func normalizeBearing(b float64) float64 {
	b = math.Mod(b, 2*math.Pi)
	if b < 0 {
		b += 2 * math.Pi
	}
	if b >= 2*math.Pi {
		b = 0
	}
	return b
}

func normalizeLongitude(lon float64) float64 {
	if lon >= -180 && lon <= 180 {
		return lon
	}
	lon = math.Mod(lon+540, 360) - 180
	return lon
}
