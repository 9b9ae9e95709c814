package redis

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"sync"

	"github.com/redis/go-redis/v9"

	"ride-simulator/internal/trip"
)

const DefaultLocationKey = "ridesim:drivers:locations"

// MaxGeoLatitude is the polar limit of the Redis geo index.
const MaxGeoLatitude = 85.05112878

var ErrOutsideGeoRange = errors.New("position outside redis geo range")

// DriverLocation is a simulated driver currently approaching a rider.
type DriverLocation struct {
	TripID     string  `json:"trip_id"`
	Lat        float64 `json:"lat"`
	Lng        float64 `json:"lng"`
	DistanceKm float64 `json:"distance_km"`
}

type geoClient interface {
	GeoAdd(ctx context.Context, key string, geoLocation ...*redis.GeoLocation) *redis.IntCmd
	GeoRadius(ctx context.Context, key string, longitude, latitude float64, query *redis.GeoRadiusQuery) *redis.GeoLocationCmd
	ZRem(ctx context.Context, key string, members ...interface{}) *redis.IntCmd
	Del(ctx context.Context, keys ...string) *redis.IntCmd
}

// LocationStore mirrors en-route driver positions into a Redis geo set.
// It remembers which trips it indexed so Close can remove drivers whose
// trips stopped without a phase change reaching the store.
type LocationStore struct {
	client geoClient
	key    string
	log    *slog.Logger

	mu      sync.Mutex
	tracked map[string]struct{}
	skipped map[string]struct{}
}

func NewLocationStore(client geoClient, key string, logger *slog.Logger) *LocationStore {
	if key == "" {
		key = DefaultLocationKey
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &LocationStore{
		client:  client,
		key:     key,
		log:     logger,
		tracked: make(map[string]struct{}),
		skipped: make(map[string]struct{}),
	}
}

// Connect opens a client and verifies it with PING.
func Connect(ctx context.Context, addr, password string, db int) (*redis.Client, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to ping redis: %w", err)
	}
	return client, nil
}

// UpdateLocation stores a trip's driver position using GEOADD. Latitudes
// beyond MaxGeoLatitude cannot be indexed and return ErrOutsideGeoRange.
func (s *LocationStore) UpdateLocation(ctx context.Context, tripID string, lat, lng float64) error {
	if math.Abs(lat) > MaxGeoLatitude {
		return fmt.Errorf("%w: latitude %v", ErrOutsideGeoRange, lat)
	}
	if err := s.client.GeoAdd(ctx, s.key, &redis.GeoLocation{
		Name:      tripID,
		Longitude: lng,
		Latitude:  lat,
	}).Err(); err != nil {
		return err
	}
	s.mu.Lock()
	s.tracked[tripID] = struct{}{}
	s.mu.Unlock()
	return nil
}

// RemoveLocation removes a trip's driver from the geo index.
func (s *LocationStore) RemoveLocation(ctx context.Context, tripID string) error {
	s.mu.Lock()
	delete(s.tracked, tripID)
	delete(s.skipped, tripID)
	s.mu.Unlock()
	return s.client.ZRem(ctx, s.key, tripID).Err()
}

// Reset drops the whole geo set. Drivers left by a previous process
// belong to trips that no longer exist.
func (s *LocationStore) Reset(ctx context.Context) error {
	s.mu.Lock()
	s.tracked = make(map[string]struct{})
	s.mu.Unlock()
	return s.client.Del(ctx, s.key).Err()
}

// Close removes every driver this store indexed and has not yet removed.
func (s *LocationStore) Close(ctx context.Context) error {
	s.mu.Lock()
	members := make([]interface{}, 0, len(s.tracked))
	for id := range s.tracked {
		members = append(members, id)
	}
	s.tracked = make(map[string]struct{})
	s.mu.Unlock()

	if len(members) == 0 {
		return nil
	}
	return s.client.ZRem(ctx, s.key, members...).Err()
}

// NearbyDrivers returns en-route drivers within radiusKm, nearest first.
func (s *LocationStore) NearbyDrivers(ctx context.Context, lat, lng, radiusKm float64) ([]DriverLocation, error) {
	results, err := s.client.GeoRadius(ctx, s.key, lng, lat, &redis.GeoRadiusQuery{
		Radius:    radiusKm,
		Unit:      "km",
		WithCoord: true,
		WithDist:  true,
		Sort:      "ASC",
	}).Result()
	if err != nil {
		return nil, err
	}

	locations := make([]DriverLocation, 0, len(results))
	for _, r := range results {
		locations = append(locations, DriverLocation{
			TripID:     r.Name,
			Lat:        r.Latitude,
			Lng:        r.Longitude,
			DistanceKm: r.Dist,
		})
	}
	return locations, nil
}

// Publish keeps the geo set in step with the trip: positions are upserted
// while en route and removed once the driver leaves that phase.
func (s *LocationStore) Publish(ctx context.Context, ev trip.Event) error {
	switch ev.Type {
	case trip.EventPositionUpdated:
		if ev.Position == nil {
			return nil
		}
		err := s.UpdateLocation(ctx, ev.TripID, ev.Position.Driver.Latitude, ev.Position.Driver.Longitude)
		if errors.Is(err, ErrOutsideGeoRange) {
			s.skip(ev.TripID, err)
			return nil
		}
		return err
	case trip.EventPhaseChanged:
		if ev.Change != nil && ev.Change.From == trip.EnRoute {
			return s.RemoveLocation(ctx, ev.TripID)
		}
	}
	return nil
}

// skip warns once per trip about positions the index cannot hold.
func (s *LocationStore) skip(tripID string, err error) {
	s.mu.Lock()
	_, warned := s.skipped[tripID]
	s.skipped[tripID] = struct{}{}
	s.mu.Unlock()
	if !warned {
		s.log.Warn("driver position not mirrored to redis", "trip_id", tripID, "err", err)
	}
}
