package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ride-simulator/internal/db"
	"ride-simulator/internal/geo"
	"ride-simulator/internal/redis"
	"ride-simulator/internal/sim"
	"ride-simulator/internal/timerq"
	"ride-simulator/internal/trip"
)

var (
	origin      = geo.Point{Latitude: 5.6037, Longitude: -0.1870}
	destination = geo.Point{Latitude: 5.6052, Longitude: -0.1668}
	defaults    = sim.Config{StepMeters: 50, TickInterval: time.Second, ArrivalThresholdMeters: 100}
	epoch       = time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC)
)

func init() {
	gin.SetMode(gin.TestMode)
}

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type fixture struct {
	q      *timerq.Manual
	reg    *trip.Registry
	router *gin.Engine
}

func newFixture(t *testing.T, mutate ...func(*RouterDeps)) *fixture {
	t.Helper()
	q := timerq.NewManual(epoch)
	n := 0
	reg := trip.NewRegistry(trip.Options{
		Queue:   q,
		Timings: trip.DefaultTimings(),
		Locator: trip.NewOffsetLocator(1500, 90),
		Logger:  quietLogger(),
		NewID: func() string {
			n++
			return fmt.Sprintf("trip-%d", n)
		},
	})
	deps := RouterDeps{Trips: reg, Defaults: defaults, Logger: quietLogger()}
	for _, m := range mutate {
		m(&deps)
	}
	return &fixture{q: q, reg: reg, router: NewRouter(deps)}
}

func (f *fixture) do(t *testing.T, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var r io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		require.NoError(t, err)
		r = bytes.NewReader(b)
	}
	req := httptest.NewRequest(method, path, r)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	w := httptest.NewRecorder()
	f.router.ServeHTTP(w, req)
	return w
}

func (f *fixture) create(t *testing.T) trip.Snapshot {
	t.Helper()
	w := f.do(t, http.MethodPost, "/v1/trips", gin.H{"origin": origin, "destination": destination})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	var snap trip.Snapshot
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &snap))
	return snap
}

func decode[T any](t *testing.T, w *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &v), w.Body.String())
	return v
}

func TestHealth(t *testing.T) {
	f := newFixture(t)
	w := f.do(t, http.MethodGet, "/health", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"status":"ok"}`, w.Body.String())
}

func TestCreateTrip(t *testing.T) {
	f := newFixture(t)
	snap := f.create(t)

	assert.Equal(t, "trip-1", snap.ID)
	assert.Equal(t, trip.Searching, snap.Phase)
	assert.Equal(t, "Finding a driver...", snap.Status)
	assert.True(t, snap.CanCancel)
	assert.Nil(t, snap.Driver)
	assert.Equal(t, origin, snap.Origin)
}

func TestCreateTripValidation(t *testing.T) {
	tests := []struct {
		name string
		body any
	}{
		{"missing destination", gin.H{"origin": origin}},
		{"latitude out of range", gin.H{"origin": geo.Point{Latitude: 91}, "destination": destination}},
		{"longitude out of range", gin.H{"origin": origin, "destination": geo.Point{Longitude: -181}}},
		{"zero step", gin.H{"origin": origin, "destination": destination, "simulation": gin.H{"step_meters": 0}}},
		{"negative threshold", gin.H{"origin": origin, "destination": destination, "simulation": gin.H{"arrival_threshold_meters": -1}}},
		{"malformed", "not an object"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t)
			w := f.do(t, http.MethodPost, "/v1/trips", tt.body)
			assert.Equal(t, http.StatusBadRequest, w.Code, w.Body.String())
			assert.NotEmpty(t, decode[ErrorResponse](t, w).Error)
			assert.Equal(t, 0, f.reg.Len())
		})
	}
}

func TestSimulationOverridesMergeOverDefaults(t *testing.T) {
	step := 500.0
	cfg := (&SimulationRequest{StepMeters: &step}).apply(defaults)
	assert.Equal(t, 500.0, cfg.StepMeters)
	assert.Equal(t, defaults.TickInterval, cfg.TickInterval)
	assert.Equal(t, defaults.ArrivalThresholdMeters, cfg.ArrivalThresholdMeters)

	var none *SimulationRequest
	assert.Equal(t, defaults, none.apply(defaults))
}

func TestTripLifecycleOverHTTP(t *testing.T) {
	f := newFixture(t)
	id := f.create(t).ID

	f.q.Advance(5 * time.Second)
	snap := decode[trip.Snapshot](t, f.do(t, http.MethodGet, "/v1/trips/"+id, nil))
	assert.Equal(t, trip.EnRoute, snap.Phase)
	require.NotNil(t, snap.Driver)
	require.NotNil(t, snap.Simulation)
	assert.Equal(t, "Sarah Wilson", snap.Driver.Profile.Name)

	// start before arrival is ignored
	w := f.do(t, http.MethodPost, "/v1/trips/"+id+"/start", nil)
	require.Equal(t, http.StatusOK, w.Code)
	res := decode[ActionResponse](t, w)
	assert.False(t, res.Changed)
	assert.Equal(t, trip.EnRoute, res.Trip.Phase)

	f.q.Advance(28 * time.Second)
	res = decode[ActionResponse](t, f.do(t, http.MethodPost, "/v1/trips/"+id+"/start", nil))
	assert.True(t, res.Changed)
	assert.Equal(t, trip.InProgress, res.Trip.Phase)
	assert.False(t, res.Trip.CanCancel)

	res = decode[ActionResponse](t, f.do(t, http.MethodPost, "/v1/trips/"+id+"/cancel", nil))
	assert.False(t, res.Changed)

	res = decode[ActionResponse](t, f.do(t, http.MethodPost, "/v1/trips/"+id+"/complete", nil))
	assert.True(t, res.Changed)
	assert.Equal(t, trip.Completed, res.Trip.Phase)
	assert.Equal(t, "Trip completed", res.Trip.Status)
}

func TestCancelOverHTTP(t *testing.T) {
	f := newFixture(t)
	id := f.create(t).ID

	res := decode[ActionResponse](t, f.do(t, http.MethodPost, "/v1/trips/"+id+"/cancel", nil))
	assert.True(t, res.Changed)
	assert.Equal(t, trip.Cancelled, res.Trip.Phase)

	f.q.Advance(time.Minute)
	snap := decode[trip.Snapshot](t, f.do(t, http.MethodGet, "/v1/trips/"+id, nil))
	assert.Equal(t, trip.Cancelled, snap.Phase)
}

func TestUnknownTrip(t *testing.T) {
	f := newFixture(t)
	for _, tc := range []struct{ method, path string }{
		{http.MethodGet, "/v1/trips/nope"},
		{http.MethodPost, "/v1/trips/nope/cancel"},
		{http.MethodDelete, "/v1/trips/nope"},
		{http.MethodGet, "/v1/trips/nope/events"},
	} {
		w := f.do(t, tc.method, tc.path, nil)
		assert.Equal(t, http.StatusNotFound, w.Code, tc.method+" "+tc.path)
	}
}

func TestListAndRelease(t *testing.T) {
	f := newFixture(t)
	first := f.create(t).ID
	f.q.Advance(time.Second)
	second := f.create(t).ID

	list := decode[[]trip.Snapshot](t, f.do(t, http.MethodGet, "/v1/trips", nil))
	require.Len(t, list, 2)
	assert.Equal(t, first, list[0].ID)
	assert.Equal(t, second, list[1].ID)

	assert.Equal(t, http.StatusConflict, f.do(t, http.MethodDelete, "/v1/trips/"+first, nil).Code)

	f.do(t, http.MethodPost, "/v1/trips/"+first+"/cancel", nil)
	assert.Equal(t, http.StatusNoContent, f.do(t, http.MethodDelete, "/v1/trips/"+first, nil).Code)
	assert.Equal(t, http.StatusNotFound, f.do(t, http.MethodGet, "/v1/trips/"+first, nil).Code)
	assert.Equal(t, 1, f.reg.Len())
}

func TestClosedRegistry(t *testing.T) {
	f := newFixture(t)
	f.reg.Close()
	w := f.do(t, http.MethodPost, "/v1/trips", gin.H{"origin": origin, "destination": destination})
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
}

type fakeDrivers struct {
	lat, lng, radius float64
	out              []redis.DriverLocation
	err              error
}

func (d *fakeDrivers) NearbyDrivers(_ context.Context, lat, lng, radiusKm float64) ([]redis.DriverLocation, error) {
	d.lat, d.lng, d.radius = lat, lng, radiusKm
	return d.out, d.err
}

func TestNearbyDrivers(t *testing.T) {
	drivers := &fakeDrivers{out: []redis.DriverLocation{{TripID: "trip-1", Lat: 5.6, Lng: -0.18, DistanceKm: 1.2}}}
	f := newFixture(t, func(d *RouterDeps) { d.Drivers = drivers })

	w := f.do(t, http.MethodGet, "/v1/drivers/nearby?lat=5.6037&lng=-0.1870&radius_km=3", nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	got := decode[[]redis.DriverLocation](t, w)
	assert.Equal(t, drivers.out, got)
	assert.Equal(t, 3.0, drivers.radius)

	f.do(t, http.MethodGet, "/v1/drivers/nearby?lat=5.6037&lng=-0.1870", nil)
	assert.Equal(t, 5.0, drivers.radius)

	assert.Equal(t, http.StatusBadRequest, f.do(t, http.MethodGet, "/v1/drivers/nearby?lat=abc&lng=1", nil).Code)
	assert.Equal(t, http.StatusBadRequest, f.do(t, http.MethodGet, "/v1/drivers/nearby?lat=95&lng=1", nil).Code)
	assert.Equal(t, http.StatusBadRequest, f.do(t, http.MethodGet, "/v1/drivers/nearby?lat=1&lng=1&radius_km=-2", nil).Code)

	drivers.err = errors.New("connection refused")
	assert.Equal(t, http.StatusInternalServerError, f.do(t, http.MethodGet, "/v1/drivers/nearby?lat=1&lng=1", nil).Code)
}

func TestOptionalBackendsUnavailable(t *testing.T) {
	f := newFixture(t)
	assert.Equal(t, http.StatusServiceUnavailable, f.do(t, http.MethodGet, "/v1/drivers/nearby?lat=1&lng=1", nil).Code)
	assert.Equal(t, http.StatusServiceUnavailable, f.do(t, http.MethodGet, "/v1/trips/trip-1/history", nil).Code)
}

type fakeHistory map[string][]db.Record

func (h fakeHistory) History(_ context.Context, id string) ([]db.Record, error) { return h[id], nil }

func TestHistory(t *testing.T) {
	to := trip.Cancelled.String()
	history := fakeHistory{"trip-9": {{TripID: "trip-9", Seq: 1, Type: string(trip.EventPhaseChanged), To: &to}}}
	f := newFixture(t, func(d *RouterDeps) { d.History = history })

	w := f.do(t, http.MethodGet, "/v1/trips/trip-9/history", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Len(t, decode[[]db.Record](t, w), 1)

	assert.Equal(t, http.StatusNotFound, f.do(t, http.MethodGet, "/v1/trips/other/history", nil).Code)
}

type recordedRequest struct {
	route, method string
	code          int
}

type fakeHTTPMetrics struct{ seen []recordedRequest }

func (m *fakeHTTPMetrics) ObserveHTTP(route, method string, code int, _ time.Duration) {
	m.seen = append(m.seen, recordedRequest{route, method, code})
}

func TestRequestMetrics(t *testing.T) {
	m := &fakeHTTPMetrics{}
	f := newFixture(t, func(d *RouterDeps) { d.Metrics = m })
	f.do(t, http.MethodGet, "/v1/trips/x", nil)
	f.do(t, http.MethodGet, "/missing", nil)

	require.Len(t, m.seen, 2)
	assert.Equal(t, recordedRequest{"/v1/trips/:id", http.MethodGet, http.StatusNotFound}, m.seen[0])
	assert.Equal(t, "unmatched", m.seen[1].route)
}

func TestMapErrorToHTTPStatus(t *testing.T) {
	tests := []struct {
		err  error
		want int
	}{
		{trip.ErrTripNotFound, http.StatusNotFound},
		{fmt.Errorf("wrap: %w", trip.ErrInvalidCoordinates), http.StatusBadRequest},
		{trip.ErrInvalidConfiguration, http.StatusBadRequest},
		{trip.ErrUnknownAction, http.StatusBadRequest},
		{trip.ErrTripActive, http.StatusConflict},
		{trip.ErrClosed, http.StatusServiceUnavailable},
		{errors.New("boom"), http.StatusInternalServerError},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, mapErrorToHTTPStatus(tt.err), tt.err.Error())
	}
}

func TestEventStream(t *testing.T) {
	loop := timerq.NewLoop(quietLogger())
	loop.Start()
	defer loop.Stop()

	reg := trip.NewRegistry(trip.Options{
		Queue:   loop,
		Timings: trip.Timings{SearchDelay: time.Hour, AssignDelay: time.Hour},
		Logger:  quietLogger(),
	})
	defer reg.Close()

	srv := httptest.NewServer(NewRouter(RouterDeps{Trips: reg, Defaults: defaults, Logger: quietLogger()}))
	defer srv.Close()

	id, err := reg.CreateTrip(origin, destination, defaults)
	require.NoError(t, err)

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/v1/trips/" + id + "/events"
	conn, resp, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	defer resp.Body.Close()
	defer conn.Close()
	conn.SetReadDeadline(time.Now().Add(5 * time.Second))

	var first StreamMessage
	require.NoError(t, conn.ReadJSON(&first))
	assert.Equal(t, "snapshot", first.Kind)
	require.NotNil(t, first.Trip)
	assert.Equal(t, trip.Searching, first.Trip.Phase)

	changed, err := reg.Dispatch(id, trip.ActionCancel)
	require.NoError(t, err)
	require.True(t, changed)

	var next StreamMessage
	require.NoError(t, conn.ReadJSON(&next))
	assert.Equal(t, "event", next.Kind)
	require.NotNil(t, next.Event)
	assert.Equal(t, trip.EventPhaseChanged, next.Event.Type)
	assert.Equal(t, trip.Cancelled, next.Event.Change.To)

	_, _, err = conn.ReadMessage()
	assert.True(t, websocket.IsCloseError(err, websocket.CloseNormalClosure), "got %v", err)
}

func TestEventStreamOfFinishedTrip(t *testing.T) {
	loop := timerq.NewLoop(quietLogger())
	loop.Start()
	defer loop.Stop()

	reg := trip.NewRegistry(trip.Options{Queue: loop, Logger: quietLogger()})
	defer reg.Close()
	srv := httptest.NewServer(NewRouter(RouterDeps{Trips: reg, Defaults: defaults, Logger: quietLogger()}))
	defer srv.Close()

	id, err := reg.CreateTrip(origin, destination, defaults)
	require.NoError(t, err)
	_, err = reg.Dispatch(id, trip.ActionCancel)
	require.NoError(t, err)

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/v1/trips/" + id + "/events"
	conn, resp, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	defer resp.Body.Close()
	defer conn.Close()
	conn.SetReadDeadline(time.Now().Add(5 * time.Second))

	var first StreamMessage
	require.NoError(t, conn.ReadJSON(&first))
	assert.Equal(t, trip.Cancelled, first.Trip.Phase)

	_, _, err = conn.ReadMessage()
	assert.True(t, websocket.IsCloseError(err, websocket.CloseNormalClosure), "got %v", err)
}
