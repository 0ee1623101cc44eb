package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/example/ride-pool/internal/dispatch"
	"github.com/example/ride-pool/internal/geo"
	"github.com/example/ride-pool/internal/models"
	"github.com/example/ride-pool/internal/polyline"
	"github.com/example/ride-pool/internal/pool"
	"github.com/example/ride-pool/internal/routing"
	"github.com/example/ride-pool/internal/storage"
)

func straight(o, d models.Coord) string {
	pts := make([]models.Coord, 0, 101)
	for i := 0; i <= 100; i++ {
		t := float64(i) / 100
		pts = append(pts, models.Coord{Lat: o.Lat + (d.Lat-o.Lat)*t, Lng: o.Lng + (d.Lng-o.Lng)*t})
	}
	return polyline.Encode(pts)
}

type recordingPublisher struct {
	got []models.VehicleLocation
}

func (p *recordingPublisher) PublishLocation(_ context.Context, loc models.VehicleLocation) error {
	p.got = append(p.got, loc)
	return nil
}

func newTestServer(t *testing.T, pub LocationPublisher) *Server {
	t.Helper()
	store := storage.NewMemoryStore()
	routes := routing.ProviderFunc(func(_ context.Context, o, d models.Coord) (routing.Route, error) {
		if o.Lat == 50 {
			return routing.Route{}, routing.ErrNoRoute
		}
		return routing.Route{Encoded: straight(o, d), DurationSeconds: 300}, nil
	})
	index := geo.NewIndex()
	svc := pool.New(pool.Deps{Rides: store, Requests: store, Routes: routes, Geo: index}, pool.DefaultConfig())
	return NewServer(Deps{Pool: svc, Geo: index, Publisher: pub, WS: dispatch.NewWSRegistry()})
}

func do(t *testing.T, s *Server, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	rec := httptest.NewRecorder()
	s.ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&v))
	return v
}

func createRide(t *testing.T, s *Server, seats int) models.PooledRide {
	t.Helper()
	rec := do(t, s, "POST", "/api/v1/rides", pool.CreateRideInput{
		DriverID:    "driver-1",
		Origin:      models.Coord{Lat: 0, Lng: 0},
		Destination: models.Coord{Lat: 0, Lng: 0.1},
		Seats:       seats,
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	return decode[models.PooledRide](t, rec)
}

func TestHealthz(t *testing.T) {
	s := newTestServer(t, nil)
	rec := do(t, s, "GET", "/healthz", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "ok", rec.Body.String())
	assert.NotEmpty(t, rec.Header().Get("X-Request-ID"))
}

func TestRideLifecycle(t *testing.T) {
	s := newTestServer(t, nil)
	ride := createRide(t, s, 2)
	assert.InDelta(t, 111.19, ride.TotalFare, 0.01)

	join := joinBody{PassengerID: "p1", Start: models.Coord{Lat: 0, Lng: 0.02}, End: models.Coord{Lat: 0, Lng: 0.08}}
	rec := do(t, s, "POST", "/api/v1/rides/"+ride.ID+"/join-quote", join)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	q := decode[pool.JoinQuote](t, rec)
	assert.InDelta(t, 6.67, q.PassengerDistanceKm, 0.01)

	rec = do(t, s, "POST", "/api/v1/rides/"+ride.ID+"/passengers", join)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	rec = do(t, s, "POST", "/api/v1/rides/"+ride.ID+"/passengers", join)
	assert.Equal(t, http.StatusConflict, rec.Code)

	rec = do(t, s, "GET", "/api/v1/rides/"+ride.ID, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	got := decode[models.PooledRide](t, rec)
	assert.Equal(t, []models.PassengerID{"p1"}, got.Passengers)
	assert.Equal(t, 1, got.AvailableSeats)

	rec = do(t, s, "POST", "/api/v1/rides/"+ride.ID+"/location", locationBody{Loc: models.Coord{Lat: 0, Lng: 0.0995}})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	loc := decode[pool.LocationResult](t, rec)
	assert.True(t, loc.Arrived)

	rec = do(t, s, "DELETE", "/api/v1/rides/"+ride.ID+"/passengers/p1", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	rec = do(t, s, "DELETE", "/api/v1/rides/"+ride.ID+"/passengers/p1", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = do(t, s, "POST", "/api/v1/rides/"+ride.ID+"/complete", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	rec = do(t, s, "GET", "/api/v1/rides/"+ride.ID, nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestWrongDirectionIsUnprocessable(t *testing.T) {
	s := newTestServer(t, nil)
	ride := createRide(t, s, 2)
	rec := do(t, s, "POST", "/api/v1/rides/"+ride.ID+"/join-quote", joinBody{
		PassengerID: "p1",
		Start:       models.Coord{Lat: 0, Lng: 0.08},
		End:         models.Coord{Lat: 0, Lng: 0.02},
	})
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
}

func TestRideRequestAcceptFlow(t *testing.T) {
	s := newTestServer(t, nil)
	ride := createRide(t, s, 2)

	rec := do(t, s, "POST", "/api/v1/ride-requests", pool.CreateRequestInput{
		PassengerID: "p1",
		Source:      models.Coord{Lat: 0, Lng: 0.02},
		Destination: models.Coord{Lat: 0, Lng: 0.08},
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	req := decode[models.RideRequest](t, rec)
	assert.Equal(t, models.RequestPending, req.Status)

	rec = do(t, s, "POST", "/api/v1/ride-requests/"+req.ID+"/accept", acceptBody{RideID: ride.ID, DriverID: "driver-1"})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	res := decode[pool.AcceptResult](t, rec)
	assert.Equal(t, req.EncodedRoute, res.Ride.CurrentRoute)
	assert.InDelta(t, 66.72, res.Ride.TotalFare, 0.01)
	assert.InDelta(t, res.Ride.TotalFare, res.Fare, 1e-6)
	assert.Equal(t, 300.0, res.ETASeconds)

	rec = do(t, s, "POST", "/api/v1/ride-requests/"+req.ID+"/reject", nil)
	assert.Equal(t, http.StatusConflict, rec.Code)

	rec = do(t, s, "POST", "/api/v1/ride-requests", pool.CreateRequestInput{
		PassengerID: "p2",
		Source:      models.Coord{Lat: 50, Lng: 0},
		Destination: models.Coord{Lat: 0, Lng: 0.08},
	})
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
}

func TestMissingPassengerIDIsBadRequest(t *testing.T) {
	s := newTestServer(t, nil)
	ride := createRide(t, s, 2)

	rec := do(t, s, "POST", "/api/v1/rides/"+ride.ID+"/passengers", joinBody{
		Start: models.Coord{Lat: 0, Lng: 0.02},
		End:   models.Coord{Lat: 0, Lng: 0.08},
	})
	assert.Equal(t, http.StatusBadRequest, rec.Code, rec.Body.String())
	assert.Contains(t, rec.Body.String(), "passenger id is required")

	rec = do(t, s, "POST", "/api/v1/ride-requests", pool.CreateRequestInput{
		Source:      models.Coord{Lat: 0, Lng: 0.02},
		Destination: models.Coord{Lat: 0, Lng: 0.08},
	})
	assert.Equal(t, http.StatusBadRequest, rec.Code, rec.Body.String())
	assert.Contains(t, rec.Body.String(), "passenger id is required")
}

func TestMatchEndpoint(t *testing.T) {
	s := newTestServer(t, nil)
	offers := []models.RideOffer{{ID: "o1", EncodedRoute: straight(models.Coord{Lat: 0, Lng: 0}, models.Coord{Lat: 0, Lng: 0.1}), FreeSeats: 1}}

	rec := do(t, s, "POST", "/api/v1/match", matchBody{
		Request: models.RideRequest{ID: "r1", Source: models.Coord{Lat: 0, Lng: 0.02}, Destination: models.Coord{Lat: 0, Lng: 0.08}},
		Offers:  offers,
	})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	out := decode[struct {
		Matched bool               `json:"matched"`
		Match   models.MatchResult `json:"match"`
	}](t, rec)
	assert.True(t, out.Matched)
	assert.Equal(t, "o1", out.Match.Offer.ID)

	rec = do(t, s, "POST", "/api/v1/match", matchBody{
		Request: models.RideRequest{ID: "r2", Source: models.Coord{Lat: 1, Lng: 1}, Destination: models.Coord{Lat: 0, Lng: 0.08}},
		Offers:  offers,
	})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"matched":false,"match":null}`, rec.Body.String())

	rec = do(t, s, "POST", "/api/v1/match", matchBody{
		Request: models.RideRequest{ID: "r3", Source: models.Coord{Lat: 91, Lng: 0}, Destination: models.Coord{Lat: 0, Lng: 0.08}},
		Offers:  offers,
	})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestAllocateFaresEndpoint(t *testing.T) {
	s := newTestServer(t, nil)
	rec := do(t, s, "POST", "/api/v1/fares/allocate", allocateBody{TotalFare: 100, Distances: models.Distances{"a": 5, "b": 5, "c": 5}})
	require.Equal(t, http.StatusOK, rec.Code)
	out := decode[struct {
		Fares      models.Fares                 `json:"fares"`
		MinorUnits map[models.PassengerID]int64 `json:"minor_units"`
	}](t, rec)
	assert.InDelta(t, 33.333, out.Fares["a"], 0.001)
	assert.Equal(t, int64(3334), out.MinorUnits["a"])
	assert.Equal(t, int64(3333), out.MinorUnits["c"])

	rec = do(t, s, "POST", "/api/v1/fares/allocate", allocateBody{TotalFare: 100, Distances: models.Distances{}})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestRideLocationPublishesWhenStreamConfigured(t *testing.T) {
	pub := &recordingPublisher{}
	s := newTestServer(t, pub)
	rec := do(t, s, "POST", "/api/v1/rides/r-42/location", locationBody{DriverID: "d1", Loc: models.Coord{Lat: 1, Lng: 2}})
	assert.Equal(t, http.StatusAccepted, rec.Code)
	require.Len(t, pub.got, 1)
	assert.Equal(t, "r-42", pub.got[0].RideID)
}

func TestDriverLocationFeedsIndex(t *testing.T) {
	s := newTestServer(t, nil)
	rec := do(t, s, "POST", "/internal/driver/locations", models.Driver{ID: "d1", Loc: models.Coord{Lat: 0, Lng: 0}, Online: true})
	assert.Equal(t, http.StatusNoContent, rec.Code)

	near, err := s.geo.Nearby(context.Background(), models.Coord{Lat: 0, Lng: 0.001}, 1, 5)
	require.NoError(t, err)
	require.Len(t, near, 1)

	rec = do(t, s, "POST", "/internal/driver/locations", models.Driver{ID: "d2", Loc: models.Coord{Lat: 95, Lng: 0}})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestUnknownRideIsNotFound(t *testing.T) {
	s := newTestServer(t, nil)
	rec := do(t, s, "GET", "/api/v1/rides/missing", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}
