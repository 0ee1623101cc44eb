package routing

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"googlemaps.github.io/maps"

	"github.com/example/ride-pool/internal/models"
)

var (
	from = models.Coord{Lat: 38.5, Lng: -120.2}
	to   = models.Coord{Lat: 40.7, Lng: -120.95}
)

func TestOSRMFetchRoute(t *testing.T) {
	var gotPath string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"code":"Ok","routes":[{"geometry":"_p~iF~ps|U_ulLnnqC","duration":420.5,"distance":3100}]}`))
	}))
	defer srv.Close()

	r, err := NewOSRMClient(srv.URL).FetchRoute(context.Background(), from, to)
	require.NoError(t, err)
	assert.Equal(t, "_p~iF~ps|U_ulLnnqC", r.Encoded)
	assert.Equal(t, 420.5, r.DurationSeconds)
	assert.Equal(t, 3100.0, r.DistanceMeters)
	assert.Equal(t, "/route/v1/driving/-120.200000,38.500000;-120.950000,40.700000", gotPath)
}

func TestOSRMNoRoute(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"code":"NoRoute","routes":[]}`))
	}))
	defer srv.Close()

	_, err := NewOSRMClient(srv.URL).FetchRoute(context.Background(), from, to)
	assert.ErrorIs(t, err, ErrNoRoute)
	assert.False(t, IsRetryable(err))
}

func TestOSRMServerErrorIsRetryable(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	_, err := NewOSRMClient(srv.URL).FetchRoute(context.Background(), from, to)
	require.Error(t, err)
	assert.True(t, IsRetryable(err))
	assert.False(t, errors.Is(err, ErrNoRoute))
}

func TestOSRMUnreachable(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	url := srv.URL
	srv.Close()

	_, err := NewOSRMClient(url).FetchRoute(context.Background(), from, to)
	var ue *UnavailableError
	require.ErrorAs(t, err, &ue)
	assert.Equal(t, "osrm", ue.Provider)
	assert.True(t, ue.Retryable())
}

func TestGraphHopperFetchRoute(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/1/route", r.URL.Path)
		assert.Equal(t, []string{"38.500000,-120.200000", "40.700000,-120.950000"}, r.URL.Query()["point"])
		assert.Equal(t, "secret", r.URL.Query().Get("key"))
		_, _ = w.Write([]byte(`{"paths":[{"points":"_p~iF~ps|U","distance":1200,"time":90000}]}`))
	}))
	defer srv.Close()

	r, err := NewGraphHopperClient(srv.URL, "secret").FetchRoute(context.Background(), from, to)
	require.NoError(t, err)
	assert.Equal(t, "_p~iF~ps|U", r.Encoded)
	assert.Equal(t, 90.0, r.DurationSeconds)
}

func TestGraphHopperNoPath(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte(`{"message":"Connection between locations not found"}`))
	}))
	defer srv.Close()

	_, err := NewGraphHopperClient(srv.URL, "").FetchRoute(context.Background(), from, to)
	assert.ErrorIs(t, err, ErrNoRoute)
}

func TestGoogleFetchRoute(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		if strings.HasPrefix(r.URL.Query().Get("origin"), "0.") {
			_, _ = w.Write([]byte(`{"status":"ZERO_RESULTS","routes":[]}`))
			return
		}
		_, _ = w.Write([]byte(`{"status":"OK","routes":[{"overview_polyline":{"points":"_p~iF~ps|U"},"legs":[{"distance":{"value":1000,"text":"1 km"},"duration":{"value":120,"text":"2 mins"}}]}]}`))
	}))
	defer srv.Close()

	g, err := NewGoogleProvider("test-key", maps.WithBaseURL(srv.URL))
	require.NoError(t, err)

	r, err := g.FetchRoute(context.Background(), from, to)
	require.NoError(t, err)
	assert.Equal(t, "_p~iF~ps|U", r.Encoded)
	assert.Equal(t, 1000.0, r.DistanceMeters)

	_, err = g.FetchRoute(context.Background(), models.Coord{Lat: 0.5, Lng: 0.5}, to)
	assert.ErrorIs(t, err, ErrNoRoute)
}

func TestCacheExpiry(t *testing.T) {
	c := NewCache(time.Minute)
	now := time.Unix(1_700_000_000, 0)
	c.now = func() time.Time { return now }

	c.Set(from, to, Route{Encoded: "abc"})
	r, ok := c.Get(from, to)
	require.True(t, ok)
	assert.Equal(t, "abc", r.Encoded)

	_, ok = c.Get(to, from)
	assert.False(t, ok, "cache is directional")

	now = now.Add(2 * time.Minute)
	_, ok = c.Get(from, to)
	assert.False(t, ok)
}

func TestCachedProviderOnlyCachesSuccess(t *testing.T) {
	calls := 0
	fail := true
	inner := ProviderFunc(func(ctx context.Context, o, d models.Coord) (Route, error) {
		calls++
		if fail {
			return Route{}, &UnavailableError{Provider: "fake", Err: errors.New("down")}
		}
		return Route{Encoded: "xyz"}, nil
	})
	p := &CachedProvider{Provider: inner, Cache: NewCache(time.Minute)}

	_, err := p.FetchRoute(context.Background(), from, to)
	require.Error(t, err)

	fail = false
	for i := 0; i < 3; i++ {
		r, err := p.FetchRoute(context.Background(), from, to)
		require.NoError(t, err)
		assert.Equal(t, "xyz", r.Encoded)
	}
	assert.Equal(t, 2, calls)
}

func TestETASecondsFallsBack(t *testing.T) {
	down := ProviderFunc(func(ctx context.Context, o, d models.Coord) (Route, error) {
		return Route{}, ErrNoRoute
	})
	a := models.Coord{Lat: 0, Lng: 0}
	b := models.Coord{Lat: 0, Lng: 0.01}
	got := ETASeconds(context.Background(), down, a, b, 10)
	assert.InDelta(t, EstimateSeconds(a, b, 10), got, 1e-9)
	assert.InDelta(t, 111.19, got, 0.1)

	up := ProviderFunc(func(ctx context.Context, o, d models.Coord) (Route, error) {
		return Route{DurationSeconds: 42}, nil
	})
	assert.Equal(t, 42.0, ETASeconds(context.Background(), up, a, b, 10))
}

func TestNewSelectsProvider(t *testing.T) {
	p, err := New(Options{Kind: "osrm", OSRMURL: "http://osrm:5000/"})
	require.NoError(t, err)
	assert.Equal(t, "http://osrm:5000", p.(*OSRMClient).Endpoint)

	_, err = New(Options{Kind: "graphhopper"})
	assert.Error(t, err)

	_, err = New(Options{Kind: "carrier-pigeon"})
	assert.Error(t, err)
}
