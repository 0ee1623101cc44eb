// Package routing fetches encoded road routes from an external routing
// engine. The core treats a provider as a black box returning either an
// encoded polyline, ErrNoRoute, or a retryable *UnavailableError.
package routing

import (
	"context"
	"errors"
	"fmt"

	"github.com/example/ride-pool/internal/geo"
	"github.com/example/ride-pool/internal/models"
)

// ErrNoRoute means the provider answered but found no path.
var ErrNoRoute = errors.New("routing: no route found")

// UnavailableError is a transport-level failure talking to a provider.
type UnavailableError struct {
	Provider string
	Err      error
}

func (e *UnavailableError) Error() string {
	return fmt.Sprintf("routing: %s unavailable: %v", e.Provider, e.Err)
}

func (e *UnavailableError) Unwrap() error { return e.Err }

// Retryable is always true; callers decide the retry policy.
func (e *UnavailableError) Retryable() bool { return true }

// IsRetryable reports whether err carries an UnavailableError.
func IsRetryable(err error) bool {
	var ue *UnavailableError
	return errors.As(err, &ue)
}

// Route is a provider answer for one origin/destination pair.
type Route struct {
	Encoded         string  `json:"encoded"`
	DistanceMeters  float64 `json:"distance_meters"`
	DurationSeconds float64 `json:"duration_seconds"`
}

// Provider is the route-fetch collaborator.
type Provider interface {
	FetchRoute(ctx context.Context, origin, destination models.Coord) (Route, error)
}

// ProviderFunc adapts a function to Provider.
type ProviderFunc func(ctx context.Context, origin, destination models.Coord) (Route, error)

func (f ProviderFunc) FetchRoute(ctx context.Context, origin, destination models.Coord) (Route, error) {
	return f(ctx, origin, destination)
}

// Naive ETA: distance / speed_mps. Used when the provider reports no duration.
func EstimateSeconds(from, to models.Coord, speedMps float64) float64 {
	if speedMps <= 0 {
		speedMps = 8.0 // ~28.8 km/h default city speed
	}
	return geo.Haversine(from.Lat, from.Lng, to.Lat, to.Lng) / speedMps
}

// ETASeconds prefers the provider's reported duration for from->to and
// falls back to EstimateSeconds on any provider failure.
func ETASeconds(ctx context.Context, p Provider, from, to models.Coord, speedMps float64) float64 {
	if p != nil {
		if r, err := p.FetchRoute(ctx, from, to); err == nil && r.DurationSeconds > 0 {
			return r.DurationSeconds
		}
	}
	return EstimateSeconds(from, to, speedMps)
}

// Options selects and configures a concrete provider.
type Options struct {
	Kind           string // osrm, graphhopper or google
	OSRMURL        string
	GraphHopperURL string
	GraphHopperKey string
	GoogleAPIKey   string
}

// New builds the provider named by opts.Kind.
func New(opts Options) (Provider, error) {
	switch opts.Kind {
	case "", "osrm":
		if opts.OSRMURL == "" {
			return nil, errors.New("routing: OSRM_URL is required for the osrm provider")
		}
		return NewOSRMClient(opts.OSRMURL), nil
	case "graphhopper":
		if opts.GraphHopperURL == "" {
			return nil, errors.New("routing: GRAPHHOPPER_URL is required for the graphhopper provider")
		}
		return NewGraphHopperClient(opts.GraphHopperURL, opts.GraphHopperKey), nil
	case "google":
		if opts.GoogleAPIKey == "" {
			return nil, errors.New("routing: GOOGLE_MAPS_API_KEY is required for the google provider")
		}
		return NewGoogleProvider(opts.GoogleAPIKey)
	default:
		return nil, fmt.Errorf("routing: unknown provider %q", opts.Kind)
	}
}
