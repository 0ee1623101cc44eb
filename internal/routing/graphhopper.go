package routing

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/example/ride-pool/internal/models"
)

// GraphHopperClient talks to the GraphHopper /api/1/route endpoint.
type GraphHopperClient struct {
	Endpoint string
	APIKey   string
	Client   *http.Client
}

func NewGraphHopperClient(endpoint, apiKey string) *GraphHopperClient {
	return &GraphHopperClient{
		Endpoint: strings.TrimRight(endpoint, "/"),
		APIKey:   apiKey,
		Client:   &http.Client{Timeout: 5 * time.Second},
	}
}

func (g *GraphHopperClient) FetchRoute(ctx context.Context, from, to models.Coord) (Route, error) {
	q := url.Values{}
	q.Add("point", fmt.Sprintf("%.6f,%.6f", from.Lat, from.Lng))
	q.Add("point", fmt.Sprintf("%.6f,%.6f", to.Lat, to.Lng))
	q.Set("profile", "car")
	q.Set("points_encoded", "true")
	if g.APIKey != "" {
		q.Set("key", g.APIKey)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, g.Endpoint+"/api/1/route?"+q.Encode(), nil)
	if err != nil {
		return Route{}, err
	}
	resp, err := g.Client.Do(req)
	if err != nil {
		return Route{}, &UnavailableError{Provider: "graphhopper", Err: err}
	}
	defer resp.Body.Close()
	switch {
	case resp.StatusCode >= 500, resp.StatusCode == http.StatusTooManyRequests:
		return Route{}, &UnavailableError{Provider: "graphhopper", Err: fmt.Errorf("status %d", resp.StatusCode)}
	case resp.StatusCode >= 400:
		// GraphHopper answers 400 when no path connects the points.
		return Route{}, fmt.Errorf("%w: graphhopper status %d", ErrNoRoute, resp.StatusCode)
	}
	var out struct {
		Paths []struct {
			Points   string  `json:"points"`
			Distance float64 `json:"distance"`
			Time     float64 `json:"time"`
		} `json:"paths"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return Route{}, &UnavailableError{Provider: "graphhopper", Err: fmt.Errorf("decode response: %w", err)}
	}
	if len(out.Paths) == 0 || out.Paths[0].Points == "" {
		return Route{}, fmt.Errorf("%w: graphhopper returned no paths", ErrNoRoute)
	}
	p := out.Paths[0]
	return Route{Encoded: p.Points, DistanceMeters: p.Distance, DurationSeconds: p.Time / 1000}, nil
}
