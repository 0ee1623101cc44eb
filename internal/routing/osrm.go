package routing

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/example/ride-pool/internal/models"
)

// OSRMClient performs route lookups against an OSRM HTTP server.
type OSRMClient struct {
	Endpoint string
	Client   *http.Client
}

func NewOSRMClient(endpoint string) *OSRMClient {
	return &OSRMClient{Endpoint: strings.TrimRight(endpoint, "/"), Client: &http.Client{Timeout: 2 * time.Second}}
}

// FetchRoute queries OSRM /route between points and returns the overview
// geometry as a precision-5 polyline.
func (o *OSRMClient) FetchRoute(ctx context.Context, from, to models.Coord) (Route, error) {
	// OSRM route query: /route/v1/driving/{lon1},{lat1};{lon2},{lat2}
	url := fmt.Sprintf("%s/route/v1/driving/%.6f,%.6f;%.6f,%.6f?overview=full&geometries=polyline",
		o.Endpoint, from.Lng, from.Lat, to.Lng, to.Lat)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return Route{}, err
	}
	resp, err := o.Client.Do(req)
	if err != nil {
		return Route{}, &UnavailableError{Provider: "osrm", Err: err}
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 500 {
		return Route{}, &UnavailableError{Provider: "osrm", Err: fmt.Errorf("status %d", resp.StatusCode)}
	}
	var out struct {
		Routes []struct {
			Geometry string  `json:"geometry"`
			Duration float64 `json:"duration"`
			Distance float64 `json:"distance"`
		} `json:"routes"`
		Code string `json:"code"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return Route{}, &UnavailableError{Provider: "osrm", Err: fmt.Errorf("decode response: %w", err)}
	}
	if out.Code != "Ok" || len(out.Routes) == 0 {
		return Route{}, fmt.Errorf("%w: osrm code %q", ErrNoRoute, out.Code)
	}
	r := out.Routes[0]
	return Route{Encoded: r.Geometry, DistanceMeters: r.Distance, DurationSeconds: r.Duration}, nil
}
