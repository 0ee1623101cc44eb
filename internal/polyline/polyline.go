// Package polyline converts between encoded polyline strings and coordinate
// sequences. Values are quantized to 1e-5 degrees, the precision of the
// format, so decoded nodes compare exactly across repeated decodes.
package polyline

import (
	"fmt"
	"math"

	gopolyline "github.com/twpayne/go-polyline"

	"github.com/example/ride-pool/internal/models"
)

const precision = 1e5

// DecodeError reports a malformed encoded polyline.
type DecodeError struct {
	Input string
	Err   error
}

func (e *DecodeError) Error() string {
	return fmt.Sprintf("polyline: decode %q: %v", truncate(e.Input, 32), e.Err)
}

func (e *DecodeError) Unwrap() error { return e.Err }

// Decode turns an encoded polyline into its ordered points. An empty string
// decodes to an empty route.
func Decode(encoded string) ([]models.Coord, error) {
	if encoded == "" {
		return []models.Coord{}, nil
	}
	coords, _, err := gopolyline.DecodeCoords([]byte(encoded))
	if err != nil {
		return nil, &DecodeError{Input: encoded, Err: err}
	}
	points := make([]models.Coord, len(coords))
	for i, c := range coords {
		p := models.Coord{Lat: quantize(c[0]), Lng: quantize(c[1])}
		if p.Lat < -90 || p.Lat > 90 || p.Lng < -180 || p.Lng > 180 {
			return nil, &DecodeError{Input: encoded, Err: fmt.Errorf("point %d out of range (%f,%f)", i, p.Lat, p.Lng)}
		}
		points[i] = p
	}
	return points, nil
}

// Encode is the inverse of Decode.
func Encode(points []models.Coord) string {
	if len(points) == 0 {
		return ""
	}
	coords := make([][]float64, len(points))
	for i, p := range points {
		coords[i] = []float64{p.Lat, p.Lng}
	}
	return string(gopolyline.EncodeCoords(coords))
}

func quantize(v float64) float64 {
	return math.Round(v*precision) / precision
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
