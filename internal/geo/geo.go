package geo

import (
	"fmt"
	"math"

	"github.com/example/ride-pool/internal/models"
)

const (
	earthRadiusKm = 6371.0
	earthRadiusM  = 6371000.0
)

// InvalidCoordinateError is returned for non-finite or out-of-range coordinates.
type InvalidCoordinateError struct {
	Coord models.Coord
}

func (e *InvalidCoordinateError) Error() string {
	return fmt.Sprintf("invalid coordinate (%v, %v): latitude must be [-90, 90], longitude must be [-180, 180]", e.Coord.Lat, e.Coord.Lng)
}

// Validate checks that c is finite and within valid lat/lng ranges.
func Validate(c models.Coord) error {
	if math.IsNaN(c.Lat) || math.IsNaN(c.Lng) || math.IsInf(c.Lat, 0) || math.IsInf(c.Lng, 0) ||
		c.Lat < -90 || c.Lat > 90 || c.Lng < -180 || c.Lng > 180 {
		return &InvalidCoordinateError{Coord: c}
	}
	return nil
}

// HaversineKm is the great-circle distance between a and b in kilometres.
func HaversineKm(a, b models.Coord) (float64, error) {
	return distance(a, b, earthRadiusKm)
}

// HaversineMeters is HaversineKm in meters, used for meter-scale thresholds.
func HaversineMeters(a, b models.Coord) (float64, error) {
	return distance(a, b, earthRadiusM)
}

func distance(a, b models.Coord, radius float64) (float64, error) {
	if err := Validate(a); err != nil {
		return 0, err
	}
	if err := Validate(b); err != nil {
		return 0, err
	}
	if a == b {
		return 0, nil
	}
	return radius * centralAngle(a.Lat, a.Lng, b.Lat, b.Lng), nil
}

// Haversine distance in meters on raw degrees, no validation.
func Haversine(lat1, lon1, lat2, lon2 float64) float64 {
	return earthRadiusM * centralAngle(lat1, lon1, lat2, lon2)
}

// centralAngle orders its terms so that swapping the endpoints yields the
// identical float result.
func centralAngle(lat1, lon1, lat2, lon2 float64) float64 {
	dLat := (lat2 - lat1) * math.Pi / 180
	dLon := (lon2 - lon1) * math.Pi / 180
	sLat := math.Sin(dLat / 2)
	sLon := math.Sin(dLon / 2)
	a := sLat*sLat + math.Cos(lat1*math.Pi/180)*math.Cos(lat2*math.Pi/180)*sLon*sLon
	if a > 1 {
		a = 1
	}
	return 2 * math.Atan2(math.Sqrt(a), math.Sqrt(1-a))
}

// PathLengthKm sums the great-circle legs between consecutive points.
func PathLengthKm(points []models.Coord) (float64, error) {
	total := 0.0
	for i := 0; i+1 < len(points); i++ {
		d, err := HaversineKm(points[i], points[i+1])
		if err != nil {
			return 0, err
		}
		total += d
	}
	return total, nil
}
