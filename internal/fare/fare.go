// Package fare splits a ride's total fare across the passengers sharing it,
// proportionally to the distance each of them travels.
package fare

import (
	"errors"
	"fmt"
	"math"
	"sort"

	"github.com/example/ride-pool/internal/geo"
	"github.com/example/ride-pool/internal/models"
)

var (
	ErrNoPassengers    = errors.New("fare: no passengers to allocate")
	ErrInvalidFare     = errors.New("fare: total fare must be finite and non-negative")
	ErrInvalidRate     = errors.New("fare: rate per km must be finite and non-negative")
	ErrInvalidDistance = errors.New("fare: passenger distance must be finite and non-negative")
)

// Allocate recomputes every passenger's share of totalFare from the full
// distance mapping. Callers must pass a current, non-stale membership
// snapshot; concurrent admissions to the same ride have to be serialized
// around the read-allocate-write cycle.
//
// A zero aggregate distance splits the fare equally.
func Allocate(totalFare float64, distances models.Distances) (models.Fares, error) {
	if len(distances) == 0 {
		return nil, ErrNoPassengers
	}
	if math.IsNaN(totalFare) || math.IsInf(totalFare, 0) || totalFare < 0 {
		return nil, ErrInvalidFare
	}
	ids := distances.SortedIDs()
	aggregate := 0.0
	for _, id := range ids {
		d := distances[id]
		if math.IsNaN(d) || math.IsInf(d, 0) || d < 0 {
			return nil, fmt.Errorf("%w: %s=%v", ErrInvalidDistance, id, d)
		}
		aggregate += d
	}

	fares := make(models.Fares, len(ids))
	if aggregate == 0 {
		share := totalFare / float64(len(ids))
		for _, id := range ids {
			fares[id] = share
		}
		return fares, nil
	}
	for _, id := range ids {
		fares[id] = distances[id] / aggregate * totalFare
	}
	return fares, nil
}

// TotalFromRoute prices a decoded route at ratePerKm using great-circle legs.
func TotalFromRoute(route []models.Coord, ratePerKm float64) (float64, error) {
	if math.IsNaN(ratePerKm) || math.IsInf(ratePerKm, 0) || ratePerKm < 0 {
		return 0, ErrInvalidRate
	}
	km, err := geo.PathLengthKm(route)
	if err != nil {
		return 0, err
	}
	return km * ratePerKm, nil
}

// Sum adds up fares in a fixed key order.
func Sum(fares models.Fares) float64 {
	ids := make([]models.PassengerID, 0, len(fares))
	for id := range fares {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	total := 0.0
	for _, id := range ids {
		total += fares[id]
	}
	return total
}

// ToMinorUnits converts fares into integer minor units (cents for scale
// 100). The result sums exactly to round(Sum(fares)*scale); leftover units
// go to the largest fractional parts, ties to the smaller passenger ID.
func ToMinorUnits(fares models.Fares, scale int64) (map[models.PassengerID]int64, error) {
	if len(fares) == 0 {
		return nil, ErrNoPassengers
	}
	if scale <= 0 {
		scale = 100
	}
	type part struct {
		id   models.PassengerID
		frac float64
	}
	out := make(map[models.PassengerID]int64, len(fares))
	parts := make([]part, 0, len(fares))
	var floorSum int64
	for id, f := range fares {
		if math.IsNaN(f) || math.IsInf(f, 0) || f < 0 {
			return nil, fmt.Errorf("%w: %s=%v", ErrInvalidFare, id, f)
		}
		scaled := f * float64(scale)
		whole := math.Floor(scaled)
		out[id] = int64(whole)
		floorSum += int64(whole)
		parts = append(parts, part{id: id, frac: scaled - whole})
	}
	target := int64(math.Round(Sum(fares) * float64(scale)))
	sort.Slice(parts, func(i, j int) bool {
		if parts[i].frac != parts[j].frac {
			return parts[i].frac > parts[j].frac
		}
		return parts[i].id < parts[j].id
	})
	for i := int64(0); i < target-floorSum && int(i) < len(parts); i++ {
		out[parts[i].id]++
	}
	return out, nil
}
