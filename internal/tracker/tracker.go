package tracker

import (
	"github.com/example/ride-pool/internal/geo"
	"github.com/example/ride-pool/internal/models"
)

// DefaultThresholdMeters is the radius within which a vehicle counts as arrived.
const DefaultThresholdMeters = 100.0

// HasArrived reports whether current is within thresholdMeters of destination.
// A non-positive threshold selects DefaultThresholdMeters.
func HasArrived(current, destination models.Coord, thresholdMeters float64) (bool, error) {
	if thresholdMeters <= 0 {
		thresholdMeters = DefaultThresholdMeters
	}
	d, err := geo.HaversineMeters(current, destination)
	if err != nil {
		return false, err
	}
	return d <= thresholdMeters, nil
}

// Reached returns the passengers whose dropoff lies within thresholdMeters
// of current, in ascending ID order.
func Reached(current models.Coord, dropoffs map[models.PassengerID]models.Coord, thresholdMeters float64) ([]models.PassengerID, error) {
	ids := make(models.Distances, len(dropoffs))
	for id := range dropoffs {
		ids[id] = 0
	}
	var out []models.PassengerID
	for _, id := range ids.SortedIDs() {
		ok, err := HasArrived(current, dropoffs[id], thresholdMeters)
		if err != nil {
			return nil, err
		}
		if ok {
			out = append(out, id)
		}
	}
	return out, nil
}
