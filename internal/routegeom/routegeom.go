// Package routegeom answers geometric questions about a decoded route:
// which nodes are near a point, which comes first, and how far a detour
// reaches off the route.
//
// Proximity uses a flat metric on raw degree differences. At city scale it
// preserves ranking, and 0.01 degrees is roughly 1.1 km at the equator.
// Distances reported in km use the great-circle metric from package geo.
package routegeom

import (
	"errors"
	"math"

	"github.com/example/ride-pool/internal/geo"
	"github.com/example/ride-pool/internal/models"
)

// DefaultToleranceDegrees is the on-route radius used by matching.
const DefaultToleranceDegrees = 0.01

var ErrEmptyCandidates = errors.New("routegeom: no candidate nodes")

// PlanarDistance is the Euclidean distance between a and b in degrees.
func PlanarDistance(a, b models.Coord) float64 {
	return math.Hypot(a.Lat-b.Lat, a.Lng-b.Lng)
}

// FindClosestNode returns the candidate nearest to target. Ties keep the
// earliest candidate.
func FindClosestNode(candidates []models.Coord, target models.Coord) (models.Coord, error) {
	if len(candidates) == 0 {
		return models.Coord{}, ErrEmptyCandidates
	}
	best := candidates[0]
	bestDist := PlanarDistance(best, target)
	for _, c := range candidates[1:] {
		if d := PlanarDistance(c, target); d < bestDist {
			best, bestDist = c, d
		}
	}
	return best, nil
}

// NodesWithinTolerance keeps the route nodes strictly closer than
// toleranceDegrees to target, in route order. A non-positive tolerance
// selects DefaultToleranceDegrees.
func NodesWithinTolerance(route []models.Coord, target models.Coord, toleranceDegrees float64) []models.Coord {
	if toleranceDegrees <= 0 {
		toleranceDegrees = DefaultToleranceDegrees
	}
	var out []models.Coord
	for _, n := range route {
		if PlanarDistance(n, target) < toleranceDegrees {
			out = append(out, n)
		}
	}
	return out
}

// IndexOf returns the first index of node in route, or -1.
func IndexOf(route []models.Coord, node models.Coord) int {
	for i, n := range route {
		if n == node {
			return i
		}
	}
	return -1
}

// CheckDirection is true iff both nodes are on route and depNode comes
// strictly before destNode.
func CheckDirection(route []models.Coord, depNode, destNode models.Coord) bool {
	dep := IndexOf(route, depNode)
	dest := IndexOf(route, destNode)
	return dep != -1 && dest != -1 && dep < dest
}

// Locate finds the route node closest to target among those within
// tolerance. ok is false when no node is close enough.
func Locate(route []models.Coord, target models.Coord, toleranceDegrees float64) (node models.Coord, ok bool) {
	near := NodesWithinTolerance(route, target, toleranceDegrees)
	if len(near) == 0 {
		return models.Coord{}, false
	}
	node, _ = FindClosestNode(near, target)
	return node, true
}

// SegmentLengthKm is the great-circle length of route between node indices
// from and to. It is zero when to <= from.
func SegmentLengthKm(route []models.Coord, from, to int) (float64, error) {
	if from < 0 || to > len(route)-1 || to <= from {
		return 0, nil
	}
	return geo.PathLengthKm(route[from : to+1])
}

// CalculateDetourDistance estimates the extra km the vehicle drives to pick
// up at newStart and drop at newEnd. Each point that is not within tolerance
// of the route costs an out-and-back leg to its closest route node.
func CalculateDetourDistance(route []models.Coord, newStart, newEnd models.Coord, toleranceDegrees float64) (float64, error) {
	if toleranceDegrees <= 0 {
		toleranceDegrees = DefaultToleranceDegrees
	}
	total := 0.0
	for _, p := range []models.Coord{newStart, newEnd} {
		if err := geo.Validate(p); err != nil {
			return 0, err
		}
		node, err := FindClosestNode(route, p)
		if err != nil {
			return 0, err
		}
		if PlanarDistance(node, p) < toleranceDegrees {
			continue
		}
		leg, err := geo.HaversineKm(node, p)
		if err != nil {
			return 0, err
		}
		total += 2 * leg
	}
	return total, nil
}
