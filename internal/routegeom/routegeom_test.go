package routegeom

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/example/ride-pool/internal/geo"
	"github.com/example/ride-pool/internal/models"
)

var line = []models.Coord{
	{Lat: 41.88835, Lng: -87.6231},
	{Lat: 41.89000, Lng: -87.6250},
	{Lat: 41.89500, Lng: -87.6290},
	{Lat: 41.90290, Lng: -87.6336},
}

func TestCheckDirection(t *testing.T) {
	p0, p1, p3 := line[0], line[1], line[3]
	assert.True(t, CheckDirection(line, p0, p3))
	assert.False(t, CheckDirection(line, p3, p0))
	assert.False(t, CheckDirection(line, p1, p1))
	assert.False(t, CheckDirection(line, models.Coord{Lat: 1, Lng: 1}, p3))
	assert.False(t, CheckDirection(line, p0, models.Coord{Lat: 1, Lng: 1}))
}

func TestFindClosestNode(t *testing.T) {
	got, err := FindClosestNode(line, models.Coord{Lat: 41.8951, Lng: -87.6291})
	require.NoError(t, err)
	assert.Equal(t, line[2], got)

	_, err = FindClosestNode(nil, models.Coord{})
	assert.True(t, errors.Is(err, ErrEmptyCandidates))
}

func TestFindClosestNode_TieKeepsFirst(t *testing.T) {
	a := models.Coord{Lat: 0, Lng: 1}
	b := models.Coord{Lat: 0, Lng: -1}
	got, err := FindClosestNode([]models.Coord{a, b}, models.Coord{})
	require.NoError(t, err)
	assert.Equal(t, a, got)
}

func TestNodesWithinTolerance(t *testing.T) {
	near := NodesWithinTolerance(line, models.Coord{Lat: 41.8890, Lng: -87.6240}, 0.01)
	assert.Equal(t, line[:3], near)

	assert.Empty(t, NodesWithinTolerance(line, models.Coord{Lat: 42.5, Lng: -87.6}, 0.01))
	// zero tolerance falls back to the default radius
	assert.Len(t, NodesWithinTolerance(line, line[0], 0), 3)
}

func TestLocate(t *testing.T) {
	node, ok := Locate(line, models.Coord{Lat: 41.9028, Lng: -87.6335}, DefaultToleranceDegrees)
	require.True(t, ok)
	assert.Equal(t, line[3], node)

	_, ok = Locate(line, models.Coord{Lat: 10, Lng: 10}, DefaultToleranceDegrees)
	assert.False(t, ok)
}

func TestSegmentLengthKm(t *testing.T) {
	full, err := geo.PathLengthKm(line)
	require.NoError(t, err)
	seg, err := SegmentLengthKm(line, 0, 3)
	require.NoError(t, err)
	assert.InDelta(t, full, seg, 1e-12)

	zero, err := SegmentLengthKm(line, 2, 1)
	require.NoError(t, err)
	assert.Equal(t, 0.0, zero)
}

func TestCalculateDetourDistance(t *testing.T) {
	onRoute, err := CalculateDetourDistance(line, line[0], line[3], DefaultToleranceDegrees)
	require.NoError(t, err)
	assert.Equal(t, 0.0, onRoute)

	off := models.Coord{Lat: 41.92, Lng: -87.6336}
	detour, err := CalculateDetourDistance(line, line[0], off, DefaultToleranceDegrees)
	require.NoError(t, err)
	leg, err := geo.HaversineKm(line[3], off)
	require.NoError(t, err)
	assert.InDelta(t, 2*leg, detour, 1e-9)
	assert.Greater(t, detour, 0.0)

	_, err = CalculateDetourDistance(nil, line[0], line[1], DefaultToleranceDegrees)
	assert.True(t, errors.Is(err, ErrEmptyCandidates))

	_, err = CalculateDetourDistance(line, models.Coord{Lat: 95}, line[1], DefaultToleranceDegrees)
	var ice *geo.InvalidCoordinateError
	assert.True(t, errors.As(err, &ice))
}
