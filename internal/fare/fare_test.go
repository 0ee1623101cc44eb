package fare

import (
	"errors"
	"math"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/example/ride-pool/internal/models"
)

func TestAllocate_EqualSplit(t *testing.T) {
	fares, err := Allocate(100, models.Distances{"A": 5, "B": 5})
	require.NoError(t, err)
	assert.InDelta(t, 50, fares["A"], 1e-9)
	assert.InDelta(t, 50, fares["B"], 1e-9)
}

func TestAllocate_ProportionalSplit(t *testing.T) {
	fares, err := Allocate(90, models.Distances{"A": 1, "B": 2})
	require.NoError(t, err)
	assert.InDelta(t, 30, fares["A"], 1e-9)
	assert.InDelta(t, 60, fares["B"], 1e-9)
}

func TestAllocate_ZeroAggregateSplitsEqually(t *testing.T) {
	fares, err := Allocate(30, models.Distances{"A": 0, "B": 0, "C": 0})
	require.NoError(t, err)
	for _, id := range []models.PassengerID{"A", "B", "C"} {
		assert.InDelta(t, 10, fares[id], 1e-9)
		assert.False(t, math.IsNaN(fares[id]))
	}
}

func TestAllocate_Errors(t *testing.T) {
	_, err := Allocate(10, models.Distances{})
	assert.True(t, errors.Is(err, ErrNoPassengers))

	_, err = Allocate(-1, models.Distances{"A": 1})
	assert.True(t, errors.Is(err, ErrInvalidFare))

	fares, err := Allocate(10, models.Distances{"A": 1, "B": -2})
	assert.True(t, errors.Is(err, ErrInvalidDistance))
	assert.Nil(t, fares, "no partial fare map on error")
}

func TestAllocate_IncrementalJoinReallocatesEveryone(t *testing.T) {
	distances := models.Distances{"A": 4}
	fares, err := Allocate(40, distances)
	require.NoError(t, err)
	assert.InDelta(t, 40, fares["A"], 1e-9)

	distances["B"] = 4
	fares, err = Allocate(40, distances)
	require.NoError(t, err)
	assert.InDelta(t, 20, fares["A"], 1e-9)
	assert.InDelta(t, 20, fares["B"], 1e-9)
	assert.Len(t, fares, 2)
}

func TestAllocate_ConservationAndNonNegativity(t *testing.T) {
	rng := rand.New(rand.NewSource(1))
	for i := 0; i < 500; i++ {
		n := 1 + rng.Intn(6)
		distances := make(models.Distances, n)
		for j := 0; j < n; j++ {
			distances[models.PassengerID(rune('A'+j))] = rng.Float64() * 30
		}
		total := rng.Float64() * 500
		fares, err := Allocate(total, distances)
		require.NoError(t, err)
		require.Len(t, fares, n)
		for _, f := range fares {
			assert.GreaterOrEqual(t, f, 0.0)
		}
		assert.InDelta(t, total, Sum(fares), 1e-6*math.Max(1, total))
	}
}

func TestTotalFromRoute(t *testing.T) {
	route := []models.Coord{{Lat: 0, Lng: 0}, {Lat: 0, Lng: 0.1}, {Lat: 0, Lng: 0.2}}
	total, err := TotalFromRoute(route, 10)
	require.NoError(t, err)
	// 0.2 degrees of longitude at the equator is ~22.239 km
	assert.InDelta(t, 222.39, total, 0.05)

	_, err = TotalFromRoute(route, -1)
	assert.True(t, errors.Is(err, ErrInvalidRate))

	zero, err := TotalFromRoute(nil, 10)
	require.NoError(t, err)
	assert.Equal(t, 0.0, zero)
}

func TestToMinorUnits_PreservesTotal(t *testing.T) {
	fares, err := Allocate(100, models.Distances{"A": 1, "B": 1, "C": 1})
	require.NoError(t, err)

	cents, err := ToMinorUnits(fares, 100)
	require.NoError(t, err)
	assert.Equal(t, int64(10000), cents["A"]+cents["B"]+cents["C"])
	// 3333.33.. each; the extra cent goes to the smallest ID on a tie
	assert.Equal(t, int64(3334), cents["A"])
	assert.Equal(t, int64(3333), cents["B"])
	assert.Equal(t, int64(3333), cents["C"])

	_, err = ToMinorUnits(nil, 100)
	assert.True(t, errors.Is(err, ErrNoPassengers))
}
