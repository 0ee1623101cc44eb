package storage

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/example/ride-pool/internal/models"
)

func newRide(id string) *models.PooledRide {
	return &models.PooledRide{
		ID:                 id,
		DriverID:           "d1",
		InitialSeats:       3,
		AvailableSeats:     3,
		PassengerDistances: models.Distances{},
		PassengerFares:     models.Fares{},
		Pickups:            map[models.PassengerID]models.Coord{},
		Dropoffs:           map[models.PassengerID]models.Coord{},
	}
}

func TestMemoryStore_UpdateRideChecksVersion(t *testing.T) {
	ctx := context.Background()
	m := NewMemoryStore()
	require.NoError(t, m.CreateRide(ctx, newRide("r1")))

	a, err := m.GetRide(ctx, "r1")
	require.NoError(t, err)
	b, err := m.GetRide(ctx, "r1")
	require.NoError(t, err)

	a.Passengers = append(a.Passengers, "p1")
	require.NoError(t, m.UpdateRide(ctx, a))
	assert.Equal(t, int64(2), a.Version)

	b.Passengers = append(b.Passengers, "p2")
	assert.ErrorIs(t, m.UpdateRide(ctx, b), ErrVersionConflict)

	got, err := m.GetRide(ctx, "r1")
	require.NoError(t, err)
	assert.Equal(t, []models.PassengerID{"p1"}, got.Passengers)
}

func TestMemoryStore_ReturnsCopies(t *testing.T) {
	ctx := context.Background()
	m := NewMemoryStore()
	require.NoError(t, m.CreateRide(ctx, newRide("r1")))

	got, err := m.GetRide(ctx, "r1")
	require.NoError(t, err)
	got.PassengerFares["ghost"] = 99

	again, err := m.GetRide(ctx, "r1")
	require.NoError(t, err)
	assert.Empty(t, again.PassengerFares)
}

func TestMemoryStore_DeleteRide(t *testing.T) {
	ctx := context.Background()
	m := NewMemoryStore()
	require.NoError(t, m.CreateRide(ctx, newRide("r1")))
	require.NoError(t, m.DeleteRide(ctx, "r1"))
	_, err := m.GetRide(ctx, "r1")
	assert.ErrorIs(t, err, ErrNotFound)
	assert.ErrorIs(t, m.DeleteRide(ctx, "r1"), ErrNotFound)
}

func TestMemoryStore_TransitionRequestOnce(t *testing.T) {
	ctx := context.Background()
	m := NewMemoryStore()
	require.NoError(t, m.CreateRequest(ctx, &models.RideRequest{ID: "q1", PassengerID: "p1", Status: models.RequestPending}))

	r, err := m.TransitionRequest(ctx, "q1", models.RequestPending, models.RequestAccepted, "d1")
	require.NoError(t, err)
	assert.Equal(t, models.RequestAccepted, r.Status)
	assert.Equal(t, "d1", r.DriverID)

	_, err = m.TransitionRequest(ctx, "q1", models.RequestPending, models.RequestAccepted, "d2")
	assert.ErrorIs(t, err, ErrStatusConflict)

	_, err = m.TransitionRequest(ctx, "missing", models.RequestPending, models.RequestRejected, "")
	assert.ErrorIs(t, err, ErrNotFound)
}
