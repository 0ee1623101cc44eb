package storage

import (
	"context"
	"errors"

	"github.com/example/ride-pool/internal/models"
)

var (
	ErrNotFound = errors.New("storage: not found")
	// ErrVersionConflict means the ride changed since it was read.
	ErrVersionConflict = errors.New("storage: version conflict")
	// ErrStatusConflict means the request was no longer in the expected status.
	ErrStatusConflict = errors.New("storage: request status conflict")
)

// RideStore persists pooled rides. UpdateRide only succeeds when r.Version
// equals the stored version, and bumps r.Version on success.
type RideStore interface {
	CreateRide(ctx context.Context, r *models.PooledRide) error
	GetRide(ctx context.Context, id string) (*models.PooledRide, error)
	UpdateRide(ctx context.Context, r *models.PooledRide) error
	DeleteRide(ctx context.Context, id string) error
}

// RequestStore persists ride requests. TransitionRequest is a
// compare-and-set on the status column.
type RequestStore interface {
	CreateRequest(ctx context.Context, r *models.RideRequest) error
	GetRequest(ctx context.Context, id string) (*models.RideRequest, error)
	TransitionRequest(ctx context.Context, id string, from, to models.RequestStatus, driverID string) (*models.RideRequest, error)
}
