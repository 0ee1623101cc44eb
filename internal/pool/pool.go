// Package pool owns the lifecycle of pooled rides: creation, passenger
// admission and removal with full fare reallocation, ride requests,
// location tracking and settlement.
package pool

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/example/ride-pool/internal/dispatch"
	"github.com/example/ride-pool/internal/fare"
	"github.com/example/ride-pool/internal/geo"
	"github.com/example/ride-pool/internal/matcher"
	"github.com/example/ride-pool/internal/models"
	"github.com/example/ride-pool/internal/observability"
	"github.com/example/ride-pool/internal/payments"
	"github.com/example/ride-pool/internal/polyline"
	"github.com/example/ride-pool/internal/routegeom"
	"github.com/example/ride-pool/internal/routing"
	"github.com/example/ride-pool/internal/storage"
	"github.com/example/ride-pool/internal/tracker"
)

var (
	ErrRideFull           = errors.New("pool: no available seats")
	ErrAlreadyInRide      = errors.New("pool: passenger already in ride")
	ErrPassengerNotInRide = errors.New("pool: passenger not in ride")
	ErrPassengerRequired  = errors.New("pool: passenger id is required")
	ErrRequestNotPending  = errors.New("pool: ride request is not pending")
	ErrWrongDirection     = errors.New("pool: ride is not heading in the same direction")
	ErrDetourTooLong      = errors.New("pool: detour exceeds the allowed maximum")
	ErrNotRideDriver      = errors.New("pool: driver does not own this ride")
	ErrInvalidSeats       = errors.New("pool: seats must be positive")
	ErrConflict           = errors.New("pool: ride kept changing, giving up")
)

type Config struct {
	RatePerKm         float64
	ToleranceDeg      float64
	ArrivalThresholdM float64
	MaxDetourKm       float64 // <= 0 disables the cap
	NearbyRadiusKm    float64
	NearbyLimit       int
	DefaultSpeedMps   float64
	UpdateMaxAttempts int
	Currency          string
}

func DefaultConfig() Config {
	return Config{
		RatePerKm:         10,
		ToleranceDeg:      routegeom.DefaultToleranceDegrees,
		ArrivalThresholdM: tracker.DefaultThresholdMeters,
		MaxDetourKm:       3,
		NearbyRadiusKm:    10,
		NearbyLimit:       20,
		DefaultSpeedMps:   8,
		UpdateMaxAttempts: 3,
		Currency:          "usd",
	}
}

// Deps are the collaborators of a Service. Geo, Notifier and Payments are
// optional.
type Deps struct {
	Rides    storage.RideStore
	Requests storage.RequestStore
	Routes   routing.Provider
	Geo      geo.Geo
	Notifier dispatch.Notifier
	Payments payments.Gateway
	Logger   *slog.Logger
}

type Service struct {
	rides    storage.RideStore
	requests storage.RequestStore
	routes   routing.Provider
	geo      geo.Geo
	notifier dispatch.Notifier
	payments payments.Gateway
	matcher  *matcher.Service
	cfg      Config
	logger   *slog.Logger
	locks    keyedMutex
	now      func() time.Time
}

func New(deps Deps, cfg Config) *Service {
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.UpdateMaxAttempts <= 0 {
		cfg.UpdateMaxAttempts = 1
	}
	if cfg.Currency == "" {
		cfg.Currency = "usd"
	}
	return &Service{
		rides:    deps.Rides,
		requests: deps.Requests,
		routes:   deps.Routes,
		geo:      deps.Geo,
		notifier: deps.Notifier,
		payments: deps.Payments,
		matcher:  &matcher.Service{Routes: deps.Routes, Tolerance: cfg.ToleranceDeg, Logger: logger},
		cfg:      cfg,
		logger:   logger,
		now:      time.Now,
	}
}

// Matcher exposes the matcher configured with the service's provider and tolerance.
func (s *Service) Matcher() *matcher.Service { return s.matcher }

func (s *Service) Config() Config { return s.cfg }

// mutateRide runs read, mutate copy, conditional write under the ride's
// lock, retrying on version conflicts. fn must be safe to call again on a
// fresh copy.
func (s *Service) mutateRide(ctx context.Context, rideID string, fn func(r *models.PooledRide) error) (*models.PooledRide, error) {
	unlock := s.locks.Lock(rideID)
	defer unlock()
	return s.mutateRideLocked(ctx, rideID, fn)
}

func (s *Service) mutateRideLocked(ctx context.Context, rideID string, fn func(r *models.PooledRide) error) (*models.PooledRide, error) {
	for attempt := 1; attempt <= s.cfg.UpdateMaxAttempts; attempt++ {
		cur, err := s.rides.GetRide(ctx, rideID)
		if err != nil {
			return nil, err
		}
		next := cur.Clone()
		if err := fn(next); err != nil {
			return nil, err
		}
		next.UpdatedAt = s.now()
		err = s.rides.UpdateRide(ctx, next)
		if errors.Is(err, storage.ErrVersionConflict) {
			observability.RideConflicts.Inc()
			s.logger.Warn("ride version conflict, retrying", "ride_id", rideID, "attempt", attempt)
			continue
		}
		if err != nil {
			return nil, err
		}
		return next, nil
	}
	return nil, fmt.Errorf("%w: %w", ErrConflict, storage.ErrVersionConflict)
}

// reallocate recomputes every passenger's fare from the ride's current
// membership. An empty ride has an empty fare map.
func reallocate(r *models.PooledRide) error {
	if len(r.PassengerDistances) == 0 {
		r.PassengerFares = models.Fares{}
		return nil
	}
	fares, err := fare.Allocate(r.TotalFare, r.PassengerDistances)
	if err != nil {
		return err
	}
	r.PassengerFares = fares
	observability.FareReallocations.Inc()
	return nil
}

// reprice sets TotalFare to the fare of the current route plus every
// detour km accumulated on it.
func reprice(r *models.PooledRide) error {
	nodes, err := polyline.Decode(r.CurrentRoute)
	if err != nil {
		return err
	}
	routeFare, err := fare.TotalFromRoute(nodes, r.RatePerKm)
	if err != nil {
		return err
	}
	r.TotalFare = routeFare + r.ExtraDistanceKm*r.RatePerKm
	return nil
}

func (s *Service) notify(ctx context.Context, userID string, n models.Notification) {
	if s.notifier == nil || userID == "" {
		return
	}
	if err := s.notifier.Notify(ctx, userID, n); err != nil {
		s.logger.Warn("notification not delivered", "user_id", userID, "type", n.Type, "err", err)
	}
}

// notifyFares tells every passenger their new share.
func (s *Service) notifyFares(ctx context.Context, r *models.PooledRide, skip models.PassengerID) {
	for _, p := range r.Passengers {
		if p == skip {
			continue
		}
		s.notify(ctx, string(p), models.Notification{
			Type:    models.NotifyFaresUpdated,
			RideID:  r.ID,
			Message: "Fares were updated after a change in the ride",
			Fare:    r.PassengerFares[p],
		})
	}
}
