package pool

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/example/ride-pool/internal/fare"
	"github.com/example/ride-pool/internal/geo"
	"github.com/example/ride-pool/internal/models"
	"github.com/example/ride-pool/internal/observability"
	"github.com/example/ride-pool/internal/polyline"
	"github.com/example/ride-pool/internal/routegeom"
	"github.com/example/ride-pool/internal/tracker"
)

type CreateRideInput struct {
	DriverID     string       `json:"driver_id"`
	Origin       models.Coord `json:"origin"`
	Destination  models.Coord `json:"destination"`
	Seats        int          `json:"seats"`
	EncodedRoute string       `json:"encoded_route,omitempty"` // fetched from the provider when empty
	RatePerKm    float64      `json:"rate_per_km,omitempty"`
}

// CreateRide prices the driver's route and stores an empty pooled ride.
func (s *Service) CreateRide(ctx context.Context, in CreateRideInput) (*models.PooledRide, error) {
	if err := geo.Validate(in.Origin); err != nil {
		return nil, err
	}
	if err := geo.Validate(in.Destination); err != nil {
		return nil, err
	}
	if in.Seats <= 0 {
		return nil, ErrInvalidSeats
	}
	encoded := in.EncodedRoute
	if encoded == "" {
		r, err := s.routes.FetchRoute(ctx, in.Origin, in.Destination)
		if err != nil {
			return nil, fmt.Errorf("fetch driver route: %w", err)
		}
		encoded = r.Encoded
	}
	nodes, err := polyline.Decode(encoded)
	if err != nil {
		return nil, err
	}
	rate := in.RatePerKm
	if rate == 0 {
		rate = s.cfg.RatePerKm
	}
	total, err := fare.TotalFromRoute(nodes, rate)
	if err != nil {
		return nil, err
	}
	now := s.now()
	ride := &models.PooledRide{
		ID:                 uuid.NewString(),
		DriverID:           in.DriverID,
		Origin:             in.Origin,
		Destination:        in.Destination,
		CurrentRoute:       encoded,
		Passengers:         []models.PassengerID{},
		PassengerDistances: models.Distances{},
		PassengerFares:     models.Fares{},
		Pickups:            map[models.PassengerID]models.Coord{},
		Dropoffs:           map[models.PassengerID]models.Coord{},
		InitialSeats:       in.Seats,
		AvailableSeats:     in.Seats,
		RatePerKm:          rate,
		TotalFare:          total,
		CurrentLocation:    in.Origin,
		CreatedAt:          now,
		UpdatedAt:          now,
	}
	if err := s.rides.CreateRide(ctx, ride); err != nil {
		return nil, err
	}
	if s.geo != nil && in.DriverID != "" {
		if err := s.geo.Upsert(ctx, models.Driver{ID: in.DriverID, Loc: in.Origin, Online: true}); err != nil {
			s.logger.Warn("driver index upsert failed", "driver_id", in.DriverID, "err", err)
		}
	}
	s.logger.Info("ride created", "ride_id", ride.ID, "driver_id", ride.DriverID, "total_fare", ride.TotalFare)
	return ride, nil
}

func (s *Service) GetRide(ctx context.Context, id string) (*models.PooledRide, error) {
	return s.rides.GetRide(ctx, id)
}

// JoinQuote describes what admitting a passenger would cost the ride.
type JoinQuote struct {
	RideID              string       `json:"ride_id"`
	PickupNode          models.Coord `json:"pickup_node"`
	DropoffNode         models.Coord `json:"dropoff_node"`
	DetourKm            float64      `json:"detour_km"`
	PassengerDistanceKm float64      `json:"passenger_distance_km"`
	EstimatedFare       float64      `json:"estimated_fare"`
}

// quote evaluates start/end against r without mutating it.
func (s *Service) quote(r *models.PooledRide, passengerID models.PassengerID, start, end models.Coord) (*JoinQuote, error) {
	if err := geo.Validate(start); err != nil {
		return nil, err
	}
	if err := geo.Validate(end); err != nil {
		return nil, err
	}
	if r.AvailableSeats <= 0 {
		return nil, ErrRideFull
	}
	nodes, err := polyline.Decode(r.CurrentRoute)
	if err != nil {
		return nil, err
	}
	pickup, err := s.attach(nodes, start)
	if err != nil {
		return nil, err
	}
	dropoff, err := s.attach(nodes, end)
	if err != nil {
		return nil, err
	}
	if !routegeom.CheckDirection(nodes, pickup, dropoff) {
		return nil, ErrWrongDirection
	}
	detour, err := routegeom.CalculateDetourDistance(nodes, start, end, s.cfg.ToleranceDeg)
	if err != nil {
		return nil, err
	}
	if s.cfg.MaxDetourKm > 0 && detour > s.cfg.MaxDetourKm {
		return nil, fmt.Errorf("%w: %.2f km > %.2f km", ErrDetourTooLong, detour, s.cfg.MaxDetourKm)
	}
	segment, err := routegeom.SegmentLengthKm(nodes, routegeom.IndexOf(nodes, pickup), routegeom.IndexOf(nodes, dropoff))
	if err != nil {
		return nil, err
	}
	// the passenger rides the off-route legs one way
	q := &JoinQuote{
		RideID:              r.ID,
		PickupNode:          pickup,
		DropoffNode:         dropoff,
		DetourKm:            detour,
		PassengerDistanceKm: segment + detour/2,
	}
	routeFare, err := fare.TotalFromRoute(nodes, r.RatePerKm)
	if err != nil {
		return nil, err
	}
	distances := make(models.Distances, len(r.PassengerDistances)+1)
	for k, v := range r.PassengerDistances {
		distances[k] = v
	}
	if passengerID == "" {
		passengerID = "candidate"
	}
	distances[passengerID] = q.PassengerDistanceKm
	fares, err := fare.Allocate(routeFare+(r.ExtraDistanceKm+detour)*r.RatePerKm, distances)
	if err != nil {
		return nil, err
	}
	q.EstimatedFare = fares[passengerID]
	return q, nil
}

// attach picks the closest route node within tolerance, falling back to
// the closest node overall for points that need a detour.
func (s *Service) attach(nodes []models.Coord, p models.Coord) (models.Coord, error) {
	if n, ok := routegeom.Locate(nodes, p, s.cfg.ToleranceDeg); ok {
		return n, nil
	}
	return routegeom.FindClosestNode(nodes, p)
}

// QuoteJoin computes the detour and fare estimate for a prospective
// passenger and asks the driver.
func (s *Service) QuoteJoin(ctx context.Context, rideID string, passengerID models.PassengerID, start, end models.Coord) (*JoinQuote, error) {
	r, err := s.rides.GetRide(ctx, rideID)
	if err != nil {
		return nil, err
	}
	if passengerID != "" && r.HasPassenger(passengerID) {
		return nil, ErrAlreadyInRide
	}
	q, err := s.quote(r, passengerID, start, end)
	if err != nil {
		return nil, err
	}
	s.notify(ctx, r.DriverID, models.Notification{
		Type:     models.NotifyJoinRequest,
		RideID:   r.ID,
		Message:  fmt.Sprintf("New join request from %s. Detour distance: %.2f km", passengerID, q.DetourKm),
		Fare:     q.EstimatedFare,
		DetourKm: q.DetourKm,
	})
	return q, nil
}

// AdmitPassenger adds a passenger to a running ride. The quote is
// recomputed against the latest ride state; the detour is added to the
// ride's extra distance and every fare is reallocated.
func (s *Service) AdmitPassenger(ctx context.Context, rideID string, passengerID models.PassengerID, start, end models.Coord) (*models.PooledRide, error) {
	if strings.TrimSpace(string(passengerID)) == "" {
		return nil, ErrPassengerRequired
	}
	ride, err := s.mutateRide(ctx, rideID, func(r *models.PooledRide) error {
		if r.HasPassenger(passengerID) {
			return ErrAlreadyInRide
		}
		_, err := s.join(r, passengerID, start, end)
		return err
	})
	if err != nil {
		return nil, err
	}
	s.logger.Info("passenger admitted", "ride_id", rideID, "passenger_id", passengerID, "total_fare", ride.TotalFare)
	s.notify(ctx, string(passengerID), models.Notification{
		Type:    models.NotifyPassengerJoined,
		RideID:  ride.ID,
		Message: "You have been added to the ride",
		Fare:    ride.PassengerFares[passengerID],
	})
	s.notifyFares(ctx, ride, passengerID)
	return ride, nil
}

// join admits passengerID at the quoted pickup and dropoff, adds the detour
// to the ride's extra distance and reallocates every fare.
func (s *Service) join(r *models.PooledRide, passengerID models.PassengerID, start, end models.Coord) (*JoinQuote, error) {
	q, err := s.quote(r, passengerID, start, end)
	if err != nil {
		return nil, err
	}
	r.ExtraDistanceKm += q.DetourKm
	if err := reprice(r); err != nil {
		return nil, err
	}
	addPassenger(r, passengerID, q.PassengerDistanceKm, start, end)
	return q, reallocate(r)
}

func addPassenger(r *models.PooledRide, id models.PassengerID, distanceKm float64, pickup, dropoff models.Coord) {
	r.Passengers = append(r.Passengers, id)
	r.PassengerDistances[id] = distanceKm
	r.Pickups[id] = pickup
	r.Dropoffs[id] = dropoff
	r.AvailableSeats--
}

// RemovePassenger drops a passenger and reallocates the remaining fares.
// Extra distance already added for the passenger's detour is kept.
func (s *Service) RemovePassenger(ctx context.Context, rideID string, passengerID models.PassengerID) (*models.PooledRide, error) {
	ride, err := s.mutateRide(ctx, rideID, removePassengerFn(passengerID))
	if err != nil {
		return nil, err
	}
	s.logger.Info("passenger removed", "ride_id", rideID, "passenger_id", passengerID)
	s.notifyFares(ctx, ride, "")
	return ride, nil
}

func removePassengerFn(passengerID models.PassengerID) func(r *models.PooledRide) error {
	return func(r *models.PooledRide) error {
		if err := dropPassenger(r, passengerID); err != nil {
			return err
		}
		return reallocate(r)
	}
}

func dropPassenger(r *models.PooledRide, passengerID models.PassengerID) error {
	if !r.HasPassenger(passengerID) {
		return ErrPassengerNotInRide
	}
	kept := r.Passengers[:0]
	for _, p := range r.Passengers {
		if p != passengerID {
			kept = append(kept, p)
		}
	}
	r.Passengers = kept
	delete(r.PassengerDistances, passengerID)
	delete(r.PassengerFares, passengerID)
	delete(r.Pickups, passengerID)
	delete(r.Dropoffs, passengerID)
	delete(r.DropoffsReached, passengerID)
	r.AvailableSeats++
	return nil
}

// LocationResult reports what a location update triggered. Arrived and
// Reached only carry first arrivals; later reports inside the threshold
// leave them empty.
type LocationResult struct {
	Ride    *models.PooledRide   `json:"ride"`
	Arrived bool                 `json:"arrived"`
	Reached []models.PassengerID `json:"reached_dropoffs"`
}

// UpdateLocation stores the vehicle position and checks it against the
// ride destination and every passenger dropoff.
func (s *Service) UpdateLocation(ctx context.Context, loc models.VehicleLocation) (*LocationResult, error) {
	if err := geo.Validate(loc.Loc); err != nil {
		return nil, err
	}
	res := &LocationResult{}
	ride, err := s.mutateRide(ctx, loc.RideID, func(r *models.PooledRide) error {
		res.Arrived, res.Reached = false, nil
		r.CurrentLocation = loc.Loc
		now := s.now()

		arrived, err := tracker.HasArrived(loc.Loc, r.Destination, s.cfg.ArrivalThresholdM)
		if err != nil {
			return err
		}
		if arrived && r.ArrivedAt == nil {
			r.ArrivedAt = &now
			res.Arrived = true
		}
		reached, err := tracker.Reached(loc.Loc, r.Dropoffs, s.cfg.ArrivalThresholdM)
		if err != nil {
			return err
		}
		for _, p := range reached {
			if _, done := r.DropoffsReached[p]; done {
				continue
			}
			if r.DropoffsReached == nil {
				r.DropoffsReached = map[models.PassengerID]time.Time{}
			}
			r.DropoffsReached[p] = now
			res.Reached = append(res.Reached, p)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	res.Ride = ride

	if s.geo != nil && ride.DriverID != "" {
		if err := s.geo.Upsert(ctx, models.Driver{ID: ride.DriverID, Loc: loc.Loc, Online: true}); err != nil {
			s.logger.Warn("driver index upsert failed", "driver_id", ride.DriverID, "err", err)
		}
	}
	if res.Arrived {
		observability.ArrivalsTotal.WithLabelValues("destination").Inc()
		s.notify(ctx, ride.DriverID, models.Notification{Type: models.NotifyArrived, RideID: ride.ID, Message: "You have arrived at your destination"})
		for _, p := range ride.Passengers {
			s.notify(ctx, string(p), models.Notification{Type: models.NotifyArrived, RideID: ride.ID, Message: "The ride has arrived at its destination"})
		}
	}
	for _, p := range res.Reached {
		observability.ArrivalsTotal.WithLabelValues("dropoff").Inc()
		s.notify(ctx, string(p), models.Notification{Type: models.NotifyDropoff, RideID: ride.ID, Message: "You have reached your drop-off point", Fare: ride.PassengerFares[p]})
	}
	return res, nil
}

// Settlement is the outcome of completing a ride. Uncaptured lists
// passengers whose hold was placed but could not be captured.
type Settlement struct {
	RideID     string                        `json:"ride_id"`
	Currency   string                        `json:"currency"`
	Amounts    map[models.PassengerID]int64  `json:"amounts"`
	Holds      map[models.PassengerID]string `json:"holds,omitempty"`
	Uncaptured []models.PassengerID          `json:"uncaptured,omitempty"`
}

// CompleteRide converts fares to minor units, places a payment hold per
// passenger, deletes the ride and captures the holds. Holds already placed
// are cancelled if a later one fails, and the ride is kept.
func (s *Service) CompleteRide(ctx context.Context, rideID string) (*Settlement, error) {
	unlock := s.locks.Lock(rideID)
	defer unlock()

	ride, err := s.rides.GetRide(ctx, rideID)
	if err != nil {
		return nil, err
	}
	st := &Settlement{RideID: ride.ID, Currency: s.cfg.Currency, Amounts: map[models.PassengerID]int64{}}
	if len(ride.PassengerFares) > 0 {
		if st.Amounts, err = fare.ToMinorUnits(ride.PassengerFares, 100); err != nil {
			return nil, err
		}
	}
	ids := make([]models.PassengerID, 0, len(st.Amounts))
	for id := range st.Amounts {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })

	if s.payments != nil && len(ids) > 0 {
		st.Holds = make(map[models.PassengerID]string, len(ids))
		for _, id := range ids {
			if st.Amounts[id] == 0 {
				continue
			}
			hold, err := s.payments.Hold(ctx, st.Amounts[id], st.Currency, "", map[string]string{
				"ride_id":      ride.ID,
				"passenger_id": string(id),
			})
			if err != nil {
				s.releaseHolds(ctx, st.Holds)
				return nil, fmt.Errorf("hold fare for %s: %w", id, err)
			}
			st.Holds[id] = hold
		}
	}
	if err := s.rides.DeleteRide(ctx, rideID); err != nil {
		s.releaseHolds(ctx, st.Holds)
		return nil, err
	}
	// the ride is gone; a failed capture leaves its hold for manual follow-up
	for _, id := range ids {
		hold, ok := st.Holds[id]
		if !ok {
			continue
		}
		if err := s.payments.Capture(ctx, hold); err != nil {
			s.logger.Error("failed to capture payment hold", "ride_id", rideID, "passenger_id", id, "payment_intent", hold, "err", err)
			st.Uncaptured = append(st.Uncaptured, id)
		}
	}
	s.logger.Info("ride completed", "ride_id", rideID, "passengers", len(st.Amounts), "uncaptured", len(st.Uncaptured))
	return st, nil
}

func (s *Service) releaseHolds(ctx context.Context, holds map[models.PassengerID]string) {
	for id, h := range holds {
		if err := s.payments.Cancel(ctx, h); err != nil {
			s.logger.Error("failed to release payment hold", "passenger_id", id, "payment_intent", h, "err", err)
		}
	}
}
