package pool

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/example/ride-pool/internal/fare"
	"github.com/example/ride-pool/internal/geo"
	"github.com/example/ride-pool/internal/models"
	"github.com/example/ride-pool/internal/polyline"
	"github.com/example/ride-pool/internal/routing"
	"github.com/example/ride-pool/internal/storage"
)

type CreateRequestInput struct {
	PassengerID models.PassengerID `json:"passenger_id"`
	Source      models.Coord       `json:"source"`
	Destination models.Coord       `json:"destination"`
	Pooled      bool               `json:"pooled"`
	ScheduledAt *time.Time         `json:"scheduled_at,omitempty"`
}

// CreateRequest stores a pending request with the passenger's own shortest
// path and tells nearby drivers about it.
func (s *Service) CreateRequest(ctx context.Context, in CreateRequestInput) (*models.RideRequest, error) {
	if strings.TrimSpace(string(in.PassengerID)) == "" {
		return nil, ErrPassengerRequired
	}
	if err := geo.Validate(in.Source); err != nil {
		return nil, err
	}
	if err := geo.Validate(in.Destination); err != nil {
		return nil, err
	}
	route, err := s.routes.FetchRoute(ctx, in.Source, in.Destination)
	if err != nil {
		return nil, fmt.Errorf("fetch passenger route: %w", err)
	}
	now := s.now()
	req := &models.RideRequest{
		ID:           uuid.NewString(),
		PassengerID:  in.PassengerID,
		Source:       in.Source,
		Destination:  in.Destination,
		Status:       models.RequestPending,
		EncodedRoute: route.Encoded,
		Pooled:       in.Pooled,
		ScheduledAt:  in.ScheduledAt,
		RequestedAt:  now,
		UpdatedAt:    now,
	}
	if err := s.requests.CreateRequest(ctx, req); err != nil {
		return nil, err
	}
	s.logger.Info("ride request created", "request_id", req.ID, "passenger_id", req.PassengerID)
	s.notifyNearbyDrivers(ctx, req)
	return req, nil
}

func (s *Service) notifyNearbyDrivers(ctx context.Context, req *models.RideRequest) {
	if s.geo == nil {
		return
	}
	drivers, err := s.geo.Nearby(ctx, req.Source, s.cfg.NearbyRadiusKm, s.cfg.NearbyLimit)
	if err != nil {
		s.logger.Warn("nearby driver lookup failed", "request_id", req.ID, "err", err)
		return
	}
	for _, d := range drivers {
		s.notify(ctx, d.ID, models.Notification{
			Type:      models.NotifyRideRequest,
			RequestID: req.ID,
			Message:   "New ride request nearby",
		})
	}
}

func (s *Service) GetRequest(ctx context.Context, id string) (*models.RideRequest, error) {
	return s.requests.GetRequest(ctx, id)
}

// AcceptResult is returned when a driver accepts a request into a ride.
type AcceptResult struct {
	Ride       *models.PooledRide  `json:"ride"`
	Request    *models.RideRequest `json:"request"`
	Fare       float64             `json:"fare"`
	ETASeconds float64             `json:"eta_seconds"`
}

// AcceptRequest admits the requesting passenger into rideID and marks the
// request accepted. An empty ride takes over the passenger's own path and
// destination and is re-priced on it. An occupied ride must pass the same
// direction and detour checks as a join. The ride is mutated first; if
// another accept claimed the request in the meantime the passenger is
// removed again.
func (s *Service) AcceptRequest(ctx context.Context, requestID, rideID, driverID string) (*AcceptResult, error) {
	req, err := s.requests.GetRequest(ctx, requestID)
	if err != nil {
		return nil, err
	}
	if req.Status != models.RequestPending {
		return nil, ErrRequestNotPending
	}
	distance, err := requestDistanceKm(req)
	if err != nil {
		return nil, err
	}

	var undo acceptUndo
	ride, err := s.mutateRide(ctx, rideID, func(r *models.PooledRide) error {
		if driverID != "" && r.DriverID != driverID {
			return ErrNotRideDriver
		}
		if r.HasPassenger(req.PassengerID) {
			return ErrAlreadyInRide
		}
		if r.AvailableSeats <= 0 {
			return ErrRideFull
		}
		undo = acceptUndo{
			route:       r.CurrentRoute,
			destination: r.Destination,
			extraKm:     r.ExtraDistanceKm,
			arrivedAt:   r.ArrivedAt,
		}
		if len(r.Passengers) == 0 && req.EncodedRoute != "" {
			undo.adopted = true
			r.CurrentRoute = req.EncodedRoute
			r.Destination = req.Destination
			r.ExtraDistanceKm = 0
			r.ArrivedAt = nil
			if err := reprice(r); err != nil {
				return err
			}
			addPassenger(r, req.PassengerID, distance, req.Source, req.Destination)
			return reallocate(r)
		}
		q, err := s.join(r, req.PassengerID, req.Source, req.Destination)
		if err != nil {
			return err
		}
		undo.detourKm = q.DetourKm
		return nil
	})
	if err != nil {
		return nil, err
	}

	claimed, err := s.requests.TransitionRequest(ctx, requestID, models.RequestPending, models.RequestAccepted, ride.DriverID)
	if err != nil {
		if _, rerr := s.mutateRide(ctx, rideID, undo.revert(req.PassengerID)); rerr != nil {
			s.logger.Error("failed to roll back passenger after lost claim", "ride_id", rideID, "passenger_id", req.PassengerID, "err", rerr)
		}
		if errors.Is(err, storage.ErrStatusConflict) {
			return nil, ErrRequestNotPending
		}
		return nil, err
	}

	eta := routing.ETASeconds(ctx, s.routes, ride.CurrentLocation, req.Source, s.cfg.DefaultSpeedMps)
	res := &AcceptResult{Ride: ride, Request: claimed, Fare: ride.PassengerFares[req.PassengerID], ETASeconds: eta}
	s.logger.Info("ride request accepted", "request_id", requestID, "ride_id", rideID, "fare", res.Fare, "eta_seconds", eta, "route_adopted", undo.adopted)
	s.notify(ctx, string(req.PassengerID), models.Notification{
		Type:       models.NotifyRequestAccepted,
		RideID:     ride.ID,
		RequestID:  requestID,
		Message:    fmt.Sprintf("Your ride request has been accepted. Estimated arrival in %.0f minutes", eta/60),
		Fare:       res.Fare,
		ETASeconds: eta,
	})
	s.notifyFares(ctx, ride, req.PassengerID)
	return res, nil
}

// acceptUndo remembers what admitting a request changed on the ride.
type acceptUndo struct {
	adopted     bool
	route       string
	destination models.Coord
	extraKm     float64
	arrivedAt   *time.Time
	detourKm    float64
}

// revert removes the passenger again. An adopted route is handed back only
// while nobody else has joined it.
func (u acceptUndo) revert(passengerID models.PassengerID) func(r *models.PooledRide) error {
	return func(r *models.PooledRide) error {
		if err := dropPassenger(r, passengerID); err != nil {
			return err
		}
		switch {
		case u.adopted && len(r.Passengers) == 0:
			r.CurrentRoute = u.route
			r.Destination = u.destination
			r.ExtraDistanceKm = u.extraKm
			r.ArrivedAt = u.arrivedAt
		case !u.adopted:
			r.ExtraDistanceKm = math.Max(0, r.ExtraDistanceKm-u.detourKm)
		}
		if err := reprice(r); err != nil {
			return err
		}
		return reallocate(r)
	}
}

// requestDistanceKm is the length of the passenger's own shortest path,
// or the straight-line distance when no path was stored.
func requestDistanceKm(req *models.RideRequest) (float64, error) {
	if req.EncodedRoute == "" {
		return geo.HaversineKm(req.Source, req.Destination)
	}
	nodes, err := polyline.Decode(req.EncodedRoute)
	if err != nil {
		return 0, err
	}
	return geo.PathLengthKm(nodes)
}

func (s *Service) RejectRequest(ctx context.Context, requestID string) (*models.RideRequest, error) {
	r, err := s.requests.TransitionRequest(ctx, requestID, models.RequestPending, models.RequestRejected, "")
	if errors.Is(err, storage.ErrStatusConflict) {
		return nil, ErrRequestNotPending
	}
	return r, err
}

// OfferQuote groups the batch matches that landed on one offer together
// with the proportional split of that offer's route fare.
type OfferQuote struct {
	Offer     models.RideOffer      `json:"offer"`
	Matches   []*models.MatchResult `json:"matches"`
	TotalFare float64               `json:"total_fare"`
	Fares     models.Fares          `json:"fares"`
}

type BatchQuote struct {
	Offers    []OfferQuote `json:"offers"`
	Unmatched []string     `json:"unmatched_request_ids"`
}

// QuoteBatch matches all requests against offers and prices each offer's
// resulting pool.
func (s *Service) QuoteBatch(ctx context.Context, requests []models.RideRequest, offers []models.RideOffer) (*BatchQuote, error) {
	results, err := s.matcher.MatchAll(ctx, requests, offers)
	if err != nil {
		return nil, err
	}
	out := &BatchQuote{Offers: []OfferQuote{}, Unmatched: []string{}}
	// keyed by position so offers sharing an id stay separate pools
	byOffer := make(map[int]int)
	for i, res := range results {
		if res == nil {
			out.Unmatched = append(out.Unmatched, requests[i].ID)
			continue
		}
		idx, ok := byOffer[res.OfferIndex]
		if !ok {
			total, err := fare.TotalFromRoute(res.Route, s.cfg.RatePerKm)
			if err != nil {
				return nil, err
			}
			out.Offers = append(out.Offers, OfferQuote{Offer: res.Offer, TotalFare: total})
			idx = len(out.Offers) - 1
			byOffer[res.OfferIndex] = idx
		}
		out.Offers[idx].Matches = append(out.Offers[idx].Matches, res)
	}
	for i := range out.Offers {
		q := &out.Offers[i]
		distances := make(models.Distances, len(q.Matches))
		for _, m := range q.Matches {
			distances[batchPassengerKey(m, requests)] += m.PassengerDistanceKm
		}
		fares, err := fare.Allocate(q.TotalFare, distances)
		if err != nil {
			return nil, err
		}
		q.Fares = fares
	}
	return out, nil
}

func batchPassengerKey(m *models.MatchResult, requests []models.RideRequest) models.PassengerID {
	for _, r := range requests {
		if r.ID == m.RequestID && r.PassengerID != "" {
			return r.PassengerID
		}
	}
	return models.PassengerID(m.RequestID)
}
