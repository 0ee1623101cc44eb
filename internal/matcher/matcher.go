// Package matcher picks, for a passenger request, the driver offer whose
// route passes closest to both pickup and dropoff in the right order.
package matcher

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/example/ride-pool/internal/geo"
	"github.com/example/ride-pool/internal/models"
	"github.com/example/ride-pool/internal/observability"
	"github.com/example/ride-pool/internal/polyline"
	"github.com/example/ride-pool/internal/routegeom"
	"github.com/example/ride-pool/internal/routing"
)

const defaultFetchConcurrency = 8

type Service struct {
	Routes           routing.Provider // used for offers without an encoded route
	Tolerance        float64          // degrees; <= 0 selects routegeom.DefaultToleranceDegrees
	FetchConcurrency int
	Logger           *slog.Logger
}

func (s *Service) logger() *slog.Logger {
	if s.Logger == nil {
		return slog.Default()
	}
	return s.Logger
}

// MatchRequestToOffers returns the best offer for req, or nil when no offer
// qualifies. Errors are reserved for an invalid request and retryable route
// provider failures.
func (s *Service) MatchRequestToOffers(ctx context.Context, req models.RideRequest, offers []models.RideOffer) (*models.MatchResult, error) {
	start := time.Now()
	defer func() { observability.MatchLatency.Observe(time.Since(start).Seconds()) }()

	if err := validateRequest(req); err != nil {
		return nil, err
	}
	routes, err := s.resolveRoutes(ctx, offers)
	if err != nil {
		return nil, err
	}
	res := s.best(req, offers, routes, nil)
	s.record(req, res)
	return res, nil
}

// MatchAll matches requests in input order against a shared set of offers.
// Offer routes are resolved once. A match consumes one free seat of the
// chosen offer; the result slice is aligned with requests and holds nil for
// unmatched ones.
func (s *Service) MatchAll(ctx context.Context, requests []models.RideRequest, offers []models.RideOffer) ([]*models.MatchResult, error) {
	start := time.Now()
	defer func() { observability.MatchLatency.Observe(time.Since(start).Seconds()) }()

	for _, req := range requests {
		if err := validateRequest(req); err != nil {
			return nil, fmt.Errorf("request %s: %w", req.ID, err)
		}
	}
	routes, err := s.resolveRoutes(ctx, offers)
	if err != nil {
		return nil, err
	}
	seats := make([]int, len(offers))
	for i, o := range offers {
		seats[i] = o.FreeSeats
	}
	out := make([]*models.MatchResult, len(requests))
	for i, req := range requests {
		res := s.best(req, offers, routes, seats)
		s.record(req, res)
		if res != nil {
			seats[res.OfferIndex]--
			out[i] = res
		}
	}
	return out, nil
}

type decodedRoute struct {
	nodes   []models.Coord
	encoded string
}

// resolveRoutes decodes every offer route, fetching the missing ones
// concurrently. Offers without a usable route are left nil.
func (s *Service) resolveRoutes(ctx context.Context, offers []models.RideOffer) ([]*decodedRoute, error) {
	routes := make([]*decodedRoute, len(offers))
	g, gctx := errgroup.WithContext(ctx)
	limit := s.FetchConcurrency
	if limit <= 0 {
		limit = defaultFetchConcurrency
	}
	g.SetLimit(limit)
	for i, offer := range offers {
		i, offer := i, offer
		g.Go(func() error {
			encoded := offer.EncodedRoute
			if encoded == "" {
				if s.Routes == nil {
					s.logger().Debug("offer has no route and no provider configured", "offer_id", offer.ID)
					return nil
				}
				r, err := s.Routes.FetchRoute(gctx, offer.Source, offer.Destination)
				if errors.Is(err, routing.ErrNoRoute) {
					s.logger().Debug("no route for offer", "offer_id", offer.ID)
					return nil
				}
				if err != nil {
					return fmt.Errorf("fetch route for offer %s: %w", offer.ID, err)
				}
				encoded = r.Encoded
			}
			nodes, err := polyline.Decode(encoded)
			if err != nil {
				s.logger().Warn("skipping offer with undecodable route", "offer_id", offer.ID, "err", err)
				return nil
			}
			if len(nodes) == 0 {
				return nil
			}
			routes[i] = &decodedRoute{nodes: nodes, encoded: encoded}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return routes, nil
}

// best scans offers in order and keeps the strictly lowest score, so ties
// go to the earliest offer. seats, when non-nil, excludes exhausted offers.
func (s *Service) best(req models.RideRequest, offers []models.RideOffer, routes []*decodedRoute, seats []int) *models.MatchResult {
	var winner *models.MatchResult
	bestScore := math.Inf(1)
	for i, offer := range offers {
		r := routes[i]
		if r == nil || (seats != nil && seats[i] <= 0) {
			continue
		}
		srcNode, ok := routegeom.Locate(r.nodes, req.Source, s.Tolerance)
		if !ok {
			continue
		}
		dstNode, ok := routegeom.Locate(r.nodes, req.Destination, s.Tolerance)
		if !ok {
			continue
		}
		if !routegeom.CheckDirection(r.nodes, srcNode, dstNode) {
			continue
		}
		score := routegeom.PlanarDistance(srcNode, req.Source) + routegeom.PlanarDistance(dstNode, req.Destination)
		if score >= bestScore {
			continue
		}
		segKm, err := routegeom.SegmentLengthKm(r.nodes, routegeom.IndexOf(r.nodes, srcNode), routegeom.IndexOf(r.nodes, dstNode))
		if err != nil {
			s.logger().Warn("skipping offer with invalid route node", "offer_id", offer.ID, "err", err)
			continue
		}
		bestScore = score
		winner = &models.MatchResult{
			RequestID:           req.ID,
			Offer:               offer,
			OfferIndex:          i,
			SourceNode:          srcNode,
			DestinationNode:     dstNode,
			Route:               r.nodes,
			EncodedRoute:        r.encoded,
			Score:               score,
			PassengerDistanceKm: segKm,
		}
	}
	return winner
}

func (s *Service) record(req models.RideRequest, res *models.MatchResult) {
	if res == nil {
		observability.UnmatchedTotal.Inc()
		s.logger().Info("no offer matched request", "request_id", req.ID)
		return
	}
	observability.MatchesTotal.Inc()
	s.logger().Info("matched request", "request_id", req.ID, "offer_id", res.Offer.ID, "score", res.Score)
}

func validateRequest(req models.RideRequest) error {
	if err := geo.Validate(req.Source); err != nil {
		return err
	}
	return geo.Validate(req.Destination)
}
