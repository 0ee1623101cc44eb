package httpapi

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/example/ride-pool/internal/fare"
	"github.com/example/ride-pool/internal/geo"
	"github.com/example/ride-pool/internal/polyline"
	"github.com/example/ride-pool/internal/pool"
	"github.com/example/ride-pool/internal/routegeom"
	"github.com/example/ride-pool/internal/routing"
	"github.com/example/ride-pool/internal/storage"
)

type errorBody struct {
	Error     string `json:"error"`
	Retryable bool   `json:"retryable,omitempty"`
	TraceID   string `json:"trace_id,omitempty"`
}

func statusFor(err error) int {
	var ice *geo.InvalidCoordinateError
	var de *polyline.DecodeError
	switch {
	case errors.Is(err, storage.ErrNotFound), errors.Is(err, pool.ErrPassengerNotInRide):
		return http.StatusNotFound
	case errors.Is(err, pool.ErrNotRideDriver):
		return http.StatusForbidden
	case errors.Is(err, pool.ErrRideFull), errors.Is(err, pool.ErrAlreadyInRide),
		errors.Is(err, pool.ErrRequestNotPending), errors.Is(err, pool.ErrConflict):
		return http.StatusConflict
	case errors.As(err, &ice), errors.Is(err, pool.ErrInvalidSeats), errors.Is(err, pool.ErrPassengerRequired),
		errors.Is(err, fare.ErrNoPassengers), errors.Is(err, fare.ErrInvalidFare),
		errors.Is(err, fare.ErrInvalidDistance), errors.Is(err, fare.ErrInvalidRate):
		return http.StatusBadRequest
	case errors.Is(err, pool.ErrWrongDirection), errors.Is(err, pool.ErrDetourTooLong),
		errors.Is(err, routing.ErrNoRoute), errors.Is(err, routegeom.ErrEmptyCandidates), errors.As(err, &de):
		return http.StatusUnprocessableEntity
	case routing.IsRetryable(err):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func (s *Server) writeError(w http.ResponseWriter, r *http.Request, err error) {
	status := statusFor(err)
	body := errorBody{Error: err.Error(), Retryable: routing.IsRetryable(err), TraceID: traceIDFromContext(r.Context())}
	if status == http.StatusInternalServerError {
		s.loggerFor(r.Context()).Error("request failed", "err", err)
		body.Error = "internal error"
	}
	writeJSON(w, status, body)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func decodeBody(r *http.Request, v any) error {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	return dec.Decode(v)
}
