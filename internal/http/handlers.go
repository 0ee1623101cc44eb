package httpapi

import (
	"context"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/example/ride-pool/internal/dispatch"
	"github.com/example/ride-pool/internal/fare"
	"github.com/example/ride-pool/internal/geo"
	"github.com/example/ride-pool/internal/models"
	"github.com/example/ride-pool/internal/observability"
	"github.com/example/ride-pool/internal/pool"
)

// LocationPublisher hands vehicle positions to the location stream.
type LocationPublisher interface {
	PublishLocation(ctx context.Context, loc models.VehicleLocation) error
}

type Deps struct {
	Pool      *pool.Service
	Geo       geo.Geo
	Publisher LocationPublisher // nil applies location updates inline
	WS        *dispatch.WSRegistry
	Logger    *slog.Logger
}

type Server struct {
	pool      *pool.Service
	geo       geo.Geo
	publisher LocationPublisher
	ws        *dispatch.WSRegistry
	logger    *slog.Logger
	mux       *mux.Router
	online    sync.Map
}

func NewServer(d Deps) *Server {
	logger := d.Logger
	if logger == nil {
		logger = slog.Default()
	}
	s := &Server{
		pool:      d.Pool,
		geo:       d.Geo,
		publisher: d.Publisher,
		ws:        d.WS,
		logger:    logger,
		mux:       mux.NewRouter(),
	}
	s.routes()
	s.registerMiddleware()
	return s
}

func (s *Server) routes() {
	api := s.mux.PathPrefix("/api/v1").Subrouter()
	api.HandleFunc("/match", s.handleMatch).Methods("POST")
	api.HandleFunc("/match/batch", s.handleMatchBatch).Methods("POST")
	api.HandleFunc("/fares/allocate", s.handleAllocateFares).Methods("POST")

	api.HandleFunc("/rides", s.handleCreateRide).Methods("POST")
	api.HandleFunc("/rides/{id}", s.handleGetRide).Methods("GET")
	api.HandleFunc("/rides/{id}/join-quote", s.handleJoinQuote).Methods("POST")
	api.HandleFunc("/rides/{id}/passengers", s.handleAdmitPassenger).Methods("POST")
	api.HandleFunc("/rides/{id}/passengers/{passenger_id}", s.handleRemovePassenger).Methods("DELETE")
	api.HandleFunc("/rides/{id}/location", s.handleRideLocation).Methods("POST")
	api.HandleFunc("/rides/{id}/complete", s.handleCompleteRide).Methods("POST")

	api.HandleFunc("/ride-requests", s.handleCreateRequest).Methods("POST")
	api.HandleFunc("/ride-requests/{id}", s.handleGetRequest).Methods("GET")
	api.HandleFunc("/ride-requests/{id}/accept", s.handleAcceptRequest).Methods("POST")
	api.HandleFunc("/ride-requests/{id}/reject", s.handleRejectRequest).Methods("POST")

	s.mux.HandleFunc("/internal/driver/locations", s.handleDriverLocation).Methods("POST")
	s.mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(200); w.Write([]byte("ok")) }).Methods("GET")
	s.mux.Handle("/metrics", promhttp.Handler())
	s.mux.HandleFunc("/ws/{user_id}", s.handleWS)
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) { s.mux.ServeHTTP(w, r) }

type matchBody struct {
	Request models.RideRequest `json:"request"`
	Offers  []models.RideOffer `json:"offers"`
}

func (s *Server) handleMatch(w http.ResponseWriter, r *http.Request) {
	var body matchBody
	if err := decodeBody(r, &body); err != nil {
		http.Error(w, err.Error(), 400)
		return
	}
	res, err := s.pool.Matcher().MatchRequestToOffers(r.Context(), body.Request, body.Offers)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"matched": res != nil, "match": res})
}

type batchBody struct {
	Requests []models.RideRequest `json:"requests"`
	Offers   []models.RideOffer   `json:"offers"`
}

func (s *Server) handleMatchBatch(w http.ResponseWriter, r *http.Request) {
	var body batchBody
	if err := decodeBody(r, &body); err != nil {
		http.Error(w, err.Error(), 400)
		return
	}
	q, err := s.pool.QuoteBatch(r.Context(), body.Requests, body.Offers)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, q)
}

type allocateBody struct {
	TotalFare float64          `json:"total_fare"`
	Distances models.Distances `json:"distances"`
}

func (s *Server) handleAllocateFares(w http.ResponseWriter, r *http.Request) {
	var body allocateBody
	if err := decodeBody(r, &body); err != nil {
		http.Error(w, err.Error(), 400)
		return
	}
	fares, err := fare.Allocate(body.TotalFare, body.Distances)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	minor, err := fare.ToMinorUnits(fares, 100)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"fares": fares, "minor_units": minor})
}

func (s *Server) handleCreateRide(w http.ResponseWriter, r *http.Request) {
	var in pool.CreateRideInput
	if err := decodeBody(r, &in); err != nil {
		http.Error(w, err.Error(), 400)
		return
	}
	ride, err := s.pool.CreateRide(r.Context(), in)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, ride)
}

func (s *Server) handleGetRide(w http.ResponseWriter, r *http.Request) {
	ride, err := s.pool.GetRide(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, ride)
}

type joinBody struct {
	PassengerID models.PassengerID `json:"passenger_id"`
	Start       models.Coord       `json:"start"`
	End         models.Coord       `json:"end"`
}

func (s *Server) handleJoinQuote(w http.ResponseWriter, r *http.Request) {
	var body joinBody
	if err := decodeBody(r, &body); err != nil {
		http.Error(w, err.Error(), 400)
		return
	}
	q, err := s.pool.QuoteJoin(r.Context(), mux.Vars(r)["id"], body.PassengerID, body.Start, body.End)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, q)
}

func (s *Server) handleAdmitPassenger(w http.ResponseWriter, r *http.Request) {
	var body joinBody
	if err := decodeBody(r, &body); err != nil {
		http.Error(w, err.Error(), 400)
		return
	}
	ride, err := s.pool.AdmitPassenger(r.Context(), mux.Vars(r)["id"], body.PassengerID, body.Start, body.End)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, ride)
}

func (s *Server) handleRemovePassenger(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	ride, err := s.pool.RemovePassenger(r.Context(), vars["id"], models.PassengerID(vars["passenger_id"]))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, ride)
}

type locationBody struct {
	DriverID string       `json:"driver_id"`
	Loc      models.Coord `json:"loc"`
}

func (s *Server) handleRideLocation(w http.ResponseWriter, r *http.Request) {
	var body locationBody
	if err := decodeBody(r, &body); err != nil {
		http.Error(w, err.Error(), 400)
		return
	}
	if err := geo.Validate(body.Loc); err != nil {
		s.writeError(w, r, err)
		return
	}
	loc := models.VehicleLocation{RideID: mux.Vars(r)["id"], DriverID: body.DriverID, Loc: body.Loc, At: time.Now().UTC()}
	// publish to kafka if configured
	if s.publisher != nil {
		if err := s.publisher.PublishLocation(r.Context(), loc); err != nil {
			s.loggerFor(r.Context()).Warn("location publish failed, applying inline", "err", err)
		} else {
			w.WriteHeader(http.StatusAccepted)
			return
		}
	}
	res, err := s.pool.UpdateLocation(r.Context(), loc)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (s *Server) handleCompleteRide(w http.ResponseWriter, r *http.Request) {
	st, err := s.pool.CompleteRide(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, st)
}

func (s *Server) handleCreateRequest(w http.ResponseWriter, r *http.Request) {
	var in pool.CreateRequestInput
	if err := decodeBody(r, &in); err != nil {
		http.Error(w, err.Error(), 400)
		return
	}
	req, err := s.pool.CreateRequest(r.Context(), in)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, req)
}

func (s *Server) handleGetRequest(w http.ResponseWriter, r *http.Request) {
	req, err := s.pool.GetRequest(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, req)
}

type acceptBody struct {
	RideID   string `json:"ride_id"`
	DriverID string `json:"driver_id"`
}

func (s *Server) handleAcceptRequest(w http.ResponseWriter, r *http.Request) {
	var body acceptBody
	if err := decodeBody(r, &body); err != nil {
		http.Error(w, err.Error(), 400)
		return
	}
	res, err := s.pool.AcceptRequest(r.Context(), mux.Vars(r)["id"], body.RideID, body.DriverID)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (s *Server) handleRejectRequest(w http.ResponseWriter, r *http.Request) {
	req, err := s.pool.RejectRequest(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, req)
}

func (s *Server) handleDriverLocation(w http.ResponseWriter, r *http.Request) {
	var d models.Driver
	if err := decodeBody(r, &d); err != nil {
		http.Error(w, err.Error(), 400)
		return
	}
	if err := s.geo.Upsert(r.Context(), d); err != nil {
		s.writeError(w, r, err)
		return
	}
	// gauge tracks distinct online drivers
	if d.Online {
		if _, seen := s.online.LoadOrStore(d.ID, struct{}{}); !seen {
			observability.DriversOnline.Inc()
		}
	} else if _, seen := s.online.LoadAndDelete(d.ID); seen {
		observability.DriversOnline.Dec()
	}
	w.WriteHeader(http.StatusNoContent)
}

var upgrader = websocket.Upgrader{}

func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["user_id"]
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.loggerFor(r.Context()).Warn("websocket upgrade failed", "err", err)
		return
	}
	s.ws.Add(id, conn)
	// drain reads so close frames are processed; the session ends on error
	go func() {
		defer s.ws.Remove(id, conn)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()
}
