package models

import (
	"sort"
	"time"
)

// Coord is a latitude/longitude pair in decimal degrees.
type Coord struct {
	Lat float64 `json:"lat"`
	Lng float64 `json:"lng"`
}

// PassengerID identifies a passenger inside a pooled ride.
type PassengerID string

// Distances maps passengers to travel distance in km.
type Distances map[PassengerID]float64

// Fares maps passengers to allocated fare amounts.
type Fares map[PassengerID]float64

type RequestStatus string

const (
	RequestPending  RequestStatus = "pending"
	RequestAccepted RequestStatus = "accepted"
	RequestRejected RequestStatus = "rejected"
)

// RideOffer is a driver-side candidate used during matching.
type RideOffer struct {
	ID           string `json:"id"`
	DriverID     string `json:"driver_id,omitempty"`
	Source       Coord  `json:"source"`
	Destination  Coord  `json:"destination"`
	EncodedRoute string `json:"encoded_route,omitempty"`
	FreeSeats    int    `json:"free_seats"`
}

// RideRequest is a passenger's ask for a ride.
type RideRequest struct {
	ID           string        `json:"id"`
	PassengerID  PassengerID   `json:"passenger_id"`
	Source       Coord         `json:"source"`
	Destination  Coord         `json:"destination"`
	Status       RequestStatus `json:"status"`
	EncodedRoute string        `json:"encoded_route,omitempty"`
	Pooled       bool          `json:"pooled"`
	ScheduledAt  *time.Time    `json:"scheduled_at,omitempty"`
	DriverID     string        `json:"driver_id,omitempty"`
	RequestedAt  time.Time     `json:"requested_at"`
	UpdatedAt    time.Time     `json:"updated_at"`
}

// PooledRide is a single vehicle trip shared by several passengers.
// Passengers, PassengerDistances and PassengerFares always carry the same key set.
type PooledRide struct {
	ID                 string                    `json:"id"`
	DriverID           string                    `json:"driver_id"`
	Origin             Coord                     `json:"origin"`
	Destination        Coord                     `json:"destination"`
	CurrentRoute       string                    `json:"current_route"`
	Passengers         []PassengerID             `json:"passengers"`
	PassengerDistances Distances                 `json:"passenger_distances"`
	PassengerFares     Fares                     `json:"passenger_fares"`
	Pickups            map[PassengerID]Coord     `json:"pickups"`
	Dropoffs           map[PassengerID]Coord     `json:"dropoffs"`
	InitialSeats       int                       `json:"initial_seats"`
	AvailableSeats     int                       `json:"available_seats"`
	RatePerKm          float64                   `json:"rate_per_km"`
	ExtraDistanceKm    float64                   `json:"extra_distance_km"`
	TotalFare          float64                   `json:"total_fare"`
	CurrentLocation    Coord                     `json:"current_location"`
	ArrivedAt          *time.Time                `json:"arrived_at,omitempty"`
	DropoffsReached    map[PassengerID]time.Time `json:"dropoffs_reached,omitempty"`
	Version            int64                     `json:"version"`
	CreatedAt          time.Time                 `json:"created_at"`
	UpdatedAt          time.Time                 `json:"updated_at"`
}

// HasPassenger reports whether id is already part of the ride.
func (r *PooledRide) HasPassenger(id PassengerID) bool {
	for _, p := range r.Passengers {
		if p == id {
			return true
		}
	}
	return false
}

// Clone returns a deep copy so callers can mutate without touching shared state.
func (r *PooledRide) Clone() *PooledRide {
	if r == nil {
		return nil
	}
	c := *r
	c.Passengers = append([]PassengerID(nil), r.Passengers...)
	c.PassengerDistances = make(Distances, len(r.PassengerDistances))
	for k, v := range r.PassengerDistances {
		c.PassengerDistances[k] = v
	}
	c.PassengerFares = make(Fares, len(r.PassengerFares))
	for k, v := range r.PassengerFares {
		c.PassengerFares[k] = v
	}
	c.Pickups = make(map[PassengerID]Coord, len(r.Pickups))
	for k, v := range r.Pickups {
		c.Pickups[k] = v
	}
	c.Dropoffs = make(map[PassengerID]Coord, len(r.Dropoffs))
	for k, v := range r.Dropoffs {
		c.Dropoffs[k] = v
	}
	if r.ArrivedAt != nil {
		at := *r.ArrivedAt
		c.ArrivedAt = &at
	}
	c.DropoffsReached = make(map[PassengerID]time.Time, len(r.DropoffsReached))
	for k, v := range r.DropoffsReached {
		c.DropoffsReached[k] = v
	}
	return &c
}

// SortedIDs returns the keys of d in ascending order.
func (d Distances) SortedIDs() []PassengerID {
	ids := make([]PassengerID, 0, len(d))
	for id := range d {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

// MatchResult is the outcome of matching one request against a set of offers.
type MatchResult struct {
	RequestID           string    `json:"request_id,omitempty"`
	Offer               RideOffer `json:"offer"`
	OfferIndex          int       `json:"offer_index"` // position of Offer in the matched slice
	SourceNode          Coord     `json:"closest_source_node"`
	DestinationNode     Coord     `json:"closest_destination_node"`
	Route               []Coord   `json:"-"`
	EncodedRoute        string    `json:"route"`
	Score               float64   `json:"score"`
	PassengerDistanceKm float64   `json:"passenger_distance_km"`
}

// VehicleLocation is a position report for a running ride.
type VehicleLocation struct {
	RideID   string    `json:"ride_id"`
	DriverID string    `json:"driver_id,omitempty"`
	Loc      Coord     `json:"loc"`
	At       time.Time `json:"at"`
}

// Driver is an entry in the nearby-driver index.
type Driver struct {
	ID      string    `json:"id"`
	Loc     Coord     `json:"loc"`
	Online  bool      `json:"online"`
	Updated time.Time `json:"updated"`
}

type NotificationType string

const (
	NotifyRideRequest     NotificationType = "ride_request"
	NotifyRequestAccepted NotificationType = "request_accepted"
	NotifyJoinRequest     NotificationType = "join_request"
	NotifyPassengerJoined NotificationType = "passenger_joined"
	NotifyFaresUpdated    NotificationType = "fares_updated"
	NotifyArrived         NotificationType = "arrived"
	NotifyDropoff         NotificationType = "dropoff_reached"
)

// Notification is handed to the notification sink.
type Notification struct {
	Type       NotificationType `json:"type"`
	RideID     string           `json:"ride_id,omitempty"`
	RequestID  string           `json:"request_id,omitempty"`
	Message    string           `json:"message"`
	Fare       float64          `json:"fare,omitempty"`
	ETASeconds float64          `json:"eta_seconds,omitempty"`
	DetourKm   float64          `json:"detour_km,omitempty"`
}
