package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/lib/pq"

	"github.com/example/ride-pool/internal/models"
)

type PostgresStore struct {
	db *sql.DB
}

func NewPostgresStore(dsn string) (*PostgresStore, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, err
	}
	// quick ping
	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, err
	}
	return &PostgresStore{db: db}, nil
}

func (p *PostgresStore) Close() error { return p.db.Close() }

// Migrate executes a schema script, typically migrations/001_create_pool.sql.
func (p *PostgresStore) Migrate(ctx context.Context, script string) error {
	_, err := p.db.ExecContext(ctx, script)
	return err
}

// MigrateDir applies every *.sql script in dir in file name order and
// returns the names it ran. Scripts must be idempotent.
func (p *PostgresStore) MigrateDir(ctx context.Context, dir string) ([]string, error) {
	files, err := filepath.Glob(filepath.Join(dir, "*.sql"))
	if err != nil {
		return nil, err
	}
	applied := make([]string, 0, len(files))
	for _, f := range files {
		b, err := os.ReadFile(f)
		if err != nil {
			return applied, err
		}
		if err := p.Migrate(ctx, string(b)); err != nil {
			return applied, fmt.Errorf("%s: %w", filepath.Base(f), err)
		}
		applied = append(applied, filepath.Base(f))
	}
	return applied, nil
}

// rideDoc holds the jsonb encoded collections of a ride.
type rideDoc struct {
	passengers, distances, fares, pickups, dropoffs, reached []byte
}

func encodeRide(r *models.PooledRide) (rideDoc, error) {
	var d rideDoc
	var err error
	if d.passengers, err = json.Marshal(nonNilPassengers(r.Passengers)); err != nil {
		return d, err
	}
	if d.distances, err = json.Marshal(r.PassengerDistances); err != nil {
		return d, err
	}
	if d.fares, err = json.Marshal(r.PassengerFares); err != nil {
		return d, err
	}
	if d.pickups, err = json.Marshal(r.Pickups); err != nil {
		return d, err
	}
	if d.dropoffs, err = json.Marshal(r.Dropoffs); err != nil {
		return d, err
	}
	reached := r.DropoffsReached
	if reached == nil {
		reached = map[models.PassengerID]time.Time{}
	}
	d.reached, err = json.Marshal(reached)
	return d, err
}

func nonNilPassengers(p []models.PassengerID) []models.PassengerID {
	if p == nil {
		return []models.PassengerID{}
	}
	return p
}

func (p *PostgresStore) CreateRide(ctx context.Context, r *models.PooledRide) error {
	d, err := encodeRide(r)
	if err != nil {
		return fmt.Errorf("encode ride: %w", err)
	}
	if r.Version == 0 {
		r.Version = 1
	}
	_, err = p.db.ExecContext(ctx, `INSERT INTO pooled_rides(
		id, driver_id, origin_lat, origin_lng, dest_lat, dest_lng, current_route,
		passengers, passenger_distances, passenger_fares, pickups, dropoffs,
		initial_seats, available_seats, rate_per_km, extra_distance_km, total_fare,
		current_lat, current_lng, arrived_at, dropoffs_reached, version, created_at, updated_at)
		VALUES($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17,$18,$19,$20,$21,$22,$23,$24)`,
		r.ID, r.DriverID, r.Origin.Lat, r.Origin.Lng, r.Destination.Lat, r.Destination.Lng, r.CurrentRoute,
		string(d.passengers), string(d.distances), string(d.fares), string(d.pickups), string(d.dropoffs),
		r.InitialSeats, r.AvailableSeats, r.RatePerKm, r.ExtraDistanceKm, r.TotalFare,
		r.CurrentLocation.Lat, r.CurrentLocation.Lng, nullTime(r.ArrivedAt), string(d.reached), r.Version, r.CreatedAt, r.UpdatedAt)
	return err
}

func (p *PostgresStore) GetRide(ctx context.Context, id string) (*models.PooledRide, error) {
	row := p.db.QueryRowContext(ctx, `SELECT
		id, driver_id, origin_lat, origin_lng, dest_lat, dest_lng, current_route,
		passengers, passenger_distances, passenger_fares, pickups, dropoffs,
		initial_seats, available_seats, rate_per_km, extra_distance_km, total_fare,
		current_lat, current_lng, arrived_at, dropoffs_reached, version, created_at, updated_at
		FROM pooled_rides WHERE id=$1`, id)
	var r models.PooledRide
	var d rideDoc
	var arrived pq.NullTime
	err := row.Scan(&r.ID, &r.DriverID, &r.Origin.Lat, &r.Origin.Lng, &r.Destination.Lat, &r.Destination.Lng, &r.CurrentRoute,
		&d.passengers, &d.distances, &d.fares, &d.pickups, &d.dropoffs,
		&r.InitialSeats, &r.AvailableSeats, &r.RatePerKm, &r.ExtraDistanceKm, &r.TotalFare,
		&r.CurrentLocation.Lat, &r.CurrentLocation.Lng, &arrived, &d.reached, &r.Version, &r.CreatedAt, &r.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	for _, f := range []struct {
		raw []byte
		dst any
	}{
		{d.passengers, &r.Passengers},
		{d.distances, &r.PassengerDistances},
		{d.fares, &r.PassengerFares},
		{d.pickups, &r.Pickups},
		{d.dropoffs, &r.Dropoffs},
		{d.reached, &r.DropoffsReached},
	} {
		if err := json.Unmarshal(f.raw, f.dst); err != nil {
			return nil, fmt.Errorf("decode ride %s: %w", id, err)
		}
	}
	if arrived.Valid {
		r.ArrivedAt = &arrived.Time
	}
	return &r, nil
}

func (p *PostgresStore) UpdateRide(ctx context.Context, r *models.PooledRide) error {
	d, err := encodeRide(r)
	if err != nil {
		return fmt.Errorf("encode ride: %w", err)
	}
	now := time.Now()
	res, err := p.db.ExecContext(ctx, `UPDATE pooled_rides SET
		dest_lat=$1, dest_lng=$2, current_route=$3, passengers=$4, passenger_distances=$5, passenger_fares=$6,
		pickups=$7, dropoffs=$8, available_seats=$9, extra_distance_km=$10, total_fare=$11,
		current_lat=$12, current_lng=$13, arrived_at=$14, dropoffs_reached=$15,
		version=version+1, updated_at=$16
		WHERE id=$17 AND version=$18`,
		r.Destination.Lat, r.Destination.Lng, r.CurrentRoute, string(d.passengers), string(d.distances), string(d.fares),
		string(d.pickups), string(d.dropoffs), r.AvailableSeats, r.ExtraDistanceKm, r.TotalFare,
		r.CurrentLocation.Lat, r.CurrentLocation.Lng, nullTime(r.ArrivedAt), string(d.reached),
		now, r.ID, r.Version)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		if _, err := p.GetRide(ctx, r.ID); errors.Is(err, ErrNotFound) {
			return ErrNotFound
		}
		return ErrVersionConflict
	}
	r.Version++
	r.UpdatedAt = now
	return nil
}

func (p *PostgresStore) DeleteRide(ctx context.Context, id string) error {
	res, err := p.db.ExecContext(ctx, `DELETE FROM pooled_rides WHERE id=$1`, id)
	if err != nil {
		return err
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return ErrNotFound
	}
	return nil
}

func (p *PostgresStore) CreateRequest(ctx context.Context, r *models.RideRequest) error {
	_, err := p.db.ExecContext(ctx, `INSERT INTO ride_requests(
		id, passenger_id, source_lat, source_lng, dest_lat, dest_lng, status,
		encoded_route, pooled, scheduled_at, driver_id, requested_at, updated_at)
		VALUES($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13)`,
		r.ID, string(r.PassengerID), r.Source.Lat, r.Source.Lng, r.Destination.Lat, r.Destination.Lng, string(r.Status),
		r.EncodedRoute, r.Pooled, nullTime(r.ScheduledAt), r.DriverID, r.RequestedAt, r.UpdatedAt)
	return err
}

const requestColumns = `id, passenger_id, source_lat, source_lng, dest_lat, dest_lng, status,
	encoded_route, pooled, scheduled_at, driver_id, requested_at, updated_at`

func scanRequest(row *sql.Row) (*models.RideRequest, error) {
	var r models.RideRequest
	var passenger, status string
	var scheduled pq.NullTime
	err := row.Scan(&r.ID, &passenger, &r.Source.Lat, &r.Source.Lng, &r.Destination.Lat, &r.Destination.Lng, &status,
		&r.EncodedRoute, &r.Pooled, &scheduled, &r.DriverID, &r.RequestedAt, &r.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	r.PassengerID = models.PassengerID(passenger)
	r.Status = models.RequestStatus(status)
	if scheduled.Valid {
		t := scheduled.Time
		r.ScheduledAt = &t
	}
	return &r, nil
}

func (p *PostgresStore) GetRequest(ctx context.Context, id string) (*models.RideRequest, error) {
	return scanRequest(p.db.QueryRowContext(ctx, `SELECT `+requestColumns+` FROM ride_requests WHERE id=$1`, id))
}

func (p *PostgresStore) TransitionRequest(ctx context.Context, id string, from, to models.RequestStatus, driverID string) (*models.RideRequest, error) {
	r, err := scanRequest(p.db.QueryRowContext(ctx, `UPDATE ride_requests
		SET status=$1, driver_id=CASE WHEN $2 = '' THEN driver_id ELSE $2 END, updated_at=$3
		WHERE id=$4 AND status=$5
		RETURNING `+requestColumns,
		string(to), driverID, time.Now(), id, string(from)))
	if errors.Is(err, ErrNotFound) {
		if _, gerr := p.GetRequest(ctx, id); gerr != nil {
			return nil, gerr
		}
		return nil, ErrStatusConflict
	}
	return r, err
}

func nullTime(t *time.Time) pq.NullTime {
	if t == nil {
		return pq.NullTime{}
	}
	return pq.NullTime{Time: *t, Valid: true}
}
