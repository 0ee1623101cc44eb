package storage

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/example/ride-pool/internal/models"
)

// MemoryStore keeps rides and requests in process. Values are copied on the
// way in and out so callers never share state with the store.
type MemoryStore struct {
	mu       sync.RWMutex
	rides    map[string]*models.PooledRide
	requests map[string]models.RideRequest
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		rides:    make(map[string]*models.PooledRide),
		requests: make(map[string]models.RideRequest),
	}
}

func (m *MemoryStore) CreateRide(_ context.Context, r *models.PooledRide) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.rides[r.ID]; ok {
		return fmt.Errorf("ride %s already exists", r.ID)
	}
	if r.Version == 0 {
		r.Version = 1
	}
	m.rides[r.ID] = r.Clone()
	return nil
}

func (m *MemoryStore) GetRide(_ context.Context, id string) (*models.PooledRide, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	r, ok := m.rides[id]
	if !ok {
		return nil, ErrNotFound
	}
	return r.Clone(), nil
}

func (m *MemoryStore) UpdateRide(_ context.Context, r *models.PooledRide) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cur, ok := m.rides[r.ID]
	if !ok {
		return ErrNotFound
	}
	if cur.Version != r.Version {
		return ErrVersionConflict
	}
	r.Version++
	r.UpdatedAt = time.Now()
	m.rides[r.ID] = r.Clone()
	return nil
}

func (m *MemoryStore) DeleteRide(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.rides[id]; !ok {
		return ErrNotFound
	}
	delete(m.rides, id)
	return nil
}

func (m *MemoryStore) CreateRequest(_ context.Context, r *models.RideRequest) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.requests[r.ID]; ok {
		return fmt.Errorf("request %s already exists", r.ID)
	}
	m.requests[r.ID] = copyRequest(*r)
	return nil
}

func (m *MemoryStore) GetRequest(_ context.Context, id string) (*models.RideRequest, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	r, ok := m.requests[id]
	if !ok {
		return nil, ErrNotFound
	}
	out := copyRequest(r)
	return &out, nil
}

func (m *MemoryStore) TransitionRequest(_ context.Context, id string, from, to models.RequestStatus, driverID string) (*models.RideRequest, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.requests[id]
	if !ok {
		return nil, ErrNotFound
	}
	if r.Status != from {
		return nil, ErrStatusConflict
	}
	r.Status = to
	if driverID != "" {
		r.DriverID = driverID
	}
	r.UpdatedAt = time.Now()
	m.requests[id] = r
	out := copyRequest(r)
	return &out, nil
}

func copyRequest(r models.RideRequest) models.RideRequest {
	if r.ScheduledAt != nil {
		t := *r.ScheduledAt
		r.ScheduledAt = &t
	}
	return r
}
