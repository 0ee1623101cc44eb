package geo

import (
	"context"
	"sync"
	"time"

	"github.com/example/ride-pool/internal/models"
)

// Geo is the nearby-driver index used to fan out new ride requests.
type Geo interface {
	Nearby(ctx context.Context, at models.Coord, radiusKm float64, limit int) ([]models.Driver, error)
	Upsert(ctx context.Context, d models.Driver) error
}

type Index struct {
	mu      sync.RWMutex
	drivers map[string]models.Driver
}

func NewIndex() *Index {
	return &Index{drivers: make(map[string]models.Driver)}
}

func (g *Index) Upsert(_ context.Context, d models.Driver) error {
	if err := Validate(d.Loc); err != nil {
		return err
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	d.Updated = time.Now()
	g.drivers[d.ID] = d
	return nil
}

// naive scan; RedisGeo is the production index
func (g *Index) Nearby(_ context.Context, at models.Coord, radiusKm float64, limit int) ([]models.Driver, error) {
	if err := Validate(at); err != nil {
		return nil, err
	}
	g.mu.RLock()
	defer g.mu.RUnlock()
	type pair struct {
		d    models.Driver
		dist float64
	}
	arr := make([]pair, 0, len(g.drivers))
	for _, d := range g.drivers {
		if !d.Online {
			continue
		}
		dist := Haversine(at.Lat, at.Lng, d.Loc.Lat, d.Loc.Lng)
		if dist > radiusKm*1000 {
			continue
		}
		arr = append(arr, pair{d, dist})
	}
	// partial selection sort for top-N
	n := limit
	if n <= 0 || n > len(arr) {
		n = len(arr)
	}
	for i := 0; i < n; i++ {
		minIdx := i
		for j := i + 1; j < len(arr); j++ {
			if arr[j].dist < arr[minIdx].dist || (arr[j].dist == arr[minIdx].dist && arr[j].d.ID < arr[minIdx].d.ID) {
				minIdx = j
			}
		}
		arr[i], arr[minIdx] = arr[minIdx], arr[i]
	}
	out := make([]models.Driver, 0, n)
	for i := 0; i < n; i++ {
		out = append(out, arr[i].d)
	}
	return out, nil
}
