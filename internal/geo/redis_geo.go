package geo

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/example/ride-pool/internal/models"
)

// RedisGeo implements Geo using Redis GEO commands.
type RedisGeo struct {
	client *redis.Client
	key    string
}

func NewRedisGeo(client *redis.Client, key string) *RedisGeo {
	return &RedisGeo{client: client, key: key}
}

func (r *RedisGeo) Upsert(ctx context.Context, d models.Driver) error {
	if err := Validate(d.Loc); err != nil {
		return err
	}
	if err := r.client.GeoAdd(ctx, r.key, &redis.GeoLocation{Longitude: d.Loc.Lng, Latitude: d.Loc.Lat, Name: d.ID}).Err(); err != nil {
		return fmt.Errorf("geoadd %s: %w", d.ID, err)
	}
	return r.client.HSet(ctx, MetaKey(d.ID), MetaFields(d)).Err()
}

func (r *RedisGeo) Nearby(ctx context.Context, at models.Coord, radiusKm float64, limit int) ([]models.Driver, error) {
	if err := Validate(at); err != nil {
		return nil, err
	}
	res, err := r.client.GeoSearchLocation(ctx, r.key, &redis.GeoSearchLocationQuery{
		GeoSearchQuery: redis.GeoSearchQuery{
			Longitude:  at.Lng,
			Latitude:   at.Lat,
			Radius:     radiusKm,
			RadiusUnit: "km",
			Sort:       "ASC",
			Count:      limit,
		},
		WithCoord: true,
		WithDist:  true,
	}).Result()
	if err != nil {
		return nil, fmt.Errorf("geosearch: %w", err)
	}
	out := make([]models.Driver, 0, len(res))
	for _, g := range res {
		d := models.Driver{ID: g.Name, Loc: models.Coord{Lat: g.Latitude, Lng: g.Longitude}, Online: true}
		if m, err := r.client.HGetAll(ctx, MetaKey(g.Name)).Result(); err == nil {
			if v, ok := m["online"]; ok {
				d.Online = v == "true"
			}
			if v, ok := m["updated"]; ok {
				if ts, err := time.Parse(time.RFC3339, v); err == nil {
					d.Updated = ts
				}
			}
		}
		if !d.Online {
			continue
		}
		out = append(out, d)
	}
	return out, nil
}

// MetaKey is the hash holding a driver's online flag and last update.
func MetaKey(id string) string { return "driver:meta:" + id }

// MetaFields renders the hash fields stored under MetaKey.
func MetaFields(d models.Driver) map[string]interface{} {
	updated := d.Updated
	if updated.IsZero() {
		updated = time.Now()
	}
	return map[string]interface{}{
		"online":  strconv.FormatBool(d.Online),
		"updated": updated.UTC().Format(time.RFC3339),
	}
}
