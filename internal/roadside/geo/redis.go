package geo

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/vishnandaman/road-assist/internal/roadside/domain"
)

var errInvalidGeoResult = errors.New("invalid geo search result")

// RedisIndex implements Index using Redis GEO commands.
type RedisIndex struct {
	client redis.Cmdable
	key    string
}

// NewRedisIndex constructs a Redis-backed index under the given key.
func NewRedisIndex(client redis.Cmdable, key string) *RedisIndex {
	if key == "" {
		key = "mechanic:locs"
	}
	return &RedisIndex{client: client, key: key}
}

// Upsert writes the member location via GEOADD.
func (r *RedisIndex) Upsert(ctx context.Context, id uuid.UUID, point domain.GeoPoint) error {
	if err := r.client.GeoAdd(ctx, r.key, &redis.GeoLocation{
		Name:      id.String(),
		Longitude: point.Lng,
		Latitude:  point.Lat,
	}).Err(); err != nil {
		return fmt.Errorf("redis geoadd: %w", err)
	}
	return nil
}

// Remove deletes the member from the sorted set backing the geo key.
func (r *RedisIndex) Remove(ctx context.Context, id uuid.UUID) error {
	if err := r.client.ZRem(ctx, r.key, id.String()).Err(); err != nil {
		return fmt.Errorf("redis zrem: %w", err)
	}
	return nil
}

// Nearby returns up to limit members within radiusMeters sorted by
// distance ascending.
func (r *RedisIndex) Nearby(ctx context.Context, point domain.GeoPoint, radiusMeters float64, limit int) ([]Match, error) {
	timer := searchDuration.WithLabelValues("redis")
	defer observe(timer)()

	query := &redis.GeoSearchLocationQuery{
		GeoSearchQuery: redis.GeoSearchQuery{
			Longitude:  point.Lng,
			Latitude:   point.Lat,
			Radius:     radiusMeters,
			RadiusUnit: "m",
			Sort:       "ASC",
			Count:      limit,
		},
		WithDist: true,
	}
	results, err := r.client.GeoSearchLocation(ctx, r.key, query).Result()
	if err != nil {
		return nil, fmt.Errorf("redis geosearch: %w", err)
	}

	matches := make([]Match, 0, len(results))
	for _, res := range results {
		id, err := uuid.Parse(res.Name)
		if err != nil {
			return nil, fmt.Errorf("%w: %s", errInvalidGeoResult, res.Name)
		}
		matches = append(matches, Match{ID: id, DistanceMeters: res.Dist})
	}
	return matches, nil
}
