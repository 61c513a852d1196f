package geo

import (
	"context"
	"math"

	"github.com/google/uuid"

	"github.com/vishnandaman/road-assist/internal/roadside/domain"
)

// Match is a spatial index hit: an indexed entity and its distance from
// the query point.
type Match struct {
	ID             uuid.UUID
	DistanceMeters float64
}

// Index abstracts "nearest within radius" over points on a sphere.
// Results are sorted ascending by distance and respect the limit.
type Index interface {
	Upsert(ctx context.Context, id uuid.UUID, point domain.GeoPoint) error
	Remove(ctx context.Context, id uuid.UUID) error
	Nearby(ctx context.Context, point domain.GeoPoint, radiusMeters float64, limit int) ([]Match, error)
}

const earthRadiusKM = 6371.0

// Distance returns the great-circle distance between two points in
// kilometers, on a spherical earth model.
func Distance(a, b domain.GeoPoint) float64 {
	lat1 := toRadians(a.Lat)
	lat2 := toRadians(b.Lat)
	dlat := toRadians(b.Lat - a.Lat)
	dlon := toRadians(b.Lng - a.Lng)

	sinDlat := math.Sin(dlat / 2)
	sinDlon := math.Sin(dlon / 2)
	h := sinDlat*sinDlat + math.Cos(lat1)*math.Cos(lat2)*sinDlon*sinDlon
	c := 2 * math.Atan2(math.Sqrt(h), math.Sqrt(1-h))
	return earthRadiusKM * c
}

func toRadians(deg float64) float64 {
	return deg * math.Pi / 180.0
}
