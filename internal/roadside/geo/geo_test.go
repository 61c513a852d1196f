package geo_test

import (
	"context"
	"math"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/vishnandaman/road-assist/internal/roadside/domain"
	"github.com/vishnandaman/road-assist/internal/roadside/geo"
)

func TestDistanceIdentity(t *testing.T) {
	p := domain.GeoPoint{Lat: 40.7128, Lng: -74.006}
	require.Zero(t, geo.Distance(p, p))
}

func TestDistanceSymmetry(t *testing.T) {
	a := domain.GeoPoint{Lat: 40.7128, Lng: -74.006}
	b := domain.GeoPoint{Lat: 34.0522, Lng: -118.2437}
	require.InDelta(t, geo.Distance(a, b), geo.Distance(b, a), 1e-9)
}

func TestDistanceOneDegreeLatitude(t *testing.T) {
	a := domain.GeoPoint{Lat: 40.0, Lng: -74.0}
	b := domain.GeoPoint{Lat: 41.0, Lng: -74.0}
	// One degree of latitude is roughly 111 km.
	require.InDelta(t, 111.2, geo.Distance(a, b), 1.0)
}

func TestDistanceKnownPair(t *testing.T) {
	nyc := domain.GeoPoint{Lat: 40.7128, Lng: -74.006}
	la := domain.GeoPoint{Lat: 34.0522, Lng: -118.2437}
	// Great-circle NYC to LA is about 3936 km.
	require.InDelta(t, 3936, geo.Distance(nyc, la), 40)
}

func TestDistanceTriangleInequality(t *testing.T) {
	a := domain.GeoPoint{Lat: 40.7128, Lng: -74.006}
	b := domain.GeoPoint{Lat: 41.8781, Lng: -87.6298}
	c := domain.GeoPoint{Lat: 34.0522, Lng: -118.2437}
	ab := geo.Distance(a, b)
	bc := geo.Distance(b, c)
	ac := geo.Distance(a, c)
	require.LessOrEqual(t, ac, ab+bc+1e-6)
}

func TestMemoryIndexNearbyOrdering(t *testing.T) {
	ctx := context.Background()
	idx := geo.NewMemoryIndex()
	origin := domain.GeoPoint{Lat: 40.0, Lng: -74.0}

	near := uuid.New()
	far := uuid.New()
	outside := uuid.New()
	require.NoError(t, idx.Upsert(ctx, far, domain.GeoPoint{Lat: 40.02, Lng: -74.0}))
	require.NoError(t, idx.Upsert(ctx, near, domain.GeoPoint{Lat: 40.001, Lng: -74.0}))
	require.NoError(t, idx.Upsert(ctx, outside, domain.GeoPoint{Lat: 41.0, Lng: -74.0}))

	matches, err := idx.Nearby(ctx, origin, 5000, 10)
	require.NoError(t, err)
	require.Len(t, matches, 2)
	require.Equal(t, near, matches[0].ID)
	require.Equal(t, far, matches[1].ID)
	require.Less(t, matches[0].DistanceMeters, matches[1].DistanceMeters)
}

func TestMemoryIndexSamePointDistanceZero(t *testing.T) {
	ctx := context.Background()
	idx := geo.NewMemoryIndex()
	point := domain.GeoPoint{Lat: 40.0, Lng: -74.0}
	id := uuid.New()
	require.NoError(t, idx.Upsert(ctx, id, point))

	matches, err := idx.Nearby(ctx, point, 5000, 10)
	require.NoError(t, err)
	require.Len(t, matches, 1)
	require.True(t, math.Abs(matches[0].DistanceMeters) < 1e-6)
}

func TestMemoryIndexRemove(t *testing.T) {
	ctx := context.Background()
	idx := geo.NewMemoryIndex()
	point := domain.GeoPoint{Lat: 40.0, Lng: -74.0}
	id := uuid.New()
	require.NoError(t, idx.Upsert(ctx, id, point))
	require.NoError(t, idx.Remove(ctx, id))

	matches, err := idx.Nearby(ctx, point, 5000, 10)
	require.NoError(t, err)
	require.Empty(t, matches)
}
