package geo

import (
	"context"
	"sort"
	"sync"

	"github.com/google/uuid"

	"github.com/vishnandaman/road-assist/internal/roadside/domain"
)

// MemoryIndex is a haversine scan over an in-memory point set, suitable
// for tests and single-node runs without Redis.
type MemoryIndex struct {
	mu     sync.RWMutex
	points map[uuid.UUID]domain.GeoPoint
}

// NewMemoryIndex constructs an empty index.
func NewMemoryIndex() *MemoryIndex {
	return &MemoryIndex{points: make(map[uuid.UUID]domain.GeoPoint)}
}

// Upsert stores or refreshes a point.
func (m *MemoryIndex) Upsert(_ context.Context, id uuid.UUID, point domain.GeoPoint) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.points[id] = point
	return nil
}

// Remove drops a point from the index.
func (m *MemoryIndex) Remove(_ context.Context, id uuid.UUID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.points, id)
	return nil
}

// Nearby returns up to limit matches within radiusMeters, closest first.
func (m *MemoryIndex) Nearby(_ context.Context, point domain.GeoPoint, radiusMeters float64, limit int) ([]Match, error) {
	timer := searchDuration.WithLabelValues("memory")
	defer observe(timer)()

	m.mu.RLock()
	defer m.mu.RUnlock()

	matches := make([]Match, 0, len(m.points))
	for id, p := range m.points {
		meters := Distance(point, p) * 1000
		if meters <= radiusMeters {
			matches = append(matches, Match{ID: id, DistanceMeters: meters})
		}
	}
	sort.Slice(matches, func(i, j int) bool {
		return matches[i].DistanceMeters < matches[j].DistanceMeters
	})
	if limit > 0 && len(matches) > limit {
		matches = matches[:limit]
	}
	return matches, nil
}
