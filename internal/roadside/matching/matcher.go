package matching

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"github.com/vishnandaman/road-assist/internal/roadside/domain"
	"github.com/vishnandaman/road-assist/internal/roadside/geo"
)

// DefaultRadiusMeters is the search radius used when the caller does not
// supply one.
const DefaultRadiusMeters = 5000.0

// ProximityMatcher answers nearby queries by combining the spatial
// primitive (a geo index per entity kind) with the business filter:
// mechanics must be available, requests must be pending. Candidates the
// index returns but the stores no longer know about are skipped.
type ProximityMatcher struct {
	mechanicIndex geo.Index
	requestIndex  geo.Index
	users         domain.UserRepository
	profiles      domain.MechanicRepository
	requests      domain.RequestRepository
	limit         int
}

// NewProximityMatcher wires the matcher from its collaborators.
func NewProximityMatcher(mechanicIndex, requestIndex geo.Index, users domain.UserRepository, profiles domain.MechanicRepository, requests domain.RequestRepository, limit int) (*ProximityMatcher, error) {
	if mechanicIndex == nil || requestIndex == nil {
		return nil, errors.New("geo indexes are required")
	}
	if users == nil || profiles == nil || requests == nil {
		return nil, errors.New("repositories are required")
	}
	if limit <= 0 {
		limit = 50
	}
	return &ProximityMatcher{
		mechanicIndex: mechanicIndex,
		requestIndex:  requestIndex,
		users:         users,
		profiles:      profiles,
		requests:      requests,
		limit:         limit,
	}, nil
}

// FindNearbyMechanics returns available mechanics within maxMeters of the
// point, closest first.
func (m *ProximityMatcher) FindNearbyMechanics(ctx context.Context, point domain.GeoPoint, maxMeters float64) ([]domain.MechanicMatch, error) {
	hits, err := m.mechanicIndex.Nearby(ctx, point, maxMeters, m.limit)
	if err != nil {
		return nil, fmt.Errorf("mechanic geo search: %w", err)
	}

	matches := make([]domain.MechanicMatch, 0, len(hits))
	for _, hit := range hits {
		user, err := m.users.GetUserByID(ctx, hit.ID)
		if errors.Is(err, domain.ErrNotFound) {
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("load mechanic %s: %w", hit.ID, err)
		}
		if user.Role != domain.RoleMechanic {
			continue
		}
		profile, err := m.profiles.GetProfile(ctx, hit.ID)
		if errors.Is(err, domain.ErrNotFound) {
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("load profile %s: %w", hit.ID, err)
		}
		if !profile.Availability {
			continue
		}
		matches = append(matches, domain.MechanicMatch{
			Mechanic:       user,
			Profile:        profile,
			DistanceMeters: hit.DistanceMeters,
		})
	}
	return matches, nil
}

// FindNearbyRequests returns pending requests within maxMeters of the
// point, closest first.
func (m *ProximityMatcher) FindNearbyRequests(ctx context.Context, point domain.GeoPoint, maxMeters float64) ([]domain.RequestMatch, error) {
	hits, err := m.requestIndex.Nearby(ctx, point, maxMeters, m.limit)
	if err != nil {
		return nil, fmt.Errorf("request geo search: %w", err)
	}

	matches := make([]domain.RequestMatch, 0, len(hits))
	for _, hit := range hits {
		request, err := m.requests.GetRequestByID(ctx, hit.ID)
		if errors.Is(err, domain.ErrNotFound) {
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("load request %s: %w", hit.ID, err)
		}
		if request.Status != domain.StatusPending {
			continue
		}
		matches = append(matches, domain.RequestMatch{
			Request:        request,
			DistanceMeters: hit.DistanceMeters,
		})
	}
	return matches, nil
}

// IndexRequest registers a pending request location.
func (m *ProximityMatcher) IndexRequest(ctx context.Context, id uuid.UUID, point domain.GeoPoint) error {
	return m.requestIndex.Upsert(ctx, id, point)
}

// RemoveRequest drops a request that left the pending state.
func (m *ProximityMatcher) RemoveRequest(ctx context.Context, id uuid.UUID) error {
	return m.requestIndex.Remove(ctx, id)
}

// UpsertMechanic refreshes a mechanic location.
func (m *ProximityMatcher) UpsertMechanic(ctx context.Context, id uuid.UUID, point domain.GeoPoint) error {
	return m.mechanicIndex.Upsert(ctx, id, point)
}

// RemoveMechanic drops a mechanic from the index.
func (m *ProximityMatcher) RemoveMechanic(ctx context.Context, id uuid.UUID) error {
	return m.mechanicIndex.Remove(ctx, id)
}
