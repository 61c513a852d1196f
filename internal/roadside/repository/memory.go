package repository

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/vishnandaman/road-assist/internal/roadside/domain"
)

// MemoryStore implements all repositories over mutex-guarded maps,
// suitable for tests and single-node runs without Mongo.
type MemoryStore struct {
	mu       sync.RWMutex
	users    map[uuid.UUID]domain.User
	byEmail  map[string]uuid.UUID
	profiles map[uuid.UUID]domain.MechanicProfile
	requests map[uuid.UUID]domain.Request
	reviews  map[uuid.UUID]domain.Review
}

// NewMemoryStore constructs an empty store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		users:    make(map[uuid.UUID]domain.User),
		byEmail:  make(map[string]uuid.UUID),
		profiles: make(map[uuid.UUID]domain.MechanicProfile),
		requests: make(map[uuid.UUID]domain.Request),
		reviews:  make(map[uuid.UUID]domain.Review),
	}
}

// CreateUser stores the user, rejecting duplicate emails.
func (m *MemoryStore) CreateUser(_ context.Context, user domain.User) (domain.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	email := strings.ToLower(user.Email)
	if _, exists := m.byEmail[email]; exists {
		return domain.User{}, domain.ErrConflict
	}
	m.users[user.ID] = user
	m.byEmail[email] = user.ID
	return user, nil
}

// GetUserByID retrieves a user.
func (m *MemoryStore) GetUserByID(_ context.Context, id uuid.UUID) (domain.User, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	user, ok := m.users[id]
	if !ok {
		return domain.User{}, domain.ErrNotFound
	}
	return user, nil
}

// GetUserByEmail retrieves a user by email, case-insensitively.
func (m *MemoryStore) GetUserByEmail(_ context.Context, email string) (domain.User, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	id, ok := m.byEmail[strings.ToLower(email)]
	if !ok {
		return domain.User{}, domain.ErrNotFound
	}
	return m.users[id], nil
}

// ListUsers returns every user.
func (m *MemoryStore) ListUsers(_ context.Context) ([]domain.User, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	users := make([]domain.User, 0, len(m.users))
	for _, user := range m.users {
		users = append(users, user)
	}
	return users, nil
}

// UpdateUserLocation replaces the stored location.
func (m *MemoryStore) UpdateUserLocation(_ context.Context, id uuid.UUID, point domain.GeoPoint) (domain.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	user, ok := m.users[id]
	if !ok {
		return domain.User{}, domain.ErrNotFound
	}
	user.Location = point
	m.users[id] = user
	return user, nil
}

// UpsertProfile creates or replaces the mechanic profile, preserving the
// assignment state and rating aggregate on update.
func (m *MemoryStore) UpsertProfile(_ context.Context, profile domain.MechanicProfile) (domain.MechanicProfile, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if existing, ok := m.profiles[profile.UserID]; ok {
		profile.Availability = existing.Availability
		profile.CurrentRequest = existing.CurrentRequest
		profile.Rating = existing.Rating
		profile.ReviewsCount = existing.ReviewsCount
	} else {
		profile.Availability = true
	}
	if profile.PricePerKm <= 0 {
		profile.PricePerKm = 1.5
	}
	if profile.BasePrice <= 0 {
		profile.BasePrice = 20
	}
	m.profiles[profile.UserID] = profile
	return profile, nil
}

// GetProfile retrieves a mechanic profile.
func (m *MemoryStore) GetProfile(_ context.Context, userID uuid.UUID) (domain.MechanicProfile, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	profile, ok := m.profiles[userID]
	if !ok {
		return domain.MechanicProfile{}, domain.ErrNotFound
	}
	return profile, nil
}

// SetAvailability toggles the availability flag. Going available while a
// request is still assigned would break the profile invariant and is
// rejected.
func (m *MemoryStore) SetAvailability(_ context.Context, userID uuid.UUID, available bool) (domain.MechanicProfile, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	profile, ok := m.profiles[userID]
	if !ok {
		return domain.MechanicProfile{}, domain.ErrNotFound
	}
	if available && profile.CurrentRequest != nil {
		return domain.MechanicProfile{}, domain.ErrConflict
	}
	profile.Availability = available
	m.profiles[userID] = profile
	return profile, nil
}

// AssignRequest marks the mechanic busy with the given request.
func (m *MemoryStore) AssignRequest(_ context.Context, userID, requestID uuid.UUID) (domain.MechanicProfile, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	profile, ok := m.profiles[userID]
	if !ok {
		return domain.MechanicProfile{}, domain.ErrNotFound
	}
	if !profile.Availability || profile.CurrentRequest != nil {
		return domain.MechanicProfile{}, domain.ErrConflict
	}
	profile.Availability = false
	profile.CurrentRequest = &requestID
	m.profiles[userID] = profile
	return profile, nil
}

// ClearRequest resets the mechanic to available with no current request.
func (m *MemoryStore) ClearRequest(_ context.Context, userID uuid.UUID) (domain.MechanicProfile, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	profile, ok := m.profiles[userID]
	if !ok {
		return domain.MechanicProfile{}, domain.ErrNotFound
	}
	profile.Availability = true
	profile.CurrentRequest = nil
	m.profiles[userID] = profile
	return profile, nil
}

// UpdateRating replaces the rating aggregate.
func (m *MemoryStore) UpdateRating(_ context.Context, userID uuid.UUID, rating float64, reviews int) (domain.MechanicProfile, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	profile, ok := m.profiles[userID]
	if !ok {
		return domain.MechanicProfile{}, domain.ErrNotFound
	}
	profile.Rating = rating
	profile.ReviewsCount = reviews
	m.profiles[userID] = profile
	return profile, nil
}

// CreateRequest stores the request.
func (m *MemoryStore) CreateRequest(_ context.Context, request domain.Request) (domain.Request, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.requests[request.ID] = request
	return request, nil
}

// GetRequestByID retrieves a request.
func (m *MemoryStore) GetRequestByID(_ context.Context, id uuid.UUID) (domain.Request, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	request, ok := m.requests[id]
	if !ok {
		return domain.Request{}, domain.ErrNotFound
	}
	return request, nil
}

// AcceptPending moves a pending request to accepted in one conditional
// update. Concurrent accepts serialize on the store lock: the first caller
// wins, later ones see a non-pending status and get ErrConflict.
func (m *MemoryStore) AcceptPending(_ context.Context, params domain.AcceptParams) (domain.Request, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	request, ok := m.requests[params.RequestID]
	if !ok {
		return domain.Request{}, domain.ErrNotFound
	}
	if request.Status != domain.StatusPending {
		return domain.Request{}, domain.ErrConflict
	}
	request.Status = domain.StatusAccepted
	request.MechanicID = &params.MechanicID
	request.Price = params.Price
	request.EstimatedTime = params.EstimatedTime
	at := params.At
	request.AcceptedAt = &at
	m.requests[params.RequestID] = request
	return request, nil
}

// RevertAccept compensates a failed accept, returning the request to
// pending with the assignment fields cleared.
func (m *MemoryStore) RevertAccept(_ context.Context, id uuid.UUID) (domain.Request, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	request, ok := m.requests[id]
	if !ok {
		return domain.Request{}, domain.ErrNotFound
	}
	if request.Status != domain.StatusAccepted {
		return domain.Request{}, domain.ErrConflict
	}
	request.Status = domain.StatusPending
	request.MechanicID = nil
	request.Price = 0
	request.EstimatedTime = 0
	request.AcceptedAt = nil
	m.requests[id] = request
	return request, nil
}

// CompleteActive moves an accepted or in_progress request to completed.
func (m *MemoryStore) CompleteActive(_ context.Context, id uuid.UUID, at time.Time) (domain.Request, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	request, ok := m.requests[id]
	if !ok {
		return domain.Request{}, domain.ErrNotFound
	}
	if err := domain.ApplyTransition(&request, domain.StatusCompleted, at); err != nil {
		return domain.Request{}, err
	}
	m.requests[id] = request
	return request, nil
}

// CreateReview stores the review.
func (m *MemoryStore) CreateReview(_ context.Context, review domain.Review) (domain.Review, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.reviews[review.ID] = review
	return review, nil
}

// ListByMechanic returns every review for the mechanic.
func (m *MemoryStore) ListByMechanic(_ context.Context, mechanicID uuid.UUID) ([]domain.Review, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var reviews []domain.Review
	for _, review := range m.reviews {
		if review.MechanicID == mechanicID {
			reviews = append(reviews, review)
		}
	}
	return reviews, nil
}
