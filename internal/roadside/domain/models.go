package domain

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
)

type Role string

const (
	RoleUser     Role = "user"
	RoleMechanic Role = "mechanic"
	RoleAdmin    Role = "admin"
)

func (r Role) Valid() bool {
	switch r {
	case RoleUser, RoleMechanic, RoleAdmin:
		return true
	}
	return false
}

type ServiceType string

const (
	ServiceTowing  ServiceType = "towing"
	ServiceBattery ServiceType = "battery"
	ServiceFuel    ServiceType = "fuel"
	ServiceTire    ServiceType = "tire"
	ServiceLockout ServiceType = "lockout"
	ServiceOther   ServiceType = "other"
)

func (s ServiceType) Valid() bool {
	switch s {
	case ServiceTowing, ServiceBattery, ServiceFuel, ServiceTire, ServiceLockout, ServiceOther:
		return true
	}
	return false
}

type RequestStatus string

const (
	StatusPending    RequestStatus = "pending"
	StatusAccepted   RequestStatus = "accepted"
	StatusInProgress RequestStatus = "in_progress"
	StatusCompleted  RequestStatus = "completed"
	StatusCancelled  RequestStatus = "cancelled"
)

var (
	ErrNotFound          = errors.New("not found")
	ErrValidation        = errors.New("validation failed")
	ErrConflict          = errors.New("conflict")
	ErrForbidden         = errors.New("forbidden")
	ErrUnauthorized      = errors.New("invalid credentials")
	ErrInvalidTransition = errors.New("invalid request status transition")
	ErrNoActiveRequest   = errors.New("no active request found")
)

var allowedTransitions = map[RequestStatus][]RequestStatus{
	StatusPending:    {StatusAccepted, StatusCancelled},
	StatusAccepted:   {StatusInProgress, StatusCompleted, StatusCancelled},
	StatusInProgress: {StatusCompleted},
}

func (s RequestStatus) CanTransitionTo(next RequestStatus) bool {
	for _, candidate := range allowedTransitions[s] {
		if candidate == next {
			return true
		}
	}
	return false
}

// ApplyTransition moves a request to the next status and stamps the
// matching timestamp field. The request is left untouched on error.
func ApplyTransition(r *Request, next RequestStatus, now time.Time) error {
	if !r.Status.CanTransitionTo(next) {
		return ErrInvalidTransition
	}
	r.Status = next
	switch next {
	case StatusAccepted:
		r.AcceptedAt = &now
	case StatusCompleted:
		r.CompletedAt = &now
	case StatusCancelled:
		r.CancelledAt = &now
	}
	return nil
}

type GeoPoint struct {
	Lat float64 `json:"lat"`
	Lng float64 `json:"lng"`
}

type User struct {
	ID           uuid.UUID `json:"id"`
	Name         string    `json:"name"`
	Email        string    `json:"email"`
	Phone        string    `json:"phone"`
	Role         Role      `json:"role"`
	Location     GeoPoint  `json:"location"`
	PasswordHash string    `json:"-"`
	CreatedAt    time.Time `json:"created_at"`
}

// MechanicProfile is one-to-one with a User of role mechanic.
// Invariant: Availability == false exactly when CurrentRequest != nil.
type MechanicProfile struct {
	UserID         uuid.UUID     `json:"user_id"`
	Specialties    []ServiceType `json:"specialties"`
	Certification  string        `json:"certification,omitempty"`
	Rating         float64       `json:"rating"`
	ReviewsCount   int           `json:"reviews_count"`
	Availability   bool          `json:"availability"`
	CurrentRequest *uuid.UUID    `json:"current_request,omitempty"`
	PricePerKm     float64       `json:"price_per_km"`
	BasePrice      float64       `json:"base_price"`
	Location       GeoPoint      `json:"location"`
}

type Request struct {
	ID            uuid.UUID     `json:"id"`
	UserID        uuid.UUID     `json:"user_id"`
	MechanicID    *uuid.UUID    `json:"mechanic_id,omitempty"`
	ServiceType   ServiceType   `json:"service_type"`
	VehicleType   string        `json:"vehicle_type"`
	Description   string        `json:"description,omitempty"`
	Location      GeoPoint      `json:"location"`
	Status        RequestStatus `json:"status"`
	Price         float64       `json:"price,omitempty"`
	EstimatedTime int           `json:"estimated_time,omitempty"` // minutes
	CreatedAt     time.Time     `json:"created_at"`
	AcceptedAt    *time.Time    `json:"accepted_at,omitempty"`
	CompletedAt   *time.Time    `json:"completed_at,omitempty"`
	CancelledAt   *time.Time    `json:"cancelled_at,omitempty"`
}

type Review struct {
	ID         uuid.UUID `json:"id"`
	RequestID  uuid.UUID `json:"request_id"`
	UserID     uuid.UUID `json:"user_id"`
	MechanicID uuid.UUID `json:"mechanic_id"`
	Rating     int       `json:"rating"`
	Comment    string    `json:"comment,omitempty"`
	CreatedAt  time.Time `json:"created_at"`
}

type Notification struct {
	UserID uuid.UUID         `json:"user_id"`
	Title  string            `json:"title"`
	Body   string            `json:"body"`
	Data   map[string]string `json:"data,omitempty"`
}

type UserRepository interface {
	CreateUser(ctx context.Context, user User) (User, error)
	GetUserByID(ctx context.Context, id uuid.UUID) (User, error)
	GetUserByEmail(ctx context.Context, email string) (User, error)
	ListUsers(ctx context.Context) ([]User, error)
	UpdateUserLocation(ctx context.Context, id uuid.UUID, point GeoPoint) (User, error)
}

type MechanicRepository interface {
	UpsertProfile(ctx context.Context, profile MechanicProfile) (MechanicProfile, error)
	GetProfile(ctx context.Context, userID uuid.UUID) (MechanicProfile, error)
	SetAvailability(ctx context.Context, userID uuid.UUID, available bool) (MechanicProfile, error)
	// AssignRequest marks the profile unavailable with CurrentRequest set,
	// failing with ErrConflict when the mechanic is already busy.
	AssignRequest(ctx context.Context, userID, requestID uuid.UUID) (MechanicProfile, error)
	// ClearRequest resets the profile to available with no current request.
	ClearRequest(ctx context.Context, userID uuid.UUID) (MechanicProfile, error)
	UpdateRating(ctx context.Context, userID uuid.UUID, rating float64, reviews int) (MechanicProfile, error)
}

// AcceptParams carries the single conditional update that moves a pending
// request to accepted. Concurrent accepts race on the status filter: one
// caller wins, the rest get ErrConflict.
type AcceptParams struct {
	RequestID     uuid.UUID
	MechanicID    uuid.UUID
	Price         float64
	EstimatedTime int
	At            time.Time
}

type RequestRepository interface {
	CreateRequest(ctx context.Context, request Request) (Request, error)
	GetRequestByID(ctx context.Context, id uuid.UUID) (Request, error)
	AcceptPending(ctx context.Context, params AcceptParams) (Request, error)
	// RevertAccept compensates a half-applied accept: the request returns to
	// pending with mechanic, price and estimate cleared.
	RevertAccept(ctx context.Context, id uuid.UUID) (Request, error)
	// CompleteActive conditionally moves an accepted or in_progress request
	// to completed.
	CompleteActive(ctx context.Context, id uuid.UUID, at time.Time) (Request, error)
}

type ReviewRepository interface {
	CreateReview(ctx context.Context, review Review) (Review, error)
	ListByMechanic(ctx context.Context, mechanicID uuid.UUID) ([]Review, error)
}

// MechanicMatch pairs a nearby available mechanic with its distance from
// the query point.
type MechanicMatch struct {
	Mechanic       User            `json:"mechanic"`
	Profile        MechanicProfile `json:"profile"`
	DistanceMeters float64         `json:"distance_meters"`
}

type RequestMatch struct {
	Request        Request `json:"request"`
	DistanceMeters float64 `json:"distance_meters"`
}

// Matcher answers proximity queries and keeps the underlying spatial index
// in sync with mechanic movement and request lifecycle changes. Store-backed
// implementations that index natively may treat the mutators as no-ops.
type Matcher interface {
	FindNearbyMechanics(ctx context.Context, point GeoPoint, maxMeters float64) ([]MechanicMatch, error)
	FindNearbyRequests(ctx context.Context, point GeoPoint, maxMeters float64) ([]RequestMatch, error)
	IndexRequest(ctx context.Context, id uuid.UUID, point GeoPoint) error
	RemoveRequest(ctx context.Context, id uuid.UUID) error
	UpsertMechanic(ctx context.Context, id uuid.UUID, point GeoPoint) error
	RemoveMechanic(ctx context.Context, id uuid.UUID) error
}

type Notifier interface {
	Notify(ctx context.Context, n Notification) error
}

type Clock interface {
	Now() time.Time
}

type SystemClock struct{}

func (SystemClock) Now() time.Time { return time.Now().UTC() }
