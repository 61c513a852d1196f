package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/vishnandaman/road-assist/internal/roadside/domain"
	"github.com/vishnandaman/road-assist/internal/roadside/geo"
	"github.com/vishnandaman/road-assist/internal/roadside/matching"
	"github.com/vishnandaman/road-assist/internal/roadside/pricing"
)

// Service orchestrates the request lifecycle between handlers, stores,
// the proximity matcher and the notifier.
type Service struct {
	users        domain.UserRepository
	profiles     domain.MechanicRepository
	requests     domain.RequestRepository
	reviews      domain.ReviewRepository
	matcher      domain.Matcher
	reservations matching.ReservationStore
	notifier     domain.Notifier
	clock        domain.Clock
	logger       *zap.Logger
	reserveTTL   time.Duration
}

// Deps carries the service collaborators.
type Deps struct {
	Users        domain.UserRepository
	Profiles     domain.MechanicRepository
	Requests     domain.RequestRepository
	Reviews      domain.ReviewRepository
	Matcher      domain.Matcher
	Reservations matching.ReservationStore
	Notifier     domain.Notifier
	Clock        domain.Clock
	Logger       *zap.Logger
	ReserveTTL   time.Duration
}

// New constructs a Service from its collaborators.
func New(deps Deps) (*Service, error) {
	if deps.Users == nil || deps.Profiles == nil || deps.Requests == nil || deps.Reviews == nil {
		return nil, errors.New("repositories are required")
	}
	if deps.Matcher == nil {
		return nil, errors.New("matcher is required")
	}
	if deps.Notifier == nil {
		return nil, errors.New("notifier is required")
	}
	if deps.Reservations == nil {
		deps.Reservations = matching.NewMemoryReservationStore()
	}
	if deps.Clock == nil {
		deps.Clock = domain.SystemClock{}
	}
	if deps.Logger == nil {
		deps.Logger = zap.NewNop()
	}
	if deps.ReserveTTL <= 0 {
		deps.ReserveTTL = 30 * time.Second
	}
	return &Service{
		users:        deps.Users,
		profiles:     deps.Profiles,
		requests:     deps.Requests,
		reviews:      deps.Reviews,
		matcher:      deps.Matcher,
		reservations: deps.Reservations,
		notifier:     deps.Notifier,
		clock:        deps.Clock,
		logger:       deps.Logger,
		reserveTTL:   deps.ReserveTTL,
	}, nil
}

func validPoint(p domain.GeoPoint) bool {
	return p.Lat >= -90 && p.Lat <= 90 && p.Lng >= -180 && p.Lng <= 180
}

// normalizeRadius applies the default search radius and rejects
// non-positive values before any query runs.
func normalizeRadius(maxMeters float64) (float64, error) {
	if maxMeters == 0 {
		return matching.DefaultRadiusMeters, nil
	}
	if maxMeters < 0 {
		return 0, fmt.Errorf("%w: maxDistance must be positive", domain.ErrValidation)
	}
	return maxMeters, nil
}

// CreateRequestInput is the payload for a new service request.
type CreateRequestInput struct {
	ServiceType domain.ServiceType
	VehicleType string
	Description string
	Location    domain.GeoPoint
}

// CreateRequest persists a pending request, then finds available
// mechanics within the default radius and enqueues a notification for
// each. The returned count is the number of mechanics notified, not a
// delivery guarantee.
func (s *Service) CreateRequest(ctx context.Context, userID uuid.UUID, input CreateRequestInput) (domain.Request, int, error) {
	if !input.ServiceType.Valid() {
		return domain.Request{}, 0, fmt.Errorf("%w: unknown service type %q", domain.ErrValidation, input.ServiceType)
	}
	if input.VehicleType == "" {
		return domain.Request{}, 0, fmt.Errorf("%w: vehicle type is required", domain.ErrValidation)
	}
	if !validPoint(input.Location) {
		return domain.Request{}, 0, fmt.Errorf("%w: malformed location", domain.ErrValidation)
	}
	if _, err := s.users.GetUserByID(ctx, userID); err != nil {
		return domain.Request{}, 0, fmt.Errorf("load requester: %w", err)
	}

	request := domain.Request{
		ID:          uuid.New(),
		UserID:      userID,
		ServiceType: input.ServiceType,
		VehicleType: input.VehicleType,
		Description: input.Description,
		Location:    input.Location,
		Status:      domain.StatusPending,
		CreatedAt:   s.clock.Now(),
	}
	created, err := s.requests.CreateRequest(ctx, request)
	if err != nil {
		return domain.Request{}, 0, fmt.Errorf("create request: %w", err)
	}
	if err := s.matcher.IndexRequest(ctx, created.ID, created.Location); err != nil {
		s.logger.Warn("index request", zap.Error(err), zap.String("request_id", created.ID.String()))
	}

	mechanics, err := s.matcher.FindNearbyMechanics(ctx, created.Location, matching.DefaultRadiusMeters)
	if err != nil {
		// The request exists; matching trouble should not fail creation.
		s.logger.Warn("find nearby mechanics", zap.Error(err), zap.String("request_id", created.ID.String()))
		return created, 0, nil
	}
	for _, match := range mechanics {
		s.notify(ctx, domain.Notification{
			UserID: match.Mechanic.ID,
			Title:  "New Service Request",
			Body:   fmt.Sprintf("New %s request nearby", created.ServiceType),
			Data:   map[string]string{"request_id": created.ID.String()},
		})
	}
	return created, len(mechanics), nil
}

// NearbyMechanics returns available mechanics around the point.
func (s *Service) NearbyMechanics(ctx context.Context, point domain.GeoPoint, maxMeters float64) ([]domain.MechanicMatch, error) {
	if !validPoint(point) {
		return nil, fmt.Errorf("%w: malformed location", domain.ErrValidation)
	}
	radius, err := normalizeRadius(maxMeters)
	if err != nil {
		return nil, err
	}
	return s.matcher.FindNearbyMechanics(ctx, point, radius)
}

// NearbyRequests returns pending requests around the point.
func (s *Service) NearbyRequests(ctx context.Context, point domain.GeoPoint, maxMeters float64) ([]domain.RequestMatch, error) {
	if !validPoint(point) {
		return nil, fmt.Errorf("%w: malformed location", domain.ErrValidation)
	}
	radius, err := normalizeRadius(maxMeters)
	if err != nil {
		return nil, err
	}
	return s.matcher.FindNearbyRequests(ctx, point, radius)
}

// GetRequest retrieves a request by id.
func (s *Service) GetRequest(ctx context.Context, id uuid.UUID) (domain.Request, error) {
	return s.requests.GetRequestByID(ctx, id)
}

// AcceptOverrides carries the optional mechanic-supplied price and ETA.
type AcceptOverrides struct {
	Price         *float64
	EstimatedTime *int
}

// AcceptRequest assigns a pending request to a mechanic. The mechanic is
// reserved first, then the request moves pending→accepted through a
// single conditional update; the profile write follows, compensated back
// if it fails. Exactly one of two concurrent accepts succeeds.
func (s *Service) AcceptRequest(ctx context.Context, requestID, mechanicUserID uuid.UUID, overrides AcceptOverrides) (domain.Request, error) {
	request, err := s.requests.GetRequestByID(ctx, requestID)
	if err != nil {
		acceptOutcome("request_not_found")
		return domain.Request{}, fmt.Errorf("load request: %w", err)
	}
	if request.Status != domain.StatusPending {
		acceptOutcome("not_pending")
		return domain.Request{}, fmt.Errorf("%w: request is %s", domain.ErrConflict, request.Status)
	}

	mechanic, err := s.users.GetUserByID(ctx, mechanicUserID)
	if err != nil {
		return domain.Request{}, fmt.Errorf("load mechanic: %w", err)
	}
	if mechanic.Role != domain.RoleMechanic {
		return domain.Request{}, fmt.Errorf("%w: user is not a mechanic", domain.ErrForbidden)
	}
	profile, err := s.profiles.GetProfile(ctx, mechanicUserID)
	if err != nil {
		return domain.Request{}, fmt.Errorf("load profile: %w", err)
	}
	if !profile.Availability {
		acceptOutcome("mechanic_busy")
		return domain.Request{}, fmt.Errorf("%w: mechanic is unavailable", domain.ErrConflict)
	}

	reserved, err := s.reservations.TryReserve(ctx, mechanicUserID, requestID, s.reserveTTL)
	if err != nil {
		return domain.Request{}, fmt.Errorf("reserve mechanic: %w", err)
	}
	if !reserved {
		acceptOutcome("mechanic_busy")
		return domain.Request{}, fmt.Errorf("%w: mechanic already reserved", domain.ErrConflict)
	}

	distanceKm := geo.Distance(request.Location, mechanic.Location)
	quote := pricing.ForRates(profile.PricePerKm, profile.BasePrice).Estimate(distanceKm)
	price := quote.Price
	if overrides.Price != nil {
		price = *overrides.Price
	}
	eta := quote.ETAMinutes
	if overrides.EstimatedTime != nil {
		eta = *overrides.EstimatedTime
	}

	updated, err := s.requests.AcceptPending(ctx, domain.AcceptParams{
		RequestID:     requestID,
		MechanicID:    mechanicUserID,
		Price:         price,
		EstimatedTime: eta,
		At:            s.clock.Now(),
	})
	if err != nil {
		s.releaseReservation(ctx, mechanicUserID)
		acceptOutcome("lost_race")
		return domain.Request{}, fmt.Errorf("accept request: %w", err)
	}

	if _, err := s.profiles.AssignRequest(ctx, mechanicUserID, requestID); err != nil {
		// Compensate the half-applied accept so the request stays matchable.
		if _, revertErr := s.requests.RevertAccept(ctx, requestID); revertErr != nil {
			s.logger.Error("revert accept failed",
				zap.Error(revertErr), zap.String("request_id", requestID.String()))
		}
		s.releaseReservation(ctx, mechanicUserID)
		acceptOutcome("assign_failed")
		return domain.Request{}, fmt.Errorf("assign mechanic: %w", err)
	}

	if err := s.matcher.RemoveRequest(ctx, requestID); err != nil {
		s.logger.Warn("unindex request", zap.Error(err), zap.String("request_id", requestID.String()))
	}
	s.notify(ctx, domain.Notification{
		UserID: updated.UserID,
		Title:  "Request Accepted",
		Body:   fmt.Sprintf("Mechanic is on the way. ETA: %d minutes", updated.EstimatedTime),
		Data:   map[string]string{"request_id": requestID.String()},
	})
	acceptOutcome("accepted")
	return updated, nil
}

// CompleteRequest finishes the mechanic's current request and frees the
// mechanic. Nothing is mutated when there is no active request.
func (s *Service) CompleteRequest(ctx context.Context, mechanicUserID uuid.UUID) (domain.Request, error) {
	profile, err := s.profiles.GetProfile(ctx, mechanicUserID)
	if errors.Is(err, domain.ErrNotFound) {
		return domain.Request{}, domain.ErrNoActiveRequest
	}
	if err != nil {
		return domain.Request{}, fmt.Errorf("load profile: %w", err)
	}
	if profile.CurrentRequest == nil {
		return domain.Request{}, domain.ErrNoActiveRequest
	}

	updated, err := s.requests.GetRequestByID(ctx, *profile.CurrentRequest)
	if err != nil {
		return domain.Request{}, fmt.Errorf("load request: %w", err)
	}
	// A prior attempt may have completed the request and then failed to
	// clear the profile. Skip the transition on retry so the mechanic can
	// still be freed.
	if updated.Status != domain.StatusCompleted {
		updated, err = s.requests.CompleteActive(ctx, *profile.CurrentRequest, s.clock.Now())
		if err != nil {
			return domain.Request{}, fmt.Errorf("complete request: %w", err)
		}
	}
	if _, err := s.profiles.ClearRequest(ctx, mechanicUserID); err != nil {
		return domain.Request{}, fmt.Errorf("clear profile: %w", err)
	}
	s.releaseReservation(ctx, mechanicUserID)
	s.notify(ctx, domain.Notification{
		UserID: updated.UserID,
		Title:  "Request Completed",
		Body:   "Your service request has been completed",
		Data:   map[string]string{"request_id": updated.ID.String()},
	})
	return updated, nil
}

// CurrentRequest returns the mechanic's active request, or nil when the
// mechanic has none.
func (s *Service) CurrentRequest(ctx context.Context, mechanicUserID uuid.UUID) (*domain.Request, error) {
	profile, err := s.profiles.GetProfile(ctx, mechanicUserID)
	if errors.Is(err, domain.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("load profile: %w", err)
	}
	if profile.CurrentRequest == nil {
		return nil, nil
	}
	request, err := s.requests.GetRequestByID(ctx, *profile.CurrentRequest)
	if err != nil {
		return nil, fmt.Errorf("load current request: %w", err)
	}
	return &request, nil
}

// ProfileInput is the mechanic-editable part of a profile.
type ProfileInput struct {
	Specialties   []domain.ServiceType
	Certification string
	PricePerKm    float64
	BasePrice     float64
	Location      *domain.GeoPoint
}

// UpsertProfile creates or updates the caller's mechanic profile and
// refreshes the mechanic geo index.
func (s *Service) UpsertProfile(ctx context.Context, userID uuid.UUID, input ProfileInput) (domain.MechanicProfile, error) {
	user, err := s.users.GetUserByID(ctx, userID)
	if err != nil {
		return domain.MechanicProfile{}, fmt.Errorf("load user: %w", err)
	}
	if user.Role != domain.RoleMechanic {
		return domain.MechanicProfile{}, fmt.Errorf("%w: user is not a mechanic", domain.ErrForbidden)
	}
	for _, specialty := range input.Specialties {
		if !specialty.Valid() {
			return domain.MechanicProfile{}, fmt.Errorf("%w: unknown specialty %q", domain.ErrValidation, specialty)
		}
	}
	location := user.Location
	if input.Location != nil {
		if !validPoint(*input.Location) {
			return domain.MechanicProfile{}, fmt.Errorf("%w: malformed location", domain.ErrValidation)
		}
		location = *input.Location
	}

	profile, err := s.profiles.UpsertProfile(ctx, domain.MechanicProfile{
		UserID:        userID,
		Specialties:   input.Specialties,
		Certification: input.Certification,
		PricePerKm:    input.PricePerKm,
		BasePrice:     input.BasePrice,
		Location:      location,
	})
	if err != nil {
		return domain.MechanicProfile{}, fmt.Errorf("upsert profile: %w", err)
	}
	if err := s.matcher.UpsertMechanic(ctx, userID, location); err != nil {
		s.logger.Warn("index mechanic", zap.Error(err), zap.String("mechanic_id", userID.String()))
	}
	return profile, nil
}

// GetProfile returns the caller's mechanic profile.
func (s *Service) GetProfile(ctx context.Context, userID uuid.UUID) (domain.MechanicProfile, error) {
	return s.profiles.GetProfile(ctx, userID)
}

// SetAvailability toggles the caller's availability. Going available with
// a request still assigned is rejected.
func (s *Service) SetAvailability(ctx context.Context, userID uuid.UUID, available bool) (domain.MechanicProfile, error) {
	return s.profiles.SetAvailability(ctx, userID, available)
}

// UpdateUserLocation moves the user; mechanic locations also refresh the
// geo index.
func (s *Service) UpdateUserLocation(ctx context.Context, userID uuid.UUID, point domain.GeoPoint) (domain.User, error) {
	if !validPoint(point) {
		return domain.User{}, fmt.Errorf("%w: malformed location", domain.ErrValidation)
	}
	user, err := s.users.UpdateUserLocation(ctx, userID, point)
	if err != nil {
		return domain.User{}, fmt.Errorf("update location: %w", err)
	}
	if user.Role == domain.RoleMechanic {
		if err := s.matcher.UpsertMechanic(ctx, userID, point); err != nil {
			s.logger.Warn("index mechanic", zap.Error(err), zap.String("mechanic_id", userID.String()))
		}
	}
	return user, nil
}

// GetUser retrieves a user by id.
func (s *Service) GetUser(ctx context.Context, id uuid.UUID) (domain.User, error) {
	return s.users.GetUserByID(ctx, id)
}

// ListUsers returns all users.
func (s *Service) ListUsers(ctx context.Context) ([]domain.User, error) {
	return s.users.ListUsers(ctx)
}

// ReviewInput is the payload for reviewing a completed request.
type ReviewInput struct {
	RequestID uuid.UUID
	Rating    int
	Comment   string
}

// CreateReview records a review for a completed request owned by the
// caller and recomputes the mechanic's rating aggregate.
func (s *Service) CreateReview(ctx context.Context, userID uuid.UUID, input ReviewInput) (domain.Review, error) {
	if input.Rating < 1 || input.Rating > 5 {
		return domain.Review{}, fmt.Errorf("%w: rating must be between 1 and 5", domain.ErrValidation)
	}
	request, err := s.requests.GetRequestByID(ctx, input.RequestID)
	if err != nil {
		return domain.Review{}, fmt.Errorf("load request: %w", err)
	}
	if request.UserID != userID {
		return domain.Review{}, fmt.Errorf("%w: request belongs to another user", domain.ErrForbidden)
	}
	if request.Status != domain.StatusCompleted || request.MechanicID == nil {
		return domain.Review{}, fmt.Errorf("%w: request is not completed", domain.ErrConflict)
	}

	review, err := s.reviews.CreateReview(ctx, domain.Review{
		ID:         uuid.New(),
		RequestID:  request.ID,
		UserID:     userID,
		MechanicID: *request.MechanicID,
		Rating:     input.Rating,
		Comment:    input.Comment,
		CreatedAt:  s.clock.Now(),
	})
	if err != nil {
		return domain.Review{}, fmt.Errorf("create review: %w", err)
	}

	all, err := s.reviews.ListByMechanic(ctx, *request.MechanicID)
	if err != nil {
		return domain.Review{}, fmt.Errorf("list reviews: %w", err)
	}
	var sum int
	for _, r := range all {
		sum += r.Rating
	}
	rating := float64(sum) / float64(len(all))
	if _, err := s.profiles.UpdateRating(ctx, *request.MechanicID, rating, len(all)); err != nil {
		return domain.Review{}, fmt.Errorf("update rating: %w", err)
	}
	return review, nil
}

func (s *Service) notify(ctx context.Context, n domain.Notification) {
	if err := s.notifier.Notify(ctx, n); err != nil {
		s.logger.Warn("enqueue notification failed",
			zap.Error(err), zap.String("user_id", n.UserID.String()))
	}
}

func (s *Service) releaseReservation(ctx context.Context, mechanicID uuid.UUID) {
	if err := s.reservations.Release(ctx, mechanicID); err != nil {
		s.logger.Warn("release reservation failed",
			zap.Error(err), zap.String("mechanic_id", mechanicID.String()))
	}
}
