package service_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/vishnandaman/road-assist/internal/roadside/domain"
	"github.com/vishnandaman/road-assist/internal/roadside/geo"
	"github.com/vishnandaman/road-assist/internal/roadside/matching"
	"github.com/vishnandaman/road-assist/internal/roadside/repository"
	"github.com/vishnandaman/road-assist/internal/roadside/service"
)

type stubNotifier struct {
	mu   sync.Mutex
	sent []domain.Notification
}

func (s *stubNotifier) Notify(_ context.Context, n domain.Notification) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sent = append(s.sent, n)
	return nil
}

func (s *stubNotifier) all() []domain.Notification {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]domain.Notification(nil), s.sent...)
}

type stubClock struct{ t time.Time }

func (s stubClock) Now() time.Time { return s.t }

type fixture struct {
	store    *repository.MemoryStore
	svc      *service.Service
	notifier *stubNotifier
	clock    stubClock
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	store := repository.NewMemoryStore()
	matcher, err := matching.NewProximityMatcher(
		geo.NewMemoryIndex(), geo.NewMemoryIndex(), store, store, store, 50)
	require.NoError(t, err)
	notifier := &stubNotifier{}
	clock := stubClock{t: time.Unix(1700000000, 0).UTC()}
	svc, err := service.New(service.Deps{
		Users:        store,
		Profiles:     store,
		Requests:     store,
		Reviews:      store,
		Matcher:      matcher,
		Reservations: matching.NewMemoryReservationStore(),
		Notifier:     notifier,
		Clock:        clock,
	})
	require.NoError(t, err)
	return &fixture{store: store, svc: svc, notifier: notifier, clock: clock}
}

func (f *fixture) addUser(t *testing.T, role domain.Role, point domain.GeoPoint) domain.User {
	t.Helper()
	user, err := f.store.CreateUser(context.Background(), domain.User{
		ID:       uuid.New(),
		Name:     "test " + string(role),
		Email:    uuid.NewString() + "@example.com",
		Role:     role,
		Location: point,
	})
	require.NoError(t, err)
	return user
}

func (f *fixture) addMechanic(t *testing.T, point domain.GeoPoint) domain.User {
	t.Helper()
	user := f.addUser(t, domain.RoleMechanic, point)
	_, err := f.svc.UpsertProfile(context.Background(), user.ID, service.ProfileInput{
		Specialties: []domain.ServiceType{domain.ServiceTowing},
	})
	require.NoError(t, err)
	return user
}

var testPoint = domain.GeoPoint{Lat: 40.0, Lng: -74.0}

func TestCreateRequestNotifiesNearbyMechanics(t *testing.T) {
	f := newFixture(t)
	user := f.addUser(t, domain.RoleUser, testPoint)
	mechanic := f.addMechanic(t, testPoint)
	farAway := f.addMechanic(t, domain.GeoPoint{Lat: 41.0, Lng: -74.0})

	request, notified, err := f.svc.CreateRequest(context.Background(), user.ID, service.CreateRequestInput{
		ServiceType: domain.ServiceBattery,
		VehicleType: "sedan",
		Location:    testPoint,
	})
	require.NoError(t, err)
	require.Equal(t, domain.StatusPending, request.Status)
	require.Equal(t, 1, notified)

	sent := f.notifier.all()
	require.Len(t, sent, 1)
	require.Equal(t, mechanic.ID, sent[0].UserID)
	require.Equal(t, "New Service Request", sent[0].Title)
	for _, n := range sent {
		require.NotEqual(t, farAway.ID, n.UserID)
	}
}

func TestCreateRequestRejectsUnknownServiceType(t *testing.T) {
	f := newFixture(t)
	user := f.addUser(t, domain.RoleUser, testPoint)

	_, _, err := f.svc.CreateRequest(context.Background(), user.ID, service.CreateRequestInput{
		ServiceType: "helicopter",
		VehicleType: "sedan",
		Location:    testPoint,
	})
	require.ErrorIs(t, err, domain.ErrValidation)
}

func TestNearbyMechanicsRejectsNegativeRadius(t *testing.T) {
	f := newFixture(t)
	_, err := f.svc.NearbyMechanics(context.Background(), testPoint, -1)
	require.ErrorIs(t, err, domain.ErrValidation)
}

func TestAcceptDerivesPriceAndEta(t *testing.T) {
	f := newFixture(t)
	user := f.addUser(t, domain.RoleUser, testPoint)
	mechanic := f.addMechanic(t, testPoint)

	request, _, err := f.svc.CreateRequest(context.Background(), user.ID, service.CreateRequestInput{
		ServiceType: domain.ServiceTire,
		VehicleType: "sedan",
		Location:    testPoint,
	})
	require.NoError(t, err)

	accepted, err := f.svc.AcceptRequest(context.Background(), request.ID, mechanic.ID, service.AcceptOverrides{})
	require.NoError(t, err)
	require.Equal(t, domain.StatusAccepted, accepted.Status)
	require.Equal(t, mechanic.ID, *accepted.MechanicID)
	// Same point: zero distance, so base price and zero ETA.
	require.Equal(t, 20.0, accepted.Price)
	require.Equal(t, 0, accepted.EstimatedTime)
	require.NotNil(t, accepted.AcceptedAt)
	require.Equal(t, f.clock.Now(), *accepted.AcceptedAt)
}

func TestAcceptHonoursOverrides(t *testing.T) {
	f := newFixture(t)
	user := f.addUser(t, domain.RoleUser, testPoint)
	mechanic := f.addMechanic(t, testPoint)

	request, _, err := f.svc.CreateRequest(context.Background(), user.ID, service.CreateRequestInput{
		ServiceType: domain.ServiceFuel,
		VehicleType: "van",
		Location:    testPoint,
	})
	require.NoError(t, err)

	price := 55.0
	eta := 15
	accepted, err := f.svc.AcceptRequest(context.Background(), request.ID, mechanic.ID, service.AcceptOverrides{
		Price:         &price,
		EstimatedTime: &eta,
	})
	require.NoError(t, err)
	require.Equal(t, 55.0, accepted.Price)
	require.Equal(t, 15, accepted.EstimatedTime)
}

func TestAcceptRemovesMechanicFromSearch(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	user := f.addUser(t, domain.RoleUser, testPoint)
	mechanic := f.addMechanic(t, testPoint)

	matches, err := f.svc.NearbyMechanics(ctx, testPoint, 0)
	require.NoError(t, err)
	require.Len(t, matches, 1)
	require.Equal(t, mechanic.ID, matches[0].Mechanic.ID)
	require.InDelta(t, 0, matches[0].DistanceMeters, 1)

	request, _, err := f.svc.CreateRequest(ctx, user.ID, service.CreateRequestInput{
		ServiceType: domain.ServiceTowing,
		VehicleType: "sedan",
		Location:    testPoint,
	})
	require.NoError(t, err)
	_, err = f.svc.AcceptRequest(ctx, request.ID, mechanic.ID, service.AcceptOverrides{})
	require.NoError(t, err)

	profile, err := f.svc.GetProfile(ctx, mechanic.ID)
	require.NoError(t, err)
	require.False(t, profile.Availability)
	require.Equal(t, request.ID, *profile.CurrentRequest)

	matches, err = f.svc.NearbyMechanics(ctx, testPoint, 0)
	require.NoError(t, err)
	require.Empty(t, matches)
}

func TestAcceptRemovesRequestFromSearch(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	user := f.addUser(t, domain.RoleUser, testPoint)
	mechanic := f.addMechanic(t, testPoint)

	request, _, err := f.svc.CreateRequest(ctx, user.ID, service.CreateRequestInput{
		ServiceType: domain.ServiceTowing,
		VehicleType: "sedan",
		Location:    testPoint,
	})
	require.NoError(t, err)

	pending, err := f.svc.NearbyRequests(ctx, testPoint, 0)
	require.NoError(t, err)
	require.Len(t, pending, 1)
	require.Equal(t, request.ID, pending[0].Request.ID)

	_, err = f.svc.AcceptRequest(ctx, request.ID, mechanic.ID, service.AcceptOverrides{})
	require.NoError(t, err)

	pending, err = f.svc.NearbyRequests(ctx, testPoint, 0)
	require.NoError(t, err)
	require.Empty(t, pending)
}

func TestConcurrentAcceptExactlyOneWins(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	user := f.addUser(t, domain.RoleUser, testPoint)
	first := f.addMechanic(t, testPoint)
	second := f.addMechanic(t, testPoint)

	request, _, err := f.svc.CreateRequest(ctx, user.ID, service.CreateRequestInput{
		ServiceType: domain.ServiceLockout,
		VehicleType: "sedan",
		Location:    testPoint,
	})
	require.NoError(t, err)

	var wg sync.WaitGroup
	errs := make([]error, 2)
	for i, mechanicID := range []uuid.UUID{first.ID, second.ID} {
		wg.Add(1)
		go func(i int, id uuid.UUID) {
			defer wg.Done()
			_, errs[i] = f.svc.AcceptRequest(ctx, request.ID, id, service.AcceptOverrides{})
		}(i, mechanicID)
	}
	wg.Wait()

	var won, conflicts int
	for _, err := range errs {
		if err == nil {
			won++
			continue
		}
		require.ErrorIs(t, err, domain.ErrConflict)
		conflicts++
	}
	require.Equal(t, 1, won)
	require.Equal(t, 1, conflicts)

	// The loser must still be available.
	accepted, err := f.svc.GetRequest(ctx, request.ID)
	require.NoError(t, err)
	for _, mechanicID := range []uuid.UUID{first.ID, second.ID} {
		profile, err := f.svc.GetProfile(ctx, mechanicID)
		require.NoError(t, err)
		if mechanicID == *accepted.MechanicID {
			require.False(t, profile.Availability)
		} else {
			require.True(t, profile.Availability)
			require.Nil(t, profile.CurrentRequest)
		}
	}
}

func TestAcceptNonPendingRejected(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	user := f.addUser(t, domain.RoleUser, testPoint)
	mechanic := f.addMechanic(t, testPoint)
	other := f.addMechanic(t, testPoint)

	request, _, err := f.svc.CreateRequest(ctx, user.ID, service.CreateRequestInput{
		ServiceType: domain.ServiceBattery,
		VehicleType: "sedan",
		Location:    testPoint,
	})
	require.NoError(t, err)
	_, err = f.svc.AcceptRequest(ctx, request.ID, mechanic.ID, service.AcceptOverrides{})
	require.NoError(t, err)
	_, err = f.svc.CompleteRequest(ctx, mechanic.ID)
	require.NoError(t, err)

	_, err = f.svc.AcceptRequest(ctx, request.ID, other.ID, service.AcceptOverrides{})
	require.ErrorIs(t, err, domain.ErrConflict)
}

func TestCompleteResetsMechanic(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	user := f.addUser(t, domain.RoleUser, testPoint)
	mechanic := f.addMechanic(t, testPoint)

	request, _, err := f.svc.CreateRequest(ctx, user.ID, service.CreateRequestInput{
		ServiceType: domain.ServiceTowing,
		VehicleType: "truck",
		Location:    testPoint,
	})
	require.NoError(t, err)
	_, err = f.svc.AcceptRequest(ctx, request.ID, mechanic.ID, service.AcceptOverrides{})
	require.NoError(t, err)

	completed, err := f.svc.CompleteRequest(ctx, mechanic.ID)
	require.NoError(t, err)
	require.Equal(t, domain.StatusCompleted, completed.Status)
	require.NotNil(t, completed.CompletedAt)

	profile, err := f.svc.GetProfile(ctx, mechanic.ID)
	require.NoError(t, err)
	require.True(t, profile.Availability)
	require.Nil(t, profile.CurrentRequest)

	current, err := f.svc.CurrentRequest(ctx, mechanic.ID)
	require.NoError(t, err)
	require.Nil(t, current)
}

func TestCompleteWithoutActiveRequestFails(t *testing.T) {
	f := newFixture(t)
	mechanic := f.addMechanic(t, testPoint)

	_, err := f.svc.CompleteRequest(context.Background(), mechanic.ID)
	require.ErrorIs(t, err, domain.ErrNoActiveRequest)

	profile, err := f.svc.GetProfile(context.Background(), mechanic.ID)
	require.NoError(t, err)
	require.True(t, profile.Availability)
}

func TestSetAvailabilityWhileBusyRejected(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	user := f.addUser(t, domain.RoleUser, testPoint)
	mechanic := f.addMechanic(t, testPoint)

	request, _, err := f.svc.CreateRequest(ctx, user.ID, service.CreateRequestInput{
		ServiceType: domain.ServiceOther,
		VehicleType: "sedan",
		Location:    testPoint,
	})
	require.NoError(t, err)
	_, err = f.svc.AcceptRequest(ctx, request.ID, mechanic.ID, service.AcceptOverrides{})
	require.NoError(t, err)

	_, err = f.svc.SetAvailability(ctx, mechanic.ID, true)
	require.ErrorIs(t, err, domain.ErrConflict)
}

func TestCreateReviewUpdatesMechanicRating(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	user := f.addUser(t, domain.RoleUser, testPoint)
	mechanic := f.addMechanic(t, testPoint)

	request, _, err := f.svc.CreateRequest(ctx, user.ID, service.CreateRequestInput{
		ServiceType: domain.ServiceBattery,
		VehicleType: "sedan",
		Location:    testPoint,
	})
	require.NoError(t, err)
	_, err = f.svc.AcceptRequest(ctx, request.ID, mechanic.ID, service.AcceptOverrides{})
	require.NoError(t, err)
	_, err = f.svc.CompleteRequest(ctx, mechanic.ID)
	require.NoError(t, err)

	review, err := f.svc.CreateReview(ctx, user.ID, service.ReviewInput{
		RequestID: request.ID,
		Rating:    4,
		Comment:   "quick and friendly",
	})
	require.NoError(t, err)
	require.Equal(t, mechanic.ID, review.MechanicID)

	profile, err := f.svc.GetProfile(ctx, mechanic.ID)
	require.NoError(t, err)
	require.Equal(t, 4.0, profile.Rating)
	require.Equal(t, 1, profile.ReviewsCount)
}

func TestCreateReviewRequiresCompletedRequest(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	user := f.addUser(t, domain.RoleUser, testPoint)
	f.addMechanic(t, testPoint)

	request, _, err := f.svc.CreateRequest(ctx, user.ID, service.CreateRequestInput{
		ServiceType: domain.ServiceBattery,
		VehicleType: "sedan",
		Location:    testPoint,
	})
	require.NoError(t, err)

	_, err = f.svc.CreateReview(ctx, user.ID, service.ReviewInput{RequestID: request.ID, Rating: 5})
	require.ErrorIs(t, err, domain.ErrConflict)
}

type flakyProfiles struct {
	domain.MechanicRepository
	clearFailures int
}

func (f *flakyProfiles) ClearRequest(ctx context.Context, userID uuid.UUID) (domain.MechanicProfile, error) {
	if f.clearFailures > 0 {
		f.clearFailures--
		return domain.MechanicProfile{}, errors.New("profile store unavailable")
	}
	return f.MechanicRepository.ClearRequest(ctx, userID)
}

func TestCompleteRetriesAfterClearFailure(t *testing.T) {
	ctx := context.Background()
	store := repository.NewMemoryStore()
	matcher, err := matching.NewProximityMatcher(
		geo.NewMemoryIndex(), geo.NewMemoryIndex(), store, store, store, 50)
	require.NoError(t, err)
	profiles := &flakyProfiles{MechanicRepository: store, clearFailures: 1}
	svc, err := service.New(service.Deps{
		Users:        store,
		Profiles:     profiles,
		Requests:     store,
		Reviews:      store,
		Matcher:      matcher,
		Reservations: matching.NewMemoryReservationStore(),
		Notifier:     &stubNotifier{},
		Clock:        stubClock{t: time.Unix(1700000000, 0).UTC()},
	})
	require.NoError(t, err)

	user, err := store.CreateUser(ctx, domain.User{
		ID: uuid.New(), Name: "driver", Email: "driver@example.com",
		Role: domain.RoleUser, Location: testPoint,
	})
	require.NoError(t, err)
	mechanic, err := store.CreateUser(ctx, domain.User{
		ID: uuid.New(), Name: "wrench", Email: "wrench@example.com",
		Role: domain.RoleMechanic, Location: testPoint,
	})
	require.NoError(t, err)
	_, err = svc.UpsertProfile(ctx, mechanic.ID, service.ProfileInput{
		Specialties: []domain.ServiceType{domain.ServiceTowing},
	})
	require.NoError(t, err)

	request, _, err := svc.CreateRequest(ctx, user.ID, service.CreateRequestInput{
		ServiceType: domain.ServiceTowing,
		VehicleType: "truck",
		Location:    testPoint,
	})
	require.NoError(t, err)
	_, err = svc.AcceptRequest(ctx, request.ID, mechanic.ID, service.AcceptOverrides{})
	require.NoError(t, err)

	// First attempt lands the completed status but cannot clear the profile.
	_, err = svc.CompleteRequest(ctx, mechanic.ID)
	require.Error(t, err)

	loaded, err := svc.GetRequest(ctx, request.ID)
	require.NoError(t, err)
	require.Equal(t, domain.StatusCompleted, loaded.Status)

	completed, err := svc.CompleteRequest(ctx, mechanic.ID)
	require.NoError(t, err)
	require.Equal(t, domain.StatusCompleted, completed.Status)

	profile, err := svc.GetProfile(ctx, mechanic.ID)
	require.NoError(t, err)
	require.True(t, profile.Availability)
	require.Nil(t, profile.CurrentRequest)
}
