package service_test

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/vishnandaman/road-assist/internal/roadside/domain"
	"github.com/vishnandaman/road-assist/internal/roadside/service"
)

func TestRegisterAndAuthenticate(t *testing.T) {
	f := newFixture(t)

	user, err := f.svc.RegisterUser(context.Background(), service.RegisterInput{
		Name:     "Dana",
		Email:    "  Dana@Example.com ",
		Password: "hunter22",
		Location: testPoint,
	})
	require.NoError(t, err)
	require.Equal(t, domain.RoleUser, user.Role)
	require.Equal(t, "dana@example.com", user.Email)

	got, err := f.svc.Authenticate(context.Background(), "dana@example.com", "hunter22")
	require.NoError(t, err)
	require.Equal(t, user.ID, got.ID)

	_, err = f.svc.Authenticate(context.Background(), "dana@example.com", "wrong")
	require.ErrorIs(t, err, domain.ErrUnauthorized)

	_, err = f.svc.Authenticate(context.Background(), "nobody@example.com", "hunter22")
	require.ErrorIs(t, err, domain.ErrUnauthorized)
}

func TestRegisterValidation(t *testing.T) {
	f := newFixture(t)

	_, err := f.svc.RegisterUser(context.Background(), service.RegisterInput{
		Name: "Dana", Email: "dana@example.com", Password: "short",
	})
	require.ErrorIs(t, err, domain.ErrValidation)

	_, err = f.svc.RegisterUser(context.Background(), service.RegisterInput{
		Name: "Dana", Email: "dana@example.com", Password: "hunter22", Role: "admin",
	})
	require.ErrorIs(t, err, domain.ErrValidation)
}

func TestRegisterDuplicateEmail(t *testing.T) {
	f := newFixture(t)

	input := service.RegisterInput{Name: "Dana", Email: "dana@example.com", Password: "hunter22"}
	_, err := f.svc.RegisterUser(context.Background(), input)
	require.NoError(t, err)

	_, err = f.svc.RegisterUser(context.Background(), input)
	require.True(t, errors.Is(err, domain.ErrConflict))
}

func TestRegisterMechanicIsSearchable(t *testing.T) {
	f := newFixture(t)
	user := f.addUser(t, domain.RoleUser, testPoint)

	mech, err := f.svc.RegisterUser(context.Background(), service.RegisterInput{
		Name:     "Max",
		Email:    "max@example.com",
		Password: "hunter22",
		Role:     domain.RoleMechanic,
		Location: testPoint,
	})
	require.NoError(t, err)
	_, err = f.svc.UpsertProfile(context.Background(), mech.ID, service.ProfileInput{
		Specialties: []domain.ServiceType{domain.ServiceTowing},
	})
	require.NoError(t, err)

	_, notified, err := f.svc.CreateRequest(context.Background(), user.ID, service.CreateRequestInput{
		ServiceType: domain.ServiceTowing,
		VehicleType: "sedan",
		Location:    testPoint,
	})
	require.NoError(t, err)
	require.Equal(t, 1, notified)
}
