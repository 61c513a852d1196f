package service

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/vishnandaman/road-assist/internal/auth"
	"github.com/vishnandaman/road-assist/internal/roadside/domain"
)

// RegisterInput is the payload for a new account.
type RegisterInput struct {
	Name     string
	Email    string
	Phone    string
	Password string
	Role     domain.Role
	Location domain.GeoPoint
}

// RegisterUser creates an account with a hashed password. The role
// defaults to user when omitted.
func (s *Service) RegisterUser(ctx context.Context, input RegisterInput) (domain.User, error) {
	input.Email = strings.ToLower(strings.TrimSpace(input.Email))
	if input.Name == "" || input.Email == "" {
		return domain.User{}, fmt.Errorf("%w: name and email are required", domain.ErrValidation)
	}
	if len(input.Password) < 6 {
		return domain.User{}, fmt.Errorf("%w: password must be at least 6 characters", domain.ErrValidation)
	}
	if input.Role == "" {
		input.Role = domain.RoleUser
	}
	// Self-registration never grants admin.
	if input.Role != domain.RoleUser && input.Role != domain.RoleMechanic {
		return domain.User{}, fmt.Errorf("%w: unknown role %q", domain.ErrValidation, input.Role)
	}
	if !validPoint(input.Location) {
		return domain.User{}, fmt.Errorf("%w: malformed location", domain.ErrValidation)
	}

	hash, err := auth.HashPassword(input.Password)
	if err != nil {
		return domain.User{}, fmt.Errorf("hash password: %w", err)
	}
	user, err := s.users.CreateUser(ctx, domain.User{
		ID:           uuid.New(),
		Name:         input.Name,
		Email:        input.Email,
		Phone:        input.Phone,
		Role:         input.Role,
		Location:     input.Location,
		PasswordHash: hash,
		CreatedAt:    s.clock.Now(),
	})
	if err != nil {
		return domain.User{}, fmt.Errorf("create user: %w", err)
	}
	if user.Role == domain.RoleMechanic {
		if err := s.matcher.UpsertMechanic(ctx, user.ID, user.Location); err != nil {
			s.logger.Warn("index mechanic", zap.Error(err), zap.String("mechanic_id", user.ID.String()))
		}
	}
	return user, nil
}

// Authenticate checks credentials and returns the matching user.
// Unknown emails and wrong passwords are indistinguishable to callers.
func (s *Service) Authenticate(ctx context.Context, email, password string) (domain.User, error) {
	email = strings.ToLower(strings.TrimSpace(email))
	user, err := s.users.GetUserByEmail(ctx, email)
	if err != nil {
		return domain.User{}, domain.ErrUnauthorized
	}
	if !auth.CheckPassword(user.PasswordHash, password) {
		return domain.User{}, domain.ErrUnauthorized
	}
	return user, nil
}
