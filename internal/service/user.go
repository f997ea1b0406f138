package service

import (
	"context"
	"fmt"

	"github.com/gofrs/uuid/v5"

	"github.com/and161185/authserver/internal/errs"
	"github.com/and161185/authserver/internal/model"
	"github.com/and161185/authserver/internal/repository"
)

// UserService exposes read access to accounts.
type UserService struct {
	users repository.UserRepository
}

// NewUserService constructs UserService.
func NewUserService(users repository.UserRepository) *UserService {
	return &UserService{users: users}
}

// Get loads a user with roles by id, username or email.
func (s *UserService) Get(ctx context.Context, identifier string) (model.User, error) {
	if identifier == "" {
		return model.User{}, fmt.Errorf("%w: user identifier required", errs.ErrInvalidRequest)
	}
	u, err := s.users.GetByIdentifier(ctx, identifier)
	if err != nil {
		return model.User{}, err
	}
	full, err := s.users.GetByID(ctx, u.ID)
	if err != nil {
		return model.User{}, err
	}
	return *full, nil
}

// ByID loads a user with roles.
func (s *UserService) ByID(ctx context.Context, id uuid.UUID) (model.User, error) {
	u, err := s.users.GetByID(ctx, id)
	if err != nil {
		return model.User{}, err
	}
	return *u, nil
}
