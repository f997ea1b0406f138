// Package service contains the application services: roles, tokens and grants.
package service

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/gofrs/uuid/v5"
	"go.uber.org/zap"

	"github.com/and161185/authserver/internal/catalog"
	"github.com/and161185/authserver/internal/errs"
	"github.com/and161185/authserver/internal/model"
	"github.com/and161185/authserver/internal/repository"
)

// RoleService manages roles and their per-operation policies.
type RoleService struct {
	roles repository.RoleRepository
	cat   *catalog.Catalog
	log   *zap.Logger
}

// NewRoleService constructs RoleService. cat is the startup catalog snapshot.
func NewRoleService(roles repository.RoleRepository, cat *catalog.Catalog, log *zap.Logger) *RoleService {
	if log == nil {
		log = zap.NewNop()
	}
	return &RoleService{roles: roles, cat: cat, log: log.Named("roles")}
}

// AddRole creates a role seeded with the catalog defaults.
func (s *RoleService) AddRole(ctx context.Context, name string) (model.Role, error) {
	if strings.TrimSpace(name) == "" {
		return model.Role{}, fmt.Errorf("%w: role name required", errs.ErrInvalidRequest)
	}
	id, err := uuid.NewV4()
	if err != nil {
		return model.Role{}, err
	}
	r := &model.Role{ID: id, Name: name, Permissions: s.cat.Defaults()}
	if err := s.roles.Create(ctx, r); err != nil {
		if errors.Is(err, errs.ErrConflict) {
			return model.Role{}, fmt.Errorf("%w: role %s already exists", errs.ErrConflict, name)
		}
		return model.Role{}, err
	}
	s.log.Info("role created", zap.String("role", name), zap.Int("operations", len(r.Permissions)))
	return *r, nil
}

// GetRole loads a role by exact name.
func (s *RoleService) GetRole(ctx context.Context, name string) (model.Role, error) {
	if name == "" {
		return model.Role{}, fmt.Errorf("%w: role name required", errs.ErrInvalidRequest)
	}
	r, err := s.roles.GetByName(ctx, name)
	if err != nil {
		if errors.Is(err, errs.ErrNotFound) {
			return model.Role{}, fmt.Errorf("%w: role %s", errs.ErrNotFound, name)
		}
		return model.Role{}, err
	}
	return *r, nil
}

// UpdateRole replaces the policy of each alias in patch. Aliases absent from the
// role fail the whole update; aliases absent from patch are untouched.
func (s *RoleService) UpdateRole(ctx context.Context, name string, patch map[string]model.AccessPolicy) (model.Role, error) {
	if len(patch) == 0 {
		return model.Role{}, fmt.Errorf("%w: nothing to update", errs.ErrInvalidRequest)
	}
	cur, err := s.GetRole(ctx, name)
	if err != nil {
		return model.Role{}, err
	}
	for alias := range patch {
		if _, ok := cur.Permissions[alias]; !ok {
			return model.Role{}, fmt.Errorf("%w: operation %s on role %s", errs.ErrNotFound, alias, name)
		}
	}

	r, err := s.roles.UpdatePermissions(ctx, name, patch)
	if err != nil {
		return model.Role{}, err
	}
	s.log.Info("role updated", zap.String("role", name), zap.Int("changed", len(patch)))
	return *r, nil
}

// DeleteRole removes the role with its policies and assignments.
func (s *RoleService) DeleteRole(ctx context.Context, name string) error {
	if name == "" {
		return fmt.Errorf("%w: role name required", errs.ErrInvalidRequest)
	}
	if err := s.roles.DeleteByName(ctx, name); err != nil {
		if errors.Is(err, errs.ErrNotFound) {
			return fmt.Errorf("%w: role %s", errs.ErrNotFound, name)
		}
		return err
	}
	s.log.Info("role deleted", zap.String("role", name))
	return nil
}

// AssignRole grants roleName to the user. Repeated assignment is a no-op.
func (s *RoleService) AssignRole(ctx context.Context, userID uuid.UUID, roleName string) error {
	if userID == uuid.Nil || roleName == "" {
		return fmt.Errorf("%w: user and role required", errs.ErrInvalidRequest)
	}
	return s.roles.Assign(ctx, userID, roleName)
}

// SyncCatalog adds the default policy of every catalog operation a role lacks.
// Existing policies are never overwritten.
func (s *RoleService) SyncCatalog(ctx context.Context) (int64, error) {
	n, err := s.roles.EnsureOperations(ctx, s.cat.Operations())
	if err != nil {
		return 0, err
	}
	s.log.Info("catalog synced", zap.Int("operations", s.cat.Len()), zap.Int64("inserted", n))
	return n, nil
}

// EnsureSuperuser makes sure a role named name exists and holds every bit of every operation.
func (s *RoleService) EnsureSuperuser(ctx context.Context, name string) (model.Role, error) {
	if _, err := s.AddRole(ctx, name); err != nil && !errors.Is(err, errs.ErrConflict) {
		return model.Role{}, err
	}
	full := model.AccessPolicy{ReadAll: true, ReadSelf: true, WriteAll: true, WriteSelf: true}
	patch := make(map[string]model.AccessPolicy, s.cat.Len())
	for _, alias := range s.cat.Aliases() {
		patch[alias] = full
	}
	return s.UpdateRole(ctx, name, patch)
}
