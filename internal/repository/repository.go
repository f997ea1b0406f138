// Package repository defines storage interfaces implemented by concrete backends.
package repository

import (
	"context"
	"time"

	"github.com/and161185/authserver/internal/model"
	"github.com/gofrs/uuid/v5"
)

// RoleRepository persists roles and their (role, operation) policy rows.
// Every mutating method is a single transaction.
type RoleRepository interface {
	// Create inserts the role with its permission rows and fills r.CreatedAt;
	// ErrConflict on a duplicate name.
	Create(ctx context.Context, r *model.Role) error
	// GetByName loads a role with permissions; ErrNotFound if absent.
	GetByName(ctx context.Context, name string) (*model.Role, error)
	// UpdatePermissions replaces whole policies of existing aliases. Any unknown alias
	// yields ErrNotFound and nothing is applied.
	UpdatePermissions(ctx context.Context, name string, patch map[string]model.AccessPolicy) (*model.Role, error)
	// DeleteByName removes the role, its permission rows and assignments; ErrNotFound if absent.
	DeleteByName(ctx context.Context, name string) error
	// Permissions lists the policy rows of a role id.
	Permissions(ctx context.Context, roleID uuid.UUID) (map[string]model.AccessPolicy, error)
	// EnsureOperations adds missing operations with their defaults to every role.
	EnsureOperations(ctx context.Context, ops []model.Operation) (int64, error)
	// Assign links a user to a role; repeated calls are no-ops.
	Assign(ctx context.Context, userID uuid.UUID, roleName string) error
}

// TokenRepository persists at most one token row per user.
type TokenRepository interface {
	// Replace deletes any row of t.UserID and inserts t, atomically.
	Replace(ctx context.Context, t *model.Token) error
	// GetByToken loads by access token; ErrNotFound if absent.
	GetByToken(ctx context.Context, token string) (*model.Token, error)
	// GetByRefreshToken loads by refresh token; ErrNotFound if absent.
	GetByRefreshToken(ctx context.Context, refreshToken string) (*model.Token, error)
	// GetByUserID loads the user's row; ErrNotFound if absent.
	GetByUserID(ctx context.Context, userID uuid.UUID) (*model.Token, error)
	// Rotate sets a new access token on the row identified by id and refreshToken.
	// ErrNotFound if the row was replaced or deleted meanwhile.
	Rotate(ctx context.Context, id uuid.UUID, refreshToken, newToken string, validity time.Time) error
	// DeleteByID removes a row; absence is not an error.
	DeleteByID(ctx context.Context, id uuid.UUID) error
	// DeleteByUserID removes the user's row; absence is not an error.
	DeleteByUserID(ctx context.Context, userID uuid.UUID) error
	// DeleteRefreshExpired removes rows whose refresh window started before cutoff.
	DeleteRefreshExpired(ctx context.Context, cutoff time.Time) (int64, error)
}

// UserRepository provides read access to users and their roles.
type UserRepository interface {
	// GetByID loads a user with roles and permissions.
	GetByID(ctx context.Context, id uuid.UUID) (*model.User, error)
	// GetByUsername loads a user (without roles) by exact username.
	GetByUsername(ctx context.Context, username string) (*model.User, error)
	// GetByIdentifier loads a user (without roles) by id, username or email.
	GetByIdentifier(ctx context.Context, identifier string) (*model.User, error)
}

// LicenseRepository stores license digests bound 1:1 to users.
type LicenseRepository interface {
	// GetByDigest loads a license; ErrNotFound if absent.
	GetByDigest(ctx context.Context, digest []byte) (*model.License, error)
	// Put stores l, replacing the user's previous license.
	Put(ctx context.Context, l *model.License) error
}
