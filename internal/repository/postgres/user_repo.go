package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/and161185/authserver/internal/errs"
	"github.com/and161185/authserver/internal/model"
	"github.com/gofrs/uuid/v5"
	"github.com/jackc/pgx/v5"
)

// UserRepo implements UserRepository using PostgreSQL.
type UserRepo struct{ db *DB }

// NewUserRepo constructs a user repository.
func NewUserRepo(db *DB) *UserRepo { return &UserRepo{db: db} }

const selUser = `
SELECT id, username, email, pwd_hash, salt_auth, active, created_at
FROM users`

// GetByID selects a user by ID together with its roles and their permissions.
func (r *UserRepo) GetByID(ctx context.Context, id uuid.UUID) (*model.User, error) {
	u, err := r.getOne(ctx, selUser+` WHERE id=$1`, id)
	if err != nil {
		return nil, err
	}
	roles, err := r.rolesOf(ctx, u.ID)
	if err != nil {
		return nil, err
	}
	u.Roles = roles
	return u, nil
}

// GetByUsername selects a user by username.
func (r *UserRepo) GetByUsername(ctx context.Context, username string) (*model.User, error) {
	return r.getOne(ctx, selUser+` WHERE username=$1`, username)
}

// GetByIdentifier selects a user by id, username or email. An identifier that
// matches more than one account (one user's username equal to another's email)
// is rejected with ErrInvalidRequest.
func (r *UserRepo) GetByIdentifier(ctx context.Context, identifier string) (*model.User, error) {
	rows, err := r.db.Pool.Query(ctx, selUser+` WHERE id::text=$1 OR username=$1 OR email=$1 LIMIT 2`, identifier)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var found []model.User
	for rows.Next() {
		var u model.User
		if err := rows.Scan(&u.ID, &u.Username, &u.Email, &u.PwdHash, &u.SaltAuth, &u.Active, &u.CreatedAt); err != nil {
			return nil, err
		}
		found = append(found, u)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	switch len(found) {
	case 0:
		return nil, errs.ErrNotFound
	case 1:
		return &found[0], nil
	default:
		return nil, fmt.Errorf("%w: identifier %q matches more than one user", errs.ErrInvalidRequest, identifier)
	}
}

func (r *UserRepo) getOne(ctx context.Context, q string, arg any) (*model.User, error) {
	var u model.User
	err := r.db.Pool.QueryRow(ctx, q, arg).Scan(
		&u.ID, &u.Username, &u.Email, &u.PwdHash, &u.SaltAuth, &u.Active, &u.CreatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, errs.ErrNotFound
		}
		return nil, err
	}
	return &u, nil
}

// rolesOf loads the user's roles with permissions in a single round-trip.
func (r *UserRepo) rolesOf(ctx context.Context, userID uuid.UUID) ([]model.Role, error) {
	const q = `
SELECT r.id, r.name, r.created_at, p.alias, p.read_all, p.read_self, p.write_all, p.write_self
FROM user_roles ur
JOIN roles r ON r.id = ur.role_id
JOIN role_permissions p ON p.role_id = r.id
WHERE ur.user_id=$1
ORDER BY r.name, p.alias`
	rows, err := r.db.Pool.Query(ctx, q, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var roles []model.Role
	index := map[uuid.UUID]int{}
	for rows.Next() {
		var role model.Role
		var alias string
		var p model.AccessPolicy
		if err := rows.Scan(&role.ID, &role.Name, &role.CreatedAt,
			&alias, &p.ReadAll, &p.ReadSelf, &p.WriteAll, &p.WriteSelf); err != nil {
			return nil, err
		}
		i, ok := index[role.ID]
		if !ok {
			role.Permissions = map[string]model.AccessPolicy{}
			roles = append(roles, role)
			i = len(roles) - 1
			index[role.ID] = i
		}
		roles[i].Permissions[alias] = p
	}
	return roles, rows.Err()
}
