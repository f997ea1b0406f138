package postgres

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"github.com/and161185/authserver/internal/errs"
	"github.com/and161185/authserver/internal/model"
	"github.com/gofrs/uuid/v5"
	"github.com/jackc/pgx/v5"
)

// RoleRepo implements RoleRepository using PostgreSQL.
type RoleRepo struct{ db *DB }

// NewRoleRepo constructs a role repository.
func NewRoleRepo(db *DB) *RoleRepo { return &RoleRepo{db: db} }

const insPermission = `
INSERT INTO role_permissions (role_id, alias, read_all, read_self, write_all, write_self)
VALUES ($1, $2, $3, $4, $5, $6)`

// Create inserts the role row and one permission row per alias.
func (r *RoleRepo) Create(ctx context.Context, role *model.Role) error {
	const ins = `INSERT INTO roles (id, name) VALUES ($1, $2) RETURNING created_at`
	return r.db.inTx(ctx, func(tx pgx.Tx) error {
		if err := tx.QueryRow(ctx, ins, role.ID, role.Name).Scan(&role.CreatedAt); err != nil {
			if isUniqueViolation(err) {
				return fmt.Errorf("%w: role %q already exists", errs.ErrConflict, role.Name)
			}
			return err
		}
		for _, alias := range sortedAliases(role.Permissions) {
			p := role.Permissions[alias]
			if _, err := tx.Exec(ctx, insPermission, role.ID, alias, p.ReadAll, p.ReadSelf, p.WriteAll, p.WriteSelf); err != nil {
				return err
			}
		}
		return nil
	})
}

// GetByName loads a role and its permission rows.
func (r *RoleRepo) GetByName(ctx context.Context, name string) (*model.Role, error) {
	const q = `SELECT id, name, created_at FROM roles WHERE name=$1`
	var role model.Role
	if err := r.db.Pool.QueryRow(ctx, q, name).Scan(&role.ID, &role.Name, &role.CreatedAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("%w: role %q", errs.ErrNotFound, name)
		}
		return nil, err
	}
	perms, err := loadPermissions(ctx, r.db.Pool, role.ID)
	if err != nil {
		return nil, err
	}
	role.Permissions = perms
	return &role, nil
}

// UpdatePermissions replaces the policies of the patched aliases under a row lock on the role.
func (r *RoleRepo) UpdatePermissions(
	ctx context.Context, name string, patch map[string]model.AccessPolicy,
) (*model.Role, error) {
	const sel = `SELECT id, created_at FROM roles WHERE name=$1 FOR UPDATE`
	const upd = `
UPDATE role_permissions
SET read_all=$3, read_self=$4, write_all=$5, write_self=$6
WHERE role_id=$1 AND alias=$2`

	role := model.Role{Name: name}
	err := r.db.inTx(ctx, func(tx pgx.Tx) error {
		if err := tx.QueryRow(ctx, sel, name).Scan(&role.ID, &role.CreatedAt); err != nil {
			if errors.Is(err, pgx.ErrNoRows) {
				return fmt.Errorf("%w: role %q", errs.ErrNotFound, name)
			}
			return err
		}
		for _, alias := range sortedAliases(patch) {
			p := patch[alias]
			tag, err := tx.Exec(ctx, upd, role.ID, alias, p.ReadAll, p.ReadSelf, p.WriteAll, p.WriteSelf)
			if err != nil {
				return err
			}
			if tag.RowsAffected() == 0 {
				return fmt.Errorf("%w: operation %q on role %q", errs.ErrNotFound, alias, name)
			}
		}
		perms, err := loadPermissions(ctx, tx, role.ID)
		if err != nil {
			return err
		}
		role.Permissions = perms
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &role, nil
}

// DeleteByName removes the role together with its permission rows and assignments.
func (r *RoleRepo) DeleteByName(ctx context.Context, name string) error {
	const sel = `SELECT id FROM roles WHERE name=$1 FOR UPDATE`
	return r.db.inTx(ctx, func(tx pgx.Tx) error {
		var id uuid.UUID
		if err := tx.QueryRow(ctx, sel, name).Scan(&id); err != nil {
			if errors.Is(err, pgx.ErrNoRows) {
				return fmt.Errorf("%w: role %q", errs.ErrNotFound, name)
			}
			return err
		}
		for _, q := range []string{
			`DELETE FROM role_permissions WHERE role_id=$1`,
			`DELETE FROM user_roles WHERE role_id=$1`,
			`DELETE FROM roles WHERE id=$1`,
		} {
			if _, err := tx.Exec(ctx, q, id); err != nil {
				return err
			}
		}
		return nil
	})
}

// Permissions lists the policy rows of a role.
func (r *RoleRepo) Permissions(ctx context.Context, roleID uuid.UUID) (map[string]model.AccessPolicy, error) {
	return loadPermissions(ctx, r.db.Pool, roleID)
}

// EnsureOperations inserts missing (role, alias) rows with the operation default for every role.
func (r *RoleRepo) EnsureOperations(ctx context.Context, ops []model.Operation) (int64, error) {
	const q = `
INSERT INTO role_permissions (role_id, alias, read_all, read_self, write_all, write_self)
SELECT id, $1, $2, $3, $4, $5 FROM roles
ON CONFLICT (role_id, alias) DO NOTHING`
	var added int64
	err := r.db.inTx(ctx, func(tx pgx.Tx) error {
		for _, op := range ops {
			d := op.Default
			tag, err := tx.Exec(ctx, q, op.Alias, d.ReadAll, d.ReadSelf, d.WriteAll, d.WriteSelf)
			if err != nil {
				return err
			}
			added += tag.RowsAffected()
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	return added, nil
}

// Assign links a user to the named role.
func (r *RoleRepo) Assign(ctx context.Context, userID uuid.UUID, roleName string) error {
	const sel = `SELECT id FROM roles WHERE name=$1`
	const ins = `INSERT INTO user_roles (user_id, role_id) VALUES ($1, $2) ON CONFLICT DO NOTHING`
	var roleID uuid.UUID
	if err := r.db.Pool.QueryRow(ctx, sel, roleName).Scan(&roleID); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return fmt.Errorf("%w: role %q", errs.ErrNotFound, roleName)
		}
		return err
	}
	if _, err := r.db.Pool.Exec(ctx, ins, userID, roleID); err != nil {
		if isForeignKeyViolation(err) {
			return fmt.Errorf("%w: user %s", errs.ErrNotFound, userID)
		}
		return err
	}
	return nil
}

func loadPermissions(ctx context.Context, q querier, roleID uuid.UUID) (map[string]model.AccessPolicy, error) {
	const sel = `
SELECT alias, read_all, read_self, write_all, write_self
FROM role_permissions WHERE role_id=$1`
	rows, err := q.Query(ctx, sel, roleID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	perms := make(map[string]model.AccessPolicy)
	for rows.Next() {
		var alias string
		var p model.AccessPolicy
		if err := rows.Scan(&alias, &p.ReadAll, &p.ReadSelf, &p.WriteAll, &p.WriteSelf); err != nil {
			return nil, err
		}
		perms[alias] = p
	}
	return perms, rows.Err()
}

func sortedAliases(m map[string]model.AccessPolicy) []string {
	out := make([]string, 0, len(m))
	for a := range m {
		out = append(out, a)
	}
	sort.Strings(out)
	return out
}
