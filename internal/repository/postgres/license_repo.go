package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/and161185/authserver/internal/errs"
	"github.com/and161185/authserver/internal/model"
	"github.com/jackc/pgx/v5"
)

// LicenseRepo implements LicenseRepository using PostgreSQL.
type LicenseRepo struct{ db *DB }

// NewLicenseRepo constructs a license repository.
func NewLicenseRepo(db *DB) *LicenseRepo { return &LicenseRepo{db: db} }

// GetByDigest selects a license by the digest of its string form.
func (r *LicenseRepo) GetByDigest(ctx context.Context, digest []byte) (*model.License, error) {
	const q = `
SELECT id, digest, user_id, grant_type, created_at
FROM licenses WHERE digest=$1`
	var l model.License
	var grant string
	if err := r.db.Pool.QueryRow(ctx, q, digest).Scan(&l.ID, &l.Digest, &l.UserID, &grant, &l.CreatedAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, errs.ErrNotFound
		}
		return nil, err
	}
	l.GrantType = model.GrantType(grant)
	return &l, nil
}

// Put upserts the user's single license.
func (r *LicenseRepo) Put(ctx context.Context, l *model.License) error {
	const q = `
INSERT INTO licenses (id, digest, user_id, grant_type)
VALUES ($1, $2, $3, $4)
ON CONFLICT (user_id) DO UPDATE
SET id=EXCLUDED.id, digest=EXCLUDED.digest, grant_type=EXCLUDED.grant_type, created_at=now()`
	_, err := r.db.Pool.Exec(ctx, q, l.ID, l.Digest, l.UserID, string(l.GrantType))
	switch {
	case isUniqueViolation(err):
		return fmt.Errorf("%w: license collision", errs.ErrConflict)
	case isForeignKeyViolation(err):
		return fmt.Errorf("%w: user %s", errs.ErrNotFound, l.UserID)
	}
	return err
}
