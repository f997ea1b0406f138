package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/and161185/authserver/internal/errs"
	"github.com/and161185/authserver/internal/model"
	"github.com/gofrs/uuid/v5"
	"github.com/jackc/pgx/v5"
)

// TokenRepo implements TokenRepository using PostgreSQL.
type TokenRepo struct{ db *DB }

// NewTokenRepo constructs a token repository.
func NewTokenRepo(db *DB) *TokenRepo { return &TokenRepo{db: db} }

const selToken = `
SELECT id, token, refresh_token, issued_at, token_validity, refresh_token_validity, user_id, grant_type
FROM tokens`

// Replace locks the owning user row, drops its previous token and inserts t.
// Concurrent issuance for the same user is serialised by the lock.
func (r *TokenRepo) Replace(ctx context.Context, t *model.Token) error {
	const lock = `SELECT id FROM users WHERE id=$1 FOR UPDATE`
	const del = `DELETE FROM tokens WHERE user_id=$1`
	const ins = `
INSERT INTO tokens (id, token, refresh_token, issued_at, token_validity, refresh_token_validity, user_id, grant_type)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`
	return r.db.inTx(ctx, func(tx pgx.Tx) error {
		var uid uuid.UUID
		if err := tx.QueryRow(ctx, lock, t.UserID).Scan(&uid); err != nil {
			if errors.Is(err, pgx.ErrNoRows) {
				return fmt.Errorf("%w: user %s", errs.ErrNotFound, t.UserID)
			}
			return err
		}
		if _, err := tx.Exec(ctx, del, t.UserID); err != nil {
			return err
		}
		_, err := tx.Exec(ctx, ins, t.ID, t.Token, t.RefreshToken, t.IssuedAt,
			t.TokenValidity, t.RefreshTokenValidity, t.UserID, string(t.GrantType))
		if isUniqueViolation(err) {
			return fmt.Errorf("%w: token collision", errs.ErrConflict)
		}
		return err
	})
}

// GetByToken selects by access token.
func (r *TokenRepo) GetByToken(ctx context.Context, token string) (*model.Token, error) {
	return r.getOne(ctx, selToken+` WHERE token=$1`, token)
}

// GetByRefreshToken selects by refresh token.
func (r *TokenRepo) GetByRefreshToken(ctx context.Context, refreshToken string) (*model.Token, error) {
	return r.getOne(ctx, selToken+` WHERE refresh_token=$1`, refreshToken)
}

// GetByUserID selects the user's token row.
func (r *TokenRepo) GetByUserID(ctx context.Context, userID uuid.UUID) (*model.Token, error) {
	return r.getOne(ctx, selToken+` WHERE user_id=$1`, userID)
}

func (r *TokenRepo) getOne(ctx context.Context, q string, arg any) (*model.Token, error) {
	var t model.Token
	var grant string
	err := r.db.Pool.QueryRow(ctx, q, arg).Scan(
		&t.ID, &t.Token, &t.RefreshToken, &t.IssuedAt,
		&t.TokenValidity, &t.RefreshTokenValidity, &t.UserID, &grant,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, errs.ErrNotFound
		}
		return nil, err
	}
	t.GrantType = model.GrantType(grant)
	return &t, nil
}

// Rotate swaps the access token only if the row still carries refreshToken.
func (r *TokenRepo) Rotate(ctx context.Context, id uuid.UUID, refreshToken, newToken string, validity time.Time) error {
	const q = `
UPDATE tokens
SET token=$3, token_validity=$4
WHERE id=$1 AND refresh_token=$2`
	tag, err := r.db.Pool.Exec(ctx, q, id, refreshToken, newToken, validity)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return errs.ErrNotFound
	}
	return nil
}

// DeleteByID removes one row.
func (r *TokenRepo) DeleteByID(ctx context.Context, id uuid.UUID) error {
	_, err := r.db.Pool.Exec(ctx, `DELETE FROM tokens WHERE id=$1`, id)
	return err
}

// DeleteByUserID removes the user's row.
func (r *TokenRepo) DeleteByUserID(ctx context.Context, userID uuid.UUID) error {
	_, err := r.db.Pool.Exec(ctx, `DELETE FROM tokens WHERE user_id=$1`, userID)
	return err
}

// DeleteRefreshExpired removes rows whose refresh window started before cutoff.
func (r *TokenRepo) DeleteRefreshExpired(ctx context.Context, cutoff time.Time) (int64, error) {
	tag, err := r.db.Pool.Exec(ctx, `DELETE FROM tokens WHERE refresh_token_validity < $1`, cutoff)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}
