package limiter

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// PG is a PostgreSQL-backed Limiter.
type PG struct {
	db     pgxQuerier
	policy Policy
	now    func() time.Time
}

// pgxQuerier is satisfied by *pgxpool.Pool and pgxmock pools.
type pgxQuerier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// NewPG constructs a PostgreSQL-backed limiter. A zero policy falls back to DefaultPolicy.
func NewPG(db pgxQuerier, p Policy) *PG {
	if p.MaxFails <= 0 {
		p = DefaultPolicy
	}
	return &PG{db: db, policy: p, now: time.Now}
}

// Allow returns the remaining lockout for k, zero when attempts are allowed.
func (l *PG) Allow(ctx context.Context, k Key) (time.Duration, error) {
	const q = `SELECT blocked_until FROM auth_limiter WHERE username=$1 AND peer_hash=$2`
	var blockedUntil time.Time
	err := l.db.QueryRow(ctx, q, k.Username, k.Peer).Scan(&blockedUntil)
	switch {
	case errors.Is(err, pgx.ErrNoRows):
		return 0, nil
	case err != nil:
		return 0, err
	}
	if left := blockedUntil.Sub(l.now()); left > 0 {
		return left, nil
	}
	return 0, nil
}

// Reset zeroes the failure counter of k.
func (l *PG) Reset(ctx context.Context, k Key) error {
	const q = `
INSERT INTO auth_limiter (username, peer_hash, fail_count, blocked_until, updated_at)
VALUES ($1, $2, 0, 'epoch', $3)
ON CONFLICT (username, peer_hash)
DO UPDATE SET fail_count=0, blocked_until='epoch', updated_at=$3`
	_, err := l.db.Exec(ctx, q, k.Username, k.Peer, l.now())
	return err
}

// Fail counts a failed attempt. The counter restarts when the previous failure is older than the window.
func (l *PG) Fail(ctx context.Context, k Key) (time.Duration, error) {
	now := l.now()

	const q = `
INSERT INTO auth_limiter (username, peer_hash, fail_count, blocked_until, updated_at)
VALUES ($1, $2, 1, 'epoch', $3)
ON CONFLICT (username, peer_hash) DO UPDATE
SET
  fail_count = CASE WHEN $3 - auth_limiter.updated_at > $4::interval THEN 1 ELSE auth_limiter.fail_count + 1 END,
  updated_at = $3
RETURNING fail_count`
	var fails int
	if err := l.db.QueryRow(ctx, q, k.Username, k.Peer, now, l.policy.Window).Scan(&fails); err != nil {
		return 0, err
	}
	if fails < l.policy.MaxFails {
		return 0, nil
	}

	const upd = `UPDATE auth_limiter SET blocked_until=$3 WHERE username=$1 AND peer_hash=$2`
	if _, err := l.db.Exec(ctx, upd, k.Username, k.Peer, now.Add(l.policy.BlockFor)); err != nil {
		return 0, err
	}
	return l.policy.BlockFor, nil
}

// Purge drops counters untouched since cutoff.
func (l *PG) Purge(ctx context.Context, cutoff time.Time) (int64, error) {
	tag, err := l.db.Exec(ctx, `DELETE FROM auth_limiter WHERE updated_at < $1 AND blocked_until < $1`, cutoff)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}
