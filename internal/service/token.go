package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/gofrs/uuid/v5"
	"go.uber.org/zap"

	"github.com/and161185/authserver/internal/crypto"
	"github.com/and161185/authserver/internal/errs"
	"github.com/and161185/authserver/internal/model"
	"github.com/and161185/authserver/internal/obs"
	"github.com/and161185/authserver/internal/repository"
)

// TokenService issues, validates, rotates and revokes token pairs.
// A user holds at most one pair; expiry is evaluated on access.
type TokenService struct {
	tokens  repository.TokenRepository
	access  time.Duration
	refresh time.Duration
	now     func() time.Time
	log     *zap.Logger
	metrics *obs.Metrics
}

// TokenOption customizes TokenService.
type TokenOption func(*TokenService)

// WithClock replaces time.Now.
func WithClock(now func() time.Time) TokenOption {
	return func(s *TokenService) { s.now = now }
}

// WithLogger sets the logger.
func WithLogger(log *zap.Logger) TokenOption {
	return func(s *TokenService) { s.log = log }
}

// WithMetrics records token operations in m.
func WithMetrics(m *obs.Metrics) TokenOption {
	return func(s *TokenService) { s.metrics = m }
}

// NewTokenService constructs TokenService with the access and refresh windows.
func NewTokenService(tokens repository.TokenRepository, access, refresh time.Duration, opts ...TokenOption) *TokenService {
	s := &TokenService{
		tokens:  tokens,
		access:  access,
		refresh: refresh,
		now:     time.Now,
		log:     zap.NewNop(),
	}
	for _, o := range opts {
		o(s)
	}
	s.log = s.log.Named("tokens")
	return s
}

// remaining is the window minus the whole seconds elapsed since anchor.
func remaining(window time.Duration, anchor, now time.Time) int64 {
	return int64(window/time.Second) - int64(now.Sub(anchor)/time.Second)
}

// redact keeps a short prefix of a secret for log correlation.
func redact(s string) string {
	if len(s) <= 6 {
		return "***"
	}
	return s[:6] + "***"
}

func (s *TokenService) record(op string, err error) {
	result := "ok"
	switch {
	case err == nil:
	case errors.Is(err, errs.ErrInvalidRequest):
		result = "invalid"
	case errors.Is(err, errs.ErrUnauthorized):
		result = "expired"
	default:
		result = "error"
	}
	s.metrics.TokenOp(op, result)
}

// Issue creates a fresh pair for user, replacing any pair the user held.
func (s *TokenService) Issue(ctx context.Context, user model.User, grant model.GrantType) (pair model.TokenPair, err error) {
	defer func() { s.record("issue", err) }()

	if user.ID == uuid.Nil {
		return model.TokenPair{}, fmt.Errorf("%w: user required", errs.ErrInvalidRequest)
	}
	if grant == "" {
		grant = model.GrantLicense
	}
	if !grant.Valid() {
		return model.TokenPair{}, fmt.Errorf("%w: unknown grant type %q", errs.ErrInvalidRequest, grant)
	}

	id, err := uuid.NewV4()
	if err != nil {
		return model.TokenPair{}, err
	}
	access, err := crypto.OpaqueToken()
	if err != nil {
		return model.TokenPair{}, err
	}
	refresh, err := crypto.OpaqueToken()
	if err != nil {
		return model.TokenPair{}, err
	}

	now := s.now()
	t := &model.Token{
		ID:                   id,
		Token:                access,
		RefreshToken:         refresh,
		IssuedAt:             now,
		TokenValidity:        now,
		RefreshTokenValidity: now,
		UserID:               user.ID,
		GrantType:            grant,
	}
	if err := s.tokens.Replace(ctx, t); err != nil {
		return model.TokenPair{}, err
	}
	s.log.Debug("token issued",
		zap.String("user_id", user.ID.String()),
		zap.String("grant", string(grant)),
		zap.String("token", redact(access)),
	)
	return s.pair(t, now), nil
}

func (s *TokenService) pair(t *model.Token, now time.Time) model.TokenPair {
	return model.TokenPair{
		Token:                t.Token,
		RefreshToken:         t.RefreshToken,
		TokenValidity:        remaining(s.access, t.TokenValidity, now),
		RefreshTokenValidity: remaining(s.refresh, t.RefreshTokenValidity, now),
	}
}

// Resolve validates token and returns its row with the remaining windows.
// An expired token is reported as ErrUnauthorized and left in place.
func (s *TokenService) Resolve(ctx context.Context, token string) (model.Token, model.TokenPair, error) {
	if token == "" {
		return model.Token{}, model.TokenPair{}, fmt.Errorf("%w: token required", errs.ErrInvalidRequest)
	}
	t, err := s.tokens.GetByToken(ctx, token)
	if err != nil {
		if errors.Is(err, errs.ErrNotFound) {
			return model.Token{}, model.TokenPair{}, fmt.Errorf("%w: unknown token", errs.ErrInvalidRequest)
		}
		return model.Token{}, model.TokenPair{}, err
	}
	p := s.pair(t, s.now())
	if p.TokenValidity <= 0 {
		return model.Token{}, model.TokenPair{}, fmt.Errorf("%w: token expired", errs.ErrUnauthorized)
	}
	return *t, p, nil
}

// Check reports the remaining windows of a live token.
func (s *TokenService) Check(ctx context.Context, token string) (pair model.TokenPair, err error) {
	defer func() { s.record("check", err) }()
	_, pair, err = s.Resolve(ctx, token)
	return pair, err
}

// Refresh swaps the access token of the pair identified by refreshToken. The refresh
// token and its window are preserved. An expired refresh token deletes the pair.
func (s *TokenService) Refresh(ctx context.Context, refreshToken string) (pair model.TokenPair, err error) {
	defer func() { s.record("refresh", err) }()

	if refreshToken == "" {
		return model.TokenPair{}, fmt.Errorf("%w: refresh token required", errs.ErrInvalidRequest)
	}
	t, err := s.tokens.GetByRefreshToken(ctx, refreshToken)
	if err != nil {
		if errors.Is(err, errs.ErrNotFound) {
			return model.TokenPair{}, fmt.Errorf("%w: unknown refresh token", errs.ErrInvalidRequest)
		}
		return model.TokenPair{}, err
	}

	now := s.now()
	if remaining(s.refresh, t.RefreshTokenValidity, now) <= 0 {
		if err := s.tokens.DeleteByID(ctx, t.ID); err != nil {
			return model.TokenPair{}, err
		}
		s.log.Info("refresh token expired, pair removed", zap.String("user_id", t.UserID.String()))
		return model.TokenPair{}, fmt.Errorf("%w: refresh token expired", errs.ErrUnauthorized)
	}

	next, err := crypto.OpaqueToken()
	if err != nil {
		return model.TokenPair{}, err
	}
	if err := s.tokens.Rotate(ctx, t.ID, refreshToken, next, now); err != nil {
		if errors.Is(err, errs.ErrNotFound) {
			// superseded by a concurrent Issue or Revoke
			return model.TokenPair{}, fmt.Errorf("%w: unknown refresh token", errs.ErrInvalidRequest)
		}
		return model.TokenPair{}, err
	}
	t.Token = next
	t.TokenValidity = now
	s.log.Debug("token refreshed", zap.String("user_id", t.UserID.String()), zap.String("token", redact(next)))
	return s.pair(t, now), nil
}

// Revoke deletes the user's pair. Revoking twice is not an error.
func (s *TokenService) Revoke(ctx context.Context, userID uuid.UUID) (err error) {
	defer func() { s.record("revoke", err) }()
	if userID == uuid.Nil {
		return fmt.Errorf("%w: user required", errs.ErrInvalidRequest)
	}
	return s.tokens.DeleteByUserID(ctx, userID)
}

// RevokeToken deletes the pair holding token, if any.
func (s *TokenService) RevokeToken(ctx context.Context, token string) (err error) {
	defer func() { s.record("revoke", err) }()
	if token == "" {
		return fmt.Errorf("%w: token required", errs.ErrInvalidRequest)
	}
	t, err := s.tokens.GetByToken(ctx, token)
	if errors.Is(err, errs.ErrNotFound) {
		return nil
	}
	if err != nil {
		return err
	}
	return s.tokens.DeleteByID(ctx, t.ID)
}

// Sweeper is an extra cleanup step run by the janitor with the current time.
type Sweeper func(ctx context.Context, now time.Time) error

// RunJanitor deletes pairs whose refresh window has elapsed every interval until ctx is done.
// Expiry is enforced on access regardless, the janitor only reclaims rows.
func (s *TokenService) RunJanitor(ctx context.Context, every time.Duration, extra ...Sweeper) {
	t := time.NewTicker(every)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			s.Sweep(ctx, extra...)
		}
	}
}

// Sweep runs one janitor pass.
func (s *TokenService) Sweep(ctx context.Context, extra ...Sweeper) {
	now := s.now()
	n, err := s.tokens.DeleteRefreshExpired(ctx, now.Add(-s.refresh))
	if err != nil {
		s.log.Warn("janitor sweep failed", zap.Error(err))
	} else if n > 0 {
		s.log.Info("expired pairs removed", zap.Int64("count", n))
	}
	for _, sw := range extra {
		if err := sw(ctx, now); err != nil {
			s.log.Warn("janitor sweeper failed", zap.Error(err))
		}
	}
}
