package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/gofrs/uuid/v5"
	"go.uber.org/zap"

	"github.com/and161185/authserver/internal/crypto"
	"github.com/and161185/authserver/internal/errs"
	"github.com/and161185/authserver/internal/license"
	"github.com/and161185/authserver/internal/limiter"
	"github.com/and161185/authserver/internal/model"
	"github.com/and161185/authserver/internal/repository"
)

// GrantService exchanges credentials (licenses, passwords) for token pairs.
type GrantService struct {
	users    repository.UserRepository
	licenses repository.LicenseRepository
	tokens   *TokenService
	lim      limiter.Limiter
	minter   *license.Minter
	log      *zap.Logger
}

// NewGrantService constructs GrantService with required dependencies.
func NewGrantService(
	users repository.UserRepository,
	licenses repository.LicenseRepository,
	tokens *TokenService,
	lim limiter.Limiter,
	minter *license.Minter,
	log *zap.Logger,
) *GrantService {
	if log == nil {
		log = zap.NewNop()
	}
	return &GrantService{users: users, licenses: licenses, tokens: tokens, lim: lim, minter: minter, log: log.Named("grants")}
}

// Authorize exchanges a license for a new token pair. Any pair the user held is revoked.
func (s *GrantService) Authorize(ctx context.Context, lic string) (model.TokenPair, error) {
	lic = strings.TrimSpace(lic)
	if lic == "" {
		return model.TokenPair{}, fmt.Errorf("%w: license required", errs.ErrInvalidRequest)
	}
	claims, err := s.minter.Parse(lic)
	if err != nil {
		return model.TokenPair{}, fmt.Errorf("%w: invalid license", errs.ErrUnauthorized)
	}

	l, err := s.licenses.GetByDigest(ctx, crypto.Digest(lic))
	if err != nil {
		if errors.Is(err, errs.ErrNotFound) {
			return model.TokenPair{}, fmt.Errorf("%w: invalid license", errs.ErrUnauthorized)
		}
		return model.TokenPair{}, err
	}
	if claims.Subject != l.UserID.String() {
		s.log.Warn("license subject mismatch", zap.String("license_id", l.ID.String()))
		return model.TokenPair{}, fmt.Errorf("%w: invalid license", errs.ErrUnauthorized)
	}

	u, err := s.activeUser(ctx, l.UserID)
	if err != nil {
		return model.TokenPair{}, err
	}
	return s.tokens.Issue(ctx, *u, l.GrantType)
}

func (s *GrantService) activeUser(ctx context.Context, id uuid.UUID) (*model.User, error) {
	u, err := s.users.GetByID(ctx, id)
	if err != nil {
		if errors.Is(err, errs.ErrNotFound) {
			return nil, fmt.Errorf("%w: invalid license", errs.ErrUnauthorized)
		}
		return nil, err
	}
	if !u.Active {
		return nil, fmt.Errorf("%w: user disabled", errs.ErrUnauthorized)
	}
	return u, nil
}

// Login exchanges username and password for a token pair, throttled per (username, peer).
func (s *GrantService) Login(ctx context.Context, username, password, peer string) (model.TokenPair, error) {
	if username == "" || password == "" {
		return model.TokenPair{}, fmt.Errorf("%w: username and password required", errs.ErrInvalidRequest)
	}
	key := limiter.KeyFor(username, peer)

	left, err := s.lim.Allow(ctx, key)
	if err != nil {
		return model.TokenPair{}, err
	}
	if left > 0 {
		return model.TokenPair{}, fmt.Errorf("%w: retry in %s", errs.ErrRateLimited, left.Round(time.Second))
	}

	u, err := s.users.GetByUsername(ctx, username)
	if err != nil && !errors.Is(err, errs.ErrNotFound) {
		return model.TokenPair{}, err
	}
	if err != nil || !u.Active || !crypto.VerifyPassword([]byte(password), u.SaltAuth, u.PwdHash) {
		locked, ferr := s.lim.Fail(ctx, key)
		if ferr != nil {
			s.log.Warn("limiter failure not recorded", zap.Error(ferr))
		}
		if locked > 0 {
			return model.TokenPair{}, fmt.Errorf("%w: retry in %s", errs.ErrRateLimited, locked.Round(time.Second))
		}
		// unknown user and wrong password are indistinguishable
		return model.TokenPair{}, fmt.Errorf("%w: invalid credentials", errs.ErrUnauthorized)
	}

	if err := s.lim.Reset(ctx, key); err != nil {
		s.log.Warn("limiter reset failed", zap.Error(err))
	}
	return s.tokens.Issue(ctx, *u, model.GrantPassword)
}

// IssueLicense mints a new license for the user and stores its digest,
// invalidating the user's previous license. The string is returned once.
func (s *GrantService) IssueLicense(ctx context.Context, userID uuid.UUID, grant model.GrantType) (string, error) {
	if userID == uuid.Nil {
		return "", fmt.Errorf("%w: user required", errs.ErrInvalidRequest)
	}
	if grant == "" {
		grant = model.GrantLicense
	}
	if !grant.Valid() {
		return "", fmt.Errorf("%w: unknown grant type %q", errs.ErrInvalidRequest, grant)
	}
	if _, err := s.users.GetByID(ctx, userID); err != nil {
		if errors.Is(err, errs.ErrNotFound) {
			return "", fmt.Errorf("%w: user %s", errs.ErrNotFound, userID)
		}
		return "", err
	}

	lic, err := s.minter.Mint(userID, grant)
	if err != nil {
		return "", err
	}
	id, err := uuid.NewV4()
	if err != nil {
		return "", err
	}
	if err := s.licenses.Put(ctx, &model.License{
		ID:        id,
		Digest:    crypto.Digest(lic),
		UserID:    userID,
		GrantType: grant,
	}); err != nil {
		return "", err
	}
	s.log.Info("license issued", zap.String("user_id", userID.String()), zap.String("grant", string(grant)))
	return lic, nil
}

// Logout revokes the user's token pair.
func (s *GrantService) Logout(ctx context.Context, userID uuid.UUID) error {
	return s.tokens.Revoke(ctx, userID)
}
