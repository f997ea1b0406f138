// Package license mints and parses license strings.
//
// A license is an HS256-signed JWT naming the user it belongs to and the grant it unlocks.
// The server never stores the string itself, only crypto.Digest of it.
package license

import (
	"errors"
	"fmt"
	"time"

	"github.com/gofrs/uuid/v5"
	"github.com/golang-jwt/jwt/v5"

	"github.com/and161185/authserver/internal/model"
)

// Issuer is written into every license.
const Issuer = "authserver"

var (
	// ErrNoKey is returned by NewMinter for an empty signing key.
	ErrNoKey = errors.New("license: empty signing key")
	// ErrMalformed indicates a string that is not a license minted by this server.
	ErrMalformed = errors.New("license: malformed")
)

// Claims is the payload of a license.
type Claims struct {
	Grant model.GrantType `json:"grant"`
	jwt.RegisteredClaims
}

// Minter signs licenses with a shared key.
type Minter struct {
	key []byte
	now func() time.Time
}

// NewMinter returns a Minter using key for HS256.
func NewMinter(key []byte) (*Minter, error) {
	if len(key) == 0 {
		return nil, ErrNoKey
	}
	return &Minter{key: key, now: time.Now}, nil
}

// Mint returns a new license string for userID. Every call yields a distinct string.
func (m *Minter) Mint(userID uuid.UUID, grant model.GrantType) (string, error) {
	jti, err := uuid.NewV4()
	if err != nil {
		return "", err
	}
	claims := Claims{
		Grant: grant,
		RegisteredClaims: jwt.RegisteredClaims{
			ID:       jti.String(),
			Issuer:   Issuer,
			Subject:  userID.String(),
			IssuedAt: jwt.NewNumericDate(m.now()),
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(m.key)
}

// Parse verifies the signature of s and returns its claims.
func (m *Minter) Parse(s string) (*Claims, error) {
	var c Claims
	_, err := jwt.ParseWithClaims(s, &c, m.keyFunc,
		jwt.WithIssuer(Issuer),
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
	)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	if _, err := uuid.FromString(c.Subject); err != nil {
		return nil, fmt.Errorf("%w: subject", ErrMalformed)
	}
	return &c, nil
}

func (m *Minter) keyFunc(t *jwt.Token) (any, error) {
	if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
		return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
	}
	return m.key, nil
}
