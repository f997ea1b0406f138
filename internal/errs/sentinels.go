// Package errs contains sentinel errors used across layers for stable error mapping.
package errs

import "errors"

// Common sentinels across repo/service layers. Services wrap them with a
// human-readable reason: fmt.Errorf("%w: token expired", errs.ErrUnauthorized).
var (
	// ErrInvalidRequest indicates malformed or absent input, or a reference to an unknown token.
	ErrInvalidRequest = errors.New("invalid request")

	// ErrUnauthorized indicates failed authentication/authorization: bad credential,
	// expired token or insufficient policy.
	ErrUnauthorized = errors.New("unauthorized")

	// ErrNotFound indicates the referenced role, operation or user does not exist.
	ErrNotFound = errors.New("not found")

	// ErrConflict indicates a unique key collision on create (e.g., role name taken).
	ErrConflict = errors.New("conflict")

	// ErrRateLimited indicates temporary login lock due to rate limiting.
	ErrRateLimited = errors.New("rate limited")
)

// Reason strips the sentinel prefix from a wrapped error so the remaining text
// can be shown to a client. Unknown errors yield an empty string.
func Reason(err error) string {
	if err == nil {
		return ""
	}
	for _, s := range []error{ErrInvalidRequest, ErrUnauthorized, ErrNotFound, ErrConflict, ErrRateLimited} {
		if !errors.Is(err, s) {
			continue
		}
		msg := err.Error()
		prefix := s.Error() + ": "
		if len(msg) > len(prefix) && msg[:len(prefix)] == prefix {
			return msg[len(prefix):]
		}
		return s.Error()
	}
	return ""
}
