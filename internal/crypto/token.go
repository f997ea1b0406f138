package crypto

import (
	"crypto/sha256"
	"encoding/base64"
)

// TokenBytes is the entropy of an opaque access or refresh token.
const TokenBytes = 32

// OpaqueToken returns a URL-safe random string carrying TokenBytes of entropy.
func OpaqueToken() (string, error) {
	b, err := RandBytes(TokenBytes)
	if err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(b), nil
}

// Digest returns a stable SHA-256 digest, used to look up credentials
// without storing them.
func Digest(s string) []byte {
	h := sha256.Sum256([]byte(s))
	return h[:]
}
