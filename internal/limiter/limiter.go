// Package limiter throttles password grants per (username, peer) pair.
package limiter

import (
	"context"
	"time"

	"github.com/and161185/authserver/internal/crypto"
)

// Key identifies one throttled login source. Peer is a digest, raw addresses are never stored.
type Key struct {
	Username string
	Peer     []byte
}

// KeyFor builds a Key from a username and a remote address.
func KeyFor(username, addr string) Key {
	return Key{Username: username, Peer: crypto.Digest(addr)}
}

// Limiter controls login attempts and temporary lockouts.
type Limiter interface {
	// Allow returns a positive retry-after while the key is locked out.
	Allow(ctx context.Context, k Key) (time.Duration, error)
	// Reset clears counters after a successful login.
	Reset(ctx context.Context, k Key) error
	// Fail records a failed attempt and returns a positive retry-after once the key gets locked.
	Fail(ctx context.Context, k Key) (time.Duration, error)
}

// Policy configures the sliding window and lockout.
type Policy struct {
	Window   time.Duration // failures older than this restart the count
	MaxFails int           // failures within Window that trigger a lockout
	BlockFor time.Duration
}

// DefaultPolicy is used when no explicit policy is configured.
var DefaultPolicy = Policy{Window: 15 * time.Minute, MaxFails: 5, BlockFor: 15 * time.Minute}
