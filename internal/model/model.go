// Package model defines domain entities used by services and repositories.
package model

import (
	"time"

	"github.com/gofrs/uuid/v5"
)

// AccessPolicy governs one (role, operation) pair. The four bits are independent.
type AccessPolicy struct {
	ReadAll   bool `json:"read_all" yaml:"read_all"`
	ReadSelf  bool `json:"read_self" yaml:"read_self"`
	WriteAll  bool `json:"write_all" yaml:"write_all"`
	WriteSelf bool `json:"write_self" yaml:"write_self"`
}

// Union returns the per-bit OR of p and o.
func (p AccessPolicy) Union(o AccessPolicy) AccessPolicy {
	return AccessPolicy{
		ReadAll:   p.ReadAll || o.ReadAll,
		ReadSelf:  p.ReadSelf || o.ReadSelf,
		WriteAll:  p.WriteAll || o.WriteAll,
		WriteSelf: p.WriteSelf || o.WriteSelf,
	}
}

// Check names the kind of access an operation requires.
type Check int

const (
	// CheckRead requires readSelf (own resource) or readAll.
	CheckRead Check = iota + 1
	// CheckWrite requires writeSelf (own resource) or writeAll.
	CheckWrite
)

func (c Check) String() string {
	switch c {
	case CheckRead:
		return "read"
	case CheckWrite:
		return "write"
	default:
		return "unknown"
	}
}

// Operation is one exposed, individually authorizable action.
type Operation struct {
	Alias     string       // unique within the catalog
	Component string       // logical grouping, e.g. "roles"
	Method    string       // transport method name the alias was derived from
	Default   AccessPolicy // seeded into new roles
}

// Role groups per-operation access policies.
type Role struct {
	ID          uuid.UUID
	Name        string // unique, exact match
	Permissions map[string]AccessPolicy
	CreatedAt   time.Time
}

// Clone returns a deep copy of the role.
func (r Role) Clone() Role {
	c := r
	c.Permissions = make(map[string]AccessPolicy, len(r.Permissions))
	for k, v := range r.Permissions {
		c.Permissions[k] = v
	}
	return c
}

// User represents an account stored on the server. Passwords are never stored in plaintext.
type User struct {
	ID        uuid.UUID // PK
	Username  string    // unique
	Email     string    // unique
	PwdHash   []byte    // Argon2id(password, SaltAuth)
	SaltAuth  []byte    // per-user auth salt
	Active    bool
	Roles     []Role
	CreatedAt time.Time
}

// Owns reports whether ownerID is the user's own id. Usernames and emails are
// resolved to an id before ownership is decided.
func (u User) Owns(ownerID string) bool {
	return ownerID != "" && u.ID != uuid.Nil && ownerID == u.ID.String()
}

// HasRole reports whether the user holds a role with the given name.
func (u User) HasRole(name string) bool {
	for _, r := range u.Roles {
		if r.Name == name {
			return true
		}
	}
	return false
}

// GrantType records how a token pair was obtained.
type GrantType string

const (
	GrantLicense  GrantType = "license"
	GrantPassword GrantType = "password"
)

// Valid reports whether g is a known grant type.
func (g GrantType) Valid() bool {
	return g == GrantLicense || g == GrantPassword
}

// Token is the persisted access/refresh pair of a single user.
type Token struct {
	ID                   uuid.UUID
	Token                string
	RefreshToken         string
	IssuedAt             time.Time
	TokenValidity        time.Time // start of the access-token window
	RefreshTokenValidity time.Time // start of the refresh-token window
	UserID               uuid.UUID
	GrantType            GrantType
}

// TokenPair is what callers receive. Validity values are remaining seconds.
type TokenPair struct {
	Token                string
	RefreshToken         string
	TokenValidity        int64
	RefreshTokenValidity int64
}

// License is a long-lived credential bound 1:1 to a user. Only its digest is stored.
type License struct {
	ID        uuid.UUID
	Digest    []byte
	UserID    uuid.UUID
	GrantType GrantType
	CreatedAt time.Time
}
