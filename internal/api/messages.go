// Package api defines the authserver.v1.AuthServer wire contract: messages,
// the JSON codec they travel in, the service descriptor and a typed client.
package api

import "time"

// AuthorizeRequest exchanges a license for a token pair.
type AuthorizeRequest struct {
	License string `json:"license"`
}

// LoginRequest exchanges a username and password for a token pair.
type LoginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

// CheckTokenRequest asks for the remaining windows of an access token.
type CheckTokenRequest struct {
	Token string `json:"token"`
}

// RefreshTokenRequest rotates the access token of a pair.
type RefreshTokenRequest struct {
	RefreshToken string `json:"refresh_token"`
}

// TokenPair carries a pair and the remaining seconds of each window.
type TokenPair struct {
	Token                string `json:"token"`
	RefreshToken         string `json:"refresh_token"`
	TokenValidity        int64  `json:"token_validity"`
	RefreshTokenValidity int64  `json:"refresh_token_validity"`
}

// LogoutRequest revokes the pair of UserID, or the caller's own pair when empty.
type LogoutRequest struct {
	UserID string `json:"user_id,omitempty"`
}

// GetUserRequest looks a user up by id, username or email.
type GetUserRequest struct {
	Identifier string `json:"identifier"`
}

// User is the public view of an account.
type User struct {
	ID        string    `json:"id"`
	Username  string    `json:"username"`
	Email     string    `json:"email,omitempty"`
	Active    bool      `json:"active"`
	Roles     []string  `json:"roles"`
	CreatedAt time.Time `json:"created_at"`
}

// Policy mirrors the four independent access bits.
type Policy struct {
	ReadAll   bool `json:"read_all"`
	ReadSelf  bool `json:"read_self"`
	WriteAll  bool `json:"write_all"`
	WriteSelf bool `json:"write_self"`
}

// Role is a named set of per-operation policies.
type Role struct {
	ID          string            `json:"id"`
	Name        string            `json:"name"`
	Permissions map[string]Policy `json:"permissions"`
	CreatedAt   time.Time         `json:"created_at"`
}

// GetRoleRequest names a role.
type GetRoleRequest struct {
	Name string `json:"name"`
}

// CreateRoleRequest names the role to create.
type CreateRoleRequest struct {
	Name string `json:"name"`
}

// UpdateRoleRequest replaces the policies of the listed operations.
type UpdateRoleRequest struct {
	Name        string            `json:"name"`
	Permissions map[string]Policy `json:"permissions"`
}

// DeleteRoleRequest names the role to delete.
type DeleteRoleRequest struct {
	Name string `json:"name"`
}

// AssignRoleRequest grants Role to UserID.
type AssignRoleRequest struct {
	UserID string `json:"user_id"`
	Role   string `json:"role"`
}

// IssueLicenseRequest mints a license for UserID.
type IssueLicenseRequest struct {
	UserID    string `json:"user_id"`
	GrantType string `json:"grant_type,omitempty"`
}

// IssueLicenseResponse holds the license string. It is shown once.
type IssueLicenseResponse struct {
	License string `json:"license"`
}

// Empty is returned by calls without a result.
type Empty struct{}
