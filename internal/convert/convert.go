// Package convert maps domain models to wire messages and back.
package convert

import (
	"fmt"

	"github.com/gofrs/uuid/v5"

	"github.com/and161185/authserver/internal/api"
	"github.com/and161185/authserver/internal/errs"
	"github.com/and161185/authserver/internal/model"
)

// ToAPITokenPair converts a domain pair.
func ToAPITokenPair(p model.TokenPair) *api.TokenPair {
	return &api.TokenPair{
		Token:                p.Token,
		RefreshToken:         p.RefreshToken,
		TokenValidity:        p.TokenValidity,
		RefreshTokenValidity: p.RefreshTokenValidity,
	}
}

// ToAPIPolicy converts an access policy.
func ToAPIPolicy(p model.AccessPolicy) api.Policy {
	return api.Policy{ReadAll: p.ReadAll, ReadSelf: p.ReadSelf, WriteAll: p.WriteAll, WriteSelf: p.WriteSelf}
}

// FromAPIPolicy converts a wire policy.
func FromAPIPolicy(p api.Policy) model.AccessPolicy {
	return model.AccessPolicy{ReadAll: p.ReadAll, ReadSelf: p.ReadSelf, WriteAll: p.WriteAll, WriteSelf: p.WriteSelf}
}

// FromAPIPolicies converts an alias -> policy patch. Nil in, nil out.
func FromAPIPolicies(in map[string]api.Policy) map[string]model.AccessPolicy {
	if in == nil {
		return nil
	}
	out := make(map[string]model.AccessPolicy, len(in))
	for alias, p := range in {
		out[alias] = FromAPIPolicy(p)
	}
	return out
}

// ToAPIRole converts a role with its permission table.
func ToAPIRole(r model.Role) *api.Role {
	perms := make(map[string]api.Policy, len(r.Permissions))
	for alias, p := range r.Permissions {
		perms[alias] = ToAPIPolicy(p)
	}
	return &api.Role{ID: r.ID.String(), Name: r.Name, Permissions: perms, CreatedAt: r.CreatedAt}
}

// ToAPIUser converts a user. Credentials are never copied.
func ToAPIUser(u model.User) *api.User {
	roles := make([]string, 0, len(u.Roles))
	for _, r := range u.Roles {
		roles = append(roles, r.Name)
	}
	return &api.User{
		ID:        u.ID.String(),
		Username:  u.Username,
		Email:     u.Email,
		Active:    u.Active,
		Roles:     roles,
		CreatedAt: u.CreatedAt,
	}
}

// ParseUserID parses a wire user id.
func ParseUserID(s string) (uuid.UUID, error) {
	id, err := uuid.FromString(s)
	if err != nil || id == uuid.Nil {
		return uuid.Nil, fmt.Errorf("%w: bad user id %q", errs.ErrInvalidRequest, s)
	}
	return id, nil
}
