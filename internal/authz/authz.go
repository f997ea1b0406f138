// Package authz computes access decisions from a caller's roles and an operation alias.
//
// Decisions are pure functions of the supplied state: the caller, its roles and the
// alias are passed in explicitly and nothing is read from ambient context.
package authz

import (
	"fmt"

	"go.uber.org/zap"

	"github.com/and161185/authserver/internal/errs"
	"github.com/and161185/authserver/internal/model"
	"github.com/and161185/authserver/internal/obs"
)

// Decision is the outcome of a single check.
type Decision bool

const (
	Deny  Decision = false
	Allow Decision = true
)

func (d Decision) String() string {
	if d {
		return "ALLOW"
	}
	return "DENY"
}

// Effective ORs the policies of every role carrying alias. A missing alias yields deny-all.
func Effective(roles []model.Role, alias string) model.AccessPolicy {
	var eff model.AccessPolicy
	for _, r := range roles {
		if p, ok := r.Permissions[alias]; ok {
			eff = eff.Union(p)
		}
	}
	return eff
}

// Evaluate applies one check to an already resolved policy.
func Evaluate(p model.AccessPolicy, isOwn bool, check model.Check) Decision {
	switch check {
	case model.CheckRead:
		return Decision((isOwn && p.ReadSelf) || p.ReadAll)
	case model.CheckWrite:
		return Decision((isOwn && p.WriteSelf) || p.WriteAll)
	default:
		return Deny
	}
}

// Decide resolves the effective policy of roles for alias and applies check.
func Decide(roles []model.Role, alias string, isOwn bool, check model.Check) Decision {
	return Evaluate(Effective(roles, alias), isOwn, check)
}

// Authorizer wraps Decide with logging and metrics.
type Authorizer struct {
	log     *zap.Logger
	metrics *obs.Metrics
}

// NewAuthorizer constructs an Authorizer; metrics may be nil.
func NewAuthorizer(log *zap.Logger, metrics *obs.Metrics) *Authorizer {
	if log == nil {
		log = zap.NewNop()
	}
	return &Authorizer{log: log, metrics: metrics}
}

// Authorize returns nil when every check allows caller to run alias against a
// resource owned by targetOwner. An empty check list is denied.
func (a *Authorizer) Authorize(caller model.User, alias, targetOwner string, checks ...model.Check) error {
	isOwn := caller.Owns(targetOwner)
	allowed := len(checks) > 0
	eff := Effective(caller.Roles, alias)
	for _, c := range checks {
		if !Evaluate(eff, isOwn, c) {
			allowed = false
			break
		}
	}

	a.metrics.Decision(alias, allowed)
	a.log.Debug("authorization decision",
		zap.String("operation", alias),
		zap.String("user_id", caller.ID.String()),
		zap.Bool("own", isOwn),
		zap.Stringer("decision", Decision(allowed)),
	)
	if !allowed {
		return fmt.Errorf("%w: insufficient permissions for %s", errs.ErrUnauthorized, alias)
	}
	return nil
}
