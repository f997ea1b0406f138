// Package grpcserver exposes the authserver.v1.AuthServer gRPC API handlers.
package grpcserver

import (
	"context"
	"fmt"

	"github.com/gofrs/uuid/v5"
	"go.uber.org/zap"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/peer"
	"google.golang.org/grpc/status"

	"github.com/and161185/authserver/internal/api"
	"github.com/and161185/authserver/internal/authz"
	"github.com/and161185/authserver/internal/catalog"
	"github.com/and161185/authserver/internal/convert"
	"github.com/and161185/authserver/internal/model"
)

// Grants exchanges credentials for token pairs.
type Grants interface {
	Authorize(ctx context.Context, license string) (model.TokenPair, error)
	Login(ctx context.Context, username, password, peer string) (model.TokenPair, error)
	IssueLicense(ctx context.Context, userID uuid.UUID, grant model.GrantType) (string, error)
	Logout(ctx context.Context, userID uuid.UUID) error
}

// Tokens validates and rotates token pairs.
type Tokens interface {
	Check(ctx context.Context, token string) (model.TokenPair, error)
	Refresh(ctx context.Context, refreshToken string) (model.TokenPair, error)
	Resolve(ctx context.Context, token string) (model.Token, model.TokenPair, error)
}

// Roles manages roles.
type Roles interface {
	AddRole(ctx context.Context, name string) (model.Role, error)
	GetRole(ctx context.Context, name string) (model.Role, error)
	UpdateRole(ctx context.Context, name string, patch map[string]model.AccessPolicy) (model.Role, error)
	DeleteRole(ctx context.Context, name string) error
	AssignRole(ctx context.Context, userID uuid.UUID, roleName string) error
}

// Users reads accounts.
type Users interface {
	Get(ctx context.Context, identifier string) (model.User, error)
	ByID(ctx context.Context, id uuid.UUID) (model.User, error)
}

// Server wires services into gRPC handlers.
type Server struct {
	grants Grants
	tokens Tokens
	roles  Roles
	users  Users
	authz  *authz.Authorizer
	routes map[string]string // full method -> operation alias
	log    *zap.Logger
}

var _ api.AuthServerServer = (*Server)(nil)

// New constructs the server. Every catalog operation is routed to the method of the same name.
func New(grants Grants, tokens Tokens, roles Roles, users Users, az *authz.Authorizer, cat *catalog.Catalog, log *zap.Logger) *Server {
	if log == nil {
		log = zap.NewNop()
	}
	return &Server{
		grants: grants,
		tokens: tokens,
		roles:  roles,
		users:  users,
		authz:  az,
		routes: Routes(cat),
		log:    log,
	}
}

// Routes maps full gRPC method names to catalog aliases. Methods absent from the
// result are public.
func Routes(cat *catalog.Catalog) map[string]string {
	routes := make(map[string]string, cat.Len())
	for _, op := range cat.Operations() {
		routes[api.FullMethod(op.Method)] = op.Alias
	}
	return routes
}

func remoteAddr(ctx context.Context) string {
	if p, ok := peer.FromContext(ctx); ok && p.Addr != nil {
		return p.Addr.String()
	}
	return ""
}

// authorize runs the decision engine for method on behalf of the caller in ctx.
// A method missing from the route table is a wiring bug and is denied.
func (s *Server) authorize(ctx context.Context, method, targetOwner string, checks ...model.Check) (model.User, error) {
	caller, ok := CallerFromCtx(ctx)
	if !ok {
		return model.User{}, status.Error(codes.Unauthenticated, "no auth")
	}
	full := api.FullMethod(method)
	alias, ok := s.routes[full]
	if !ok {
		s.log.Error("method has no operation alias", zap.String("method", full))
		return model.User{}, status.Error(codes.PermissionDenied, "operation not governed")
	}
	if err := s.authz.Authorize(caller, alias, targetOwner, checks...); err != nil {
		return model.User{}, status.Error(codes.PermissionDenied, fmt.Sprintf("insufficient permissions for %s", alias))
	}
	return caller, nil
}

// --- Grants (public) ---

// Authorize exchanges a license for a token pair.
func (s *Server) Authorize(ctx context.Context, req *api.AuthorizeRequest) (*api.TokenPair, error) {
	p, err := s.grants.Authorize(ctx, req.License)
	if err != nil {
		return nil, toStatus(s.log, api.MethodAuthorize, err)
	}
	return convert.ToAPITokenPair(p), nil
}

// Login exchanges username and password for a token pair.
func (s *Server) Login(ctx context.Context, req *api.LoginRequest) (*api.TokenPair, error) {
	p, err := s.grants.Login(ctx, req.Username, req.Password, remoteAddr(ctx))
	if err != nil {
		return nil, toStatus(s.log, api.MethodLogin, err)
	}
	return convert.ToAPITokenPair(p), nil
}

// CheckToken reports the remaining windows of an access token.
func (s *Server) CheckToken(ctx context.Context, req *api.CheckTokenRequest) (*api.TokenPair, error) {
	p, err := s.tokens.Check(ctx, req.Token)
	if err != nil {
		return nil, toStatus(s.log, api.MethodCheckToken, err)
	}
	return convert.ToAPITokenPair(p), nil
}

// RefreshToken rotates the access token of a pair.
func (s *Server) RefreshToken(ctx context.Context, req *api.RefreshTokenRequest) (*api.TokenPair, error) {
	p, err := s.tokens.Refresh(ctx, req.RefreshToken)
	if err != nil {
		return nil, toStatus(s.log, api.MethodRefreshToken, err)
	}
	return convert.ToAPITokenPair(p), nil
}

// --- Governed ---

// Logout revokes the pair of the given user, the caller's own by default.
func (s *Server) Logout(ctx context.Context, req *api.LogoutRequest) (*api.Empty, error) {
	target := req.UserID
	if target == "" {
		if c, ok := CallerFromCtx(ctx); ok {
			target = c.ID.String()
		}
	}
	id, err := convert.ParseUserID(target)
	if err != nil {
		return nil, toStatus(s.log, api.MethodLogout, err)
	}
	if _, err := s.authorize(ctx, api.MethodLogout, id.String(), model.CheckWrite); err != nil {
		return nil, err
	}
	if err := s.grants.Logout(ctx, id); err != nil {
		return nil, toStatus(s.log, api.MethodLogout, err)
	}
	return &api.Empty{}, nil
}

// GetUser returns a user by id, username or email. The identifier is resolved
// first and ownership is decided on the resolved id.
func (s *Server) GetUser(ctx context.Context, req *api.GetUserRequest) (*api.User, error) {
	u, err := s.users.Get(ctx, req.Identifier)
	if err != nil {
		// Lookup failures are only reported to callers allowed to read any account.
		if _, aerr := s.authorize(ctx, api.MethodGetUser, "", model.CheckRead); aerr != nil {
			return nil, aerr
		}
		return nil, toStatus(s.log, api.MethodGetUser, err)
	}
	if _, err := s.authorize(ctx, api.MethodGetUser, u.ID.String(), model.CheckRead); err != nil {
		return nil, err
	}
	return convert.ToAPIUser(u), nil
}

// GetRole returns a role. Holders of the role read it under the *Self bits.
func (s *Server) GetRole(ctx context.Context, req *api.GetRoleRequest) (*api.Role, error) {
	owner := ""
	if c, ok := CallerFromCtx(ctx); ok && c.HasRole(req.Name) {
		owner = c.ID.String()
	}
	if _, err := s.authorize(ctx, api.MethodGetRole, owner, model.CheckRead); err != nil {
		return nil, err
	}
	r, err := s.roles.GetRole(ctx, req.Name)
	if err != nil {
		return nil, toStatus(s.log, api.MethodGetRole, err)
	}
	return convert.ToAPIRole(r), nil
}

// CreateRole creates a role seeded with default policies.
func (s *Server) CreateRole(ctx context.Context, req *api.CreateRoleRequest) (*api.Role, error) {
	if _, err := s.authorize(ctx, api.MethodCreateRole, "", model.CheckRead, model.CheckWrite); err != nil {
		return nil, err
	}
	r, err := s.roles.AddRole(ctx, req.Name)
	if err != nil {
		return nil, toStatus(s.log, api.MethodCreateRole, err)
	}
	return convert.ToAPIRole(r), nil
}

// UpdateRole replaces the policies of the listed operations.
func (s *Server) UpdateRole(ctx context.Context, req *api.UpdateRoleRequest) (*api.Role, error) {
	if _, err := s.authorize(ctx, api.MethodUpdateRole, "", model.CheckRead, model.CheckWrite); err != nil {
		return nil, err
	}
	r, err := s.roles.UpdateRole(ctx, req.Name, convert.FromAPIPolicies(req.Permissions))
	if err != nil {
		return nil, toStatus(s.log, api.MethodUpdateRole, err)
	}
	return convert.ToAPIRole(r), nil
}

// DeleteRole removes a role with its policies and assignments.
func (s *Server) DeleteRole(ctx context.Context, req *api.DeleteRoleRequest) (*api.Empty, error) {
	if _, err := s.authorize(ctx, api.MethodDeleteRole, "", model.CheckRead, model.CheckWrite); err != nil {
		return nil, err
	}
	if err := s.roles.DeleteRole(ctx, req.Name); err != nil {
		return nil, toStatus(s.log, api.MethodDeleteRole, err)
	}
	return &api.Empty{}, nil
}

// AssignRole grants a role to a user.
func (s *Server) AssignRole(ctx context.Context, req *api.AssignRoleRequest) (*api.Empty, error) {
	if _, err := s.authorize(ctx, api.MethodAssignRole, "", model.CheckRead, model.CheckWrite); err != nil {
		return nil, err
	}
	id, err := convert.ParseUserID(req.UserID)
	if err != nil {
		return nil, toStatus(s.log, api.MethodAssignRole, err)
	}
	if err := s.roles.AssignRole(ctx, id, req.Role); err != nil {
		return nil, toStatus(s.log, api.MethodAssignRole, err)
	}
	return &api.Empty{}, nil
}

// IssueLicense mints a license for a user, replacing the previous one.
func (s *Server) IssueLicense(ctx context.Context, req *api.IssueLicenseRequest) (*api.IssueLicenseResponse, error) {
	id, err := convert.ParseUserID(req.UserID)
	if err != nil {
		return nil, toStatus(s.log, api.MethodIssueLicense, err)
	}
	if _, err := s.authorize(ctx, api.MethodIssueLicense, id.String(), model.CheckRead, model.CheckWrite); err != nil {
		return nil, err
	}
	lic, err := s.grants.IssueLicense(ctx, id, model.GrantType(req.GrantType))
	if err != nil {
		return nil, toStatus(s.log, api.MethodIssueLicense, err)
	}
	return &api.IssueLicenseResponse{License: lic}, nil
}
