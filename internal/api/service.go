package api

import (
	"context"

	"google.golang.org/grpc"
)

// ServiceName is the fully qualified gRPC service name.
const ServiceName = "authserver.v1.AuthServer"

// Method names. Governed methods match catalog definitions by name.
const (
	MethodAuthorize    = "Authorize"
	MethodLogin        = "Login"
	MethodCheckToken   = "CheckToken"
	MethodRefreshToken = "RefreshToken"
	MethodLogout       = "Logout"
	MethodGetUser      = "GetUser"
	MethodGetRole      = "GetRole"
	MethodCreateRole   = "CreateRole"
	MethodUpdateRole   = "UpdateRole"
	MethodDeleteRole   = "DeleteRole"
	MethodAssignRole   = "AssignRole"
	MethodIssueLicense = "IssueLicense"
)

// FullMethod returns "/authserver.v1.AuthServer/<method>".
func FullMethod(method string) string { return "/" + ServiceName + "/" + method }

// AuthServerServer is implemented by the server.
type AuthServerServer interface {
	Authorize(context.Context, *AuthorizeRequest) (*TokenPair, error)
	Login(context.Context, *LoginRequest) (*TokenPair, error)
	CheckToken(context.Context, *CheckTokenRequest) (*TokenPair, error)
	RefreshToken(context.Context, *RefreshTokenRequest) (*TokenPair, error)
	Logout(context.Context, *LogoutRequest) (*Empty, error)
	GetUser(context.Context, *GetUserRequest) (*User, error)
	GetRole(context.Context, *GetRoleRequest) (*Role, error)
	CreateRole(context.Context, *CreateRoleRequest) (*Role, error)
	UpdateRole(context.Context, *UpdateRoleRequest) (*Role, error)
	DeleteRole(context.Context, *DeleteRoleRequest) (*Empty, error)
	AssignRole(context.Context, *AssignRoleRequest) (*Empty, error)
	IssueLicense(context.Context, *IssueLicenseRequest) (*IssueLicenseResponse, error)
}

func unary[Req, Resp any](name string, call func(AuthServerServer, context.Context, *Req) (*Resp, error)) grpc.MethodDesc {
	return grpc.MethodDesc{
		MethodName: name,
		Handler: func(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
			in := new(Req)
			if err := dec(in); err != nil {
				return nil, err
			}
			if interceptor == nil {
				return call(srv.(AuthServerServer), ctx, in)
			}
			info := &grpc.UnaryServerInfo{Server: srv, FullMethod: FullMethod(name)}
			handler := func(ctx context.Context, req any) (any, error) {
				return call(srv.(AuthServerServer), ctx, req.(*Req))
			}
			return interceptor(ctx, in, info, handler)
		},
	}
}

// ServiceDesc describes authserver.v1.AuthServer for grpc.Server.RegisterService.
var ServiceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*AuthServerServer)(nil),
	Methods: []grpc.MethodDesc{
		unary(MethodAuthorize, AuthServerServer.Authorize),
		unary(MethodLogin, AuthServerServer.Login),
		unary(MethodCheckToken, AuthServerServer.CheckToken),
		unary(MethodRefreshToken, AuthServerServer.RefreshToken),
		unary(MethodLogout, AuthServerServer.Logout),
		unary(MethodGetUser, AuthServerServer.GetUser),
		unary(MethodGetRole, AuthServerServer.GetRole),
		unary(MethodCreateRole, AuthServerServer.CreateRole),
		unary(MethodUpdateRole, AuthServerServer.UpdateRole),
		unary(MethodDeleteRole, AuthServerServer.DeleteRole),
		unary(MethodAssignRole, AuthServerServer.AssignRole),
		unary(MethodIssueLicense, AuthServerServer.IssueLicense),
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "authserver/v1/authserver.proto",
}

// RegisterAuthServerServer registers srv on s.
func RegisterAuthServerServer(s grpc.ServiceRegistrar, srv AuthServerServer) {
	s.RegisterService(&ServiceDesc, srv)
}
