package catalog

import "github.com/and161185/authserver/internal/model"

// Aliases of the governed operations exposed by the server.
const (
	OpLogout       = "logout"
	OpGetUser      = "get-user"
	OpGetRole      = "get-role"
	OpCreateRole   = "create-role"
	OpUpdateRole   = "update-role"
	OpDeleteRole   = "delete-role"
	OpAssignRole   = "assign-role"
	OpIssueLicense = "issue-license"
)

func policy(p model.AccessPolicy) *model.AccessPolicy { return &p }

// Definitions returns the server's operation table. Public grant methods
// (Authorize, Login, CheckToken, RefreshToken) are not governed and are absent.
func Definitions() []Definition {
	return []Definition{
		{Component: "auth", Method: "Logout", Alias: OpLogout, Default: policy(model.AccessPolicy{WriteSelf: true})},
		{Component: "users", Method: "GetUser", Alias: OpGetUser, Default: policy(model.AccessPolicy{ReadSelf: true})},
		{Component: "roles", Method: "GetRole", Alias: OpGetRole, Default: policy(model.AccessPolicy{ReadSelf: true})},
		{Component: "roles", Method: "CreateRole", Alias: OpCreateRole},
		{Component: "roles", Method: "UpdateRole", Alias: OpUpdateRole},
		{Component: "roles", Method: "DeleteRole", Alias: OpDeleteRole},
		{Component: "roles", Method: "AssignRole", Alias: OpAssignRole},
		{Component: "licenses", Method: "IssueLicense", Alias: OpIssueLicense},
	}
}
