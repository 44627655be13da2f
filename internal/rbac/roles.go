package rbac

// Role names as stored on employees. Keep these stable; they are part of
// the token contract with the HR service.
const (
	RoleSuperAdmin     = "SUPERADMIN"
	RoleBranchManager  = "BRANCH MANAGER"
	RoleHR             = "HR"
	RoleSalesManager   = "SALES MANAGER"
	RoleTeamLead       = "TL"
	RoleSeniorBusiness = "SBA"
	RoleBusinessAgent  = "BA"
)

// Admins manage fetch configs and read engine stats.
var Admins = []string{RoleBranchManager}

func IsSuperAdmin(role string) bool { return role == RoleSuperAdmin }

// IsKnown reports whether role is one of the roles above.
func IsKnown(role string) bool {
	switch role {
	case RoleSuperAdmin, RoleBranchManager, RoleHR, RoleSalesManager,
		RoleTeamLead, RoleSeniorBusiness, RoleBusinessAgent:
		return true
	}
	return false
}
