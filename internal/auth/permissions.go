package auth

// Permission is a named capability checked by the API.
type Permission string

const (
	PermFenceRead       Permission = "fence:read"
	PermFenceManage     Permission = "fence:manage"
	PermScannerConfig   Permission = "scanner:configure"
	PermDispatcherAdmin Permission = "dispatcher:admin"
)

var rolePermissions = map[Role][]Permission{
	RoleViewer: {
		PermFenceRead,
	},
	RoleOperator: {
		PermFenceRead,
		PermFenceManage,
		PermScannerConfig,
	},
	RoleAdmin: {
		PermFenceRead,
		PermFenceManage,
		PermScannerConfig,
		PermDispatcherAdmin,
	},
}

// HasPermission reports whether role grants perm.
func HasPermission(role Role, perm Permission) bool {
	for _, p := range rolePermissions[role] {
		if p == perm {
			return true
		}
	}
	return false
}

// PermissionsForRole returns a copy of the permissions granted to role.
func PermissionsForRole(role Role) []Permission {
	perms := rolePermissions[role]
	out := make([]Permission, len(perms))
	copy(out, perms)
	return out
}
