package auth

import "errors"

// Role is the authorisation tier carried in an access token.
type Role string

const (
	// RoleViewer can read fences, scanner status and the live event feed.
	RoleViewer Role = "viewer"

	// RoleOperator can additionally create and remove fences and tune the scanner.
	RoleOperator Role = "operator"

	// RoleAdmin can additionally initialise the callback dispatcher.
	RoleAdmin Role = "admin"
)

// ValidRoles lists every role a token may be issued for.
var ValidRoles = []Role{RoleViewer, RoleOperator, RoleAdmin}

// IsValidRole reports whether r is a known role.
func IsValidRole(r Role) bool {
	for _, v := range ValidRoles {
		if v == r {
			return true
		}
	}
	return false
}

var (
	ErrTokenInvalid = errors.New("auth: invalid token")
	ErrInvalidRole  = errors.New("auth: invalid role")
	ErrForbidden    = errors.New("auth: insufficient permissions")
)
