package auth

import (
	"fmt"
	"strings"
)

// Role is an authorisation tier. The set is closed and totally ordered:
// member < pro < moderator < owner.
type Role string

const (
	// RoleMember may read content and request keys.
	RoleMember Role = "member"

	// RolePro is a paying member. Same capabilities as member today.
	RolePro Role = "pro"

	// RoleModerator may kick and time out members and pros.
	RoleModerator Role = "moderator"

	// RoleOwner is unrestricted: uploads, user creation, bans, kill switch.
	RoleOwner Role = "owner"
)

// ValidRoles lists every role, lowest first.
var ValidRoles = []Role{RoleMember, RolePro, RoleModerator, RoleOwner}

// Rank returns the role's position in the hierarchy, 1 for member up to 4
// for owner. Unknown roles rank 0, below everything.
func (r Role) Rank() int {
	for i, v := range ValidRoles {
		if r == v {
			return i + 1
		}
	}
	return 0
}

// IsValid reports whether r is one of ValidRoles.
func (r Role) IsValid() bool {
	return r.Rank() > 0
}

// AtLeast reports whether r ranks at or above min.
func (r Role) AtLeast(minRole Role) bool {
	return r.IsValid() && r.Rank() >= minRole.Rank()
}

// ParseRole accepts a role name in any case.
func ParseRole(s string) (Role, error) {
	r := Role(strings.ToLower(strings.TrimSpace(s)))
	if !r.IsValid() {
		return "", fmt.Errorf("%w: %q", ErrInvalidRole, s)
	}
	return r, nil
}
