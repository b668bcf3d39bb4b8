// Package access defines the role model and the guard that gates route
// subtrees by role.
package access

import (
	"strings"

	dErrors "consular/pkg/domain-errors"
)

// Role is a tagged string enum for the fixed role set.
type Role string

const (
	RoleUser       Role = "USER"
	RoleAgent      Role = "AGENT"
	RoleManager    Role = "MANAGER"
	RoleAdmin      Role = "ADMIN"
	RoleSuperAdmin Role = "SUPER_ADMIN"
	RoleIntelAgent Role = "INTEL_AGENT"
)

var validRoles = map[Role]struct{}{
	RoleUser:       {},
	RoleAgent:      {},
	RoleManager:    {},
	RoleAdmin:      {},
	RoleSuperAdmin: {},
	RoleIntelAgent: {},
}

// Common role groupings used by route guards and service checks.
var (
	StaffRoles    = []Role{RoleAgent, RoleManager, RoleAdmin, RoleSuperAdmin}
	ManagerRoles  = []Role{RoleManager, RoleAdmin, RoleSuperAdmin}
	AdminRoles    = []Role{RoleAdmin, RoleSuperAdmin}
	ProfileReader = []Role{RoleAgent, RoleManager, RoleAdmin, RoleSuperAdmin, RoleIntelAgent}
)

func (r Role) IsValid() bool {
	_, ok := validRoles[r]
	return ok
}

func (r Role) String() string { return string(r) }

// ParseRole normalizes and validates a role name.
func ParseRole(s string) (Role, error) {
	r := Role(strings.ToUpper(strings.TrimSpace(s)))
	if !r.IsValid() {
		return "", dErrors.New(dErrors.CodeValidation, "unknown role: "+s)
	}
	return r, nil
}

// ParseRoles parses a non-empty role set, dropping duplicates.
func ParseRoles(values []string) ([]Role, error) {
	if len(values) == 0 {
		return nil, dErrors.New(dErrors.CodeValidation, "at least one role is required")
	}
	seen := make(map[Role]struct{}, len(values))
	out := make([]Role, 0, len(values))
	for _, v := range values {
		r, err := ParseRole(v)
		if err != nil {
			return nil, err
		}
		if _, dup := seen[r]; dup {
			continue
		}
		seen[r] = struct{}{}
		out = append(out, r)
	}
	return out, nil
}

// HasAnyRole reports whether held intersects required. An empty required set
// admits any holder.
func HasAnyRole(held []Role, required []Role) bool {
	if len(required) == 0 {
		return true
	}
	for _, h := range held {
		for _, r := range required {
			if h == r {
				return true
			}
		}
	}
	return false
}

// RolesFromStrings converts context role names, skipping unknown values.
func RolesFromStrings(values []string) []Role {
	out := make([]Role, 0, len(values))
	for _, v := range values {
		if r := Role(v); r.IsValid() {
			out = append(out, r)
		}
	}
	return out
}

// Strings converts roles to their string form for storage and context.
func Strings(roles []Role) []string {
	out := make([]string, len(roles))
	for i, r := range roles {
		out[i] = string(r)
	}
	return out
}

// IsStaff reports whether the holder acts on behalf of an organization.
func IsStaff(held []Role) bool {
	return HasAnyRole(held, StaffRoles)
}

// IsSuperAdmin reports global administrative scope.
func IsSuperAdmin(held []Role) bool {
	return HasAnyRole(held, []Role{RoleSuperAdmin})
}
