package auth

import (
	"fmt"
	"strings"
)

// LegacyRole is the coarse membership role predating fine-grained RBAC.
type LegacyRole string

const (
	LegacyUser       LegacyRole = "user"
	LegacyAdmin      LegacyRole = "admin"
	LegacySuperAdmin LegacyRole = "super_admin"
)

// ParseLegacyRole accepts the stored enum values; empty means user.
func ParseLegacyRole(raw string) (LegacyRole, error) {
	switch LegacyRole(strings.ToLower(strings.TrimSpace(raw))) {
	case "", LegacyUser:
		return LegacyUser, nil
	case LegacyAdmin:
		return LegacyAdmin, nil
	case LegacySuperAdmin:
		return LegacySuperAdmin, nil
	default:
		return "", fmt.Errorf("%w: unsupported role %q", ErrInvalidInput, raw)
	}
}

// LegacyGrantsAll reports whether the legacy role is treated as holding every
// organization permission.
func LegacyGrantsAll(role LegacyRole) bool {
	return role == LegacySuperAdmin
}

// LegacyRoleForLevel translates an RBAC level into the legacy enum.
func LegacyRoleForLevel(level int) LegacyRole {
	switch {
	case level >= LevelSuperAdmin:
		return LegacySuperAdmin
	case level >= LevelAdmin:
		return LegacyAdmin
	default:
		return LegacyUser
	}
}

// OrgRoleNameForLegacy names the organization system role equivalent to a legacy role.
func OrgRoleNameForLegacy(role LegacyRole) string {
	switch role {
	case LegacySuperAdmin:
		return RoleSuperAdmin
	case LegacyAdmin:
		return RoleAdmin
	default:
		return RoleMember
	}
}
