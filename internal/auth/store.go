package auth

import "context"

// Store describes persistence operations required by the resolver.
// Implementations return ErrNotFound and ErrConflict for missing rows and
// uniqueness violations respectively.
type Store interface {
	CreateRole(ctx context.Context, role *Role) error
	GetRole(ctx context.Context, roleID string) (Role, error)
	ListRoles(ctx context.Context, scope Scope, organizationID string) ([]Role, error)
	DeleteRole(ctx context.Context, roleID string) error
	CountAssignments(ctx context.Context, roleID string) (int, error)

	CreatePermission(ctx context.Context, perm *Permission) error
	GetPermission(ctx context.Context, permissionID string) (Permission, error)
	ListPermissions(ctx context.Context, scope Scope) ([]Permission, error)

	// SetRolePermissions replaces every grant of the role.
	SetRolePermissions(ctx context.Context, roleID string, grants []RolePermission) error
	// PermissionsForRoles returns the distinct permissions granted to any of roleIDs.
	PermissionsForRoles(ctx context.Context, roleIDs []string) ([]Permission, error)

	// Assign inserts or refreshes (expiry, granted_by) an assignment.
	Assign(ctx context.Context, assignment Assignment) error
	Unassign(ctx context.Context, userID, roleID string) error
	// AssignedRoles returns every assignment of the user in the scope, including
	// expired ones; expiry is evaluated by the resolver.
	AssignedRoles(ctx context.Context, userID string, scope Scope, organizationID string) ([]AssignedRole, error)
}

// LegacySource exposes the coarse organization_memberships.role column.
type LegacySource interface {
	MembershipRole(ctx context.Context, userID, organizationID string) (LegacyRole, bool, error)
}
