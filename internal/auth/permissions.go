package auth

// Allowed permission categories and actions.
var (
	Categories = []string{"users", "analytics", "roles", "permissions", "system", "settings"}
	Actions    = []string{"read", "write", "delete", "manage", "export", "assign"}
)

// Platform permission keys referenced by the HTTP layer.
const (
	PermUsersRead        = "users:read"
	PermUsersWrite       = "users:write"
	PermAnalyticsRead    = "analytics:read"
	PermAnalyticsExport  = "analytics:export"
	PermAnalyticsDelete  = "analytics:delete"
	PermRolesRead        = "roles:read"
	PermRolesWrite       = "roles:write"
	PermRolesDelete      = "roles:delete"
	PermRolesAssign      = "roles:assign"
	PermRolesManage      = "roles:manage"
	PermPermissionsRead  = "permissions:read"
	PermPermissionsWrite = "permissions:write"
	PermSystemManage     = "system:manage"
	PermSettingsRead     = "settings:read"
	PermSettingsWrite    = "settings:write"
)

// Organization permission keys.
const (
	OrgPermMembersRead   = "org:members:read"
	OrgPermMembersWrite  = "org:members:write"
	OrgPermTeamsRead     = "org:teams:read"
	OrgPermTeamsWrite    = "org:teams:write"
	OrgPermRolesRead     = "org:roles:read"
	OrgPermRolesAssign   = "org:roles:assign"
	OrgPermRolesManage   = "org:roles:manage"
	OrgPermSettingsRead  = "org:settings:read"
	OrgPermSettingsWrite = "org:settings:write"
	OrgPermAnalyticsRead = "org:analytics:read"
)

// BuiltinPermissions is the catalog seeded at startup and by migration.
var BuiltinPermissions = []Permission{
	{Scope: ScopePlatform, Resource: "users", Action: "read", Category: "users", DisplayName: "View users"},
	{Scope: ScopePlatform, Resource: "users", Action: "write", Category: "users", DisplayName: "Edit users"},
	{Scope: ScopePlatform, Resource: "analytics", Action: "read", Category: "analytics", DisplayName: "View analytics"},
	{Scope: ScopePlatform, Resource: "analytics", Action: "export", Category: "analytics", DisplayName: "Export analytics"},
	{Scope: ScopePlatform, Resource: "analytics", Action: "delete", Category: "analytics", DisplayName: "Delete analytics data"},
	{Scope: ScopePlatform, Resource: "roles", Action: "read", Category: "roles", DisplayName: "View roles"},
	{Scope: ScopePlatform, Resource: "roles", Action: "write", Category: "roles", DisplayName: "Create and edit roles"},
	{Scope: ScopePlatform, Resource: "roles", Action: "delete", Category: "roles", DisplayName: "Delete roles"},
	{Scope: ScopePlatform, Resource: "roles", Action: "assign", Category: "roles", DisplayName: "Assign roles"},
	{Scope: ScopePlatform, Resource: "roles", Action: "manage", Category: "roles", DisplayName: "Manage roles"},
	{Scope: ScopePlatform, Resource: "permissions", Action: "read", Category: "permissions", DisplayName: "View permissions"},
	{Scope: ScopePlatform, Resource: "permissions", Action: "write", Category: "permissions", DisplayName: "Edit permissions"},
	{Scope: ScopePlatform, Resource: "system", Action: "manage", Category: "system", DisplayName: "Manage system"},
	{Scope: ScopePlatform, Resource: "settings", Action: "read", Category: "settings", DisplayName: "View settings"},
	{Scope: ScopePlatform, Resource: "settings", Action: "write", Category: "settings", DisplayName: "Edit settings"},

	{Scope: ScopeOrganization, Resource: "members", Action: "read", Category: "users", DisplayName: "View members"},
	{Scope: ScopeOrganization, Resource: "members", Action: "write", Category: "users", DisplayName: "Manage members"},
	{Scope: ScopeOrganization, Resource: "teams", Action: "read", Category: "users", DisplayName: "View teams"},
	{Scope: ScopeOrganization, Resource: "teams", Action: "write", Category: "users", DisplayName: "Manage teams"},
	{Scope: ScopeOrganization, Resource: "roles", Action: "read", Category: "roles", DisplayName: "View organization roles"},
	{Scope: ScopeOrganization, Resource: "roles", Action: "assign", Category: "roles", DisplayName: "Assign organization roles"},
	{Scope: ScopeOrganization, Resource: "roles", Action: "manage", Category: "roles", DisplayName: "Manage organization roles"},
	{Scope: ScopeOrganization, Resource: "settings", Action: "read", Category: "settings", DisplayName: "View organization settings"},
	{Scope: ScopeOrganization, Resource: "settings", Action: "write", Category: "settings", DisplayName: "Edit organization settings"},
	{Scope: ScopeOrganization, Resource: "analytics", Action: "read", Category: "analytics", DisplayName: "View organization analytics"},
}

type builtinRole struct {
	name        string
	displayName string
	level       int
	// nil grants every permission of the scope
	grants []string
}

var platformRoles = []builtinRole{
	{name: RoleSuperAdmin, displayName: "Super Admin", level: LevelSuperAdmin},
	{name: RoleAdmin, displayName: "Admin", level: LevelAdmin, grants: []string{
		PermUsersRead, PermUsersWrite, PermAnalyticsRead, PermAnalyticsExport,
		PermRolesRead, PermRolesWrite, PermRolesAssign, PermPermissionsRead,
		PermSettingsRead, PermSettingsWrite,
	}},
	{name: RoleViewer, displayName: "Viewer", level: LevelMember, grants: []string{
		PermUsersRead, PermAnalyticsRead, PermRolesRead, PermPermissionsRead, PermSettingsRead,
	}},
}

var organizationRoles = []builtinRole{
	{name: RoleSuperAdmin, displayName: "Owner", level: LevelSuperAdmin},
	{name: RoleAdmin, displayName: "Admin", level: LevelAdmin, grants: []string{
		OrgPermMembersRead, OrgPermMembersWrite, OrgPermTeamsRead, OrgPermTeamsWrite,
		OrgPermRolesRead, OrgPermRolesAssign, OrgPermSettingsRead, OrgPermSettingsWrite,
		OrgPermAnalyticsRead,
	}},
	{name: RoleMember, displayName: "Member", level: LevelMember, grants: []string{
		OrgPermMembersRead, OrgPermTeamsRead, OrgPermRolesRead, OrgPermSettingsRead, OrgPermAnalyticsRead,
	}},
}
