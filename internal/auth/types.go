package auth

import (
	"strings"
	"time"
)

// Scope distinguishes platform-wide grants from grants inside one organization.
type Scope string

const (
	ScopePlatform     Scope = "platform"
	ScopeOrganization Scope = "organization"
)

// Valid reports whether s is a known scope.
func (s Scope) Valid() bool {
	return s == ScopePlatform || s == ScopeOrganization
}

// Conventional role levels. Higher means more authority.
const (
	LevelSuperAdmin = 100
	LevelAdmin      = 50
	LevelMember     = 10

	maxRoleLevel = 1000
)

// Built-in role names.
const (
	RoleSuperAdmin = "super_admin"
	RoleAdmin      = "admin"
	RoleMember     = "member"
	RoleViewer     = "viewer"
)

// Role is a named, leveled permission bundle in one scope.
type Role struct {
	ID             string    `json:"id"`
	Scope          Scope     `json:"scope"`
	OrganizationID string    `json:"organization_id,omitempty"`
	Name           string    `json:"name"`
	DisplayName    string    `json:"display_name"`
	Description    string    `json:"description,omitempty"`
	Level          int       `json:"level"`
	IsSystem       bool      `json:"is_system"`
	IsActive       bool      `json:"is_active"`
	CreatedAt      time.Time `json:"created_at"`
	UpdatedAt      time.Time `json:"updated_at"`
}

// Permission is an atomic (resource, action) capability.
type Permission struct {
	ID          string    `json:"id"`
	Scope       Scope     `json:"scope"`
	Resource    string    `json:"resource"`
	Action      string    `json:"action"`
	Category    string    `json:"category"`
	DisplayName string    `json:"display_name"`
	Description string    `json:"description,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
}

// Key returns "resource:action", prefixed with "org:" for organization scope.
func (p Permission) Key() string {
	key := p.Resource + ":" + p.Action
	if p.Scope == ScopeOrganization {
		return orgPrefix + key
	}
	return key
}

// RolePermission records a grant of a permission to a role.
type RolePermission struct {
	RoleID       string    `json:"role_id"`
	PermissionID string    `json:"permission_id"`
	GrantedBy    string    `json:"granted_by,omitempty"`
	GrantedAt    time.Time `json:"granted_at"`
}

// Assignment gives a user a role, optionally until ExpiresAt.
type Assignment struct {
	UserID         string     `json:"user_id"`
	RoleID         string     `json:"role_id"`
	Scope          Scope      `json:"scope"`
	OrganizationID string     `json:"organization_id,omitempty"`
	GrantedBy      string     `json:"granted_by,omitempty"`
	ExpiresAt      *time.Time `json:"expires_at,omitempty"`
	CreatedAt      time.Time  `json:"created_at"`
}

// Expired reports whether the assignment lapsed at or before now.
func (a Assignment) Expired(now time.Time) bool {
	return a.ExpiresAt != nil && !a.ExpiresAt.After(now)
}

// AssignedRole is an assignment joined with its role.
type AssignedRole struct {
	Assignment Assignment
	Role       Role
}

// RoleWithPermissions is the detail view of a role.
type RoleWithPermissions struct {
	Role
	Permissions []Permission `json:"permissions"`
}

const orgPrefix = "org:"

// normalizeKey lower-cases a permission name and strips the optional "org:" prefix.
func normalizeKey(name string) string {
	name = strings.ToLower(strings.TrimSpace(name))
	return strings.TrimPrefix(name, orgPrefix)
}
