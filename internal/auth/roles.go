package auth

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"slices"
	"strings"

	"zashboard.app/internal/ids"
)

var (
	roleNamePattern = regexp.MustCompile(`^[a-z][a-z0-9_]{1,63}$`)
	resourcePattern = regexp.MustCompile(`^[a-z][a-z0-9_]{0,63}$`)
)

// RoleInput describes a custom role to create.
type RoleInput struct {
	Scope          Scope    `json:"scope"`
	OrganizationID string   `json:"organization_id,omitempty"`
	Name           string   `json:"name"`
	DisplayName    string   `json:"display_name"`
	Description    string   `json:"description"`
	Level          int      `json:"level"`
	PermissionIDs  []string `json:"permission_ids"`
	CreatedBy      string   `json:"-"`
}

// PermissionInput describes a permission to create.
type PermissionInput struct {
	Scope       Scope  `json:"scope"`
	Resource    string `json:"resource"`
	Action      string `json:"action"`
	Category    string `json:"category"`
	DisplayName string `json:"display_name"`
	Description string `json:"description"`
}

// GetAllRoles lists roles of a scope. Organization scope requires orgID.
func (r *Resolver) GetAllRoles(ctx context.Context, scope Scope, orgID string) ([]Role, error) {
	if !scope.Valid() {
		return nil, fmt.Errorf("%w: scope must be platform or organization", ErrInvalidInput)
	}
	orgID = strings.TrimSpace(orgID)
	if scope == ScopeOrganization && orgID == "" {
		return nil, fmt.Errorf("%w: organization_id is required", ErrInvalidInput)
	}
	if scope == ScopePlatform {
		orgID = ""
	}
	return r.store.ListRoles(ctx, scope, orgID)
}

// GetAllPermissions lists the permission catalog of a scope.
func (r *Resolver) GetAllPermissions(ctx context.Context, scope Scope) ([]Permission, error) {
	if !scope.Valid() {
		return nil, fmt.Errorf("%w: scope must be platform or organization", ErrInvalidInput)
	}
	return r.store.ListPermissions(ctx, scope)
}

// GetRoleWithPermissions returns a role together with its granted permissions.
func (r *Resolver) GetRoleWithPermissions(ctx context.Context, roleID string) (RoleWithPermissions, error) {
	roleID = strings.TrimSpace(roleID)
	if roleID == "" {
		return RoleWithPermissions{}, fmt.Errorf("%w: role_id is required", ErrInvalidInput)
	}
	role, err := r.store.GetRole(ctx, roleID)
	if err != nil {
		return RoleWithPermissions{}, err
	}
	perms, err := r.store.PermissionsForRoles(ctx, []string{role.ID})
	if err != nil {
		return RoleWithPermissions{}, err
	}
	return RoleWithPermissions{Role: role, Permissions: perms}, nil
}

// CreateRole validates and persists a custom, non-system role.
func (r *Resolver) CreateRole(ctx context.Context, in RoleInput) (RoleWithPermissions, error) {
	in.Name = strings.ToLower(strings.TrimSpace(in.Name))
	in.DisplayName = strings.TrimSpace(in.DisplayName)
	in.OrganizationID = strings.TrimSpace(in.OrganizationID)
	switch {
	case !in.Scope.Valid():
		return RoleWithPermissions{}, fmt.Errorf("%w: scope must be platform or organization", ErrInvalidInput)
	case in.Scope == ScopeOrganization && in.OrganizationID == "":
		return RoleWithPermissions{}, fmt.Errorf("%w: organization_id is required", ErrInvalidInput)
	case in.Scope == ScopePlatform && in.OrganizationID != "":
		return RoleWithPermissions{}, fmt.Errorf("%w: organization_id must be empty for platform roles", ErrInvalidInput)
	case !roleNamePattern.MatchString(in.Name):
		return RoleWithPermissions{}, fmt.Errorf("%w: name must match %s", ErrInvalidInput, roleNamePattern)
	case in.Level < 0 || in.Level > maxRoleLevel:
		return RoleWithPermissions{}, fmt.Errorf("%w: level must be between 0 and %d", ErrInvalidInput, maxRoleLevel)
	}
	if in.DisplayName == "" {
		in.DisplayName = in.Name
	}
	now := r.now()
	role := Role{
		ID:             ids.NewWithPrefix(ids.PrefixRole),
		Scope:          in.Scope,
		OrganizationID: in.OrganizationID,
		Name:           in.Name,
		DisplayName:    in.DisplayName,
		Description:    strings.TrimSpace(in.Description),
		Level:          in.Level,
		IsActive:       true,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	if err := r.store.CreateRole(ctx, &role); err != nil {
		return RoleWithPermissions{}, err
	}
	if len(in.PermissionIDs) == 0 {
		return RoleWithPermissions{Role: role, Permissions: []Permission{}}, nil
	}
	return r.UpdateRolePermissions(ctx, role.ID, in.PermissionIDs, in.CreatedBy)
}

// DeleteRole removes a custom role that nobody holds.
func (r *Resolver) DeleteRole(ctx context.Context, roleID string) error {
	roleID = strings.TrimSpace(roleID)
	if roleID == "" {
		return fmt.Errorf("%w: role_id is required", ErrInvalidInput)
	}
	role, err := r.store.GetRole(ctx, roleID)
	if err != nil {
		return err
	}
	if role.IsSystem {
		return fmt.Errorf("%w: %s", ErrSystemRole, role.Name)
	}
	n, err := r.store.CountAssignments(ctx, role.ID)
	if err != nil {
		return err
	}
	if n > 0 {
		return fmt.Errorf("%w: role is assigned to %d users", ErrConflict, n)
	}
	return r.store.DeleteRole(ctx, role.ID)
}

// CreatePermission validates and persists a permission.
func (r *Resolver) CreatePermission(ctx context.Context, in PermissionInput) (Permission, error) {
	in.Resource = strings.ToLower(strings.TrimSpace(in.Resource))
	in.Action = strings.ToLower(strings.TrimSpace(in.Action))
	in.Category = strings.ToLower(strings.TrimSpace(in.Category))
	switch {
	case !in.Scope.Valid():
		return Permission{}, fmt.Errorf("%w: scope must be platform or organization", ErrInvalidInput)
	case !resourcePattern.MatchString(in.Resource):
		return Permission{}, fmt.Errorf("%w: resource must match %s", ErrInvalidInput, resourcePattern)
	case !slices.Contains(Actions, in.Action):
		return Permission{}, fmt.Errorf("%w: action must be one of %s", ErrInvalidInput, strings.Join(Actions, ", "))
	case !slices.Contains(Categories, in.Category):
		return Permission{}, fmt.Errorf("%w: category must be one of %s", ErrInvalidInput, strings.Join(Categories, ", "))
	}
	perm := Permission{
		ID:          ids.NewWithPrefix(ids.PrefixPermission),
		Scope:       in.Scope,
		Resource:    in.Resource,
		Action:      in.Action,
		Category:    in.Category,
		DisplayName: strings.TrimSpace(in.DisplayName),
		Description: strings.TrimSpace(in.Description),
		CreatedAt:   r.now(),
	}
	if perm.DisplayName == "" {
		perm.DisplayName = perm.Resource + ":" + perm.Action
	}
	if err := r.store.CreatePermission(ctx, &perm); err != nil {
		return Permission{}, err
	}
	return perm, nil
}

// UpdateRolePermissions replaces the grants of a role. Every permission must
// exist and share the role's scope.
func (r *Resolver) UpdateRolePermissions(ctx context.Context, roleID string, permissionIDs []string, grantedBy string) (RoleWithPermissions, error) {
	roleID = strings.TrimSpace(roleID)
	if roleID == "" {
		return RoleWithPermissions{}, fmt.Errorf("%w: role_id is required", ErrInvalidInput)
	}
	role, err := r.store.GetRole(ctx, roleID)
	if err != nil {
		return RoleWithPermissions{}, err
	}
	now := r.now()
	seen := make(map[string]struct{}, len(permissionIDs))
	grants := make([]RolePermission, 0, len(permissionIDs))
	perms := make([]Permission, 0, len(permissionIDs))
	for _, id := range permissionIDs {
		id = strings.TrimSpace(id)
		if id == "" {
			return RoleWithPermissions{}, fmt.Errorf("%w: permission_ids must not contain empty values", ErrInvalidInput)
		}
		if _, dup := seen[id]; dup {
			continue
		}
		seen[id] = struct{}{}
		perm, err := r.store.GetPermission(ctx, id)
		if errors.Is(err, ErrNotFound) {
			return RoleWithPermissions{}, fmt.Errorf("%w: permission_ids: unknown permission %s", ErrInvalidInput, id)
		}
		if err != nil {
			return RoleWithPermissions{}, err
		}
		if perm.Scope != role.Scope {
			return RoleWithPermissions{}, fmt.Errorf("%w: permission_ids: %s is not a %s permission", ErrInvalidInput, perm.Key(), role.Scope)
		}
		perms = append(perms, perm)
		grants = append(grants, RolePermission{RoleID: role.ID, PermissionID: perm.ID, GrantedBy: strings.TrimSpace(grantedBy), GrantedAt: now})
	}
	if err := r.store.SetRolePermissions(ctx, role.ID, grants); err != nil {
		return RoleWithPermissions{}, err
	}
	return RoleWithPermissions{Role: role, Permissions: perms}, nil
}

// EnsureBuiltins creates any missing built-in permission and platform role.
// Existing rows are left untouched so operator edits survive restarts.
func (r *Resolver) EnsureBuiltins(ctx context.Context) error {
	catalog := map[Scope]map[string]Permission{}
	for _, scope := range []Scope{ScopePlatform, ScopeOrganization} {
		existing, err := r.store.ListPermissions(ctx, scope)
		if err != nil {
			return err
		}
		catalog[scope] = make(map[string]Permission, len(existing))
		for _, p := range existing {
			catalog[scope][p.Key()] = p
		}
	}
	now := r.now()
	for _, def := range BuiltinPermissions {
		if _, ok := catalog[def.Scope][def.Key()]; ok {
			continue
		}
		p := def
		p.ID = ids.NewWithPrefix(ids.PrefixPermission)
		p.CreatedAt = now
		if err := r.store.CreatePermission(ctx, &p); err != nil && !errors.Is(err, ErrConflict) {
			return fmt.Errorf("seed permission %s: %w", p.Key(), err)
		}
		catalog[p.Scope][p.Key()] = p
	}

	roles, err := r.store.ListRoles(ctx, ScopePlatform, "")
	if err != nil {
		return err
	}
	byName := make(map[string]struct{}, len(roles))
	for _, role := range roles {
		byName[role.Name] = struct{}{}
	}
	for _, def := range platformRoles {
		if _, ok := byName[def.name]; ok {
			continue
		}
		if _, err := r.createSystemRole(ctx, ScopePlatform, "", def, catalog[ScopePlatform]); err != nil {
			return err
		}
	}
	return nil
}

// BootstrapOrganization creates the organization system roles with their
// default grants and makes ownerUserID the organization super_admin.
func (r *Resolver) BootstrapOrganization(ctx context.Context, orgID, ownerUserID string) error {
	orgID, ownerUserID = strings.TrimSpace(orgID), strings.TrimSpace(ownerUserID)
	if orgID == "" {
		return fmt.Errorf("%w: organization_id is required", ErrInvalidInput)
	}
	if ownerUserID == "" {
		return fmt.Errorf("%w: owner user_id is required", ErrInvalidInput)
	}
	perms, err := r.store.ListPermissions(ctx, ScopeOrganization)
	if err != nil {
		return err
	}
	catalog := make(map[string]Permission, len(perms))
	for _, p := range perms {
		catalog[p.Key()] = p
	}
	var owner Role
	for _, def := range organizationRoles {
		role, err := r.createSystemRole(ctx, ScopeOrganization, orgID, def, catalog)
		if err != nil {
			return err
		}
		if def.name == RoleSuperAdmin {
			owner = role
		}
	}
	return r.store.Assign(ctx, Assignment{
		UserID:         ownerUserID,
		RoleID:         owner.ID,
		Scope:          ScopeOrganization,
		OrganizationID: orgID,
		GrantedBy:      ownerUserID,
		CreatedAt:      r.now(),
	})
}

// AdoptLegacyRole assigns the organization system role matching a legacy
// membership role. It bypasses the escalation guard and is meant for
// migrations of existing memberships.
func (r *Resolver) AdoptLegacyRole(ctx context.Context, orgID, userID string, legacy LegacyRole) error {
	roles, err := r.GetAllRoles(ctx, ScopeOrganization, orgID)
	if err != nil {
		return err
	}
	name := OrgRoleNameForLegacy(legacy)
	for _, role := range roles {
		if role.IsSystem && role.Name == name {
			return r.store.Assign(ctx, Assignment{
				UserID:         strings.TrimSpace(userID),
				RoleID:         role.ID,
				Scope:          ScopeOrganization,
				OrganizationID: role.OrganizationID,
				GrantedBy:      "legacy-migration",
				CreatedAt:      r.now(),
			})
		}
	}
	return fmt.Errorf("%w: organization %s has no %s system role", ErrNotFound, orgID, name)
}

func (r *Resolver) createSystemRole(ctx context.Context, scope Scope, orgID string, def builtinRole, catalog map[string]Permission) (Role, error) {
	now := r.now()
	role := Role{
		ID:             ids.NewWithPrefix(ids.PrefixRole),
		Scope:          scope,
		OrganizationID: orgID,
		Name:           def.name,
		DisplayName:    def.displayName,
		Level:          def.level,
		IsSystem:       true,
		IsActive:       true,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	if err := r.store.CreateRole(ctx, &role); err != nil {
		return Role{}, fmt.Errorf("create system role %s: %w", def.name, err)
	}
	var grants []RolePermission
	if def.grants == nil {
		for _, p := range catalog {
			grants = append(grants, RolePermission{RoleID: role.ID, PermissionID: p.ID, GrantedBy: "system", GrantedAt: now})
		}
	} else {
		for _, key := range def.grants {
			p, ok := catalog[key]
			if !ok {
				return Role{}, fmt.Errorf("%w: builtin permission %s is not seeded", ErrNotFound, key)
			}
			grants = append(grants, RolePermission{RoleID: role.ID, PermissionID: p.ID, GrantedBy: "system", GrantedAt: now})
		}
	}
	if err := r.store.SetRolePermissions(ctx, role.ID, grants); err != nil {
		return Role{}, fmt.Errorf("grant system role %s: %w", def.name, err)
	}
	return role, nil
}
