package pg

import (
	"context"
	"database/sql"
	"errors"

	"zashboard.app/internal/auth"
)

const roleColumns = `id, scope, coalesce(organization_id, ''), name, display_name, description,
	level, is_system, is_active, created_at, updated_at`

const permissionColumns = `id, scope, resource, action, category, display_name, description, created_at`

type scanner interface {
	Scan(dest ...any) error
}

func scanRole(row scanner, r *auth.Role) error {
	return row.Scan(&r.ID, &r.Scope, &r.OrganizationID, &r.Name, &r.DisplayName, &r.Description,
		&r.Level, &r.IsSystem, &r.IsActive, &r.CreatedAt, &r.UpdatedAt)
}

func scanPermission(row scanner, p *auth.Permission) error {
	return row.Scan(&p.ID, &p.Scope, &p.Resource, &p.Action, &p.Category, &p.DisplayName, &p.Description, &p.CreatedAt)
}

func (s *Store) CreateRole(ctx context.Context, role *auth.Role) error {
	if s.db == nil {
		return errNoDB
	}
	_, err := s.db.ExecContext(ctx, `
		insert into roles (id, scope, organization_id, name, display_name, description,
			level, is_system, is_active, created_at, updated_at)
		values ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
	`, role.ID, role.Scope, nullIfEmpty(role.OrganizationID), role.Name, role.DisplayName, role.Description,
		role.Level, role.IsSystem, role.IsActive, role.CreatedAt, role.UpdatedAt)
	return mapError(err, "role "+role.Name)
}

func (s *Store) GetRole(ctx context.Context, roleID string) (auth.Role, error) {
	if s.db == nil {
		return auth.Role{}, errNoDB
	}
	var role auth.Role
	row := s.db.QueryRowContext(ctx, `select `+roleColumns+` from roles where id = $1`, roleID)
	if err := scanRole(row, &role); err != nil {
		return auth.Role{}, mapError(err, "role "+roleID)
	}
	return role, nil
}

func (s *Store) ListRoles(ctx context.Context, scope auth.Scope, organizationID string) ([]auth.Role, error) {
	if s.db == nil {
		return nil, errNoDB
	}
	rows, err := s.db.QueryContext(ctx, `
		select `+roleColumns+`
		from roles
		where scope = $1 and coalesce(organization_id, '') = $2
		order by level desc, name
	`, scope, organizationID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	roles := []auth.Role{}
	for rows.Next() {
		var role auth.Role
		if err := scanRole(rows, &role); err != nil {
			return nil, err
		}
		roles = append(roles, role)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return roles, nil
}

// DeleteRole relies on cascading foreign keys to drop grants and assignments.
func (s *Store) DeleteRole(ctx context.Context, roleID string) error {
	if s.db == nil {
		return errNoDB
	}
	res, err := s.db.ExecContext(ctx, `delete from roles where id = $1`, roleID)
	if err != nil {
		return err
	}
	return expectAffected(res, "role "+roleID)
}

func (s *Store) CountAssignments(ctx context.Context, roleID string) (int, error) {
	if s.db == nil {
		return 0, errNoDB
	}
	var n int
	err := s.db.QueryRowContext(ctx, `select count(*) from user_roles where role_id = $1`, roleID).Scan(&n)
	return n, err
}

func (s *Store) CreatePermission(ctx context.Context, perm *auth.Permission) error {
	if s.db == nil {
		return errNoDB
	}
	_, err := s.db.ExecContext(ctx, `
		insert into permissions (id, scope, resource, action, category, display_name, description, created_at)
		values ($1, $2, $3, $4, $5, $6, $7, $8)
	`, perm.ID, perm.Scope, perm.Resource, perm.Action, perm.Category, perm.DisplayName, perm.Description, perm.CreatedAt)
	return mapError(err, "permission "+perm.Key())
}

func (s *Store) GetPermission(ctx context.Context, permissionID string) (auth.Permission, error) {
	if s.db == nil {
		return auth.Permission{}, errNoDB
	}
	var perm auth.Permission
	row := s.db.QueryRowContext(ctx, `select `+permissionColumns+` from permissions where id = $1`, permissionID)
	if err := scanPermission(row, &perm); err != nil {
		return auth.Permission{}, mapError(err, "permission "+permissionID)
	}
	return perm, nil
}

func (s *Store) ListPermissions(ctx context.Context, scope auth.Scope) ([]auth.Permission, error) {
	if s.db == nil {
		return nil, errNoDB
	}
	rows, err := s.db.QueryContext(ctx, `
		select `+permissionColumns+`
		from permissions
		where scope = $1
		order by resource, action
	`, scope)
	if err != nil {
		return nil, err
	}
	return collectPermissions(rows)
}

func collectPermissions(rows *sql.Rows) ([]auth.Permission, error) {
	defer rows.Close()
	perms := []auth.Permission{}
	for rows.Next() {
		var perm auth.Permission
		if err := scanPermission(rows, &perm); err != nil {
			return nil, err
		}
		perms = append(perms, perm)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return perms, nil
}

func (s *Store) SetRolePermissions(ctx context.Context, roleID string, grants []auth.RolePermission) error {
	if s.db == nil {
		return errNoDB
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	var exists int
	if err := tx.QueryRowContext(ctx, `select 1 from roles where id = $1 for update`, roleID).Scan(&exists); err != nil {
		return mapError(err, "role "+roleID)
	}
	if _, err := tx.ExecContext(ctx, `delete from role_permissions where role_id = $1`, roleID); err != nil {
		return err
	}
	for _, g := range grants {
		if _, err := tx.ExecContext(ctx, `
			insert into role_permissions (role_id, permission_id, granted_by, granted_at)
			values ($1, $2, $3, $4)
			on conflict (role_id, permission_id) do nothing
		`, roleID, g.PermissionID, g.GrantedBy, g.GrantedAt); err != nil {
			return mapError(err, "permission "+g.PermissionID)
		}
	}
	return tx.Commit()
}

func (s *Store) PermissionsForRoles(ctx context.Context, roleIDs []string) ([]auth.Permission, error) {
	if s.db == nil {
		return nil, errNoDB
	}
	if len(roleIDs) == 0 {
		return []auth.Permission{}, nil
	}
	args := make([]any, len(roleIDs))
	for i, id := range roleIDs {
		args[i] = id
	}
	rows, err := s.db.QueryContext(ctx, `
		select `+permissionColumns+`
		from permissions
		where id in (
			select permission_id from role_permissions where role_id in (`+placeholders(1, len(roleIDs))+`)
		)
		order by scope, resource, action
	`, args...)
	if err != nil {
		return nil, err
	}
	return collectPermissions(rows)
}

// Assign upserts on (user_id, role_id); created_at is kept from the first grant.
func (s *Store) Assign(ctx context.Context, a auth.Assignment) error {
	if s.db == nil {
		return errNoDB
	}
	_, err := s.db.ExecContext(ctx, `
		insert into user_roles (user_id, role_id, scope, organization_id, granted_by, expires_at, created_at)
		values ($1, $2, $3, $4, $5, $6, $7)
		on conflict (user_id, role_id) do update
		set granted_by = excluded.granted_by,
		    expires_at = excluded.expires_at
	`, a.UserID, a.RoleID, a.Scope, nullIfEmpty(a.OrganizationID), a.GrantedBy, nullTime(a.ExpiresAt), a.CreatedAt)
	return mapError(err, "role "+a.RoleID)
}

func (s *Store) Unassign(ctx context.Context, userID, roleID string) error {
	if s.db == nil {
		return errNoDB
	}
	res, err := s.db.ExecContext(ctx, `delete from user_roles where user_id = $1 and role_id = $2`, userID, roleID)
	if err != nil {
		return err
	}
	return expectAffected(res, "assignment "+userID+"/"+roleID)
}

func (s *Store) AssignedRoles(ctx context.Context, userID string, scope auth.Scope, organizationID string) ([]auth.AssignedRole, error) {
	if s.db == nil {
		return nil, errNoDB
	}
	rows, err := s.db.QueryContext(ctx, `
		select ur.user_id, ur.role_id, ur.scope, coalesce(ur.organization_id, ''), ur.granted_by,
			ur.expires_at, ur.created_at,
			r.id, r.scope, coalesce(r.organization_id, ''), r.name, r.display_name, r.description,
			r.level, r.is_system, r.is_active, r.created_at, r.updated_at
		from user_roles ur
		join roles r on r.id = ur.role_id
		where ur.user_id = $1
		  and ur.scope = $2
		  and (ur.scope = 'platform' or ur.organization_id = $3)
		order by r.id
	`, userID, scope, organizationID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := []auth.AssignedRole{}
	for rows.Next() {
		var (
			ar      auth.AssignedRole
			expires sql.NullTime
		)
		a, r := &ar.Assignment, &ar.Role
		if err := rows.Scan(&a.UserID, &a.RoleID, &a.Scope, &a.OrganizationID, &a.GrantedBy, &expires, &a.CreatedAt,
			&r.ID, &r.Scope, &r.OrganizationID, &r.Name, &r.DisplayName, &r.Description,
			&r.Level, &r.IsSystem, &r.IsActive, &r.CreatedAt, &r.UpdatedAt); err != nil {
			return nil, err
		}
		a.ExpiresAt = timePtr(expires)
		out = append(out, ar)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return out, nil
}

// MembershipRole implements auth.LegacySource over organization_memberships.role.
func (s *Store) MembershipRole(ctx context.Context, userID, organizationID string) (auth.LegacyRole, bool, error) {
	if s.db == nil {
		return "", false, errNoDB
	}
	var role string
	err := s.db.QueryRowContext(ctx, `
		select role from organization_memberships where organization_id = $1 and user_id = $2
	`, organizationID, userID).Scan(&role)
	if errors.Is(err, sql.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	legacy, err := auth.ParseLegacyRole(role)
	if err != nil {
		return auth.LegacyUser, true, nil
	}
	return legacy, true, nil
}
