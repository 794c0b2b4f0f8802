package pg

import (
	"context"
	"encoding/json"
	"fmt"

	"zashboard.app/internal/auth"
	"zashboard.app/internal/org"
)

const orgColumns = `o.id, o.name, o.slug, o.description, o.size, o.settings, o.created_at, o.updated_at`

func scanOrganization(row scanner, o *org.Organization) error {
	var rawSettings []byte
	if err := row.Scan(&o.ID, &o.Name, &o.Slug, &o.Description, &o.Size, &rawSettings, &o.CreatedAt, &o.UpdatedAt); err != nil {
		return err
	}
	o.Settings = map[string]any{}
	if len(rawSettings) > 0 {
		if err := json.Unmarshal(rawSettings, &o.Settings); err != nil {
			return fmt.Errorf("decode settings: %w", err)
		}
	}
	return nil
}

func marshalSettings(settings map[string]any) ([]byte, error) {
	if len(settings) == 0 {
		return []byte("{}"), nil
	}
	b, err := json.Marshal(settings)
	if err != nil {
		return nil, fmt.Errorf("marshal settings: %w", err)
	}
	return b, nil
}

func (s *Store) CreateOrganization(ctx context.Context, o *org.Organization, owner org.Membership) error {
	if s.db == nil {
		return errNoDB
	}
	settings, err := marshalSettings(o.Settings)
	if err != nil {
		return err
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, `
		insert into organizations (id, name, slug, description, size, settings, created_at, updated_at)
		values ($1, $2, $3, $4, $5, $6, $7, $8)
	`, o.ID, o.Name, o.Slug, o.Description, o.Size, settings, o.CreatedAt, o.UpdatedAt); err != nil {
		return mapError(err, fmt.Sprintf("organization slug %q", o.Slug))
	}
	if _, err := tx.ExecContext(ctx, `
		insert into organization_memberships (id, organization_id, user_id, role, created_at)
		values ($1, $2, $3, $4, $5)
	`, owner.ID, o.ID, owner.UserID, owner.Role, owner.CreatedAt); err != nil {
		return mapError(err, "membership")
	}
	return tx.Commit()
}

func (s *Store) GetOrganization(ctx context.Context, id string) (org.Organization, error) {
	if s.db == nil {
		return org.Organization{}, errNoDB
	}
	var o org.Organization
	row := s.db.QueryRowContext(ctx, `select `+orgColumns+` from organizations o where o.id = $1`, id)
	if err := scanOrganization(row, &o); err != nil {
		return org.Organization{}, mapError(err, "organization "+id)
	}
	return o, nil
}

func (s *Store) ListOrganizations(ctx context.Context) ([]org.Organization, error) {
	if s.db == nil {
		return nil, errNoDB
	}
	return s.queryOrganizations(ctx, `select `+orgColumns+` from organizations o order by o.name, o.id`)
}

func (s *Store) ListOrganizationsForUser(ctx context.Context, userID string) ([]org.Organization, error) {
	if s.db == nil {
		return nil, errNoDB
	}
	return s.queryOrganizations(ctx, `
		select `+orgColumns+`
		from organizations o
		join organization_memberships m on m.organization_id = o.id
		where m.user_id = $1
		order by o.name, o.id
	`, userID)
}

func (s *Store) queryOrganizations(ctx context.Context, query string, args ...any) ([]org.Organization, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	result := []org.Organization{}
	for rows.Next() {
		var o org.Organization
		if err := scanOrganization(rows, &o); err != nil {
			return nil, err
		}
		result = append(result, o)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return result, nil
}

func (s *Store) UpdateOrganization(ctx context.Context, o *org.Organization) error {
	if s.db == nil {
		return errNoDB
	}
	settings, err := marshalSettings(o.Settings)
	if err != nil {
		return err
	}
	res, err := s.db.ExecContext(ctx, `
		update organizations
		set name = $2, slug = $3, description = $4, size = $5, settings = $6, updated_at = $7
		where id = $1
	`, o.ID, o.Name, o.Slug, o.Description, o.Size, settings, o.UpdatedAt)
	if err != nil {
		return mapError(err, fmt.Sprintf("organization slug %q", o.Slug))
	}
	return expectAffected(res, "organization "+o.ID)
}

// DeleteOrganization relies on cascading foreign keys for memberships, teams,
// organization roles, their assignments and connections.
func (s *Store) DeleteOrganization(ctx context.Context, id string) error {
	if s.db == nil {
		return errNoDB
	}
	res, err := s.db.ExecContext(ctx, `delete from organizations where id = $1`, id)
	if err != nil {
		return err
	}
	return expectAffected(res, "organization "+id)
}

func (s *Store) AddMember(ctx context.Context, m org.Membership) error {
	if s.db == nil {
		return errNoDB
	}
	_, err := s.db.ExecContext(ctx, `
		insert into organization_memberships (id, organization_id, user_id, role, created_at)
		values ($1, $2, $3, $4, $5)
	`, m.ID, m.OrganizationID, m.UserID, m.Role, m.CreatedAt)
	return mapError(err, "membership of user "+m.UserID)
}

const membershipColumns = `id, organization_id, user_id, role, created_at`

func scanMembership(row scanner, m *org.Membership) error {
	return row.Scan(&m.ID, &m.OrganizationID, &m.UserID, &m.Role, &m.CreatedAt)
}

func (s *Store) GetMembership(ctx context.Context, orgID, userID string) (org.Membership, error) {
	if s.db == nil {
		return org.Membership{}, errNoDB
	}
	var m org.Membership
	row := s.db.QueryRowContext(ctx, `
		select `+membershipColumns+`
		from organization_memberships
		where organization_id = $1 and user_id = $2
	`, orgID, userID)
	if err := scanMembership(row, &m); err != nil {
		return org.Membership{}, mapError(err, "membership "+orgID+"/"+userID)
	}
	return m, nil
}

func (s *Store) ListMembers(ctx context.Context, orgID string) ([]org.Membership, error) {
	if s.db == nil {
		return nil, errNoDB
	}
	var exists int
	if err := s.db.QueryRowContext(ctx, `select 1 from organizations where id = $1`, orgID).Scan(&exists); err != nil {
		return nil, mapError(err, "organization "+orgID)
	}
	rows, err := s.db.QueryContext(ctx, `
		select `+membershipColumns+`
		from organization_memberships
		where organization_id = $1
		order by created_at, user_id
	`, orgID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	members := []org.Membership{}
	for rows.Next() {
		var m org.Membership
		if err := scanMembership(rows, &m); err != nil {
			return nil, err
		}
		members = append(members, m)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return members, nil
}

func (s *Store) UpdateMemberRole(ctx context.Context, orgID, userID string, role auth.LegacyRole) error {
	if s.db == nil {
		return errNoDB
	}
	res, err := s.db.ExecContext(ctx, `
		update organization_memberships set role = $3
		where organization_id = $1 and user_id = $2
	`, orgID, userID, role)
	if err != nil {
		return err
	}
	return expectAffected(res, "membership "+orgID+"/"+userID)
}

// RemoveMember deletes the membership together with the user's team
// memberships and organization role assignments.
func (s *Store) RemoveMember(ctx context.Context, orgID, userID string) error {
	if s.db == nil {
		return errNoDB
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	res, err := tx.ExecContext(ctx, `
		delete from organization_memberships where organization_id = $1 and user_id = $2
	`, orgID, userID)
	if err != nil {
		return err
	}
	if err := expectAffected(res, "membership "+orgID+"/"+userID); err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx, `
		delete from team_members
		where user_id = $2 and team_id in (select id from teams where organization_id = $1)
	`, orgID, userID); err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx, `
		delete from user_roles
		where user_id = $2 and scope = 'organization' and organization_id = $1
	`, orgID, userID); err != nil {
		return err
	}
	return tx.Commit()
}

func (s *Store) CreateTeam(ctx context.Context, t *org.Team) error {
	if s.db == nil {
		return errNoDB
	}
	_, err := s.db.ExecContext(ctx, `
		insert into teams (id, organization_id, name, description, created_at)
		values ($1, $2, $3, $4, $5)
	`, t.ID, t.OrganizationID, t.Name, t.Description, t.CreatedAt)
	return mapError(err, fmt.Sprintf("team %q", t.Name))
}

const teamColumns = `id, organization_id, name, description, created_at`

func scanTeam(row scanner, t *org.Team) error {
	return row.Scan(&t.ID, &t.OrganizationID, &t.Name, &t.Description, &t.CreatedAt)
}

func (s *Store) GetTeam(ctx context.Context, orgID, teamID string) (org.Team, error) {
	if s.db == nil {
		return org.Team{}, errNoDB
	}
	var t org.Team
	row := s.db.QueryRowContext(ctx, `
		select `+teamColumns+` from teams where organization_id = $1 and id = $2
	`, orgID, teamID)
	if err := scanTeam(row, &t); err != nil {
		return org.Team{}, mapError(err, "team "+teamID)
	}
	return t, nil
}

func (s *Store) ListTeams(ctx context.Context, orgID string) ([]org.Team, error) {
	if s.db == nil {
		return nil, errNoDB
	}
	rows, err := s.db.QueryContext(ctx, `
		select `+teamColumns+` from teams where organization_id = $1 order by name
	`, orgID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	teams := []org.Team{}
	for rows.Next() {
		var t org.Team
		if err := scanTeam(rows, &t); err != nil {
			return nil, err
		}
		teams = append(teams, t)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return teams, nil
}

func (s *Store) DeleteTeam(ctx context.Context, orgID, teamID string) error {
	if s.db == nil {
		return errNoDB
	}
	res, err := s.db.ExecContext(ctx, `delete from teams where organization_id = $1 and id = $2`, orgID, teamID)
	if err != nil {
		return err
	}
	return expectAffected(res, "team "+teamID)
}

func (s *Store) AddTeamMember(ctx context.Context, m org.TeamMember) error {
	if s.db == nil {
		return errNoDB
	}
	_, err := s.db.ExecContext(ctx, `
		insert into team_members (team_id, user_id, added_at) values ($1, $2, $3)
	`, m.TeamID, m.UserID, m.AddedAt)
	return mapError(err, "team member "+m.UserID)
}

func (s *Store) RemoveTeamMember(ctx context.Context, teamID, userID string) error {
	if s.db == nil {
		return errNoDB
	}
	res, err := s.db.ExecContext(ctx, `delete from team_members where team_id = $1 and user_id = $2`, teamID, userID)
	if err != nil {
		return err
	}
	return expectAffected(res, "team member "+teamID+"/"+userID)
}

func (s *Store) ListTeamMembers(ctx context.Context, teamID string) ([]org.TeamMember, error) {
	if s.db == nil {
		return nil, errNoDB
	}
	rows, err := s.db.QueryContext(ctx, `
		select team_id, user_id, added_at from team_members where team_id = $1 order by user_id
	`, teamID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	members := []org.TeamMember{}
	for rows.Next() {
		var m org.TeamMember
		if err := rows.Scan(&m.TeamID, &m.UserID, &m.AddedAt); err != nil {
			return nil, err
		}
		members = append(members, m)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return members, nil
}
