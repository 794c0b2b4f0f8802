// Package memory provides in-process implementations of the auth, org and
// integrations stores for tests and local development.
package memory

import (
	"context"
	"fmt"
	"maps"
	"sort"
	"sync"
	"time"

	"zashboard.app/internal/auth"
	"zashboard.app/internal/integrations"
	"zashboard.app/internal/org"
)

type assignmentKey struct{ userID, roleID string }
type memberKey struct{ orgID, userID string }
type connectionKey struct {
	orgID    string
	provider integrations.Provider
}

// Store keeps every record in maps guarded by a single RWMutex. Values are
// copied in and out so callers never share state with the store.
type Store struct {
	mu sync.RWMutex

	roles       map[string]auth.Role
	permissions map[string]auth.Permission
	grants      map[string]map[string]auth.RolePermission
	assignments map[assignmentKey]auth.Assignment

	orgs        map[string]org.Organization
	members     map[memberKey]org.Membership
	teams       map[string]org.Team
	teamMembers map[string]map[string]org.TeamMember

	connections map[connectionKey]integrations.Connection
}

var (
	_ auth.Store         = (*Store)(nil)
	_ org.Store          = (*Store)(nil)
	_ integrations.Store = (*Store)(nil)
)

// New returns an empty store.
func New() *Store {
	return &Store{
		roles:       map[string]auth.Role{},
		permissions: map[string]auth.Permission{},
		grants:      map[string]map[string]auth.RolePermission{},
		assignments: map[assignmentKey]auth.Assignment{},
		orgs:        map[string]org.Organization{},
		members:     map[memberKey]org.Membership{},
		teams:       map[string]org.Team{},
		teamMembers: map[string]map[string]org.TeamMember{},
		connections: map[connectionKey]integrations.Connection{},
	}
}

func notFound(kind, id string) error {
	return fmt.Errorf("%w: %s %s", auth.ErrNotFound, kind, id)
}

// --- roles and permissions ---

func (s *Store) CreateRole(_ context.Context, role *auth.Role) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.roles[role.ID]; ok {
		return fmt.Errorf("%w: role %s exists", auth.ErrConflict, role.ID)
	}
	for _, r := range s.roles {
		if r.Scope == role.Scope && r.OrganizationID == role.OrganizationID && r.Name == role.Name {
			return fmt.Errorf("%w: role name %q already used", auth.ErrConflict, role.Name)
		}
	}
	s.roles[role.ID] = *role
	return nil
}

func (s *Store) GetRole(_ context.Context, roleID string) (auth.Role, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	r, ok := s.roles[roleID]
	if !ok {
		return auth.Role{}, notFound("role", roleID)
	}
	return r, nil
}

func (s *Store) ListRoles(_ context.Context, scope auth.Scope, orgID string) ([]auth.Role, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := []auth.Role{}
	for _, r := range s.roles {
		if r.Scope == scope && r.OrganizationID == orgID {
			out = append(out, r)
		}
	}
	sortRoles(out)
	return out, nil
}

func sortRoles(roles []auth.Role) {
	sort.Slice(roles, func(i, j int) bool {
		if roles[i].Level != roles[j].Level {
			return roles[i].Level > roles[j].Level
		}
		return roles[i].Name < roles[j].Name
	})
}

func (s *Store) DeleteRole(_ context.Context, roleID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.roles[roleID]; !ok {
		return notFound("role", roleID)
	}
	s.deleteRoleLocked(roleID)
	return nil
}

func (s *Store) deleteRoleLocked(roleID string) {
	delete(s.roles, roleID)
	delete(s.grants, roleID)
	for k := range s.assignments {
		if k.roleID == roleID {
			delete(s.assignments, k)
		}
	}
}

func (s *Store) CountAssignments(_ context.Context, roleID string) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	n := 0
	for k := range s.assignments {
		if k.roleID == roleID {
			n++
		}
	}
	return n, nil
}

func (s *Store) CreatePermission(_ context.Context, perm *auth.Permission) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, p := range s.permissions {
		if p.ID == perm.ID || p.Key() == perm.Key() {
			return fmt.Errorf("%w: permission %s exists", auth.ErrConflict, perm.Key())
		}
	}
	s.permissions[perm.ID] = *perm
	return nil
}

func (s *Store) GetPermission(_ context.Context, permissionID string) (auth.Permission, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.permissions[permissionID]
	if !ok {
		return auth.Permission{}, notFound("permission", permissionID)
	}
	return p, nil
}

func (s *Store) ListPermissions(_ context.Context, scope auth.Scope) ([]auth.Permission, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := []auth.Permission{}
	for _, p := range s.permissions {
		if p.Scope == scope {
			out = append(out, p)
		}
	}
	sortPermissions(out)
	return out, nil
}

func sortPermissions(perms []auth.Permission) {
	sort.Slice(perms, func(i, j int) bool { return perms[i].Key() < perms[j].Key() })
}

func (s *Store) SetRolePermissions(_ context.Context, roleID string, grants []auth.RolePermission) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.roles[roleID]; !ok {
		return notFound("role", roleID)
	}
	next := make(map[string]auth.RolePermission, len(grants))
	for _, g := range grants {
		if _, ok := s.permissions[g.PermissionID]; !ok {
			return notFound("permission", g.PermissionID)
		}
		g.RoleID = roleID
		next[g.PermissionID] = g
	}
	s.grants[roleID] = next
	return nil
}

func (s *Store) PermissionsForRoles(_ context.Context, roleIDs []string) ([]auth.Permission, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	seen := map[string]struct{}{}
	out := []auth.Permission{}
	for _, roleID := range roleIDs {
		for permID := range s.grants[roleID] {
			if _, dup := seen[permID]; dup {
				continue
			}
			if p, ok := s.permissions[permID]; ok {
				seen[permID] = struct{}{}
				out = append(out, p)
			}
		}
	}
	sortPermissions(out)
	return out, nil
}

func (s *Store) Assign(_ context.Context, a auth.Assignment) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.roles[a.RoleID]; !ok {
		return notFound("role", a.RoleID)
	}
	key := assignmentKey{a.UserID, a.RoleID}
	if prev, ok := s.assignments[key]; ok {
		a.CreatedAt = prev.CreatedAt
	}
	if a.ExpiresAt != nil {
		exp := *a.ExpiresAt
		a.ExpiresAt = &exp
	}
	s.assignments[key] = a
	return nil
}

func (s *Store) Unassign(_ context.Context, userID, roleID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := assignmentKey{userID, roleID}
	if _, ok := s.assignments[key]; !ok {
		return notFound("assignment", userID+"/"+roleID)
	}
	delete(s.assignments, key)
	return nil
}

func (s *Store) AssignedRoles(_ context.Context, userID string, scope auth.Scope, orgID string) ([]auth.AssignedRole, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := []auth.AssignedRole{}
	for k, a := range s.assignments {
		if k.userID != userID || a.Scope != scope {
			continue
		}
		if scope == auth.ScopeOrganization && a.OrganizationID != orgID {
			continue
		}
		role, ok := s.roles[k.roleID]
		if !ok {
			continue
		}
		out = append(out, auth.AssignedRole{Assignment: a, Role: role})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Role.ID < out[j].Role.ID })
	return out, nil
}

// --- organizations ---

func cloneOrg(o org.Organization) org.Organization {
	o.Settings = maps.Clone(o.Settings)
	if o.Settings == nil {
		o.Settings = map[string]any{}
	}
	return o
}

func (s *Store) slugTakenLocked(slug, exceptID string) bool {
	for id, o := range s.orgs {
		if id != exceptID && o.Slug == slug {
			return true
		}
	}
	return false
}

func (s *Store) CreateOrganization(_ context.Context, o *org.Organization, owner org.Membership) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.orgs[o.ID]; ok || s.slugTakenLocked(o.Slug, "") {
		return fmt.Errorf("%w: organization slug %q already used", auth.ErrConflict, o.Slug)
	}
	s.orgs[o.ID] = cloneOrg(*o)
	s.members[memberKey{o.ID, owner.UserID}] = owner
	return nil
}

func (s *Store) GetOrganization(_ context.Context, id string) (org.Organization, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	o, ok := s.orgs[id]
	if !ok {
		return org.Organization{}, notFound("organization", id)
	}
	return cloneOrg(o), nil
}

func sortOrgs(orgs []org.Organization) {
	sort.Slice(orgs, func(i, j int) bool {
		if orgs[i].Name != orgs[j].Name {
			return orgs[i].Name < orgs[j].Name
		}
		return orgs[i].ID < orgs[j].ID
	})
}

func (s *Store) ListOrganizations(_ context.Context) ([]org.Organization, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]org.Organization, 0, len(s.orgs))
	for _, o := range s.orgs {
		out = append(out, cloneOrg(o))
	}
	sortOrgs(out)
	return out, nil
}

func (s *Store) ListOrganizationsForUser(_ context.Context, userID string) ([]org.Organization, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := []org.Organization{}
	for k := range s.members {
		if k.userID != userID {
			continue
		}
		if o, ok := s.orgs[k.orgID]; ok {
			out = append(out, cloneOrg(o))
		}
	}
	sortOrgs(out)
	return out, nil
}

func (s *Store) UpdateOrganization(_ context.Context, o *org.Organization) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.orgs[o.ID]; !ok {
		return notFound("organization", o.ID)
	}
	if s.slugTakenLocked(o.Slug, o.ID) {
		return fmt.Errorf("%w: organization slug %q already used", auth.ErrConflict, o.Slug)
	}
	s.orgs[o.ID] = cloneOrg(*o)
	return nil
}

func (s *Store) DeleteOrganization(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.orgs[id]; !ok {
		return notFound("organization", id)
	}
	delete(s.orgs, id)
	for k := range s.members {
		if k.orgID == id {
			delete(s.members, k)
		}
	}
	for teamID, t := range s.teams {
		if t.OrganizationID == id {
			delete(s.teams, teamID)
			delete(s.teamMembers, teamID)
		}
	}
	for roleID, r := range s.roles {
		if r.OrganizationID == id {
			s.deleteRoleLocked(roleID)
		}
	}
	for k := range s.connections {
		if k.orgID == id {
			delete(s.connections, k)
		}
	}
	return nil
}

// --- memberships ---

func (s *Store) AddMember(_ context.Context, m org.Membership) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.orgs[m.OrganizationID]; !ok {
		return notFound("organization", m.OrganizationID)
	}
	key := memberKey{m.OrganizationID, m.UserID}
	if _, ok := s.members[key]; ok {
		return fmt.Errorf("%w: user %s is already a member", auth.ErrConflict, m.UserID)
	}
	s.members[key] = m
	return nil
}

func (s *Store) GetMembership(_ context.Context, orgID, userID string) (org.Membership, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	m, ok := s.members[memberKey{orgID, userID}]
	if !ok {
		return org.Membership{}, notFound("membership", orgID+"/"+userID)
	}
	return m, nil
}

func (s *Store) ListMembers(_ context.Context, orgID string) ([]org.Membership, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if _, ok := s.orgs[orgID]; !ok {
		return nil, notFound("organization", orgID)
	}
	out := []org.Membership{}
	for k, m := range s.members {
		if k.orgID == orgID {
			out = append(out, m)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.Before(out[j].CreatedAt)
		}
		return out[i].UserID < out[j].UserID
	})
	return out, nil
}

func (s *Store) UpdateMemberRole(_ context.Context, orgID, userID string, role auth.LegacyRole) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := memberKey{orgID, userID}
	m, ok := s.members[key]
	if !ok {
		return notFound("membership", orgID+"/"+userID)
	}
	m.Role = role
	s.members[key] = m
	return nil
}

func (s *Store) RemoveMember(_ context.Context, orgID, userID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := memberKey{orgID, userID}
	if _, ok := s.members[key]; !ok {
		return notFound("membership", orgID+"/"+userID)
	}
	delete(s.members, key)
	for teamID, t := range s.teams {
		if t.OrganizationID == orgID {
			delete(s.teamMembers[teamID], userID)
		}
	}
	for k, a := range s.assignments {
		if k.userID == userID && a.Scope == auth.ScopeOrganization && a.OrganizationID == orgID {
			delete(s.assignments, k)
		}
	}
	return nil
}

// MembershipRole implements auth.LegacySource.
func (s *Store) MembershipRole(_ context.Context, userID, orgID string) (auth.LegacyRole, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	m, ok := s.members[memberKey{orgID, userID}]
	return m.Role, ok, nil
}

// --- teams ---

func (s *Store) CreateTeam(_ context.Context, t *org.Team) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.orgs[t.OrganizationID]; !ok {
		return notFound("organization", t.OrganizationID)
	}
	for _, existing := range s.teams {
		if existing.OrganizationID == t.OrganizationID && existing.Name == t.Name {
			return fmt.Errorf("%w: team %q already exists", auth.ErrConflict, t.Name)
		}
	}
	s.teams[t.ID] = *t
	return nil
}

func (s *Store) GetTeam(_ context.Context, orgID, teamID string) (org.Team, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	t, ok := s.teams[teamID]
	if !ok || t.OrganizationID != orgID {
		return org.Team{}, notFound("team", teamID)
	}
	return t, nil
}

func (s *Store) ListTeams(_ context.Context, orgID string) ([]org.Team, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := []org.Team{}
	for _, t := range s.teams {
		if t.OrganizationID == orgID {
			out = append(out, t)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

func (s *Store) DeleteTeam(_ context.Context, orgID, teamID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.teams[teamID]
	if !ok || t.OrganizationID != orgID {
		return notFound("team", teamID)
	}
	delete(s.teams, teamID)
	delete(s.teamMembers, teamID)
	return nil
}

func (s *Store) AddTeamMember(_ context.Context, m org.TeamMember) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.teams[m.TeamID]; !ok {
		return notFound("team", m.TeamID)
	}
	members := s.teamMembers[m.TeamID]
	if members == nil {
		members = map[string]org.TeamMember{}
		s.teamMembers[m.TeamID] = members
	}
	if _, ok := members[m.UserID]; ok {
		return fmt.Errorf("%w: user %s is already in the team", auth.ErrConflict, m.UserID)
	}
	members[m.UserID] = m
	return nil
}

func (s *Store) RemoveTeamMember(_ context.Context, teamID, userID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.teamMembers[teamID][userID]; !ok {
		return notFound("team member", teamID+"/"+userID)
	}
	delete(s.teamMembers[teamID], userID)
	return nil
}

func (s *Store) ListTeamMembers(_ context.Context, teamID string) ([]org.TeamMember, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := []org.TeamMember{}
	for _, m := range s.teamMembers[teamID] {
		out = append(out, m)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].UserID < out[j].UserID })
	return out, nil
}

// --- integrations ---

func cloneConnection(c integrations.Connection) integrations.Connection {
	c.SealedToken = append([]byte(nil), c.SealedToken...)
	if c.LastSyncedAt != nil {
		t := *c.LastSyncedAt
		c.LastSyncedAt = &t
	}
	return c
}

func (s *Store) GetConnection(_ context.Context, orgID string, provider integrations.Provider) (integrations.Connection, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	c, ok := s.connections[connectionKey{orgID, provider}]
	if !ok {
		return integrations.Connection{}, notFound("connection", orgID+"/"+string(provider))
	}
	return cloneConnection(c), nil
}

func (s *Store) ListConnections(_ context.Context, orgID string) ([]integrations.Connection, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := []integrations.Connection{}
	for k, c := range s.connections {
		if k.orgID == orgID {
			out = append(out, cloneConnection(c))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Provider < out[j].Provider })
	return out, nil
}

func (s *Store) UpsertConnection(_ context.Context, c *integrations.Connection) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.orgs[c.OrganizationID]; !ok {
		return notFound("organization", c.OrganizationID)
	}
	key := connectionKey{c.OrganizationID, c.Provider}
	if prev, ok := s.connections[key]; ok {
		prev.SealedToken = append([]byte(nil), c.SealedToken...)
		prev.UpdatedAt = c.UpdatedAt
		s.connections[key] = prev
		*c = cloneConnection(prev)
		return nil
	}
	if c.Status == "" {
		c.Status = integrations.StatusIdle
	}
	s.connections[key] = cloneConnection(*c)
	return nil
}

func (s *Store) ClaimSync(_ context.Context, orgID string, provider integrations.Provider, now, staleBefore time.Time) (integrations.Connection, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := connectionKey{orgID, provider}
	c, ok := s.connections[key]
	if !ok {
		return integrations.Connection{}, false, notFound("connection", orgID+"/"+string(provider))
	}
	if c.Status == integrations.StatusSyncing && !c.UpdatedAt.Before(staleBefore) {
		return cloneConnection(c), false, nil
	}
	c.Status = integrations.StatusSyncing
	c.LastError = ""
	c.UpdatedAt = now
	s.connections[key] = c
	return cloneConnection(c), true, nil
}

func (s *Store) FinishSync(_ context.Context, orgID string, provider integrations.Provider, res integrations.Result) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := connectionKey{orgID, provider}
	c, ok := s.connections[key]
	if !ok {
		return notFound("connection", orgID+"/"+string(provider))
	}
	c.Status = res.Status
	c.ItemsSynced = res.ItemsSynced
	c.LastError = res.Error
	c.UpdatedAt = res.FinishedAt
	if res.Status == integrations.StatusCompleted {
		t := res.FinishedAt
		c.LastSyncedAt = &t
	}
	s.connections[key] = c
	return nil
}
