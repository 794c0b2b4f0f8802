package httpapi

import (
	"context"
	"errors"
	"io"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"zashboard.app/internal/auth"
	"zashboard.app/internal/integrations"
	"zashboard.app/internal/org"
	"zashboard.app/internal/store/memory"
)

func TestOrganizationLifecycle(t *testing.T) {
	env := newTestEnv(t)

	resp := env.do(http.MethodPost, "/v1/organizations", "owner", map[string]any{"name": "Acme Corp", "size": "11-50"})
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	created := decode[org.Organization](t, resp)
	assert.Equal(t, "acme-corp", created.Slug)
	assert.Equal(t, "/v1/organizations/"+created.ID, resp.Header.Get("Location"))

	resp = env.do(http.MethodGet, "/v1/organizations", "owner", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	list := decode[map[string][]org.Organization](t, resp)
	require.Len(t, list["organizations"], 1)

	path := "/v1/organizations/" + created.ID
	assert.Equal(t, http.StatusNotFound, env.do(http.MethodGet, path, "outsider", nil).StatusCode)
	assert.Equal(t, http.StatusNotFound, env.do(http.MethodPatch, path, "outsider", map[string]any{"description": "x"}).StatusCode)
	assert.Equal(t, http.StatusOK, env.do(http.MethodGet, path, "owner", nil).StatusCode)

	resp = env.do(http.MethodPatch, path, "owner", map[string]any{"description": "Browser team"})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "Browser team", decode[org.Organization](t, resp).Description)

	resp = env.do(http.MethodPatch, path, "owner", map[string]any{"size": "huge"})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	assert.Equal(t, http.StatusNoContent, env.do(http.MethodDelete, path, "owner", nil).StatusCode)
	assert.Equal(t, http.StatusNotFound, env.do(http.MethodGet, path, "owner", nil).StatusCode)
}

func TestCreateOrganizationValidation(t *testing.T) {
	env := newTestEnv(t)

	resp := env.do(http.MethodPost, "/v1/organizations", "owner", map[string]any{"name": ""})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp = env.do(http.MethodPost, "/v1/organizations", "owner", map[string]any{"name": "Acme", "plan": "pro"})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	env.createOrg("someone", "Taken")
	resp = env.do(http.MethodPost, "/v1/organizations", "owner", map[string]any{"name": "Taken"})
	assert.Equal(t, http.StatusConflict, resp.StatusCode)
}

func TestPlatformSuperAdminHasNoOrganizationAuthority(t *testing.T) {
	env := newTestEnv(t)
	env.grantPlatform("root", auth.RoleSuperAdmin)
	first := env.createOrg("owner-a", "First")
	env.createOrg("owner-b", "Second")

	resp := env.do(http.MethodGet, "/v1/organizations", "root", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Len(t, decode[map[string][]org.Organization](t, resp)["organizations"], 2)

	resp = env.do(http.MethodGet, "/v1/organizations", "owner-a", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Len(t, decode[map[string][]org.Organization](t, resp)["organizations"], 1)

	path := "/v1/organizations/" + first.ID
	assert.Equal(t, http.StatusOK, env.do(http.MethodGet, path, "root", nil).StatusCode)
	assert.Equal(t, http.StatusForbidden, env.do(http.MethodPatch, path, "root", map[string]any{"description": "x"}).StatusCode)
	assert.Equal(t, http.StatusForbidden, env.do(http.MethodDelete, path, "root", nil).StatusCode)
	assert.Equal(t, http.StatusForbidden, env.do(http.MethodPost, path+"/members", "root", map[string]any{"user_id": "x"}).StatusCode)
}

func TestMemberManagementEnforcesLevels(t *testing.T) {
	env := newTestEnv(t)
	o := env.createOrg("owner", "Acme")
	members := "/v1/organizations/" + o.ID + "/members"

	resp := env.do(http.MethodPost, members, "owner", map[string]any{"user_id": "alice", "role": "admin"})
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	assert.Equal(t, auth.LegacyAdmin, decode[org.Membership](t, resp).Role)

	resp = env.do(http.MethodPost, members, "alice", map[string]any{"user_id": "bob"})
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	assert.Equal(t, auth.LegacyUser, decode[org.Membership](t, resp).Role)

	assert.Equal(t, http.StatusForbidden, env.do(http.MethodPost, members, "alice", map[string]any{"user_id": "carol", "role": "super_admin"}).StatusCode)
	assert.Equal(t, http.StatusForbidden, env.do(http.MethodPost, members, "alice", map[string]any{"user_id": "dave", "role": "admin"}).StatusCode)
	assert.Equal(t, http.StatusForbidden, env.do(http.MethodPost, members, "bob", map[string]any{"user_id": "erin"}).StatusCode)
	assert.Equal(t, http.StatusBadRequest, env.do(http.MethodPost, members, "owner", map[string]any{"user_id": "frank", "role": "root"}).StatusCode)
	assert.Equal(t, http.StatusConflict, env.do(http.MethodPost, members, "owner", map[string]any{"user_id": "bob"}).StatusCode)

	resp = env.do(http.MethodGet, members, "bob", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Len(t, decode[map[string][]org.Membership](t, resp)["members"], 3)

	assert.Equal(t, http.StatusForbidden, env.do(http.MethodDelete, members+"/owner", "alice", nil).StatusCode)
	assert.Equal(t, http.StatusNoContent, env.do(http.MethodDelete, members+"/bob", "alice", nil).StatusCode)
	assert.Equal(t, http.StatusNotFound, env.do(http.MethodGet, "/v1/organizations/"+o.ID, "bob", nil).StatusCode)
}

// assignFailingStore refuses role assignments for one user.
type assignFailingStore struct {
	*memory.Store
	userID string
}

func (s assignFailingStore) Assign(ctx context.Context, a auth.Assignment) error {
	if a.UserID == s.userID {
		return errors.New("assignments table unavailable")
	}
	return s.Store.Assign(ctx, a)
}

func TestAddMemberRollsBackWhenRoleAssignmentFails(t *testing.T) {
	var st *memory.Store
	env := newTestEnv(t, func(opts *Options) {
		st = opts.Connections.(*memory.Store)
		resolver, err := auth.NewResolver(assignFailingStore{Store: st, userID: "alice"}, auth.WithLegacySource(st))
		require.NoError(t, err)
		opts.Resolver = resolver
	})
	o := env.createOrg("owner", "Acme")
	members := "/v1/organizations/" + o.ID + "/members"

	resp := env.do(http.MethodPost, members, "owner", map[string]any{"user_id": "alice", "role": "admin"})
	assert.Equal(t, http.StatusInternalServerError, resp.StatusCode)

	_, err := env.orgs.GetMembership(env.ctx, o.ID, "alice")
	assert.ErrorIs(t, err, org.ErrNotFound, "the membership is rolled back")
	assert.Equal(t, http.StatusNotFound, env.do(http.MethodGet, "/v1/organizations/"+o.ID, "alice", nil).StatusCode)

	resp = env.do(http.MethodPost, members, "owner", map[string]any{"user_id": "bob", "role": "admin"})
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	_, err = env.orgs.GetMembership(env.ctx, o.ID, "bob")
	assert.NoError(t, err)
}

func TestMemberRoleAssignmentSyncsLegacyRole(t *testing.T) {
	env := newTestEnv(t)
	o := env.createOrg("owner", "Acme")
	_, err := env.orgs.AddMember(env.ctx, o.ID, "bob", auth.LegacyUser)
	require.NoError(t, err)

	adminRole := env.roleID(auth.ScopeOrganization, o.ID, auth.RoleAdmin)
	ownerRole := env.roleID(auth.ScopeOrganization, o.ID, auth.RoleSuperAdmin)
	roles := "/v1/organizations/" + o.ID + "/members/bob/roles"

	resp := env.do(http.MethodPost, roles, "owner", map[string]any{"role_id": adminRole})
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	m, err := env.orgs.GetMembership(env.ctx, o.ID, "bob")
	require.NoError(t, err)
	assert.Equal(t, auth.LegacyAdmin, m.Role)

	resp = env.do(http.MethodPost, roles, "bob", map[string]any{"role_id": ownerRole})
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)

	past := time.Now().Add(-time.Hour)
	resp = env.do(http.MethodPost, roles, "owner", map[string]any{"role_id": adminRole, "expires_at": past})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp = env.do(http.MethodDelete, roles+"/"+adminRole, "owner", nil)
	require.Equal(t, http.StatusNoContent, resp.StatusCode)
	m, err = env.orgs.GetMembership(env.ctx, o.ID, "bob")
	require.NoError(t, err)
	assert.Equal(t, auth.LegacyUser, m.Role)

	resp = env.do(http.MethodPost, "/v1/organizations/"+o.ID+"/members/stranger/roles", "owner", map[string]any{"role_id": adminRole})
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	resp = env.do(http.MethodPost, roles, "outsider", map[string]any{"role_id": adminRole})
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestOrganizationRoleCreation(t *testing.T) {
	env := newTestEnv(t)
	o := env.createOrg("owner", "Acme")
	_, err := env.orgs.AddMember(env.ctx, o.ID, "bob", auth.LegacyUser)
	require.NoError(t, err)
	roles := "/v1/organizations/" + o.ID + "/roles"

	resp := env.do(http.MethodPost, roles, "owner", map[string]any{"name": "billing", "level": 100})
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)

	resp = env.do(http.MethodPost, roles, "owner", map[string]any{"name": "billing", "level": 30})
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	created := decode[auth.RoleWithPermissions](t, resp)
	assert.Equal(t, auth.ScopeOrganization, created.Scope)
	assert.Equal(t, o.ID, created.OrganizationID)

	assert.Equal(t, http.StatusForbidden, env.do(http.MethodPost, roles, "bob", map[string]any{"name": "sneaky", "level": 5}).StatusCode)

	resp = env.do(http.MethodGet, roles, "bob", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	names := []string{}
	for _, r := range decode[map[string][]auth.Role](t, resp)["roles"] {
		names = append(names, r.Name)
	}
	assert.Contains(t, names, "billing")
	assert.Contains(t, names, auth.RoleSuperAdmin)
}

func TestTeamEndpoints(t *testing.T) {
	env := newTestEnv(t)
	o := env.createOrg("owner", "Acme")
	_, err := env.orgs.AddMember(env.ctx, o.ID, "bob", auth.LegacyUser)
	require.NoError(t, err)
	teams := "/v1/organizations/" + o.ID + "/teams"

	resp := env.do(http.MethodPost, teams, "owner", map[string]any{"name": "Core"})
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	team := decode[org.Team](t, resp)

	assert.Equal(t, http.StatusForbidden, env.do(http.MethodPost, teams, "bob", map[string]any{"name": "Rogue"}).StatusCode)

	teamMembers := teams + "/" + team.ID + "/members"
	assert.Equal(t, http.StatusBadRequest, env.do(http.MethodPost, teamMembers, "owner", map[string]any{"user_id": "stranger"}).StatusCode)
	assert.Equal(t, http.StatusCreated, env.do(http.MethodPost, teamMembers, "owner", map[string]any{"user_id": "bob"}).StatusCode)

	resp = env.do(http.MethodGet, teamMembers, "bob", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Len(t, decode[map[string][]org.TeamMember](t, resp)["members"], 1)

	assert.Equal(t, http.StatusNoContent, env.do(http.MethodDelete, teamMembers+"/bob", "owner", nil).StatusCode)
	assert.Equal(t, http.StatusNoContent, env.do(http.MethodDelete, teams+"/"+team.ID, "owner", nil).StatusCode)

	resp = env.do(http.MethodGet, teams, "owner", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Empty(t, decode[map[string][]org.Team](t, resp)["teams"])
}

func TestIntegrationEndpoints(t *testing.T) {
	env := newTestEnv(t)
	o := env.createOrg("owner", "Acme")
	_, err := env.orgs.AddMember(env.ctx, o.ID, "bob", auth.LegacyUser)
	require.NoError(t, err)
	base := "/v1/organizations/" + o.ID + "/integrations"

	resp := env.do(http.MethodPut, base+"/notion", "owner", map[string]any{"access_token": "secret_abc"})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	raw, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.NotContains(t, string(raw), "secret_abc")

	assert.Equal(t, http.StatusForbidden, env.do(http.MethodPut, base+"/notion", "bob", map[string]any{"access_token": "x"}).StatusCode)
	assert.Equal(t, http.StatusBadRequest, env.do(http.MethodPut, base+"/dropbox", "owner", map[string]any{"access_token": "x"}).StatusCode)
	assert.Equal(t, http.StatusBadRequest, env.do(http.MethodPut, base+"/notion", "owner", map[string]any{"access_token": ""}).StatusCode)

	resp = env.do(http.MethodPost, base+"/notion/sync", "owner", nil)
	require.Equal(t, http.StatusAccepted, resp.StatusCode)
	assert.Equal(t, "syncing", decode[map[string]any](t, resp)["status"])

	require.Eventually(t, func() bool {
		conn, err := env.store.GetConnection(env.ctx, o.ID, integrations.ProviderNotion)
		return err == nil && conn.Status == integrations.StatusCompleted && conn.ItemsSynced == 3
	}, 5*time.Second, 10*time.Millisecond)

	assert.Equal(t, http.StatusBadRequest, env.do(http.MethodPost, base+"/slack/sync", "owner", nil).StatusCode)

	resp = env.do(http.MethodGet, base, "bob", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	conns := decode[map[string][]integrations.Connection](t, resp)["integrations"]
	require.Len(t, conns, 1)
	assert.Equal(t, integrations.StatusCompleted, conns[0].Status)
}
