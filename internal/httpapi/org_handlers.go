package httpapi

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"zashboard.app/internal/audit"
	"zashboard.app/internal/auth"
	"zashboard.app/internal/obs"
	"zashboard.app/internal/org"
)

func (a *API) handleMe(w http.ResponseWriter, r *http.Request) {
	userID, ok := a.currentUser(w, r)
	if !ok {
		return
	}
	ctx := r.Context()
	claims, _ := auth.SessionFromContext(ctx)
	level, err := a.resolver.PlatformRoleLevel(ctx, userID)
	if err != nil {
		handleError(w, r, err)
		return
	}
	perms, err := a.resolver.EffectivePermissions(ctx, userID, auth.ScopePlatform, "")
	if err != nil {
		handleError(w, r, err)
		return
	}
	orgs, err := a.orgs.ListOrganizationsForUser(ctx, userID)
	if err != nil {
		handleError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"user_id":             userID,
		"session_id":          claims.SessionID,
		"platform_role_level": level,
		"permissions":         perms,
		"organizations":       orgs,
	})
}

func (a *API) handleListOrganizations(w http.ResponseWriter, r *http.Request) {
	userID, ok := a.currentUser(w, r)
	if !ok {
		return
	}
	ctx := r.Context()
	super, err := a.resolver.IsPlatformSuperAdmin(ctx, userID)
	if err != nil {
		handleError(w, r, err)
		return
	}
	var orgs []org.Organization
	if super {
		orgs, err = a.orgs.ListOrganizations(ctx)
	} else {
		orgs, err = a.orgs.ListOrganizationsForUser(ctx, userID)
	}
	if err != nil {
		handleError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"organizations": orgs})
}

func (a *API) handleCreateOrganization(w http.ResponseWriter, r *http.Request) {
	userID, ok := a.currentUser(w, r)
	if !ok {
		return
	}
	var in org.OrganizationInput
	if err := a.decodeJSON(w, r, &in); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	created, err := a.orgs.CreateOrganization(r.Context(), userID, in)
	if err != nil {
		handleError(w, r, err)
		return
	}
	_ = audit.LogEvent(r.Context(), "organization.create", map[string]any{
		"organization_id": created.ID,
		"slug":            created.Slug,
	})
	w.Header().Set("Location", fmt.Sprintf("/v1/organizations/%s", created.ID))
	writeJSON(w, http.StatusCreated, created)
}

func (a *API) handleGetOrganization(w http.ResponseWriter, r *http.Request) {
	orgID := pathValue(r, "org")
	if _, ok := a.requireOrgView(w, r, orgID); !ok {
		return
	}
	o, err := a.orgs.GetOrganization(r.Context(), orgID)
	if err != nil {
		handleError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, o)
}

func (a *API) handleUpdateOrganization(w http.ResponseWriter, r *http.Request) {
	orgID := pathValue(r, "org")
	if _, ok := a.requireOrgPermission(w, r, orgID, auth.OrgPermSettingsWrite); !ok {
		return
	}
	var in org.OrganizationInput
	if err := a.decodeJSON(w, r, &in); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	updated, err := a.orgs.UpdateOrganization(r.Context(), orgID, in)
	if err != nil {
		handleError(w, r, err)
		return
	}
	_ = audit.LogEvent(r.Context(), "organization.update", map[string]any{
		"organization_id": orgID,
	})
	writeJSON(w, http.StatusOK, updated)
}

func (a *API) handleDeleteOrganization(w http.ResponseWriter, r *http.Request) {
	orgID := pathValue(r, "org")
	if _, ok := a.requireOrgLevel(w, r, orgID, auth.LevelSuperAdmin); !ok {
		return
	}
	if err := a.orgs.DeleteOrganization(r.Context(), orgID); err != nil {
		handleError(w, r, err)
		return
	}
	_ = audit.LogEvent(r.Context(), "organization.delete", map[string]any{
		"organization_id": orgID,
	})
	w.WriteHeader(http.StatusNoContent)
}

// --- members ---

func (a *API) handleListMembers(w http.ResponseWriter, r *http.Request) {
	orgID := pathValue(r, "org")
	if _, ok := a.requireOrgView(w, r, orgID); !ok {
		return
	}
	members, err := a.orgs.ListMembers(r.Context(), orgID)
	if err != nil {
		handleError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"members": members})
}

// orgSystemRole finds the built-in organization role mirroring a legacy role.
func (a *API) orgSystemRole(r *http.Request, orgID string, legacy auth.LegacyRole) (auth.Role, error) {
	roles, err := a.resolver.GetAllRoles(r.Context(), auth.ScopeOrganization, orgID)
	if err != nil {
		return auth.Role{}, err
	}
	name := auth.OrgRoleNameForLegacy(legacy)
	for _, role := range roles {
		if role.IsSystem && role.Name == name {
			return role, nil
		}
	}
	return auth.Role{}, fmt.Errorf("%w: organization %s has no %s role", auth.ErrNotFound, orgID, name)
}

func (a *API) handleAddMember(w http.ResponseWriter, r *http.Request) {
	orgID := pathValue(r, "org")
	actingID, ok := a.requireOrgPermission(w, r, orgID, auth.OrgPermMembersWrite)
	if !ok {
		return
	}
	var req struct {
		UserID string `json:"user_id"`
		Role   string `json:"role"`
	}
	if err := a.decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	legacy, err := auth.ParseLegacyRole(req.Role)
	if err != nil {
		handleError(w, r, err)
		return
	}
	ctx := r.Context()
	role, err := a.orgSystemRole(r, orgID, legacy)
	if err != nil {
		handleError(w, r, err)
		return
	}
	allowed, err := a.resolver.CanAssignOrgRole(ctx, actingID, orgID, role.ID)
	if err != nil {
		handleError(w, r, err)
		return
	}
	if !allowed {
		writeError(w, r, http.StatusForbidden, fmt.Sprintf("adding a member as %s requires a role level above %d", legacy, role.Level))
		return
	}
	m, err := a.orgs.AddMember(ctx, orgID, req.UserID, legacy)
	if err != nil {
		handleError(w, r, err)
		return
	}
	if err := a.resolver.AdoptLegacyRole(ctx, orgID, m.UserID, legacy); err != nil {
		// A membership without its system role would grant nothing through the resolver.
		if rerr := a.orgs.RemoveMember(context.WithoutCancel(ctx), orgID, m.UserID); rerr != nil {
			log := obs.Logger("httpapi")
			log.Error().Err(rerr).Str("organization_id", orgID).Str("user_id", m.UserID).Msg("roll back membership failed")
		}
		handleError(w, r, err)
		return
	}
	_ = audit.LogEvent(ctx, "organization.member.add", map[string]any{
		"organization_id": orgID,
		"target_user_id":  m.UserID,
		"role":            string(legacy),
	})
	writeJSON(w, http.StatusCreated, m)
}

func (a *API) handleRemoveMember(w http.ResponseWriter, r *http.Request) {
	orgID, targetID := pathValue(r, "org"), pathValue(r, "user")
	actingID, ok := a.requireOrgPermission(w, r, orgID, auth.OrgPermMembersWrite)
	if !ok {
		return
	}
	ctx := r.Context()
	if targetID != actingID {
		actingLevel, err := a.resolver.OrgRoleLevel(ctx, actingID, orgID)
		if err != nil {
			handleError(w, r, err)
			return
		}
		targetLevel, err := a.resolver.OrgRoleLevel(ctx, targetID, orgID)
		if err != nil {
			handleError(w, r, err)
			return
		}
		if targetLevel >= actingLevel {
			writeError(w, r, http.StatusForbidden, "cannot remove a member with an equal or higher role")
			return
		}
	}
	if err := a.orgs.RemoveMember(ctx, orgID, targetID); err != nil {
		handleError(w, r, err)
		return
	}
	_ = audit.LogEvent(ctx, "organization.member.remove", map[string]any{
		"organization_id": orgID,
		"target_user_id":  targetID,
	})
	w.WriteHeader(http.StatusNoContent)
}

type assignRoleRequest struct {
	RoleID    string     `json:"role_id"`
	ExpiresAt *time.Time `json:"expires_at"`
}

func (a *API) handleAssignMemberRole(w http.ResponseWriter, r *http.Request) {
	orgID, targetID := pathValue(r, "org"), pathValue(r, "user")
	actingID, ok := a.requireOrgView(w, r, orgID)
	if !ok {
		return
	}
	var req assignRoleRequest
	if err := a.decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	ctx := r.Context()
	if _, err := a.orgs.GetMembership(ctx, orgID, targetID); err != nil {
		handleError(w, r, err)
		return
	}
	assignment, err := a.resolver.AssignOrgRole(ctx, actingID, orgID, targetID, req.RoleID, req.ExpiresAt)
	if err != nil {
		handleError(w, r, err)
		return
	}
	if !a.syncLegacyRole(w, r, orgID, targetID) {
		return
	}
	_ = audit.LogEvent(ctx, "organization.role.assign", map[string]any{
		"organization_id": orgID,
		"target_user_id":  targetID,
		"role_id":         assignment.RoleID,
	})
	writeJSON(w, http.StatusCreated, assignment)
}

func (a *API) handleRemoveMemberRole(w http.ResponseWriter, r *http.Request) {
	orgID, targetID, roleID := pathValue(r, "org"), pathValue(r, "user"), pathValue(r, "role")
	actingID, ok := a.requireOrgView(w, r, orgID)
	if !ok {
		return
	}
	ctx := r.Context()
	if err := a.resolver.RemoveOrgRole(ctx, actingID, orgID, targetID, roleID); err != nil {
		handleError(w, r, err)
		return
	}
	if !a.syncLegacyRole(w, r, orgID, targetID) {
		return
	}
	_ = audit.LogEvent(ctx, "organization.role.remove", map[string]any{
		"organization_id": orgID,
		"target_user_id":  targetID,
		"role_id":         roleID,
	})
	w.WriteHeader(http.StatusNoContent)
}

// syncLegacyRole realigns the legacy membership column after a role change.
func (a *API) syncLegacyRole(w http.ResponseWriter, r *http.Request, orgID, userID string) bool {
	level, err := a.resolver.OrgRoleLevel(r.Context(), userID, orgID)
	if err == nil {
		err = a.orgs.SyncLegacyRole(r.Context(), orgID, userID, level)
	}
	if err != nil {
		handleError(w, r, err)
		return false
	}
	return true
}

// --- organization roles ---

func (a *API) handleListOrganizationRoles(w http.ResponseWriter, r *http.Request) {
	orgID := pathValue(r, "org")
	if _, ok := a.requireOrgView(w, r, orgID); !ok {
		return
	}
	roles, err := a.resolver.GetAllRoles(r.Context(), auth.ScopeOrganization, orgID)
	if err != nil {
		handleError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"roles": roles})
}

func (a *API) handleCreateOrganizationRole(w http.ResponseWriter, r *http.Request) {
	orgID := pathValue(r, "org")
	actingID, ok := a.requireOrgPermission(w, r, orgID, auth.OrgPermRolesManage)
	if !ok {
		return
	}
	var in auth.RoleInput
	if err := a.decodeJSON(w, r, &in); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	ctx := r.Context()
	level, err := a.resolver.OrgRoleLevel(ctx, actingID, orgID)
	if err != nil {
		handleError(w, r, err)
		return
	}
	if in.Level >= level {
		writeError(w, r, http.StatusForbidden, fmt.Sprintf("role level must be below your own level %d", level))
		return
	}
	in.Scope = auth.ScopeOrganization
	in.OrganizationID = orgID
	in.CreatedBy = actingID
	role, err := a.resolver.CreateRole(ctx, in)
	if err != nil {
		handleError(w, r, err)
		return
	}
	_ = audit.LogEvent(ctx, "organization.role.create", map[string]any{
		"organization_id": orgID,
		"role_id":         role.ID,
		"name":            role.Name,
		"level":           role.Level,
	})
	writeJSON(w, http.StatusCreated, role)
}

// --- teams ---

func (a *API) handleListTeams(w http.ResponseWriter, r *http.Request) {
	orgID := pathValue(r, "org")
	if _, ok := a.requireOrgView(w, r, orgID); !ok {
		return
	}
	teams, err := a.orgs.ListTeams(r.Context(), orgID)
	if err != nil {
		handleError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"teams": teams})
}

func (a *API) handleCreateTeam(w http.ResponseWriter, r *http.Request) {
	orgID := pathValue(r, "org")
	if _, ok := a.requireOrgPermission(w, r, orgID, auth.OrgPermTeamsWrite); !ok {
		return
	}
	var in org.TeamInput
	if err := a.decodeJSON(w, r, &in); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	team, err := a.orgs.CreateTeam(r.Context(), orgID, in)
	if err != nil {
		handleError(w, r, err)
		return
	}
	_ = audit.LogEvent(r.Context(), "organization.team.create", map[string]any{
		"organization_id": orgID,
		"team_id":         team.ID,
	})
	writeJSON(w, http.StatusCreated, team)
}

func (a *API) handleDeleteTeam(w http.ResponseWriter, r *http.Request) {
	orgID, teamID := pathValue(r, "org"), pathValue(r, "team")
	if _, ok := a.requireOrgPermission(w, r, orgID, auth.OrgPermTeamsWrite); !ok {
		return
	}
	if err := a.orgs.DeleteTeam(r.Context(), orgID, teamID); err != nil {
		handleError(w, r, err)
		return
	}
	_ = audit.LogEvent(r.Context(), "organization.team.delete", map[string]any{
		"organization_id": orgID,
		"team_id":         teamID,
	})
	w.WriteHeader(http.StatusNoContent)
}

func (a *API) handleListTeamMembers(w http.ResponseWriter, r *http.Request) {
	orgID, teamID := pathValue(r, "org"), pathValue(r, "team")
	if _, ok := a.requireOrgView(w, r, orgID); !ok {
		return
	}
	members, err := a.orgs.ListTeamMembers(r.Context(), orgID, teamID)
	if err != nil {
		handleError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"members": members})
}

func (a *API) handleAddTeamMember(w http.ResponseWriter, r *http.Request) {
	orgID, teamID := pathValue(r, "org"), pathValue(r, "team")
	if _, ok := a.requireOrgPermission(w, r, orgID, auth.OrgPermTeamsWrite); !ok {
		return
	}
	var req struct {
		UserID string `json:"user_id"`
	}
	if err := a.decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	tm, err := a.orgs.AddTeamMember(r.Context(), orgID, teamID, req.UserID)
	if err != nil {
		handleError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, tm)
}

func (a *API) handleRemoveTeamMember(w http.ResponseWriter, r *http.Request) {
	orgID, teamID, userID := pathValue(r, "org"), pathValue(r, "team"), pathValue(r, "user")
	if _, ok := a.requireOrgPermission(w, r, orgID, auth.OrgPermTeamsWrite); !ok {
		return
	}
	if err := a.orgs.RemoveTeamMember(r.Context(), orgID, teamID, userID); err != nil {
		handleError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
