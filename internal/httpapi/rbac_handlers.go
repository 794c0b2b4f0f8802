package httpapi

import (
	"fmt"
	"net/http"
	"strings"

	"zashboard.app/internal/audit"
	"zashboard.app/internal/auth"
)

func scopeParam(r *http.Request) auth.Scope {
	raw := strings.ToLower(strings.TrimSpace(r.URL.Query().Get("scope")))
	if raw == "" {
		return auth.ScopePlatform
	}
	return auth.Scope(raw)
}

func (a *API) handleListRoles(w http.ResponseWriter, r *http.Request) {
	if _, ok := a.requirePermission(w, r, auth.PermRolesRead); !ok {
		return
	}
	roles, err := a.resolver.GetAllRoles(r.Context(), scopeParam(r), r.URL.Query().Get("organization_id"))
	if err != nil {
		handleError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"roles": roles})
}

// guardPlatformLevel keeps platform callers from minting or editing roles at
// or above their own level.
func (a *API) guardPlatformLevel(w http.ResponseWriter, r *http.Request, userID string, level int) bool {
	have, err := a.resolver.PlatformRoleLevel(r.Context(), userID)
	if err != nil {
		handleError(w, r, err)
		return false
	}
	if level >= have {
		writeError(w, r, http.StatusForbidden, fmt.Sprintf("role level must be below your own level %d", have))
		return false
	}
	return true
}

func (a *API) handleCreateRole(w http.ResponseWriter, r *http.Request) {
	userID, ok := a.requirePermission(w, r, auth.PermRolesWrite)
	if !ok {
		return
	}
	var in auth.RoleInput
	if err := a.decodeJSON(w, r, &in); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	if in.Scope == "" {
		in.Scope = auth.ScopePlatform
	}
	if in.Scope == auth.ScopePlatform && !a.guardPlatformLevel(w, r, userID, in.Level) {
		return
	}
	in.CreatedBy = userID
	role, err := a.resolver.CreateRole(r.Context(), in)
	if err != nil {
		handleError(w, r, err)
		return
	}
	_ = audit.LogEvent(r.Context(), "rbac.role.create", map[string]any{
		"role_id": role.ID,
		"scope":   string(role.Scope),
		"name":    role.Name,
		"level":   role.Level,
	})
	w.Header().Set("Location", fmt.Sprintf("/v1/roles/%s", role.ID))
	writeJSON(w, http.StatusCreated, role)
}

func (a *API) handleGetRole(w http.ResponseWriter, r *http.Request) {
	if _, ok := a.requirePermission(w, r, auth.PermRolesRead); !ok {
		return
	}
	role, err := a.resolver.GetRoleWithPermissions(r.Context(), pathValue(r, "role"))
	if err != nil {
		handleError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, role)
}

func (a *API) handleDeleteRole(w http.ResponseWriter, r *http.Request) {
	if _, ok := a.requirePermission(w, r, auth.PermRolesDelete); !ok {
		return
	}
	roleID := pathValue(r, "role")
	if err := a.resolver.DeleteRole(r.Context(), roleID); err != nil {
		handleError(w, r, err)
		return
	}
	_ = audit.LogEvent(r.Context(), "rbac.role.delete", map[string]any{
		"role_id": roleID,
	})
	w.WriteHeader(http.StatusNoContent)
}

func (a *API) handleSetRolePermissions(w http.ResponseWriter, r *http.Request) {
	userID, ok := a.requirePermission(w, r, auth.PermPermissionsWrite)
	if !ok {
		return
	}
	var req struct {
		PermissionIDs []string `json:"permission_ids"`
	}
	if err := a.decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	if req.PermissionIDs == nil {
		writeError(w, r, http.StatusBadRequest, "permission_ids is required")
		return
	}
	ctx := r.Context()
	current, err := a.resolver.GetRoleWithPermissions(ctx, pathValue(r, "role"))
	if err != nil {
		handleError(w, r, err)
		return
	}
	if current.Scope == auth.ScopePlatform && !a.guardPlatformLevel(w, r, userID, current.Level) {
		return
	}
	updated, err := a.resolver.UpdateRolePermissions(ctx, current.ID, req.PermissionIDs, userID)
	if err != nil {
		handleError(w, r, err)
		return
	}
	_ = audit.LogEvent(ctx, "rbac.role.permissions.update", map[string]any{
		"role_id":     updated.ID,
		"permissions": len(updated.Permissions),
	})
	writeJSON(w, http.StatusOK, updated)
}

func (a *API) handleListPermissions(w http.ResponseWriter, r *http.Request) {
	if _, ok := a.requirePermission(w, r, auth.PermPermissionsRead); !ok {
		return
	}
	perms, err := a.resolver.GetAllPermissions(r.Context(), scopeParam(r))
	if err != nil {
		handleError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"permissions": perms})
}

func (a *API) handleCreatePermission(w http.ResponseWriter, r *http.Request) {
	if _, ok := a.requirePermission(w, r, auth.PermPermissionsWrite); !ok {
		return
	}
	var in auth.PermissionInput
	if err := a.decodeJSON(w, r, &in); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	perm, err := a.resolver.CreatePermission(r.Context(), in)
	if err != nil {
		handleError(w, r, err)
		return
	}
	_ = audit.LogEvent(r.Context(), "rbac.permission.create", map[string]any{
		"permission_id": perm.ID,
		"key":           perm.Key(),
	})
	writeJSON(w, http.StatusCreated, perm)
}

func (a *API) handleAssignPlatformRole(w http.ResponseWriter, r *http.Request) {
	actingID, ok := a.currentUser(w, r)
	if !ok {
		return
	}
	var req assignRoleRequest
	if err := a.decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	targetID := pathValue(r, "user")
	assignment, err := a.resolver.AssignPlatformRole(r.Context(), actingID, targetID, req.RoleID, req.ExpiresAt)
	if err != nil {
		handleError(w, r, err)
		return
	}
	_ = audit.LogEvent(r.Context(), "rbac.user.assign_role", map[string]any{
		"target_user_id": targetID,
		"role_id":        assignment.RoleID,
	})
	writeJSON(w, http.StatusCreated, assignment)
}

func (a *API) handleRemovePlatformRole(w http.ResponseWriter, r *http.Request) {
	actingID, ok := a.currentUser(w, r)
	if !ok {
		return
	}
	targetID, roleID := pathValue(r, "user"), pathValue(r, "role")
	if err := a.resolver.RemovePlatformRole(r.Context(), actingID, targetID, roleID); err != nil {
		handleError(w, r, err)
		return
	}
	_ = audit.LogEvent(r.Context(), "rbac.user.remove_role", map[string]any{
		"target_user_id": targetID,
		"role_id":        roleID,
	})
	w.WriteHeader(http.StatusNoContent)
}
