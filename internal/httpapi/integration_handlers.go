package httpapi

import (
	"net/http"

	"zashboard.app/internal/audit"
	"zashboard.app/internal/auth"
	"zashboard.app/internal/integrations"
)

func (a *API) integrationsEnabled(w http.ResponseWriter, r *http.Request) bool {
	if a.integrations == nil || a.connections == nil {
		writeError(w, r, http.StatusServiceUnavailable, "integrations disabled")
		return false
	}
	return true
}

func (a *API) handleListIntegrations(w http.ResponseWriter, r *http.Request) {
	orgID := pathValue(r, "org")
	if _, ok := a.requireOrgView(w, r, orgID); !ok {
		return
	}
	if !a.integrationsEnabled(w, r) {
		return
	}
	conns, err := a.connections.ListConnections(r.Context(), orgID)
	if err != nil {
		handleError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"integrations": conns})
}

func (a *API) handleConnectIntegration(w http.ResponseWriter, r *http.Request) {
	orgID := pathValue(r, "org")
	if _, ok := a.requireOrgPermission(w, r, orgID, auth.OrgPermSettingsWrite); !ok {
		return
	}
	if !a.integrationsEnabled(w, r) {
		return
	}
	provider, err := integrations.ParseProvider(pathValue(r, "provider"))
	if err != nil {
		handleError(w, r, err)
		return
	}
	var req struct {
		AccessToken string `json:"access_token"`
	}
	if err := a.decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	conn, err := a.integrations.Connect(r.Context(), orgID, provider, req.AccessToken)
	if err != nil {
		handleError(w, r, err)
		return
	}
	_ = audit.LogEvent(r.Context(), "integration.connect", map[string]any{
		"organization_id": orgID,
		"provider":        string(provider),
	})
	writeJSON(w, http.StatusOK, conn)
}

func (a *API) handleSyncIntegration(w http.ResponseWriter, r *http.Request) {
	orgID := pathValue(r, "org")
	if _, ok := a.requireOrgPermission(w, r, orgID, auth.OrgPermSettingsWrite); !ok {
		return
	}
	if !a.integrationsEnabled(w, r) {
		return
	}
	provider, err := integrations.ParseProvider(pathValue(r, "provider"))
	if err != nil {
		handleError(w, r, err)
		return
	}
	conn, err := a.integrations.Trigger(r.Context(), orgID, provider)
	if err != nil {
		handleError(w, r, err)
		return
	}
	_ = audit.LogEvent(r.Context(), "integration.sync", map[string]any{
		"organization_id": orgID,
		"provider":        string(provider),
	})
	writeJSON(w, http.StatusAccepted, map[string]any{
		"status":        integrations.StatusSyncing,
		"connection_id": conn.ID,
	})
}
