package httpapi

import (
	"fmt"
	"net/http"

	"zashboard.app/internal/auth"
	"zashboard.app/internal/obs"
)

var publicPaths = []string{
	"/healthz",
	"/readyz",
	"/metrics",
	"/v1/info",
}

func isPublic(r *http.Request) bool {
	for _, p := range publicPaths {
		if r.URL.Path == p {
			return true
		}
	}
	// telemetry from browser installs carries no session
	return r.URL.Path == "/v1/analytics/events" && r.Method == http.MethodPost
}

func (a *API) withAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodOptions || isPublic(r) {
			next.ServeHTTP(w, r)
			return
		}

		token := auth.TokenFromRequest(r)
		if token == "" {
			writeError(w, r, http.StatusUnauthorized, "missing session token")
			return
		}
		claims, err := a.sessions.Verify(token)
		if err != nil {
			log := obs.Logger("httpapi")
			log.Debug().Err(err).Str("request_id", RequestIDFromContext(r.Context())).Msg("session rejected")
			writeError(w, r, http.StatusUnauthorized, "invalid session token")
			return
		}

		ctx := auth.ContextWithSession(r.Context(), claims)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func (a *API) currentUser(w http.ResponseWriter, r *http.Request) (string, bool) {
	userID := auth.UserIDFromContext(r.Context())
	if userID == "" {
		writeError(w, r, http.StatusUnauthorized, "authentication required")
		return "", false
	}
	return userID, true
}

// requirePermission gates platform endpoints. Denials stay 403 so admin
// callers can tell them apart from missing resources.
func (a *API) requirePermission(w http.ResponseWriter, r *http.Request, perm string) (string, bool) {
	userID, ok := a.currentUser(w, r)
	if !ok {
		return "", false
	}
	allowed, err := a.resolver.UserHasPermission(r.Context(), userID, perm)
	if err != nil {
		handleError(w, r, err)
		return "", false
	}
	if !allowed {
		writeError(w, r, http.StatusForbidden, "missing permission "+perm)
		return "", false
	}
	return userID, true
}

// requireOrgView answers 404 for organizations the caller cannot see.
func (a *API) requireOrgView(w http.ResponseWriter, r *http.Request, orgID string) (string, bool) {
	userID, ok := a.currentUser(w, r)
	if !ok {
		return "", false
	}
	visible, err := a.resolver.CanViewOrganization(r.Context(), userID, orgID)
	if err != nil {
		handleError(w, r, err)
		return "", false
	}
	if !visible {
		writeError(w, r, http.StatusNotFound, "organization not found")
		return "", false
	}
	return userID, true
}

// requireOrgPermission checks an organization-scoped permission. Platform
// roles never satisfy it.
func (a *API) requireOrgPermission(w http.ResponseWriter, r *http.Request, orgID, perm string) (string, bool) {
	userID, ok := a.requireOrgView(w, r, orgID)
	if !ok {
		return "", false
	}
	allowed, err := a.resolver.UserHasOrgPermission(r.Context(), userID, orgID, perm)
	if err != nil {
		handleError(w, r, err)
		return "", false
	}
	if !allowed {
		writeError(w, r, http.StatusForbidden, "missing permission "+perm)
		return "", false
	}
	return userID, true
}

// requireOrgLevel checks the caller's highest organization role level.
func (a *API) requireOrgLevel(w http.ResponseWriter, r *http.Request, orgID string, level int) (string, bool) {
	userID, ok := a.requireOrgView(w, r, orgID)
	if !ok {
		return "", false
	}
	have, err := a.resolver.OrgRoleLevel(r.Context(), userID, orgID)
	if err != nil {
		handleError(w, r, err)
		return "", false
	}
	if have < level {
		writeError(w, r, http.StatusForbidden, fmt.Sprintf("organization role level %d or higher required", level))
		return "", false
	}
	return userID, true
}
