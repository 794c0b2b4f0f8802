package httpapi

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"
	"time"

	"zashboard.app/internal/analytics"
	"zashboard.app/internal/auth"
	"zashboard.app/internal/integrations"
	"zashboard.app/internal/obs"
	"zashboard.app/internal/org"
	"zashboard.app/internal/stream"
)

const serviceName = "zashboard-api"

// ReadyCheck checks that the backing database answers. A nil DB is always ready.
type ReadyCheck struct {
	DB *sql.DB
}

func (rp ReadyCheck) Check(ctx context.Context) error {
	if rp.DB == nil {
		return nil
	}
	return rp.DB.PingContext(ctx)
}

// SessionVerifier validates session tokens issued by the identity provider.
type SessionVerifier interface {
	Verify(raw string) (auth.SessionClaims, error)
}

// Options wires the API to its collaborators. Stream and Integrations are
// optional; their routes answer 503 when unset.
type Options struct {
	Version      string
	Ready        ReadyCheck
	Sessions     SessionVerifier
	Resolver     *auth.Resolver
	Orgs         *org.Service
	Analytics    *analytics.Store
	Stream       *stream.Hub
	Integrations *integrations.Runner
	Connections  integrations.Store

	CORSOrigins  []string
	RateBurst    int
	RatePerSec   int
	MaxBodyBytes int64
}

// API is the HTTP layer.
type API struct {
	mux          *http.ServeMux
	handler      http.Handler
	readyCheck   ReadyCheck
	version      string
	sessions     SessionVerifier
	resolver     *auth.Resolver
	orgs         *org.Service
	analytics    *analytics.Store
	stream       *stream.Hub
	integrations *integrations.Runner
	connections  integrations.Store
	maxBodyBytes int64
}

func New(opts Options) (*API, error) {
	switch {
	case opts.Sessions == nil:
		return nil, errors.New("httpapi: session verifier is required")
	case opts.Resolver == nil:
		return nil, errors.New("httpapi: resolver is required")
	case opts.Orgs == nil:
		return nil, errors.New("httpapi: organization service is required")
	case opts.Analytics == nil:
		return nil, errors.New("httpapi: analytics store is required")
	}
	if opts.RateBurst <= 0 {
		opts.RateBurst = 50
	}
	if opts.RatePerSec <= 0 {
		opts.RatePerSec = 20
	}
	if opts.MaxBodyBytes <= 0 {
		opts.MaxBodyBytes = 1 << 20
	}

	a := &API{
		mux:          http.NewServeMux(),
		readyCheck:   opts.Ready,
		version:      opts.Version,
		sessions:     opts.Sessions,
		resolver:     opts.Resolver,
		orgs:         opts.Orgs,
		analytics:    opts.Analytics,
		stream:       opts.Stream,
		integrations: opts.Integrations,
		connections:  opts.Connections,
		maxBodyBytes: opts.MaxBodyBytes,
	}
	a.routes()

	var h http.Handler = a.mux
	h = a.withAuth(h)
	h = MaxBodyBytes(h, opts.MaxBodyBytes)
	h = RateLimit(h, opts.RateBurst, opts.RatePerSec)
	h = CORS(h, opts.CORSOrigins)
	h = SecurityHeaders(h)
	h = LoggingJSON(h)
	h = obs.Instrument(h)
	a.handler = RequestID(h)
	return a, nil
}

func (a *API) routes() {
	// health/ready/info
	a.mux.HandleFunc("GET /healthz", a.Healthz)
	a.mux.HandleFunc("GET /readyz", a.Ready)
	a.mux.HandleFunc("GET /v1/info", a.Info)
	a.mux.Handle("GET /metrics", obs.Handler())

	// analytics
	a.mux.HandleFunc("POST /v1/analytics/events", a.handleIngest)
	a.mux.HandleFunc("DELETE /v1/analytics/events", a.handleClearEvents)
	a.mux.HandleFunc("GET /v1/analytics/realtime", a.handleRealtime)
	a.mux.HandleFunc("GET /v1/analytics/historical", a.handleHistorical)
	a.mux.HandleFunc("GET /v1/analytics/geographic", a.handleGeographic)
	a.mux.HandleFunc("GET /v1/analytics/versions", a.handleVersions)
	a.mux.HandleFunc("GET /v1/analytics/performance", a.handlePerformance)
	a.mux.HandleFunc("GET /v1/analytics/users", a.handleUsers)
	a.mux.HandleFunc("GET /v1/analytics/stream", a.Stream)

	a.mux.HandleFunc("GET /v1/me", a.handleMe)

	// organizations
	a.mux.HandleFunc("GET /v1/organizations", a.handleListOrganizations)
	a.mux.HandleFunc("POST /v1/organizations", a.handleCreateOrganization)
	a.mux.HandleFunc("GET /v1/organizations/{org}", a.handleGetOrganization)
	a.mux.HandleFunc("PATCH /v1/organizations/{org}", a.handleUpdateOrganization)
	a.mux.HandleFunc("DELETE /v1/organizations/{org}", a.handleDeleteOrganization)

	a.mux.HandleFunc("GET /v1/organizations/{org}/members", a.handleListMembers)
	a.mux.HandleFunc("POST /v1/organizations/{org}/members", a.handleAddMember)
	a.mux.HandleFunc("DELETE /v1/organizations/{org}/members/{user}", a.handleRemoveMember)
	a.mux.HandleFunc("POST /v1/organizations/{org}/members/{user}/roles", a.handleAssignMemberRole)
	a.mux.HandleFunc("DELETE /v1/organizations/{org}/members/{user}/roles/{role}", a.handleRemoveMemberRole)

	a.mux.HandleFunc("GET /v1/organizations/{org}/roles", a.handleListOrganizationRoles)
	a.mux.HandleFunc("POST /v1/organizations/{org}/roles", a.handleCreateOrganizationRole)

	a.mux.HandleFunc("GET /v1/organizations/{org}/teams", a.handleListTeams)
	a.mux.HandleFunc("POST /v1/organizations/{org}/teams", a.handleCreateTeam)
	a.mux.HandleFunc("DELETE /v1/organizations/{org}/teams/{team}", a.handleDeleteTeam)
	a.mux.HandleFunc("GET /v1/organizations/{org}/teams/{team}/members", a.handleListTeamMembers)
	a.mux.HandleFunc("POST /v1/organizations/{org}/teams/{team}/members", a.handleAddTeamMember)
	a.mux.HandleFunc("DELETE /v1/organizations/{org}/teams/{team}/members/{user}", a.handleRemoveTeamMember)

	a.mux.HandleFunc("GET /v1/organizations/{org}/integrations", a.handleListIntegrations)
	a.mux.HandleFunc("PUT /v1/organizations/{org}/integrations/{provider}", a.handleConnectIntegration)
	a.mux.HandleFunc("POST /v1/organizations/{org}/integrations/{provider}/sync", a.handleSyncIntegration)

	// platform administration
	a.mux.HandleFunc("GET /v1/roles", a.handleListRoles)
	a.mux.HandleFunc("POST /v1/roles", a.handleCreateRole)
	a.mux.HandleFunc("GET /v1/roles/{role}", a.handleGetRole)
	a.mux.HandleFunc("DELETE /v1/roles/{role}", a.handleDeleteRole)
	a.mux.HandleFunc("PUT /v1/roles/{role}/permissions", a.handleSetRolePermissions)
	a.mux.HandleFunc("GET /v1/permissions", a.handleListPermissions)
	a.mux.HandleFunc("POST /v1/permissions", a.handleCreatePermission)
	a.mux.HandleFunc("POST /v1/users/{user}/roles", a.handleAssignPlatformRole)
	a.mux.HandleFunc("DELETE /v1/users/{user}/roles/{role}", a.handleRemovePlatformRole)
}

// Handler returns the fully wrapped handler for the server.
func (a *API) Handler() http.Handler {
	return a.handler
}

// --- Handlers ---

func (a *API) Healthz(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":  "ok",
		"service": serviceName,
		"version": a.version,
	})
}

func (a *API) Ready(w http.ResponseWriter, r *http.Request) {
	if err := a.readyCheck.Check(r.Context()); err != nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]any{
			"status": "not_ready",
			"error":  err.Error(),
		})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"status": "ready",
	})
}

func (a *API) Info(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"name":    serviceName,
		"time":    time.Now().UTC().Format(time.RFC3339),
		"version": a.version,
	})
}

// --- helpers ---

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, r *http.Request, code int, msg string) {
	payload := map[string]any{
		"error": msg,
	}
	if rid := RequestIDFromContext(r.Context()); rid != "" {
		payload["request_id"] = rid
	}
	writeJSON(w, code, payload)
}

func (a *API) decodeJSON(w http.ResponseWriter, r *http.Request, dst any) error {
	return decodeJSON(w, r, dst, a.maxBodyBytes)
}

// decodeJSON reads exactly one JSON value of at most limit bytes into dst.
func decodeJSON(w http.ResponseWriter, r *http.Request, dst any, limit int64) error {
	reader := http.MaxBytesReader(w, r.Body, limit)
	defer reader.Close()
	dec := json.NewDecoder(reader)
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		if errors.Is(err, io.EOF) {
			return errors.New("request body is required")
		}
		return err
	}
	if err := dec.Decode(&struct{}{}); !errors.Is(err, io.EOF) {
		if err == nil {
			return errors.New("unexpected data after JSON body")
		}
		return err
	}
	return nil
}

// handleError maps domain errors onto HTTP statuses. Unknown errors are
// logged with request context and surfaced as a generic 500.
func handleError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, auth.ErrUnauthenticated):
		writeError(w, r, http.StatusUnauthorized, "authentication required")
	case errors.Is(err, auth.ErrForbidden), errors.Is(err, auth.ErrSystemRole):
		writeError(w, r, http.StatusForbidden, err.Error())
	case errors.Is(err, auth.ErrInvalidInput),
		errors.Is(err, analytics.ErrInvalidEvent),
		errors.Is(err, analytics.ErrInvalidInput):
		writeError(w, r, http.StatusBadRequest, err.Error())
	case errors.Is(err, auth.ErrNotFound):
		writeError(w, r, http.StatusNotFound, err.Error())
	case errors.Is(err, auth.ErrConflict), errors.Is(err, integrations.ErrSyncInProgress):
		writeError(w, r, http.StatusConflict, err.Error())
	case errors.Is(err, integrations.ErrQueueFull), errors.Is(err, integrations.ErrRunnerStopped):
		writeError(w, r, http.StatusServiceUnavailable, err.Error())
	default:
		log := obs.Logger("httpapi")
		log.Error().Err(err).
			Str("request_id", RequestIDFromContext(r.Context())).
			Str("user_id", auth.UserIDFromContext(r.Context())).
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Msg("request failed")
		writeError(w, r, http.StatusInternalServerError, "internal error")
	}
}

func pathValue(r *http.Request, name string) string {
	return strings.TrimSpace(r.PathValue(name))
}
