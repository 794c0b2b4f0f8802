package httpapi

import (
	"net/http"
	"strconv"
	"strings"

	"zashboard.app/internal/analytics"
	"zashboard.app/internal/audit"
	"zashboard.app/internal/auth"
)

const (
	maxIngestBatch        = 500
	defaultHistoricalDays = 7
)

type ingestRequest struct {
	Event      string            `json:"event"`
	Properties map[string]any    `json:"properties"`
	Events     []analytics.Event `json:"events"`
}

type rejectedEvent struct {
	Index int    `json:"index"`
	Error string `json:"error"`
}

func (a *API) handleIngest(w http.ResponseWriter, r *http.Request) {
	var req ingestRequest
	if err := a.decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	if req.Events == nil {
		ev := analytics.Event{Name: req.Event, Properties: req.Properties}
		analytics.Enrich(&ev, r)
		if err := a.analytics.AddEvent(ev); err != nil {
			handleError(w, r, err)
			return
		}
		writeJSON(w, http.StatusAccepted, map[string]any{"status": "accepted"})
		return
	}

	if req.Event != "" || req.Properties != nil {
		writeError(w, r, http.StatusBadRequest, "send either a single event or an events batch")
		return
	}
	if len(req.Events) == 0 {
		writeError(w, r, http.StatusBadRequest, "events must not be empty")
		return
	}
	if len(req.Events) > maxIngestBatch {
		writeError(w, r, http.StatusBadRequest, "events batch exceeds "+strconv.Itoa(maxIngestBatch))
		return
	}
	accepted := 0
	rejected := []rejectedEvent{}
	for i, ev := range req.Events {
		analytics.Enrich(&ev, r)
		if err := a.analytics.AddEvent(ev); err != nil {
			rejected = append(rejected, rejectedEvent{Index: i, Error: err.Error()})
			continue
		}
		accepted++
	}
	code := http.StatusAccepted
	if accepted == 0 {
		code = http.StatusBadRequest
	}
	writeJSON(w, code, map[string]any{
		"accepted": accepted,
		"rejected": rejected,
	})
}

func (a *API) handleRealtime(w http.ResponseWriter, r *http.Request) {
	if _, ok := a.requirePermission(w, r, auth.PermAnalyticsRead); !ok {
		return
	}
	writeJSON(w, http.StatusOK, a.analytics.GetRealtimeMetrics())
}

func (a *API) handleHistorical(w http.ResponseWriter, r *http.Request) {
	if _, ok := a.requirePermission(w, r, auth.PermAnalyticsRead); !ok {
		return
	}
	days := defaultHistoricalDays
	if raw := strings.TrimSpace(r.URL.Query().Get("days")); raw != "" {
		v, err := strconv.Atoi(raw)
		if err != nil {
			writeError(w, r, http.StatusBadRequest, "days must be an integer")
			return
		}
		days = v
	}
	points, err := a.analytics.GetHistoricalMetrics(days)
	if err != nil {
		handleError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"days":   days,
		"points": points,
	})
}

func (a *API) handleGeographic(w http.ResponseWriter, r *http.Request) {
	if _, ok := a.requirePermission(w, r, auth.PermAnalyticsRead); !ok {
		return
	}
	writeJSON(w, http.StatusOK, a.analytics.GetGeographicMetrics())
}

func (a *API) handleVersions(w http.ResponseWriter, r *http.Request) {
	if _, ok := a.requirePermission(w, r, auth.PermAnalyticsRead); !ok {
		return
	}
	writeJSON(w, http.StatusOK, a.analytics.GetVersionMetrics())
}

func (a *API) handlePerformance(w http.ResponseWriter, r *http.Request) {
	if _, ok := a.requirePermission(w, r, auth.PermAnalyticsRead); !ok {
		return
	}
	writeJSON(w, http.StatusOK, a.analytics.GetPerformanceMetrics())
}

func (a *API) handleUsers(w http.ResponseWriter, r *http.Request) {
	if _, ok := a.requirePermission(w, r, auth.PermAnalyticsRead); !ok {
		return
	}
	writeJSON(w, http.StatusOK, a.analytics.GetUserMetrics())
}

func (a *API) handleClearEvents(w http.ResponseWriter, r *http.Request) {
	if _, ok := a.requirePermission(w, r, auth.PermAnalyticsDelete); !ok {
		return
	}
	raw := strings.TrimSpace(r.URL.Query().Get("before"))
	if raw == "" {
		writeError(w, r, http.StatusBadRequest, "before is required")
		return
	}
	cutoff, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || cutoff < 0 {
		writeError(w, r, http.StatusBadRequest, "before must be epoch milliseconds")
		return
	}
	removed := a.analytics.ClearOldEvents(cutoff)
	_ = audit.LogEvent(r.Context(), "analytics.events.clear", map[string]any{
		"before":  cutoff,
		"removed": removed,
	})
	writeJSON(w, http.StatusOK, map[string]any{
		"removed":   removed,
		"remaining": a.analytics.Len(),
	})
}
