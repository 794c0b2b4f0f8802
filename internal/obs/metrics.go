package obs

import (
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	httpInFlight = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "http_in_flight_requests",
		Help: "In-flight HTTP requests.",
	})

	httpRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total number of HTTP requests.",
		},
		[]string{"method", "path", "status"},
	)

	httpRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "HTTP request latencies in seconds.",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "path", "status"},
	)

	// EventsIngested counts analytics events accepted into the buffer.
	EventsIngested = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "zash_analytics_events_ingested_total",
		Help: "Analytics events accepted into the in-memory buffer.",
	})

	// EventsRejected counts analytics payloads refused at the ingestion boundary.
	EventsRejected = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "zash_analytics_events_rejected_total",
		Help: "Analytics events rejected by ingestion validation.",
	})

	// EventsEvicted counts events dropped because the buffer was full.
	EventsEvicted = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "zash_analytics_events_evicted_total",
		Help: "Analytics events evicted from the buffer in FIFO order.",
	})

	// BufferSize tracks the number of events currently buffered.
	BufferSize = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "zash_analytics_buffer_size",
		Help: "Analytics events currently held in memory.",
	})

	// AuthzDecisions counts authorization resolver outcomes.
	AuthzDecisions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "zash_authz_decisions_total",
			Help: "Authorization decisions by scope and result.",
		},
		[]string{"scope", "result"},
	)

	// IntegrationSyncs counts finished background syncs.
	IntegrationSyncs = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "zash_integration_syncs_total",
			Help: "Background integration syncs by provider and final status.",
		},
		[]string{"provider", "status"},
	)

	initOnce sync.Once
)

// Init registers all metrics in the default registry. Safe to call repeatedly.
func Init() {
	initOnce.Do(func() {
		prometheus.MustRegister(
			httpInFlight, httpRequestsTotal, httpRequestDuration,
			EventsIngested, EventsRejected, EventsEvicted, BufferSize,
			AuthzDecisions, IntegrationSyncs,
		)
	})
}

// Handler exposes the default registry.
func Handler() http.Handler {
	return promhttp.Handler()
}

// Instrument records RPS, latency and in-flight requests per canonical path.
func Instrument(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		path := CanonicalPath(r.URL.Path)
		method := r.Method

		httpInFlight.Inc()
		defer httpInFlight.Dec()
		start := time.Now()

		sw := &statusWriter{ResponseWriter: w, code: http.StatusOK}
		next.ServeHTTP(sw, r)

		status := strconv.Itoa(sw.code)
		httpRequestDuration.WithLabelValues(method, path, status).Observe(time.Since(start).Seconds())
		httpRequestsTotal.WithLabelValues(method, path, status).Inc()
	})
}

// collections whose next path segment is an identifier.
var idCollections = map[string]struct{}{
	"organizations": {},
	"members":       {},
	"teams":         {},
	"roles":         {},
	"users":         {},
}

// CanonicalPath replaces identifier segments with ":id" to bound label cardinality.
func CanonicalPath(raw string) string {
	if i := strings.IndexByte(raw, '?'); i >= 0 {
		raw = raw[:i]
	}
	if raw == "" || raw == "/" {
		return "/"
	}
	parts := strings.Split(strings.Trim(raw, "/"), "/")
	for i := 1; i < len(parts); i++ {
		if _, ok := idCollections[parts[i-1]]; ok && parts[i] != "" {
			parts[i] = ":id"
		}
	}
	return "/" + strings.Join(parts, "/")
}

type statusWriter struct {
	http.ResponseWriter
	code int
}

func (w *statusWriter) WriteHeader(code int) {
	w.code = code
	w.ResponseWriter.WriteHeader(code)
}

// Flush keeps SSE responses streaming through the wrapper.
func (w *statusWriter) Flush() {
	if f, ok := w.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

func (w *statusWriter) Unwrap() http.ResponseWriter { return w.ResponseWriter }
