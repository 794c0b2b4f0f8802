package analytics

import (
	"encoding/json"
	"maps"
	"math"
	"strconv"
	"strings"
	"time"
)

// Event is one telemetry record. Properties carry at least user_id and
// timestamp (epoch milliseconds); everything else passes through untouched.
type Event struct {
	Name       string         `json:"event"`
	Properties map[string]any `json:"properties"`
}

// Well-known property keys.
const (
	PropUserID          = "user_id"
	PropTimestamp       = "timestamp"
	PropPlatform        = "platform"
	PropAppVersion      = "app_version"
	PropVersion         = "version"
	PropHardwareID      = "hardware_id"
	PropInstallationID  = "installation_id"
	PropInstallType     = "install_type"
	PropSessionID       = "session_id"
	PropDurationMinutes = "duration_minutes"
	PropCountryCode     = "country_code"
	PropIPHash          = "ip_hash"
	PropLoadTimeMs      = "load_time_ms"
	PropMemoryMB        = "memory_mb"
)

// Event names with special meaning to the aggregates.
const (
	EventSessionStart     = "session_start"
	EventSessionHeartbeat = "session_heartbeat"
	EventSessionEnd       = "session_end"
	EventInstallComplete  = "zing_version_install_complete"
	EventAppLaunch        = "zing_app_launch"
	EventUpdateFailed     = "zing_update_failed"
)

func (e Event) clone() Event {
	e.Properties = maps.Clone(e.Properties)
	return e
}

// String returns a string property, or "" when absent or not a string.
func (e Event) String(key string) string {
	s, _ := e.Properties[key].(string)
	return strings.TrimSpace(s)
}

// Number returns a numeric property. JSON numbers, Go numeric types and
// numeric strings are accepted; NaN and infinities are not.
func (e Event) Number(key string) (float64, bool) {
	return toFloat(e.Properties[key])
}

// UserID returns the user_id property.
func (e Event) UserID() string {
	return e.String(PropUserID)
}

// Timestamp returns the event time in epoch milliseconds. RFC 3339 strings are
// accepted as well as numbers.
func (e Event) Timestamp() (int64, bool) {
	raw, ok := e.Properties[PropTimestamp]
	if !ok || raw == nil {
		return 0, false
	}
	if s, isString := raw.(string); isString {
		if t, err := time.Parse(time.RFC3339Nano, strings.TrimSpace(s)); err == nil {
			return t.UnixMilli(), true
		}
	}
	f, ok := toFloat(raw)
	if !ok || f < 0 || f >= math.MaxInt64 {
		return 0, false
	}
	return int64(f), true
}

func toFloat(v any) (float64, bool) {
	var f float64
	switch n := v.(type) {
	case float64:
		f = n
	case float32:
		f = float64(n)
	case int:
		f = float64(n)
	case int64:
		f = float64(n)
	case int32:
		f = float64(n)
	case json.Number:
		parsed, err := n.Float64()
		if err != nil {
			return 0, false
		}
		f = parsed
	case string:
		parsed, err := strconv.ParseFloat(strings.TrimSpace(n), 64)
		if err != nil {
			return 0, false
		}
		f = parsed
	default:
		return 0, false
	}
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return 0, false
	}
	return f, true
}
