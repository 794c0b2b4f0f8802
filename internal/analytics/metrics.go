package analytics

import (
	"fmt"
	"math"
	"sort"
	"strings"
	"time"
)

const (
	minuteMs = int64(time.Minute / time.Millisecond)
	hourMs   = int64(time.Hour / time.Millisecond)
	dayMs    = 24 * hourMs

	activeWindowMs    = 5 * minuteMs
	versionWindowMs   = 30 * dayMs
	pendingUpdateFrac = 0.05
	maxGrowthPercent  = 20.0
	maxHistoryDays    = 365
)

// RealtimeMetrics summarises the last hour.
type RealtimeMetrics struct {
	UsersLastHour       int       `json:"users_last_hour"`
	ActiveUsers         int       `json:"active_users"`
	ActiveSessions      int       `json:"active_sessions"`
	CurrentVersionUsers int       `json:"current_version_users"`
	PendingUpdates      Value     `json:"pending_updates"`
	EventsLastHour      int       `json:"events_last_hour"`
	Timestamp           time.Time `json:"timestamp"`
}

// DailyPoint is one day of the historical series.
type DailyPoint struct {
	Date              string  `json:"date"`
	ActiveUsers       int     `json:"active_users"`
	Sessions          int     `json:"sessions"`
	AvgSessionMinutes float64 `json:"avg_session_minutes"`
}

// RegionMetric is a coarse platform-derived region bucket.
type RegionMetric struct {
	Region     string  `json:"region"`
	Users      int     `json:"users"`
	Percentage float64 `json:"percentage"`
	Growth     Value   `json:"growth"`
}

// CountryMetric counts users by edge-reported country.
type CountryMetric struct {
	CountryCode string  `json:"country_code"`
	Users       int     `json:"users"`
	Percentage  float64 `json:"percentage"`
}

// GeographicMetrics covers the last 24 hours.
type GeographicMetrics struct {
	TotalUsers int             `json:"total_users"`
	Regions    []RegionMetric  `json:"regions"`
	Countries  []CountryMetric `json:"countries"`
}

// VersionStat describes adoption of one version.
type VersionStat struct {
	Version      string         `json:"version"`
	Installs     int            `json:"installs"`
	Percentage   float64        `json:"percentage"`
	Status       string         `json:"status"`
	InstallTypes map[string]int `json:"install_types"`
}

// VersionMetrics covers the last 30 days.
type VersionMetrics struct {
	Versions          []VersionStat  `json:"versions"`
	TotalInstalls     int            `json:"total_installs"`
	LatestVersion     string         `json:"latest_version"`
	UpdateSuccessRate Value          `json:"update_success_rate"`
	InstallTypes      map[string]int `json:"install_types"`
	Policy            VersionPolicy  `json:"policy"`
}

// PerformanceMetrics covers the last hour.
type PerformanceMetrics struct {
	EventsPerMinute   float64 `json:"events_per_minute"`
	ErrorEvents       int     `json:"error_events"`
	ErrorRate         float64 `json:"error_rate"`
	CrashFreeSessions Value   `json:"crash_free_sessions"`
	AvgLoadTimeMs     float64 `json:"avg_load_time_ms"`
	AvgMemoryMB       float64 `json:"avg_memory_mb"`
	Status            string  `json:"status"`
}

// UserMetrics compares the last 24 hours with the 24 hours before.
type UserMetrics struct {
	TotalUsers         int     `json:"total_users"`
	ActiveToday        int     `json:"active_today"`
	ActivePreviousDay  int     `json:"active_previous_day"`
	ChangePercentage   float64 `json:"change_percentage"`
	NewUsers           int     `json:"new_users"`
	TotalSessions      int     `json:"total_sessions"`
	AvgSessionDuration string  `json:"avg_session_duration"`
	AvgSessionMinutes  float64 `json:"avg_session_minutes"`
}

// Install types.
const (
	InstallFresh     = "fresh_install"
	InstallUpdate    = "version_update"
	InstallReinstall = "reinstall"
	InstallExisting  = "existing_install"
)

// Health statuses.
const (
	HealthHealthy  = "healthy"
	HealthDegraded = "degraded"
	HealthCritical = "critical"
)

func within(ts, from, to int64) bool {
	return ts >= from && ts <= to
}

func (s *Store) nowMs() int64 { return s.now().UnixMilli() }

// GetRealtimeMetrics reports activity in the last hour and last five minutes.
func (s *Store) GetRealtimeMetrics() RealtimeMetrics {
	now := s.nowMs()
	hourUsers := map[string]struct{}{}
	activeUsers := map[string]struct{}{}
	var m RealtimeMetrics
	for _, r := range s.records() {
		if !within(r.ts, now-hourMs, now) {
			continue
		}
		m.EventsLastHour++
		uid := r.ev.UserID()
		hourUsers[uid] = struct{}{}
		if _, ok := r.ev.Properties[PropAppVersion]; ok {
			m.CurrentVersionUsers++
		}
		if r.ts < now-activeWindowMs {
			continue
		}
		activeUsers[uid] = struct{}{}
		if r.ev.Name == EventSessionStart || r.ev.Name == EventSessionHeartbeat {
			m.ActiveSessions++
		}
	}
	m.UsersLastHour = len(hourUsers)
	m.ActiveUsers = len(activeUsers)
	m.PendingUpdates = Estimated(math.Round(float64(m.CurrentVersionUsers) * pendingUpdateFrac))
	m.Timestamp = time.UnixMilli(now).UTC()
	return m
}

// GetHistoricalMetrics returns exactly days points, oldest first, ending with
// today's calendar date in the store location.
func (s *Store) GetHistoricalMetrics(days int) ([]DailyPoint, error) {
	if days < 1 || days > maxHistoryDays {
		return nil, fmt.Errorf("%w: days must be between 1 and %d", ErrInvalidInput, maxHistoryDays)
	}
	now := s.now().In(s.loc)
	y, mo, d := now.Date()

	type bucket struct {
		users        map[string]struct{}
		sessions     int
		durationSum  float64
		durationSeen int
	}
	points := make([]DailyPoint, days)
	buckets := make(map[string]*bucket, days)
	for i := 0; i < days; i++ {
		date := time.Date(y, mo, d-(days-1-i), 0, 0, 0, 0, s.loc).Format(time.DateOnly)
		points[i].Date = date
		buckets[date] = &bucket{users: map[string]struct{}{}}
	}

	for _, r := range s.records() {
		b, ok := buckets[time.UnixMilli(r.ts).In(s.loc).Format(time.DateOnly)]
		if !ok {
			continue
		}
		b.users[r.ev.UserID()] = struct{}{}
		switch r.ev.Name {
		case EventSessionStart:
			b.sessions++
		case EventSessionEnd:
			if v, ok := r.ev.Number(PropDurationMinutes); ok {
				b.durationSum += v
				b.durationSeen++
			}
		}
	}

	for i := range points {
		b := buckets[points[i].Date]
		points[i].ActiveUsers = len(b.users)
		points[i].Sessions = b.sessions
		if b.durationSeen > 0 {
			points[i].AvgSessionMinutes = round(b.durationSum/float64(b.durationSeen), 2)
		}
	}
	return points, nil
}

// RegionForPlatform maps an OS platform string onto a coarse region label.
func RegionForPlatform(platform string) string {
	switch strings.ToLower(strings.TrimSpace(platform)) {
	case "darwin":
		return "North America"
	case "win32":
		return "Europe"
	case "linux":
		return "Asia Pacific"
	default:
		return "Other"
	}
}

// GetGeographicMetrics groups the last 24 hours of distinct users by region
// and by country. Region growth is a random placeholder.
func (s *Store) GetGeographicMetrics() GeographicMetrics {
	now := s.nowMs()
	all := map[string]struct{}{}
	regions := map[string]map[string]struct{}{}
	countries := map[string]map[string]struct{}{}
	for _, r := range s.records() {
		if !within(r.ts, now-dayMs, now) {
			continue
		}
		uid := r.ev.UserID()
		all[uid] = struct{}{}
		region := RegionForPlatform(r.ev.String(PropPlatform))
		if regions[region] == nil {
			regions[region] = map[string]struct{}{}
		}
		regions[region][uid] = struct{}{}
		if cc := strings.ToUpper(r.ev.String(PropCountryCode)); cc != "" {
			if countries[cc] == nil {
				countries[cc] = map[string]struct{}{}
			}
			countries[cc][uid] = struct{}{}
		}
	}

	out := GeographicMetrics{
		TotalUsers: len(all),
		Regions:    make([]RegionMetric, 0, len(regions)),
		Countries:  make([]CountryMetric, 0, len(countries)),
	}
	total := float64(len(all))
	for name, users := range regions {
		out.Regions = append(out.Regions, RegionMetric{
			Region:     name,
			Users:      len(users),
			Percentage: percent(float64(len(users)), total, 1),
		})
	}
	sort.Slice(out.Regions, func(i, j int) bool {
		if out.Regions[i].Users != out.Regions[j].Users {
			return out.Regions[i].Users > out.Regions[j].Users
		}
		return out.Regions[i].Region < out.Regions[j].Region
	})
	for i := range out.Regions {
		out.Regions[i].Growth = Estimated(round(s.random(maxGrowthPercent), 1))
	}
	for cc, users := range countries {
		out.Countries = append(out.Countries, CountryMetric{
			CountryCode: cc,
			Users:       len(users),
			Percentage:  percent(float64(len(users)), total, 1),
		})
	}
	sort.Slice(out.Countries, func(i, j int) bool {
		if out.Countries[i].Users != out.Countries[j].Users {
			return out.Countries[i].Users > out.Countries[j].Users
		}
		return out.Countries[i].CountryCode < out.Countries[j].CountryCode
	})
	return out
}

// ClassifyInstallType normalises install_type; unknown values are existing installs.
func ClassifyInstallType(raw string) string {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case InstallFresh:
		return InstallFresh
	case InstallUpdate:
		return InstallUpdate
	case InstallReinstall:
		return InstallReinstall
	default:
		return InstallExisting
	}
}

func installationID(ev Event) string {
	for _, key := range []string{PropHardwareID, PropInstallationID, PropUserID} {
		if id := ev.String(key); id != "" {
			return id
		}
	}
	return ""
}

func eventVersion(ev Event) string {
	if v := ev.String(PropVersion); v != "" {
		return v
	}
	return ev.String(PropAppVersion)
}

func newInstallTypeCounts() map[string]int {
	return map[string]int{InstallFresh: 0, InstallUpdate: 0, InstallReinstall: 0, InstallExisting: 0}
}

// GetVersionMetrics reports version adoption over the last 30 days.
func (s *Store) GetVersionMetrics() VersionMetrics {
	now := s.nowMs()
	type versionAcc struct {
		installs map[string]struct{}
		types    map[string]int
	}
	versions := map[string]*versionAcc{}
	allInstalls := map[string]struct{}{}
	totals := newInstallTypeCounts()
	var updates, failures int

	for _, r := range s.records() {
		if !within(r.ts, now-versionWindowMs, now) {
			continue
		}
		switch r.ev.Name {
		case EventUpdateFailed:
			failures++
			continue
		case EventInstallComplete, EventAppLaunch:
		default:
			continue
		}
		version, id := eventVersion(r.ev), installationID(r.ev)
		if version == "" || id == "" {
			continue
		}
		acc := versions[version]
		if acc == nil {
			acc = &versionAcc{installs: map[string]struct{}{}, types: newInstallTypeCounts()}
			versions[version] = acc
		}
		acc.installs[id] = struct{}{}
		allInstalls[id] = struct{}{}
		kind := ClassifyInstallType(r.ev.String(PropInstallType))
		acc.types[kind]++
		totals[kind]++
		if r.ev.Name == EventInstallComplete && kind == InstallUpdate {
			updates++
		}
	}

	out := VersionMetrics{
		Versions:      make([]VersionStat, 0, len(versions)),
		TotalInstalls: len(allInstalls),
		InstallTypes:  totals,
		Policy:        s.policy,
	}
	for v, acc := range versions {
		out.Versions = append(out.Versions, VersionStat{
			Version:      v,
			Installs:     len(acc.installs),
			Percentage:   percent(float64(len(acc.installs)), float64(len(allInstalls)), 1),
			Status:       s.policy.Status(v),
			InstallTypes: acc.types,
		})
	}
	sort.Slice(out.Versions, func(i, j int) bool {
		if c := CompareVersions(out.Versions[i].Version, out.Versions[j].Version); c != 0 {
			return c > 0
		}
		return out.Versions[i].Version > out.Versions[j].Version
	})
	if len(out.Versions) > 0 {
		out.LatestVersion = out.Versions[0].Version
	}
	out.UpdateSuccessRate = Estimated(percent(float64(updates), float64(updates+failures), 1))
	return out
}

func isErrorEvent(name string) bool {
	name = strings.ToLower(name)
	return strings.Contains(name, "error") || strings.Contains(name, "crash")
}

// GetPerformanceMetrics estimates system health from the last hour.
func (s *Store) GetPerformanceMetrics() PerformanceMetrics {
	now := s.nowMs()
	var (
		total, errs, crashes, sessions int
		loadSum, memSum                float64
		loadN, memN                    int
	)
	for _, r := range s.records() {
		if !within(r.ts, now-hourMs, now) {
			continue
		}
		total++
		if isErrorEvent(r.ev.Name) {
			errs++
		}
		if strings.Contains(strings.ToLower(r.ev.Name), "crash") {
			crashes++
		}
		if r.ev.Name == EventSessionStart {
			sessions++
		}
		if v, ok := r.ev.Number(PropLoadTimeMs); ok {
			loadSum += v
			loadN++
		}
		if v, ok := r.ev.Number(PropMemoryMB); ok {
			memSum += v
			memN++
		}
	}

	m := PerformanceMetrics{
		EventsPerMinute: round(float64(total)/60, 2),
		ErrorEvents:     errs,
		ErrorRate:       percent(float64(errs), float64(total), 2),
	}
	crashFree := 100.0
	if sessions > 0 {
		crashFree = math.Max(0, 100-float64(crashes)/float64(sessions)*100)
	}
	m.CrashFreeSessions = Estimated(round(crashFree, 1))
	if loadN > 0 {
		m.AvgLoadTimeMs = round(loadSum/float64(loadN), 1)
	}
	if memN > 0 {
		m.AvgMemoryMB = round(memSum/float64(memN), 1)
	}
	switch {
	case m.ErrorRate < 1:
		m.Status = HealthHealthy
	case m.ErrorRate < 5:
		m.Status = HealthDegraded
	default:
		m.Status = HealthCritical
	}
	return m
}

// FormatDuration renders minutes as "Xm Ys".
func FormatDuration(minutes float64) string {
	secs := int64(math.Round(finite(minutes) * 60))
	if secs < 0 {
		secs = 0
	}
	return fmt.Sprintf("%dm %ds", secs/60, secs%60)
}

// GetUserMetrics compares activity in the last 24 hours with the day before.
func (s *Store) GetUserMetrics() UserMetrics {
	now := s.nowMs()
	all := map[string]int64{}
	today := map[string]struct{}{}
	previous := map[string]struct{}{}
	var (
		m           UserMetrics
		durationSum float64
		durationN   int
	)
	for _, r := range s.records() {
		uid := r.ev.UserID()
		if first, seen := all[uid]; !seen || r.ts < first {
			all[uid] = r.ts
		}
		switch {
		case within(r.ts, now-dayMs, now):
			today[uid] = struct{}{}
			switch r.ev.Name {
			case EventSessionStart:
				m.TotalSessions++
			case EventSessionEnd:
				if v, ok := r.ev.Number(PropDurationMinutes); ok {
					durationSum += v
					durationN++
				}
			}
		case r.ts >= now-2*dayMs && r.ts < now-dayMs:
			previous[uid] = struct{}{}
		}
	}
	for _, first := range all {
		if within(first, now-dayMs, now) {
			m.NewUsers++
		}
	}
	m.TotalUsers = len(all)
	m.ActiveToday = len(today)
	m.ActivePreviousDay = len(previous)
	m.ChangePercentage = percent(float64(m.ActiveToday-m.ActivePreviousDay), float64(m.ActivePreviousDay), 1)
	if durationN > 0 {
		m.AvgSessionMinutes = round(durationSum/float64(durationN), 2)
	}
	m.AvgSessionDuration = FormatDuration(m.AvgSessionMinutes)
	return m
}
