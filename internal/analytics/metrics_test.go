package analytics

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRealtimeCountsDistinctUsersInLastHour(t *testing.T) {
	s := newTestStore(t)
	now := noon.UnixMilli()
	mustAdd(t, s,
		mkEvent("page_view", "u1", now-1000),
		mkEvent("page_view", "u1", now-2000),
		mkEvent("page_view", "u2", now-hourMs),
		mkEvent("page_view", "u3", now-hourMs-1),
		mkEvent("page_view", "u4", now+60_000),
		mkEvent(EventSessionHeartbeat, "u5", now-4*minuteMs, PropAppVersion, "1.3.5"),
		mkEvent(EventSessionStart, "u6", now-10*minuteMs, PropAppVersion, "1.3.5"),
	)
	m := s.GetRealtimeMetrics()
	assert.Equal(t, 4, m.UsersLastHour)
	assert.Equal(t, 2, m.ActiveUsers)
	assert.Equal(t, 1, m.ActiveSessions)
	assert.Equal(t, 2, m.CurrentVersionUsers)
	assert.Equal(t, 5, m.EventsLastHour)
	assert.Equal(t, Estimated(0), m.PendingUpdates)
}

func TestPendingUpdatesIsEstimatedFivePercent(t *testing.T) {
	s := newTestStore(t)
	for i := 0; i < 40; i++ {
		mustAdd(t, s, mkEvent("page_view", "u1", noon.UnixMilli()-1000, PropAppVersion, "1.3.5"))
	}
	m := s.GetRealtimeMetrics()
	assert.True(t, m.PendingUpdates.IsEstimated())
	assert.Equal(t, 2.0, m.PendingUpdates.Value)
}

func TestEndToEndScenario(t *testing.T) {
	s := newTestStore(t)
	now := noon.UnixMilli()
	mustAdd(t, s,
		mkEvent(EventSessionStart, "u1", now-10_000),
		mkEvent(EventSessionStart, "u1", now-4_000_000),
		mkEvent(EventSessionStart, "u1", now-90_000_000),
	)

	rt := s.GetRealtimeMetrics()
	assert.Equal(t, 1, rt.UsersLastHour)

	days, err := s.GetHistoricalMetrics(7)
	require.NoError(t, err)
	require.Len(t, days, 7)
	today, yesterday := days[6], days[5]
	assert.Equal(t, "2025-06-15", today.Date)
	assert.Equal(t, 1, today.ActiveUsers)
	assert.Equal(t, 2, today.Sessions)
	assert.Equal(t, "2025-06-14", yesterday.Date)
	assert.Equal(t, 1, yesterday.ActiveUsers)
	assert.Equal(t, 1, yesterday.Sessions)
	for _, d := range days[:5] {
		assert.Zero(t, d.ActiveUsers, d.Date)
	}
}

func TestActiveWindowExcludesOlderEvents(t *testing.T) {
	s := newTestStore(t)
	now := noon.UnixMilli()
	mustAdd(t, s,
		mkEvent(EventSessionStart, "u1", now-4_000_000),
		mkEvent(EventSessionStart, "u1", now-10*minuteMs),
	)
	rt := s.GetRealtimeMetrics()
	assert.Equal(t, 1, rt.UsersLastHour)
	assert.Zero(t, rt.ActiveUsers)
	assert.Zero(t, rt.ActiveSessions)
}

func TestHistoricalAlwaysReturnsRequestedDays(t *testing.T) {
	s := newTestStore(t)
	for _, n := range []int{1, 7, 30, 365} {
		days, err := s.GetHistoricalMetrics(n)
		require.NoError(t, err)
		require.Len(t, days, n)
		assert.Equal(t, "2025-06-15", days[n-1].Date)
		for i := 1; i < len(days); i++ {
			assert.Less(t, days[i-1].Date, days[i].Date)
		}
	}
	for _, n := range []int{0, -1, 366} {
		_, err := s.GetHistoricalMetrics(n)
		assert.ErrorIs(t, err, ErrInvalidInput)
	}
}

func TestHistoricalSessionDurations(t *testing.T) {
	s := newTestStore(t)
	now := noon.UnixMilli()
	mustAdd(t, s,
		mkEvent(EventSessionEnd, "u1", now-1000, PropDurationMinutes, 10),
		mkEvent(EventSessionEnd, "u2", now-2000, PropDurationMinutes, 5.5),
		mkEvent(EventSessionEnd, "u3", now-3000),
		mkEvent(EventSessionEnd, "u4", now-3*dayMs, PropDurationMinutes, "3"),
		mkEvent("page_view", "u5", now-10*dayMs),
	)
	days, err := s.GetHistoricalMetrics(3)
	require.NoError(t, err)
	assert.Equal(t, 7.75, days[2].AvgSessionMinutes)
	assert.Equal(t, 3, days[2].ActiveUsers)
	assert.Zero(t, days[0].AvgSessionMinutes, "3 days ago falls outside a 3 day series")
}

func TestGeographicMetrics(t *testing.T) {
	s := newTestStore(t)
	now := noon.UnixMilli()
	mustAdd(t, s,
		mkEvent("page_view", "u1", now-1000, PropPlatform, "darwin", PropCountryCode, "us"),
		mkEvent("page_view", "u1", now-2000, PropPlatform, "darwin", PropCountryCode, "US"),
		mkEvent("page_view", "u2", now-3000, PropPlatform, "win32", PropCountryCode, "DE"),
		mkEvent("page_view", "u3", now-4000, PropPlatform, "linux"),
		mkEvent("page_view", "u4", now-5000, PropPlatform, "freebsd"),
		mkEvent("page_view", "u5", now-5000),
		mkEvent("page_view", "u6", now-2*dayMs, PropPlatform, "darwin"),
	)
	g := s.GetGeographicMetrics()
	assert.Equal(t, 5, g.TotalUsers)

	byRegion := map[string]RegionMetric{}
	for _, r := range g.Regions {
		byRegion[r.Region] = r
		assert.True(t, r.Growth.IsEstimated())
		assert.GreaterOrEqual(t, r.Growth.Value, 0.0)
		assert.LessOrEqual(t, r.Growth.Value, 20.0)
	}
	assert.Equal(t, 1, byRegion["North America"].Users)
	assert.Equal(t, 20.0, byRegion["North America"].Percentage)
	assert.Equal(t, 1, byRegion["Europe"].Users)
	assert.Equal(t, 1, byRegion["Asia Pacific"].Users)
	assert.Equal(t, 2, byRegion["Other"].Users)
	assert.Equal(t, "Other", g.Regions[0].Region)

	require.Len(t, g.Countries, 2)
	assert.Equal(t, CountryMetric{CountryCode: "DE", Users: 1, Percentage: 20}, g.Countries[0])
	assert.Equal(t, "US", g.Countries[1].CountryCode)
}

func TestVersionMetrics(t *testing.T) {
	s := newTestStore(t)
	now := noon.UnixMilli()
	mustAdd(t, s,
		mkEvent(EventInstallComplete, "u1", now-1000, PropVersion, "1.3.5", PropHardwareID, "hw1", PropInstallType, "version_update"),
		mkEvent(EventAppLaunch, "u1", now-2000, PropAppVersion, "1.3.5", PropHardwareID, "hw1"),
		mkEvent(EventAppLaunch, "u2", now-3000, PropAppVersion, "1.3.10", PropInstallationID, "inst2"),
		mkEvent(EventInstallComplete, "u3", now-4000, PropVersion, "1.3.3", PropInstallType, "fresh_install"),
		mkEvent(EventInstallComplete, "u4", now-5000, PropVersion, "1.2.9", PropInstallType, "weird"),
		mkEvent(EventUpdateFailed, "u5", now-6000),
		mkEvent(EventAppLaunch, "u6", now-31*dayMs, PropAppVersion, "9.9.9"),
		mkEvent("page_view", "u7", now-1000, PropAppVersion, "2.0.0"),
	)
	m := s.GetVersionMetrics()
	require.Len(t, m.Versions, 4)

	var order []string
	for _, v := range m.Versions {
		order = append(order, v.Version)
	}
	assert.Equal(t, []string{"1.3.10", "1.3.5", "1.3.3", "1.2.9"}, order)
	assert.Equal(t, "1.3.10", m.LatestVersion)
	assert.Equal(t, 4, m.TotalInstalls)

	v135 := m.Versions[1]
	assert.Equal(t, 1, v135.Installs, "hardware_id dedupes launches and installs")
	assert.Equal(t, 25.0, v135.Percentage)
	assert.Equal(t, StatusCurrent, v135.Status)
	assert.Equal(t, 1, v135.InstallTypes[InstallUpdate])
	assert.Equal(t, 1, v135.InstallTypes[InstallExisting])

	assert.Equal(t, StatusCurrent, m.Versions[0].Status)
	assert.Equal(t, StatusOutdated, m.Versions[2].Status)
	assert.Equal(t, StatusLegacy, m.Versions[3].Status)
	assert.Equal(t, 1, m.Versions[3].InstallTypes[InstallExisting])

	assert.Equal(t, Estimated(50), m.UpdateSuccessRate)
}

func TestVersionPolicyIsConfigurable(t *testing.T) {
	s := newTestStore(t, WithVersionPolicy(VersionPolicy{Line: "2.0", CurrentPatch: 1, OutdatedPatch: 0}))
	mustAdd(t, s,
		mkEvent(EventAppLaunch, "u1", noon.UnixMilli(), PropAppVersion, "2.0.1"),
		mkEvent(EventAppLaunch, "u2", noon.UnixMilli(), PropAppVersion, "1.3.9"),
	)
	m := s.GetVersionMetrics()
	require.Len(t, m.Versions, 2)
	assert.Equal(t, StatusCurrent, m.Versions[0].Status)
	assert.Equal(t, StatusLegacy, m.Versions[1].Status)
}

func TestPerformanceMetrics(t *testing.T) {
	s := newTestStore(t)
	now := noon.UnixMilli()
	for i := 0; i < 97; i++ {
		mustAdd(t, s, mkEvent("page_view", "u1", now-1000, PropLoadTimeMs, 200, PropMemoryMB, 300))
	}
	mustAdd(t, s,
		mkEvent(EventSessionStart, "u1", now-1000, PropLoadTimeMs, 400),
		mkEvent("renderer_error", "u1", now-1000),
		mkEvent("app_crash", "u1", now-1000),
		mkEvent("app_crash", "u1", now-2*hourMs),
	)
	p := s.GetPerformanceMetrics()
	assert.Equal(t, 2, p.ErrorEvents)
	assert.Equal(t, 2.0, p.ErrorRate)
	assert.Equal(t, HealthDegraded, p.Status)
	assert.Equal(t, 1.67, p.EventsPerMinute)
	assert.Equal(t, 202.0, p.AvgLoadTimeMs)
	assert.Equal(t, 300.0, p.AvgMemoryMB)
	assert.Equal(t, Estimated(0), p.CrashFreeSessions)
}

func TestPerformanceStatusThresholds(t *testing.T) {
	cases := []struct {
		errors, total int
		want          string
	}{
		{0, 100, HealthHealthy},
		{1, 200, HealthHealthy},
		{1, 100, HealthDegraded},
		{5, 100, HealthCritical},
	}
	for _, tc := range cases {
		s := newTestStore(t)
		for i := 0; i < tc.total; i++ {
			name := "page_view"
			if i < tc.errors {
				name = "network_error"
			}
			mustAdd(t, s, mkEvent(name, "u1", noon.UnixMilli()))
		}
		assert.Equal(t, tc.want, s.GetPerformanceMetrics().Status, "%d/%d", tc.errors, tc.total)
	}
}

func TestUserMetrics(t *testing.T) {
	s := newTestStore(t)
	now := noon.UnixMilli()
	mustAdd(t, s,
		mkEvent("page_view", "old", now-36*hourMs),
		mkEvent("page_view", "old", now-hourMs),
		mkEvent("page_view", "prev", now-30*hourMs),
		mkEvent(EventSessionStart, "new1", now-2*hourMs),
		mkEvent(EventSessionStart, "new2", now-3*hourMs),
		mkEvent(EventSessionEnd, "new2", now-2*hourMs, PropDurationMinutes, 12.5),
		mkEvent("page_view", "ancient", now-10*dayMs),
	)
	u := s.GetUserMetrics()
	assert.Equal(t, 5, u.TotalUsers)
	assert.Equal(t, 3, u.ActiveToday)
	assert.Equal(t, 2, u.ActivePreviousDay)
	assert.Equal(t, 50.0, u.ChangePercentage)
	assert.Equal(t, 2, u.NewUsers)
	assert.Equal(t, 2, u.TotalSessions)
	assert.Equal(t, 12.5, u.AvgSessionMinutes)
	assert.Equal(t, "12m 30s", u.AvgSessionDuration)
}

func TestUserMetricsChangeIsZeroWithoutPreviousDay(t *testing.T) {
	s := newTestStore(t)
	mustAdd(t, s, mkEvent("page_view", "u1", noon.UnixMilli()))
	u := s.GetUserMetrics()
	assert.Equal(t, 1, u.ActiveToday)
	assert.Zero(t, u.ChangePercentage)
}

func TestEmptyStoreYieldsZeroValues(t *testing.T) {
	s := newTestStore(t)

	rt := s.GetRealtimeMetrics()
	assert.Zero(t, rt.UsersLastHour)
	geo := s.GetGeographicMetrics()
	assert.Empty(t, geo.Regions)
	ver := s.GetVersionMetrics()
	assert.Empty(t, ver.Versions)
	assert.Equal(t, "", ver.LatestVersion)
	perf := s.GetPerformanceMetrics()
	assert.Equal(t, HealthHealthy, perf.Status)
	users := s.GetUserMetrics()
	assert.Equal(t, "0m 0s", users.AvgSessionDuration)
	hist, err := s.GetHistoricalMetrics(7)
	require.NoError(t, err)

	// encoding/json refuses NaN and Inf, so marshalling proves every field is finite.
	for _, v := range []any{rt, geo, ver, perf, users, hist} {
		_, err := json.Marshal(v)
		require.NoError(t, err)
	}
}

func TestFormatDuration(t *testing.T) {
	assert.Equal(t, "0m 0s", FormatDuration(0))
	assert.Equal(t, "1m 30s", FormatDuration(1.5))
	assert.Equal(t, "61m 1s", FormatDuration(61.0167))
	assert.Equal(t, "0m 0s", FormatDuration(-3))
}

func TestWindowsFollowClock(t *testing.T) {
	current := noon
	s := newTestStore(t, WithClock(func() time.Time { return current }))
	mustAdd(t, s, mkEvent("page_view", "u1", noon.UnixMilli()))
	assert.Equal(t, 1, s.GetRealtimeMetrics().UsersLastHour)
	current = noon.Add(2 * time.Hour)
	assert.Zero(t, s.GetRealtimeMetrics().UsersLastHour)
}
