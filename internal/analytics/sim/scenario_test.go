package sim

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"zashboard.app/internal/analytics"
)

func TestGeneratorIsDeterministicForSeed(t *testing.T) {
	end := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	a := NewGenerator(BrowserFleetScenario(), 42)
	b := NewGenerator(BrowserFleetScenario(), 42)

	require.Equal(t, a.Profiles(), b.Profiles())
	assert.Equal(t, a.NextSession(end), b.NextSession(end))
}

func TestNextSessionShape(t *testing.T) {
	end := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	g := NewGenerator(Scenario{Users: 1, Platforms: []string{"darwin"}, Versions: []string{"1.3.5"}}, 7)

	first := g.NextSession(end)
	require.NotEmpty(t, first)
	assert.Equal(t, analytics.EventInstallComplete, first[0].Name)
	assert.Equal(t, analytics.InstallFresh, first[0].Properties[analytics.PropInstallType])

	last := first[len(first)-1]
	assert.Equal(t, analytics.EventSessionEnd, last.Name)
	assert.Equal(t, end.UnixMilli(), last.Properties[analytics.PropTimestamp])

	var session string
	for _, ev := range first {
		assert.Equal(t, "sim-user-0000", ev.UserID())
		switch ev.Name {
		case analytics.EventSessionStart:
			session = ev.String(analytics.PropSessionID)
		case analytics.EventSessionHeartbeat, analytics.EventSessionEnd:
			assert.Equal(t, session, ev.String(analytics.PropSessionID))
		}
	}
	assert.NotEmpty(t, session)

	for i := 0; i < 10; i++ {
		for _, ev := range g.NextSession(end) {
			if ev.Name == analytics.EventInstallComplete {
				assert.NotEqual(t, analytics.InstallFresh, ev.Properties[analytics.PropInstallType])
			}
		}
	}
}

func TestGeneratedEventsFeedTheAggregates(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	store := analytics.NewStore(analytics.WithClock(func() time.Time { return now }))
	g := NewGenerator(BrowserFleetScenario(), 99)

	var counter Counter
	for i := 0; i < 50; i++ {
		events := g.NextSession(now.Add(-time.Duration(i) * time.Minute))
		for _, ev := range events {
			require.NoError(t, store.AddEvent(ev))
		}
		counter.Add(events)
	}

	assert.Equal(t, counter.Total(), store.Len())
	names, counts := counter.Names()
	assert.Contains(t, names, analytics.EventSessionStart)
	assert.Equal(t, 50, counts[analytics.EventSessionStart])
	assert.Equal(t, 50, counts[analytics.EventSessionEnd])

	users := store.GetUserMetrics()
	assert.Equal(t, 50, users.TotalSessions)
	assert.Positive(t, users.ActiveToday)
	assert.Positive(t, store.GetVersionMetrics().TotalInstalls)
}
