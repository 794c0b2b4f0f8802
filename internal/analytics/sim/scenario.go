// Package sim generates synthetic Zing browser telemetry for load and demo runs.
package sim

import (
	"fmt"
	"math/rand"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"

	"zashboard.app/internal/analytics"
)

// Profile is one simulated browser installation.
type Profile struct {
	UserID         string
	HardwareID     string
	InstallationID string
	Platform       string
	Version        string
	CountryCode    string

	installed bool
}

// Scenario describes the fleet a Generator draws from.
type Scenario struct {
	Name      string
	Users     int
	Platforms []string
	Versions  []string
	Countries []string
	// UpdateFailureRate is the probability that a session carries a failed update.
	UpdateFailureRate float64
}

// BrowserFleetScenario is a mixed desktop fleet spread over the current
// release line and a few stragglers.
func BrowserFleetScenario() Scenario {
	return Scenario{
		Name:              "BrowserFleet",
		Users:             250,
		Platforms:         []string{"darwin", "darwin", "win32", "win32", "win32", "linux"},
		Versions:          []string{"1.3.5", "1.3.5", "1.3.5", "1.3.4", "1.3.2", "1.2.9"},
		Countries:         []string{"US", "US", "DE", "GB", "FR", "JP", "BR", "IN"},
		UpdateFailureRate: 0.03,
	}
}

// Generator produces whole sessions of events. It is safe for concurrent use.
type Generator struct {
	mu       sync.Mutex
	scenario Scenario
	rnd      *rand.Rand
	profiles []Profile
}

// NewGenerator builds a deterministic generator for a non-zero seed.
func NewGenerator(scenario Scenario, seed int64) *Generator {
	if seed == 0 {
		seed = time.Now().UnixNano()
	}
	if scenario.Users <= 0 {
		scenario.Users = 1
	}
	g := &Generator{scenario: scenario, rnd: rand.New(rand.NewSource(seed))}
	g.profiles = make([]Profile, scenario.Users)
	for i := range g.profiles {
		g.profiles[i] = Profile{
			UserID:         fmt.Sprintf("sim-user-%04d", i),
			HardwareID:     fmt.Sprintf("hw-%08x", g.rnd.Uint32()),
			InstallationID: fmt.Sprintf("inst-%08x", g.rnd.Uint32()),
			Platform:       pick(g.rnd, scenario.Platforms, "linux"),
			Version:        pick(g.rnd, scenario.Versions, "1.0.0"),
			CountryCode:    pick(g.rnd, scenario.Countries, ""),
		}
	}
	return g
}

// Profiles returns a copy of the simulated installations.
func (g *Generator) Profiles() []Profile {
	g.mu.Lock()
	defer g.mu.Unlock()
	return append([]Profile(nil), g.profiles...)
}

// NextSession returns the events of one session that ends at end: a launch,
// session_start, heartbeats every five minutes and session_end. A profile's
// first session also carries its install event.
func (g *Generator) NextSession(end time.Time) []analytics.Event {
	g.mu.Lock()
	defer g.mu.Unlock()

	idx := g.rnd.Intn(len(g.profiles))
	p := &g.profiles[idx]
	minutes := 1 + g.rnd.Intn(90)
	start := end.Add(-time.Duration(minutes) * time.Minute)
	sessionID := ulid.MustNew(ulid.Timestamp(start), g.rnd).String()

	var out []analytics.Event
	if install := g.installType(p); install != "" {
		out = append(out, g.event(p, analytics.EventInstallComplete, start.Add(-time.Second), map[string]any{
			analytics.PropInstallType: install,
		}))
	}
	out = append(out,
		g.event(p, analytics.EventAppLaunch, start, map[string]any{
			analytics.PropLoadTimeMs: 300 + g.rnd.Intn(1500),
			analytics.PropMemoryMB:   180 + g.rnd.Intn(600),
		}),
		g.event(p, analytics.EventSessionStart, start, map[string]any{
			analytics.PropSessionID: sessionID,
		}),
	)
	for t := start.Add(5 * time.Minute); t.Before(end); t = t.Add(5 * time.Minute) {
		out = append(out, g.event(p, analytics.EventSessionHeartbeat, t, map[string]any{
			analytics.PropSessionID: sessionID,
		}))
	}
	if g.rnd.Float64() < g.scenario.UpdateFailureRate {
		out = append(out, g.event(p, analytics.EventUpdateFailed, end.Add(-time.Second), nil))
	}
	out = append(out, g.event(p, analytics.EventSessionEnd, end, map[string]any{
		analytics.PropSessionID:       sessionID,
		analytics.PropDurationMinutes: minutes,
	}))
	return out
}

// installType reports the install event to emit before a session, if any.
func (g *Generator) installType(p *Profile) string {
	if !p.installed {
		p.installed = true
		return analytics.InstallFresh
	}
	if g.rnd.Intn(20) == 0 {
		return analytics.InstallUpdate
	}
	return ""
}

func (g *Generator) event(p *Profile, name string, at time.Time, extra map[string]any) analytics.Event {
	props := map[string]any{
		analytics.PropUserID:         p.UserID,
		analytics.PropTimestamp:      at.UnixMilli(),
		analytics.PropPlatform:       p.Platform,
		analytics.PropAppVersion:     p.Version,
		analytics.PropHardwareID:     p.HardwareID,
		analytics.PropInstallationID: p.InstallationID,
	}
	if p.CountryCode != "" {
		props[analytics.PropCountryCode] = p.CountryCode
	}
	for k, v := range extra {
		props[k] = v
	}
	return analytics.Event{Name: name, Properties: props}
}

func pick(rnd *rand.Rand, options []string, fallback string) string {
	if len(options) == 0 {
		return fallback
	}
	return options[rnd.Intn(len(options))]
}
