package analytics

import (
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCompareVersions(t *testing.T) {
	cases := []struct {
		a, b string
		want int
	}{
		{"1.10.0", "1.9.9", 1},
		{"1.3", "1.3.0", 0},
		{"v1.3.5", "1.3.5", 0},
		{"1.3.5-beta", "1.3.5", 0},
		{"1.2.10", "1.3.0", -1},
		{"2", "10", -1},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.want, CompareVersions(tc.a, tc.b), "%s vs %s", tc.a, tc.b)
	}
}

func TestDefaultVersionPolicy(t *testing.T) {
	cases := map[string]string{
		"1.3.5":  StatusCurrent,
		"1.3.12": StatusCurrent,
		"1.3.4":  StatusOutdated,
		"1.3.2":  StatusOutdated,
		"1.3.1":  StatusLegacy,
		"1.3":    StatusLegacy,
		"1.4.0":  StatusLegacy,
		"0.9.9":  StatusLegacy,
		"":       StatusLegacy,
	}
	for v, want := range cases {
		assert.Equal(t, want, DefaultVersionPolicy.Status(v), v)
	}
}

func TestClassifyInstallType(t *testing.T) {
	assert.Equal(t, InstallFresh, ClassifyInstallType("fresh_install"))
	assert.Equal(t, InstallUpdate, ClassifyInstallType(" Version_Update "))
	assert.Equal(t, InstallReinstall, ClassifyInstallType("reinstall"))
	assert.Equal(t, InstallExisting, ClassifyInstallType(""))
	assert.Equal(t, InstallExisting, ClassifyInstallType("sideload"))
}

func TestValueConstructorsRejectNaN(t *testing.T) {
	var zero float64
	assert.Equal(t, Measured(0), Measured(zero/zero))
	assert.Equal(t, SourceEstimated, Estimated(3).Source)
}

func TestEnrich(t *testing.T) {
	r := httptest.NewRequest("POST", "/v1/analytics/events", nil)
	r.Header.Set("CF-IPCountry", "de")
	r.Header.Set("X-Forwarded-For", "203.0.113.9, 10.0.0.1")

	ev := Event{Name: "page_view", Properties: map[string]any{PropUserID: "u1"}}
	Enrich(&ev, r)
	assert.Equal(t, "DE", ev.Properties[PropCountryCode])
	assert.Len(t, ev.Properties[PropIPHash], 64)

	kept := Event{Name: "page_view", Properties: map[string]any{PropUserID: "u1", PropCountryCode: "FR", PropIPHash: "x"}}
	Enrich(&kept, r)
	assert.Equal(t, "FR", kept.Properties[PropCountryCode])
	assert.Equal(t, "x", kept.Properties[PropIPHash])

	unknown := httptest.NewRequest("POST", "/", nil)
	unknown.Header.Set("CF-IPCountry", "XX")
	ev2 := Event{Name: "page_view", Properties: map[string]any{PropUserID: "u1"}}
	Enrich(&ev2, unknown)
	assert.NotContains(t, ev2.Properties, PropCountryCode)
	assert.Equal(t, "192.0.2.1", ClientIP(unknown))
}
