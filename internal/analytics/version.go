package analytics

import (
	"strconv"
	"strings"
)

// VersionPolicy names the release line considered current. A version on Line
// with patch >= CurrentPatch is current, patch in [OutdatedPatch, CurrentPatch)
// is outdated, anything else is legacy.
type VersionPolicy struct {
	Line          string `json:"line"`
	CurrentPatch  int    `json:"current_patch"`
	OutdatedPatch int    `json:"outdated_patch"`
}

// DefaultVersionPolicy treats 1.3.5+ as current and 1.3.2-1.3.4 as outdated.
var DefaultVersionPolicy = VersionPolicy{Line: "1.3", CurrentPatch: 5, OutdatedPatch: 2}

// Version statuses.
const (
	StatusCurrent  = "current"
	StatusOutdated = "outdated"
	StatusLegacy   = "legacy"
)

// Status classifies a version string.
func (p VersionPolicy) Status(version string) string {
	line := versionParts(p.Line)
	parts := versionParts(version)
	if len(line) == 0 || len(parts) <= len(line) {
		return StatusLegacy
	}
	for i := range line {
		if parts[i] != line[i] {
			return StatusLegacy
		}
	}
	patch := parts[len(line)]
	switch {
	case patch >= p.CurrentPatch:
		return StatusCurrent
	case patch >= p.OutdatedPatch:
		return StatusOutdated
	default:
		return StatusLegacy
	}
}

// versionParts parses "v1.3.10-beta" into [1 3 10]. Non-numeric components
// count as 0 and pre-release suffixes are ignored.
func versionParts(v string) []int {
	v = strings.TrimPrefix(strings.TrimSpace(v), "v")
	if i := strings.IndexAny(v, "-+ "); i >= 0 {
		v = v[:i]
	}
	if v == "" {
		return nil
	}
	fields := strings.Split(v, ".")
	out := make([]int, len(fields))
	for i, f := range fields {
		n, err := strconv.Atoi(f)
		if err != nil {
			n = 0
		}
		out[i] = n
	}
	return out
}

// CompareVersions compares dot-separated versions numerically, returning -1, 0 or 1.
// Missing components are treated as 0, so "1.3" equals "1.3.0".
func CompareVersions(a, b string) int {
	pa, pb := versionParts(a), versionParts(b)
	n := max(len(pa), len(pb))
	for i := 0; i < n; i++ {
		var x, y int
		if i < len(pa) {
			x = pa[i]
		}
		if i < len(pb) {
			y = pb[i]
		}
		if x != y {
			if x < y {
				return -1
			}
			return 1
		}
	}
	return 0
}
