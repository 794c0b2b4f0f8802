package ids

import (
	mathrand "math/rand"
	"strings"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
)

// Entity prefixes keep identifiers self-describing in logs and URLs.
const (
	PrefixOrganization = "org"
	PrefixMembership   = "mem"
	PrefixTeam         = "team"
	PrefixRole         = "role"
	PrefixPermission   = "perm"
	PrefixConnection   = "conn"
)

var (
	entropyMu sync.Mutex
	entropy   = ulid.Monotonic(mathrand.New(mathrand.NewSource(time.Now().UnixNano())), 0)
)

// New returns a lexicographically sortable identifier suitable for storage keys.
func New() string {
	entropyMu.Lock()
	defer entropyMu.Unlock()
	return ulid.MustNew(ulid.Timestamp(time.Now()), entropy).String()
}

// NewWithPrefix returns New() qualified as "prefix_ULID" in lower case.
func NewWithPrefix(prefix string) string {
	prefix = strings.TrimSpace(prefix)
	if prefix == "" {
		return New()
	}
	return prefix + "_" + strings.ToLower(New())
}

// HasPrefix reports whether id was produced by NewWithPrefix(prefix).
func HasPrefix(id, prefix string) bool {
	return strings.HasPrefix(id, prefix+"_") && len(id) > len(prefix)+1
}
