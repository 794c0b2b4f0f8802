package auth

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLegacyRoleForLevel(t *testing.T) {
	cases := map[int]LegacyRole{
		0: LegacyUser, 10: LegacyUser, 49: LegacyUser,
		50: LegacyAdmin, 99: LegacyAdmin,
		100: LegacySuperAdmin, 1000: LegacySuperAdmin,
	}
	for level, want := range cases {
		assert.Equal(t, want, LegacyRoleForLevel(level), "level %d", level)
	}
}

func TestLegacyGrantsAll(t *testing.T) {
	assert.True(t, LegacyGrantsAll(LegacySuperAdmin))
	assert.False(t, LegacyGrantsAll(LegacyAdmin))
	assert.False(t, LegacyGrantsAll(LegacyUser))
}

func TestParseLegacyRole(t *testing.T) {
	r, err := ParseLegacyRole("")
	require.NoError(t, err)
	assert.Equal(t, LegacyUser, r)

	r, err = ParseLegacyRole(" Super_Admin ")
	require.NoError(t, err)
	assert.Equal(t, LegacySuperAdmin, r)

	_, err = ParseLegacyRole("owner")
	assert.ErrorIs(t, err, ErrInvalidInput)
}

func TestPermissionKey(t *testing.T) {
	assert.Equal(t, "users:read", Permission{Scope: ScopePlatform, Resource: "users", Action: "read"}.Key())
	assert.Equal(t, "org:teams:write", Permission{Scope: ScopeOrganization, Resource: "teams", Action: "write"}.Key())
	assert.Equal(t, "teams:write", normalizeKey("org:Teams:Write"))
}
