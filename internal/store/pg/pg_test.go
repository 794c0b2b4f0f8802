package pg

import (
	"context"
	"database/sql"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"zashboard.app/internal/auth"
	"zashboard.app/internal/integrations"
	"zashboard.app/internal/org"
)

var (
	testNow   = time.Date(2025, 6, 15, 12, 0, 0, 0, time.UTC)
	testStale = testNow.Add(-11 * time.Minute)
)

func newMock(t *testing.T) (*Store, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() {
		assert.NoError(t, mock.ExpectationsWereMet())
		db.Close()
	})
	return New(db), mock
}

func connectionRows(status string) *sqlmock.Rows {
	return sqlmock.NewRows([]string{
		"id", "organization_id", "provider", "status", "sealed_token", "items_synced",
		"last_error", "last_synced_at", "created_at", "updated_at",
	}).AddRow("conn_1", "org_a", "notion", status, []byte("sealed"), 4, "", nil, testNow, testNow)
}

func TestClaimSyncWins(t *testing.T) {
	s, mock := newMock(t)
	mock.ExpectQuery(`update integration_connections\s+set status = 'syncing'.*status <> 'syncing' or updated_at < \$4`).
		WithArgs("org_a", "notion", testNow, testStale).
		WillReturnRows(connectionRows("syncing"))

	conn, won, err := s.ClaimSync(context.Background(), "org_a", integrations.ProviderNotion, testNow, testStale)
	require.NoError(t, err)
	assert.True(t, won)
	assert.Equal(t, integrations.StatusSyncing, conn.Status)
	assert.Equal(t, []byte("sealed"), conn.SealedToken)
	assert.Nil(t, conn.LastSyncedAt)
}

func TestClaimSyncLosesWhenAlreadySyncing(t *testing.T) {
	s, mock := newMock(t)
	mock.ExpectQuery(`update integration_connections`).
		WithArgs("org_a", "notion", testNow, testStale).
		WillReturnRows(sqlmock.NewRows([]string{"id"}))
	mock.ExpectQuery(`select .* from integration_connections`).
		WithArgs("org_a", "notion").
		WillReturnRows(connectionRows("syncing"))

	conn, won, err := s.ClaimSync(context.Background(), "org_a", integrations.ProviderNotion, testNow, testStale)
	require.NoError(t, err)
	assert.False(t, won)
	assert.Equal(t, integrations.StatusSyncing, conn.Status)
}

func TestClaimSyncMissingConnection(t *testing.T) {
	s, mock := newMock(t)
	mock.ExpectQuery(`update integration_connections`).WillReturnError(sql.ErrNoRows)
	mock.ExpectQuery(`select .* from integration_connections`).WillReturnError(sql.ErrNoRows)

	_, won, err := s.ClaimSync(context.Background(), "org_a", integrations.ProviderNotion, testNow, testStale)
	assert.False(t, won)
	assert.ErrorIs(t, err, auth.ErrNotFound)
}

func TestFinishSyncSetsLastSyncedOnlyOnCompletion(t *testing.T) {
	s, mock := newMock(t)
	mock.ExpectExec(`update integration_connections`).
		WithArgs("org_a", "notion", "completed", 12, "", testNow, sql.NullTime{Time: testNow, Valid: true}).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(`update integration_connections`).
		WithArgs("org_a", "notion", "failed", 0, "boom", testNow, sql.NullTime{}).
		WillReturnResult(sqlmock.NewResult(0, 0))

	ctx := context.Background()
	require.NoError(t, s.FinishSync(ctx, "org_a", integrations.ProviderNotion, integrations.Result{
		Status: integrations.StatusCompleted, ItemsSynced: 12, FinishedAt: testNow,
	}))
	err := s.FinishSync(ctx, "org_a", integrations.ProviderNotion, integrations.Result{
		Status: integrations.StatusFailed, Error: "boom", FinishedAt: testNow,
	})
	assert.ErrorIs(t, err, auth.ErrNotFound)
}

func TestCreateRoleMapsUniqueViolation(t *testing.T) {
	s, mock := newMock(t)
	mock.ExpectExec(`insert into roles`).WillReturnError(&pgconn.PgError{Code: pgErrUniqueViolation})

	err := s.CreateRole(context.Background(), &auth.Role{ID: "role_1", Scope: auth.ScopePlatform, Name: "ops"})
	assert.ErrorIs(t, err, auth.ErrConflict)
}

func TestAssignMapsForeignKeyViolation(t *testing.T) {
	s, mock := newMock(t)
	mock.ExpectExec(`insert into user_roles .* on conflict \(user_id, role_id\) do update`).
		WillReturnError(&pgconn.PgError{Code: pgErrForeignKeyViolation})

	err := s.Assign(context.Background(), auth.Assignment{UserID: "u1", RoleID: "role_x", Scope: auth.ScopePlatform, CreatedAt: testNow})
	assert.ErrorIs(t, err, auth.ErrNotFound)
}

func TestPermissionsForRolesExpandsPlaceholders(t *testing.T) {
	s, mock := newMock(t)
	mock.ExpectQuery(`role_id in \(\$1, \$2\)`).
		WithArgs("role_a", "role_b").
		WillReturnRows(sqlmock.NewRows([]string{"id", "scope", "resource", "action", "category", "display_name", "description", "created_at"}).
			AddRow("perm_1", "organization", "members", "read", "members", "Read members", "", testNow))

	perms, err := s.PermissionsForRoles(context.Background(), []string{"role_a", "role_b"})
	require.NoError(t, err)
	require.Len(t, perms, 1)
	assert.Equal(t, "org:members:read", perms[0].Key())

	none, err := s.PermissionsForRoles(context.Background(), nil)
	require.NoError(t, err)
	assert.Empty(t, none)
}

func TestAssignedRolesScansExpiry(t *testing.T) {
	s, mock := newMock(t)
	expires := testNow.Add(time.Hour)
	mock.ExpectQuery(`from user_roles ur\s+join roles r`).
		WithArgs("u1", "organization", "org_a").
		WillReturnRows(sqlmock.NewRows([]string{
			"user_id", "role_id", "scope", "organization_id", "granted_by", "expires_at", "created_at",
			"id", "scope", "organization_id", "name", "display_name", "description",
			"level", "is_system", "is_active", "created_at", "updated_at",
		}).
			AddRow("u1", "role_a", "organization", "org_a", "owner", expires, testNow,
				"role_a", "organization", "org_a", "admin", "Admin", "", 50, true, true, testNow, testNow).
			AddRow("u1", "role_m", "organization", "org_a", "owner", nil, testNow,
				"role_m", "organization", "org_a", "member", "Member", "", 10, true, true, testNow, testNow))

	got, err := s.AssignedRoles(context.Background(), "u1", auth.ScopeOrganization, "org_a")
	require.NoError(t, err)
	require.Len(t, got, 2)
	require.NotNil(t, got[0].Assignment.ExpiresAt)
	assert.True(t, got[0].Assignment.ExpiresAt.Equal(expires))
	assert.Equal(t, 50, got[0].Role.Level)
	assert.Nil(t, got[1].Assignment.ExpiresAt)
}

func TestCreateOrganizationIsTransactional(t *testing.T) {
	s, mock := newMock(t)
	mock.ExpectBegin()
	mock.ExpectExec(`insert into organizations`).
		WithArgs("org_a", "Acme", "acme", "", "", []byte(`{"theme":"dark"}`), testNow, testNow).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(`insert into organization_memberships`).
		WithArgs("mem_1", "org_a", "u1", "super_admin", testNow).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	o := &org.Organization{ID: "org_a", Name: "Acme", Slug: "acme", Settings: map[string]any{"theme": "dark"}, CreatedAt: testNow, UpdatedAt: testNow}
	err := s.CreateOrganization(context.Background(), o, org.Membership{
		ID: "mem_1", OrganizationID: "org_a", UserID: "u1", Role: auth.LegacySuperAdmin, CreatedAt: testNow,
	})
	require.NoError(t, err)
}

func TestCreateOrganizationRollsBackOnDuplicateSlug(t *testing.T) {
	s, mock := newMock(t)
	mock.ExpectBegin()
	mock.ExpectExec(`insert into organizations`).WillReturnError(&pgconn.PgError{Code: pgErrUniqueViolation})
	mock.ExpectRollback()

	err := s.CreateOrganization(context.Background(), &org.Organization{ID: "org_a", Slug: "acme"}, org.Membership{UserID: "u1"})
	assert.ErrorIs(t, err, auth.ErrConflict)
}

func TestGetOrganizationDecodesSettings(t *testing.T) {
	s, mock := newMock(t)
	mock.ExpectQuery(`select .* from organizations o where o.id = \$1`).
		WithArgs("org_a").
		WillReturnRows(sqlmock.NewRows([]string{"id", "name", "slug", "description", "size", "settings", "created_at", "updated_at"}).
			AddRow("org_a", "Acme", "acme", "", "11-50", []byte(`{"beta":true}`), testNow, testNow))

	o, err := s.GetOrganization(context.Background(), "org_a")
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"beta": true}, o.Settings)

	mock.ExpectQuery(`from organizations`).WithArgs("missing").WillReturnError(sql.ErrNoRows)
	_, err = s.GetOrganization(context.Background(), "missing")
	assert.ErrorIs(t, err, auth.ErrNotFound)
}

func TestRemoveMemberCascades(t *testing.T) {
	s, mock := newMock(t)
	mock.ExpectBegin()
	mock.ExpectExec(`delete from organization_memberships`).WithArgs("org_a", "u1").WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(`delete from team_members`).WithArgs("org_a", "u1").WillReturnResult(sqlmock.NewResult(0, 2))
	mock.ExpectExec(`delete from user_roles`).WithArgs("org_a", "u1").WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	require.NoError(t, s.RemoveMember(context.Background(), "org_a", "u1"))
}

func TestRemoveMemberUnknown(t *testing.T) {
	s, mock := newMock(t)
	mock.ExpectBegin()
	mock.ExpectExec(`delete from organization_memberships`).WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectRollback()

	err := s.RemoveMember(context.Background(), "org_a", "ghost")
	assert.ErrorIs(t, err, auth.ErrNotFound)
}

func TestMembershipRole(t *testing.T) {
	s, mock := newMock(t)
	mock.ExpectQuery(`select role from organization_memberships`).
		WithArgs("org_a", "u1").
		WillReturnRows(sqlmock.NewRows([]string{"role"}).AddRow("admin"))
	mock.ExpectQuery(`select role from organization_memberships`).
		WithArgs("org_a", "u2").
		WillReturnError(sql.ErrNoRows)

	role, ok, err := s.MembershipRole(context.Background(), "u1", "org_a")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, auth.LegacyAdmin, role)

	_, ok, err = s.MembershipRole(context.Background(), "u2", "org_a")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestNilDatabase(t *testing.T) {
	s := &Store{}
	_, err := s.GetRole(context.Background(), "x")
	assert.ErrorIs(t, err, errNoDB)
	assert.ErrorIs(t, s.Ping(context.Background()), errNoDB)
}
