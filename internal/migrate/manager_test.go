package migrate

import (
	"context"
	"io/fs"
	"testing"
	"testing/fstest"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var fixedNow = time.Date(2025, 6, 15, 12, 0, 0, 0, time.UTC)

func newMockManager(t *testing.T, migrations, seeds fs.FS) (*Manager, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() {
		assert.NoError(t, mock.ExpectationsWereMet())
		db.Close()
	})
	return NewManager(db, migrations, seeds, WithClock(func() time.Time { return fixedNow })), mock
}

func expectTables(mock sqlmock.Sqlmock) {
	mock.ExpectExec("create table if not exists schema_migrations").WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec("create table if not exists schema_seeds").WillReturnResult(sqlmock.NewResult(0, 0))
}

func TestUpAppliesPendingInOrder(t *testing.T) {
	migrations := fstest.MapFS{
		"0002_b.up.sql":   {Data: []byte("create table b (id int);")},
		"0001_a.up.sql":   {Data: []byte("create table a (id int); insert into a values (1);")},
		"0001_a.down.sql": {Data: []byte("drop table a;")},
		"README.md":       {Data: []byte("ignored")},
	}
	m, mock := newMockManager(t, migrations, nil)

	expectTables(mock)
	mock.ExpectQuery("select name from schema_migrations").
		WillReturnRows(sqlmock.NewRows([]string{"name"}).AddRow("0001_a.up.sql"))
	mock.ExpectBegin()
	mock.ExpectExec("create table b").WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectCommit()
	mock.ExpectExec("insert into schema_migrations").
		WithArgs("0002_b.up.sql", fixedNow).
		WillReturnResult(sqlmock.NewResult(1, 1))

	applied, err := m.Up(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{"0002_b.up.sql"}, applied)
}

func TestUpRollsBackFailedMigration(t *testing.T) {
	migrations := fstest.MapFS{
		"0001_a.up.sql": {Data: []byte("create table a (id int); broken;")},
	}
	m, mock := newMockManager(t, migrations, nil)

	expectTables(mock)
	mock.ExpectQuery("select name from schema_migrations").WillReturnRows(sqlmock.NewRows([]string{"name"}))
	mock.ExpectBegin()
	mock.ExpectExec("create table a").WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec("broken").WillReturnError(assert.AnError)
	mock.ExpectRollback()

	applied, err := m.Up(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "0001_a.up.sql")
	assert.Empty(t, applied)
}

func TestDownRevertsLatest(t *testing.T) {
	migrations := fstest.MapFS{
		"0001_a.up.sql":   {Data: []byte("create table a (id int);")},
		"0001_a.down.sql": {Data: []byte("drop table a;")},
	}
	m, mock := newMockManager(t, migrations, nil)

	expectTables(mock)
	mock.ExpectQuery("select name from schema_migrations order by applied_at").
		WillReturnRows(sqlmock.NewRows([]string{"name"}).AddRow("0001_a.up.sql"))
	mock.ExpectBegin()
	mock.ExpectExec("drop table a").WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectCommit()
	mock.ExpectExec("delete from schema_migrations where name").
		WithArgs("0001_a.up.sql").
		WillReturnResult(sqlmock.NewResult(0, 1))

	name, err := m.Down(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "0001_a.up.sql", name)
}

func TestDownWithNothingApplied(t *testing.T) {
	m, mock := newMockManager(t, fstest.MapFS{}, nil)
	expectTables(mock)
	mock.ExpectQuery("select name from schema_migrations").WillReturnRows(sqlmock.NewRows([]string{"name"}))

	_, err := m.Down(context.Background())
	assert.ErrorIs(t, err, ErrNothingApplied)
}

func TestSeedSkipsDownFiles(t *testing.T) {
	seeds := fstest.MapFS{
		"0001_catalog.sql":      {Data: []byte("insert into permissions values ('a;b');")},
		"0001_catalog.down.sql": {Data: []byte("delete from permissions;")},
	}
	m, mock := newMockManager(t, nil, seeds)

	expectTables(mock)
	mock.ExpectQuery("select name from schema_seeds").WillReturnRows(sqlmock.NewRows([]string{"name"}))
	mock.ExpectBegin()
	mock.ExpectExec("insert into permissions").WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()
	mock.ExpectExec("insert into schema_seeds").WithArgs("0001_catalog.sql", fixedNow).WillReturnResult(sqlmock.NewResult(1, 1))

	applied, err := m.Seed(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{"0001_catalog.sql"}, applied)
}

func TestSplitStatementsRespectsQuotes(t *testing.T) {
	stmts := splitStatements("insert into t values ('a;b'); select 1;\n")
	require.Len(t, stmts, 2)
	assert.Equal(t, "insert into t values ('a;b');", stmts[0])
	assert.Equal(t, " select 1;", stmts[1])
}

func TestEmbeddedFiles(t *testing.T) {
	ups, err := collectSQL(Migrations(), ".up.sql")
	require.NoError(t, err)
	assert.Equal(t, []string{"0001_rbac.up.sql", "0002_integrations.up.sql"}, ups)
	for _, up := range ups {
		_, err := fs.Stat(Migrations(), up[:len(up)-len(".up.sql")]+".down.sql")
		assert.NoError(t, err, "missing down migration for %s", up)
	}

	seeds, err := collectSQL(Seeds(), ".sql")
	require.NoError(t, err)
	assert.Equal(t, []string{"0001_platform_catalog.sql"}, seeds)
}
