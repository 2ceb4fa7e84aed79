package migrations

import (
	"context"
	"database/sql"
	"testing"

	_ "github.com/mattn/go-sqlite3"
	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/satishbabariya/schema-evolution/internal/executor"
	"github.com/satishbabariya/schema-evolution/internal/graph"
	"github.com/satishbabariya/schema-evolution/internal/introspect"
)

func target(app, name string) graph.MigrationTarget {
	return graph.MigrationTarget{AppLabel: app, Name: name}
}

func writeMigrations(t *testing.T) afero.Fs {
	t.Helper()
	fs := afero.NewMemMapFs()
	files := map[string]string{
		"migrations/accounts/0001_initial.sql": `
CREATE TABLE accounts_user (id INTEGER PRIMARY KEY, name TEXT);
`,
		"migrations/accounts/0002_email.sql": `
-- depends-on: library.0001_initial
ALTER TABLE accounts_user ADD COLUMN email TEXT DEFAULT 'a;b';
INSERT INTO library_shelf (id) VALUES (1);
`,
		"migrations/library/0001_initial.sql": `
-- Shelves hold books.
CREATE TABLE library_shelf (id INTEGER PRIMARY KEY);
`,
		"migrations/library/README.md": "not a migration",
	}
	for path, body := range files {
		require.NoError(t, afero.WriteFile(fs, path, []byte(body), 0o644))
	}
	return fs
}

func TestLoadAndPlan(t *testing.T) {
	set, err := Load(writeMigrations(t), "migrations")
	require.NoError(t, err)

	assert.Equal(t, []string{"accounts", "library"}, set.AppLabels())
	assert.Equal(t, []string{"0001_initial", "0002_email"}, set.Names("accounts"))

	m, ok := set.Get(target("accounts", "0002_email"))
	require.True(t, ok)
	assert.Equal(t, []graph.MigrationTarget{target("library", "0001_initial")}, m.Dependencies)
	assert.Len(t, m.Statements, 2)
	assert.Len(t, m.Checksum, 64)

	plan, parents, err := set.Plan("accounts")
	require.NoError(t, err)
	assert.Equal(t, []graph.MigrationTarget{
		target("accounts", "0001_initial"),
		target("library", "0001_initial"),
		target("accounts", "0002_email"),
	}, plan)
	assert.ElementsMatch(t, []graph.MigrationTarget{
		target("accounts", "0001_initial"),
		target("library", "0001_initial"),
	}, parents[target("accounts", "0002_email")])

	plan, _, err = set.Plan("library")
	require.NoError(t, err)
	assert.Equal(t, []graph.MigrationTarget{target("library", "0001_initial")}, plan)
}

func TestLoadMissingDirectory(t *testing.T) {
	set, err := Load(afero.NewMemMapFs(), "nowhere")
	require.NoError(t, err)
	assert.Empty(t, set.AppLabels())
}

func TestPlanWithUnknownDependency(t *testing.T) {
	m, err := Parse(target("accounts", "0001_initial"), "-- depends-on: billing.0001_initial\nSELECT 1;")
	require.NoError(t, err)
	set, err := NewSet(m)
	require.NoError(t, err)

	_, _, err = set.Plan()
	var notFound *graph.NodeNotFoundError
	assert.ErrorAs(t, err, &notFound)
}

func TestParseRejectsBadDependency(t *testing.T) {
	_, err := Parse(target("accounts", "0001_initial"), "-- depends-on: nodot\n")
	assert.ErrorContains(t, err, "must be of the form app.name")
}

func TestSplitStatements(t *testing.T) {
	script := `
-- leading comment; not a statement
CREATE TABLE t (a TEXT DEFAULT 'x;y');
INSERT INTO t VALUES ("q;q") ;
-- trailing comment
`
	assert.Equal(t, []string{
		"CREATE TABLE t (a TEXT DEFAULT 'x;y')",
		`INSERT INTO t VALUES ("q;q")`,
	}, SplitStatements(script))
}

func TestApplyRecordsMigrations(t *testing.T) {
	ctx := context.Background()
	db, err := sql.Open("sqlite3", ":memory:")
	require.NoError(t, err)
	db.SetMaxOpenConns(1)
	defer db.Close()

	set, err := Load(writeMigrations(t), "migrations")
	require.NoError(t, err)
	plan, _, err := set.Plan()
	require.NoError(t, err)

	rec := NewRecorder(db, introspect.SQLite)
	require.NoError(t, rec.EnsureTable(ctx))

	exec := executor.New(db, introspect.SQLite)
	err = exec.Run(ctx, executor.RunOptions{CheckConstraints: true}, func(s *executor.Session) error {
		return Apply(s, set, rec, plan)
	})
	require.NoError(t, err)

	applied, err := rec.AppliedByApp(ctx)
	require.NoError(t, err)
	assert.Equal(t, map[string][]string{
		"accounts": {"0001_initial", "0002_email"},
		"library":  {"0001_initial"},
	}, applied)

	var email string
	require.NoError(t, db.QueryRow("SELECT dflt_value FROM pragma_table_info('accounts_user') WHERE name = 'email'").Scan(&email))
	assert.Equal(t, "'a;b'", email)
}

func TestApplyCollectsWithoutRecording(t *testing.T) {
	set, err := Load(writeMigrations(t), "migrations")
	require.NoError(t, err)

	exec := executor.New(nil, introspect.SQLite, executor.WithCollect())
	err = exec.Run(context.Background(), executor.RunOptions{}, func(s *executor.Session) error {
		return Apply(s, set, nil, []graph.MigrationTarget{target("library", "0001_initial")})
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"CREATE TABLE library_shelf (id INTEGER PRIMARY KEY);"}, exec.Collected())
}
