package introspect

import (
	"context"
	"database/sql"
	"testing"

	_ "github.com/mattn/go-sqlite3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseProvider(t *testing.T) {
	tests := []struct {
		in   string
		want Provider
	}{
		{"sqlite3", SQLite},
		{"SQLite", SQLite},
		{"postgresql", Postgres},
		{"postgres", Postgres},
		{"mysql", MySQL},
	}
	for _, tt := range tests {
		got, err := ParseProvider(tt.in)
		require.NoError(t, err)
		assert.Equal(t, tt.want, got)
	}

	_, err := ParseProvider("mongodb")
	assert.ErrorIs(t, err, ErrUnsupportedProvider)
}

func TestSplitList(t *testing.T) {
	assert.Equal(t, []string{"a", "b"}, splitList("{a,b}"))
	assert.Equal(t, []string{"a", "b c"}, splitList(`{a,"b c"}`))
	assert.Nil(t, splitList("{}"))
}

func TestSQLiteTables(t *testing.T) {
	db, err := sql.Open("sqlite3", ":memory:")
	require.NoError(t, err)
	defer db.Close()
	db.SetMaxOpenConns(1)

	ctx := context.Background()
	for _, stmt := range []string{
		`CREATE TABLE "author" ("id" integer NOT NULL PRIMARY KEY, "name" varchar(50) NOT NULL UNIQUE)`,
		`CREATE TABLE "book" ("id" integer NOT NULL PRIMARY KEY, "title" varchar(100) NOT NULL, "author_id" integer NOT NULL REFERENCES "author" ("id"))`,
		`CREATE INDEX "book_title_idx" ON "book" ("title", "author_id")`,
	} {
		_, err := db.ExecContext(ctx, stmt)
		require.NoError(t, err)
	}

	in, err := NewIntrospector(db, SQLite)
	require.NoError(t, err)

	tables, err := Scan(ctx, in)
	require.NoError(t, err)
	require.Len(t, tables, 2)

	assert.Equal(t, "author", tables[0].Name)
	require.Len(t, tables[0].Indexes, 1)
	assert.True(t, tables[0].Indexes[0].IsUnique)
	assert.Equal(t, []string{"name"}, tables[0].Indexes[0].Columns)

	book := tables[1]
	require.Len(t, book.Indexes, 1)
	assert.Equal(t, Index{Name: "book_title_idx", Columns: []string{"title", "author_id"}}, book.Indexes[0])
	require.Len(t, book.ForeignKeys, 1)
	assert.Equal(t, "author", book.ForeignKeys[0].ReferencedTable)
	assert.Equal(t, []string{"author_id"}, book.ForeignKeys[0].Columns)
	assert.Equal(t, []string{"id"}, book.ForeignKeys[0].ReferencedColumns)
}

func TestScanClosedDatabase(t *testing.T) {
	db, err := sql.Open("sqlite3", ":memory:")
	require.NoError(t, err)
	in, err := NewIntrospector(db, SQLite)
	require.NoError(t, err)
	require.NoError(t, db.Close())

	_, err = Scan(context.Background(), in)
	require.ErrorIs(t, err, ErrSchemaUnreadable)
	assert.ErrorContains(t, err, "database is closed")
}
