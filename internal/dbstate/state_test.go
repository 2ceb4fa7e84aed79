package dbstate

import (
	"context"
	"database/sql"
	"testing"

	_ "github.com/mattn/go-sqlite3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/satishbabariya/schema-evolution/internal/introspect"
	"github.com/satishbabariya/schema-evolution/internal/signature"
)

func TestAddIndex(t *testing.T) {
	s := New("default")

	err := s.AddIndex("books", "books_title", []string{"title"}, false)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrDatabaseState)
	assert.EqualError(t, err, `Unable to add index "books_title" to table "books". The table is not being tracked in the database state.`)

	s.AddTable("books")
	require.NoError(t, s.AddIndex("books", "books_title", []string{"title"}, false))

	err = s.AddIndex("books", "books_title", []string{"title"}, true)
	assert.EqualError(t, err, `Unable to add index "books_title" to table "books". This index already exists.`)

	idx, ok := s.GetIndex("books", "books_title")
	require.True(t, ok)
	assert.Equal(t, IndexState{Name: "books_title", Columns: []string{"title"}}, idx)
}

func TestRemoveIndex(t *testing.T) {
	s := New("default")

	err := s.RemoveIndex("books", "books_title", false)
	assert.EqualError(t, err, `Unable to remove index "books_title" from table "books". The table is not being tracked in the database state.`)

	s.AddTable("books")
	err = s.RemoveIndex("books", "books_title", false)
	assert.EqualError(t, err, `Unable to remove index "books_title" from table "books". The index could not be found.`)

	require.NoError(t, s.AddIndex("books", "books_title", []string{"title"}, true))
	err = s.RemoveIndex("books", "books_title", false)
	assert.EqualError(t, err, `Unable to remove index "books_title" from table "books". The specified index type (unique=false) does not match the existing type (unique=true).`)

	require.NoError(t, s.RemoveIndex("books", "books_title", true))
	_, ok := s.GetIndex("books", "books_title")
	assert.False(t, ok)
}

func TestFindIndex(t *testing.T) {
	s := New("default")
	s.AddTable("books")
	require.NoError(t, s.AddIndex("books", "a", []string{"title", "author_id"}, false))
	require.NoError(t, s.AddIndex("books", "b", []string{"title", "author_id"}, true))
	require.NoError(t, s.AddIndex("books", "c", []string{"title", "author_id"}, true))

	idx, ok := s.FindIndex("books", []string{"title", "author_id"}, true)
	require.True(t, ok)
	assert.Equal(t, "b", idx.Name)

	_, ok = s.FindIndex("books", []string{"author_id", "title"}, true)
	assert.False(t, ok)
	_, ok = s.FindIndex("missing", []string{"title"}, false)
	assert.False(t, ok)
}

func TestClearIndexesAndClone(t *testing.T) {
	s := New("default")
	s.AddTable("books")
	require.NoError(t, s.AddIndex("books", "a", []string{"title"}, false))

	c := s.Clone()
	s.ClearIndexes("books")
	s.ClearIndexes("unknown")

	assert.Empty(t, s.Indexes("books"))
	assert.Len(t, c.Indexes("books"), 1)
	assert.True(t, s.HasTable("books"))
}

func TestHasModel(t *testing.T) {
	s := New("default")
	s.AddTable("books_book")

	assert.True(t, s.HasModel(signature.NewModelSignature("Book", "books_book")))
	assert.False(t, s.HasModel(signature.NewModelSignature("Author", "books_author")))

	through := signature.NewModelSignature("Book_tags", "books_book_tags")
	through.OwnerTable = "books_book"
	assert.True(t, s.HasModel(through))
	through.OwnerTable = "books_shelf"
	assert.False(t, s.HasModel(through))

	s.RenameTable("books_book", "library_book")
	assert.False(t, s.HasTable("books_book"))
	assert.True(t, s.HasTable("library_book"))
}

type fakeIntrospector struct {
	tables []introspect.Table
	err    error
}

func (f fakeIntrospector) Tables(context.Context) ([]introspect.Table, error) {
	return f.tables, f.err
}

func TestRescan(t *testing.T) {
	s := New("default")
	s.AddTable("books")
	require.NoError(t, s.AddIndex("books", "stale", []string{"x"}, false))

	err := s.Rescan(context.Background(), fakeIntrospector{tables: []introspect.Table{
		{
			Name:    "books",
			Indexes: []introspect.Index{{Name: "books_title", Columns: []string{"title"}}},
			ForeignKeys: []introspect.ForeignKey{{
				Name: "books_author_fk", Columns: []string{"author_id"},
				ReferencedTable: "authors", ReferencedColumns: []string{"id"},
			}},
		},
		{Name: "authors"},
	}})
	require.NoError(t, err)

	assert.Equal(t, []string{"authors", "books"}, s.TableNames())
	assert.Equal(t, []IndexState{{Name: "books_title", Columns: []string{"title"}}}, s.Indexes("books"))

	fk, ok := s.FindForeignKey("books", "author_id")
	require.True(t, ok)
	assert.Equal(t, "books_author_fk", fk.Name)
}

func TestRescanFailure(t *testing.T) {
	s := New("default")
	s.AddTable("books")

	err := s.Rescan(context.Background(), fakeIntrospector{err: sql.ErrConnDone})
	require.ErrorIs(t, err, introspect.ErrSchemaUnreadable)
	assert.ErrorIs(t, err, sql.ErrConnDone)
	assert.Equal(t, []string{"books"}, s.TableNames())
}

func TestRescanSQLite(t *testing.T) {
	db, err := sql.Open("sqlite3", ":memory:")
	require.NoError(t, err)
	defer db.Close()
	db.SetMaxOpenConns(1)

	ctx := context.Background()
	_, err = db.ExecContext(ctx, `CREATE TABLE "books" ("id" integer NOT NULL PRIMARY KEY, "title" varchar(20) NOT NULL)`)
	require.NoError(t, err)
	_, err = db.ExecContext(ctx, `CREATE UNIQUE INDEX "books_title_uniq" ON "books" ("title")`)
	require.NoError(t, err)

	in, err := introspect.NewIntrospector(db, introspect.SQLite)
	require.NoError(t, err)

	s := New("default")
	require.NoError(t, s.Rescan(ctx, in))

	idx, ok := s.FindIndex("books", []string{"title"}, true)
	require.True(t, ok)
	assert.Equal(t, "books_title_uniq", idx.Name)
}

func TestColumnBookkeeping(t *testing.T) {
	s := New("default")
	s.AddTable("books")
	require.NoError(t, s.AddIndex("books", "books_title", []string{"title"}, false))
	require.NoError(t, s.AddIndex("books", "books_title_author", []string{"title", "author_id"}, true))
	s.AddForeignKey("books", ForeignKeyState{Name: "fk_author", Column: "author_id", ReferencedTable: "authors", ReferencedColumn: "id"})

	s.RenameColumn("books", "title", "name")
	idx, ok := s.GetIndex("books", "books_title_author")
	require.True(t, ok)
	assert.Equal(t, []string{"name", "author_id"}, idx.Columns)

	s.AddForeignKey("books", ForeignKeyState{Name: "fk_author_2", Column: "author_id", ReferencedTable: "authors", ReferencedColumn: "code"})
	fk, ok := s.FindForeignKey("books", "author_id")
	require.True(t, ok)
	assert.Equal(t, "fk_author_2", fk.Name)

	s.DropColumn("books", "author_id")
	_, ok = s.GetIndex("books", "books_title_author")
	assert.False(t, ok)
	_, ok = s.GetIndex("books", "books_title")
	assert.True(t, ok)
	_, ok = s.FindForeignKey("books", "author_id")
	assert.False(t, ok)

	// Untracked tables are ignored.
	s.RenameColumn("missing", "a", "b")
	s.DropColumn("missing", "a")
	s.AddForeignKey("missing", ForeignKeyState{Column: "a"})
	assert.False(t, s.HasTable("missing"))
}
