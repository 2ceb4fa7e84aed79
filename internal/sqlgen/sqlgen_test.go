package sqlgen

import (
	"context"
	"database/sql"
	"strings"
	"testing"

	_ "github.com/mattn/go-sqlite3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/satishbabariya/schema-evolution/internal/dbstate"
	"github.com/satishbabariya/schema-evolution/internal/introspect"
	"github.com/satishbabariya/schema-evolution/internal/signature"
)

func testModel() *signature.ModelSignature {
	m := signature.NewModelSignature("TestModel", "tests_testmodel")
	m.PKColumn = "id"
	m.AddFieldSig(signature.NewFieldSignature("id", signature.FieldAuto, map[string]any{"primary_key": true}, ""))
	m.AddFieldSig(signature.NewFieldSignature("char_field", signature.FieldChar, map[string]any{"max_length": 20}, ""))
	m.AddFieldSig(signature.NewFieldSignature("int_field", signature.FieldInt, nil, ""))
	return m
}

func projectWith(appLabel string, models ...*signature.ModelSignature) *signature.ProjectSignature {
	app := signature.NewAppSignature(appLabel)
	for _, m := range models {
		app.AddModelSig(m)
	}
	p := signature.NewProjectSignature()
	p.AddAppSig(app)
	return p
}

func TestNew(t *testing.T) {
	for _, provider := range []introspect.Provider{introspect.SQLite, introspect.Postgres, introspect.MySQL} {
		g, err := New(provider)
		require.NoError(t, err)
		assert.Equal(t, provider, g.Provider())
	}

	_, err := New("oracle")
	assert.ErrorIs(t, err, introspect.ErrUnsupportedProvider)
}

func TestSQLiteAddColumnRebuild(t *testing.T) {
	g := NewSQLiteGenerator()
	model := testModel()
	field := signature.NewFieldSignature("added_field", signature.FieldInt, nil, "")
	model.AddFieldSig(field)

	stmts := g.AddColumn(Context{Project: projectWith("tests", model)}, model, field, &Initial{Value: 1})

	assert.Equal(t, []string{
		`CREATE TABLE "TEMP_TABLE" ("id" integer NOT NULL PRIMARY KEY AUTOINCREMENT, "char_field" varchar(20) NOT NULL, "int_field" integer NOT NULL, "added_field" integer NOT NULL)`,
		`INSERT INTO "TEMP_TABLE" ("id", "char_field", "int_field", "added_field") SELECT "id", "char_field", "int_field", 1 FROM "tests_testmodel"`,
		`DROP TABLE "tests_testmodel"`,
		`ALTER TABLE "TEMP_TABLE" RENAME TO "tests_testmodel"`,
		`PRAGMA foreign_key_check("tests_testmodel")`,
	}, stmts)
}

func TestSQLiteRebuildRunsAgainstDatabase(t *testing.T) {
	db, err := sql.Open("sqlite3", ":memory:")
	require.NoError(t, err)
	defer db.Close()
	db.SetMaxOpenConns(1)

	ctx := context.Background()
	g := NewSQLiteGenerator()
	model := testModel()
	project := projectWith("tests", model)

	for _, stmt := range g.CreateModels(Context{Project: project}, "tests", []*signature.ModelSignature{model}) {
		_, err := db.ExecContext(ctx, stmt)
		require.NoError(t, err, stmt)
	}
	_, err = db.ExecContext(ctx, `INSERT INTO "tests_testmodel" ("char_field", "int_field") VALUES ('a', 10), ('b', 20)`)
	require.NoError(t, err)

	after := model.Clone()
	field := signature.NewFieldSignature("added_field", signature.FieldInt, nil, "")
	after.AddFieldSig(field)
	for _, stmt := range g.AddColumn(Context{Project: projectWith("tests", after)}, after, field, &Initial{Value: 7}) {
		_, err := db.ExecContext(ctx, stmt)
		require.NoError(t, err, stmt)
	}

	var total int
	require.NoError(t, db.QueryRowContext(ctx, `SELECT SUM("added_field") FROM "tests_testmodel"`).Scan(&total))
	assert.Equal(t, 14, total)

	renamed := after.Clone()
	require.NoError(t, renamed.RenameFieldSig("int_field", "amount"))
	for _, stmt := range g.RenameColumn(Context{Project: projectWith("tests", renamed)}, renamed,
		after.FieldSig("int_field"), renamed.FieldSig("amount")) {
		_, err := db.ExecContext(ctx, stmt)
		require.NoError(t, err, stmt)
	}
	require.NoError(t, db.QueryRowContext(ctx, `SELECT SUM("amount") FROM "tests_testmodel"`).Scan(&total))
	assert.Equal(t, 30, total)
}

func TestSQLiteRestoresTrackedIndexes(t *testing.T) {
	g := NewSQLiteGenerator()
	model := testModel()
	state := dbstate.New("default")
	state.AddTable(model.TableName)
	require.NoError(t, state.AddIndex(model.TableName, "tm_int", []string{"int_field"}, false))
	require.NoError(t, state.AddIndex(model.TableName, "tm_char", []string{"char_field"}, false))
	require.NoError(t, state.AddIndex(model.TableName, "sqlite_autoindex_tests_testmodel_1", []string{"char_field"}, true))

	after := model.Clone()
	dropped := after.FieldSig("char_field")
	require.NoError(t, after.RemoveFieldSig("char_field"))

	stmts := g.DropColumn(Context{Project: projectWith("tests", after), State: state}, after, dropped)
	require.Len(t, stmts, 6)
	assert.Equal(t, `CREATE INDEX "tm_int" ON "tests_testmodel" ("int_field")`, stmts[5])
}

func TestPostgresAddColumn(t *testing.T) {
	g := NewPostgresGenerator()
	model := testModel()
	field := signature.NewFieldSignature("added_field", signature.FieldInt, nil, "")
	model.AddFieldSig(field)
	c := Context{Project: projectWith("tests", model)}

	assert.Equal(t, []string{
		`ALTER TABLE "tests_testmodel" ADD COLUMN "added_field" integer NOT NULL DEFAULT 1`,
		`ALTER TABLE "tests_testmodel" ALTER COLUMN "added_field" DROP DEFAULT`,
	}, g.AddColumn(c, model, field, &Initial{Value: 1}))

	assert.Equal(t, []string{
		`ALTER TABLE "tests_testmodel" ADD COLUMN "added_field" integer NULL`,
		`UPDATE "tests_testmodel" SET "added_field" = "int_field" * 2 WHERE "added_field" IS NULL`,
		`ALTER TABLE "tests_testmodel" ALTER COLUMN "added_field" SET NOT NULL`,
	}, g.AddColumn(c, model, field, &Initial{Expr: `"int_field" * 2`}))
}

func TestPostgresChangeColumn(t *testing.T) {
	g := NewPostgresGenerator()
	model := testModel()
	old := model.FieldSig("char_field")
	changed := old.Clone()
	changed.SetAttr("max_length", 50)
	changed.SetAttr("null", true)

	assert.Equal(t, []string{
		`ALTER TABLE "tests_testmodel" ALTER COLUMN "char_field" TYPE varchar(50) USING "char_field"::varchar(50)`,
		`ALTER TABLE "tests_testmodel" ALTER COLUMN "char_field" DROP NOT NULL`,
	}, g.ChangeColumn(Context{}, model, old, changed, nil))

	tightened := changed.Clone()
	tightened.SetAttr("null", false)
	assert.Equal(t, []string{
		`UPDATE "tests_testmodel" SET "char_field" = 'x' WHERE "char_field" IS NULL`,
		`ALTER TABLE "tests_testmodel" ALTER COLUMN "char_field" SET NOT NULL`,
	}, g.ChangeColumn(Context{}, model, changed, tightened, &Initial{Func: func() any { return "x" }}))
}

func TestCreateModelsWithRelations(t *testing.T) {
	author := signature.NewModelSignature("Author", "books_author")
	author.PKColumn = "id"
	author.AddFieldSig(signature.NewFieldSignature("id", signature.FieldAuto, map[string]any{"primary_key": true}, ""))

	book := signature.NewModelSignature("Book", "books_book")
	book.PKColumn = "id"
	book.AddFieldSig(signature.NewFieldSignature("id", signature.FieldAuto, map[string]any{"primary_key": true}, ""))
	book.AddFieldSig(signature.NewFieldSignature("author", signature.FieldForeignKey, nil, "books.Author"))
	book.AddFieldSig(signature.NewFieldSignature("fans", signature.FieldManyToMany, nil, "books.Author"))

	project := projectWith("books", author, book)
	models := []*signature.ModelSignature{author, book}

	sqlite := NewSQLiteGenerator().CreateModels(Context{Project: project}, "books", models)
	assert.Contains(t, sqlite, `CREATE TABLE "books_book" ("id" integer NOT NULL PRIMARY KEY AUTOINCREMENT, "author_id" integer NOT NULL REFERENCES "books_author" ("id") DEFERRABLE INITIALLY DEFERRED)`)
	assert.Contains(t, sqlite, `CREATE TABLE "books_book_fans" ("id" integer NOT NULL PRIMARY KEY AUTOINCREMENT, "book_id" integer NOT NULL REFERENCES "books_book" ("id") DEFERRABLE INITIALLY DEFERRED, "author_id" integer NOT NULL REFERENCES "books_author" ("id") DEFERRABLE INITIALLY DEFERRED)`)

	pg := NewPostgresGenerator().CreateModels(Context{Project: project}, "books", models)
	assert.Equal(t, `CREATE TABLE "books_author" ("id" serial NOT NULL PRIMARY KEY)`, pg[0])
	assert.Equal(t, `CREATE TABLE "books_book" ("id" serial NOT NULL PRIMARY KEY, "author_id" integer NOT NULL)`, pg[1])
	assert.True(t, strings.HasPrefix(pg[2], `ALTER TABLE "books_book" ADD CONSTRAINT "books_book_author_id_`), pg[2])
	assert.True(t, strings.HasSuffix(pg[2], `FOREIGN KEY ("author_id") REFERENCES "books_author" ("id") DEFERRABLE INITIALLY DEFERRED`), pg[2])

	mysql := NewMySQLGenerator().CreateModels(Context{Project: project}, "books", models)
	assert.Equal(t, "CREATE TABLE `books_author` (`id` integer AUTO_INCREMENT NOT NULL PRIMARY KEY)", mysql[0])

	through := ThroughModels("books", book)
	require.Len(t, through, 1)
	assert.Equal(t, "books_book_fans", through[0].TableName)
	assert.Equal(t, "books_book", through[0].OwnerTable)
}

func TestIndexNaming(t *testing.T) {
	g := NewPostgresGenerator()

	assert.Equal(t, "books_book_title_be31d1ef", g.IndexName("books_book", []string{"title"}, ""))
	assert.Equal(t, "books_book_title_author_id_9cf77801_uniq", g.IndexName("books_book", []string{"title", "author_id"}, "_uniq"))
	assert.Equal(t, "books_book_title_be31d1ef", g.IndexName("books_book", []string{"-title"}, ""))

	long := g.IndexName(strings.Repeat("t", 80), []string{"c"}, "_uniq")
	assert.Len(t, long, 40)
	assert.True(t, strings.HasPrefix(long, strings.Repeat("t", 24)+"_c_"))
	assert.True(t, strings.HasSuffix(long, "_uniq"))

	assert.Equal(t, "books_book_title_key", g.ConstraintName("books_book", "title"))
	assert.Equal(t, strings.Repeat("a", 59)+"aeae", g.ConstraintName(strings.Repeat("a", 70), "col"))
}

func TestModelIndexes(t *testing.T) {
	g := NewSQLiteGenerator()
	m := signature.NewModelSignature("Book", "books_book")
	m.PKColumn = "id"
	m.AddFieldSig(signature.NewFieldSignature("id", signature.FieldAuto, map[string]any{"primary_key": true}, ""))
	m.AddFieldSig(signature.NewFieldSignature("title", signature.FieldChar, map[string]any{"max_length": 10, "db_index": true}, ""))
	m.AddFieldSig(signature.NewFieldSignature("code", signature.FieldChar, map[string]any{"max_length": 10, "unique": true}, ""))
	m.AddFieldSig(signature.NewFieldSignature("author", signature.FieldForeignKey, nil, "books.Author"))
	m.UniqueTogether = signature.Together{{"title", "author"}}
	m.Indexes = []*signature.IndexSignature{signature.NewIndexSignature("by_code", []string{"-code"}, false)}

	indexes := g.ModelIndexes(m)
	require.Len(t, indexes, 4)
	assert.Equal(t, []string{"title"}, indexes[0].Columns)
	assert.Equal(t, []string{"author_id"}, indexes[1].Columns)
	assert.Equal(t, []string{"title", "author_id"}, indexes[2].Columns)
	assert.True(t, indexes[2].Unique)
	assert.Equal(t, "by_code", indexes[3].Name)
	assert.Equal(t, []string{"code"}, indexes[3].PlainColumns())
	assert.Equal(t, `CREATE INDEX "by_code" ON "books_book" ("code" DESC)`, g.CreateIndex(m.TableName, indexes[3]))

	uniques := g.InlineUniques(m)
	require.Len(t, uniques, 1)
	assert.Equal(t, "books_book_code_key", uniques[0].Name)
}

func constrainedModel() *signature.ModelSignature {
	m := testModel()
	m.Constraints = []*signature.ConstraintSignature{
		signature.NewCheckConstraint("tm_positive", `"int_field" >= 0`),
		signature.NewUniqueConstraint("tm_pair_uniq", []string{"char_field", "int_field"}, ""),
		signature.NewUniqueConstraint("tm_char_live", []string{"char_field"}, `"int_field" > 0`),
	}
	return m
}

func TestCreateModelsWithConstraints(t *testing.T) {
	model := constrainedModel()
	c := Context{Project: projectWith("tests", model)}

	stmts := NewSQLiteGenerator().CreateModels(c, "tests", []*signature.ModelSignature{model})
	assert.Equal(t, []string{
		`CREATE TABLE "tests_testmodel" ("id" integer NOT NULL PRIMARY KEY AUTOINCREMENT, "char_field" varchar(20) NOT NULL, "int_field" integer NOT NULL, ` +
			`CONSTRAINT "tm_positive" CHECK ("int_field" >= 0), CONSTRAINT "tm_pair_uniq" UNIQUE ("char_field", "int_field"))`,
		`CREATE UNIQUE INDEX "tm_char_live" ON "tests_testmodel" ("char_field") WHERE "int_field" > 0`,
	}, stmts)

	// MySQL cannot express the conditional constraint.
	stmts = NewMySQLGenerator().CreateModels(c, "tests", []*signature.ModelSignature{model})
	require.Len(t, stmts, 1)
	assert.Contains(t, stmts[0], "CONSTRAINT `tm_positive` CHECK (\"int_field\" >= 0)")
	assert.Contains(t, stmts[0], "CONSTRAINT `tm_pair_uniq` UNIQUE (`char_field`, `int_field`)")
}

func TestChangeConstraints(t *testing.T) {
	before := constrainedModel()
	after := constrainedModel()
	after.Constraints[0] = signature.NewCheckConstraint("tm_positive", `"int_field" > 0`)
	removed := []*signature.ConstraintSignature{before.Constraints[0], before.Constraints[1], before.Constraints[2]}
	added := []*signature.ConstraintSignature{after.Constraints[0]}
	c := Context{Project: projectWith("tests", after)}

	assert.Equal(t, []string{
		`ALTER TABLE "tests_testmodel" DROP CONSTRAINT "tm_positive"`,
		`ALTER TABLE "tests_testmodel" DROP CONSTRAINT "tm_pair_uniq"`,
		`DROP INDEX "tm_char_live"`,
		`ALTER TABLE "tests_testmodel" ADD CONSTRAINT "tm_positive" CHECK ("int_field" > 0)`,
	}, NewPostgresGenerator().ChangeConstraints(c, after, removed, added))

	assert.Equal(t, []string{
		"ALTER TABLE `tests_testmodel` DROP CHECK `tm_positive`",
		"ALTER TABLE `tests_testmodel` DROP INDEX `tm_pair_uniq`",
		"ALTER TABLE `tests_testmodel` ADD CONSTRAINT `tm_positive` CHECK (\"int_field\" > 0)",
	}, NewMySQLGenerator().ChangeConstraints(c, after, removed, added))

	pg := NewPostgresGenerator()
	assert.Equal(t, []string{
		`ALTER TABLE "tests_testmodel" ADD CONSTRAINT "tm_pair_uniq" UNIQUE ("char_field", "int_field")`,
		`CREATE UNIQUE INDEX "tm_char_live" ON "tests_testmodel" ("char_field") WHERE "int_field" > 0`,
	}, pg.ChangeConstraints(c, after, nil, after.Constraints[1:]))
}

func TestSQLiteChangeConstraints(t *testing.T) {
	g := NewSQLiteGenerator()
	model := constrainedModel()
	c := Context{Project: projectWith("tests", model)}

	// A partial unique constraint is only an index.
	partial := model.Constraints[2]
	assert.Equal(t, []string{`DROP INDEX "tm_char_live"`}, g.ChangeConstraints(c, model, []*signature.ConstraintSignature{partial}, nil))
	assert.Equal(t, []string{
		`CREATE UNIQUE INDEX "tm_char_live" ON "tests_testmodel" ("char_field") WHERE "int_field" > 0`,
	}, g.ChangeConstraints(c, model, nil, []*signature.ConstraintSignature{partial}))

	stmts := g.ChangeConstraints(c, model, nil, model.Constraints[:1])
	require.Len(t, stmts, 6)
	assert.Contains(t, stmts[0], `CREATE TABLE "TEMP_TABLE"`)
	assert.Contains(t, stmts[0], `CONSTRAINT "tm_positive" CHECK ("int_field" >= 0)`)
	assert.Equal(t, `CREATE UNIQUE INDEX "tm_char_live" ON "tests_testmodel" ("char_field") WHERE "int_field" > 0`, stmts[5])
}

func TestSQLiteCheckConstraintRunsAgainstDatabase(t *testing.T) {
	db, err := sql.Open("sqlite3", ":memory:")
	require.NoError(t, err)
	defer db.Close()
	db.SetMaxOpenConns(1)

	ctx := context.Background()
	g := NewSQLiteGenerator()
	model := testModel()
	for _, stmt := range g.CreateModels(Context{Project: projectWith("tests", model)}, "tests", []*signature.ModelSignature{model}) {
		_, err := db.ExecContext(ctx, stmt)
		require.NoError(t, err, stmt)
	}
	_, err = db.ExecContext(ctx, `INSERT INTO "tests_testmodel" ("char_field", "int_field") VALUES ('a', 1)`)
	require.NoError(t, err)

	after := model.Clone()
	after.Constraints = []*signature.ConstraintSignature{signature.NewCheckConstraint("tm_positive", `"int_field" >= 0`)}
	for _, stmt := range g.ChangeConstraints(Context{Project: projectWith("tests", after)}, after, nil, after.Constraints) {
		_, err := db.ExecContext(ctx, stmt)
		require.NoError(t, err, stmt)
	}

	_, err = db.ExecContext(ctx, `INSERT INTO "tests_testmodel" ("char_field", "int_field") VALUES ('b', -1)`)
	assert.Error(t, err)
	var count int
	require.NoError(t, db.QueryRowContext(ctx, `SELECT COUNT(*) FROM "tests_testmodel"`).Scan(&count))
	assert.Equal(t, 1, count)
}

func TestDialectDifferences(t *testing.T) {
	pg := NewPostgresGenerator()
	my := NewMySQLGenerator()
	lite := NewSQLiteGenerator()

	assert.Equal(t, `DROP INDEX "ix"`, pg.DropIndex("t", "ix"))
	assert.Equal(t, "DROP INDEX `ix` ON `t`", my.DropIndex("t", "ix"))
	assert.Equal(t, `ALTER TABLE "t" DROP CONSTRAINT "u"`, pg.DropUnique("t", "u"))
	assert.Equal(t, "ALTER TABLE `t` DROP INDEX `u`", my.DropUnique("t", "u"))
	assert.Equal(t, `CREATE UNIQUE INDEX "u" ON "t" ("a", "b")`, lite.AddUnique("t", "u", []string{"a", "b"}))

	assert.Equal(t, []string{`DROP TABLE "t" CASCADE`}, pg.DropTable("t"))
	assert.Equal(t, []string{"RENAME TABLE `a` TO `b`"}, my.RenameTable("a", "b"))
	assert.Equal(t, []string{`ALTER TABLE "t" SET TABLESPACE "fast"`}, pg.SetTablespace("t", "fast"))
	assert.Nil(t, lite.SetTablespace("t", "fast"))

	assert.Equal(t, "true", pg.Literal(true))
	assert.Equal(t, "1", lite.Literal(true))
	assert.Equal(t, "'it''s'", pg.Literal("it's"))
	assert.Equal(t, "NULL", pg.Literal(nil))
	assert.Equal(t, "1.5", pg.Literal(1.5))
}

func TestStatement(t *testing.T) {
	assert.Equal(t, "DROP TABLE x;", Statement("DROP TABLE x"))
	assert.Equal(t, "DROP TABLE x;", Statement(" DROP TABLE x; "))
}
