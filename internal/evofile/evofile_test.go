package evofile

import (
	"testing"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/satishbabariya/schema-evolution/internal/graph"
	"github.com/satishbabariya/schema-evolution/internal/mutations"
	"github.com/satishbabariya/schema-evolution/internal/signature"
	"github.com/satishbabariya/schema-evolution/internal/sqlgen"
)

const sampleEvolution = `
# Adds page counts and tidies up books.
after_evolutions = ["library.0001_initial", "shelf"]
after_migrations = ["accounts.0002_profile"]

AddField("Book", "pages", int, initial=0)
AddField("Book", "isbn", char, initial=<<USER VALUE REQUIRED>>, max_length=13, unique=true)
AddField("Book", "created", datetime, initial=sql("CURRENT_TIMESTAMP"))
AddField("Book", "tags", many-to-many, related_model="library.Tag")
DeleteField("Book", "legacy")
RenameField("Book", "title", "name", db_column="title")
ChangeField("Book", "summary", null=false, initial="", max_length=200)
ChangeMeta("Book", "unique_together", [["name", "author"]])
ChangeMeta("Book", "indexes", [Index(name="book_name_desc", fields=["-name"]), Index(fields=["pages"], unique=true)])
ChangeMeta("Book", "db_tablespace", "fast")
AddModel("Tag", db_table="library_tag", fields=[Field("id", auto, primary_key=true), Field("label", char, max_length=50)])
DeleteModel("Old")
RenameModel("Writer", "Author", db_table="library_author")
SQLMutation("cleanup", ["DELETE FROM library_book WHERE pages < 0"])
`

func TestParseEvolution(t *testing.T) {
	ev, err := ParseString("0002_pages.evo", sampleEvolution)
	require.NoError(t, err)

	assert.Equal(t, graph.Dependencies{
		AfterEvolutions: []graph.EvolutionTarget{{AppLabel: "library", Label: "0001_initial"}, {AppLabel: "shelf"}},
		AfterMigrations: []graph.MigrationTarget{{AppLabel: "accounts", Name: "0002_profile"}},
	}, ev.Dependencies)
	require.Len(t, ev.Mutations, 14)

	assert.Equal(t, &mutations.AddField{
		ModelName: "Book", FieldName: "pages", FieldType: signature.FieldInt,
		Initial: &sqlgen.Initial{Value: int64(0)},
	}, ev.Mutations[0])

	isbn := ev.Mutations[1].(*mutations.AddField)
	assert.True(t, mutations.NeedsUserValue(isbn.Initial))
	assert.Equal(t, map[string]any{"max_length": int64(13), "unique": true}, isbn.Attrs)
	assert.True(t, mutations.NeedsUserInput(ev.Mutations))

	created := ev.Mutations[2].(*mutations.AddField)
	assert.Equal(t, "CURRENT_TIMESTAMP", created.Initial.Expr)

	tags := ev.Mutations[3].(*mutations.AddField)
	assert.Equal(t, signature.FieldManyToMany, tags.FieldType)
	assert.Equal(t, "library.Tag", tags.RelatedModel)

	assert.Equal(t, &mutations.RenameField{ModelName: "Book", OldFieldName: "title", NewFieldName: "name", DBColumn: "title"}, ev.Mutations[5])

	change := ev.Mutations[6].(*mutations.ChangeField)
	assert.Equal(t, map[string]any{"null": false, "max_length": int64(200)}, change.Attrs)
	assert.Equal(t, "", change.Initial.Value)

	unique := ev.Mutations[7].(*mutations.ChangeMeta)
	assert.Equal(t, signature.Together{{"name", "author"}}, unique.NewValue)

	indexes := ev.Mutations[8].(*mutations.ChangeMeta).NewValue.([]*signature.IndexSignature)
	require.Len(t, indexes, 2)
	assert.Equal(t, "book_name_desc", indexes[0].Name)
	assert.Equal(t, []string{"-name"}, indexes[0].Fields)
	assert.True(t, indexes[1].Unique)

	assert.Equal(t, "fast", ev.Mutations[9].(*mutations.ChangeMeta).NewValue)

	tag := ev.Mutations[10].(*mutations.AddModel).Model
	assert.Equal(t, "library_tag", tag.TableName)
	assert.Equal(t, "id", tag.PKColumn)
	assert.Equal(t, []string{"id", "label"}, tag.FieldNames())

	sqlMut := ev.Mutations[13].(*mutations.SQLMutation)
	assert.Equal(t, "cleanup", sqlMut.Tag)
	assert.Equal(t, []string{"DELETE FROM library_book WHERE pages < 0"}, sqlMut.SQL)
	assert.Nil(t, sqlMut.Update)
}

func TestFormatParsesBack(t *testing.T) {
	ev, err := ParseString("in.evo", sampleEvolution)
	require.NoError(t, err)

	text, err := Format(ev.Dependencies, ev.Mutations)
	require.NoError(t, err)
	assert.Contains(t, text, `AddField("Book", "isbn", char, initial=<<USER VALUE REQUIRED>>, max_length=13, unique=true)`)
	assert.Contains(t, text, `AddField("Book", "created", datetime, initial=sql("CURRENT_TIMESTAMP"))`)

	again, err := ParseString("out.evo", text)
	require.NoError(t, err)
	assert.Equal(t, ev.Dependencies, again.Dependencies)
	require.Len(t, again.Mutations, len(ev.Mutations))
	for i := range ev.Mutations {
		if add, ok := ev.Mutations[i].(*mutations.AddModel); ok {
			assert.True(t, add.Model.Equal(again.Mutations[i].(*mutations.AddModel).Model))
			continue
		}
		assert.Equal(t, ev.Mutations[i], again.Mutations[i], "mutation %d", i)
	}
}

func TestConstraints(t *testing.T) {
	const text = `
ChangeMeta("Book", "constraints", [CheckConstraint(name="book_pages_positive", check="pages >= 0"), UniqueConstraint(name="book_live_isbn", fields=["isbn"], condition="pages > 0")])
AddModel("Shelf", db_table="library_shelf", constraints=[UniqueConstraint(name="shelf_label_uniq", fields=["label", "room"])], fields=[Field("id", auto, primary_key=true), Field("label", char, max_length=50), Field("room", int)])
`
	ev, err := ParseString("0003_constraints.evo", text)
	require.NoError(t, err)
	require.Len(t, ev.Mutations, 2)

	constraints := ev.Mutations[0].(*mutations.ChangeMeta).NewValue.([]*signature.ConstraintSignature)
	assert.Equal(t, []*signature.ConstraintSignature{
		signature.NewCheckConstraint("book_pages_positive", "pages >= 0"),
		signature.NewUniqueConstraint("book_live_isbn", []string{"isbn"}, "pages > 0"),
	}, constraints)
	shelf := ev.Mutations[1].(*mutations.AddModel).Model
	require.Len(t, shelf.Constraints, 1)
	assert.Equal(t, []string{"label", "room"}, shelf.Constraints[0].Fields)

	formatted, err := Format(ev.Dependencies, ev.Mutations)
	require.NoError(t, err)
	assert.Contains(t, formatted, `CheckConstraint(name="book_pages_positive", check="pages >= 0")`)
	again, err := ParseString("out.evo", formatted)
	require.NoError(t, err)
	assert.Equal(t, ev.Mutations[0], again.Mutations[0])
	assert.True(t, shelf.Equal(again.Mutations[1].(*mutations.AddModel).Model))
}

func TestFormatRejectsUnwritableMutations(t *testing.T) {
	_, err := Format(graph.Dependencies{}, []mutations.Mutation{&mutations.SQLMutation{
		Tag:    "custom",
		Update: func(string, *signature.ProjectSignature) error { return nil },
	}})
	assert.ErrorContains(t, err, `SQL mutation "custom"`)
}

func TestParseErrors(t *testing.T) {
	tests := []struct {
		name string
		text string
		want string
	}{
		{"unknown mutation", `Frobnicate("x")`, `unknown mutation "Frobnicate"`},
		{"unknown directive", `run_first = ["x"]`, `unknown directive "run_first"`},
		{"bad migration ref", `after_migrations = ["nodot"]`, `must be of the form app.name`},
		{"missing argument", `DeleteField("Book")`, `DeleteField: missing argument "field_name"`},
		{"unexpected argument", `DeleteModel("Book", cascade=true)`, `DeleteModel: unexpected argument "cascade"`},
		{"bad field type", `AddField("Book", "x", blob, null=true)`, `unknown field type "blob"`},
		{"placeholder outside initial", `AddField("Book", "x", int, max_length=<<USER VALUE REQUIRED>>)`, `only allowed as an initial value`},
		{"positional after keyword", `RenameModel(old_model_name="A", "B")`, `positional argument follows keyword argument`},
		{"unsupported meta", `ChangeMeta("Book", "ordering", ["x"])`, `unsupported property "ordering"`},
		{"unknown constraint", `ChangeMeta("Book", "constraints", [ExclusionConstraint(name="x")])`, `got ExclusionConstraint(...)`},
		{"unique without fields", `ChangeMeta("Book", "constraints", [UniqueConstraint(name="x")])`, `UniqueConstraint "x": fields must not be empty`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseString("bad.evo", tt.text)
			require.Error(t, err)
			assert.ErrorContains(t, err, tt.want)
		})
	}

	_, err := ParseString("syntax.evo", `AddField("Book"`)
	assert.ErrorContains(t, err, "failed to parse syntax.evo")
}

func TestStore(t *testing.T) {
	fs := afero.NewMemMapFs()
	store := NewStore(fs, "evolutions")

	seq, err := store.Sequence("library")
	require.NoError(t, err)
	assert.Empty(t, seq.Evolutions)

	first := []mutations.Mutation{&mutations.DeleteField{ModelName: "Book", FieldName: "legacy"}}
	require.NoError(t, store.Write("library", "0001_drop_legacy", graph.Dependencies{}, first))
	deps := graph.Dependencies{AfterMigrations: []graph.MigrationTarget{{AppLabel: "accounts", Name: "0001_initial"}}}
	second := []mutations.Mutation{&mutations.DeleteModel{ModelName: "Old"}}
	require.NoError(t, store.Write("library", "0002_drop_old", deps, second))

	err = store.Write("library", "0002_drop_old", graph.Dependencies{}, second)
	assert.ErrorContains(t, err, "already exists")
	assert.ErrorContains(t, store.Write("library", "../escape", graph.Dependencies{}, second), "invalid evolution label")

	seq, err = store.Sequence("library")
	require.NoError(t, err)
	assert.Equal(t, []string{"0001_drop_legacy", "0002_drop_old"}, seq.Evolutions)

	pending, err := store.Pending("library", []string{"0001_drop_legacy"})
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.Equal(t, "0002_drop_old", pending[0].Label)
	assert.Equal(t, "library", pending[0].AppLabel)
	assert.Equal(t, deps, pending[0].Dependencies)
	assert.Equal(t, second, pending[0].Mutations)

	all, err := store.LoadAll("library")
	require.NoError(t, err)
	assert.Len(t, all, 2)
}

func TestSequenceDependencies(t *testing.T) {
	fs := afero.NewMemMapFs()
	require.NoError(t, afero.WriteFile(fs, "evolutions/shelf/sequence.yaml", []byte(`
sequence:
  - 0001_initial
after_evolutions: [library]
before_migrations: [accounts.0003_cleanup]
`), 0o644))
	store := NewStore(fs, "evolutions")

	seq, err := store.Sequence("shelf")
	require.NoError(t, err)
	deps, err := seq.Dependencies()
	require.NoError(t, err)
	assert.Equal(t, graph.Dependencies{
		AfterEvolutions:  []graph.EvolutionTarget{{AppLabel: "library"}},
		BeforeMigrations: []graph.MigrationTarget{{AppLabel: "accounts", Name: "0003_cleanup"}},
	}, deps)

	require.NoError(t, afero.WriteFile(fs, "evolutions/bad/sequence.yaml", []byte("sequence: [\"../x\"]\n"), 0o644))
	_, err = store.Sequence("bad")
	assert.ErrorContains(t, err, `invalid label "../x"`)
}
