package registry

import (
	"testing"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/satishbabariya/schema-evolution/internal/signature"
)

const modelsYAML = `
apps:
  - label: library
    models:
      - name: Author
        fields:
          - name: name
            type: char
            max_length: 100
      - name: Book
        table: books
        unique_together:
          - [title, author]
        indexes:
          - name: book_title_desc
            fields: ["-title"]
        constraints:
          - name: book_title_set
            type: check
            check: "title <> ''"
          - name: book_live_title
            type: unique
            fields: [title]
            condition: published IS NOT NULL
        fields:
          - name: code
            type: char
            max_length: 12
            primary_key: true
          - name: title
            type: char
            max_length: 200
            default: untitled
          - name: author
            type: foreign-key
            related_model: Author
          - name: published
            type: date
            null: true
            unknown_attr: 3
          - name: created
            type: datetime
            default_sql: CURRENT_TIMESTAMP
  - label: shelf
    upgrade_method: migrations
    applied_migrations: [0001_initial]
    models:
      - name: Shelf
        fields:
          - name: books
            type: many-to-many
            related_model: library.Book
`

func TestLoadModelsFile(t *testing.T) {
	fs := afero.NewMemMapFs()
	require.NoError(t, afero.WriteFile(fs, "models.yaml", []byte(modelsYAML), 0o644))

	reg, err := Load(fs, "models.yaml")
	require.NoError(t, err)
	assert.Equal(t, []string{"library", "shelf"}, reg.AppLabels())

	project, err := reg.ProjectSignature()
	require.NoError(t, err)

	library := project.AppSig("library")
	require.NotNil(t, library)
	assert.Equal(t, signature.UpgradeEvolutions, library.UpgradeMethod)
	assert.Equal(t, []string{"Author", "Book"}, library.ModelNames())

	author := library.ModelSig("Author")
	assert.Equal(t, "library_author", author.TableName)
	assert.Equal(t, "id", author.PKColumn)
	assert.Equal(t, []string{"id", "name"}, author.FieldNames())
	assert.True(t, author.FieldSig("id").IsPrimaryKey())

	book := library.ModelSig("Book")
	assert.Equal(t, "books", book.TableName)
	assert.Equal(t, "code", book.PKColumn)
	assert.Equal(t, []string{"code", "title", "author", "published", "created"}, book.FieldNames())
	assert.Equal(t, signature.Together{{"title", "author"}}, book.UniqueTogether)
	assert.True(t, book.UniqueTogetherApplied)
	require.Len(t, book.Indexes, 1)
	assert.Equal(t, []string{"title"}, book.Indexes[0].FieldNames())
	assert.Equal(t, []*signature.ConstraintSignature{
		signature.NewCheckConstraint("book_title_set", "title <> ''"),
		signature.NewUniqueConstraint("book_live_title", []string{"title"}, "published IS NOT NULL"),
	}, book.Constraints)

	fk := book.FieldSig("author")
	assert.Equal(t, "library.Author", fk.RelatedModel)
	assert.Equal(t, "author_id", fk.Column())
	maxLength, ok := book.FieldSig("title").IntAttr("max_length")
	require.True(t, ok)
	assert.EqualValues(t, 200, maxLength)
	assert.True(t, book.FieldSig("published").IsNull())
	assert.False(t, book.FieldSig("published").HasAttr("unknown_attr"))

	shelf := project.AppSig("shelf")
	assert.Equal(t, signature.UpgradeMigrations, shelf.UpgradeMethod)
	assert.Equal(t, []string{"0001_initial"}, shelf.AppliedMigrations())

	assert.Equal(t, []string{"library"}, reg.AppsForTable("books"))
	assert.Equal(t, []string{"shelf"}, reg.AppsForTable("shelf_shelf"))
	assert.Empty(t, reg.AppsForTable("nope"))
}

func TestInitialValue(t *testing.T) {
	reg, err := Parse([]byte(modelsYAML))
	require.NoError(t, err)

	initial, ok := reg.InitialValue("library", "Book", "title")
	require.True(t, ok)
	assert.Equal(t, "untitled", initial.Value)

	initial, ok = reg.InitialValue("library", "Book", "created")
	require.True(t, ok)
	assert.Equal(t, "CURRENT_TIMESTAMP", initial.Expr)

	_, ok = reg.InitialValue("library", "Book", "published")
	assert.False(t, ok)
	_, ok = reg.InitialValue("missing", "Book", "title")
	assert.False(t, ok)
}

func TestInvalidModelsFile(t *testing.T) {
	tests := []struct {
		name string
		yaml string
		want string
	}{
		{"missing label", "apps:\n  - models: []\n", "app #1 has no label"},
		{"duplicate app", "apps:\n  - label: a\n  - label: a\n", `app "a" is declared twice`},
		{"bad upgrade method", "apps:\n  - label: a\n    upgrade_method: magic\n", `app "a": unknown upgrade_method "magic"`},
		{"duplicate model", "apps:\n  - label: a\n    models:\n      - name: M\n      - name: M\n", `app "a": model "M" is declared twice`},
		{"bad field type", "apps:\n  - label: a\n    models:\n      - name: M\n        fields:\n          - name: f\n            type: blob\n", `field a.M.f: unknown field type "blob"`},
		{"bad constraint type", "apps:\n  - label: a\n    models:\n      - name: M\n        constraints:\n          - name: c\n            type: exclusion\n", `model a.M: constraint "c": unknown constraint type "exclusion"`},
		{"check without expression", "apps:\n  - label: a\n    models:\n      - name: M\n        constraints:\n          - name: c\n            type: check\n", `model a.M: constraint "c": check is required`},
		{"relation without target", "apps:\n  - label: a\n    models:\n      - name: M\n        fields:\n          - name: f\n            type: foreign-key\n", "field a.M.f: related_model is required"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse([]byte(tt.yaml))
			assert.EqualError(t, err, tt.want)
		})
	}

	_, err := Load(afero.NewMemMapFs(), "missing.yaml")
	assert.ErrorContains(t, err, "failed to read models file")
}

func TestAppSignatureUnknownApp(t *testing.T) {
	reg, err := Parse([]byte(modelsYAML))
	require.NoError(t, err)
	_, err = reg.AppSignature("nope")
	assert.ErrorIs(t, err, signature.ErrMissingSignature)
}
