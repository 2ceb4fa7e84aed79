// Package sqlgen renders schema changes into dialect-specific SQL.
package sqlgen

import (
	"fmt"
	"strings"

	"github.com/satishbabariya/schema-evolution/internal/dbstate"
	"github.com/satishbabariya/schema-evolution/internal/introspect"
	"github.com/satishbabariya/schema-evolution/internal/signature"
)

// Context carries the project signature SQL is rendered against and the
// tracked database state used to look up existing index and constraint
// names. State may be nil.
type Context struct {
	Project *signature.ProjectSignature
	State   *dbstate.DatabaseState
}

// IndexDef describes an index to create. Columns prefixed with "-" are
// descending.
type IndexDef struct {
	Name    string
	Columns []string
	Unique  bool
}

// PlainColumns returns the columns without ordering prefixes.
func (d IndexDef) PlainColumns() []string {
	out := make([]string, len(d.Columns))
	for i, col := range d.Columns {
		out[i] = strings.TrimPrefix(col, "-")
	}
	return out
}

// Initial is the value used to fill existing rows when a column is added
// or made non-null. Expr takes precedence over Func, and Func over Value.
type Initial struct {
	// Value is a literal constant.
	Value any
	// Expr is a raw SQL expression, such as a reference to another column.
	Expr string
	// Func computes a literal constant. It is evaluated once.
	Func func() any
}

// Generator renders schema operations for one database engine.
type Generator interface {
	Provider() introspect.Provider
	Quote(name string) string
	Literal(v any) string
	MaxNameLength() int
	ColumnType(project *signature.ProjectSignature, field *signature.FieldSignature) string

	IndexName(table string, columns []string, suffix string) string
	ConstraintName(table, column string) string
	ForeignKeyName(table, column, refTable, refColumn string) string
	ModelIndexes(model *signature.ModelSignature) []IndexDef
	InlineUniques(model *signature.ModelSignature) []IndexDef
	FieldIndex(model *signature.ModelSignature, field *signature.FieldSignature) IndexDef
	UniqueTogetherIndex(model *signature.ModelSignature, fieldNames []string) IndexDef
	IndexTogetherIndex(model *signature.ModelSignature, fieldNames []string) IndexDef
	ExplicitIndex(model *signature.ModelSignature, idx *signature.IndexSignature) IndexDef

	CreateModels(c Context, appLabel string, models []*signature.ModelSignature) []string
	CreateThroughTable(c Context, appLabel string, model *signature.ModelSignature, field *signature.FieldSignature) []string
	DropTable(table string) []string
	RenameTable(oldTable, newTable string) []string
	SetTablespace(table, tablespace string) []string

	AddColumn(c Context, model *signature.ModelSignature, field *signature.FieldSignature, initial *Initial) []string
	DropColumn(c Context, model *signature.ModelSignature, field *signature.FieldSignature) []string
	RenameColumn(c Context, model *signature.ModelSignature, oldField, newField *signature.FieldSignature) []string
	ChangeColumn(c Context, model *signature.ModelSignature, oldField, newField *signature.FieldSignature, initial *Initial) []string
	SetUnique(c Context, model *signature.ModelSignature, field *signature.FieldSignature, unique bool) []string
	RepointForeignKey(c Context, model *signature.ModelSignature, field *signature.FieldSignature) []string

	CreateIndex(table string, idx IndexDef) string
	DropIndex(table, name string) string
	AddUnique(table, name string, columns []string) string
	DropUnique(table, name string) string

	AddConstraint(model *signature.ModelSignature, con *signature.ConstraintSignature) []string
	DropConstraint(model *signature.ModelSignature, con *signature.ConstraintSignature) []string
	ChangeConstraints(c Context, model *signature.ModelSignature, removed, added []*signature.ConstraintSignature) []string
}

// New returns the generator for a provider.
func New(provider introspect.Provider) (Generator, error) {
	switch provider {
	case introspect.SQLite:
		return NewSQLiteGenerator(), nil
	case introspect.Postgres:
		return NewPostgresGenerator(), nil
	case introspect.MySQL:
		return NewMySQLGenerator(), nil
	default:
		return nil, fmt.Errorf("%w: %s", introspect.ErrUnsupportedProvider, provider)
	}
}

// Statement terminates a statement for display in a script.
func Statement(sql string) string {
	sql = strings.TrimSpace(sql)
	if strings.HasSuffix(sql, ";") {
		return sql
	}
	return sql + ";"
}
