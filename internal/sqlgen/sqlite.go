package sqlgen

import (
	"fmt"
	"strings"

	"github.com/satishbabariya/schema-evolution/internal/introspect"
	"github.com/satishbabariya/schema-evolution/internal/signature"
)

// TempTableName is the table a SQLite rebuild copies rows into.
const TempTableName = "TEMP_TABLE"

// SQLiteGenerator renders SQL for SQLite. Column changes are performed by
// rebuilding the table.
type SQLiteGenerator struct {
	*base
}

// NewSQLiteGenerator creates a new SQLite generator.
func NewSQLiteGenerator() *SQLiteGenerator {
	g := &SQLiteGenerator{base: &base{
		provider:  introspect.SQLite,
		quoteChar: `"`,
		types: map[signature.FieldType]string{
			signature.FieldAuto:     "integer",
			signature.FieldBigAuto:  "integer",
			signature.FieldText:     "text",
			signature.FieldInt:      "integer",
			signature.FieldBigInt:   "bigint",
			signature.FieldSmallInt: "smallint",
			signature.FieldFloat:    "real",
			signature.FieldBoolean:  "bool",
			signature.FieldDate:     "date",
			signature.FieldDateTime: "datetime",
			signature.FieldTime:     "time",
		},
		refTypes: map[signature.FieldType]string{
			signature.FieldAuto:    "integer",
			signature.FieldBigAuto: "bigint",
		},
		charType:       "varchar(%d)",
		charDefault:    "varchar",
		decimalType:    "decimal(%d, %d)",
		decimalDefault: "decimal",
		autoSuffix:     "AUTOINCREMENT",
		partialIndexes: true,
		deferrable:     "DEFERRABLE INITIALLY DEFERRED",
		trueLiteral:    "1",
		falseLiteral:   "0",
	}}
	g.gen = g
	return g
}

// CreateModels creates tables with inline foreign keys.
func (g *SQLiteGenerator) CreateModels(c Context, appLabel string, models []*signature.ModelSignature) []string {
	return g.createModels(c, appLabel, models, true)
}

// AddUnique creates a unique index.
func (g *SQLiteGenerator) AddUnique(table, name string, columns []string) string {
	return g.CreateIndex(table, IndexDef{Name: name, Columns: columns, Unique: true})
}

// DropUnique drops a unique index.
func (g *SQLiteGenerator) DropUnique(table, name string) string {
	return g.DropIndex(table, name)
}

// AddColumn rebuilds the table with the new column filled from initial.
func (g *SQLiteGenerator) AddColumn(c Context, model *signature.ModelSignature, field *signature.FieldSignature, initial *Initial) []string {
	values := copyValues(g.base, model, field.Column())
	if initial != nil {
		values[field.Column()] = g.initialSQL(initial)
	}
	return g.rebuild(c, model, values, nil)
}

// DropColumn rebuilds the table without the column.
func (g *SQLiteGenerator) DropColumn(c Context, model *signature.ModelSignature, field *signature.FieldSignature) []string {
	return g.rebuild(c, model, copyValues(g.base, model), nil)
}

// RenameColumn rebuilds the table, copying the old column into the new one.
func (g *SQLiteGenerator) RenameColumn(c Context, model *signature.ModelSignature, oldField, newField *signature.FieldSignature) []string {
	values := copyValues(g.base, model, newField.Column())
	values[newField.Column()] = g.Quote(oldField.Column())
	renames := map[string]string{oldField.Column(): newField.Column()}
	return g.rebuild(c, model, values, renames)
}

// ChangeColumn rebuilds the table when the column type or nullability
// changed.
func (g *SQLiteGenerator) ChangeColumn(c Context, model *signature.ModelSignature, oldField, newField *signature.FieldSignature, initial *Initial) []string {
	typeChanged := g.ColumnType(c.Project, oldField) != g.ColumnType(c.Project, newField)
	if !typeChanged && oldField.IsNull() == newField.IsNull() {
		return nil
	}
	values := copyValues(g.base, model)
	if nullTightened(oldField, newField) && initial != nil {
		col := g.Quote(newField.Column())
		values[newField.Column()] = fmt.Sprintf("coalesce(%s, %s)", col, g.initialSQL(initial))
	}
	return g.rebuild(c, model, values, nil)
}

// SetUnique rebuilds the table so the inline UNIQUE clause matches the
// model.
func (g *SQLiteGenerator) SetUnique(c Context, model *signature.ModelSignature, field *signature.FieldSignature, unique bool) []string {
	return g.rebuild(c, model, copyValues(g.base, model), nil)
}

// RepointForeignKey rebuilds the table so its REFERENCES clauses point at
// the current target columns.
func (g *SQLiteGenerator) RepointForeignKey(c Context, model *signature.ModelSignature, field *signature.FieldSignature) []string {
	return g.rebuild(c, model, copyValues(g.base, model), nil)
}

// ChangeConstraints rebuilds the table when a check or full unique
// constraint changes, since SQLite cannot alter table constraints. Partial
// unique constraints are plain indexes.
func (g *SQLiteGenerator) ChangeConstraints(c Context, model *signature.ModelSignature, removed, added []*signature.ConstraintSignature) []string {
	var out []string
	rebuild := false
	for _, con := range removed {
		if con.Partial() {
			out = append(out, g.DropIndex(model.TableName, con.Name))
		} else {
			rebuild = true
		}
	}
	for _, con := range added {
		rebuild = rebuild || !con.Partial()
	}
	if rebuild {
		return append(out, g.rebuild(c, model, copyValues(g.base, model), nil)...)
	}
	for _, con := range added {
		out = append(out, g.partialUnique(model, con)...)
	}
	return out
}

// copyValues maps every column of model to itself, except skipped ones.
func copyValues(b *base, model *signature.ModelSignature, skip ...string) map[string]string {
	values := make(map[string]string)
	for _, f := range model.FieldSigs() {
		if !f.FieldType.HasColumn() || containsString(skip, f.Column()) {
			continue
		}
		values[f.Column()] = b.Quote(f.Column())
	}
	return values
}

// rebuild recreates a table in the shape of model. values maps each new
// column to the expression selected from the old table; columns missing
// from values are left NULL. renames maps old column names to new ones for
// restoring indexes.
func (g *SQLiteGenerator) rebuild(c Context, model *signature.ModelSignature, values map[string]string, renames map[string]string) []string {
	table := model.TableName
	var cols, exprs []string
	for _, f := range model.FieldSigs() {
		if !f.FieldType.HasColumn() {
			continue
		}
		if expr, ok := values[f.Column()]; ok {
			cols = append(cols, g.Quote(f.Column()))
			exprs = append(exprs, expr)
		}
	}

	sql := []string{
		g.createTable(c.Project, model, TempTableName, true),
		fmt.Sprintf("INSERT INTO %s (%s) SELECT %s FROM %s",
			g.Quote(TempTableName), strings.Join(cols, ", "), strings.Join(exprs, ", "), g.Quote(table)),
		fmt.Sprintf("DROP TABLE %s", g.Quote(table)),
		fmt.Sprintf("ALTER TABLE %s RENAME TO %s", g.Quote(TempTableName), g.Quote(table)),
		fmt.Sprintf("PRAGMA foreign_key_check(%s)", g.Quote(table)),
	}
	sql = append(sql, g.restoreIndexes(c, model, renames)...)
	return append(sql, g.partialUniques(model)...)
}

// restoreIndexes recreates the tracked indexes that a rebuild dropped.
// Indexes SQLite creates for inline constraints come back with the table,
// and column unique constraints follow the model rather than the state.
func (g *SQLiteGenerator) restoreIndexes(c Context, model *signature.ModelSignature, renames map[string]string) []string {
	if c.State == nil {
		return nil
	}
	columns := make(map[string]bool)
	for _, f := range model.FieldSigs() {
		if f.FieldType.HasColumn() {
			columns[f.Column()] = true
		}
	}
	inline := make(map[string]bool)
	for _, idx := range g.InlineUniques(model) {
		inline[idx.Columns[0]] = true
	}

	var out []string
	for _, idx := range c.State.Indexes(model.TableName) {
		if strings.HasPrefix(idx.Name, "sqlite_autoindex_") {
			continue
		}
		cols := make([]string, len(idx.Columns))
		keep := true
		for i, col := range idx.Columns {
			if renamed, ok := renames[col]; ok {
				col = renamed
			}
			if !columns[col] {
				keep = false
			}
			cols[i] = col
		}
		if !keep || (idx.Unique && len(cols) == 1 && (inline[cols[0]] || idx.Name == g.ConstraintName(model.TableName, cols[0]))) {
			continue
		}
		if model.Constraint(idx.Name) != nil {
			continue
		}
		out = append(out, g.CreateIndex(model.TableName, IndexDef{Name: idx.Name, Columns: cols, Unique: idx.Unique}))
	}
	return out
}

func containsString(items []string, s string) bool {
	for _, item := range items {
		if item == s {
			return true
		}
	}
	return false
}
