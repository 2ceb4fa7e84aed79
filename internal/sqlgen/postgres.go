package sqlgen

import (
	"fmt"

	"github.com/satishbabariya/schema-evolution/internal/introspect"
	"github.com/satishbabariya/schema-evolution/internal/signature"
)

// PostgresGenerator renders SQL for PostgreSQL.
type PostgresGenerator struct {
	*base
}

// NewPostgresGenerator creates a new PostgreSQL generator.
func NewPostgresGenerator() *PostgresGenerator {
	g := &PostgresGenerator{base: &base{
		provider:  introspect.Postgres,
		quoteChar: `"`,
		maxName:   63,
		types: map[signature.FieldType]string{
			signature.FieldAuto:     "serial",
			signature.FieldBigAuto:  "bigserial",
			signature.FieldText:     "text",
			signature.FieldInt:      "integer",
			signature.FieldBigInt:   "bigint",
			signature.FieldSmallInt: "smallint",
			signature.FieldFloat:    "double precision",
			signature.FieldBoolean:  "boolean",
			signature.FieldDate:     "date",
			signature.FieldDateTime: "timestamp with time zone",
			signature.FieldTime:     "time",
		},
		refTypes: map[signature.FieldType]string{
			signature.FieldAuto:    "integer",
			signature.FieldBigAuto: "bigint",
		},
		charType:       "varchar(%d)",
		charDefault:    "varchar",
		decimalType:    "numeric(%d, %d)",
		decimalDefault: "numeric",
		deferrable:     "DEFERRABLE INITIALLY DEFERRED",
		tablespaces:    true,
		partialIndexes: true,
		trueLiteral:    "true",
		falseLiteral:   "false",
	}}
	g.gen = g
	return g
}

// CreateModels creates tables and adds foreign keys once every table exists.
func (g *PostgresGenerator) CreateModels(c Context, appLabel string, models []*signature.ModelSignature) []string {
	return g.createModels(c, appLabel, models, false)
}

// DropTable drops a table along with dependent constraints.
func (g *PostgresGenerator) DropTable(table string) []string {
	return []string{fmt.Sprintf("DROP TABLE %s CASCADE", g.Quote(table))}
}

// SetTablespace moves a table to another tablespace.
func (g *PostgresGenerator) SetTablespace(table, tablespace string) []string {
	if tablespace == "" {
		tablespace = "pg_default"
	}
	return []string{fmt.Sprintf("ALTER TABLE %s SET TABLESPACE %s", g.Quote(table), g.Quote(tablespace))}
}

// AddColumn adds a column. A literal initial is applied through a
// temporary default; an expression is applied with an UPDATE before the
// column is made non-null.
func (g *PostgresGenerator) AddColumn(c Context, model *signature.ModelSignature, field *signature.FieldSignature, initial *Initial) []string {
	table := g.Quote(model.TableName)
	col := g.Quote(field.Column())
	var sql []string
	switch {
	case initial == nil:
		sql = append(sql, fmt.Sprintf("ALTER TABLE %s ADD COLUMN %s", table, g.columnDef(c.Project, model, field, colOpts{})))
	case initial.Expr != "":
		sql = append(sql,
			fmt.Sprintf("ALTER TABLE %s ADD COLUMN %s", table, g.columnDef(c.Project, model, field, colOpts{forceNull: true})),
			fmt.Sprintf("UPDATE %s SET %s = %s WHERE %s IS NULL", table, col, initial.Expr, col))
		if !field.IsNull() {
			sql = append(sql, fmt.Sprintf("ALTER TABLE %s ALTER COLUMN %s SET NOT NULL", table, col))
		}
	default:
		sql = append(sql,
			fmt.Sprintf("ALTER TABLE %s ADD COLUMN %s DEFAULT %s", table, g.columnDef(c.Project, model, field, colOpts{}), g.initialSQL(initial)),
			fmt.Sprintf("ALTER TABLE %s ALTER COLUMN %s DROP DEFAULT", table, col))
	}
	if isForeignKey(field) {
		sql = append(sql, g.addForeignKey(c.Project, model.TableName, field))
	}
	return sql
}

// DropColumn drops a column and anything depending on it.
func (g *PostgresGenerator) DropColumn(c Context, model *signature.ModelSignature, field *signature.FieldSignature) []string {
	return []string{fmt.Sprintf("ALTER TABLE %s DROP COLUMN %s CASCADE", g.Quote(model.TableName), g.Quote(field.Column()))}
}

// RenameColumn renames a column in place.
func (g *PostgresGenerator) RenameColumn(c Context, model *signature.ModelSignature, oldField, newField *signature.FieldSignature) []string {
	return []string{fmt.Sprintf("ALTER TABLE %s RENAME COLUMN %s TO %s",
		g.Quote(model.TableName), g.Quote(oldField.Column()), g.Quote(newField.Column()))}
}

// ChangeColumn alters the type and nullability of a column.
func (g *PostgresGenerator) ChangeColumn(c Context, model *signature.ModelSignature, oldField, newField *signature.FieldSignature, initial *Initial) []string {
	table := g.Quote(model.TableName)
	col := g.Quote(newField.Column())
	var sql []string
	if newType := g.ColumnType(c.Project, newField); newType != g.ColumnType(c.Project, oldField) {
		sql = append(sql, fmt.Sprintf("ALTER TABLE %s ALTER COLUMN %s TYPE %s USING %s::%s", table, col, newType, col, newType))
	}
	if oldField.IsNull() != newField.IsNull() {
		if newField.IsNull() {
			sql = append(sql, fmt.Sprintf("ALTER TABLE %s ALTER COLUMN %s DROP NOT NULL", table, col))
		} else {
			if initial != nil {
				sql = append(sql, fmt.Sprintf("UPDATE %s SET %s = %s WHERE %s IS NULL", table, col, g.initialSQL(initial), col))
			}
			sql = append(sql, fmt.Sprintf("ALTER TABLE %s ALTER COLUMN %s SET NOT NULL", table, col))
		}
	}
	return sql
}

// SetUnique adds or drops the column's unique constraint.
func (g *PostgresGenerator) SetUnique(c Context, model *signature.ModelSignature, field *signature.FieldSignature, unique bool) []string {
	if unique {
		name := g.ConstraintName(model.TableName, field.Column())
		return []string{g.AddUnique(model.TableName, name, []string{field.Column()})}
	}
	return []string{g.DropUnique(model.TableName, g.existingUniqueName(c, model.TableName, field.Column()))}
}

// RepointForeignKey is a no-op: PostgreSQL constraints follow renamed
// columns.
func (g *PostgresGenerator) RepointForeignKey(c Context, model *signature.ModelSignature, field *signature.FieldSignature) []string {
	return nil
}
