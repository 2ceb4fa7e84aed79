package sqlgen

import (
	"fmt"

	"github.com/satishbabariya/schema-evolution/internal/introspect"
	"github.com/satishbabariya/schema-evolution/internal/signature"
)

// MySQLGenerator renders SQL for MySQL.
type MySQLGenerator struct {
	*base
}

// NewMySQLGenerator creates a new MySQL generator.
func NewMySQLGenerator() *MySQLGenerator {
	g := &MySQLGenerator{base: &base{
		provider:  introspect.MySQL,
		quoteChar: "`",
		maxName:   64,
		types: map[signature.FieldType]string{
			signature.FieldAuto:     "integer AUTO_INCREMENT",
			signature.FieldBigAuto:  "bigint AUTO_INCREMENT",
			signature.FieldText:     "longtext",
			signature.FieldInt:      "integer",
			signature.FieldBigInt:   "bigint",
			signature.FieldSmallInt: "smallint",
			signature.FieldFloat:    "double precision",
			signature.FieldBoolean:  "bool",
			signature.FieldDate:     "date",
			signature.FieldDateTime: "datetime(6)",
			signature.FieldTime:     "time(6)",
		},
		refTypes: map[signature.FieldType]string{
			signature.FieldAuto:    "integer",
			signature.FieldBigAuto: "bigint",
		},
		charType:       "varchar(%d)",
		charDefault:    "varchar(255)",
		decimalType:    "numeric(%d, %d)",
		decimalDefault: "numeric",
		trueLiteral:    "1",
		falseLiteral:   "0",
	}}
	g.gen = g
	return g
}

// CreateModels creates tables and adds foreign keys once every table exists.
func (g *MySQLGenerator) CreateModels(c Context, appLabel string, models []*signature.ModelSignature) []string {
	return g.createModels(c, appLabel, models, false)
}

// DropIndex renders MySQL's table-scoped DROP INDEX.
func (g *MySQLGenerator) DropIndex(table, name string) string {
	return fmt.Sprintf("DROP INDEX %s ON %s", g.Quote(name), g.Quote(table))
}

// DropUnique drops the index backing a unique constraint.
func (g *MySQLGenerator) DropUnique(table, name string) string {
	return fmt.Sprintf("ALTER TABLE %s DROP INDEX %s", g.Quote(table), g.Quote(name))
}

// DropConstraint removes a constraint. MySQL has no partial indexes, so
// conditional unique constraints were never created.
func (g *MySQLGenerator) DropConstraint(model *signature.ModelSignature, con *signature.ConstraintSignature) []string {
	if con.Type == signature.ConstraintCheck {
		return []string{fmt.Sprintf("ALTER TABLE %s DROP CHECK %s", g.Quote(model.TableName), g.Quote(con.Name))}
	}
	return g.base.DropConstraint(model, con)
}

// RenameTable renders RENAME TABLE.
func (g *MySQLGenerator) RenameTable(oldTable, newTable string) []string {
	return []string{fmt.Sprintf("RENAME TABLE %s TO %s", g.Quote(oldTable), g.Quote(newTable))}
}

func (g *MySQLGenerator) modifyColumn(c Context, model *signature.ModelSignature, field *signature.FieldSignature) string {
	return fmt.Sprintf("ALTER TABLE %s MODIFY COLUMN %s", g.Quote(model.TableName),
		g.columnDef(c.Project, model, field, colOpts{noConstraints: true}))
}

// AddColumn adds a column, filling existing rows with an UPDATE before the
// column is made non-null.
func (g *MySQLGenerator) AddColumn(c Context, model *signature.ModelSignature, field *signature.FieldSignature, initial *Initial) []string {
	table := g.Quote(model.TableName)
	col := g.Quote(field.Column())
	var sql []string
	if initial == nil {
		sql = append(sql, fmt.Sprintf("ALTER TABLE %s ADD COLUMN %s", table, g.columnDef(c.Project, model, field, colOpts{})))
	} else {
		sql = append(sql,
			fmt.Sprintf("ALTER TABLE %s ADD COLUMN %s", table, g.columnDef(c.Project, model, field, colOpts{forceNull: true})),
			fmt.Sprintf("UPDATE %s SET %s = %s WHERE %s IS NULL", table, col, g.initialSQL(initial), col))
		if !field.IsNull() {
			sql = append(sql, g.modifyColumn(c, model, field))
		}
	}
	if isForeignKey(field) {
		sql = append(sql, g.addForeignKey(c.Project, model.TableName, field))
	}
	return sql
}

// DropColumn drops a column, releasing its foreign key first.
func (g *MySQLGenerator) DropColumn(c Context, model *signature.ModelSignature, field *signature.FieldSignature) []string {
	var sql []string
	if isForeignKey(field) {
		sql = append(sql, fmt.Sprintf("ALTER TABLE %s DROP FOREIGN KEY %s",
			g.Quote(model.TableName), g.Quote(g.existingForeignKeyName(c, model.TableName, field))))
	}
	return append(sql, fmt.Sprintf("ALTER TABLE %s DROP COLUMN %s", g.Quote(model.TableName), g.Quote(field.Column())))
}

// RenameColumn renames a column with CHANGE COLUMN.
func (g *MySQLGenerator) RenameColumn(c Context, model *signature.ModelSignature, oldField, newField *signature.FieldSignature) []string {
	return []string{fmt.Sprintf("ALTER TABLE %s CHANGE COLUMN %s %s", g.Quote(model.TableName),
		g.Quote(oldField.Column()), g.columnDef(c.Project, model, newField, colOpts{noConstraints: true}))}
}

// ChangeColumn redefines a column when its type or nullability changed.
func (g *MySQLGenerator) ChangeColumn(c Context, model *signature.ModelSignature, oldField, newField *signature.FieldSignature, initial *Initial) []string {
	typeChanged := g.ColumnType(c.Project, oldField) != g.ColumnType(c.Project, newField)
	if !typeChanged && oldField.IsNull() == newField.IsNull() {
		return nil
	}
	var sql []string
	if nullTightened(oldField, newField) && initial != nil {
		col := g.Quote(newField.Column())
		sql = append(sql, fmt.Sprintf("UPDATE %s SET %s = %s WHERE %s IS NULL", g.Quote(model.TableName), col, g.initialSQL(initial), col))
	}
	return append(sql, g.modifyColumn(c, model, newField))
}

// SetUnique adds or drops the column's unique constraint.
func (g *MySQLGenerator) SetUnique(c Context, model *signature.ModelSignature, field *signature.FieldSignature, unique bool) []string {
	if unique {
		name := g.ConstraintName(model.TableName, field.Column())
		return []string{g.AddUnique(model.TableName, name, []string{field.Column()})}
	}
	return []string{g.DropUnique(model.TableName, g.existingUniqueName(c, model.TableName, field.Column()))}
}

// RepointForeignKey drops and re-adds a foreign key so it references the
// target's current primary key column.
func (g *MySQLGenerator) RepointForeignKey(c Context, model *signature.ModelSignature, field *signature.FieldSignature) []string {
	return []string{
		fmt.Sprintf("ALTER TABLE %s DROP FOREIGN KEY %s", g.Quote(model.TableName),
			g.Quote(g.existingForeignKeyName(c, model.TableName, field))),
		g.addForeignKey(c.Project, model.TableName, field),
	}
}
