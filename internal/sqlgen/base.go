package sqlgen

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/satishbabariya/schema-evolution/internal/introspect"
	"github.com/satishbabariya/schema-evolution/internal/signature"
)

// base holds the SQL shared by every engine. Engine generators embed it
// and override the operations they render differently. gen points back at
// the outermost generator so shared code dispatches to those overrides.
type base struct {
	gen Generator

	provider  introspect.Provider
	quoteChar string
	maxName   int

	types    map[signature.FieldType]string
	refTypes map[signature.FieldType]string

	charType       string
	charDefault    string
	decimalType    string
	decimalDefault string

	autoSuffix     string
	deferrable     string
	tablespaces    bool
	partialIndexes bool

	trueLiteral  string
	falseLiteral string
}

// colOpts tunes a rendered column definition.
type colOpts struct {
	inlineFK      bool
	forceNull     bool
	noConstraints bool
}

func (b *base) Provider() introspect.Provider { return b.provider }

func (b *base) MaxNameLength() int { return b.maxName }

// Quote quotes an identifier.
func (b *base) Quote(name string) string {
	return b.quoteChar + strings.ReplaceAll(name, b.quoteChar, b.quoteChar+b.quoteChar) + b.quoteChar
}

// Literal renders a Go value as an SQL literal.
func (b *base) Literal(v any) string {
	switch x := v.(type) {
	case nil:
		return "NULL"
	case bool:
		if x {
			return b.trueLiteral
		}
		return b.falseLiteral
	case string:
		return quoteString(x)
	case int:
		return strconv.Itoa(x)
	case int32:
		return strconv.FormatInt(int64(x), 10)
	case int64:
		return strconv.FormatInt(x, 10)
	case uint:
		return strconv.FormatUint(uint64(x), 10)
	case uint64:
		return strconv.FormatUint(x, 10)
	case float32:
		return strconv.FormatFloat(float64(x), 'f', -1, 32)
	case float64:
		return strconv.FormatFloat(x, 'f', -1, 64)
	case json.Number:
		return x.String()
	case time.Time:
		return quoteString(x.UTC().Format("2006-01-02 15:04:05"))
	case fmt.Stringer:
		return quoteString(x.String())
	default:
		return quoteString(fmt.Sprint(x))
	}
}

func quoteString(s string) string {
	return "'" + strings.ReplaceAll(s, "'", "''") + "'"
}

func (b *base) initialSQL(initial *Initial) string {
	switch {
	case initial == nil:
		return "NULL"
	case initial.Expr != "":
		return initial.Expr
	case initial.Func != nil:
		return b.Literal(initial.Func())
	default:
		return b.Literal(initial.Value)
	}
}

// ColumnType returns the column type of a field. Fields without a column
// return "".
func (b *base) ColumnType(project *signature.ProjectSignature, field *signature.FieldSignature) string {
	return b.columnType(project, field, false)
}

func (b *base) columnType(project *signature.ProjectSignature, field *signature.FieldSignature, referenced bool) string {
	switch field.FieldType {
	case signature.FieldManyToMany, signature.FieldGeneric:
		return ""
	case signature.FieldChar:
		if n, ok := field.IntAttr("max_length"); ok {
			return fmt.Sprintf(b.charType, n)
		}
		return b.charDefault
	case signature.FieldDecimal:
		digits, ok1 := field.IntAttr("max_digits")
		places, ok2 := field.IntAttr("decimal_places")
		if ok1 && ok2 {
			return fmt.Sprintf(b.decimalType, digits, places)
		}
		return b.decimalDefault
	case signature.FieldForeignKey, signature.FieldOneToOne:
		if target := referencedField(project, field); target != nil && !target.FieldType.IsRelation() {
			return b.columnType(project, target, true)
		}
		return b.refTypes[signature.FieldAuto]
	}
	if referenced {
		if t, ok := b.refTypes[field.FieldType]; ok {
			return t
		}
	}
	return b.types[field.FieldType]
}

// referencedModel resolves the model a relation field points at.
func referencedModel(project *signature.ProjectSignature, field *signature.FieldSignature) *signature.ModelSignature {
	if project == nil || field.RelatedModel == "" {
		return nil
	}
	return project.ModelSigByRef(field.RelatedModel)
}

func referencedField(project *signature.ProjectSignature, field *signature.FieldSignature) *signature.FieldSignature {
	if target := referencedModel(project, field); target != nil {
		return target.PKField()
	}
	return nil
}

// ReferencedColumn returns the table and column a relation field points at.
// Targets missing from the project fall back to "<app>_<model>"."id".
func ReferencedColumn(project *signature.ProjectSignature, field *signature.FieldSignature) (table, column string) {
	if target := referencedModel(project, field); target != nil {
		column = target.PKColumn
		if column == "" {
			column = "id"
		}
		return target.TableName, column
	}
	app, model := field.RelatedApp()
	return strings.ToLower(app + "_" + model), "id"
}

func isPK(model *signature.ModelSignature, field *signature.FieldSignature) bool {
	return field.IsPrimaryKey() || (model.PKColumn != "" && field.Column() == model.PKColumn)
}

func isAuto(field *signature.FieldSignature) bool {
	return field.FieldType == signature.FieldAuto || field.FieldType == signature.FieldBigAuto
}

func (b *base) columnDef(project *signature.ProjectSignature, model *signature.ModelSignature, field *signature.FieldSignature, opts colOpts) string {
	parts := []string{b.Quote(field.Column()), b.ColumnType(project, field)}
	pk := isPK(model, field)
	if (field.IsNull() || opts.forceNull) && !pk {
		parts = append(parts, "NULL")
	} else {
		parts = append(parts, "NOT NULL")
	}
	if !opts.noConstraints {
		if pk {
			parts = append(parts, "PRIMARY KEY")
			if isAuto(field) && b.autoSuffix != "" {
				parts = append(parts, b.autoSuffix)
			}
		} else if field.IsUnique() {
			parts = append(parts, "UNIQUE")
		}
	}
	if opts.inlineFK && (field.FieldType == signature.FieldForeignKey || field.FieldType == signature.FieldOneToOne) {
		table, column := ReferencedColumn(project, field)
		parts = append(parts, fmt.Sprintf("REFERENCES %s (%s)", b.Quote(table), b.Quote(column)))
		if b.deferrable != "" {
			parts = append(parts, b.deferrable)
		}
	}
	return strings.Join(parts, " ")
}

func (b *base) createTable(project *signature.ProjectSignature, model *signature.ModelSignature, tableName string, inlineFK bool) string {
	var cols []string
	for _, f := range model.FieldSigs() {
		if f.FieldType.HasColumn() {
			cols = append(cols, b.columnDef(project, model, f, colOpts{inlineFK: inlineFK}))
		}
	}
	cols = append(cols, b.tableConstraints(model)...)
	sql := fmt.Sprintf("CREATE TABLE %s (%s)", b.Quote(tableName), strings.Join(cols, ", "))
	if b.tablespaces && model.DBTablespace != "" {
		sql += " TABLESPACE " + b.Quote(model.DBTablespace)
	}
	return sql
}

func (b *base) addForeignKey(project *signature.ProjectSignature, table string, field *signature.FieldSignature) string {
	refTable, refColumn := ReferencedColumn(project, field)
	sql := fmt.Sprintf("ALTER TABLE %s ADD CONSTRAINT %s FOREIGN KEY (%s) REFERENCES %s (%s)",
		b.Quote(table), b.Quote(b.ForeignKeyName(table, field.Column(), refTable, refColumn)),
		b.Quote(field.Column()), b.Quote(refTable), b.Quote(refColumn))
	if b.deferrable != "" {
		sql += " " + b.deferrable
	}
	return sql
}

func isForeignKey(field *signature.FieldSignature) bool {
	return field.FieldType == signature.FieldForeignKey || field.FieldType == signature.FieldOneToOne
}

// createModels renders tables, then deferred foreign keys, then indexes,
// then many-to-many tables.
func (b *base) createModels(c Context, appLabel string, models []*signature.ModelSignature, inlineFK bool) []string {
	var tables, fks, indexes, through []string
	for _, m := range models {
		tables = append(tables, b.createTable(c.Project, m, m.TableName, inlineFK))
		for _, f := range m.FieldSigs() {
			if !inlineFK && isForeignKey(f) {
				fks = append(fks, b.addForeignKey(c.Project, m.TableName, f))
			}
			if f.FieldType.IsManyToMany() {
				through = append(through, b.gen.CreateThroughTable(c, appLabel, m, f)...)
			}
		}
		for _, idx := range b.ModelIndexes(m) {
			if idx.Unique {
				indexes = append(indexes, b.gen.AddUnique(m.TableName, idx.Name, idx.Columns))
			} else {
				indexes = append(indexes, b.gen.CreateIndex(m.TableName, idx))
			}
		}
		indexes = append(indexes, b.partialUniques(m)...)
	}
	out := append(tables, fks...)
	out = append(out, indexes...)
	return append(out, through...)
}

// CreateThroughTable creates the association table of a many-to-many field.
func (b *base) CreateThroughTable(c Context, appLabel string, model *signature.ModelSignature, field *signature.FieldSignature) []string {
	return b.gen.CreateModels(c, appLabel, []*signature.ModelSignature{ThroughModel(appLabel, model, field)})
}

// IndexName returns the generated name for an index over columns.
func (b *base) IndexName(table string, columns []string, suffix string) string {
	return indexName(b.maxName, table, columns, suffix)
}

// ConstraintName returns the name of a single-column unique constraint.
func (b *base) ConstraintName(table, column string) string {
	limit := b.maxName
	if limit <= 0 {
		limit = defaultMaxNameLength
	}
	return truncateName(table+"_"+column+"_key", limit)
}

// ForeignKeyName returns the name of a foreign key constraint.
func (b *base) ForeignKeyName(table, column, refTable, refColumn string) string {
	return b.IndexName(table, []string{column}, "_fk_"+refTable+"_"+refColumn)
}

// FieldColumns maps field names to column names, keeping "-" prefixes.
// Unknown names are returned unchanged.
func FieldColumns(model *signature.ModelSignature, fieldNames []string) []string {
	out := make([]string, len(fieldNames))
	for i, name := range fieldNames {
		desc := strings.HasPrefix(name, "-")
		plain := strings.TrimPrefix(name, "-")
		col := plain
		if f := model.FieldSig(plain); f != nil {
			col = f.Column()
		}
		if desc {
			col = "-" + col
		}
		out[i] = col
	}
	return out
}

// ModelIndexes returns the indexes created alongside a model's table:
// per-field db_index indexes, unique_together, index_together and explicit
// indexes.
func (b *base) ModelIndexes(model *signature.ModelSignature) []IndexDef {
	var out []IndexDef
	for _, f := range model.FieldSigs() {
		if !f.FieldType.HasColumn() || isPK(model, f) || f.IsUnique() || !f.DBIndex() {
			continue
		}
		out = append(out, b.FieldIndex(model, f))
	}
	for _, group := range model.UniqueTogether {
		out = append(out, b.UniqueTogetherIndex(model, group))
	}
	for _, group := range model.IndexTogether {
		out = append(out, b.IndexTogetherIndex(model, group))
	}
	for _, idx := range model.Indexes {
		out = append(out, b.ExplicitIndex(model, idx))
	}
	return out
}

// FieldIndex is the db_index index of a field.
func (b *base) FieldIndex(model *signature.ModelSignature, field *signature.FieldSignature) IndexDef {
	cols := []string{field.Column()}
	return IndexDef{Name: b.IndexName(model.TableName, cols, ""), Columns: cols}
}

// UniqueTogetherIndex is the unique constraint for one unique_together group.
func (b *base) UniqueTogetherIndex(model *signature.ModelSignature, fieldNames []string) IndexDef {
	cols := FieldColumns(model, fieldNames)
	return IndexDef{Name: b.IndexName(model.TableName, cols, "_uniq"), Columns: cols, Unique: true}
}

// IndexTogetherIndex is the index for one index_together group.
func (b *base) IndexTogetherIndex(model *signature.ModelSignature, fieldNames []string) IndexDef {
	cols := FieldColumns(model, fieldNames)
	return IndexDef{Name: b.IndexName(model.TableName, cols, "_idx"), Columns: cols}
}

// ExplicitIndex is the index for an entry of a model's indexes list.
func (b *base) ExplicitIndex(model *signature.ModelSignature, idx *signature.IndexSignature) IndexDef {
	cols := FieldColumns(model, idx.Fields)
	name := idx.Name
	if name == "" {
		name = b.IndexName(model.TableName, cols, "_idx")
	}
	return IndexDef{Name: name, Columns: cols, Unique: idx.Unique}
}

// InlineUniques returns the unique constraints declared on columns.
func (b *base) InlineUniques(model *signature.ModelSignature) []IndexDef {
	var out []IndexDef
	for _, f := range model.FieldSigs() {
		if f.FieldType.HasColumn() && f.IsUnique() && !isPK(model, f) {
			out = append(out, IndexDef{
				Name:    b.ConstraintName(model.TableName, f.Column()),
				Columns: []string{f.Column()},
				Unique:  true,
			})
		}
	}
	return out
}

// CreateIndex renders CREATE INDEX.
func (b *base) CreateIndex(table string, idx IndexDef) string {
	cols := make([]string, len(idx.Columns))
	for i, col := range idx.Columns {
		if strings.HasPrefix(col, "-") {
			cols[i] = b.Quote(col[1:]) + " DESC"
		} else {
			cols[i] = b.Quote(col)
		}
	}
	unique := ""
	if idx.Unique {
		unique = "UNIQUE "
	}
	return fmt.Sprintf("CREATE %sINDEX %s ON %s (%s)", unique, b.Quote(idx.Name), b.Quote(table), strings.Join(cols, ", "))
}

// DropIndex renders DROP INDEX.
func (b *base) DropIndex(table, name string) string {
	return "DROP INDEX " + b.Quote(name)
}

// AddUnique adds a named unique constraint.
func (b *base) AddUnique(table, name string, columns []string) string {
	return fmt.Sprintf("ALTER TABLE %s ADD CONSTRAINT %s UNIQUE (%s)", b.Quote(table), b.Quote(name), b.quoteList(columns))
}

// DropUnique drops a named unique constraint.
func (b *base) DropUnique(table, name string) string {
	return fmt.Sprintf("ALTER TABLE %s DROP CONSTRAINT %s", b.Quote(table), b.Quote(name))
}

// tableConstraints renders the CHECK and UNIQUE clauses of a model's
// constraints for CREATE TABLE. Partial unique constraints are indexes.
func (b *base) tableConstraints(model *signature.ModelSignature) []string {
	var out []string
	for _, con := range model.Constraints {
		switch {
		case con.Type == signature.ConstraintCheck:
			out = append(out, fmt.Sprintf("CONSTRAINT %s CHECK (%s)", b.Quote(con.Name), con.Check))
		case !con.Partial():
			out = append(out, fmt.Sprintf("CONSTRAINT %s UNIQUE (%s)", b.Quote(con.Name), b.quoteList(FieldColumns(model, con.Fields))))
		}
	}
	return out
}

// partialUniques renders the partial indexes of a model's conditional
// unique constraints.
func (b *base) partialUniques(model *signature.ModelSignature) []string {
	var out []string
	for _, con := range model.Constraints {
		if con.Partial() {
			out = append(out, b.partialUnique(model, con)...)
		}
	}
	return out
}

func (b *base) partialUnique(model *signature.ModelSignature, con *signature.ConstraintSignature) []string {
	if !b.partialIndexes {
		return nil
	}
	idx := IndexDef{Name: con.Name, Columns: FieldColumns(model, con.Fields), Unique: true}
	return []string{b.CreateIndex(model.TableName, idx) + " WHERE " + con.Condition}
}

// AddConstraint adds one of a model's constraints to its existing table.
func (b *base) AddConstraint(model *signature.ModelSignature, con *signature.ConstraintSignature) []string {
	table := model.TableName
	switch {
	case con.Type == signature.ConstraintCheck:
		return []string{fmt.Sprintf("ALTER TABLE %s ADD CONSTRAINT %s CHECK (%s)", b.Quote(table), b.Quote(con.Name), con.Check)}
	case con.Partial():
		return b.partialUnique(model, con)
	default:
		return []string{b.gen.AddUnique(table, con.Name, FieldColumns(model, con.Fields))}
	}
}

// DropConstraint removes a constraint from a model's table.
func (b *base) DropConstraint(model *signature.ModelSignature, con *signature.ConstraintSignature) []string {
	table := model.TableName
	switch {
	case con.Type == signature.ConstraintCheck:
		return []string{fmt.Sprintf("ALTER TABLE %s DROP CONSTRAINT %s", b.Quote(table), b.Quote(con.Name))}
	case con.Partial():
		if !b.partialIndexes {
			return nil
		}
		return []string{b.gen.DropIndex(table, con.Name)}
	default:
		return []string{b.gen.DropUnique(table, con.Name)}
	}
}

// ChangeConstraints drops the removed constraints, then adds the new ones.
func (b *base) ChangeConstraints(c Context, model *signature.ModelSignature, removed, added []*signature.ConstraintSignature) []string {
	var out []string
	for _, con := range removed {
		out = append(out, b.gen.DropConstraint(model, con)...)
	}
	for _, con := range added {
		out = append(out, b.gen.AddConstraint(model, con)...)
	}
	return out
}

func (b *base) quoteList(names []string) string {
	out := make([]string, len(names))
	for i, n := range names {
		out[i] = b.Quote(strings.TrimPrefix(n, "-"))
	}
	return strings.Join(out, ", ")
}

func (b *base) DropTable(table string) []string {
	return []string{"DROP TABLE " + b.Quote(table)}
}

func (b *base) RenameTable(oldTable, newTable string) []string {
	return []string{fmt.Sprintf("ALTER TABLE %s RENAME TO %s", b.Quote(oldTable), b.Quote(newTable))}
}

func (b *base) SetTablespace(table, tablespace string) []string {
	return nil
}

// existingUniqueName finds the tracked unique constraint on a column,
// falling back to the generated name.
func (b *base) existingUniqueName(c Context, table, column string) string {
	if c.State != nil {
		if idx, ok := c.State.FindIndex(table, []string{column}, true); ok {
			return idx.Name
		}
	}
	return b.ConstraintName(table, column)
}

// existingForeignKeyName finds the tracked foreign key on a column, falling
// back to the generated name.
func (b *base) existingForeignKeyName(c Context, table string, field *signature.FieldSignature) string {
	if c.State != nil {
		if fk, ok := c.State.FindForeignKey(table, field.Column()); ok && fk.Name != "" {
			return fk.Name
		}
	}
	refTable, refColumn := ReferencedColumn(c.Project, field)
	return b.ForeignKeyName(table, field.Column(), refTable, refColumn)
}

func nullTightened(oldField, newField *signature.FieldSignature) bool {
	return oldField.IsNull() && !newField.IsNull()
}
