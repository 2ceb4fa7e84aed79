package mutations

import (
	"fmt"

	"github.com/satishbabariya/schema-evolution/internal/dbstate"
	"github.com/satishbabariya/schema-evolution/internal/debug"
	"github.com/satishbabariya/schema-evolution/internal/signature"
	"github.com/satishbabariya/schema-evolution/internal/sqlgen"
)

// UserValueRequired stands in for an initial value that only the user can
// provide. Evolutions containing it cannot be applied.
const UserValueRequired = "<<USER VALUE REQUIRED>>"

type placeholder struct{}

func (placeholder) String() string { return UserValueRequired }

// Placeholder returns an initial value marking that the user must supply one.
func Placeholder() *sqlgen.Initial {
	return &sqlgen.Initial{Value: placeholder{}}
}

// NeedsUserValue reports whether initial is the placeholder.
func NeedsUserValue(initial *sqlgen.Initial) bool {
	if initial == nil || initial.Expr != "" || initial.Func != nil {
		return false
	}
	_, ok := initial.Value.(placeholder)
	return ok
}

func fieldSubject(verb, fieldName, preposition, appLabel, modelName string) string {
	return fmt.Sprintf("Cannot %s the field %q %s model %q.", verb, fieldName, preposition,
		signature.ModelRef(appLabel, modelName))
}

// AddField adds a field to a model. Non-null fields need an Initial value to
// fill existing rows.
type AddField struct {
	ModelName    string
	FieldName    string
	FieldType    signature.FieldType
	RelatedModel string
	Attrs        map[string]any
	Initial      *sqlgen.Initial
}

func (m *AddField) Kind() Kind { return KindAddField }

func (m *AddField) subject(appLabel string) string {
	return fieldSubject("add", m.FieldName, "to", appLabel, m.ModelName)
}

// IsMutable is false when the model lives elsewhere or already has the field.
func (m *AddField) IsMutable(c *MutateContext) bool {
	if !c.routedHere(m.ModelName) {
		return false
	}
	model := c.Project.ModelSig(c.AppLabel, m.ModelName)
	return model == nil || model.FieldSig(m.FieldName) == nil
}

func (m *AddField) isNull() bool {
	null, _ := m.Attrs["null"].(bool)
	return null
}

func (m *AddField) Simulate(s *Simulation) error {
	model, err := s.ModelSig(m.ModelName)
	if err != nil {
		return err
	}
	if model.FieldSig(m.FieldName) != nil {
		return s.Fail("A field with this name already exists.")
	}
	if !m.FieldType.IsManyToMany() && !m.isNull() && m.Initial == nil {
		return s.Fail("A non-null initial value must be specified in the mutation.")
	}
	model.AddFieldSig(signature.NewFieldSignature(m.FieldName, m.FieldType, m.Attrs, m.RelatedModel))
	return nil
}

func (m *AddField) Mutate(c *MutateContext) ([]string, error) {
	post, err := c.simulated(m)
	if err != nil {
		return nil, err
	}
	model := post.ModelSig(c.AppLabel, m.ModelName)
	field := model.FieldSig(m.FieldName)
	sc := c.sqlContext(post)

	if field.FieldType.IsManyToMany() {
		through := sqlgen.ThroughModel(c.AppLabel, model, field)
		sql := c.Generator.CreateThroughTable(sc, c.AppLabel, model, field)
		if err := trackModel(c, post, through); err != nil {
			return nil, err
		}
		return sql, nil
	}

	sql := c.Generator.AddColumn(sc, model, field, m.Initial)
	if idx, ok := fieldIndex(c.Generator, model, field); ok {
		sql = append(sql, c.Generator.CreateIndex(model.TableName, idx))
		if err := c.trackIndex(model.TableName, idx); err != nil {
			return nil, err
		}
	}
	if err := trackFieldConstraints(c, post, model, field); err != nil {
		return nil, err
	}
	return sql, nil
}

// DeleteField removes a field. Primary keys cannot be deleted.
type DeleteField struct {
	ModelName string
	FieldName string
}

func (m *DeleteField) Kind() Kind { return KindDeleteField }

func (m *DeleteField) subject(appLabel string) string {
	return fieldSubject("delete", m.FieldName, "on", appLabel, m.ModelName)
}

func (m *DeleteField) IsMutable(c *MutateContext) bool { return c.routedHere(m.ModelName) }

func (m *DeleteField) Simulate(s *Simulation) error {
	model, err := s.ModelSig(m.ModelName)
	if err != nil {
		return err
	}
	field, err := s.FieldSig(m.ModelName, m.FieldName)
	if err != nil {
		return err
	}
	if field.IsPrimaryKey() || (field.FieldType.HasColumn() && field.Column() == model.PKColumn) {
		return s.Fail("Cannot delete a primary key.")
	}
	model.UniqueTogether = withoutField(model.UniqueTogether, m.FieldName)
	model.IndexTogether = withoutField(model.IndexTogether, m.FieldName)
	return model.RemoveFieldSig(m.FieldName)
}

func (m *DeleteField) Mutate(c *MutateContext) ([]string, error) {
	pre, err := c.modelSig(m.ModelName)
	if err != nil {
		return nil, err
	}
	field := pre.FieldSig(m.FieldName)
	post, err := c.simulated(m)
	if err != nil {
		return nil, err
	}
	model := post.ModelSig(c.AppLabel, m.ModelName)

	if field.FieldType.IsManyToMany() {
		table := sqlgen.ThroughTableName(pre, field)
		if c.State != nil {
			c.State.RemoveTable(table)
		}
		return c.Generator.DropTable(table), nil
	}
	sql := c.Generator.DropColumn(c.sqlContext(post), model, field)
	if c.State != nil {
		c.State.DropColumn(model.TableName, field.Column())
	}
	return sql, nil
}

// withoutField drops a field from every group, removing emptied groups.
func withoutField(groups signature.Together, fieldName string) signature.Together {
	if groups == nil {
		return nil
	}
	out := make(signature.Together, 0, len(groups))
	for _, group := range groups {
		var kept []string
		for _, name := range group {
			if name != fieldName {
				kept = append(kept, name)
			}
		}
		if len(kept) > 0 {
			out = append(out, kept)
		}
	}
	return out
}

// RenameField renames a field. DBColumn sets the new column name; DBTable
// sets the new association table of a many-to-many field and is ignored
// for other fields.
type RenameField struct {
	ModelName    string
	OldFieldName string
	NewFieldName string
	DBColumn     string
	DBTable      string
}

func (m *RenameField) Kind() Kind { return KindRenameField }

func (m *RenameField) subject(appLabel string) string {
	return fieldSubject("rename", m.OldFieldName, "on", appLabel, m.ModelName)
}

func (m *RenameField) IsMutable(c *MutateContext) bool { return c.routedHere(m.ModelName) }

func (m *RenameField) Simulate(s *Simulation) error {
	model, err := s.ModelSig(m.ModelName)
	if err != nil {
		return err
	}
	field, err := s.FieldSig(m.ModelName, m.OldFieldName)
	if err != nil {
		return err
	}
	if m.OldFieldName != m.NewFieldName && model.FieldSig(m.NewFieldName) != nil {
		return s.Fail("A field with the new name already exists.")
	}
	wasPK := field.FieldType.HasColumn() && field.Column() == model.PKColumn

	if err := model.RenameFieldSig(m.OldFieldName, m.NewFieldName); err != nil {
		return err
	}
	if field.FieldType.IsManyToMany() {
		setOptionalAttr(field, "db_table", m.DBTable)
	} else {
		setOptionalAttr(field, "db_column", m.DBColumn)
	}
	if wasPK {
		model.PKColumn = field.Column()
	}
	model.UniqueTogether = renamedInGroups(model.UniqueTogether, m.OldFieldName, m.NewFieldName)
	model.IndexTogether = renamedInGroups(model.IndexTogether, m.OldFieldName, m.NewFieldName)
	for _, idx := range model.Indexes {
		for i, name := range idx.Fields {
			switch name {
			case m.OldFieldName:
				idx.Fields[i] = m.NewFieldName
			case "-" + m.OldFieldName:
				idx.Fields[i] = "-" + m.NewFieldName
			}
		}
	}
	for _, con := range model.Constraints {
		for i, name := range con.Fields {
			if name == m.OldFieldName {
				con.Fields[i] = m.NewFieldName
			}
		}
	}
	return nil
}

func (m *RenameField) Mutate(c *MutateContext) ([]string, error) {
	pre, err := c.modelSig(m.ModelName)
	if err != nil {
		return nil, err
	}
	oldField := pre.FieldSig(m.OldFieldName)
	post, err := c.simulated(m)
	if err != nil {
		return nil, err
	}
	model := post.ModelSig(c.AppLabel, m.ModelName)
	newField := model.FieldSig(m.NewFieldName)
	sc := c.sqlContext(post)

	if oldField.FieldType.IsManyToMany() {
		oldTable := sqlgen.ThroughTableName(pre, oldField)
		newTable := sqlgen.ThroughTableName(model, newField)
		if oldTable == newTable {
			return nil, nil
		}
		if c.State != nil {
			c.State.RenameTable(oldTable, newTable)
		}
		return c.Generator.RenameTable(oldTable, newTable), nil
	}

	if oldField.Column() == newField.Column() {
		return nil, nil
	}
	sql := c.Generator.RenameColumn(sc, model, oldField, newField)
	if c.State != nil {
		c.State.RenameColumn(model.TableName, oldField.Column(), newField.Column())
	}
	if oldField.Column() == pre.PKColumn {
		repointed, err := repointReferences(c, post, model)
		if err != nil {
			return nil, err
		}
		sql = append(sql, repointed...)
	}
	return sql, nil
}

// repointReferences re-targets every foreign key, including those of
// association tables, that references target's primary key.
func repointReferences(c *MutateContext, post *signature.ProjectSignature, target *signature.ModelSignature) ([]string, error) {
	ref := signature.ModelRef(c.AppLabel, target.ModelName)
	sc := c.sqlContext(post)
	var sql []string

	repoint := func(model *signature.ModelSignature, field *signature.FieldSignature) {
		stmts := c.Generator.RepointForeignKey(sc, model, field)
		if len(stmts) == 0 {
			return
		}
		sql = append(sql, stmts...)
		if c.State != nil {
			refTable, refColumn := sqlgen.ReferencedColumn(post, field)
			c.State.AddForeignKey(model.TableName, dbstate.ForeignKeyState{
				Name:             c.Generator.ForeignKeyName(model.TableName, field.Column(), refTable, refColumn),
				Column:           field.Column(),
				ReferencedTable:  refTable,
				ReferencedColumn: refColumn,
			})
		}
	}

	for _, app := range post.AppSigs() {
		for _, model := range app.ModelSigs() {
			for _, field := range model.FieldSigs() {
				switch {
				case field.FieldType.IsManyToMany():
					if field.RelatedModel != ref && signature.ModelRef(app.AppID, model.ModelName) != ref {
						continue
					}
					through := sqlgen.ThroughModel(app.AppID, model, field)
					for _, fk := range through.FieldSigs() {
						if fk.FieldType == signature.FieldForeignKey && fk.RelatedModel == ref {
							repoint(through, fk)
							break
						}
					}
				case field.FieldType.IsRelation() && field.RelatedModel == ref:
					if model.TableName == target.TableName {
						continue
					}
					repoint(model, field)
				}
			}
		}
	}
	return sql, nil
}

func setOptionalAttr(field *signature.FieldSignature, name, value string) {
	if value == "" {
		field.DeleteAttr(name)
		return
	}
	field.SetAttr(name, value)
}

func renamedInGroups(groups signature.Together, oldName, newName string) signature.Together {
	for _, group := range groups {
		for i, name := range group {
			if name == oldName {
				group[i] = newName
			}
		}
	}
	return groups
}

// ChangeField changes a field's attributes and, optionally, its type.
// Initial fills rows left NULL when the field becomes non-null.
type ChangeField struct {
	ModelName string
	FieldName string
	// FieldType is empty when the type is unchanged.
	FieldType    signature.FieldType
	RelatedModel string
	Attrs        map[string]any
	Initial      *sqlgen.Initial
}

func (m *ChangeField) Kind() Kind { return KindChangeField }

func (m *ChangeField) subject(appLabel string) string {
	return fieldSubject("change", m.FieldName, "on", appLabel, m.ModelName)
}

func (m *ChangeField) IsMutable(c *MutateContext) bool { return c.routedHere(m.ModelName) }

func (m *ChangeField) Simulate(s *Simulation) error {
	model, err := s.ModelSig(m.ModelName)
	if err != nil {
		return err
	}
	field, err := s.FieldSig(m.ModelName, m.FieldName)
	if err != nil {
		return err
	}
	wasNull := field.IsNull()
	wasPK := field.FieldType.HasColumn() && field.Column() == model.PKColumn

	if m.FieldType != "" && m.FieldType != field.FieldType {
		related := field.RelatedModel
		if m.RelatedModel != "" {
			related = m.RelatedModel
		}
		field = signature.NewFieldSignature(m.FieldName, m.FieldType, m.Attrs, related)
		model.AddFieldSig(field)
	} else {
		for name, value := range m.Attrs {
			if !signature.IsSchemaAttr(field.FieldType, name) {
				return s.Fail(fmt.Sprintf("The %q attribute cannot be changed on this field.", name))
			}
			field.SetAttr(name, value)
		}
		if m.RelatedModel != "" {
			field.RelatedModel = m.RelatedModel
		}
	}

	if wasNull && !field.IsNull() && !field.FieldType.IsManyToMany() && m.Initial == nil {
		return s.Fail("A non-null initial value needs to be specified in the mutation.")
	}
	if wasPK {
		model.PKColumn = field.Column()
	}
	return nil
}

func (m *ChangeField) Mutate(c *MutateContext) ([]string, error) {
	pre, err := c.modelSig(m.ModelName)
	if err != nil {
		return nil, err
	}
	oldField := pre.FieldSig(m.FieldName)
	if oldField == nil {
		return nil, fmt.Errorf("field %q on %q: %w", m.FieldName, pre.ModelName, signature.ErrMissingSignature)
	}
	post, err := c.simulated(m)
	if err != nil {
		return nil, err
	}
	model := post.ModelSig(c.AppLabel, m.ModelName)
	newField := model.FieldSig(m.FieldName)
	sc := c.sqlContext(post)

	for _, attr := range newField.Diff(oldField) {
		if attr == "primary_key" {
			return nil, notImplementedf("ChangeField does not support modifying the %q attribute on %q", attr,
				signature.ModelRef(c.AppLabel, m.ModelName)+"."+m.FieldName)
		}
	}

	if oldField.FieldType.IsManyToMany() {
		oldTable := sqlgen.ThroughTableName(pre, oldField)
		newTable := sqlgen.ThroughTableName(model, newField)
		if oldTable == newTable {
			return nil, nil
		}
		if c.State != nil {
			c.State.RenameTable(oldTable, newTable)
		}
		return c.Generator.RenameTable(oldTable, newTable), nil
	}

	var sql []string
	cur := pre.Clone()
	curField := cur.FieldSig(m.FieldName)

	if curField.Column() != newField.Column() {
		next := cur.Clone()
		nextField := next.FieldSig(m.FieldName)
		nextField.SetAttr("db_column", newField.Attr("db_column"))
		if curField.Column() == cur.PKColumn {
			next.PKColumn = nextField.Column()
		}
		sql = append(sql, c.Generator.RenameColumn(sc, next, curField, nextField)...)
		if c.State != nil {
			c.State.RenameColumn(next.TableName, curField.Column(), nextField.Column())
		}
		cur, curField = next, nextField
	}

	next := cur.Clone()
	nextField := newField.Clone()
	nextField.SetAttr("unique", curField.Attr("unique"))
	nextField.SetAttr("db_index", curField.Attr("db_index"))
	next.AddFieldSig(nextField)
	next.PKColumn = model.PKColumn
	sql = append(sql, c.Generator.ChangeColumn(sc, next, curField, nextField, m.Initial)...)
	cur, curField = next, nextField

	if curField.IsUnique() != newField.IsUnique() {
		next := cur.Clone()
		nextField := next.FieldSig(m.FieldName)
		nextField.SetAttr("unique", newField.IsUnique())
		sql = append(sql, c.Generator.SetUnique(sc, next, nextField, newField.IsUnique())...)
		if err := trackUnique(c, next, nextField, newField.IsUnique()); err != nil {
			return nil, err
		}
		cur, curField = next, nextField
	}

	_, hadIndex := fieldIndex(c.Generator, cur, curField)
	idx, wantIndex := fieldIndex(c.Generator, model, newField)
	switch {
	case wantIndex && !hadIndex:
		sql = append(sql, c.Generator.CreateIndex(model.TableName, idx))
		if err := c.trackIndex(model.TableName, idx); err != nil {
			return nil, err
		}
	case hadIndex && !wantIndex:
		dropped, err := dropFieldIndex(c, model.TableName, curField.Column())
		if err != nil {
			return nil, err
		}
		sql = append(sql, dropped...)
	}

	if c.State != nil && newField.RelatedModel != oldField.RelatedModel && newField.FieldType.IsRelation() {
		refTable, refColumn := sqlgen.ReferencedColumn(post, newField)
		c.State.AddForeignKey(model.TableName, dbstate.ForeignKeyState{
			Name:             c.Generator.ForeignKeyName(model.TableName, newField.Column(), refTable, refColumn),
			Column:           newField.Column(),
			ReferencedTable:  refTable,
			ReferencedColumn: refColumn,
		})
	}
	return sql, nil
}

// fieldIndex returns the db_index index a field gets, if any.
func fieldIndex(gen sqlgen.Generator, model *signature.ModelSignature, field *signature.FieldSignature) (sqlgen.IndexDef, bool) {
	if !field.FieldType.HasColumn() || !field.DBIndex() || field.IsUnique() ||
		field.IsPrimaryKey() || field.Column() == model.PKColumn {
		return sqlgen.IndexDef{}, false
	}
	return gen.FieldIndex(model, field), true
}

// dropFieldIndex drops the tracked single-column index on a column. A
// missing index is logged and skipped.
func dropFieldIndex(c *MutateContext, table, column string) ([]string, error) {
	if c.State == nil {
		return nil, nil
	}
	existing, ok := c.State.FindIndex(table, []string{column}, false)
	if !ok {
		debug.Warn("index to drop is not in the database state", "app", c.AppLabel, "table", table, "column", column)
		return nil, nil
	}
	if err := c.State.RemoveIndex(table, existing.Name, false); err != nil {
		return nil, err
	}
	return []string{c.Generator.DropIndex(table, existing.Name)}, nil
}

// trackUnique records or forgets a column's unique constraint.
func trackUnique(c *MutateContext, model *signature.ModelSignature, field *signature.FieldSignature, unique bool) error {
	if c.State == nil {
		return nil
	}
	if unique {
		return c.trackIndex(model.TableName, sqlgen.IndexDef{
			Name:    c.Generator.ConstraintName(model.TableName, field.Column()),
			Columns: []string{field.Column()},
			Unique:  true,
		})
	}
	if existing, ok := c.State.FindIndex(model.TableName, []string{field.Column()}, true); ok {
		return c.State.RemoveIndex(model.TableName, existing.Name, true)
	}
	return nil
}

// trackFieldConstraints records the unique constraint and foreign key a new
// column carries.
func trackFieldConstraints(c *MutateContext, project *signature.ProjectSignature, model *signature.ModelSignature, field *signature.FieldSignature) error {
	if c.State == nil {
		return nil
	}
	if field.IsUnique() && field.Column() != model.PKColumn {
		if err := trackUnique(c, model, field, true); err != nil {
			return err
		}
	}
	if field.FieldType == signature.FieldForeignKey || field.FieldType == signature.FieldOneToOne {
		refTable, refColumn := sqlgen.ReferencedColumn(project, field)
		c.State.AddForeignKey(model.TableName, dbstate.ForeignKeyState{
			Name:             c.Generator.ForeignKeyName(model.TableName, field.Column(), refTable, refColumn),
			Column:           field.Column(),
			ReferencedTable:  refTable,
			ReferencedColumn: refColumn,
		})
	}
	return nil
}
