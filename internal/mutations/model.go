package mutations

import (
	"fmt"

	"github.com/satishbabariya/schema-evolution/internal/dbstate"
	"github.com/satishbabariya/schema-evolution/internal/signature"
	"github.com/satishbabariya/schema-evolution/internal/sqlgen"
)

func modelSubject(verb, appLabel, modelName string) string {
	return fmt.Sprintf("Cannot %s the model %q.", verb, signature.ModelRef(appLabel, modelName))
}

// AddModel creates a model's table, indexes and association tables.
type AddModel struct {
	Model *signature.ModelSignature
}

func (m *AddModel) Kind() Kind { return KindAddModel }

func (m *AddModel) subject(appLabel string) string {
	return modelSubject("add", appLabel, m.Model.ModelName)
}

func (m *AddModel) IsMutable(c *MutateContext) bool { return c.routedHere(m.Model.ModelName) }

func (m *AddModel) Simulate(s *Simulation) error {
	app, err := s.AppSig()
	if err != nil {
		return err
	}
	if app.ModelSig(m.Model.ModelName) != nil {
		return s.Fail("A model with this name already exists.")
	}
	app.AddModelSig(m.Model.Clone())
	return nil
}

func (m *AddModel) Mutate(c *MutateContext) ([]string, error) {
	post, err := c.simulated(m)
	if err != nil {
		return nil, err
	}
	return CreateModels(c, post, []*signature.ModelSignature{post.ModelSig(c.AppLabel, m.Model.ModelName)})
}

// CreateModels renders the tables of models from project and records them
// in the context's database state.
func CreateModels(c *MutateContext, project *signature.ProjectSignature, models []*signature.ModelSignature) ([]string, error) {
	sql := c.Generator.CreateModels(c.sqlContext(project), c.AppLabel, models)
	for _, model := range models {
		if err := trackModel(c, project, model); err != nil {
			return nil, err
		}
		for _, through := range sqlgen.ThroughModels(c.AppLabel, model) {
			if err := trackModel(c, project, through); err != nil {
				return nil, err
			}
		}
	}
	return sql, nil
}

// trackModel records a newly created table with its indexes, unique
// constraints and foreign keys.
func trackModel(c *MutateContext, project *signature.ProjectSignature, model *signature.ModelSignature) error {
	if c.State == nil {
		return nil
	}
	c.State.AddTable(model.TableName)
	for _, idx := range c.Generator.InlineUniques(model) {
		if err := c.trackIndex(model.TableName, idx); err != nil {
			return err
		}
	}
	for _, idx := range c.Generator.ModelIndexes(model) {
		if err := c.trackIndex(model.TableName, idx); err != nil {
			return err
		}
	}
	for _, con := range model.Constraints {
		if idx, ok := constraintIndex(model, con); ok {
			if err := c.trackIndex(model.TableName, idx); err != nil {
				return err
			}
		}
	}
	var fks []dbstate.ForeignKeyState
	for _, field := range model.FieldSigs() {
		if field.FieldType != signature.FieldForeignKey && field.FieldType != signature.FieldOneToOne {
			continue
		}
		refTable, refColumn := sqlgen.ReferencedColumn(project, field)
		fks = append(fks, dbstate.ForeignKeyState{
			Name:             c.Generator.ForeignKeyName(model.TableName, field.Column(), refTable, refColumn),
			Column:           field.Column(),
			ReferencedTable:  refTable,
			ReferencedColumn: refColumn,
		})
	}
	c.State.SetForeignKeys(model.TableName, fks)
	return nil
}

// ownedTables returns a model's association tables followed by its own table.
func ownedTables(appLabel string, model *signature.ModelSignature) []string {
	var tables []string
	for _, through := range sqlgen.ThroughModels(appLabel, model) {
		tables = append(tables, through.TableName)
	}
	return append(tables, model.TableName)
}

// DeleteModel drops a model's table and its association tables.
type DeleteModel struct {
	ModelName string
}

func (m *DeleteModel) Kind() Kind { return KindDeleteModel }

func (m *DeleteModel) subject(appLabel string) string {
	return modelSubject("delete", appLabel, m.ModelName)
}

func (m *DeleteModel) IsMutable(c *MutateContext) bool { return c.routedHere(m.ModelName) }

func (m *DeleteModel) Simulate(s *Simulation) error {
	app, err := s.AppSig()
	if err != nil {
		return err
	}
	if _, err := s.ModelSig(m.ModelName); err != nil {
		return err
	}
	return app.RemoveModelSig(m.ModelName)
}

func (m *DeleteModel) Mutate(c *MutateContext) ([]string, error) {
	model, err := c.modelSig(m.ModelName)
	if err != nil {
		return nil, err
	}
	var sql []string
	for _, table := range ownedTables(c.AppLabel, model) {
		sql = append(sql, c.Generator.DropTable(table)...)
	}
	return sql, nil
}

// PostMutate forgets the dropped tables.
func (m *DeleteModel) PostMutate(c *MutateContext) error {
	if c.State == nil {
		return nil
	}
	model, err := c.modelSig(m.ModelName)
	if err != nil {
		return err
	}
	for _, table := range ownedTables(c.AppLabel, model) {
		c.State.RemoveTable(table)
	}
	return nil
}

// RenameModel renames a model. DBTable is the new table name; when empty
// the table keeps its name. Association tables named after the model's
// table follow it.
type RenameModel struct {
	OldModelName string
	NewModelName string
	DBTable      string
}

func (m *RenameModel) Kind() Kind { return KindRenameModel }

func (m *RenameModel) subject(appLabel string) string {
	return modelSubject("rename", appLabel, m.OldModelName)
}

func (m *RenameModel) IsMutable(c *MutateContext) bool { return c.routedHere(m.OldModelName) }

func (m *RenameModel) Simulate(s *Simulation) error {
	app, err := s.AppSig()
	if err != nil {
		return err
	}
	model, err := s.ModelSig(m.OldModelName)
	if err != nil {
		return err
	}
	if m.OldModelName != m.NewModelName && app.ModelSig(m.NewModelName) != nil {
		return s.Fail("A model with the new name already exists.")
	}
	if err := app.RenameModelSig(m.OldModelName, m.NewModelName); err != nil {
		return err
	}
	if m.DBTable != "" {
		model.TableName = m.DBTable
	}

	oldRef := signature.ModelRef(s.AppLabel, m.OldModelName)
	newRef := signature.ModelRef(s.AppLabel, m.NewModelName)
	for _, a := range s.Project.AppSigs() {
		for _, ms := range a.ModelSigs() {
			for _, f := range ms.FieldSigs() {
				if f.RelatedModel == oldRef {
					f.RelatedModel = newRef
				}
			}
		}
	}
	return nil
}

func (m *RenameModel) Mutate(c *MutateContext) ([]string, error) {
	pre, err := c.modelSig(m.OldModelName)
	if err != nil {
		return nil, err
	}
	post, err := c.simulated(m)
	if err != nil {
		return nil, err
	}
	model := post.ModelSig(c.AppLabel, m.NewModelName)

	var sql []string
	rename := func(oldTable, newTable string) {
		if oldTable == newTable {
			return
		}
		sql = append(sql, c.Generator.RenameTable(oldTable, newTable)...)
		if c.State != nil {
			c.State.RenameTable(oldTable, newTable)
		}
	}
	rename(pre.TableName, model.TableName)
	for _, field := range pre.FieldSigs() {
		if field.FieldType.IsManyToMany() && field.StringAttr("db_table") == "" {
			rename(sqlgen.ThroughTableName(pre, field), sqlgen.ThroughTableName(model, field))
		}
	}
	return sql, nil
}
