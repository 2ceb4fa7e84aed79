package mutations

import (
	"fmt"
	"strings"

	"github.com/satishbabariya/schema-evolution/internal/dbstate"
	"github.com/satishbabariya/schema-evolution/internal/debug"
	"github.com/satishbabariya/schema-evolution/internal/signature"
	"github.com/satishbabariya/schema-evolution/internal/sqlgen"
)

// Meta properties ChangeMeta can change.
const (
	MetaUniqueTogether = "unique_together"
	MetaIndexTogether  = "index_together"
	MetaIndexes        = "indexes"
	MetaConstraints    = "constraints"
	MetaDBTablespace   = "db_tablespace"
)

// ChangeMeta replaces a model-level property. NewValue is a
// signature.Together for unique_together and index_together, a
// []*signature.IndexSignature for indexes, a []*signature.ConstraintSignature
// for constraints and a string for db_tablespace.
type ChangeMeta struct {
	ModelName string
	PropName  string
	NewValue  any
}

func (m *ChangeMeta) Kind() Kind { return KindChangeMeta }

func (m *ChangeMeta) subject(appLabel string) string {
	return fmt.Sprintf("Cannot change the %q meta property on model %q.", m.PropName,
		signature.ModelRef(appLabel, m.ModelName))
}

func (m *ChangeMeta) IsMutable(c *MutateContext) bool { return c.routedHere(m.ModelName) }

func (m *ChangeMeta) Simulate(s *Simulation) error {
	model, err := s.ModelSig(m.ModelName)
	if err != nil {
		return err
	}
	switch m.PropName {
	case MetaUniqueTogether, MetaIndexTogether:
		value, ok := m.NewValue.(signature.Together)
		if !ok {
			return s.Fail(fmt.Sprintf("Expected a list of field name groups, got %T.", m.NewValue))
		}
		if m.PropName == MetaUniqueTogether {
			model.UniqueTogether = value.Clone()
			model.UniqueTogetherApplied = true
		} else {
			model.IndexTogether = value.Clone()
		}
	case MetaIndexes:
		value, ok := m.NewValue.([]*signature.IndexSignature)
		if !ok {
			return s.Fail(fmt.Sprintf("Expected a list of indexes, got %T.", m.NewValue))
		}
		model.Indexes = make([]*signature.IndexSignature, len(value))
		for i, idx := range value {
			model.Indexes[i] = idx.Clone()
		}
	case MetaConstraints:
		value, ok := m.NewValue.([]*signature.ConstraintSignature)
		if !ok {
			return s.Fail(fmt.Sprintf("Expected a list of constraints, got %T.", m.NewValue))
		}
		seen := make(map[string]bool, len(value))
		model.Constraints = make([]*signature.ConstraintSignature, len(value))
		for i, con := range value {
			if seen[con.Name] {
				return s.Fail(fmt.Sprintf("The constraint name %q is used more than once.", con.Name))
			}
			seen[con.Name] = true
			model.Constraints[i] = con.Clone()
		}
	case MetaDBTablespace:
		value, ok := m.NewValue.(string)
		if !ok {
			return s.Fail(fmt.Sprintf("Expected a tablespace name, got %T.", m.NewValue))
		}
		model.DBTablespace = value
	default:
		return s.Fail("The property cannot be changed on a model.")
	}
	return nil
}

func (m *ChangeMeta) Mutate(c *MutateContext) ([]string, error) {
	pre, err := c.modelSig(m.ModelName)
	if err != nil {
		return nil, err
	}
	post, err := c.simulated(m)
	if err != nil {
		return nil, err
	}
	model := post.ModelSig(c.AppLabel, m.ModelName)

	switch m.PropName {
	case MetaUniqueTogether:
		old := pre.UniqueTogether
		if !pre.UniqueTogetherApplied {
			old = nil
		}
		return m.changeTogether(c, model, old, model.UniqueTogether, true)
	case MetaIndexTogether:
		return m.changeTogether(c, model, pre.IndexTogether, model.IndexTogether, false)
	case MetaIndexes:
		return m.changeIndexes(c, model, pre.Indexes, model.Indexes)
	case MetaConstraints:
		return m.changeConstraints(c, post, model, pre.Constraints, model.Constraints)
	default:
		if pre.DBTablespace == model.DBTablespace {
			return nil, nil
		}
		return c.Generator.SetTablespace(model.TableName, model.DBTablespace), nil
	}
}

// changeTogether drops the groups no longer declared and creates the new
// ones that the database does not have yet.
func (m *ChangeMeta) changeTogether(c *MutateContext, model *signature.ModelSignature, old, updated signature.Together, unique bool) ([]string, error) {
	var sql []string
	table := model.TableName
	for _, group := range old {
		if updated.Contains(group) {
			continue
		}
		cols := sqlgen.FieldColumns(model, group)
		name, found, err := m.forgetIndex(c, table, "", cols, unique)
		if err != nil {
			return nil, err
		}
		if !found {
			continue
		}
		if unique {
			sql = append(sql, c.Generator.DropUnique(table, name))
		} else {
			sql = append(sql, c.Generator.DropIndex(table, name))
		}
	}

	for _, group := range updated {
		cols := sqlgen.FieldColumns(model, group)
		if c.State != nil {
			if _, ok := c.State.FindIndex(table, cols, unique); ok {
				continue
			}
		}
		if unique {
			idx := c.Generator.UniqueTogetherIndex(model, group)
			sql = append(sql, c.Generator.AddUnique(table, idx.Name, idx.Columns))
			if err := c.trackIndex(table, idx); err != nil {
				return nil, err
			}
		} else {
			idx := c.Generator.IndexTogetherIndex(model, group)
			sql = append(sql, c.Generator.CreateIndex(table, idx))
			if err := c.trackIndex(table, idx); err != nil {
				return nil, err
			}
		}
	}
	return sql, nil
}

// indexKey identifies an index definition. An index whose uniqueness
// changes gets a new key, so it is dropped and created again.
func indexKey(idx *signature.IndexSignature) string {
	return fmt.Sprintf("%s\x00%t\x00%s", idx.Name, idx.Unique, strings.Join(idx.Fields, "\x00"))
}

// changeIndexes applies the difference between two explicit index lists,
// keeping the declared order of each.
func (m *ChangeMeta) changeIndexes(c *MutateContext, model *signature.ModelSignature, old, updated []*signature.IndexSignature) ([]string, error) {
	oldKeys := make(map[string]bool, len(old))
	for _, idx := range old {
		oldKeys[indexKey(idx)] = true
	}
	newKeys := make(map[string]bool, len(updated))
	for _, idx := range updated {
		newKeys[indexKey(idx)] = true
	}

	var sql []string
	table := model.TableName
	for _, idx := range old {
		if newKeys[indexKey(idx)] {
			continue
		}
		cols := sqlgen.FieldColumns(model, idx.FieldNames())
		name, found, err := m.forgetIndex(c, table, idx.Name, cols, idx.Unique)
		if err != nil {
			return nil, err
		}
		if found {
			sql = append(sql, c.Generator.DropIndex(table, name))
		}
	}
	for _, idx := range updated {
		if oldKeys[indexKey(idx)] {
			continue
		}
		def := c.Generator.ExplicitIndex(model, idx)
		sql = append(sql, c.Generator.CreateIndex(table, def))
		if err := c.trackIndex(table, def); err != nil {
			return nil, err
		}
	}
	return sql, nil
}

// changeConstraints drops the constraints that were removed or redefined
// and adds the new definitions. Constraints are matched by name.
func (m *ChangeMeta) changeConstraints(c *MutateContext, post *signature.ProjectSignature, model *signature.ModelSignature, old, updated []*signature.ConstraintSignature) ([]string, error) {
	byName := func(list []*signature.ConstraintSignature) map[string]*signature.ConstraintSignature {
		out := make(map[string]*signature.ConstraintSignature, len(list))
		for _, con := range list {
			out[con.Name] = con
		}
		return out
	}
	oldByName, newByName := byName(old), byName(updated)

	var removed, added []*signature.ConstraintSignature
	for _, con := range old {
		if !con.Equal(newByName[con.Name]) {
			removed = append(removed, con)
		}
	}
	for _, con := range updated {
		if !con.Equal(oldByName[con.Name]) {
			added = append(added, con)
		}
	}
	if len(removed) == 0 && len(added) == 0 {
		return nil, nil
	}

	table := model.TableName
	if c.State != nil {
		for _, con := range removed {
			if existing, ok := c.State.GetIndex(table, con.Name); ok {
				if err := c.State.RemoveIndex(table, con.Name, existing.Unique); err != nil {
					return nil, err
				}
			}
		}
	}
	sql := c.Generator.ChangeConstraints(c.sqlContext(post), model, removed, added)
	for _, con := range added {
		if idx, ok := constraintIndex(model, con); ok {
			if err := c.trackIndex(table, idx); err != nil {
				return nil, err
			}
		}
	}
	return sql, nil
}

// constraintIndex is the unique index a database keeps for a full unique
// constraint. Check and partial constraints are not tracked.
func constraintIndex(model *signature.ModelSignature, con *signature.ConstraintSignature) (sqlgen.IndexDef, bool) {
	if con.Type != signature.ConstraintUnique || con.Partial() {
		return sqlgen.IndexDef{}, false
	}
	return sqlgen.IndexDef{Name: con.Name, Columns: sqlgen.FieldColumns(model, con.Fields), Unique: true}, true
}

// forgetIndex looks an index up by name, or by columns when unnamed, and
// removes it from the state. Indexes the state does not know about are
// skipped with a warning.
func (m *ChangeMeta) forgetIndex(c *MutateContext, table, name string, cols []string, unique bool) (string, bool, error) {
	if c.State == nil {
		return "", false, nil
	}
	plain := sqlgen.IndexDef{Columns: cols}.PlainColumns()
	var (
		existing dbstate.IndexState
		found    bool
	)
	if name != "" {
		existing, found = c.State.GetIndex(table, name)
	} else {
		existing, found = c.State.FindIndex(table, plain, unique)
		name = existing.Name
	}
	unique = existing.Unique
	if !found {
		debug.Warn("index to drop is not in the database state",
			"app", c.AppLabel, "model", m.ModelName, "table", table, "index", name, "columns", plain)
		return "", false, nil
	}
	if err := c.State.RemoveIndex(table, name, unique); err != nil {
		return "", false, err
	}
	return name, true, nil
}
