package evofile

import (
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/satishbabariya/schema-evolution/internal/graph"
	"github.com/satishbabariya/schema-evolution/internal/mutations"
	"github.com/satishbabariya/schema-evolution/internal/signature"
	"github.com/satishbabariya/schema-evolution/internal/sqlgen"
)

// Format renders an evolution file that Parse reads back into the same
// mutations.
func Format(deps graph.Dependencies, muts []mutations.Mutation) (string, error) {
	var b strings.Builder
	writeDirective(&b, directiveAfterEvolutions, evolutionRefs(deps.AfterEvolutions))
	writeDirective(&b, directiveBeforeEvolutions, evolutionRefs(deps.BeforeEvolutions))
	writeDirective(&b, directiveAfterMigrations, migrationRefs(deps.AfterMigrations))
	writeDirective(&b, directiveBeforeMigrations, migrationRefs(deps.BeforeMigrations))
	if b.Len() > 0 && len(muts) > 0 {
		b.WriteString("\n")
	}
	for _, m := range muts {
		line, err := formatMutation(m)
		if err != nil {
			return "", err
		}
		b.WriteString(line)
		b.WriteString("\n")
	}
	return b.String(), nil
}

func writeDirective(b *strings.Builder, name string, refs []string) {
	if len(refs) == 0 {
		return
	}
	fmt.Fprintf(b, "%s = %s\n", name, quoteList(refs))
}

func evolutionRefs(targets []graph.EvolutionTarget) []string {
	out := make([]string, len(targets))
	for i, t := range targets {
		out[i] = t.AppLabel
		if t.Label != "" {
			out[i] += "." + t.Label
		}
	}
	return out
}

func migrationRefs(targets []graph.MigrationTarget) []string {
	out := make([]string, len(targets))
	for i, t := range targets {
		out[i] = t.String()
	}
	return out
}

type call struct {
	name  string
	args  []string
	named []string
}

func (c *call) arg(v string) *call { c.args = append(c.args, v); return c }

func (c *call) kw(name, v string) *call {
	c.named = append(c.named, name+"="+v)
	return c
}

func (c *call) kwString(name, v string) *call {
	if v == "" {
		return c
	}
	return c.kw(name, strconv.Quote(v))
}

func (c *call) String() string {
	return c.name + "(" + strings.Join(append(append([]string(nil), c.args...), c.named...), ", ") + ")"
}

func formatMutation(m mutations.Mutation) (string, error) {
	switch m := m.(type) {
	case *mutations.AddField:
		c := &call{name: "AddField"}
		c.arg(strconv.Quote(m.ModelName)).arg(strconv.Quote(m.FieldName)).arg(string(m.FieldType))
		c.kwString("related_model", m.RelatedModel)
		if m.Initial != nil {
			init, err := formatInitial(m.Initial)
			if err != nil {
				return "", err
			}
			c.kw("initial", init)
		}
		if err := writeAttrs(c, m.Attrs); err != nil {
			return "", err
		}
		return c.String(), nil
	case *mutations.DeleteField:
		return (&call{name: "DeleteField"}).arg(strconv.Quote(m.ModelName)).arg(strconv.Quote(m.FieldName)).String(), nil
	case *mutations.RenameField:
		c := &call{name: "RenameField"}
		c.arg(strconv.Quote(m.ModelName)).arg(strconv.Quote(m.OldFieldName)).arg(strconv.Quote(m.NewFieldName))
		c.kwString("db_column", m.DBColumn).kwString("db_table", m.DBTable)
		return c.String(), nil
	case *mutations.ChangeField:
		c := &call{name: "ChangeField"}
		c.arg(strconv.Quote(m.ModelName)).arg(strconv.Quote(m.FieldName))
		if m.FieldType != "" {
			c.kw("field_type", string(m.FieldType))
		}
		c.kwString("related_model", m.RelatedModel)
		if m.Initial != nil {
			init, err := formatInitial(m.Initial)
			if err != nil {
				return "", err
			}
			c.kw("initial", init)
		}
		if err := writeAttrs(c, m.Attrs); err != nil {
			return "", err
		}
		return c.String(), nil
	case *mutations.ChangeMeta:
		value, err := formatMetaValue(m.PropName, m.NewValue)
		if err != nil {
			return "", err
		}
		return (&call{name: "ChangeMeta"}).arg(strconv.Quote(m.ModelName)).arg(strconv.Quote(m.PropName)).arg(value).String(), nil
	case *mutations.AddModel:
		return formatAddModel(m.Model)
	case *mutations.DeleteModel:
		return (&call{name: "DeleteModel"}).arg(strconv.Quote(m.ModelName)).String(), nil
	case *mutations.RenameModel:
		c := &call{name: "RenameModel"}
		c.arg(strconv.Quote(m.OldModelName)).arg(strconv.Quote(m.NewModelName)).kwString("db_table", m.DBTable)
		return c.String(), nil
	case *mutations.DeleteApplication:
		return "DeleteApplication()", nil
	case *mutations.SQLMutation:
		if m.Update != nil {
			return "", fmt.Errorf("SQL mutation %q has a signature update function that cannot be written to a file", m.Tag)
		}
		return (&call{name: "SQLMutation"}).arg(strconv.Quote(m.Tag)).arg(quoteList(m.SQL)).String(), nil
	case *mutations.MoveToMigrations:
		return (&call{name: "MoveToMigrations"}).kw("mark_applied", quoteList(m.MarkApplied)).String(), nil
	case *mutations.RenameAppLabel:
		c := &call{name: "RenameAppLabel"}
		c.arg(strconv.Quote(m.OldAppLabel)).arg(strconv.Quote(m.NewAppLabel)).kwString("legacy_app_label", m.LegacyAppLabel)
		if len(m.ModelNames) > 0 {
			c.kw("model_names", quoteList(m.ModelNames))
		}
		return c.String(), nil
	}
	return "", fmt.Errorf("cannot write mutation of kind %s", m.Kind())
}

func writeAttrs(c *call, attrs map[string]any) error {
	names := make([]string, 0, len(attrs))
	for name := range attrs {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		v, err := formatLiteral(attrs[name])
		if err != nil {
			return fmt.Errorf("attribute %q: %w", name, err)
		}
		c.kw(name, v)
	}
	return nil
}

func formatInitial(initial *sqlgen.Initial) (string, error) {
	switch {
	case mutations.NeedsUserValue(initial):
		return mutations.UserValueRequired, nil
	case initial.Expr != "":
		return "sql(" + strconv.Quote(initial.Expr) + ")", nil
	case initial.Func != nil:
		return formatLiteral(initial.Func())
	}
	return formatLiteral(initial.Value)
}

func formatLiteral(v any) (string, error) {
	switch v := v.(type) {
	case nil:
		return "null", nil
	case string:
		return strconv.Quote(v), nil
	case bool:
		return strconv.FormatBool(v), nil
	case int:
		return strconv.Itoa(v), nil
	case int32:
		return strconv.FormatInt(int64(v), 10), nil
	case int64:
		return strconv.FormatInt(v, 10), nil
	case float32:
		return strconv.FormatFloat(float64(v), 'f', -1, 32), nil
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64), nil
	case []string:
		return quoteList(v), nil
	case []any:
		items := make([]string, len(v))
		for i, item := range v {
			s, err := formatLiteral(item)
			if err != nil {
				return "", err
			}
			items[i] = s
		}
		return "[" + strings.Join(items, ", ") + "]", nil
	}
	return "", fmt.Errorf("unsupported value %v (%T)", v, v)
}

func quoteList(items []string) string {
	quoted := make([]string, len(items))
	for i, s := range items {
		quoted[i] = strconv.Quote(s)
	}
	return "[" + strings.Join(quoted, ", ") + "]"
}

func formatTogether(t signature.Together) string {
	groups := make([]string, len(t))
	for i, group := range t {
		groups[i] = quoteList(group)
	}
	return "[" + strings.Join(groups, ", ") + "]"
}

func formatIndexes(indexes []*signature.IndexSignature) string {
	items := make([]string, len(indexes))
	for i, idx := range indexes {
		c := &call{name: "Index"}
		c.kwString("name", idx.Name)
		c.kw("fields", quoteList(idx.Fields))
		if idx.Unique {
			c.kw("unique", "true")
		}
		items[i] = c.String()
	}
	return "[" + strings.Join(items, ", ") + "]"
}

func formatConstraints(constraints []*signature.ConstraintSignature) string {
	items := make([]string, len(constraints))
	for i, con := range constraints {
		var c *call
		if con.Type == signature.ConstraintCheck {
			c = &call{name: "CheckConstraint"}
			c.kwString("name", con.Name)
			c.kwString("check", con.Check)
		} else {
			c = &call{name: "UniqueConstraint"}
			c.kwString("name", con.Name)
			c.kw("fields", quoteList(con.Fields))
			c.kwString("condition", con.Condition)
		}
		items[i] = c.String()
	}
	return "[" + strings.Join(items, ", ") + "]"
}

func formatMetaValue(prop string, value any) (string, error) {
	switch v := value.(type) {
	case signature.Together:
		return formatTogether(v), nil
	case []*signature.IndexSignature:
		return formatIndexes(v), nil
	case []*signature.ConstraintSignature:
		return formatConstraints(v), nil
	case string:
		return strconv.Quote(v), nil
	}
	return "", fmt.Errorf("unsupported value %T for meta property %q", value, prop)
}

func formatAddModel(model *signature.ModelSignature) (string, error) {
	c := &call{name: "AddModel"}
	c.arg(strconv.Quote(model.ModelName))
	c.kwString("db_table", model.TableName)
	c.kwString("pk_column", model.PKColumn)
	c.kwString("db_tablespace", model.DBTablespace)
	if len(model.UniqueTogether) > 0 {
		c.kw("unique_together", formatTogether(model.UniqueTogether))
	}
	if len(model.IndexTogether) > 0 {
		c.kw("index_together", formatTogether(model.IndexTogether))
	}
	if len(model.Indexes) > 0 {
		c.kw("indexes", formatIndexes(model.Indexes))
	}
	if len(model.Constraints) > 0 {
		c.kw("constraints", formatConstraints(model.Constraints))
	}
	fields := make([]string, 0, len(model.FieldNames()))
	for _, f := range model.FieldSigs() {
		fc := &call{name: "Field"}
		fc.arg(strconv.Quote(f.FieldName)).arg(string(f.FieldType))
		fc.kwString("related_model", f.RelatedModel)
		if err := writeAttrs(fc, f.Attrs()); err != nil {
			return "", err
		}
		fields = append(fields, fc.String())
	}
	c.kw("fields", "["+strings.Join(fields, ", ")+"]")
	return c.String(), nil
}
