package evofile

import (
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/alecthomas/participle/v2/lexer"

	"github.com/satishbabariya/schema-evolution/internal/graph"
	"github.com/satishbabariya/schema-evolution/internal/mutations"
	"github.com/satishbabariya/schema-evolution/internal/signature"
	"github.com/satishbabariya/schema-evolution/internal/sqlgen"
)

// ErrInvalidEvolution is returned for evolution files that parse but do not
// describe valid mutations.
var ErrInvalidEvolution = errors.New("invalid evolution file")

// Evolution is the content of one evolution file.
type Evolution struct {
	AppLabel     string
	Label        string
	Dependencies graph.Dependencies
	Mutations    []mutations.Mutation
}

type decodeError struct {
	pos lexer.Position
	msg string
}

func (e *decodeError) Error() string { return e.pos.String() + ": " + e.msg }

func (e *decodeError) Is(target error) bool { return target == ErrInvalidEvolution }

func errorf(pos lexer.Position, format string, args ...any) error {
	return &decodeError{pos: pos, msg: fmt.Sprintf(format, args...)}
}

// Parse reads an evolution file.
func Parse(filename string, r io.Reader) (*Evolution, error) {
	file, err := parseAST(filename, r)
	if err != nil {
		return nil, fmt.Errorf("failed to parse %s: %w", filename, err)
	}
	ev := &Evolution{}
	for _, stmt := range file.Statements {
		if stmt.Directive != nil {
			if err := applyDirective(&ev.Dependencies, stmt.Directive); err != nil {
				return nil, err
			}
			continue
		}
		m, err := decodeMutation(stmt.Call)
		if err != nil {
			return nil, err
		}
		ev.Mutations = append(ev.Mutations, m)
	}
	return ev, nil
}

// ParseString reads an evolution file from a string.
func ParseString(filename, text string) (*Evolution, error) {
	return Parse(filename, strings.NewReader(text))
}

// Directive names.
const (
	directiveAfterEvolutions  = "after_evolutions"
	directiveBeforeEvolutions = "before_evolutions"
	directiveAfterMigrations  = "after_migrations"
	directiveBeforeMigrations = "before_migrations"
)

func applyDirective(deps *graph.Dependencies, d *directiveAST) error {
	refs, err := stringList(d.Value)
	if err != nil {
		return err
	}
	switch d.Name {
	case directiveAfterEvolutions, directiveBeforeEvolutions:
		targets := make([]graph.EvolutionTarget, len(refs))
		for i, ref := range refs {
			targets[i] = ParseEvolutionTarget(ref)
		}
		if d.Name == directiveAfterEvolutions {
			deps.AfterEvolutions = append(deps.AfterEvolutions, targets...)
		} else {
			deps.BeforeEvolutions = append(deps.BeforeEvolutions, targets...)
		}
	case directiveAfterMigrations, directiveBeforeMigrations:
		targets := make([]graph.MigrationTarget, len(refs))
		for i, ref := range refs {
			t, ok := ParseMigrationTarget(ref)
			if !ok {
				return errorf(d.Pos, "migration reference %q must be of the form app.name", ref)
			}
			targets[i] = t
		}
		if d.Name == directiveAfterMigrations {
			deps.AfterMigrations = append(deps.AfterMigrations, targets...)
		} else {
			deps.BeforeMigrations = append(deps.BeforeMigrations, targets...)
		}
	default:
		return errorf(d.Pos, "unknown directive %q", d.Name)
	}
	return nil
}

// ParseEvolutionTarget reads "app" or "app.label".
func ParseEvolutionTarget(ref string) graph.EvolutionTarget {
	app, label, _ := strings.Cut(ref, ".")
	return graph.EvolutionTarget{AppLabel: app, Label: label}
}

// ParseMigrationTarget reads "app.name".
func ParseMigrationTarget(ref string) (graph.MigrationTarget, bool) {
	app, name, ok := strings.Cut(ref, ".")
	if !ok || app == "" || name == "" {
		return graph.MigrationTarget{}, false
	}
	return graph.MigrationTarget{AppLabel: app, Name: name}, true
}

// callArgs binds a call's positional and keyword arguments.
type callArgs struct {
	call  *callAST
	pos   []*valueAST
	named map[string]*valueAST
	used  map[string]bool
}

func bindArgs(call *callAST) (*callArgs, error) {
	a := &callArgs{call: call, named: make(map[string]*valueAST), used: make(map[string]bool)}
	for _, arg := range call.Args {
		if arg.Name == "" {
			if len(a.named) > 0 {
				return nil, errorf(arg.Pos, "%s: positional argument follows keyword argument", call.Name)
			}
			a.pos = append(a.pos, arg.Value)
			continue
		}
		if _, dup := a.named[arg.Name]; dup {
			return nil, errorf(arg.Pos, "%s: argument %q given twice", call.Name, arg.Name)
		}
		a.named[arg.Name] = arg.Value
	}
	return a, nil
}

// get returns the argument at position i or named name.
func (a *callArgs) get(i int, name string) *valueAST {
	a.used[name] = true
	if i >= 0 && i < len(a.pos) {
		return a.pos[i]
	}
	return a.named[name]
}

func (a *callArgs) requiredString(i int, name string) (string, error) {
	v := a.get(i, name)
	if v == nil {
		return "", errorf(a.call.Pos, "%s: missing argument %q", a.call.Name, name)
	}
	return identOrString(v)
}

func (a *callArgs) optionalString(i int, name string) (string, error) {
	v := a.get(i, name)
	if v == nil || v.isNull() {
		return "", nil
	}
	return identOrString(v)
}

func (a *callArgs) optionalStrings(i int, name string) ([]string, error) {
	v := a.get(i, name)
	if v == nil || v.isNull() {
		return nil, nil
	}
	return stringList(v)
}

// rest returns the keyword arguments not consumed so far.
func (a *callArgs) rest() map[string]*valueAST {
	out := make(map[string]*valueAST)
	for name, v := range a.named {
		if !a.used[name] {
			out[name] = v
		}
	}
	return out
}

// done fails on arguments nothing consumed.
func (a *callArgs) done(maxPositional int) error {
	if len(a.pos) > maxPositional {
		return errorf(a.call.Pos, "%s: too many positional arguments", a.call.Name)
	}
	for name := range a.named {
		if !a.used[name] {
			return errorf(a.call.Pos, "%s: unexpected argument %q", a.call.Name, name)
		}
	}
	return nil
}

func (v *valueAST) isNull() bool {
	return v.Ident != nil && (*v.Ident == "null" || *v.Ident == "None")
}

func identOrString(v *valueAST) (string, error) {
	switch {
	case v.String != nil:
		return *v.String, nil
	case v.Ident != nil:
		return *v.Ident, nil
	}
	return "", errorf(v.Pos, "expected a name or string")
}

func stringList(v *valueAST) ([]string, error) {
	if v.List == nil {
		return nil, errorf(v.Pos, "expected a list of strings")
	}
	out := make([]string, 0, len(v.List.Items))
	for _, item := range v.List.Items {
		s, err := identOrString(item)
		if err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, nil
}

func togetherValue(v *valueAST) (signature.Together, error) {
	if v.List == nil {
		return nil, errorf(v.Pos, "expected a list of field name lists")
	}
	out := make(signature.Together, 0, len(v.List.Items))
	for _, item := range v.List.Items {
		group, err := stringList(item)
		if err != nil {
			return nil, err
		}
		out = append(out, group)
	}
	return out, nil
}

// literal converts a value into the plain data stored in attributes.
func literal(v *valueAST) (any, error) {
	switch {
	case v.Placeholder:
		return nil, errorf(v.Pos, "%s is only allowed as an initial value", mutations.UserValueRequired)
	case v.String != nil:
		return *v.String, nil
	case v.Number != nil:
		if i, err := strconv.ParseInt(*v.Number, 10, 64); err == nil {
			return i, nil
		}
		f, err := strconv.ParseFloat(*v.Number, 64)
		if err != nil {
			return nil, errorf(v.Pos, "invalid number %q", *v.Number)
		}
		return f, nil
	case v.List != nil:
		out := make([]any, 0, len(v.List.Items))
		for _, item := range v.List.Items {
			x, err := literal(item)
			if err != nil {
				return nil, err
			}
			out = append(out, x)
		}
		return out, nil
	case v.Ident != nil:
		switch *v.Ident {
		case "true", "True":
			return true, nil
		case "false", "False":
			return false, nil
		case "null", "None":
			return nil, nil
		}
		return *v.Ident, nil
	case v.Call != nil:
		return nil, errorf(v.Pos, "%s(...) is not a literal value", v.Call.Name)
	}
	return nil, errorf(v.Pos, "empty value")
}

// initialValue reads an initial value: a literal, the user-value
// placeholder or sql("expression").
func initialValue(v *valueAST) (*sqlgen.Initial, error) {
	if v == nil || v.isNull() {
		return nil, nil
	}
	if v.Placeholder {
		return mutations.Placeholder(), nil
	}
	if v.Call != nil {
		if v.Call.Name != "sql" || len(v.Call.Args) != 1 || v.Call.Args[0].Value.String == nil {
			return nil, errorf(v.Pos, `initial values must be literals or sql("expression")`)
		}
		return &sqlgen.Initial{Expr: *v.Call.Args[0].Value.String}, nil
	}
	x, err := literal(v)
	if err != nil {
		return nil, err
	}
	return &sqlgen.Initial{Value: x}, nil
}

func fieldType(v *valueAST) (signature.FieldType, error) {
	s, err := identOrString(v)
	if err != nil {
		return "", err
	}
	t, err := signature.ParseFieldType(s)
	if err != nil {
		return "", errorf(v.Pos, "%v", err)
	}
	return t, nil
}

func attrs(named map[string]*valueAST) (map[string]any, error) {
	if len(named) == 0 {
		return nil, nil
	}
	out := make(map[string]any, len(named))
	for name, v := range named {
		x, err := literal(v)
		if err != nil {
			return nil, err
		}
		out[name] = x
	}
	return out, nil
}

func decodeMutation(call *callAST) (mutations.Mutation, error) {
	a, err := bindArgs(call)
	if err != nil {
		return nil, err
	}
	switch call.Name {
	case "AddField":
		return decodeAddField(a)
	case "DeleteField":
		m := &mutations.DeleteField{}
		if m.ModelName, err = a.requiredString(0, "model_name"); err != nil {
			return nil, err
		}
		if m.FieldName, err = a.requiredString(1, "field_name"); err != nil {
			return nil, err
		}
		return m, a.done(2)
	case "RenameField":
		m := &mutations.RenameField{}
		if m.ModelName, err = a.requiredString(0, "model_name"); err != nil {
			return nil, err
		}
		if m.OldFieldName, err = a.requiredString(1, "old_field_name"); err != nil {
			return nil, err
		}
		if m.NewFieldName, err = a.requiredString(2, "new_field_name"); err != nil {
			return nil, err
		}
		if m.DBColumn, err = a.optionalString(-1, "db_column"); err != nil {
			return nil, err
		}
		if m.DBTable, err = a.optionalString(-1, "db_table"); err != nil {
			return nil, err
		}
		return m, a.done(3)
	case "ChangeField":
		return decodeChangeField(a)
	case "ChangeMeta":
		return decodeChangeMeta(a)
	case "AddModel":
		return decodeAddModel(a)
	case "DeleteModel":
		m := &mutations.DeleteModel{}
		if m.ModelName, err = a.requiredString(0, "model_name"); err != nil {
			return nil, err
		}
		return m, a.done(1)
	case "RenameModel":
		m := &mutations.RenameModel{}
		if m.OldModelName, err = a.requiredString(0, "old_model_name"); err != nil {
			return nil, err
		}
		if m.NewModelName, err = a.requiredString(1, "new_model_name"); err != nil {
			return nil, err
		}
		if m.DBTable, err = a.optionalString(-1, "db_table"); err != nil {
			return nil, err
		}
		return m, a.done(2)
	case "DeleteApplication":
		return &mutations.DeleteApplication{}, a.done(0)
	case "SQLMutation":
		m := &mutations.SQLMutation{}
		if m.Tag, err = a.requiredString(0, "tag"); err != nil {
			return nil, err
		}
		v := a.get(1, "sql")
		if v == nil {
			return nil, errorf(call.Pos, "SQLMutation: missing argument %q", "sql")
		}
		if m.SQL, err = stringList(v); err != nil {
			return nil, err
		}
		return m, a.done(2)
	case "MoveToMigrations":
		m := &mutations.MoveToMigrations{}
		if m.MarkApplied, err = a.optionalStrings(0, "mark_applied"); err != nil {
			return nil, err
		}
		return m, a.done(1)
	case "RenameAppLabel":
		m := &mutations.RenameAppLabel{}
		if m.OldAppLabel, err = a.requiredString(0, "old_app_label"); err != nil {
			return nil, err
		}
		if m.NewAppLabel, err = a.requiredString(1, "new_app_label"); err != nil {
			return nil, err
		}
		if m.LegacyAppLabel, err = a.optionalString(-1, "legacy_app_label"); err != nil {
			return nil, err
		}
		if m.ModelNames, err = a.optionalStrings(-1, "model_names"); err != nil {
			return nil, err
		}
		return m, a.done(2)
	}
	return nil, errorf(call.Pos, "unknown mutation %q", call.Name)
}

func decodeAddField(a *callArgs) (mutations.Mutation, error) {
	var err error
	m := &mutations.AddField{}
	if m.ModelName, err = a.requiredString(0, "model_name"); err != nil {
		return nil, err
	}
	if m.FieldName, err = a.requiredString(1, "field_name"); err != nil {
		return nil, err
	}
	typeArg := a.get(2, "field_type")
	if typeArg == nil {
		return nil, errorf(a.call.Pos, "AddField: missing argument %q", "field_type")
	}
	if m.FieldType, err = fieldType(typeArg); err != nil {
		return nil, err
	}
	if m.RelatedModel, err = a.optionalString(-1, "related_model"); err != nil {
		return nil, err
	}
	if m.Initial, err = initialValue(a.get(-1, "initial")); err != nil {
		return nil, err
	}
	if m.Attrs, err = attrs(a.rest()); err != nil {
		return nil, err
	}
	if len(a.pos) > 3 {
		return nil, errorf(a.call.Pos, "AddField: too many positional arguments")
	}
	return m, nil
}

func decodeChangeField(a *callArgs) (mutations.Mutation, error) {
	var err error
	m := &mutations.ChangeField{}
	if m.ModelName, err = a.requiredString(0, "model_name"); err != nil {
		return nil, err
	}
	if m.FieldName, err = a.requiredString(1, "field_name"); err != nil {
		return nil, err
	}
	if v := a.get(-1, "field_type"); v != nil {
		if m.FieldType, err = fieldType(v); err != nil {
			return nil, err
		}
	}
	if m.RelatedModel, err = a.optionalString(-1, "related_model"); err != nil {
		return nil, err
	}
	if m.Initial, err = initialValue(a.get(-1, "initial")); err != nil {
		return nil, err
	}
	if m.Attrs, err = attrs(a.rest()); err != nil {
		return nil, err
	}
	if len(a.pos) > 2 {
		return nil, errorf(a.call.Pos, "ChangeField: too many positional arguments")
	}
	return m, nil
}

func decodeChangeMeta(a *callArgs) (mutations.Mutation, error) {
	var err error
	m := &mutations.ChangeMeta{}
	if m.ModelName, err = a.requiredString(0, "model_name"); err != nil {
		return nil, err
	}
	if m.PropName, err = a.requiredString(1, "prop_name"); err != nil {
		return nil, err
	}
	v := a.get(2, "new_value")
	if v == nil {
		return nil, errorf(a.call.Pos, "ChangeMeta: missing argument %q", "new_value")
	}
	switch m.PropName {
	case mutations.MetaUniqueTogether, mutations.MetaIndexTogether:
		m.NewValue, err = togetherValue(v)
	case mutations.MetaIndexes:
		m.NewValue, err = indexList(v)
	case mutations.MetaConstraints:
		m.NewValue, err = constraintList(v)
	case mutations.MetaDBTablespace:
		m.NewValue, err = identOrString(v)
	default:
		return nil, errorf(a.call.Pos, "ChangeMeta: unsupported property %q", m.PropName)
	}
	if err != nil {
		return nil, err
	}
	return m, a.done(3)
}

func indexList(v *valueAST) ([]*signature.IndexSignature, error) {
	if v.List == nil {
		return nil, errorf(v.Pos, "expected a list of Index(...) values")
	}
	out := make([]*signature.IndexSignature, 0, len(v.List.Items))
	for _, item := range v.List.Items {
		if item.Call == nil || item.Call.Name != "Index" {
			return nil, errorf(item.Pos, "expected Index(...)")
		}
		a, err := bindArgs(item.Call)
		if err != nil {
			return nil, err
		}
		fields, err := a.optionalStrings(-1, "fields")
		if err != nil {
			return nil, err
		}
		name, err := a.optionalString(-1, "name")
		if err != nil {
			return nil, err
		}
		unique := false
		if u := a.get(-1, "unique"); u != nil {
			x, err := literal(u)
			if err != nil {
				return nil, err
			}
			unique, _ = x.(bool)
		}
		if err := a.done(0); err != nil {
			return nil, err
		}
		out = append(out, signature.NewIndexSignature(name, fields, unique))
	}
	return out, nil
}

// constraintList reads CheckConstraint(name=..., check=...) and
// UniqueConstraint(name=..., fields=[...], condition=...) values.
func constraintList(v *valueAST) ([]*signature.ConstraintSignature, error) {
	if v.List == nil {
		return nil, errorf(v.Pos, "expected a list of constraints")
	}
	out := make([]*signature.ConstraintSignature, 0, len(v.List.Items))
	for _, item := range v.List.Items {
		if item.Call == nil {
			return nil, errorf(item.Pos, "expected CheckConstraint(...) or UniqueConstraint(...)")
		}
		a, err := bindArgs(item.Call)
		if err != nil {
			return nil, err
		}
		name, err := a.requiredString(-1, "name")
		if err != nil {
			return nil, err
		}
		switch item.Call.Name {
		case "CheckConstraint":
			check, err := a.requiredString(-1, "check")
			if err != nil {
				return nil, err
			}
			out = append(out, signature.NewCheckConstraint(name, check))
		case "UniqueConstraint":
			fields, err := a.optionalStrings(-1, "fields")
			if err != nil {
				return nil, err
			}
			if len(fields) == 0 {
				return nil, errorf(item.Pos, "UniqueConstraint %q: fields must not be empty", name)
			}
			condition, err := a.optionalString(-1, "condition")
			if err != nil {
				return nil, err
			}
			out = append(out, signature.NewUniqueConstraint(name, fields, condition))
		default:
			return nil, errorf(item.Pos, "expected CheckConstraint(...) or UniqueConstraint(...), got %s(...)", item.Call.Name)
		}
		if err := a.done(0); err != nil {
			return nil, err
		}
	}
	return out, nil
}

func decodeAddModel(a *callArgs) (mutations.Mutation, error) {
	name, err := a.requiredString(0, "model_name")
	if err != nil {
		return nil, err
	}
	table, err := a.requiredString(-1, "db_table")
	if err != nil {
		return nil, err
	}
	model := signature.NewModelSignature(name, table)
	if model.PKColumn, err = a.optionalString(-1, "pk_column"); err != nil {
		return nil, err
	}
	if model.DBTablespace, err = a.optionalString(-1, "db_tablespace"); err != nil {
		return nil, err
	}
	if v := a.get(-1, "unique_together"); v != nil {
		if model.UniqueTogether, err = togetherValue(v); err != nil {
			return nil, err
		}
		model.UniqueTogetherApplied = true
	}
	if v := a.get(-1, "index_together"); v != nil {
		if model.IndexTogether, err = togetherValue(v); err != nil {
			return nil, err
		}
	}
	if v := a.get(-1, "indexes"); v != nil {
		if model.Indexes, err = indexList(v); err != nil {
			return nil, err
		}
	}
	if v := a.get(-1, "constraints"); v != nil {
		if model.Constraints, err = constraintList(v); err != nil {
			return nil, err
		}
	}

	fields := a.get(-1, "fields")
	if fields == nil || fields.List == nil {
		return nil, errorf(a.call.Pos, "AddModel: fields must be a list of Field(...) values")
	}
	for _, item := range fields.List.Items {
		if item.Call == nil || item.Call.Name != "Field" {
			return nil, errorf(item.Pos, "expected Field(...)")
		}
		fa, err := bindArgs(item.Call)
		if err != nil {
			return nil, err
		}
		fieldName, err := fa.requiredString(0, "name")
		if err != nil {
			return nil, err
		}
		typeArg := fa.get(1, "field_type")
		if typeArg == nil {
			return nil, errorf(item.Pos, "Field: missing argument %q", "field_type")
		}
		ft, err := fieldType(typeArg)
		if err != nil {
			return nil, err
		}
		related, err := fa.optionalString(-1, "related_model")
		if err != nil {
			return nil, err
		}
		fieldAttrs, err := attrs(fa.rest())
		if err != nil {
			return nil, err
		}
		if len(fa.pos) > 2 {
			return nil, errorf(item.Pos, "Field: too many positional arguments")
		}
		f := signature.NewFieldSignature(fieldName, ft, fieldAttrs, related)
		model.AddFieldSig(f)
		if model.PKColumn == "" && f.IsPrimaryKey() {
			model.PKColumn = f.Column()
		}
	}
	if err := a.done(1); err != nil {
		return nil, err
	}
	return &mutations.AddModel{Model: model}, nil
}
