package registry

import (
	"bytes"
	"fmt"
	"strings"

	"github.com/spf13/afero"
	"gopkg.in/yaml.v3"

	"github.com/satishbabariya/schema-evolution/internal/signature"
	"github.com/satishbabariya/schema-evolution/internal/sqlgen"
)

// ModelsFile is the YAML document listing every app and its models.
type ModelsFile struct {
	Apps []AppDef `yaml:"apps"`
}

// AppDef declares one app.
type AppDef struct {
	Label             string     `yaml:"label"`
	LegacyLabel       string     `yaml:"legacy_label,omitempty"`
	UpgradeMethod     string     `yaml:"upgrade_method,omitempty"`
	AppliedMigrations []string   `yaml:"applied_migrations,omitempty"`
	Models            []ModelDef `yaml:"models"`
}

// ModelDef declares one model.
type ModelDef struct {
	Name           string          `yaml:"name"`
	Table          string          `yaml:"table,omitempty"`
	DBTablespace   string          `yaml:"db_tablespace,omitempty"`
	UniqueTogether [][]string      `yaml:"unique_together,omitempty"`
	IndexTogether  [][]string      `yaml:"index_together,omitempty"`
	Indexes        []IndexDef      `yaml:"indexes,omitempty"`
	Constraints    []ConstraintDef `yaml:"constraints,omitempty"`
	Fields         []FieldDef      `yaml:"fields"`
}

// IndexDef declares an explicit index. Field names prefixed with "-" are
// indexed in descending order.
type IndexDef struct {
	Name   string   `yaml:"name,omitempty"`
	Fields []string `yaml:"fields"`
	Unique bool     `yaml:"unique,omitempty"`
}

// ConstraintDef declares a named table constraint. Type is "check", with
// an SQL expression in Check, or "unique", with Fields and an optional
// Condition that makes it partial.
type ConstraintDef struct {
	Name      string   `yaml:"name"`
	Type      string   `yaml:"type"`
	Check     string   `yaml:"check,omitempty"`
	Fields    []string `yaml:"fields,omitempty"`
	Condition string   `yaml:"condition,omitempty"`
}

// FieldDef declares one field. Attributes of the field type's schema, such
// as max_length or null, are given inline.
type FieldDef struct {
	Name         string         `yaml:"name"`
	Type         string         `yaml:"type"`
	RelatedModel string         `yaml:"related_model,omitempty"`
	Default      any            `yaml:"default,omitempty"`
	DefaultSQL   string         `yaml:"default_sql,omitempty"`
	Attrs        map[string]any `yaml:",inline"`
}

// FileRegistry is a Registry backed by a models file.
type FileRegistry struct {
	file ModelsFile
	apps map[string]*AppDef
}

var _ Registry = (*FileRegistry)(nil)

// Load reads and validates a models file.
func Load(fs afero.Fs, path string) (*FileRegistry, error) {
	data, err := afero.ReadFile(fs, path)
	if err != nil {
		return nil, fmt.Errorf("failed to read models file: %w", err)
	}
	return Parse(data)
}

// Parse decodes and validates a models file.
func Parse(data []byte) (*FileRegistry, error) {
	var file ModelsFile
	dec := yaml.NewDecoder(bytes.NewReader(data))
	if err := dec.Decode(&file); err != nil {
		return nil, fmt.Errorf("failed to parse models file: %w", err)
	}
	return New(file)
}

// New validates file and wraps it in a registry.
func New(file ModelsFile) (*FileRegistry, error) {
	r := &FileRegistry{file: file, apps: make(map[string]*AppDef, len(file.Apps))}
	for i := range r.file.Apps {
		app := &r.file.Apps[i]
		if app.Label == "" {
			return nil, fmt.Errorf("app #%d has no label", i+1)
		}
		if _, dup := r.apps[app.Label]; dup {
			return nil, fmt.Errorf("app %q is declared twice", app.Label)
		}
		switch signature.UpgradeMethod(app.UpgradeMethod) {
		case signature.UpgradeUnknown, signature.UpgradeEvolutions, signature.UpgradeMigrations:
		default:
			return nil, fmt.Errorf("app %q: unknown upgrade_method %q", app.Label, app.UpgradeMethod)
		}
		seen := make(map[string]bool, len(app.Models))
		for _, model := range app.Models {
			if model.Name == "" {
				return nil, fmt.Errorf("app %q: model without a name", app.Label)
			}
			if seen[model.Name] {
				return nil, fmt.Errorf("app %q: model %q is declared twice", app.Label, model.Name)
			}
			seen[model.Name] = true
			for _, field := range model.Fields {
				fieldType, err := signature.ParseFieldType(field.Type)
				if err != nil {
					return nil, fmt.Errorf("field %s.%s.%s: %w", app.Label, model.Name, field.Name, err)
				}
				if fieldType.IsRelation() && field.RelatedModel == "" {
					return nil, fmt.Errorf("field %s.%s.%s: related_model is required", app.Label, model.Name, field.Name)
				}
			}
			if err := validateConstraints(model.Constraints); err != nil {
				return nil, fmt.Errorf("model %s.%s: %w", app.Label, model.Name, err)
			}
		}
		r.apps[app.Label] = app
	}
	return r, nil
}

func (r *FileRegistry) AppLabels() []string {
	labels := make([]string, 0, len(r.file.Apps))
	for _, app := range r.file.Apps {
		labels = append(labels, app.Label)
	}
	return labels
}

func (r *FileRegistry) AppSignature(appLabel string) (*signature.AppSignature, error) {
	app, ok := r.apps[appLabel]
	if !ok {
		return nil, fmt.Errorf("app %q: %w", appLabel, signature.ErrMissingSignature)
	}
	sig := signature.NewAppSignature(app.Label)
	if app.LegacyLabel != "" {
		sig.LegacyAppLabel = app.LegacyLabel
	}
	sig.UpgradeMethod = signature.UpgradeMethod(app.UpgradeMethod)
	if sig.UpgradeMethod == signature.UpgradeUnknown {
		sig.UpgradeMethod = signature.UpgradeEvolutions
	}
	sig.SetAppliedMigrations(app.AppliedMigrations)
	for _, model := range app.Models {
		sig.AddModelSig(modelSignature(app.Label, model))
	}
	return sig, nil
}

func (r *FileRegistry) ProjectSignature() (*signature.ProjectSignature, error) {
	project := signature.NewProjectSignature()
	for _, label := range r.AppLabels() {
		app, err := r.AppSignature(label)
		if err != nil {
			return nil, err
		}
		project.AddAppSig(app)
	}
	return project, nil
}

func (r *FileRegistry) AppsForTable(table string) []string {
	var out []string
	for _, app := range r.file.Apps {
		for _, model := range app.Models {
			if tableName(app.Label, model) == table {
				out = append(out, app.Label)
				break
			}
		}
	}
	return out
}

func (r *FileRegistry) InitialValue(appLabel, modelName, fieldName string) (*sqlgen.Initial, bool) {
	app, ok := r.apps[appLabel]
	if !ok {
		return nil, false
	}
	for _, model := range app.Models {
		if model.Name != modelName {
			continue
		}
		for _, field := range model.Fields {
			if field.Name != fieldName {
				continue
			}
			switch {
			case field.DefaultSQL != "":
				return &sqlgen.Initial{Expr: field.DefaultSQL}, true
			case field.Default != nil:
				return &sqlgen.Initial{Value: field.Default}, true
			}
			return nil, false
		}
	}
	return nil, false
}

func validateConstraints(defs []ConstraintDef) error {
	names := make(map[string]bool, len(defs))
	for _, def := range defs {
		if def.Name == "" {
			return fmt.Errorf("constraint without a name")
		}
		if names[def.Name] {
			return fmt.Errorf("constraint %q is declared twice", def.Name)
		}
		names[def.Name] = true
		ctype, err := signature.ParseConstraintType(def.Type)
		if err != nil {
			return fmt.Errorf("constraint %q: %w", def.Name, err)
		}
		if ctype == signature.ConstraintCheck && def.Check == "" {
			return fmt.Errorf("constraint %q: check is required", def.Name)
		}
		if ctype == signature.ConstraintUnique && len(def.Fields) == 0 {
			return fmt.Errorf("constraint %q: fields are required", def.Name)
		}
	}
	return nil
}

func tableName(appLabel string, model ModelDef) string {
	if model.Table != "" {
		return model.Table
	}
	return appLabel + "_" + strings.ToLower(model.Name)
}

// modelSignature builds a model's signature. Models without a primary key
// get an auto-incrementing "id" field first.
func modelSignature(appLabel string, def ModelDef) *signature.ModelSignature {
	model := signature.NewModelSignature(def.Name, tableName(appLabel, def))
	model.DBTablespace = def.DBTablespace
	model.UniqueTogether = together(def.UniqueTogether)
	model.IndexTogether = together(def.IndexTogether)
	model.UniqueTogetherApplied = true
	for _, idx := range def.Indexes {
		model.Indexes = append(model.Indexes, signature.NewIndexSignature(idx.Name, idx.Fields, idx.Unique))
	}
	for _, con := range def.Constraints {
		if con.Type == string(signature.ConstraintCheck) {
			model.Constraints = append(model.Constraints, signature.NewCheckConstraint(con.Name, con.Check))
		} else {
			model.Constraints = append(model.Constraints, signature.NewUniqueConstraint(con.Name, con.Fields, con.Condition))
		}
	}

	var fields []*signature.FieldSignature
	for _, fd := range def.Fields {
		// Validated in New.
		fieldType, _ := signature.ParseFieldType(fd.Type)
		related := fd.RelatedModel
		if related != "" && !strings.Contains(related, ".") {
			related = signature.ModelRef(appLabel, related)
		}
		fields = append(fields, signature.NewFieldSignature(fd.Name, fieldType, fd.Attrs, related))
	}

	hasPK := false
	for _, f := range fields {
		if f.IsPrimaryKey() {
			hasPK = true
			model.PKColumn = f.Column()
		}
	}
	if !hasPK {
		id := signature.NewFieldSignature("id", signature.FieldAuto, map[string]any{"primary_key": true}, "")
		model.AddFieldSig(id)
		model.PKColumn = id.Column()
	}
	for _, f := range fields {
		model.AddFieldSig(f)
	}
	return model
}

func together(groups [][]string) signature.Together {
	if len(groups) == 0 {
		return nil
	}
	out := make(signature.Together, len(groups))
	for i, group := range groups {
		out[i] = append([]string(nil), group...)
	}
	return out
}
