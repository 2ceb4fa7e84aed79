package signature

import (
	"fmt"
	"sort"
)

// FieldType is the abstract column type tag stored in a field signature.
type FieldType string

const (
	FieldAuto       FieldType = "auto"
	FieldBigAuto    FieldType = "bigauto"
	FieldChar       FieldType = "char"
	FieldText       FieldType = "text"
	FieldInt        FieldType = "int"
	FieldBigInt     FieldType = "bigint"
	FieldSmallInt   FieldType = "smallint"
	FieldFloat      FieldType = "float"
	FieldDecimal    FieldType = "decimal"
	FieldBoolean    FieldType = "boolean"
	FieldDate       FieldType = "date"
	FieldDateTime   FieldType = "datetime"
	FieldTime       FieldType = "time"
	FieldForeignKey FieldType = "foreign-key"
	FieldOneToOne   FieldType = "one-to-one"
	FieldManyToMany FieldType = "many-to-many"
	FieldGeneric    FieldType = "generic"
)

var knownFieldTypes = map[FieldType]bool{
	FieldAuto: true, FieldBigAuto: true, FieldChar: true, FieldText: true,
	FieldInt: true, FieldBigInt: true, FieldSmallInt: true, FieldFloat: true,
	FieldDecimal: true, FieldBoolean: true, FieldDate: true, FieldDateTime: true,
	FieldTime: true, FieldForeignKey: true, FieldOneToOne: true,
	FieldManyToMany: true, FieldGeneric: true,
}

// ParseFieldType validates a type tag.
func ParseFieldType(s string) (FieldType, error) {
	t := FieldType(s)
	if !knownFieldTypes[t] {
		return "", fmt.Errorf("unknown field type %q", s)
	}
	return t, nil
}

// IsRelation reports whether the type points at another model.
func (t FieldType) IsRelation() bool {
	return t == FieldForeignKey || t == FieldOneToOne || t == FieldManyToMany
}

// IsManyToMany reports whether the type is backed by an association table.
func (t FieldType) IsManyToMany() bool {
	return t == FieldManyToMany
}

// HasColumn reports whether fields of this type own a column on their
// model's table.
func (t FieldType) HasColumn() bool {
	return t != FieldManyToMany && t != FieldGeneric
}

// AttrDefault is one entry of a field type's attribute schema.
type AttrDefault struct {
	Name    string
	Default any
}

var commonAttrDefaults = []AttrDefault{
	{Name: "primary_key", Default: false},
	{Name: "max_length", Default: nil},
	{Name: "unique", Default: false},
	{Name: "null", Default: false},
	{Name: "db_index", Default: false},
	{Name: "db_column", Default: nil},
	{Name: "db_tablespace", Default: ""},
}

var typeAttrDefaults = map[FieldType][]AttrDefault{
	FieldDecimal: {
		{Name: "max_digits", Default: nil},
		{Name: "decimal_places", Default: nil},
	},
	FieldForeignKey: {
		{Name: "db_index", Default: true},
	},
	FieldOneToOne: {
		{Name: "db_index", Default: true},
	},
	FieldManyToMany: {
		{Name: "db_table", Default: nil},
	},
}

// AttrSchema returns the attributes recorded for a field type along with
// their defaults, sorted by name.
func AttrSchema(t FieldType) []AttrDefault {
	merged := make(map[string]any, len(commonAttrDefaults)+2)
	for _, a := range commonAttrDefaults {
		merged[a.Name] = a.Default
	}
	for _, a := range typeAttrDefaults[t] {
		merged[a.Name] = a.Default
	}
	out := make([]AttrDefault, 0, len(merged))
	for name, def := range merged {
		out = append(out, AttrDefault{Name: name, Default: def})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// AttrDefaultValue returns the default of a single attribute for a type.
// Attributes outside the schema default to nil.
func AttrDefaultValue(t FieldType, name string) any {
	for _, a := range typeAttrDefaults[t] {
		if a.Name == name {
			return a.Default
		}
	}
	for _, a := range commonAttrDefaults {
		if a.Name == name {
			return a.Default
		}
	}
	return nil
}

// IsSchemaAttr reports whether name is part of the type's attribute schema.
func IsSchemaAttr(t FieldType, name string) bool {
	for _, a := range AttrSchema(t) {
		if a.Name == name {
			return true
		}
	}
	return false
}

// FieldSignature describes a single field on a model. Only attributes that
// differ from the type's defaults are kept.
type FieldSignature struct {
	FieldName    string
	FieldType    FieldType
	RelatedModel string
	attrs        map[string]any
}

// NewFieldSignature creates a field signature. Attributes outside the
// type's schema and attributes equal to their default are dropped.
func NewFieldSignature(name string, fieldType FieldType, attrs map[string]any, relatedModel string) *FieldSignature {
	f := &FieldSignature{
		FieldName:    name,
		FieldType:    fieldType,
		RelatedModel: relatedModel,
		attrs:        make(map[string]any),
	}
	for k, v := range attrs {
		if IsSchemaAttr(fieldType, k) {
			f.SetAttr(k, v)
		}
	}
	return f
}

// Attr returns the attribute value, falling back to the type default.
func (f *FieldSignature) Attr(name string) any {
	if v, ok := f.attrs[name]; ok {
		return v
	}
	return AttrDefaultValue(f.FieldType, name)
}

// HasAttr reports whether a non-default value is stored for name.
func (f *FieldSignature) HasAttr(name string) bool {
	_, ok := f.attrs[name]
	return ok
}

// SetAttr stores an attribute, removing it when it equals the default.
func (f *FieldSignature) SetAttr(name string, value any) {
	value = normalizeValue(value)
	if valuesEqual(value, AttrDefaultValue(f.FieldType, name)) {
		delete(f.attrs, name)
		return
	}
	f.attrs[name] = value
}

// DeleteAttr resets an attribute to its default.
func (f *FieldSignature) DeleteAttr(name string) {
	delete(f.attrs, name)
}

// Attrs returns a copy of the stored non-default attributes.
func (f *FieldSignature) Attrs() map[string]any {
	out := make(map[string]any, len(f.attrs))
	for k, v := range f.attrs {
		out[k] = cloneValue(v)
	}
	return out
}

// AttrNames returns the stored attribute names, sorted.
func (f *FieldSignature) AttrNames() []string {
	names := make([]string, 0, len(f.attrs))
	for k := range f.attrs {
		names = append(names, k)
	}
	sort.Strings(names)
	return names
}

// BoolAttr returns a boolean attribute.
func (f *FieldSignature) BoolAttr(name string) bool {
	b, _ := f.Attr(name).(bool)
	return b
}

// StringAttr returns a string attribute, or "" when unset.
func (f *FieldSignature) StringAttr(name string) string {
	s, _ := f.Attr(name).(string)
	return s
}

// IntAttr returns an integer attribute and whether one is set.
func (f *FieldSignature) IntAttr(name string) (int64, bool) {
	i, ok := normalizeValue(f.Attr(name)).(int64)
	return i, ok
}

func (f *FieldSignature) IsNull() bool       { return f.BoolAttr("null") }
func (f *FieldSignature) IsPrimaryKey() bool { return f.BoolAttr("primary_key") }
func (f *FieldSignature) IsUnique() bool     { return f.BoolAttr("unique") }
func (f *FieldSignature) DBIndex() bool      { return f.BoolAttr("db_index") }

// Column returns the column name the field is stored under.
func (f *FieldSignature) Column() string {
	if col := f.StringAttr("db_column"); col != "" {
		return col
	}
	if f.FieldType == FieldForeignKey || f.FieldType == FieldOneToOne {
		return f.FieldName + "_id"
	}
	return f.FieldName
}

// RelatedApp splits RelatedModel into its app label and model name.
func (f *FieldSignature) RelatedApp() (appLabel, modelName string) {
	return SplitModelRef(f.RelatedModel)
}

// Clone returns a deep copy.
func (f *FieldSignature) Clone() *FieldSignature {
	return &FieldSignature{
		FieldName:    f.FieldName,
		FieldType:    f.FieldType,
		RelatedModel: f.RelatedModel,
		attrs:        f.Attrs(),
	}
}

// Equal compares two field signatures structurally.
func (f *FieldSignature) Equal(other *FieldSignature) bool {
	if f == nil || other == nil {
		return f == other
	}
	if f.FieldName != other.FieldName || f.FieldType != other.FieldType ||
		f.RelatedModel != other.RelatedModel || len(f.attrs) != len(other.attrs) {
		return false
	}
	for k, v := range f.attrs {
		ov, ok := other.attrs[k]
		if !ok || !valuesEqual(v, ov) {
			return false
		}
	}
	return true
}

// Diff returns the sorted names of attributes that differ from old,
// including "field_type" and "related_model".
func (f *FieldSignature) Diff(old *FieldSignature) []string {
	seen := make(map[string]bool)
	var changed []string
	for _, src := range []map[string]any{old.attrs, f.attrs} {
		for name := range src {
			if seen[name] {
				continue
			}
			seen[name] = true
			if !valuesEqual(f.Attr(name), old.Attr(name)) {
				changed = append(changed, name)
			}
		}
	}
	if f.FieldType != old.FieldType {
		changed = append(changed, "field_type")
	}
	if f.RelatedModel != old.RelatedModel {
		changed = append(changed, "related_model")
	}
	sort.Strings(changed)
	return changed
}

// SplitModelRef splits an "app.Model" reference.
func SplitModelRef(ref string) (appLabel, modelName string) {
	for i := len(ref) - 1; i >= 0; i-- {
		if ref[i] == '.' {
			return ref[:i], ref[i+1:]
		}
	}
	return "", ref
}

// ModelRef joins an app label and model name into an "app.Model" reference.
func ModelRef(appLabel, modelName string) string {
	return appLabel + "." + modelName
}
