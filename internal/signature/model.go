package signature

import (
	"sort"
	"strings"
)

// Together is a list of field-name tuples, as used by unique_together and
// index_together.
type Together [][]string

// Clone returns a deep copy.
func (t Together) Clone() Together {
	if t == nil {
		return nil
	}
	out := make(Together, len(t))
	for i, group := range t {
		out[i] = append([]string(nil), group...)
	}
	return out
}

// Equal compares two values as sets of tuples.
func (t Together) Equal(other Together) bool {
	a, b := t.keys(), other.keys()
	if len(a) != len(b) {
		return false
	}
	for k := range a {
		if !b[k] {
			return false
		}
	}
	return true
}

// Contains reports whether the exact tuple is present.
func (t Together) Contains(group []string) bool {
	return t.keys()[strings.Join(group, "\x00")]
}

func (t Together) keys() map[string]bool {
	out := make(map[string]bool, len(t))
	for _, group := range t {
		out[strings.Join(group, "\x00")] = true
	}
	return out
}

func (t Together) serialize() []any {
	out := make([]any, len(t))
	for i, group := range t {
		out[i] = stringsToAny(group)
	}
	return out
}

// ModelSignature describes one table-backed model.
type ModelSignature struct {
	ModelName      string
	TableName      string
	DBTablespace   string
	PKColumn       string
	UniqueTogether Together
	IndexTogether  Together
	Indexes        []*IndexSignature
	Constraints    []*ConstraintSignature
	// UniqueTogetherApplied records whether unique_together has been
	// applied to the database at least once.
	UniqueTogetherApplied bool

	// OwnerTable is set on the auto-created association model of a
	// many-to-many field and names the declaring model's table. It is not
	// serialized.
	OwnerTable string

	fieldOrder []string
	fields     map[string]*FieldSignature
}

// NewModelSignature creates an empty model signature.
func NewModelSignature(modelName, tableName string) *ModelSignature {
	return &ModelSignature{
		ModelName: modelName,
		TableName: tableName,
		fields:    make(map[string]*FieldSignature),
	}
}

// AddFieldSig appends a field, replacing any field with the same name in place.
func (m *ModelSignature) AddFieldSig(f *FieldSignature) {
	if m.fields == nil {
		m.fields = make(map[string]*FieldSignature)
	}
	if _, ok := m.fields[f.FieldName]; !ok {
		m.fieldOrder = append(m.fieldOrder, f.FieldName)
	}
	m.fields[f.FieldName] = f
}

// RemoveFieldSig removes a field.
func (m *ModelSignature) RemoveFieldSig(name string) error {
	if _, ok := m.fields[name]; !ok {
		return &MissingSignatureError{Kind: "field", Name: m.ModelName + "." + name}
	}
	delete(m.fields, name)
	for i, n := range m.fieldOrder {
		if n == name {
			m.fieldOrder = append(m.fieldOrder[:i:i], m.fieldOrder[i+1:]...)
			break
		}
	}
	return nil
}

// RenameFieldSig renames a field while keeping its position.
func (m *ModelSignature) RenameFieldSig(oldName, newName string) error {
	f, ok := m.fields[oldName]
	if !ok {
		return &MissingSignatureError{Kind: "field", Name: m.ModelName + "." + oldName}
	}
	delete(m.fields, oldName)
	f.FieldName = newName
	m.fields[newName] = f
	for i, n := range m.fieldOrder {
		if n == oldName {
			m.fieldOrder[i] = newName
		}
	}
	return nil
}

// FieldSig returns the named field or nil.
func (m *ModelSignature) FieldSig(name string) *FieldSignature {
	return m.fields[name]
}

// RequiredFieldSig returns the named field or a MissingSignatureError.
func (m *ModelSignature) RequiredFieldSig(name string) (*FieldSignature, error) {
	f := m.fields[name]
	if f == nil {
		return nil, &MissingSignatureError{Kind: "field", Name: m.ModelName + "." + name}
	}
	return f, nil
}

// FieldSigs returns the fields in insertion order.
func (m *ModelSignature) FieldSigs() []*FieldSignature {
	out := make([]*FieldSignature, 0, len(m.fieldOrder))
	for _, name := range m.fieldOrder {
		out = append(out, m.fields[name])
	}
	return out
}

// FieldNames returns the field names in insertion order.
func (m *ModelSignature) FieldNames() []string {
	return append([]string(nil), m.fieldOrder...)
}

// PKField returns the field whose column is the primary key column.
func (m *ModelSignature) PKField() *FieldSignature {
	for _, f := range m.FieldSigs() {
		if f.FieldType.HasColumn() && f.Column() == m.PKColumn {
			return f
		}
	}
	for _, f := range m.FieldSigs() {
		if f.IsPrimaryKey() {
			return f
		}
	}
	return nil
}

// FieldByColumn returns the field stored in the given column.
func (m *ModelSignature) FieldByColumn(column string) *FieldSignature {
	for _, f := range m.FieldSigs() {
		if f.FieldType.HasColumn() && f.Column() == column {
			return f
		}
	}
	return nil
}

// HasUniqueTogetherChanged reports whether unique_together differs from
// old, or was never applied while either side declares constraints.
func (m *ModelSignature) HasUniqueTogetherChanged(old *ModelSignature) bool {
	if !m.UniqueTogether.Equal(old.UniqueTogether) {
		return true
	}
	return (len(old.UniqueTogether) > 0 || len(m.UniqueTogether) > 0) && !old.UniqueTogetherApplied
}

// IndexesEqual compares the explicit index lists, ignoring order.
func (m *ModelSignature) IndexesEqual(other *ModelSignature) bool {
	if len(m.Indexes) != len(other.Indexes) {
		return false
	}
	used := make([]bool, len(other.Indexes))
	for _, idx := range m.Indexes {
		found := false
		for j, oidx := range other.Indexes {
			if !used[j] && idx.Equal(oidx) {
				used[j] = true
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	return true
}

// ConstraintsEqual compares the constraint lists, ignoring order.
func (m *ModelSignature) ConstraintsEqual(other *ModelSignature) bool {
	if len(m.Constraints) != len(other.Constraints) {
		return false
	}
	for _, con := range m.Constraints {
		if !con.Equal(other.Constraint(con.Name)) {
			return false
		}
	}
	return true
}

// Constraint looks a constraint up by name. It returns nil when none matches.
func (m *ModelSignature) Constraint(name string) *ConstraintSignature {
	for _, con := range m.Constraints {
		if con.Name == name {
			return con
		}
	}
	return nil
}

// Clone returns a deep copy.
func (m *ModelSignature) Clone() *ModelSignature {
	c := &ModelSignature{
		ModelName:             m.ModelName,
		TableName:             m.TableName,
		DBTablespace:          m.DBTablespace,
		PKColumn:              m.PKColumn,
		UniqueTogether:        m.UniqueTogether.Clone(),
		IndexTogether:         m.IndexTogether.Clone(),
		UniqueTogetherApplied: m.UniqueTogetherApplied,
		OwnerTable:            m.OwnerTable,
		fields:                make(map[string]*FieldSignature, len(m.fields)),
	}
	for _, idx := range m.Indexes {
		c.Indexes = append(c.Indexes, idx.Clone())
	}
	for _, con := range m.Constraints {
		c.Constraints = append(c.Constraints, con.Clone())
	}
	for _, f := range m.FieldSigs() {
		c.AddFieldSig(f.Clone())
	}
	return c
}

// Equal compares two model signatures structurally. Field order does not
// take part.
func (m *ModelSignature) Equal(other *ModelSignature) bool {
	if m == nil || other == nil {
		return m == other
	}
	if m.ModelName != other.ModelName || m.TableName != other.TableName ||
		m.DBTablespace != other.DBTablespace || m.PKColumn != other.PKColumn {
		return false
	}
	if !m.IndexTogether.Equal(other.IndexTogether) || !m.IndexesEqual(other) || !m.ConstraintsEqual(other) {
		return false
	}
	if m.HasUniqueTogetherChanged(other) {
		return false
	}
	if len(m.fields) != len(other.fields) {
		return false
	}
	for name, f := range m.fields {
		if !f.Equal(other.fields[name]) {
			return false
		}
	}
	return true
}

// SortedFieldNames returns field names sorted alphabetically.
func (m *ModelSignature) SortedFieldNames() []string {
	names := m.FieldNames()
	sort.Strings(names)
	return names
}
