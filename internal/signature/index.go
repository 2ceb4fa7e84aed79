package signature

import "strings"

// IndexSignature describes an explicit index from a model's "indexes" option.
type IndexSignature struct {
	// Name is optional. Unnamed indexes get a generated name from the dialect.
	Name string
	// Fields lists field names; a leading "-" marks descending order.
	Fields []string
	Unique bool
}

// NewIndexSignature creates an index signature.
func NewIndexSignature(name string, fields []string, unique bool) *IndexSignature {
	return &IndexSignature{
		Name:   name,
		Fields: append([]string(nil), fields...),
		Unique: unique,
	}
}

// FieldNames returns the fields without their ordering prefix.
func (i *IndexSignature) FieldNames() []string {
	out := make([]string, len(i.Fields))
	for n, f := range i.Fields {
		out[n] = strings.TrimPrefix(f, "-")
	}
	return out
}

// Clone returns a deep copy.
func (i *IndexSignature) Clone() *IndexSignature {
	return NewIndexSignature(i.Name, i.Fields, i.Unique)
}

// Equal compares two index signatures. Names only take part when both
// sides have one, matching how unnamed indexes are declared.
func (i *IndexSignature) Equal(other *IndexSignature) bool {
	if i == nil || other == nil {
		return i == other
	}
	if (i.Name != "" || other.Name != "") && i.Name != other.Name {
		return false
	}
	return i.Unique == other.Unique && stringsEqual(i.Fields, other.Fields)
}

func (i *IndexSignature) serialize() *Document {
	doc := NewDocument()
	if i.Name != "" {
		doc.Set("name", i.Name)
	}
	doc.Set("fields", stringsToAny(i.Fields))
	if i.Unique {
		doc.Set("unique", true)
	}
	return doc
}

func deserializeIndex(value any) (*IndexSignature, error) {
	doc, ok := value.(*Document)
	if !ok {
		return nil, signatureErrorf("index entry must be an object")
	}
	idx := &IndexSignature{}
	if v, ok := doc.Get("name"); ok && v != nil {
		name, ok := v.(string)
		if !ok {
			return nil, signatureErrorf("index name must be a string")
		}
		idx.Name = name
	}
	fields, err := stringList(doc, "fields")
	if err != nil {
		return nil, err
	}
	idx.Fields = fields
	if v, ok := doc.Get("unique"); ok {
		idx.Unique, _ = v.(bool)
	}
	return idx, nil
}

func stringsEqual(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

func stringsToAny(items []string) []any {
	out := make([]any, len(items))
	for i, s := range items {
		out[i] = s
	}
	return out
}
