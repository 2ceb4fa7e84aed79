package signature

import "fmt"

// ConstraintType is the kind of a model's table constraint.
type ConstraintType string

const (
	ConstraintCheck  ConstraintType = "check"
	ConstraintUnique ConstraintType = "unique"
)

// ParseConstraintType validates a constraint type name.
func ParseConstraintType(s string) (ConstraintType, error) {
	switch t := ConstraintType(s); t {
	case ConstraintCheck, ConstraintUnique:
		return t, nil
	}
	return "", fmt.Errorf("unknown constraint type %q", s)
}

// ConstraintSignature describes a named constraint from a model's
// "constraints" option. Check constraints carry an SQL expression. Unique
// constraints carry field names and, when partial, an SQL condition.
type ConstraintSignature struct {
	Name      string
	Type      ConstraintType
	Check     string
	Fields    []string
	Condition string
}

// NewCheckConstraint creates a check constraint signature.
func NewCheckConstraint(name, check string) *ConstraintSignature {
	return &ConstraintSignature{Name: name, Type: ConstraintCheck, Check: check}
}

// NewUniqueConstraint creates a unique constraint signature. An empty
// condition makes it apply to every row.
func NewUniqueConstraint(name string, fields []string, condition string) *ConstraintSignature {
	return &ConstraintSignature{
		Name:      name,
		Type:      ConstraintUnique,
		Fields:    append([]string(nil), fields...),
		Condition: condition,
	}
}

// Partial reports whether the constraint is a conditional unique constraint,
// which databases store as a partial index.
func (c *ConstraintSignature) Partial() bool {
	return c.Type == ConstraintUnique && c.Condition != ""
}

// Clone returns a deep copy.
func (c *ConstraintSignature) Clone() *ConstraintSignature {
	out := *c
	out.Fields = append([]string(nil), c.Fields...)
	return &out
}

// Equal compares two constraint signatures.
func (c *ConstraintSignature) Equal(other *ConstraintSignature) bool {
	if c == nil || other == nil {
		return c == other
	}
	return c.Name == other.Name && c.Type == other.Type && c.Check == other.Check &&
		c.Condition == other.Condition && stringsEqual(c.Fields, other.Fields)
}

func (c *ConstraintSignature) serialize() *Document {
	attrs := NewDocument()
	switch c.Type {
	case ConstraintCheck:
		attrs.Set("check", c.Check)
	case ConstraintUnique:
		attrs.Set("fields", stringsToAny(c.Fields))
		if c.Condition != "" {
			attrs.Set("condition", c.Condition)
		}
	}
	doc := NewDocument()
	doc.Set("name", c.Name)
	doc.Set("type", string(c.Type))
	doc.Set("attrs", attrs)
	return doc
}

func deserializeConstraint(value any) (*ConstraintSignature, error) {
	doc, ok := value.(*Document)
	if !ok {
		return nil, signatureErrorf("constraint entry must be an object")
	}
	name := stringValue(doc, "name")
	if name == "" {
		return nil, signatureErrorf("constraint is missing a name")
	}
	ctype, err := ParseConstraintType(stringValue(doc, "type"))
	if err != nil {
		return nil, signatureErrorf("constraint %q: %v", name, err)
	}
	attrs, err := childDocument(doc, "attrs", false)
	if err != nil {
		return nil, err
	}

	c := &ConstraintSignature{Name: name, Type: ctype}
	switch ctype {
	case ConstraintCheck:
		c.Check = stringValue(attrs, "check")
	case ConstraintUnique:
		if c.Fields, err = stringList(attrs, "fields"); err != nil {
			return nil, err
		}
		c.Condition = stringValue(attrs, "condition")
	}
	return c, nil
}
