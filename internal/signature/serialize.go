package signature

import (
	"encoding/json"
	"fmt"
	"strings"
)

// LatestVersion is the format written by Serialize.
const LatestVersion = 2

// textPrefix marks JSON-encoded signatures in stored text.
const textPrefix = "json!"

func validateVersion(version int) error {
	if version <= 0 || version > LatestVersion {
		return signatureErrorf("unsupported signature version %d", version)
	}
	return nil
}

// Serialize converts the project into the given format version.
func (p *ProjectSignature) Serialize(version int) (*Document, error) {
	if err := validateVersion(version); err != nil {
		return nil, err
	}
	doc := NewDocument()
	doc.Set("__version__", int64(version))

	apps := doc
	if version == 2 {
		apps = NewDocument()
		doc.Set("apps", apps)
	}
	for _, app := range p.AppSigs() {
		if version == 1 && app.AppID == "__version__" {
			return nil, signatureErrorf("app ID %q cannot be stored in version 1", app.AppID)
		}
		apps.Set(app.AppID, app.serialize(version))
	}
	return doc, nil
}

func (a *AppSignature) serialize(version int) *Document {
	doc := NewDocument()
	models := doc
	if version == 2 {
		doc.Set("legacy_app_label", a.LegacyAppLabel)
		if a.UpgradeMethod != UpgradeUnknown {
			doc.Set("upgrade_method", string(a.UpgradeMethod))
			if a.UpgradeMethod == UpgradeMigrations {
				doc.Set("applied_migrations", stringsToAny(a.AppliedMigrations()))
			}
		}
		models = NewDocument()
		doc.Set("models", models)
	}
	for _, m := range a.ModelSigs() {
		models.Set(m.ModelName, m.serialize(version))
	}
	return doc
}

func (m *ModelSignature) serialize(version int) *Document {
	meta := NewDocument()
	meta.Set("db_table", m.TableName)
	if m.DBTablespace != "" {
		meta.Set("db_tablespace", m.DBTablespace)
	}
	if len(m.IndexTogether) > 0 {
		meta.Set("index_together", m.IndexTogether.serialize())
	}
	if len(m.Indexes) > 0 {
		indexes := make([]any, len(m.Indexes))
		for i, idx := range m.Indexes {
			indexes[i] = idx.serialize()
		}
		meta.Set("indexes", indexes)
	}
	if len(m.Constraints) > 0 {
		constraints := make([]any, len(m.Constraints))
		for i, con := range m.Constraints {
			constraints[i] = con.serialize()
		}
		meta.Set("constraints", constraints)
	}
	meta.Set("pk_column", m.PKColumn)
	if len(m.UniqueTogether) > 0 {
		meta.Set("unique_together", m.UniqueTogether.serialize())
	}
	if m.UniqueTogetherApplied {
		meta.Set("__unique_together_applied", true)
	}

	fields := NewDocument()
	for _, f := range m.FieldSigs() {
		fields.Set(f.FieldName, f.serialize(version))
	}

	doc := NewDocument()
	doc.Set("meta", meta)
	doc.Set("fields", fields)
	return doc
}

func (f *FieldSignature) serialize(version int) *Document {
	doc := NewDocument()
	attrs := doc
	if version == 2 {
		doc.Set("type", string(f.FieldType))
		if len(f.attrs) > 0 {
			attrs = NewDocument()
			doc.Set("attrs", attrs)
		}
	} else {
		doc.Set("field_type", string(f.FieldType))
	}
	if version == 1 || len(f.attrs) > 0 {
		for _, name := range f.AttrNames() {
			attrs.Set(name, cloneValue(f.attrs[name]))
		}
	}
	if f.RelatedModel != "" {
		doc.Set("related_model", f.RelatedModel)
	}
	return doc
}

// Deserialize reads a project signature in any supported format version.
func Deserialize(doc *Document) (*ProjectSignature, error) {
	raw, ok := doc.Get("__version__")
	if !ok {
		return nil, signatureErrorf("signature is missing __version__")
	}
	version, ok := normalizeValue(raw).(int64)
	if !ok {
		return nil, signatureErrorf("signature __version__ must be an integer, got %v", raw)
	}
	if err := validateVersion(int(version)); err != nil {
		return nil, err
	}

	apps := doc
	if version > 1 {
		var err error
		if apps, err = childDocument(doc, "apps", true); err != nil {
			return nil, err
		}
	}
	p, err := deserializeApps(apps, int(version))
	if err != nil {
		return nil, err
	}
	p.Version = int(version)
	return p, nil
}

func deserializeApps(apps *Document, version int) (*ProjectSignature, error) {
	p := NewProjectSignature()
	for _, appID := range apps.Keys() {
		if appID == "__version__" {
			continue
		}
		value, _ := apps.Get(appID)
		appDoc, ok := value.(*Document)
		if !ok {
			return nil, signatureErrorf("app %q must be an object", appID)
		}
		app, err := deserializeApp(appID, appDoc, version)
		if err != nil {
			return nil, err
		}
		p.AddAppSig(app)
	}
	return p, nil
}

func deserializeApp(appID string, doc *Document, version int) (*AppSignature, error) {
	app := NewAppSignature(appID)
	models := doc
	if version == 2 {
		if v, ok := doc.Get("legacy_app_label"); ok && v != nil {
			label, ok := v.(string)
			if !ok {
				return nil, signatureErrorf("legacy_app_label for %q must be a string", appID)
			}
			app.LegacyAppLabel = label
		} else {
			app.LegacyAppLabel = ""
		}
		if v, ok := doc.Get("upgrade_method"); ok && v != nil {
			method, _ := v.(string)
			switch UpgradeMethod(method) {
			case UpgradeEvolutions, UpgradeMigrations:
				app.UpgradeMethod = UpgradeMethod(method)
			default:
				return nil, signatureErrorf("unknown upgrade method %q for %q", method, appID)
			}
		}
		applied, err := stringList(doc, "applied_migrations")
		if err != nil {
			return nil, err
		}
		app.SetAppliedMigrations(applied)

		var cerr error
		models, cerr = childDocument(doc, "models", true)
		if cerr != nil {
			return nil, fmt.Errorf("app %q: %w", appID, cerr)
		}
	}

	for _, modelName := range models.Keys() {
		value, _ := models.Get(modelName)
		modelDoc, ok := value.(*Document)
		if !ok {
			return nil, signatureErrorf("model %s.%s must be an object", appID, modelName)
		}
		m, err := deserializeModel(modelName, modelDoc, version)
		if err != nil {
			return nil, fmt.Errorf("model %s.%s: %w", appID, modelName, err)
		}
		app.AddModelSig(m)
	}
	return app, nil
}

func deserializeModel(name string, doc *Document, version int) (*ModelSignature, error) {
	meta, err := childDocument(doc, "meta", true)
	if err != nil {
		return nil, err
	}
	fields, err := childDocument(doc, "fields", true)
	if err != nil {
		return nil, err
	}

	m := NewModelSignature(name, stringValue(meta, "db_table"))
	m.DBTablespace = stringValue(meta, "db_tablespace")
	m.PKColumn = stringValue(meta, "pk_column")
	if m.UniqueTogether, err = togetherValue(meta, "unique_together"); err != nil {
		return nil, err
	}
	if m.IndexTogether, err = togetherValue(meta, "index_together"); err != nil {
		return nil, err
	}
	if v, ok := meta.Get("__unique_together_applied"); ok {
		m.UniqueTogetherApplied, _ = v.(bool)
	}
	if v, ok := meta.Get("indexes"); ok && v != nil {
		list, ok := v.([]any)
		if !ok {
			return nil, signatureErrorf("indexes must be a list")
		}
		for _, item := range list {
			idx, err := deserializeIndex(item)
			if err != nil {
				return nil, err
			}
			m.Indexes = append(m.Indexes, idx)
		}
	}
	if v, ok := meta.Get("constraints"); ok && v != nil {
		list, ok := v.([]any)
		if !ok {
			return nil, signatureErrorf("constraints must be a list")
		}
		for _, item := range list {
			con, err := deserializeConstraint(item)
			if err != nil {
				return nil, err
			}
			m.Constraints = append(m.Constraints, con)
		}
	}

	for _, fieldName := range fields.Keys() {
		value, _ := fields.Get(fieldName)
		fieldDoc, ok := value.(*Document)
		if !ok {
			return nil, signatureErrorf("field %q must be an object", fieldName)
		}
		f, err := deserializeField(fieldName, fieldDoc, version)
		if err != nil {
			return nil, err
		}
		m.AddFieldSig(f)
	}
	return m, nil
}

func deserializeField(name string, doc *Document, version int) (*FieldSignature, error) {
	typeKey := "type"
	attrs := doc
	if version == 1 {
		typeKey = "field_type"
	} else {
		var err error
		if attrs, err = childDocument(doc, "attrs", false); err != nil {
			return nil, err
		}
	}
	typeName := stringValue(doc, typeKey)
	if typeName == "" {
		return nil, signatureErrorf("field %q is missing %s", name, typeKey)
	}
	fieldType, err := ParseFieldType(typeName)
	if err != nil {
		return nil, signatureErrorf("field %q: %v", name, err)
	}

	values := make(map[string]any)
	for _, key := range attrs.Keys() {
		v, _ := attrs.Get(key)
		values[key] = v
	}
	return NewFieldSignature(name, fieldType, values, stringValue(doc, "related_model")), nil
}

func childDocument(doc *Document, key string, required bool) (*Document, error) {
	v, ok := doc.Get(key)
	if !ok || v == nil {
		if required {
			return nil, signatureErrorf("missing required key %q", key)
		}
		return NewDocument(), nil
	}
	child, ok := v.(*Document)
	if !ok {
		return nil, signatureErrorf("%q must be an object", key)
	}
	return child, nil
}

func stringValue(doc *Document, key string) string {
	v, _ := doc.Get(key)
	s, _ := v.(string)
	return s
}

func stringList(doc *Document, key string) ([]string, error) {
	v, ok := doc.Get(key)
	if !ok || v == nil {
		return nil, nil
	}
	list, ok := v.([]any)
	if !ok {
		return nil, signatureErrorf("%q must be a list", key)
	}
	out := make([]string, len(list))
	for i, item := range list {
		s, ok := item.(string)
		if !ok {
			return nil, signatureErrorf("%q must contain only strings", key)
		}
		out[i] = s
	}
	return out, nil
}

func togetherValue(doc *Document, key string) (Together, error) {
	v, ok := doc.Get(key)
	if !ok || v == nil {
		return nil, nil
	}
	list, ok := v.([]any)
	if !ok {
		return nil, signatureErrorf("%q must be a list", key)
	}
	out := make(Together, 0, len(list))
	for _, item := range list {
		group, ok := item.([]any)
		if !ok {
			return nil, signatureErrorf("%q entries must be lists", key)
		}
		names := make([]string, len(group))
		for i, name := range group {
			s, ok := name.(string)
			if !ok {
				return nil, signatureErrorf("%q entries must contain field names", key)
			}
			names[i] = s
		}
		out = append(out, names)
	}
	return out, nil
}

// EncodeText renders the project in the latest format as stored text.
func EncodeText(p *ProjectSignature) (string, error) {
	doc, err := p.Serialize(LatestVersion)
	if err != nil {
		return "", err
	}
	data, err := json.Marshal(doc)
	if err != nil {
		return "", fmt.Errorf("failed to encode signature: %w", err)
	}
	return textPrefix + string(data), nil
}

// DecodeText loads a project from stored text. Empty text yields an empty
// project.
func DecodeText(text string) (*ProjectSignature, error) {
	if strings.TrimSpace(text) == "" {
		return NewProjectSignature(), nil
	}
	if !strings.HasPrefix(text, textPrefix) {
		return nil, signatureErrorf("unsupported stored signature encoding")
	}
	doc := NewDocument()
	if err := json.Unmarshal([]byte(text[len(textPrefix):]), doc); err != nil {
		return nil, signatureErrorf("failed to decode signature: %v", err)
	}
	return Deserialize(doc)
}
