package signature

import "sort"

// UpgradeMethod selects which subsystem governs an app's schema changes.
type UpgradeMethod string

const (
	UpgradeUnknown    UpgradeMethod = ""
	UpgradeEvolutions UpgradeMethod = "evolutions"
	UpgradeMigrations UpgradeMethod = "migrations"
)

// AppSignature represents one application's schema.
type AppSignature struct {
	AppID          string
	LegacyAppLabel string
	UpgradeMethod  UpgradeMethod

	appliedMigrations map[string]bool
	modelOrder        []string
	models            map[string]*ModelSignature
}

// NewAppSignature creates an empty app signature.
func NewAppSignature(appID string) *AppSignature {
	return &AppSignature{
		AppID:             appID,
		LegacyAppLabel:    appID,
		appliedMigrations: make(map[string]bool),
		models:            make(map[string]*ModelSignature),
	}
}

// AddModelSig appends a model, replacing an existing one in place.
func (a *AppSignature) AddModelSig(m *ModelSignature) {
	if a.models == nil {
		a.models = make(map[string]*ModelSignature)
	}
	if _, ok := a.models[m.ModelName]; !ok {
		a.modelOrder = append(a.modelOrder, m.ModelName)
	}
	a.models[m.ModelName] = m
}

// RemoveModelSig removes a model.
func (a *AppSignature) RemoveModelSig(name string) error {
	if _, ok := a.models[name]; !ok {
		return &MissingSignatureError{Kind: "model", Name: a.AppID + "." + name}
	}
	delete(a.models, name)
	for i, n := range a.modelOrder {
		if n == name {
			a.modelOrder = append(a.modelOrder[:i:i], a.modelOrder[i+1:]...)
			break
		}
	}
	return nil
}

// RenameModelSig renames a model while keeping its position.
func (a *AppSignature) RenameModelSig(oldName, newName string) error {
	m, ok := a.models[oldName]
	if !ok {
		return &MissingSignatureError{Kind: "model", Name: a.AppID + "." + oldName}
	}
	delete(a.models, oldName)
	m.ModelName = newName
	a.models[newName] = m
	for i, n := range a.modelOrder {
		if n == oldName {
			a.modelOrder[i] = newName
		}
	}
	return nil
}

// ModelSig returns the named model or nil.
func (a *AppSignature) ModelSig(name string) *ModelSignature {
	return a.models[name]
}

// RequiredModelSig returns the named model or a MissingSignatureError.
func (a *AppSignature) RequiredModelSig(name string) (*ModelSignature, error) {
	m := a.models[name]
	if m == nil {
		return nil, &MissingSignatureError{Kind: "model", Name: a.AppID + "." + name}
	}
	return m, nil
}

// ModelSigs returns models in insertion order.
func (a *AppSignature) ModelSigs() []*ModelSignature {
	out := make([]*ModelSignature, 0, len(a.modelOrder))
	for _, name := range a.modelOrder {
		out = append(out, a.models[name])
	}
	return out
}

// ModelNames returns model names in insertion order.
func (a *AppSignature) ModelNames() []string {
	return append([]string(nil), a.modelOrder...)
}

// IsEmpty reports whether the app has no models.
func (a *AppSignature) IsEmpty() bool {
	return len(a.models) == 0
}

// AppliedMigrations returns the applied migration names, sorted.
func (a *AppSignature) AppliedMigrations() []string {
	out := make([]string, 0, len(a.appliedMigrations))
	for name := range a.appliedMigrations {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

// HasAppliedMigration reports whether name is recorded as applied.
func (a *AppSignature) HasAppliedMigration(name string) bool {
	return a.appliedMigrations[name]
}

// AddAppliedMigrations records migration names as applied.
func (a *AppSignature) AddAppliedMigrations(names ...string) {
	if a.appliedMigrations == nil {
		a.appliedMigrations = make(map[string]bool)
	}
	for _, name := range names {
		a.appliedMigrations[name] = true
	}
}

// SetAppliedMigrations replaces the applied migration set.
func (a *AppSignature) SetAppliedMigrations(names []string) {
	a.appliedMigrations = make(map[string]bool, len(names))
	a.AddAppliedMigrations(names...)
}

// Clone returns a deep copy.
func (a *AppSignature) Clone() *AppSignature {
	c := &AppSignature{
		AppID:             a.AppID,
		LegacyAppLabel:    a.LegacyAppLabel,
		UpgradeMethod:     a.UpgradeMethod,
		appliedMigrations: make(map[string]bool, len(a.appliedMigrations)),
		models:            make(map[string]*ModelSignature, len(a.models)),
	}
	for name := range a.appliedMigrations {
		c.appliedMigrations[name] = true
	}
	for _, m := range a.ModelSigs() {
		c.AddModelSig(m.Clone())
	}
	return c
}

// Equal compares two app signatures structurally. Model order does not
// take part.
func (a *AppSignature) Equal(other *AppSignature) bool {
	if a == nil || other == nil {
		return a == other
	}
	if a.AppID != other.AppID || a.LegacyAppLabel != other.LegacyAppLabel ||
		a.UpgradeMethod != other.UpgradeMethod {
		return false
	}
	if !stringsEqual(a.AppliedMigrations(), other.AppliedMigrations()) {
		return false
	}
	if len(a.models) != len(other.models) {
		return false
	}
	for name, m := range a.models {
		if !m.Equal(other.models[name]) {
			return false
		}
	}
	return true
}
