// Package diff compares two project signatures and turns the differences
// into a report or a hinted list of mutations per app.
//
// Renames are never inferred. A renamed field shows up as a deleted field
// plus an added one, and a renamed model as a deleted model plus an added
// one.
package diff

import (
	"fmt"
	"strings"

	"github.com/satishbabariya/schema-evolution/internal/signature"
)

// Meta change names reported for apps and models.
const (
	MetaUniqueTogether = "unique_together"
	MetaIndexTogether  = "index_together"
	MetaIndexes        = "indexes"
	MetaConstraints    = "constraints"
	MetaDBTablespace   = "db_tablespace"
	MetaUpgradeMethod  = "upgrade_method"
)

// FieldChange lists the attributes that changed on one field.
type FieldChange struct {
	FieldName string
	Attrs     []string
}

// ModelChange describes the changes to a model present in both signatures.
type ModelChange struct {
	ModelName   string
	Added       []string
	Deleted     []string
	Changed     []FieldChange
	MetaChanged []string
}

func (m *ModelChange) isEmpty() bool {
	return len(m.Added) == 0 && len(m.Deleted) == 0 && len(m.Changed) == 0 && len(m.MetaChanged) == 0
}

// AppChange describes the changes to an app present in both signatures.
type AppChange struct {
	AppLabel      string
	AddedModels   []string
	DeletedModels []string
	ChangedModels []*ModelChange
	MetaChanged   []string
}

func (a *AppChange) isEmpty() bool {
	return len(a.AddedModels) == 0 && len(a.DeletedModels) == 0 &&
		len(a.ChangedModels) == 0 && len(a.MetaChanged) == 0
}

// Model returns the change entry for a model, or nil.
func (a *AppChange) Model(name string) *ModelChange {
	for _, m := range a.ChangedModels {
		if m.ModelName == name {
			return m
		}
	}
	return nil
}

// DeletedApp is an app present only in the old signature.
type DeletedApp struct {
	AppLabel string
	Models   []string
}

// Diff is the structural delta between two project signatures.
type Diff struct {
	Old *signature.ProjectSignature
	New *signature.ProjectSignature

	DeletedApps []DeletedApp
	AddedApps   []string
	Changed     []*AppChange
}

// New computes the difference from old to current. Both signatures are
// read, never modified.
func New(old, current *signature.ProjectSignature) *Diff {
	d := &Diff{Old: old, New: current}

	for _, oldApp := range old.AppSigs() {
		newApp := current.AppSig(oldApp.AppID)
		if newApp == nil {
			d.DeletedApps = append(d.DeletedApps, DeletedApp{AppLabel: oldApp.AppID, Models: oldApp.ModelNames()})
			continue
		}
		if change := diffApp(oldApp, newApp); !change.isEmpty() {
			d.Changed = append(d.Changed, change)
		}
	}
	for _, newApp := range current.AppSigs() {
		if old.AppSig(newApp.AppID) == nil {
			d.AddedApps = append(d.AddedApps, newApp.AppID)
		}
	}
	return d
}

// ForApps returns a copy of the diff limited to the given app labels.
func (d *Diff) ForApps(appLabels ...string) *Diff {
	keep := make(map[string]bool, len(appLabels))
	for _, label := range appLabels {
		keep[label] = true
	}
	out := &Diff{Old: d.Old, New: d.New}
	for _, app := range d.DeletedApps {
		if keep[app.AppLabel] {
			out.DeletedApps = append(out.DeletedApps, app)
		}
	}
	for _, label := range d.AddedApps {
		if keep[label] {
			out.AddedApps = append(out.AddedApps, label)
		}
	}
	for _, change := range d.Changed {
		if keep[change.AppLabel] {
			out.Changed = append(out.Changed, change)
		}
	}
	return out
}

// App returns the change entry for an app, or nil.
func (d *Diff) App(appLabel string) *AppChange {
	for _, change := range d.Changed {
		if change.AppLabel == appLabel {
			return change
		}
	}
	return nil
}

func diffApp(oldApp, newApp *signature.AppSignature) *AppChange {
	change := &AppChange{AppLabel: oldApp.AppID}

	// Handing an app over to migrations replaces model-level evolution.
	if newApp.UpgradeMethod == signature.UpgradeMigrations && oldApp.UpgradeMethod != signature.UpgradeMigrations {
		change.MetaChanged = append(change.MetaChanged, MetaUpgradeMethod)
		return change
	}

	for _, oldModel := range oldApp.ModelSigs() {
		newModel := newApp.ModelSig(oldModel.ModelName)
		if newModel == nil {
			change.DeletedModels = append(change.DeletedModels, oldModel.ModelName)
			continue
		}
		if mc := diffModel(oldModel, newModel); !mc.isEmpty() {
			change.ChangedModels = append(change.ChangedModels, mc)
		}
	}
	for _, newModel := range newApp.ModelSigs() {
		if oldApp.ModelSig(newModel.ModelName) == nil {
			change.AddedModels = append(change.AddedModels, newModel.ModelName)
		}
	}
	return change
}

func diffModel(oldModel, newModel *signature.ModelSignature) *ModelChange {
	mc := &ModelChange{ModelName: oldModel.ModelName}

	for _, oldField := range oldModel.FieldSigs() {
		newField := newModel.FieldSig(oldField.FieldName)
		if newField == nil {
			mc.Deleted = append(mc.Deleted, oldField.FieldName)
			continue
		}
		if attrs := newField.Diff(oldField); len(attrs) > 0 {
			mc.Changed = append(mc.Changed, FieldChange{FieldName: oldField.FieldName, Attrs: attrs})
		}
	}
	for _, newField := range newModel.FieldSigs() {
		if oldModel.FieldSig(newField.FieldName) == nil {
			mc.Added = append(mc.Added, newField.FieldName)
		}
	}

	if newModel.HasUniqueTogetherChanged(oldModel) {
		mc.MetaChanged = append(mc.MetaChanged, MetaUniqueTogether)
	}
	if !newModel.IndexTogether.Equal(oldModel.IndexTogether) {
		mc.MetaChanged = append(mc.MetaChanged, MetaIndexTogether)
	}
	if !newModel.IndexesEqual(oldModel) {
		mc.MetaChanged = append(mc.MetaChanged, MetaIndexes)
	}
	if !newModel.ConstraintsEqual(oldModel) {
		mc.MetaChanged = append(mc.MetaChanged, MetaConstraints)
	}
	if newModel.DBTablespace != oldModel.DBTablespace {
		mc.MetaChanged = append(mc.MetaChanged, MetaDBTablespace)
	}
	return mc
}

// IsEmpty reports whether the signatures match. With ignoreApps set, apps
// added or deleted as a whole do not count.
func (d *Diff) IsEmpty(ignoreApps bool) bool {
	if len(d.Changed) > 0 {
		return false
	}
	return ignoreApps || (len(d.DeletedApps) == 0 && len(d.AddedApps) == 0)
}

// String renders the diff for people.
func (d *Diff) String() string {
	var lines []string
	for _, app := range d.DeletedApps {
		lines = append(lines, fmt.Sprintf("The application %s has been deleted", app.AppLabel))
	}
	for _, label := range d.AddedApps {
		lines = append(lines, fmt.Sprintf("The application %s has been added", label))
	}
	for _, app := range d.Changed {
		for _, prop := range app.MetaChanged {
			lines = append(lines, fmt.Sprintf("In application %s:", app.AppLabel),
				fmt.Sprintf("    Meta property '%s' has changed", prop))
		}
		for _, name := range app.DeletedModels {
			lines = append(lines, fmt.Sprintf("The model %s.%s has been deleted", app.AppLabel, name))
		}
		for _, name := range app.AddedModels {
			lines = append(lines, fmt.Sprintf("The model %s.%s has been added", app.AppLabel, name))
		}
		for _, model := range app.ChangedModels {
			lines = append(lines, fmt.Sprintf("In model %s.%s:", app.AppLabel, model.ModelName))
			for _, name := range model.Added {
				lines = append(lines, fmt.Sprintf("    Field '%s' has been added", name))
			}
			for _, name := range model.Deleted {
				lines = append(lines, fmt.Sprintf("    Field '%s' has been deleted", name))
			}
			for _, fc := range model.Changed {
				lines = append(lines, fmt.Sprintf("    In field '%s':", fc.FieldName))
				for _, attr := range fc.Attrs {
					lines = append(lines, fmt.Sprintf("        Property '%s' has changed", attr))
				}
			}
			for _, prop := range model.MetaChanged {
				lines = append(lines, fmt.Sprintf("    Meta property '%s' has changed", prop))
			}
		}
	}
	return strings.Join(lines, "\n")
}

// Markdown renders the diff as a markdown document, one section per app.
func (d *Diff) Markdown() string {
	var b strings.Builder
	b.WriteString("# Schema changes\n\n")
	if d.IsEmpty(false) {
		b.WriteString("No changes.\n")
		return b.String()
	}
	for _, app := range d.DeletedApps {
		fmt.Fprintf(&b, "## %s\n\n- application deleted (%d models)\n\n", app.AppLabel, len(app.Models))
	}
	for _, label := range d.AddedApps {
		fmt.Fprintf(&b, "## %s\n\n- application added\n\n", label)
	}
	for _, app := range d.Changed {
		fmt.Fprintf(&b, "## %s\n\n", app.AppLabel)
		for _, prop := range app.MetaChanged {
			fmt.Fprintf(&b, "- meta `%s` changed\n", prop)
		}
		for _, name := range app.DeletedModels {
			fmt.Fprintf(&b, "- model `%s` deleted\n", name)
		}
		for _, name := range app.AddedModels {
			fmt.Fprintf(&b, "- model `%s` added\n", name)
		}
		for _, model := range app.ChangedModels {
			fmt.Fprintf(&b, "- model `%s`\n", model.ModelName)
			for _, name := range model.Added {
				fmt.Fprintf(&b, "  - field `%s` added\n", name)
			}
			for _, name := range model.Deleted {
				fmt.Fprintf(&b, "  - field `%s` deleted\n", name)
			}
			for _, fc := range model.Changed {
				fmt.Fprintf(&b, "  - field `%s`: %s\n", fc.FieldName, strings.Join(fc.Attrs, ", "))
			}
			for _, prop := range model.MetaChanged {
				fmt.Fprintf(&b, "  - meta `%s` changed\n", prop)
			}
		}
		b.WriteString("\n")
	}
	return b.String()
}
