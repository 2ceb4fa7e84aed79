package diff

import (
	"slices"

	"github.com/satishbabariya/schema-evolution/internal/mutations"
	"github.com/satishbabariya/schema-evolution/internal/signature"
	"github.com/satishbabariya/schema-evolution/internal/sqlgen"
)

// InitialSource supplies the value used to fill existing rows when a
// non-null field is added or made non-null.
type InitialSource interface {
	InitialValue(appLabel, modelName, fieldName string) (*sqlgen.Initial, bool)
}

func initialFor(src InitialSource, appLabel, modelName, fieldName string) *sqlgen.Initial {
	if src != nil {
		if initial, ok := src.InitialValue(appLabel, modelName, fieldName); ok {
			return initial
		}
	}
	return mutations.Placeholder()
}

// Evolution returns, per app, the mutations that turn the old signature
// into the new one. Fields that need a value only the user can provide get
// a placeholder initial; see mutations.NeedsUserInput.
//
// Within an app, added models come first, then for each changed model its
// added, deleted and changed fields and its meta changes, then the deleted
// models.
func (d *Diff) Evolution(src InitialSource) map[string][]mutations.Mutation {
	out := make(map[string][]mutations.Mutation)
	for _, app := range d.Changed {
		newApp := d.New.AppSig(app.AppLabel)
		var muts []mutations.Mutation

		for _, prop := range app.MetaChanged {
			if prop == MetaUpgradeMethod {
				muts = append(muts, &mutations.MoveToMigrations{MarkApplied: newApp.AppliedMigrations()})
			}
		}
		for _, name := range app.AddedModels {
			muts = append(muts, &mutations.AddModel{Model: newApp.ModelSig(name).Clone()})
		}
		for _, mc := range app.ChangedModels {
			muts = append(muts, modelMutations(src, app.AppLabel, newApp.ModelSig(mc.ModelName), mc)...)
		}
		for _, name := range app.DeletedModels {
			muts = append(muts, &mutations.DeleteModel{ModelName: name})
		}

		if len(muts) > 0 {
			out[app.AppLabel] = muts
		}
	}
	return out
}

func modelMutations(src InitialSource, appLabel string, model *signature.ModelSignature, mc *ModelChange) []mutations.Mutation {
	var muts []mutations.Mutation

	for _, name := range mc.Added {
		field := model.FieldSig(name)
		m := &mutations.AddField{
			ModelName:    model.ModelName,
			FieldName:    name,
			FieldType:    field.FieldType,
			RelatedModel: field.RelatedModel,
			Attrs:        field.Attrs(),
		}
		if !field.FieldType.IsManyToMany() && !field.IsNull() {
			m.Initial = initialFor(src, appLabel, model.ModelName, name)
		}
		muts = append(muts, m)
	}

	for _, name := range mc.Deleted {
		muts = append(muts, &mutations.DeleteField{ModelName: model.ModelName, FieldName: name})
	}

	for _, fc := range mc.Changed {
		field := model.FieldSig(fc.FieldName)
		m := &mutations.ChangeField{
			ModelName: model.ModelName,
			FieldName: fc.FieldName,
			Attrs:     make(map[string]any),
		}
		nullChanged := false
		for _, attr := range fc.Attrs {
			switch attr {
			case "field_type":
				m.FieldType = field.FieldType
			case "related_model":
				m.RelatedModel = field.RelatedModel
			default:
				m.Attrs[attr] = field.Attr(attr)
				if attr == "null" {
					nullChanged = true
				}
			}
		}
		if m.FieldType != "" {
			// A new type resets the attributes to the new field's.
			m.Attrs = field.Attrs()
			m.RelatedModel = field.RelatedModel
		}
		if nullChanged && !field.IsNull() && !field.FieldType.IsManyToMany() {
			m.Initial = initialFor(src, appLabel, model.ModelName, fc.FieldName)
		}
		muts = append(muts, m)
	}

	for _, prop := range []string{MetaIndexes, MetaConstraints, MetaIndexTogether, MetaUniqueTogether, MetaDBTablespace} {
		if !slices.Contains(mc.MetaChanged, prop) {
			continue
		}
		var value any
		switch prop {
		case MetaIndexes:
			indexes := make([]*signature.IndexSignature, len(model.Indexes))
			for i, idx := range model.Indexes {
				indexes[i] = idx.Clone()
			}
			value = indexes
		case MetaConstraints:
			constraints := make([]*signature.ConstraintSignature, len(model.Constraints))
			for i, con := range model.Constraints {
				constraints[i] = con.Clone()
			}
			value = constraints
		case MetaIndexTogether:
			value = orEmpty(model.IndexTogether)
		case MetaUniqueTogether:
			value = orEmpty(model.UniqueTogether)
		case MetaDBTablespace:
			value = model.DBTablespace
		}
		muts = append(muts, &mutations.ChangeMeta{ModelName: model.ModelName, PropName: prop, NewValue: value})
	}
	return muts
}

func orEmpty(t signature.Together) signature.Together {
	if t == nil {
		return signature.Together{}
	}
	return t.Clone()
}
