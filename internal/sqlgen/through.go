package sqlgen

import (
	"strings"

	"github.com/satishbabariya/schema-evolution/internal/signature"
)

// ThroughTableName returns the association table of a many-to-many field.
func ThroughTableName(model *signature.ModelSignature, field *signature.FieldSignature) string {
	if table := field.StringAttr("db_table"); table != "" {
		return table
	}
	return model.TableName + "_" + strings.ToLower(field.FieldName)
}

// ThroughModel builds the signature of the association table behind a
// many-to-many field: an auto primary key, one foreign key per side and a
// unique constraint over the pair. The model is owned by the declaring
// model's table.
func ThroughModel(appLabel string, model *signature.ModelSignature, field *signature.FieldSignature) *signature.ModelSignature {
	_, relatedName := field.RelatedApp()
	fromName := strings.ToLower(model.ModelName)
	toName := strings.ToLower(relatedName)
	if fromName == toName {
		fromName = "from_" + fromName
		toName = "to_" + toName
	}

	through := signature.NewModelSignature(model.ModelName+"_"+field.FieldName, ThroughTableName(model, field))
	through.PKColumn = "id"
	through.DBTablespace = model.DBTablespace
	through.OwnerTable = model.TableName
	through.AddFieldSig(signature.NewFieldSignature("id", signature.FieldAuto, map[string]any{"primary_key": true}, ""))
	through.AddFieldSig(signature.NewFieldSignature(fromName, signature.FieldForeignKey, nil, signature.ModelRef(appLabel, model.ModelName)))
	through.AddFieldSig(signature.NewFieldSignature(toName, signature.FieldForeignKey, nil, field.RelatedModel))
	through.UniqueTogether = signature.Together{{fromName, toName}}
	through.UniqueTogetherApplied = true
	return through
}

// ThroughModels returns the association tables owned by a model.
func ThroughModels(appLabel string, model *signature.ModelSignature) []*signature.ModelSignature {
	var out []*signature.ModelSignature
	for _, f := range model.FieldSigs() {
		if f.FieldType.IsManyToMany() {
			out = append(out, ThroughModel(appLabel, model, f))
		}
	}
	return out
}
