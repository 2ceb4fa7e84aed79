package evolve

import (
	"github.com/satishbabariya/schema-evolution/internal/history"
	"github.com/satishbabariya/schema-evolution/internal/migrations"
	"github.com/satishbabariya/schema-evolution/internal/signature"
)

// BuiltinApp is the label the evolver's own tables are tracked under.
const BuiltinApp = "evolution"

func builtinAppSignature() *signature.AppSignature {
	app := signature.NewAppSignature(BuiltinApp)

	version := signature.NewModelSignature("Version", history.VersionTable)
	version.PKColumn = "id"
	version.AddFieldSig(signature.NewFieldSignature("id", signature.FieldAuto, map[string]any{"primary_key": true}, ""))
	version.AddFieldSig(signature.NewFieldSignature("signature", signature.FieldText, nil, ""))
	version.AddFieldSig(signature.NewFieldSignature("when", signature.FieldDateTime, nil, ""))
	app.AddModelSig(version)

	evolution := signature.NewModelSignature("Evolution", history.EvolutionTable)
	evolution.PKColumn = "id"
	evolution.AddFieldSig(signature.NewFieldSignature("id", signature.FieldAuto, map[string]any{"primary_key": true}, ""))
	evolution.AddFieldSig(signature.NewFieldSignature("version", signature.FieldForeignKey, nil,
		signature.ModelRef(BuiltinApp, "Version")))
	evolution.AddFieldSig(signature.NewFieldSignature("app_label", signature.FieldChar, map[string]any{"max_length": 200}, ""))
	evolution.AddFieldSig(signature.NewFieldSignature("label", signature.FieldChar, map[string]any{"max_length": 100}, ""))
	app.AddModelSig(evolution)

	applied := signature.NewModelSignature("AppliedMigration", migrations.RecorderTable)
	applied.PKColumn = "id"
	applied.AddFieldSig(signature.NewFieldSignature("id", signature.FieldAuto, map[string]any{"primary_key": true}, ""))
	applied.AddFieldSig(signature.NewFieldSignature("app_label", signature.FieldChar, map[string]any{"max_length": 200}, ""))
	applied.AddFieldSig(signature.NewFieldSignature("name", signature.FieldChar, map[string]any{"max_length": 255}, ""))
	applied.AddFieldSig(signature.NewFieldSignature("applied_at", signature.FieldDateTime, nil, ""))
	applied.AddFieldSig(signature.NewFieldSignature("checksum", signature.FieldChar, map[string]any{"max_length": 64}, ""))
	applied.AddFieldSig(signature.NewFieldSignature("execution_time", signature.FieldInt, map[string]any{"null": true}, ""))
	applied.UniqueTogether = signature.Together{{"app_label", "name"}}
	applied.UniqueTogetherApplied = true
	app.AddModelSig(applied)

	return app
}
