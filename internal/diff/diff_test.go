package diff

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/satishbabariya/schema-evolution/internal/mutations"
	"github.com/satishbabariya/schema-evolution/internal/signature"
	"github.com/satishbabariya/schema-evolution/internal/sqlgen"
)

type initials map[string]any

func (i initials) InitialValue(appLabel, modelName, fieldName string) (*sqlgen.Initial, bool) {
	v, ok := i[appLabel+"."+modelName+"."+fieldName]
	if !ok {
		return nil, false
	}
	return &sqlgen.Initial{Value: v}, true
}

func testModel() *signature.ModelSignature {
	m := signature.NewModelSignature("TestModel", "tests_testmodel")
	m.PKColumn = "id"
	m.AddFieldSig(signature.NewFieldSignature("id", signature.FieldAuto, map[string]any{"primary_key": true}, ""))
	m.AddFieldSig(signature.NewFieldSignature("char_field", signature.FieldChar, map[string]any{"max_length": 20}, ""))
	m.AddFieldSig(signature.NewFieldSignature("int_field", signature.FieldInt, nil, ""))
	return m
}

func authorModel() *signature.ModelSignature {
	m := signature.NewModelSignature("Author", "tests_author")
	m.PKColumn = "id"
	m.AddFieldSig(signature.NewFieldSignature("id", signature.FieldAuto, map[string]any{"primary_key": true}, ""))
	m.AddFieldSig(signature.NewFieldSignature("name", signature.FieldChar, map[string]any{"max_length": 100}, ""))
	return m
}

func projectWith(appLabel string, models ...*signature.ModelSignature) *signature.ProjectSignature {
	app := signature.NewAppSignature(appLabel)
	for _, m := range models {
		app.AddModelSig(m)
	}
	p := signature.NewProjectSignature()
	p.AddAppSig(app)
	return p
}

// simulateHint applies the hinted evolution to a copy of the old signature.
func simulateHint(t *testing.T, d *Diff, src InitialSource) *signature.ProjectSignature {
	t.Helper()
	project := d.Old.Clone()
	for appLabel, muts := range d.Evolution(src) {
		ok, err := mutations.SimulateAll(appLabel, project, muts)
		require.NoError(t, err)
		require.True(t, ok)
	}
	return project
}

func TestDiffOfIdenticalSignatures(t *testing.T) {
	model := testModel()
	model.UniqueTogether = signature.Together{{"char_field", "int_field"}}
	model.UniqueTogetherApplied = true
	model.Indexes = []*signature.IndexSignature{signature.NewIndexSignature("tm_char", []string{"char_field"}, false)}
	project := projectWith("tests", model, authorModel())

	d := New(project, project.Clone())
	assert.True(t, d.IsEmpty(false))
	assert.Empty(t, d.Evolution(nil))
	assert.Empty(t, d.String())
}

func TestAddFieldWithInitial(t *testing.T) {
	old := projectWith("tests", testModel())
	updated := testModel()
	updated.AddFieldSig(signature.NewFieldSignature("added_field", signature.FieldInt, nil, ""))
	current := projectWith("tests", updated)

	d := New(old, current)
	require.False(t, d.IsEmpty(false))

	evolution := d.Evolution(initials{"tests.TestModel.added_field": 1})
	require.Len(t, evolution["tests"], 1)
	add, ok := evolution["tests"][0].(*mutations.AddField)
	require.True(t, ok)
	assert.Equal(t, "TestModel", add.ModelName)
	assert.Equal(t, "added_field", add.FieldName)
	assert.Equal(t, signature.FieldInt, add.FieldType)
	require.NotNil(t, add.Initial)
	assert.Equal(t, 1, add.Initial.Value)
	assert.False(t, mutations.NeedsUserInput(evolution["tests"]))

	assert.True(t, simulateHint(t, d, initials{"tests.TestModel.added_field": 1}).Equal(current))
}

func TestAddFieldNeedsUserValue(t *testing.T) {
	old := projectWith("tests", testModel())
	updated := testModel()
	updated.AddFieldSig(signature.NewFieldSignature("required", signature.FieldChar, map[string]any{"max_length": 10}, ""))
	updated.AddFieldSig(signature.NewFieldSignature("optional", signature.FieldInt, map[string]any{"null": true}, ""))

	evolution := New(old, projectWith("tests", updated)).Evolution(nil)
	require.Len(t, evolution["tests"], 2)

	required := evolution["tests"][0].(*mutations.AddField)
	assert.True(t, mutations.NeedsUserValue(required.Initial))
	optional := evolution["tests"][1].(*mutations.AddField)
	assert.Nil(t, optional.Initial)
	assert.True(t, mutations.NeedsUserInput(evolution["tests"]))
}

func TestRenamesAreNotInferred(t *testing.T) {
	old := projectWith("tests", testModel())
	updated := testModel()
	require.NoError(t, updated.RenameFieldSig("char_field", "title"))

	d := New(old, projectWith("tests", updated))
	change := d.App("tests").Model("TestModel")
	require.NotNil(t, change)
	assert.Equal(t, []string{"title"}, change.Added)
	assert.Equal(t, []string{"char_field"}, change.Deleted)

	muts := d.Evolution(initials{"tests.TestModel.title": ""})["tests"]
	require.Len(t, muts, 2)
	assert.Equal(t, mutations.KindAddField, muts[0].Kind())
	assert.Equal(t, mutations.KindDeleteField, muts[1].Kind())
}

func TestSimulatedHintMatchesTarget(t *testing.T) {
	oldModel := testModel()
	oldModel.AddFieldSig(signature.NewFieldSignature("note", signature.FieldText, map[string]any{"null": true}, ""))
	old := projectWith("tests", oldModel, authorModel())
	doomed := signature.NewModelSignature("Doomed", "tests_doomed")
	doomed.PKColumn = "id"
	doomed.AddFieldSig(signature.NewFieldSignature("id", signature.FieldAuto, map[string]any{"primary_key": true}, ""))
	old.AppSig("tests").AddModelSig(doomed)

	newModel := testModel()
	newModel.FieldSig("char_field").SetAttr("max_length", 50)
	newModel.FieldSig("int_field").SetAttr("db_index", true)
	newModel.AddFieldSig(signature.NewFieldSignature("note", signature.FieldText, nil, ""))
	newModel.AddFieldSig(signature.NewFieldSignature("author", signature.FieldForeignKey, nil, "tests.Author"))
	newModel.AddFieldSig(signature.NewFieldSignature("tags", signature.FieldManyToMany, nil, "tests.Tag"))
	newModel.UniqueTogether = signature.Together{{"char_field", "int_field"}}
	newModel.UniqueTogetherApplied = true
	newModel.IndexTogether = signature.Together{{"int_field", "note"}}
	newModel.Indexes = []*signature.IndexSignature{signature.NewIndexSignature("", []string{"-char_field"}, false)}
	newModel.DBTablespace = "fast"

	tag := signature.NewModelSignature("Tag", "tests_tag")
	tag.PKColumn = "id"
	tag.AddFieldSig(signature.NewFieldSignature("id", signature.FieldAuto, map[string]any{"primary_key": true}, ""))
	current := projectWith("tests", newModel, authorModel(), tag)

	d := New(old, current)
	app := d.App("tests")
	require.NotNil(t, app)
	assert.Equal(t, []string{"Tag"}, app.AddedModels)
	assert.Equal(t, []string{"Doomed"}, app.DeletedModels)
	change := app.Model("TestModel")
	require.NotNil(t, change)
	assert.Equal(t, []string{"author", "tags"}, change.Added)
	assert.Equal(t, []FieldChange{
		{FieldName: "char_field", Attrs: []string{"max_length"}},
		{FieldName: "int_field", Attrs: []string{"db_index"}},
		{FieldName: "note", Attrs: []string{"null"}},
	}, change.Changed)
	assert.Equal(t, []string{MetaUniqueTogether, MetaIndexTogether, MetaIndexes, MetaDBTablespace}, change.MetaChanged)

	src := initials{"tests.TestModel.author": 1, "tests.TestModel.note": ""}
	muts := d.Evolution(src)["tests"]
	kinds := make([]mutations.Kind, len(muts))
	for i, m := range muts {
		kinds[i] = m.Kind()
	}
	assert.Equal(t, []mutations.Kind{
		mutations.KindAddModel,
		mutations.KindAddField, mutations.KindAddField,
		mutations.KindChangeField, mutations.KindChangeField, mutations.KindChangeField,
		mutations.KindChangeMeta, mutations.KindChangeMeta, mutations.KindChangeMeta, mutations.KindChangeMeta,
		mutations.KindDeleteModel,
	}, kinds)

	tagsField := muts[2].(*mutations.AddField)
	assert.Nil(t, tagsField.Initial)
	noteChange := muts[5].(*mutations.ChangeField)
	require.NotNil(t, noteChange.Initial)
	assert.Equal(t, "", noteChange.Initial.Value)

	simulated := simulateHint(t, d, src)
	assert.True(t, simulated.Equal(current))
	assert.True(t, New(simulated, current).IsEmpty(false))
}

func TestFieldTypeChange(t *testing.T) {
	old := projectWith("tests", testModel())
	updated := testModel()
	updated.AddFieldSig(signature.NewFieldSignature("int_field", signature.FieldBigInt, map[string]any{"null": true}, ""))
	current := projectWith("tests", updated)

	d := New(old, current)
	muts := d.Evolution(nil)["tests"]
	require.Len(t, muts, 1)
	change := muts[0].(*mutations.ChangeField)
	assert.Equal(t, signature.FieldBigInt, change.FieldType)
	assert.Equal(t, map[string]any{"null": true}, change.Attrs)
	assert.Nil(t, change.Initial)

	assert.True(t, simulateHint(t, d, nil).Equal(current))
}

func TestConstraintChange(t *testing.T) {
	oldModel := testModel()
	oldModel.Constraints = []*signature.ConstraintSignature{
		signature.NewCheckConstraint("tm_positive", `"int_field" >= 0`),
		signature.NewUniqueConstraint("tm_pair_uniq", []string{"char_field", "int_field"}, ""),
	}
	reordered := testModel()
	reordered.Constraints = []*signature.ConstraintSignature{oldModel.Constraints[1].Clone(), oldModel.Constraints[0].Clone()}
	assert.True(t, New(projectWith("tests", oldModel), projectWith("tests", reordered)).IsEmpty(false))

	newModel := testModel()
	newModel.Constraints = []*signature.ConstraintSignature{
		signature.NewUniqueConstraint("tm_pair_uniq", []string{"char_field", "int_field"}, `"int_field" > 0`),
	}
	current := projectWith("tests", newModel)
	d := New(projectWith("tests", oldModel), current)
	change := d.App("tests").Model("TestModel")
	require.NotNil(t, change)
	assert.Equal(t, []string{MetaConstraints}, change.MetaChanged)

	muts := d.Evolution(nil)["tests"]
	require.Len(t, muts, 1)
	meta := muts[0].(*mutations.ChangeMeta)
	assert.Equal(t, mutations.MetaConstraints, meta.PropName)
	assert.True(t, simulateHint(t, d, nil).Equal(current))
}

func TestUniqueTogetherNeverApplied(t *testing.T) {
	oldModel := testModel()
	oldModel.UniqueTogether = signature.Together{{"char_field", "int_field"}}
	newModel := testModel()
	newModel.UniqueTogether = signature.Together{{"char_field", "int_field"}}
	newModel.UniqueTogetherApplied = true

	d := New(projectWith("tests", oldModel), projectWith("tests", newModel))
	change := d.App("tests").Model("TestModel")
	require.NotNil(t, change)
	assert.Equal(t, []string{MetaUniqueTogether}, change.MetaChanged)
}

func TestDeletedAndAddedApps(t *testing.T) {
	old := projectWith("tests", testModel())
	old.AddAppSig(signature.NewAppSignature("legacy"))
	old.AppSig("legacy").AddModelSig(authorModel())
	current := projectWith("tests", testModel())
	current.AddAppSig(signature.NewAppSignature("fresh"))

	d := New(old, current)
	assert.True(t, d.IsEmpty(true))
	assert.False(t, d.IsEmpty(false))
	assert.Equal(t, []DeletedApp{{AppLabel: "legacy", Models: []string{"Author"}}}, d.DeletedApps)
	assert.Equal(t, []string{"fresh"}, d.AddedApps)
	assert.Empty(t, d.Evolution(nil))

	limited := d.ForApps("tests")
	assert.True(t, limited.IsEmpty(false))
}

func TestUpgradeMethodChange(t *testing.T) {
	old := projectWith("tests", testModel())
	old.AppSig("tests").UpgradeMethod = signature.UpgradeEvolutions

	updated := testModel()
	updated.AddFieldSig(signature.NewFieldSignature("ignored", signature.FieldInt, nil, ""))
	current := projectWith("tests", updated)
	current.AppSig("tests").UpgradeMethod = signature.UpgradeMigrations
	current.AppSig("tests").AddAppliedMigrations("0001_initial", "0002_ignored")

	d := New(old, current)
	app := d.App("tests")
	require.NotNil(t, app)
	assert.Equal(t, []string{MetaUpgradeMethod}, app.MetaChanged)
	assert.Empty(t, app.ChangedModels)

	muts := d.Evolution(nil)["tests"]
	require.Len(t, muts, 1)
	move := muts[0].(*mutations.MoveToMigrations)
	assert.Equal(t, []string{"0001_initial", "0002_ignored"}, move.MarkApplied)
}

func TestReport(t *testing.T) {
	old := projectWith("tests", testModel(), authorModel())
	old.AddAppSig(signature.NewAppSignature("legacy"))

	updated := testModel()
	require.NoError(t, updated.RemoveFieldSig("int_field"))
	updated.AddFieldSig(signature.NewFieldSignature("added", signature.FieldInt, map[string]any{"null": true}, ""))
	updated.FieldSig("char_field").SetAttr("max_length", 30)
	updated.IndexTogether = signature.Together{{"char_field", "added"}}
	current := projectWith("tests", updated)

	d := New(old, current)
	assert.Equal(t, strings.Join([]string{
		"The application legacy has been deleted",
		"The model tests.Author has been deleted",
		"In model tests.TestModel:",
		"    Field 'added' has been added",
		"    Field 'int_field' has been deleted",
		"    In field 'char_field':",
		"        Property 'max_length' has changed",
		"    Meta property 'index_together' has changed",
	}, "\n"), d.String())

	md := d.Markdown()
	assert.Contains(t, md, "## tests")
	assert.Contains(t, md, "- model `Author` deleted")
	assert.Contains(t, md, "  - field `char_field`: max_length")
}
