// Package mutations implements the schema operations an evolution is made
// of. Every mutation can be simulated against a project signature and
// rendered into SQL for a database.
package mutations

import (
	"fmt"

	"github.com/satishbabariya/schema-evolution/internal/dbstate"
	"github.com/satishbabariya/schema-evolution/internal/graph"
	"github.com/satishbabariya/schema-evolution/internal/signature"
	"github.com/satishbabariya/schema-evolution/internal/sqlgen"
)

// Kind identifies a mutation variant.
type Kind string

const (
	KindAddField          Kind = "add_field"
	KindDeleteField       Kind = "delete_field"
	KindRenameField       Kind = "rename_field"
	KindChangeField       Kind = "change_field"
	KindChangeMeta        Kind = "change_meta"
	KindAddModel          Kind = "add_model"
	KindDeleteModel       Kind = "delete_model"
	KindRenameModel       Kind = "rename_model"
	KindDeleteApplication Kind = "delete_application"
	KindSQL               Kind = "sql"
	KindMoveToMigrations  Kind = "move_to_migrations"
	KindRenameAppLabel    Kind = "rename_app_label"
)

// Mutation is one schema operation. The set of implementations is closed.
type Mutation interface {
	Kind() Kind
	// IsMutable reports whether the mutation applies to the context's
	// database. Mutations that are not mutable are skipped.
	IsMutable(c *MutateContext) bool
	// Simulate applies the change to s.Project.
	Simulate(s *Simulation) error
	// Mutate returns the SQL performing the change. The context's project
	// is the state before the change and is left untouched.
	Mutate(c *MutateContext) ([]string, error)

	// subject describes what the mutation changes, for failure messages.
	subject(appLabel string) string
}

// PreMutator is implemented by mutations that run bookkeeping before Mutate.
type PreMutator interface {
	PreMutate(c *MutateContext) error
}

// PostMutator is implemented by mutations that run bookkeeping after Mutate.
type PostMutator interface {
	PostMutate(c *MutateContext) error
}

// PreSimulator is implemented by mutations that run bookkeeping before
// Simulate.
type PreSimulator interface {
	PreSimulate(s *Simulation) error
}

// PostSimulator is implemented by mutations that run bookkeeping after
// Simulate.
type PostSimulator interface {
	PostSimulate(s *Simulation) error
}

// Dependent is implemented by mutations that constrain where their
// evolution runs relative to other evolutions and migrations.
type Dependent interface {
	Dependencies(appLabel string) graph.Dependencies
}

// Router maps a model to the database it is stored in.
type Router interface {
	DatabaseFor(appLabel, modelName string) string
}

// Simulation is the state a mutation is simulated against.
type Simulation struct {
	AppLabel string
	Project  *signature.ProjectSignature
	Database string

	mutation Mutation
}

// NewSimulation prepares to simulate m against project.
func NewSimulation(m Mutation, appLabel string, project *signature.ProjectSignature) *Simulation {
	return &Simulation{AppLabel: appLabel, Project: project, mutation: m}
}

// Fail returns a SimulationFailure for the simulated mutation.
func (s *Simulation) Fail(reason string) error {
	return &SimulationFailure{
		Kind:    s.mutation.Kind(),
		Subject: s.mutation.subject(s.AppLabel),
		Reason:  reason,
	}
}

// AppSig returns the simulated app.
func (s *Simulation) AppSig() (*signature.AppSignature, error) {
	app := s.Project.AppSig(s.AppLabel)
	if app == nil {
		return nil, s.Fail("The application could not be found in the signature.")
	}
	return app, nil
}

// ModelSig returns a model of the simulated app.
func (s *Simulation) ModelSig(modelName string) (*signature.ModelSignature, error) {
	app, err := s.AppSig()
	if err != nil {
		return nil, err
	}
	model := app.ModelSig(modelName)
	if model == nil {
		return nil, s.Fail("The model could not be found in the signature.")
	}
	return model, nil
}

// FieldSig returns a field of a model of the simulated app.
func (s *Simulation) FieldSig(modelName, fieldName string) (*signature.FieldSignature, error) {
	model, err := s.ModelSig(modelName)
	if err != nil {
		return nil, err
	}
	field := model.FieldSig(fieldName)
	if field == nil {
		return nil, s.Fail("The field could not be found in the signature.")
	}
	return field, nil
}

// Simulate applies m to project, running its hooks.
func Simulate(m Mutation, appLabel string, project *signature.ProjectSignature) error {
	s := NewSimulation(m, appLabel, project)
	if hook, ok := m.(PreSimulator); ok {
		if err := hook.PreSimulate(s); err != nil {
			return err
		}
	}
	if err := m.Simulate(s); err != nil {
		return err
	}
	if hook, ok := m.(PostSimulator); ok {
		return hook.PostSimulate(s)
	}
	return nil
}

// MutateContext is what a mutation renders SQL against.
type MutateContext struct {
	AppLabel string
	// Project is the signature before the mutation.
	Project *signature.ProjectSignature
	// State tracks the database's tables and indexes. Mutations keep it
	// current as they emit SQL.
	State     *dbstate.DatabaseState
	Generator sqlgen.Generator
	Database  string
	Router    Router
}

// routedHere reports whether the model is stored in the context's database.
func (c *MutateContext) routedHere(modelName string) bool {
	if c.Router == nil {
		return true
	}
	db := c.Router.DatabaseFor(c.AppLabel, modelName)
	return db == "" || db == c.Database
}

// sqlContext returns the generator context for a project.
func (c *MutateContext) sqlContext(project *signature.ProjectSignature) sqlgen.Context {
	return sqlgen.Context{Project: project, State: c.State}
}

// modelSig returns a model from the pre-change project.
func (c *MutateContext) modelSig(modelName string) (*signature.ModelSignature, error) {
	model := c.Project.ModelSig(c.AppLabel, modelName)
	if model == nil {
		return nil, fmt.Errorf("model %q: %w", signature.ModelRef(c.AppLabel, modelName), signature.ErrMissingSignature)
	}
	return model, nil
}

// simulated returns a copy of the project with m applied.
func (c *MutateContext) simulated(m Mutation) (*signature.ProjectSignature, error) {
	project := c.Project.Clone()
	if err := Simulate(m, c.AppLabel, project); err != nil {
		return nil, err
	}
	return project, nil
}

// trackIndex records an index, ignoring one already tracked under the same
// name.
func (c *MutateContext) trackIndex(table string, idx sqlgen.IndexDef) error {
	if c.State == nil {
		return nil
	}
	if _, ok := c.State.GetIndex(table, idx.Name); ok {
		return nil
	}
	return c.State.AddIndex(table, idx.Name, idx.PlainColumns(), idx.Unique)
}
