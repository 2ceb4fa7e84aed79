package mutations

import (
	"errors"
	"fmt"

	"github.com/satishbabariya/schema-evolution/internal/dbstate"
	"github.com/satishbabariya/schema-evolution/internal/debug"
	"github.com/satishbabariya/schema-evolution/internal/graph"
	"github.com/satishbabariya/schema-evolution/internal/signature"
	"github.com/satishbabariya/schema-evolution/internal/sqlgen"
)

// AppMutator runs an app's mutations in order, collecting their SQL and
// advancing the project signature as it goes.
type AppMutator struct {
	AppLabel  string
	Project   *signature.ProjectSignature
	State     *dbstate.DatabaseState
	Generator sqlgen.Generator
	Database  string
	Router    Router

	// CanSimulate turns false once a mutation could not be simulated.
	// From then on the project signature is a best effort.
	CanSimulate bool

	sql []string
}

// NewAppMutator creates a mutator that updates project and state in place.
func NewAppMutator(appLabel string, project *signature.ProjectSignature, state *dbstate.DatabaseState,
	gen sqlgen.Generator, database string) *AppMutator {
	return &AppMutator{
		AppLabel:    appLabel,
		Project:     project,
		State:       state,
		Generator:   gen,
		Database:    database,
		CanSimulate: true,
	}
}

func (a *AppMutator) context() *MutateContext {
	return &MutateContext{
		AppLabel:  a.AppLabel,
		Project:   a.Project,
		State:     a.State,
		Generator: a.Generator,
		Database:  a.Database,
		Router:    a.Router,
	}
}

// RunMutations runs each mutation in turn.
func (a *AppMutator) RunMutations(muts []Mutation) error {
	for _, m := range muts {
		if err := a.RunMutation(m); err != nil {
			return err
		}
	}
	return nil
}

// RunMutation renders a mutation's SQL against the current project, then
// simulates it.
func (a *AppMutator) RunMutation(m Mutation) error {
	c := a.context()
	if !m.IsMutable(c) {
		debug.Info("skipping mutation that does not apply", "app", a.AppLabel, "kind", m.Kind(), "database", a.Database)
		return nil
	}

	if hook, ok := m.(PreMutator); ok {
		if err := hook.PreMutate(c); err != nil {
			return err
		}
	}
	sql, err := m.Mutate(c)
	if err != nil {
		return fmt.Errorf("failed to generate SQL for %s in %q: %w", m.Kind(), a.AppLabel, err)
	}
	if hook, ok := m.(PostMutator); ok {
		if err := hook.PostMutate(c); err != nil {
			return err
		}
	}
	a.sql = append(a.sql, sql...)

	if err := Simulate(m, a.AppLabel, a.Project); err != nil {
		switch {
		case errors.Is(err, ErrCannotSimulate):
			debug.Warn("mutation cannot be simulated, skipping signature checks", "app", a.AppLabel, "kind", m.Kind())
			a.CanSimulate = false
		case !a.CanSimulate:
			debug.Warn("simulation failed after an unsimulated mutation", "app", a.AppLabel, "kind", m.Kind(), "error", err)
		default:
			return err
		}
	}
	return nil
}

// SQL returns the statements collected so far.
func (a *AppMutator) SQL() []string {
	return append([]string(nil), a.sql...)
}

// SimulateAll simulates muts against project. It reports false when a
// mutation could not be simulated, in which case project is a best effort.
func SimulateAll(appLabel string, project *signature.ProjectSignature, muts []Mutation) (bool, error) {
	canSimulate := true
	for _, m := range muts {
		err := Simulate(m, appLabel, project)
		switch {
		case err == nil:
		case errors.Is(err, ErrCannotSimulate):
			canSimulate = false
		case !canSimulate:
			debug.Warn("simulation failed after an unsimulated mutation", "app", appLabel, "kind", m.Kind(), "error", err)
		default:
			return canSimulate, err
		}
	}
	return canSimulate, nil
}

// Dependencies merges the ordering constraints declared by muts.
func Dependencies(appLabel string, muts []Mutation) graph.Dependencies {
	var deps graph.Dependencies
	for _, m := range muts {
		if d, ok := m.(Dependent); ok {
			deps = deps.Merge(d.Dependencies(appLabel))
		}
	}
	return deps
}

// NeedsUserInput reports whether any mutation carries a placeholder
// initial value.
func NeedsUserInput(muts []Mutation) bool {
	for _, m := range muts {
		switch m := m.(type) {
		case *AddField:
			if NeedsUserValue(m.Initial) {
				return true
			}
		case *ChangeField:
			if NeedsUserValue(m.Initial) {
				return true
			}
		}
	}
	return false
}
