// Package evolve brings a database up to date with the registered models by
// running evolutions, creating new models and applying migrations in
// dependency order.
package evolve

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/satishbabariya/schema-evolution/internal/dbstate"
	"github.com/satishbabariya/schema-evolution/internal/debug"
	"github.com/satishbabariya/schema-evolution/internal/diff"
	"github.com/satishbabariya/schema-evolution/internal/evofile"
	"github.com/satishbabariya/schema-evolution/internal/executor"
	"github.com/satishbabariya/schema-evolution/internal/graph"
	"github.com/satishbabariya/schema-evolution/internal/history"
	"github.com/satishbabariya/schema-evolution/internal/introspect"
	"github.com/satishbabariya/schema-evolution/internal/migrations"
	"github.com/satishbabariya/schema-evolution/internal/mutations"
	"github.com/satishbabariya/schema-evolution/internal/registry"
	"github.com/satishbabariya/schema-evolution/internal/signature"
	"github.com/satishbabariya/schema-evolution/internal/sqlgen"
)

// Options configures an Evolver.
type Options struct {
	DB       *sql.DB
	Provider introspect.Provider
	// Database is the logical name of the database. Defaults to "default".
	Database string
	Registry registry.Registry
	// Evolutions holds the evolution files. It may be nil.
	Evolutions *evofile.Store
	// Migrations holds the SQL migrations. It may be nil.
	Migrations *migrations.Set
	// Hinted evolves from the diff instead of evolution files.
	Hinted bool
	// DryRun collects the SQL instead of executing it. Nothing is stored.
	DryRun    bool
	Listeners []Listener
}

// Evolver holds the stored and registered project signatures and runs the
// queued tasks between them.
type Evolver struct {
	database    string
	hinted      bool
	listeners   []Listener
	evolutions  *evofile.Store
	migrations  *migrations.Set
	registry    registry.Registry
	gen         sqlgen.Generator
	introspect  introspect.Introspector
	exec        *executor.SQLExecutor
	history     *history.Store
	recorder    *migrations.Recorder
	state       *dbstate.DatabaseState
	project     *signature.ProjectSignature
	stored      *signature.ProjectSignature
	target      *signature.ProjectSignature
	initialDiff *diff.Diff
	hints       map[string][]mutations.Mutation
	version     *history.Version

	// InstalledNewDatabase is set when the evolver had to bootstrap its
	// own tables.
	InstalledNewDatabase bool

	appliedEvolutions map[string][]string
	appliedMigrations []graph.MigrationTarget

	tasks    []Task
	taskIDs  map[string]bool
	prepared bool
	evolved  bool
	plan     *plan
}

// New loads the stored signature, bootstrapping the evolver's tables on
// first use, and computes the diff against the registered models.
func New(ctx context.Context, opts Options) (*Evolver, error) {
	if opts.Registry == nil {
		return nil, errors.New("evolver requires a model registry")
	}
	if opts.Database == "" {
		opts.Database = "default"
	}
	gen, err := sqlgen.New(opts.Provider)
	if err != nil {
		return nil, err
	}

	execOpts := []executor.Option{executor.WithDatabase(opts.Database)}
	if opts.DryRun {
		execOpts = append(execOpts, executor.WithCollect())
	}
	e := &Evolver{
		database:   opts.Database,
		hinted:     opts.Hinted,
		listeners:  opts.Listeners,
		evolutions: opts.Evolutions,
		migrations: opts.Migrations,
		registry:   opts.Registry,
		gen:        gen,
		exec:       executor.New(opts.DB, opts.Provider, execOpts...),
		state:      dbstate.New(opts.Database),
		taskIDs:    make(map[string]bool),
	}
	if opts.DB != nil {
		e.history = history.New(opts.DB, opts.Provider)
		e.recorder = migrations.NewRecorder(opts.DB, opts.Provider)
		if e.introspect, err = introspect.NewIntrospector(opts.DB, opts.Provider); err != nil {
			return nil, err
		}
		if err := e.state.Rescan(ctx, e.introspect); err != nil {
			return nil, err
		}
	}

	if e.target, err = e.loadTarget(); err != nil {
		return nil, err
	}
	if err := e.loadProject(ctx); err != nil {
		return nil, err
	}
	if err := e.loadApplied(ctx); err != nil {
		return nil, err
	}

	e.initialDiff = diff.New(e.project, e.target)
	if e.hinted {
		e.hints = e.initialDiff.Evolution(e.registry)
	}
	return e, nil
}

func (e *Evolver) loadTarget() (*signature.ProjectSignature, error) {
	target, err := e.registry.ProjectSignature()
	if err != nil {
		return nil, err
	}
	if target.AppSig(BuiltinApp) != nil {
		return nil, fmt.Errorf("%w: %q", ErrReservedApp, BuiltinApp)
	}
	target.AddAppSig(builtinAppSignature())
	return target, nil
}

// loadProject reads the current stored signature. A database without one
// gets the evolver's tables and a first version.
func (e *Evolver) loadProject(ctx context.Context) error {
	if e.history != nil && e.state.HasTable(history.VersionTable) {
		v, err := e.history.CurrentVersion(ctx)
		switch {
		case err == nil:
			project, err := v.Project()
			if err != nil {
				return err
			}
			e.version = v
			e.project = project
			e.stored = project.Clone()
			return nil
		case !errors.Is(err, history.ErrNoVersion):
			return err
		}
	}
	return e.bootstrap(ctx)
}

func (e *Evolver) bootstrap(ctx context.Context) error {
	e.InstalledNewDatabase = true
	e.project = signature.NewProjectSignature()
	e.project.AddAppSig(builtinAppSignature())
	e.stored = e.project.Clone()
	if e.exec.Collecting() || e.history == nil {
		return nil
	}

	debug.Info("installing evolution tables", "database", e.database)
	err := e.exec.Run(ctx, executor.RunOptions{CheckConstraints: true}, func(s *executor.Session) error {
		hist := e.history.WithTx(s.Tx())
		if err := hist.EnsureTables(ctx); err != nil {
			return err
		}
		if err := e.recorder.WithTx(s.Tx()).EnsureTable(ctx); err != nil {
			return err
		}
		v, err := hist.SaveVersion(ctx, e.project)
		if err != nil {
			return err
		}
		e.version = v
		return nil
	})
	if err != nil {
		return err
	}
	return e.state.Rescan(ctx, e.introspect)
}

func (e *Evolver) loadApplied(ctx context.Context) error {
	e.appliedEvolutions = make(map[string][]string)
	if e.history != nil && e.state.HasTable(history.EvolutionTable) {
		applied, err := e.history.AppliedLabels(ctx)
		if err != nil {
			return err
		}
		e.appliedEvolutions = applied
	}
	if e.recorder != nil && e.state.HasTable(migrations.RecorderTable) {
		targets, err := e.recorder.AppliedTargets(ctx)
		if err != nil {
			return err
		}
		e.appliedMigrations = targets
	}
	return nil
}

// Project returns the project signature. Once tasks are prepared it
// reflects their simulated changes.
func (e *Evolver) Project() *signature.ProjectSignature { return e.project }

// Target returns the signature of the registered models.
func (e *Evolver) Target() *signature.ProjectSignature { return e.target }

// InitialDiff is the difference between the stored and registered
// signatures before any task ran.
func (e *Evolver) InitialDiff() *diff.Diff { return e.initialDiff }

// DatabaseState returns the tracked tables and indexes.
func (e *Evolver) DatabaseState() *dbstate.DatabaseState { return e.state }

// Database returns the logical database name.
func (e *Evolver) Database() string { return e.database }

// CollectedSQL returns the statements gathered by a dry run.
func (e *Evolver) CollectedSQL() []string { return e.exec.Collected() }

// QueueEvolveAllApps queues an evolve task for every registered app.
func (e *Evolver) QueueEvolveAllApps() error {
	for _, label := range e.registry.AppLabels() {
		if err := e.QueueEvolveApp(label); err != nil {
			return err
		}
	}
	return nil
}

// QueueEvolveApp queues an evolve task for one registered app.
func (e *Evolver) QueueEvolveApp(appLabel string) error {
	err := e.QueueTask(NewEvolveAppTask(appLabel))
	var queued *EvolutionTaskAlreadyQueuedError
	if errors.As(err, &queued) {
		queued.Msg = fmt.Sprintf("%q is already being tracked for evolution", appLabel)
	}
	return err
}

// QueuePurgeOldApps queues a purge of every stored app that is no longer
// registered.
func (e *Evolver) QueuePurgeOldApps() error {
	for _, app := range e.initialDiff.DeletedApps {
		if err := e.QueuePurgeApp(app.AppLabel); err != nil {
			return err
		}
	}
	return nil
}

// QueuePurgeApp queues a purge of one app.
func (e *Evolver) QueuePurgeApp(appLabel string) error {
	err := e.QueueTask(NewPurgeAppTask(appLabel))
	var queued *EvolutionTaskAlreadyQueuedError
	if errors.As(err, &queued) {
		queued.Msg = fmt.Sprintf("%q is already being tracked for purging", appLabel)
	}
	return err
}

// QueueTask queues a task. Tasks cannot be queued once prepared.
func (e *Evolver) QueueTask(t Task) error {
	if e.prepared {
		return &QueueEvolverTaskError{TaskID: t.ID()}
	}
	if e.taskIDs[t.ID()] {
		return &EvolutionTaskAlreadyQueuedError{TaskID: t.ID()}
	}
	switch t.(type) {
	case *EvolveAppTask, *PurgeAppTask:
	default:
		return fmt.Errorf("unsupported task type %T", t)
	}
	e.taskIDs[t.ID()] = true
	e.tasks = append(e.tasks, t)
	return nil
}

// Tasks prepares the queued tasks and returns them.
func (e *Evolver) Tasks() ([]Task, error) {
	if err := e.prepareTasks(); err != nil {
		return nil, err
	}
	return append([]Task(nil), e.tasks...), nil
}

// CanSimulate reports whether every task requiring evolution could be
// simulated.
func (e *Evolver) CanSimulate() (bool, error) {
	tasks, err := e.Tasks()
	if err != nil {
		return false, err
	}
	for _, t := range tasks {
		if t.EvolutionRequired() && !t.CanSimulate() {
			return false, nil
		}
	}
	return true, nil
}

// EvolutionRequired reports whether any task changes the database.
func (e *Evolver) EvolutionRequired() (bool, error) {
	tasks, err := e.Tasks()
	if err != nil {
		return false, err
	}
	for _, t := range tasks {
		if t.EvolutionRequired() {
			return true, nil
		}
	}
	return false, nil
}

// DiffEvolutions returns what remains between the simulated project and
// the registered models once the queued tasks are prepared.
func (e *Evolver) DiffEvolutions() (*diff.Diff, error) {
	if err := e.prepareTasks(); err != nil {
		return nil, err
	}
	return diff.New(e.project, e.target), nil
}

// TaskContent pairs a task with its evolution file content.
type TaskContent struct {
	Task    *EvolveAppTask
	Content string
}

// EvolutionContent renders the mutations of every task that has any.
func (e *Evolver) EvolutionContent() ([]TaskContent, error) {
	tasks, err := e.Tasks()
	if err != nil {
		return nil, err
	}
	var out []TaskContent
	for _, t := range tasks {
		evolve, ok := t.(*EvolveAppTask)
		if !ok {
			continue
		}
		content, err := evolve.EvolutionContent()
		if err != nil {
			return nil, err
		}
		if content != "" {
			out = append(out, TaskContent{Task: evolve, Content: content})
		}
	}
	return out, nil
}

func (e *Evolver) prepareTasks() error {
	if e.prepared {
		return nil
	}
	e.prepared = true

	for _, t := range e.tasks {
		var err error
		switch t := t.(type) {
		case *EvolveAppTask:
			err = t.prepare(e)
		case *PurgeAppTask:
			err = t.prepare(e)
		}
		if err != nil {
			return fmt.Errorf("failed to prepare %s: %w", t, err)
		}
	}

	p, err := e.buildPlan()
	if err != nil {
		return err
	}
	e.plan = p

	// Apps with unapplied migrations need evolving even when nothing else
	// changed.
	for _, b := range p.batches {
		if b.Type != graph.NodeMigration {
			continue
		}
		for _, n := range b.Nodes {
			task, ok := e.taskFor(graph.StateOf(n).AppLabel)
			if ok && !task.evolutionRequired {
				task.evolutionRequired = true
				task.settle(task.needsInput)
			}
		}
	}
	return nil
}

func (e *Evolver) taskFor(appLabel string) (*EvolveAppTask, bool) {
	for _, task := range e.evolveTasks() {
		if task.appLabel == appLabel {
			return task, true
		}
	}
	return nil, false
}

// Evolve runs the queued tasks and stores the resulting signature. It can
// only be called once.
func (e *Evolver) Evolve(ctx context.Context) error {
	if e.evolved {
		return ErrAlreadyEvolved
	}
	if err := e.prepareTasks(); err != nil {
		return err
	}
	if err := e.checkReady(); err != nil {
		return err
	}

	e.notify(func(l Listener) { l.Evolving(e) })
	if err := e.execute(ctx); err != nil {
		e.notify(func(l Listener) { l.EvolvingFailed(e, err) })
		return err
	}
	e.evolved = true
	e.notify(func(l Listener) { l.Evolved(e) })
	return nil
}

// checkReady blocks tasks waiting on user input and apps whose simulated
// signature does not reach the registered one. Apps that could not be
// simulated are not checked.
func (e *Evolver) checkReady() error {
	var waiting []string
	for _, t := range e.tasks {
		if t.State() == StateNeedsUserInput {
			waiting = append(waiting, t.AppLabel())
		}
	}
	if len(waiting) > 0 {
		return &NeedsUserInputError{AppLabels: waiting}
	}

	for _, t := range e.tasks {
		task, ok := t.(*EvolveAppTask)
		if !ok || !task.CanSimulate() || task.upgradeMethod == signature.UpgradeMigrations {
			continue
		}
		d := diff.New(e.project, e.target).ForApps(task.appLabel)
		if !d.IsEmpty(true) {
			return &EvolutionIncompleteError{AppLabel: task.appLabel, Diff: d.String()}
		}
	}
	return nil
}

func (e *Evolver) sequence(appLabel string) (*evofile.Sequence, error) {
	if e.evolutions == nil || e.hinted {
		return &evofile.Sequence{}, nil
	}
	return e.evolutions.Sequence(appLabel)
}

func (e *Evolver) mutateContext(appLabel string) *mutations.MutateContext {
	return &mutations.MutateContext{
		AppLabel:  appLabel,
		Project:   e.project,
		State:     e.state,
		Generator: e.gen,
		Database:  e.database,
	}
}

func (e *Evolver) createModels(appLabel string, models []*signature.ModelSignature) ([]string, error) {
	stmts, err := mutations.CreateModels(e.mutateContext(appLabel), e.project, models)
	if err != nil {
		return nil, fmt.Errorf("failed to create models for %q: %w", appLabel, err)
	}
	return stmts, nil
}
