package evolve

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/satishbabariya/schema-evolution/internal/debug"
	"github.com/satishbabariya/schema-evolution/internal/executor"
	"github.com/satishbabariya/schema-evolution/internal/graph"
	"github.com/satishbabariya/schema-evolution/internal/migrations"
	"github.com/satishbabariya/schema-evolution/internal/signature"
)

// plan is the ordered work for the prepared tasks.
type plan struct {
	batches []graph.Batch

	// migratedApps are apps upgraded through migrations.
	migratedApps []string

	// markApplied are migrations recorded without being run.
	markApplied []graph.MigrationTarget
}

func (e *Evolver) evolveTasks() []*EvolveAppTask {
	var out []*EvolveAppTask
	for _, t := range e.tasks {
		if task, ok := t.(*EvolveAppTask); ok {
			out = append(out, task)
		}
	}
	return out
}

func (e *Evolver) purgeTasks() []*PurgeAppTask {
	var out []*PurgeAppTask
	for _, t := range e.tasks {
		if task, ok := t.(*PurgeAppTask); ok {
			out = append(out, task)
		}
	}
	return out
}

// buildPlan places new models, pending evolutions and unapplied migrations
// in one graph and groups the result into batches.
func (e *Evolver) buildPlan() (*plan, error) {
	p := &plan{}
	g := graph.NewEvolutionGraph()

	applied := make(map[string][]string, len(e.appliedEvolutions))
	for app, labels := range e.appliedEvolutions {
		applied[app] = append([]string(nil), labels...)
	}

	for _, task := range e.evolveTasks() {
		if task.appSigIsNew {
			// Evolutions of a new app are recorded, not run.
			applied[task.appLabel] = append(applied[task.appLabel], task.newEvolutions...)
		}
		if !task.evolutionRequired {
			continue
		}
		err := g.AddEvolutions(task.appLabel, task.appDeps, task.NewModelNames(), task.graphEvolutions(), task)
		if err != nil {
			return nil, err
		}
	}

	if err := e.addMigrations(g, p); err != nil {
		return nil, err
	}

	for _, app := range e.knownApps(applied) {
		if err := g.MarkEvolutionsApplied(app, applied[app]); err != nil {
			return nil, err
		}
	}
	if err := g.Finalize(); err != nil {
		return nil, fmt.Errorf("failed to order evolutions: %w", err)
	}

	batches, err := g.Batches()
	if err != nil {
		return nil, err
	}
	p.batches = batches
	debug.Debug("planned evolution", "batches", len(batches), "migrated_apps", p.migratedApps)
	return p, nil
}

// addMigrations adds the unapplied migrations of the queued apps upgraded
// through migrations. Migrations the signature lists as applied but the
// recorder does not are marked applied without being run.
func (e *Evolver) addMigrations(g *graph.EvolutionGraph, p *plan) error {
	recorded := make(map[graph.MigrationTarget]bool, len(e.appliedMigrations))
	for _, t := range e.appliedMigrations {
		recorded[t] = true
	}

	var apps []string
	for _, task := range e.evolveTasks() {
		app := e.project.AppSig(task.appLabel)
		if app == nil || app.UpgradeMethod != signature.UpgradeMigrations {
			continue
		}
		apps = append(apps, task.appLabel)
		for _, name := range app.AppliedMigrations() {
			t := graph.MigrationTarget{AppLabel: task.appLabel, Name: name}
			if !recorded[t] {
				p.markApplied = append(p.markApplied, t)
				recorded[t] = true
			}
		}
	}
	p.migratedApps = apps

	applied := make([]graph.MigrationTarget, 0, len(recorded))
	for t := range recorded {
		applied = append(applied, t)
	}
	sort.Slice(applied, func(i, j int) bool { return applied[i].String() < applied[j].String() })

	if e.migrations != nil && len(apps) > 0 {
		var wanted []string
		for _, app := range apps {
			if len(e.migrations.Names(app)) > 0 {
				wanted = append(wanted, app)
			}
		}
		if len(wanted) > 0 {
			targets, parents, err := e.migrations.Plan(wanted...)
			if err != nil {
				return err
			}
			var pending []graph.MigrationTarget
			for _, t := range targets {
				if !recorded[t] {
					pending = append(pending, t)
				}
			}
			if err := g.AddMigrationPlan(pending, parents); err != nil {
				return err
			}
		}
	}
	return g.MarkMigrationsApplied(applied)
}

func (e *Evolver) knownApps(applied map[string][]string) []string {
	seen := make(map[string]bool)
	var out []string
	add := func(label string) {
		if !seen[label] {
			seen[label] = true
			out = append(out, label)
		}
	}
	for _, label := range e.project.AppIDs() {
		add(label)
	}
	for _, label := range e.target.AppIDs() {
		add(label)
	}
	for label := range applied {
		add(label)
	}
	sort.Strings(out)
	return out
}

// execute runs the planned batches, then the purges, then stores the new
// signature.
func (e *Evolver) execute(ctx context.Context) error {
	if len(e.plan.markApplied) > 0 && !e.exec.Collecting() {
		err := e.exec.Run(ctx, executor.RunOptions{CheckConstraints: true}, func(s *executor.Session) error {
			rec := e.recorder.WithTx(s.Tx())
			for _, t := range e.plan.markApplied {
				if err := rec.Record(ctx, migrations.Record{Target: t, AppliedAt: time.Now().UTC()}); err != nil {
					return err
				}
			}
			return nil
		})
		if err != nil {
			return err
		}
	}

	for _, batch := range e.plan.batches {
		var err error
		switch batch.Type {
		case graph.NodeCreateModel:
			err = e.runCreateModels(ctx, batch)
		case graph.NodeEvolution:
			err = e.runEvolutions(ctx, batch)
		case graph.NodeMigration:
			err = e.runMigrations(ctx, batch)
		}
		if err != nil {
			return err
		}
	}
	e.syncMigratedApps()

	if err := e.runPurges(ctx); err != nil {
		return err
	}
	if err := e.persist(ctx); err != nil {
		return err
	}

	for _, t := range e.tasks {
		switch t := t.(type) {
		case *EvolveAppTask:
			if t.evolutionRequired {
				t.state = StateApplied
			}
		case *PurgeAppTask:
			if t.evolutionRequired {
				t.state = StateApplied
			}
		}
	}
	return nil
}

// runCreateModels creates each task's new models once, in the first batch
// that reaches them.
func (e *Evolver) runCreateModels(ctx context.Context, batch graph.Batch) error {
	var tasks []*EvolveAppTask
	for _, n := range batch.Nodes {
		task := graph.StateOf(n).Payload.(*EvolveAppTask)
		if task.modelsCreated {
			continue
		}
		task.modelsCreated = true
		tasks = append(tasks, task)
	}
	if len(tasks) == 0 {
		return nil
	}

	return e.exec.Run(ctx, executor.RunOptions{CheckConstraints: false}, func(s *executor.Session) error {
		for _, task := range tasks {
			names := task.NewModelNames()
			e.notify(func(l Listener) { l.CreatingModels(e, task.appLabel, names) })
			if err := s.Execute(task.appLabel, task.newModelsSQL); err != nil {
				return err
			}
			e.notify(func(l Listener) { l.CreatedModels(e, task.appLabel, names) })
		}
		return nil
	})
}

// runEvolutions applies consecutive evolutions grouped by task.
func (e *Evolver) runEvolutions(ctx context.Context, batch graph.Batch) error {
	type group struct {
		task   *EvolveAppTask
		labels []string
	}
	var groups []*group
	for _, n := range batch.Nodes {
		state := graph.StateOf(n)
		task := state.Payload.(*EvolveAppTask)
		if len(groups) == 0 || groups[len(groups)-1].task != task {
			groups = append(groups, &group{task: task})
		}
		last := groups[len(groups)-1]
		last.labels = append(last.labels, state.Label)
	}

	return e.exec.Run(ctx, executor.RunOptions{CheckConstraints: false}, func(s *executor.Session) error {
		for _, grp := range groups {
			task, labels := grp.task, grp.labels
			e.notify(func(l Listener) { l.ApplyingEvolution(e, task, labels) })
			for _, label := range labels {
				if err := s.Execute(task.appLabel, task.sqlByLabel[label]); err != nil {
					return err
				}
			}
			e.notify(func(l Listener) { l.AppliedEvolution(e, task, labels) })
		}
		return nil
	})
}

func (e *Evolver) runMigrations(ctx context.Context, batch graph.Batch) error {
	targets := make([]graph.MigrationTarget, len(batch.Nodes))
	for i, n := range batch.Nodes {
		targets[i] = graph.StateOf(n).Migration
	}
	err := e.exec.Run(ctx, executor.RunOptions{CheckConstraints: true}, func(s *executor.Session) error {
		return migrations.Apply(s, e.migrations, e.recorder, targets)
	})
	if err != nil {
		return err
	}
	for _, t := range targets {
		if app := e.project.AppSig(t.AppLabel); app != nil {
			app.AddAppliedMigrations(t.Name)
		}
	}
	return nil
}

// syncMigratedApps copies the registered models of apps upgraded through
// migrations into the project, since migrations do not track them.
func (e *Evolver) syncMigratedApps() {
	for _, label := range e.plan.migratedApps {
		app := e.project.AppSig(label)
		target := e.target.AppSig(label)
		if app == nil || target == nil {
			continue
		}
		for _, name := range app.ModelNames() {
			if target.ModelSig(name) == nil {
				_ = app.RemoveModelSig(name)
			}
		}
		for _, model := range target.ModelSigs() {
			app.AddModelSig(model.Clone())
		}
	}
}

func (e *Evolver) runPurges(ctx context.Context) error {
	var tasks []*PurgeAppTask
	for _, task := range e.purgeTasks() {
		if task.evolutionRequired {
			tasks = append(tasks, task)
		}
	}
	if len(tasks) == 0 {
		return nil
	}
	return e.exec.Run(ctx, executor.RunOptions{CheckConstraints: false}, func(s *executor.Session) error {
		for _, task := range tasks {
			debug.Info("purging app", "app", task.appLabel)
			if err := s.Execute(task.appLabel, task.sql); err != nil {
				return err
			}
		}
		return nil
	})
}

// persist stores the new project signature and the applied evolutions, then
// rescans the database.
func (e *Evolver) persist(ctx context.Context) error {
	if e.exec.Collecting() || e.history == nil {
		return nil
	}
	recording := false
	for _, task := range e.evolveTasks() {
		recording = recording || len(task.newEvolutions) > 0
	}
	if !recording && e.project.Equal(e.stored) {
		return nil
	}

	err := e.exec.Run(ctx, executor.RunOptions{CheckConstraints: true}, func(s *executor.Session) error {
		hist := e.history.WithTx(s.Tx())
		v, err := hist.SaveVersion(ctx, e.project)
		if err != nil {
			return err
		}
		for _, task := range e.evolveTasks() {
			if len(task.newEvolutions) == 0 {
				continue
			}
			if err := hist.RecordEvolutions(ctx, v.ID, task.appLabel, task.newEvolutions...); err != nil {
				return err
			}
		}
		e.version = v
		e.stored = e.project.Clone()
		return nil
	})
	if err != nil {
		return err
	}
	return e.state.Rescan(ctx, e.introspect)
}
