package evolve

import (
	"fmt"

	"github.com/satishbabariya/schema-evolution/internal/debug"
	"github.com/satishbabariya/schema-evolution/internal/evofile"
	"github.com/satishbabariya/schema-evolution/internal/graph"
	"github.com/satishbabariya/schema-evolution/internal/mutations"
	"github.com/satishbabariya/schema-evolution/internal/signature"
)

// hintedLabel names the graph node of a hinted evolution. It is never
// recorded as applied.
const hintedLabel = "__hinted__"

// EvolveAppTask brings one registered app up to date.
type EvolveAppTask struct {
	taskBase

	appSigIsNew   bool
	upgradeMethod signature.UpgradeMethod
	appDeps       graph.Dependencies

	newModels     []*signature.ModelSignature
	newModelsSQL  []string
	modelsCreated bool

	// pending holds the evolutions to run in order. A hinted task has a
	// single entry labelled hintedLabel.
	pending    []*evofile.Evolution
	sqlByLabel map[string][]string
	mutations  []mutations.Mutation
	needsInput bool
}

// NewEvolveAppTask creates an evolve task for an app.
func NewEvolveAppTask(appLabel string) *EvolveAppTask {
	return &EvolveAppTask{
		taskBase:   newTaskBase("evolve-app:"+appLabel, appLabel),
		sqlByLabel: make(map[string][]string),
	}
}

func (t *EvolveAppTask) String() string {
	return fmt.Sprintf("Evolve application %q", t.appLabel)
}

// NewModelNames lists the models created from scratch.
func (t *EvolveAppTask) NewModelNames() []string {
	out := make([]string, len(t.newModels))
	for i, m := range t.newModels {
		out[i] = m.ModelName
	}
	return out
}

// UpgradeMethod is how the app is upgraded once the task is prepared.
func (t *EvolveAppTask) UpgradeMethod() signature.UpgradeMethod { return t.upgradeMethod }

// Mutations returns the mutations the task runs.
func (t *EvolveAppTask) Mutations() []mutations.Mutation {
	return append([]mutations.Mutation(nil), t.mutations...)
}

// Hinted reports whether the task runs mutations generated from the diff.
func (t *EvolveAppTask) Hinted() bool {
	return len(t.pending) == 1 && t.pending[0].Label == hintedLabel
}

// EvolutionContent renders the task's mutations as an evolution file.
// Tasks without mutations return an empty string.
func (t *EvolveAppTask) EvolutionContent() (string, error) {
	if len(t.mutations) == 0 {
		return "", nil
	}
	return evofile.Format(graph.Dependencies{}, t.mutations)
}

func (t *EvolveAppTask) prepare(e *Evolver) error {
	target := e.target.AppSig(t.appLabel)
	if target == nil {
		return &signature.MissingSignatureError{Kind: "app", Name: t.appLabel}
	}

	seq, err := e.sequence(t.appLabel)
	if err != nil {
		return err
	}
	if t.appDeps, err = seq.Dependencies(); err != nil {
		return fmt.Errorf("app %q: %w", t.appLabel, err)
	}

	appSig := e.project.AppSig(t.appLabel)
	if appSig == nil {
		err = t.prepareNewApp(e, target, seq.Evolutions)
	} else {
		err = t.prepareExistingApp(e, appSig, target)
	}
	if err != nil {
		return err
	}

	t.settle(t.needsInput)
	debug.Debug("prepared task", "task", t.id, "state", t.state, "new_models", len(t.newModels), "statements", len(t.sql))
	return nil
}

// prepareNewApp adopts the registered signature for an app the project
// has never seen. Its evolutions are recorded without being run, since its
// tables are created at their latest shape.
func (t *EvolveAppTask) prepareNewApp(e *Evolver, target *signature.AppSignature, labels []string) error {
	t.appSigIsNew = true
	t.canSimulate = true
	appSig := target.Clone()
	e.project.AddAppSig(appSig)
	t.upgradeMethod = appSig.UpgradeMethod
	for _, label := range labels {
		if !containsString(e.appliedEvolutions[t.appLabel], label) {
			t.newEvolutions = append(t.newEvolutions, label)
		}
	}

	if t.upgradeMethod == signature.UpgradeMigrations {
		// Migrations create the tables.
		return nil
	}
	for _, model := range appSig.ModelSigs() {
		if !e.state.HasModel(model) {
			t.newModels = append(t.newModels, model)
		}
	}
	return t.createNewModels(e)
}

func (t *EvolveAppTask) createNewModels(e *Evolver) error {
	if len(t.newModels) == 0 {
		return nil
	}
	stmts, err := e.createModels(t.appLabel, t.newModels)
	if err != nil {
		return err
	}
	t.newModelsSQL = stmts
	t.evolutionRequired = true
	return nil
}

func (t *EvolveAppTask) prepareExistingApp(e *Evolver, appSig, target *signature.AppSignature) error {
	t.canSimulate = true
	t.upgradeMethod = appSig.UpgradeMethod
	if appSig.UpgradeMethod == signature.UpgradeMigrations {
		return nil
	}

	if err := t.loadPending(e); err != nil {
		return err
	}

	// Models the pending evolutions do not add are created from the
	// registered signature.
	scratch := e.project.Clone()
	for _, ev := range t.pending {
		if _, err := mutations.SimulateAll(t.appLabel, scratch, ev.Mutations); err != nil {
			return err
		}
	}
	simulated := scratch.AppSig(t.appLabel)
	for _, model := range target.ModelSigs() {
		if simulated != nil && simulated.ModelSig(model.ModelName) != nil {
			continue
		}
		if simulated != nil && simulated.UpgradeMethod == signature.UpgradeMigrations {
			continue
		}
		clone := model.Clone()
		appSig.AddModelSig(clone)
		if !e.state.HasModel(clone) {
			t.newModels = append(t.newModels, clone)
		}
	}
	if err := t.createNewModels(e); err != nil {
		return err
	}

	mutator := mutations.NewAppMutator(t.appLabel, e.project, e.state, e.gen, e.database)
	for _, ev := range t.pending {
		start := len(mutator.SQL())
		if err := mutator.RunMutations(ev.Mutations); err != nil {
			return err
		}
		t.sqlByLabel[ev.Label] = mutator.SQL()[start:]
		t.mutations = append(t.mutations, ev.Mutations...)
		if ev.Label != hintedLabel {
			t.newEvolutions = append(t.newEvolutions, ev.Label)
		}
	}
	t.sql = mutator.SQL()
	t.canSimulate = mutator.CanSimulate
	t.needsInput = mutations.NeedsUserInput(t.mutations)
	if len(t.pending) > 0 {
		t.evolutionRequired = true
	}
	if app := e.project.AppSig(t.appLabel); app != nil {
		t.upgradeMethod = app.UpgradeMethod
	}
	return nil
}

func (t *EvolveAppTask) loadPending(e *Evolver) error {
	if e.hinted {
		muts := e.hints[t.appLabel]
		if len(muts) > 0 {
			t.pending = []*evofile.Evolution{{AppLabel: t.appLabel, Label: hintedLabel, Mutations: muts}}
		}
		return nil
	}
	if e.evolutions == nil {
		return nil
	}
	pending, err := e.evolutions.Pending(t.appLabel, e.appliedEvolutions[t.appLabel])
	if err != nil {
		return err
	}
	t.pending = pending
	return nil
}

// graphEvolutions returns the pending evolutions as graph entries.
func (t *EvolveAppTask) graphEvolutions() []graph.PendingEvolution {
	out := make([]graph.PendingEvolution, len(t.pending))
	for i, ev := range t.pending {
		out[i] = graph.PendingEvolution{
			Label:        ev.Label,
			Dependencies: ev.Dependencies.Merge(mutations.Dependencies(t.appLabel, ev.Mutations)),
		}
	}
	return out
}

func containsString(items []string, s string) bool {
	for _, item := range items {
		if item == s {
			return true
		}
	}
	return false
}
