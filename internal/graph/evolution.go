package graph

import "fmt"

// NodeType classifies nodes in an EvolutionGraph.
type NodeType string

const (
	NodeAnchor      NodeType = "anchor"
	NodeCreateModel NodeType = "create-model"
	NodeEvolution   NodeType = "evolution"
	NodeMigration   NodeType = "migration"
)

const (
	firstLabel = "__first__"
	lastLabel  = "__last__"
)

// EvolutionTarget names an evolution. An empty Label targets the app as a
// whole: its first anchor when something must run before the app, its last
// anchor when something must run after it.
type EvolutionTarget struct {
	AppLabel string
	Label    string
}

// MigrationTarget names a migration.
type MigrationTarget struct {
	AppLabel string
	Name     string
}

func (t MigrationTarget) String() string { return t.AppLabel + "." + t.Name }

// Dependencies are the ordering constraints declared by an app or an
// evolution.
type Dependencies struct {
	AfterEvolutions  []EvolutionTarget
	BeforeEvolutions []EvolutionTarget
	AfterMigrations  []MigrationTarget
	BeforeMigrations []MigrationTarget
}

// IsEmpty reports whether no constraint is declared.
func (d Dependencies) IsEmpty() bool {
	return len(d.AfterEvolutions) == 0 && len(d.BeforeEvolutions) == 0 &&
		len(d.AfterMigrations) == 0 && len(d.BeforeMigrations) == 0
}

// Merge returns the union of two dependency sets.
func (d Dependencies) Merge(other Dependencies) Dependencies {
	return Dependencies{
		AfterEvolutions:  append(append([]EvolutionTarget(nil), d.AfterEvolutions...), other.AfterEvolutions...),
		BeforeEvolutions: append(append([]EvolutionTarget(nil), d.BeforeEvolutions...), other.BeforeEvolutions...),
		AfterMigrations:  append(append([]MigrationTarget(nil), d.AfterMigrations...), other.AfterMigrations...),
		BeforeMigrations: append(append([]MigrationTarget(nil), d.BeforeMigrations...), other.BeforeMigrations...),
	}
}

// PendingEvolution is an evolution to place in the graph.
type PendingEvolution struct {
	Label        string
	Dependencies Dependencies
}

// NodeState is the state stored on every EvolutionGraph node.
type NodeState struct {
	Type      NodeType
	AppLabel  string
	ModelName string
	Label     string
	Migration MigrationTarget
	// Payload is caller data attached by AddEvolutions.
	Payload any
}

// EvolutionGraph interleaves evolutions, model creation and migrations.
type EvolutionGraph struct {
	*DependencyGraph

	ProcessEvolutionDeps bool
	ProcessMigrationDeps bool

	appNodes map[string][]*Node
}

// NewEvolutionGraph creates an empty evolution graph.
func NewEvolutionGraph() *EvolutionGraph {
	return &EvolutionGraph{
		DependencyGraph:      New(),
		ProcessEvolutionDeps: true,
		ProcessMigrationDeps: true,
		appNodes:             make(map[string][]*Node),
	}
}

// EvolutionKey returns the node key for an evolution.
func EvolutionKey(appLabel, label string) string {
	return fmt.Sprintf("evolution:%s:%s", appLabel, label)
}

// CreateModelKey returns the node key for creating a model's table.
func CreateModelKey(appLabel, modelName string) string {
	return fmt.Sprintf("create-model:%s:%s", appLabel, modelName)
}

// MigrationKey returns the node key for a migration.
func MigrationKey(t MigrationTarget) string {
	return fmt.Sprintf("migration:%s:%s", t.AppLabel, t.Name)
}

// AddEvolutions adds an app's new models and pending evolutions, chained
// between the app's __first__ and __last__ anchors.
func (g *EvolutionGraph) AddEvolutions(appLabel string, appDeps Dependencies, newModels []string,
	evolutions []PendingEvolution, payload any) error {
	first, err := g.AddNode(EvolutionKey(appLabel, firstLabel), NodeState{Type: NodeAnchor, AppLabel: appLabel})
	if err != nil {
		return err
	}
	if err := g.addAfterDeps(first.Key, appDeps); err != nil {
		return err
	}

	var nodes []*Node
	prev := first
	for _, model := range newModels {
		n, err := g.AddNode(CreateModelKey(appLabel, model), NodeState{
			Type:      NodeCreateModel,
			AppLabel:  appLabel,
			ModelName: model,
			Payload:   payload,
		})
		if err != nil {
			return err
		}
		if err := g.AddDependency(n.Key, prev.Key); err != nil {
			return err
		}
		nodes = append(nodes, n)
		prev = n
	}

	for _, evo := range evolutions {
		n, err := g.AddNode(EvolutionKey(appLabel, evo.Label), NodeState{
			Type:     NodeEvolution,
			AppLabel: appLabel,
			Label:    evo.Label,
			Payload:  payload,
		})
		if err != nil {
			return err
		}
		if err := g.AddDependency(n.Key, prev.Key); err != nil {
			return err
		}
		if err := g.addBeforeDeps(n.Key, evo.Dependencies); err != nil {
			return err
		}
		if err := g.addAfterDeps(n.Key, evo.Dependencies); err != nil {
			return err
		}
		nodes = append(nodes, n)
		prev = n
	}

	last, err := g.AddNode(EvolutionKey(appLabel, lastLabel), NodeState{Type: NodeAnchor, AppLabel: appLabel})
	if err != nil {
		return err
	}
	if err := g.AddDependency(last.Key, prev.Key); err != nil {
		return err
	}
	if err := g.addBeforeDeps(last.Key, appDeps); err != nil {
		return err
	}

	g.appNodes[appLabel] = append(g.appNodes[appLabel], nodes...)
	return nil
}

// AddMigrationPlan adds migrations in plan order. parents gives each
// migration's dependencies within the migration graph.
func (g *EvolutionGraph) AddMigrationPlan(plan []MigrationTarget, parents map[MigrationTarget][]MigrationTarget) error {
	for _, target := range plan {
		n, err := g.AddNode(MigrationKey(target), NodeState{
			Type:      NodeMigration,
			AppLabel:  target.AppLabel,
			Migration: target,
		})
		if err != nil {
			return err
		}
		for _, dep := range parents[target] {
			if err := g.AddDependency(n.Key, MigrationKey(dep)); err != nil {
				return err
			}
		}
	}
	return nil
}

// MarkEvolutionsApplied drops pending dependencies on evolutions that have
// already been applied. Apps without pending nodes have their anchors
// dropped as well.
func (g *EvolutionGraph) MarkEvolutionsApplied(appLabel string, labels []string) error {
	if _, ok := g.appNodes[appLabel]; !ok {
		labels = append(append([]string(nil), labels...), firstLabel, lastLabel)
	}
	keys := make([]string, len(labels))
	for i, label := range labels {
		keys[i] = EvolutionKey(appLabel, label)
	}
	return g.RemoveDependencies(keys...)
}

// MarkMigrationsApplied drops pending dependencies on applied migrations.
func (g *EvolutionGraph) MarkMigrationsApplied(targets []MigrationTarget) error {
	keys := make([]string, len(targets))
	for i, t := range targets {
		keys[i] = MigrationKey(t)
	}
	return g.RemoveDependencies(keys...)
}

// addBeforeDeps makes the targets depend on key.
func (g *EvolutionGraph) addBeforeDeps(key string, deps Dependencies) error {
	if g.ProcessEvolutionDeps {
		for _, t := range deps.BeforeEvolutions {
			label := t.Label
			if label == "" {
				label = firstLabel
			}
			if err := g.AddDependency(EvolutionKey(t.AppLabel, label), key); err != nil {
				return err
			}
		}
	}
	if g.ProcessMigrationDeps {
		for _, t := range deps.BeforeMigrations {
			if err := g.AddDependency(MigrationKey(t), key); err != nil {
				return err
			}
		}
	}
	return nil
}

// addAfterDeps makes key depend on the targets.
func (g *EvolutionGraph) addAfterDeps(key string, deps Dependencies) error {
	if g.ProcessEvolutionDeps {
		for _, t := range deps.AfterEvolutions {
			label := t.Label
			if label == "" {
				label = lastLabel
			}
			if err := g.AddDependency(key, EvolutionKey(t.AppLabel, label)); err != nil {
				return err
			}
		}
	}
	if g.ProcessMigrationDeps {
		for _, t := range deps.AfterMigrations {
			if err := g.AddDependency(key, MigrationKey(t)); err != nil {
				return err
			}
		}
	}
	return nil
}

// Batch is a run of consecutive same-type nodes in dependency order.
type Batch struct {
	Type  NodeType
	Nodes []*Node
}

// Batches groups the ordered nodes, skipping anchors, into runs of the same
// node type.
func (g *EvolutionGraph) Batches() ([]Batch, error) {
	ordered, err := g.Ordered()
	if err != nil {
		return nil, err
	}
	var batches []Batch
	for _, n := range ordered {
		state := StateOf(n)
		if state.Type == NodeAnchor {
			continue
		}
		if len(batches) == 0 || batches[len(batches)-1].Type != state.Type {
			batches = append(batches, Batch{Type: state.Type})
		}
		last := &batches[len(batches)-1]
		last.Nodes = append(last.Nodes, n)
	}
	return batches, nil
}

// StateOf returns the NodeState stored on an EvolutionGraph node.
func StateOf(n *Node) NodeState {
	s, _ := n.State.(NodeState)
	return s
}
