package graph

import (
	"fmt"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func keys(nodes []*Node) []string {
	out := make([]string, len(nodes))
	for i, n := range nodes {
		out[i] = n.Key
	}
	return out
}

func TestOrderedFollowsDependencies(t *testing.T) {
	g := New()
	for _, k := range []string{"a", "b", "c", "d"} {
		_, err := g.AddNode(k, nil)
		require.NoError(t, err)
	}
	require.NoError(t, g.AddDependency("d", "b"))
	require.NoError(t, g.AddDependency("b", "c"))
	require.NoError(t, g.AddDependency("d", "a"))
	require.NoError(t, g.Finalize())

	leaves, err := g.LeafNodes()
	require.NoError(t, err)
	assert.Equal(t, []string{"d"}, keys(leaves))

	ordered, err := g.Ordered()
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "c", "b", "d"}, keys(ordered))
}

func TestDependenciesMayPrecedeNodes(t *testing.T) {
	g := New()
	require.NoError(t, g.AddDependency("b", "a"))
	_, err := g.AddNode("b", nil)
	require.NoError(t, err)
	_, err = g.AddNode("a", nil)
	require.NoError(t, err)
	require.NoError(t, g.Finalize())

	ordered, err := g.Ordered()
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b"}, keys(ordered))
}

func TestFinalizeMissingNode(t *testing.T) {
	g := New()
	_, err := g.AddNode("a", nil)
	require.NoError(t, err)
	require.NoError(t, g.AddDependency("a", "missing"))

	err = g.Finalize()
	var notFound *NodeNotFoundError
	require.ErrorAs(t, err, &notFound)
	assert.Equal(t, "missing", notFound.Key)
	assert.Equal(t, `A graph node with key "missing" was not found (referenced by "a").`, err.Error())
}

func TestFinalizedGraphIsImmutable(t *testing.T) {
	g := New()
	_, err := g.AddNode("a", nil)
	require.NoError(t, err)

	_, err = g.Ordered()
	assert.ErrorIs(t, err, ErrNotFinalized)

	require.NoError(t, g.Finalize())
	_, err = g.AddNode("b", nil)
	assert.ErrorIs(t, err, ErrFinalized)
	assert.ErrorIs(t, g.AddDependency("a", "a"), ErrFinalized)
	assert.ErrorIs(t, g.RemoveDependencies("a"), ErrFinalized)
	assert.ErrorIs(t, g.Finalize(), ErrFinalized)
}

func TestDuplicateNode(t *testing.T) {
	g := New()
	_, err := g.AddNode("a", nil)
	require.NoError(t, err)
	_, err = g.AddNode("a", nil)
	assert.ErrorIs(t, err, ErrDuplicateNode)
}

func TestRemoveDependencies(t *testing.T) {
	g := New()
	_, err := g.AddNode("a", nil)
	require.NoError(t, err)
	require.NoError(t, g.AddDependency("a", "gone"))
	require.NoError(t, g.AddDependency("gone", "a"))
	require.NoError(t, g.RemoveDependencies("gone"))
	require.NoError(t, g.Finalize())
}

func TestNodeLookup(t *testing.T) {
	g := New()
	_, err := g.Node("x")
	var notFound *NodeNotFoundError
	assert.ErrorAs(t, err, &notFound)
}

func TestOrderedRejectsCycles(t *testing.T) {
	tests := []struct {
		name  string
		nodes []string
		deps  [][2]string
		cycle []string
	}{
		{
			name:  "loop without a leaf",
			nodes: []string{"a", "b", "c"},
			deps:  [][2]string{{"a", "b"}, {"b", "c"}, {"c", "a"}},
			cycle: []string{"a", "b", "c", "a"},
		},
		{
			name:  "loop below a leaf",
			nodes: []string{"top", "a", "b"},
			deps:  [][2]string{{"top", "a"}, {"a", "b"}, {"b", "a"}},
			cycle: []string{"a", "b", "a"},
		},
		{
			name:  "self dependency",
			nodes: []string{"a", "b"},
			deps:  [][2]string{{"b", "a"}, {"a", "a"}},
			cycle: []string{"a", "a"},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			g := New()
			for _, k := range tt.nodes {
				_, err := g.AddNode(k, nil)
				require.NoError(t, err)
			}
			for _, d := range tt.deps {
				require.NoError(t, g.AddDependency(d[0], d[1]))
			}
			require.NoError(t, g.Finalize())

			_, err := g.Ordered()
			var cycle *CycleError
			require.ErrorAs(t, err, &cycle)
			assert.Equal(t, tt.cycle, cycle.Keys)
			node, dep := cycle.Edge()
			assert.Equal(t, tt.cycle[len(tt.cycle)-2], node)
			assert.Equal(t, tt.cycle[len(tt.cycle)-1], dep)
		})
	}
}

func TestOrderedIsTopological(t *testing.T) {
	rng := rand.New(rand.NewSource(42))
	for round := 0; round < 50; round++ {
		g := New()
		n := 5 + rng.Intn(40)
		perm := rng.Perm(n)
		for _, i := range perm {
			_, err := g.AddNode(fmt.Sprintf("n%d", i), nil)
			require.NoError(t, err)
		}
		deps := make(map[string][]string)
		for i := 1; i < n; i++ {
			for j := 0; j < 3; j++ {
				d := rng.Intn(i)
				a, b := fmt.Sprintf("n%d", i), fmt.Sprintf("n%d", d)
				require.NoError(t, g.AddDependency(a, b))
				deps[a] = append(deps[a], b)
			}
		}
		require.NoError(t, g.Finalize())

		ordered, err := g.Ordered()
		require.NoError(t, err)
		require.Len(t, ordered, n)

		pos := make(map[string]int, n)
		for i, node := range ordered {
			_, dup := pos[node.Key]
			require.False(t, dup, "node %s appears twice", node.Key)
			pos[node.Key] = i
		}
		for node, ds := range deps {
			for _, d := range ds {
				assert.Less(t, pos[d], pos[node], "%s must come before %s", d, node)
			}
		}
	}
}

func TestEvolutionGraphChain(t *testing.T) {
	g := NewEvolutionGraph()
	require.NoError(t, g.AddEvolutions("books", Dependencies{}, []string{"Author", "Book"},
		[]PendingEvolution{{Label: "add_isbn"}, {Label: "drop_price"}}, "task"))
	require.NoError(t, g.Finalize())

	ordered, err := g.Ordered()
	require.NoError(t, err)
	assert.Equal(t, []string{
		"evolution:books:__first__",
		"create-model:books:Author",
		"create-model:books:Book",
		"evolution:books:add_isbn",
		"evolution:books:drop_price",
		"evolution:books:__last__",
	}, keys(ordered))

	batches, err := g.Batches()
	require.NoError(t, err)
	require.Len(t, batches, 2)
	assert.Equal(t, NodeCreateModel, batches[0].Type)
	assert.Equal(t, NodeEvolution, batches[1].Type)
	assert.Equal(t, "task", StateOf(batches[1].Nodes[0]).Payload)
	assert.Equal(t, "add_isbn", StateOf(batches[1].Nodes[0]).Label)
}

func TestEvolutionGraphMigrationBetweenEvolutions(t *testing.T) {
	mig := MigrationTarget{AppLabel: "b", Name: "0001_initial"}

	g := NewEvolutionGraph()
	require.NoError(t, g.AddMigrationPlan([]MigrationTarget{mig}, nil))
	require.NoError(t, g.AddEvolutions("a", Dependencies{}, nil, []PendingEvolution{
		{Label: "evolution1", Dependencies: Dependencies{BeforeMigrations: []MigrationTarget{mig}}},
		{Label: "evolution2", Dependencies: Dependencies{AfterMigrations: []MigrationTarget{mig}}},
	}, nil))
	require.NoError(t, g.Finalize())

	batches, err := g.Batches()
	require.NoError(t, err)
	require.Len(t, batches, 3)

	assert.Equal(t, NodeEvolution, batches[0].Type)
	assert.Equal(t, []string{"evolution:a:evolution1"}, keys(batches[0].Nodes))
	assert.Equal(t, NodeMigration, batches[1].Type)
	assert.Equal(t, []string{"migration:b:0001_initial"}, keys(batches[1].Nodes))
	assert.Equal(t, NodeEvolution, batches[2].Type)
	assert.Equal(t, []string{"evolution:a:evolution2"}, keys(batches[2].Nodes))
}

func TestEvolutionGraphAppDependencies(t *testing.T) {
	g := NewEvolutionGraph()
	// "reviews" must run after all of "books", which must run before
	// migration "orders.0002".
	require.NoError(t, g.AddMigrationPlan(
		[]MigrationTarget{{AppLabel: "orders", Name: "0001"}, {AppLabel: "orders", Name: "0002"}},
		map[MigrationTarget][]MigrationTarget{
			{AppLabel: "orders", Name: "0002"}: {{AppLabel: "orders", Name: "0001"}},
		}))
	require.NoError(t, g.AddEvolutions("reviews",
		Dependencies{AfterEvolutions: []EvolutionTarget{{AppLabel: "books"}}},
		nil, []PendingEvolution{{Label: "r1"}}, nil))
	require.NoError(t, g.AddEvolutions("books",
		Dependencies{BeforeMigrations: []MigrationTarget{{AppLabel: "orders", Name: "0002"}}},
		nil, []PendingEvolution{{Label: "b1"}}, nil))
	require.NoError(t, g.Finalize())

	ordered, err := g.Ordered()
	require.NoError(t, err)
	pos := make(map[string]int)
	for i, n := range ordered {
		pos[n.Key] = i
	}
	assert.Less(t, pos["evolution:books:b1"], pos["evolution:reviews:r1"])
	assert.Less(t, pos["evolution:books:__last__"], pos["migration:orders:0002"])
	assert.Less(t, pos["migration:orders:0001"], pos["migration:orders:0002"])
}

func TestMarkEvolutionsApplied(t *testing.T) {
	g := NewEvolutionGraph()
	require.NoError(t, g.AddEvolutions("reviews", Dependencies{}, nil, []PendingEvolution{
		{Label: "r1", Dependencies: Dependencies{AfterEvolutions: []EvolutionTarget{
			{AppLabel: "books", Label: "b1"},
			{AppLabel: "books"},
		}}},
		{Label: "r2", Dependencies: Dependencies{AfterEvolutions: []EvolutionTarget{{AppLabel: "reviews", Label: "r0"}}}},
	}, nil))

	// Nothing is pending for books, so both its evolution and anchors are
	// dropped along with the already-applied reviews evolution.
	require.NoError(t, g.MarkEvolutionsApplied("books", []string{"b1"}))
	require.NoError(t, g.MarkEvolutionsApplied("reviews", []string{"r0"}))
	require.NoError(t, g.MarkMigrationsApplied(nil))
	require.NoError(t, g.Finalize())

	batches, err := g.Batches()
	require.NoError(t, err)
	require.Len(t, batches, 1)
	assert.Equal(t, []string{"evolution:reviews:r1", "evolution:reviews:r2"}, keys(batches[0].Nodes))
}

func TestBatchesPartitionOrder(t *testing.T) {
	rng := rand.New(rand.NewSource(7))
	for round := 0; round < 20; round++ {
		g := NewEvolutionGraph()
		var plan []MigrationTarget
		parents := make(map[MigrationTarget][]MigrationTarget)
		for i := 0; i < 1+rng.Intn(5); i++ {
			m := MigrationTarget{AppLabel: "m", Name: fmt.Sprintf("%04d", i)}
			if i > 0 {
				parents[m] = []MigrationTarget{plan[i-1]}
			}
			plan = append(plan, m)
		}
		require.NoError(t, g.AddMigrationPlan(plan, parents))

		for app := 0; app < 1+rng.Intn(4); app++ {
			var evos []PendingEvolution
			for e := 0; e < 1+rng.Intn(3); e++ {
				var deps Dependencies
				target := plan[rng.Intn(len(plan))]
				if rng.Intn(2) == 0 {
					deps.AfterMigrations = []MigrationTarget{target}
				}
				evos = append(evos, PendingEvolution{Label: fmt.Sprintf("e%d", e), Dependencies: deps})
			}
			var models []string
			if rng.Intn(2) == 0 {
				models = []string{"M"}
			}
			require.NoError(t, g.AddEvolutions(fmt.Sprintf("app%d", app), Dependencies{}, models, evos, nil))
		}
		require.NoError(t, g.Finalize())

		ordered, err := g.Ordered()
		require.NoError(t, err)
		var withoutAnchors []string
		for _, n := range ordered {
			if StateOf(n).Type != NodeAnchor {
				withoutAnchors = append(withoutAnchors, n.Key)
			}
		}

		batches, err := g.Batches()
		require.NoError(t, err)
		var flattened []string
		for i, b := range batches {
			require.NotEmpty(t, b.Nodes)
			if i > 0 {
				assert.NotEqual(t, batches[i-1].Type, b.Type)
			}
			for _, n := range b.Nodes {
				assert.Equal(t, b.Type, StateOf(n).Type)
			}
			flattened = append(flattened, keys(b.Nodes)...)
		}
		assert.Equal(t, withoutAnchors, flattened)
	}
}
