// Package graph orders keyed nodes by their dependencies.
package graph

import (
	"errors"
	"fmt"
	"sort"
	"strings"
)

var (
	// ErrFinalized is returned when a finalized graph is modified.
	ErrFinalized = errors.New("graph is already finalized")
	// ErrNotFinalized is returned when a graph is queried before Finalize.
	ErrNotFinalized = errors.New("graph has not been finalized")
	// ErrDuplicateNode is returned when a key is added twice.
	ErrDuplicateNode = errors.New("node is already registered")
)

// NodeNotFoundError reports a key that does not name a node.
type NodeNotFoundError struct {
	Key string
	// Ref is the key on the other side of the dependency, if any.
	Ref string
}

func (e *NodeNotFoundError) Error() string {
	if e.Ref != "" {
		return fmt.Sprintf("A graph node with key %q was not found (referenced by %q).", e.Key, e.Ref)
	}
	return fmt.Sprintf("A graph node with key %q was not found.", e.Key)
}

// Node is a keyed entry in a DependencyGraph.
type Node struct {
	Key         string
	InsertIndex int
	State       any

	dependencies map[*Node]struct{}
	requiredBy   map[*Node]struct{}
}

// Dependencies returns the nodes this node depends on, by insertion order.
func (n *Node) Dependencies() []*Node { return sortedNodes(n.dependencies) }

// RequiredBy returns the nodes depending on this node, by insertion order.
func (n *Node) RequiredBy() []*Node { return sortedNodes(n.requiredBy) }

func sortedNodes(set map[*Node]struct{}) []*Node {
	out := make([]*Node, 0, len(set))
	for n := range set {
		out = append(out, n)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].InsertIndex < out[j].InsertIndex })
	return out
}

type edge struct {
	node, dep string
}

// DependencyGraph collects nodes and pending dependencies, then orders them
// once finalized. Dependencies are only applied by Finalize, so they may
// name nodes that are added later.
type DependencyGraph struct {
	finalized   bool
	nodes       map[string]*Node
	pending     []edge
	pendingSeen map[edge]bool
}

// New creates an empty graph.
func New() *DependencyGraph {
	return &DependencyGraph{
		nodes:       make(map[string]*Node),
		pendingSeen: make(map[edge]bool),
	}
}

// AddNode registers a node.
func (g *DependencyGraph) AddNode(key string, state any) (*Node, error) {
	if g.finalized {
		return nil, ErrFinalized
	}
	if _, ok := g.nodes[key]; ok {
		return nil, fmt.Errorf("%w: %q", ErrDuplicateNode, key)
	}
	n := &Node{
		Key:          key,
		InsertIndex:  len(g.nodes),
		State:        state,
		dependencies: make(map[*Node]struct{}),
		requiredBy:   make(map[*Node]struct{}),
	}
	g.nodes[key] = n
	return n, nil
}

// AddDependency records that nodeKey depends on depKey.
func (g *DependencyGraph) AddDependency(nodeKey, depKey string) error {
	if g.finalized {
		return ErrFinalized
	}
	e := edge{node: nodeKey, dep: depKey}
	if !g.pendingSeen[e] {
		g.pendingSeen[e] = true
		g.pending = append(g.pending, e)
	}
	return nil
}

// RemoveDependencies drops every pending dependency touching one of keys.
func (g *DependencyGraph) RemoveDependencies(keys ...string) error {
	if g.finalized {
		return ErrFinalized
	}
	drop := make(map[string]bool, len(keys))
	for _, k := range keys {
		drop[k] = true
	}
	kept := g.pending[:0]
	for _, e := range g.pending {
		if drop[e.node] || drop[e.dep] {
			delete(g.pendingSeen, e)
			continue
		}
		kept = append(kept, e)
	}
	g.pending = kept
	return nil
}

// Finalize applies pending dependencies. Both ends of every dependency
// must exist.
func (g *DependencyGraph) Finalize() error {
	if g.finalized {
		return ErrFinalized
	}
	for _, e := range g.pending {
		node, ok := g.nodes[e.node]
		if !ok {
			return &NodeNotFoundError{Key: e.node, Ref: e.dep}
		}
		dep, ok := g.nodes[e.dep]
		if !ok {
			return &NodeNotFoundError{Key: e.dep, Ref: e.node}
		}
		node.dependencies[dep] = struct{}{}
		dep.requiredBy[node] = struct{}{}
	}
	g.pending = nil
	g.pendingSeen = nil
	g.finalized = true
	return nil
}

// Finalized reports whether Finalize has run.
func (g *DependencyGraph) Finalized() bool { return g.finalized }

// Node returns a node by key.
func (g *DependencyGraph) Node(key string) (*Node, error) {
	n, ok := g.nodes[key]
	if !ok {
		return nil, &NodeNotFoundError{Key: key}
	}
	return n, nil
}

// Len returns the number of nodes.
func (g *DependencyGraph) Len() int { return len(g.nodes) }

// LeafNodes returns the nodes nothing depends on, by insertion order.
func (g *DependencyGraph) LeafNodes() ([]*Node, error) {
	if !g.finalized {
		return nil, ErrNotFinalized
	}
	var leaves []*Node
	for _, n := range g.nodes {
		if len(n.requiredBy) == 0 {
			leaves = append(leaves, n)
		}
	}
	sort.Slice(leaves, func(i, j int) bool { return leaves[i].InsertIndex < leaves[j].InsertIndex })
	return leaves, nil
}

// Ordered returns every node with dependencies ahead of their dependents.
// Leaves are walked first in insertion order, taking dependencies in
// insertion order. A dependency loop fails with a *CycleError.
func (g *DependencyGraph) Ordered() ([]*Node, error) {
	leaves, err := g.LeafNodes()
	if err != nil {
		return nil, err
	}

	const (
		onPath = iota + 1
		done
	)
	marks := make(map[*Node]int, len(g.nodes))
	result := make([]*Node, 0, len(g.nodes))
	var path []*Node

	var visit func(n *Node) error
	visit = func(n *Node) error {
		switch marks[n] {
		case done:
			return nil
		case onPath:
			return newCycleError(path, n)
		}
		marks[n] = onPath
		path = append(path, n)
		for _, dep := range n.Dependencies() {
			if err := visit(dep); err != nil {
				return err
			}
		}
		path = path[:len(path)-1]
		marks[n] = done
		result = append(result, n)
		return nil
	}

	for _, leaf := range leaves {
		if err := visit(leaf); err != nil {
			return nil, err
		}
	}
	if len(result) == len(g.nodes) {
		return result, nil
	}
	// Nodes no leaf reaches sit on or above a loop.
	rest := make(map[*Node]struct{}, len(g.nodes)-len(result))
	for _, n := range g.nodes {
		if marks[n] != done {
			rest[n] = struct{}{}
		}
	}
	for _, n := range sortedNodes(rest) {
		if err := visit(n); err != nil {
			return nil, err
		}
	}
	return result, nil
}

// CycleError reports a dependency loop. Keys runs from a node through its
// dependencies back to the same node.
type CycleError struct {
	Keys []string
}

func newCycleError(path []*Node, n *Node) *CycleError {
	i := len(path) - 1
	for i > 0 && path[i] != n {
		i--
	}
	keys := make([]string, 0, len(path)-i+1)
	for _, p := range path[i:] {
		keys = append(keys, p.Key)
	}
	return &CycleError{Keys: append(keys, n.Key)}
}

// Edge returns the dependency that closes the loop.
func (e *CycleError) Edge() (node, dep string) {
	return e.Keys[len(e.Keys)-2], e.Keys[len(e.Keys)-1]
}

func (e *CycleError) Error() string {
	return fmt.Sprintf("Dependency cycle detected: %s.", strings.Join(e.Keys, " -> "))
}
