package formula

import (
	"fmt"
	"sort"
	"strings"
)

// DependencyGraph is a directed graph of named nodes and their prerequisites.
// Dependencies on names outside the graph (raw columns) are ignored.
type DependencyGraph struct {
	Nodes    map[string]bool
	Edges    map[string][]string // prerequisite -> dependents
	InDegree map[string]int
}

// BuildDependencyGraph builds the graph from node -> dependencies.
func BuildDependencyGraph(deps map[string][]string) *DependencyGraph {
	g := &DependencyGraph{
		Nodes:    make(map[string]bool, len(deps)),
		Edges:    make(map[string][]string),
		InDegree: make(map[string]int, len(deps)),
	}
	for name := range deps {
		g.Nodes[name] = true
		g.InDegree[name] = 0
	}
	for name, ds := range deps {
		seen := map[string]bool{}
		for _, d := range ds {
			if !g.Nodes[d] || seen[d] {
				continue
			}
			seen[d] = true
			g.Edges[d] = append(g.Edges[d], name)
			g.InDegree[name]++
		}
	}
	return g
}

// TopologicalOrder returns the nodes so that every node follows its prerequisites.
// Ties are broken alphabetically so the order is deterministic.
func (g *DependencyGraph) TopologicalOrder() ([]string, error) {
	inDegree := make(map[string]int, len(g.InDegree))
	var ready []string
	for name, d := range g.InDegree {
		inDegree[name] = d
		if d == 0 {
			ready = append(ready, name)
		}
	}
	sort.Strings(ready)

	order := make([]string, 0, len(g.Nodes))
	for len(ready) > 0 {
		name := ready[0]
		ready = ready[1:]
		order = append(order, name)

		var released []string
		for _, dep := range g.Edges[name] {
			inDegree[dep]--
			if inDegree[dep] == 0 {
				released = append(released, dep)
			}
		}
		sort.Strings(released)
		ready = append(ready, released...)
		sort.Strings(ready)
	}

	if len(order) != len(g.Nodes) {
		var cyclic []string
		for name, d := range inDegree {
			if d > 0 {
				cyclic = append(cyclic, name)
			}
		}
		sort.Strings(cyclic)
		return nil, fmt.Errorf("%w among %s", ErrCircularDependency, strings.Join(cyclic, ", "))
	}
	return order, nil
}
