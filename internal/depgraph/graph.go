// File: internal/depgraph/graph.go
// Brief: Transitive dependency queries used for run summaries.

package depgraph

import "sort"

type Graph struct {
	deps       map[string][]string
	dependents map[string][]string
}

// Build indexes the edges of nodes. Unknown dependencies are rejected the same
// way Resolve rejects them.
func Build[N Node](nodes []N) (*Graph, error) {
	g := &Graph{
		deps:       map[string][]string{},
		dependents: map[string][]string{},
	}
	declared := make(map[string]struct{}, len(nodes))
	for _, n := range nodes {
		if err := checkName(n.NodeName()); err != nil {
			return nil, err
		}
		declared[n.NodeName()] = struct{}{}
	}
	for _, n := range nodes {
		for _, dep := range n.NodeNeeds() {
			if _, ok := declared[dep]; !ok {
				return nil, &UnknownDependencyError{Unit: n.NodeName(), Dependency: dep}
			}
			g.deps[n.NodeName()] = append(g.deps[n.NodeName()], dep)
			g.dependents[dep] = append(g.dependents[dep], n.NodeName())
		}
	}
	for k := range g.deps {
		sort.Strings(g.deps[k])
	}
	for k := range g.dependents {
		sort.Strings(g.dependents[k])
	}
	return g, nil
}

// DepsOf returns every node name reachable from id through dependency edges.
func (g *Graph) DepsOf(id string) []string {
	return g.walk(id, g.deps)
}

// DependentsOf returns every node that transitively depends on id.
func (g *Graph) DependentsOf(id string) []string {
	return g.walk(id, g.dependents)
}

func (g *Graph) walk(id string, edges map[string][]string) []string {
	var out []string
	seen := map[string]struct{}{}
	var walk func(string)
	walk = func(cur string) {
		for _, next := range edges[cur] {
			if _, ok := seen[next]; ok {
				continue
			}
			seen[next] = struct{}{}
			out = append(out, next)
			walk(next)
		}
	}
	walk(id)
	sort.Strings(out)
	return out
}

// Edges lists (from, to) pairs where from depends on to, sorted.
func (g *Graph) Edges() [][2]string {
	var edges [][2]string
	for from, deps := range g.deps {
		for _, to := range deps {
			edges = append(edges, [2]string{from, to})
		}
	}
	sort.Slice(edges, func(i, j int) bool {
		if edges[i][0] != edges[j][0] {
			return edges[i][0] < edges[j][0]
		}
		return edges[i][1] < edges[j][1]
	})
	return edges
}
