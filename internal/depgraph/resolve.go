// File: internal/depgraph/resolve.go
// Brief: Deterministic depth-first topological ordering.

package depgraph

import "fmt"

// Node is anything with a unique name and an ordered list of dependency names.
type Node interface {
	NodeName() string
	NodeNeeds() []string
}

// Resolve returns nodes ordered so that every node follows its dependencies.
//
// Roots are visited in declaration order and dependencies in the order each
// node lists them, so the same input always yields the same sequence. Nothing
// is returned unless the whole graph is valid.
func Resolve[N Node](nodes []N) ([]N, error) {
	byName := make(map[string]N, len(nodes))
	for _, n := range nodes {
		name := n.NodeName()
		if err := checkName(name); err != nil {
			return nil, err
		}
		if _, dup := byName[name]; dup {
			return nil, fmt.Errorf("%w: %s", ErrDuplicateNode, name)
		}
		byName[name] = n
	}
	for _, n := range nodes {
		for _, dep := range n.NodeNeeds() {
			if _, ok := byName[dep]; !ok {
				return nil, &UnknownDependencyError{Unit: n.NodeName(), Dependency: dep}
			}
		}
	}

	const (
		unvisited = iota
		visiting
		visited
	)
	state := make(map[string]int, len(nodes))
	out := make([]N, 0, len(nodes))
	var stack []string

	var visit func(name string) error
	visit = func(name string) error {
		switch state[name] {
		case visited:
			return nil
		case visiting:
			return &CycleError{Path: cyclePath(stack, name)}
		}
		state[name] = visiting
		stack = append(stack, name)
		n := byName[name]
		for _, dep := range n.NodeNeeds() {
			if err := visit(dep); err != nil {
				return err
			}
		}
		stack = stack[:len(stack)-1]
		state[name] = visited
		out = append(out, n)
		return nil
	}

	for _, n := range nodes {
		if err := visit(n.NodeName()); err != nil {
			return nil, err
		}
	}
	return out, nil
}

// cyclePath extracts the cycle closing at name from the DFS stack.
func cyclePath(stack []string, name string) []string {
	idx := -1
	for i := range stack {
		if stack[i] == name {
			idx = i
			break
		}
	}
	if idx < 0 {
		return []string{name, name}
	}
	cycle := append([]string(nil), stack[idx:]...)
	return append(cycle, name)
}
