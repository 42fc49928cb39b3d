// Package graph computes dependency levels over a Wyvern-proposed task list:
// the longest-path depth from a task with no dependencies, used both to
// assign each task's DependencyLevel and to detect dependency cycles before
// a task file is ever written.
package graph

import "fmt"

// DepGraph is a directed dependency graph keyed by task id.
type DepGraph struct {
	forward map[string][]string // id -> depends on these ids
}

// Build constructs a DepGraph from an id -> dependency-ids map. Unknown
// dependency ids (references to a task not present in the map) are kept as
// edges but contribute no node of their own.
func Build(dependencies map[string][]string) *DepGraph {
	g := &DepGraph{forward: make(map[string][]string, len(dependencies))}
	for id, deps := range dependencies {
		cp := make([]string, len(deps))
		copy(cp, deps)
		g.forward[id] = cp
	}
	return g
}

// ErrCycle is returned by Levels when the dependency graph is not a DAG.
type ErrCycle struct{ Path []string }

func (e *ErrCycle) Error() string {
	return fmt.Sprintf("graph: dependency cycle detected: %v", e.Path)
}

// Levels computes each task's dependency level: 0 for a task with no
// dependencies, else 1 + max(level of its dependencies). Returns ErrCycle if
// the graph contains a cycle.
func (g *DepGraph) Levels() (map[string]int, error) {
	levels := make(map[string]int, len(g.forward))
	const (
		unvisited = 0
		visiting  = 1
		done      = 2
	)
	state := make(map[string]int, len(g.forward))
	var path []string

	var visit func(id string) (int, error)
	visit = func(id string) (int, error) {
		switch state[id] {
		case done:
			return levels[id], nil
		case visiting:
			return 0, &ErrCycle{Path: append(append([]string{}, path...), id)}
		}

		state[id] = visiting
		path = append(path, id)

		level := 0
		for _, dep := range g.forward[id] {
			if _, known := g.forward[dep]; !known {
				continue
			}
			depLevel, err := visit(dep)
			if err != nil {
				return 0, err
			}
			if depLevel+1 > level {
				level = depLevel + 1
			}
		}

		path = path[:len(path)-1]
		state[id] = done
		levels[id] = level
		return level, nil
	}

	for id := range g.forward {
		if _, err := visit(id); err != nil {
			return nil, err
		}
	}
	return levels, nil
}

// HasCycle reports whether the graph contains a dependency cycle.
func (g *DepGraph) HasCycle() bool {
	_, err := g.Levels()
	return err != nil
}
