// Package graph derives per-step dependency sets and a total execution
// order for an experiment graph.
package graph

import (
	"github.com/dioptra-labs/dioptra-go/internal/experiment"
)

// SortedSteps returns the step names of g in dependency order: every
// dependency of a step, implicit (references naming known steps) or
// explicit, appears strictly before it. A fresh depth-first search starts
// from each not-yet-visited step in graph document order, so the result is
// deterministic for a given description.
//
// An explicit dependency on an unknown step name yields a
// *experiment.StepNotFoundError; a dependency cycle yields a
// *experiment.StepReferenceCycleError whose Cycle runs from the first
// occurrence of the repeated name through its repeat.
func SortedSteps(g *experiment.Graph) ([]string, error) {
	visited := make(map[string]bool, g.Len())
	searchPath := make([]string, 0, g.Len())
	order := make([]string, 0, g.Len())

	var visit func(name string) error
	visit = func(name string) error {
		if visited[name] {
			return nil
		}
		for i, onPath := range searchPath {
			if onPath == name {
				cycle := append(append([]string{}, searchPath[i:]...), name)
				return &experiment.StepReferenceCycleError{Cycle: cycle}
			}
		}

		step, ok := g.Step(name)
		if !ok {
			return &experiment.StepNotFoundError{Name: name}
		}

		searchPath = append(searchPath, name)
		for _, dep := range step.DependencyNames(g) {
			if err := visit(dep); err != nil {
				return err
			}
		}
		searchPath = searchPath[:len(searchPath)-1]

		visited[name] = true
		order = append(order, name)
		return nil
	}

	for _, name := range g.Names() {
		if err := visit(name); err != nil {
			return nil, err
		}
	}
	return order, nil
}

// Dependencies returns the resolved dependency names for a single step, in
// the same order the sort visits them.
func Dependencies(g *experiment.Graph, name string) ([]string, error) {
	step, ok := g.Step(name)
	if !ok {
		return nil, &experiment.StepNotFoundError{Name: name}
	}
	return step.DependencyNames(g), nil
}
