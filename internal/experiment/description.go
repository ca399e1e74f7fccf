// Package experiment defines the declarative experiment description model:
// global parameters, task plugin declarations, and the step graph, parsed
// from YAML with document order preserved.
package experiment

import (
	"strings"

	"github.com/dioptra-labs/dioptra-go/internal/experiment/refs"
)

// Description is one parsed experiment description. It is immutable once
// built and owned by a single run.
type Description struct {
	Types      map[string]any
	Parameters map[string]Parameter
	Tasks      map[string]Task
	Graph      *Graph
}

// Parameter declares a global parameter: an optional type name and an
// optional default applied when the caller supplies no value.
type Parameter struct {
	Type       string
	Default    any
	HasDefault bool
}

// Task declares one invocable task plugin under its short name.
type Task struct {
	Plugin  string
	Inputs  []Input
	Outputs []Output
}

// Input declares a named task input, used to map positional arguments onto
// keyword arguments at dispatch time.
type Input struct {
	Name     string
	Type     string
	Required bool
}

// Output declares a named task output.
type Output struct {
	Name string
	Type string
}

// PluginComponents splits the task's dotted plugin identifier into package,
// plugin and function components. Identifiers with exactly two components
// belong to the builtin package.
func (t Task) PluginComponents() (pkg, plugin, function string) {
	parts := strings.Split(t.Plugin, ".")
	switch {
	case len(parts) < 2:
		return "", "", t.Plugin
	case len(parts) == 2:
		return "", parts[0], parts[1]
	default:
		return strings.Join(parts[:len(parts)-2], "."), parts[len(parts)-2], parts[len(parts)-1]
	}
}

// Graph is the step graph in YAML document order. Iterating Names gives the
// insertion order that the topological sort uses for tie-breaking.
type Graph struct {
	names []string
	steps map[string]*Step
}

// NewGraph builds a graph from steps in the given order. Used by tests and
// by the parser.
func NewGraph(steps ...*Step) *Graph {
	g := &Graph{steps: make(map[string]*Step, len(steps))}
	for _, step := range steps {
		g.names = append(g.names, step.Name)
		g.steps[step.Name] = step
	}
	return g
}

// Names returns the step names in document order.
func (g *Graph) Names() []string { return g.names }

// Step looks up a step by name.
func (g *Graph) Step(name string) (*Step, bool) {
	step, ok := g.steps[name]
	return step, ok
}

// Len returns the number of steps.
func (g *Graph) Len() int { return len(g.names) }

// Step is one node of the experiment graph: a single task plugin invocation.
type Step struct {
	Name         string
	Task         string
	Args         []refs.Arg
	Kwargs       refs.Map
	Dependencies []string
}

// References returns every syntactic reference in the step's argument
// structure, positional arguments first, then keyword arguments in document
// order.
func (s *Step) References() []string {
	var out []string
	for _, arg := range s.Args {
		out = append(out, refs.References(arg)...)
	}
	out = append(out, refs.References(s.Kwargs)...)
	return out
}

// DependencyNames returns the union of implicit dependencies (references
// that name known steps) and the explicit dependencies list, first
// occurrence wins, in that order.
func (s *Step) DependencyNames(g *Graph) []string {
	seen := make(map[string]struct{})
	var out []string
	add := func(name string) {
		if _, ok := seen[name]; ok {
			return
		}
		seen[name] = struct{}{}
		out = append(out, name)
	}
	for _, ref := range s.References() {
		target, _ := refs.Split(ref)
		if _, ok := g.Step(target); ok {
			add(target)
		}
	}
	for _, dep := range s.Dependencies {
		add(dep)
	}
	return out
}
