package experiment

import (
	"fmt"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/dioptra-labs/dioptra-go/internal/experiment/refs"
)

// Document is a decoded experiment description file. Raw is the generic
// mapping handed to the schema validator; the retained node preserves YAML
// document order for graph construction.
type Document struct {
	Raw  map[string]any
	node *yaml.Node
}

// ParseDocument decodes YAML bytes into a Document. Decoding errors are
// returned as-is; structural problems are left for the schema validator.
func ParseDocument(data []byte) (*Document, error) {
	var raw map[string]any
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("decode experiment description: %w", err)
	}
	var node yaml.Node
	if err := yaml.Unmarshal(data, &node); err != nil {
		return nil, fmt.Errorf("decode experiment description: %w", err)
	}
	return &Document{Raw: raw, node: &node}, nil
}

// Build constructs the typed Description from the document. The document is
// expected to have passed schema validation; Build still reports the typed
// errors that the schema grammar cannot express (illegal plugin names,
// missing task invocation keys).
func (d *Document) Build() (*Description, error) {
	root := d.mappingRoot()
	if root == nil {
		return nil, fmt.Errorf("experiment description is not a mapping")
	}

	desc := &Description{
		Parameters: make(map[string]Parameter),
		Tasks:      make(map[string]Task),
		Graph:      NewGraph(),
	}

	for key, value := range mappingEntries(root) {
		switch key {
		case "types":
			if err := value.Decode(&desc.Types); err != nil {
				return nil, fmt.Errorf("decode types: %w", err)
			}
		case "parameters":
			params, err := parseParameters(value)
			if err != nil {
				return nil, err
			}
			desc.Parameters = params
		case "tasks":
			tasks, err := parseTasks(value)
			if err != nil {
				return nil, err
			}
			desc.Tasks = tasks
		case "graph":
			graph, err := parseGraph(value)
			if err != nil {
				return nil, err
			}
			desc.Graph = graph
		}
	}
	return desc, nil
}

func (d *Document) mappingRoot() *yaml.Node {
	node := d.node
	if node == nil {
		return nil
	}
	if node.Kind == yaml.DocumentNode && len(node.Content) > 0 {
		node = node.Content[0]
	}
	if node.Kind != yaml.MappingNode {
		return nil
	}
	return node
}

// mappingEntries iterates a mapping node's key/value pairs in document order.
func mappingEntries(node *yaml.Node) func(func(string, *yaml.Node) bool) {
	return func(yield func(string, *yaml.Node) bool) {
		for i := 0; i+1 < len(node.Content); i += 2 {
			key := node.Content[i].Value
			value := resolveAlias(node.Content[i+1])
			if !yield(key, value) {
				return
			}
		}
	}
}

func resolveAlias(node *yaml.Node) *yaml.Node {
	if node.Kind == yaml.AliasNode && node.Alias != nil {
		return node.Alias
	}
	return node
}

func parseParameters(node *yaml.Node) (map[string]Parameter, error) {
	if node.Kind != yaml.MappingNode {
		return nil, fmt.Errorf("parameters section is not a mapping")
	}
	out := make(map[string]Parameter)
	for name, value := range mappingEntries(node) {
		param, err := parseParameter(name, value)
		if err != nil {
			return nil, err
		}
		out[name] = param
	}
	return out, nil
}

func parseParameter(name string, node *yaml.Node) (Parameter, error) {
	if node.Kind == yaml.MappingNode && hasAnyKey(node, "type", "default") {
		var param Parameter
		for key, value := range mappingEntries(node) {
			switch key {
			case "type":
				if err := value.Decode(&param.Type); err != nil {
					return Parameter{}, fmt.Errorf("parameter %q type: %w", name, err)
				}
			case "default":
				var def any
				if err := value.Decode(&def); err != nil {
					return Parameter{}, fmt.Errorf("parameter %q default: %w", name, err)
				}
				param.Default = def
				param.HasDefault = true
			}
		}
		return param, nil
	}

	// Shorthand: the value is the default itself.
	var def any
	if err := node.Decode(&def); err != nil {
		return Parameter{}, fmt.Errorf("parameter %q: %w", name, err)
	}
	return Parameter{Default: def, HasDefault: true}, nil
}

func parseTasks(node *yaml.Node) (map[string]Task, error) {
	if node.Kind != yaml.MappingNode {
		return nil, fmt.Errorf("tasks section is not a mapping")
	}
	out := make(map[string]Task)
	for name, value := range mappingEntries(node) {
		task, err := parseTask(name, value)
		if err != nil {
			return nil, err
		}
		out[name] = task
	}
	return out, nil
}

func parseTask(name string, node *yaml.Node) (Task, error) {
	if node.Kind != yaml.MappingNode {
		return Task{}, fmt.Errorf("task plugin %q is not a mapping", name)
	}
	var task Task
	for key, value := range mappingEntries(node) {
		switch key {
		case "plugin":
			if err := value.Decode(&task.Plugin); err != nil {
				return Task{}, fmt.Errorf("task plugin %q plugin ID: %w", name, err)
			}
		case "inputs":
			inputs, err := parseTaskInputs(name, value)
			if err != nil {
				return Task{}, err
			}
			task.Inputs = inputs
		case "outputs":
			outputs, err := parseTaskOutputs(name, value)
			if err != nil {
				return Task{}, err
			}
			task.Outputs = outputs
		}
	}
	if strings.Count(task.Plugin, ".") < 1 {
		return Task{}, &IllegalPluginNameError{PluginName: task.Plugin}
	}
	return task, nil
}

func parseTaskInputs(task string, node *yaml.Node) ([]Input, error) {
	if node.Kind != yaml.SequenceNode {
		return nil, fmt.Errorf("task plugin %q inputs is not a sequence", task)
	}
	var out []Input
	for _, item := range node.Content {
		item = resolveAlias(item)
		if item.Kind != yaml.MappingNode {
			return nil, fmt.Errorf("task plugin %q inputs entries must be mappings", task)
		}
		if hasAnyKey(item, "name") {
			var input Input
			for key, value := range mappingEntries(item) {
				switch key {
				case "name":
					_ = value.Decode(&input.Name)
				case "type":
					_ = value.Decode(&input.Type)
				case "required":
					_ = value.Decode(&input.Required)
				}
			}
			out = append(out, input)
			continue
		}
		// Short form: single {name: type} pair.
		for key, value := range mappingEntries(item) {
			var typ string
			_ = value.Decode(&typ)
			out = append(out, Input{Name: key, Type: typ, Required: true})
		}
	}
	return out, nil
}

func parseTaskOutputs(task string, node *yaml.Node) ([]Output, error) {
	switch node.Kind {
	case yaml.MappingNode:
		output, err := parseTaskOutput(task, node)
		if err != nil {
			return nil, err
		}
		return []Output{output}, nil
	case yaml.SequenceNode:
		out := make([]Output, 0, len(node.Content))
		for _, item := range node.Content {
			item = resolveAlias(item)
			if item.Kind != yaml.MappingNode {
				return nil, fmt.Errorf("task plugin %q outputs entries must be mappings", task)
			}
			output, err := parseTaskOutput(task, item)
			if err != nil {
				return nil, err
			}
			out = append(out, output)
		}
		return out, nil
	default:
		return nil, fmt.Errorf("task plugin %q outputs must be a mapping or sequence", task)
	}
}

func parseTaskOutput(task string, node *yaml.Node) (Output, error) {
	for key, value := range mappingEntries(node) {
		var typ string
		if err := value.Decode(&typ); err != nil {
			return Output{}, fmt.Errorf("task plugin %q outputs: %w", task, err)
		}
		return Output{Name: key, Type: typ}, nil
	}
	return Output{}, fmt.Errorf("task plugin %q outputs entry is empty", task)
}

func parseGraph(node *yaml.Node) (*Graph, error) {
	if node.Kind != yaml.MappingNode {
		return nil, fmt.Errorf("graph section is not a mapping")
	}
	graph := NewGraph()
	for name, value := range mappingEntries(node) {
		step, err := parseStep(name, value)
		if err != nil {
			return nil, err
		}
		graph.names = append(graph.names, name)
		graph.steps[name] = step
	}
	return graph, nil
}

func parseStep(name string, node *yaml.Node) (*Step, error) {
	if node.Kind != yaml.MappingNode {
		return nil, &MissingTaskPluginNameError{StepName: name}
	}

	step := &Step{Name: name}
	explicit := hasAnyKey(node, "task")
	var invocationKeys int

	for key, value := range mappingEntries(node) {
		switch {
		case key == "dependencies":
			deps, err := parseDependencies(name, value)
			if err != nil {
				return nil, err
			}
			step.Dependencies = deps
		case explicit && key == "task":
			if err := value.Decode(&step.Task); err != nil {
				return nil, fmt.Errorf("step %q task: %w", name, err)
			}
			invocationKeys++
		case explicit && key == "args":
			args, err := parseArgList(name, value)
			if err != nil {
				return nil, err
			}
			step.Args = args
		case explicit && key == "kwargs":
			kwargs, err := nodeToArg(value)
			if err != nil {
				return nil, fmt.Errorf("step %q kwargs: %w", name, err)
			}
			m, ok := kwargs.(refs.Map)
			if !ok {
				return nil, fmt.Errorf("step %q kwargs is not a mapping", name)
			}
			step.Kwargs = m
		case !explicit:
			// Bare form: the single remaining key is the task short name.
			step.Task = key
			invocationKeys++
			if err := parseBareInvocation(step, value); err != nil {
				return nil, err
			}
		default:
			return nil, &MissingTaskPluginNameError{StepName: name}
		}
	}

	if invocationKeys != 1 || strings.TrimSpace(step.Task) == "" {
		return nil, &MissingTaskPluginNameError{StepName: name}
	}
	return step, nil
}

func parseBareInvocation(step *Step, node *yaml.Node) error {
	switch node.Kind {
	case yaml.MappingNode:
		// The invocation value may spell args/kwargs out explicitly;
		// otherwise the whole mapping is the keyword arguments.
		if hasAnyKey(node, "args", "kwargs") {
			for key, value := range mappingEntries(node) {
				switch key {
				case "args":
					args, err := parseArgList(step.Name, value)
					if err != nil {
						return err
					}
					step.Args = args
				case "kwargs":
					arg, err := nodeToArg(value)
					if err != nil {
						return fmt.Errorf("step %q kwargs: %w", step.Name, err)
					}
					m, ok := arg.(refs.Map)
					if !ok {
						return fmt.Errorf("step %q kwargs is not a mapping", step.Name)
					}
					step.Kwargs = m
				}
			}
			return nil
		}
		arg, err := nodeToArg(node)
		if err != nil {
			return fmt.Errorf("step %q arguments: %w", step.Name, err)
		}
		step.Kwargs = arg.(refs.Map)
	case yaml.SequenceNode:
		args, err := parseArgList(step.Name, node)
		if err != nil {
			return err
		}
		step.Args = args
	default:
		arg, err := nodeToArg(node)
		if err != nil {
			return fmt.Errorf("step %q arguments: %w", step.Name, err)
		}
		if lit, ok := arg.(refs.Literal); !ok || lit.Value != nil {
			step.Args = []refs.Arg{arg}
		}
	}
	return nil
}

func parseDependencies(step string, node *yaml.Node) ([]string, error) {
	node = resolveAlias(node)
	switch node.Kind {
	case yaml.ScalarNode:
		var dep string
		if err := node.Decode(&dep); err != nil {
			return nil, fmt.Errorf("step %q dependencies: %w", step, err)
		}
		return []string{dep}, nil
	case yaml.SequenceNode:
		var deps []string
		if err := node.Decode(&deps); err != nil {
			return nil, fmt.Errorf("step %q dependencies: %w", step, err)
		}
		return deps, nil
	default:
		return nil, fmt.Errorf("step %q dependencies must be a string or sequence", step)
	}
}

func parseArgList(step string, node *yaml.Node) ([]refs.Arg, error) {
	node = resolveAlias(node)
	if node.Kind != yaml.SequenceNode {
		// A single scalar is accepted where a list is expected.
		arg, err := nodeToArg(node)
		if err != nil {
			return nil, fmt.Errorf("step %q args: %w", step, err)
		}
		return []refs.Arg{arg}, nil
	}
	out := make([]refs.Arg, 0, len(node.Content))
	for _, item := range node.Content {
		arg, err := nodeToArg(item)
		if err != nil {
			return nil, fmt.Errorf("step %q args: %w", step, err)
		}
		out = append(out, arg)
	}
	return out, nil
}

// nodeToArg converts a YAML node into an Arg tree, preserving mapping key
// order and recognizing reference tokens.
func nodeToArg(node *yaml.Node) (refs.Arg, error) {
	node = resolveAlias(node)
	switch node.Kind {
	case yaml.ScalarNode:
		var value any
		if err := node.Decode(&value); err != nil {
			return nil, err
		}
		return refs.FromValue(value)
	case yaml.SequenceNode:
		items := make([]refs.Arg, 0, len(node.Content))
		for _, item := range node.Content {
			arg, err := nodeToArg(item)
			if err != nil {
				return nil, err
			}
			items = append(items, arg)
		}
		return refs.List{Items: items}, nil
	case yaml.MappingNode:
		m := refs.Map{Values: make(map[string]refs.Arg, len(node.Content)/2)}
		for key, value := range mappingEntries(node) {
			arg, err := nodeToArg(value)
			if err != nil {
				return nil, err
			}
			m.Keys = append(m.Keys, key)
			m.Values[key] = arg
		}
		return m, nil
	default:
		return nil, fmt.Errorf("unsupported YAML node kind %d", node.Kind)
	}
}

func hasAnyKey(node *yaml.Node, keys ...string) bool {
	for i := 0; i+1 < len(node.Content); i += 2 {
		for _, key := range keys {
			if node.Content[i].Value == key {
				return true
			}
		}
	}
	return false
}
