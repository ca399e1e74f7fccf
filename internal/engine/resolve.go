package engine

import (
	"fmt"
	"sort"

	"github.com/dioptra-labs/dioptra-go/internal/experiment"
	"github.com/dioptra-labs/dioptra-go/internal/experiment/refs"
)

// resolver resolves reference tokens against the run's global parameters
// and the outputs of completed steps.
type resolver struct {
	desc    *experiment.Description
	params  map[string]any
	outputs map[string]any
}

// mergeParameters combines declared parameter defaults with caller-supplied
// values. Every declared parameter must end up with a value; the missing
// ones are reported together, sorted by name.
func mergeParameters(desc *experiment.Description, supplied map[string]any) (map[string]any, error) {
	merged := make(map[string]any, len(desc.Parameters)+len(supplied))
	for name, param := range desc.Parameters {
		if param.HasDefault {
			merged[name] = param.Default
		}
	}
	for name, value := range supplied {
		merged[name] = value
	}
	var missing []string
	for name := range desc.Parameters {
		if _, ok := merged[name]; !ok {
			missing = append(missing, name)
		}
	}
	if len(missing) > 0 {
		sort.Strings(missing)
		return nil, &experiment.MissingGlobalParametersError{Parameters: missing}
	}
	return merged, nil
}

func (r *resolver) resolveArg(arg refs.Arg) (any, error) {
	switch v := arg.(type) {
	case refs.Literal:
		return v.Value, nil
	case refs.Reference:
		return r.resolveRef(v.Name)
	case refs.List:
		out := make([]any, 0, len(v.Items))
		for _, item := range v.Items {
			value, err := r.resolveArg(item)
			if err != nil {
				return nil, err
			}
			out = append(out, value)
		}
		return out, nil
	case refs.Map:
		out := make(map[string]any, len(v.Keys))
		for _, key := range v.Keys {
			value, err := r.resolveArg(v.Values[key])
			if err != nil {
				return nil, err
			}
			out[key] = value
		}
		return out, nil
	default:
		return nil, fmt.Errorf("unsupported argument node %T", arg)
	}
}

// resolveRef resolves one ref-name. A prefix matching a known step name is a
// step-output reference; otherwise the full name must match a global
// parameter.
func (r *resolver) resolveRef(name string) (any, error) {
	target, output := refs.Split(name)
	if step, ok := r.desc.Graph.Step(target); ok {
		return r.resolveStepOutput(step, target, output, name)
	}
	if value, ok := r.params[name]; ok {
		return value, nil
	}
	return nil, &experiment.UnresolvableReferenceError{Reference: name}
}

func (r *resolver) resolveStepOutput(step *experiment.Step, target, output, ref string) (any, error) {
	stored, ok := r.outputs[target]
	if !ok {
		return nil, &experiment.UnresolvableReferenceError{Reference: ref}
	}
	task := r.desc.Tasks[step.Task]

	if output == "" {
		if len(task.Outputs) > 1 {
			return nil, &experiment.IllegalOutputReferenceError{StepName: target}
		}
		return stored, nil
	}

	if !declaresOutput(task, output) {
		return nil, &experiment.OutputNotFoundError{StepName: target, OutputName: output}
	}
	if byName, ok := stored.(map[string]any); ok && len(task.Outputs) > 1 {
		return byName[output], nil
	}
	return stored, nil
}

func declaresOutput(task experiment.Task, name string) bool {
	for _, out := range task.Outputs {
		if out.Name == name {
			return true
		}
	}
	return false
}

// kwargsForStep resolves the step's argument structure into the keyword
// argument map handed to the dispatcher. Positional arguments are mapped
// onto the task's declared input names.
func (r *resolver) kwargsForStep(step *experiment.Step, task experiment.Task) (map[string]any, error) {
	kwargs := make(map[string]any, len(step.Args)+len(step.Kwargs.Keys))

	for i, arg := range step.Args {
		if i >= len(task.Inputs) {
			return nil, fmt.Errorf("step %q passes %d positional arguments but task plugin %q declares %d inputs",
				step.Name, len(step.Args), step.Task, len(task.Inputs))
		}
		value, err := r.resolveArg(arg)
		if err != nil {
			return nil, err
		}
		kwargs[task.Inputs[i].Name] = value
	}

	for _, key := range step.Kwargs.Keys {
		value, err := r.resolveArg(step.Kwargs.Values[key])
		if err != nil {
			return nil, err
		}
		kwargs[key] = value
	}
	return kwargs, nil
}
