package experiment

import (
	"fmt"
	"strings"
)

// StepError is implemented by every error that can occur while analyzing or
// executing a single step. The context step name is set at most once, by the
// layer that knows which step was being processed when the error surfaced;
// the original message is never altered, only prefixed.
type StepError interface {
	error
	ContextStep() string
	setContextStep(name string)
}

// WithStepContext decorates err with the name of the step that was being
// processed when it surfaced. Errors that already carry a context, or that
// are not StepErrors, are returned unchanged.
func WithStepContext(err error, step string) error {
	if stepErr, ok := err.(StepError); ok {
		stepErr.setContextStep(step)
	}
	return err
}

type stepContext struct {
	Step string
}

func (c *stepContext) ContextStep() string { return c.Step }

func (c *stepContext) setContextStep(name string) {
	if c.Step == "" {
		c.Step = name
	}
}

func (c *stepContext) render(msg string) string {
	if c.Step == "" {
		return msg
	}
	return fmt.Sprintf("In step %q: %s", c.Step, msg)
}

// StepNotFoundError reports a dependency on a step name that is not a key
// of the experiment graph.
type StepNotFoundError struct {
	stepContext
	Name string
}

func (e *StepNotFoundError) Error() string {
	return e.render(fmt.Sprintf("step %q not found in the experiment graph", e.Name))
}

// OutputNotFoundError reports a reference to an output name that the target
// step's task plugin does not declare.
type OutputNotFoundError struct {
	stepContext
	StepName   string
	OutputName string
}

func (e *OutputNotFoundError) Error() string {
	return e.render(fmt.Sprintf("step %q does not declare an output named %q", e.StepName, e.OutputName))
}

// IllegalOutputReferenceError reports a bare reference to a step that has
// more than one output and therefore requires an output name.
type IllegalOutputReferenceError struct {
	stepContext
	StepName string
}

func (e *IllegalOutputReferenceError) Error() string {
	return e.render(fmt.Sprintf("step %q has multiple outputs, a reference to it must name one", e.StepName))
}

// NonIterableTaskOutputError reports a plugin call that did not return a
// sequence even though the task declares multiple named outputs.
type NonIterableTaskOutputError struct {
	stepContext
	TaskName string
}

func (e *NonIterableTaskOutputError) Error() string {
	return e.render(fmt.Sprintf("task plugin %q declares multiple outputs but did not return a sequence", e.TaskName))
}

// UnresolvableReferenceError reports a reference that matches neither a step
// name nor a global parameter name.
type UnresolvableReferenceError struct {
	stepContext
	Reference string
}

func (e *UnresolvableReferenceError) Error() string {
	return e.render(fmt.Sprintf("reference $%s does not resolve to a step output or global parameter", e.Reference))
}

// TaskPluginNotFoundError reports a task plugin short name whose function is
// not registered with the plugin registry.
type TaskPluginNotFoundError struct {
	stepContext
	TaskName string
}

func (e *TaskPluginNotFoundError) Error() string {
	return e.render(fmt.Sprintf("task plugin %q not found", e.TaskName))
}

// MissingTaskPluginNameError reports a step invocation that does not name
// exactly one task plugin.
type MissingTaskPluginNameError struct {
	stepContext
	StepName string
}

func (e *MissingTaskPluginNameError) Error() string {
	return e.render(fmt.Sprintf("step %q does not name exactly one task plugin", e.StepName))
}

// MissingGlobalParametersError reports references that require global
// parameter values the caller did not supply.
type MissingGlobalParametersError struct {
	Parameters []string
}

func (e *MissingGlobalParametersError) Error() string {
	return fmt.Sprintf("missing values for global parameters: %s", strings.Join(e.Parameters, ", "))
}

// IllegalPluginNameError reports a task plugin identifier that is not a
// package-qualified dotted name.
type IllegalPluginNameError struct {
	PluginName string
}

func (e *IllegalPluginNameError) Error() string {
	return fmt.Sprintf("illegal plugin name %q: at least two dot-delimited components are required", e.PluginName)
}

// StepReferenceCycleError reports a dependency cycle. Cycle holds the step
// names from the first occurrence of the repeated name through its repeat,
// inclusive.
type StepReferenceCycleError struct {
	Cycle []string
}

func (e *StepReferenceCycleError) Error() string {
	return fmt.Sprintf("step reference cycle: %s", strings.Join(e.Cycle, " -> "))
}
