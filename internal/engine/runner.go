package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"gopkg.in/yaml.v3"

	"github.com/dioptra-labs/dioptra-go/internal/experiment"
	"github.com/dioptra-labs/dioptra-go/internal/experiment/graph"
	"github.com/dioptra-labs/dioptra-go/internal/experiment/schema"
)

// ErrInvalidDescription is returned when the pre-execution validation batch
// produced issues; Result.Issues carries them.
var ErrInvalidDescription = errors.New("experiment description is invalid")

// Runner executes one experiment description, strictly sequentially. A
// Runner is used for a single run and not shared.
type Runner struct {
	Dispatcher Dispatcher
	Recorder   Recorder
	Logger     *slog.Logger
	Stop       *StopFlag
}

// Result is the outcome of one run. Outputs maps step names to their stored
// output values; for multi-output steps the value is a map keyed by output
// name. When the run stopped early or failed, Outputs holds whatever the
// completed steps produced and the caller is expected to discard it.
type Result struct {
	Status  Status
	Outputs map[string]any
	Issues  []schema.Issue
}

// Run validates, sorts and executes the experiment. Validation issues stop
// the run before any side effect; runtime errors abort it at the failing
// step with the step name attached to the error.
func (r *Runner) Run(ctx context.Context, doc *experiment.Document, globalParameters map[string]any) (Result, error) {
	logger := r.logger()

	logger.Info("run state", "status", StatusValidating)
	if issues := schema.Validate(docRaw(doc)); len(issues) > 0 {
		return r.fail(ctx, Result{Status: StatusFailed, Issues: issues}, ErrInvalidDescription)
	}

	desc, err := doc.Build()
	if err != nil {
		return r.fail(ctx, Result{Status: StatusFailed}, err)
	}

	logger.Info("run state", "status", StatusSorting)
	order, err := graph.SortedSteps(desc.Graph)
	if err != nil {
		return r.fail(ctx, Result{Status: StatusFailed}, err)
	}

	params, err := mergeParameters(desc, globalParameters)
	if err != nil {
		return r.fail(ctx, Result{Status: StatusFailed}, err)
	}

	if err := r.recordStart(ctx, doc, params); err != nil {
		return r.fail(ctx, Result{Status: StatusFailed}, err)
	}

	res := resolver{
		desc:    desc,
		params:  params,
		outputs: make(map[string]any, len(order)),
	}
	result := Result{Status: StatusRunning, Outputs: res.outputs}

	for _, name := range order {
		step, _ := desc.Graph.Step(name)
		logger.Info("run state", "status", StatusRunning, "step", name)

		if err := r.runStep(ctx, &res, step); err != nil {
			err = experiment.WithStepContext(err, name)
			result.Status = StatusFailed
			return r.fail(ctx, result, err)
		}

		if r.Stop != nil && r.Stop.IsSet() {
			logger.Warn("stop requested, halting before remaining steps", "completed_step", name)
			result.Status = StatusStopped
			r.recordStatus(ctx, StatusStopped)
			return result, nil
		}
	}

	result.Status = StatusCompleted
	r.recordStatus(ctx, StatusCompleted)
	logger.Info("run state", "status", StatusCompleted)
	return result, nil
}

func (r *Runner) runStep(ctx context.Context, res *resolver, step *experiment.Step) error {
	task, ok := res.desc.Tasks[step.Task]
	if !ok {
		return &experiment.TaskPluginNotFoundError{TaskName: step.Task}
	}

	kwargs, err := res.kwargsForStep(step, task)
	if err != nil {
		return err
	}

	pkg, plugin, function := task.PluginComponents()
	output, err := r.Dispatcher.Dispatch(ctx, pkg, plugin, function, kwargs)
	if err != nil {
		return err
	}

	stored, err := shapeOutput(step, task, output)
	if err != nil {
		return err
	}
	res.outputs[step.Name] = stored
	return nil
}

// shapeOutput stores a plugin's return value according to the task's output
// declaration: multi-output tasks must return a sequence, which is zipped
// positionally with the declared output names.
func shapeOutput(step *experiment.Step, task experiment.Task, output any) (any, error) {
	if len(task.Outputs) <= 1 {
		return output, nil
	}
	seq, ok := output.([]any)
	if !ok {
		return nil, &experiment.NonIterableTaskOutputError{TaskName: step.Task}
	}
	if len(seq) < len(task.Outputs) {
		return nil, fmt.Errorf("task plugin %q returned %d values for %d declared outputs",
			step.Task, len(seq), len(task.Outputs))
	}
	byName := make(map[string]any, len(task.Outputs))
	for i, out := range task.Outputs {
		byName[out.Name] = seq[i]
	}
	return byName, nil
}

func (r *Runner) recordStart(ctx context.Context, doc *experiment.Document, params map[string]any) error {
	if r.Recorder == nil {
		return nil
	}
	if err := r.Recorder.LogParameters(ctx, params); err != nil {
		return fmt.Errorf("log run parameters: %w", err)
	}
	snapshot, err := yaml.Marshal(map[string]any{
		"description": docRaw(doc),
		"parameters":  params,
	})
	if err != nil {
		return fmt.Errorf("render description snapshot: %w", err)
	}
	if err := r.Recorder.LogSnapshot(ctx, snapshot); err != nil {
		return fmt.Errorf("log description snapshot: %w", err)
	}
	if err := r.Recorder.LogStatus(ctx, "started"); err != nil {
		return fmt.Errorf("log run status: %w", err)
	}
	return nil
}

func (r *Runner) fail(ctx context.Context, result Result, err error) (Result, error) {
	result.Status = StatusFailed
	r.recordStatus(ctx, StatusFailed)
	r.logger().Error("run failed", "error", err)
	return result, err
}

func (r *Runner) recordStatus(ctx context.Context, status Status) {
	if r.Recorder == nil {
		return
	}
	if err := r.Recorder.LogStatus(ctx, string(status)); err != nil {
		r.logger().Warn("failed to record run status", "status", status, "error", err)
	}
}

func (r *Runner) logger() *slog.Logger {
	if r.Logger != nil {
		return r.Logger
	}
	return slog.Default()
}

func docRaw(doc *experiment.Document) map[string]any {
	if doc == nil {
		return nil
	}
	return doc.Raw
}
