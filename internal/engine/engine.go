// Package engine executes a validated experiment description: it resolves
// each step's references against global parameters and prior step outputs,
// dispatches task plugin calls in dependency order, and honors cooperative
// cancellation between steps.
package engine

import (
	"context"
	"sync/atomic"
)

// Status is the run state of the task engine.
type Status string

const (
	StatusValidating Status = "validating"
	StatusSorting    Status = "sorting"
	StatusRunning    Status = "running"
	StatusCompleted  Status = "completed"
	StatusFailed     Status = "failed"
	StatusStopped    Status = "stopped"
)

// Dispatcher invokes a registered task plugin function by its resolved
// identifier. The engine never inspects plugin internals; this is its only
// view of the plugin registry.
type Dispatcher interface {
	Dispatch(ctx context.Context, pkg, plugin, function string, kwargs map[string]any) (any, error)
}

// Recorder receives run-level bookkeeping events. Implementations must
// tolerate being called once per run in the order: LogParameters,
// LogSnapshot, LogStatus(started), then a final LogStatus.
type Recorder interface {
	LogParameters(ctx context.Context, params map[string]any) error
	LogSnapshot(ctx context.Context, snapshot []byte) error
	LogStatus(ctx context.Context, status string) error
}

// StopFlag is the cooperative cancellation signal. The runner checks it
// between steps only; a set flag never interrupts a step in flight.
type StopFlag struct {
	flag atomic.Bool
}

// Set requests a graceful stop at the next step boundary.
func (f *StopFlag) Set() { f.flag.Store(true) }

// IsSet reports whether a stop has been requested.
func (f *StopFlag) IsSet() bool { return f.flag.Load() }
