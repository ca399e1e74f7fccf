// Package supervisor runs one task-engine invocation in a child process so
// the parent can interrupt it: graceful SIGTERM first (the child's runner
// flips its cooperative stop flag), SIGKILL one grace period later.
package supervisor

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"os/signal"
	"syscall"
	"time"

	"github.com/dioptra-labs/dioptra-go/internal/engine"
)

// DefaultPollInterval is how often the should-stop predicate is checked
// while the child is alive, and also the grace period between SIGTERM and
// SIGKILL.
const DefaultPollInterval = 3 * time.Second

// Supervisor monitors exactly one child process per Run call.
type Supervisor struct {
	PollInterval time.Duration
	ShouldStop   func(ctx context.Context) (bool, error)
	Logger       *slog.Logger
}

// Run starts cmd and blocks until it exits. The lifecycle is
// Running -> StopRequested -> GracePeriod -> Killed|Exited: once ShouldStop
// reports true the child gets SIGTERM, one poll interval to exit, then
// SIGKILL. The returned bool is true iff the run was stopped prematurely;
// a natural exit returns false together with the child's exit error, if
// any.
func (s *Supervisor) Run(ctx context.Context, cmd *exec.Cmd) (bool, error) {
	if cmd == nil {
		return false, fmt.Errorf("command is required")
	}
	if err := cmd.Start(); err != nil {
		return false, fmt.Errorf("start child process: %w", err)
	}

	exited := make(chan error, 1)
	go func() { exited <- cmd.Wait() }()

	return s.monitorProcess(ctx, cmd, exited)
}

func (s *Supervisor) monitorProcess(ctx context.Context, cmd *exec.Cmd, exited <-chan error) (bool, error) {
	interval := s.PollInterval
	if interval <= 0 {
		interval = DefaultPollInterval
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case err := <-exited:
			return false, err
		case <-ctx.Done():
			s.terminate(cmd, exited, interval)
			return true, ctx.Err()
		case <-ticker.C:
			if s.ShouldStop == nil {
				continue
			}
			stop, err := s.ShouldStop(ctx)
			if err != nil {
				s.logger().Warn("should-stop check failed", "error", err)
				continue
			}
			if stop {
				s.terminate(cmd, exited, interval)
				return true, nil
			}
		}
	}
}

// terminate escalates from graceful to forced termination and always waits
// for the child to be reaped.
func (s *Supervisor) terminate(cmd *exec.Cmd, exited <-chan error, grace time.Duration) {
	logger := s.logger()
	logger.Info("stopping child process", "pid", cmd.Process.Pid)
	if err := cmd.Process.Signal(syscall.SIGTERM); err != nil {
		logger.Warn("graceful termination signal failed", "error", err)
	}

	select {
	case <-exited:
		return
	case <-time.After(grace):
	}

	logger.Warn("child ignored graceful stop, killing", "pid", cmd.Process.Pid)
	if err := cmd.Process.Kill(); err != nil {
		logger.Warn("kill failed", "error", err)
	}
	<-exited
}

func (s *Supervisor) logger() *slog.Logger {
	if s.Logger != nil {
		return s.Logger
	}
	return slog.Default()
}

// NotifyStop installs the child-side handler: on SIGTERM the engine's
// cooperative stop flag is set so the runner halts at the next step
// boundary. The returned function uninstalls the handler.
func NotifyStop(flag *engine.StopFlag) func() {
	ch := make(chan os.Signal, 1)
	signal.Notify(ch, syscall.SIGTERM)
	done := make(chan struct{})
	go func() {
		select {
		case <-ch:
			flag.Set()
		case <-done:
		}
	}()
	return func() {
		signal.Stop(ch)
		close(done)
	}
}
