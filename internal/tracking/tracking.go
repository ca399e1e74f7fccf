// Package tracking is the run bookkeeping service the engine reports to:
// run rows, status transitions, logged parameters, and the description
// snapshot artifact. It also answers the supervisor's "should this run
// stop" question.
package tracking

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

// ErrNotFound is returned when a run id is unknown.
var ErrNotFound = errors.New("run not found")

const (
	StatusStarted   = "started"
	StatusCompleted = "completed"
	StatusFailed    = "failed"
	StatusStopped   = "stopped"

	// StatusStopping marks an externally requested stop; the supervisor's
	// poll loop watches for it.
	StatusStopping = "stopping"
)

// Run is one tracked task-engine run.
type Run struct {
	ID         string
	Experiment string
	Status     string
	StartedAt  time.Time
	EndedAt    *time.Time
	Params     map[string]any
	Snapshot   []byte
}

// Store persists runs. Implementations must be safe for concurrent use.
type Store interface {
	CreateRun(ctx context.Context, experiment string) (Run, error)
	GetRun(ctx context.Context, runID string) (Run, error)
	UpdateStatus(ctx context.Context, runID, status string) error
	SaveParameters(ctx context.Context, runID string, params map[string]any) error
	SaveSnapshot(ctx context.Context, runID string, snapshot []byte) error
}

// Recorder adapts one run in a Store to the narrow logging interface the
// engine consumes.
type Recorder struct {
	store Store
	runID string
}

func NewRecorder(store Store, runID string) *Recorder {
	return &Recorder{store: store, runID: runID}
}

func (r *Recorder) LogParameters(ctx context.Context, params map[string]any) error {
	return r.store.SaveParameters(ctx, r.runID, params)
}

func (r *Recorder) LogSnapshot(ctx context.Context, snapshot []byte) error {
	return r.store.SaveSnapshot(ctx, r.runID, snapshot)
}

func (r *Recorder) LogStatus(ctx context.Context, status string) error {
	return r.store.UpdateStatus(ctx, r.runID, status)
}

// ShouldStop returns the supervisor predicate for one run: true once the
// run's status has been set to stopping.
func ShouldStop(store Store, runID string) func(ctx context.Context) (bool, error) {
	return func(ctx context.Context) (bool, error) {
		run, err := store.GetRun(ctx, runID)
		if err != nil {
			return false, err
		}
		return run.Status == StatusStopping, nil
	}
}

// MemoryStore keeps runs in process memory; it backs --no-run executions
// and tests.
type MemoryStore struct {
	mu   sync.Mutex
	runs map[string]*Run
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{runs: make(map[string]*Run)}
}

func (s *MemoryStore) CreateRun(_ context.Context, experiment string) (Run, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	run := &Run{
		ID:         uuid.NewString(),
		Experiment: strings.TrimSpace(experiment),
		Status:     StatusStarted,
		StartedAt:  time.Now().UTC(),
	}
	s.runs[run.ID] = run
	return *run, nil
}

func (s *MemoryStore) GetRun(_ context.Context, runID string) (Run, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	run, ok := s.runs[runID]
	if !ok {
		return Run{}, ErrNotFound
	}
	return *run, nil
}

func (s *MemoryStore) UpdateStatus(_ context.Context, runID, status string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	run, ok := s.runs[runID]
	if !ok {
		return ErrNotFound
	}
	run.Status = status
	if isTerminalStatus(status) {
		now := time.Now().UTC()
		run.EndedAt = &now
	}
	return nil
}

func (s *MemoryStore) SaveParameters(_ context.Context, runID string, params map[string]any) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	run, ok := s.runs[runID]
	if !ok {
		return ErrNotFound
	}
	run.Params = params
	return nil
}

func (s *MemoryStore) SaveSnapshot(_ context.Context, runID string, snapshot []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	run, ok := s.runs[runID]
	if !ok {
		return ErrNotFound
	}
	run.Snapshot = snapshot
	return nil
}

func isTerminalStatus(status string) bool {
	switch status {
	case StatusCompleted, StatusFailed, StatusStopped:
		return true
	default:
		return false
	}
}
