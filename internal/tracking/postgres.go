package tracking

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// DB is the subset of *sql.DB the store needs; it lets tests substitute a
// transaction or a fake.
type DB interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// PostgresStore persists runs in the task_engine_runs table.
type PostgresStore struct {
	db DB
}

func NewPostgresStore(db DB) *PostgresStore {
	if db == nil {
		return nil
	}
	return &PostgresStore{db: db}
}

func (s *PostgresStore) CreateRun(ctx context.Context, experiment string) (Run, error) {
	if s == nil || s.db == nil {
		return Run{}, fmt.Errorf("tracking store not initialized")
	}
	run := Run{
		ID:         uuid.NewString(),
		Experiment: strings.TrimSpace(experiment),
		Status:     StatusStarted,
		StartedAt:  time.Now().UTC(),
	}
	_, err := s.db.ExecContext(
		ctx,
		`INSERT INTO task_engine_runs (run_id, experiment_name, status, started_at)
		 VALUES ($1, $2, $3, $4)`,
		run.ID,
		run.Experiment,
		run.Status,
		run.StartedAt,
	)
	if err != nil {
		return Run{}, fmt.Errorf("insert run: %w", err)
	}
	return run, nil
}

func (s *PostgresStore) GetRun(ctx context.Context, runID string) (Run, error) {
	if s == nil || s.db == nil {
		return Run{}, fmt.Errorf("tracking store not initialized")
	}
	runID = strings.TrimSpace(runID)
	if runID == "" {
		return Run{}, fmt.Errorf("run id is required")
	}
	var (
		run        Run
		endedAt    sql.NullTime
		paramsJSON []byte
	)
	err := s.db.QueryRowContext(
		ctx,
		`SELECT run_id, experiment_name, status, started_at, ended_at, params, snapshot
		 FROM task_engine_runs
		 WHERE run_id = $1`,
		runID,
	).Scan(&run.ID, &run.Experiment, &run.Status, &run.StartedAt, &endedAt, &paramsJSON, &run.Snapshot)
	if errors.Is(err, sql.ErrNoRows) {
		return Run{}, ErrNotFound
	}
	if err != nil {
		return Run{}, fmt.Errorf("select run: %w", err)
	}
	if endedAt.Valid {
		t := endedAt.Time.UTC()
		run.EndedAt = &t
	}
	if len(paramsJSON) > 0 {
		if err := json.Unmarshal(paramsJSON, &run.Params); err != nil {
			return Run{}, fmt.Errorf("decode run params: %w", err)
		}
	}
	return run, nil
}

func (s *PostgresStore) UpdateStatus(ctx context.Context, runID, status string) error {
	if s == nil || s.db == nil {
		return fmt.Errorf("tracking store not initialized")
	}
	var endedAt sql.NullTime
	if isTerminalStatus(status) {
		endedAt = sql.NullTime{Time: time.Now().UTC(), Valid: true}
	}
	result, err := s.db.ExecContext(
		ctx,
		`UPDATE task_engine_runs
		 SET status = $2, ended_at = COALESCE($3, ended_at)
		 WHERE run_id = $1`,
		strings.TrimSpace(runID),
		status,
		endedAt,
	)
	if err != nil {
		return fmt.Errorf("update run status: %w", err)
	}
	return requireRow(result)
}

func (s *PostgresStore) SaveParameters(ctx context.Context, runID string, params map[string]any) error {
	if s == nil || s.db == nil {
		return fmt.Errorf("tracking store not initialized")
	}
	if params == nil {
		params = map[string]any{}
	}
	paramsJSON, err := json.Marshal(params)
	if err != nil {
		return fmt.Errorf("encode run params: %w", err)
	}
	result, err := s.db.ExecContext(
		ctx,
		`UPDATE task_engine_runs SET params = $2 WHERE run_id = $1`,
		strings.TrimSpace(runID),
		paramsJSON,
	)
	if err != nil {
		return fmt.Errorf("save run params: %w", err)
	}
	return requireRow(result)
}

func (s *PostgresStore) SaveSnapshot(ctx context.Context, runID string, snapshot []byte) error {
	if s == nil || s.db == nil {
		return fmt.Errorf("tracking store not initialized")
	}
	result, err := s.db.ExecContext(
		ctx,
		`UPDATE task_engine_runs SET snapshot = $2 WHERE run_id = $1`,
		strings.TrimSpace(runID),
		snapshot,
	)
	if err != nil {
		return fmt.Errorf("save run snapshot: %w", err)
	}
	return requireRow(result)
}

func requireRow(result sql.Result) error {
	affected, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return ErrNotFound
	}
	return nil
}
