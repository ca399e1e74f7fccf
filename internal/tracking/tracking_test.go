package tracking

import (
	"context"
	"errors"
	"reflect"
	"testing"
)

func TestMemoryStoreLifecycle(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()

	run, err := store.CreateRun(ctx, " mnist ")
	if err != nil {
		t.Fatalf("CreateRun: %v", err)
	}
	if run.ID == "" {
		t.Fatal("run id is empty")
	}
	if run.Experiment != "mnist" {
		t.Fatalf("experiment = %q, want mnist", run.Experiment)
	}
	if run.Status != StatusStarted {
		t.Fatalf("status = %q, want started", run.Status)
	}
	if run.EndedAt != nil {
		t.Fatal("new run already ended")
	}

	params := map[string]any{"epochs": 30}
	if err := store.SaveParameters(ctx, run.ID, params); err != nil {
		t.Fatalf("SaveParameters: %v", err)
	}
	if err := store.SaveSnapshot(ctx, run.ID, []byte("snapshot")); err != nil {
		t.Fatalf("SaveSnapshot: %v", err)
	}
	if err := store.UpdateStatus(ctx, run.ID, StatusCompleted); err != nil {
		t.Fatalf("UpdateStatus: %v", err)
	}

	got, err := store.GetRun(ctx, run.ID)
	if err != nil {
		t.Fatalf("GetRun: %v", err)
	}
	if got.Status != StatusCompleted {
		t.Fatalf("status = %q, want completed", got.Status)
	}
	if got.EndedAt == nil {
		t.Fatal("terminal status did not set EndedAt")
	}
	if !reflect.DeepEqual(got.Params, params) {
		t.Fatalf("params = %v, want %v", got.Params, params)
	}
	if string(got.Snapshot) != "snapshot" {
		t.Fatalf("snapshot = %q", got.Snapshot)
	}
}

func TestMemoryStoreNonTerminalStatusKeepsRunOpen(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	run, err := store.CreateRun(ctx, "exp")
	if err != nil {
		t.Fatalf("CreateRun: %v", err)
	}
	if err := store.UpdateStatus(ctx, run.ID, StatusStopping); err != nil {
		t.Fatalf("UpdateStatus: %v", err)
	}
	got, err := store.GetRun(ctx, run.ID)
	if err != nil {
		t.Fatalf("GetRun: %v", err)
	}
	if got.EndedAt != nil {
		t.Fatal("stopping is not terminal but EndedAt is set")
	}
}

func TestMemoryStoreUnknownRun(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	if _, err := store.GetRun(ctx, "nope"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("GetRun err = %v, want ErrNotFound", err)
	}
	if err := store.UpdateStatus(ctx, "nope", StatusFailed); !errors.Is(err, ErrNotFound) {
		t.Fatalf("UpdateStatus err = %v, want ErrNotFound", err)
	}
	if err := store.SaveParameters(ctx, "nope", nil); !errors.Is(err, ErrNotFound) {
		t.Fatalf("SaveParameters err = %v, want ErrNotFound", err)
	}
	if err := store.SaveSnapshot(ctx, "nope", nil); !errors.Is(err, ErrNotFound) {
		t.Fatalf("SaveSnapshot err = %v, want ErrNotFound", err)
	}
}

func TestRecorderForwardsToStore(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	run, err := store.CreateRun(ctx, "exp")
	if err != nil {
		t.Fatalf("CreateRun: %v", err)
	}

	rec := NewRecorder(store, run.ID)
	if err := rec.LogParameters(ctx, map[string]any{"n": 1}); err != nil {
		t.Fatalf("LogParameters: %v", err)
	}
	if err := rec.LogSnapshot(ctx, []byte("doc")); err != nil {
		t.Fatalf("LogSnapshot: %v", err)
	}
	if err := rec.LogStatus(ctx, StatusFailed); err != nil {
		t.Fatalf("LogStatus: %v", err)
	}

	got, err := store.GetRun(ctx, run.ID)
	if err != nil {
		t.Fatalf("GetRun: %v", err)
	}
	if got.Status != StatusFailed || got.Params["n"] != 1 || string(got.Snapshot) != "doc" {
		t.Fatalf("run = %+v", got)
	}
}

func TestShouldStop(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	run, err := store.CreateRun(ctx, "exp")
	if err != nil {
		t.Fatalf("CreateRun: %v", err)
	}

	pred := ShouldStop(store, run.ID)
	stop, err := pred(ctx)
	if err != nil || stop {
		t.Fatalf("pred = (%v, %v), want (false, nil)", stop, err)
	}

	if err := store.UpdateStatus(ctx, run.ID, StatusStopping); err != nil {
		t.Fatalf("UpdateStatus: %v", err)
	}
	stop, err = pred(ctx)
	if err != nil || !stop {
		t.Fatalf("pred = (%v, %v), want (true, nil)", stop, err)
	}

	if _, err := ShouldStop(store, "nope")(ctx); !errors.Is(err, ErrNotFound) {
		t.Fatalf("unknown run pred err = %v, want ErrNotFound", err)
	}
}

func TestIsTerminalStatus(t *testing.T) {
	terminal := map[string]bool{
		StatusCompleted: true,
		StatusFailed:    true,
		StatusStopped:   true,
		StatusStarted:   false,
		StatusStopping:  false,
	}
	for status, want := range terminal {
		if got := isTerminalStatus(status); got != want {
			t.Errorf("isTerminalStatus(%q) = %v, want %v", status, got, want)
		}
	}
}
