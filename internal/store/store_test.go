package store

import (
	"encoding/json"
	"path/filepath"
	"testing"

	"github.com/crewdeck/crewdeck/internal/config"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := New(config.StoreConfig{Path: ":memory:"})
	if err != nil {
		t.Fatalf("failed to create store: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestRunCRUD(t *testing.T) {
	s := newTestStore(t)

	agents, _ := json.Marshal([]map[string]string{{"name": "Researcher", "instructions": "Summarize X"}})
	run := &Run{
		ID:      "run-1",
		Status:  "running",
		Context: "focus on Q3",
		Agents:  agents,
	}

	if err := s.SaveRun(run); err != nil {
		t.Fatalf("save run: %v", err)
	}

	got, err := s.GetRun("run-1")
	if err != nil {
		t.Fatalf("get run: %v", err)
	}
	if got == nil {
		t.Fatal("expected run, got nil")
	}
	if got.Status != "running" {
		t.Errorf("expected status 'running', got '%s'", got.Status)
	}
	if got.Context != "focus on Q3" {
		t.Errorf("expected context 'focus on Q3', got '%s'", got.Context)
	}

	// Not found
	got, err = s.GetRun("nonexistent")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got != nil {
		t.Error("expected nil for nonexistent run")
	}

	// List
	runs, err := s.ListRuns()
	if err != nil {
		t.Fatalf("list runs: %v", err)
	}
	if len(runs) != 1 {
		t.Errorf("expected 1 run, got %d", len(runs))
	}

	// Delete
	if err := s.DeleteRun("run-1"); err != nil {
		t.Fatalf("delete run: %v", err)
	}
	runs, _ = s.ListRuns()
	if len(runs) != 0 {
		t.Errorf("expected 0 runs after delete, got %d", len(runs))
	}
}

func TestCompleteRun(t *testing.T) {
	s := newTestStore(t)

	agents, _ := json.Marshal([]map[string]string{{"name": "a"}})
	_ = s.SaveRun(&Run{ID: "run-1", Status: "running", Context: "", Agents: agents})

	results, _ := json.Marshal([]map[string]string{{"output": "done"}})
	if err := s.CompleteRun("run-1", results, "REPORT TEXT"); err != nil {
		t.Fatalf("complete run: %v", err)
	}

	got, _ := s.GetRun("run-1")
	if got.Status != "completed" {
		t.Errorf("expected status 'completed', got '%s'", got.Status)
	}
	if got.Report != "REPORT TEXT" {
		t.Errorf("expected report text, got '%s'", got.Report)
	}
	if got.CompletedAt == nil {
		t.Error("expected completed_at to be set")
	}
}

func TestFailRunDiscardsResults(t *testing.T) {
	s := newTestStore(t)

	agents, _ := json.Marshal([]map[string]string{{"name": "a"}})
	_ = s.SaveRun(&Run{ID: "run-1", Status: "running", Context: "", Agents: agents})

	if err := s.FailRun("run-1", "remote call failed"); err != nil {
		t.Fatalf("fail run: %v", err)
	}

	got, _ := s.GetRun("run-1")
	if got.Status != "failed" {
		t.Errorf("expected status 'failed', got '%s'", got.Status)
	}
	if got.Error != "remote call failed" {
		t.Errorf("expected error message, got '%s'", got.Error)
	}
	if len(got.Results) != 0 {
		t.Errorf("expected no results on a failed run, got %s", got.Results)
	}
	if got.Report != "" {
		t.Error("expected no report on a failed run")
	}
}

func TestFileBackedStore(t *testing.T) {
	dir := t.TempDir()
	s, err := New(config.StoreConfig{Path: filepath.Join(dir, "crewdeck.db")})
	if err != nil {
		t.Fatalf("failed to create file store: %v", err)
	}
	defer s.Close()

	agents, _ := json.Marshal([]map[string]string{{"name": "a"}})
	if err := s.SaveRun(&Run{ID: "run-1", Status: "running", Context: "c", Agents: agents}); err != nil {
		t.Fatalf("save run: %v", err)
	}
	got, err := s.GetRun("run-1")
	if err != nil || got == nil {
		t.Fatalf("get run: %v", err)
	}
}
