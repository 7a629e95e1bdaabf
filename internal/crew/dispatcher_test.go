package crew

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync/atomic"
	"testing"
	"time"

	"github.com/crewdeck/crewdeck/internal/config"
	"github.com/crewdeck/crewdeck/internal/store"
	"github.com/crewdeck/crewdeck/internal/vault"
)

type completerFunc func(ctx context.Context, prompt string) (string, error)

func (f completerFunc) Complete(ctx context.Context, prompt string) (string, error) {
	return f(ctx, prompt)
}

// echoCompleter returns the prompt unchanged, like the stub service in
// the dispatch contract.
func echoCompleter() Completer {
	return completerFunc(func(_ context.Context, prompt string) (string, error) {
		return prompt, nil
	})
}

func newTestDispatcher(t *testing.T, client Completer) *Dispatcher {
	t.Helper()
	s, err := store.New(config.StoreConfig{Path: ":memory:"})
	if err != nil {
		t.Fatalf("create store: %v", err)
	}
	t.Cleanup(func() { s.Close() })

	v, err := vault.New("test")
	if err != nil {
		t.Fatalf("create vault: %v", err)
	}

	d := NewDispatcher(s, nil, v, func(string) Completer { return client })
	if err := d.SetCredential("gsk-test"); err != nil {
		t.Fatalf("set credential: %v", err)
	}
	return d
}

func waitForStatus(t *testing.T, d *Dispatcher, runID string, want string) *store.Run {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		run, err := d.store.GetRun(runID)
		if err != nil {
			t.Fatalf("get run: %v", err)
		}
		if run != nil && run.Status == want {
			return run
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for run %s to become %s", runID, want)
	return nil
}

func agents(n int) []AgentConfig {
	out := make([]AgentConfig, n)
	for i := range out {
		out[i] = AgentConfig{
			Name:         fmt.Sprintf("agent-%d", i+1),
			Instructions: fmt.Sprintf("instructions-%d", i+1),
		}
	}
	return out
}

func TestDispatchOrderAndPairing(t *testing.T) {
	for n := 1; n <= MaxAgents; n++ {
		d := newTestDispatcher(t, echoCompleter())
		req := RunRequest{Context: "shared", Agents: agents(n)}

		results, err := d.Dispatch(context.Background(), echoCompleter(), req, "run-1")
		if err != nil {
			t.Fatalf("n=%d: unexpected error: %v", n, err)
		}
		if len(results) != n {
			t.Fatalf("n=%d: expected %d results, got %d", n, n, len(results))
		}
		for i, r := range results {
			if r.Config != req.Agents[i] {
				t.Errorf("n=%d: result %d paired with wrong config: %+v", n, i, r.Config)
			}
			want := fmt.Sprintf("instructions-%d\n\nAdditional Context: shared", i+1)
			if r.Output != want {
				t.Errorf("n=%d: result %d output %q, want %q", n, i, r.Output, want)
			}
		}
	}
}

func TestPromptConcatenation(t *testing.T) {
	a := AgentConfig{Name: "Researcher", Instructions: "Summarize X"}
	want := "Summarize X\n\nAdditional Context: focus on Q3"
	if got := Prompt(a, "focus on Q3"); got != want {
		t.Errorf("expected %q, got %q", want, got)
	}
}

func TestDispatchAbortsOnFailure(t *testing.T) {
	var calls atomic.Int32
	failing := completerFunc(func(_ context.Context, prompt string) (string, error) {
		if calls.Add(1) == 2 {
			return "", errors.New("service unavailable")
		}
		return prompt, nil
	})
	d := newTestDispatcher(t, failing)

	results, err := d.Dispatch(context.Background(), failing, RunRequest{Agents: agents(5)}, "run-1")
	if err == nil {
		t.Fatal("expected error when the second call fails")
	}
	if results != nil {
		t.Errorf("expected no partial results, got %d", len(results))
	}

	var svcErr *ServiceError
	if !errors.As(err, &svcErr) {
		t.Fatalf("expected *ServiceError, got %T", err)
	}
	if svcErr.AgentIndex != 1 || svcErr.AgentName != "agent-2" {
		t.Errorf("service error points at wrong agent: %+v", svcErr)
	}

	// Remaining calls were skipped: exactly 2 round-trips happened.
	if got := calls.Load(); got != 2 {
		t.Errorf("expected 2 calls, got %d", got)
	}
}

func TestDispatchIdempotent(t *testing.T) {
	d := newTestDispatcher(t, echoCompleter())
	req := RunRequest{Context: "ctx", Agents: agents(3)}

	first, err := d.Dispatch(context.Background(), echoCompleter(), req, "run-1")
	if err != nil {
		t.Fatalf("first dispatch: %v", err)
	}
	second, err := d.Dispatch(context.Background(), echoCompleter(), req, "run-2")
	if err != nil {
		t.Fatalf("second dispatch: %v", err)
	}

	if len(first) != len(second) {
		t.Fatalf("result lengths differ: %d vs %d", len(first), len(second))
	}
	for i := range first {
		if first[i] != second[i] {
			t.Errorf("result %d differs between runs: %+v vs %+v", i, first[i], second[i])
		}
	}
}

func TestStartRunMissingCredential(t *testing.T) {
	var calls atomic.Int32
	counting := completerFunc(func(_ context.Context, prompt string) (string, error) {
		calls.Add(1)
		return prompt, nil
	})
	d := newTestDispatcher(t, counting)
	if err := d.SetCredential(""); err != nil {
		t.Fatalf("clear credential: %v", err)
	}

	_, err := d.StartRun(RunRequest{Agents: agents(1)})
	if !errors.Is(err, ErrMissingCredential) {
		t.Fatalf("expected ErrMissingCredential, got %v", err)
	}
	if calls.Load() != 0 {
		t.Errorf("expected zero remote calls, got %d", calls.Load())
	}
}

func TestStartRunBounds(t *testing.T) {
	d := newTestDispatcher(t, echoCompleter())

	if _, err := d.StartRun(RunRequest{}); !errors.Is(err, ErrNoAgents) {
		t.Errorf("expected ErrNoAgents, got %v", err)
	}
	if _, err := d.StartRun(RunRequest{Agents: agents(MaxAgents + 1)}); !errors.Is(err, ErrTooManyAgents) {
		t.Errorf("expected ErrTooManyAgents, got %v", err)
	}
}

func TestStartRunRejectsConcurrent(t *testing.T) {
	release := make(chan struct{})
	blocking := completerFunc(func(_ context.Context, prompt string) (string, error) {
		<-release
		return prompt, nil
	})
	d := newTestDispatcher(t, blocking)

	run, err := d.StartRun(RunRequest{Agents: agents(1)})
	if err != nil {
		t.Fatalf("first run: %v", err)
	}

	if _, err := d.StartRun(RunRequest{Agents: agents(1)}); !errors.Is(err, ErrRunInFlight) {
		t.Fatalf("expected ErrRunInFlight, got %v", err)
	}

	close(release)
	waitForStatus(t, d, run.ID, "completed")

	// A new run is accepted once the previous one finished.
	release = make(chan struct{})
	close(release)
	if _, err := d.StartRun(RunRequest{Agents: agents(1)}); err != nil {
		t.Fatalf("run after completion: %v", err)
	}
}

func TestStartRunCompletesWithReport(t *testing.T) {
	d := newTestDispatcher(t, echoCompleter())
	req := RunRequest{
		Context: "focus on Q3",
		Agents:  []AgentConfig{{Name: "Researcher", Instructions: "Summarize X"}},
	}

	run, err := d.StartRun(req)
	if err != nil {
		t.Fatalf("start run: %v", err)
	}

	done := waitForStatus(t, d, run.ID, "completed")

	var results []DispatchResult
	if err := json.Unmarshal(done.Results, &results); err != nil {
		t.Fatalf("unmarshal results: %v", err)
	}
	if len(results) != 1 {
		t.Fatalf("expected 1 result, got %d", len(results))
	}
	if results[0].Output != "Summarize X\n\nAdditional Context: focus on Q3" {
		t.Errorf("unexpected output: %q", results[0].Output)
	}
	if done.Report == "" {
		t.Error("expected report to be stored on completion")
	}
}

func TestStartRunFailureDiscardsResults(t *testing.T) {
	failing := completerFunc(func(_ context.Context, _ string) (string, error) {
		return "", errors.New("boom")
	})
	d := newTestDispatcher(t, failing)

	run, err := d.StartRun(RunRequest{Agents: agents(3)})
	if err != nil {
		t.Fatalf("start run: %v", err)
	}

	done := waitForStatus(t, d, run.ID, "failed")
	if len(done.Results) != 0 {
		t.Errorf("expected no results, got %s", done.Results)
	}
	if done.Error == "" {
		t.Error("expected failure message to be recorded")
	}
	if d.InFlight() {
		t.Error("expected in-flight flag to clear after failure")
	}
}
