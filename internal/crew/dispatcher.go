package crew

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/crewdeck/crewdeck/internal/bus"
	"github.com/crewdeck/crewdeck/internal/report"
	"github.com/crewdeck/crewdeck/internal/store"
	"github.com/crewdeck/crewdeck/internal/vault"
)

// Completer is one blocking round-trip to the remote completion service.
type Completer interface {
	Complete(ctx context.Context, prompt string) (string, error)
}

// ClientFactory constructs a service handle bound to a credential. The
// credential is resolved from the vault at run start, so the factory is
// called once per batch run.
type ClientFactory func(apiKey string) Completer

// Dispatcher runs a crew sequentially: one remote call per agent, in
// input order, aborting the whole batch on the first failure. At most
// one run is in flight at a time.
type Dispatcher struct {
	store     *store.Store
	events    *bus.Client
	vault     *vault.Vault
	newClient ClientFactory

	mu       sync.Mutex
	inFlight bool
	sealed   *vault.Sealed
}

func NewDispatcher(s *store.Store, events *bus.Client, v *vault.Vault, newClient ClientFactory) *Dispatcher {
	return &Dispatcher{
		store:     s,
		events:    events,
		vault:     v,
		newClient: newClient,
	}
}

// SetCredential seals the session API key in the vault. An empty key
// clears it. The credential is never persisted.
func (d *Dispatcher) SetCredential(apiKey string) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if apiKey == "" {
		d.sealed = nil
		return nil
	}

	sealed, err := d.vault.Seal([]byte(apiKey))
	if err != nil {
		return err
	}
	d.sealed = sealed
	return nil
}

func (d *Dispatcher) HasCredential() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.sealed != nil
}

func (d *Dispatcher) InFlight() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.inFlight
}

// StartRun validates the request, records the run, and executes the
// batch in the background. It fails fast, before any remote call, when
// the credential is missing, the agent count is out of bounds, or a run
// is already in flight.
func (d *Dispatcher) StartRun(req RunRequest) (*store.Run, error) {
	if len(req.Agents) == 0 {
		return nil, ErrNoAgents
	}
	if len(req.Agents) > MaxAgents {
		return nil, ErrTooManyAgents
	}

	d.mu.Lock()
	if d.sealed == nil {
		d.mu.Unlock()
		return nil, ErrMissingCredential
	}
	if d.inFlight {
		d.mu.Unlock()
		return nil, ErrRunInFlight
	}
	d.inFlight = true
	sealed := d.sealed
	d.mu.Unlock()

	agentsJSON, _ := json.Marshal(req.Agents)
	run := &store.Run{
		ID:        uuid.New().String(),
		Status:    "running",
		Context:   req.Context,
		Agents:    agentsJSON,
		StartedAt: time.Now().UTC(),
	}

	if err := d.store.SaveRun(run); err != nil {
		d.mu.Lock()
		d.inFlight = false
		d.mu.Unlock()
		return nil, err
	}

	d.publishEvent(run.ID, "run_started", map[string]any{
		"agents": len(req.Agents),
	})

	// Background context: the run outlives the HTTP request that
	// started it, and there is no cancellation once a batch begins.
	go d.execute(context.Background(), req, run.ID, sealed)

	return run, nil
}

func (d *Dispatcher) execute(ctx context.Context, req RunRequest, runID string, sealed *vault.Sealed) {
	defer func() {
		d.mu.Lock()
		d.inFlight = false
		d.mu.Unlock()
	}()

	slog.Info("starting crew run", "id", runID, "agents", len(req.Agents))

	apiKey, err := d.vault.Open(sealed)
	if err != nil {
		d.failRun(runID, err)
		return
	}
	client := d.newClient(string(apiKey))

	results, err := d.Dispatch(ctx, client, req, runID)
	if err != nil {
		d.failRun(runID, err)
		return
	}

	entries := make([]report.Entry, len(results))
	for i, r := range results {
		entries[i] = report.Entry{
			Name:         r.Config.Name,
			Instructions: r.Config.Instructions,
			Output:       r.Output,
		}
	}
	text := report.Build(req.Context, entries, time.Now())

	resultsJSON, _ := json.Marshal(results)
	if err := d.store.CompleteRun(runID, resultsJSON, text); err != nil {
		slog.Error("failed to record completed run", "id", runID, "error", err)
	}

	d.publishEvent(runID, "run_completed", map[string]any{
		"results_count": len(results),
	})
	slog.Info("crew run finished", "id", runID, "results", len(results))
}

// Dispatch iterates the agents in order, one blocking completion call
// each. On any failure the remaining agents are skipped and the partial
// results are discarded.
func (d *Dispatcher) Dispatch(ctx context.Context, client Completer, req RunRequest, runID string) ([]DispatchResult, error) {
	results := make([]DispatchResult, 0, len(req.Agents))
	for i, a := range req.Agents {
		d.publishEvent(runID, "agent_started", map[string]any{
			"index": i,
			"name":  a.Name,
		})

		output, err := client.Complete(ctx, Prompt(a, req.Context))
		if err != nil {
			return nil, &ServiceError{AgentIndex: i, AgentName: a.Name, Err: err}
		}
		results = append(results, DispatchResult{Config: a, Output: output})

		d.publishEvent(runID, "agent_completed", map[string]any{
			"index":   i,
			"name":    a.Name,
			"preview": truncate(output, 200),
		})
	}
	return results, nil
}

func (d *Dispatcher) failRun(runID string, err error) {
	slog.Error("crew run failed", "id", runID, "error", err)
	if dbErr := d.store.FailRun(runID, err.Error()); dbErr != nil {
		slog.Error("failed to record failed run", "id", runID, "error", dbErr)
	}
	d.publishEvent(runID, "run_failed", map[string]any{
		"error": err.Error(),
	})
}

func (d *Dispatcher) publishEvent(runID, eventType string, data map[string]any) {
	if d.events == nil {
		return
	}

	event := map[string]any{
		"type":      eventType,
		"run_id":    runID,
		"timestamp": time.Now().UTC().Format(time.RFC3339),
		"data":      data,
	}
	if err := d.events.PublishJSON(bus.TopicRunEvents(runID), event); err != nil {
		slog.Warn("failed to publish run event", "run", runID, "type", eventType, "error", err)
	}
}

func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max] + "..."
}
