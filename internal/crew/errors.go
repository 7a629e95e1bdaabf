package crew

import (
	"errors"
	"fmt"
)

var (
	// ErrMissingCredential means no API credential is set; no remote
	// call is attempted.
	ErrMissingCredential = errors.New("no API credential configured")

	// ErrRunInFlight means a batch run is already executing. Concurrent
	// runs are rejected rather than queued or raced.
	ErrRunInFlight = errors.New("a crew run is already in flight")

	ErrNoAgents      = errors.New("at least one agent is required")
	ErrTooManyAgents = errors.New("at most 10 agents per run")
)

// ServiceError is a failed remote round-trip for one agent. It aborts
// the whole batch; no distinction is made between network,
// authentication, and model-side failures.
type ServiceError struct {
	AgentIndex int
	AgentName  string
	Err        error
}

func (e *ServiceError) Error() string {
	return fmt.Sprintf("agent %d (%s): %v", e.AgentIndex+1, e.AgentName, e.Err)
}

func (e *ServiceError) Unwrap() error {
	return e.Err
}
