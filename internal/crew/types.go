// Package crew holds the crew configuration model and the sequential
// dispatcher that runs each configured agent against the remote
// completion service, in order, all-or-nothing.
package crew

// MaxAgents bounds a crew to at most this many agents per run.
const MaxAgents = 10

// AgentConfig is a named instruction record. Both fields are
// user-supplied and may be empty; no uniqueness is enforced.
type AgentConfig struct {
	Name         string `json:"name"`
	Instructions string `json:"instructions"`
}

// DispatchResult pairs an agent's configuration with its output. It is
// created once per agent after the remote call completes and never
// mutated.
type DispatchResult struct {
	Config AgentConfig `json:"config"`
	Output string      `json:"output"`
}

// RunRequest is one batch run: an ordered agent list plus the shared
// context string appended to every agent's prompt.
type RunRequest struct {
	Context string        `json:"context"`
	Agents  []AgentConfig `json:"agents"`
}

// Prompt builds an agent's prompt: its instructions with the shared
// context appended verbatim.
func Prompt(a AgentConfig, sharedContext string) string {
	return a.Instructions + "\n\nAdditional Context: " + sharedContext
}
