package mcpwire

import "context"

// LLM generates a completion for a prompt. How the completion is produced is
// outside this package; the interface is the boundary behind which any model
// provider can sit.
type LLM interface {
	Complete(ctx context.Context, prompt string) (string, error)
}

// Agent is the application-side reasoning abstraction a client may carry.
// The relationship is plain ownership, not subclassing: a Client owns an
// optional *Agent, and the Agent owns its LLM. The protocol layer never
// consults either; it only transports and correlates the calls the
// application decides to make.
type Agent struct {
	name string
	llm  LLM
}

// NewAgent creates an agent owning the given LLM.
func NewAgent(name string, llm LLM) *Agent {
	return &Agent{name: name, llm: llm}
}

// Name returns the agent's name.
func (a *Agent) Name() string { return a.name }

// LLM returns the model abstraction the agent owns.
func (a *Agent) LLM() LLM { return a.llm }
