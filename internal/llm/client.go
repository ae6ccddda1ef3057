// Package llm drafts task results through an LLM provider. The simulated
// backend uses it to produce assistant output for a run when an API key is
// configured; without one, runs fall back to scripted text.
package llm

import "context"

// DraftRequest asks a provider to draft a result for a task.
type DraftRequest struct {
	// System sets the agent's instructions. Empty uses the provider default.
	System string

	// Prompt is the task description being worked on.
	Prompt string

	// Model overrides the provider's default model when set.
	Model string

	// MaxTokens caps the draft length. Zero uses the provider default.
	MaxTokens int
}

// Draft is a completed draft with the usage the provider reported.
type Draft struct {
	Text      string
	Model     string
	TokensIn  int
	TokensOut int
}

// Client drafts task results.
type Client interface {
	// Complete drafts a result for the request.
	Complete(ctx context.Context, req *DraftRequest) (*Draft, error)

	// Name returns the provider name.
	Name() string
}

// defaultSystem is used when the request carries no instructions.
const defaultSystem = "You are an autonomous task agent. Produce a concise, " +
	"complete result for the task described by the user. Do not ask questions."

const defaultMaxTokens = 1024
