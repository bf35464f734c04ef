// Package llm is the gateway between the orchestrator and LLM providers.
// It routes (role, messages) calls to the configured provider, applies the
// circuit breaker gate and bounded retry, and records every attempt in the
// audit trail and on the experiment's event bus.
package llm

import (
	"context"

	"github.com/redloop-ai/redloop/pkg/models"
)

// MessageRole is a chat message role.
type MessageRole string

// Chat message roles.
const (
	RoleSystem    MessageRole = "system"
	RoleUser      MessageRole = "user"
	RoleAssistant MessageRole = "assistant"
)

// Message is one chat turn.
type Message struct {
	Role    MessageRole `json:"role"`
	Content string      `json:"content"`
}

// Options tunes a completion call. Nil fields use provider defaults.
type Options struct {
	Temperature *float64
	MaxTokens   int
	Stop        []string
	Seed        *int
}

// CompletionRequest is one logical gateway call. Provider and Model come
// from the experiment's per-role binding; ExperimentID and Iteration give
// the audit and event context and may be empty outside an experiment.
type CompletionRequest struct {
	Role     models.Role
	Provider string
	Model    string
	Messages []Message
	Options  Options

	ExperimentID string
	Iteration    int
}

// Usage is the provider-reported token accounting.
type Usage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

// CompletionResult is a normalized provider completion. LatencyMS is
// end-to-end for the logical call, retries included. Usage is nil when the
// provider did not report token counts.
type CompletionResult struct {
	Content      string
	Model        string
	Provider     string
	Usage        *Usage
	LatencyMS    int64
	FinishReason string
}

// Completer is the gateway surface the orchestrator, mutators and judge
// consume.
type Completer interface {
	Complete(ctx context.Context, req *CompletionRequest) (*CompletionResult, error)
}
