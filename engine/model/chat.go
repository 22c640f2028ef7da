// Package model provides the LLM chat adapter used by the engine's agent
// step executor. It abstracts over provider SDKs so the executor can issue
// a single Chat call regardless of which provider a workflow configures.
package model

import "context"

// ChatModel is implemented by each provider adapter (openai, anthropic,
// google) and by MockChatModel for tests.
type ChatModel interface {
	// Chat sends messages to the provider and returns its response.
	// Implementations must respect ctx cancellation and translate
	// provider-specific errors into plain Go errors.
	Chat(ctx context.Context, messages []Message, tools []ToolSpec) (ChatOut, error)
}

// Message is one turn in a conversation.
type Message struct {
	Role    string
	Content string
}

// Standard roles, shared across providers.
const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// ToolSpec describes a callable tool offered to the model, in JSON Schema form.
type ToolSpec struct {
	Name        string
	Description string
	Schema      map[string]any
}

// ChatOut is a provider's response: generated text, requested tool calls, or both.
type ChatOut struct {
	Text      string
	ToolCalls []ToolCall
}

// ToolCall is one tool invocation requested by the model.
type ToolCall struct {
	Name  string
	Input map[string]any
}
