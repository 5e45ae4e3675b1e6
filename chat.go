package taskforce

import "context"

// ChatRequest is one chat-completion call: the running transcript plus the
// tool surface and sampling parameters for this turn.
type ChatRequest struct {
	Messages    []ChatMessage
	Model       string // overrides the client's default model when non-empty
	Tools       []ToolDefinition
	Temperature *float64
	TopP        *float64
	MaxTokens   int
}

// ChatClient abstracts the LLM backend.
type ChatClient interface {
	// Chat sends a request and returns the complete response. Transport
	// failures, non-2xx statuses, and read timeouts return errors of kind
	// llm_transport. Malformed tool-call argument JSON never errors; it
	// surfaces as a {"_raw": text} argument map on the response.
	Chat(ctx context.Context, req ChatRequest) (LLMResponse, error)
	// Name identifies the backend, e.g. "openai-compat" or "ollama".
	Name() string
}

// Temp returns a pointer to t, for ChatRequest sampling fields.
func Temp(t float64) *float64 { return &t }
