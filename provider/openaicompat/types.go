// Package openaicompat implements the chat client over the OpenAI
// chat-completions wire protocol, which vLLM, llama.cpp, LM Studio, and the
// hosted APIs all speak.
package openaicompat

import (
	"encoding/json"

	taskforce "github.com/nevindra/taskforce"
)

// chatRequest is the wire request body for POST /chat/completions.
type chatRequest struct {
	Model       string    `json:"model"`
	Messages    []message `json:"messages"`
	Tools       []tool    `json:"tools,omitempty"`
	Temperature *float64  `json:"temperature,omitempty"`
	TopP        *float64  `json:"top_p,omitempty"`
	MaxTokens   int       `json:"max_tokens,omitempty"`
}

// message is one wire-format conversation turn.
type message struct {
	Role       string     `json:"role"`
	Content    string     `json:"content"`
	ToolCalls  []toolCall `json:"tool_calls,omitempty"`
	ToolCallID string     `json:"tool_call_id,omitempty"`
}

// tool wraps a function definition the way the wire protocol expects.
type tool struct {
	Type     string       `json:"type"` // always "function"
	Function toolFunction `json:"function"`
}

type toolFunction struct {
	Name        string          `json:"name"`
	Description string          `json:"description,omitempty"`
	Parameters  json.RawMessage `json:"parameters,omitempty"`
}

// toolCall is a model-requested function invocation; Arguments is a JSON
// string, not an object.
type toolCall struct {
	ID       string       `json:"id,omitempty"`
	Type     string       `json:"type,omitempty"`
	Function functionCall `json:"function"`
}

type functionCall struct {
	Name      string `json:"name"`
	Arguments string `json:"arguments"`
}

// chatResponse is the wire response body.
type chatResponse struct {
	Choices []choice `json:"choices"`
	Error   *apiErr  `json:"error,omitempty"`
}

type choice struct {
	Message struct {
		Content   string     `json:"content"`
		ToolCalls []toolCall `json:"tool_calls,omitempty"`
	} `json:"message"`
	FinishReason string `json:"finish_reason"`
}

type apiErr struct {
	Message string `json:"message"`
	Type    string `json:"type"`
}

// buildBody converts the engine request into the wire body.
func buildBody(model string, req taskforce.ChatRequest) chatRequest {
	body := chatRequest{
		Model:       model,
		Temperature: req.Temperature,
		TopP:        req.TopP,
		MaxTokens:   req.MaxTokens,
	}
	for _, m := range req.Messages {
		wm := message{Role: m.Role, Content: m.Content, ToolCallID: m.ToolCallID}
		for _, tc := range m.ToolCalls {
			args, err := json.Marshal(tc.Arguments)
			if err != nil {
				args = []byte("{}")
			}
			wm.ToolCalls = append(wm.ToolCalls, toolCall{
				ID:   tc.CallID,
				Type: "function",
				Function: functionCall{
					Name:      tc.ToolName,
					Arguments: string(args),
				},
			})
		}
		body.Messages = append(body.Messages, wm)
	}
	for _, td := range req.Tools {
		body.Tools = append(body.Tools, tool{
			Type: "function",
			Function: toolFunction{
				Name:        td.Name,
				Description: td.Description,
				Parameters:  td.Parameters,
			},
		})
	}
	return body
}

// parseResponse converts a wire response into the engine shape. Tool-call
// arguments that fail to parse as JSON become {"_raw": <text>} rather than
// an error; the engine's gates handle them.
func parseResponse(resp chatResponse) taskforce.LLMResponse {
	if len(resp.Choices) == 0 {
		return taskforce.LLMResponse{}
	}
	msg := resp.Choices[0].Message
	out := taskforce.LLMResponse{Content: msg.Content}
	for _, tc := range msg.ToolCalls {
		out.ToolCalls = append(out.ToolCalls, taskforce.ToolCallRequest{
			CallID:    tc.ID,
			ToolName:  tc.Function.Name,
			Arguments: parseArgs(tc.Function.Arguments),
		})
	}
	return out
}

func parseArgs(raw string) map[string]any {
	if raw == "" {
		return map[string]any{}
	}
	var args map[string]any
	if err := json.Unmarshal([]byte(raw), &args); err != nil || args == nil {
		return map[string]any{taskforce.RawArgsKey: raw}
	}
	return args
}
