package taskforce

import "encoding/json"

// --- Task & plan types ---

// DefaultModelKey selects the model used when a Task does not name one.
const DefaultModelKey = "quality"

// Task is a single natural-language request submitted to the orchestrator.
type Task struct {
	// Prompt is the natural language task description.
	Prompt string `json:"prompt"`
	// SpecialistID, when set, bypasses recruitment and routes the task
	// directly to the named specialist.
	SpecialistID string `json:"specialist_id,omitempty"`
	// ModelKey selects a configured model tier (e.g. "fast", "quality").
	// Empty means DefaultModelKey.
	ModelKey string `json:"model_key,omitempty"`
	// NetworkAllowed controls registration of network-bearing tools
	// (web search, browser). It does not enforce OS-level isolation.
	NetworkAllowed bool `json:"network_allowed,omitempty"`
}

// Task force execution modes.
const (
	ModeSequential = "sequential"
	ModeParallel   = "parallel"
)

// Routing methods recorded on an OrchestrationPlan, in fallback order.
const (
	RoutingOrchestrator    = "orchestrator"
	RoutingLLM             = "llm_routing"
	RoutingKeyword         = "keyword_routing"
	RoutingKeywordFallback = "keyword_fallback"
	RoutingExplicit        = "explicit"
)

// Assignment pairs a specialist with its per-specialist sub-task.
type Assignment struct {
	SpecialistID string `json:"specialist_id"`
	Brief        string `json:"brief,omitempty"`
}

// OrchestrationPlan is the recruiter's output: which specialists run, in what
// mode, and whether their payloads need an LLM synthesis pass.
// Plans with two or more assignments always carry SynthesisRequired=true;
// single-specialist plans always run sequentially.
type OrchestrationPlan struct {
	Assignments          []Assignment `json:"assignments"`
	Mode                 string       `json:"mode"`
	SynthesisRequired    bool         `json:"synthesis_required"`
	Reasoning            string       `json:"reasoning,omitempty"`
	RoutingMethod        string       `json:"routing_method"`
	RequiredCapabilities []string     `json:"required_capabilities,omitempty"`
}

// SpecialistIDs returns the assigned specialist ids in plan order.
func (p *OrchestrationPlan) SpecialistIDs() []string {
	ids := make([]string, len(p.Assignments))
	for i, a := range p.Assignments {
		ids[i] = a.SpecialistID
	}
	return ids
}

// --- LLM protocol types ---

// ChatMessage is one conversational turn. The engine appends messages in
// place during a pack loop; a message is never rewritten once appended.
type ChatMessage struct {
	Role       string            `json:"role"` // "system", "user", "assistant", "tool"
	Content    string            `json:"content"`
	ToolCalls  []ToolCallRequest `json:"tool_calls,omitempty"`
	ToolCallID string            `json:"tool_call_id,omitempty"`
}

// ToolCallRequest is a model-requested tool invocation. Arguments that fail
// to decode as JSON are wrapped as {"_raw": <original text>} so the engine's
// gate logic sees a uniform shape.
type ToolCallRequest struct {
	CallID    string         `json:"call_id"`
	ToolName  string         `json:"tool_name"`
	Arguments map[string]any `json:"arguments"`
}

// RawArgsKey marks tool arguments that arrived as unparseable JSON.
const RawArgsKey = "_raw"

// HasRawArgs reports whether the arguments carry the malformed-JSON marker.
func (tc ToolCallRequest) HasRawArgs() bool {
	_, ok := tc.Arguments[RawArgsKey]
	return ok
}

// LLMResponse is the engine-facing result of one chat completion.
type LLMResponse struct {
	Content   string            `json:"content,omitempty"`
	ToolCalls []ToolCallRequest `json:"tool_calls,omitempty"`
}

// HasToolCalls reports whether the response requested any tool invocations.
func (r *LLMResponse) HasToolCalls() bool { return len(r.ToolCalls) > 0 }

// ToolDefinition describes one callable tool in JSON Schema form.
type ToolDefinition struct {
	Name        string          `json:"name"`
	Description string          `json:"description"`
	Parameters  json.RawMessage `json:"parameters"` // JSON Schema
}

// --- Run records ---

// EventKind identifies a run-log event. The set is closed: every event the
// engine or coordinator emits uses one of these kinds. Readers pass unknown
// kinds through untouched.
type EventKind string

const (
	EventRecruitment        EventKind = "recruitment"
	EventOrchestrationPlan  EventKind = "orchestration_plan"
	EventPackStart          EventKind = "pack_start"
	EventTaskForceParallel  EventKind = "task_force_parallel"
	EventLLMRequest         EventKind = "llm_request"
	EventLLMResponse        EventKind = "llm_response"
	EventToolCall           EventKind = "tool_call"
	EventToolResult         EventKind = "tool_result"
	EventToolError          EventKind = "tool_error"
	EventSecurity           EventKind = "security_event"
	EventCorrectiveReprompt EventKind = "corrective_reprompt"
	EventLoopDetected       EventKind = "loop_detected"
	EventQualityGateFailed  EventKind = "quality_gate_failed"
	EventCloudFallback      EventKind = "cloud_fallback"
	EventSynthesisComplete  EventKind = "synthesis_complete"
	EventRunComplete        EventKind = "run_complete"
)

// RunEvent is one line of the append-only run log.
type RunEvent struct {
	TS      float64        `json:"ts"`
	Kind    EventKind      `json:"kind"`
	Step    string         `json:"step,omitempty"`
	Payload map[string]any `json:"payload"`
}

// RunResult is the structured outcome of a run. Payload always carries
// action="final", even when the run ended without a finish_task payload.
type RunResult struct {
	RunID                string         `json:"run_id"`
	RunDir               string         `json:"run_dir"`
	WorkspacePath        string         `json:"workspace_path"`
	SpecialistID         string         `json:"specialist_id"` // primary = first assigned
	SpecialistIDs        []string       `json:"specialist_ids"`
	ModelName            string         `json:"model_name"`
	Payload              map[string]any `json:"payload"`
	RequiredCapabilities []string       `json:"required_capabilities,omitempty"`
}

// RunCheckpoint snapshots in-flight task-force state so an interrupted run
// can resume from the next uncompleted specialist. Written atomically after
// each specialist completes; deleted when the run finishes.
type RunCheckpoint struct {
	RunID                string                    `json:"run_id"`
	RunDir               string                    `json:"run_dir"`
	WorkspacePath        string                    `json:"workspace_path"`
	TaskPrompt           string                    `json:"task_prompt"`
	SpecialistIDs        []string                  `json:"specialist_ids"`
	CompletedSpecialists []string                  `json:"completed_specialists"`
	Payloads             map[string]map[string]any `json:"payloads"`
	TaskForceMode        string                    `json:"task_force_mode"`
	ModelKey             string                    `json:"model_key"`
	RoutingMethod        string                    `json:"routing_method"`
	RequiredCapabilities []string                  `json:"required_capabilities,omitempty"`
	Plan                 *OrchestrationPlan        `json:"orchestration_plan,omitempty"`
	CreatedAt            float64                   `json:"created_at"`
	UpdatedAt            float64                   `json:"updated_at"`
}

// Completed reports whether the named specialist already finished.
func (c *RunCheckpoint) Completed(specialistID string) bool {
	for _, id := range c.CompletedSpecialists {
		if id == specialistID {
			return true
		}
	}
	return false
}

// promptPrefixLen bounds the prompt excerpt stored in the run index.
const promptPrefixLen = 200

// RunIndexEntry is one line of the cross-run index, appended once per
// successful run. Embedding is present only when an embedder was configured
// at write time.
type RunIndexEntry struct {
	RunID         string    `json:"run_id"`
	Timestamp     float64   `json:"timestamp"`
	SpecialistIDs []string  `json:"specialist_ids"`
	PromptPrefix  string    `json:"prompt_prefix"`
	Summary       string    `json:"summary"`
	WorkspacePath string    `json:"workspace_path"`
	RunDir        string    `json:"run_dir"`
	RoutingMethod string    `json:"routing_method"`
	ModelName     string    `json:"model_name"`
	Embedding     []float64 `json:"embedding,omitempty"`
}

// --- ChatMessage constructors ---

func UserMessage(text string) ChatMessage {
	return ChatMessage{Role: "user", Content: text}
}

func SystemMessage(text string) ChatMessage {
	return ChatMessage{Role: "system", Content: text}
}

func AssistantMessage(text string) ChatMessage {
	return ChatMessage{Role: "assistant", Content: text}
}

func ToolResultMessage(callID, content string) ChatMessage {
	return ChatMessage{Role: "tool", Content: content, ToolCallID: callID}
}
