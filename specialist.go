package taskforce

import (
	"context"
	"encoding/json"
)

// MCPServerConfig describes one external MCP tool server attached to a
// specialist. Transport is "stdio" (Command+Args), "sse", or "http" (URL).
type MCPServerConfig struct {
	Name      string   `json:"name" toml:"name"`
	Transport string   `json:"transport" toml:"transport"`
	Command   string   `json:"command,omitempty" toml:"command"`
	Args      []string `json:"args,omitempty" toml:"args"`
	URL       string   `json:"url,omitempty" toml:"url"`
}

// Specialist is the read-only configuration record for one recruitable
// specialist. Builtins cover engineering, research, and operations; config
// files may add more or override a builtin by re-registering its id.
type Specialist struct {
	ID             string
	Description    string
	Capabilities   []string
	Keywords       []string
	MCPServers     []MCPServerConfig
	ContainerImage string // when set, shell calls run inside this image
	MaxSteps       int    // 0 selects the engine default
	SystemPrompt   string // empty selects the builtin/default prompt
	Factory        PackFactory
}

// PackFactory builds a custom pack for a specialist, replacing the default
// builder entirely.
type PackFactory func(ctx context.Context, spec Specialist, sb *Sandbox) (SpecialistPack, error)

// PackBuilder turns a specialist config into a runtime pack bound to a
// sandbox. The packs package provides the full-featured builder; tests
// inject lighter ones.
type PackBuilder func(ctx context.Context, spec Specialist, sb *Sandbox) (SpecialistPack, error)

// Registry holds specialist configs in insertion order. Order matters: the
// recruiter's greedy selection breaks ties by it, and plans list specialists
// in it.
type Registry struct {
	order []string
	specs map[string]Specialist
}

// NewRegistry returns a registry seeded with the builtin specialists.
func NewRegistry() *Registry {
	r := &Registry{specs: make(map[string]Specialist)}
	for _, s := range builtinSpecialists() {
		r.Register(s)
	}
	return r
}

// Register adds or overrides a specialist. Overriding keeps the original
// position in the order.
func (r *Registry) Register(s Specialist) {
	if _, exists := r.specs[s.ID]; !exists {
		r.order = append(r.order, s.ID)
	}
	r.specs[s.ID] = s
}

// Get returns the config for id.
func (r *Registry) Get(id string) (Specialist, bool) {
	s, ok := r.specs[id]
	return s, ok
}

// IDs returns all specialist ids in insertion order.
func (r *Registry) IDs() []string {
	out := make([]string, len(r.order))
	copy(out, r.order)
	return out
}

// All returns all configs in insertion order.
func (r *Registry) All() []Specialist {
	out := make([]Specialist, 0, len(r.order))
	for _, id := range r.order {
		out = append(out, r.specs[id])
	}
	return out
}

// FinishToolName is the terminal tool every pack exposes.
const FinishToolName = "finish_task"

// NewPackFrom seeds a BasePack from a specialist config: prompt, finish
// schema, required fields, and quality gate. Regular tools are registered
// by the caller (the packs builder), which knows the sandbox and feature
// flags.
func NewPackFrom(spec Specialist) *BasePack {
	prompt := spec.SystemPrompt
	if prompt == "" {
		prompt = defaultSystemPrompt(spec)
	}
	finish, required := finishToolFor(spec.ID)
	p := NewBasePack(spec.ID, prompt, finish, required)
	if spec.ID == "engineering" {
		p.SetFinishValidator(engineeringGate)
	}
	return p
}

// engineeringGate rejects completion until the model attests that it ran
// the tests.
func engineeringGate(args map[string]any) string {
	if v, ok := args["tests_verified"].(bool); ok && v {
		return ""
	}
	return "tests_verified must be true: run the test suite with run_tests and verify it passes before calling finish_task"
}

func finishToolFor(id string) (ToolDefinition, []string) {
	if id == "engineering" {
		return ToolDefinition{
			Name:        FinishToolName,
			Description: "Declare the task complete. Call only after you have done the work with other tools and verified the tests pass.",
			Parameters: json.RawMessage(`{"type":"object","properties":{` +
				`"summary":{"type":"string","description":"What was accomplished"},` +
				`"tests_verified":{"type":"boolean","description":"True only if you ran the tests and they pass"},` +
				`"artifacts":{"type":"array","items":{"type":"string"},"description":"Files created or modified (relative paths)"},` +
				`"next_steps":{"type":"array","items":{"type":"string"},"description":"Suggested follow-up work"},` +
				`"notes":{"type":"string","description":"Caveats or open issues"}},` +
				`"required":["summary","tests_verified"]}`),
		}, []string{"summary", "tests_verified"}
	}
	return ToolDefinition{
		Name:        FinishToolName,
		Description: "Declare the task complete. Call only after you have done the work with other tools.",
		Parameters: json.RawMessage(`{"type":"object","properties":{` +
			`"summary":{"type":"string","description":"What was accomplished"},` +
			`"artifacts":{"type":"array","items":{"type":"string"},"description":"Files created or modified (relative paths)"},` +
			`"next_steps":{"type":"array","items":{"type":"string"},"description":"Suggested follow-up work"},` +
			`"notes":{"type":"string","description":"Caveats or open issues"}},` +
			`"required":["summary"]}`),
	}, []string{"summary"}
}

func builtinSpecialists() []Specialist {
	return []Specialist{
		{
			ID:          "engineering",
			Description: "Writes, fixes, tests, and refactors code in the workspace.",
			Capabilities: []string{
				"code", "files", "testing", "shell",
			},
			Keywords: []string{
				"code", "bug", "fix", "implement", "refactor", "function",
				"test", "build", "compile", "debug", "script", "library",
			},
		},
		{
			ID:          "research",
			Description: "Investigates questions, gathers sources, and produces written findings.",
			Capabilities: []string{
				"web_research", "files", "analysis",
			},
			Keywords: []string{
				"research", "find", "search", "investigate", "summarize",
				"summarise", "compare", "explain", "documentation", "learn",
			},
		},
		{
			ID:          "operations",
			Description: "Runs commands, organises files, and automates workspace chores.",
			Capabilities: []string{
				"shell", "files", "automation",
			},
			Keywords: []string{
				"install", "configure", "deploy", "setup", "organize",
				"organise", "rename", "clean", "automate", "convert",
			},
		},
	}
}

func defaultSystemPrompt(spec Specialist) string {
	switch spec.ID {
	case "engineering":
		return `You are the engineering specialist of a local task force. You work inside a sandboxed workspace directory and everything you do goes through tools.

Rules:
- Inspect before you change: use list_files and read_file to understand the code first.
- Make changes with write_file. Keep diffs minimal and focused on the task.
- Run commands with the shell tool (argv form) and verify your work with run_tests.
- When the task is done AND the tests pass, call finish_task with a summary and tests_verified=true. Never call finish_task before doing work.
- If you get stuck, say what you tried and finish with honest notes rather than looping.`
	case "research":
		return `You are the research specialist of a local task force. You answer questions by gathering evidence, not by guessing.

Rules:
- Use web_search and fetch_url (when available) to find sources; read files in the workspace with read_file.
- Write your findings into the workspace with write_file so they survive the run.
- Cite where each claim came from in your notes.
- When you have enough evidence, call finish_task with a summary of findings. Never call finish_task before doing work.`
	case "operations":
		return `You are the operations specialist of a local task force. You automate chores inside a sandboxed workspace.

Rules:
- Prefer small, verifiable steps: run a command with shell, check its output, then continue.
- Use list_files and read_file to confirm state before and after changes.
- Only allowlisted commands run; if a command is rejected, find another way rather than retrying it.
- When the chore is done, call finish_task with a summary of what changed. Never call finish_task before doing work.`
	}
	return "You are the " + spec.ID + " specialist of a local task force: " + spec.Description + `

Work through the tools provided, inside the sandboxed workspace. When the task is done, call finish_task with a summary. Never call finish_task before doing work.`
}
