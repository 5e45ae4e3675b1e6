package taskforce

import (
	"context"
	"fmt"
)

// ToolHandler executes one tool call. Handlers return a JSON-serialisable
// result map on success and a classified *Error on failure; the engine
// turns the error kind into tool_error (and security_event for permission)
// run events. Handlers must not panic on bad arguments.
type ToolHandler func(ctx context.Context, args map[string]any) (map[string]any, error)

// SpecialistPack is a recruitable specialist bound to a workspace: a system
// prompt, a tool surface, a finish contract, and the machinery to execute
// tool calls. Decorators wrap packs to splice in MCP servers, container
// execution, or a browser; they forward the metadata methods unchanged.
type SpecialistPack interface {
	// SpecialistID returns the stable id used in plans, events, and checkpoints.
	SpecialistID() string
	// SystemPrompt returns the system message opening every transcript.
	SystemPrompt() string
	// ToolDefinitions returns regular tools in registration order, then the
	// finish tool last.
	ToolDefinitions() []ToolDefinition
	// FinishToolName returns the terminal tool's name, normally "finish_task".
	FinishToolName() string
	// FinishRequiredFields lists argument names the finish call must carry.
	FinishRequiredFields() []string
	// ValidateFinishPayload applies the pack's quality gate to a well-formed
	// finish payload. Empty string accepts; anything else is the rejection
	// message sent back to the model.
	ValidateFinishPayload(args map[string]any) string
	// Open acquires pack resources (MCP sessions, containers, browsers).
	// Called once before step 0.
	Open(ctx context.Context) error
	// Close releases pack resources. Called exactly once on every exit path.
	Close(ctx context.Context) error
	// ExecuteTool dispatches a regular tool call by name. Unknown names do
	// not error: they return {"error": ...} so the loop can continue.
	ExecuteTool(ctx context.Context, name string, args map[string]any) (map[string]any, error)
}

// BasePack is the concrete pack all specialists start from. Decorators
// wrap it; the builder in specialist.go populates it.
type BasePack struct {
	id             string
	systemPrompt   string
	finish         ToolDefinition
	requiredFields []string
	validate       func(args map[string]any) string

	order    []string
	tools    map[string]ToolDefinition
	handlers map[string]ToolHandler
}

var _ SpecialistPack = (*BasePack)(nil)

// NewBasePack creates a pack with an empty regular-tool set. finish becomes
// the terminal tool; required lists its mandatory argument names.
func NewBasePack(id, systemPrompt string, finish ToolDefinition, required []string) *BasePack {
	return &BasePack{
		id:             id,
		systemPrompt:   systemPrompt,
		finish:         finish,
		requiredFields: required,
		tools:          make(map[string]ToolDefinition),
		handlers:       make(map[string]ToolHandler),
	}
}

// RegisterTool adds a regular tool. Re-registering a name replaces the
// handler but keeps the original position.
func (p *BasePack) RegisterTool(def ToolDefinition, h ToolHandler) {
	if _, exists := p.tools[def.Name]; !exists {
		p.order = append(p.order, def.Name)
	}
	p.tools[def.Name] = def
	p.handlers[def.Name] = h
}

// SetFinishValidator installs the pack's quality gate.
func (p *BasePack) SetFinishValidator(fn func(args map[string]any) string) {
	p.validate = fn
}

func (p *BasePack) SpecialistID() string { return p.id }

func (p *BasePack) SystemPrompt() string { return p.systemPrompt }

func (p *BasePack) ToolDefinitions() []ToolDefinition {
	defs := make([]ToolDefinition, 0, len(p.order)+1)
	for _, name := range p.order {
		defs = append(defs, p.tools[name])
	}
	return append(defs, p.finish)
}

func (p *BasePack) FinishToolName() string { return p.finish.Name }

func (p *BasePack) FinishRequiredFields() []string { return p.requiredFields }

func (p *BasePack) ValidateFinishPayload(args map[string]any) string {
	if p.validate == nil {
		return ""
	}
	return p.validate(args)
}

func (p *BasePack) Open(ctx context.Context) error { return nil }

func (p *BasePack) Close(ctx context.Context) error { return nil }

func (p *BasePack) ExecuteTool(ctx context.Context, name string, args map[string]any) (map[string]any, error) {
	h, ok := p.handlers[name]
	if !ok {
		return map[string]any{"error": fmt.Sprintf("unknown_tool: %s", name)}, nil
	}
	return h(ctx, args)
}
