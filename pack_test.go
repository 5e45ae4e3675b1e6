package taskforce

import (
	"context"
	"strings"
	"testing"
)

func TestBasePackToolOrdering(t *testing.T) {
	p := NewBasePack("test", "prompt",
		ToolDefinition{Name: FinishToolName}, []string{"summary"})
	p.RegisterTool(ToolDefinition{Name: "b"}, nil)
	p.RegisterTool(ToolDefinition{Name: "a"}, nil)
	p.RegisterTool(ToolDefinition{Name: "c"}, nil)

	defs := p.ToolDefinitions()
	want := []string{"b", "a", "c", FinishToolName}
	if len(defs) != len(want) {
		t.Fatalf("defs = %d, want %d", len(defs), len(want))
	}
	for i, w := range want {
		if defs[i].Name != w {
			t.Errorf("defs[%d] = %q, want %q (registration order, finish last)", i, defs[i].Name, w)
		}
	}
}

func TestBasePackReRegisterKeepsPosition(t *testing.T) {
	p := NewBasePack("test", "prompt", ToolDefinition{Name: FinishToolName}, nil)
	p.RegisterTool(ToolDefinition{Name: "x", Description: "first"}, nil)
	p.RegisterTool(ToolDefinition{Name: "y"}, nil)
	p.RegisterTool(ToolDefinition{Name: "x", Description: "second"}, nil)

	defs := p.ToolDefinitions()
	if defs[0].Name != "x" || defs[0].Description != "second" {
		t.Errorf("defs[0] = %+v, want x at original position with new description", defs[0])
	}
	if len(defs) != 3 {
		t.Errorf("defs = %d, want 3 (x, y, finish)", len(defs))
	}
}

func TestBasePackUnknownTool(t *testing.T) {
	p := NewBasePack("test", "prompt", ToolDefinition{Name: FinishToolName}, nil)

	result, err := p.ExecuteTool(context.Background(), "missing", nil)
	if err != nil {
		t.Fatalf("ExecuteTool: %v", err)
	}
	msg, _ := result["error"].(string)
	if !strings.HasPrefix(msg, "unknown_tool: ") || !strings.Contains(msg, "missing") {
		t.Errorf("error = %q, want unknown_tool: missing", msg)
	}
}

func TestNewPackFromBuiltins(t *testing.T) {
	reg := NewRegistry()

	eng, _ := reg.Get("engineering")
	p := NewPackFrom(eng)
	if p.SpecialistID() != "engineering" {
		t.Errorf("SpecialistID = %q", p.SpecialistID())
	}
	if p.FinishToolName() != FinishToolName {
		t.Errorf("FinishToolName = %q, want %s", p.FinishToolName(), FinishToolName)
	}
	required := p.FinishRequiredFields()
	if len(required) != 2 || required[0] != "summary" || required[1] != "tests_verified" {
		t.Errorf("FinishRequiredFields = %v, want [summary tests_verified]", required)
	}

	res, _ := reg.Get("research")
	rp := NewPackFrom(res)
	required = rp.FinishRequiredFields()
	if len(required) != 1 || required[0] != "summary" {
		t.Errorf("research FinishRequiredFields = %v, want [summary]", required)
	}
	if msg := rp.ValidateFinishPayload(map[string]any{"summary": "x"}); msg != "" {
		t.Errorf("research gate = %q, want accept", msg)
	}
}

func TestEngineeringGate(t *testing.T) {
	if msg := engineeringGate(map[string]any{"tests_verified": true}); msg != "" {
		t.Errorf("gate rejected verified payload: %q", msg)
	}
	if msg := engineeringGate(map[string]any{"tests_verified": false}); msg == "" {
		t.Error("gate accepted tests_verified=false")
	}
	if msg := engineeringGate(map[string]any{"summary": "x"}); msg == "" {
		t.Error("gate accepted missing tests_verified")
	}
	// String "true" is not an attestation.
	if msg := engineeringGate(map[string]any{"tests_verified": "true"}); msg == "" {
		t.Error("gate accepted string tests_verified")
	}
}

func TestCustomSpecialistSystemPrompt(t *testing.T) {
	spec := Specialist{ID: "custom", Description: "does custom things", SystemPrompt: "You are custom."}
	p := NewPackFrom(spec)
	if p.SystemPrompt() != "You are custom." {
		t.Errorf("SystemPrompt = %q, want the configured prompt", p.SystemPrompt())
	}

	// Without a configured prompt, unknown ids get the generic template.
	generic := NewPackFrom(Specialist{ID: "widget", Description: "makes widgets"})
	if !strings.Contains(generic.SystemPrompt(), "widget specialist") ||
		!strings.Contains(generic.SystemPrompt(), "makes widgets") {
		t.Errorf("generic prompt = %q", generic.SystemPrompt())
	}
}
