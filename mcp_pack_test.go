package taskforce

import (
	"context"
	"strings"
	"testing"
)

func TestMCPToolName(t *testing.T) {
	if got := mcpToolName("github", "create_issue"); got != "mcp__github__create_issue" {
		t.Errorf("mcpToolName = %q", got)
	}
}

func TestMCPPackBeforeOpenBehavesLikeInner(t *testing.T) {
	inner := researchPack(t)
	pack := NewMCPPack(inner, nil, nil)

	if pack.SpecialistID() != "research" {
		t.Errorf("SpecialistID = %q", pack.SpecialistID())
	}
	got := pack.ToolDefinitions()
	want := inner.ToolDefinitions()
	if len(got) != len(want) {
		t.Fatalf("defs = %d, want inner's %d", len(got), len(want))
	}
	if got[len(got)-1].Name != FinishToolName {
		t.Errorf("last tool = %q, want finish", got[len(got)-1].Name)
	}
}

func TestMCPPackSkipsUnreachableServers(t *testing.T) {
	inner := researchPack(t)
	pack := NewMCPPack(inner, []MCPServerConfig{
		{Name: "broken", Transport: "stdio", Command: "/nonexistent/mcp-server"},
		{Name: "misconfigured", Transport: "stdio"}, // no command
	}, nil)

	// Failed servers are skipped, not fatal; the inner pack still opens.
	if err := pack.Open(context.Background()); err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer pack.Close(context.Background())

	if len(pack.sessions) != 0 {
		t.Errorf("sessions = %d, want 0", len(pack.sessions))
	}
	// The catalogue degrades to the inner pack's.
	if got, want := len(pack.ToolDefinitions()), len(inner.ToolDefinitions()); got != want {
		t.Errorf("defs = %d, want %d", got, want)
	}
}

func TestMCPPackUnknownPrefixedTool(t *testing.T) {
	pack := NewMCPPack(researchPack(t), nil, nil)

	result, err := pack.ExecuteTool(context.Background(), "mcp__gone__tool", nil)
	if err != nil {
		t.Fatalf("ExecuteTool: %v", err)
	}
	msg, _ := result["error"].(string)
	if !strings.Contains(msg, "unknown mcp tool") {
		t.Errorf("error = %q, want unknown mcp tool", msg)
	}

	// Unprefixed names fall through to the inner pack.
	result, err = pack.ExecuteTool(context.Background(), "echo", map[string]any{"a": 1})
	if err != nil {
		t.Fatalf("ExecuteTool echo: %v", err)
	}
	if _, ok := result["echo"]; !ok {
		t.Errorf("echo result = %v, want inner dispatch", result)
	}
}

func TestMCPPackConnectRejectsBadConfig(t *testing.T) {
	pack := NewMCPPack(researchPack(t), nil, nil)

	// sse/http without a url, stdio without a command, unknown transport.
	cases := []MCPServerConfig{
		{Name: "s1", Transport: "sse"},
		{Name: "s2", Transport: "http"},
		{Name: "s3", Transport: "carrier-pigeon"},
		{Name: "s4", Transport: "stdio"},
	}
	for _, srv := range cases {
		if _, err := pack.connect(context.Background(), srv); err == nil {
			t.Errorf("connect(%q/%q) succeeded, want error", srv.Name, srv.Transport)
		}
	}
}
