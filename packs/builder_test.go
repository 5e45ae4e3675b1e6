package packs

import (
	"context"
	"testing"

	taskforce "github.com/nevindra/taskforce"
)

func toolNames(p taskforce.SpecialistPack) []string {
	defs := p.ToolDefinitions()
	names := make([]string, len(defs))
	for i, d := range defs {
		names[i] = d.Name
	}
	return names
}

func hasName(names []string, want string) bool {
	for _, n := range names {
		if n == want {
			return true
		}
	}
	return false
}

func researchSpec() taskforce.Specialist {
	return taskforce.Specialist{
		ID:           "research",
		Description:  "Web research",
		Capabilities: []string{"web_research"},
	}
}

func TestBuildDefaultToolSurface(t *testing.T) {
	sb := taskforce.NewSandbox(t.TempDir(), false, nil)
	pack, err := New().Build(context.Background(), researchSpec(), sb)
	if err != nil {
		t.Fatalf("Build: %v", err)
	}

	names := toolNames(pack)
	for _, want := range []string{"read_file", "write_file", "list_files", "shell", "run_tests"} {
		if !hasName(names, want) {
			t.Errorf("tool %q missing from %v", want, names)
		}
	}
	if names[len(names)-1] != taskforce.FinishToolName {
		t.Errorf("last tool = %q, want finish", names[len(names)-1])
	}
	// Network tools are gated on the sandbox.
	if hasName(names, "web_search") || hasName(names, "fetch_url") {
		t.Errorf("network tools registered without network access: %v", names)
	}
	if pack.SpecialistID() != "research" {
		t.Errorf("SpecialistID = %q", pack.SpecialistID())
	}
}

func TestBuildNetworkEnablesWebTools(t *testing.T) {
	sb := taskforce.NewSandbox(t.TempDir(), true, nil)
	pack, err := New().Build(context.Background(), researchSpec(), sb)
	if err != nil {
		t.Fatalf("Build: %v", err)
	}

	names := toolNames(pack)
	if !hasName(names, "web_search") || !hasName(names, "fetch_url") {
		t.Errorf("web tools missing: %v", names)
	}
}

func TestBuildDecoratorStack(t *testing.T) {
	mcpServers := []taskforce.MCPServerConfig{{
		Name:      "gh",
		Transport: "stdio",
		Command:   "/nonexistent/mcp-server",
	}}

	cases := []struct {
		name    string
		opts    []Option
		mutate  func(*taskforce.Specialist)
		wantTyp string
	}{
		{"browser only", []Option{WithBrowser(true)},
			func(s *taskforce.Specialist) {}, "*taskforce.BrowserPack"},
		{"mcp wraps browser", []Option{WithBrowser(true)},
			func(s *taskforce.Specialist) { s.MCPServers = mcpServers }, "*taskforce.MCPPack"},
		{"container outermost", []Option{WithBrowser(true), WithDocker()},
			func(s *taskforce.Specialist) {
				s.MCPServers = mcpServers
				s.ContainerImage = "python:3.12-slim"
			}, "*taskforce.ContainerPack"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			spec := researchSpec()
			tc.mutate(&spec)
			sb := taskforce.NewSandbox(t.TempDir(), false, nil)
			pack, err := New(tc.opts...).Build(context.Background(), spec, sb)
			if err != nil {
				t.Fatalf("Build: %v", err)
			}
			var got string
			switch pack.(type) {
			case *taskforce.ContainerPack:
				got = "*taskforce.ContainerPack"
			case *taskforce.MCPPack:
				got = "*taskforce.MCPPack"
			case *taskforce.BrowserPack:
				got = "*taskforce.BrowserPack"
			default:
				got = "base"
			}
			if got != tc.wantTyp {
				t.Errorf("outermost = %s, want %s", got, tc.wantTyp)
			}
		})
	}
}

func TestBuildSkipsDisabledDecorators(t *testing.T) {
	sb := taskforce.NewSandbox(t.TempDir(), false, nil)

	// Docker flag without a container image decorates nothing.
	pack, err := New(WithDocker()).Build(context.Background(), researchSpec(), sb)
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	if _, ok := pack.(*taskforce.BasePack); !ok {
		t.Errorf("pack = %T, want undecorated base", pack)
	}

	// Container image without the docker flag likewise.
	spec := researchSpec()
	spec.ContainerImage = "python:3.12-slim"
	pack, err = New().Build(context.Background(), spec, sb)
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	if _, ok := pack.(*taskforce.BasePack); !ok {
		t.Errorf("pack = %T, want undecorated base", pack)
	}
}

func TestBuildFactoryBypassesAssembly(t *testing.T) {
	custom := taskforce.NewBasePack("custom", "prompt",
		taskforce.ToolDefinition{Name: taskforce.FinishToolName}, nil)
	spec := researchSpec()
	spec.Factory = func(ctx context.Context, s taskforce.Specialist, sb *taskforce.Sandbox) (taskforce.SpecialistPack, error) {
		return custom, nil
	}

	sb := taskforce.NewSandbox(t.TempDir(), true, nil)
	pack, err := New(WithBrowser(true)).Build(context.Background(), spec, sb)
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	if pack != taskforce.SpecialistPack(custom) {
		t.Errorf("pack = %T, want the factory's pack untouched", pack)
	}
	if names := toolNames(pack); len(names) != 1 {
		t.Errorf("tools = %v, want finish only", names)
	}
}
