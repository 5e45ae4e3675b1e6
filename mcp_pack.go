package taskforce

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os/exec"
	"strings"

	"github.com/modelcontextprotocol/go-sdk/mcp"
)

// MCPToolPrefix namespaces external MCP tools in a pack's catalogue as
// mcp__<server>__<tool>, so they can never shadow a builtin tool name.
const MCPToolPrefix = "mcp__"

// mcpToolName builds the namespaced catalogue name for a server tool.
func mcpToolName(server, tool string) string {
	return MCPToolPrefix + server + "__" + tool
}

// MCPPack augments an inner pack with tools served by external MCP servers.
// Open connects every configured server and merges its catalogue; a server
// that fails to connect is skipped with a log line rather than failing the
// run. ExecuteTool forwards owned (prefixed) names to the owning session and
// everything else to the inner pack.
type MCPPack struct {
	inner   SpecialistPack
	servers []MCPServerConfig
	logger  *slog.Logger

	sessions map[string]*mcp.ClientSession // server name → connected session
	defs     []ToolDefinition              // merged catalogue, built on Open
	owner    map[string]string             // prefixed tool name → server name
	toolOf   map[string]string             // prefixed tool name → raw tool name
}

var _ SpecialistPack = (*MCPPack)(nil)

// NewMCPPack wraps inner with the given MCP servers. A nil logger discards.
func NewMCPPack(inner SpecialistPack, servers []MCPServerConfig, logger *slog.Logger) *MCPPack {
	if logger == nil {
		logger = nopLogger
	}
	return &MCPPack{
		inner:    inner,
		servers:  servers,
		logger:   logger,
		sessions: make(map[string]*mcp.ClientSession),
		owner:    make(map[string]string),
		toolOf:   make(map[string]string),
	}
}

func (p *MCPPack) SpecialistID() string           { return p.inner.SpecialistID() }
func (p *MCPPack) SystemPrompt() string           { return p.inner.SystemPrompt() }
func (p *MCPPack) FinishToolName() string         { return p.inner.FinishToolName() }
func (p *MCPPack) FinishRequiredFields() []string { return p.inner.FinishRequiredFields() }

func (p *MCPPack) ValidateFinishPayload(args map[string]any) string {
	return p.inner.ValidateFinishPayload(args)
}

// ToolDefinitions returns the inner catalogue followed by the merged MCP
// tools. Before Open it equals the inner catalogue.
func (p *MCPPack) ToolDefinitions() []ToolDefinition {
	inner := p.inner.ToolDefinitions()
	if len(p.defs) == 0 {
		return inner
	}
	// Finish tool stays last.
	out := make([]ToolDefinition, 0, len(inner)+len(p.defs))
	out = append(out, inner[:len(inner)-1]...)
	out = append(out, p.defs...)
	return append(out, inner[len(inner)-1])
}

// Open connects the configured servers, fetches their catalogues, and then
// opens the inner pack. Connection failures skip the server.
func (p *MCPPack) Open(ctx context.Context) error {
	for _, srv := range p.servers {
		session, err := p.connect(ctx, srv)
		if err != nil {
			p.logger.Warn("mcp server skipped", "server", srv.Name, "error", err)
			continue
		}
		tools, err := session.ListTools(ctx, nil)
		if err != nil {
			p.logger.Warn("mcp catalogue fetch failed, server skipped", "server", srv.Name, "error", err)
			_ = session.Close()
			continue
		}
		p.sessions[srv.Name] = session
		for _, t := range tools.Tools {
			name := mcpToolName(srv.Name, t.Name)
			params, err := json.Marshal(t.InputSchema)
			if err != nil {
				params = json.RawMessage(`{"type":"object"}`)
			}
			p.defs = append(p.defs, ToolDefinition{
				Name:        name,
				Description: t.Description,
				Parameters:  params,
			})
			p.owner[name] = srv.Name
			p.toolOf[name] = t.Name
		}
		p.logger.Info("mcp server connected", "server", srv.Name, "tools", len(tools.Tools))
	}
	return p.inner.Open(ctx)
}

// connect builds the transport for one server config and dials it.
func (p *MCPPack) connect(ctx context.Context, srv MCPServerConfig) (*mcp.ClientSession, error) {
	var transport mcp.Transport
	switch srv.Transport {
	case "stdio", "":
		if srv.Command == "" {
			return nil, fmt.Errorf("stdio transport needs a command")
		}
		transport = &mcp.CommandTransport{Command: exec.Command(srv.Command, srv.Args...)}
	case "sse":
		if srv.URL == "" {
			return nil, fmt.Errorf("sse transport needs a url")
		}
		transport = &mcp.SSEClientTransport{Endpoint: srv.URL}
	case "http":
		if srv.URL == "" {
			return nil, fmt.Errorf("http transport needs a url")
		}
		transport = &mcp.StreamableClientTransport{Endpoint: srv.URL}
	default:
		return nil, fmt.Errorf("unsupported transport %q", srv.Transport)
	}

	client := mcp.NewClient(&mcp.Implementation{Name: "taskforce", Version: "1.0"}, nil)
	return client.Connect(ctx, transport, nil)
}

// Close disconnects every session and closes the inner pack. One session's
// failure never blocks the others; the first error is reported.
func (p *MCPPack) Close(ctx context.Context) error {
	var firstErr error
	for name, session := range p.sessions {
		if err := session.Close(); err != nil {
			p.logger.Warn("mcp session close failed", "server", name, "error", err)
			if firstErr == nil {
				firstErr = err
			}
		}
	}
	p.sessions = make(map[string]*mcp.ClientSession)
	if err := p.inner.Close(ctx); err != nil && firstErr == nil {
		firstErr = err
	}
	return firstErr
}

// ExecuteTool forwards owned tool names to the owning server session and
// falls through to the inner pack otherwise.
func (p *MCPPack) ExecuteTool(ctx context.Context, name string, args map[string]any) (map[string]any, error) {
	server, ok := p.owner[name]
	if !ok {
		if strings.HasPrefix(name, MCPToolPrefix) {
			return map[string]any{"error": "unknown mcp tool: " + name}, nil
		}
		return p.inner.ExecuteTool(ctx, name, args)
	}
	session := p.sessions[server]
	if session == nil {
		return map[string]any{"error": "mcp server not connected: " + server}, nil
	}

	res, err := session.CallTool(ctx, &mcp.CallToolParams{
		Name:      p.toolOf[name],
		Arguments: args,
	})
	if err != nil {
		return nil, WrapErr(KindIOError, err, "mcp call "+name)
	}
	return mcpResultDict(res), nil
}

// mcpResultDict flattens a CallToolResult into the uniform tool result map.
func mcpResultDict(res *mcp.CallToolResult) map[string]any {
	out := map[string]any{}
	var texts []string
	for _, c := range res.Content {
		if tc, ok := c.(*mcp.TextContent); ok {
			texts = append(texts, tc.Text)
		}
	}
	if len(texts) > 0 {
		out["content"] = strings.Join(texts, "\n")
	}
	if res.StructuredContent != nil {
		out["structured"] = res.StructuredContent
	}
	if res.IsError {
		msg := "mcp tool reported an error"
		if len(texts) > 0 {
			msg = strings.Join(texts, "\n")
		}
		out["error"] = msg
	}
	return out
}
