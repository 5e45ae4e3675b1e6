package taskforce

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
)

// --- chat client mocks (shared across loop, engine, and recruit tests) ---

// scriptStep is one canned chat turn.
type scriptStep struct {
	resp LLMResponse
	err  error
}

// scriptedClient replays a fixed sequence of responses and records every
// request it saw. Calls past the end of the script fail the test.
type scriptedClient struct {
	t *testing.T

	mu       sync.Mutex
	script   []scriptStep
	requests []ChatRequest
}

func newScriptedClient(t *testing.T, steps ...scriptStep) *scriptedClient {
	return &scriptedClient{t: t, script: steps}
}

func (c *scriptedClient) Name() string { return "scripted" }

func (c *scriptedClient) Chat(_ context.Context, req ChatRequest) (LLMResponse, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.requests = append(c.requests, req)
	if len(c.script) == 0 {
		c.t.Errorf("scripted client exhausted after %d calls", len(c.requests))
		return LLMResponse{}, fmt.Errorf("script exhausted")
	}
	step := c.script[0]
	c.script = c.script[1:]
	return step.resp, step.err
}

func (c *scriptedClient) lastRequest() ChatRequest {
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.requests) == 0 {
		return ChatRequest{}
	}
	return c.requests[len(c.requests)-1]
}

func (c *scriptedClient) requestCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.requests)
}

// funcClient answers from a function, for tests where the response must
// depend on the request (parallel runs interleave calls unpredictably).
type funcClient struct {
	name string
	fn   func(ctx context.Context, req ChatRequest) (LLMResponse, error)
}

func (c *funcClient) Name() string { return c.name }
func (c *funcClient) Chat(ctx context.Context, req ChatRequest) (LLMResponse, error) {
	return c.fn(ctx, req)
}

// toolCallResp builds a response carrying a single tool call.
func toolCallResp(name string, args map[string]any) LLMResponse {
	if args == nil {
		args = map[string]any{}
	}
	return LLMResponse{ToolCalls: []ToolCallRequest{{
		CallID:    "call_" + name,
		ToolName:  name,
		Arguments: args,
	}}}
}

func textResp(content string) LLMResponse {
	return LLMResponse{Content: content}
}

// --- in-memory stores ---

// memRepo implements RunRepository, CheckpointStore, and RunIndex in memory,
// with real directories under root so the sandbox has a workspace.
type memRepo struct {
	root string

	mu     sync.Mutex
	order  []string
	events map[string][]RunEvent
	cps    map[string]*RunCheckpoint // keyed by run dir
	index  []RunIndexEntry
}

var (
	_ RunRepository   = (*memRepo)(nil)
	_ CheckpointStore = (*memRepo)(nil)
	_ RunIndex        = (*memRepo)(nil)
)

func newMemRepo(t *testing.T) *memRepo {
	return &memRepo{
		root:   t.TempDir(),
		events: make(map[string][]RunEvent),
		cps:    make(map[string]*RunCheckpoint),
	}
}

func (m *memRepo) Root() string { return m.root }

func (m *memRepo) runPaths(runID string) RunPaths {
	dir := filepath.Join(m.root, runID)
	return RunPaths{RunID: runID, RunDir: dir, WorkspacePath: filepath.Join(dir, "workspace")}
}

func (m *memRepo) CreateRun(runID string) (RunPaths, error) {
	p := m.runPaths(runID)
	if err := os.MkdirAll(p.WorkspacePath, 0o755); err != nil {
		return RunPaths{}, err
	}
	m.mu.Lock()
	m.order = append(m.order, runID)
	m.mu.Unlock()
	return p, nil
}

func (m *memRepo) OpenRun(runID string) (RunPaths, error) {
	p := m.runPaths(runID)
	if _, err := os.Stat(p.RunDir); err != nil {
		return RunPaths{}, err
	}
	return p, nil
}

func (m *memRepo) AppendEvent(runID string, kind EventKind, step string, payload map[string]any) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.events[runID] = append(m.events[runID], RunEvent{
		TS: NowEpoch(), Kind: kind, Step: step, Payload: payload,
	})
	return nil
}

func (m *memRepo) ReadRunEvents(runID string) ([]RunEvent, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]RunEvent, len(m.events[runID]))
	copy(out, m.events[runID])
	return out, nil
}

func (m *memRepo) ListRuns() ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]string, len(m.order))
	for i, id := range m.order {
		out[len(m.order)-1-i] = id
	}
	return out, nil
}

func (m *memRepo) Save(runDir string, cp *RunCheckpoint) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	clone := *cp
	m.cps[runDir] = &clone
	return nil
}

func (m *memRepo) Load(runDir string) (*RunCheckpoint, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp, ok := m.cps[runDir]
	if !ok {
		return nil, nil
	}
	clone := *cp
	return &clone, nil
}

func (m *memRepo) Delete(runDir string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.cps, runDir)
	return nil
}

func (m *memRepo) FindResumable() ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []string
	for dir := range m.cps {
		out = append(out, filepath.Base(dir))
	}
	return out, nil
}

func (m *memRepo) Append(_ context.Context, entry RunIndexEntry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.index = append(m.index, entry)
	return nil
}

func (m *memRepo) Search(query string, limit int) ([]RunIndexEntry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []RunIndexEntry
	for i := len(m.index) - 1; i >= 0; i-- {
		e := m.index[i]
		if query == "" || strings.Contains(strings.ToLower(e.PromptPrefix), strings.ToLower(query)) {
			out = append(out, e)
			if limit > 0 && len(out) >= limit {
				break
			}
		}
	}
	return out, nil
}

func (m *memRepo) SemanticSearch(_ context.Context, query string, topK int) ([]RunIndexEntry, error) {
	return m.Search(query, topK)
}

// singleRunEvents returns the events of the only run the repo has seen.
func (m *memRepo) singleRunEvents(t *testing.T) []RunEvent {
	t.Helper()
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.order) != 1 {
		t.Fatalf("runs created = %d, want 1", len(m.order))
	}
	return m.events[m.order[0]]
}

func (m *memRepo) checkpointCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.cps)
}

// --- pack builders ---

// echoPackBuilder builds a minimal pack: the specialist's prompt and finish
// contract plus one "echo" tool that always succeeds.
func echoPackBuilder(_ context.Context, spec Specialist, _ *Sandbox) (SpecialistPack, error) {
	p := NewPackFrom(spec)
	p.RegisterTool(ToolDefinition{Name: "echo", Description: "Echo back"},
		func(_ context.Context, args map[string]any) (map[string]any, error) {
			return map[string]any{"echo": args}, nil
		})
	return p, nil
}

// newTestEngine wires a scripted client, the echo builder, and an in-memory
// repo into an engine.
func newTestEngine(t *testing.T, client ChatClient, opts ...EngineOption) (*Engine, *memRepo) {
	t.Helper()
	repo := newMemRepo(t)
	base := []EngineOption{
		WithChatClient(client),
		WithPackBuilder(echoPackBuilder),
		WithRunRepository(repo),
		WithCheckpointStore(repo),
		WithRunIndex(repo),
		WithModels(map[string]string{"fast": "test-fast", "quality": "test-quality"}),
	}
	engine, err := NewEngine(append(base, opts...)...)
	if err != nil {
		t.Fatalf("NewEngine: %v", err)
	}
	return engine, repo
}

// eventKinds projects events to their kinds for order assertions.
func eventKinds(events []RunEvent) []EventKind {
	kinds := make([]EventKind, len(events))
	for i, ev := range events {
		kinds[i] = ev.Kind
	}
	return kinds
}

// findEvents returns all events of one kind.
func findEvents(events []RunEvent, kind EventKind) []RunEvent {
	var out []RunEvent
	for _, ev := range events {
		if ev.Kind == kind {
			out = append(out, ev)
		}
	}
	return out
}
