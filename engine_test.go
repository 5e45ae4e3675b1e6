package taskforce

import (
	"context"
	"strings"
	"testing"
)

func TestNewEngineRequiresWiring(t *testing.T) {
	repo := newMemRepo(t)
	client := &funcClient{name: "stub", fn: func(context.Context, ChatRequest) (LLMResponse, error) {
		return LLMResponse{}, nil
	}}

	cases := []struct {
		name string
		opts []EngineOption
		want string
	}{
		{"no client", nil, "chat client"},
		{"no builder", []EngineOption{WithChatClient(client)}, "pack builder"},
		{"no repo", []EngineOption{WithChatClient(client), WithPackBuilder(echoPackBuilder)}, "run repository"},
		{"no checkpoints", []EngineOption{WithChatClient(client), WithPackBuilder(echoPackBuilder), WithRunRepository(repo)}, "checkpoint store"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := NewEngine(tc.opts...)
			if err == nil {
				t.Fatal("expected error")
			}
			if !strings.Contains(err.Error(), tc.want) {
				t.Errorf("error = %v, want mention of %q", err, tc.want)
			}
		})
	}

	if _, err := NewEngine(
		WithChatClient(client),
		WithPackBuilder(echoPackBuilder),
		WithRunRepository(repo),
		WithCheckpointStore(repo),
	); err != nil {
		t.Errorf("fully wired engine: %v", err)
	}
}

func TestResolveModel(t *testing.T) {
	engine, _ := newTestEngine(t, newScriptedClient(t))

	cases := []struct {
		key, want string
	}{
		// Empty selects the default tier; unmapped keys pass through.
		{"", "test-quality"},
		{"fast", "test-fast"},
		{"quality", "test-quality"},
		{"llama3.2:3b", "llama3.2:3b"},
	}
	for _, tc := range cases {
		if got := engine.ResolveModel(tc.key); got != tc.want {
			t.Errorf("ResolveModel(%q) = %q, want %q", tc.key, got, tc.want)
		}
	}
}

func TestRunSingleSpecialistHappyPath(t *testing.T) {
	client := newScriptedClient(t,
		scriptStep{resp: toolCallResp("echo", map[string]any{"msg": "working"})},
		scriptStep{resp: toolCallResp(FinishToolName, map[string]any{
			"summary":   "organised the notes",
			"artifacts": []any{"notes.md"},
		})},
	)
	engine, repo := newTestEngine(t, client)

	result, err := engine.Run(context.Background(), Task{
		Prompt:       "organise my notes",
		SpecialistID: "research",
	})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if result.SpecialistID != "research" {
		t.Errorf("SpecialistID = %q, want research", result.SpecialistID)
	}
	if got := result.Payload["summary"]; got != "organised the notes" {
		t.Errorf("summary = %v, want organised the notes", got)
	}
	if result.Payload["action"] != "final" {
		t.Errorf("action = %v, want final", result.Payload["action"])
	}
	if result.ModelName != "test-quality" {
		t.Errorf("ModelName = %q, want test-quality", result.ModelName)
	}

	events := repo.singleRunEvents(t)
	want := []EventKind{
		EventRecruitment,
		EventOrchestrationPlan,
		EventPackStart,
		EventLLMRequest,
		EventLLMResponse,
		EventToolCall,
		EventToolResult,
		EventLLMRequest,
		EventLLMResponse,
		EventToolCall,
		EventToolResult,
		EventRunComplete,
	}
	got := eventKinds(events)
	if len(got) != len(want) {
		t.Fatalf("event kinds = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("event[%d] = %s, want %s", i, got[i], want[i])
		}
	}

	// Completed runs leave no checkpoint behind and land in the index.
	if repo.checkpointCount() != 0 {
		t.Errorf("checkpoints after run = %d, want 0", repo.checkpointCount())
	}
	if len(repo.index) != 1 {
		t.Fatalf("index entries = %d, want 1", len(repo.index))
	}
	if repo.index[0].Summary != "organised the notes" {
		t.Errorf("index summary = %q", repo.index[0].Summary)
	}
	if repo.index[0].RoutingMethod != RoutingExplicit {
		t.Errorf("index routing = %q, want %s", repo.index[0].RoutingMethod, RoutingExplicit)
	}
}

func TestRunStreamForwardsEvents(t *testing.T) {
	client := newScriptedClient(t,
		scriptStep{resp: toolCallResp("echo", nil)},
		scriptStep{resp: toolCallResp(FinishToolName, map[string]any{"summary": "done"})},
	)
	engine, repo := newTestEngine(t, client)

	events := make(chan RunEvent, 64)
	var streamed []RunEvent
	done := make(chan struct{})
	go func() {
		defer close(done)
		for ev := range events {
			streamed = append(streamed, ev)
		}
	}()

	_, err := engine.RunStream(context.Background(), Task{Prompt: "x", SpecialistID: "research"}, events)
	close(events)
	<-done
	if err != nil {
		t.Fatalf("RunStream: %v", err)
	}

	logged := repo.singleRunEvents(t)
	if len(streamed) != len(logged) {
		t.Fatalf("streamed %d events, logged %d", len(streamed), len(logged))
	}
	for i := range logged {
		if streamed[i].Kind != logged[i].Kind {
			t.Errorf("streamed[%d] = %s, logged %s", i, streamed[i].Kind, logged[i].Kind)
		}
	}
}

func TestRunUnknownExplicitSpecialist(t *testing.T) {
	engine, _ := newTestEngine(t, newScriptedClient(t))

	_, err := engine.Run(context.Background(), Task{Prompt: "x", SpecialistID: "nonexistent"})
	if err == nil {
		t.Fatal("expected error")
	}
	if KindOf(err) != KindRecruitError {
		t.Errorf("KindOf = %s, want %s", KindOf(err), KindRecruitError)
	}
}

func TestRunCloudFallbackEmitsEvent(t *testing.T) {
	local := newScriptedClient(t,
		scriptStep{resp: textResp("I would rather chat than call tools.")},
		scriptStep{resp: toolCallResp(FinishToolName, map[string]any{"summary": "done"})},
	)
	cloud := newScriptedClient(t,
		scriptStep{resp: toolCallResp("echo", map[string]any{"msg": "from the cloud"})},
	)
	client := NewFallbackChatClient(local, cloud, FallbackNoToolCalls, "local-model", "cloud-model")

	engine, repo := newTestEngine(t, client)
	result, err := engine.Run(context.Background(), Task{Prompt: "x", SpecialistID: "research"})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if result.Payload["summary"] != "done" {
		t.Errorf("summary = %v, want done", result.Payload["summary"])
	}

	falls := findEvents(repo.singleRunEvents(t), EventCloudFallback)
	if len(falls) != 1 {
		t.Fatalf("cloud_fallback events = %d, want 1", len(falls))
	}
	if got := falls[0].Payload["reason"]; got != "no_tool_calls" {
		t.Errorf("reason = %v, want no_tool_calls", got)
	}
	if got := falls[0].Payload["cloud_model"]; got != "cloud-model" {
		t.Errorf("cloud_model = %v, want cloud-model", got)
	}
}

func TestRunLeavesCheckpointOnFailure(t *testing.T) {
	// Sequential two-specialist plan: the first completes, the second's chat
	// dies. The checkpoint must survive for resume.
	calls := 0
	client := &funcClient{name: "flaky", fn: func(_ context.Context, req ChatRequest) (LLMResponse, error) {
		if hasTool(req, "create_plan") {
			return toolCallResp("create_plan", map[string]any{
				"assignments": []any{
					map[string]any{"specialist_id": "research", "brief": "gather"},
					map[string]any{"specialist_id": "operations", "brief": "apply"},
				},
				"mode":      ModeSequential,
				"reasoning": "two phases",
			}), nil
		}
		if strings.Contains(systemPromptOf(req), "operations") {
			return LLMResponse{}, Errf(KindLLMTransport, "backend gone")
		}
		calls++
		if calls == 1 {
			return toolCallResp("echo", nil), nil
		}
		return toolCallResp(FinishToolName, map[string]any{"summary": "research done"}), nil
	}}

	engine, repo := newTestEngine(t, client)
	_, err := engine.Run(context.Background(), Task{Prompt: "investigate then fix"})
	if err == nil {
		t.Fatal("expected error")
	}
	if repo.checkpointCount() != 1 {
		t.Fatalf("checkpoints = %d, want 1", repo.checkpointCount())
	}
	for _, cp := range repo.cps {
		if !cp.Completed("research") {
			t.Error("research not marked completed in checkpoint")
		}
		if cp.Completed("operations") {
			t.Error("operations wrongly marked completed")
		}
	}
}

// hasTool reports whether the request's tool surface contains name.
func hasTool(req ChatRequest, name string) bool {
	for _, td := range req.Tools {
		if td.Name == name {
			return true
		}
	}
	return false
}

// systemPromptOf returns the request's system message content.
func systemPromptOf(req ChatRequest) string {
	for _, m := range req.Messages {
		if m.Role == "system" {
			return m.Content
		}
	}
	return ""
}
