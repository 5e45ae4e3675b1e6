// Package taskforce is a local-first orchestrator for autonomous agent
// task forces in Go.
//
// A run starts from a single natural-language task. A recruiter selects one
// or more specialist packs (engineering, research, operations, ...), an
// orchestration plan sequences them, and each pack executes a tool-calling
// loop against a local LLM with an optional cloud fallback. Every run is
// recorded as an append-only JSONL event log under the workspace, with a
// checkpoint for crash recovery and a searchable run index.
//
// # Quick Start
//
// Create an engine with a workspace-rooted sandbox and a provider:
//
//	client := openaicompat.New("http://localhost:11434/v1", "qwen3:latest")
//	repo, _ := runfs.Open(workspace)
//
//	eng, err := taskforce.NewEngine(
//		taskforce.WithChatClient(client),
//		taskforce.WithPackBuilder(packs.New().Build),
//		taskforce.WithRunRepository(repo),
//		taskforce.WithCheckpointStore(repo),
//	)
//
//	result, err := eng.Run(ctx, taskforce.Task{Prompt: "fix the failing tests"})
//
// # Core Interfaces
//
// The root package defines the contracts that all components implement:
//
//   - [ChatClient] — LLM backend (chat completion with tool calling)
//   - [SpecialistPack] — a recruitable specialist: system prompt, tool
//     surface, finish contract, and tool execution
//   - [Recruiter] — task-to-specialists routing
//   - [RunRepository], [CheckpointStore], [RunIndex] — run persistence
//   - [Tracer] — span-based tracing hooks
//
// # Included Implementations
//
// Providers: provider/openaicompat (OpenAI-compatible APIs, local or cloud),
// provider/ollama (native Ollama quirks on top of openaicompat).
// Storage: store/runfs (run directories, checkpoints, semantic run index),
// store/sqlite (web research cache).
// Tools: tools/fsops, tools/shell, tools/tester, tools/web, tools/browser.
//
// See the cmd/taskforce directory for the command-line entry point.
package taskforce
