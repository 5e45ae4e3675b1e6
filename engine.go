package taskforce

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
)

// Engine is the orchestrator facade: it recruits specialists for a task,
// drives their pack loops per the plan, and persists the run. One Engine
// serves many runs; per-run state lives in runContext.
type Engine struct {
	client      ChatClient
	models      map[string]string // model key → model name
	registry    *Registry
	recruiter   *Recruiter
	packBuilder PackBuilder
	repo        RunRepository
	checkpoints CheckpointStore
	index       RunIndex // nil disables cross-run indexing
	allowedCmds []string // nil selects DefaultAllowedCommands
	maxSteps    int
	logger      *slog.Logger
	tracer      Tracer
}

// EngineOption configures an Engine.
type EngineOption func(*Engine)

// WithChatClient sets the LLM backend. Required.
func WithChatClient(c ChatClient) EngineOption {
	return func(e *Engine) { e.client = c }
}

// WithModels maps model keys ("fast", "quality") to backend model names.
// Unmapped keys pass through as literal model names.
func WithModels(m map[string]string) EngineOption {
	return func(e *Engine) { e.models = m }
}

// WithRegistry replaces the builtin specialist registry.
func WithRegistry(r *Registry) EngineOption {
	return func(e *Engine) { e.registry = r }
}

// WithPackBuilder sets the specialist-to-pack builder. Required; the packs
// package provides the full-featured one.
func WithPackBuilder(b PackBuilder) EngineOption {
	return func(e *Engine) { e.packBuilder = b }
}

// WithRunRepository sets the run directory store. Required.
func WithRunRepository(r RunRepository) EngineOption {
	return func(e *Engine) { e.repo = r }
}

// WithCheckpointStore sets the checkpoint store. Required.
func WithCheckpointStore(c CheckpointStore) EngineOption {
	return func(e *Engine) { e.checkpoints = c }
}

// WithRunIndex enables cross-run indexing.
func WithRunIndex(i RunIndex) EngineOption {
	return func(e *Engine) { e.index = i }
}

// WithRecruiter replaces the default recruiter.
func WithRecruiter(r *Recruiter) EngineOption {
	return func(e *Engine) { e.recruiter = r }
}

// WithAllowedCommands replaces the sandbox command allowlist for all runs.
func WithAllowedCommands(cmds []string) EngineOption {
	return func(e *Engine) { e.allowedCmds = cmds }
}

// WithMaxSteps bounds each specialist's loop. Per-specialist config wins.
func WithMaxSteps(n int) EngineOption {
	return func(e *Engine) { e.maxSteps = n }
}

// WithLogger replaces the no-op logger with structured slog output.
func WithLogger(l *slog.Logger) EngineOption {
	return func(e *Engine) { e.logger = l }
}

// WithTracer sets the tracer; the observer package provides an
// OpenTelemetry-backed one.
func WithTracer(t Tracer) EngineOption {
	return func(e *Engine) { e.tracer = t }
}

// NewEngine builds an engine. The chat client, pack builder, run
// repository, and checkpoint store are required; everything else has
// defaults.
func NewEngine(opts ...EngineOption) (*Engine, error) {
	e := &Engine{
		maxSteps: DefaultMaxSteps,
		logger:   nopLogger,
		tracer:   noopTracer{},
	}
	for _, opt := range opts {
		opt(e)
	}
	switch {
	case e.client == nil:
		return nil, fmt.Errorf("taskforce: engine needs a chat client")
	case e.packBuilder == nil:
		return nil, fmt.Errorf("taskforce: engine needs a pack builder")
	case e.repo == nil:
		return nil, fmt.Errorf("taskforce: engine needs a run repository")
	case e.checkpoints == nil:
		return nil, fmt.Errorf("taskforce: engine needs a checkpoint store")
	}
	if e.registry == nil {
		e.registry = NewRegistry()
	}
	if e.recruiter == nil {
		e.recruiter = NewRecruiter(e.registry,
			RecruiterWithClient(e.client, e.ResolveModel(DefaultModelKey)),
			RecruiterWithLogger(e.logger),
			RecruiterWithTracer(e.tracer),
		)
	}
	return e, nil
}

// Registry returns the specialist registry.
func (e *Engine) Registry() *Registry { return e.registry }

// Repository returns the run repository.
func (e *Engine) Repository() RunRepository { return e.repo }

// Checkpoints returns the checkpoint store.
func (e *Engine) Checkpoints() CheckpointStore { return e.checkpoints }

// Index returns the run index, or nil when indexing is disabled.
func (e *Engine) Index() RunIndex { return e.index }

// ResolveModel maps a model key to a backend model name. Unknown keys are
// treated as literal model names; an empty key selects DefaultModelKey.
func (e *Engine) ResolveModel(key string) string {
	if key == "" {
		key = DefaultModelKey
	}
	if name, ok := e.models[key]; ok {
		return name
	}
	return key
}

// Plan recruits specialists for a task without running anything.
func (e *Engine) Plan(ctx context.Context, task Task) (*OrchestrationPlan, error) {
	return e.recruiter.Recruit(ctx, task)
}

// Run executes a task end to end and returns its structured result.
func (e *Engine) Run(ctx context.Context, task Task) (*RunResult, error) {
	return e.RunStream(ctx, task, nil)
}

// RunStream is Run with live events: every event appended to the run log is
// also sent to events (when non-nil). The caller owns the channel and must
// drain it; RunStream returns after the last event is sent and does not
// close the channel.
func (e *Engine) RunStream(ctx context.Context, task Task, events chan<- RunEvent) (*RunResult, error) {
	ctx, span := e.tracer.StartSpan(ctx, "run",
		StringAttr("model_key", task.ModelKey),
		BoolAttr("network_allowed", task.NetworkAllowed))
	defer span.End()

	runID := NewRunID()
	paths, err := e.repo.CreateRun(runID)
	if err != nil {
		span.RecordError(err)
		return nil, WrapErr(KindIOError, err, "create run dir")
	}
	span.SetAttr(StringAttr("run_id", runID))
	emit := e.makeEmit(runID, events)

	plan, err := e.recruiter.Recruit(ctx, task)
	if err != nil {
		span.RecordError(err)
		return nil, err
	}
	if err := emit(EventRecruitment, "", map[string]any{
		"specialist_ids":        plan.SpecialistIDs(),
		"routing_method":        plan.RoutingMethod,
		"required_capabilities": plan.RequiredCapabilities,
		"reasoning":             plan.Reasoning,
	}); err != nil {
		return nil, err
	}
	if err := emit(EventOrchestrationPlan, "", planPayload(plan)); err != nil {
		return nil, err
	}

	rc := &runContext{
		task:     task,
		plan:     plan,
		paths:    paths,
		emit:     emit,
		model:    e.ResolveModel(task.ModelKey),
		modelKey: task.ModelKey,
		sandbox:  NewSandbox(paths.WorkspacePath, task.NetworkAllowed, e.allowedCmds),
	}
	rc.checkpoint = e.newCheckpoint(rc)

	e.logger.Info("run started",
		"run_id", runID,
		"specialist_ids", plan.SpecialistIDs(),
		"routing_method", plan.RoutingMethod,
		"mode", plan.Mode)

	payload, err := e.runTaskForce(ctx, rc)
	if err != nil {
		span.RecordError(err)
		// The checkpoint (if any specialist completed) stays behind for resume.
		return nil, err
	}
	return e.finishRun(ctx, rc, payload)
}

// runContext carries one run's wiring between the engine, the coordinator,
// and the pack runners.
type runContext struct {
	task       Task
	plan       *OrchestrationPlan
	paths      RunPaths
	emit       emitFunc
	model      string
	modelKey   string
	sandbox    *Sandbox
	checkpoint *RunCheckpoint
	resumed    bool
}

// makeEmit binds the run log writer and the optional live event channel.
// Parallel packs call it concurrently; the repository serialises appends.
func (e *Engine) makeEmit(runID string, events chan<- RunEvent) emitFunc {
	return func(kind EventKind, step string, payload map[string]any) error {
		if err := e.repo.AppendEvent(runID, kind, step, payload); err != nil {
			return WrapErr(KindIOError, err, "append event")
		}
		if events != nil {
			events <- RunEvent{TS: NowEpoch(), Kind: kind, Step: step, Payload: payload}
		}
		return nil
	}
}

func (e *Engine) newCheckpoint(rc *runContext) *RunCheckpoint {
	now := NowEpoch()
	return &RunCheckpoint{
		RunID:                rc.paths.RunID,
		RunDir:               rc.paths.RunDir,
		WorkspacePath:        rc.paths.WorkspacePath,
		TaskPrompt:           rc.task.Prompt,
		SpecialistIDs:        rc.plan.SpecialistIDs(),
		CompletedSpecialists: []string{},
		Payloads:             map[string]map[string]any{},
		TaskForceMode:        rc.plan.Mode,
		ModelKey:             rc.modelKey,
		RoutingMethod:        rc.plan.RoutingMethod,
		RequiredCapabilities: rc.plan.RequiredCapabilities,
		Plan:                 rc.plan,
		CreatedAt:            now,
		UpdatedAt:            now,
	}
}

// finishRun emits run_complete, indexes the run, deletes the checkpoint,
// and builds the RunResult.
func (e *Engine) finishRun(ctx context.Context, rc *runContext, payload map[string]any) (*RunResult, error) {
	summary, _ := payload["summary"].(string)
	if err := rc.emit(EventRunComplete, "", map[string]any{
		"specialist_ids": rc.plan.SpecialistIDs(),
		"routing_method": rc.plan.RoutingMethod,
		"resumed":        rc.resumed,
		"summary":        summary,
	}); err != nil {
		return nil, err
	}

	if e.index != nil {
		entry := RunIndexEntry{
			RunID:         rc.paths.RunID,
			Timestamp:     NowEpoch(),
			SpecialistIDs: rc.plan.SpecialistIDs(),
			PromptPrefix:  truncateStr(rc.task.Prompt, promptPrefixLen),
			Summary:       summary,
			WorkspacePath: rc.paths.WorkspacePath,
			RunDir:        rc.paths.RunDir,
			RoutingMethod: rc.plan.RoutingMethod,
			ModelName:     rc.model,
		}
		if err := e.index.Append(ctx, entry); err != nil {
			e.logger.Warn("run index append failed", "run_id", rc.paths.RunID, "error", err)
		}
	}

	if err := e.checkpoints.Delete(rc.paths.RunDir); err != nil {
		e.logger.Warn("checkpoint delete failed", "run_id", rc.paths.RunID, "error", err)
	}

	e.logger.Info("run complete",
		"run_id", rc.paths.RunID,
		"resumed", rc.resumed,
		"summary", truncateStr(summary, 120))

	ids := rc.plan.SpecialistIDs()
	primary := ""
	if len(ids) > 0 {
		primary = ids[0]
	}
	return &RunResult{
		RunID:                rc.paths.RunID,
		RunDir:               rc.paths.RunDir,
		WorkspacePath:        rc.paths.WorkspacePath,
		SpecialistID:         primary,
		SpecialistIDs:        ids,
		ModelName:            rc.model,
		Payload:              payload,
		RequiredCapabilities: rc.plan.RequiredCapabilities,
	}, nil
}

// planPayload renders a plan as the orchestration_plan event payload.
func planPayload(plan *OrchestrationPlan) map[string]any {
	b, err := json.Marshal(plan)
	if err != nil {
		return map[string]any{"routing_method": plan.RoutingMethod}
	}
	var m map[string]any
	if err := json.Unmarshal(b, &m); err != nil {
		return map[string]any{"routing_method": plan.RoutingMethod}
	}
	return m
}
