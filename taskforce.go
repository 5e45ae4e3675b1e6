package taskforce

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
)

// maxParallelPacks caps the number of concurrently running specialist
// loops, keeping goroutine count and local-LLM pressure bounded no matter
// what the orchestrator planned.
const maxParallelPacks = 10

// runTaskForce drives the plan: one pack loop per specialist, sequential or
// parallel, then an optional synthesis pass. Per-specialist completions are
// checkpointed as they happen.
func (e *Engine) runTaskForce(ctx context.Context, rc *runContext) (map[string]any, error) {
	assignments := rc.plan.Assignments
	if len(assignments) == 0 {
		return nil, Errf(KindRecruitError, "plan has no assignments")
	}

	if len(assignments) == 1 {
		a := assignments[0]
		payload, err := e.runOnePack(ctx, rc, a, "", "", nil)
		if err != nil {
			return nil, err
		}
		if err := e.recordCompletion(rc, a.SpecialistID, payload); err != nil {
			return nil, err
		}
		return payload, nil
	}

	var payload map[string]any
	var err error
	if rc.plan.Mode == ModeParallel {
		payload, err = e.runParallel(ctx, rc)
	} else {
		payload, err = e.runSequential(ctx, rc)
	}
	if err != nil {
		return nil, err
	}

	if rc.plan.SynthesisRequired {
		payload, err = e.synthesise(ctx, rc, payload)
		if err != nil {
			return nil, err
		}
	}
	return payload, nil
}

// runSequential hands each specialist the previous one's payload as
// context. The last payload becomes the task-force result.
func (e *Engine) runSequential(ctx context.Context, rc *runContext) (map[string]any, error) {
	var prevID string
	var prev, last map[string]any
	for _, a := range rc.plan.Assignments {
		payload, err := e.runOnePack(ctx, rc, a, a.SpecialistID, prevID, prev)
		if err != nil {
			return nil, err
		}
		if err := e.recordCompletion(rc, a.SpecialistID, payload); err != nil {
			return nil, err
		}
		prevID, prev, last = a.SpecialistID, payload, payload
	}
	return last, nil
}

// runParallel launches every specialist at once over the shared workspace
// and merges the outcomes. A failing pack becomes an error entry in
// pack_results; it never takes down its siblings.
func (e *Engine) runParallel(ctx context.Context, rc *runContext) (map[string]any, error) {
	assignments := rc.plan.Assignments
	if err := rc.emit(EventTaskForceParallel, "", map[string]any{
		"specialist_ids": rc.plan.SpecialistIDs(),
		"count":          len(assignments),
	}); err != nil {
		return nil, err
	}

	type indexedResult struct {
		idx     int
		payload map[string]any
		err     error
	}
	resultCh := make(chan indexedResult, len(assignments))
	workCh := make(chan int, len(assignments))
	for i := range assignments {
		workCh <- i
	}
	close(workCh)

	// Fixed worker pool, never more goroutines than assignments.
	numWorkers := min(len(assignments), maxParallelPacks)
	var wg sync.WaitGroup
	wg.Add(numWorkers)
	for range numWorkers {
		go func() {
			defer wg.Done()
			for i := range workCh {
				if ctx.Err() != nil {
					resultCh <- indexedResult{i, nil, ctx.Err()}
					continue
				}
				payload, err := e.safeRunPack(ctx, rc, assignments[i])
				resultCh <- indexedResult{i, payload, err}
			}
		}()
	}
	go func() {
		wg.Wait()
		close(resultCh)
	}()

	payloads := make([]map[string]any, len(assignments))
	errs := make([]error, len(assignments))
	for r := range resultCh {
		payloads[r.idx] = r.payload
		errs[r.idx] = r.err
	}

	packResults := make(map[string]any, len(assignments))
	var summaryParts []string
	for i, a := range assignments {
		sid := a.SpecialistID
		if errs[i] != nil {
			e.logger.Warn("parallel pack failed", "specialist_id", sid, "error", errs[i])
			packResults[sid] = map[string]any{
				"error":      errs[i].Error(),
				"error_type": string(KindOf(errs[i])),
			}
			continue
		}
		packResults[sid] = payloads[i]
		if s, _ := payloads[i]["summary"].(string); s != "" {
			summaryParts = append(summaryParts, sid+": "+s)
		}
		if err := e.recordCompletion(rc, sid, payloads[i]); err != nil {
			return nil, err
		}
	}

	return map[string]any{
		"action":       "final",
		"pack_results": packResults,
		"summary":      strings.Join(summaryParts, " | "),
		"artifacts":    []any{},
		"next_steps":   []any{},
	}, nil
}

// safeRunPack wraps one parallel pack loop with panic recovery, matching
// the per-call recovery inside the loop itself.
func (e *Engine) safeRunPack(ctx context.Context, rc *runContext, a Assignment) (payload map[string]any, err error) {
	defer func() {
		if p := recover(); p != nil {
			payload, err = nil, Errf(KindUnexpected, "pack %q panic: %v", a.SpecialistID, p)
		}
	}()
	return e.runOnePack(ctx, rc, a, a.SpecialistID, "", nil)
}

// runOnePack builds the specialist's pack, seeds its transcript, and runs
// the loop. stepPrefix namespaces its events in task-force mode.
func (e *Engine) runOnePack(ctx context.Context, rc *runContext, a Assignment, stepPrefix, prevID string, prevPayload map[string]any) (map[string]any, error) {
	spec, ok := e.registry.Get(a.SpecialistID)
	if !ok {
		return nil, Errf(KindRecruitError, "unknown specialist: %s", a.SpecialistID)
	}
	if err := rc.emit(EventPackStart, "", map[string]any{
		"specialist_id": a.SpecialistID,
		"model":         rc.model,
		"brief":         a.Brief,
	}); err != nil {
		return nil, err
	}

	pack, err := e.packBuilder(ctx, spec, rc.sandbox)
	if err != nil {
		return nil, WrapErr(KindUnexpected, err, "build pack "+a.SpecialistID)
	}

	messages := []ChatMessage{
		SystemMessage(pack.SystemPrompt()),
		UserMessage(buildTaskMessage(rc.task.Prompt, prevID, prevPayload, a.Brief)),
	}

	maxSteps := e.maxSteps
	if spec.MaxSteps > 0 {
		maxSteps = spec.MaxSteps
	}
	runner := &packRunner{
		pack:       pack,
		client:     e.client,
		model:      rc.model,
		emit:       rc.emit,
		stepPrefix: stepPrefix,
		maxSteps:   maxSteps,
		logger:     e.logger,
		tracer:     e.tracer,
	}
	return runner.run(ctx, messages)
}

// recordCompletion marks one specialist done and checkpoints the run so an
// interruption can resume from the next one.
func (e *Engine) recordCompletion(rc *runContext, sid string, payload map[string]any) error {
	cp := rc.checkpoint
	if !cp.Completed(sid) {
		cp.CompletedSpecialists = append(cp.CompletedSpecialists, sid)
	}
	cp.Payloads[sid] = payload
	cp.UpdatedAt = NowEpoch()
	if err := e.checkpoints.Save(rc.paths.RunDir, cp); err != nil {
		return WrapErr(KindIOError, err, "save checkpoint")
	}
	return nil
}

// buildTaskMessage assembles a specialist's opening user message: the task,
// optional context from the previous task-force member, and its brief.
func buildTaskMessage(prompt, prevID string, prevPayload map[string]any, brief string) string {
	msg := "Task:\n" + prompt
	if prevPayload != nil {
		if ctxJSON, err := json.MarshalIndent(prevPayload, "", "  "); err == nil {
			msg += fmt.Sprintf("\n\nContext from '%s' specialist (prior task-force member):\n%s", prevID, ctxJSON)
		}
	}
	if brief != "" {
		msg += "\n\nYour specific assignment:\n" + brief
	}
	return msg
}

// synthesise runs one extra LLM call to merge multiple specialist payloads
// into a single final payload. Any failure keeps the fallback; only an
// event-log failure propagates.
func (e *Engine) synthesise(ctx context.Context, rc *runContext, fallback map[string]any) (map[string]any, error) {
	payloads := rc.checkpoint.Payloads
	if len(payloads) < 2 {
		return fallback, nil
	}

	var b strings.Builder
	b.WriteString("Combine the task-force results below into one final result. Call synthesise_results exactly once.\n")
	for _, sid := range rc.plan.SpecialistIDs() {
		p, ok := payloads[sid]
		if !ok {
			continue
		}
		j, err := json.MarshalIndent(p, "", "  ")
		if err != nil {
			continue
		}
		fmt.Fprintf(&b, "\nResult from '%s':\n%s\n", sid, j)
	}

	resp, err := e.client.Chat(ctx, ChatRequest{
		Model: rc.model,
		Messages: []ChatMessage{
			SystemMessage("You merge results from multiple specialists into one final answer. Stay faithful to their findings; do not invent work that was not done."),
			UserMessage(b.String()),
		},
		Tools:       []ToolDefinition{synthesiseResultsTool()},
		Temperature: Temp(0),
	})
	if err != nil {
		e.logger.Warn("synthesis call failed, keeping merged payload", "error", err)
		return fallback, nil
	}
	if !resp.HasToolCalls() {
		return fallback, nil
	}
	tc := resp.ToolCalls[0]
	if tc.ToolName != "synthesise_results" || tc.HasRawArgs() {
		return fallback, nil
	}
	if _, ok := StringArg(tc.Arguments, "summary"); !ok {
		return fallback, nil
	}

	final := map[string]any{"action": "final"}
	for k, v := range tc.Arguments {
		final[k] = v
	}
	if err := rc.emit(EventSynthesisComplete, "", map[string]any{
		"summary": final["summary"],
	}); err != nil {
		return nil, err
	}
	return final, nil
}

func synthesiseResultsTool() ToolDefinition {
	return ToolDefinition{
		Name:        "synthesise_results",
		Description: "Merge the specialists' results into the final answer.",
		Parameters: json.RawMessage(`{"type":"object","properties":{` +
			`"summary":{"type":"string","description":"The combined result"},` +
			`"key_findings":{"type":"array","items":{"type":"string"}},` +
			`"artifacts":{"type":"array","items":{"type":"string"}},` +
			`"next_steps":{"type":"array","items":{"type":"string"}}},` +
			`"required":["summary","key_findings"]}`),
	}
}

// Resume continues an interrupted run from its checkpoint.
func (e *Engine) Resume(ctx context.Context, runID string) (*RunResult, error) {
	return e.ResumeStream(ctx, runID, nil)
}

// ResumeStream is Resume with live events, mirroring RunStream. It refuses
// runs without a checkpoint and runs whose specialists all completed. Only
// the uncompleted specialists execute; the checkpoint is deleted once the
// run finishes.
func (e *Engine) ResumeStream(ctx context.Context, runID string, events chan<- RunEvent) (*RunResult, error) {
	ctx, span := e.tracer.StartSpan(ctx, "resume", StringAttr("run_id", runID))
	defer span.End()

	paths, err := e.repo.OpenRun(runID)
	if err != nil {
		span.RecordError(err)
		return nil, WrapErr(KindIOError, err, "open run "+runID)
	}
	cp, err := e.checkpoints.Load(paths.RunDir)
	if err != nil {
		span.RecordError(err)
		return nil, WrapErr(KindIOError, err, "load checkpoint")
	}
	if cp == nil {
		return nil, Errf(KindIOError, "run %s has no checkpoint to resume", runID)
	}

	plan := cp.Plan
	if plan == nil {
		// Older checkpoints carry only the id list; rebuild a minimal plan.
		plan = &OrchestrationPlan{
			Mode:                 cp.TaskForceMode,
			RoutingMethod:        cp.RoutingMethod,
			RequiredCapabilities: cp.RequiredCapabilities,
		}
		for _, sid := range cp.SpecialistIDs {
			plan.Assignments = append(plan.Assignments, Assignment{SpecialistID: sid})
		}
		plan.SynthesisRequired = len(plan.Assignments) > 1
	}

	remaining := 0
	for _, a := range plan.Assignments {
		if !cp.Completed(a.SpecialistID) {
			remaining++
		}
	}
	if remaining == 0 {
		return nil, Errf(KindIOError, "run %s already completed all specialists", runID)
	}

	rc := &runContext{
		task:       Task{Prompt: cp.TaskPrompt, ModelKey: cp.ModelKey},
		plan:       plan,
		paths:      paths,
		emit:       e.makeEmit(runID, events),
		model:      e.ResolveModel(cp.ModelKey),
		modelKey:   cp.ModelKey,
		sandbox:    NewSandbox(cp.WorkspacePath, false, e.allowedCmds),
		checkpoint: cp,
		resumed:    true,
	}

	e.logger.Info("resuming run",
		"run_id", runID,
		"completed", cp.CompletedSpecialists,
		"remaining", remaining)

	// Seed context from the last completed specialist, then drive the rest
	// in plan order. Resumed parallel plans run their stragglers one at a
	// time; the concurrency window already closed with the original run.
	prevID := lastCompleted(cp)
	prevPayload := cp.Payloads[prevID]
	taskForce := len(plan.Assignments) > 1

	var last map[string]any
	for _, a := range plan.Assignments {
		if cp.Completed(a.SpecialistID) {
			last = cp.Payloads[a.SpecialistID]
			continue
		}
		prefix := ""
		if taskForce {
			prefix = a.SpecialistID
		}
		payload, err := e.runOnePack(ctx, rc, a, prefix, prevID, prevPayload)
		if err != nil {
			span.RecordError(err)
			return nil, err
		}
		if err := e.recordCompletion(rc, a.SpecialistID, payload); err != nil {
			return nil, err
		}
		prevID, prevPayload, last = a.SpecialistID, payload, payload
	}

	if plan.SynthesisRequired {
		last, err = e.synthesise(ctx, rc, last)
		if err != nil {
			return nil, err
		}
	}
	return e.finishRun(ctx, rc, last)
}

// lastCompleted returns the most recently completed specialist id, or "".
func lastCompleted(cp *RunCheckpoint) string {
	if len(cp.CompletedSpecialists) == 0 {
		return ""
	}
	return cp.CompletedSpecialists[len(cp.CompletedSpecialists)-1]
}
