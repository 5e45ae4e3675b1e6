package taskforce

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
)

// --- pack execution loop ---

const (
	// MaxPlainTextRetries is how many corrective reprompts a specialist
	// gets when it answers in plain text instead of calling a tool. The
	// next plain-text answer becomes the final summary.
	MaxPlainTextRetries = 2
	// LoopDetectThreshold is how many identical tool signatures within
	// LoopDetectWindow trigger a loop warning.
	LoopDetectThreshold = 2
	// LoopDetectWindow bounds the signature history used for loop detection.
	LoopDetectWindow = 8
	// DefaultMaxSteps bounds a specialist's turns when neither its config
	// nor the engine overrides it.
	DefaultMaxSteps = 16
)

// maxToolResultMessageLen is the maximum rune length for a tool result stored
// in the transcript. Oversized results are truncated before they reach the
// model; the run log keeps the full result.
const maxToolResultMessageLen = 100_000 // ~25K tokens

// contentPreviewLen bounds the content preview carried by llm_response events.
const contentPreviewLen = 200

// emitFunc appends one event to the run log. The coordinator binds it to
// the run repository and any live event subscribers.
type emitFunc func(kind EventKind, step string, payload map[string]any) error

// packRunner drives one specialist pack through a bounded tool loop:
// LLM call, tool dispatch, termination gates. One runner per specialist per
// run; runners never share state.
type packRunner struct {
	pack       SpecialistPack
	client     ChatClient
	model      string
	emit       emitFunc
	stepPrefix string // specialist id in task-force mode, "" when single
	maxSteps   int
	logger     *slog.Logger
	tracer     Tracer
}

// loopState is the per-run mutable state the gates read.
type loopState struct {
	anyNonFinishToolCalled bool
	consecutivePlainText   int
	history                []string // bounded to LoopDetectWindow signatures
	finishPayload          map[string]any
}

// run executes the pack loop over an initial transcript and returns the
// final payload. The transcript is appended to in place and never rewritten.
// Open is called before step 0 and Close on every exit path.
func (pr *packRunner) run(ctx context.Context, messages []ChatMessage) (map[string]any, error) {
	ctx, span := pr.tracer.StartSpan(ctx, "pack_loop",
		StringAttr("specialist_id", pr.pack.SpecialistID()),
		IntAttr("max_steps", pr.maxSteps))
	defer span.End()

	if err := pr.pack.Open(ctx); err != nil {
		span.RecordError(err)
		return nil, WrapErr(KindUnexpected, err, "open pack "+pr.pack.SpecialistID())
	}
	defer func() {
		// Close must run even when the run context was cancelled.
		if err := pr.pack.Close(context.WithoutCancel(ctx)); err != nil {
			pr.logger.Warn("pack close failed",
				"specialist_id", pr.pack.SpecialistID(), "error", err)
		}
	}()

	st := &loopState{}
	tools := pr.pack.ToolDefinitions()

	for step := 0; step < pr.maxSteps; step++ {
		stepKey := pr.stepKey(step)

		if err := pr.emit(EventLLMRequest, stepKey, map[string]any{
			"message_count": len(messages),
		}); err != nil {
			return nil, err
		}

		resp, err := pr.client.Chat(ctx, ChatRequest{
			Messages: messages,
			Model:    pr.model,
			Tools:    tools,
		})
		pr.drainFallback(stepKey)
		if err != nil {
			span.RecordError(err)
			return nil, classifyChatErr(err)
		}

		if err := pr.emit(EventLLMResponse, stepKey, map[string]any{
			"content_preview": truncateStr(resp.Content, contentPreviewLen),
			"tool_call_names": toolCallNames(resp.ToolCalls),
		}); err != nil {
			return nil, err
		}

		if !resp.HasToolCalls() {
			if st.consecutivePlainText < MaxPlainTextRetries {
				st.consecutivePlainText++
				messages = append(messages, AssistantMessage(resp.Content))
				messages = append(messages, UserMessage(pr.correctivePrompt(tools)))
				if err := pr.emit(EventCorrectiveReprompt, stepKey, map[string]any{
					"reason":  "no_tool_calls",
					"attempt": st.consecutivePlainText,
					"max":     MaxPlainTextRetries,
				}); err != nil {
					return nil, err
				}
				continue
			}
			// Out of retries: the model's text becomes the result.
			st.finishPayload = map[string]any{
				"action":     "final",
				"summary":    resp.Content,
				"artifacts":  []any{},
				"next_steps": []any{},
				"notes": fmt.Sprintf("model answered in plain text %d times in a row; its last message is the result",
					MaxPlainTextRetries+1),
			}
			break
		}

		st.consecutivePlainText = 0
		messages = append(messages, ChatMessage{
			Role:      "assistant",
			Content:   resp.Content,
			ToolCalls: resp.ToolCalls,
		})

		for _, tc := range resp.ToolCalls {
			if err := pr.emit(EventToolCall, stepKey, map[string]any{
				"name": tc.ToolName,
				"args": tc.Arguments,
			}); err != nil {
				return nil, err
			}

			var msgs []ChatMessage
			var err error
			if tc.ToolName == pr.pack.FinishToolName() {
				msgs, err = pr.handleFinish(stepKey, tc, st)
			} else {
				msgs, err = pr.handleTool(ctx, stepKey, tc, st)
			}
			if err != nil {
				span.RecordError(err)
				return nil, err
			}
			messages = append(messages, msgs...)
			if st.finishPayload != nil {
				break
			}
		}

		if st.finishPayload != nil {
			break
		}
	}

	if st.finishPayload == nil {
		st.finishPayload = map[string]any{
			"action": "final",
			"summary": fmt.Sprintf("Reached the step limit (%d) without a finish_task call.",
				pr.maxSteps),
			"artifacts":  []any{},
			"next_steps": []any{},
			"notes":      "max_steps_reached",
		}
	}
	span.SetAttr(BoolAttr("finished", st.anyNonFinishToolCalled))
	return st.finishPayload, nil
}

// handleFinish applies the three finish gates in order. A rejection goes
// back to the model as a tool message; the loop keeps running.
func (pr *packRunner) handleFinish(stepKey string, tc ToolCallRequest, st *loopState) ([]ChatMessage, error) {
	// Gate 1: some real work must precede completion.
	if !st.anyNonFinishToolCalled {
		const reason = "finish_task_called_without_doing_work"
		if err := pr.emit(EventToolResult, stepKey, map[string]any{
			"error": reason,
		}); err != nil {
			return nil, err
		}
		return pr.rejectFinish(tc, reason, "Use your tools to do the task first, then call "+pr.pack.FinishToolName()+" again."), nil
	}

	// Gate 2: required fields must be present.
	if missing := missingFields(tc.Arguments, pr.pack.FinishRequiredFields()); len(missing) > 0 {
		if err := pr.emit(EventToolResult, stepKey, map[string]any{
			"error":   "finish_task_missing_required_fields",
			"missing": missing,
		}); err != nil {
			return nil, err
		}
		return pr.rejectFinish(tc, "finish_task_missing_required_fields",
			"Missing required fields: "+strings.Join(missing, ", ")+". Call "+pr.pack.FinishToolName()+" again with all of them."), nil
	}

	// Gate 3: the pack's quality gate.
	if msg := pr.pack.ValidateFinishPayload(tc.Arguments); msg != "" {
		if err := pr.emit(EventQualityGateFailed, stepKey, map[string]any{
			"reason": msg,
		}); err != nil {
			return nil, err
		}
		return pr.rejectFinish(tc, "quality_gate_failed", msg), nil
	}

	payload := map[string]any{"action": "final"}
	for k, v := range tc.Arguments {
		payload[k] = v
	}
	st.finishPayload = payload
	if err := pr.emit(EventToolResult, stepKey, map[string]any{
		"status": "task_completed",
	}); err != nil {
		return nil, err
	}
	return []ChatMessage{ToolResultMessage(tc.CallID, `{"status":"task_completed"}`)}, nil
}

// rejectFinish builds the tool message a failed gate sends back.
func (pr *packRunner) rejectFinish(tc ToolCallRequest, code, hint string) []ChatMessage {
	body, _ := json.Marshal(map[string]any{"error": code, "hint": hint})
	return []ChatMessage{ToolResultMessage(tc.CallID, string(body))}
}

// handleTool executes a regular tool call: classify failures, record loop
// signatures, and hand the JSON result to the model.
func (pr *packRunner) handleTool(ctx context.Context, stepKey string, tc ToolCallRequest, st *loopState) ([]ChatMessage, error) {
	st.anyNonFinishToolCalled = true

	result, execErr := pr.execTool(ctx, tc.ToolName, tc.Arguments)
	if execErr != nil {
		// Cancellation is never converted into a tool error.
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		kind := KindOf(execErr)
		if err := pr.emit(EventToolError, stepKey, map[string]any{
			"tool":       tc.ToolName,
			"error_type": string(kind),
			"message":    execErr.Error(),
		}); err != nil {
			return nil, err
		}
		if kind == KindPermission {
			if err := pr.emit(EventSecurity, stepKey, map[string]any{
				"event_type": "sandbox_violation",
				"tool":       tc.ToolName,
				"message":    execErr.Error(),
			}); err != nil {
				return nil, err
			}
		}
		result = map[string]any{
			"error":      execErr.Error(),
			"error_type": string(kind),
		}
	} else {
		if err := pr.emit(EventToolResult, stepKey, map[string]any{
			"tool":   tc.ToolName,
			"result": result,
		}); err != nil {
			return nil, err
		}
	}

	body, err := json.Marshal(result)
	if err != nil {
		body = []byte(fmt.Sprintf(`{"error":"result not serialisable: %v"}`, err))
	}
	content := string(body)
	if len([]rune(content)) > maxToolResultMessageLen {
		content = truncateStr(content, maxToolResultMessageLen) + "\n\n[output truncated, original was longer]"
	}
	msgs := []ChatMessage{ToolResultMessage(tc.CallID, content)}

	if warn, count := st.recordSignature(signature(tc)); warn {
		if err := pr.emit(EventLoopDetected, stepKey, map[string]any{
			"tool":  tc.ToolName,
			"count": count,
		}); err != nil {
			return nil, err
		}
		// The warning rides behind the tool result as a user turn.
		pr.logger.Info("tool loop detected", "tool", tc.ToolName, "count", count)
		msgs = append(msgs, UserMessage(fmt.Sprintf(
			"You have called %s with identical arguments %d times. Change your approach or call %s with what you have.",
			tc.ToolName, count, pr.pack.FinishToolName())))
	}
	return msgs, nil
}

// execTool invokes the pack with panic recovery so a buggy tool cannot
// crash the run.
func (pr *packRunner) execTool(ctx context.Context, name string, args map[string]any) (result map[string]any, err error) {
	defer func() {
		if p := recover(); p != nil {
			result = nil
			err = Errf(KindUnexpected, "tool %q panic: %v", name, p)
		}
	}()
	return pr.pack.ExecuteTool(ctx, name, args)
}

// recordSignature appends sig to the bounded history and reports whether it
// now repeats at least LoopDetectThreshold times within the window.
func (st *loopState) recordSignature(sig string) (bool, int) {
	st.history = append(st.history, sig)
	if len(st.history) > LoopDetectWindow {
		st.history = st.history[len(st.history)-LoopDetectWindow:]
	}
	count := 0
	for _, s := range st.history {
		if s == sig {
			count++
		}
	}
	return count >= LoopDetectThreshold, count
}

// missingFields returns the required argument names absent from args.
// Presence is key presence: an explicit null still counts as provided.
func missingFields(args map[string]any, required []string) []string {
	var missing []string
	for _, f := range required {
		if _, ok := args[f]; !ok {
			missing = append(missing, f)
		}
	}
	return missing
}

// signature canonicalises a tool call for repetition detection. Go maps
// marshal with sorted keys, so equal argument maps produce equal strings.
func signature(tc ToolCallRequest) string {
	args, err := json.Marshal(tc.Arguments)
	if err != nil {
		return tc.ToolName
	}
	return tc.ToolName + ":" + string(args)
}

// drainFallback turns queued local-to-cloud retries into cloud_fallback
// events. Clients without a queue are skipped.
func (pr *packRunner) drainFallback(stepKey string) {
	d, ok := pr.client.(interface{ DrainEvents() []FallbackEvent })
	if !ok {
		return
	}
	for _, ev := range d.DrainEvents() {
		if err := pr.emit(EventCloudFallback, stepKey, map[string]any{
			"reason":      ev.Reason,
			"local_model": ev.LocalModel,
			"cloud_model": ev.CloudModel,
		}); err != nil {
			pr.logger.Warn("cloud_fallback event append failed", "error", err)
		}
	}
}

func (pr *packRunner) stepKey(step int) string {
	if pr.stepPrefix == "" {
		return fmt.Sprintf("%d", step)
	}
	return fmt.Sprintf("%s_%d", pr.stepPrefix, step)
}

// correctivePrompt tells a plain-text model what it should have done.
func (pr *packRunner) correctivePrompt(tools []ToolDefinition) string {
	names := make([]string, len(tools))
	for i, t := range tools {
		names[i] = t.Name
	}
	return "You must respond by calling a tool, not with plain text. Available tools: " +
		strings.Join(names, ", ") + ". When the task is done, call " + pr.pack.FinishToolName() + "."
}

func toolCallNames(calls []ToolCallRequest) []string {
	names := make([]string, len(calls))
	for i, tc := range calls {
		names[i] = tc.ToolName
	}
	return names
}

// classifyChatErr maps unclassified chat failures to llm_transport.
func classifyChatErr(err error) error {
	var e *Error
	if errors.As(err, &e) {
		return err
	}
	return WrapErr(KindLLMTransport, err, "chat")
}
