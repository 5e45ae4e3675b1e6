package taskforce

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"

	"golang.org/x/text/unicode/norm"
)

// capabilityKeywords maps capability ids to trigger keywords, in priority
// order. Inference scans the prompt for each capability's keywords and
// returns the capabilities that hit, preserving this order.
var capabilityKeywords = []struct {
	ID       string
	Keywords []string
}{
	{"code", []string{"code", "bug", "fix", "implement", "refactor", "function", "compile", "build", "script", "program"}},
	{"testing", []string{"test", "pytest", "coverage", "regression", "unit test"}},
	{"files", []string{"file", "folder", "directory", "rename", "organize", "organise", "write", "read"}},
	{"web_research", []string{"search", "research", "web", "investigate", "news", "documentation", "look up", "compare"}},
	{"shell", []string{"command", "install", "run", "execute", "deploy", "setup"}},
	{"analysis", []string{"analyze", "analyse", "summarize", "summarise", "explain", "report"}},
	{"automation", []string{"automate", "batch", "convert", "migrate", "clean up"}},
}

// codeishKeywords drive the last-resort routing heuristic.
var codeishKeywords = []string{
	"code", "bug", "fix", "implement", "test", "build", "compile",
	"script", "function", "error", "refactor", "debug",
}

// normalizeForMatch folds a prompt for keyword matching. NFKC handles
// fullwidth Latin and ligatures so disguised prompts still match.
func normalizeForMatch(s string) string {
	return strings.ToLower(norm.NFKC.String(s))
}

// InferCapabilities returns the capabilities whose keywords appear in the
// prompt, in capabilityKeywords order. Matching is case-insensitive
// substring after unicode normalisation.
func InferCapabilities(prompt string) []string {
	p := normalizeForMatch(prompt)
	var out []string
	for _, c := range capabilityKeywords {
		for _, kw := range c.Keywords {
			if strings.Contains(p, kw) {
				out = append(out, c.ID)
				break
			}
		}
	}
	return out
}

// Recruiter turns a task into an OrchestrationPlan. It tries the
// orchestrator LLM first, then LLM capability routing, then keyword
// routing; the plan records which path produced it.
type Recruiter struct {
	registry *Registry
	client   ChatClient
	model    string
	logger   *slog.Logger
	tracer   Tracer
}

// RecruiterOption configures a Recruiter.
type RecruiterOption func(*Recruiter)

// RecruiterWithClient sets the LLM used for orchestration and capability
// routing. Without a client the recruiter goes straight to keywords.
func RecruiterWithClient(c ChatClient, model string) RecruiterOption {
	return func(r *Recruiter) { r.client = c; r.model = model }
}

// RecruiterWithLogger sets the structured logger.
func RecruiterWithLogger(l *slog.Logger) RecruiterOption {
	return func(r *Recruiter) { r.logger = l }
}

// RecruiterWithTracer sets the tracer for recruitment spans.
func RecruiterWithTracer(t Tracer) RecruiterOption {
	return func(r *Recruiter) { r.tracer = t }
}

// NewRecruiter creates a recruiter over the given registry.
func NewRecruiter(registry *Registry, opts ...RecruiterOption) *Recruiter {
	r := &Recruiter{
		registry: registry,
		logger:   nopLogger,
		tracer:   noopTracer{},
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Recruit produces the orchestration plan for a task. An explicit
// task.SpecialistID short-circuits routing; an unknown explicit id is a
// fatal recruit_error.
func (r *Recruiter) Recruit(ctx context.Context, task Task) (*OrchestrationPlan, error) {
	ctx, span := r.tracer.StartSpan(ctx, "recruit",
		StringAttr("prompt_preview", truncateStr(task.Prompt, 80)))
	defer span.End()

	required := InferCapabilities(task.Prompt)

	if task.SpecialistID != "" {
		if _, ok := r.registry.Get(task.SpecialistID); !ok {
			err := Errf(KindRecruitError, "unknown specialist: %s", task.SpecialistID)
			span.RecordError(err)
			return nil, err
		}
		span.SetAttr(StringAttr("routing_method", RoutingExplicit))
		return r.finalize(&OrchestrationPlan{
			Assignments:          []Assignment{{SpecialistID: task.SpecialistID}},
			Mode:                 ModeSequential,
			RoutingMethod:        RoutingExplicit,
			Reasoning:            "specialist pinned by caller",
			RequiredCapabilities: required,
		}), nil
	}

	if r.client != nil {
		if plan, err := r.orchestrate(ctx, task.Prompt, required); err == nil {
			span.SetAttr(StringAttr("routing_method", plan.RoutingMethod))
			return plan, nil
		} else {
			r.logger.Warn("orchestrator plan failed, falling back", "error", err)
		}
		if plan, err := r.routeByLLMCapabilities(ctx, task.Prompt, required); err == nil {
			span.SetAttr(StringAttr("routing_method", plan.RoutingMethod))
			return plan, nil
		} else {
			r.logger.Warn("capability routing failed, falling back", "error", err)
		}
	}

	plan := r.routeByKeywords(task.Prompt, required)
	span.SetAttr(StringAttr("routing_method", plan.RoutingMethod))
	return plan, nil
}

// finalize enforces plan invariants: assigned ids must exist, multi-
// specialist plans force synthesis, single-specialist plans run
// sequentially.
func (r *Recruiter) finalize(plan *OrchestrationPlan) *OrchestrationPlan {
	kept := plan.Assignments[:0]
	for _, a := range plan.Assignments {
		if _, ok := r.registry.Get(a.SpecialistID); ok {
			kept = append(kept, a)
		}
	}
	plan.Assignments = kept
	if len(plan.Assignments) > 1 {
		plan.SynthesisRequired = true
	} else {
		plan.Mode = ModeSequential
	}
	return plan
}

// orchestrate asks the LLM for a full plan via the create_plan tool.
func (r *Recruiter) orchestrate(ctx context.Context, prompt string, required []string) (*OrchestrationPlan, error) {
	resp, err := r.client.Chat(ctx, ChatRequest{
		Model: r.model,
		Messages: []ChatMessage{
			SystemMessage(r.orchestratorPrompt()),
			UserMessage("Task:\n" + prompt),
		},
		Tools:       []ToolDefinition{r.createPlanTool()},
		Temperature: Temp(0),
	})
	if err != nil {
		return nil, err
	}
	if !resp.HasToolCalls() {
		return nil, Errf(KindRecruitError, "orchestrator returned no tool call")
	}
	tc := resp.ToolCalls[0]
	if tc.ToolName != "create_plan" {
		return nil, Errf(KindRecruitError, "orchestrator called %s, want create_plan", tc.ToolName)
	}
	if tc.HasRawArgs() {
		return nil, Errf(KindRecruitError, "orchestrator arguments were not valid JSON")
	}

	plan := &OrchestrationPlan{
		Mode:                 ModeSequential,
		RoutingMethod:        RoutingOrchestrator,
		RequiredCapabilities: required,
	}
	if mode, ok := StringArg(tc.Arguments, "mode"); ok && mode == ModeParallel {
		plan.Mode = ModeParallel
	}
	if v, ok := BoolArg(tc.Arguments, "synthesis_required"); ok {
		plan.SynthesisRequired = v
	}
	plan.Reasoning, _ = StringArg(tc.Arguments, "reasoning")

	raw, ok := tc.Arguments["assignments"].([]any)
	if !ok {
		return nil, Errf(KindRecruitError, "plan assignments missing or malformed")
	}
	for _, e := range raw {
		m, ok := e.(map[string]any)
		if !ok {
			continue
		}
		var a Assignment
		a.SpecialistID, _ = StringArg(m, "specialist_id")
		a.Brief, _ = StringArg(m, "brief")
		if a.SpecialistID != "" {
			plan.Assignments = append(plan.Assignments, a)
		}
	}
	plan = r.finalize(plan)
	if len(plan.Assignments) == 0 {
		return nil, Errf(KindRecruitError, "plan named no known specialists")
	}
	return plan, nil
}

// routeByLLMCapabilities asks the LLM only which capabilities the task
// needs, then covers them greedily with specialists.
func (r *Recruiter) routeByLLMCapabilities(ctx context.Context, prompt string, required []string) (*OrchestrationPlan, error) {
	resp, err := r.client.Chat(ctx, ChatRequest{
		Model: r.model,
		Messages: []ChatMessage{
			SystemMessage("Classify the task. Call select_capabilities with every capability the task needs, chosen from: " + strings.Join(capabilityIDs(), ", ") + "."),
			UserMessage(prompt),
		},
		Tools:       []ToolDefinition{r.selectCapabilitiesTool()},
		Temperature: Temp(0),
	})
	if err != nil {
		return nil, err
	}
	if !resp.HasToolCalls() || resp.ToolCalls[0].ToolName != "select_capabilities" {
		return nil, Errf(KindRecruitError, "capability routing returned no usable tool call")
	}
	caps, ok := StringSliceArg(resp.ToolCalls[0].Arguments, "capabilities")
	if !ok || len(caps) == 0 {
		return nil, Errf(KindRecruitError, "capability routing selected nothing")
	}

	ids := r.selectGreedy(caps)
	if len(ids) == 0 {
		return nil, Errf(KindRecruitError, "no specialist covers capabilities %v", caps)
	}
	plan := &OrchestrationPlan{
		Mode:                 ModeSequential,
		RoutingMethod:        RoutingLLM,
		Reasoning:            fmt.Sprintf("capabilities %v", caps),
		RequiredCapabilities: required,
	}
	for _, id := range ids {
		plan.Assignments = append(plan.Assignments, Assignment{SpecialistID: id})
	}
	return r.finalize(plan), nil
}

// routeByKeywords is the deterministic path: specialist keyword scoring,
// then greedy coverage of inferred capabilities, then a hardcoded
// engineering-or-research heuristic. It cannot fail.
func (r *Recruiter) routeByKeywords(prompt string, required []string) *OrchestrationPlan {
	p := normalizeForMatch(prompt)

	var best string
	bestScore := 0
	for _, s := range r.registry.All() {
		score := 0
		for _, kw := range s.Keywords {
			if strings.Contains(p, normalizeForMatch(kw)) {
				score++
			}
		}
		if score > bestScore {
			best, bestScore = s.ID, score
		}
	}
	if best != "" {
		return r.finalize(&OrchestrationPlan{
			Assignments:          []Assignment{{SpecialistID: best}},
			Mode:                 ModeSequential,
			RoutingMethod:        RoutingKeyword,
			Reasoning:            fmt.Sprintf("keyword score %d", bestScore),
			RequiredCapabilities: required,
		})
	}

	if ids := r.selectGreedy(required); len(ids) > 0 {
		plan := &OrchestrationPlan{
			Mode:                 ModeSequential,
			RoutingMethod:        RoutingKeyword,
			Reasoning:            fmt.Sprintf("greedy cover of %v", required),
			RequiredCapabilities: required,
		}
		for _, id := range ids {
			plan.Assignments = append(plan.Assignments, Assignment{SpecialistID: id})
		}
		return r.finalize(plan)
	}

	id := "research"
	for _, kw := range codeishKeywords {
		if strings.Contains(p, kw) {
			id = "engineering"
			break
		}
	}
	return r.finalize(&OrchestrationPlan{
		Assignments:          []Assignment{{SpecialistID: id}},
		Mode:                 ModeSequential,
		RoutingMethod:        RoutingKeywordFallback,
		Reasoning:            "no keyword or capability signal; default heuristic",
		RequiredCapabilities: required,
	})
}

// selectGreedy covers required with specialists' declared capabilities:
// repeatedly take the specialist covering the most uncovered capabilities,
// ties broken by registry order. Result follows registry order.
func (r *Recruiter) selectGreedy(required []string) []string {
	uncovered := make(map[string]bool, len(required))
	for _, c := range required {
		uncovered[c] = true
	}
	chosen := make(map[string]bool)

	for len(uncovered) > 0 {
		var best string
		bestCover := 0
		for _, s := range r.registry.All() {
			if chosen[s.ID] {
				continue
			}
			cover := 0
			for _, c := range s.Capabilities {
				if uncovered[c] {
					cover++
				}
			}
			if cover > bestCover {
				best, bestCover = s.ID, cover
			}
		}
		if best == "" {
			break // nothing covers any remaining capability
		}
		chosen[best] = true
		for _, c := range r.registry.specs[best].Capabilities {
			delete(uncovered, c)
		}
	}

	var out []string
	for _, id := range r.registry.IDs() {
		if chosen[id] {
			out = append(out, id)
		}
	}
	return out
}

func (r *Recruiter) orchestratorPrompt() string {
	var b strings.Builder
	b.WriteString("You are the orchestrator of a local agent task force. Read the task and produce an execution plan by calling create_plan exactly once.\n\nAvailable specialists:\n")
	for _, s := range r.registry.All() {
		fmt.Fprintf(&b, "- %s: %s (capabilities: %s)\n", s.ID, s.Description, strings.Join(s.Capabilities, ", "))
	}
	b.WriteString(`
Guidelines:
- Use one specialist when one suffices. Recruit more only when the task has clearly separable parts.
- mode "parallel" only when the parts are independent; otherwise "sequential".
- Give each specialist a one-sentence brief scoped to its part.
- Set synthesis_required=true when results from multiple specialists must be combined.`)
	return b.String()
}

func (r *Recruiter) createPlanTool() ToolDefinition {
	ids := strings.Join(r.registry.IDs(), `","`)
	return ToolDefinition{
		Name:        "create_plan",
		Description: "Produce the execution plan for this task.",
		Parameters: json.RawMessage(`{"type":"object","properties":{` +
			`"assignments":{"type":"array","items":{"type":"object","properties":{` +
			`"specialist_id":{"type":"string","enum":["` + ids + `"]},` +
			`"brief":{"type":"string","description":"This specialist's sub-task"}},` +
			`"required":["specialist_id"]}},` +
			`"mode":{"type":"string","enum":["sequential","parallel"]},` +
			`"synthesis_required":{"type":"boolean"},` +
			`"reasoning":{"type":"string"}},` +
			`"required":["assignments","mode","reasoning"]}`),
	}
}

func (r *Recruiter) selectCapabilitiesTool() ToolDefinition {
	ids := strings.Join(capabilityIDs(), `","`)
	return ToolDefinition{
		Name:        "select_capabilities",
		Description: "Report which capabilities the task needs.",
		Parameters: json.RawMessage(`{"type":"object","properties":{` +
			`"capabilities":{"type":"array","items":{"type":"string","enum":["` + ids + `"]}}},` +
			`"required":["capabilities"]}`),
	}
}

func capabilityIDs() []string {
	out := make([]string, len(capabilityKeywords))
	for i, c := range capabilityKeywords {
		out[i] = c.ID
	}
	return out
}
