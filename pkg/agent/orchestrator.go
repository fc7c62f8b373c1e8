// Copyright 2025 Praxis Works
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package agent ties planner, executor, and supervisors together in the
// adaptive orchestration loop, and owns request-level concerns: routing,
// budgets, transcripts, persistence, and the event stream contract (every
// stream ends in exactly one Done or Error).
package agent

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/praxisworks/praxis/pkg/config"
	"github.com/praxisworks/praxis/pkg/fastpath"
	"github.com/praxisworks/praxis/pkg/llms"
	"github.com/praxisworks/praxis/pkg/observability"
	"github.com/praxisworks/praxis/pkg/planner"
	"github.com/praxisworks/praxis/pkg/protocol"
	"github.com/praxisworks/praxis/pkg/skills"
	"github.com/praxisworks/praxis/pkg/tools"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// Route classifies how a request is served.
type Route string

const (
	RouteChat     Route = "chat"
	RouteFastPath Route = "fast_path"
	RouteAgentic  Route = "agentic"
)

// Persistence is the narrow storage view the orchestrator writes through.
type Persistence interface {
	AppendMessages(ctx context.Context, conversationID string, messages []protocol.Message) error
	SetSuspension(ctx context.Context, conversationID, suspension string) error
}

// MemoryUpserter is the optional fire-and-forget memory sink.
type MemoryUpserter interface {
	Upsert(ctx context.Context, text string, metadata map[string]any) error
}

// Options wires one tenant-scoped Orchestrator.
type Options struct {
	Config         config.OrchestrationConfig
	LLM            llms.LLM
	Planner        *planner.Planner
	PlanSupervisor *planner.PlanSupervisor
	StepSupervisor *planner.StepSupervisor
	Executor       *StepExecutor
	Registry       *tools.ScopedRegistry
	Skills         *skills.Registry
	FastPath       *fastpath.Router
	Memory         MemoryUpserter
	Persist        Persistence
	Tasks          *TaskSet

	ContextID      string
	ConversationID string

	// Suspended carries the conversation's serialized HITL envelope, if any.
	Suspended string
	HitlTTL   time.Duration
}

// Orchestrator executes AgentRequests for one context.
type Orchestrator struct {
	opts Options
}

func New(opts Options) *Orchestrator {
	return &Orchestrator{opts: opts}
}

// suspensionEnvelope is the conversation-persisted HITL state: the skill
// suspension plus enough plan state to continue after resume.
type suspensionEnvelope struct {
	Skill      *skills.Suspension `json:"skill"`
	Plan       *protocol.Plan     `json:"plan"`
	StepID     string             `json:"step_id"`
	Done       []string           `json:"done"`
	Transcript string             `json:"transcript"`
	CreatedAt  time.Time          `json:"created_at"`
}

// ExecuteStream runs the request and streams events. The channel closes
// after the single terminal Done or Error event.
func (o *Orchestrator) ExecuteStream(ctx context.Context, req *protocol.AgentRequest) <-chan protocol.Event {
	events := make(chan protocol.Event, 64)
	go o.execute(ctx, req, events)
	return events
}

func (o *Orchestrator) execute(ctx context.Context, req *protocol.AgentRequest, events chan<- protocol.Event) {
	defer close(events)

	start := time.Now()
	traceID := uuid.New().String()

	tracer := observability.GetTracer("praxis.agent")
	ctx, span := tracer.Start(ctx, observability.SpanAgentRequest,
		trace.WithAttributes(
			attribute.String(observability.AttrTraceID, traceID),
			attribute.String(observability.AttrContextID, o.opts.ContextID),
			attribute.String(observability.AttrConversationID, o.opts.ConversationID),
			attribute.String(observability.AttrPromptPreview, observability.Preview(req.Prompt, 120)),
		))
	defer span.End()

	ctx, cancel := context.WithTimeout(ctx, o.opts.Config.RequestTimeout())
	defer cancel()

	emit := func(ev protocol.Event) {
		select {
		case events <- ev:
		case <-ctx.Done():
		}
	}

	route := o.classify(req)
	span.SetAttributes(attribute.String(observability.AttrRoute, string(route)))

	final, usage, agentErr := o.run(ctx, route, req, emit, span)

	// A tripped request deadline dominates whatever error it caused downstream.
	if ctx.Err() != nil && (agentErr != nil || final == "") {
		agentErr = o.contextError(ctx)
	}

	outcome := "done"
	if agentErr != nil {
		outcome = string(agentErr.Kind)
		span.SetAttributes(attribute.String(observability.AttrErrorKind, string(agentErr.Kind)))
		span.SetStatus(codes.Error, agentErr.Message)
	} else {
		span.SetStatus(codes.Ok, "")
	}

	o.persistMessages(req, traceID, final, agentErr, span)

	if agentErr == nil && final != "" {
		o.recordMemory(req.Prompt, final)
	}

	if m := observability.GetGlobalMetrics(); m != nil {
		m.RecordRequest(ctx, string(route), outcome, time.Since(start))
	}

	if agentErr != nil {
		emit(protocol.ErrorEvent(agentErr))
		return
	}
	emit(protocol.DoneEvent(traceID, final, usage))
}

func (o *Orchestrator) contextError(ctx context.Context) *protocol.AgentError {
	if ctx.Err() == context.DeadlineExceeded {
		return protocol.Errorf(protocol.ErrRequestTimeout, "request exceeded its %s deadline", o.opts.Config.RequestTimeout())
	}
	return protocol.Errorf(protocol.ErrRequestCancelled, "request was cancelled")
}

// classify picks the route: metadata override, HITL resume, fast path, chat
// heuristic, agentic default.
func (o *Orchestrator) classify(req *protocol.AgentRequest) Route {
	if req.MetaString(protocol.MetaHitlResume) != "" && o.opts.Suspended != "" {
		return RouteAgentic
	}
	switch req.MetaString(protocol.MetaForceRoute) {
	case string(RouteChat):
		return RouteChat
	case string(RouteAgentic):
		return RouteAgentic
	case string(RouteFastPath):
		return RouteFastPath
	}
	if o.opts.FastPath != nil && o.opts.FastPath.Match(req.Prompt) != nil {
		return RouteFastPath
	}
	if planner.IsConversational(req.Prompt) {
		return RouteChat
	}
	return RouteAgentic
}

func (o *Orchestrator) run(ctx context.Context, route Route, req *protocol.AgentRequest, emit func(protocol.Event), span trace.Span) (string, protocol.Usage, *protocol.AgentError) {
	switch route {
	case RouteChat:
		return o.runChat(ctx, req, emit)
	case RouteFastPath:
		return o.runFastPath(ctx, req, emit)
	default:
		return o.runAgentic(ctx, req, emit, span)
	}
}

// runChat streams a plain completion over the conversation history.
func (o *Orchestrator) runChat(ctx context.Context, req *protocol.AgentRequest, emit func(protocol.Event)) (string, protocol.Usage, *protocol.AgentError) {
	messages := append([]protocol.Message{}, req.Messages...)
	messages = append(messages, protocol.Message{Role: protocol.RoleUser, Content: req.Prompt})

	ch, err := o.opts.LLM.GenerateStreaming(ctx, llms.Request{Messages: messages})
	if err != nil {
		return "", protocol.Usage{}, protocol.AsAgentError(err)
	}

	var final strings.Builder
	var usage protocol.Usage
	for chunk := range ch {
		switch chunk.Type {
		case "text":
			final.WriteString(chunk.Text)
			emit(protocol.TokenEvent(chunk.Text))
		case "done":
			usage = chunk.Usage
		case "error":
			return "", usage, protocol.AsAgentError(chunk.Err)
		}
	}
	clean, _ := llms.StripThinking(final.String())
	return clean, usage, nil
}

// runFastPath executes the matched single tool or skill invocation. Errors
// are surfaced verbatim: no supervisor is involved.
func (o *Orchestrator) runFastPath(ctx context.Context, req *protocol.AgentRequest, emit func(protocol.Event)) (string, protocol.Usage, *protocol.AgentError) {
	inv := o.opts.FastPath.Match(req.Prompt)
	if inv == nil {
		// Forced fast_path with no match degrades to chat.
		return o.runChat(ctx, req, emit)
	}

	step := &protocol.PlanStep{
		ID:     "fp1",
		Label:  inv.Name,
		Kind:   inv.Kind,
		Target: inv.Target,
		Args:   inv.Args,
	}

	result := o.opts.Executor.Run(ctx, step, "", emit)
	if result.ErrKind != "" {
		return "", result.Usage, protocol.NewAgentError(result.ErrKind, result.Output, nil)
	}
	if result.Suspension != nil {
		return o.suspend(ctx, result.Suspension, nil, nil, "")
	}
	return result.Output, result.Usage, nil
}

// runAgentic is the adaptive plan/execute/supervise loop.
func (o *Orchestrator) runAgentic(ctx context.Context, req *protocol.AgentRequest, emit func(protocol.Event), span trace.Span) (string, protocol.Usage, *protocol.AgentError) {
	var usage protocol.Usage

	if req.MetaString(protocol.MetaHitlResume) != "" && o.opts.Suspended != "" {
		return o.resume(ctx, req, emit)
	}

	transcript := NewTranscript(o.opts.Config.TranscriptTokenBudget)
	transcript.Add("user request", req.Prompt)

	plan, err := o.opts.Planner.Plan(ctx, req, req.Messages, o.opts.Registry.ListTools(), o.skillSummaries())
	if err != nil {
		return "", usage, protocol.AsAgentError(err)
	}

	validation := o.opts.PlanSupervisor.Validate(plan, o.resolveTarget)
	if validation.Fatal != "" {
		return "", usage, protocol.Errorf(protocol.ErrPlanInvalid, "plan rejected: %s", validation.Fatal)
	}
	o.noteWarnings(span, validation.Warnings)

	if len(plan.Steps) == 0 {
		return "", usage, protocol.Errorf(protocol.ErrPlanInvalid, "%s", plan.Description)
	}

	if !plan.Conversational {
		emit(protocol.PlanEvent(plan))
	}

	replansLeft := o.opts.Config.MaxReplans
	lastReason := ""
	reasonRepeats := 0

	for {
		loopResult := o.runPlan(ctx, plan, transcript, emit)
		usage.Add(loopResult.usage)

		if loopResult.abort != nil {
			return "", usage, loopResult.abort
		}
		if loopResult.suspension != nil {
			return o.suspend(ctx, loopResult.suspension, plan, loopResult.doneIDs, transcript.Render())
		}
		if loopResult.replanReason == "" {
			break
		}

		// Tight-loop detection: the same normalized reason recurring more
		// than twice escalates to abort.
		normalized := planner.NormalizeReason(loopResult.replanReason)
		if normalized == lastReason {
			reasonRepeats++
		} else {
			lastReason = normalized
			reasonRepeats = 1
		}
		if reasonRepeats > 2 {
			return "", usage, protocol.Errorf(protocol.ErrPlanInvalid,
				"aborted after repeated replans for the same reason: %s", loopResult.replanReason)
		}
		if replansLeft == 0 {
			return "", usage, protocol.Errorf(protocol.ErrPlanInvalid,
				"replan budget exhausted: %s", loopResult.replanReason)
		}
		replansLeft--
		span.AddEvent(observability.EventReplanRequested)
		if m := observability.GetGlobalMetrics(); m != nil {
			m.RecordReplan(ctx, normalized)
		}

		transcript.Add("replan", "Replanning because: "+loopResult.replanReason)

		// Regenerate until a plan survives validation, with each fatal
		// rejection feeding the same loop-detection counters.
		for {
			replanReq := &protocol.AgentRequest{
				Prompt:   req.Prompt + "\n\nProgress so far:\n" + transcript.Render(),
				Metadata: req.Metadata,
			}
			plan, err = o.opts.Planner.Plan(ctx, replanReq, req.Messages, o.opts.Registry.ListTools(), o.skillSummaries())
			if err != nil {
				return "", usage, protocol.AsAgentError(err)
			}
			validation = o.opts.PlanSupervisor.Validate(plan, o.resolveTarget)
			if validation.Fatal == "" {
				break
			}
			transcript.Add("replan rejected", validation.Fatal)
			normalizedFatal := planner.NormalizeReason(validation.Fatal)
			if normalizedFatal == lastReason {
				reasonRepeats++
			} else {
				lastReason = normalizedFatal
				reasonRepeats = 1
			}
			if reasonRepeats > 2 || replansLeft == 0 {
				return "", usage, protocol.Errorf(protocol.ErrPlanInvalid, "plan rejected: %s", validation.Fatal)
			}
			replansLeft--
			span.AddEvent(observability.EventReplanRequested)
		}
		o.noteWarnings(span, validation.Warnings)
		if len(plan.Steps) == 0 {
			return "", usage, protocol.Errorf(protocol.ErrPlanInvalid, "%s", plan.Description)
		}
		if !plan.Conversational {
			emit(protocol.PlanEvent(plan))
		}
	}

	final, synthUsage, synthErr := o.synthesize(ctx, plan, transcript, emit)
	usage.Add(synthUsage)
	if synthErr != nil {
		return "", usage, synthErr
	}
	return final, usage, nil
}

// planLoopResult is one pass over a plan's steps.
type planLoopResult struct {
	replanReason string
	abort        *protocol.AgentError
	suspension   *skills.Suspension
	doneIDs      []string
	usage        protocol.Usage
}

type stepVerdict struct {
	step       *protocol.PlanStep
	outcome    protocol.StepOutcome
	output     string
	suspension *skills.Suspension
	usage      protocol.Usage
}

// runPlan executes the plan's steps in dependency order, fanning out
// independent steps up to the configured parallelism. Retries happen inside
// each worker; REPLAN and ABORT surface after the running batch drains.
func (o *Orchestrator) runPlan(ctx context.Context, plan *protocol.Plan, transcript *Transcript, emit func(protocol.Event)) planLoopResult {
	result := planLoopResult{}
	done := map[string]bool{}

	for len(done) < len(plan.Steps) {
		ready := readySteps(plan, done)
		if len(ready) == 0 {
			result.abort = protocol.Errorf(protocol.ErrInternal, "no runnable steps remain; dependency state is inconsistent")
			return result
		}

		var mu sync.Mutex
		verdicts := make([]stepVerdict, 0, len(ready))

		g, groupCtx := errgroup.WithContext(ctx)
		g.SetLimit(o.opts.Config.StepParallelism)
		snapshot := transcript.Render()

		for _, step := range ready {
			g.Go(func() error {
				verdict := o.runStepWithRetries(groupCtx, step, snapshot, emit)
				mu.Lock()
				verdicts = append(verdicts, verdict)
				mu.Unlock()
				return nil
			})
		}
		_ = g.Wait()

		// Deterministic transcript order regardless of completion order.
		sort.Slice(verdicts, func(i, j int) bool { return verdicts[i].step.ID < verdicts[j].step.ID })

		// Record the batch's successes first, so a suspension or replan in
		// the same batch never loses (or re-runs) completed work.
		for i := range verdicts {
			v := &verdicts[i]
			result.usage.Add(v.usage)
			if m := observability.GetGlobalMetrics(); m != nil {
				m.RecordStep(ctx, string(v.outcome.Status))
			}
			if v.suspension == nil && v.outcome.Status == protocol.OutcomeSuccess {
				done[v.step.ID] = true
				transcript.AddStepResult(v.step, v.output)
			}
		}

		for i := range verdicts {
			v := &verdicts[i]
			if v.suspension != nil {
				result.suspension = v.suspension
				result.doneIDs = keys(done)
				return result
			}

			switch v.outcome.Status {
			case protocol.OutcomeSuccess:
			case protocol.OutcomeReplan:
				transcript.AddStepResult(v.step, v.output)
				result.replanReason = v.outcome.Reason
				return result
			case protocol.OutcomeAbort:
				result.abort = v.outcome.Err
				if result.abort == nil {
					result.abort = protocol.Errorf(protocol.ErrInternal, "step %s aborted", v.step.ID)
				}
				return result
			default:
				// Retry budget exhausted inside the worker.
				result.abort = protocol.Errorf(protocol.ErrToolFailed,
					"step %s failed after %d retries", v.step.ID, o.opts.Config.MaxStepRetries)
				return result
			}
		}
	}

	result.doneIDs = keys(done)
	return result
}

// runStepWithRetries executes one step with its bounded RETRY loop.
func (o *Orchestrator) runStepWithRetries(ctx context.Context, step *protocol.PlanStep, transcript string, emit func(protocol.Event)) stepVerdict {
	verdict := stepVerdict{step: step}

	for attempt := 0; attempt <= o.opts.Config.MaxStepRetries; attempt++ {
		res := o.opts.Executor.Run(ctx, step, transcript, emit)
		verdict.usage.Add(res.Usage)
		verdict.output = res.Output

		if res.Suspension != nil {
			verdict.suspension = res.Suspension
			verdict.outcome = protocol.Success()
			return verdict
		}

		outcome := o.opts.StepSupervisor.Review(ctx, step, res.Output, res.ErrKind, transcript)
		verdict.outcome = outcome

		switch outcome.Status {
		case protocol.OutcomeRetry:
			step.RetryFeedback = outcome.Feedback
			slog.Debug("Retrying step", "step", step.ID, "attempt", attempt+1, "feedback", outcome.Feedback)
			continue
		default:
			return verdict
		}
	}

	// All retries consumed; the last verdict was RETRY.
	verdict.outcome = protocol.StepOutcome{Status: protocol.OutcomeRetry}
	return verdict
}

// synthesize produces the user-facing answer from the transcript. A
// conversational single-completion plan already produced it.
func (o *Orchestrator) synthesize(ctx context.Context, plan *protocol.Plan, transcript *Transcript, emit func(protocol.Event)) (string, protocol.Usage, *protocol.AgentError) {
	if plan.Conversational && len(plan.Steps) == 1 {
		final := lastStepOutput(transcript)
		emit(protocol.TokenEvent(final))
		return final, protocol.Usage{}, nil
	}

	resp, err := o.opts.LLM.Generate(ctx, llms.Request{
		System: "Summarize the completed work into a clear, direct answer for the user. Do not mention internal steps, plans, or tools unless the user asked about them.",
		Messages: []protocol.Message{{
			Role:    protocol.RoleUser,
			Content: transcript.Render(),
		}},
	})
	if err != nil {
		return "", protocol.Usage{}, protocol.AsAgentError(err)
	}

	final := strings.TrimSpace(resp.Text)
	emit(protocol.TokenEvent(final))
	return final, resp.Usage, nil
}

// suspend persists the HITL envelope on the conversation and closes the
// stream with an acknowledgement.
func (o *Orchestrator) suspend(ctx context.Context, s *skills.Suspension, plan *protocol.Plan, doneIDs []string, transcript string) (string, protocol.Usage, *protocol.AgentError) {
	envelope := suspensionEnvelope{
		Skill:      s,
		Plan:       plan,
		StepID:     s.StepID,
		Done:       doneIDs,
		Transcript: transcript,
		CreatedAt:  time.Now().UTC(),
	}
	encoded, err := json.Marshal(envelope)
	if err != nil {
		return "", protocol.Usage{}, protocol.NewAgentError(protocol.ErrInternal, "failed to encode suspension", err)
	}
	if o.opts.Persist != nil {
		if err := o.opts.Persist.SetSuspension(ctx, o.opts.ConversationID, string(encoded)); err != nil {
			return "", protocol.Usage{}, protocol.NewAgentError(protocol.ErrInternal, "failed to persist suspension", err)
		}
	}
	return "Awaiting confirmation: " + s.Question, protocol.Usage{}, nil
}

// resume continues a suspended request from the persisted envelope.
func (o *Orchestrator) resume(ctx context.Context, req *protocol.AgentRequest, emit func(protocol.Event)) (string, protocol.Usage, *protocol.AgentError) {
	var envelope suspensionEnvelope
	if err := json.Unmarshal([]byte(o.opts.Suspended), &envelope); err != nil || envelope.Skill == nil {
		return "", protocol.Usage{}, protocol.NewAgentError(protocol.ErrInternal, "stored confirmation state is unreadable", err)
	}

	clearSuspension := func() {
		if o.opts.Persist != nil {
			if err := o.opts.Persist.SetSuspension(ctx, o.opts.ConversationID, ""); err != nil {
				slog.Warn("Failed to clear suspension", "conversation", o.opts.ConversationID, "error", err)
			}
		}
	}

	ttl := o.opts.HitlTTL
	if ttl > 0 && envelope.Skill != nil && envelope.Skill.Expired(ttl) {
		slog.Info("Discarding expired HITL suspension",
			"conversation", o.opts.ConversationID, "skill", envelope.Skill.Skill, "age", time.Since(envelope.Skill.CreatedAt))
		clearSuspension()
		return "", protocol.Usage{}, protocol.Errorf(protocol.ErrPlanInvalid,
			"the pending confirmation expired; please start over")
	}

	answer := req.MetaString(protocol.MetaHitlAnswer)
	if answer == "" {
		answer = req.Prompt
	}

	var usage protocol.Usage
	transcript := NewTranscript(o.opts.Config.TranscriptTokenBudget)
	if envelope.Transcript != "" {
		transcript.Add("prior progress", envelope.Transcript)
	}

	var step *protocol.PlanStep
	if envelope.Plan != nil {
		step = envelope.Plan.Step(envelope.StepID)
	}
	if step == nil {
		step = &protocol.PlanStep{ID: envelope.StepID, Kind: protocol.StepSkill, Target: envelope.Skill.Skill}
	}

	res := o.opts.Executor.ResumeSkill(ctx, step, envelope.Skill, answer, emit)
	usage.Add(res.Usage)
	if res.ErrKind != "" {
		return "", usage, protocol.NewAgentError(res.ErrKind, res.Output, nil)
	}
	if res.Suspension != nil {
		// The skill asked another question; re-suspend.
		return o.suspend(ctx, res.Suspension, envelope.Plan, envelope.Done, transcript.Render())
	}

	clearSuspension()
	transcript.AddStepResult(step, res.Output)

	// Finish any steps the original plan still owed.
	if envelope.Plan != nil {
		remaining := &protocol.Plan{Description: envelope.Plan.Description}
		doneSet := map[string]bool{envelope.StepID: true}
		for _, id := range envelope.Done {
			doneSet[id] = true
		}
		for _, s := range envelope.Plan.Steps {
			if !doneSet[s.ID] {
				s.DependsOn = pruneDeps(s.DependsOn, doneSet)
				remaining.Steps = append(remaining.Steps, s)
			}
		}
		if len(remaining.Steps) > 0 {
			loopResult := o.runPlan(ctx, remaining, transcript, emit)
			usage.Add(loopResult.usage)
			if loopResult.abort != nil {
				return "", usage, loopResult.abort
			}
			if loopResult.suspension != nil {
				return o.suspend(ctx, loopResult.suspension, remaining, loopResult.doneIDs, transcript.Render())
			}
		}
	}

	final, synthUsage, synthErr := o.synthesize(ctx, &protocol.Plan{}, transcript, emit)
	usage.Add(synthUsage)
	if synthErr != nil {
		return "", usage, synthErr
	}
	return final, usage, nil
}

// persistMessages writes the user and assistant messages once, in one
// transaction, retrying once. Failed persistence degrades: the user still
// gets their final event.
func (o *Orchestrator) persistMessages(req *protocol.AgentRequest, traceID, final string, agentErr *protocol.AgentError, span trace.Span) {
	if o.opts.Persist == nil || o.opts.ConversationID == "" {
		return
	}

	messages := []protocol.Message{{Role: protocol.RoleUser, Content: req.Prompt, TraceID: traceID}}
	if agentErr == nil && final != "" {
		messages = append(messages, protocol.Message{Role: protocol.RoleAssistant, Content: final, TraceID: traceID})
	}

	// Persistence gets its own deadline: the request context may already be
	// expired, and losing messages for that reason alone would be silly.
	persistCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	err := o.opts.Persist.AppendMessages(persistCtx, o.opts.ConversationID, messages)
	if err != nil {
		slog.Warn("Message persistence failed, retrying once", "conversation", o.opts.ConversationID, "error", err)
		if err = o.opts.Persist.AppendMessages(persistCtx, o.opts.ConversationID, messages); err != nil {
			slog.Warn("Message persistence failed twice", "conversation", o.opts.ConversationID, "error", err)
			span.AddEvent(observability.EventPersistenceDegraded)
		}
	}
}

// recordMemory schedules the fire-and-forget background upsert of the turn.
func (o *Orchestrator) recordMemory(prompt, final string) {
	if o.opts.Memory == nil || o.opts.Tasks == nil {
		return
	}
	turn := fmt.Sprintf("User: %s\nAssistant: %s", prompt, final)
	conversationID := o.opts.ConversationID
	memory := o.opts.Memory
	o.opts.Tasks.Go(func(ctx context.Context) {
		if err := memory.Upsert(ctx, turn, map[string]any{"conversation_id": conversationID}); err != nil {
			slog.Warn("Background memory write failed", "conversation", conversationID, "error", err)
		}
	})
}

func (o *Orchestrator) skillSummaries() []planner.SkillSummary {
	if o.opts.Skills == nil {
		return nil
	}
	var out []planner.SkillSummary
	for _, s := range o.opts.Skills.List() {
		out = append(out, planner.SkillSummary{Name: s.Name, Description: s.Description})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

func (o *Orchestrator) resolveTarget(name string) planner.TargetKind {
	if o.opts.Registry.Has(name) {
		return planner.TargetTool
	}
	if o.opts.Skills != nil {
		if _, ok := o.opts.Skills.Get(name); ok {
			return planner.TargetSkill
		}
	}
	return planner.TargetUnknown
}

func (o *Orchestrator) noteWarnings(span trace.Span, warnings []string) {
	for _, w := range warnings {
		span.AddEvent(observability.EventPlanWarning, trace.WithAttributes(attribute.String("warning", w)))
		slog.Warn("Plan warning", "warning", w)
	}
}

func readySteps(plan *protocol.Plan, done map[string]bool) []*protocol.PlanStep {
	var ready []*protocol.PlanStep
	for i := range plan.Steps {
		step := &plan.Steps[i]
		if done[step.ID] {
			continue
		}
		blocked := false
		for _, dep := range step.DependsOn {
			if !done[dep] {
				blocked = true
				break
			}
		}
		if !blocked {
			ready = append(ready, step)
		}
	}
	return ready
}

func pruneDeps(deps []string, done map[string]bool) []string {
	var kept []string
	for _, d := range deps {
		if !done[d] {
			kept = append(kept, d)
		}
	}
	return kept
}

func lastStepOutput(t *Transcript) string {
	if len(t.entries) == 0 {
		return ""
	}
	return t.entries[len(t.entries)-1].content
}

func keys(m map[string]bool) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
