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

package agent

import (
	"context"
	"strings"

	"github.com/praxisworks/praxis/pkg/llms"
	"github.com/praxisworks/praxis/pkg/observability"
	"github.com/praxisworks/praxis/pkg/protocol"
	"github.com/praxisworks/praxis/pkg/skills"
	"github.com/praxisworks/praxis/pkg/tools"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const outputPreviewChars = 200

// StepResult is what one step execution produced. ErrKind is empty when the
// step ran without an infrastructure failure; Output may still carry a
// domain "Error: ..." string for the supervisor to judge.
type StepResult struct {
	Output     string
	ErrKind    protocol.ErrorKind
	Suspension *skills.Suspension
	Usage      protocol.Usage
}

// StepExecutor runs a single plan step and emits streaming events. It never
// lets a raw error escape: everything maps to the error taxonomy.
type StepExecutor struct {
	registry *tools.ScopedRegistry
	skillReg *skills.Registry
	engine   *skills.Engine
	llm      llms.LLM
	ambient  *tools.Ambient
	ctxInfo  skills.ContextInfo
}

func NewStepExecutor(registry *tools.ScopedRegistry, skillReg *skills.Registry, engine *skills.Engine, llm llms.LLM, ambient *tools.Ambient, ctxInfo skills.ContextInfo) *StepExecutor {
	return &StepExecutor{
		registry: registry,
		skillReg: skillReg,
		engine:   engine,
		llm:      llm,
		ambient:  ambient,
		ctxInfo:  ctxInfo,
	}
}

// Run executes one step. Each step starts a fresh tool rate-limit window.
func (e *StepExecutor) Run(ctx context.Context, step *protocol.PlanStep, transcript string, emit func(protocol.Event)) StepResult {
	tracer := observability.GetTracer("praxis.agent")
	ctx, span := tracer.Start(ctx, observability.SpanStepExecution,
		trace.WithAttributes(
			attribute.String(observability.AttrStepID, step.ID),
			attribute.String(observability.AttrToolName, step.Target),
		))
	defer span.End()

	e.registry.ResetWindow()

	var result StepResult
	switch step.Kind {
	case protocol.StepTool:
		result = e.runTool(ctx, step, emit)
	case protocol.StepSkill:
		result = e.runSkill(ctx, step, emit)
	case protocol.StepCompletion:
		result = e.runCompletion(ctx, step, transcript)
	default:
		result = StepResult{
			Output:  "Error: unknown step kind",
			ErrKind: protocol.ErrPlanInvalid,
		}
	}

	if result.ErrKind != "" {
		span.SetAttributes(attribute.String(observability.AttrErrorKind, string(result.ErrKind)))
		span.SetStatus(codes.Error, string(result.ErrKind))
	} else {
		span.SetStatus(codes.Ok, "")
	}
	return result
}

func (e *StepExecutor) runTool(ctx context.Context, step *protocol.PlanStep, emit func(protocol.Event)) StepResult {
	hint := ""
	if tool, lookupErr := e.registry.Lookup(step.Target); lookupErr == nil {
		hint = tool.Info().RenderActivityHint(protocol.SanitizeArgs(step.Args))
	}
	emit(protocol.ToolStartedEvent(step.ID, step.Target, hint))

	// Stream incremental chunks as activity events while the tool runs.
	activityCh := make(chan string, 16)
	forwardDone := make(chan struct{})
	go func() {
		defer close(forwardDone)
		for chunk := range activityCh {
			emit(protocol.ToolActivityEvent(step.ID, chunk))
		}
	}()

	output, err := e.registry.ExecuteStreaming(ctx, step.Target, step.Args, e.ambient, activityCh)
	close(activityCh)
	<-forwardDone

	if err != nil {
		ae := protocol.AsAgentError(err)
		emit(protocol.ToolFinishedEvent(step.ID, step.Target, "error", ae.Message))
		return StepResult{Output: "Error: " + ae.Message, ErrKind: ae.Kind}
	}

	status := "success"
	if tools.IsErrorResult(output) {
		status = "error"
	}
	emit(protocol.ToolFinishedEvent(step.ID, step.Target, status, observability.Preview(output, outputPreviewChars)))
	return StepResult{Output: output}
}

func (e *StepExecutor) runSkill(ctx context.Context, step *protocol.PlanStep, emit func(protocol.Event)) StepResult {
	return e.runSkillWith(ctx, step, emit, nil, "")
}

// ResumeSkill continues a suspended skill step with the operator's answer.
func (e *StepExecutor) ResumeSkill(ctx context.Context, step *protocol.PlanStep, suspension *skills.Suspension, answer string, emit func(protocol.Event)) StepResult {
	return e.runSkillWith(ctx, step, emit, suspension, answer)
}

func (e *StepExecutor) runSkillWith(ctx context.Context, step *protocol.PlanStep, emit func(protocol.Event), resume *skills.Suspension, answer string) StepResult {
	skill, ok := e.skillReg.Get(step.Target)
	if !ok {
		return StepResult{
			Output:  "Error: unknown skill " + step.Target,
			ErrKind: protocol.ErrToolNotFound,
		}
	}

	prompt := step.Label
	if p, ok := step.Args["prompt"].(string); ok && p != "" {
		prompt = p
	}
	if step.RetryFeedback != "" {
		prompt += "\nFeedback from the previous attempt: " + step.RetryFeedback
	}

	result, err := e.engine.Run(ctx, skills.RunInput{
		Skill:      skill,
		StepID:     step.ID,
		Prompt:     prompt,
		Registry:   e.registry,
		Ambient:    e.ambient,
		Context:    e.ctxInfo,
		Resume:     resume,
		HitlAnswer: answer,
	}, func(ev skills.Event) {
		switch ev.Kind {
		case skills.EventToolStarted:
			emit(protocol.ToolStartedEvent(step.ID, ev.Tool, ev.Hint))
		case skills.EventToolFinished:
			emit(protocol.ToolFinishedEvent(step.ID, ev.Tool, "success", ev.Preview))
		case skills.EventHitlPending:
			emit(protocol.HitlPendingEvent(step.ID, ev.Question))
		}
	})
	if err != nil {
		ae := protocol.AsAgentError(err)
		return StepResult{Output: "Error: " + ae.Message, ErrKind: ae.Kind}
	}

	out := StepResult{Usage: result.Usage, Suspension: result.Suspension}
	if result.Suspension == nil {
		out.Output = result.Final
	}
	return out
}

func (e *StepExecutor) runCompletion(ctx context.Context, step *protocol.PlanStep, transcript string) StepResult {
	var messages []protocol.Message
	if transcript != "" {
		messages = append(messages, protocol.Message{Role: protocol.RoleUser, Content: transcript})
	}
	if prompt, ok := step.Args["prompt"].(string); ok && prompt != "" {
		messages = append(messages, protocol.Message{Role: protocol.RoleUser, Content: prompt})
	}
	if len(messages) == 0 {
		messages = append(messages, protocol.Message{Role: protocol.RoleUser, Content: step.Label})
	}
	if step.RetryFeedback != "" {
		messages = append(messages, protocol.Message{
			Role:    protocol.RoleUser,
			Content: "Feedback on your previous answer: " + step.RetryFeedback,
		})
	}

	resp, err := e.llm.Generate(ctx, llms.Request{Messages: messages})
	if err != nil {
		ae := protocol.AsAgentError(err)
		return StepResult{Output: "Error: " + ae.Message, ErrKind: ae.Kind}
	}

	text := strings.TrimSpace(resp.Text)
	return StepResult{Output: text, Usage: resp.Usage}
}
