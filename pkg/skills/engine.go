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

package skills

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/praxisworks/praxis/pkg/config"
	"github.com/praxisworks/praxis/pkg/llms"
	"github.com/praxisworks/praxis/pkg/observability"
	"github.com/praxisworks/praxis/pkg/protocol"
	"github.com/praxisworks/praxis/pkg/tools"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// askHumanTool is the virtual tool exposed to HITL-enabled skills. Calling it
// suspends the run.
const askHumanTool = "ask_human"

// EventKind tags engine events.
type EventKind string

const (
	EventToolStarted  EventKind = "tool_started"
	EventToolFinished EventKind = "tool_finished"
	EventHitlPending  EventKind = "hitl_pending"
)

// Event is one observable moment of a skill run, forwarded upstream by the
// step executor.
type Event struct {
	Kind     EventKind
	Tool     string
	Hint     string
	Preview  string
	Question string
}

// Suspension is the persisted HITL state: everything needed to rebuild the
// transcript and continue from the pending call. It is stored on the
// Conversation record as JSON.
type Suspension struct {
	Skill       string             `json:"skill"`
	StepID      string             `json:"step_id"`
	Question    string             `json:"question"`
	Messages    []protocol.Message `json:"messages"`
	PendingCall protocol.ToolCall  `json:"pending_call"`
	Iteration   int                `json:"iteration"`
	CreatedAt   time.Time          `json:"created_at"`
}

// Expired reports whether the suspension is past the retention TTL.
func (s *Suspension) Expired(ttl time.Duration) bool {
	return time.Since(s.CreatedAt) > ttl
}

// ContextInfo carries the ownership facts the engine checks before running.
type ContextInfo struct {
	ID           string
	HasWorkspace bool
	Members      []string
	CallerEmail  string
}

// RunInput is one skill invocation.
type RunInput struct {
	Skill    *Skill
	StepID   string
	Prompt   string
	Registry *tools.ScopedRegistry
	Ambient  *tools.Ambient
	Context  ContextInfo

	// Resume continues a suspended run; HitlAnswer is the operator's reply.
	Resume     *Suspension
	HitlAnswer string
}

// RunResult is the outcome of a run; Suspension is set when the run paused
// for confirmation.
type RunResult struct {
	Final      string
	Suspension *Suspension
	Usage      protocol.Usage
}

// Engine executes skills as bounded LLM<->tool loops.
type Engine struct {
	llm llms.LLM
	cfg config.SkillsConfig
}

func NewEngine(llm llms.LLM, cfg config.SkillsConfig) *Engine {
	return &Engine{llm: llm, cfg: cfg}
}

// Run executes the skill loop, emitting events as it goes. When a HITL pause
// occurs the result carries a Suspension instead of a final text.
func (e *Engine) Run(ctx context.Context, in RunInput, emit func(Event)) (*RunResult, error) {
	tracer := observability.GetTracer("praxis.skills")
	ctx, span := tracer.Start(ctx, observability.SpanSkillRun,
		trace.WithAttributes(attribute.String(observability.AttrSkillName, in.Skill.Name)))
	defer span.End()

	if err := e.checkOwnership(in); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, string(protocol.ErrContextDenied))
		return nil, err
	}

	ctx, cancel := context.WithTimeout(ctx, e.cfg.Timeout())
	defer cancel()

	messages, iteration := e.seedTranscript(in, span)
	toolDefs := e.toolDefinitions(in)

	result := &RunResult{}
	for ; iteration < e.cfg.MaxIterations; iteration++ {
		resp, err := e.llm.Generate(ctx, llms.Request{
			System:   in.Skill.SystemPrompt,
			Messages: messages,
			Tools:    toolDefs,
		})
		if err != nil {
			if ctx.Err() == context.DeadlineExceeded {
				return nil, protocol.Errorf(protocol.ErrToolTimeout, "skill %q timed out", in.Skill.Name)
			}
			span.RecordError(err)
			return nil, err
		}
		result.Usage.Add(resp.Usage)

		if len(resp.ToolCalls) == 0 {
			result.Final = resp.Text
			span.SetStatus(codes.Ok, "")
			return result, nil
		}

		messages = append(messages, protocol.Message{
			Role:      protocol.RoleAssistant,
			Content:   resp.Text,
			ToolCalls: resp.ToolCalls,
		})

		for _, call := range resp.ToolCalls {
			if call.Name == askHumanTool && in.Skill.HITL {
				question, _ := call.Arguments["question"].(string)
				if question == "" {
					question = "The skill requests confirmation to proceed."
				}
				suspension := &Suspension{
					Skill:       in.Skill.Name,
					StepID:      in.StepID,
					Question:    question,
					Messages:    messages,
					PendingCall: call,
					Iteration:   iteration,
					CreatedAt:   time.Now(),
				}
				emit(Event{Kind: EventHitlPending, Question: question})
				span.AddEvent(observability.EventHitlSuspended)
				result.Suspension = suspension
				return result, nil
			}

			output := e.invokeTool(ctx, in, call, emit)
			messages = append(messages, protocol.Message{
				Role:       protocol.RoleTool,
				Content:    output,
				ToolCallID: call.ID,
				Name:       call.Name,
			})
		}
	}

	// Iteration budget exhausted: close with whatever the transcript holds.
	slog.Warn("Skill hit its iteration budget", "skill", in.Skill.Name, "iterations", e.cfg.MaxIterations)
	final, err := e.llm.Generate(ctx, llms.Request{
		System:   in.Skill.SystemPrompt,
		Messages: append(messages, protocol.Message{Role: protocol.RoleUser, Content: "Wrap up now: summarize what was accomplished."}),
	})
	if err != nil {
		return nil, err
	}
	result.Usage.Add(final.Usage)
	result.Final = final.Text
	span.SetStatus(codes.Ok, "")
	return result, nil
}

// seedTranscript builds the starting messages: fresh runs start from the
// prompt; resumed runs rebuild from the suspension and answer the pending
// call with the operator's reply.
func (e *Engine) seedTranscript(in RunInput, span trace.Span) ([]protocol.Message, int) {
	if in.Resume == nil {
		return []protocol.Message{{Role: protocol.RoleUser, Content: in.Prompt}}, 0
	}

	span.AddEvent(observability.EventHitlResumed)
	answer := in.HitlAnswer
	if answer == "" {
		answer = "(no answer provided)"
	}
	messages := append([]protocol.Message{}, in.Resume.Messages...)
	messages = append(messages, protocol.Message{
		Role:       protocol.RoleTool,
		Content:    answer,
		ToolCallID: in.Resume.PendingCall.ID,
		Name:       askHumanTool,
	})
	return messages, in.Resume.Iteration
}

func (e *Engine) checkOwnership(in RunInput) error {
	if in.Skill.RequiresField("cwd") {
		if in.Ambient == nil || in.Ambient.WorkDir == "" || !in.Context.HasWorkspace {
			return protocol.Errorf(protocol.ErrContextDenied,
				"skill %q requires a workspace but context %q declares none", in.Skill.Name, in.Context.ID)
		}
	}
	// Horizontal privilege: a caller identified by email must be a member of
	// the context when a member list exists.
	if len(in.Context.Members) > 0 && in.Context.CallerEmail != "" {
		member := false
		for _, m := range in.Context.Members {
			if m == in.Context.CallerEmail {
				member = true
				break
			}
		}
		if !member {
			return protocol.Errorf(protocol.ErrContextDenied,
				"caller is not a member of context %q", in.Context.ID)
		}
	}
	return nil
}

// toolDefinitions exposes exactly the skill's permitted tools, plus the
// virtual HITL tool when enabled.
func (e *Engine) toolDefinitions(in RunInput) []llms.ToolDefinition {
	var defs []llms.ToolDefinition
	for _, info := range in.Registry.ListTools() {
		if !in.Skill.Permits(info.Name) {
			continue
		}
		defs = append(defs, llms.ToolDefinition{
			Name:        info.Name,
			Description: info.Description,
			Parameters:  info.Parameters,
		})
	}
	if in.Skill.HITL {
		defs = append(defs, llms.ToolDefinition{
			Name:        askHumanTool,
			Description: "Ask the human operator a yes/no or short question and wait for the answer.",
			Parameters: map[string]any{
				"type": "object",
				"properties": map[string]any{
					"question": map[string]any{"type": "string"},
				},
				"required": []string{"question"},
			},
		})
	}
	return defs
}

// invokeTool runs one permitted tool call; every failure becomes a tool-role
// message so the loop can react.
func (e *Engine) invokeTool(ctx context.Context, in RunInput, call protocol.ToolCall, emit func(Event)) string {
	if !in.Skill.Permits(call.Name) {
		return fmt.Sprintf("Error: tool %q is not permitted for skill %q", call.Name, in.Skill.Name)
	}

	ambient := *in.Ambient
	ambient.Caller = in.Skill.Name

	var hint string
	if tool, lookupErr := in.Registry.Lookup(call.Name); lookupErr == nil {
		hint = tool.Info().RenderActivityHint(protocol.SanitizeArgs(call.Arguments))
	}
	emit(Event{Kind: EventToolStarted, Tool: call.Name, Hint: hint})

	output, err := in.Registry.Execute(ctx, call.Name, call.Arguments, &ambient)
	if err != nil {
		output = "Error: " + protocol.AsAgentError(err).Message
	}

	emit(Event{Kind: EventToolFinished, Tool: call.Name, Preview: observability.Preview(output, 200)})
	return output
}
