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

// Package planner turns a prompt into a validated plan and judges step
// outcomes: the Planner generates, the PlanSupervisor vets before execution,
// and the StepSupervisor reviews each step after it runs.
package planner

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"

	"github.com/praxisworks/praxis/pkg/config"
	"github.com/praxisworks/praxis/pkg/llms"
	"github.com/praxisworks/praxis/pkg/observability"
	"github.com/praxisworks/praxis/pkg/protocol"
	"github.com/praxisworks/praxis/pkg/tools"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

const truncationMarker = "\n...[input truncated]"

// SkillSummary is the slim skill view the planner prompts with.
type SkillSummary struct {
	Name        string
	Description string
}

// Planner generates structured plans with bounded parse retries.
type Planner struct {
	llm llms.LLM
	cfg config.OrchestrationConfig
}

func New(llm llms.LLM, cfg config.OrchestrationConfig) *Planner {
	return &Planner{llm: llm, cfg: cfg}
}

// planDocument is the wire shape requested from the LLM.
type planDocument struct {
	Description string `json:"description"`
	Steps       []struct {
		ID        string         `json:"id"`
		Label     string         `json:"label"`
		Executor  string         `json:"executor"`
		Action    string         `json:"action"`
		Args      map[string]any `json:"args"`
		DependsOn []string       `json:"depends_on"`
	} `json:"steps"`
}

var planSchema = map[string]any{
	"type": "object",
	"properties": map[string]any{
		"description": map[string]any{"type": "string"},
		"steps": map[string]any{
			"type": "array",
			"items": map[string]any{
				"type": "object",
				"properties": map[string]any{
					"id":         map[string]any{"type": "string"},
					"label":      map[string]any{"type": "string"},
					"executor":   map[string]any{"type": "string", "enum": []string{"tool", "skill", "completion"}},
					"action":     map[string]any{"type": "string"},
					"args":       map[string]any{"type": "object"},
					"depends_on": map[string]any{"type": "array", "items": map[string]any{"type": "string"}},
				},
				"required": []string{"id", "executor"},
			},
		},
	},
	"required": []string{"description", "steps"},
}

// Plan generates a plan for the request. It never returns an error for
// planning failures: the zero-step explanatory plan carries the failure and
// the orchestrator surfaces it as PLAN_INVALID.
func (p *Planner) Plan(ctx context.Context, req *protocol.AgentRequest, history []protocol.Message, catalogue []tools.ToolInfo, skills []SkillSummary) (*protocol.Plan, error) {
	tracer := observability.GetTracer("praxis.planner")
	ctx, span := tracer.Start(ctx, observability.SpanPlanGeneration)
	defer span.End()

	prompt := p.buildPrompt(req, history, catalogue, skills)

	var lastOutput string
	var feedback string
	for attempt := 1; attempt <= p.cfg.PlannerMaxAttempts; attempt++ {
		messages := []protocol.Message{{Role: protocol.RoleUser, Content: prompt}}
		if feedback != "" {
			messages = append(messages, protocol.Message{
				Role:    protocol.RoleUser,
				Content: "Your last output was invalid because " + feedback + ". Respond with only the JSON plan object.",
			})
		}

		resp, err := p.llm.Generate(ctx, llms.Request{
			System:     plannerSystemPrompt,
			Messages:   messages,
			Structured: &llms.StructuredOutput{Name: "plan", Schema: planSchema},
		})
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, "llm failed")
			return nil, err
		}
		lastOutput = resp.Text

		plan, parseErr := parsePlan(resp.Text)
		if parseErr == nil {
			span.SetAttributes(attribute.Int("plan.steps", len(plan.Steps)))
			span.SetStatus(codes.Ok, "")
			return plan, nil
		}

		feedback = parseErr.Error()
		slog.Debug("Plan parse failed, retrying", "attempt", attempt, "error", parseErr)
	}

	// Retries exhausted: decide between conversational fallback and an
	// explicit failure plan.
	if IsConversational(req.Prompt) || LooksLikePromptEcho(lastOutput) {
		span.AddEvent("conversational_fallback")
		span.SetStatus(codes.Ok, "")
		return ConversationalPlan(), nil
	}

	span.SetStatus(codes.Error, "planning failed")
	return &protocol.Plan{
		Description: fmt.Sprintf("Planning failed after %d attempts: the model did not produce a valid plan. Last feedback: %s",
			p.cfg.PlannerMaxAttempts, feedback),
		Steps: nil,
	}, nil
}

// ConversationalPlan is the single completion step used for chat-like input.
func ConversationalPlan() *protocol.Plan {
	return &protocol.Plan{
		Description:    "Conversational reply",
		Conversational: true,
		Steps: []protocol.PlanStep{{
			ID:   "s1",
			Kind: protocol.StepCompletion,
		}},
	}
}

const plannerSystemPrompt = `You are a planning assistant. Decompose the user request into an ordered plan of tool and skill invocations. Respond with a JSON object: {"description": string, "steps": [{"id", "label", "executor" (tool|skill|completion), "action" (tool or skill name), "args" (object), "depends_on" (array of step ids)}]}. Use only listed tools and skills. Prefer the fewest steps that satisfy the request. If nothing needs doing beyond answering, return a single completion step.`

func (p *Planner) buildPrompt(req *protocol.AgentRequest, history []protocol.Message, catalogue []tools.ToolInfo, skills []SkillSummary) string {
	var b strings.Builder

	b.WriteString("Available tools:\n")
	if len(catalogue) == 0 {
		b.WriteString("  (none)\n")
	}
	for _, t := range catalogue {
		fmt.Fprintf(&b, "  - %s: %s\n", t.Name, t.Description)
	}

	if len(skills) > 0 {
		b.WriteString("Available skills:\n")
		for _, s := range skills {
			fmt.Fprintf(&b, "  - %s: %s\n", s.Name, s.Description)
		}
	}

	window := history
	if max := p.cfg.HistoryWindow; max > 0 && len(window) > max {
		window = window[len(window)-max:]
	}
	if len(window) > 0 {
		b.WriteString("Recent conversation:\n")
		for _, m := range window {
			fmt.Fprintf(&b, "  %s: %s\n", m.Role, observability.Preview(m.Content, 300))
		}
	}

	prompt := req.Prompt
	if limit := p.cfg.PlannerInputCharCap; limit > 0 && len(prompt) > limit {
		prompt = prompt[:limit] + truncationMarker
	}
	b.WriteString("User request: ")
	b.WriteString(prompt)
	return b.String()
}

func parsePlan(raw string) (*protocol.Plan, error) {
	fragment, ok := ExtractJSONObject(raw)
	if !ok {
		return nil, fmt.Errorf("no JSON object found in output")
	}

	var doc planDocument
	if err := json.Unmarshal([]byte(fragment), &doc); err != nil {
		return nil, fmt.Errorf("JSON did not match the plan schema: %v", err)
	}
	if doc.Description == "" && len(doc.Steps) == 0 {
		return nil, fmt.Errorf("plan was empty")
	}

	plan := &protocol.Plan{Description: doc.Description}
	for i, s := range doc.Steps {
		kind := protocol.StepKind(s.Executor)
		switch kind {
		case protocol.StepTool, protocol.StepSkill, protocol.StepCompletion:
		case "litellm":
			// Legacy executor name for a direct model call.
			kind = protocol.StepCompletion
		default:
			return nil, fmt.Errorf("step %d has unknown executor %q", i+1, s.Executor)
		}

		id := s.ID
		if id == "" {
			id = fmt.Sprintf("s%d", i+1)
		}
		plan.Steps = append(plan.Steps, protocol.PlanStep{
			ID:        id,
			Label:     s.Label,
			Kind:      kind,
			Target:    s.Action,
			Args:      s.Args,
			DependsOn: s.DependsOn,
		})
	}
	return plan, nil
}
