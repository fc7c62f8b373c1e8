package planner

import (
	"context"
	"strings"
	"testing"

	"github.com/praxisworks/praxis/pkg/config"
	"github.com/praxisworks/praxis/pkg/protocol"
	"github.com/praxisworks/praxis/pkg/testutils"
	"github.com/praxisworks/praxis/pkg/tools"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func orchCfg() config.OrchestrationConfig {
	cfg := config.OrchestrationConfig{}
	cfg.SetDefaults()
	return cfg
}

func catalogue() []tools.ToolInfo {
	return []tools.ToolInfo{
		{Name: "price_tracker", Description: "Look up prices"},
		{Name: "send_email", Description: "Send an email"},
	}
}

func TestExtractJSONObject(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
		ok   bool
	}{
		{"bare object", `{"a":1}`, `{"a":1}`, true},
		{"prose wrapped", "Here is the plan:\n```json\n{\"a\": {\"b\": 2}}\n```\nDone.", `{"a": {"b": 2}}`, true},
		{"braces in strings", `{"a":"}{"}`, `{"a":"}{"}`, true},
		{"escaped quote", `{"a":"\"}\""}`, `{"a":"\"}\""}`, true},
		{"no object", "nothing here", "", false},
		{"unbalanced", `{"a": {`, "", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := ExtractJSONObject(tt.in)
			assert.Equal(t, tt.ok, ok)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestPlanParsesValidOutput(t *testing.T) {
	llm := testutils.NewScriptedLLM()
	llm.EnqueueText(`Sure! {"description":"track and mail","steps":[
		{"id":"s1","label":"fetch prices","executor":"tool","action":"price_tracker","args":{"product":"X"}},
		{"id":"s2","label":"mail summary","executor":"tool","action":"send_email","args":{"subject":"prices"},"depends_on":["s1"]}
	]}`)

	p := New(llm, orchCfg())
	plan, err := p.Plan(context.Background(), &protocol.AgentRequest{Prompt: "summarize prices and email me"}, nil, catalogue(), nil)
	require.NoError(t, err)
	require.Len(t, plan.Steps, 2)
	assert.Equal(t, "price_tracker", plan.Steps[0].Target)
	assert.Equal(t, []string{"s1"}, plan.Steps[1].DependsOn)
	assert.Equal(t, 1, llm.CallCount())
}

func TestPlanRetriesWithFeedback(t *testing.T) {
	llm := testutils.NewScriptedLLM()
	llm.EnqueueText("I think we should do something")
	llm.EnqueueText(`{"description":"ok","steps":[{"id":"s1","executor":"completion"}]}`)

	p := New(llm, orchCfg())
	plan, err := p.Plan(context.Background(), &protocol.AgentRequest{Prompt: "do the thing with the stuff"}, nil, catalogue(), nil)
	require.NoError(t, err)
	require.Len(t, plan.Steps, 1)
	assert.Equal(t, 2, llm.CallCount())

	second := llm.Requests()[1]
	last := second.Messages[len(second.Messages)-1]
	assert.Contains(t, last.Content, "invalid because")
}

func TestPlanConversationalFallback(t *testing.T) {
	for _, prompt := range []string{"Hello", "Hi", "thanks"} {
		t.Run(prompt, func(t *testing.T) {
			llm := testutils.NewScriptedLLM()
			llm.Fallback = textResponse("not json at all")

			p := New(llm, orchCfg())
			plan, err := p.Plan(context.Background(), &protocol.AgentRequest{Prompt: prompt}, nil, catalogue(), nil)
			require.NoError(t, err)
			assert.True(t, plan.Conversational)
			require.Len(t, plan.Steps, 1)
			assert.Equal(t, protocol.StepCompletion, plan.Steps[0].Kind)
		})
	}
}

func TestPlanZeroStepFailure(t *testing.T) {
	llm := testutils.NewScriptedLLM()
	llm.Fallback = textResponse("garbage with no braces")

	cfg := orchCfg()
	p := New(llm, cfg)
	plan, err := p.Plan(context.Background(), &protocol.AgentRequest{Prompt: "please migrate the production database"}, nil, catalogue(), nil)
	require.NoError(t, err)
	assert.Empty(t, plan.Steps)
	assert.Contains(t, plan.Description, "Planning failed")
	assert.Equal(t, cfg.PlannerMaxAttempts, llm.CallCount())
}

func TestPlanPromptEchoYieldsConversational(t *testing.T) {
	llm := testutils.NewScriptedLLM()
	llm.Fallback = textResponse("Available tools:\n - x\nUser request: whatever")

	p := New(llm, orchCfg())
	plan, err := p.Plan(context.Background(), &protocol.AgentRequest{Prompt: "what do you think about this?"}, nil, catalogue(), nil)
	require.NoError(t, err)
	assert.True(t, plan.Conversational)
}

func TestPlanTruncatesLongPrompts(t *testing.T) {
	llm := testutils.NewScriptedLLM()
	llm.EnqueueText(`{"description":"d","steps":[{"id":"s1","executor":"completion"}]}`)

	cfg := orchCfg()
	cfg.PlannerInputCharCap = 100

	p := New(llm, cfg)
	longPrompt := strings.Repeat("analyze this ", 50)
	_, err := p.Plan(context.Background(), &protocol.AgentRequest{Prompt: longPrompt}, nil, catalogue(), nil)
	require.NoError(t, err)

	sent := llm.Requests()[0].Messages[0].Content
	assert.Contains(t, sent, "[input truncated]")
	assert.Less(t, len(sent), len(longPrompt))
}

func TestLitellmExecutorMapsToCompletion(t *testing.T) {
	llm := testutils.NewScriptedLLM()
	llm.EnqueueText(`{"description":"d","steps":[{"id":"s1","executor":"litellm"}]}`)

	p := New(llm, orchCfg())
	plan, err := p.Plan(context.Background(), &protocol.AgentRequest{Prompt: "answer directly please"}, nil, catalogue(), nil)
	require.NoError(t, err)
	assert.Equal(t, protocol.StepCompletion, plan.Steps[0].Kind)
}
