package planner

import (
	"context"
	"testing"

	"github.com/praxisworks/praxis/pkg/protocol"
	"github.com/praxisworks/praxis/pkg/testutils"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func resolver(toolNames, skillNames []string) TargetResolver {
	toolSet := map[string]bool{}
	for _, n := range toolNames {
		toolSet[n] = true
	}
	skillSet := map[string]bool{}
	for _, n := range skillNames {
		skillSet[n] = true
	}
	return func(name string) TargetKind {
		switch {
		case toolSet[name]:
			return TargetTool
		case skillSet[name]:
			return TargetSkill
		default:
			return TargetUnknown
		}
	}
}

func TestValidateAcceptsCleanPlan(t *testing.T) {
	plan := &protocol.Plan{Steps: []protocol.PlanStep{
		{ID: "s1", Kind: protocol.StepTool, Target: "web_fetch"},
		{ID: "s2", Kind: protocol.StepSkill, Target: "triage", DependsOn: []string{"s1"}},
		{ID: "s3", Kind: protocol.StepCompletion, DependsOn: []string{"s2"}},
	}}

	res := NewPlanSupervisor().Validate(plan, resolver([]string{"web_fetch"}, []string{"triage"}))
	assert.Empty(t, res.Fatal)
	assert.Empty(t, res.Warnings)
}

func TestValidateUnknownToolFailsClosed(t *testing.T) {
	plan := &protocol.Plan{Steps: []protocol.PlanStep{
		{ID: "s1", Kind: protocol.StepTool, Target: "nonexistent"},
	}}

	res := NewPlanSupervisor().Validate(plan, resolver(nil, nil))
	assert.NotEmpty(t, res.Fatal)
	assert.Contains(t, res.Fatal, "nonexistent")
}

func TestValidateCycleIsFatal(t *testing.T) {
	plan := &protocol.Plan{Steps: []protocol.PlanStep{
		{ID: "s1", Kind: protocol.StepCompletion, DependsOn: []string{"s2"}},
		{ID: "s2", Kind: protocol.StepCompletion, DependsOn: []string{"s1"}},
	}}

	res := NewPlanSupervisor().Validate(plan, resolver(nil, nil))
	assert.Contains(t, res.Fatal, "cycle")
}

func TestValidateRenumbersDuplicateIDs(t *testing.T) {
	plan := &protocol.Plan{Steps: []protocol.PlanStep{
		{ID: "s1", Kind: protocol.StepCompletion},
		{ID: "s1", Kind: protocol.StepCompletion},
	}}

	res := NewPlanSupervisor().Validate(plan, resolver(nil, nil))
	assert.Empty(t, res.Fatal)
	assert.NotEqual(t, plan.Steps[0].ID, plan.Steps[1].ID)
	assert.NotEmpty(t, res.Warnings)
}

func TestValidatePrunesBrokenDeps(t *testing.T) {
	plan := &protocol.Plan{Steps: []protocol.PlanStep{
		{ID: "s1", Kind: protocol.StepCompletion, DependsOn: []string{"s9", "s1"}},
	}}

	res := NewPlanSupervisor().Validate(plan, resolver(nil, nil))
	assert.Empty(t, res.Fatal)
	assert.Empty(t, plan.Steps[0].DependsOn)
	assert.Len(t, res.Warnings, 2)
}

func TestValidateZeroStepPlanPassesThrough(t *testing.T) {
	plan := &protocol.Plan{Description: "Planning failed"}
	res := NewPlanSupervisor().Validate(plan, resolver(nil, nil))
	assert.Empty(t, res.Fatal)
}

func TestRuleVerdicts(t *testing.T) {
	step := &protocol.PlanStep{ID: "s1", Kind: protocol.StepTool, Target: "web_fetch"}
	sup := NewStepSupervisor(nil)
	ctx := context.Background()

	tests := []struct {
		kind protocol.ErrorKind
		want protocol.OutcomeStatus
	}{
		{protocol.ErrToolTimeout, protocol.OutcomeRetry},
		{protocol.ErrToolRateLimited, protocol.OutcomeRetry},
		{protocol.ErrLLMRateLimited, protocol.OutcomeRetry},
		{protocol.ErrToolNotFound, protocol.OutcomeReplan},
		{protocol.ErrToolNotPermitted, protocol.OutcomeAbort},
		{protocol.ErrContextDenied, protocol.OutcomeAbort},
		{protocol.ErrRequestTimeout, protocol.OutcomeAbort},
	}
	for _, tt := range tests {
		t.Run(string(tt.kind), func(t *testing.T) {
			outcome := sup.Review(ctx, step, "", tt.kind, "")
			assert.Equal(t, tt.want, outcome.Status)
		})
	}
}

func TestReviewLenientDefaultOnCleanOutput(t *testing.T) {
	sup := NewStepSupervisor(nil)
	outcome := sup.Review(context.Background(), &protocol.PlanStep{ID: "s1"}, "all good", "", "")
	assert.Equal(t, protocol.OutcomeSuccess, outcome.Status)
}

func TestReviewUsesLLMVerdictForToolErrors(t *testing.T) {
	llm := testutils.NewScriptedLLM()
	llm.EnqueueText(`{"verdict":"RETRY","feedback":"try once more with a shorter page"}`)

	sup := NewStepSupervisor(llm)
	outcome := sup.Review(context.Background(), &protocol.PlanStep{ID: "s1", Kind: protocol.StepTool, Target: "web_fetch"},
		"Error: fetch truncated", protocol.ErrToolFailed, "transcript")

	require.Equal(t, protocol.OutcomeRetry, outcome.Status)
	assert.Equal(t, "try once more with a shorter page", outcome.Feedback)
}

func TestReviewDegradesToRulesWhenLLMFails(t *testing.T) {
	llm := testutils.NewScriptedLLM()
	llm.EnqueueError(protocol.Errorf(protocol.ErrLLMFailed, "down"))

	sup := NewStepSupervisor(llm)
	outcome := sup.Review(context.Background(), &protocol.PlanStep{ID: "s1"}, "Error: boom", protocol.ErrToolFailed, "")
	assert.Equal(t, protocol.OutcomeRetry, outcome.Status)
}

func TestNormalizeReason(t *testing.T) {
	a := NormalizeReason("  The   Tool is Missing ")
	b := NormalizeReason("the tool is missing")
	assert.Equal(t, a, b)
}
