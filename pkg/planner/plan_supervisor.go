package planner

import (
	"fmt"

	"github.com/praxisworks/praxis/pkg/protocol"
)

// TargetKind classifies what a step's target resolves to in this request's
// scope.
type TargetKind int

const (
	TargetUnknown TargetKind = iota
	TargetTool
	TargetSkill
)

// TargetResolver answers whether a name is a scoped tool or a known skill.
type TargetResolver func(name string) TargetKind

// ValidationResult is the plan supervisor's output. Fatal aborts execution;
// plain warnings only attach for observability.
type ValidationResult struct {
	Plan     *protocol.Plan
	Warnings []string
	Fatal    string
}

// PlanSupervisor validates and rewrites a generated plan before execution.
type PlanSupervisor struct{}

func NewPlanSupervisor() *PlanSupervisor { return &PlanSupervisor{} }

// Validate applies, in order: id dedup/renumber, broken-dep pruning, unknown
// target detection (fail closed), cycle detection (fatal).
func (s *PlanSupervisor) Validate(plan *protocol.Plan, resolve TargetResolver) ValidationResult {
	result := ValidationResult{Plan: plan}
	if plan == nil {
		result.Fatal = "no plan"
		return result
	}
	if len(plan.Steps) == 0 {
		// Zero-step plans are the planner's explicit failure signal; nothing
		// to validate.
		return result
	}

	// Duplicate step ids are renumbered, and dependency references to the old
	// id keep pointing at the first occurrence.
	seen := map[string]bool{}
	for i := range plan.Steps {
		step := &plan.Steps[i]
		if step.ID == "" || seen[step.ID] {
			renumbered := fmt.Sprintf("s%d", i+1)
			for seen[renumbered] {
				renumbered += "x"
			}
			if step.ID != "" {
				result.Warnings = append(result.Warnings,
					fmt.Sprintf("duplicate step id %q renumbered to %q", step.ID, renumbered))
			}
			step.ID = renumbered
		}
		seen[step.ID] = true
	}

	// Prune references to non-existent steps.
	ids := map[string]bool{}
	for _, step := range plan.Steps {
		ids[step.ID] = true
	}
	for i := range plan.Steps {
		step := &plan.Steps[i]
		kept := step.DependsOn[:0]
		for _, dep := range step.DependsOn {
			if ids[dep] && dep != step.ID {
				kept = append(kept, dep)
			} else {
				result.Warnings = append(result.Warnings,
					fmt.Sprintf("step %s: removed broken dependency %q", step.ID, dep))
			}
		}
		step.DependsOn = kept
	}

	// Unknown tools fail closed: the plan is not executed.
	for _, step := range plan.Steps {
		switch step.Kind {
		case protocol.StepCompletion:
			continue
		case protocol.StepTool:
			switch resolve(step.Target) {
			case TargetTool:
			case TargetSkill:
				result.Warnings = append(result.Warnings,
					fmt.Sprintf("step %s: %q is a skill, not a tool", step.ID, step.Target))
			default:
				result.Fatal = fmt.Sprintf("step %s references unknown tool %q", step.ID, step.Target)
				return result
			}
		case protocol.StepSkill:
			if resolve(step.Target) != TargetSkill {
				result.Fatal = fmt.Sprintf("step %s references unknown skill %q", step.ID, step.Target)
				return result
			}
		}
	}

	if cycle := findCycle(plan.Steps); cycle != "" {
		result.Fatal = "dependency cycle involving step " + cycle
	}
	return result
}

// findCycle runs a coloring DFS over the dependency graph and returns a step
// id on a cycle, or "".
func findCycle(steps []protocol.PlanStep) string {
	deps := make(map[string][]string, len(steps))
	for _, s := range steps {
		deps[s.ID] = s.DependsOn
	}

	const (
		white = 0
		gray  = 1
		black = 2
	)
	color := map[string]int{}

	var visit func(id string) string
	visit = func(id string) string {
		color[id] = gray
		for _, dep := range deps[id] {
			switch color[dep] {
			case gray:
				return dep
			case white:
				if hit := visit(dep); hit != "" {
					return hit
				}
			}
		}
		color[id] = black
		return ""
	}

	for _, s := range steps {
		if color[s.ID] == white {
			if hit := visit(s.ID); hit != "" {
				return hit
			}
		}
	}
	return ""
}
