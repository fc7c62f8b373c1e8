package planner

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"

	"github.com/praxisworks/praxis/pkg/llms"
	"github.com/praxisworks/praxis/pkg/observability"
	"github.com/praxisworks/praxis/pkg/protocol"
	"github.com/praxisworks/praxis/pkg/tools"
	"go.opentelemetry.io/otel/attribute"
)

// StepSupervisor evaluates each executed step and returns the verdict the
// orchestrator branches on. It defaults to lenient: when the model output is
// ambiguous or the supervisor LLM itself fails, the verdict is SUCCESS for
// clean outputs and a rule-based verdict for failed ones.
type StepSupervisor struct {
	llm llms.LLM
}

func NewStepSupervisor(llm llms.LLM) *StepSupervisor {
	return &StepSupervisor{llm: llm}
}

var verdictSchema = map[string]any{
	"type": "object",
	"properties": map[string]any{
		"verdict":  map[string]any{"type": "string", "enum": []string{"SUCCESS", "RETRY", "REPLAN", "ABORT"}},
		"feedback": map[string]any{"type": "string"},
		"reason":   map[string]any{"type": "string"},
	},
	"required": []string{"verdict"},
}

type verdictDocument struct {
	Verdict  string `json:"verdict"`
	Feedback string `json:"feedback"`
	Reason   string `json:"reason"`
}

// Review judges one step. errKind is empty for infrastructure-clean runs;
// output may still be a domain "Error: ..." string.
func (s *StepSupervisor) Review(ctx context.Context, step *protocol.PlanStep, output string, errKind protocol.ErrorKind, transcript string) protocol.StepOutcome {
	tracer := observability.GetTracer("praxis.planner")
	ctx, span := tracer.Start(ctx, observability.SpanStepReview)
	defer span.End()
	span.SetAttributes(attribute.String(observability.AttrStepID, step.ID))

	// Error kinds with a fixed policy never need a model call.
	if outcome, decided := ruleVerdict(errKind); decided {
		span.SetAttributes(attribute.String("review.verdict", string(outcome.Status)))
		return outcome
	}

	// Clean tool output with no error marker: lenient default.
	if errKind == "" && !tools.IsErrorResult(output) {
		return protocol.Success()
	}

	outcome := s.llmVerdict(ctx, step, output, errKind, transcript)
	span.SetAttributes(attribute.String("review.verdict", string(outcome.Status)))
	return outcome
}

// ruleVerdict covers the error kinds whose handling is fixed policy.
func ruleVerdict(errKind protocol.ErrorKind) (protocol.StepOutcome, bool) {
	switch errKind {
	case protocol.ErrToolTimeout:
		return protocol.Retry("the tool timed out; try again, reducing the amount of work requested"), true
	case protocol.ErrToolRateLimited:
		return protocol.Retry("the tool was rate limited for this step; retry with fewer calls"), true
	case protocol.ErrLLMRateLimited:
		return protocol.Retry("the model was rate limited; retry"), true
	case protocol.ErrToolNotFound:
		return protocol.Replan("a planned tool does not exist in this context"), true
	case protocol.ErrToolNotPermitted:
		return protocol.Abort(protocol.Errorf(protocol.ErrToolNotPermitted,
			"the plan requires a tool that is not permitted in this context")), true
	case protocol.ErrContextDenied, protocol.ErrRequestTimeout, protocol.ErrRequestCancelled, protocol.ErrCredentialDecryptError:
		return protocol.Abort(protocol.Errorf(errKind, "unrecoverable step failure")), true
	default:
		return protocol.StepOutcome{}, false
	}
}

func (s *StepSupervisor) llmVerdict(ctx context.Context, step *protocol.PlanStep, output string, errKind protocol.ErrorKind, transcript string) protocol.StepOutcome {
	if s.llm == nil {
		return degradedVerdict(output, errKind)
	}

	prompt := fmt.Sprintf(
		"A plan step just ran.\nStep: %s (%s %s)\nError kind: %s\nOutput:\n%s\n\nTranscript so far:\n%s\n\n"+
			"Judge the outcome. SUCCESS if the step achieved its purpose (even partially, if usable). "+
			"RETRY with feedback if the same step could work on a second try. "+
			"REPLAN with a reason if the plan itself is wrong. ABORT only for unrecoverable failures.",
		step.Label, step.Kind, step.Target, string(errKind),
		observability.Preview(output, 2000), observability.Preview(transcript, 2000))

	resp, err := s.llm.Generate(ctx, llms.Request{
		System:     "You review agent step outcomes. Be lenient: prefer SUCCESS when ambiguous.",
		Messages:   []protocol.Message{{Role: protocol.RoleUser, Content: prompt}},
		Structured: &llms.StructuredOutput{Name: "verdict", Schema: verdictSchema},
	})
	if err != nil {
		slog.Warn("Step supervisor degraded to rules", "step", step.ID, "error", err)
		return degradedVerdict(output, errKind)
	}

	fragment, ok := ExtractJSONObject(resp.Text)
	if !ok {
		return degradedVerdict(output, errKind)
	}
	var doc verdictDocument
	if err := json.Unmarshal([]byte(fragment), &doc); err != nil {
		return degradedVerdict(output, errKind)
	}

	switch strings.ToUpper(doc.Verdict) {
	case "SUCCESS":
		return protocol.Success()
	case "RETRY":
		if doc.Feedback == "" {
			doc.Feedback = "try again"
		}
		return protocol.Retry(doc.Feedback)
	case "REPLAN":
		if doc.Reason == "" {
			doc.Reason = "the current plan is not working"
		}
		return protocol.Replan(doc.Reason)
	case "ABORT":
		return protocol.Abort(protocol.Errorf(protocol.ErrToolFailed, "step aborted by supervisor: %s", doc.Reason))
	default:
		return protocol.Success()
	}
}

// degradedVerdict is the rule set used when no supervisor LLM is available.
func degradedVerdict(output string, errKind protocol.ErrorKind) protocol.StepOutcome {
	switch {
	case errKind == protocol.ErrToolFailed || errKind == protocol.ErrLLMFailed || errKind == protocol.ErrMCPUnavailable:
		return protocol.Retry("the previous attempt failed; try once more")
	case tools.IsErrorResult(output):
		return protocol.Retry("the tool reported: " + observability.Preview(output, 200))
	default:
		return protocol.Success()
	}
}

// NormalizeReason canonicalizes a replan reason for tight-loop detection:
// case-folded with whitespace collapsed, so cosmetic variation does not hide
// a recurring reason.
func NormalizeReason(reason string) string {
	return strings.Join(strings.Fields(strings.ToLower(reason)), " ")
}
