package agent

import (
	"fmt"
	"strings"
	"sync"

	"github.com/pkoukk/tiktoken-go"

	"github.com/praxisworks/praxis/pkg/protocol"
)

var (
	encoderOnce sync.Once
	encoder     *tiktoken.Tiktoken
)

// countTokens measures text with the cl100k encoding, falling back to a
// character heuristic when the encoding is unavailable offline.
func countTokens(text string) int {
	encoderOnce.Do(func() {
		enc, err := tiktoken.GetEncoding("cl100k_base")
		if err == nil {
			encoder = enc
		}
	})
	if encoder != nil {
		return len(encoder.Encode(text, nil, nil))
	}
	return len(text)/4 + 1
}

type transcriptEntry struct {
	label   string
	content string
	tokens  int
	// compacted entries keep only a summary line
	compacted bool
}

// Transcript accumulates the request's working history: the user prompt,
// step results, and retries. Growth is bounded: when the token budget is
// exceeded, older step outputs are collapsed to summaries before the next
// prompt is built.
type Transcript struct {
	budget  int
	entries []transcriptEntry
}

func NewTranscript(tokenBudget int) *Transcript {
	return &Transcript{budget: tokenBudget}
}

// Add appends a labeled entry.
func (t *Transcript) Add(label, content string) {
	t.entries = append(t.entries, transcriptEntry{
		label:   label,
		content: content,
		tokens:  countTokens(content),
	})
	t.compactIfNeeded()
}

// AddStepResult records one executed step.
func (t *Transcript) AddStepResult(step *protocol.PlanStep, output string) {
	label := fmt.Sprintf("step %s (%s %s)", step.ID, step.Kind, step.Target)
	t.Add(label, output)
}

// Render produces the textual transcript fed to the planner, supervisor, and
// synthesizer.
func (t *Transcript) Render() string {
	var b strings.Builder
	for _, e := range t.entries {
		if e.compacted {
			fmt.Fprintf(&b, "[%s: output elided, %d tokens]\n", e.label, e.tokens)
			continue
		}
		fmt.Fprintf(&b, "%s:\n%s\n\n", e.label, e.content)
	}
	return strings.TrimSpace(b.String())
}

// Tokens returns the current (post-compaction) token weight.
func (t *Transcript) Tokens() int {
	total := 0
	for _, e := range t.entries {
		if e.compacted {
			total += 16
			continue
		}
		total += e.tokens
	}
	return total
}

// compactIfNeeded collapses the oldest uncompacted entries until the
// transcript fits the budget. The most recent two entries are always kept
// verbatim so retries see their own context.
func (t *Transcript) compactIfNeeded() {
	if t.budget <= 0 {
		return
	}
	for t.Tokens() > t.budget {
		compactedAny := false
		for i := 0; i < len(t.entries)-2; i++ {
			if !t.entries[i].compacted {
				t.entries[i].compacted = true
				compactedAny = true
				break
			}
		}
		if !compactedAny {
			return
		}
	}
}
