package llms

import (
	"regexp"
	"strings"
)

// Reasoning models interleave internal deliberation with the answer. The
// contract here: thinking content is stripped before anything is persisted or
// surfaced as final text. Models expose it two ways -- inline <think> blocks
// and a reasoning_content side channel; both are handled.

var thinkBlockPattern = regexp.MustCompile(`(?s)<think>.*?</think>`)

// StripThinking removes inline thinking blocks and returns the cleaned text
// plus the extracted thinking for callers that render it separately.
func StripThinking(text string) (clean string, thinking string) {
	matches := thinkBlockPattern.FindAllString(text, -1)
	if len(matches) == 0 && !strings.Contains(text, "<think>") {
		return text, ""
	}

	var tb strings.Builder
	for _, m := range matches {
		inner := strings.TrimSuffix(strings.TrimPrefix(m, "<think>"), "</think>")
		tb.WriteString(strings.TrimSpace(inner))
		tb.WriteString("\n")
	}

	clean = thinkBlockPattern.ReplaceAllString(text, "")
	// An unterminated block means the model was cut off mid-thought; drop
	// everything from the opening tag.
	if idx := strings.Index(clean, "<think>"); idx >= 0 {
		tb.WriteString(strings.TrimSpace(clean[idx+len("<think>"):]))
		clean = clean[:idx]
	}
	return strings.TrimSpace(clean), strings.TrimSpace(tb.String())
}
