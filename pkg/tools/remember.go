package tools

import (
	"context"
)

// MemoryWriter is the namespace-bound memory view the remember tool writes
// through. The memory store implements it; the namespace is already bound to
// the request's context, so the tool cannot cross tenants.
type MemoryWriter interface {
	Remember(ctx context.Context, text string, metadata map[string]any) error
}

// RememberTool persists a fact into the context's semantic memory.
type RememberTool struct {
	memory MemoryWriter
}

type rememberArgs struct {
	Text string `json:"text" jsonschema:"required,description=Fact to remember"`
	Kind string `json:"kind,omitempty" jsonschema:"description=Optional category tag"`
}

func NewRememberTool(memory MemoryWriter) *RememberTool {
	return &RememberTool{memory: memory}
}

func (t *RememberTool) Info() ToolInfo {
	return ToolInfo{
		Name:         "remember",
		Description:  "Store a fact in long-term memory for this workspace.",
		Parameters:   SchemaFor(&rememberArgs{}),
		ActivityHint: "Remembering",
	}
}

func (t *RememberTool) Execute(ctx context.Context, args map[string]any, ambient *Ambient) (string, error) {
	if t.memory == nil {
		return ErrorResult("memory is not configured"), nil
	}
	text, _ := args["text"].(string)
	if text == "" {
		return ErrorResult("text parameter is required"), nil
	}

	metadata := map[string]any{"source": "remember_tool"}
	if ambient != nil && ambient.ContextID != "" {
		metadata["context_id"] = ambient.ContextID
	}
	if kind, ok := args["kind"].(string); ok && kind != "" {
		metadata["kind"] = kind
	}

	if err := t.memory.Remember(ctx, text, metadata); err != nil {
		if ctx.Err() != nil {
			return "", ctx.Err()
		}
		return ErrorResult("failed to store memory: %v", err), nil
	}
	return "Remembered.", nil
}
