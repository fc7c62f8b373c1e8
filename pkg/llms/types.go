package llms

import (
	"context"

	"github.com/praxisworks/praxis/pkg/protocol"
)

// ToolDefinition describes a callable tool to the LLM.
type ToolDefinition struct {
	Name        string         `json:"name"`
	Description string         `json:"description"`
	Parameters  map[string]any `json:"parameters"` // JSON Schema
}

// StructuredOutput requests a JSON response conforming to a schema.
type StructuredOutput struct {
	Name   string         `json:"name"`
	Schema map[string]any `json:"schema"`
}

// Request is a provider-neutral generation request.
type Request struct {
	System      string                `json:"system,omitempty"`
	Messages    []protocol.Message    `json:"messages"`
	Tools       []ToolDefinition      `json:"tools,omitempty"`
	Temperature *float64              `json:"temperature,omitempty"`
	MaxTokens   int                   `json:"max_tokens,omitempty"`
	Structured  *StructuredOutput     `json:"structured,omitempty"`
}

// Response is a completed generation.
//
// Text has reasoning content stripped; Thinking carries whatever the model
// exposed so callers can decide to show it, but it is never persisted.
type Response struct {
	Text      string              `json:"text"`
	Thinking  string              `json:"-"`
	ToolCalls []protocol.ToolCall `json:"tool_calls,omitempty"`
	Usage     protocol.Usage      `json:"usage"`
}

// StreamChunk is one element of a streaming generation.
type StreamChunk struct {
	Type     string // "text", "tool_call", "done", "error"
	Text     string
	ToolCall *protocol.ToolCall
	Usage    protocol.Usage
	Err      error
}

// LLM is the request/response + streaming abstraction consumed by the
// planner, supervisors, skill engine, and completion steps.
type LLM interface {
	// Generate performs a blocking completion.
	Generate(ctx context.Context, req Request) (*Response, error)

	// GenerateStreaming returns a channel of chunks. The channel is closed
	// after a terminal "done" or "error" chunk.
	GenerateStreaming(ctx context.Context, req Request) (<-chan StreamChunk, error)

	// ModelName identifies the configured model for spans and metrics.
	ModelName() string
}
