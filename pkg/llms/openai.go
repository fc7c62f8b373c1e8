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

// Package llms provides the LLM abstraction of the orchestration core and an
// OpenAI-compatible chat-completions provider. Any endpoint speaking that
// dialect (OpenAI, vLLM, Ollama, LiteLLM proxies) works unchanged.
package llms

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/praxisworks/praxis/pkg/config"
	"github.com/praxisworks/praxis/pkg/httpclient"
	"github.com/praxisworks/praxis/pkg/observability"
	"github.com/praxisworks/praxis/pkg/protocol"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const streamChannelBufferSize = 100

type OpenAIProvider struct {
	cfg        config.LLMConfig
	httpClient *httpclient.Client
}

// NewOpenAIProvider builds the provider over the shared retrying HTTP client.
func NewOpenAIProvider(cfg config.LLMConfig) *OpenAIProvider {
	hc := httpclient.New(
		httpclient.WithHTTPClient(&http.Client{Timeout: cfg.Timeout()}),
		httpclient.WithMaxRetries(cfg.MaxRetries),
		httpclient.WithHeaderParser(httpclient.ParseOpenAIRateLimitHeaders),
	)
	return &OpenAIProvider{cfg: cfg, httpClient: hc}
}

func (p *OpenAIProvider) ModelName() string { return p.cfg.Model }

// Chat completions wire types.

type chatMessage struct {
	Role             string         `json:"role"`
	Content          string         `json:"content"`
	Name             string         `json:"name,omitempty"`
	ToolCallID       string         `json:"tool_call_id,omitempty"`
	ToolCalls        []chatToolCall `json:"tool_calls,omitempty"`
	ReasoningContent string         `json:"reasoning_content,omitempty"`
}

type chatToolCall struct {
	ID       string       `json:"id"`
	Type     string       `json:"type"`
	Function chatFunction `json:"function"`
}

type chatFunction struct {
	Name      string `json:"name"`
	Arguments string `json:"arguments"`
}

type chatTool struct {
	Type     string      `json:"type"`
	Function chatToolDef `json:"function"`
}

type chatToolDef struct {
	Name        string         `json:"name"`
	Description string         `json:"description,omitempty"`
	Parameters  map[string]any `json:"parameters,omitempty"`
}

type chatRequest struct {
	Model          string         `json:"model"`
	Messages       []chatMessage  `json:"messages"`
	Tools          []chatTool     `json:"tools,omitempty"`
	Temperature    *float64       `json:"temperature,omitempty"`
	MaxTokens      int            `json:"max_tokens,omitempty"`
	Stream         bool           `json:"stream,omitempty"`
	ResponseFormat map[string]any `json:"response_format,omitempty"`
}

type chatChoice struct {
	Message      chatMessage `json:"message"`
	FinishReason string      `json:"finish_reason"`
}

type chatUsage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

type chatResponse struct {
	Choices []chatChoice `json:"choices"`
	Usage   chatUsage    `json:"usage"`
}

type chatStreamDelta struct {
	Content          string         `json:"content"`
	ReasoningContent string         `json:"reasoning_content"`
	ToolCalls        []chatToolCall `json:"tool_calls"`
}

type chatStreamChoice struct {
	Delta        chatStreamDelta `json:"delta"`
	FinishReason string          `json:"finish_reason"`
}

type chatStreamChunk struct {
	Choices []chatStreamChoice `json:"choices"`
	Usage   *chatUsage         `json:"usage"`
}

func (p *OpenAIProvider) buildRequest(req Request, stream bool) chatRequest {
	out := chatRequest{
		Model:       p.cfg.Model,
		Temperature: req.Temperature,
		MaxTokens:   req.MaxTokens,
		Stream:      stream,
	}
	if out.MaxTokens == 0 {
		out.MaxTokens = p.cfg.MaxTokens
	}
	if out.Temperature == nil && p.cfg.Temperature != 0 {
		temp := p.cfg.Temperature
		out.Temperature = &temp
	}

	if req.System != "" {
		out.Messages = append(out.Messages, chatMessage{Role: "system", Content: req.System})
	}
	for _, m := range req.Messages {
		cm := chatMessage{
			Role:       string(m.Role),
			Content:    m.Content,
			Name:       m.Name,
			ToolCallID: m.ToolCallID,
		}
		for _, tc := range m.ToolCalls {
			raw := tc.RawArgs
			if raw == "" {
				encoded, err := json.Marshal(tc.Arguments)
				if err == nil {
					raw = string(encoded)
				}
			}
			cm.ToolCalls = append(cm.ToolCalls, chatToolCall{
				ID:       tc.ID,
				Type:     "function",
				Function: chatFunction{Name: tc.Name, Arguments: raw},
			})
		}
		out.Messages = append(out.Messages, cm)
	}

	for _, t := range req.Tools {
		out.Tools = append(out.Tools, chatTool{
			Type:     "function",
			Function: chatToolDef{Name: t.Name, Description: t.Description, Parameters: t.Parameters},
		})
	}

	if req.Structured != nil {
		out.ResponseFormat = map[string]any{
			"type": "json_schema",
			"json_schema": map[string]any{
				"name":   req.Structured.Name,
				"schema": req.Structured.Schema,
				"strict": true,
			},
		}
	}
	return out
}

func (p *OpenAIProvider) Generate(ctx context.Context, req Request) (*Response, error) {
	tracer := observability.GetTracer("praxis.llms")
	ctx, span := tracer.Start(ctx, observability.SpanLLMCall,
		trace.WithAttributes(attribute.String(observability.AttrModel, p.cfg.Model)))
	defer span.End()

	payload := p.buildRequest(req, false)
	data, err := p.httpClient.PostJSON(ctx, p.cfg.Host+"/chat/completions", p.headers(), payload)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "llm call failed")
		return nil, translateHTTPError(err)
	}

	var parsed chatResponse
	if err := json.Unmarshal(data, &parsed); err != nil {
		span.SetStatus(codes.Error, "bad response")
		return nil, protocol.NewAgentError(protocol.ErrLLMFailed, "malformed completion response", err)
	}
	if len(parsed.Choices) == 0 {
		span.SetStatus(codes.Error, "empty choices")
		return nil, protocol.Errorf(protocol.ErrLLMFailed, "completion returned no choices")
	}

	choice := parsed.Choices[0]
	clean, thinking := StripThinking(choice.Message.Content)
	if choice.Message.ReasoningContent != "" {
		thinking = strings.TrimSpace(choice.Message.ReasoningContent + "\n" + thinking)
	}

	resp := &Response{
		Text:     clean,
		Thinking: thinking,
		Usage: protocol.Usage{
			PromptTokens:     parsed.Usage.PromptTokens,
			CompletionTokens: parsed.Usage.CompletionTokens,
			TotalTokens:      parsed.Usage.TotalTokens,
		},
	}
	for _, tc := range choice.Message.ToolCalls {
		resp.ToolCalls = append(resp.ToolCalls, decodeToolCall(tc))
	}

	span.SetAttributes(attribute.Int(observability.AttrTokensTotal, resp.Usage.TotalTokens))
	span.SetStatus(codes.Ok, "")

	if m := observability.GetGlobalMetrics(); m != nil {
		m.RecordLLMTokens(ctx, p.cfg.Model, resp.Usage.TotalTokens)
	}
	return resp, nil
}

func (p *OpenAIProvider) GenerateStreaming(ctx context.Context, req Request) (<-chan StreamChunk, error) {
	payload := p.buildRequest(req, true)
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, protocol.NewAgentError(protocol.ErrLLMFailed, "failed to encode request", err)
	}

	headers := p.headers()
	headers["Content-Type"] = "application/json"
	headers["Accept"] = "text/event-stream"

	resp, err := p.httpClient.Do(ctx, http.MethodPost, p.cfg.Host+"/chat/completions", headers, body)
	if err != nil {
		return nil, translateHTTPError(err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		_ = resp.Body.Close()
		return nil, translateHTTPError(&httpclient.StatusError{StatusCode: resp.StatusCode})
	}

	ch := make(chan StreamChunk, streamChannelBufferSize)
	go p.consumeStream(ctx, resp, ch)
	return ch, nil
}

// consumeStream reads SSE lines, assembling tool call fragments and usage.
// reasoning_content deltas are never read, so they are dropped; content
// deltas, including any inline <think> markup, are passed on unchanged.
func (p *OpenAIProvider) consumeStream(ctx context.Context, resp *http.Response, ch chan<- StreamChunk) {
	defer close(ch)
	defer func() { _ = resp.Body.Close() }()

	var usage protocol.Usage
	pending := map[int]*chatToolCall{}
	var pendingOrder []int

	flushToolCalls := func() {
		for _, idx := range pendingOrder {
			tc := decodeToolCall(*pending[idx])
			select {
			case ch <- StreamChunk{Type: "tool_call", ToolCall: &tc}:
			case <-ctx.Done():
			}
		}
		pending = map[int]*chatToolCall{}
		pendingOrder = nil
	}

	scanner := bufio.NewScanner(resp.Body)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if !strings.HasPrefix(line, "data:") {
			continue
		}
		data := strings.TrimSpace(strings.TrimPrefix(line, "data:"))
		if data == "[DONE]" {
			break
		}

		var chunk chatStreamChunk
		if err := json.Unmarshal([]byte(data), &chunk); err != nil {
			continue
		}
		if chunk.Usage != nil {
			usage = protocol.Usage{
				PromptTokens:     chunk.Usage.PromptTokens,
				CompletionTokens: chunk.Usage.CompletionTokens,
				TotalTokens:      chunk.Usage.TotalTokens,
			}
		}
		for _, choice := range chunk.Choices {
			if choice.Delta.Content != "" {
				select {
				case ch <- StreamChunk{Type: "text", Text: choice.Delta.Content}:
				case <-ctx.Done():
					return
				}
			}
			for i, tc := range choice.Delta.ToolCalls {
				idx := i
				entry, ok := pending[idx]
				if !ok {
					entry = &chatToolCall{}
					pending[idx] = entry
					pendingOrder = append(pendingOrder, idx)
				}
				if tc.ID != "" {
					entry.ID = tc.ID
				}
				if tc.Function.Name != "" {
					entry.Function.Name = tc.Function.Name
				}
				entry.Function.Arguments += tc.Function.Arguments
			}
			if choice.FinishReason == "tool_calls" {
				flushToolCalls()
			}
		}
	}

	if err := scanner.Err(); err != nil && ctx.Err() == nil {
		ch <- StreamChunk{Type: "error", Err: protocol.NewAgentError(protocol.ErrLLMFailed, "stream read failed", err)}
		return
	}
	if ctx.Err() != nil {
		ch <- StreamChunk{Type: "error", Err: protocol.NewAgentError(protocol.ErrRequestCancelled, "stream cancelled", ctx.Err())}
		return
	}

	flushToolCalls()
	ch <- StreamChunk{Type: "done", Usage: usage}

	if m := observability.GetGlobalMetrics(); m != nil {
		m.RecordLLMTokens(ctx, p.cfg.Model, usage.TotalTokens)
	}
}

func (p *OpenAIProvider) headers() map[string]string {
	h := map[string]string{}
	if p.cfg.APIKey != "" {
		h["Authorization"] = "Bearer " + p.cfg.APIKey
	}
	return h
}

func decodeToolCall(tc chatToolCall) protocol.ToolCall {
	out := protocol.ToolCall{
		ID:      tc.ID,
		Name:    tc.Function.Name,
		RawArgs: tc.Function.Arguments,
	}
	if tc.Function.Arguments != "" {
		var args map[string]any
		if err := json.Unmarshal([]byte(tc.Function.Arguments), &args); err == nil {
			out.Arguments = args
		}
	}
	if out.Arguments == nil {
		out.Arguments = map[string]any{}
	}
	return out
}

func translateHTTPError(err error) error {
	var statusErr *httpclient.StatusError
	if errors.As(err, &statusErr) {
		if statusErr.IsRateLimit() {
			return protocol.NewAgentError(protocol.ErrLLMRateLimited, "llm provider rate limited", err)
		}
		return protocol.NewAgentError(protocol.ErrLLMFailed,
			fmt.Sprintf("llm provider returned status %d", statusErr.StatusCode), err)
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return protocol.NewAgentError(protocol.ErrLLMFailed, "llm call timed out", err)
	}
	if errors.Is(err, context.Canceled) {
		return protocol.NewAgentError(protocol.ErrRequestCancelled, "llm call cancelled", err)
	}
	return protocol.NewAgentError(protocol.ErrLLMFailed, "llm call failed", err)
}

var _ LLM = (*OpenAIProvider)(nil)
