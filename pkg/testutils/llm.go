// Package testutils provides shared fakes for package tests: a scripted LLM
// with a call recorder and an event collector.
package testutils

import (
	"context"
	"sync"

	"github.com/praxisworks/praxis/pkg/llms"
	"github.com/praxisworks/praxis/pkg/protocol"
)

type scriptedStep struct {
	resp llms.Response
	err  error
}

// ScriptedLLM returns queued responses in order and records every request.
// When the queue runs dry it returns Fallback (or an empty response).
type ScriptedLLM struct {
	mu       sync.Mutex
	queue    []scriptedStep
	requests []llms.Request
	Fallback *llms.Response
	ModelID  string
}

func NewScriptedLLM() *ScriptedLLM {
	return &ScriptedLLM{ModelID: "scripted-model"}
}

// Enqueue appends a response to the script.
func (s *ScriptedLLM) Enqueue(resp llms.Response) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.queue = append(s.queue, scriptedStep{resp: resp})
}

// EnqueueText is shorthand for a plain text response.
func (s *ScriptedLLM) EnqueueText(text string) {
	s.Enqueue(llms.Response{Text: text, Usage: protocol.Usage{TotalTokens: len(text)/4 + 1}})
}

// EnqueueError makes the next call fail with err.
func (s *ScriptedLLM) EnqueueError(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.queue = append(s.queue, scriptedStep{err: err})
}

// Requests returns the recorded requests.
func (s *ScriptedLLM) Requests() []llms.Request {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]llms.Request, len(s.requests))
	copy(out, s.requests)
	return out
}

// CallCount returns how many calls were made.
func (s *ScriptedLLM) CallCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.requests)
}

func (s *ScriptedLLM) next(req llms.Request) (*llms.Response, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.requests = append(s.requests, req)

	if len(s.queue) == 0 {
		if s.Fallback != nil {
			resp := *s.Fallback
			return &resp, nil
		}
		return &llms.Response{Text: "(no scripted response)"}, nil
	}
	step := s.queue[0]
	s.queue = s.queue[1:]
	if step.err != nil {
		return nil, step.err
	}
	resp := step.resp
	return &resp, nil
}

func (s *ScriptedLLM) Generate(_ context.Context, req llms.Request) (*llms.Response, error) {
	return s.next(req)
}

func (s *ScriptedLLM) GenerateStreaming(_ context.Context, req llms.Request) (<-chan llms.StreamChunk, error) {
	resp, err := s.next(req)
	if err != nil {
		return nil, err
	}

	ch := make(chan llms.StreamChunk, 8)
	go func() {
		defer close(ch)
		if resp.Text != "" {
			ch <- llms.StreamChunk{Type: "text", Text: resp.Text}
		}
		for i := range resp.ToolCalls {
			tc := resp.ToolCalls[i]
			ch <- llms.StreamChunk{Type: "tool_call", ToolCall: &tc}
		}
		ch <- llms.StreamChunk{Type: "done", Usage: resp.Usage}
	}()
	return ch, nil
}

func (s *ScriptedLLM) ModelName() string { return s.ModelID }

var _ llms.LLM = (*ScriptedLLM)(nil)
