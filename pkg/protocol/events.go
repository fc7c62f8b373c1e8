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

package protocol

// EventType discriminates the closed event union streamed to transports.
type EventType string

const (
	EventToken        EventType = "token"
	EventPlan         EventType = "plan"
	EventToolStarted  EventType = "tool_started"
	EventToolActivity EventType = "tool_activity"
	EventToolFinished EventType = "tool_finished"
	EventHitlPending  EventType = "hitl_pending"
	EventError        EventType = "error"
	EventDone         EventType = "done"
)

// Usage reports token consumption for a request.
type Usage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

// Add accumulates another usage record.
func (u *Usage) Add(other Usage) {
	u.PromptTokens += other.PromptTokens
	u.CompletionTokens += other.CompletionTokens
	u.TotalTokens += other.TotalTokens
}

// Event is one element of the stream a transport consumes. Exactly the fields
// of the tagged variant are populated; everything else is zero.
//
// Every stream ends in exactly one EventDone or EventError.
type Event struct {
	Type EventType `json:"type"`

	// EventToken
	Text string `json:"text,omitempty"`

	// EventPlan
	Plan *Plan `json:"plan,omitempty"`

	// EventToolStarted / EventToolActivity / EventToolFinished
	StepID        string `json:"step_id,omitempty"`
	Tool          string `json:"tool,omitempty"`
	ActivityHint  string `json:"activity_hint,omitempty"`
	Chunk         string `json:"chunk,omitempty"`
	Status        string `json:"status,omitempty"`
	OutputPreview string `json:"output_preview,omitempty"`

	// EventHitlPending
	Question string `json:"question,omitempty"`

	// EventError
	ErrorKind ErrorKind `json:"error_kind,omitempty"`
	Message   string    `json:"message,omitempty"`
	Retryable bool      `json:"retryable,omitempty"`

	// EventDone
	TraceID    string `json:"trace_id,omitempty"`
	TokenUsage *Usage `json:"token_usage,omitempty"`
	FinalText  string `json:"final_text,omitempty"`
}

func TokenEvent(text string) Event { return Event{Type: EventToken, Text: text} }

func PlanEvent(plan *Plan) Event { return Event{Type: EventPlan, Plan: plan} }

func ToolStartedEvent(stepID, tool, hint string) Event {
	return Event{Type: EventToolStarted, StepID: stepID, Tool: tool, ActivityHint: hint}
}

func ToolActivityEvent(stepID, chunk string) Event {
	return Event{Type: EventToolActivity, StepID: stepID, Chunk: chunk}
}

func ToolFinishedEvent(stepID, tool, status, preview string) Event {
	return Event{Type: EventToolFinished, StepID: stepID, Tool: tool, Status: status, OutputPreview: preview}
}

func HitlPendingEvent(stepID, question string) Event {
	return Event{Type: EventHitlPending, StepID: stepID, Question: question}
}

func ErrorEvent(err *AgentError) Event {
	return Event{Type: EventError, ErrorKind: err.Kind, Message: err.Message, Retryable: err.Retryable}
}

func DoneEvent(traceID, finalText string, usage Usage) Event {
	return Event{Type: EventDone, TraceID: traceID, FinalText: finalText, TokenUsage: &usage}
}

// Terminal reports whether the event closes the stream.
func (e Event) Terminal() bool {
	return e.Type == EventDone || e.Type == EventError
}
