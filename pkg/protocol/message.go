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

// Package protocol defines the shared wire types of the orchestration core:
// conversation messages, plans, streamed events, and the error taxonomy.
//
// Every other package speaks these types; protocol itself depends on nothing
// but the standard library.
package protocol

import "time"

// Role identifies the author of a message.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleSystem    Role = "system"
	RoleTool      Role = "tool"
)

// Message is one turn of a conversation.
//
// This is the universal format used for LLM calls, transcript accumulation,
// and persistence. Tool results are carried as RoleTool messages with the
// originating ToolCallID set.
type Message struct {
	Role       Role       `json:"role"`
	Content    string     `json:"content,omitempty"`
	ToolCalls  []ToolCall `json:"tool_calls,omitempty"`
	ToolCallID string     `json:"tool_call_id,omitempty"`
	Name       string     `json:"name,omitempty"`
	TraceID    string     `json:"trace_id,omitempty"`
	CreatedAt  time.Time  `json:"created_at,omitempty"`
}

// ToolCall is a tool invocation requested by the LLM.
type ToolCall struct {
	ID        string         `json:"id"`
	Name      string         `json:"name"`
	Arguments map[string]any `json:"arguments"`
	RawArgs   string         `json:"raw_args,omitempty"`
}

// AgentRequest is the transport-neutral input consumed by the orchestrator.
type AgentRequest struct {
	Prompt         string         `json:"prompt"`
	ConversationID string         `json:"conversation_id"`
	Metadata       map[string]any `json:"metadata,omitempty"`
	Messages       []Message      `json:"messages,omitempty"`
}

// Well-known metadata keys merged into an AgentRequest by transports.
const (
	MetaPlatform       = "platform"
	MetaUserEmail      = "user_email"
	MetaContextID      = "context_id"
	MetaScheduledJobID = "scheduled_job_id"
	MetaForceRoute     = "force_route"
	MetaHitlResume     = "hitl_resume"
	MetaHitlAnswer     = "hitl_answer"
)

// MetaString returns a string metadata value, or "" when absent or non-string.
func (r *AgentRequest) MetaString(key string) string {
	if r.Metadata == nil {
		return ""
	}
	if v, ok := r.Metadata[key].(string); ok {
		return v
	}
	return ""
}
