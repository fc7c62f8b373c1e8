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

package observability

// Span names. One root span per AgentRequest; children cover plan generation,
// each step, supervisor calls, and LLM calls.
const (
	SpanAgentRequest   = "praxis.agent.request"
	SpanPlanGeneration = "praxis.planner.plan"
	SpanPlanValidation = "praxis.planner.validate"
	SpanStepExecution  = "praxis.step.execute"
	SpanStepReview     = "praxis.step.review"
	SpanSkillRun       = "praxis.skill.run"
	SpanToolExecution  = "praxis.tool.execute"
	SpanLLMCall        = "praxis.llm.call"
	SpanMemorySearch   = "praxis.memory.search"
	SpanMemoryUpsert   = "praxis.memory.upsert"
	SpanMCPConnect     = "praxis.mcp.connect"
)

// Attribute keys. Values must never be empty-for-null; callers substitute ""
// explicitly rather than attaching nulls.
const (
	AttrContextID      = "praxis.context_id"
	AttrConversationID = "praxis.conversation_id"
	AttrTraceID        = "praxis.trace_id"
	AttrPromptPreview  = "praxis.prompt_preview"
	AttrRoute          = "praxis.route"
	AttrStepID         = "praxis.step_id"
	AttrToolName       = "praxis.tool_name"
	AttrSkillName      = "praxis.skill_name"
	AttrErrorKind      = "error.kind"
	AttrReplanCount    = "praxis.replans"
	AttrModel          = "praxis.llm.model"
	AttrTokensTotal    = "praxis.llm.tokens_total"
	AttrNamespace      = "praxis.memory.namespace"
	AttrServer         = "praxis.mcp.server"
)

// Span event names recorded on the owning span rather than a second log pipeline.
const (
	EventMemoryDegraded       = "memory_degraded"
	EventPersistenceDegraded  = "persistence_degraded"
	EventPlanWarning          = "plan_warning"
	EventReplanRequested      = "replan_requested"
	EventHitlSuspended        = "hitl_suspended"
	EventHitlResumed          = "hitl_resumed"
	EventNegativeCacheBackoff = "mcp_negative_cache"
)
