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

// Package dispatch is the entry point transports consume: the Dispatcher
// resolves conversations and streams normalized events, and the Factory
// assembles a tenant-scoped orchestrator from the process-wide Runtime.
package dispatch

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/praxisworks/praxis/pkg/agent"
	"github.com/praxisworks/praxis/pkg/config"
	"github.com/praxisworks/praxis/pkg/fastpath"
	"github.com/praxisworks/praxis/pkg/llms"
	"github.com/praxisworks/praxis/pkg/mcp"
	"github.com/praxisworks/praxis/pkg/memory"
	"github.com/praxisworks/praxis/pkg/planner"
	"github.com/praxisworks/praxis/pkg/protocol"
	"github.com/praxisworks/praxis/pkg/skills"
	"github.com/praxisworks/praxis/pkg/store"
	"github.com/praxisworks/praxis/pkg/tools"
)

// Storage is the persistence surface the dispatcher and factory consume.
// *store.Store satisfies it.
type Storage interface {
	agent.Persistence
	GetConversation(ctx context.Context, id string) (*store.Conversation, error)
	FindConversation(ctx context.Context, platform, platformID string) (*store.Conversation, error)
	CreateConversation(ctx context.Context, c *store.Conversation) error
	GetContext(ctx context.Context, id string) (*store.Context, error)
	ToolPermissions(ctx context.Context, contextID string) (map[string]bool, error)
	OAuthAccessToken(ctx context.Context, contextID, provider string) (string, error)
	Messages(ctx context.Context, conversationID string, limit int) ([]protocol.Message, error)
}

// Runtime holds the process-lifetime singletons, fully constructed at
// startup before any transport binds and torn down after transports drain.
type Runtime struct {
	Config   *config.Config
	LLM      llms.LLM
	Store    Storage
	VectorDB memory.VectorDB
	Embedder memory.Embedder
	Tools    *tools.ToolRegistry
	MCP      *mcp.Pool
	Skills   *skills.Registry
	FastPath *fastpath.Router
	Tasks    *agent.TaskSet
}

// Shutdown tears the runtime down: background tasks first, then clients.
func (r *Runtime) Shutdown() {
	if r.Tasks != nil {
		r.Tasks.Shutdown()
	}
	if r.MCP != nil {
		if err := r.MCP.Close(); err != nil {
			slog.Warn("MCP pool close failed", "error", err)
		}
	}
	if r.VectorDB != nil {
		if err := r.VectorDB.Close(); err != nil {
			slog.Warn("Vector client close failed", "error", err)
		}
	}
}

// scopedState is the per-context cache entry: the expensive request-scoped
// pieces (permission-filtered registry, memory store) amortized under burst
// traffic. Orchestrators themselves are cheap value assemblies.
type scopedState struct {
	registry  *tools.ScopedRegistry
	memory    *memory.Store
	tenant    *store.Context
	expiresAt time.Time
}

// Factory builds a tenant-scoped Orchestrator per request.
type Factory struct {
	rt *Runtime

	mu    sync.Mutex
	cache map[string]*scopedState
}

func NewFactory(rt *Runtime) *Factory {
	return &Factory{rt: rt, cache: map[string]*scopedState{}}
}

func (f *Factory) scoped(ctx context.Context, contextID string) (*scopedState, error) {
	now := time.Now()

	f.mu.Lock()
	if state, ok := f.cache[contextID]; ok && now.Before(state.expiresAt) {
		f.mu.Unlock()
		return state, nil
	}
	f.mu.Unlock()

	tenant, err := f.rt.Store.GetContext(ctx, contextID)
	if err != nil {
		return nil, err
	}
	if tenant == nil {
		return nil, protocol.Errorf(protocol.ErrContextDenied, "unknown context %q", contextID)
	}

	perms, err := f.rt.Store.ToolPermissions(ctx, contextID)
	if err != nil {
		return nil, err
	}
	defaultAllow := f.rt.Config.Security.DefaultToolPolicy != "deny"
	allowed := func(toolName string) bool {
		if decision, ok := perms[toolName]; ok {
			return decision
		}
		return defaultAllow
	}

	orch := f.rt.Config.Orchestration
	registry := f.rt.Tools.Scoped(allowed, orch.ToolTimeout(), orch.ToolRateLimit)

	// Attach this tenant's MCP servers. A broken server degrades that
	// server's tools, not the request.
	if f.rt.MCP != nil {
		for server := range f.rt.Config.MCP.Servers {
			source := mcp.NewToolSource(f.rt.MCP, contextID, server)
			if err := registry.AddSource(ctx, source, allowed); err != nil {
				slog.Warn("MCP source unavailable for request", "server", server, "context", contextID, "error", err)
			}
		}
	}

	var memStore *memory.Store
	if f.rt.VectorDB != nil && f.rt.Embedder != nil {
		memStore, err = memory.NewStore(f.rt.VectorDB, f.rt.Embedder, contextID)
		if err != nil {
			return nil, err
		}
	}

	state := &scopedState{
		registry:  registry,
		memory:    memStore,
		tenant:    tenant,
		expiresAt: now.Add(time.Duration(orch.OrchestratorCacheTTLSeconds) * time.Second),
	}

	f.mu.Lock()
	f.cache[contextID] = state
	// Drop expired entries so the cache stays bounded by live tenants.
	for id, cached := range f.cache {
		if now.After(cached.expiresAt) {
			delete(f.cache, id)
		}
	}
	f.mu.Unlock()
	return state, nil
}

// Orchestrator assembles the per-request orchestrator for a conversation.
func (f *Factory) Orchestrator(ctx context.Context, conv *store.Conversation, userEmail string) (*agent.Orchestrator, error) {
	state, err := f.scoped(ctx, conv.ContextID)
	if err != nil {
		return nil, err
	}

	cfg := f.rt.Config
	tenant := state.tenant

	ambient := &tools.Ambient{
		ContextID: tenant.ID,
		WorkDir:   tenant.DefaultCwd,
		UserEmail: userEmail,
		OAuthToken: func(ctx context.Context, provider string) (string, error) {
			return f.rt.Store.OAuthAccessToken(ctx, tenant.ID, provider)
		},
	}
	ctxInfo := skills.ContextInfo{
		ID:           tenant.ID,
		HasWorkspace: tenant.HasWorkspace(),
		Members:      tenant.Members,
		CallerEmail:  userEmail,
	}

	engine := skills.NewEngine(f.rt.LLM, cfg.Skills)
	executor := agent.NewStepExecutor(state.registry, f.rt.Skills, engine, f.rt.LLM, ambient, ctxInfo)

	var memSink agent.MemoryUpserter
	if state.memory != nil {
		memSink = state.memory
	}

	return agent.New(agent.Options{
		Config:         cfg.Orchestration,
		LLM:            f.rt.LLM,
		Planner:        planner.New(f.rt.LLM, cfg.Orchestration),
		PlanSupervisor: planner.NewPlanSupervisor(),
		StepSupervisor: planner.NewStepSupervisor(f.rt.LLM),
		Executor:       executor,
		Registry:       state.registry,
		Skills:         f.rt.Skills,
		FastPath:       f.rt.FastPath,
		Memory:         memSink,
		Persist:        f.rt.Store,
		Tasks:          f.rt.Tasks,
		ContextID:      tenant.ID,
		ConversationID: conv.ID,
		Suspended:      conv.Suspension,
		HitlTTL:        cfg.Skills.HitlTTL(),
	}), nil
}
