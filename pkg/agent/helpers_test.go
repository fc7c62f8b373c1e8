package agent

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/praxisworks/praxis/pkg/config"
	"github.com/praxisworks/praxis/pkg/fastpath"
	"github.com/praxisworks/praxis/pkg/llms"
	"github.com/praxisworks/praxis/pkg/planner"
	"github.com/praxisworks/praxis/pkg/protocol"
	"github.com/praxisworks/praxis/pkg/skills"
	"github.com/praxisworks/praxis/pkg/testutils"
	"github.com/praxisworks/praxis/pkg/tools"
)

// scriptedTool runs a queue of behaviors: each call pops the next one.
type scriptedTool struct {
	mu       sync.Mutex
	name     string
	hint     string
	behavior []func(ctx context.Context, args map[string]any) (string, error)
	calls    []map[string]any
}

func newScriptedTool(name string) *scriptedTool {
	return &scriptedTool{name: name}
}

func (t *scriptedTool) returns(output string) *scriptedTool {
	t.behavior = append(t.behavior, func(_ context.Context, _ map[string]any) (string, error) {
		return output, nil
	})
	return t
}

func (t *scriptedTool) fails(err error) *scriptedTool {
	t.behavior = append(t.behavior, func(_ context.Context, _ map[string]any) (string, error) {
		return "", err
	})
	return t
}

func (t *scriptedTool) Info() tools.ToolInfo {
	return tools.ToolInfo{
		Name:         t.name,
		Description:  t.name,
		Parameters:   map[string]any{"type": "object"},
		ActivityHint: t.hint,
	}
}

func (t *scriptedTool) Execute(ctx context.Context, args map[string]any, _ *tools.Ambient) (string, error) {
	t.mu.Lock()
	t.calls = append(t.calls, args)
	idx := len(t.calls) - 1
	var fn func(context.Context, map[string]any) (string, error)
	if idx < len(t.behavior) {
		fn = t.behavior[idx]
	} else if len(t.behavior) > 0 {
		fn = t.behavior[len(t.behavior)-1]
	}
	t.mu.Unlock()

	if fn == nil {
		return "ok", nil
	}
	return fn(ctx, args)
}

func (t *scriptedTool) callCount() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.calls)
}

func (t *scriptedTool) callArgs(i int) map[string]any {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.calls[i]
}

type toolSource struct {
	tools map[string]tools.Tool
}

func (s *toolSource) GetName() string                       { return "test" }
func (s *toolSource) GetType() string                       { return "local" }
func (s *toolSource) DiscoverTools(_ context.Context) error { return nil }

func (s *toolSource) ListTools() []tools.ToolInfo {
	var infos []tools.ToolInfo
	for _, t := range s.tools {
		infos = append(infos, t.Info())
	}
	return infos
}

func (s *toolSource) GetTool(name string) (tools.Tool, bool) {
	t, ok := s.tools[name]
	return t, ok
}

// fakePersist records persisted messages and suspension state.
type fakePersist struct {
	mu          sync.Mutex
	messages    []protocol.Message
	suspension  string
	failAppends int
}

func (p *fakePersist) AppendMessages(_ context.Context, _ string, messages []protocol.Message) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.failAppends > 0 {
		p.failAppends--
		return errors.New("db unavailable")
	}
	p.messages = append(p.messages, messages...)
	return nil
}

func (p *fakePersist) SetSuspension(_ context.Context, _ string, suspension string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.suspension = suspension
	return nil
}

func (p *fakePersist) persisted() []protocol.Message {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]protocol.Message, len(p.messages))
	copy(out, p.messages)
	return out
}

func (p *fakePersist) suspended() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.suspension
}

// fixture assembles a full orchestrator with scripted parts.
type fixture struct {
	cfg        config.OrchestrationConfig
	plannerLLM *testutils.ScriptedLLM
	supLLM     *testutils.ScriptedLLM
	mainLLM    *testutils.ScriptedLLM
	skillLLM   *testutils.ScriptedLLM
	toolsByNm  map[string]tools.Tool
	persist    *fakePersist
	skillReg   *skills.Registry
	router     *fastpath.Router
	suspended  string
	tasks      *TaskSet
	memory     MemoryUpserter
}

func newFixture() *fixture {
	cfg := config.OrchestrationConfig{}
	cfg.SetDefaults()
	return &fixture{
		cfg:        cfg,
		plannerLLM: testutils.NewScriptedLLM(),
		supLLM:     testutils.NewScriptedLLM(),
		mainLLM:    testutils.NewScriptedLLM(),
		skillLLM:   testutils.NewScriptedLLM(),
		toolsByNm:  map[string]tools.Tool{},
		persist:    &fakePersist{},
		skillReg:   skills.NewRegistry(),
		tasks:      NewTaskSet(),
	}
}

func (f *fixture) addTool(t tools.Tool) { f.toolsByNm[t.Info().Name] = t }

func (f *fixture) build() *Orchestrator {
	template := tools.NewToolRegistry()
	_ = template.RegisterSource(context.Background(), &toolSource{tools: f.toolsByNm})
	scoped := template.Scoped(nil, f.cfg.ToolTimeout(), f.cfg.ToolRateLimit)

	skillCfg := config.SkillsConfig{}
	skillCfg.SetDefaults()
	engine := skills.NewEngine(f.skillLLM, skillCfg)

	ambient := &tools.Ambient{ContextID: "ctx-1", UserEmail: "user@example.com", WorkDir: "/work"}
	ctxInfo := skills.ContextInfo{ID: "ctx-1", HasWorkspace: true}

	executor := NewStepExecutor(scoped, f.skillReg, engine, f.mainLLM, ambient, ctxInfo)

	if f.router == nil {
		f.router = fastpath.NewRouter()
		f.router.RegisterDefaults()
	}

	return New(Options{
		Config:         f.cfg,
		LLM:            f.mainLLM,
		Planner:        planner.New(f.plannerLLM, f.cfg),
		PlanSupervisor: planner.NewPlanSupervisor(),
		StepSupervisor: planner.NewStepSupervisor(f.supLLM),
		Executor:       executor,
		Registry:       scoped,
		Skills:         f.skillReg,
		FastPath:       f.router,
		Memory:         f.memory,
		Persist:        f.persist,
		Tasks:          f.tasks,
		ContextID:      "ctx-1",
		ConversationID: "conv-1",
		Suspended:      f.suspended,
		HitlTTL:        24 * time.Hour,
	})
}

func runRequest(o *Orchestrator, req *protocol.AgentRequest) []protocol.Event {
	return testutils.CollectEvents(o.ExecuteStream(context.Background(), req))
}

// llmsTextResponse is a non-JSON fallback used to starve the planner.
var llmsTextResponse = llms.Response{Text: "just some prose, no structure"}

// llmToolCall builds a scripted assistant response containing one tool call.
func llmToolCall(name string, args map[string]any) llms.Response {
	return llms.Response{ToolCalls: []protocol.ToolCall{{ID: "call_1", Name: name, Arguments: args}}}
}

// recordingMemory captures background upserts.
type recordingMemory struct {
	mu      sync.Mutex
	upserts []string
}

func (m *recordingMemory) Upsert(_ context.Context, text string, _ map[string]any) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.upserts = append(m.upserts, text)
	return nil
}
