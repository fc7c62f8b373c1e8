package dispatch

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"testing"

	"github.com/praxisworks/praxis/pkg/agent"
	"github.com/praxisworks/praxis/pkg/config"
	"github.com/praxisworks/praxis/pkg/fastpath"
	"github.com/praxisworks/praxis/pkg/protocol"
	"github.com/praxisworks/praxis/pkg/skills"
	"github.com/praxisworks/praxis/pkg/store"
	"github.com/praxisworks/praxis/pkg/testutils"
	"github.com/praxisworks/praxis/pkg/tools"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type echoTool struct{}

func (t *echoTool) Info() tools.ToolInfo {
	return tools.ToolInfo{Name: "homey", Description: "device control", Parameters: map[string]any{"type": "object"}}
}

func (t *echoTool) Execute(_ context.Context, args map[string]any, _ *tools.Ambient) (string, error) {
	name, _ := args["device_name"].(string)
	return "controlled " + name, nil
}

type echoSource struct{}

func (s *echoSource) GetName() string                       { return "local" }
func (s *echoSource) GetType() string                       { return "local" }
func (s *echoSource) DiscoverTools(_ context.Context) error { return nil }
func (s *echoSource) ListTools() []tools.ToolInfo           { return []tools.ToolInfo{(&echoTool{}).Info()} }
func (s *echoSource) GetTool(name string) (tools.Tool, bool) {
	if name == "homey" {
		return &echoTool{}, true
	}
	return nil, false
}

func newRuntime(t *testing.T) (*Runtime, *testutils.ScriptedLLM, *store.Store) {
	t.Helper()

	key := make([]byte, 32)
	_, err := rand.Read(key)
	require.NoError(t, err)
	crypto, err := store.NewCrypto(base64.StdEncoding.EncodeToString(key))
	require.NoError(t, err)

	dbCfg := config.DatabaseConfig{Driver: "sqlite", DSN: ":memory:", MaxConns: 1, MaxIdle: 1}
	st, err := store.Open(context.Background(), dbCfg, crypto)
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })

	cfg := &config.Config{}
	cfg.SetDefaults()

	llm := testutils.NewScriptedLLM()

	template := tools.NewToolRegistry()
	require.NoError(t, template.RegisterSource(context.Background(), &echoSource{}))

	router := fastpath.NewRouter()
	router.RegisterDefaults()

	rt := &Runtime{
		Config:   cfg,
		LLM:      llm,
		Store:    st,
		Tools:    template,
		Skills:   skills.NewRegistry(),
		FastPath: router,
		Tasks:    agent.NewTaskSet(),
	}
	t.Cleanup(rt.Shutdown)
	return rt, llm, st
}

func seedContext(t *testing.T, st *store.Store, id string, members ...string) {
	t.Helper()
	require.NoError(t, st.CreateContext(context.Background(), &store.Context{
		ID:      id,
		Name:    id,
		Type:    store.ContextPersonal,
		Owner:   "owner@example.com",
		Members: members,
	}))
}

func TestStreamAutoCreatesConversation(t *testing.T) {
	rt, llm, st := newRuntime(t)
	seedContext(t, st, "ctx-1")
	llm.EnqueueText("Hi!")

	d := NewDispatcher(rt)
	events := testutils.CollectEvents(d.Stream(context.Background(), StreamInput{
		Message:    "Hello",
		Platform:   "http",
		PlatformID: "sess-42",
		Metadata:   map[string]any{protocol.MetaContextID: "ctx-1"},
	}))

	final := testutils.FinalEvent(events)
	require.Equal(t, protocol.EventDone, final.Type)

	conv, err := st.FindConversation(context.Background(), "http", "sess-42")
	require.NoError(t, err)
	require.NotNil(t, conv)
	assert.Equal(t, "ctx-1", conv.ContextID)

	messages, err := st.Messages(context.Background(), conv.ID, 0)
	require.NoError(t, err)
	require.Len(t, messages, 2)
	assert.Equal(t, protocol.RoleAssistant, messages[1].Role)
}

func TestStreamReusesConversation(t *testing.T) {
	rt, llm, st := newRuntime(t)
	seedContext(t, st, "ctx-1")
	llm.EnqueueText("first")
	llm.EnqueueText("second")

	d := NewDispatcher(rt)
	in := StreamInput{
		Message:    "Hello",
		Platform:   "telegram",
		PlatformID: "chat-7",
		Metadata:   map[string]any{protocol.MetaContextID: "ctx-1"},
	}

	_ = testutils.CollectEvents(d.Stream(context.Background(), in))
	in.Message = "Hello"
	_ = testutils.CollectEvents(d.Stream(context.Background(), in))

	conv, err := st.FindConversation(context.Background(), "telegram", "chat-7")
	require.NoError(t, err)
	messages, err := st.Messages(context.Background(), conv.ID, 0)
	require.NoError(t, err)
	assert.Len(t, messages, 4, "both turns share one conversation")
}

func TestStreamDeniesNonMembers(t *testing.T) {
	rt, llm, st := newRuntime(t)
	seedContext(t, st, "ctx-1", "member@example.com")
	llm.EnqueueText("should not run")

	d := NewDispatcher(rt)
	events := testutils.CollectEvents(d.Stream(context.Background(), StreamInput{
		Message:    "Hello",
		Platform:   "http",
		PlatformID: "sess-1",
		Metadata: map[string]any{
			protocol.MetaContextID: "ctx-1",
			protocol.MetaUserEmail: "intruder@example.com",
		},
	}))

	final := testutils.FinalEvent(events)
	require.Equal(t, protocol.EventError, final.Type)
	assert.Equal(t, protocol.ErrContextDenied, final.ErrorKind)
}

func TestStreamMemberAllowed(t *testing.T) {
	rt, llm, st := newRuntime(t)
	seedContext(t, st, "ctx-1", "member@example.com")
	llm.EnqueueText("welcome")

	d := NewDispatcher(rt)
	events := testutils.CollectEvents(d.Stream(context.Background(), StreamInput{
		Message:    "Hello",
		Platform:   "http",
		PlatformID: "sess-1",
		Metadata: map[string]any{
			protocol.MetaContextID: "ctx-1",
			protocol.MetaUserEmail: "member@example.com",
		},
	}))

	assert.Equal(t, protocol.EventDone, testutils.FinalEvent(events).Type)
}

func TestStreamFastPathRespectsPermissions(t *testing.T) {
	rt, _, st := newRuntime(t)
	seedContext(t, st, "ctx-1")
	require.NoError(t, st.SetToolPermission(context.Background(), "ctx-1", "homey", false))

	d := NewDispatcher(rt)
	events := testutils.CollectEvents(d.Stream(context.Background(), StreamInput{
		Message:    "turn on the kitchen light",
		Platform:   "http",
		PlatformID: "sess-1",
		Metadata:   map[string]any{protocol.MetaContextID: "ctx-1"},
	}))

	final := testutils.FinalEvent(events)
	require.Equal(t, protocol.EventError, final.Type)
	assert.Equal(t, protocol.ErrToolNotPermitted, final.ErrorKind,
		"a permission-filtered tool must report TOOL_NOT_PERMITTED, not TOOL_NOT_FOUND")
}

func TestStreamFastPathExecutesPermittedTool(t *testing.T) {
	rt, _, st := newRuntime(t)
	seedContext(t, st, "ctx-1")

	d := NewDispatcher(rt)
	events := testutils.CollectEvents(d.Stream(context.Background(), StreamInput{
		Message:    "turn on the kitchen light",
		Platform:   "http",
		PlatformID: "sess-1",
		Metadata:   map[string]any{protocol.MetaContextID: "ctx-1"},
	}))

	started := testutils.EventsOfType(events, protocol.EventToolStarted)
	require.Len(t, started, 1)
	assert.Equal(t, "homey", started[0].Tool)
	assert.Equal(t, protocol.EventDone, testutils.FinalEvent(events).Type)
}

func TestStreamRequiresContextForNewConversation(t *testing.T) {
	rt, _, _ := newRuntime(t)

	d := NewDispatcher(rt)
	events := testutils.CollectEvents(d.Stream(context.Background(), StreamInput{
		Message:    "Hello",
		Platform:   "http",
		PlatformID: "sess-1",
	}))

	final := testutils.FinalEvent(events)
	require.Equal(t, protocol.EventError, final.Type)
	assert.Equal(t, protocol.ErrContextDenied, final.ErrorKind)
}

func TestFactoryCachesScopedState(t *testing.T) {
	rt, llm, st := newRuntime(t)
	seedContext(t, st, "ctx-1")
	llm.EnqueueText("a")
	llm.EnqueueText("b")

	f := NewFactory(rt)
	conv := &store.Conversation{ID: "c1", ContextID: "ctx-1"}
	require.NoError(t, st.CreateConversation(context.Background(), conv))

	o1, err := f.Orchestrator(context.Background(), conv, "")
	require.NoError(t, err)
	o2, err := f.Orchestrator(context.Background(), conv, "")
	require.NoError(t, err)

	assert.NotNil(t, o1)
	assert.NotNil(t, o2)
	assert.Len(t, f.cache, 1)
}
