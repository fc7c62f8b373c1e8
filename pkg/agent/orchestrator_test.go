package agent

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"

	"github.com/praxisworks/praxis/pkg/protocol"
	"github.com/praxisworks/praxis/pkg/skills"
	"github.com/praxisworks/praxis/pkg/testutils"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSimpleChat(t *testing.T) {
	f := newFixture()
	f.mainLLM.EnqueueText("Hi! How can I help?")
	o := f.build()

	events := runRequest(o, &protocol.AgentRequest{Prompt: "Hello", ConversationID: "conv-1"})

	final := testutils.FinalEvent(events)
	require.Equal(t, protocol.EventDone, final.Type)
	assert.Equal(t, "Hi! How can I help?", final.FinalText)
	assert.NotEmpty(t, final.TraceID)

	assert.Empty(t, testutils.EventsOfType(events, protocol.EventPlan), "chat must not emit a plan")

	persisted := f.persist.persisted()
	require.Len(t, persisted, 2)
	assert.Equal(t, protocol.RoleUser, persisted[0].Role)
	assert.Equal(t, protocol.RoleAssistant, persisted[1].Role)
	assert.Equal(t, final.TraceID, persisted[1].TraceID)
}

func TestFastPathTool(t *testing.T) {
	f := newFixture()
	homey := newScriptedTool("homey").returns("Set the kitchen light onoff=true")
	f.addTool(homey)
	o := f.build()

	events := runRequest(o, &protocol.AgentRequest{Prompt: "turn on the kitchen light", ConversationID: "conv-1"})

	started := testutils.EventsOfType(events, protocol.EventToolStarted)
	finished := testutils.EventsOfType(events, protocol.EventToolFinished)
	require.Len(t, started, 1)
	require.Len(t, finished, 1)
	assert.Equal(t, "homey", started[0].Tool)

	require.Equal(t, 1, homey.callCount())
	assert.Equal(t, map[string]any{
		"action":      "control_device",
		"device_name": "the kitchen light",
		"capability":  "onoff",
		"value":       true,
	}, homey.callArgs(0))

	assert.Equal(t, protocol.EventDone, testutils.FinalEvent(events).Type)
	assert.Equal(t, 0, f.plannerLLM.CallCount(), "fast path bypasses the planner")
}

func TestAgenticPlanSuccess(t *testing.T) {
	f := newFixture()
	prices := newScriptedTool("price_tracker").returns("Latest 3 prices for X: 10, 11, 12 EUR")
	email := newScriptedTool("send_email").returns("Email sent to user@example.com: price summary")
	f.addTool(prices)
	f.addTool(email)

	f.plannerLLM.EnqueueText(`{"description":"prices then email","steps":[
		{"id":"s1","label":"get prices","executor":"tool","action":"price_tracker","args":{"product":"X"}},
		{"id":"s2","label":"email them","executor":"tool","action":"send_email","args":{"subject":"Prices for X"},"depends_on":["s1"]}
	]}`)
	f.mainLLM.EnqueueText("I checked the latest three prices for X and emailed you a summary.")

	o := f.build()
	events := runRequest(o, &protocol.AgentRequest{
		Prompt:         "Summarize the latest three prices for product X and email me the summary",
		ConversationID: "conv-1",
	})

	plans := testutils.EventsOfType(events, protocol.EventPlan)
	require.Len(t, plans, 1)
	require.Len(t, plans[0].Plan.Steps, 2)

	finished := testutils.EventsOfType(events, protocol.EventToolFinished)
	require.Len(t, finished, 2)

	final := testutils.FinalEvent(events)
	require.Equal(t, protocol.EventDone, final.Type)
	assert.Contains(t, final.FinalText, "emailed you a summary")

	assert.Equal(t, 1, prices.callCount())
	assert.Equal(t, 1, email.callCount())

	// Dependency order: prices strictly before email.
	var order []string
	for _, ev := range finished {
		order = append(order, ev.Tool)
	}
	assert.Equal(t, []string{"price_tracker", "send_email"}, order)
}

func TestRetryThenSuccess(t *testing.T) {
	f := newFixture()
	web := newScriptedTool("web_fetch").
		fails(errors.New("connection reset")).
		returns("page content: release notes")
	f.addTool(web)

	f.plannerLLM.EnqueueText(`{"description":"fetch","steps":[
		{"id":"s1","label":"fetch page","executor":"tool","action":"web_fetch","args":{"url":"https://x.test"}}
	]}`)
	f.supLLM.EnqueueText(`{"verdict":"RETRY","feedback":"try once more with a shorter page"}`)
	f.mainLLM.EnqueueText("Fetched the page after a retry.")

	o := f.build()
	events := runRequest(o, &protocol.AgentRequest{Prompt: "fetch the release notes page for me", ConversationID: "conv-1"})

	require.Equal(t, protocol.EventDone, testutils.FinalEvent(events).Type)
	assert.Equal(t, 2, web.callCount(), "one failure, one retry")

	started := testutils.EventsOfType(events, protocol.EventToolStarted)
	assert.Len(t, started, 2)
}

func TestRetryBudgetExhausted(t *testing.T) {
	f := newFixture()
	web := newScriptedTool("web_fetch").fails(errors.New("always down"))
	f.addTool(web)

	f.plannerLLM.EnqueueText(`{"description":"fetch","steps":[
		{"id":"s1","executor":"tool","action":"web_fetch","args":{}}
	]}`)
	// Supervisor keeps asking for retries until the budget runs out.
	for i := 0; i < 5; i++ {
		f.supLLM.EnqueueText(`{"verdict":"RETRY","feedback":"try again"}`)
	}

	o := f.build()
	events := runRequest(o, &protocol.AgentRequest{Prompt: "fetch something that is down", ConversationID: "conv-1"})

	final := testutils.FinalEvent(events)
	require.Equal(t, protocol.EventError, final.Type)
	assert.Equal(t, 1+f.cfg.MaxStepRetries, web.callCount())
}

func TestReplanEscalationToAbort(t *testing.T) {
	f := newFixture()
	web := newScriptedTool("web_fetch").fails(errors.New("broken"))
	f.addTool(web)

	planJSON := `{"description":"fetch","steps":[{"id":"s1","executor":"tool","action":"web_fetch","args":{}}]}`
	for i := 0; i < 4; i++ {
		f.plannerLLM.EnqueueText(planJSON)
	}
	for i := 0; i < 4; i++ {
		f.supLLM.EnqueueText(`{"verdict":"REPLAN","reason":"the chosen tool cannot serve this request"}`)
	}

	o := f.build()
	events := runRequest(o, &protocol.AgentRequest{Prompt: "do the impossible fetch", ConversationID: "conv-1"})

	final := testutils.FinalEvent(events)
	require.Equal(t, protocol.EventError, final.Type)
	assert.Equal(t, protocol.ErrPlanInvalid, final.ErrorKind)
	assert.False(t, final.Retryable)

	// No assistant message is persisted for a failed request.
	for _, m := range f.persist.persisted() {
		assert.NotEqual(t, protocol.RoleAssistant, m.Role)
	}
}

func TestRepeatedUnknownToolReplansEscalate(t *testing.T) {
	f := newFixture()
	web := newScriptedTool("web_fetch").fails(errors.New("broken"))
	f.addTool(web)

	// A valid first plan whose step forces a replan, then the planner keeps
	// choosing a tool that does not exist.
	f.plannerLLM.EnqueueText(`{"description":"fetch","steps":[{"id":"s1","executor":"tool","action":"web_fetch","args":{}}]}`)
	for i := 0; i < 3; i++ {
		f.plannerLLM.EnqueueText(`{"description":"ghost","steps":[{"id":"s1","executor":"tool","action":"ghost_tool","args":{}}]}`)
	}
	f.supLLM.EnqueueText(`{"verdict":"REPLAN","reason":"wrong tool for the job"}`)

	o := f.build()
	events := runRequest(o, &protocol.AgentRequest{Prompt: "fetch the thing however you can", ConversationID: "conv-1"})

	final := testutils.FinalEvent(events)
	require.Equal(t, protocol.EventError, final.Type)
	assert.Equal(t, protocol.ErrPlanInvalid, final.ErrorKind)
	assert.Equal(t, 1, web.callCount(), "the unknown-tool plans must never execute")
}

func TestUnknownToolFailsClosed(t *testing.T) {
	f := newFixture()
	f.plannerLLM.EnqueueText(`{"description":"ghost","steps":[
		{"id":"s1","executor":"tool","action":"ghost_tool","args":{}}
	]}`)

	o := f.build()
	events := runRequest(o, &protocol.AgentRequest{Prompt: "use the ghost tool on this", ConversationID: "conv-1"})

	final := testutils.FinalEvent(events)
	require.Equal(t, protocol.EventError, final.Type)
	assert.Equal(t, protocol.ErrPlanInvalid, final.ErrorKind)
	assert.Empty(t, testutils.EventsOfType(events, protocol.EventToolStarted), "fail closed: nothing executes")
}

func TestZeroStepPlanSurfacesPlanInvalid(t *testing.T) {
	f := newFixture()
	// The planner never produces parseable output and the prompt is not
	// conversational.
	f.plannerLLM.Fallback = &llmsTextResponse

	o := f.build()
	events := runRequest(o, &protocol.AgentRequest{Prompt: "please reconcile the quarterly ledger", ConversationID: "conv-1"})

	final := testutils.FinalEvent(events)
	require.Equal(t, protocol.EventError, final.Type)
	assert.Equal(t, protocol.ErrPlanInvalid, final.ErrorKind)
}

func TestDependencyOrderingWithParallelism(t *testing.T) {
	f := newFixture()

	var mu sync.Mutex
	var order []string
	record := func(name string) *scriptedTool {
		tool := newScriptedTool(name)
		tool.behavior = append(tool.behavior, func(_ context.Context, _ map[string]any) (string, error) {
			mu.Lock()
			order = append(order, name)
			mu.Unlock()
			return name + " done", nil
		})
		return tool
	}

	a := record("tool_a")
	b := record("tool_b")
	c := record("tool_c")
	f.addTool(a)
	f.addTool(b)
	f.addTool(c)

	f.plannerLLM.EnqueueText(`{"description":"fan","steps":[
		{"id":"s1","executor":"tool","action":"tool_a","args":{}},
		{"id":"s2","executor":"tool","action":"tool_b","args":{},"depends_on":["s1"]},
		{"id":"s3","executor":"tool","action":"tool_c","args":{},"depends_on":["s1"]}
	]}`)
	f.mainLLM.EnqueueText("All three ran.")

	o := f.build()
	events := runRequest(o, &protocol.AgentRequest{Prompt: "run the three-stage job now", ConversationID: "conv-1"})

	require.Equal(t, protocol.EventDone, testutils.FinalEvent(events).Type)
	require.Len(t, order, 3)
	assert.Equal(t, "tool_a", order[0], "dependents must wait for their dependency")
}

func TestHitlSuspendAndResume(t *testing.T) {
	f := newFixture()

	skill, err := skills.Parse("deploy.md", []byte(`---
name: file-writer
description: Writes files with confirmation
tools: [web_fetch]
hitl: true
---
You write files. Always confirm before overwriting.`))
	require.NoError(t, err)
	require.NoError(t, f.skillReg.Add(skill))
	f.addTool(newScriptedTool("web_fetch").returns("ok"))

	f.plannerLLM.EnqueueText(`{"description":"write","steps":[
		{"id":"s1","label":"write the file","executor":"skill","action":"file-writer","args":{}}
	]}`)
	f.skillLLM.Enqueue(llmToolCall("ask_human", map[string]any{"question": "Overwrite existing file?"}))

	o := f.build()
	events := runRequest(o, &protocol.AgentRequest{Prompt: "write the config file to disk", ConversationID: "conv-1"})

	pending := testutils.EventsOfType(events, protocol.EventHitlPending)
	require.Len(t, pending, 1)
	assert.Equal(t, "Overwrite existing file?", pending[0].Question)

	final := testutils.FinalEvent(events)
	require.Equal(t, protocol.EventDone, final.Type)
	assert.Contains(t, final.FinalText, "Awaiting confirmation")
	require.NotEmpty(t, f.persist.suspended(), "suspension must be persisted on the conversation")

	// Resume with the answer.
	f2 := newFixture()
	f2.skillReg = f.skillReg
	f2.persist = f.persist
	f2.suspended = f.persist.suspended()
	f2.addTool(newScriptedTool("web_fetch").returns("ok"))
	f2.skillLLM.EnqueueText("File overwritten as requested.")
	f2.mainLLM.EnqueueText("Done: the file was overwritten after your confirmation.")

	o2 := f2.build()
	events2 := runRequest(o2, &protocol.AgentRequest{
		Prompt:         "yes",
		ConversationID: "conv-1",
		Metadata:       map[string]any{protocol.MetaHitlResume: "true", protocol.MetaHitlAnswer: "yes"},
	})

	final2 := testutils.FinalEvent(events2)
	require.Equal(t, protocol.EventDone, final2.Type)
	assert.Contains(t, final2.FinalText, "overwritten")
	assert.Empty(t, f2.persist.suspended(), "suspension must be cleared after resume")
}

func TestPersistenceFailureStillDelivershDone(t *testing.T) {
	f := newFixture()
	f.persist.failAppends = 2 // first attempt and the retry both fail
	f.mainLLM.EnqueueText("Hello!")

	o := f.build()
	events := runRequest(o, &protocol.AgentRequest{Prompt: "Hello", ConversationID: "conv-1"})

	assert.Equal(t, protocol.EventDone, testutils.FinalEvent(events).Type)
	assert.Empty(t, f.persist.persisted())
}

func TestPersistenceRetriesOnce(t *testing.T) {
	f := newFixture()
	f.persist.failAppends = 1
	f.mainLLM.EnqueueText("Hello!")

	o := f.build()
	events := runRequest(o, &protocol.AgentRequest{Prompt: "Hello", ConversationID: "conv-1"})

	assert.Equal(t, protocol.EventDone, testutils.FinalEvent(events).Type)
	assert.Len(t, f.persist.persisted(), 2, "retry must succeed")
}

func TestIdempotentResubmission(t *testing.T) {
	f := newFixture()
	f.mainLLM.EnqueueText("First answer")
	f.mainLLM.EnqueueText("Second answer")

	o := f.build()
	events1 := runRequest(o, &protocol.AgentRequest{Prompt: "Hello", ConversationID: "conv-1"})
	events2 := runRequest(o, &protocol.AgentRequest{Prompt: "Hello", ConversationID: "conv-1"})

	done1 := testutils.FinalEvent(events1)
	done2 := testutils.FinalEvent(events2)
	require.Equal(t, protocol.EventDone, done1.Type)
	require.Equal(t, protocol.EventDone, done2.Type)
	assert.NotEqual(t, done1.TraceID, done2.TraceID, "each submission gets its own trace")

	persisted := f.persist.persisted()
	assistants := 0
	for _, m := range persisted {
		if m.Role == protocol.RoleAssistant {
			assistants++
		}
	}
	assert.Equal(t, 2, assistants)
}

func TestMemoryWriteIsBackground(t *testing.T) {
	f := newFixture()
	mem := &recordingMemory{}
	f.memory = mem
	f.mainLLM.EnqueueText("Hi!")

	o := f.build()
	events := runRequest(o, &protocol.AgentRequest{Prompt: "Hello", ConversationID: "conv-1"})
	require.Equal(t, protocol.EventDone, testutils.FinalEvent(events).Type)

	f.tasks.Shutdown() // drains background work
	require.Len(t, mem.upserts, 1)
	assert.Contains(t, mem.upserts[0], "Hello")
	assert.Contains(t, mem.upserts[0], "Hi!")
}

func TestForcedAgenticSkipsFastPath(t *testing.T) {
	f := newFixture()
	homey := newScriptedTool("homey").returns("done")
	f.addTool(homey)

	f.plannerLLM.EnqueueText(`{"description":"switch","steps":[
		{"id":"s1","executor":"tool","action":"homey","args":{"action":"control_device","device_name":"the kitchen light","capability":"onoff","value":true}}
	]}`)
	f.mainLLM.EnqueueText("Turned on the kitchen light.")

	o := f.build()
	events := runRequest(o, &protocol.AgentRequest{
		Prompt:         "turn on the kitchen light",
		ConversationID: "conv-1",
		Metadata:       map[string]any{protocol.MetaForceRoute: "agentic"},
	})

	require.Equal(t, protocol.EventDone, testutils.FinalEvent(events).Type)
	assert.Equal(t, 1, f.plannerLLM.CallCount(), "forced agentic must plan")
	assert.Len(t, testutils.EventsOfType(events, protocol.EventPlan), 1)
}

func TestStreamEndsInExactlyOneTerminalEvent(t *testing.T) {
	cases := []func() []protocol.Event{
		func() []protocol.Event {
			f := newFixture()
			f.mainLLM.EnqueueText("hey")
			return runRequest(f.build(), &protocol.AgentRequest{Prompt: "Hello", ConversationID: "conv-1"})
		},
		func() []protocol.Event {
			f := newFixture()
			f.plannerLLM.Fallback = &llmsTextResponse
			return runRequest(f.build(), &protocol.AgentRequest{Prompt: "audit the storage layer", ConversationID: "conv-1"})
		},
	}

	for i, run := range cases {
		t.Run(fmt.Sprintf("case_%d", i), func(t *testing.T) {
			events := run()
			terminals := 0
			for _, ev := range events {
				if ev.Terminal() {
					terminals++
				}
			}
			assert.Equal(t, 1, terminals)
			assert.True(t, testutils.FinalEvent(events).Terminal(), "terminal event must be last")
		})
	}
}
