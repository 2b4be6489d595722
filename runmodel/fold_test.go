package runmodel

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/threadworks/gantry/protocol"
)

func aiMessage(id, text string, calls ...protocol.ToolCall) protocol.MessageEvent {
	return protocol.MessageEvent{Message: protocol.Message{
		ID:        id,
		Role:      protocol.RoleAI,
		Text:      text,
		ToolCalls: calls,
	}}
}

func humanMessage(id, text string) protocol.MessageEvent {
	return protocol.MessageEvent{Message: protocol.Message{
		ID:   id,
		Role: protocol.RoleHuman,
		Text: text,
	}}
}

func toolResult(callID string, content interface{}) protocol.ToolResultEvent {
	return protocol.ToolResultEvent{Result: protocol.ToolResult{
		ToolCallID: callID,
		Content:    content,
	}}
}

func TestClassify_Rules(t *testing.T) {
	tests := []struct {
		name string
		tc   protocol.ToolCall
		want routeKind
	}{
		{
			name: "task with subagent_type is delegation",
			tc:   protocol.ToolCall{ID: "a", Name: "task", Args: map[string]interface{}{"subagent_type": "research"}},
			want: routePlanDelegation,
		},
		{
			name: "task without subagent_type is plain activity",
			tc:   protocol.ToolCall{ID: "b", Name: "task"},
			want: routeActivity,
		},
		{
			name: "task with empty subagent_type is plain activity",
			tc:   protocol.ToolCall{ID: "c", Name: "task", Args: map[string]interface{}{"subagent_type": ""}},
			want: routeActivity,
		},
		{
			name: "write_todos is management",
			tc:   protocol.ToolCall{ID: "d", Name: "write_todos"},
			want: routePlanManagement,
		},
		{
			name: "list_tasks is management",
			tc:   protocol.ToolCall{ID: "e", Name: "list_tasks"},
			want: routePlanManagement,
		},
		{
			name: "think routes to reasoning",
			tc:   protocol.ToolCall{ID: "f", Name: "think"},
			want: routeReasoning,
		},
		{
			name: "substring match is heuristic by contract",
			tc:   protocol.ToolCall{ID: "g", Name: "analyze_spreadsheet"},
			want: routeReasoning,
		},
		{
			name: "everything else is activity",
			tc:   protocol.ToolCall{ID: "h", Name: "web_search"},
			want: routeActivity,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, classify(tt.tc))
		})
	}
}

func TestFold_TaskManagementScenario(t *testing.T) {
	// list_tasks arrives on an AI message, then its result.
	m := New(nil)
	m.Apply(aiMessage("m1", "", protocol.ToolCall{ID: "t1", Name: "list_tasks"}))

	plan := m.Plan()
	require.Len(t, plan, 1)
	assert.Equal(t, "t1", plan[0].ID)
	assert.Equal(t, PlanTaskManagement, plan[0].Kind)
	assert.Equal(t, StatusPending, plan[0].Status)
	assert.Empty(t, m.Activity(), "plan-routed calls create no activity entry")

	m.Apply(toolResult("t1", "3 tasks found"))

	plan = m.Plan()
	require.Len(t, plan, 1)
	assert.Equal(t, StatusCompleted, plan[0].Status)
	require.NotNil(t, plan[0].Invocation)
	assert.Equal(t, "3 tasks found", plan[0].Invocation.Result)
	assert.Equal(t, StatusCompleted, plan[0].Invocation.Status)
}

func TestFold_DelegationScenario(t *testing.T) {
	m := New(nil)
	m.Apply(aiMessage("m1", "", protocol.ToolCall{
		ID:   "t2",
		Name: "task",
		Args: map[string]interface{}{"subagent_type": "research"},
	}))

	plan := m.Plan()
	require.Len(t, plan, 1)
	assert.Equal(t, "t2", plan[0].ID)
	assert.Equal(t, PlanTaskDelegation, plan[0].Kind)
	assert.Empty(t, m.Activity(), "no activity entry for a delegation")
}

func TestFold_ActivityScenario(t *testing.T) {
	m := New(nil)
	m.Apply(aiMessage("m1", "", protocol.ToolCall{
		ID:   "t3",
		Name: "web_search",
		Args: map[string]interface{}{"query": "x"},
	}))

	activity := m.Activity()
	require.Len(t, activity, 1)
	assert.Equal(t, "t3", activity[0].ID)
	assert.Equal(t, ActivityToolCall, activity[0].Kind)
	require.NotNil(t, activity[0].Invocation)
	assert.Equal(t, "web_search", activity[0].Invocation.Name)
	assert.Empty(t, m.Plan(), "no plan item for a plain tool call")
}

func TestFold_ResultUpdatesExactlyOneEntry(t *testing.T) {
	m := New(nil)
	m.Apply(aiMessage("m1", "",
		protocol.ToolCall{ID: "t1", Name: "web_search"},
		protocol.ToolCall{ID: "t2", Name: "web_search"},
	))
	m.Apply(aiMessage("m2", "", protocol.ToolCall{ID: "t3", Name: "list_tasks"}))

	m.Apply(toolResult("t1", "found it"))

	activity := m.Activity()
	require.Len(t, activity, 2)
	for _, entry := range activity {
		if entry.ID == "t1" {
			assert.Equal(t, StatusCompleted, entry.Invocation.Status)
			assert.Equal(t, LevelSuccess, entry.Level)
		} else {
			assert.Equal(t, StatusPending, entry.Invocation.Status, "other entries unchanged")
		}
	}
	assert.Equal(t, StatusPending, m.Plan()[0].Status, "plan untouched")
}

func TestFold_ResultStaysInMatchedCollection(t *testing.T) {
	// An activity tool call and a plan signal share an ID. The result
	// matches the activity entry (higher correlation priority); the plan
	// item with the same ID must not inherit its status.
	m := New(nil)
	m.Apply(aiMessage("m1", "", protocol.ToolCall{ID: "x", Name: "web_search"}))
	m.Apply(protocol.PlanEvent{Items: []protocol.PlanSignal{
		{ID: "x", Description: "phase x"},
	}})

	m.Apply(toolResult("x", "done"))

	activity := m.Activity()
	require.Len(t, activity, 1)
	assert.Equal(t, StatusCompleted, activity[0].Invocation.Status)

	plan := m.Plan()
	require.Len(t, plan, 1)
	assert.Equal(t, StatusPending, plan[0].Status, "plan item keeps its own status")
}

func TestFold_UnmatchedResultChangesNothing(t *testing.T) {
	m := New(nil)
	m.Apply(aiMessage("m1", "", protocol.ToolCall{ID: "t1", Name: "web_search"}))

	before := fmt.Sprintf("%v%v%v", m.Activity(), m.Plan(), m.Reasoning())
	m.Apply(toolResult("nope", "orphaned"))
	after := fmt.Sprintf("%v%v%v", m.Activity(), m.Plan(), m.Reasoning())

	assert.Equal(t, before, after)
}

func TestFold_ErroredResult(t *testing.T) {
	m := New(nil)
	m.Apply(aiMessage("m1", "", protocol.ToolCall{ID: "t1", Name: "web_search"}))
	m.Apply(protocol.ToolResultEvent{Result: protocol.ToolResult{
		ToolCallID: "t1",
		Content:    "boom",
		IsError:    true,
	}})

	activity := m.Activity()
	require.Len(t, activity, 1)
	assert.Equal(t, StatusErrored, activity[0].Invocation.Status)
	assert.Equal(t, LevelError, activity[0].Level)
}

func TestFold_ReasoningResultPreview(t *testing.T) {
	m := New(nil)
	m.Apply(aiMessage("m1", "", protocol.ToolCall{
		ID:   "r1",
		Name: "think",
		Args: map[string]interface{}{"thought": "What is the best approach?"},
	}))

	steps := m.Reasoning()
	require.Len(t, steps, 1)
	assert.Equal(t, "What is the best approach?", steps[0].Content)

	long := ""
	for i := 0; i < 30; i++ {
		long += "abcde"
	}
	m.Apply(toolResult("r1", long))

	steps = m.Reasoning()
	require.Len(t, steps, 1)
	assert.Equal(t, StatusCompleted, steps[0].Status)
	assert.Contains(t, steps[0].Content, "What is the best approach?\n")
	assert.Contains(t, steps[0].Content, "...", "long results are truncated with an ellipsis")
	// 100 preview runes + ellipsis, on its own line after the thought.
	assert.Len(t, []rune(steps[0].Content), len([]rune("What is the best approach?"))+1+103)
}

func TestFold_AnonymousToolCallsStayDistinct(t *testing.T) {
	// Tool calls without IDs must not collapse into one entry or share a
	// classification; each gets a positional identity.
	m := New(nil)
	m.Apply(aiMessage("m1", "",
		protocol.ToolCall{Name: "web_search", Args: map[string]interface{}{"query": "a"}},
		protocol.ToolCall{Name: "web_search", Args: map[string]interface{}{"query": "b"}},
		protocol.ToolCall{Name: "think_hard"},
	))

	activity := m.Activity()
	require.Len(t, activity, 2)
	assert.NotEqual(t, activity[0].ID, activity[1].ID)
	require.Len(t, m.Reasoning(), 1, "the reasoning call routes on its own")

	// Redelivery of the same snapshot must not duplicate anything.
	m.Apply(aiMessage("m1", "",
		protocol.ToolCall{Name: "web_search", Args: map[string]interface{}{"query": "a"}},
		protocol.ToolCall{Name: "web_search", Args: map[string]interface{}{"query": "b"}},
		protocol.ToolCall{Name: "think_hard"},
	))
	assert.Len(t, m.Activity(), 2)
	assert.Len(t, m.Reasoning(), 1)
}

func TestFold_ClassificationIsSticky(t *testing.T) {
	// A tool call is classified once, at first sight; redelivery with
	// different-looking args must not reroute it.
	m := New(nil)
	m.Apply(aiMessage("m1", "", protocol.ToolCall{ID: "t1", Name: "task"}))
	require.Len(t, m.Activity(), 1)

	m.Apply(aiMessage("m1", "", protocol.ToolCall{
		ID:   "t1",
		Name: "task",
		Args: map[string]interface{}{"subagent_type": "research"},
	}))
	assert.Len(t, m.Activity(), 1, "entry stays in activity")
	assert.Empty(t, m.Plan(), "no plan item appears after the fact")
}

func TestFold_RefoldIsIdempotent(t *testing.T) {
	m := New(nil)
	events := []protocol.RunEvent{
		humanMessage("h1", "do things"),
		aiMessage("a1", "working on it",
			protocol.ToolCall{ID: "t1", Name: "web_search"},
			protocol.ToolCall{ID: "t2", Name: "write_todos"},
		),
		toolResult("t1", "ok"),
	}
	for _, ev := range events {
		m.Apply(ev)
	}

	// Redeliver the whole history; counts and correlations must hold.
	for _, ev := range events {
		m.Apply(ev)
	}

	assert.Len(t, m.Transcript(), 2)
	activity := m.Activity()
	require.Len(t, activity, 1)
	assert.Equal(t, StatusCompleted, activity[0].Invocation.Status, "correlation survives re-fold")
	assert.Len(t, m.Plan(), 1)
}

func TestFold_NoDuplicateIDsAndCapsHold(t *testing.T) {
	m := New(nil)
	for i := 0; i < MaxActivityEntries+50; i++ {
		m.Apply(aiMessage(
			fmt.Sprintf("m%d", i), "",
			protocol.ToolCall{ID: fmt.Sprintf("t%d", i), Name: "web_search"},
		))
	}

	activity := m.Activity()
	assert.Len(t, activity, MaxActivityEntries)
	assert.Equal(t, fmt.Sprintf("t%d", MaxActivityEntries+49), activity[0].ID, "newest first")

	seen := make(map[string]bool)
	for _, entry := range activity {
		assert.False(t, seen[entry.ID], "duplicate id %s", entry.ID)
		seen[entry.ID] = true
	}
}

func TestFold_PlanAndReasoningCaps(t *testing.T) {
	m := New(nil)
	for i := 0; i < MaxPlanItems+10; i++ {
		m.Apply(aiMessage(
			fmt.Sprintf("pm%d", i), "",
			protocol.ToolCall{ID: fmt.Sprintf("p%d", i), Name: "write_todos"},
		))
	}
	for i := 0; i < MaxReasoningSteps+10; i++ {
		m.Apply(aiMessage(
			fmt.Sprintf("rm%d", i), "",
			protocol.ToolCall{ID: fmt.Sprintf("r%d", i), Name: "think"},
		))
	}
	assert.Len(t, m.Plan(), MaxPlanItems)
	assert.Len(t, m.Reasoning(), MaxReasoningSteps)
}

func TestTranscript_Visibility(t *testing.T) {
	m := New(nil)
	m.Apply(humanMessage("h1", ""))
	m.Apply(aiMessage("a1", "", protocol.ToolCall{ID: "t1", Name: "web_search"}))
	m.Apply(aiMessage("a2", "real reply"))

	transcript := m.Transcript()
	require.Len(t, transcript, 2)
	assert.Equal(t, "h1", transcript[0].ID, "human turns always visible, even empty")
	assert.Equal(t, "a2", transcript[1].ID, "tool-only assistant messages suppressed")
}

func TestTranscript_AuthorGrouping(t *testing.T) {
	m := New(nil)
	m.Apply(humanMessage("h1", "one"))
	m.Apply(humanMessage("h2", "two"))
	m.Apply(aiMessage("a1", "reply"))
	m.Apply(humanMessage("h3", "three"))

	transcript := m.Transcript()
	require.Len(t, transcript, 4)
	assert.True(t, transcript[0].ShowAuthor)
	assert.False(t, transcript[1].ShowAuthor, "consecutive same-author turns group")
	assert.True(t, transcript[2].ShowAuthor)
	assert.True(t, transcript[3].ShowAuthor)
}

func TestFold_StreamingTextGrowth(t *testing.T) {
	m := New(nil)
	m.Apply(aiMessage("a1", "Hel"))
	m.Apply(aiMessage("a1", "Hello wor"))
	m.Apply(aiMessage("a1", "Hello world"))
	m.Apply(aiMessage("a1", "Hello"), // late redelivery of an older snapshot
	)

	transcript := m.Transcript()
	require.Len(t, transcript, 1)
	assert.Equal(t, "Hello world", transcript[0].Text, "shorter snapshots never truncate")
}

func TestFold_PlanSignals(t *testing.T) {
	m := New(nil)
	m.Apply(protocol.PlanEvent{Items: []protocol.PlanSignal{
		{ID: "p1", Description: "research phase", Status: "pending"},
	}})

	plan := m.Plan()
	require.Len(t, plan, 1)
	assert.Equal(t, "research phase", plan[0].Description)
	assert.Equal(t, StatusPending, plan[0].Status)

	m.Apply(protocol.PlanEvent{Items: []protocol.PlanSignal{
		{ID: "p1", Description: "research phase", Status: "completed"},
	}})
	assert.Equal(t, StatusCompleted, m.Plan()[0].Status)
}

func TestClearActivity(t *testing.T) {
	m := New(nil)
	m.Apply(aiMessage("m1", "", protocol.ToolCall{ID: "t1", Name: "web_search"}))
	require.Len(t, m.Activity(), 1)

	m.ClearActivity()
	assert.Empty(t, m.Activity())

	// Redelivering the owning message must not resurrect cleared entries.
	m.Apply(aiMessage("m1", "", protocol.ToolCall{ID: "t1", Name: "web_search"}))
	assert.Empty(t, m.Activity())

	// New tool calls still land.
	m.Apply(aiMessage("m2", "", protocol.ToolCall{ID: "t2", Name: "web_search"}))
	assert.Len(t, m.Activity(), 1)
}

func TestFormatToolCall(t *testing.T) {
	assert.Equal(t, "web_search: go sse",
		FormatToolCall("web_search", map[string]interface{}{"query": "go sse"}))
	assert.Equal(t, "bash: ls -la",
		FormatToolCall("bash", map[string]interface{}{"command": "ls -la"}))
	assert.Equal(t, "mystery", FormatToolCall("mystery", map[string]interface{}{"x": 1}))
	assert.Equal(t, "bare", FormatToolCall("bare", nil))
}

func TestTruncate(t *testing.T) {
	assert.Equal(t, "short", Truncate("short", 10))
	assert.Equal(t, "exactly", Truncate("exactly", 7))
	assert.Equal(t, "long...", Truncate("long string", 7))
	assert.Equal(t, "ab", Truncate("abcdef", 2))
}
