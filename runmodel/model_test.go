package runmodel

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/threadworks/gantry/protocol"
)

type recordingObserver struct {
	events []ModelEvent
}

func (r *recordingObserver) OnModelEvent(ev ModelEvent) {
	r.events = append(r.events, ev)
}

func TestLiveness_TerminalStatusFlipsProcessing(t *testing.T) {
	m := New(nil)
	m.BeginRun()
	assert.True(t, m.Processing())

	m.Apply(protocol.RunStatusEvent{Status: protocol.RunRunning})
	assert.True(t, m.Processing(), "running is not terminal")

	m.Apply(protocol.RunStatusEvent{Status: protocol.RunSuccess})
	assert.False(t, m.Processing())
	assert.Equal(t, protocol.RunSuccess, m.Status())
}

func TestLiveness_InterruptedIsNotTerminal(t *testing.T) {
	m := New(nil)
	m.BeginRun()
	m.Apply(protocol.RunStatusEvent{Status: protocol.RunInterrupted})
	assert.True(t, m.Processing())
}

func TestLiveness_MarkCancelledIsSynchronous(t *testing.T) {
	m := New(nil)
	m.BeginRun()
	m.MarkCancelled()
	assert.False(t, m.Processing())

	// Idempotent.
	m.MarkCancelled()
	assert.False(t, m.Processing())
}

func TestLiveness_StreamErrorFlipsProcessingAndKeepsState(t *testing.T) {
	m := New(nil)
	m.BeginRun()
	m.Apply(humanMessage("h1", "hello"))
	m.Apply(aiMessage("a1", "partial answ"))

	m.Apply(protocol.ErrorEvent{Err: errors.New("connection reset"), Context: "read stream"})

	assert.False(t, m.Processing())
	assert.Equal(t, "connection reset", m.LastError())
	assert.Len(t, m.Transcript(), 2, "partial progress is preserved, no rollback")

	activity := m.Activity()
	require.NotEmpty(t, activity)
	assert.Equal(t, ActivityError, activity[0].Kind)
}

func TestShowTyping(t *testing.T) {
	m := New(nil)
	assert.False(t, m.ShowTyping(), "idle model shows no indicator")

	m.BeginRun()
	assert.False(t, m.ShowTyping(), "no visible entries yet")

	m.Apply(humanMessage("h1", "hello"))
	assert.True(t, m.ShowTyping(), "live run, human turn awaiting reply")

	m.Apply(aiMessage("a1", "hi there"))
	assert.False(t, m.ShowTyping(), "agent has replied visibly")

	m.Apply(humanMessage("h2", "and another thing"))
	assert.True(t, m.ShowTyping())

	m.Apply(protocol.RunStatusEvent{Status: protocol.RunSuccess})
	assert.False(t, m.ShowTyping(), "terminal status ends the indicator")
}

func TestValuesHydration(t *testing.T) {
	m := New(nil)
	m.Apply(protocol.ValuesEvent{Values: protocol.StateValues{
		Todos: []protocol.TodoItem{{Content: "write tests", Status: "in_progress"}},
		Files: map[string]string{"notes.md": "# notes"},
	}})

	todos := m.Todos()
	require.Len(t, todos, 1)
	assert.Equal(t, "write tests", todos[0].Content)
	assert.Equal(t, "# notes", m.Files()["notes.md"])

	// A later snapshot without files keeps the hydrated map.
	m.Apply(protocol.ValuesEvent{Values: protocol.StateValues{
		Todos: []protocol.TodoItem{{Content: "write tests", Status: "completed"}},
	}})
	assert.Equal(t, "completed", m.Todos()[0].Status)
	assert.Len(t, m.Files(), 1)
}

func TestHydrateMessages(t *testing.T) {
	m := New(nil)
	m.HydrateMessages([]protocol.Message{
		{ID: "h1", Role: protocol.RoleHuman, Text: "earlier question"},
		{ID: "a1", Role: protocol.RoleAI, Text: "earlier answer"},
	})
	assert.Len(t, m.Transcript(), 2)

	// A streamed redelivery of a hydrated message must not duplicate it.
	m.Apply(aiMessage("a1", "earlier answer"))
	assert.Len(t, m.Transcript(), 2)
}

func TestDebugEventLandsInActivity(t *testing.T) {
	m := New(nil)
	m.Apply(protocol.DebugEvent{Payload: []byte(`{"node":"planner"}`)})

	activity := m.Activity()
	require.Len(t, activity, 1)
	assert.Equal(t, ActivityDebug, activity[0].Kind)
	assert.Equal(t, LevelDebug, activity[0].Level)
}

func TestObserverNotifications(t *testing.T) {
	m := New(nil)
	obs := &recordingObserver{}
	m.AddObserver(obs)

	m.BeginRun()
	m.Apply(humanMessage("h1", "hi"))
	m.Apply(protocol.RunStatusEvent{Status: protocol.RunSuccess})

	var sawViews, sawStatus, sawProcessing bool
	for _, ev := range obs.events {
		switch ev.(type) {
		case ViewsUpdated:
			sawViews = true
		case StatusChanged:
			sawStatus = true
		case ProcessingChanged:
			sawProcessing = true
		}
	}
	assert.True(t, sawViews)
	assert.True(t, sawStatus)
	assert.True(t, sawProcessing)
}

func TestDoneEventDoesNotFlipLiveness(t *testing.T) {
	m := New(nil)
	m.BeginRun()
	m.Apply(protocol.DoneEvent{})
	assert.True(t, m.Processing(), "only terminal status or stop ends liveness")
}

func TestSnapshotsAreIndependent(t *testing.T) {
	m := New(nil)
	m.Apply(aiMessage("m1", "", protocol.ToolCall{
		ID:   "t1",
		Name: "web_search",
		Args: map[string]interface{}{"query": "x"},
	}))

	snap := m.Activity()
	require.Len(t, snap, 1)
	snap[0].Invocation.Args["query"] = "mutated"

	fresh := m.Activity()
	assert.Equal(t, "x", fresh[0].Invocation.Args["query"], "snapshot mutation must not leak back")
}
