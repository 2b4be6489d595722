// Package runmodel is the single source of truth for everything derived from
// a run's event stream. It folds run events into four read-only view models
// (chat transcript, activity log, plan board, reasoning trace) plus the
// liveness flag. The write API is called by the stream sink and the
// dispatcher; the read API is called by the view layer.
package runmodel

import (
	"time"

	"github.com/threadworks/gantry/protocol"
)

// Collection caps. Lists are newest-first; the oldest entries are dropped
// once a cap is exceeded.
const (
	MaxPlanItems       = 100
	MaxActivityEntries = 500
	MaxReasoningSteps  = 50
)

// InvocationStatus tracks a tool invocation's execution state.
type InvocationStatus string

const (
	StatusPending   InvocationStatus = "pending"
	StatusCompleted InvocationStatus = "completed"
	StatusErrored   InvocationStatus = "errored"
)

// ToolInvocation is a single tool call issued by the agent, independently
// indexed by ID so a later result event can locate it without knowing the
// owning message.
type ToolInvocation struct {
	ID     string
	Name   string
	Args   map[string]interface{}
	Status InvocationStatus
	Result interface{}
}

// TranscriptEntry is one visible turn in the chat transcript. ShowAuthor is
// a display hint: true when the author differs from the previous visible
// entry, so consecutive same-author turns group under one marker.
type TranscriptEntry struct {
	ID         string
	Role       protocol.Role
	Text       string
	ShowAuthor bool
}

// ActivityLevel is the severity of an activity entry.
type ActivityLevel string

const (
	LevelInfo    ActivityLevel = "info"
	LevelSuccess ActivityLevel = "success"
	LevelError   ActivityLevel = "error"
	LevelDebug   ActivityLevel = "debug"
	LevelWarning ActivityLevel = "warning"
)

// ActivityKind categorises activity entries.
type ActivityKind string

const (
	ActivityToolCall ActivityKind = "tool_call"
	ActivityError    ActivityKind = "error"
	ActivityDebug    ActivityKind = "debug"
	ActivityInfo     ActivityKind = "info"
)

// ActivityEntry is one row of the activity log. Tool-call entries embed
// their invocation; error/debug entries carry only a message.
type ActivityEntry struct {
	Timestamp  time.Time
	ID         string
	Kind       ActivityKind
	Level      ActivityLevel
	Message    string
	Invocation *ToolInvocation

	seq uint64 // fold ordering, assigned at first sight
}

// PlanItemKind distinguishes sub-agent delegations from task-list updates.
type PlanItemKind string

const (
	PlanTaskDelegation PlanItemKind = "task_delegation"
	PlanTaskManagement PlanItemKind = "task_management"
)

// PlanItem is one row of the plan board. The ID reuses the originating tool
// call's ID when there is one, so result correlation can reach it.
type PlanItem struct {
	ID          string
	Kind        PlanItemKind
	Description string
	Status      InvocationStatus
	Invocation  *ToolInvocation
}

// ReasoningStep is a derived view of introspection tool calls.
type ReasoningStep struct {
	ID      string
	Content string
	Status  InvocationStatus
}

// --- Observer ---------------------------------------------------------------

// Observer receives notifications when the model mutates.
type Observer interface {
	OnModelEvent(event ModelEvent)
}

// ModelEvent is the interface for model mutation notifications.
type ModelEvent interface {
	modelEvent() // sealed marker
}

// ViewsUpdated fires after an event fold changed one or more derived
// collections.
type ViewsUpdated struct{}

func (ViewsUpdated) modelEvent() {}

// StatusChanged fires when the run status changes.
type StatusChanged struct {
	Old, New protocol.RunStatus
}

func (StatusChanged) modelEvent() {}

// ProcessingChanged fires when the liveness flag flips.
type ProcessingChanged struct {
	Processing bool
}

func (ProcessingChanged) modelEvent() {}
