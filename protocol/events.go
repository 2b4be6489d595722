// Package protocol defines the wire vocabulary shared by the stream adapter,
// the run model, and the dispatcher: run events, messages, tool calls, and
// run statuses. Events are immutable once constructed; the adapter stamps
// each with a per-connection sequence number and arrival time.
package protocol

import (
	"encoding/json"
	"time"
)

// EventKind discriminates between run event kinds.
type EventKind string

const (
	KindMessage    EventKind = "message"
	KindToolResult EventKind = "tool_result"
	KindRunStatus  EventKind = "run_status"
	KindPlan       EventKind = "plan"
	KindValues     EventKind = "values"
	KindDebug      EventKind = "debug"
	KindError      EventKind = "error"
	KindDone       EventKind = "done"
)

// RunEvent is the interface for all events read from a run stream.
type RunEvent interface {
	Kind() EventKind
	Seq() uint64
}

// EventMeta carries the fields common to every run event. The sequence is
// monotonic per connection and is assigned by the stream adapter.
type EventMeta struct {
	ReceivedAt time.Time
	Sequence   uint64
}

// Seq returns the per-connection sequence number.
func (m EventMeta) Seq() uint64 { return m.Sequence }

// MessageEvent carries a full or partial conversation message.
type MessageEvent struct {
	EventMeta
	Message Message
}

// Kind returns the event kind.
func (MessageEvent) Kind() EventKind { return KindMessage }

// ToolResultEvent carries the result of an earlier tool invocation,
// referenced only by its tool_call_id.
type ToolResultEvent struct {
	EventMeta
	Result ToolResult
}

// Kind returns the event kind.
func (ToolResultEvent) Kind() EventKind { return KindToolResult }

// RunStatusEvent carries a run lifecycle status update.
type RunStatusEvent struct {
	EventMeta
	Status RunStatus
}

// Kind returns the event kind.
func (RunStatusEvent) Kind() EventKind { return KindRunStatus }

// PlanEvent carries an explicit plan/task signal, an alternative to
// inferring plan items from tool calls.
type PlanEvent struct {
	EventMeta
	Items []PlanSignal
}

// Kind returns the event kind.
func (PlanEvent) Kind() EventKind { return KindPlan }

// ValuesEvent carries a full-state snapshot used to hydrate persisted
// fields (todo list, file map) on load or reconnect.
type ValuesEvent struct {
	EventMeta
	Values StateValues
}

// Kind returns the event kind.
func (ValuesEvent) Kind() EventKind { return KindValues }

// DebugEvent carries an opaque diagnostic payload.
type DebugEvent struct {
	EventMeta
	Payload json.RawMessage
}

// Kind returns the event kind.
func (DebugEvent) Kind() EventKind { return KindDebug }

// ErrorEvent surfaces a transport or server fault through the same channel
// as data events. Cancellation is never delivered as an ErrorEvent.
type ErrorEvent struct {
	EventMeta
	Err     error
	Context string
}

// Kind returns the event kind.
func (ErrorEvent) Kind() EventKind { return KindError }

// DoneEvent signals normal end of stream (the [DONE] sentinel or a clean
// transport close).
type DoneEvent struct {
	EventMeta
}

// Kind returns the event kind.
func (DoneEvent) Kind() EventKind { return KindDone }

// --- Run status -------------------------------------------------------------

// RunStatus represents the lifecycle state of a run on the orchestrator.
type RunStatus string

const (
	RunPending     RunStatus = "pending"
	RunRunning     RunStatus = "running"
	RunSuccess     RunStatus = "success"
	RunError       RunStatus = "error"
	RunTimeout     RunStatus = "timeout"
	RunInterrupted RunStatus = "interrupted"
)

// IsTerminal returns true if the status is a terminal state.
// Interrupted runs can be resumed, so interrupted is not terminal.
func (s RunStatus) IsTerminal() bool {
	return s == RunSuccess || s == RunError || s == RunTimeout
}

// --- Messages ---------------------------------------------------------------

// Role identifies the author of a message.
type Role string

const (
	RoleHuman Role = "human"
	RoleAI    Role = "ai"
	RoleTool  Role = "tool"
)

// Message represents one turn in the conversation. The ID is stable for the
// life of the run; Text may grow while the message streams.
type Message struct {
	ID         string
	Role       Role
	Text       string
	ToolCalls  []ToolCall
	ToolCallID string // set when this message is itself a tool result
}

// ToolCall is the canonical {id, name, args} triple for a tool invocation
// request, produced by NormalizeToolCall from any of the known wire shapes.
type ToolCall struct {
	ID   string
	Name string
	Args map[string]interface{}
}

// ToolResult is the outcome of a tool invocation, correlated by ToolCallID.
type ToolResult struct {
	ToolCallID string
	Content    interface{}
	IsError    bool
}

// --- State values -----------------------------------------------------------

// TodoItem is one entry of the persisted todo list in thread state.
type TodoItem struct {
	Content string `json:"content"`
	Status  string `json:"status"`
}

// StateValues is the hydratable portion of a thread's state snapshot.
type StateValues struct {
	Todos []TodoItem        `json:"todos,omitempty"`
	Files map[string]string `json:"files,omitempty"`
}

// PlanSignal is one entry of an explicit plan event.
type PlanSignal struct {
	ID          string `json:"id"`
	Description string `json:"description"`
	Status      string `json:"status,omitempty"`
}
