package runmodel

import (
	"fmt"
	"log/slog"
	"sync"

	"github.com/threadworks/gantry/protocol"
)

// routeKind is the classification assigned to a tool call at first sight.
// It is computed once and never revisited, even if a later event would
// suggest a different routing.
type routeKind int

const (
	routeActivity routeKind = iota
	routePlanDelegation
	routePlanManagement
	routeReasoning
)

type routeInfo struct {
	kind routeKind
	seq  uint64
}

// correlationTarget records which collection a tool result was matched
// against. A result belongs to exactly one entry; without the target, an
// activity-matched result would also flip a plan item that happens to share
// the ID.
type correlationTarget int

const (
	targetActivity correlationTarget = iota
	targetReasoning
	targetPlan
)

// Model owns the accumulated event history and the derived collections.
// Every event triggers a full re-fold of the history rather than an
// incremental update; at hundreds of events per run the simplicity is worth
// more than the saved work, and it makes redelivered events harmless.
type Model struct {
	mu  sync.RWMutex
	log *slog.Logger

	// Accumulated history, the fold input.
	messages     []protocol.Message
	msgIndex     map[string]int
	results      map[string]protocol.ToolResult
	resultTarget map[string]correlationTarget
	statuses     map[string]InvocationStatus // plan-signal statuses, keyed by signal ID
	routes       map[string]routeInfo
	planSignals  []protocol.PlanSignal
	sigIndex     map[string]int
	extra        []ActivityEntry // error/debug entries not derived from tool calls
	cleared      map[string]struct{}
	nextSeq      uint64

	// Fold output.
	transcript []TranscriptEntry
	activity   []ActivityEntry
	plan       []PlanItem
	reasoning  []ReasoningStep

	// Hydrated thread state.
	todos []protocol.TodoItem
	files map[string]string

	runStatus  protocol.RunStatus
	processing bool
	lastError  string

	observers []Observer
}

// New creates an empty model.
func New(log *slog.Logger) *Model {
	if log == nil {
		log = slog.Default()
	}
	return &Model{
		log:          log,
		msgIndex:     make(map[string]int),
		results:      make(map[string]protocol.ToolResult),
		resultTarget: make(map[string]correlationTarget),
		statuses:     make(map[string]InvocationStatus),
		routes:       make(map[string]routeInfo),
		sigIndex:     make(map[string]int),
		cleared:      make(map[string]struct{}),
	}
}

// --- Write API --------------------------------------------------------------

// Apply folds one run event into the model. It runs to completion before
// the next event is processed: the stream adapter delivers events serially,
// and the model's own lock covers calls from the dispatcher.
func (m *Model) Apply(ev protocol.RunEvent) {
	m.mu.Lock()

	var notifications []ModelEvent

	switch e := ev.(type) {
	case protocol.MessageEvent:
		m.upsertMessageLocked(e.Message)
		m.foldLocked()
		notifications = append(notifications, ViewsUpdated{})

	case protocol.ToolResultEvent:
		if m.correlateLocked(e.Result) {
			m.foldLocked()
			notifications = append(notifications, ViewsUpdated{})
		}

	case protocol.RunStatusEvent:
		old := m.runStatus
		m.runStatus = e.Status
		if old != e.Status {
			notifications = append(notifications, StatusChanged{Old: old, New: e.Status})
		}
		if e.Status.IsTerminal() && m.processing {
			m.processing = false
			notifications = append(notifications, ProcessingChanged{Processing: false})
		}

	case protocol.ValuesEvent:
		if e.Values.Todos != nil {
			m.todos = append([]protocol.TodoItem(nil), e.Values.Todos...)
		}
		if e.Values.Files != nil {
			m.files = make(map[string]string, len(e.Values.Files))
			for k, v := range e.Values.Files {
				m.files[k] = v
			}
		}
		notifications = append(notifications, ViewsUpdated{})

	case protocol.PlanEvent:
		for _, sig := range e.Items {
			m.upsertPlanSignalLocked(sig)
		}
		m.foldLocked()
		notifications = append(notifications, ViewsUpdated{})

	case protocol.DebugEvent:
		m.appendExtraLocked(ActivityEntry{
			Timestamp: e.ReceivedAt,
			ID:        fmt.Sprintf("debug-%d", m.nextSeq),
			Kind:      ActivityDebug,
			Level:     LevelDebug,
			Message:   string(e.Payload),
		})
		m.foldLocked()
		notifications = append(notifications, ViewsUpdated{})

	case protocol.ErrorEvent:
		m.lastError = e.Err.Error()
		m.appendExtraLocked(ActivityEntry{
			Timestamp: e.ReceivedAt,
			ID:        fmt.Sprintf("error-%d", m.nextSeq),
			Kind:      ActivityError,
			Level:     LevelError,
			Message:   e.Err.Error(),
		})
		m.foldLocked()
		notifications = append(notifications, ViewsUpdated{})
		// Stream faults end the run from the client's perspective; the
		// partially-applied state is kept as-is, no rollback.
		if m.processing {
			m.processing = false
			notifications = append(notifications, ProcessingChanged{Processing: false})
		}

	case protocol.DoneEvent:
		// End of stream alone does not flip liveness; a terminal run
		// status or an explicit stop does.
	}

	m.mu.Unlock()
	m.notify(notifications...)
}

// BeginRun marks a run as submitted: liveness on, status pending, stale
// error cleared.
func (m *Model) BeginRun() {
	m.mu.Lock()
	old := m.runStatus
	m.runStatus = protocol.RunPending
	m.lastError = ""
	changed := !m.processing
	m.processing = true
	m.mu.Unlock()

	events := []ModelEvent{}
	if old != protocol.RunPending {
		events = append(events, StatusChanged{Old: old, New: protocol.RunPending})
	}
	if changed {
		events = append(events, ProcessingChanged{Processing: true})
	}
	m.notify(events...)
}

// MarkCancelled flips liveness off immediately. Called by the dispatcher's
// stop path; it does not wait for (or expect) a terminal event.
func (m *Model) MarkCancelled() {
	m.mu.Lock()
	changed := m.processing
	m.processing = false
	m.mu.Unlock()
	if changed {
		m.notify(ProcessingChanged{Processing: false})
	}
}

// AppendLocalMessage adds a locally-constructed message (the optimistic
// human turn) to the history and re-folds.
func (m *Model) AppendLocalMessage(msg protocol.Message) {
	m.mu.Lock()
	m.upsertMessageLocked(msg)
	m.foldLocked()
	m.mu.Unlock()
	m.notify(ViewsUpdated{})
}

// HydrateMessages seeds the history from a thread-state snapshot, e.g. on
// startup or reconnect. Messages already known by ID merge as usual.
func (m *Model) HydrateMessages(msgs []protocol.Message) {
	m.mu.Lock()
	for _, msg := range msgs {
		m.upsertMessageLocked(msg)
	}
	m.foldLocked()
	m.mu.Unlock()
	m.notify(ViewsUpdated{})
}

// ClearActivity empties the activity log. Entries derived from already-seen
// tool calls stay suppressed on later re-folds.
func (m *Model) ClearActivity() {
	m.mu.Lock()
	for _, entry := range m.activity {
		m.cleared[entry.ID] = struct{}{}
	}
	m.extra = nil
	m.foldLocked()
	m.mu.Unlock()
	m.notify(ViewsUpdated{})
}

// --- Read API ---------------------------------------------------------------

// Transcript returns a snapshot of the visible chat transcript, oldest
// first.
func (m *Model) Transcript() []TranscriptEntry {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]TranscriptEntry(nil), m.transcript...)
}

// Activity returns a snapshot of the activity log, newest first.
func (m *Model) Activity() []ActivityEntry {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]ActivityEntry, len(m.activity))
	for i := range m.activity {
		out[i] = m.activity[i]
		out[i].Invocation = copyInvocation(m.activity[i].Invocation)
	}
	return out
}

// Plan returns a snapshot of the plan board, newest first.
func (m *Model) Plan() []PlanItem {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]PlanItem, len(m.plan))
	for i := range m.plan {
		out[i] = m.plan[i]
		out[i].Invocation = copyInvocation(m.plan[i].Invocation)
	}
	return out
}

// Reasoning returns a snapshot of the reasoning trace, newest first.
func (m *Model) Reasoning() []ReasoningStep {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]ReasoningStep(nil), m.reasoning...)
}

// Todos returns the hydrated todo list.
func (m *Model) Todos() []protocol.TodoItem {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]protocol.TodoItem(nil), m.todos...)
}

// Files returns the hydrated file map.
func (m *Model) Files() map[string]string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make(map[string]string, len(m.files))
	for k, v := range m.files {
		out[k] = v
	}
	return out
}

// Status returns the last observed run status.
func (m *Model) Status() protocol.RunStatus {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.runStatus
}

// Processing reports the liveness flag: true from submission until a
// terminal status, a stream fault, or an explicit stop.
func (m *Model) Processing() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.processing
}

// LastError returns the most recent stream fault, or "".
func (m *Model) LastError() string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.lastError
}

// ShowTyping reports whether the typing indicator should render: the run is
// live and the agent has not yet produced a visible reply to the latest
// human turn.
func (m *Model) ShowTyping() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.processing &&
		len(m.transcript) > 0 &&
		m.transcript[len(m.transcript)-1].Role == protocol.RoleHuman
}

// --- Observer management ----------------------------------------------------

// AddObserver registers an observer notified on model mutations.
func (m *Model) AddObserver(o Observer) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.observers = append(m.observers, o)
}

// notify sends events to all observers outside the model lock. Observers
// are called synchronously; keep handlers fast.
func (m *Model) notify(events ...ModelEvent) {
	if len(events) == 0 {
		return
	}
	m.mu.RLock()
	obs := m.observers
	m.mu.RUnlock()
	for _, o := range obs {
		for _, ev := range events {
			o.OnModelEvent(ev)
		}
	}
}

// --- Internal helpers -------------------------------------------------------

// upsertMessageLocked merges a message into the history by ID. Text only
// grows: a shorter redelivered snapshot never truncates what streaming has
// already accumulated. Tool calls union by ID, preserving first-seen order.
func (m *Model) upsertMessageLocked(msg protocol.Message) {
	if msg.ID == "" {
		m.nextSeq++
		msg.ID = fmt.Sprintf("msg-%d", m.nextSeq)
	}
	// Anonymous tool calls get an ID derived from their position, so each
	// classifies and correlates independently, and redelivery still merges
	// instead of duplicating.
	for i := range msg.ToolCalls {
		if msg.ToolCalls[i].ID == "" {
			msg.ToolCalls[i].ID = fmt.Sprintf("%s/tool/%d", msg.ID, i)
		}
	}
	idx, ok := m.msgIndex[msg.ID]
	if !ok {
		m.msgIndex[msg.ID] = len(m.messages)
		m.messages = append(m.messages, msg)
		return
	}

	existing := &m.messages[idx]
	if len(msg.Text) >= len(existing.Text) {
		existing.Text = msg.Text
	}
	for _, tc := range msg.ToolCalls {
		found := false
		for i := range existing.ToolCalls {
			if existing.ToolCalls[i].ID == tc.ID {
				existing.ToolCalls[i] = tc
				found = true
				break
			}
		}
		if !found {
			existing.ToolCalls = append(existing.ToolCalls, tc)
		}
	}
}

func (m *Model) upsertPlanSignalLocked(sig protocol.PlanSignal) {
	if idx, ok := m.sigIndex[sig.ID]; ok {
		m.planSignals[idx] = sig
	} else {
		m.sigIndex[sig.ID] = len(m.planSignals)
		m.planSignals = append(m.planSignals, sig)
	}
	if sig.Status != "" {
		m.statuses[sig.ID] = planStatus(sig.Status)
	}
}

func (m *Model) appendExtraLocked(entry ActivityEntry) {
	m.nextSeq++
	entry.seq = m.nextSeq
	m.extra = append(m.extra, entry)
}

// correlateLocked routes a tool result to the one entry it belongs to,
// scanning the current collections in priority order: activity, then
// reasoning, then plan. An unmatched result is dropped without error; this
// is expected when the owning tool call was filtered into a projection
// built in a later batch, and is logged so the condition stays auditable.
func (m *Model) correlateLocked(res protocol.ToolResult) bool {
	id := res.ToolCallID

	target, matched := targetActivity, false
	for i := range m.activity {
		if m.activity[i].Invocation != nil && m.activity[i].Invocation.ID == id {
			matched = true
			break
		}
	}
	if !matched {
		for i := range m.reasoning {
			if m.reasoning[i].ID == id {
				target, matched = targetReasoning, true
				break
			}
		}
	}
	if !matched {
		for i := range m.plan {
			if m.plan[i].ID == id {
				target, matched = targetPlan, true
				break
			}
		}
	}
	if !matched {
		m.log.Debug("dropping unrouted tool result", "tool_call_id", id)
		return false
	}

	m.results[id] = res
	m.resultTarget[id] = target
	return true
}

func planStatus(s string) InvocationStatus {
	switch s {
	case "completed", "done", "success":
		return StatusCompleted
	case "errored", "error", "failed":
		return StatusErrored
	default:
		return StatusPending
	}
}

func copyInvocation(inv *ToolInvocation) *ToolInvocation {
	if inv == nil {
		return nil
	}
	cp := *inv
	if inv.Args != nil {
		cp.Args = make(map[string]interface{}, len(inv.Args))
		for k, v := range inv.Args {
			cp.Args[k] = v
		}
	}
	return &cp
}
