package runmodel

import (
	"sort"
	"strings"

	"github.com/threadworks/gantry/protocol"
)

// Tool names with special routing. The delegation tool hands work to a
// named sub-agent; the management tools manipulate the shared todo list.
const DelegationToolName = "task"

var taskManagementTools = map[string]struct{}{
	"write_todos": {},
	"list_tasks":  {},
	"read_todos":  {},
}

// Substrings that route a tool call to the reasoning trace. This is a
// heuristic by contract: a tool literally named "analyze_spreadsheet" will
// land here too, and that is accepted behavior.
var reasoningSubstrings = []string{"think", "reason", "analyze"}

// classify assigns a route to a tool call. Exactly one route applies; the
// rules are evaluated in order.
func classify(tc protocol.ToolCall) routeKind {
	name := strings.ToLower(tc.Name)
	switch {
	case name == DelegationToolName && tc.StringArg("subagent_type") != "":
		return routePlanDelegation
	case isTaskManagement(name):
		return routePlanManagement
	case containsAny(name, reasoningSubstrings):
		return routeReasoning
	default:
		return routeActivity
	}
}

func isTaskManagement(name string) bool {
	_, ok := taskManagementTools[name]
	return ok
}

func containsAny(s string, subs []string) bool {
	for _, sub := range subs {
		if strings.Contains(s, sub) {
			return true
		}
	}
	return false
}

// routeForLocked returns the cached route for a tool call, classifying it
// on first sight. The decision is never revisited.
func (m *Model) routeForLocked(tc protocol.ToolCall) routeInfo {
	if info, ok := m.routes[tc.ID]; ok {
		return info
	}
	m.nextSeq++
	info := routeInfo{kind: classify(tc), seq: m.nextSeq}
	m.routes[tc.ID] = info
	return info
}

// foldLocked rebuilds all derived collections from the accumulated history.
// Rebuilding from scratch on every event keeps redelivery and re-render
// safe: entry identity comes from stable IDs, and result correlations
// survive because they live in the results/statuses maps, not in the
// rebuilt entries.
func (m *Model) foldLocked() {
	m.transcript = m.foldTranscriptLocked()

	var activity []ActivityEntry
	var plan []PlanItem
	var reasoning []ReasoningStep
	seenTool := make(map[string]struct{})

	for _, msg := range m.messages {
		if msg.Role != protocol.RoleAI {
			continue
		}
		for _, tc := range msg.ToolCalls {
			if _, dup := seenTool[tc.ID]; dup && tc.ID != "" {
				continue
			}
			seenTool[tc.ID] = struct{}{}

			info := m.routeForLocked(tc)

			switch info.kind {
			case routePlanDelegation:
				inv := m.invocationLocked(tc, targetPlan)
				plan = prependPlan(plan, PlanItem{
					ID:          tc.ID,
					Kind:        PlanTaskDelegation,
					Description: describeDelegation(tc),
					Status:      inv.Status,
				})
			case routePlanManagement:
				inv := m.invocationLocked(tc, targetPlan)
				plan = prependPlan(plan, PlanItem{
					ID:          tc.ID,
					Kind:        PlanTaskManagement,
					Description: describeManagement(tc),
					Status:      inv.Status,
					Invocation:  inv,
				})
			case routeReasoning:
				inv := m.invocationLocked(tc, targetReasoning)
				reasoning = prependReasoning(reasoning, ReasoningStep{
					ID:      tc.ID,
					Content: m.reasoningContentLocked(tc),
					Status:  inv.Status,
				})
			case routeActivity:
				if _, gone := m.cleared[tc.ID]; gone {
					continue
				}
				inv := m.invocationLocked(tc, targetActivity)
				activity = prependActivity(activity, ActivityEntry{
					ID:         tc.ID,
					Kind:       ActivityToolCall,
					Level:      levelFor(inv.Status),
					Message:    FormatToolCall(tc.Name, tc.Args),
					Invocation: inv,
					seq:        info.seq,
				})
			}
		}
	}

	// Explicit plan signals become synthetic delegation entries unless a
	// tool-call-derived item already owns the ID.
	for _, sig := range m.planSignals {
		status := StatusPending
		if st, ok := m.statuses[sig.ID]; ok {
			status = st
		}
		if res, ok := m.results[sig.ID]; ok && m.resultTarget[sig.ID] == targetPlan {
			if res.IsError {
				status = StatusErrored
			} else {
				status = StatusCompleted
			}
		}
		plan = prependPlan(plan, PlanItem{
			ID:          sig.ID,
			Kind:        PlanTaskDelegation,
			Description: sig.Description,
			Status:      status,
		})
	}

	// Merge the non-tool entries (errors, debug) by fold sequence so the
	// log interleaves in arrival order, newest first.
	for _, entry := range m.extra {
		if _, gone := m.cleared[entry.ID]; gone {
			continue
		}
		activity = append(activity, entry)
	}
	sort.SliceStable(activity, func(i, j int) bool {
		return activity[i].seq > activity[j].seq
	})

	m.activity = capList(activity, MaxActivityEntries)
	m.plan = capPlan(plan, MaxPlanItems)
	m.reasoning = capReasoning(reasoning, MaxReasoningSteps)
}

// foldTranscriptLocked derives the visible transcript: messages with
// extracted text, plus every human turn regardless of content. Tool-only
// assistant messages are control flow and stay out of the chat pane.
func (m *Model) foldTranscriptLocked() []TranscriptEntry {
	var out []TranscriptEntry
	seen := make(map[string]struct{})
	for _, msg := range m.messages {
		if msg.Text == "" && msg.Role != protocol.RoleHuman {
			continue
		}
		if _, dup := seen[msg.ID]; dup {
			continue
		}
		seen[msg.ID] = struct{}{}
		entry := TranscriptEntry{ID: msg.ID, Role: msg.Role, Text: msg.Text}
		entry.ShowAuthor = len(out) == 0 || out[len(out)-1].Role != msg.Role
		out = append(out, entry)
	}
	return out
}

// invocationLocked builds the current view of a tool invocation. A result
// applies only when it was correlated against the caller's collection; two
// entries sharing an ID across collections never share a result. Plan-signal
// statuses apply only to plan-routed calls.
func (m *Model) invocationLocked(tc protocol.ToolCall, target correlationTarget) *ToolInvocation {
	inv := &ToolInvocation{
		ID:     tc.ID,
		Name:   tc.Name,
		Args:   tc.Args,
		Status: StatusPending,
	}
	if res, ok := m.results[tc.ID]; ok && m.resultTarget[tc.ID] == target {
		inv.Result = res.Content
		if res.IsError {
			inv.Status = StatusErrored
		} else {
			inv.Status = StatusCompleted
		}
		return inv
	}
	if st, ok := m.statuses[tc.ID]; ok && target == targetPlan {
		inv.Status = st
	}
	return inv
}

// reasoningContentLocked renders a reasoning step's content, appending a
// truncated preview of the result once one is known.
func (m *Model) reasoningContentLocked(tc protocol.ToolCall) string {
	content := tc.StringArg("thought")
	if content == "" {
		content = tc.StringArg("reasoning")
	}
	if content == "" {
		content = tc.Name
	}
	if res, ok := m.results[tc.ID]; ok && m.resultTarget[tc.ID] == targetReasoning {
		if preview := resultPreview(res.Content); preview != "" {
			content += "\n" + preview
		}
	}
	return content
}

func levelFor(status InvocationStatus) ActivityLevel {
	switch status {
	case StatusCompleted:
		return LevelSuccess
	case StatusErrored:
		return LevelError
	default:
		return LevelInfo
	}
}

// resultPreview truncates a result rendering at 100 characters, appending
// an ellipsis when truncation occurred. Rune-based so multi-byte sequences
// never split.
func resultPreview(content interface{}) string {
	text := protocol.ContentText(content)
	runes := []rune(text)
	if len(runes) <= 100 {
		return text
	}
	return string(runes[:100]) + "..."
}

// prepend helpers keep the lists newest-first while deduplicating by ID.

func prependPlan(list []PlanItem, item PlanItem) []PlanItem {
	for _, existing := range list {
		if existing.ID == item.ID {
			return list
		}
	}
	return append([]PlanItem{item}, list...)
}

func prependReasoning(list []ReasoningStep, step ReasoningStep) []ReasoningStep {
	for _, existing := range list {
		if existing.ID == step.ID {
			return list
		}
	}
	return append([]ReasoningStep{step}, list...)
}

func prependActivity(list []ActivityEntry, entry ActivityEntry) []ActivityEntry {
	for _, existing := range list {
		if existing.ID == entry.ID {
			return list
		}
	}
	return append([]ActivityEntry{entry}, list...)
}

// cap helpers drop the oldest entries (the tail of a newest-first list).

func capList(list []ActivityEntry, max int) []ActivityEntry {
	if len(list) > max {
		return list[:max]
	}
	return list
}

func capPlan(list []PlanItem, max int) []PlanItem {
	if len(list) > max {
		return list[:max]
	}
	return list
}

func capReasoning(list []ReasoningStep, max int) []ReasoningStep {
	if len(list) > max {
		return list[:max]
	}
	return list
}
