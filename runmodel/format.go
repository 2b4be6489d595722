package runmodel

import (
	"fmt"

	"github.com/threadworks/gantry/protocol"
)

// FormatToolCall creates a display-friendly summary for a tool call,
// surfacing the argument a human most wants to see for the common tools.
func FormatToolCall(name string, args map[string]interface{}) string {
	if args == nil {
		return name
	}

	switch name {
	case "web_search", "internet_search":
		if q, ok := args["query"].(string); ok {
			return fmt.Sprintf("%s: %s", name, Truncate(q, 50))
		}
	case "read_file", "write_file", "edit_file":
		if path, ok := args["file_path"].(string); ok {
			return fmt.Sprintf("%s %s", name, Truncate(path, 60))
		}
		if path, ok := args["path"].(string); ok {
			return fmt.Sprintf("%s %s", name, Truncate(path, 60))
		}
	case "bash", "shell":
		if cmd, ok := args["command"].(string); ok {
			return fmt.Sprintf("%s: %s", name, Truncate(cmd, 50))
		}
	case DelegationToolName:
		if desc, ok := args["description"].(string); ok {
			return fmt.Sprintf("%s: %s", name, Truncate(desc, 40))
		}
	}
	return name
}

// describeDelegation renders a plan-board line for a sub-agent delegation.
func describeDelegation(tc protocol.ToolCall) string {
	agent := tc.StringArg("subagent_type")
	desc := tc.StringArg("description")
	if desc == "" {
		desc = tc.StringArg("prompt")
	}
	if desc == "" {
		return fmt.Sprintf("delegate → %s", agent)
	}
	return fmt.Sprintf("delegate → %s: %s", agent, Truncate(desc, 60))
}

// describeManagement renders a plan-board line for a task-list update.
func describeManagement(tc protocol.ToolCall) string {
	if todos, ok := tc.Args["todos"].([]interface{}); ok {
		return fmt.Sprintf("%s (%d items)", tc.Name, len(todos))
	}
	return tc.Name
}

// Truncate shortens s to at most max runes, appending "..." when
// truncation occurred (the suffix counts toward max). Rune-based indexing
// avoids splitting multi-byte UTF-8 sequences.
func Truncate(s string, max int) string {
	runes := []rune(s)
	if len(runes) <= max {
		return s
	}
	if max <= 3 {
		return string(runes[:max])
	}
	return string(runes[:max-3]) + "..."
}
