package protocol

import "encoding/json"

// UnknownToolName is assigned when a tool-call payload matches none of the
// known shapes. The call still flows through classification so it surfaces
// in the activity log instead of disappearing.
const UnknownToolName = "unknown"

// normalizeShape covers every tool-call encoding the orchestrator is known
// to emit. Producers disagree on the field names for the name and the
// arguments, and the OpenAI-style shape nests both under "function" with
// the arguments JSON-encoded as a string.
type normalizeShape struct {
	ID       string          `json:"id"`
	Name     string          `json:"name"`
	Args     json.RawMessage `json:"args,omitempty"`
	Argument json.RawMessage `json:"arguments,omitempty"`
	Input    json.RawMessage `json:"input,omitempty"`
	Function *struct {
		Name      string          `json:"name"`
		Arguments json.RawMessage `json:"arguments,omitempty"`
	} `json:"function,omitempty"`
}

// NormalizeToolCall maps any known tool-call payload shape onto the
// canonical {ID, Name, Args} triple. This is the single ingestion point for
// tool-call shape variance; nothing downstream inspects raw payloads.
// Unknown shapes produce Name "unknown" with whatever ID was present.
func NormalizeToolCall(raw json.RawMessage) ToolCall {
	var s normalizeShape
	if err := json.Unmarshal(raw, &s); err != nil {
		return ToolCall{Name: UnknownToolName}
	}

	tc := ToolCall{ID: s.ID, Name: s.Name}

	argsRaw := s.Args
	if argsRaw == nil {
		argsRaw = s.Argument
	}
	if argsRaw == nil {
		argsRaw = s.Input
	}
	if s.Function != nil {
		if tc.Name == "" {
			tc.Name = s.Function.Name
		}
		if argsRaw == nil {
			argsRaw = s.Function.Arguments
		}
	}
	if tc.Name == "" {
		tc.Name = UnknownToolName
	}

	tc.Args = decodeArgs(argsRaw)
	return tc
}

// decodeArgs parses an arguments payload that is either a JSON object or a
// JSON-encoded string containing an object. Anything else yields nil.
func decodeArgs(raw json.RawMessage) map[string]interface{} {
	if len(raw) == 0 {
		return nil
	}
	var args map[string]interface{}
	if err := json.Unmarshal(raw, &args); err == nil {
		return args
	}
	var s string
	if err := json.Unmarshal(raw, &s); err != nil || s == "" {
		return nil
	}
	if err := json.Unmarshal([]byte(s), &args); err != nil {
		return nil
	}
	return args
}

// StringArg returns the named argument as a string, or "" when absent or of
// another type.
func (tc ToolCall) StringArg(key string) string {
	if tc.Args == nil {
		return ""
	}
	s, _ := tc.Args[key].(string)
	return s
}
