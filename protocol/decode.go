package protocol

import (
	"encoding/json"
	"fmt"
	"strings"
)

// wireMessage is the orchestrator's message payload. Role arrives under
// "type" ("ai", "human", "tool", plus chunked variants like
// "AIMessageChunk"), content is either a string or a block array, and tool
// calls appear in any of several shapes (see NormalizeToolCall).
type wireMessage struct {
	ID         string            `json:"id"`
	Type       string            `json:"type"`
	Content    FlexibleContent   `json:"content"`
	ToolCalls  []json.RawMessage `json:"tool_calls,omitempty"`
	ToolCallID string            `json:"tool_call_id,omitempty"`
}

// DecodeMessage parses a wire message payload into the canonical Message.
func DecodeMessage(data []byte) (Message, error) {
	var w wireMessage
	if err := json.Unmarshal(data, &w); err != nil {
		return Message{}, fmt.Errorf("decode message: %w", err)
	}

	msg := Message{
		ID:         w.ID,
		Role:       roleFromWire(w.Type),
		Text:       w.Content.Text(),
		ToolCallID: w.ToolCallID,
	}
	for _, raw := range w.ToolCalls {
		msg.ToolCalls = append(msg.ToolCalls, NormalizeToolCall(raw))
	}
	return msg, nil
}

// roleFromWire maps the wire "type" field to a Role. Chunked message types
// ("AIMessageChunk") collapse onto their base role; anything unrecognised is
// treated as AI output so it still routes through the tool-call classifier.
func roleFromWire(t string) Role {
	switch {
	case t == "human" || strings.HasPrefix(t, "Human"):
		return RoleHuman
	case t == "tool" || strings.HasPrefix(t, "Tool"):
		return RoleTool
	default:
		return RoleAI
	}
}

// FlexibleContent is message content that is either a plain string or an
// array of content blocks ({type: "text", text: ...} among others).
type FlexibleContent struct {
	raw json.RawMessage
}

// UnmarshalJSON implements json.Unmarshaler.
func (fc *FlexibleContent) UnmarshalJSON(data []byte) error {
	fc.raw = data
	return nil
}

// MarshalJSON implements json.Marshaler.
func (fc FlexibleContent) MarshalJSON() ([]byte, error) {
	if fc.raw == nil {
		return []byte("null"), nil
	}
	return fc.raw, nil
}

// Text extracts the concatenated text content. For block arrays only
// text-typed blocks contribute; non-text blocks (tool_use, image) are
// skipped. Unparseable content yields the empty string rather than an error
// so a malformed block never aborts stream handling.
func (fc FlexibleContent) Text() string {
	if len(fc.raw) == 0 {
		return ""
	}
	if fc.raw[0] == '"' {
		var s string
		if err := json.Unmarshal(fc.raw, &s); err != nil {
			return ""
		}
		return s
	}

	var blocks []struct {
		Type string `json:"type"`
		Text string `json:"text"`
	}
	if err := json.Unmarshal(fc.raw, &blocks); err != nil {
		return ""
	}
	var b strings.Builder
	for _, blk := range blocks {
		if blk.Type == "" || blk.Type == "text" {
			b.WriteString(blk.Text)
		}
	}
	return b.String()
}

// ContentText renders an arbitrary tool-result content payload as a display
// string. Results arrive as strings, block arrays, or structured objects;
// objects are re-encoded as compact JSON.
func ContentText(content interface{}) string {
	switch v := content.(type) {
	case nil:
		return ""
	case string:
		return v
	case []interface{}:
		var b strings.Builder
		for _, item := range v {
			if m, ok := item.(map[string]interface{}); ok {
				if s, ok := m["text"].(string); ok {
					b.WriteString(s)
					continue
				}
			}
			if s, ok := item.(string); ok {
				b.WriteString(s)
			}
		}
		return b.String()
	default:
		data, err := json.Marshal(v)
		if err != nil {
			return fmt.Sprintf("%v", v)
		}
		return string(data)
	}
}
