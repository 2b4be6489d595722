package protocol

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNormalizeToolCall_Shapes(t *testing.T) {
	tests := []struct {
		name     string
		raw      string
		wantID   string
		wantName string
		wantArgs map[string]interface{}
	}{
		{
			name:     "canonical args",
			raw:      `{"id":"t1","name":"web_search","args":{"query":"x"}}`,
			wantID:   "t1",
			wantName: "web_search",
			wantArgs: map[string]interface{}{"query": "x"},
		},
		{
			name:     "arguments field",
			raw:      `{"id":"t2","name":"read_file","arguments":{"path":"a.go"}}`,
			wantID:   "t2",
			wantName: "read_file",
			wantArgs: map[string]interface{}{"path": "a.go"},
		},
		{
			name:     "input field",
			raw:      `{"id":"t3","name":"bash","input":{"command":"ls"}}`,
			wantID:   "t3",
			wantName: "bash",
			wantArgs: map[string]interface{}{"command": "ls"},
		},
		{
			name:     "openai function shape with encoded arguments",
			raw:      `{"id":"t4","function":{"name":"task","arguments":"{\"subagent_type\":\"research\"}"}}`,
			wantID:   "t4",
			wantName: "task",
			wantArgs: map[string]interface{}{"subagent_type": "research"},
		},
		{
			name:     "unknown shape falls back",
			raw:      `{"id":"t5","tool":"mystery"}`,
			wantID:   "t5",
			wantName: UnknownToolName,
		},
		{
			name:     "not an object",
			raw:      `[1,2,3]`,
			wantName: UnknownToolName,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tc := NormalizeToolCall(json.RawMessage(tt.raw))
			assert.Equal(t, tt.wantID, tc.ID)
			assert.Equal(t, tt.wantName, tc.Name)
			assert.Equal(t, tt.wantArgs, tc.Args)
		})
	}
}

func TestNormalizeToolCall_EmptyArgumentsString(t *testing.T) {
	tc := NormalizeToolCall(json.RawMessage(`{"id":"t1","name":"noop","arguments":""}`))
	assert.Equal(t, "noop", tc.Name)
	assert.Nil(t, tc.Args)
}

func TestStringArg(t *testing.T) {
	tc := ToolCall{Args: map[string]interface{}{"subagent_type": "research", "count": 3.0}}
	assert.Equal(t, "research", tc.StringArg("subagent_type"))
	assert.Equal(t, "", tc.StringArg("count"), "non-string args read as empty")
	assert.Equal(t, "", ToolCall{}.StringArg("anything"))
}

func TestDecodeMessage_StringContent(t *testing.T) {
	msg, err := DecodeMessage([]byte(`{"id":"m1","type":"human","content":"hello"}`))
	require.NoError(t, err)
	assert.Equal(t, "m1", msg.ID)
	assert.Equal(t, RoleHuman, msg.Role)
	assert.Equal(t, "hello", msg.Text)
	assert.Empty(t, msg.ToolCalls)
}

func TestDecodeMessage_BlockContentAndToolCalls(t *testing.T) {
	raw := `{
		"id": "m2",
		"type": "ai",
		"content": [{"type":"text","text":"Let me look. "},{"type":"text","text":"One moment."}],
		"tool_calls": [{"id":"t1","name":"web_search","args":{"query":"go sse"}}]
	}`
	msg, err := DecodeMessage([]byte(raw))
	require.NoError(t, err)
	assert.Equal(t, RoleAI, msg.Role)
	assert.Equal(t, "Let me look. One moment.", msg.Text)
	require.Len(t, msg.ToolCalls, 1)
	assert.Equal(t, "web_search", msg.ToolCalls[0].Name)
}

func TestDecodeMessage_ChunkTypeCollapsesToRole(t *testing.T) {
	msg, err := DecodeMessage([]byte(`{"id":"m3","type":"AIMessageChunk","content":"par"}`))
	require.NoError(t, err)
	assert.Equal(t, RoleAI, msg.Role)

	msg, err = DecodeMessage([]byte(`{"id":"m4","type":"ToolMessage","content":"ok","tool_call_id":"t9"}`))
	require.NoError(t, err)
	assert.Equal(t, RoleTool, msg.Role)
	assert.Equal(t, "t9", msg.ToolCallID)
}

func TestDecodeMessage_SkipsNonTextBlocks(t *testing.T) {
	raw := `{"id":"m5","type":"ai","content":[{"type":"tool_use","id":"t1"},{"type":"text","text":"done"}]}`
	msg, err := DecodeMessage([]byte(raw))
	require.NoError(t, err)
	assert.Equal(t, "done", msg.Text)
}

func TestContentText(t *testing.T) {
	assert.Equal(t, "", ContentText(nil))
	assert.Equal(t, "plain", ContentText("plain"))
	assert.Equal(t, "a b", ContentText([]interface{}{
		map[string]interface{}{"type": "text", "text": "a "},
		"b",
	}))
	assert.Equal(t, `{"count":3}`, ContentText(map[string]interface{}{"count": 3}))
}

func TestRunStatus_IsTerminal(t *testing.T) {
	assert.True(t, RunSuccess.IsTerminal())
	assert.True(t, RunError.IsTerminal())
	assert.True(t, RunTimeout.IsTerminal())
	assert.False(t, RunPending.IsTerminal())
	assert.False(t, RunRunning.IsTerminal())
	assert.False(t, RunInterrupted.IsTerminal())
}
