package orchestrator

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/threadworks/gantry/dispatch"
	"github.com/threadworks/gantry/protocol"
	"github.com/threadworks/gantry/runmodel"
)

func TestStreamOpener_OpenRun(t *testing.T) {
	var gotBody streamRunRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/threads/t-1/runs/stream", r.URL.Path)
		assert.Equal(t, "text/event-stream", r.Header.Get("Accept"))
		assert.Equal(t, "secret", r.Header.Get("x-api-key"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&gotBody))

		w.Header().Set("Content-Type", "text/event-stream")
		w.Write([]byte("event: messages\ndata: {\"id\": \"m1\", \"type\": \"ai\", \"content\": \"hi\"}\n\n"))
		w.Write([]byte("data: [DONE]\n\n"))
	}))
	defer srv.Close()

	var (
		mu     sync.Mutex
		events []protocol.RunEvent
		done   = make(chan struct{})
	)
	sink := func(ev protocol.RunEvent) {
		mu.Lock()
		events = append(events, ev)
		mu.Unlock()
		if ev.Kind() == protocol.KindDone {
			close(done)
		}
	}

	opener := &StreamOpener{
		Client:      NewClient(srv.URL, "secret", time.Second),
		ThreadID:    "t-1",
		AssistantID: "agent",
	}
	handle := opener.OpenRun(context.Background(), dispatch.RunInput{
		Message: protocol.Message{ID: "msg-1", Role: protocol.RoleHuman, Text: "hello"},
	}, sink)
	defer handle.Cancel()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for stream to finish")
	}

	assert.Equal(t, "agent", gotBody.AssistantID)
	assert.Equal(t, []string{"messages", "values", "updates"}, gotBody.StreamModes)
	msgs, ok := gotBody.Input["messages"].([]interface{})
	require.True(t, ok)
	first := msgs[0].(map[string]interface{})
	assert.Equal(t, "hello", first["content"])
	assert.Equal(t, "human", first["type"])

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, events, 2)
	msg, ok := events[0].(protocol.MessageEvent)
	require.True(t, ok)
	assert.Equal(t, "hi", msg.Message.Text)
	assert.Equal(t, protocol.KindDone, events[1].Kind())
}

func TestStreamOpener_BadBaseURLDoesNotBlockDispatch(t *testing.T) {
	run := runmodel.New(slog.Default())
	opener := &StreamOpener{
		// The space makes request construction fail before any round-trip.
		Client:      NewClient("http://bad host", "", time.Second),
		ThreadID:    "t-1",
		AssistantID: "agent",
	}
	d := dispatch.New(dispatch.Config{Model: run, Opener: opener})

	// SendMessage holds the dispatcher mutex while opening; a synchronous
	// error delivery into the sink would re-enter that mutex and hang.
	returned := make(chan error, 1)
	go func() { returned <- d.SendMessage(context.Background(), "hello") }()
	select {
	case err := <-returned:
		require.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("SendMessage did not return")
	}

	deadline := time.Now().Add(2 * time.Second)
	for run.Processing() && time.Now().Before(deadline) {
		time.Sleep(10 * time.Millisecond)
	}
	assert.False(t, run.Processing(), "build error must end the run")
	assert.NotEmpty(t, run.LastError())
	assert.Equal(t, dispatch.StateErrored, d.State())
}

func TestStreamOpener_AttachmentsForwarded(t *testing.T) {
	var gotBody streamRunRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewDecoder(r.Body).Decode(&gotBody)
		w.Write([]byte("data: [DONE]\n\n"))
	}))
	defer srv.Close()

	done := make(chan struct{})
	sink := func(ev protocol.RunEvent) {
		if ev.Kind() == protocol.KindDone {
			close(done)
		}
	}

	opener := &StreamOpener{
		Client:      NewClient(srv.URL, "", time.Second),
		ThreadID:    "t-1",
		AssistantID: "agent",
	}
	handle := opener.OpenRun(context.Background(), dispatch.RunInput{
		Message:     protocol.Message{ID: "msg-1", Role: protocol.RoleHuman, Text: "see attached"},
		Attachments: []string{"report.pdf"},
	}, sink)
	defer handle.Cancel()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for stream to finish")
	}

	atts, ok := gotBody.Input["attachments"].([]interface{})
	require.True(t, ok)
	assert.Equal(t, "report.pdf", atts[0])
}
