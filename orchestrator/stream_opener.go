package orchestrator

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/threadworks/gantry/dispatch"
	"github.com/threadworks/gantry/protocol"
	"github.com/threadworks/gantry/stream"
)

// defaultStreamModes asks the orchestrator for everything the reducer folds.
var defaultStreamModes = []string{"messages", "values", "updates"}

// StreamOpener opens streaming runs on a fixed thread and assistant. It is
// the production implementation of dispatch.Opener.
type StreamOpener struct {
	Client      *Client
	ThreadID    string
	AssistantID string
	Log         *slog.Logger

	// StreamModes overrides defaultStreamModes when non-nil.
	StreamModes []string
}

type streamRunRequest struct {
	AssistantID string                 `json:"assistant_id"`
	Input       map[string]interface{} `json:"input"`
	StreamModes []string               `json:"stream_mode"`
}

// OpenRun submits the run as a streaming request and wires the SSE response
// into the sink. Errors surface on the stream as error events, so this never
// fails synchronously.
func (o *StreamOpener) OpenRun(ctx context.Context, input dispatch.RunInput, sink stream.Sink) dispatch.StreamHandle {
	modes := o.StreamModes
	if modes == nil {
		modes = defaultStreamModes
	}

	runInput := map[string]interface{}{
		"messages": []map[string]interface{}{{
			"id":      input.Message.ID,
			"type":    "human",
			"content": input.Message.Text,
		}},
	}
	if len(input.Attachments) > 0 {
		runInput["attachments"] = input.Attachments
	}

	payload, _ := json.Marshal(streamRunRequest{
		AssistantID: o.AssistantID,
		Input:       runInput,
		StreamModes: modes,
	})

	url := o.Client.baseURL + "/threads/" + o.ThreadID + "/runs/stream"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		// Only a malformed base URL gets here; report it on the stream so
		// the caller has one error path. Delivery must be asynchronous:
		// callers may hold locks that the sink re-acquires, and open never
		// raises synchronously.
		go func() {
			sink(protocol.ErrorEvent{
				EventMeta: protocol.EventMeta{ReceivedAt: time.Now(), Sequence: 1},
				Err:       err,
				Context:   "build request",
			})
			sink(protocol.DoneEvent{EventMeta: protocol.EventMeta{ReceivedAt: time.Now(), Sequence: 2}})
		}()
		return noopHandle{}
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "text/event-stream")
	o.Client.authorize(req)

	return stream.Open(ctx, o.Client.httpClient, req, sink, o.Log)
}

type noopHandle struct{}

func (noopHandle) Cancel() {}
