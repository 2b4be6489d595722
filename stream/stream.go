package stream

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/threadworks/gantry/protocol"
)

// Sink receives decoded run events. Events are delivered one at a time from
// a single goroutine; the sink must return before the next event is
// processed, which gives the reducer its run-to-completion guarantee.
type Sink func(protocol.RunEvent)

// Doer issues HTTP requests. *http.Client satisfies it; tests substitute
// fakes.
type Doer interface {
	Do(*http.Request) (*http.Response, error)
}

// Stream is a live connection to a run's event stream.
type Stream struct {
	sink   Sink
	log    *slog.Logger
	client Doer
	cancel context.CancelFunc
	done   chan struct{}
	closed atomic.Bool
	mu     sync.Mutex // held around each sink delivery
	seq    uint64
}

// Open starts consuming the stream for the given request. It returns before
// the network round-trip completes; connection failures are delivered to the
// sink as an error-kind event, never returned or thrown here. The request
// should already carry the orchestrator auth headers and JSON body.
func Open(ctx context.Context, doer Doer, req *http.Request, sink Sink, log *slog.Logger) *Stream {
	if log == nil {
		log = slog.Default()
	}
	ctx, cancel := context.WithCancel(ctx)
	s := &Stream{
		sink:   sink,
		log:    log,
		client: doer,
		cancel: cancel,
		done:   make(chan struct{}),
	}
	go s.run(req.WithContext(ctx))
	return s
}

// Cancel terminates the connection. It is idempotent, and it guarantees
// that no event is delivered to the sink after it returns: the closed flag
// flips synchronously and Cancel waits out any delivery already in flight.
// Cancellation never surfaces as an error event.
func (s *Stream) Cancel() {
	if !s.closed.CompareAndSwap(false, true) {
		return
	}
	s.cancel()
	// Wait for an in-flight sink call to finish; deliveries check the
	// closed flag under this same lock.
	s.mu.Lock()
	s.mu.Unlock() //nolint:staticcheck // empty critical section is the barrier
}

// Done is closed when the reader goroutine exits.
func (s *Stream) Done() <-chan struct{} { return s.done }

func (s *Stream) run(req *http.Request) {
	defer close(s.done)
	defer s.cancel()

	resp, err := s.doer().Do(req)
	if err != nil {
		s.errorEvent(err, "connect")
		return
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		s.errorEvent(fmt.Errorf("orchestrator returned %d: %s", resp.StatusCode, body), "connect")
		return
	}

	s.readLoop(resp.Body)
}

func (s *Stream) doer() Doer {
	if s.client != nil {
		return s.client
	}
	return http.DefaultClient
}

func (s *Stream) deliver(ev protocol.RunEvent) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed.Load() {
		return
	}
	s.sink(ev)
}

// meta stamps the next sequence number and arrival time.
func (s *Stream) meta() protocol.EventMeta {
	s.seq++
	return protocol.EventMeta{Sequence: s.seq, ReceivedAt: time.Now()}
}

// errorEvent delivers a transport fault unless the stream was cancelled.
func (s *Stream) errorEvent(err error, context string) {
	if s.closed.Load() {
		return
	}
	s.deliver(protocol.ErrorEvent{EventMeta: s.meta(), Err: err, Context: context})
}

// decodeRecord maps one wire record onto zero or more protocol events.
// Malformed payloads are logged and skipped; they never abort the stream.
func (s *Stream) decodeRecord(rec Record) []protocol.RunEvent {
	switch rec.Event {
	case "", "message", "messages", "messages/partial", "messages/complete":
		return s.decodeMessages(rec.Data)

	case "values", "state":
		var vals protocol.StateValues
		if err := json.Unmarshal(rec.Data, &vals); err != nil {
			s.log.Debug("skipping malformed values record", "error", err)
			return nil
		}
		return []protocol.RunEvent{protocol.ValuesEvent{EventMeta: s.meta(), Values: vals}}

	case "status", "run_status", "metadata":
		var payload struct {
			Status protocol.RunStatus `json:"status"`
		}
		if err := json.Unmarshal(rec.Data, &payload); err != nil || payload.Status == "" {
			s.log.Debug("skipping status record without status", "event", rec.Event)
			return nil
		}
		return []protocol.RunEvent{protocol.RunStatusEvent{EventMeta: s.meta(), Status: payload.Status}}

	case "plan", "task", "tasks":
		var items []protocol.PlanSignal
		if err := json.Unmarshal(rec.Data, &items); err != nil {
			var single protocol.PlanSignal
			if err := json.Unmarshal(rec.Data, &single); err != nil {
				s.log.Debug("skipping malformed plan record", "error", err)
				return nil
			}
			items = []protocol.PlanSignal{single}
		}
		return []protocol.RunEvent{protocol.PlanEvent{EventMeta: s.meta(), Items: items}}

	case "error":
		var payload struct {
			Error   string `json:"error"`
			Message string `json:"message"`
		}
		_ = json.Unmarshal(rec.Data, &payload)
		text := payload.Error
		if text == "" {
			text = payload.Message
		}
		if text == "" {
			text = string(rec.Data)
		}
		return []protocol.RunEvent{protocol.ErrorEvent{
			EventMeta: s.meta(),
			Err:       fmt.Errorf("server error: %s", text),
			Context:   "stream",
		}}

	case "debug":
		return []protocol.RunEvent{protocol.DebugEvent{EventMeta: s.meta(), Payload: append([]byte(nil), rec.Data...)}}

	default:
		// Unknown event names are kept auditable rather than dropped.
		s.log.Debug("unknown stream event kind", "event", rec.Event)
		return []protocol.RunEvent{protocol.DebugEvent{EventMeta: s.meta(), Payload: append([]byte(nil), rec.Data...)}}
	}
}

// decodeMessages handles message records, which carry either a single
// message object or an array. Tool-authored messages with a tool_call_id
// are the wire form of tool results and are surfaced as tool_result events.
func (s *Stream) decodeMessages(data []byte) []protocol.RunEvent {
	var raws []json.RawMessage
	if len(data) > 0 && data[0] == '[' {
		if err := json.Unmarshal(data, &raws); err != nil {
			s.log.Debug("skipping malformed message batch", "error", err)
			return nil
		}
	} else {
		raws = []json.RawMessage{data}
	}

	var events []protocol.RunEvent
	for _, raw := range raws {
		msg, err := protocol.DecodeMessage(raw)
		if err != nil {
			s.log.Debug("skipping malformed message record", "error", err)
			continue
		}
		if msg.Role == protocol.RoleTool && msg.ToolCallID != "" {
			events = append(events, protocol.ToolResultEvent{
				EventMeta: s.meta(),
				Result: protocol.ToolResult{
					ToolCallID: msg.ToolCallID,
					Content:    msg.Text,
				},
			})
			continue
		}
		events = append(events, protocol.MessageEvent{EventMeta: s.meta(), Message: msg})
	}
	return events
}

// readLoop consumes the response body until the sentinel, EOF, or cancel.
func (s *Stream) readLoop(body io.Reader) {
	dec := NewDecoder(body)
	for {
		rec, err := dec.Next()
		if err != nil {
			if err == io.EOF || s.closed.Load() {
				// A transport close without the sentinel is a normal
				// termination; long agent steps legitimately close and
				// reconnect.
				s.deliver(protocol.DoneEvent{EventMeta: s.meta()})
				return
			}
			s.errorEvent(err, "read stream")
			return
		}
		if rec.IsDone() {
			s.deliver(protocol.DoneEvent{EventMeta: s.meta()})
			return
		}
		for _, ev := range s.decodeRecord(rec) {
			s.deliver(ev)
		}
	}
}
