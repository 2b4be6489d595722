// Package dispatch translates user intents into transport requests: sending
// a message submits a new run, stopping cancels the active one. It owns the
// single-run state machine; the orchestrator allows one live run per client.
package dispatch

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"sync"

	"github.com/google/uuid"

	"github.com/threadworks/gantry/protocol"
	"github.com/threadworks/gantry/runmodel"
	"github.com/threadworks/gantry/stream"
)

// ErrEmptyMessage rejects a submission whose text is empty or whitespace
// and which carries no attachments. Rejected at this boundary, before any
// network call.
var ErrEmptyMessage = errors.New("message is empty")

// RunState is the lifecycle of a single run as seen by this client.
type RunState int

const (
	StateIdle RunState = iota
	StateSubmitted
	StateStreaming
	StateCompleted
	StateErrored
	StateCancelled
)

func (s RunState) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateSubmitted:
		return "submitted"
	case StateStreaming:
		return "streaming"
	case StateCompleted:
		return "completed"
	case StateErrored:
		return "errored"
	case StateCancelled:
		return "cancelled"
	default:
		return "unknown"
	}
}

// Terminal returns true for states no further events can leave.
func (s RunState) Terminal() bool {
	return s == StateCompleted || s == StateErrored || s == StateCancelled
}

// RunInput is what a new run is submitted with.
type RunInput struct {
	Message     protocol.Message
	Attachments []string
}

// StreamHandle is the live connection to a submitted run.
type StreamHandle interface {
	Cancel()
}

// Opener opens the event stream for a new run. The production implementation
// lives in the orchestrator package; tests substitute fakes.
type Opener interface {
	OpenRun(ctx context.Context, input RunInput, sink stream.Sink) StreamHandle
}

// Config wires a Dispatcher.
type Config struct {
	Model  *runmodel.Model
	Opener Opener
	Logger *slog.Logger

	// NewID generates message identifiers. Defaults to uuid.NewString;
	// injected so tests run deterministic ids without wall-clock coupling.
	NewID func() string
}

// Dispatcher drives runs on behalf of the UI.
type Dispatcher struct {
	model  *runmodel.Model
	opener Opener
	newID  func() string
	log    *slog.Logger

	mu     sync.Mutex
	state  RunState
	active StreamHandle
}

// New creates a dispatcher.
func New(cfg Config) *Dispatcher {
	newID := cfg.NewID
	if newID == nil {
		newID = uuid.NewString
	}
	log := cfg.Logger
	if log == nil {
		log = slog.Default()
	}
	return &Dispatcher{
		model:  cfg.Model,
		opener: cfg.Opener,
		newID:  newID,
		log:    log,
		state:  StateIdle,
	}
}

// SendMessage submits text as the input of a new run. The human turn is
// appended to the transcript optimistically, before the orchestrator
// confirms anything. If a prior run is still live it is cancelled first.
func (d *Dispatcher) SendMessage(ctx context.Context, text string, attachments ...string) error {
	if strings.TrimSpace(text) == "" && len(attachments) == 0 {
		return ErrEmptyMessage
	}

	// Cancel outside the mutex: Cancel waits for any in-flight delivery,
	// and deliver takes d.mu.
	d.mu.Lock()
	prior := d.active
	d.active = nil
	d.mu.Unlock()
	if prior != nil {
		d.log.Debug("cancelling active run before resubmit")
		prior.Cancel()
	}

	d.mu.Lock()
	msg := protocol.Message{
		ID:   d.newID(),
		Role: protocol.RoleHuman,
		Text: text,
	}
	d.model.AppendLocalMessage(msg)
	d.model.BeginRun()
	d.state = StateSubmitted
	d.active = d.opener.OpenRun(ctx, RunInput{Message: msg, Attachments: attachments}, d.deliver)
	d.mu.Unlock()
	return nil
}

// Stop cancels the active run and flips liveness off immediately, without
// waiting for a terminal event. The adapter's cancel guarantees no further
// delivery, so any late server-side events are discarded unseen.
func (d *Dispatcher) Stop() {
	d.mu.Lock()
	prior := d.active
	d.active = nil
	d.mu.Unlock()
	if prior != nil {
		prior.Cancel()
	}

	d.mu.Lock()
	if d.state == StateSubmitted || d.state == StateStreaming {
		d.state = StateCancelled
	}
	d.mu.Unlock()

	d.model.MarkCancelled()
}

// State returns the current run state.
func (d *Dispatcher) State() RunState {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.state
}

// deliver is the stream sink: it advances the state machine, then folds the
// event into the model. The adapter calls it serially.
func (d *Dispatcher) deliver(ev protocol.RunEvent) {
	d.mu.Lock()
	if d.state == StateSubmitted {
		d.state = StateStreaming
	}
	switch e := ev.(type) {
	case protocol.RunStatusEvent:
		switch e.Status {
		case protocol.RunSuccess:
			d.state = StateCompleted
			d.active = nil
		case protocol.RunError, protocol.RunTimeout:
			d.state = StateErrored
			d.active = nil
		}
	case protocol.ErrorEvent:
		d.state = StateErrored
		d.active = nil
	}
	d.mu.Unlock()

	d.model.Apply(ev)
}
