// Package app provides the root TUI application model.
package app

import (
	"context"
	"time"

	"github.com/charmbracelet/bubbles/spinner"
	"github.com/charmbracelet/bubbles/textarea"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"

	"github.com/threadworks/gantry/dispatch"
	"github.com/threadworks/gantry/orchestrator"
	"github.com/threadworks/gantry/runmodel"
)

// FocusArea indicates which area has focus.
type FocusArea int

const (
	FocusInput     FocusArea = iota // composer at the bottom (default)
	FocusTranscript                 // scrolling the chat pane
	FocusCrons                      // cron panel overlay
)

// modelEventBuffer bounds the observer bridge. The reducer can emit faster
// than the UI drains during bursts; dropped notifications only coalesce
// re-renders, they never lose data.
const modelEventBuffer = 64

// Model is the root application model.
type Model struct {
	ctx context.Context

	run        *runmodel.Model
	dispatcher *dispatch.Dispatcher
	client     *orchestrator.Client
	threadID   string

	// Observer bridge: runmodel notifications arrive on this channel and are
	// re-emitted as tea messages.
	events chan runmodel.ModelEvent

	// Components
	input      textarea.Model
	transcript viewport.Model
	spin       spinner.Model
	toasts     *ToastManager
	mdRenderer *MarkdownRenderer
	cronPanel  *CronPanel

	// UI state
	focus         FocusArea
	width, height int
	ready         bool
	followTail    bool // transcript pinned to the newest entry
}

// NewModel creates the root model.
func NewModel(ctx context.Context, run *runmodel.Model, dispatcher *dispatch.Dispatcher, client *orchestrator.Client, threadID string) Model {
	ta := textarea.New()
	ta.Placeholder = "Send a message..."
	ta.CharLimit = 0
	ta.SetHeight(3)
	ta.ShowLineNumbers = false
	ta.Focus()

	sp := spinner.New()
	sp.Spinner = spinner.MiniDot

	vp := viewport.New(0, 0)

	m := Model{
		ctx:        ctx,
		run:        run,
		dispatcher: dispatcher,
		client:     client,
		threadID:   threadID,
		events:     make(chan runmodel.ModelEvent, modelEventBuffer),
		input:      ta,
		transcript: vp,
		spin:       sp,
		toasts:     NewToastManager(),
		cronPanel:  NewCronPanel(client),
		focus:      FocusInput,
		followTail: true,
	}
	run.AddObserver(channelObserver{ch: m.events})
	return m
}

// channelObserver forwards model notifications to the tea event loop. A full
// channel drops the notification; a pending one already forces a re-render.
type channelObserver struct {
	ch chan runmodel.ModelEvent
}

func (o channelObserver) OnModelEvent(event runmodel.ModelEvent) {
	select {
	case o.ch <- event:
	default:
	}
}

// Init initializes the model.
func (m Model) Init() tea.Cmd {
	return tea.Batch(
		textarea.Blink,
		m.spin.Tick,
		m.listenForModelEvents(),
		tickCmd(),
	)
}

// listenForModelEvents waits for the next reducer notification.
func (m Model) listenForModelEvents() tea.Cmd {
	return func() tea.Msg {
		select {
		case <-m.ctx.Done():
			return nil
		case event := <-m.events:
			return modelEventMsg{event}
		}
	}
}

// tickCmd drives toast expiry and the elapsed-time display.
func tickCmd() tea.Cmd {
	return tea.Tick(250*time.Millisecond, func(t time.Time) tea.Msg {
		return tickMsg{time: t}
	})
}

// Message types
type (
	errMsg        struct{ error }
	modelEventMsg struct{ event runmodel.ModelEvent }
	tickMsg       struct{ time time.Time }
	// sentMsg reports the outcome of a SendMessage call.
	sentMsg struct{ err error }
	// cronsMsg carries a refreshed cron list for the panel.
	cronsMsg struct {
		crons []orchestrator.Cron
		err   error
	}
	// cronMutatedMsg is sent after a cron create or delete round-trips.
	cronMutatedMsg struct {
		action string
		err    error
	}
)
