package app

import (
	"errors"
	"strings"

	"github.com/charmbracelet/bubbles/spinner"
	tea "github.com/charmbracelet/bubbletea"

	"github.com/threadworks/gantry/dispatch"
)

// Update handles messages and updates the model.
func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	var cmds []tea.Cmd

	switch msg := msg.(type) {
	case tea.KeyMsg:
		if m.focus == FocusCrons {
			return m.handleCronPanel(msg)
		}
		return m.handleKeyPress(msg)

	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		m.toasts.SetWidth(msg.Width)
		m.cronPanel.SetSize(msg.Width, msg.Height)
		m.layout()
		if m.mdRenderer == nil {
			m.mdRenderer, _ = NewMarkdownRenderer(m.transcriptWidth() - 2)
		} else {
			_ = m.mdRenderer.SetWidth(m.transcriptWidth() - 2)
		}
		m.ready = true
		m.refreshTranscript()
		return m, nil

	case modelEventMsg:
		m.refreshTranscript()
		// Keep listening; notifications coalesce while the UI is busy.
		return m, m.listenForModelEvents()

	case sentMsg:
		if msg.err != nil && !errors.Is(msg.err, dispatch.ErrEmptyMessage) {
			m.toasts.Add(msg.err.Error(), ToastError)
		}
		return m, nil

	case errMsg:
		m.toasts.Add(msg.Error(), ToastError)
		return m, nil

	case cronsMsg:
		if msg.err != nil {
			m.toasts.Add(msg.err.Error(), ToastError)
		} else {
			m.cronPanel.SetCrons(msg.crons)
		}
		return m, nil

	case cronMutatedMsg:
		if msg.err != nil {
			m.toasts.Add(msg.err.Error(), ToastError)
			return m, nil
		}
		m.toasts.Add("cron "+msg.action, ToastSuccess)
		return m, m.refreshCrons()

	case tickMsg:
		m.toasts.Tick(msg.time)
		return m, tickCmd()

	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spin, cmd = m.spin.Update(msg)
		return m, cmd
	}

	var cmd tea.Cmd
	m.input, cmd = m.input.Update(msg)
	cmds = append(cmds, cmd)
	return m, tea.Batch(cmds...)
}

// handleKeyPress processes keys outside of overlays.
func (m Model) handleKeyPress(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.String() {
	case "ctrl+c":
		m.dispatcher.Stop()
		return m, tea.Quit

	case "esc":
		if m.focus == FocusTranscript {
			m.focus = FocusInput
			m.input.Focus()
			m.followTail = true
			m.transcript.GotoBottom()
			return m, nil
		}
		// Stopping an idle run is harmless; the dispatcher no-ops.
		m.dispatcher.Stop()
		return m, nil

	case "tab":
		if m.focus == FocusInput {
			m.focus = FocusTranscript
			m.input.Blur()
		} else {
			m.focus = FocusInput
			m.input.Focus()
		}
		return m, nil

	case "ctrl+l":
		m.run.ClearActivity()
		return m, nil

	case "ctrl+r":
		m.focus = FocusCrons
		m.cronPanel.Open()
		return m, m.refreshCrons()

	case "enter":
		if m.focus == FocusInput {
			return m.submitInput()
		}

	case "up", "down", "pgup", "pgdown", "home", "end":
		if m.focus == FocusTranscript {
			var cmd tea.Cmd
			m.transcript, cmd = m.transcript.Update(msg)
			m.followTail = m.transcript.AtBottom()
			return m, cmd
		}
	}

	if m.focus == FocusInput {
		var cmd tea.Cmd
		m.input, cmd = m.input.Update(msg)
		return m, cmd
	}
	var cmd tea.Cmd
	m.transcript, cmd = m.transcript.Update(msg)
	m.followTail = m.transcript.AtBottom()
	return m, cmd
}

// submitInput sends the composer content as a new run.
func (m Model) submitInput() (tea.Model, tea.Cmd) {
	text := m.input.Value()
	if strings.TrimSpace(text) == "" {
		return m, nil
	}
	m.input.Reset()
	m.followTail = true

	d := m.dispatcher
	ctx := m.ctx
	return m, func() tea.Msg {
		return sentMsg{err: d.SendMessage(ctx, text)}
	}
}

// handleCronPanel processes keys while the cron panel is open.
func (m Model) handleCronPanel(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.String() {
	case "esc", "ctrl+r", "q":
		m.focus = FocusInput
		m.cronPanel.Close()
		m.input.Focus()
		return m, nil

	case "up", "k":
		m.cronPanel.MoveUp()
		return m, nil

	case "down", "j":
		m.cronPanel.MoveDown()
		return m, nil

	case "d":
		cronID := m.cronPanel.SelectedID()
		if cronID == "" {
			return m, nil
		}
		client := m.client
		ctx := m.ctx
		return m, func() tea.Msg {
			return cronMutatedMsg{action: "deleted", err: client.DeleteCron(ctx, cronID)}
		}

	case "r":
		return m, m.refreshCrons()
	}
	return m, nil
}

// refreshCrons fetches the cron list in the background.
func (m Model) refreshCrons() tea.Cmd {
	client := m.client
	ctx := m.ctx
	return func() tea.Msg {
		crons, err := client.SearchCrons(ctx, 50, 0)
		return cronsMsg{crons: crons, err: err}
	}
}

// layout resizes the panes for the current window.
func (m *Model) layout() {
	inputHeight := 5
	topBarHeight := 1
	statusBarHeight := 1
	paneHeight := m.height - topBarHeight - statusBarHeight - inputHeight
	if paneHeight < 3 {
		paneHeight = 3
	}

	// Resize in place; recreating the viewport would lose the scroll
	// position on every window change.
	m.transcript.Width = m.transcriptWidth()
	m.transcript.Height = paneHeight
	m.input.SetWidth(m.width - 2)
}

// transcriptWidth returns the chat pane width; the right column takes the
// rest.
func (m *Model) transcriptWidth() int {
	w := m.width * 3 / 5
	if w < 20 {
		w = m.width
	}
	return w
}


// refreshTranscript re-renders the chat pane from the latest snapshot and
// keeps the tail pinned when the user has not scrolled away.
func (m *Model) refreshTranscript() {
	if !m.ready {
		return
	}
	m.transcript.SetContent(m.renderTranscript())
	if m.followTail {
		m.transcript.GotoBottom()
	}
}
