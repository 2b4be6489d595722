package app

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/mattn/go-runewidth"

	"github.com/threadworks/gantry/protocol"
	"github.com/threadworks/gantry/runmodel"
)

// View renders the model.
func (m Model) View() string {
	if !m.ready {
		return "Loading..."
	}
	if m.cronPanel.IsOpen() {
		return m.cronPanel.View()
	}

	topBar := m.renderTopBar()
	left := paneBorderStyle.Width(m.transcriptWidth()).Render(m.transcript.View())
	right := m.renderSidePanels(m.width-m.transcriptWidth()-2, m.transcript.Height)
	center := lipgloss.JoinHorizontal(lipgloss.Top, left, right)

	m.input.SetWidth(m.width - 2)
	parts := []string{topBar, center, m.input.View(), m.renderStatusBar()}
	content := lipgloss.JoinVertical(lipgloss.Left, parts...)

	if m.toasts.HasToasts() {
		content = m.toasts.View() + "\n" + content
	}
	return content
}

// renderTopBar shows the thread and run status.
func (m Model) renderTopBar() string {
	left := titleStyle.Render("gantry")
	if m.threadID != "" {
		left += "  " + dimStyle.Render("thread "+m.threadID)
	}

	right := m.renderRunStatus()
	pad := m.width - lipgloss.Width(left) - lipgloss.Width(right) - 2
	if pad < 1 {
		pad = 1
	}
	return topBarStyle.Width(m.width).Render(left + strings.Repeat(" ", pad) + right)
}

func (m Model) renderRunStatus() string {
	if m.run.Processing() {
		return m.spin.View() + " " + pendingStyle.Render("running")
	}
	switch status := m.run.Status(); status {
	case protocol.RunSuccess:
		return successStyle.Render("done")
	case protocol.RunError, protocol.RunTimeout:
		return errorStyle.Render(string(status))
	case "":
		return dimStyle.Render("idle")
	default:
		return dimStyle.Render(string(status))
	}
}

// renderTranscript renders the chat pane content.
func (m Model) renderTranscript() string {
	entries := m.run.Transcript()
	if len(entries) == 0 {
		return dimStyle.Render("No messages yet. Type below to start a run.")
	}

	var b strings.Builder
	for _, e := range entries {
		if e.ShowAuthor {
			if b.Len() > 0 {
				b.WriteString("\n")
			}
			b.WriteString(m.renderAuthor(e.Role))
			b.WriteString("\n")
		}
		b.WriteString(m.renderEntryText(e))
		b.WriteString("\n")
	}

	if m.run.ShowTyping() {
		b.WriteString("\n")
		b.WriteString(m.renderAuthor(protocol.RoleAI))
		b.WriteString("\n")
		b.WriteString(m.spin.View() + dimStyle.Render(" thinking..."))
		b.WriteString("\n")
	}
	return b.String()
}

func (m Model) renderAuthor(role protocol.Role) string {
	switch role {
	case protocol.RoleHuman:
		return humanStyle.Render("you")
	case protocol.RoleAI:
		return aiStyle.Render("agent")
	default:
		return dimStyle.Render(string(role))
	}
}

func (m Model) renderEntryText(e runmodel.TranscriptEntry) string {
	// Markdown only for agent turns; human input stays verbatim.
	if e.Role == protocol.RoleAI && m.mdRenderer != nil {
		if out, err := m.mdRenderer.Render(e.Text); err == nil {
			return strings.TrimRight(out, "\n")
		}
	}
	return e.Text
}

// renderSidePanels stacks plan, reasoning and activity. Reasoning collapses
// to nothing until the agent emits an introspection step.
func (m Model) renderSidePanels(width, height int) string {
	if width < 10 {
		return ""
	}
	reasoning := m.run.Reasoning()
	reasoningHeight := 0
	if len(reasoning) > 0 {
		reasoningHeight = height / 4
	}
	planHeight := (height - reasoningHeight) * 2 / 5
	activityHeight := height - planHeight - reasoningHeight

	panels := []string{m.renderPlanBoard(width, planHeight)}
	if reasoningHeight > 0 {
		panels = append(panels, m.renderReasoning(reasoning, width, reasoningHeight))
	}
	panels = append(panels, m.renderActivityLog(width, activityHeight))
	return lipgloss.JoinVertical(lipgloss.Left, panels...)
}

func (m Model) renderReasoning(steps []runmodel.ReasoningStep, width, height int) string {
	lines := []string{paneTitleStyle.Render("Reasoning")}
	for _, s := range steps {
		if len(lines) >= height-1 {
			break
		}
		lines = append(lines, "  "+statusGlyph(s.Status)+" "+dimStyle.Render(truncateVisual(s.Content, width-6)))
	}
	return paneBorderStyle.Width(width).Height(height).Render(strings.Join(lines, "\n"))
}

func (m Model) renderPlanBoard(width, height int) string {
	var lines []string
	lines = append(lines, paneTitleStyle.Render("Plan"))
	items := m.run.Plan()
	if len(items) == 0 {
		lines = append(lines, dimStyle.Render("  no tasks"))
	}
	for _, item := range items {
		if len(lines) >= height-1 {
			lines = append(lines, dimStyle.Render(fmt.Sprintf("  +%d more", len(items)-(height-2))))
			break
		}
		lines = append(lines, "  "+statusGlyph(item.Status)+" "+truncateVisual(item.Description, width-6))
	}
	return paneBorderStyle.Width(width).Height(height).Render(strings.Join(lines, "\n"))
}

func (m Model) renderActivityLog(width, height int) string {
	var lines []string
	lines = append(lines, paneTitleStyle.Render("Activity"))
	entries := m.run.Activity()
	if len(entries) == 0 {
		lines = append(lines, dimStyle.Render("  quiet"))
	}
	for _, e := range entries {
		if len(lines) >= height-1 {
			break
		}
		lines = append(lines, "  "+renderActivityEntry(e, width-6))
	}
	return paneBorderStyle.Width(width).Height(height).Render(strings.Join(lines, "\n"))
}

func renderActivityEntry(e runmodel.ActivityEntry, width int) string {
	text := e.Message
	if e.Invocation != nil {
		text = runmodel.FormatToolCall(e.Invocation.Name, e.Invocation.Args)
	}
	text = truncateVisual(text, width)
	switch e.Level {
	case runmodel.LevelError:
		return errorStyle.Render(text)
	case runmodel.LevelSuccess:
		return successStyle.Render(text)
	case runmodel.LevelDebug:
		return dimStyle.Render(text)
	default:
		return text
	}
}

func statusGlyph(status runmodel.InvocationStatus) string {
	switch status {
	case runmodel.StatusCompleted:
		return successStyle.Render("✓")
	case runmodel.StatusErrored:
		return errorStyle.Render("✗")
	default:
		return pendingStyle.Render("·")
	}
}

// renderStatusBar shows key hints and the last error.
func (m Model) renderStatusBar() string {
	hints := "enter send · esc stop · tab scroll · ctrl+l clear activity · ctrl+r crons · ctrl+c quit"
	if err := m.run.LastError(); err != "" {
		hints = errorStyle.Render(truncateVisual(err, m.width/2)) + "  " + hints
	}
	return statusBarStyle.Width(m.width).Render(" " + hints)
}

// truncateVisual truncates to a display width, rune-aware.
func truncateVisual(s string, width int) string {
	if width <= 0 {
		return ""
	}
	if runewidth.StringWidth(s) <= width {
		return s
	}
	return runewidth.Truncate(s, width, "...")
}
