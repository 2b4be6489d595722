package app

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/lipgloss"

	"github.com/threadworks/gantry/orchestrator"
)

// CronPanel is a full-screen overlay listing scheduled runs.
type CronPanel struct {
	client   *orchestrator.Client
	crons    []orchestrator.Cron
	selected int
	open     bool
	width    int
	height   int
}

// NewCronPanel creates a closed panel.
func NewCronPanel(client *orchestrator.Client) *CronPanel {
	return &CronPanel{client: client}
}

// Open shows the panel.
func (p *CronPanel) Open() { p.open = true }

// Close hides the panel.
func (p *CronPanel) Close() { p.open = false }

// IsOpen reports whether the panel is visible.
func (p *CronPanel) IsOpen() bool { return p.open }

// SetSize sets the render dimensions.
func (p *CronPanel) SetSize(w, h int) {
	p.width = w
	p.height = h
}

// SetCrons replaces the listing, clamping the selection.
func (p *CronPanel) SetCrons(crons []orchestrator.Cron) {
	p.crons = crons
	if p.selected >= len(crons) {
		p.selected = len(crons) - 1
	}
	if p.selected < 0 {
		p.selected = 0
	}
}

// MoveUp moves the selection up.
func (p *CronPanel) MoveUp() {
	if p.selected > 0 {
		p.selected--
	}
}

// MoveDown moves the selection down.
func (p *CronPanel) MoveDown() {
	if p.selected < len(p.crons)-1 {
		p.selected++
	}
}

// SelectedID returns the selected cron's id, or empty when the list is
// empty.
func (p *CronPanel) SelectedID() string {
	if len(p.crons) == 0 {
		return ""
	}
	return p.crons[p.selected].CronID
}

var cronSelectedStyle = lipgloss.NewStyle().
	Background(lipgloss.Color("240")).
	Foreground(lipgloss.Color("15"))

// View renders the panel.
func (p *CronPanel) View() string {
	var b strings.Builder
	b.WriteString(titleStyle.Render("Scheduled runs"))
	b.WriteString("\n\n")

	if len(p.crons) == 0 {
		b.WriteString(dimStyle.Render("No crons configured."))
	}
	for i, cron := range p.crons {
		line := fmt.Sprintf("%-12s  %-16s  %s", cron.CronID, cron.Schedule, cron.AssistantID)
		if !cron.NextRunDate.IsZero() {
			line += dimStyle.Render("  next " + cron.NextRunDate.Format("Jan 2 15:04"))
		}
		line = truncateVisual(line, p.width-2)
		if i == p.selected {
			line = cronSelectedStyle.Render(line)
		}
		b.WriteString(line)
		b.WriteString("\n")
	}

	b.WriteString("\n")
	b.WriteString(dimStyle.Render("j/k move · d delete · r refresh · esc close"))
	return b.String()
}
