package app

import (
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"
)

// ToastLevel determines the notification style and auto-dismiss duration.
type ToastLevel int

const (
	ToastSuccess ToastLevel = iota
	ToastInfo
	ToastError
)

// toastDuration returns how long a toast of the given level stays visible.
// Errors linger longest.
func toastDuration(level ToastLevel) time.Duration {
	switch level {
	case ToastError:
		return 6 * time.Second
	case ToastInfo:
		return 4 * time.Second
	default:
		return 3 * time.Second
	}
}

// Toast is a single transient notification.
type Toast struct {
	Message   string
	Level     ToastLevel
	ExpiresAt time.Time
}

// maxToasts bounds the visible stack; older toasts are evicted first.
const maxToasts = 3

// ToastManager manages the notification stack.
type ToastManager struct {
	toasts []Toast
	width  int
}

// NewToastManager creates an empty toast manager.
func NewToastManager() *ToastManager {
	return &ToastManager{}
}

// SetWidth sets the rendering width.
func (tm *ToastManager) SetWidth(w int) {
	tm.width = w
}

// Add pushes a notification onto the stack.
func (tm *ToastManager) Add(message string, level ToastLevel) {
	tm.toasts = append(tm.toasts, Toast{
		Message:   message,
		Level:     level,
		ExpiresAt: time.Now().Add(toastDuration(level)),
	})
	if len(tm.toasts) > maxToasts {
		tm.toasts = tm.toasts[len(tm.toasts)-maxToasts:]
	}
}

// Tick drops expired toasts and reports whether anything changed.
func (tm *ToastManager) Tick(now time.Time) bool {
	kept := tm.toasts[:0]
	for _, t := range tm.toasts {
		if now.Before(t.ExpiresAt) {
			kept = append(kept, t)
		}
	}
	changed := len(kept) != len(tm.toasts)
	tm.toasts = kept
	return changed
}

// HasToasts reports whether any toast is visible.
func (tm *ToastManager) HasToasts() bool {
	return len(tm.toasts) > 0
}

// View renders the stack, one line per toast.
func (tm *ToastManager) View() string {
	if len(tm.toasts) == 0 {
		return ""
	}
	lines := make([]string, 0, len(tm.toasts))
	for _, t := range tm.toasts {
		var style lipgloss.Style
		var icon string
		switch t.Level {
		case ToastError:
			style = toastErrorStyle
			icon = " ! "
		case ToastInfo:
			style = toastInfoStyle
			icon = " i "
		default:
			style = toastSuccessStyle
			icon = " ✓ "
		}
		content := icon + t.Message
		if tm.width > 7 {
			content = truncateVisual(content, tm.width-4)
		}
		lines = append(lines, style.Width(tm.width).Render(content))
	}
	return strings.Join(lines, "\n")
}

var (
	toastSuccessStyle = lipgloss.NewStyle().
				Background(lipgloss.Color("22")).
				Foreground(lipgloss.Color("10")).
				Padding(0, 1)

	toastInfoStyle = lipgloss.NewStyle().
			Background(lipgloss.Color("17")).
			Foreground(lipgloss.Color("14")).
			Padding(0, 1)

	toastErrorStyle = lipgloss.NewStyle().
			Background(lipgloss.Color("52")).
			Foreground(lipgloss.Color("9")).
			Padding(0, 1)
)
