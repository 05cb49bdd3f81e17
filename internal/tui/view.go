package tui

import (
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/fentz26/callqueue/internal/models"
)

// View implements tea.Model
func (a *App) View() string {
	var b strings.Builder
	width := a.width
	if width == 0 {
		width = 100
	}

	b.WriteString(a.renderHeader())
	b.WriteString("\n\n")

	listHeight := max(a.height-20, 5)
	b.WriteString(panelStyle.Width(width - 4).Render(a.renderList(listHeight)))
	b.WriteString("\n")

	if t, ok := a.selected(); ok {
		b.WriteString(panelStyle.Width(width - 4).Render(a.renderDetail(t)))
		b.WriteString("\n")
	}

	if a.message != "" {
		style := lipgloss.NewStyle().Foreground(successColor)
		if a.isError {
			style = lipgloss.NewStyle().Foreground(errorColor)
		}
		b.WriteString(" " + style.Render(a.message) + "\n")
	}

	switch a.mode {
	case modeCommand:
		b.WriteString(inputBoxStyle.Width(width - 4).Render(a.input.View()))
		b.WriteString("\n")
		if s := a.suggestions.Render(width); s != "" {
			b.WriteString(s)
			b.WriteString("\n")
		}
	case modeDialog:
		title := ""
		if a.dialog != nil {
			title = labelStyle.Render(a.dialog.title) + "\n"
		}
		b.WriteString(dialogBoxStyle.Width(width - 4).Render(title + a.input.View()))
		b.WriteString("\n")
	}

	b.WriteString(statusBarStyle.Width(width).Render(a.helpLine()))
	return b.String()
}

func (a *App) renderHeader() string {
	header := titleStyle.Render("☎ CALLQUEUE")
	header += "  " + lipgloss.NewStyle().Foreground(cyanColor).Render("● "+a.operator)

	if err := a.cache.LastError(); err != nil {
		header += "  " + offlineStyle.Render("○ OFFLINE")
	} else {
		header += "  " + onlineStyle.Render("● ONLINE")
	}

	if a.cache.Loading() || a.busy > 0 {
		header += "  " + a.spinner.View()
	}

	if last := a.cache.LastRefresh(); !last.IsZero() {
		header += "  " + helpStyle.Render("refreshed "+formatAgo(a.now().Sub(last)))
	}
	if a.scheduler != nil {
		ps := a.scheduler.Poller().State()
		poll := "poll " + formatDuration(ps.Interval)
		if ps.ErrorCount > 0 {
			poll += fmt.Sprintf(" (%d errors)", ps.ErrorCount)
			header += "  " + lipgloss.NewStyle().Foreground(warningColor).Render(poll)
		} else {
			header += "  " + helpStyle.Render(poll)
		}
	}
	return header
}

func (a *App) renderList(height int) string {
	var b strings.Builder
	b.WriteString(labelStyle.Render(fmt.Sprintf("Queue (%d)", len(a.tasks))))
	b.WriteString("\n")

	if len(a.tasks) == 0 {
		if a.cache.Loading() {
			b.WriteString(helpStyle.Render("  loading..."))
		} else {
			b.WriteString(helpStyle.Render("  nothing to call. press r to refresh"))
		}
		return b.String()
	}

	// keep the cursor inside the window
	start := 0
	if a.selectedIdx >= height {
		start = a.selectedIdx - height + 1
	}
	end := min(start+height, len(a.tasks))

	now := a.now()
	for i := start; i < end; i++ {
		line := a.taskLine(a.tasks[i], now)
		if i == a.selectedIdx {
			b.WriteString(selectedStyle.Render("▶ " + line))
		} else {
			b.WriteString(taskItemStyle.Render("  " + line))
		}
		b.WriteString("\n")
	}
	if end < len(a.tasks) {
		b.WriteString(helpStyle.Render(fmt.Sprintf("  ... %d more", len(a.tasks)-end)))
	}
	return b.String()
}

func (a *App) taskLine(t models.Task, now time.Time) string {
	owner := "free"
	if !t.Unassigned() {
		owner = t.AssignedTo
	}
	line := fmt.Sprintf("%s %s %-22s %-16s %-10s %s",
		statusIcon(t.Status),
		priorityStyle(string(t.Priority)).Render(fmt.Sprintf("%-8s", t.Priority)),
		truncate(t.ContactName, 22),
		truncate(t.Phone, 16),
		truncate(owner, 10),
		formatDue(t.DueDate, now),
	)
	switch t.VerificationState {
	case models.VerificationVerifying:
		line += "  " + lipgloss.NewStyle().Foreground(warningColor).Render("verifying claim...")
	case models.VerificationFailed:
		line += "  " + lipgloss.NewStyle().Foreground(errorColor).Render("✗ claim failed")
	}
	return line
}

func (a *App) renderDetail(t models.Task) string {
	var b strings.Builder
	b.WriteString(labelStyle.Render(t.ContactName))
	if t.Phone != "" {
		b.WriteString("  " + t.Phone)
	}
	b.WriteString("\n")
	fmt.Fprintf(&b, "Status: %s   Priority: %s   Due: %s\n", t.Status, t.Priority, formatDue(t.DueDate, a.now()))
	if t.Notes != "" {
		b.WriteString("Notes: " + t.Notes + "\n")
	}
	if t.Outcome != "" {
		b.WriteString("Outcome: " + t.Outcome + "\n")
	}

	history := t.RecentHistory(a.now())
	if len(history) > 0 {
		b.WriteString(helpStyle.Render("History (48h)"))
		b.WriteString("\n")
		for i, h := range history {
			if i >= 5 {
				b.WriteString(helpStyle.Render(fmt.Sprintf("  ... %d older", len(history)-i)))
				b.WriteString("\n")
				break
			}
			line := fmt.Sprintf("  %s  %-13s", h.Timestamp.Local().Format("Jan 02 15:04"), h.Action)
			if h.Actor != "" {
				line += " " + h.Actor
			}
			if h.Details != "" {
				line += "  " + h.Details
			}
			b.WriteString(line + "\n")
		}
	}
	return strings.TrimRight(b.String(), "\n")
}

func (a *App) helpLine() string {
	switch a.mode {
	case modeCommand:
		return "enter run • tab complete • ↑/↓ choose • esc cancel"
	case modeDialog:
		return "enter confirm • esc cancel"
	}
	return "↑/↓ move • c claim • y/n reached/missed • d done • x abandon • t transfer • p postpone • b boost • u unassign • : command • r refresh • q quit"
}

func statusIcon(s models.TaskStatus) string {
	switch s {
	case models.TaskStatusInProgress:
		return lipgloss.NewStyle().Foreground(successColor).Render("☎")
	case models.TaskStatusCompleted:
		return "✓"
	case models.TaskStatusCancelled:
		return "✗"
	default:
		return "○"
	}
}

func formatDue(due *time.Time, now time.Time) string {
	if due == nil {
		return "-"
	}
	d := due.Sub(now)
	if d < 0 {
		return lipgloss.NewStyle().Foreground(errorColor).Render("overdue " + formatDuration(-d))
	}
	return "in " + formatDuration(d)
}

func formatAgo(d time.Duration) string {
	if d < time.Second {
		return "just now"
	}
	return formatDuration(d) + " ago"
}

func formatDuration(d time.Duration) string {
	switch {
	case d < time.Minute:
		return fmt.Sprintf("%ds", int(d.Seconds()))
	case d < time.Hour:
		return fmt.Sprintf("%dm", int(d.Minutes()))
	case d < 48*time.Hour:
		return fmt.Sprintf("%dh%02dm", int(d.Hours()), int(d.Minutes())%60)
	default:
		return fmt.Sprintf("%dd", int(d.Hours())/24)
	}
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	if n <= 1 {
		return string(r[:n])
	}
	return string(r[:n-1]) + "…"
}
