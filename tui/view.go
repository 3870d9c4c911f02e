package tui

import (
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"
)

var (
	headerStyle = lipgloss.NewStyle().
			Background(lipgloss.Color("236")).
			Foreground(lipgloss.Color("255")).
			Padding(0, 1)

	sectionStyle = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(lipgloss.Color("240")).
			Padding(0, 1)

	barFilledStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("42"))

	barEmptyStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("240"))

	doneStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("42"))

	pendingStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("244"))

	errorStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("196"))

	statusBarStyle = lipgloss.NewStyle().
			Background(lipgloss.Color("236")).
			Foreground(lipgloss.Color("255"))
)

// View renders the TUI
func (m Model) View() string {
	if m.width == 0 {
		return "Loading..."
	}

	var b strings.Builder

	elapsed := time.Since(m.started).Round(time.Second)
	header := fmt.Sprintf(" Graph Orchestrator │ Elapsed: %s │ Downloads: %d/%d ",
		elapsed, m.status.NumFilesDownloaded, m.status.TotalFilesToDownload)
	b.WriteString(headerStyle.Width(m.width).Render(header))
	b.WriteString("\n")

	var section strings.Builder
	section.WriteString(m.renderProgressBar())
	section.WriteString("\n\n")
	section.WriteString(m.renderMilestones())
	section.WriteString("\n\n")
	section.WriteString(m.renderMessage())
	b.WriteString(sectionStyle.Width(m.width - 2).Render(section.String()))
	b.WriteString("\n")

	b.WriteString(statusBarStyle.Width(m.width).Render(" q: quit "))

	return b.String()
}

func (m Model) renderProgressBar() string {
	barWidth := m.width - 12
	if barWidth < 10 {
		barWidth = 10
	}

	filled := int(float64(barWidth) * m.status.PctProgress / 100)
	if filled > barWidth {
		filled = barWidth
	}

	bar := barFilledStyle.Render(strings.Repeat("█", filled)) +
		barEmptyStyle.Render(strings.Repeat("░", barWidth-filled))
	return fmt.Sprintf("%s %3.0f%%", bar, m.status.PctProgress)
}

func (m Model) renderMilestones() string {
	milestone := func(name string, reached bool) string {
		if reached {
			return doneStyle.Render("✓ " + name)
		}
		return pendingStyle.Render("· " + name)
	}

	parts := []string{
		milestone("graph built", m.status.GraphBuilt),
		milestone("graph uploaded", m.status.GraphUploaded),
		milestone("server started", m.status.ServerStarted),
	}
	return strings.Join(parts, "   ")
}

func (m Model) renderMessage() string {
	if m.status.Error {
		return errorStyle.Render("FAILED: " + m.status.Message)
	}
	if m.done {
		if m.err != "" {
			return errorStyle.Render("FAILED: " + m.err)
		}
		return doneStyle.Render(m.status.Message)
	}
	return m.status.Message
}
