package tui

import (
	tea "github.com/charmbracelet/bubbletea"

	"github.com/transitwise/graph-orchestrator/internal/progress"
)

// Update handles messages
func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "q", "ctrl+c":
			return m, tea.Quit
		}

	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height

	case StatusMsg:
		m.status = progress.Status(msg)
		return m, nil

	case DoneMsg:
		m.done = true
		m.err = msg.Err
		return m, nil

	case TickMsg:
		if m.done {
			return m, nil
		}
		return m, tickCmd()
	}

	return m, nil
}
