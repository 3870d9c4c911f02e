// Package tui renders a live dashboard for a pipeline run.
package tui

import (
	"time"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/transitwise/graph-orchestrator/internal/progress"
)

// Model is the TUI application model
type Model struct {
	// Data
	status  progress.Status
	started time.Time
	done    bool
	err     string

	// UI state
	width  int
	height int
}

// NewModel creates a new TUI model
func NewModel() Model {
	return Model{
		status:  progress.Status{Message: "starting"},
		started: time.Now(),
	}
}

// Init initializes the model
func (m Model) Init() tea.Cmd {
	return tickCmd()
}

// StatusMsg carries a fresh status snapshot into the model
type StatusMsg progress.Status

// DoneMsg signals that the run finished. Err is empty on success.
type DoneMsg struct {
	Err string
}

// TickMsg drives the elapsed-time display
type TickMsg time.Time

func tickCmd() tea.Cmd {
	return tea.Tick(time.Second, func(t time.Time) tea.Msg {
		return TickMsg(t)
	})
}
