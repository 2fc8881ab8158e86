package tui

import (
	"fmt"
	"slices"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/pithecene-io/logline/journal"
)

// ViewSessions is the session journal browser.
const ViewSessions = "sessions"

// Run starts the TUI for viewType. Returns an error if the view type
// doesn't support TUI or data has the wrong type.
func Run(viewType string, data any) error {
	if !IsTUISupported(viewType) {
		return fmt.Errorf("TUI mode is not supported for %s", viewType)
	}

	switch viewType {
	case ViewSessions:
		recs, ok := data.([]journal.SessionRecord)
		if !ok {
			return fmt.Errorf("invalid data type %T for %s", data, viewType)
		}
		_, err := tea.NewProgram(NewSessionsModel(recs), tea.WithAltScreen()).Run()
		return err
	default:
		return fmt.Errorf("unknown view type: %s", viewType)
	}
}

// IsTUISupported returns true if the view type supports TUI mode.
func IsTUISupported(viewType string) bool {
	return slices.Contains(SupportedTUIViews(), viewType)
}

// SupportedTUIViews returns the view types that support TUI.
func SupportedTUIViews() []string {
	return []string{ViewSessions}
}
