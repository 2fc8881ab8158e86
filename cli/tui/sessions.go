package tui

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/bubbles/key"
	"github.com/charmbracelet/bubbles/table"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/pithecene-io/logline/journal"
)

// keyMap defines key bindings. Row navigation is handled by the table.
type keyMap struct {
	Quit   key.Binding
	Detail key.Binding
}

var keys = keyMap{
	Quit: key.NewBinding(
		key.WithKeys("q", "ctrl+c"),
		key.WithHelp("q", "quit"),
	),
	Detail: key.NewBinding(
		key.WithKeys("enter", "d"),
		key.WithHelp("enter", "toggle detail"),
	),
}

var sessionColumns = []table.Column{
	{Title: "Connected", Width: 20},
	{Title: "Service", Width: 12},
	{Title: "Agent", Width: 10},
	{Title: "Duration", Width: 10},
	{Title: "Bytes", Width: 10},
	{Title: "Chunks", Width: 8},
	{Title: "End", Width: 12},
}

// SessionsModel is a Bubble Tea model browsing session journal records.
type SessionsModel struct {
	records    []journal.SessionRecord
	table      table.Model
	showDetail bool
	width      int
	height     int
	quitting   bool
}

// NewSessionsModel creates a sessions model over recs, newest first.
func NewSessionsModel(recs []journal.SessionRecord) SessionsModel {
	rows := make([]table.Row, 0, len(recs))
	for _, r := range recs {
		rows = append(rows, sessionRow(r))
	}

	t := table.New(
		table.WithColumns(sessionColumns),
		table.WithRows(rows),
		table.WithFocused(true),
		table.WithHeight(min(max(len(rows), 1), 15)),
	)
	styles := table.DefaultStyles()
	styles.Header = styles.Header.
		BorderStyle(lipgloss.NormalBorder()).
		BorderForeground(mutedColor).
		BorderBottom(true).
		Bold(true)
	styles.Selected = styles.Selected.
		Foreground(lipgloss.Color("#FFFFFF")).
		Background(primaryColor)
	t.SetStyles(styles)

	return SessionsModel{records: recs, table: t, showDetail: true}
}

func sessionRow(r journal.SessionRecord) table.Row {
	agent := r.AgentID
	if len(agent) > 8 {
		agent = agent[:8]
	}
	connected := r.ConnectedAt
	if len(connected) > 19 {
		connected = strings.Replace(connected[:19], "T", " ", 1)
	}
	return table.Row{
		connected,
		r.Service,
		agent,
		formatDuration(r.DurationMs),
		formatBytes(r.Bytes),
		fmt.Sprintf("%d", r.Chunks),
		r.EndState,
	}
}

// Init implements tea.Model.
func (m SessionsModel) Init() tea.Cmd {
	return nil
}

// Update implements tea.Model.
func (m SessionsModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		return m, nil

	case tea.KeyMsg:
		switch {
		case key.Matches(msg, keys.Quit):
			m.quitting = true
			return m, tea.Quit
		case key.Matches(msg, keys.Detail):
			m.showDetail = !m.showDetail
			return m, nil
		}
	}

	var cmd tea.Cmd
	m.table, cmd = m.table.Update(msg)
	return m, cmd
}

// Selected returns the record under the cursor.
func (m SessionsModel) Selected() (journal.SessionRecord, bool) {
	i := m.table.Cursor()
	if i < 0 || i >= len(m.records) {
		return journal.SessionRecord{}, false
	}
	return m.records[i], true
}

// View implements tea.Model.
func (m SessionsModel) View() string {
	if m.quitting {
		return ""
	}

	var b strings.Builder
	b.WriteString(TitleStyle.Render("Connection Sessions"))
	b.WriteString("\n")

	if len(m.records) == 0 {
		b.WriteString(LabelStyle.Render("(no sessions)"))
		b.WriteString("\n")
	} else {
		b.WriteString(m.renderTotals())
		b.WriteString("\n")
		b.WriteString(m.table.View())
		b.WriteString("\n")
		if m.showDetail {
			if rec, ok := m.Selected(); ok {
				b.WriteString(renderDetail(rec))
				b.WriteString("\n")
			}
		}
	}

	b.WriteString(HelpStyle.Render("↑/↓ select • enter detail • q quit"))
	return b.String()
}

func (m SessionsModel) renderTotals() string {
	var bytes, lost int64
	for _, r := range m.records {
		bytes += r.Bytes
		if r.EndState == "backoff" {
			lost++
		}
	}
	boxes := []string{
		renderStatBox("Sessions", fmt.Sprintf("%d", len(m.records)), highlightColor),
		renderStatBox("Sent", formatBytes(bytes), healthyColor),
		renderStatBox("Lost", fmt.Sprintf("%d", lost), lostColor),
	}
	return lipgloss.JoinHorizontal(lipgloss.Top, boxes...)
}

func renderStatBox(label, value string, color lipgloss.Color) string {
	valueStr := StatValueStyle.Foreground(color).Render(value)
	labelStr := StatLabelStyle.Render(label)
	content := lipgloss.JoinVertical(lipgloss.Center, valueStr, labelStr)
	return StatBoxStyle.BorderForeground(color).Render(content)
}

func renderDetail(r journal.SessionRecord) string {
	var b strings.Builder
	field := func(label, value string) {
		b.WriteString(LabelStyle.Render(label))
		b.WriteString(ValueStyle.Render(value))
		b.WriteString("\n")
	}
	field("Session", r.SessionID)
	field("Agent", r.AgentID)
	field("Device", r.DeviceID)
	field("File", r.FilePath)
	field("Server", r.ServerAddr)
	field("Closed", r.ClosedAt)
	field("Frames", fmt.Sprintf("%d (%d keepalive)", r.Frames, r.Keepalives))

	b.WriteString(LabelStyle.Render("End"))
	b.WriteString(EndStateStyle(r.EndState).Render(r.EndState))
	if r.Error != "" {
		b.WriteString("\n")
		b.WriteString(LabelStyle.Render("Error"))
		b.WriteString(ErrorStyle.Render(r.Error))
	}
	return BoxStyle.Render(b.String())
}

func formatDuration(ms int64) string {
	switch {
	case ms < 1000:
		return fmt.Sprintf("%dms", ms)
	case ms < 60_000:
		return fmt.Sprintf("%.1fs", float64(ms)/1000)
	default:
		return fmt.Sprintf("%dm%02ds", ms/60_000, (ms%60_000)/1000)
	}
}

func formatBytes(n int64) string {
	const unit = 1024
	if n < unit {
		return fmt.Sprintf("%d B", n)
	}
	div, exp := int64(unit), 0
	for v := n / unit; v >= unit; v /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %ciB", float64(n)/float64(div), "KMGTPE"[exp])
}

// RenderSessionsStatic renders the sessions view without running a program.
func RenderSessionsStatic(recs []journal.SessionRecord) string {
	m := NewSessionsModel(recs)
	m.width = 100
	m.height = 30
	return lipgloss.NewStyle().Padding(1, 2).Render(m.View())
}
