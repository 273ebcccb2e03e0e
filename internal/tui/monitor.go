package tui

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/table"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/mattjoyce/convert/internal/events"
)

const maxEventLog = 50

type taskRow struct {
	last  events.ProgressEvent
	first time.Time
}

// Monitor is a live table of every task seen on an event stream.
type Monitor struct {
	source <-chan events.ProgressEvent
	theme  Theme

	width  int
	height int

	tasks    map[string]*taskRow
	eventLog []events.ProgressEvent
	closed   bool

	table table.Model
}

func NewMonitor(source <-chan events.ProgressEvent) Monitor {
	t := table.New(
		table.WithColumns([]table.Column{
			{Title: "ST", Width: 2},
			{Title: "Task", Width: 44},
			{Title: "Phase", Width: 11},
			{Title: "%", Width: 4},
			{Title: "Speed", Width: 10},
			{Title: "ETA", Width: 8},
		}),
		table.WithFocused(true),
		table.WithHeight(10),
	)

	s := table.DefaultStyles()
	s.Header = s.Header.
		BorderStyle(lipgloss.NormalBorder()).
		BorderForeground(lipgloss.Color("240")).
		BorderBottom(true).
		Bold(false)
	s.Selected = s.Selected.
		Foreground(lipgloss.Color("229")).
		Background(lipgloss.Color("57")).
		Bold(false)
	t.SetStyles(s)

	return Monitor{
		source: source,
		theme:  NewDefaultTheme(),
		tasks:  make(map[string]*taskRow),
		table:  t,
	}
}

func (m Monitor) Init() tea.Cmd {
	return waitForEvent(m.source)
}

func (m Monitor) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	var cmd tea.Cmd

	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "q", "ctrl+c":
			return m, tea.Quit
		}

	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		m.table.SetWidth(max(m.width-6, 20))

	case progressMsg:
		m.handleEvent(events.ProgressEvent(msg))
		m.updateTable()
		return m, waitForEvent(m.source)

	case streamClosedMsg:
		m.closed = true
		return m, nil
	}

	m.table, cmd = m.table.Update(msg)
	return m, cmd
}

func (m *Monitor) handleEvent(ev events.ProgressEvent) {
	m.eventLog = append([]events.ProgressEvent{ev}, m.eventLog...)
	if len(m.eventLog) > maxEventLog {
		m.eventLog = m.eventLog[:maxEventLog]
	}

	row, ok := m.tasks[ev.TaskID]
	if !ok {
		row = &taskRow{first: ev.At}
		m.tasks[ev.TaskID] = row
	}
	row.last = ev
}

// updateTable lists running tasks first, newest first within each group.
func (m *Monitor) updateTable() {
	rows := make([]*taskRow, 0, len(m.tasks))
	for _, r := range m.tasks {
		rows = append(rows, r)
	}
	sort.Slice(rows, func(i, j int) bool {
		ti, tj := rows[i].last.Phase.Terminal(), rows[j].last.Phase.Terminal()
		if ti != tj {
			return !ti
		}
		return rows[i].first.After(rows[j].first)
	})

	out := make([]table.Row, 0, len(rows))
	for _, r := range rows {
		ev := r.last
		out = append(out, table.Row{
			m.theme.PhaseStyle(ev.Phase).Render(Symbol(ev.Phase)),
			ev.TaskID,
			string(ev.Phase),
			fmt.Sprintf("%.0f", ev.Progress),
			ev.Speed,
			ev.ETA,
		})
	}
	m.table.SetRows(out)
}

func (m Monitor) View() string {
	t := m.theme
	width := max(m.width-4, 40)

	state := t.PhaseDone.Render("LIVE")
	if m.closed {
		state = t.PhaseFailed.Render("DISCONNECTED")
	}
	header := t.Border.Width(width).Render(fmt.Sprintf("Stream: %s   Tasks: %d", state, len(m.tasks)))

	tasks := t.Border.Width(width).Render(
		lipgloss.JoinVertical(lipgloss.Left, t.Title.Render("Tasks"), m.table.View()),
	)
	stream := t.Border.Width(width).Render(
		lipgloss.JoinVertical(lipgloss.Left, t.Title.Render("Event Stream"), m.renderEvents()),
	)
	help := t.Help.Render(" [q] Quit • [↑/↓] Scroll")

	return lipgloss.JoinVertical(lipgloss.Left, header, tasks, stream, help)
}

func (m Monitor) renderEvents() string {
	var lines []string
	for i, e := range m.eventLog {
		if i >= 10 {
			break
		}
		lines = append(lines, fmt.Sprintf("%s | %-10s | %3.0f%% | %s",
			e.At.Local().Format("15:04:05"), e.Phase, e.Progress, e.Message))
	}
	if len(lines) == 0 {
		return m.theme.Dim.Render("  No events yet...")
	}
	return strings.Join(lines, "\n")
}

// TaskCount reports how many distinct tasks have been seen.
func (m Monitor) TaskCount() int { return len(m.tasks) }
