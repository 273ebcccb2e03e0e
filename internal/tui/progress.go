package tui

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/bubbles/progress"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/mattjoyce/convert/internal/events"
)

const logLines = 5

type progressMsg events.ProgressEvent

type streamClosedMsg struct{}

// ProgressModel follows one task's progress events until a terminal phase.
type ProgressModel struct {
	taskID string
	title  string
	source <-chan events.ProgressEvent

	bar   progress.Model
	theme Theme
	width int

	last      events.ProgressEvent
	log       []string
	seen      bool
	aborted   bool
	streamEnd bool
}

// NewProgress builds a model reading from source, which should already be
// filtered to taskID.
func NewProgress(taskID, title string, source <-chan events.ProgressEvent) ProgressModel {
	return ProgressModel{
		taskID: taskID,
		title:  title,
		source: source,
		bar:    progress.New(progress.WithDefaultGradient(), progress.WithWidth(40)),
		theme:  NewDefaultTheme(),
	}
}

func (m ProgressModel) Init() tea.Cmd {
	return waitForEvent(m.source)
}

func waitForEvent(ch <-chan events.ProgressEvent) tea.Cmd {
	return func() tea.Msg {
		ev, ok := <-ch
		if !ok {
			return streamClosedMsg{}
		}
		return progressMsg(ev)
	}
}

func (m ProgressModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "q", "ctrl+c", "esc":
			m.aborted = true
			return m, tea.Quit
		}

	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.bar.Width = min(max(msg.Width-8, 10), 80)

	case progressMsg:
		ev := events.ProgressEvent(msg)
		if ev.TaskID != m.taskID {
			return m, waitForEvent(m.source)
		}
		m.last = ev
		m.seen = true
		if ev.Message != "" {
			m.log = append(m.log, ev.Message)
			if len(m.log) > logLines {
				m.log = m.log[len(m.log)-logLines:]
			}
		}
		if ev.Phase.Terminal() {
			return m, tea.Quit
		}
		return m, waitForEvent(m.source)

	case streamClosedMsg:
		m.streamEnd = true
		return m, tea.Quit
	}
	return m, nil
}

func (m ProgressModel) View() string {
	t := m.theme
	if !m.seen {
		return t.Dim.Render(fmt.Sprintf("Waiting for %s...", m.taskID)) + "\n"
	}

	phase := t.PhaseStyle(m.last.Phase).Render(strings.ToUpper(string(m.last.Phase)))
	head := lipgloss.JoinHorizontal(lipgloss.Top,
		t.Title.Render(m.title), "  ", t.Dim.Render(m.taskID), "  ", phase)

	stats := t.Dim.Render(fmt.Sprintf("%3.0f%%  %s  eta %s", m.last.Progress, orDash(m.last.Speed), orDash(m.last.ETA)))

	lines := make([]string, len(m.log))
	for i, l := range m.log {
		lines[i] = t.Dim.Render("› ") + l
	}

	body := lipgloss.JoinVertical(lipgloss.Left,
		head,
		"",
		m.bar.ViewAs(m.last.Progress/100),
		stats,
		"",
		strings.Join(lines, "\n"),
	)

	out := t.Border.Render(body) + "\n"
	if !m.Finished() {
		out += t.Help.Render(" [q] cancel") + "\n"
	}
	return out
}

// Last returns the most recent event for the task.
func (m ProgressModel) Last() events.ProgressEvent { return m.last }

// Finished reports whether a terminal event arrived.
func (m ProgressModel) Finished() bool { return m.seen && m.last.Phase.Terminal() }

// Aborted reports whether the user quit before the task finished.
func (m ProgressModel) Aborted() bool { return m.aborted }

func orDash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}
