// Package tui renders task progress in the terminal.
package tui

import (
	"github.com/charmbracelet/lipgloss"

	"github.com/mattjoyce/convert/internal/events"
)

// Theme centralizes styling so the models carry no colour literals.
type Theme struct {
	PhaseActive lipgloss.Style
	PhaseDone   lipgloss.Style
	PhaseFailed lipgloss.Style
	PhaseQueued lipgloss.Style

	Border lipgloss.Style
	Title  lipgloss.Style
	Dim    lipgloss.Style
	Help   lipgloss.Style
}

func NewDefaultTheme() Theme {
	purple := lipgloss.Color("#874BFD")

	return Theme{
		PhaseActive: lipgloss.NewStyle().Foreground(lipgloss.Color("#FFFF00")),
		PhaseDone:   lipgloss.NewStyle().Foreground(lipgloss.Color("#00FF00")),
		PhaseFailed: lipgloss.NewStyle().Foreground(lipgloss.Color("#FF0000")),
		PhaseQueued: lipgloss.NewStyle().Foreground(lipgloss.Color("#888888")),

		Border: lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(purple).
			Padding(0, 1),
		Title: lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("#FAFAFA")),
		Dim:  lipgloss.NewStyle().Foreground(lipgloss.Color("#888888")),
		Help: lipgloss.NewStyle().Foreground(lipgloss.Color("241")),
	}
}

// PhaseStyle picks the style for a phase.
func (t Theme) PhaseStyle(p events.Phase) lipgloss.Style {
	switch p {
	case events.PhaseDone:
		return t.PhaseDone
	case events.PhaseFailed, events.PhaseCancelled:
		return t.PhaseFailed
	case "":
		return t.PhaseQueued
	default:
		return t.PhaseActive
	}
}

// Symbol is the one-glyph status marker used in tables.
func Symbol(p events.Phase) string {
	switch p {
	case events.PhaseDone:
		return "●"
	case events.PhaseFailed:
		return "∅"
	case events.PhaseCancelled:
		return "◔"
	case "":
		return "○"
	default:
		return "◉"
	}
}
