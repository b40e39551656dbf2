package commands

import (
	"github.com/charmbracelet/lipgloss"

	"git.home.luguber.info/inful/mlt/internal/cluster"
	"git.home.luguber.info/inful/mlt/internal/history"
)

var (
	headingStyle = lipgloss.NewStyle().Bold(true).Underline(true)
	labelStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("#A0AEC0")).Width(18)
	valueStyle   = lipgloss.NewStyle()
	mutedStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("#999999"))
	okStyle      = lipgloss.NewStyle().Foreground(lipgloss.Color("#4CAF50")).Bold(true)
	failStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("#FF6B6B")).Bold(true)
	activeStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("#5B8DEF")).Bold(true)
	waitStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("#F7B801")).Bold(true)
)

func phaseStyle(p cluster.Phase) lipgloss.Style {
	switch p {
	case cluster.PhaseSucceeded:
		return okStyle
	case cluster.PhaseFailed:
		return failStyle
	case cluster.PhaseRunning:
		return activeStyle
	case cluster.PhasePending:
		return waitStyle
	default:
		return mutedStyle
	}
}

func outcomeStyle(outcome string) lipgloss.Style {
	if outcome == history.OutcomeSuccess {
		return okStyle
	}
	return failStyle
}
