package commands

import (
	"fmt"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"

	"git.home.luguber.info/inful/mlt/internal/history"
)

// HistoryCmd implements the 'history' command.
type HistoryCmd struct {
	Limit int `short:"n" help:"Number of entries to show (0 for all)" default:"20"`
}

func (h *HistoryCmd) Run(g *Global, root *CLI) error {
	s, err := openSession(g, root, nil)
	if err != nil {
		return err
	}
	defer s.Close()

	ctx, cancel := g.signalContext()
	defer cancel()

	entries, err := s.dispatcher.History(ctx, h.Limit)
	if err != nil {
		return fmt.Errorf("read history: %w", err)
	}
	if len(entries) == 0 {
		_, err = fmt.Fprintln(g.stdout(), "No operations recorded yet")
		return err
	}
	_, err = fmt.Fprintln(g.stdout(), renderHistory(entries))
	return err
}

func renderHistory(entries []history.Entry) string {
	t := table.New().
		Headers("TIME", "COMMAND", "OUTCOME", "IMAGE", "DURATION", "RUN").
		StyleFunc(func(row, col int) lipgloss.Style {
			if row == table.HeaderRow {
				return headingStyle
			}
			if col == 2 && row >= 0 && row < len(entries) {
				return outcomeStyle(entries[row].Outcome)
			}
			return valueStyle
		})
	for _, e := range entries {
		t.Row(
			e.StartedAt.Local().Format(time.DateTime),
			e.Command,
			e.Outcome,
			e.Image,
			e.Duration.Round(time.Millisecond).String(),
			e.RunID,
		)
	}
	return t.Render()
}
