package commands

import (
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"

	"git.home.luguber.info/inful/mlt/internal/lifecycle"
)

// StatusCmd implements the 'status' command.
type StatusCmd struct{}

func (c *StatusCmd) Run(g *Global, root *CLI) error {
	s, err := openSession(g, root, nil)
	if err != nil {
		return err
	}
	defer s.Close()

	ctx, cancel := g.signalContext()
	defer cancel()

	st, err := s.dispatcher.Status(ctx)
	if err != nil {
		return err
	}
	_, err = fmt.Fprintln(g.stdout(), renderStatus(st))
	return err
}

func renderStatus(st lifecycle.Status) string {
	row := func(label, value string) string {
		return lipgloss.JoinHorizontal(lipgloss.Top, labelStyle.Render(label), valueStyle.Render(value))
	}
	none := mutedStyle.Render("none")

	lines := []string{
		headingStyle.Render("Project"),
		row("Name", st.Project.Name),
		row("Namespace", st.Project.Namespace),
		row("Registry", orNone(st.Project.RegistryTarget(), none)),
		"",
		headingStyle.Render("Build"),
	}
	if st.Build == nil {
		lines = append(lines, row("Image", none))
	} else {
		lines = append(lines,
			row("Image", st.Build.LastContainer),
			row("Duration", st.Build.LastBuildDuration.Duration().Round(time.Millisecond).String()))
		if st.Build.LastBuildTime != nil {
			lines = append(lines, row("Built at", st.Build.LastBuildTime.Local().Format(time.RFC3339)))
		}
	}

	lines = append(lines, "", headingStyle.Render("Push"))
	if st.Deploy == nil {
		lines = append(lines, row("Remote image", none))
	} else {
		lines = append(lines,
			row("Remote image", st.Deploy.LastRemoteContainer),
			row("Duration", st.Deploy.LastPushDuration.Duration().Round(time.Millisecond).String()))
	}

	lines = append(lines, "", headingStyle.Render("Deployment"))
	switch {
	case st.PodErr != nil:
		lines = append(lines, row("Pod", failStyle.Render("query failed: "+st.PodErr.Error())))
	case st.Pod.Name == "":
		lines = append(lines, row("Pod", none))
	default:
		lines = append(lines,
			row("Pod", st.Pod.Name),
			row("Phase", phaseStyle(st.Pod.Phase).Render(string(st.Pod.Phase))))
		if !st.Pod.StartedAt.IsZero() {
			lines = append(lines, row("Started", st.Pod.StartedAt.Local().Format(time.RFC3339)))
		}
	}
	return strings.Join(lines, "\n")
}

func orNone(v, none string) string {
	if v == "" {
		return none
	}
	return v
}
