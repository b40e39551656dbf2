package commands

import (
	"fmt"

	"git.home.luguber.info/inful/mlt/internal/lifecycle"
)

// DeployCmd implements the 'deploy' command.
type DeployCmd struct {
	NoPush       bool `name:"no-push" help:"Deploy the local image without pushing it to the registry"`
	Interactive  bool `short:"i" help:"Treat a running pod as success"`
	Attach       bool `short:"a" help:"Open a shell in the running pod (implies --interactive)"`
	Detach       bool `short:"d" help:"Return after submission without waiting for the pod"`
	RequireFresh bool `name:"require-fresh" help:"Fail if sources changed after the last build"`
}

func (d *DeployCmd) Run(g *Global, root *CLI) error {
	s, err := openSession(g, root, nil)
	if err != nil {
		return err
	}
	defer s.Close()

	ctx, cancel := g.signalContext()
	defer cancel()
	out := g.stdout()

	res, err := s.dispatcher.Deploy(ctx, lifecycle.DeployOptions{
		NoPush:       d.NoPush,
		Interactive:  d.Interactive,
		Attach:       d.Attach,
		Detach:       d.Detach,
		RequireFresh: d.RequireFresh,
	})
	if res.Pushed {
		_, _ = fmt.Fprintf(out, "Pushed %s\n", res.RemoteImage)
	}
	if err != nil {
		return err
	}

	_, _ = fmt.Fprintf(out, "Submitted run %s to namespace %s\n", res.RunID, s.project.Namespace)
	if d.Detach {
		return nil
	}
	_, _ = fmt.Fprintf(out, "Pod %s reached %s after %s\n", res.Poll.Pod, res.Poll.Phase, res.Poll.Elapsed)
	return nil
}
