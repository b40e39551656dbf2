package commands

import "fmt"

// UndeployCmd implements the 'undeploy' command.
type UndeployCmd struct{}

func (u *UndeployCmd) Run(g *Global, root *CLI) error {
	s, err := openSession(g, root, nil)
	if err != nil {
		return err
	}
	defer s.Close()

	ctx, cancel := g.signalContext()
	defer cancel()

	if err := s.dispatcher.Undeploy(ctx); err != nil {
		return err
	}
	_, _ = fmt.Fprintf(g.stdout(), "Removed %s from namespace %s\n", s.project.Name, s.project.Namespace)
	return nil
}
