package commands

import (
	"fmt"
	"io"
	"time"

	"git.home.luguber.info/inful/mlt/internal/config"
	ferrors "git.home.luguber.info/inful/mlt/internal/foundation/errors"
	"git.home.luguber.info/inful/mlt/internal/state"
	"git.home.luguber.info/inful/mlt/internal/watch"
)

// BuildCmd implements the 'build' command.
type BuildCmd struct {
	Watch    bool   `short:"w" help:"Keep running and rebuild when sources change"`
	StopMode string `name:"stop-mode" help:"What to do with an in-flight build when watching stops (wait|kill)"`
}

func (b *BuildCmd) Run(g *Global, root *CLI) error {
	s, err := openSession(g, root, func(cfg *config.Config) {
		if b.StopMode != "" {
			cfg.Watch.StopMode = config.StopMode(b.StopMode)
		}
	})
	if err != nil {
		return err
	}
	defer s.Close()

	ctx, cancel := g.signalContext()
	defer cancel()
	out := g.stdout()

	if !b.Watch {
		rec, err := s.dispatcher.Build(ctx)
		if err != nil {
			if interrupted(err) {
				return ferrors.Interrupted("build interrupted; no image was recorded").WithCause(err).Build()
			}
			return err
		}
		printBuilt(out, rec)
		return nil
	}

	_, _ = fmt.Fprintf(out, "Watching %s for changes (Ctrl+C to stop)\n", s.project.Dir)
	err = s.dispatcher.Watch(ctx, func(res watch.Result) {
		switch {
		case res.Err == nil:
			printBuilt(out, res.Record)
		case interrupted(res.Err):
			_, _ = fmt.Fprintln(out, "Build interrupted")
		default:
			_, _ = fmt.Fprintf(out, "Build failed: %v\n", res.Err)
		}
	})
	if err != nil {
		return err
	}
	_, _ = fmt.Fprintln(out, "Stopped watching")
	return nil
}

func printBuilt(out io.Writer, rec state.BuildRecord) {
	_, _ = fmt.Fprintf(out, "Built %s in %s\n", rec.LastContainer, rec.LastBuildDuration.Duration().Round(time.Millisecond))
}
