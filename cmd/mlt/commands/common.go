package commands

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/alecthomas/kong"
	"github.com/prometheus/client_golang/prometheus"

	"git.home.luguber.info/inful/mlt/internal/build"
	"git.home.luguber.info/inful/mlt/internal/cluster"
	"git.home.luguber.info/inful/mlt/internal/config"
	ferrors "git.home.luguber.info/inful/mlt/internal/foundation/errors"
	"git.home.luguber.info/inful/mlt/internal/history"
	"git.home.luguber.info/inful/mlt/internal/lifecycle"
	"git.home.luguber.info/inful/mlt/internal/logfields"
	"git.home.luguber.info/inful/mlt/internal/metrics"
	"git.home.luguber.info/inful/mlt/internal/process"
	"git.home.luguber.info/inful/mlt/internal/project"
	"git.home.luguber.info/inful/mlt/internal/registry"
	"git.home.luguber.info/inful/mlt/internal/state"
	"git.home.luguber.info/inful/mlt/internal/watch"
)

// Global carries process-wide dependencies into subcommands. Zero fields
// fall back to the real terminal and os/exec.
type Global struct {
	Logger *slog.Logger
	Runner process.Runner
	Stdin  io.Reader
	Stdout io.Writer
	Stderr io.Writer
	// Context is the parent of every command context. SIGINT and SIGTERM
	// cancel the derived context as well.
	Context context.Context
}

// CLI definition & global flags.
type CLI struct {
	ProjectDir  string           `short:"C" name:"project-dir" help:"Project directory" default:"." type:"path"`
	Config      string           `help:"Configuration file (default <project-dir>/mlt.yaml)" type:"path"`
	Verbose     bool             `short:"v" help:"Enable verbose logging"`
	LogFormat   string           `name:"log-format" help:"Log format (text|json)" enum:"text,json" default:"text"`
	MetricsFile string           `name:"metrics-file" help:"Write Prometheus metrics to this file when the command ends" type:"path"`
	Version     kong.VersionFlag `name:"version" help:"Show version and exit"`

	Build       BuildCmd    `cmd:"" help:"Build the project image, optionally rebuilding on changes"`
	Deploy      DeployCmd   `cmd:"" help:"Push the last build and deploy it to the cluster"`
	Undeploy    UndeployCmd `cmd:"" help:"Remove the project's resources from the cluster"`
	Status      StatusCmd   `cmd:"" help:"Show build, push and deployment status"`
	History     HistoryCmd  `cmd:"" help:"List recent lifecycle operations"`
	VersionInfo VersionCmd  `cmd:"" name:"version" help:"Print version information"`
}

// AfterApply runs after flag parsing; setup logging once.
// nolint:unparam // AfterApply currently never returns an error.
func (c *CLI) AfterApply() error {
	slog.SetDefault(NewLogger(os.Stderr, c.Verbose, c.LogFormat))
	return nil
}

// NewLogger builds the CLI logger.
func NewLogger(w io.Writer, verbose bool, format string) *slog.Logger {
	level := slog.LevelInfo
	if verbose {
		level = slog.LevelDebug
	}
	opts := &slog.HandlerOptions{Level: level}
	if strings.EqualFold(format, "json") {
		return slog.New(slog.NewJSONHandler(w, opts))
	}
	return slog.New(slog.NewTextHandler(w, opts))
}

func (g *Global) logger() *slog.Logger {
	if g.Logger != nil {
		return g.Logger
	}
	return slog.Default()
}

func (g *Global) stdout() io.Writer {
	if g.Stdout != nil {
		return g.Stdout
	}
	return os.Stdout
}

func (g *Global) stderr() io.Writer {
	if g.Stderr != nil {
		return g.Stderr
	}
	return os.Stderr
}

func (g *Global) stdin() io.Reader {
	if g.Stdin != nil {
		return g.Stdin
	}
	return os.Stdin
}

func (g *Global) runner() process.Runner {
	if g.Runner != nil {
		return g.Runner
	}
	return process.NewExecRunner(g.logger())
}

// session is everything one command invocation needs.
type session struct {
	project     project.Project
	cfg         config.Config
	store       *state.Store
	journal     history.Journal
	gatherer    prometheus.Gatherer
	metricsFile string
	logger      *slog.Logger
	dispatcher  *lifecycle.Dispatcher
}

// openSession loads the project and configuration, applies override to a
// private copy of the configuration and wires the dispatcher.
func openSession(g *Global, root *CLI, override func(*config.Config)) (*session, error) {
	logger := g.logger()
	p, err := project.Load(root.ProjectDir)
	if err != nil {
		return nil, err
	}
	loaded, err := config.Load(p.Dir, root.Config)
	if err != nil {
		return nil, err
	}
	cfg := loaded.Clone()
	if override != nil {
		override(&cfg)
		if err := config.Validate(cfg); err != nil {
			return nil, err
		}
	}
	logger = logger.With(logfields.Project(p.Name))

	reg := prometheus.NewRegistry()
	recorder := metrics.NewPrometheusRecorder(reg)
	runner := g.runner()
	store := state.NewStore(p.Dir)

	s := &session{
		project:     p,
		cfg:         cfg,
		store:       store,
		journal:     openJournal(cfg.History, logger),
		gatherer:    reg,
		metricsFile: root.MetricsFile,
		logger:      logger,
	}

	rules, err := watch.LoadRules(p.Dir, cfg.Watch.Ignore)
	if err != nil {
		logger.Warn("Could not load ignore rules; watch and freshness checks disabled", logfields.Error(err))
		rules = nil
	}

	out, errOut := g.stdout(), g.stderr()
	builder := build.NewExecutor(p, cfg, runner, store).
		WithLogger(logger).
		WithRecorder(recorder).
		WithOutput(out, errOut)
	pusher := registry.NewPusher(p, cfg, runner, store).
		WithLogger(logger).
		WithRecorder(recorder).
		WithOutput(out, errOut)
	client := cluster.NewClient(p, cfg, runner).
		WithLogger(logger).
		WithOutput(out, errOut)

	s.dispatcher = lifecycle.NewDispatcher(p, cfg, lifecycle.Dependencies{
		Builder: builder,
		Records: store,
		Pusher:  pusher,
		Cluster: client,
		Rules:   rules,
		Journal: s.journal,
	}).
		WithLogger(logger).
		WithRecorder(recorder).
		WithIO(g.stdin(), out, errOut)
	return s, nil
}

func openJournal(cfg config.HistoryConfig, logger *slog.Logger) history.Journal {
	if !cfg.IsEnabled() {
		return history.Nop{}
	}
	j, err := history.OpenSQLite(cfg.Path, cfg.Keep)
	if err != nil {
		logger.Warn("Operation history unavailable", logfields.Path(cfg.Path), logfields.Error(err))
		return history.Nop{}
	}
	return j
}

// Close flushes metrics and closes the journal. Failures are logged only.
func (s *session) Close() {
	if s.metricsFile != "" {
		if err := metrics.WriteTextfile(s.gatherer, s.metricsFile); err != nil {
			s.logger.Warn("Failed to write metrics file", logfields.Path(s.metricsFile), logfields.Error(err))
		}
	}
	if err := s.journal.Close(); err != nil {
		s.logger.Warn("Failed to close operation history", logfields.Error(err))
	}
}

// signalContext is cancelled on SIGINT or SIGTERM.
func (g *Global) signalContext() (context.Context, context.CancelFunc) {
	parent := g.Context
	if parent == nil {
		parent = context.Background()
	}
	return signal.NotifyContext(parent, syscall.SIGINT, syscall.SIGTERM)
}

// interrupted reports whether err only says the user stopped the command.
func interrupted(err error) bool {
	return errors.Is(err, context.Canceled) && !ferrors.IsClassified(err)
}
