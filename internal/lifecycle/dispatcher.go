package lifecycle

import (
	"context"
	"io"
	"log/slog"
	"os"
	"strconv"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"

	"git.home.luguber.info/inful/mlt/internal/build"
	"git.home.luguber.info/inful/mlt/internal/config"
	ferrors "git.home.luguber.info/inful/mlt/internal/foundation/errors"
	"git.home.luguber.info/inful/mlt/internal/history"
	"git.home.luguber.info/inful/mlt/internal/logfields"
	"git.home.luguber.info/inful/mlt/internal/metrics"
	"git.home.luguber.info/inful/mlt/internal/poll"
	"git.home.luguber.info/inful/mlt/internal/process"
	"git.home.luguber.info/inful/mlt/internal/project"
	"git.home.luguber.info/inful/mlt/internal/state"
	"git.home.luguber.info/inful/mlt/internal/watch"
)

// Records is the persisted state the dispatcher reads.
type Records interface {
	state.BuildRecords
	state.DeployRecords
}

// Pusher publishes a built image.
type Pusher interface {
	Push(ctx context.Context, image string) (state.DeployRecord, error)
}

// Cluster is the orchestration surface used by deploy, undeploy and status.
type Cluster interface {
	poll.Querier
	Submit(ctx context.Context, image, runID string) error
	Undeploy(ctx context.Context) error
	Attach(ctx context.Context, pod string, stdin io.Reader, stdout, stderr io.Writer) (process.Handle, error)
}

// Dependencies are the collaborators a Dispatcher composes.
type Dependencies struct {
	Builder build.Builder
	Records Records
	Pusher  Pusher
	Cluster Cluster
	// Rules select the sources watched in watch mode and compared for
	// freshness on deploy. Nil disables both.
	Rules *watch.Rules
	// Journal defaults to history.Nop.
	Journal history.Journal
}

// Dispatcher runs lifecycle commands for one project.
type Dispatcher struct {
	project  project.Project
	cfg      config.Config
	deps     Dependencies
	clock    clockwork.Clock
	logger   *slog.Logger
	recorder metrics.Recorder
	newRunID func() string

	stdin  io.Reader
	stdout io.Writer
	stderr io.Writer
}

// NewDispatcher creates a Dispatcher.
func NewDispatcher(p project.Project, cfg config.Config, deps Dependencies) *Dispatcher {
	if deps.Journal == nil {
		deps.Journal = history.Nop{}
	}
	return &Dispatcher{
		project:  p,
		cfg:      cfg,
		deps:     deps,
		clock:    clockwork.NewRealClock(),
		logger:   slog.Default(),
		recorder: metrics.NoopRecorder{},
		newRunID: uuid.NewString,
		stdin:    os.Stdin,
		stdout:   os.Stdout,
		stderr:   os.Stderr,
	}
}

// WithClock injects the clock used for polling and journal timestamps.
func (d *Dispatcher) WithClock(c clockwork.Clock) *Dispatcher {
	d.clock = c
	return d
}

// WithLogger sets the logger.
func (d *Dispatcher) WithLogger(l *slog.Logger) *Dispatcher {
	d.logger = l
	return d
}

// WithRecorder sets the metrics recorder.
func (d *Dispatcher) WithRecorder(r metrics.Recorder) *Dispatcher {
	d.recorder = r
	return d
}

// WithRunIDFunc overrides how deployment run ids are generated (for testing).
func (d *Dispatcher) WithRunIDFunc(fn func() string) *Dispatcher {
	d.newRunID = fn
	return d
}

// WithIO sets the terminal used by interactive sessions.
func (d *Dispatcher) WithIO(stdin io.Reader, stdout, stderr io.Writer) *Dispatcher {
	d.stdin = stdin
	d.stdout = stdout
	d.stderr = stderr
	return d
}

// Build runs the builder once.
func (d *Dispatcher) Build(ctx context.Context) (state.BuildRecord, error) {
	started := d.clock.Now()
	rec, err := d.deps.Builder.Build(ctx)
	d.journal(ctx, history.Entry{
		Command:   "build",
		Image:     rec.LastContainer,
		Duration:  d.clock.Since(started),
		StartedAt: started,
	}, err)
	return rec, err
}

// Watch rebuilds on source changes until ctx is cancelled. onBuild, when
// set, is called after every build; failed builds never end the watch.
func (d *Dispatcher) Watch(ctx context.Context, onBuild func(watch.Result)) error {
	if d.deps.Rules == nil {
		return ferrors.InternalError("watch requires source rules").Build()
	}
	w := watch.New(d.deps.Builder, d.deps.Rules, d.cfg.Watch).
		WithLogger(d.logger).
		WithRecorder(d.recorder).
		OnBuild(func(res watch.Result) {
			dur := res.Record.LastBuildDuration.Duration()
			d.journal(ctx, history.Entry{
				Command:   "build",
				Image:     res.Record.LastContainer,
				Duration:  dur,
				StartedAt: d.clock.Now().Add(-dur),
				Metadata: map[string]string{
					"watch":   "true",
					"trigger": string(res.Trigger),
					"changes": strconv.Itoa(res.Changes),
				},
			}, res.Err)
			if onBuild != nil {
				onBuild(res)
			}
		})
	return w.Run(ctx)
}

// Undeploy removes the project's cluster resources. Removing nothing succeeds.
func (d *Dispatcher) Undeploy(ctx context.Context) error {
	started := d.clock.Now()
	err := d.deps.Cluster.Undeploy(ctx)
	d.journal(ctx, history.Entry{
		Command:   "undeploy",
		Duration:  d.clock.Since(started),
		StartedAt: started,
		Metadata:  map[string]string{"namespace": d.project.Namespace},
	}, err)
	return err
}

// History returns the most recent journal entries, newest first.
func (d *Dispatcher) History(ctx context.Context, limit int) ([]history.Entry, error) {
	return d.deps.Journal.Recent(ctx, limit)
}

// journal records e with the outcome derived from err. Failures only warn.
func (d *Dispatcher) journal(ctx context.Context, e history.Entry, err error) {
	e.Outcome = history.OutcomeSuccess
	if err != nil {
		e.Outcome = history.OutcomeFailed
		e.Error = err.Error()
	}
	e.StartedAt = e.StartedAt.UTC()
	if jerr := d.deps.Journal.Record(context.WithoutCancel(ctx), e); jerr != nil {
		d.logger.Warn("Failed to record operation history", logfields.Op(e.Command), logfields.Error(jerr))
	}
}
