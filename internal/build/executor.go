package build

import (
	"bufio"
	"cmp"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"slices"
	"strings"

	"github.com/google/go-containerregistry/pkg/name"
	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"

	"git.home.luguber.info/inful/mlt/internal/config"
	ferrors "git.home.luguber.info/inful/mlt/internal/foundation/errors"
	"git.home.luguber.info/inful/mlt/internal/logfields"
	"git.home.luguber.info/inful/mlt/internal/metrics"
	"git.home.luguber.info/inful/mlt/internal/process"
	"git.home.luguber.info/inful/mlt/internal/project"
	"git.home.luguber.info/inful/mlt/internal/state"
)

// Builder is the contract the watcher and the dispatcher depend on.
type Builder interface {
	Build(ctx context.Context) (state.BuildRecord, error)
}

// Executor runs the external image builder.
type Executor struct {
	project  project.Project
	cfg      config.BuildConfig
	env      map[string]string
	runner   process.Runner
	store    state.BuildRecords
	clock    clockwork.Clock
	recorder metrics.Recorder
	logger   *slog.Logger
	newID    func() string
	stdout   io.Writer
	stderr   io.Writer
}

// NewExecutor creates an Executor from the project's build configuration.
// Variables loaded from .env are passed to the builder.
func NewExecutor(p project.Project, cfg config.Config, runner process.Runner, store state.BuildRecords) *Executor {
	return &Executor{
		project:  p,
		cfg:      cfg.Build,
		env:      cfg.Env,
		runner:   runner,
		store:    store,
		clock:    clockwork.NewRealClock(),
		recorder: metrics.NoopRecorder{},
		logger:   slog.Default(),
		newID:    shortID,
	}
}

// WithClock injects the clock used to measure build duration.
func (e *Executor) WithClock(c clockwork.Clock) *Executor {
	e.clock = c
	return e
}

// WithRecorder sets the metrics recorder.
func (e *Executor) WithRecorder(r metrics.Recorder) *Executor {
	e.recorder = r
	return e
}

// WithLogger sets the logger.
func (e *Executor) WithLogger(l *slog.Logger) *Executor {
	e.logger = l
	return e
}

// WithIDFunc overrides how candidate tag ids are generated (for testing).
func (e *Executor) WithIDFunc(fn func() string) *Executor {
	e.newID = fn
	return e
}

// WithOutput streams builder output to the given writers in addition to capturing it.
func (e *Executor) WithOutput(stdout, stderr io.Writer) *Executor {
	e.stdout = stdout
	e.stderr = stderr
	return e
}

// Build runs the builder once and persists the resulting BuildRecord.
func (e *Executor) Build(ctx context.Context) (state.BuildRecord, error) {
	candidate, err := e.candidateTag()
	if err != nil {
		return state.BuildRecord{}, err
	}

	vars := map[string]string{
		"IMAGE":       candidate,
		"NAME":        e.project.Name,
		"PROJECT_DIR": e.project.Dir,
	}
	cmd := process.Cmd{
		Args:   process.ExpandArgs(e.cfg.Command, vars),
		Dir:    e.project.Dir,
		Env:    e.childEnv(candidate),
		Stdout: e.stdout,
		Stderr: e.stderr,
	}

	logger := e.logger.With(logfields.Project(e.project.Name))
	logger.Info("Starting image build", logfields.Image(candidate), logfields.Command(cmd.Name()))

	start := e.clock.Now()
	h, err := e.runner.Start(ctx, cmd)
	if err != nil {
		e.recorder.IncBuildOutcome(metrics.OutcomeFailed)
		return state.BuildRecord{}, ferrors.ProcessError(cmd.Name()).WithCause(err).Build()
	}
	res, err := process.WaitContext(ctx, h, e.cfg.Timeout)
	elapsed := e.clock.Since(start)

	switch {
	case errors.Is(err, process.ErrTimedOut):
		e.recorder.IncBuildOutcome(metrics.OutcomeTimedOut)
		logger.Warn("Image build timed out", logfields.Image(candidate), slog.Duration("timeout", e.cfg.Timeout))
		return state.BuildRecord{}, ferrors.BuildFailed(res.ExitCode, res.Stderr).
			WithContext(logfields.KeyReason, fmt.Sprintf("timed out after %s", e.cfg.Timeout)).
			Build()
	case err != nil, ctx.Err() != nil:
		e.recorder.IncBuildOutcome(metrics.OutcomeCanceled)
		return state.BuildRecord{}, fmt.Errorf("build canceled: %w", cmp.Or(err, ctx.Err()))
	case !res.Success():
		e.recorder.IncBuildOutcome(metrics.OutcomeFailed)
		logger.Warn("Image build failed", logfields.Image(candidate), logfields.ExitCode(res.ExitCode), logfields.Duration(elapsed))
		return state.BuildRecord{}, ferrors.BuildFailed(res.ExitCode, res.Stderr).Build()
	}

	started, finished := start.UTC(), e.clock.Now().UTC()
	rec := state.BuildRecord{
		LastContainer:     imageFromOutput(res.Stdout, candidate),
		LastBuildDuration: state.Seconds(elapsed),
		LastBuildTime:     &finished,
		BuildStartTime:    &started,
	}
	if err := e.store.SaveBuild(rec); err != nil {
		e.recorder.IncBuildOutcome(metrics.OutcomeFailed)
		return state.BuildRecord{}, err
	}

	e.recorder.IncBuildOutcome(metrics.OutcomeSuccess)
	e.recorder.ObserveBuildDuration(elapsed)
	logger.Info("Image build completed",
		logfields.Image(rec.LastContainer),
		logfields.Duration(elapsed))
	return rec, nil
}

// candidateTag returns <name>:<id> after checking it is a valid reference.
func (e *Executor) candidateTag() (string, error) {
	tag := strings.ToLower(e.project.Name) + ":" + e.newID()
	if _, err := name.NewTag(tag); err != nil {
		return "", ferrors.ValidationError(fmt.Sprintf("project name %q cannot be used as an image name", e.project.Name)).
			WithCause(err).
			Build()
	}
	return tag, nil
}

func (e *Executor) childEnv(image string) []string {
	env := make([]string, 0, len(e.env)+2)
	for k, v := range e.env {
		env = append(env, k+"="+v)
	}
	slices.Sort(env)
	return append(env, "CONTAINER_NAME="+image, "MLT_IMAGE="+image)
}

// imageFromOutput returns the last stdout line that is an image reference
// with an explicit tag or digest, falling back to the candidate tag.
// Docker's classic "Successfully tagged <ref>" line is recognized too.
func imageFromOutput(stdout, candidate string) string {
	var found string
	sc := bufio.NewScanner(strings.NewReader(stdout))
	sc.Buffer(make([]byte, 64*1024), 1024*1024)
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		line = strings.TrimPrefix(line, "Successfully tagged ")
		if line == "" || strings.ContainsAny(line, " \t") {
			continue
		}
		if explicitReference(line) {
			found = line
		}
	}
	if found == "" {
		return candidate
	}
	return found
}

func explicitReference(line string) bool {
	if _, err := name.ParseReference(line); err != nil {
		return false
	}
	tail := line[strings.LastIndex(line, "/")+1:]
	return strings.ContainsAny(tail, ":@")
}

func shortID() string {
	return strings.ReplaceAll(uuid.NewString(), "-", "")[:12]
}

var _ Builder = (*Executor)(nil)

