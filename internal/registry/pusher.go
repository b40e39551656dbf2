// Package registry tags locally built images for the project's registry and
// pushes them with the configured container tool.
package registry

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"slices"
	"strings"

	"github.com/google/go-containerregistry/pkg/name"
	"github.com/jonboulle/clockwork"

	"git.home.luguber.info/inful/mlt/internal/config"
	ferrors "git.home.luguber.info/inful/mlt/internal/foundation/errors"
	"git.home.luguber.info/inful/mlt/internal/logfields"
	"git.home.luguber.info/inful/mlt/internal/metrics"
	"git.home.luguber.info/inful/mlt/internal/process"
	"git.home.luguber.info/inful/mlt/internal/project"
	"git.home.luguber.info/inful/mlt/internal/state"
)

// Pusher publishes built images and records the outcome in .push.json.
type Pusher struct {
	project  project.Project
	cfg      config.PushConfig
	env      map[string]string
	runner   process.Runner
	store    state.DeployRecords
	clock    clockwork.Clock
	recorder metrics.Recorder
	logger   *slog.Logger
	stdout   io.Writer
	stderr   io.Writer
}

// NewPusher creates a Pusher for p.
func NewPusher(p project.Project, cfg config.Config, runner process.Runner, store state.DeployRecords) *Pusher {
	return &Pusher{
		project:  p,
		cfg:      cfg.Push,
		env:      cfg.Env,
		runner:   runner,
		store:    store,
		clock:    clockwork.NewRealClock(),
		recorder: metrics.NoopRecorder{},
		logger:   slog.Default(),
	}
}

// WithClock injects the clock used to measure push duration.
func (p *Pusher) WithClock(c clockwork.Clock) *Pusher {
	p.clock = c
	return p
}

// WithRecorder sets the metrics recorder.
func (p *Pusher) WithRecorder(r metrics.Recorder) *Pusher {
	p.recorder = r
	return p
}

// WithLogger sets the logger.
func (p *Pusher) WithLogger(l *slog.Logger) *Pusher {
	p.logger = l
	return p
}

// WithOutput streams tool output to the given writers.
func (p *Pusher) WithOutput(stdout, stderr io.Writer) *Pusher {
	p.stdout = stdout
	p.stderr = stderr
	return p
}

// Push tags image with its remote name, pushes it and saves the DeployRecord.
// The record is only written when both steps succeed.
func (p *Pusher) Push(ctx context.Context, image string) (state.DeployRecord, error) {
	remote, err := RemoteName(p.project.RegistryTarget(), image)
	if err != nil {
		return state.DeployRecord{}, err
	}

	vars := map[string]string{
		"IMAGE":        image,
		"REMOTE_IMAGE": remote,
		"NAME":         p.project.Name,
		"PROJECT_DIR":  p.project.Dir,
	}
	logger := p.logger.With(logfields.Image(image), logfields.RemoteImage(remote))
	logger.Info("Pushing image")

	pushCtx, cancel := context.WithTimeout(ctx, p.cfg.Timeout)
	defer cancel()

	start := p.clock.Now()
	policy := p.cfg.RetryPolicy()
	for attempt := 1; ; attempt++ {
		err = p.pushOnce(pushCtx, ctx, vars, remote)
		if err == nil {
			break
		}
		if attempt > policy.MaxRetries || !retryable(err) || pushCtx.Err() != nil {
			p.recorder.IncPushOutcome(outcomeOf(err))
			logger.Warn("Image push failed", logfields.Error(err))
			return state.DeployRecord{}, err
		}
		delay := policy.Delay(attempt)
		logger.Warn("Image push failed, retrying",
			slog.Int("attempt", attempt),
			slog.Duration("delay", delay),
			logfields.Error(err))
		select {
		case <-pushCtx.Done():
			if ctx.Err() != nil {
				return state.DeployRecord{}, fmt.Errorf("push canceled: %w", ctx.Err())
			}
			p.recorder.IncPushOutcome(metrics.OutcomeFailed)
			return state.DeployRecord{}, err
		case <-p.clock.After(delay):
		}
	}
	elapsed := p.clock.Since(start)

	rec := state.DeployRecord{
		LastPushDuration:    state.Seconds(elapsed),
		LastRemoteContainer: remote,
	}
	if err := p.store.SaveDeploy(rec); err != nil {
		p.recorder.IncPushOutcome(metrics.OutcomeFailed)
		return state.DeployRecord{}, err
	}

	p.recorder.IncPushOutcome(metrics.OutcomeSuccess)
	p.recorder.ObservePushDuration(elapsed)
	logger.Info("Image pushed", logfields.Duration(elapsed))
	return rec, nil
}

// pushOnce tags and pushes; the push is skipped when tagging fails.
func (p *Pusher) pushOnce(ctx, parent context.Context, vars map[string]string, remote string) error {
	for _, argv := range [][]string{p.cfg.TagCommand, p.cfg.PushCommand} {
		if err := p.run(ctx, parent, argv, vars, remote); err != nil {
			return err
		}
	}
	return nil
}

func (p *Pusher) run(ctx, parent context.Context, argv []string, vars map[string]string, remote string) error {
	cmd := process.Cmd{
		Args:   process.ExpandArgs(argv, vars),
		Dir:    p.project.Dir,
		Env:    p.childEnv(),
		Stdout: p.stdout,
		Stderr: p.stderr,
	}
	res, err := p.runner.Run(ctx, cmd)
	switch {
	case parent.Err() != nil:
		return fmt.Errorf("push canceled: %w", parent.Err())
	case err == nil && res.Success():
		return nil
	case err == nil:
		return ferrors.PushFailed(remote, res.ExitCode, res.Stderr).
			WithContext(ferrors.KeyCommand, cmd.Name()).
			Build()
	case errors.Is(err, context.DeadlineExceeded):
		return ferrors.PushFailed(remote, res.ExitCode, res.Stderr).
			WithContext(logfields.KeyReason, fmt.Sprintf("timed out after %s", p.cfg.Timeout)).
			Build()
	default:
		return ferrors.ProcessError(cmd.Name()).WithCause(err).Build()
	}
}

func (p *Pusher) childEnv() []string {
	env := make([]string, 0, len(p.env))
	for k, v := range p.env {
		env = append(env, k+"="+v)
	}
	slices.Sort(env)
	return env
}

func retryable(err error) bool {
	ce, ok := ferrors.AsClassified(err)
	return ok && ce.IsCategory(ferrors.CategoryPushFailed) && ce.CanRetry()
}

func outcomeOf(err error) metrics.Outcome {
	if ce, ok := ferrors.AsClassified(err); ok {
		if _, timedOut := ce.Context().GetString(logfields.KeyReason); timedOut {
			return metrics.OutcomeTimedOut
		}
		return metrics.OutcomeFailed
	}
	return metrics.OutcomeCanceled
}

// RemoteName returns the name image is published under in registry. A
// registry host already present in image is replaced, and digest references
// are turned into a tag derived from the digest so they can be re-tagged.
func RemoteName(registry, image string) (string, error) {
	if registry == "" {
		return "", ferrors.ConfigError("no registry configured; set registry or gceProject in mlt.json, or deploy with --no-push").Build()
	}

	local := image
	if repo, digest, ok := strings.Cut(local, "@"); ok {
		_, hex, _ := strings.Cut(digest, ":")
		if len(hex) > 12 {
			hex = hex[:12]
		}
		local = repo + ":" + hex
	}
	if first, rest, ok := strings.Cut(local, "/"); ok && isRegistryHost(first) {
		local = rest
	}

	remote := registry + "/" + local
	if _, err := name.ParseReference(remote); err != nil {
		return "", ferrors.ValidationError(fmt.Sprintf("cannot derive a remote image name for %q", image)).
			WithCause(err).
			WithContext(ferrors.KeyImage, image).
			Build()
	}
	return remote, nil
}

// isRegistryHost mirrors the docker rule: the first path component names a
// registry when it contains a dot or port, or is localhost.
func isRegistryHost(component string) bool {
	return strings.ContainsAny(component, ".:") || component == "localhost"
}
