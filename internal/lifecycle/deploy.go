package lifecycle

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"git.home.luguber.info/inful/mlt/internal/cluster"
	ferrors "git.home.luguber.info/inful/mlt/internal/foundation/errors"
	"git.home.luguber.info/inful/mlt/internal/history"
	"git.home.luguber.info/inful/mlt/internal/logfields"
	"git.home.luguber.info/inful/mlt/internal/poll"
	"git.home.luguber.info/inful/mlt/internal/process"
	"git.home.luguber.info/inful/mlt/internal/state"
	"git.home.luguber.info/inful/mlt/internal/watch"
)

// DeployOptions mirror the deploy command flags.
type DeployOptions struct {
	// NoPush deploys the local image without pushing it.
	NoPush bool
	// Interactive treats Running as success.
	Interactive bool
	// Attach opens a shell in the running pod. Implies Interactive.
	Attach bool
	// Detach returns right after submission without polling.
	Detach bool
	// RequireFresh fails instead of warning when sources changed after the last build.
	RequireFresh bool
}

// DeployResult summarizes a deploy.
type DeployResult struct {
	Image       string
	RemoteImage string
	RunID       string
	Pushed      bool
	// Stale is set when sources changed after the deployed build.
	Stale bool
	// Poll is zero when the deploy was detached or ended before polling.
	Poll poll.Outcome
}

// Deploy pushes the last built image, submits it and waits for the outcome.
// Nothing is pushed or submitted when no build exists.
func (d *Dispatcher) Deploy(ctx context.Context, opts DeployOptions) (DeployResult, error) {
	started := d.clock.Now()
	res, err := d.deploy(ctx, opts)
	image := res.RemoteImage
	if image == "" {
		image = res.Image
	}
	d.journal(ctx, history.Entry{
		Command:   "deploy",
		Image:     image,
		RunID:     res.RunID,
		Duration:  d.clock.Since(started),
		StartedAt: started,
		Metadata:  deployMetadata(opts, res),
	}, err)
	return res, err
}

func (d *Dispatcher) deploy(ctx context.Context, opts DeployOptions) (DeployResult, error) {
	rec, err := d.deps.Records.LoadBuild()
	if errors.Is(err, state.ErrNotFound) {
		return DeployResult{}, ferrors.NoBuildFound().Build()
	}
	if err != nil {
		return DeployResult{}, err
	}

	res := DeployResult{Image: rec.LastContainer}
	logger := d.logger.With(logfields.Project(d.project.Name), logfields.Namespace(d.project.Namespace))

	stale, err := d.checkFreshness(logger, rec, opts.RequireFresh)
	res.Stale = stale
	if err != nil {
		return res, err
	}

	image := rec.LastContainer
	if !opts.NoPush {
		pushed, err := d.deps.Pusher.Push(ctx, image)
		if err != nil {
			return res, err
		}
		image = pushed.LastRemoteContainer
		res.RemoteImage = image
		res.Pushed = true
	}

	res.RunID = d.newRunID()
	submittedAt := d.clock.Now()
	if err := d.deps.Cluster.Submit(ctx, image, res.RunID); err != nil {
		return res, err
	}
	logger.Info("Deployment submitted", logfields.Image(image), logfields.RunID(res.RunID))
	if opts.Detach {
		return res, nil
	}

	interactive := opts.Interactive || opts.Attach
	pollOpts := poll.OptionsFrom(d.cfg.Deploy, interactive)
	pollOpts.SubmittedAt = submittedAt
	outcome, err := poll.New(d.deps.Cluster, pollOpts).
		WithClock(d.clock).
		WithLogger(logger).
		WithRecorder(d.recorder).
		Poll(ctx)
	res.Poll = outcome
	if err != nil {
		return res, err
	}
	logger.Info("Deployment finished",
		logfields.Pod(outcome.Pod),
		logfields.Phase(string(outcome.Phase)),
		logfields.Duration(outcome.Elapsed))

	if opts.Attach && outcome.Phase == cluster.PhaseRunning {
		return res, d.attach(ctx, outcome.Pod)
	}
	return res, nil
}

// checkFreshness compares the build time with the newest watched source.
func (d *Dispatcher) checkFreshness(logger *slog.Logger, rec state.BuildRecord, require bool) (bool, error) {
	if d.deps.Rules == nil {
		return false, nil
	}
	asOf := rec.SourcesAsOf()
	if asOf == nil {
		logger.Warn("Build time unknown, cannot tell whether the image is up to date", logfields.Image(rec.LastContainer))
		return false, nil
	}
	latest, path, err := watch.LatestChange(d.deps.Rules)
	if err != nil {
		logger.Warn("Could not check sources for changes", logfields.Error(err))
		return false, nil
	}
	if !latest.After(*asOf) {
		return false, nil
	}
	if require {
		return true, ferrors.StaleBuild(rec.LastContainer).
			WithContext(ferrors.KeyPath, path).
			Build()
	}
	logger.Warn("Sources changed since the last build; deploying the older image",
		logfields.Image(rec.LastContainer),
		logfields.Path(path),
		slog.Time("built_from", *asOf),
		slog.Time("modified_at", latest))
	return true, nil
}

func (d *Dispatcher) attach(ctx context.Context, pod string) error {
	h, err := d.deps.Cluster.Attach(ctx, pod, d.stdin, d.stdout, d.stderr)
	if err != nil {
		return err
	}
	res, err := process.WaitContext(ctx, h, 0)
	if err != nil {
		return err
	}
	d.logger.Info("Interactive session ended", logfields.Pod(pod), logfields.ExitCode(res.ExitCode))
	return nil
}

func deployMetadata(opts DeployOptions, res DeployResult) map[string]string {
	meta := map[string]string{}
	if opts.NoPush {
		meta["no_push"] = "true"
	}
	if opts.Detach {
		meta["detach"] = "true"
	}
	if opts.Interactive || opts.Attach {
		meta["interactive"] = "true"
	}
	if res.Stale {
		meta["stale"] = "true"
	}
	if res.Poll.Phase != "" {
		meta["phase"] = string(res.Poll.Phase)
		meta["pod"] = res.Poll.Pod
		meta["poll"] = res.Poll.Elapsed.Round(time.Millisecond).String()
	}
	return meta
}
