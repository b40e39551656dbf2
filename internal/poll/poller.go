// Package poll waits for a submitted deployment to reach a terminal phase.
//
// The poller queries the latest pod at a fixed interval and enforces two
// budgets: the pending budget covers time spent before the pod is first seen
// Running (Pending or Unknown), the running budget starts when Running is
// first observed. Waits are capped at the remaining budget, so a timeout is
// reported at the budget boundary rather than up to one interval later.
package poll

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/jonboulle/clockwork"

	"git.home.luguber.info/inful/mlt/internal/cluster"
	"git.home.luguber.info/inful/mlt/internal/config"
	ferrors "git.home.luguber.info/inful/mlt/internal/foundation/errors"
	"git.home.luguber.info/inful/mlt/internal/logfields"
	"git.home.luguber.info/inful/mlt/internal/metrics"
)

// Querier reports the latest pod. Errors wrapping cluster.ErrQueryFailed are
// treated as PhaseUnknown; any other error ends the poll.
type Querier interface {
	LatestPod(ctx context.Context) (cluster.PodStatus, error)
}

// Options configures one poll.
type Options struct {
	Interval      time.Duration
	PendingBudget time.Duration
	RunningBudget time.Duration
	// Interactive deployments succeed as soon as the pod is Running.
	Interactive bool
	// SubmittedAt hides pods started before the submission; they belong to
	// an earlier deployment. Pod timestamps have second resolution, so the
	// comparison is made at that granularity.
	SubmittedAt time.Time
}

// OptionsFrom returns poll options from the deploy configuration.
func OptionsFrom(cfg config.DeployConfig, interactive bool) Options {
	return Options{
		Interval:      cfg.PollInterval,
		PendingBudget: cfg.PendingTimeout,
		RunningBudget: cfg.RunningTimeout,
		Interactive:   interactive,
	}
}

// Outcome is the final observation of a poll.
type Outcome struct {
	Pod     string
	Phase   cluster.Phase
	Elapsed time.Duration
	Queries int
}

// Poller polls a Querier until the deployment succeeds, fails or runs out of budget.
type Poller struct {
	querier  Querier
	opts     Options
	clock    clockwork.Clock
	logger   *slog.Logger
	recorder metrics.Recorder
}

// New creates a Poller.
func New(q Querier, opts Options) *Poller {
	return &Poller{
		querier:  q,
		opts:     opts,
		clock:    clockwork.NewRealClock(),
		logger:   slog.Default(),
		recorder: metrics.NoopRecorder{},
	}
}

// WithClock injects the clock driving intervals and budgets.
func (p *Poller) WithClock(c clockwork.Clock) *Poller {
	p.clock = c
	return p
}

// WithLogger sets the logger.
func (p *Poller) WithLogger(l *slog.Logger) *Poller {
	p.logger = l
	return p
}

// WithRecorder sets the metrics recorder.
func (p *Poller) WithRecorder(r metrics.Recorder) *Poller {
	p.recorder = r
	return p
}

// Poll blocks until a terminal outcome. A nil error means success; the
// returned Outcome is populated in every case.
func (p *Poller) Poll(ctx context.Context) (Outcome, error) {
	if p.opts.Interval <= 0 || p.opts.PendingBudget <= 0 || p.opts.RunningBudget <= 0 {
		return Outcome{}, ferrors.ValidationError("poll interval and budgets must be positive").Build()
	}

	start := p.clock.Now()
	deadline := start.Add(p.opts.PendingBudget)
	var runningSince time.Time
	var out Outcome
	lastLogged := cluster.Phase("")

	for {
		st, err := p.querier.LatestPod(ctx)
		out.Queries++
		switch {
		case err == nil:
			if p.earlier(st) {
				p.logger.Debug("Ignoring pod from an earlier deployment", logfields.Pod(st.Name))
				st = cluster.PodStatus{Phase: cluster.PhaseUnknown}
			}
		case errors.Is(err, cluster.ErrQueryFailed):
			p.logger.Warn("Pod query failed, treating phase as unknown", logfields.Error(err))
			st = cluster.PodStatus{Phase: cluster.PhaseUnknown, Name: out.Pod}
		case ctx.Err() != nil:
			out.Elapsed = p.clock.Since(start)
			return out, ctx.Err()
		default:
			out.Elapsed = p.clock.Since(start)
			return out, err
		}

		now := p.clock.Now()
		out.Pod, out.Phase, out.Elapsed = st.Name, st.Phase, now.Sub(start)
		if st.Phase != lastLogged {
			p.logger.Info("Deployment phase", logfields.Pod(st.Name), logfields.Phase(string(st.Phase)), logfields.Duration(out.Elapsed))
			lastLogged = st.Phase
		}

		switch st.Phase {
		case cluster.PhaseSucceeded:
			return p.finish(out, metrics.OutcomeSuccess, nil)
		case cluster.PhaseFailed:
			return p.finish(out, metrics.OutcomeFailed, ferrors.DeployFailed(st.Name).Build())
		case cluster.PhaseRunning:
			if p.opts.Interactive {
				return p.finish(out, metrics.OutcomeSuccess, nil)
			}
			if runningSince.IsZero() {
				runningSince = now
				deadline = now.Add(p.opts.RunningBudget)
			}
		}

		remaining := deadline.Sub(now)
		if remaining <= 0 {
			p.logger.Warn("Deployment did not finish in time", logfields.Phase(string(st.Phase)), logfields.Duration(out.Elapsed))
			return p.finish(out, metrics.OutcomeTimedOut, ferrors.DeployTimedOut(string(st.Phase)).
				WithContext(ferrors.KeyPod, st.Name).
				Build())
		}

		select {
		case <-ctx.Done():
			out.Elapsed = p.clock.Since(start)
			p.recorder.IncDeployOutcome(metrics.OutcomeCanceled)
			return out, ctx.Err()
		case <-p.clock.After(min(p.opts.Interval, remaining)):
		}
	}
}

func (p *Poller) earlier(st cluster.PodStatus) bool {
	if p.opts.SubmittedAt.IsZero() || st.Name == "" {
		return false
	}
	return st.StartedAt.Before(p.opts.SubmittedAt.Truncate(time.Second))
}

func (p *Poller) finish(out Outcome, outcome metrics.Outcome, err error) (Outcome, error) {
	p.recorder.ObservePollDuration(out.Elapsed)
	p.recorder.IncDeployOutcome(outcome)
	return out, err
}
