package poll

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"git.home.luguber.info/inful/mlt/internal/cluster"
	ferrors "git.home.luguber.info/inful/mlt/internal/foundation/errors"
	"git.home.luguber.info/inful/mlt/internal/metrics"
)

// step answers with status while the elapsed fake time is below until.
type step struct {
	until  time.Duration
	status cluster.PodStatus
	err    error
}

// scriptedQuerier plays a timeline against the fake clock.
type scriptedQuerier struct {
	clock *clockwork.FakeClock
	start time.Time
	steps []step

	mu      sync.Mutex
	queries []time.Duration
}

func newScripted(clock *clockwork.FakeClock, steps ...step) *scriptedQuerier {
	return &scriptedQuerier{clock: clock, start: clock.Now(), steps: steps}
}

func (q *scriptedQuerier) LatestPod(context.Context) (cluster.PodStatus, error) {
	elapsed := q.clock.Since(q.start)
	q.mu.Lock()
	q.queries = append(q.queries, elapsed)
	q.mu.Unlock()
	for _, s := range q.steps {
		if elapsed < s.until {
			return s.status, s.err
		}
	}
	last := q.steps[len(q.steps)-1]
	return last.status, last.err
}

func (q *scriptedQuerier) times() []time.Duration {
	q.mu.Lock()
	defer q.mu.Unlock()
	return append([]time.Duration(nil), q.queries...)
}

func phase(name string, p cluster.Phase) cluster.PodStatus {
	return cluster.PodStatus{Name: name, Phase: p}
}

var defaults = Options{Interval: time.Second, PendingBudget: 10 * time.Second, RunningBudget: 30 * time.Second}

type pollResult struct {
	out Outcome
	err error
}

// drive runs Poll on a goroutine and advances the fake clock whenever the
// poller is waiting, until Poll returns.
func drive(t *testing.T, p *Poller, clock *clockwork.FakeClock, step time.Duration) (Outcome, error) {
	t.Helper()
	done := make(chan pollResult, 1)
	go func() {
		out, err := p.Poll(t.Context())
		done <- pollResult{out, err}
	}()

	deadline := time.After(10 * time.Second)
	for {
		select {
		case r := <-done:
			return r.out, r.err
		case <-deadline:
			t.Fatal("poll did not finish")
		default:
		}
		wctx, cancel := context.WithTimeout(t.Context(), 20*time.Millisecond)
		if clock.BlockUntilContext(wctx, 1) == nil {
			clock.Advance(step)
		}
		cancel()
	}
}

func TestPendingRunningSucceeded(t *testing.T) {
	clock := clockwork.NewFakeClock()
	q := newScripted(clock,
		step{until: 2 * time.Second, status: phase("train", cluster.PhasePending)},
		step{until: 5 * time.Second, status: phase("train", cluster.PhaseRunning)},
		step{until: time.Hour, status: phase("train", cluster.PhaseSucceeded)},
	)
	reg := prometheus.NewRegistry()
	rec := metrics.NewPrometheusRecorder(reg)

	out, err := drive(t, New(q, defaults).WithClock(clock).WithRecorder(rec), clock, time.Second)
	require.NoError(t, err)
	assert.Equal(t, cluster.PhaseSucceeded, out.Phase)
	assert.Equal(t, "train", out.Pod)
	assert.Equal(t, 5*time.Second, out.Elapsed)
	assert.Equal(t, 6, out.Queries)
	require.NoError(t, testutil.GatherAndCompare(reg, strings.NewReader(`
# HELP mlt_deploy_outcomes_total Deployments by final outcome
# TYPE mlt_deploy_outcomes_total counter
mlt_deploy_outcomes_total{outcome="success"} 1
`), "mlt_deploy_outcomes_total"))
}

func TestPendingBudgetExhausted(t *testing.T) {
	clock := clockwork.NewFakeClock()
	q := newScripted(clock,
		step{until: 11 * time.Second, status: phase("train", cluster.PhasePending)},
		step{until: time.Hour, status: phase("train", cluster.PhaseRunning)},
	)

	out, err := drive(t, New(q, defaults).WithClock(clock), clock, time.Second)
	require.Error(t, err)
	assert.True(t, ferrors.HasCategory(err, ferrors.CategoryDeployTimedOut))
	assert.Equal(t, cluster.PhasePending, out.Phase)
	assert.Equal(t, 10*time.Second, out.Elapsed)

	ce, ok := ferrors.AsClassified(err)
	require.True(t, ok)
	last, _ := ce.Context().GetString(ferrors.KeyPhase)
	assert.Equal(t, "Pending", last)
}

func TestRunningBudgetExhausted(t *testing.T) {
	clock := clockwork.NewFakeClock()
	q := newScripted(clock,
		step{until: 3 * time.Second, status: phase("train", cluster.PhasePending)},
		step{until: time.Hour, status: phase("train", cluster.PhaseRunning)},
	)

	out, err := drive(t, New(q, defaults).WithClock(clock), clock, time.Second)
	require.Error(t, err)
	assert.True(t, ferrors.HasCategory(err, ferrors.CategoryDeployTimedOut))
	assert.Equal(t, cluster.PhaseRunning, out.Phase)
	// Running first seen at 3s, so the running budget ends at 33s.
	assert.Equal(t, 33*time.Second, out.Elapsed)
}

func TestWaitCappedAtRemainingBudget(t *testing.T) {
	clock := clockwork.NewFakeClock()
	q := newScripted(clock, step{until: time.Hour, status: phase("", cluster.PhaseUnknown)})
	opts := Options{Interval: 4 * time.Second, PendingBudget: 10 * time.Second, RunningBudget: time.Minute}

	out, err := drive(t, New(q, opts).WithClock(clock), clock, time.Second)
	require.Error(t, err)
	assert.True(t, ferrors.HasCategory(err, ferrors.CategoryDeployTimedOut))
	assert.Equal(t, 10*time.Second, out.Elapsed)
	assert.Equal(t, []time.Duration{0, 4 * time.Second, 8 * time.Second, 10 * time.Second}, q.times())
}

func TestInteractiveSucceedsWhenRunning(t *testing.T) {
	clock := clockwork.NewFakeClock()
	q := newScripted(clock,
		step{until: 2 * time.Second, status: phase("notebook", cluster.PhasePending)},
		step{until: time.Hour, status: phase("notebook", cluster.PhaseRunning)},
	)
	opts := defaults
	opts.Interactive = true

	out, err := drive(t, New(q, opts).WithClock(clock), clock, time.Second)
	require.NoError(t, err)
	assert.Equal(t, cluster.PhaseRunning, out.Phase)
	assert.Equal(t, "notebook", out.Pod)
	assert.Equal(t, 2*time.Second, out.Elapsed)
}

func TestFailedPod(t *testing.T) {
	clock := clockwork.NewFakeClock()
	q := newScripted(clock,
		step{until: time.Second, status: phase("train", cluster.PhaseRunning)},
		step{until: time.Hour, status: phase("train", cluster.PhaseFailed)},
	)

	_, err := drive(t, New(q, defaults).WithClock(clock), clock, time.Second)
	require.Error(t, err)
	assert.True(t, ferrors.HasCategory(err, ferrors.CategoryDeployFailed))

	ce, ok := ferrors.AsClassified(err)
	require.True(t, ok)
	pod, _ := ce.Context().GetString(ferrors.KeyPod)
	assert.Equal(t, "train", pod)
}

func TestQueryFailureCountsAsUnknown(t *testing.T) {
	clock := clockwork.NewFakeClock()
	q := newScripted(clock,
		step{until: 2 * time.Second, err: errors.Join(cluster.ErrQueryFailed, errors.New("connection refused"))},
		step{until: time.Hour, status: phase("train", cluster.PhaseSucceeded)},
	)

	out, err := drive(t, New(q, defaults).WithClock(clock), clock, time.Second)
	require.NoError(t, err)
	assert.Equal(t, cluster.PhaseSucceeded, out.Phase)
	assert.Equal(t, 3, out.Queries)
}

func TestQueryStartFailureIsFatal(t *testing.T) {
	clock := clockwork.NewFakeClock()
	boom := ferrors.ProcessError("kubectl").WithCause(errors.New("not found")).Build()
	q := newScripted(clock, step{until: time.Hour, err: boom})

	out, err := New(q, defaults).WithClock(clock).Poll(t.Context())
	require.ErrorIs(t, err, boom)
	assert.Equal(t, 1, out.Queries)
}

func TestPollCanceled(t *testing.T) {
	clock := clockwork.NewFakeClock()
	q := newScripted(clock, step{until: time.Hour, status: phase("train", cluster.PhasePending)})
	ctx, cancel := context.WithCancel(t.Context())

	done := make(chan error, 1)
	go func() {
		_, err := New(q, defaults).WithClock(clock).Poll(ctx)
		done <- err
	}()
	require.NoError(t, clock.BlockUntilContext(t.Context(), 1))
	cancel()

	select {
	case err := <-done:
		require.ErrorIs(t, err, context.Canceled)
	case <-time.After(5 * time.Second):
		t.Fatal("poll ignored cancellation")
	}
}

func TestInvalidOptions(t *testing.T) {
	_, err := New(newScripted(clockwork.NewFakeClock(), step{until: time.Hour}), Options{}).Poll(t.Context())
	assert.True(t, ferrors.HasCategory(err, ferrors.CategoryValidation))
}

func TestPodsFromEarlierDeploymentAreIgnored(t *testing.T) {
	submitted := time.Date(2026, 1, 2, 3, 4, 5, 600_000_000, time.UTC)
	clock := clockwork.NewFakeClockAt(submitted)
	old := cluster.PodStatus{Name: "train-old", Phase: cluster.PhaseSucceeded, StartedAt: submitted.Add(-time.Hour)}
	// Same second as the submission, earlier sub-second fraction lost in serialization.
	current := cluster.PodStatus{Name: "train-new", Phase: cluster.PhasePending, StartedAt: submitted.Truncate(time.Second)}
	q := newScripted(clock,
		step{until: 2 * time.Second, status: old},
		step{until: time.Hour, status: current},
	)
	opts := defaults
	opts.SubmittedAt = submitted

	out, err := drive(t, New(q, opts).WithClock(clock), clock, time.Second)
	require.Error(t, err)
	assert.True(t, ferrors.HasCategory(err, ferrors.CategoryDeployTimedOut))
	assert.Equal(t, "train-new", out.Pod)
	assert.Equal(t, cluster.PhasePending, out.Phase)
	assert.Equal(t, 10*time.Second, out.Elapsed)
}

func TestEarlierPodCountsWithoutSubmissionTime(t *testing.T) {
	clock := clockwork.NewFakeClock()
	q := newScripted(clock, step{until: time.Hour, status: cluster.PodStatus{
		Name: "train-old", Phase: cluster.PhaseSucceeded, StartedAt: clock.Now().Add(-time.Hour),
	}})

	out, err := drive(t, New(q, defaults).WithClock(clock), clock, time.Second)
	require.NoError(t, err)
	assert.Equal(t, "train-old", out.Pod)
}
