package registry

import (
	"context"
	"errors"
	"os"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"git.home.luguber.info/inful/mlt/internal/config"
	ferrors "git.home.luguber.info/inful/mlt/internal/foundation/errors"
	"git.home.luguber.info/inful/mlt/internal/process"
	"git.home.luguber.info/inful/mlt/internal/process/processtest"
	"git.home.luguber.info/inful/mlt/internal/project"
	"git.home.luguber.info/inful/mlt/internal/state"
)

type fixture struct {
	pusher *Pusher
	runner *processtest.Runner
	store  *state.Store
	clock  *clockwork.FakeClock
}

func newFixture(t *testing.T, registry string) *fixture {
	t.Helper()
	p := project.Project{Name: "mnist", Namespace: "ml", Registry: registry, Dir: t.TempDir()}
	cfg := config.Default(p.Dir)
	f := &fixture{
		runner: processtest.New(),
		store:  state.NewStore(p.Dir),
		clock:  clockwork.NewFakeClockAt(time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)),
	}
	f.pusher = NewPusher(p, cfg, f.runner, f.store).WithClock(f.clock)
	return f
}

func TestPushRecordsRemoteImage(t *testing.T) {
	f := newFixture(t, "registry.local:5000")
	f.runner.On("docker", "tag").Return(process.Result{})
	f.runner.On("docker", "push").Do(func(context.Context, process.Cmd) (process.Result, error) {
		f.clock.Advance(5 * time.Second)
		return process.Result{}, nil
	})

	rec, err := f.pusher.Push(t.Context(), "mnist:abc")
	require.NoError(t, err)
	assert.Equal(t, "registry.local:5000/mnist:abc", rec.LastRemoteContainer)
	assert.Equal(t, 5*time.Second, time.Duration(rec.LastPushDuration))

	stored, err := f.store.LoadDeploy()
	require.NoError(t, err)
	assert.Equal(t, rec, stored)

	calls := f.runner.Calls()
	require.Len(t, calls, 2)
	assert.Equal(t, []string{"docker", "tag", "mnist:abc", "registry.local:5000/mnist:abc"}, calls[0].Args)
	assert.Equal(t, []string{"docker", "push", "registry.local:5000/mnist:abc"}, calls[1].Args)
}

func TestPushFailureLeavesNoRecord(t *testing.T) {
	f := newFixture(t, "registry.local:5000")
	f.runner.On("docker", "tag").Return(process.Result{})
	f.runner.On("docker", "push").Return(process.Result{ExitCode: 1, Stderr: "denied: requested access to the resource is denied"})

	_, err := f.pusher.Push(t.Context(), "mnist:abc")
	require.Error(t, err)
	assert.True(t, ferrors.HasCategory(err, ferrors.CategoryPushFailed))

	ce, ok := ferrors.AsClassified(err)
	require.True(t, ok)
	img, _ := ce.Context().GetString(ferrors.KeyImage)
	assert.Equal(t, "registry.local:5000/mnist:abc", img)

	_, err = f.store.LoadDeploy()
	require.ErrorIs(t, err, state.ErrNotFound)
	_, statErr := os.Stat(f.store.Path(state.KindDeploy))
	assert.True(t, os.IsNotExist(statErr))
}

func TestTagFailureSkipsPush(t *testing.T) {
	f := newFixture(t, "registry.local:5000")
	f.runner.On("docker", "tag").Return(process.Result{ExitCode: 1, Stderr: "No such image"})

	_, err := f.pusher.Push(t.Context(), "mnist:abc")
	assert.True(t, ferrors.HasCategory(err, ferrors.CategoryPushFailed))
	assert.Empty(t, f.runner.CallsTo("docker", "push"))
}

func TestPushWithoutRegistry(t *testing.T) {
	f := newFixture(t, "")

	_, err := f.pusher.Push(t.Context(), "mnist:abc")
	assert.True(t, ferrors.HasCategory(err, ferrors.CategoryConfig))
	assert.Empty(t, f.runner.Calls())
}

func TestPushMissingTool(t *testing.T) {
	f := newFixture(t, "registry.local:5000")
	f.runner.On("docker").Fail(errors.New("executable file not found in $PATH"))

	_, err := f.pusher.Push(t.Context(), "mnist:abc")
	assert.True(t, ferrors.HasCategory(err, ferrors.CategoryProcess))
}

func TestPushCanceled(t *testing.T) {
	f := newFixture(t, "registry.local:5000")
	ctx, cancel := context.WithCancel(t.Context())
	f.runner.On("docker", "tag").Return(process.Result{})
	f.runner.On("docker", "push").Do(func(hctx context.Context, _ process.Cmd) (process.Result, error) {
		cancel()
		<-hctx.Done()
		return process.Result{}, hctx.Err()
	})

	_, err := f.pusher.Push(ctx, "mnist:abc")
	require.ErrorIs(t, err, context.Canceled)
	assert.False(t, ferrors.IsClassified(err))
}

func TestRemoteName(t *testing.T) {
	sha := "0123456789abcdef0123456789abcdef0123456789abcdef0123456789abcdef"
	cases := []struct {
		name     string
		registry string
		image    string
		want     string
	}{
		{"plain tag", "localhost:5000", "mnist:abc", "localhost:5000/mnist:abc"},
		{"gcr", "gcr.io/my-project", "mnist:abc", "gcr.io/my-project/mnist:abc"},
		{"host replaced", "registry.local", "other.io:443/team/mnist:v2", "registry.local/team/mnist:v2"},
		{"localhost replaced", "registry.local", "localhost/mnist:v2", "registry.local/mnist:v2"},
		{"namespace kept", "registry.local", "team/mnist:v2", "registry.local/team/mnist:v2"},
		{"digest", "registry.local", "mnist@sha256:" + sha, "registry.local/mnist:0123456789ab"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got, err := RemoteName(tc.registry, tc.image)
			require.NoError(t, err)
			assert.Equal(t, tc.want, got)
		})
	}

	_, err := RemoteName("registry.local", "Not Valid")
	assert.True(t, ferrors.HasCategory(err, ferrors.CategoryValidation))
}

func TestPushRetriesTransientFailure(t *testing.T) {
	f := newFixture(t, "registry.local:5000")
	f.pusher.cfg.Retries = 2
	f.pusher.cfg.RetryBackoff = "fixed"
	f.pusher.cfg.RetryDelay = 3 * time.Second
	f.runner.On("docker", "tag").Return(process.Result{})
	f.runner.On("docker", "push").ReturnSeq(
		process.Result{ExitCode: 1, Stderr: "net/http: TLS handshake timeout"},
		process.Result{},
	)

	type outcome struct {
		rec state.DeployRecord
		err error
	}
	done := make(chan outcome, 1)
	go func() {
		rec, err := f.pusher.Push(t.Context(), "mnist:abc")
		done <- outcome{rec, err}
	}()

	ctx, cancel := context.WithTimeout(t.Context(), 5*time.Second)
	defer cancel()
	require.NoError(t, f.clock.BlockUntilContext(ctx, 1))
	f.clock.Advance(3 * time.Second)

	res := <-done
	require.NoError(t, res.err)
	assert.Equal(t, 3*time.Second, time.Duration(res.rec.LastPushDuration))
	assert.Len(t, f.runner.CallsTo("docker", "tag"), 2)
	assert.Len(t, f.runner.CallsTo("docker", "push"), 2)
}

func TestPushGivesUpAfterRetries(t *testing.T) {
	f := newFixture(t, "registry.local:5000")
	f.pusher.cfg.Retries = 1
	f.pusher.cfg.RetryDelay = time.Second
	f.runner.On("docker", "tag").Return(process.Result{})
	f.runner.On("docker", "push").Return(process.Result{ExitCode: 1, Stderr: "denied"})

	done := make(chan error, 1)
	go func() {
		_, err := f.pusher.Push(t.Context(), "mnist:abc")
		done <- err
	}()

	ctx, cancel := context.WithTimeout(t.Context(), 5*time.Second)
	defer cancel()
	require.NoError(t, f.clock.BlockUntilContext(ctx, 1))
	f.clock.Advance(time.Second)

	err := <-done
	assert.True(t, ferrors.HasCategory(err, ferrors.CategoryPushFailed))
	assert.Len(t, f.runner.CallsTo("docker", "push"), 2)
}
