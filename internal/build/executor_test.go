package build

import (
	"bytes"
	"context"
	"log/slog"
	"strings"
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
	runner *processtest.Runner
	clock  *clockwork.FakeClock
	store  *state.Store
	exec   *Executor
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	dir := t.TempDir()
	p := project.Project{Name: "MNIST", Namespace: "ns", Dir: dir}
	cfg := config.Default(dir)
	cfg.Env = map[string]string{"HTTP_PROXY": "http://proxy:3128"}

	f := &fixture{
		runner: processtest.New(),
		clock:  clockwork.NewFakeClockAt(time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)),
		store:  state.NewStore(dir),
	}
	f.exec = NewExecutor(p, cfg, f.runner, f.store).
		WithClock(f.clock).
		WithIDFunc(func() string { return "abc123" })
	return f
}

// takes makes the fake builder advance the clock by d and succeed with stdout.
func (f *fixture) takes(d time.Duration, stdout string) {
	f.runner.On("docker", "build").Do(func(context.Context, process.Cmd) (process.Result, error) {
		f.clock.Advance(d)
		return process.Result{Stdout: stdout}, nil
	})
}

func TestBuild_SuccessPersistsRecord(t *testing.T) {
	f := newFixture(t)
	f.takes(12*time.Second, "Step 1/2 : FROM python\nStep 2/2 : COPY . .\n")

	rec, err := f.exec.Build(t.Context())
	require.NoError(t, err)
	assert.Equal(t, "mnist:abc123", rec.LastContainer)
	assert.Equal(t, 12*time.Second, rec.LastBuildDuration.Duration())
	require.NotNil(t, rec.LastBuildTime)
	assert.Equal(t, f.clock.Now().UTC(), *rec.LastBuildTime)
	require.NotNil(t, rec.BuildStartTime)
	assert.Equal(t, f.clock.Now().Add(-12*time.Second).UTC(), *rec.BuildStartTime)

	stored, err := f.store.LoadBuild()
	require.NoError(t, err)
	assert.Equal(t, rec.LastContainer, stored.LastContainer)

	calls := f.runner.CallsTo("docker", "build")
	require.Len(t, calls, 1)
	call := calls[0]
	assert.Equal(t, []string{"docker", "build", "-t", "mnist:abc123", "."}, call.Args)
	assert.Equal(t, f.exec.project.Dir, call.Dir)
	assert.Contains(t, call.Env, "CONTAINER_NAME=mnist:abc123")
	assert.Contains(t, call.Env, "MLT_IMAGE=mnist:abc123")
	assert.Contains(t, call.Env, "HTTP_PROXY=http://proxy:3128")
}

func TestBuild_RecordReflectsMostRecentBuild(t *testing.T) {
	f := newFixture(t)
	ids := []string{"first", "second"}
	f.exec.WithIDFunc(func() string {
		id := ids[0]
		ids = ids[1:]
		return id
	})
	f.takes(3*time.Second, "")

	_, err := f.exec.Build(t.Context())
	require.NoError(t, err)
	_, err = f.exec.Build(t.Context())
	require.NoError(t, err)

	stored, err := f.store.LoadBuild()
	require.NoError(t, err)
	assert.Equal(t, "mnist:second", stored.LastContainer)
}

func TestBuild_FailureKeepsPreviousRecord(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, f.store.SaveBuild(state.BuildRecord{LastContainer: "mnist:good"}))
	f.runner.On("docker", "build").Return(process.Result{ExitCode: 2, Stderr: "step 3/7 failed\n"})

	_, err := f.exec.Build(t.Context())
	require.Error(t, err)
	assert.True(t, ferrors.HasCategory(err, ferrors.CategoryBuildFailed))

	classified, ok := ferrors.AsClassified(err)
	require.True(t, ok)
	code, _ := classified.Context().GetInt(ferrors.KeyExitCode)
	assert.Equal(t, 2, code)
	stderr, _ := classified.Context().GetString(ferrors.KeyStderr)
	assert.Contains(t, stderr, "step 3/7 failed")

	stored, err := f.store.LoadBuild()
	require.NoError(t, err)
	assert.Equal(t, "mnist:good", stored.LastContainer)
}

func TestBuild_MissingBuilderIsProcessError(t *testing.T) {
	f := newFixture(t)
	f.runner.On("docker").Fail(assert.AnError)

	_, err := f.exec.Build(t.Context())
	require.Error(t, err)
	assert.True(t, ferrors.HasCategory(err, ferrors.CategoryProcess))

	_, err = f.store.LoadBuild()
	assert.ErrorIs(t, err, state.ErrNotFound)
}

func TestBuild_CancelKillsChild(t *testing.T) {
	f := newFixture(t)
	started := make(chan struct{})
	f.runner.On("docker", "build").Do(func(ctx context.Context, _ process.Cmd) (process.Result, error) {
		close(started)
		<-ctx.Done()
		return process.Result{}, ctx.Err()
	})

	ctx, cancel := context.WithCancel(t.Context())
	errc := make(chan error, 1)
	go func() {
		_, err := f.exec.Build(ctx)
		errc <- err
	}()
	<-started
	cancel()

	select {
	case err := <-errc:
		require.ErrorIs(t, err, context.Canceled)
	case <-time.After(5 * time.Second):
		t.Fatal("build did not return after cancellation")
	}
	_, err := f.store.LoadBuild()
	assert.ErrorIs(t, err, state.ErrNotFound)
}

func TestBuild_InvalidProjectName(t *testing.T) {
	f := newFixture(t)
	f.exec.project.Name = "not a valid name"

	_, err := f.exec.Build(t.Context())
	require.Error(t, err)
	assert.True(t, ferrors.HasCategory(err, ferrors.CategoryValidation))
	assert.Empty(t, f.runner.Calls())
}

func TestImageFromOutput(t *testing.T) {
	cases := []struct {
		name   string
		stdout string
		want   string
	}{
		{"no output", "", "mnist:cand"},
		{"plain log lines", "Sending build context\nStep 1/3 : FROM x\ndone\n", "mnist:cand"},
		{"classic docker", "Successfully built 0123abcd\nSuccessfully tagged mnist:cand\n", "mnist:cand"},
		{"explicit reference", "building...\nregistry.local:5000/team/mnist:v2\n", "registry.local:5000/team/mnist:v2"},
		{"last reference wins", "a/b:1\nc/d:2\ntrailing log\n", "c/d:2"},
		{"digest", "mnist@sha256:" + sha + "\n", "mnist@sha256:" + sha},
		{"untagged word", "img123\n", "mnist:cand"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, imageFromOutput(tc.stdout, "mnist:cand"))
		})
	}
}

const sha = "0123456789abcdef0123456789abcdef0123456789abcdef0123456789abcdef"

func TestShortID(t *testing.T) {
	a, b := shortID(), shortID()
	assert.Len(t, a, 12)
	assert.NotEqual(t, a, b)
}

func TestBuild_CompletionLogNamesImageOnce(t *testing.T) {
	f := newFixture(t)
	f.takes(time.Second, "Successfully tagged registry.local/mnist:v2\n")
	var logs bytes.Buffer
	f.exec.WithLogger(slog.New(slog.NewTextHandler(&logs, nil)))

	_, err := f.exec.Build(t.Context())
	require.NoError(t, err)

	var completed string
	for _, line := range strings.Split(logs.String(), "\n") {
		if strings.Contains(line, "Image build completed") {
			completed = line
		}
	}
	require.NotEmpty(t, completed)
	assert.Equal(t, 1, strings.Count(completed, "image="))
	assert.Contains(t, completed, "image=registry.local/mnist:v2")
}
