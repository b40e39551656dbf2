package process

import (
	"bytes"
	"context"
	"errors"
	"os/exec"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func requireShell(t *testing.T) {
	t.Helper()
	if _, err := exec.LookPath("sh"); err != nil {
		t.Skip("sh not available")
	}
}

func TestExecRunner_RunCapturesOutputAndExitCode(t *testing.T) {
	requireShell(t)
	r := NewExecRunner(nil)

	res, err := r.Run(t.Context(), Cmd{Args: []string{"sh", "-c", "echo out; echo err >&2; exit 3"}})
	require.NoError(t, err, "non-zero exit is a result, not an error")
	assert.Equal(t, 3, res.ExitCode)
	assert.Equal(t, "out\n", res.Stdout)
	assert.Equal(t, "err\n", res.Stderr)
	assert.False(t, res.Success())
}

func TestExecRunner_DirEnvAndTee(t *testing.T) {
	requireShell(t)
	dir := t.TempDir()
	var tee bytes.Buffer
	r := NewExecRunner(nil)

	res, err := r.Run(t.Context(), Cmd{
		Args:   []string{"sh", "-c", "pwd; echo $MLT_TEST_VALUE"},
		Dir:    dir,
		Env:    []string{"MLT_TEST_VALUE=hello world"},
		Stdout: &tee,
	})
	require.NoError(t, err)
	assert.Contains(t, res.Stdout, dir)
	assert.Contains(t, res.Stdout, "hello world")
	assert.Equal(t, res.Stdout, tee.String())
}

func TestExecRunner_StartFailure(t *testing.T) {
	r := NewExecRunner(nil)
	_, err := r.Run(t.Context(), Cmd{Args: []string{"definitely-not-a-real-binary-mlt"}})
	require.Error(t, err)

	_, err = r.Start(t.Context(), Cmd{})
	require.Error(t, err)
}

func TestExecRunner_WaitTimeoutAndKill(t *testing.T) {
	requireShell(t)
	r := NewExecRunner(nil)

	h, err := r.Start(context.Background(), Cmd{Args: []string{"sh", "-c", "sleep 30"}})
	require.NoError(t, err)

	_, err = h.Wait(50 * time.Millisecond)
	assert.ErrorIs(t, err, ErrTimedOut)

	require.NoError(t, h.Kill())
	select {
	case <-h.Done():
	case <-time.After(5 * time.Second):
		t.Fatal("child not reaped after kill")
	}
	res, _ := h.Wait(0)
	assert.NotEqual(t, 0, res.ExitCode)

	// Killing twice is harmless.
	require.NoError(t, h.Kill())
}

func TestWaitContext_CancelKills(t *testing.T) {
	requireShell(t)
	r := NewExecRunner(nil)
	h, err := r.Start(context.Background(), Cmd{Args: []string{"sh", "-c", "sleep 30"}})
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(t.Context())
	go func() {
		time.Sleep(20 * time.Millisecond)
		cancel()
	}()
	_, err = WaitContext(ctx, h, 0)
	assert.True(t, errors.Is(err, context.Canceled))

	h2, err := r.Start(context.Background(), Cmd{Args: []string{"sh", "-c", "sleep 30"}})
	require.NoError(t, err)
	_, err = WaitContext(t.Context(), h2, 20*time.Millisecond)
	assert.ErrorIs(t, err, ErrTimedOut)
}

func TestExpandArgs(t *testing.T) {
	t.Setenv("MLT_FROM_ENV", "env-value")
	got := ExpandArgs(
		[]string{"docker", "build", "-t", "${IMAGE}", "--label", "x=${MLT_FROM_ENV}", "${DIR}"},
		map[string]string{"IMAGE": "mnist:abc", "DIR": "/path with spaces"},
	)
	assert.Equal(t, []string{"docker", "build", "-t", "mnist:abc", "--label", "x=env-value", "/path with spaces"}, got)
}

func TestMergeEnv(t *testing.T) {
	got := MergeEnv([]string{"A=1", "B=2", "A=3"}, map[string]string{"B": "override", "C": "new"})
	assert.Equal(t, []string{"A=3", "B=override", "C=new"}, got)
}
