package process

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"strings"
	"sync"
	"time"

	"git.home.luguber.info/inful/mlt/internal/logfields"
)

// ExecRunner runs commands with os/exec.
type ExecRunner struct {
	logger *slog.Logger
}

// NewExecRunner returns a Runner backed by os/exec.
func NewExecRunner(logger *slog.Logger) *ExecRunner {
	if logger == nil {
		logger = slog.Default()
	}
	return &ExecRunner{logger: logger}
}

// Run implements Runner.
func (r *ExecRunner) Run(ctx context.Context, cmd Cmd) (Result, error) {
	h, err := r.Start(ctx, cmd)
	if err != nil {
		return Result{}, err
	}
	return WaitContext(ctx, h, 0)
}

// Start implements Runner.
func (r *ExecRunner) Start(ctx context.Context, cmd Cmd) (Handle, error) {
	if len(cmd.Args) == 0 {
		return nil, errors.New("process: empty command")
	}

	// #nosec G204 -- argv comes from project configuration, executed without a shell
	c := exec.CommandContext(ctx, cmd.Args[0], cmd.Args[1:]...)
	c.Dir = cmd.Dir
	if len(cmd.Env) > 0 {
		c.Env = MergeEnv(os.Environ(), envMap(cmd.Env))
	}
	c.Stdin = cmd.Stdin

	h := &execHandle{cmd: c, done: make(chan struct{})}
	c.Stdout = tee(&h.stdout, cmd.Stdout)
	c.Stderr = tee(&h.stderr, cmd.Stderr)

	r.logger.Debug("Starting external command",
		logfields.Command(cmd.Name()),
		slog.String("argv", cmd.String()),
		logfields.Path(cmd.Dir))

	h.started = time.Now()
	if err := c.Start(); err != nil {
		return nil, fmt.Errorf("start %s: %w", cmd.Name(), err)
	}

	go h.wait(r.logger, cmd.Name())
	return h, nil
}

type execHandle struct {
	cmd     *exec.Cmd
	started time.Time
	done    chan struct{}

	// stdout/stderr are written by the exec copy goroutines and read only after done.
	stdout lockedBuffer
	stderr lockedBuffer

	result  Result
	waitErr error
}

func (h *execHandle) wait(logger *slog.Logger, name string) {
	err := h.cmd.Wait()
	res := Result{
		Stdout:   h.stdout.String(),
		Stderr:   h.stderr.String(),
		Duration: time.Since(h.started),
	}

	var exitErr *exec.ExitError
	switch {
	case err == nil:
	case errors.As(err, &exitErr):
		res.ExitCode = exitErr.ExitCode()
	default:
		res.ExitCode = -1
		h.waitErr = fmt.Errorf("wait %s: %w", name, err)
	}
	h.result = res

	logger.Debug("External command exited",
		logfields.Command(name),
		logfields.ExitCode(res.ExitCode),
		logfields.Duration(res.Duration))
	close(h.done)
}

func (h *execHandle) Kill() error {
	select {
	case <-h.done:
		return nil
	default:
	}
	if err := h.cmd.Process.Kill(); err != nil && !errors.Is(err, os.ErrProcessDone) {
		return fmt.Errorf("kill: %w", err)
	}
	return nil
}

func (h *execHandle) Wait(timeout time.Duration) (Result, error) {
	if timeout <= 0 {
		<-h.done
		return h.result, h.waitErr
	}
	t := time.NewTimer(timeout)
	defer t.Stop()
	select {
	case <-h.done:
		return h.result, h.waitErr
	case <-t.C:
		return Result{}, ErrTimedOut
	}
}

func (h *execHandle) Done() <-chan struct{} { return h.done }

// lockedBuffer guards a bytes.Buffer shared between exec's copy goroutine
// and a concurrent tee writer.
type lockedBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *lockedBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *lockedBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

func tee(capture io.Writer, passthrough io.Writer) io.Writer {
	if passthrough == nil {
		return capture
	}
	return io.MultiWriter(capture, passthrough)
}

func envMap(env []string) map[string]string {
	m := make(map[string]string, len(env))
	for _, kv := range env {
		k, v, _ := strings.Cut(kv, "=")
		m[k] = v
	}
	return m
}
