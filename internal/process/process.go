package process

import (
	"context"
	"errors"
	"io"
	"maps"
	"os"
	"slices"
	"strings"
	"time"
)

// ErrTimedOut is returned by Handle.Wait when the child has not exited within the timeout.
var ErrTimedOut = errors.New("process: wait timed out")

// Cmd describes one external command invocation.
type Cmd struct {
	// Args is the argument vector; Args[0] is the program.
	Args []string
	// Dir is the working directory. Empty inherits the caller's.
	Dir string
	// Env is appended to the current process environment.
	Env []string

	// Stdin, Stdout and Stderr are optional. Output is always captured in
	// Result; when a writer is set the output is additionally teed to it.
	Stdin  io.Reader
	Stdout io.Writer
	Stderr io.Writer
}

// Name returns the program name for logs and errors.
func (c Cmd) Name() string {
	if len(c.Args) == 0 {
		return ""
	}
	return c.Args[0]
}

// String renders the argv for debug logging. It is not shell-safe and never
// used to execute anything.
func (c Cmd) String() string {
	return strings.Join(c.Args, " ")
}

// Result is the outcome of a finished command.
type Result struct {
	ExitCode int
	Stdout   string
	Stderr   string
	Duration time.Duration
}

// Success reports a zero exit status.
func (r Result) Success() bool { return r.ExitCode == 0 }

// Runner executes external commands.
type Runner interface {
	// Run executes cmd and blocks until it exits or ctx is done.
	Run(ctx context.Context, cmd Cmd) (Result, error)
	// Start launches cmd and returns immediately.
	Start(ctx context.Context, cmd Cmd) (Handle, error)
}

// Handle controls a child started with Runner.Start.
type Handle interface {
	// Kill terminates the child. Killing an exited child is a no-op.
	Kill() error
	// Wait blocks until the child exits or timeout elapses, returning
	// ErrTimedOut in the latter case. A timeout <= 0 waits for exit.
	Wait(timeout time.Duration) (Result, error)
	// Done is closed once the child has exited.
	Done() <-chan struct{}
}

// WaitContext waits for h until it exits, ctx is done or timeout elapses.
// In the last two cases the child is killed and reaped before returning.
func WaitContext(ctx context.Context, h Handle, timeout time.Duration) (Result, error) {
	var timeoutC <-chan time.Time
	if timeout > 0 {
		t := time.NewTimer(timeout)
		defer t.Stop()
		timeoutC = t.C
	}

	select {
	case <-h.Done():
		return h.Wait(0)
	case <-ctx.Done():
		_ = h.Kill()
		res, _ := h.Wait(0)
		return res, ctx.Err()
	case <-timeoutC:
		_ = h.Kill()
		res, _ := h.Wait(0)
		return res, ErrTimedOut
	}
}

// MergeEnv returns base with extra applied on top, later keys winning.
// Used to layer .env values and MLT_* variables for child processes.
func MergeEnv(base []string, extra map[string]string) []string {
	out := make([]string, 0, len(base)+len(extra))
	seen := make(map[string]int, len(base))
	for _, kv := range base {
		k, _, _ := strings.Cut(kv, "=")
		if i, ok := seen[k]; ok {
			out[i] = kv
			continue
		}
		seen[k] = len(out)
		out = append(out, kv)
	}
	for _, k := range slices.Sorted(maps.Keys(extra)) {
		kv := k + "=" + extra[k]
		if i, ok := seen[k]; ok {
			out[i] = kv
			continue
		}
		seen[k] = len(out)
		out = append(out, kv)
	}
	return out
}

// ExpandArgs substitutes ${VAR} references in every argument using vars,
// falling back to the process environment. Expansion happens per argument,
// so a value containing spaces stays a single argument.
func ExpandArgs(args []string, vars map[string]string) []string {
	out := make([]string, len(args))
	for i, a := range args {
		out[i] = os.Expand(a, func(k string) string {
			if v, ok := vars[k]; ok {
				return v
			}
			return os.Getenv(k)
		})
	}
	return out
}
