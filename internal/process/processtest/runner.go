// Package processtest provides a scripted process.Runner for tests.
package processtest

import (
	"context"
	"errors"
	"fmt"
	"io"
	"slices"
	"sync"
	"time"

	"git.home.luguber.info/inful/mlt/internal/process"
)

// HandlerFunc computes the outcome of a fake command. The context is
// cancelled when the fake child is killed or the caller's context ends, so
// handlers that block must select on it.
type HandlerFunc func(ctx context.Context, cmd process.Cmd) (process.Result, error)

// Rule matches commands by argv prefix.
type Rule struct {
	prefix   []string
	handler  HandlerFunc
	startErr error
}

// Return makes the rule answer with res.
func (r *Rule) Return(res process.Result) *Rule {
	r.handler = func(context.Context, process.Cmd) (process.Result, error) { return res, nil }
	return r
}

// ReturnSeq answers successive calls with results in order, repeating the last one.
func (r *Rule) ReturnSeq(results ...process.Result) *Rule {
	var mu sync.Mutex
	i := 0
	r.handler = func(context.Context, process.Cmd) (process.Result, error) {
		mu.Lock()
		defer mu.Unlock()
		res := results[min(i, len(results)-1)]
		i++
		return res, nil
	}
	return r
}

// Do installs a custom handler.
func (r *Rule) Do(fn HandlerFunc) *Rule {
	r.handler = fn
	return r
}

// Fail makes the command fail to start, as a missing binary would.
func (r *Rule) Fail(err error) *Rule {
	r.startErr = err
	r.handler = func(context.Context, process.Cmd) (process.Result, error) { return process.Result{}, err }
	return r
}

// Runner is a process.Runner that dispatches to rules and records every call.
type Runner struct {
	mu    sync.Mutex
	rules []*Rule
	calls []process.Cmd
}

// New returns an empty Runner. Unmatched commands exit 127.
func New() *Runner {
	return &Runner{}
}

// On registers a rule for commands whose argv starts with prefix. The longest
// matching prefix wins; among equals the most recently registered wins.
func (r *Runner) On(prefix ...string) *Rule {
	rule := &Rule{prefix: prefix}
	r.mu.Lock()
	r.rules = append(r.rules, rule)
	r.mu.Unlock()
	return rule
}

// Calls returns a copy of all recorded commands.
func (r *Runner) Calls() []process.Cmd {
	r.mu.Lock()
	defer r.mu.Unlock()
	return slices.Clone(r.calls)
}

// CallsTo returns recorded commands whose argv starts with prefix.
func (r *Runner) CallsTo(prefix ...string) []process.Cmd {
	var out []process.Cmd
	for _, c := range r.Calls() {
		if hasPrefix(c.Args, prefix) {
			out = append(out, c)
		}
	}
	return out
}

func (r *Runner) dispatch(cmd process.Cmd) *Rule {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls = append(r.calls, cmd)

	var best *Rule
	for _, rule := range r.rules {
		if rule.handler == nil || !hasPrefix(cmd.Args, rule.prefix) {
			continue
		}
		if best == nil || len(rule.prefix) >= len(best.prefix) {
			best = rule
		}
	}
	if best == nil {
		return &Rule{handler: func(context.Context, process.Cmd) (process.Result, error) {
			return process.Result{ExitCode: 127, Stderr: fmt.Sprintf("processtest: no rule for %q", cmd.Args)}, nil
		}}
	}
	return best
}

// Run implements process.Runner.
func (r *Runner) Run(ctx context.Context, cmd process.Cmd) (process.Result, error) {
	h, err := r.Start(ctx, cmd)
	if err != nil {
		return process.Result{}, err
	}
	return process.WaitContext(ctx, h, 0)
}

// Start implements process.Runner. Start errors configured with Rule.Fail are
// returned synchronously; everything else runs on a goroutine.
func (r *Runner) Start(ctx context.Context, cmd process.Cmd) (process.Handle, error) {
	rule := r.dispatch(cmd)
	if rule.startErr != nil {
		return nil, fmt.Errorf("start %s: %w", cmd.Name(), rule.startErr)
	}

	hctx, cancel := context.WithCancel(ctx)
	h := &handle{cancel: cancel, done: make(chan struct{})}
	go func() {
		res, err := rule.handler(hctx, cmd)
		h.finish(cmd, res, err)
	}()
	return h, nil
}

type handle struct {
	cancel context.CancelFunc
	done   chan struct{}
	killed bool
	mu     sync.Mutex
	result process.Result
	err    error
}

func (h *handle) finish(cmd process.Cmd, res process.Result, err error) {
	h.mu.Lock()
	if h.killed || (err != nil && errors.Is(err, context.Canceled)) {
		res.ExitCode = -1
		err = nil
	}
	h.result = res
	h.err = err
	h.mu.Unlock()

	if cmd.Stdout != nil && res.Stdout != "" {
		_, _ = io.WriteString(cmd.Stdout, res.Stdout)
	}
	if cmd.Stderr != nil && res.Stderr != "" {
		_, _ = io.WriteString(cmd.Stderr, res.Stderr)
	}
	h.cancel()
	close(h.done)
}

func (h *handle) Kill() error {
	h.mu.Lock()
	select {
	case <-h.done:
	default:
		h.killed = true
	}
	h.mu.Unlock()
	h.cancel()
	return nil
}

func (h *handle) Wait(timeout time.Duration) (process.Result, error) {
	if timeout <= 0 {
		<-h.done
	} else {
		t := time.NewTimer(timeout)
		defer t.Stop()
		select {
		case <-h.done:
		case <-t.C:
			return process.Result{}, process.ErrTimedOut
		}
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.result, h.err
}

func (h *handle) Done() <-chan struct{} { return h.done }

func hasPrefix(args, prefix []string) bool {
	if len(prefix) > len(args) {
		return false
	}
	for i, p := range prefix {
		if args[i] != p {
			return false
		}
	}
	return true
}
