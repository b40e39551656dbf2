package cluster

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"maps"
	"slices"
	"strings"

	"git.home.luguber.info/inful/mlt/internal/config"
	ferrors "git.home.luguber.info/inful/mlt/internal/foundation/errors"
	"git.home.luguber.info/inful/mlt/internal/logfields"
	"git.home.luguber.info/inful/mlt/internal/process"
	"git.home.luguber.info/inful/mlt/internal/project"
)

// Client runs orchestration commands for one project namespace.
type Client struct {
	project project.Project
	cfg     config.DeployConfig
	env     map[string]string
	runner  process.Runner
	logger  *slog.Logger
	stdout  io.Writer
	stderr  io.Writer
}

// NewClient creates a Client for p.
func NewClient(p project.Project, cfg config.Config, runner process.Runner) *Client {
	return &Client{
		project: p,
		cfg:     cfg.Deploy,
		env:     cfg.Env,
		runner:  runner,
		logger:  slog.Default(),
	}
}

// WithLogger sets the logger.
func (c *Client) WithLogger(l *slog.Logger) *Client {
	c.logger = l
	return c
}

// WithOutput streams submission and removal output to the given writers.
func (c *Client) WithOutput(stdout, stderr io.Writer) *Client {
	c.stdout = stdout
	c.stderr = stderr
	return c
}

// Namespace returns the namespace the client operates in.
func (c *Client) Namespace() string {
	return c.project.Namespace
}

// LatestPod lists pods in the project namespace and returns the most recent
// one. An empty namespace yields PhaseUnknown with no name. A listing that
// exits non-zero or cannot be decoded is reported as ErrQueryFailed; a
// kubectl that cannot be started is a process error.
func (c *Client) LatestPod(ctx context.Context) (PodStatus, error) {
	cmd := process.Cmd{
		Args: []string{c.cfg.Kubectl, "get", "pods", "--namespace", c.project.Namespace, "-o", "json"},
		Dir:  c.project.Dir,
		Env:  c.childEnv(nil),
	}
	res, err := c.runner.Run(ctx, cmd)
	if ctx.Err() != nil {
		return PodStatus{}, ctx.Err()
	}
	if err != nil {
		return PodStatus{}, ferrors.ProcessError(cmd.Name()).WithCause(err).Build()
	}
	if !res.Success() {
		return PodStatus{}, fmt.Errorf("%w: %s exited with code %d: %s", ErrQueryFailed, cmd.Name(), res.ExitCode, firstLine(res.Stderr))
	}
	return latestPod([]byte(res.Stdout))
}

// Submit applies the project's resources. MLT_IMAGE, MLT_RUN_ID and MLT_APP
// are exported so templating tools can render manifests.
func (c *Client) Submit(ctx context.Context, image, runID string) error {
	vars := c.vars(map[string]string{"REMOTE_IMAGE": image, "IMAGE": image, "RUN_ID": runID})
	cmd := process.Cmd{
		Args: process.ExpandArgs(c.cfg.SubmitCommand, vars),
		Dir:  c.project.Dir,
		Env: c.childEnv(map[string]string{
			"MLT_IMAGE":  image,
			"MLT_RUN_ID": runID,
			"MLT_APP":    c.project.Name,
		}),
		Stdout: c.stdout,
		Stderr: c.stderr,
	}

	c.logger.Info("Submitting deployment",
		logfields.Namespace(c.project.Namespace),
		logfields.Image(image),
		logfields.RunID(runID))

	res, err := c.runner.Run(ctx, cmd)
	if ctx.Err() != nil {
		return fmt.Errorf("submission canceled: %w", ctx.Err())
	}
	if err != nil {
		return ferrors.ProcessError(cmd.Name()).WithCause(err).Build()
	}
	if !res.Success() {
		return ferrors.SubmissionFailed(res.ExitCode, res.Stderr).Build()
	}
	return nil
}

// Undeploy removes the project's resources. Removing nothing succeeds.
func (c *Client) Undeploy(ctx context.Context) error {
	cmd := process.Cmd{
		Args:   process.ExpandArgs(c.cfg.UndeployCommand, c.vars(nil)),
		Dir:    c.project.Dir,
		Env:    c.childEnv(map[string]string{"MLT_APP": c.project.Name}),
		Stdout: c.stdout,
		Stderr: c.stderr,
	}

	c.logger.Info("Removing deployment", logfields.Namespace(c.project.Namespace))

	res, err := c.runner.Run(ctx, cmd)
	if ctx.Err() != nil {
		return fmt.Errorf("undeploy canceled: %w", ctx.Err())
	}
	if err != nil {
		return ferrors.ProcessError(cmd.Name()).WithCause(err).Build()
	}
	if !res.Success() {
		return ferrors.UndeployFailed(res.ExitCode, res.Stderr).Build()
	}
	return nil
}

// Attach starts an interactive session in pod using the configured attach
// command. The caller owns the returned handle.
func (c *Client) Attach(ctx context.Context, pod string, stdin io.Reader, stdout, stderr io.Writer) (process.Handle, error) {
	cmd := process.Cmd{
		Args:   process.ExpandArgs(c.cfg.AttachCommand, c.vars(map[string]string{"POD": pod})),
		Dir:    c.project.Dir,
		Env:    c.childEnv(nil),
		Stdin:  stdin,
		Stdout: stdout,
		Stderr: stderr,
	}
	c.logger.Info("Attaching to pod", logfields.Namespace(c.project.Namespace), logfields.Pod(pod))

	h, err := c.runner.Start(ctx, cmd)
	if err != nil {
		return nil, ferrors.ProcessError(cmd.Name()).WithCause(err).Build()
	}
	return h, nil
}

func (c *Client) vars(extra map[string]string) map[string]string {
	vars := map[string]string{
		"NAME":        c.project.Name,
		"APP":         c.project.Name,
		"NAMESPACE":   c.project.Namespace,
		"PROJECT_DIR": c.project.Dir,
	}
	for k, v := range extra {
		vars[k] = v
	}
	return vars
}

func (c *Client) childEnv(extra map[string]string) []string {
	env := make([]string, 0, len(c.env)+len(extra))
	for k, v := range c.env {
		env = append(env, k+"="+v)
	}
	slices.Sort(env)
	for _, k := range slices.Sorted(maps.Keys(extra)) {
		env = append(env, k+"="+extra[k])
	}
	return env
}

func firstLine(s string) string {
	line, _, _ := strings.Cut(strings.TrimSpace(s), "\n")
	return line
}
