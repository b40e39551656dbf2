// Package config loads the optional mlt.yaml project configuration.
//
// Every field has a default, so a project without mlt.yaml behaves like the
// classic tool: docker for builds and pushes, kubectl for deployments, a 1s
// watch debounce and 10s/30s deploy budgets. The loaded Config is a value and
// is never modified after Load returns; CLI flags are applied by the caller
// on its own copy before constructing components.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"slices"
	"time"

	"gopkg.in/yaml.v3"

	ferrors "git.home.luguber.info/inful/mlt/internal/foundation/errors"
	"git.home.luguber.info/inful/mlt/internal/retry"
)

// DefaultFileName is the configuration file looked up in the project directory.
const DefaultFileName = "mlt.yaml"

// Config is the complete configuration of one project.
type Config struct {
	Build   BuildConfig   `yaml:"build"`
	Push    PushConfig    `yaml:"push"`
	Deploy  DeployConfig  `yaml:"deploy"`
	Watch   WatchConfig   `yaml:"watch"`
	History HistoryConfig `yaml:"history"`

	// Env holds variables from the project's .env file that are not already
	// set in the process environment. They are passed to every child process.
	Env map[string]string `yaml:"-"`
	// Source is the file Config was read from, empty when defaults only.
	Source string `yaml:"-"`
}

// BuildConfig configures the external image builder.
type BuildConfig struct {
	// Command is the builder argv. ${IMAGE}, ${NAME} and ${PROJECT_DIR} are
	// substituted per argument.
	Command []string      `yaml:"command"`
	Timeout time.Duration `yaml:"timeout"`
}

// PushConfig configures the registry client.
type PushConfig struct {
	TagCommand  []string      `yaml:"tag_command"`
	PushCommand []string      `yaml:"push_command"`
	Timeout     time.Duration `yaml:"timeout"`

	// Retries is how many times a failed push is retried. Zero disables retries.
	Retries       int           `yaml:"retries"`
	RetryBackoff  retry.Mode    `yaml:"retry_backoff"`
	RetryDelay    time.Duration `yaml:"retry_delay"`
	RetryMaxDelay time.Duration `yaml:"retry_max_delay"`
}

// RetryPolicy returns the backoff policy for failed pushes.
func (p PushConfig) RetryPolicy() retry.Policy {
	return retry.NewPolicy(p.RetryBackoff, p.RetryDelay, p.RetryMaxDelay, p.Retries)
}

// DeployConfig configures submission, polling and removal.
type DeployConfig struct {
	Kubectl         string        `yaml:"kubectl"`
	SubmitCommand   []string      `yaml:"submit_command"`
	UndeployCommand []string      `yaml:"undeploy_command"`
	AttachCommand   []string      `yaml:"attach_command"`
	PollInterval    time.Duration `yaml:"poll_interval"`
	PendingTimeout  time.Duration `yaml:"pending_timeout"`
	RunningTimeout  time.Duration `yaml:"running_timeout"`
}

// StopMode selects what happens to an in-flight build when watching stops.
type StopMode string

const (
	StopWait StopMode = "wait"
	StopKill StopMode = "kill"
)

// WatchConfig configures build --watch.
type WatchConfig struct {
	Debounce time.Duration `yaml:"debounce"`
	StopMode StopMode      `yaml:"stop_mode"`
	// RebuildInterval forces a rebuild periodically even without changes. Zero disables it.
	RebuildInterval time.Duration `yaml:"rebuild_interval"`
	// Ignore holds extra gitignore-style patterns.
	Ignore []string `yaml:"ignore"`
}

// HistoryConfig configures the local operation journal.
type HistoryConfig struct {
	Enabled *bool  `yaml:"enabled"`
	Path    string `yaml:"path"`
	Keep    int    `yaml:"keep"`
}

// IsEnabled reports whether the journal should be written.
func (h HistoryConfig) IsEnabled() bool {
	return h.Enabled == nil || *h.Enabled
}

// Load reads configPath, or <projectDir>/mlt.yaml when configPath is empty,
// plus <projectDir>/.env. A missing default file yields the defaults; a
// missing explicit file is an error.
func Load(projectDir, configPath string) (Config, error) {
	env, err := loadDotEnv(filepath.Join(projectDir, ".env"))
	if err != nil {
		return Config{}, err
	}

	explicit := configPath != ""
	if !explicit {
		configPath = filepath.Join(projectDir, DefaultFileName)
	}

	var cfg Config
	data, err := os.ReadFile(configPath) // #nosec G304 -- user-selected configuration file
	switch {
	case err == nil:
		if err := decode(data, env, &cfg); err != nil {
			return Config{}, ferrors.ConfigError("failed to parse configuration").
				WithCause(err).
				WithContext(ferrors.KeyPath, configPath).
				Build()
		}
		cfg.Source = configPath
	case errors.Is(err, fs.ErrNotExist) && !explicit:
	default:
		return Config{}, ferrors.ConfigError("failed to read configuration").
			WithCause(err).
			WithContext(ferrors.KeyPath, configPath).
			Build()
	}

	cfg.Env = env
	applyDefaults(&cfg, projectDir)
	if err := Validate(cfg); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Default returns the configuration used when no mlt.yaml exists.
func Default(projectDir string) Config {
	var cfg Config
	applyDefaults(&cfg, projectDir)
	return cfg
}

func decode(data []byte, env map[string]string, cfg *Config) error {
	expanded := expandEnv(string(data), env)
	if err := yaml.Unmarshal([]byte(expanded), cfg); err != nil {
		return fmt.Errorf("yaml: %w", err)
	}
	return nil
}

// Clone returns a deep copy so callers can apply flag overrides safely.
func (c Config) Clone() Config {
	out := c
	out.Build.Command = slices.Clone(c.Build.Command)
	out.Push.TagCommand = slices.Clone(c.Push.TagCommand)
	out.Push.PushCommand = slices.Clone(c.Push.PushCommand)
	out.Deploy.SubmitCommand = slices.Clone(c.Deploy.SubmitCommand)
	out.Deploy.UndeployCommand = slices.Clone(c.Deploy.UndeployCommand)
	out.Deploy.AttachCommand = slices.Clone(c.Deploy.AttachCommand)
	out.Watch.Ignore = slices.Clone(c.Watch.Ignore)
	if c.Env != nil {
		out.Env = make(map[string]string, len(c.Env))
		for k, v := range c.Env {
			out.Env[k] = v
		}
	}
	return out
}
