package config

import (
	"fmt"
	"time"

	ferrors "git.home.luguber.info/inful/mlt/internal/foundation/errors"
)

// Validate checks a defaulted configuration.
func Validate(cfg Config) error {
	checks := []func(Config) error{
		validateCommands,
		validateDurations,
		validateWatch,
		validatePushRetries,
	}
	for _, check := range checks {
		if err := check(cfg); err != nil {
			return err
		}
	}
	if cfg.History.Keep < 0 {
		return ferrors.ConfigError("history.keep must not be negative").Build()
	}
	return nil
}

func validateCommands(cfg Config) error {
	commands := map[string][]string{
		"build.command":           cfg.Build.Command,
		"push.tag_command":        cfg.Push.TagCommand,
		"push.push_command":       cfg.Push.PushCommand,
		"deploy.submit_command":   cfg.Deploy.SubmitCommand,
		"deploy.undeploy_command": cfg.Deploy.UndeployCommand,
		"deploy.attach_command":   cfg.Deploy.AttachCommand,
	}
	for key, argv := range commands {
		if len(argv) == 0 || argv[0] == "" {
			return ferrors.ConfigError(fmt.Sprintf("%s must name a program", key)).
				WithContext("field", key).
				Build()
		}
	}
	return nil
}

func validateDurations(cfg Config) error {
	durations := []struct {
		key string
		val time.Duration
	}{
		{"build.timeout", cfg.Build.Timeout},
		{"push.timeout", cfg.Push.Timeout},
		{"deploy.poll_interval", cfg.Deploy.PollInterval},
		{"deploy.pending_timeout", cfg.Deploy.PendingTimeout},
		{"deploy.running_timeout", cfg.Deploy.RunningTimeout},
		{"watch.debounce", cfg.Watch.Debounce},
	}
	for _, d := range durations {
		if d.val <= 0 {
			return ferrors.ConfigError(fmt.Sprintf("%s must be positive, got %s", d.key, d.val)).
				WithContext("field", d.key).
				Build()
		}
	}
	if cfg.Watch.RebuildInterval < 0 {
		return ferrors.ConfigError("watch.rebuild_interval must not be negative").Build()
	}
	return nil
}

func validateWatch(cfg Config) error {
	switch cfg.Watch.StopMode {
	case StopWait, StopKill:
		return nil
	default:
		return ferrors.ConfigError(fmt.Sprintf("watch.stop_mode must be %q or %q, got %q", StopWait, StopKill, cfg.Watch.StopMode)).
			WithContext("field", "watch.stop_mode").
			Build()
	}
}

func validatePushRetries(cfg Config) error {
	if cfg.Push.Retries < 0 {
		return ferrors.ConfigError("push.retries must not be negative").Build()
	}
	if !cfg.Push.RetryBackoff.Valid() {
		return ferrors.ConfigError(fmt.Sprintf("push.retry_backoff must be one of fixed|linear|exponential, got %q", cfg.Push.RetryBackoff)).
			WithContext("field", "push.retry_backoff").
			Build()
	}
	return cfg.Push.RetryPolicy().Validate()
}
