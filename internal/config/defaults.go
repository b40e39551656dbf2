package config

import (
	"path/filepath"
	"time"
)

const (
	DefaultBuildTimeout   = 30 * time.Minute
	DefaultPushTimeout    = 15 * time.Minute
	DefaultPollInterval   = time.Second
	DefaultPendingTimeout = 10 * time.Second
	DefaultRunningTimeout = 30 * time.Second
	DefaultDebounce       = time.Second
	DefaultHistoryKeep    = 500
)

// StateDirName holds mlt's private files inside the project directory.
const StateDirName = ".mlt"

func applyDefaults(cfg *Config, projectDir string) {
	if len(cfg.Build.Command) == 0 {
		cfg.Build.Command = []string{"docker", "build", "-t", "${IMAGE}", "."}
	}
	if cfg.Build.Timeout == 0 {
		cfg.Build.Timeout = DefaultBuildTimeout
	}

	if len(cfg.Push.TagCommand) == 0 {
		cfg.Push.TagCommand = []string{"docker", "tag", "${IMAGE}", "${REMOTE_IMAGE}"}
	}
	if len(cfg.Push.PushCommand) == 0 {
		cfg.Push.PushCommand = []string{"docker", "push", "${REMOTE_IMAGE}"}
	}
	if cfg.Push.Timeout == 0 {
		cfg.Push.Timeout = DefaultPushTimeout
	}

	if cfg.Deploy.Kubectl == "" {
		cfg.Deploy.Kubectl = "kubectl"
	}
	if len(cfg.Deploy.SubmitCommand) == 0 {
		cfg.Deploy.SubmitCommand = []string{cfg.Deploy.Kubectl, "--namespace", "${NAMESPACE}", "apply", "-f", "k8s"}
	}
	if len(cfg.Deploy.UndeployCommand) == 0 {
		cfg.Deploy.UndeployCommand = []string{cfg.Deploy.Kubectl, "--namespace", "${NAMESPACE}", "delete", "-f", "k8s", "--ignore-not-found"}
	}
	if len(cfg.Deploy.AttachCommand) == 0 {
		cfg.Deploy.AttachCommand = []string{cfg.Deploy.Kubectl, "--namespace", "${NAMESPACE}", "exec", "-it", "${POD}", "--", "/bin/bash"}
	}
	if cfg.Deploy.PollInterval == 0 {
		cfg.Deploy.PollInterval = DefaultPollInterval
	}
	if cfg.Deploy.PendingTimeout == 0 {
		cfg.Deploy.PendingTimeout = DefaultPendingTimeout
	}
	if cfg.Deploy.RunningTimeout == 0 {
		cfg.Deploy.RunningTimeout = DefaultRunningTimeout
	}

	if cfg.Watch.Debounce == 0 {
		cfg.Watch.Debounce = DefaultDebounce
	}
	if cfg.Watch.StopMode == "" {
		cfg.Watch.StopMode = StopWait
	}

	if cfg.History.Path == "" {
		cfg.History.Path = filepath.Join(StateDirName, "history.db")
	}
	if !filepath.IsAbs(cfg.History.Path) {
		cfg.History.Path = filepath.Join(projectDir, cfg.History.Path)
	}
	if cfg.History.Keep == 0 {
		cfg.History.Keep = DefaultHistoryKeep
	}
}
