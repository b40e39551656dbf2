package metrics

import "time"

// Outcome enumerates terminal results for counters.
type Outcome string

const (
	OutcomeSuccess  Outcome = "success"
	OutcomeFailed   Outcome = "failed"
	OutcomeTimedOut Outcome = "timed_out"
	OutcomeCanceled Outcome = "canceled"
)

// Trigger labels what started a watch-mode rebuild.
type Trigger string

const (
	TriggerChange   Trigger = "change"
	TriggerSchedule Trigger = "schedule"
)

// Recorder defines observability hooks for lifecycle operations.
type Recorder interface {
	ObserveBuildDuration(d time.Duration)
	IncBuildOutcome(outcome Outcome)
	ObservePushDuration(d time.Duration)
	IncPushOutcome(outcome Outcome)
	ObservePollDuration(d time.Duration)
	IncDeployOutcome(outcome Outcome)
	IncWatchRebuild(trigger Trigger)
}

// NoopRecorder is a Recorder that does nothing (default when metrics not configured).
type NoopRecorder struct{}

func (NoopRecorder) ObserveBuildDuration(time.Duration) {}
func (NoopRecorder) IncBuildOutcome(Outcome)            {}
func (NoopRecorder) ObservePushDuration(time.Duration)  {}
func (NoopRecorder) IncPushOutcome(Outcome)             {}
func (NoopRecorder) ObservePollDuration(time.Duration)  {}
func (NoopRecorder) IncDeployOutcome(Outcome)           {}
func (NoopRecorder) IncWatchRebuild(Trigger)            {}
