package state

import (
	"encoding/json"
	"fmt"
	"math"
	"time"
)

// Kind names a persisted record.
type Kind string

const (
	KindBuild  Kind = "build"
	KindDeploy Kind = "deploy"
)

// FileName returns the state file name for kind.
func (k Kind) FileName() string {
	switch k {
	case KindBuild:
		return ".build.json"
	case KindDeploy:
		return ".push.json"
	default:
		return "." + string(k) + ".json"
	}
}

// Seconds is a duration persisted as a JSON number of seconds.
type Seconds time.Duration

// Duration returns s as a time.Duration.
func (s Seconds) Duration() time.Duration { return time.Duration(s) }

// MarshalJSON implements json.Marshaler. Values are rounded to milliseconds.
func (s Seconds) MarshalJSON() ([]byte, error) {
	secs := math.Round(time.Duration(s).Seconds()*1000) / 1000
	return json.Marshal(secs)
}

// UnmarshalJSON implements json.Unmarshaler.
func (s *Seconds) UnmarshalJSON(data []byte) error {
	var secs float64
	if err := json.Unmarshal(data, &secs); err != nil {
		return fmt.Errorf("duration must be a number of seconds: %w", err)
	}
	if secs < 0 || math.IsNaN(secs) || math.IsInf(secs, 0) {
		return fmt.Errorf("invalid duration %v", secs)
	}
	*s = Seconds(time.Duration(secs * float64(time.Second)))
	return nil
}

// BuildRecord describes the most recent successful build.
type BuildRecord struct {
	LastContainer     string  `json:"last_container"`
	LastBuildDuration Seconds `json:"last_build_duration"`
	// LastBuildTime is when the build finished. Records written by older
	// tools lack it.
	LastBuildTime *time.Time `json:"last_build_time,omitempty"`
	// BuildStartTime is when the builder was started. Sources modified after
	// it may be missing from the image.
	BuildStartTime *time.Time `json:"build_start_time,omitempty"`
}

// SourcesAsOf returns the newest source modification time the image is known
// to include: the build start, else the finish time for older records, else nil.
func (r BuildRecord) SourcesAsOf() *time.Time {
	if r.BuildStartTime != nil {
		return r.BuildStartTime
	}
	return r.LastBuildTime
}

func (r BuildRecord) validate() error {
	if r.LastContainer == "" {
		return fmt.Errorf("missing last_container")
	}
	return nil
}

// DeployRecord describes the most recent successful push.
type DeployRecord struct {
	LastPushDuration    Seconds `json:"last_push_duration"`
	LastRemoteContainer string  `json:"last_remote_container"`
}

func (r DeployRecord) validate() error {
	if r.LastRemoteContainer == "" {
		return fmt.Errorf("missing last_remote_container")
	}
	return nil
}
