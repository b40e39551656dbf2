package cluster

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	corev1 "k8s.io/api/core/v1"
)

// Phase is the coarse lifecycle phase of the latest pod.
type Phase string

const (
	PhaseUnknown   Phase = "Unknown"
	PhasePending   Phase = "Pending"
	PhaseRunning   Phase = "Running"
	PhaseSucceeded Phase = "Succeeded"
	PhaseFailed    Phase = "Failed"
)

// Terminal reports whether no further transitions are expected.
func (p Phase) Terminal() bool {
	return p == PhaseSucceeded || p == PhaseFailed
}

// ErrQueryFailed wraps pod queries that ran but did not produce a usable
// listing. Callers polling for status treat it as PhaseUnknown.
var ErrQueryFailed = errors.New("pod query failed")

// PodStatus describes the latest pod in a namespace. Name is empty when the
// namespace has no pods.
type PodStatus struct {
	Name      string
	Phase     Phase
	StartedAt time.Time
}

func phaseOf(p corev1.PodPhase) Phase {
	switch p {
	case corev1.PodPending:
		return PhasePending
	case corev1.PodRunning:
		return PhaseRunning
	case corev1.PodSucceeded:
		return PhaseSucceeded
	case corev1.PodFailed:
		return PhaseFailed
	default:
		return PhaseUnknown
	}
}

// podTime orders pods: status.startTime, else metadata.creationTimestamp.
func podTime(pod *corev1.Pod) time.Time {
	if pod.Status.StartTime != nil {
		return pod.Status.StartTime.Time
	}
	return pod.CreationTimestamp.Time
}

// latestPod decodes a `kubectl get pods -o json` listing and picks the most
// recently started pod. Ties keep the later entry in the listing.
func latestPod(data []byte) (PodStatus, error) {
	var list corev1.PodList
	if err := json.Unmarshal(data, &list); err != nil {
		return PodStatus{}, fmt.Errorf("%w: decode pod list: %w", ErrQueryFailed, err)
	}

	var latest *corev1.Pod
	for i := range list.Items {
		pod := &list.Items[i]
		if latest == nil || !podTime(pod).Before(podTime(latest)) {
			latest = pod
		}
	}
	if latest == nil {
		return PodStatus{Phase: PhaseUnknown}, nil
	}
	return PodStatus{
		Name:      latest.Name,
		Phase:     phaseOf(latest.Status.Phase),
		StartedAt: podTime(latest),
	}, nil
}
