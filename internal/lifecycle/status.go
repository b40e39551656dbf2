package lifecycle

import (
	"context"
	"errors"

	"git.home.luguber.info/inful/mlt/internal/cluster"
	"git.home.luguber.info/inful/mlt/internal/project"
	"git.home.luguber.info/inful/mlt/internal/state"
)

// Status is a snapshot of the project: its identity, the persisted records
// and the latest pod. Build and Deploy are nil when never written.
type Status struct {
	Project project.Project
	Build   *state.BuildRecord
	Deploy  *state.DeployRecord
	Pod     cluster.PodStatus
	// PodErr is set when the pod query failed; Status still succeeds.
	PodErr error
}

// Status reads the persisted records and queries the latest pod. Corrupt
// state files are errors; cluster failures are reported in PodErr.
func (d *Dispatcher) Status(ctx context.Context) (Status, error) {
	st := Status{Project: d.project}

	b, err := d.deps.Records.LoadBuild()
	switch {
	case err == nil:
		st.Build = &b
	case !errors.Is(err, state.ErrNotFound):
		return Status{}, err
	}

	dr, err := d.deps.Records.LoadDeploy()
	switch {
	case err == nil:
		st.Deploy = &dr
	case !errors.Is(err, state.ErrNotFound):
		return Status{}, err
	}

	st.Pod, st.PodErr = d.deps.Cluster.LatestPod(ctx)
	if st.PodErr != nil && ctx.Err() != nil {
		return Status{}, ctx.Err()
	}
	return st, nil
}
