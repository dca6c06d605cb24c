// Package domain provides canonical type definitions for the pipeline service.
package domain

import "time"

// Stage identifiers, in execution order. The order is fixed and significant:
// a later stage never runs while an earlier required stage has failed.
const (
	StageIDCheckout = "checkout"
	StageIDTest     = "test"
	StageIDBuild    = "image-build"
	StageIDPush     = "image-push"
	StageIDDeploy   = "deploy"
)

// StageOrder lists the stage identifiers in their fixed execution order.
var StageOrder = []string{StageIDCheckout, StageIDTest, StageIDBuild, StageIDPush, StageIDDeploy}

// Stage records the outcome of one discrete pipeline step.
type Stage struct {
	// ID is the stable short token for the stage (e.g. "checkout").
	ID string `json:"id"`

	// Name is the human-readable display label.
	Name string `json:"name"`

	// Status is the current stage status.
	Status StageStatus `json:"status"`

	// Detail is an optional human-readable note: an error excerpt for
	// failed stages, the unmet precondition for skipped ones.
	Detail string `json:"detail,omitempty"`

	// URL optionally links to a stage artifact or log (e.g. the pushed
	// image reference or the cloned repository).
	URL string `json:"url,omitempty"`

	// TestsPassed and TestsFailed carry stage-specific counters. They are
	// only populated by the test stage.
	TestsPassed *int `json:"testsPassed,omitempty"`
	TestsFailed *int `json:"testsFailed,omitempty"`
}

// PipelineRun represents one complete or in-progress execution of all stages
// for a repository.
type PipelineRun struct {
	// ID is the unique identifier for this run (UUID).
	ID string `json:"id"`

	// Repository is the normalized owner/name identifier being processed.
	Repository string `json:"repository"`

	// Seq is the monotonically increasing run sequence number. The status
	// store refuses to replace a snapshot with one carrying a lower Seq,
	// so a stale run can never overwrite a newer run's progress.
	Seq uint64 `json:"-"`

	// CommitSHA is the short hash of the checked-out commit, empty until
	// checkout completes.
	CommitSHA string `json:"commitSha,omitempty"`

	// Status is the overall run status, derived from the stages.
	Status RunStatus `json:"status"`

	// Stages holds the ordered stage outcomes.
	Stages []Stage `json:"stages"`

	// StartedAt is when the run began.
	StartedAt time.Time `json:"startedAt"`
}

// Clone returns a deep copy of the run. Handoff to the status store is by
// value; the stage slice must not be shared with the executor's working copy.
func (r PipelineRun) Clone() PipelineRun {
	out := r
	out.Stages = make([]Stage, len(r.Stages))
	copy(out.Stages, r.Stages)
	for i := range out.Stages {
		if p := out.Stages[i].TestsPassed; p != nil {
			v := *p
			out.Stages[i].TestsPassed = &v
		}
		if f := out.Stages[i].TestsFailed; f != nil {
			v := *f
			out.Stages[i].TestsFailed = &v
		}
	}
	return out
}

// DeriveStatus computes the overall run status from the stage statuses:
// failed if any stage failed, in-progress while any stage has not reached a
// terminal state, success otherwise.
func (r PipelineRun) DeriveStatus() RunStatus {
	status := RunSuccess
	for _, s := range r.Stages {
		if s.Status == StageFailed {
			return RunFailed
		}
		if !s.Status.Terminal() {
			status = RunInProgress
		}
	}
	return status
}

// MetricsSnapshot holds the runtime metrics attached to a status response.
// The values come from a read-only time-series query and have a lifecycle
// independent of stage data: a nil field means the metric is unavailable and
// is omitted on the wire. An entirely empty snapshot is valid and means the
// metrics backend is disconnected.
type MetricsSnapshot struct {
	RequestsPerSecond *float64 `json:"requestsPerSecond,omitempty"`
	ErrorRate         *float64 `json:"errorRate,omitempty"`
	RequestsTotal     *float64 `json:"requestsTotal,omitempty"`
}

// Connected reports whether any metric was actually retrieved from the
// backend.
func (m MetricsSnapshot) Connected() bool {
	return m.RequestsPerSecond != nil || m.ErrorRate != nil || m.RequestsTotal != nil
}
