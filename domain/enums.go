package domain

// StageStatus represents the execution status of a single pipeline stage.
// The values are the exact strings served on the wire to pollers.
type StageStatus string

const (
	// StagePending indicates the stage is queued but has not started.
	// Pending stages appear as "unknown" on the wire; the public status
	// vocabulary does not distinguish not-yet-started from unknowable.
	StagePending StageStatus = "pending"

	// StageInProgress indicates the stage is currently executing.
	StageInProgress StageStatus = "in_progress"

	// StageSuccess indicates the stage completed successfully.
	StageSuccess StageStatus = "success"

	// StageFailed indicates the stage ran and failed (non-zero exit,
	// timeout, or tool error).
	StageFailed StageStatus = "failed"

	// StageSkipped indicates the stage was intentionally not executed
	// because a precondition was unmet or an earlier required stage
	// failed. Skipped is not a failure.
	StageSkipped StageStatus = "skipped"

	// StageUnknown is the wire representation for stages whose state the
	// server cannot or does not report.
	StageUnknown StageStatus = "unknown"
)

// String returns the string representation of the StageStatus.
func (s StageStatus) String() string {
	return string(s)
}

// Terminal reports whether the status is a terminal state. A stage in a
// terminal state never transitions again within its run.
func (s StageStatus) Terminal() bool {
	switch s {
	case StageSuccess, StageFailed, StageSkipped:
		return true
	default:
		return false
	}
}

// Wire maps the internal status onto the public status vocabulary.
// Everything passes through unchanged except StagePending, which is
// served as StageUnknown.
func (s StageStatus) Wire() StageStatus {
	if s == StagePending {
		return StageUnknown
	}
	return s
}

// RunStatus represents the overall status of a pipeline run, derived from
// its stage statuses.
type RunStatus string

const (
	// RunInProgress indicates at least one stage has not yet reached a
	// terminal state.
	RunInProgress RunStatus = "in_progress"

	// RunSuccess indicates every executed stage succeeded. Skipped stages
	// do not prevent overall success.
	RunSuccess RunStatus = "success"

	// RunFailed indicates at least one stage failed.
	RunFailed RunStatus = "failed"
)

// String returns the string representation of the RunStatus.
func (s RunStatus) String() string {
	return string(s)
}
