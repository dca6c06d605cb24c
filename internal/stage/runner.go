// Package stage executes individual pipeline stages and classifies their
// outcomes.
//
// The runner owns the per-stage policy that is common to every stage: the
// pending -> in_progress -> terminal state machine, precondition checks,
// timeout enforcement, serialization of same-stage invocations, and bounding
// of failure detail. What a stage actually does is supplied by the caller as
// an Invoke function, so the runner is testable without touching any real
// external tool.
package stage

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/forgeline/pipeline/domain"
	"github.com/forgeline/pipeline/internal/creds"
)

// DetailLimit bounds the human-readable detail recorded for a stage. Error
// output beyond the limit is cut, keeping the head, which for most tools
// carries the actual failure message.
const DetailLimit = 2048

// RunContext carries per-run values into a stage invocation.
type RunContext struct {
	// Repository is the normalized owner/name identifier.
	Repository string

	// CommitSHA is the short commit reference, empty until checkout
	// completes.
	CommitSHA string

	// Workdir is the checked-out working tree, empty until checkout
	// completes.
	Workdir string
}

// Outcome is what a successful (or skipped) invocation reports back.
type Outcome struct {
	Detail      string
	URL         string
	TestsPassed *int
	TestsFailed *int
}

// SkipError signals that an invocation discovered an unmet precondition at
// run time (an unreachable cluster, say) and the stage should be recorded as
// skipped rather than failed.
type SkipError struct {
	Reason string
}

func (e *SkipError) Error() string {
	return "stage skipped: " + e.Reason
}

// Skip returns a SkipError with the given reason.
func Skip(format string, args ...any) error {
	return &SkipError{Reason: fmt.Sprintf(format, args...)}
}

// Spec describes one stage to execute.
type Spec struct {
	// ID is the stable short token (domain.StageIDCheckout etc.).
	ID string

	// Name is the display label.
	Name string

	// Timeout bounds the invocation. Zero means no stage-level timeout.
	Timeout time.Duration

	// RequiredEnv lists credential keys that must be present before the
	// stage may run. Missing keys short-circuit to skipped without
	// invoking anything.
	RequiredEnv []string

	// Invoke performs the stage's work. A returned SkipError records the
	// stage as skipped; any other error records it as failed with the
	// error text as bounded detail.
	Invoke func(ctx context.Context, rc RunContext) (Outcome, error)
}

// Runner executes stage specs one at a time per stage ID.
type Runner struct {
	creds creds.Provider
	log   *slog.Logger

	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

// NewRunner returns a Runner that resolves preconditions through the given
// provider.
func NewRunner(provider creds.Provider, log *slog.Logger) *Runner {
	return &Runner{
		creds: provider,
		log:   log,
		locks: make(map[string]*sync.Mutex),
	}
}

// Run executes one stage and returns its terminal record. Run never returns
// a non-terminal status: execution failures become StageFailed with bounded
// detail, unmet preconditions become StageSkipped. Exactly one invocation
// per stage ID runs at a time; concurrent calls for the same stage queue.
func (r *Runner) Run(ctx context.Context, spec Spec, rc RunContext) domain.Stage {
	stage := domain.Stage{
		ID:     spec.ID,
		Name:   spec.Name,
		Status: domain.StageInProgress,
	}

	if missing := creds.Missing(r.creds, spec.RequiredEnv); len(missing) > 0 {
		stage.Status = domain.StageSkipped
		stage.Detail = "missing required configuration: " + strings.Join(missing, ", ")
		r.log.Info("stage skipped", "stage", spec.ID, "repo", rc.Repository, "missing", missing)
		return stage
	}

	lock := r.stageLock(spec.ID)
	lock.Lock()
	defer lock.Unlock()

	if spec.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, spec.Timeout)
		defer cancel()
	}

	started := time.Now()
	outcome, err := spec.Invoke(ctx, rc)
	elapsed := time.Since(started).Round(time.Millisecond)

	if err != nil {
		var skip *SkipError
		if errors.As(err, &skip) {
			stage.Status = domain.StageSkipped
			stage.Detail = truncateDetail(skip.Reason)
			r.log.Info("stage skipped", "stage", spec.ID, "repo", rc.Repository, "reason", skip.Reason)
			return stage
		}

		// A failing stage may still report partial results, e.g. the
		// test stage's pass/fail counters.
		stage.Status = domain.StageFailed
		stage.Detail = truncateDetail(err.Error())
		stage.URL = outcome.URL
		stage.TestsPassed = outcome.TestsPassed
		stage.TestsFailed = outcome.TestsFailed
		r.log.Warn("stage failed", "stage", spec.ID, "repo", rc.Repository, "elapsed", elapsed, "error", err)
		return stage
	}

	stage.Status = domain.StageSuccess
	stage.Detail = truncateDetail(outcome.Detail)
	stage.URL = outcome.URL
	stage.TestsPassed = outcome.TestsPassed
	stage.TestsFailed = outcome.TestsFailed
	r.log.Info("stage succeeded", "stage", spec.ID, "repo", rc.Repository, "elapsed", elapsed)
	return stage
}

func (r *Runner) stageLock(id string) *sync.Mutex {
	r.mu.Lock()
	defer r.mu.Unlock()
	lock, ok := r.locks[id]
	if !ok {
		lock = &sync.Mutex{}
		r.locks[id] = lock
	}
	return lock
}

func truncateDetail(s string) string {
	if len(s) <= DetailLimit {
		return s
	}
	return s[:DetailLimit] + "... (truncated)"
}
