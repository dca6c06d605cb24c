// Package pipeline sequences the fixed stage list for a single trigger and
// publishes progressive status to the store.
//
// One Execute call runs exactly one pipeline: checkout, test, image build,
// image push, deploy, in that order, never concurrently within the run.
// Partial failure is policy, not an exception: a checkout failure skips
// everything after it, a build failure skips push and deploy, a test failure
// marks the run failed but lets packaging proceed, and missing credentials
// or tooling skip their stage without failing the run.
//
// After every stage transition the partial run is put into the status store
// so pollers observe progress while the trigger call is still blocked.
package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/forgeline/pipeline/domain"
	"github.com/forgeline/pipeline/internal/errcode"
	"github.com/forgeline/pipeline/internal/repo"
	"github.com/forgeline/pipeline/internal/stage"
	"github.com/forgeline/pipeline/internal/store"
	"github.com/forgeline/pipeline/internal/tool"
)

// Toolset bundles the external-tool capabilities a run drives. Tests supply
// fakes; production wiring supplies the real implementations from the tool
// package.
type Toolset struct {
	Checkout tool.Checkout
	Tester   tool.Tester
	Builder  tool.ImageBuilder
	Pusher   tool.ImagePusher
	Registry tool.RegistryProber
	Deployer tool.Deployer
}

// Config holds the per-stage policy knobs.
type Config struct {
	CheckoutTimeout time.Duration
	TestTimeout     time.Duration
	BuildTimeout    time.Duration
	PushTimeout     time.Duration
	DeployTimeout   time.Duration

	// RegistryHost prefixes image references; empty keeps images local.
	RegistryHost string

	// RegistryUserEnv and RegistryPasswordEnv name the credential keys
	// whose absence skips the push stage.
	RegistryUserEnv     string
	RegistryPasswordEnv string
}

// Executor runs pipelines. It is safe for concurrent use across different
// repositories; stages within one run always execute sequentially.
type Executor struct {
	tools  Toolset
	runner *stage.Runner
	store  *store.Store
	cfg    Config
	log    *slog.Logger

	// seq issues run sequence numbers. Globally monotonic, which is
	// sufficient for the store's per-key staleness check.
	seq atomic.Uint64
}

// New returns an Executor publishing into st.
func New(tools Toolset, runner *stage.Runner, st *store.Store, cfg Config, log *slog.Logger) *Executor {
	return &Executor{
		tools:  tools,
		runner: runner,
		store:  st,
		cfg:    cfg,
		log:    log,
	}
}

// Execute validates the repository identifier, runs the full stage sequence,
// and returns the finished run.
//
// Only validation errors are returned as errors; every execution-domain
// failure is recorded on the run itself. The caller's context bounds the
// whole run: on cancellation the current stage stops waiting on its external
// process (the process itself may continue, see the executor package) and
// the remaining stages are recorded as skipped.
func (e *Executor) Execute(ctx context.Context, rawRepo string) (domain.PipelineRun, error) {
	id, err := repo.Normalize(rawRepo)
	if err != nil {
		return domain.PipelineRun{}, errcode.Wrap(err, errcode.CodeInvalidInput, "invalid trigger request")
	}

	run := domain.PipelineRun{
		ID:         uuid.NewString(),
		Repository: id,
		Seq:        e.seq.Add(1),
		Status:     domain.RunInProgress,
		Stages:     newStages(),
		StartedAt:  time.Now().UTC(),
	}
	e.log.Info("pipeline started", "repo", id, "run", run.ID, "seq", run.Seq)
	e.publish(&run)

	rc := stage.RunContext{Repository: id}
	var workdir, imageTag string

	// Checkout. Failure here is fatal: nothing later can run without a
	// working tree.
	checkout := e.runStage(ctx, &run, domain.StageIDCheckout, stage.Spec{
		ID:      domain.StageIDCheckout,
		Name:    "Checkout",
		Timeout: e.cfg.CheckoutTimeout,
		Invoke: func(ctx context.Context, rc stage.RunContext) (stage.Outcome, error) {
			res, err := e.tools.Checkout.Checkout(ctx, rc.Repository)
			if err != nil {
				return stage.Outcome{}, err
			}
			run.CommitSHA = res.CommitSHA
			workdir = res.Workdir
			return stage.Outcome{
				Detail: "checked out " + res.CommitSHA,
				URL:    res.URL,
			}, nil
		},
	}, &rc)

	if checkout.Status != domain.StageSuccess {
		e.skipRemaining(&run, domain.StageIDTest, "checkout did not succeed")
		e.finish(&run)
		return run.Clone(), nil
	}
	rc.CommitSHA = run.CommitSHA
	rc.Workdir = workdir
	if workdir != "" {
		defer os.RemoveAll(workdir)
	}

	// Test. A failing suite marks the run failed but is not fatal:
	// packaging still proceeds so the failure report ships alongside a
	// buildable image.
	e.runStage(ctx, &run, domain.StageIDTest, stage.Spec{
		ID:      domain.StageIDTest,
		Name:    "Test",
		Timeout: e.cfg.TestTimeout,
		Invoke: func(ctx context.Context, rc stage.RunContext) (stage.Outcome, error) {
			report, err := e.tools.Tester.Test(ctx, rc.Workdir)
			return stage.Outcome{
				Detail:      report.Detail,
				TestsPassed: report.Passed,
				TestsFailed: report.Failed,
			}, err
		},
	}, &rc)

	if ctx.Err() != nil {
		e.skipRemaining(&run, domain.StageIDBuild, "run canceled")
		e.finish(&run)
		return run.Clone(), nil
	}

	// Image build.
	build := e.runStage(ctx, &run, domain.StageIDBuild, stage.Spec{
		ID:      domain.StageIDBuild,
		Name:    "Image build",
		Timeout: e.cfg.BuildTimeout,
		Invoke: func(ctx context.Context, rc stage.RunContext) (stage.Outcome, error) {
			imageTag = tool.ImageTag(e.cfg.RegistryHost, rc.Repository, rc.CommitSHA)
			if err := e.tools.Builder.Build(ctx, rc.Workdir, imageTag); err != nil {
				return stage.Outcome{}, err
			}
			return stage.Outcome{Detail: "built " + imageTag}, nil
		},
	}, &rc)

	if build.Status != domain.StageSuccess {
		e.skipRemaining(&run, domain.StageIDPush, "image build did not succeed")
		e.finish(&run)
		return run.Clone(), nil
	}

	// Image push, gated on registry credentials being present in the
	// execution environment and on the registry answering a ping.
	e.runStage(ctx, &run, domain.StageIDPush, stage.Spec{
		ID:          domain.StageIDPush,
		Name:        "Image push",
		Timeout:     e.cfg.PushTimeout,
		RequiredEnv: []string{e.cfg.RegistryUserEnv, e.cfg.RegistryPasswordEnv},
		Invoke: func(ctx context.Context, rc stage.RunContext) (stage.Outcome, error) {
			if err := e.tools.Registry.Ping(ctx); err != nil {
				return stage.Outcome{}, stage.Skip("%v", err)
			}
			report, err := e.tools.Pusher.Push(ctx, imageTag)
			if err != nil {
				return stage.Outcome{}, err
			}
			detail := "pushed " + report.Ref
			if report.Digest != "" {
				detail += " (" + report.Digest.String() + ")"
			}
			return stage.Outcome{Detail: detail}, nil
		},
	}, &rc)

	if ctx.Err() != nil {
		e.skipRemaining(&run, domain.StageIDDeploy, "run canceled")
		e.finish(&run)
		return run.Clone(), nil
	}

	// Deploy, gated on the cluster CLI being available and reachable. A
	// skipped push does not block deploy: the demo cluster pulls the
	// locally built tag.
	e.runStage(ctx, &run, domain.StageIDDeploy, stage.Spec{
		ID:      domain.StageIDDeploy,
		Name:    "Deploy",
		Timeout: e.cfg.DeployTimeout,
		Invoke: func(ctx context.Context, rc stage.RunContext) (stage.Outcome, error) {
			if err := e.tools.Deployer.Available(ctx); err != nil {
				return stage.Outcome{}, stage.Skip("%v", err)
			}
			detail, err := e.tools.Deployer.Deploy(ctx, imageTag)
			if err != nil {
				return stage.Outcome{}, err
			}
			return stage.Outcome{Detail: detail}, nil
		},
	}, &rc)

	e.finish(&run)
	return run.Clone(), nil
}

// newStages returns the fixed stage list, all pending.
func newStages() []domain.Stage {
	names := map[string]string{
		domain.StageIDCheckout: "Checkout",
		domain.StageIDTest:     "Test",
		domain.StageIDBuild:    "Image build",
		domain.StageIDPush:     "Image push",
		domain.StageIDDeploy:   "Deploy",
	}
	stages := make([]domain.Stage, 0, len(domain.StageOrder))
	for _, id := range domain.StageOrder {
		stages = append(stages, domain.Stage{ID: id, Name: names[id], Status: domain.StagePending})
	}
	return stages
}

// runStage drives one stage through its state machine, publishing the
// partial run after each transition.
func (e *Executor) runStage(
	ctx context.Context,
	run *domain.PipelineRun,
	stageID string,
	spec stage.Spec,
	rc *stage.RunContext,
) domain.Stage {
	idx := stageIndex(run, stageID)

	run.Stages[idx].Status = domain.StageInProgress
	run.Status = run.DeriveStatus()
	e.publish(run)

	result := e.runner.Run(ctx, spec, *rc)

	run.Stages[idx] = result
	run.Status = run.DeriveStatus()
	e.publish(run)
	return result
}

// skipRemaining marks fromID and every later stage skipped with the given
// reason, leaving already-terminal stages untouched.
func (e *Executor) skipRemaining(run *domain.PipelineRun, fromID, reason string) {
	skipping := false
	for i := range run.Stages {
		if run.Stages[i].ID == fromID {
			skipping = true
		}
		if skipping && !run.Stages[i].Status.Terminal() {
			run.Stages[i].Status = domain.StageSkipped
			run.Stages[i].Detail = reason
		}
	}
	run.Status = run.DeriveStatus()
	e.publish(run)
}

func (e *Executor) finish(run *domain.PipelineRun) {
	run.Status = run.DeriveStatus()
	e.publish(run)
	e.log.Info("pipeline finished", "repo", run.Repository, "run", run.ID, "status", run.Status)
}

func (e *Executor) publish(run *domain.PipelineRun) {
	if !e.store.Put(*run) {
		// A newer run for this repository already published; keep
		// executing (the caller still gets this run's result) but stop
		// expecting our snapshots to win.
		e.log.Debug("snapshot superseded by newer run", "repo", run.Repository, "seq", run.Seq)
	}
}

func stageIndex(run *domain.PipelineRun, id string) int {
	for i := range run.Stages {
		if run.Stages[i].ID == id {
			return i
		}
	}
	// The stage list is fixed at construction; a miss is a programming
	// error.
	panic(fmt.Sprintf("unknown stage %q", id))
}
