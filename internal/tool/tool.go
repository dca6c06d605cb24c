// Package tool wraps the external tools a pipeline run drives: version
// control for checkout, project test runners, the container CLI for image
// build and push, the registry itself, and the cluster-management CLI for
// deploys.
//
// Each tool sits behind a narrow capability interface so the pipeline
// executor can be tested against fakes instead of real subprocesses. The
// real implementations either shell out through the executor package or, for
// checkout and the registry probe, use native clients.
package tool

import (
	"context"

	"github.com/opencontainers/go-digest"
)

// CheckoutResult describes a completed checkout.
type CheckoutResult struct {
	// Workdir is the path of the checked-out working tree. The caller
	// owns the directory and removes it when the run finishes.
	Workdir string

	// CommitSHA is the short hash of the checked-out commit.
	CommitSHA string

	// URL links to the repository page.
	URL string
}

// Checkout clones a repository for a run.
type Checkout interface {
	Checkout(ctx context.Context, repository string) (CheckoutResult, error)
}

// TestReport describes a test-runner invocation. Passed and Failed are nil
// when the runner's output did not yield counts.
type TestReport struct {
	Passed *int
	Failed *int

	// Detail is a short human-readable summary line.
	Detail string
}

// Tester runs the project's test suite. A failing suite returns both a
// report (with whatever counts could be parsed) and a non-nil error.
type Tester interface {
	Test(ctx context.Context, workdir string) (TestReport, error)
}

// ImageBuilder builds a container image from a working tree.
type ImageBuilder interface {
	Build(ctx context.Context, workdir, tag string) error
}

// PushReport describes a completed image push.
type PushReport struct {
	// Ref is the pushed image reference.
	Ref string

	// Digest is the content digest reported by the registry, empty when
	// the CLI output did not include one.
	Digest digest.Digest
}

// ImagePusher pushes a built image to the registry.
type ImagePusher interface {
	Push(ctx context.Context, tag string) (PushReport, error)
}

// RegistryProber checks that the target registry is reachable with the
// configured credentials before a push is attempted.
type RegistryProber interface {
	Ping(ctx context.Context) error
}

// Deployer updates a running workload's image reference.
type Deployer interface {
	// Available reports whether the cluster CLI is present and the
	// cluster reachable; a non-nil error carries the reason and makes
	// the deploy stage skip.
	Available(ctx context.Context) error

	// Deploy points the configured workload at imageRef and returns a
	// short human-readable result.
	Deploy(ctx context.Context, imageRef string) (string, error)
}
