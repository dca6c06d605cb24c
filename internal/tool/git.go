package tool

import (
	"context"
	"fmt"
	"os"

	"github.com/go-git/go-billy/v5/osfs"
	gogit "github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing/cache"
	"github.com/go-git/go-git/v5/storage/filesystem"
)

// shortHashLen is the length of the short commit reference used for image
// tags and status reporting.
const shortHashLen = 7

// GitCheckout clones repositories with go-git. Clones are shallow
// (single-branch, bounded depth) since a run only needs the tip of the
// default branch.
type GitCheckout struct {
	host        string
	depth       int
	workdirRoot string
}

// NewGitCheckout returns a Checkout cloning from host (e.g.
// "https://github.com") into fresh directories under workdirRoot. An empty
// workdirRoot uses the system temp directory.
func NewGitCheckout(host string, depth int, workdirRoot string) *GitCheckout {
	return &GitCheckout{host: host, depth: depth, workdirRoot: workdirRoot}
}

// Checkout implements Checkout. The returned Workdir belongs to the caller;
// on error any partially created directory is removed.
func (g *GitCheckout) Checkout(ctx context.Context, repository string) (CheckoutResult, error) {
	dir, err := os.MkdirTemp(g.workdirRoot, "pipeline-checkout-*")
	if err != nil {
		return CheckoutResult{}, fmt.Errorf("failed to create working tree directory: %w", err)
	}

	worktreeFS := osfs.New(dir)
	dotGitFS, err := worktreeFS.Chroot(gogit.GitDirName)
	if err != nil {
		os.RemoveAll(dir)
		return CheckoutResult{}, fmt.Errorf("failed to create .git directory: %w", err)
	}
	storer := filesystem.NewStorage(dotGitFS, cache.NewObjectLRUDefault())

	remoteURL := g.host + "/" + repository
	repo, err := gogit.CloneContext(ctx, storer, worktreeFS, &gogit.CloneOptions{
		URL:          remoteURL,
		Depth:        g.depth,
		SingleBranch: g.depth > 0,
	})
	if err != nil {
		os.RemoveAll(dir)
		return CheckoutResult{}, fmt.Errorf("failed to clone %s: %w", remoteURL, err)
	}

	head, err := repo.Head()
	if err != nil {
		os.RemoveAll(dir)
		return CheckoutResult{}, fmt.Errorf("failed to resolve HEAD of %s: %w", repository, err)
	}

	return CheckoutResult{
		Workdir:   dir,
		CommitSHA: head.Hash().String()[:shortHashLen],
		URL:       remoteURL,
	}, nil
}
