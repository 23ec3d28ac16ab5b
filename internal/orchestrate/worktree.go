package orchestrate

import (
	"fmt"
	"os"
	"os/exec"
	"path/filepath"

	"github.com/go-git/go-git/v5"
)

// Worktree describes an isolated working tree created for one worker.
type Worktree struct {
	Path   string
	Branch string
	HeadSHA string
}

// CreateWorktree adds a new git worktree at a fresh temp path, branched
// from the repository's current HEAD, so a worker's file edits never
// collide with the commander's own working tree or another worker's.
//
// go-git's own Worktree type models an in-memory/billy-backed checkout, not
// the on-disk `git worktree add` linked-worktree feature this needs, so the
// actual worktree creation shells out to the git CLI; go-git is used here
// to resolve the repository's current HEAD for the handshake payload and
// to fail fast if repoPath isn't a git repository at all.
func CreateWorktree(repoPath, workerID string) (*Worktree, error) {
	repo, err := git.PlainOpen(repoPath)
	if err != nil {
		return nil, fmt.Errorf("orchestrate: %s is not a git repository: %w", repoPath, err)
	}
	head, err := repo.Head()
	if err != nil {
		return nil, fmt.Errorf("orchestrate: resolving HEAD: %w", err)
	}

	base, err := os.MkdirTemp("", "codi-worker-"+workerID+"-")
	if err != nil {
		return nil, fmt.Errorf("orchestrate: creating worktree temp dir: %w", err)
	}
	// MkdirTemp already created the directory; `git worktree add` wants to
	// create the leaf itself, so target a subdirectory.
	path := filepath.Join(base, "wt")
	branch := "codi-worker-" + workerID

	cmd := exec.Command("git", "worktree", "add", "-b", branch, path, head.Hash().String())
	cmd.Dir = repoPath
	if out, err := cmd.CombinedOutput(); err != nil {
		os.RemoveAll(base)
		return nil, fmt.Errorf("orchestrate: git worktree add failed: %w: %s", err, out)
	}

	return &Worktree{Path: path, Branch: branch, HeadSHA: head.Hash().String()}, nil
}

// Remove tears down a worker's worktree and deletes its branch. Errors are
// collected rather than short-circuited so a failure removing the branch
// doesn't leave the directory behind, and vice versa.
func Remove(repoPath string, wt *Worktree) error {
	var errs []error

	rm := exec.Command("git", "worktree", "remove", "--force", wt.Path)
	rm.Dir = repoPath
	if out, err := rm.CombinedOutput(); err != nil {
		errs = append(errs, fmt.Errorf("removing worktree: %w: %s", err, out))
	}

	branchDel := exec.Command("git", "branch", "-D", wt.Branch)
	branchDel.Dir = repoPath
	if out, err := branchDel.CombinedOutput(); err != nil {
		errs = append(errs, fmt.Errorf("deleting branch %s: %w: %s", wt.Branch, err, out))
	}

	os.RemoveAll(filepath.Dir(wt.Path))

	if len(errs) > 0 {
		return fmt.Errorf("orchestrate: worktree teardown had %d error(s): %v", len(errs), errs)
	}
	return nil
}
