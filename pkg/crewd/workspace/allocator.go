// Package workspace gives each agent an isolated working tree bound to a
// dedicated branch, derived from a base revision of the session repository.
// Workspaces are git worktrees: cheap, branch-scoped, and visible to normal
// git tooling. Workspace lifetime is tied to the session, not the agent
// process — release happens at teamdelete, never automatically.
package workspace

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/dmarchetti/crewd/pkg/crewd/config"
)

// Sentinel errors for errors.Is checks.
var (
	ErrDirtyBase   = errors.New("base repository has uncommitted changes")
	ErrBranchInUse = errors.New("branch already checked out elsewhere")
	ErrLockTimeout = errors.New("timed out waiting for allocation lock")
)

// branchPrefix namespaces agent branches in the base repository.
const branchPrefix = "crew/"

// Allocator creates and tracks per-agent workspaces for one session.
type Allocator struct {
	// Repo is the base repository.
	Repo string

	// Dir is where worktrees are created (one subdirectory per agent).
	Dir string

	// Policy governs uncommitted tracked changes in the base at
	// PrepareBase time. Decided once per session.
	Policy config.DirtyBasePolicy

	// LockWait bounds how long a concurrent allocation waits for the
	// allocation lock before failing.
	LockWait time.Duration

	logger *slog.Logger

	// base is the resolved base revision all agents branch from, set by
	// PrepareBase.
	base string
}

// New creates an allocator for the session.
func New(repo, dir string, policy config.DirtyBasePolicy, logger *slog.Logger) *Allocator {
	if logger == nil {
		logger = slog.Default()
	}
	return &Allocator{
		Repo:     repo,
		Dir:      dir,
		Policy:   policy,
		LockWait: 10 * time.Second,
		logger:   logger.With("component", "workspace"),
	}
}

// BranchFor derives the dedicated branch name for an agent. Deterministic:
// the same agent always maps to the same branch.
func BranchFor(agent string) string { return branchPrefix + agent }

// PrepareBase resolves the base revision for the whole session, applying
// the dirty-base policy once. With an explicit baseRev the policy still
// runs (a dirty tree under "forbid" aborts before any workspace exists).
func (a *Allocator) PrepareBase(baseRev string) (string, error) {
	if _, err := runGit(a.Repo, "rev-parse", "--git-dir"); err != nil {
		return "", fmt.Errorf("%q is not a git repository: %w", a.Repo, err)
	}

	dirty, err := a.baseDirty()
	if err != nil {
		return "", err
	}

	switch {
	case dirty && a.Policy == config.DirtyForbid:
		return "", fmt.Errorf("%w: commit or stash changes in %s, or set dirty_base: snapshot", ErrDirtyBase, a.Repo)
	case dirty && a.Policy == config.DirtySnapshot:
		// stash create commits the working tree state without touching
		// index or files; every agent branches from the same snapshot.
		sha, err := runGit(a.Repo, "stash", "create", "crewd session base snapshot")
		if err != nil {
			return "", fmt.Errorf("snapshot dirty base: %w", err)
		}
		if sha != "" {
			a.base = sha
			a.logger.Info("dirty base snapshotted", "revision", sha)
			return sha, nil
		}
	}

	if baseRev == "" {
		baseRev = "HEAD"
	}
	sha, err := runGit(a.Repo, "rev-parse", "--verify", baseRev+"^{commit}")
	if err != nil {
		return "", fmt.Errorf("resolve base revision %q: %w", baseRev, err)
	}
	a.base = sha
	return sha, nil
}

// Allocate creates (or reuses) the isolated workspace for an agent and
// returns its path. Stale worktree metadata is pruned first so occupancy
// checks see reality. Allocation is serialized through a lock file so
// concurrent orchestration invocations cannot create divergent workspaces
// for the same agent.
func (a *Allocator) Allocate(agent string) (string, error) {
	if a.base == "" {
		return "", fmt.Errorf("allocate %q: PrepareBase has not run", agent)
	}

	unlock, err := a.lock()
	if err != nil {
		return "", err
	}
	defer unlock()

	// Deleted-by-hand sandboxes leave worktree records behind; prune them
	// before asking git who has which branch checked out.
	if _, err := runGit(a.Repo, "worktree", "prune"); err != nil {
		a.logger.Warn("worktree prune failed", "error", err)
	}

	branch := BranchFor(agent)
	path := filepath.Join(a.Dir, agent)

	// Reuse an existing allocation for this agent.
	if existing, err := a.worktreePathFor(branch); err == nil && existing != "" {
		if existing == path {
			a.logger.Debug("workspace reused", "agent", agent, "path", path)
			return path, nil
		}
		return "", fmt.Errorf("%w: branch %s is checked out at %s", ErrBranchInUse, branch, existing)
	}

	if err := os.MkdirAll(a.Dir, 0o755); err != nil {
		return "", fmt.Errorf("create workspace dir: %w", err)
	}

	args := []string{"worktree", "add"}
	if a.branchExists(branch) {
		args = append(args, path, branch)
	} else {
		args = append(args, "-b", branch, path, a.base)
	}
	if _, err := runGit(a.Repo, args...); err != nil {
		return "", fmt.Errorf("allocate workspace for %q: %w", agent, err)
	}

	a.logger.Info("workspace allocated", "agent", agent, "branch", branch, "path", path)
	return path, nil
}

// Preflight verifies every agent's branch is either free or already ours
// before any workspace is created. A collision on the last agent must not
// leave the first agents half-allocated.
func (a *Allocator) Preflight(agents []string) error {
	if _, err := runGit(a.Repo, "worktree", "prune"); err != nil {
		a.logger.Warn("worktree prune failed", "error", err)
	}
	for _, agent := range agents {
		branch := BranchFor(agent)
		existing, err := a.worktreePathFor(branch)
		if err != nil {
			return err
		}
		if existing != "" && existing != filepath.Join(a.Dir, agent) {
			return fmt.Errorf("%w: branch %s is checked out at %s", ErrBranchInUse, branch, existing)
		}
	}
	return nil
}

// Release removes an agent's worktree and branch. Invoked by session
// teardown only.
func (a *Allocator) Release(agent string) error {
	path := filepath.Join(a.Dir, agent)
	if _, err := os.Stat(path); err == nil {
		if _, err := runGit(a.Repo, "worktree", "remove", "--force", path); err != nil {
			return fmt.Errorf("release workspace for %q: %w", agent, err)
		}
	}
	branch := BranchFor(agent)
	if a.branchExists(branch) {
		if _, err := runGit(a.Repo, "branch", "-D", branch); err != nil {
			a.logger.Warn("branch delete failed", "branch", branch, "error", err)
		}
	}
	a.logger.Info("workspace released", "agent", agent)
	return nil
}

// baseDirty reports uncommitted changes to tracked files in the base.
func (a *Allocator) baseDirty() (bool, error) {
	out, err := runGit(a.Repo, "status", "--porcelain", "--untracked-files=no")
	if err != nil {
		return false, fmt.Errorf("check base status: %w", err)
	}
	return out != "", nil
}

func (a *Allocator) branchExists(branch string) bool {
	_, err := runGit(a.Repo, "rev-parse", "--verify", "refs/heads/"+branch)
	return err == nil
}

// worktreePathFor returns the checkout path of a branch, or "" when the
// branch is not checked out anywhere.
func (a *Allocator) worktreePathFor(branch string) (string, error) {
	out, err := runGit(a.Repo, "worktree", "list", "--porcelain")
	if err != nil {
		return "", fmt.Errorf("list worktrees: %w", err)
	}
	var current string
	for _, line := range strings.Split(out, "\n") {
		switch {
		case strings.HasPrefix(line, "worktree "):
			current = strings.TrimPrefix(line, "worktree ")
		case line == "branch refs/heads/"+branch:
			return current, nil
		}
	}
	return "", nil
}

// lock serializes allocation via an exclusive lock file with bounded wait.
func (a *Allocator) lock() (func(), error) {
	if err := os.MkdirAll(a.Dir, 0o755); err != nil {
		return nil, fmt.Errorf("create workspace dir: %w", err)
	}
	lockPath := filepath.Join(a.Dir, ".alloc.lock")
	deadline := time.Now().Add(a.LockWait)
	for {
		f, err := os.OpenFile(lockPath, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o644)
		if err == nil {
			fmt.Fprintf(f, "%d\n", os.Getpid())
			f.Close()
			return func() { os.Remove(lockPath) }, nil
		}
		if !os.IsExist(err) {
			return nil, fmt.Errorf("take allocation lock: %w", err)
		}
		if time.Now().After(deadline) {
			return nil, fmt.Errorf("%w after %s (stale %s?)", ErrLockTimeout, a.LockWait, lockPath)
		}
		time.Sleep(50 * time.Millisecond)
	}
}
