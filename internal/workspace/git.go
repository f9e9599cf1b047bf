package workspace

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"sync"

	"github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing"
)

const branchPrefix = "conductor"

// GitConfig configures the git-backed isolator.
type GitConfig struct {
	// RepoPath is the primary repository the agents branch from.
	RepoPath string
	// Root is where agent checkouts are created, under Root/agents/<id>.
	Root string
	// ContainerImage is used by the container and hybrid modes.
	ContainerImage string
}

// GitIsolator materializes one branch plus linked checkout per agent.
// go-git manages branch lifecycle; the linked checkout itself is driven
// through the git CLI, which owns the worktree machinery.
type GitIsolator struct {
	cfg  GitConfig
	repo *git.Repository
	log  Logger

	mu   sync.Mutex
	live map[string]string // checkout path -> agent id
}

// NewGitIsolator validates the repository and returns an isolator.
func NewGitIsolator(cfg GitConfig, logger Logger) (*GitIsolator, error) {
	if _, err := exec.LookPath("git"); err != nil {
		return nil, fmt.Errorf("%w: git binary not found: %v", ErrWorkspaceUnavailable, err)
	}
	repo, err := git.PlainOpen(cfg.RepoPath)
	if err != nil {
		return nil, fmt.Errorf("%w: open repository %s: %v", ErrWorkspaceUnavailable, cfg.RepoPath, err)
	}
	if cfg.Root == "" {
		cfg.Root = cfg.RepoPath
	}
	return &GitIsolator{cfg: cfg, repo: repo, log: logger, live: make(map[string]string)}, nil
}

// Acquire creates the agent's branch and linked checkout and writes the
// agent brief files into it. If checkout creation fails after the branch
// exists, the branch is rolled back before the error is returned.
func (g *GitIsolator) Acquire(ctx context.Context, roleName, agentID string) (*Handle, error) {
	path := filepath.Join(g.cfg.Root, "agents", agentID)
	branch := fmt.Sprintf("%s/%s", branchPrefix, agentID)

	g.mu.Lock()
	if owner, taken := g.live[path]; taken {
		g.mu.Unlock()
		return nil, fmt.Errorf("%w: %s held by %s", ErrWorkspaceConflict, path, owner)
	}
	g.live[path] = agentID
	g.mu.Unlock()

	release := func() {
		g.mu.Lock()
		delete(g.live, path)
		g.mu.Unlock()
	}

	if err := g.createBranch(branch); err != nil {
		release()
		return nil, fmt.Errorf("%w: create branch %s: %v", ErrWorkspaceUnavailable, branch, err)
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil {
		g.deleteBranch(branch)
		release()
		return nil, fmt.Errorf("%w: prepare checkout parent: %v", ErrWorkspaceUnavailable, err)
	}

	if _, err := g.runGit(ctx, "worktree", "add", path, branch); err != nil {
		g.deleteBranch(branch)
		release()
		return nil, fmt.Errorf("%w: attach checkout: %v", ErrWorkspaceUnavailable, err)
	}

	handle := &Handle{AgentID: agentID, Branch: branch, Path: path, mode: ModeGit}
	if err := g.writeBriefs(handle, roleName); err != nil {
		teardownErr := g.Release(ctx, handle)
		if teardownErr != nil {
			g.log.Error("brief write failed and teardown errored",
				"agent_id", agentID, "error", err, "teardown_error", teardownErr)
		}
		return nil, fmt.Errorf("%w: write agent briefs: %v", ErrWorkspaceUnavailable, err)
	}

	g.log.Info("workspace acquired", "agent_id", agentID, "branch", branch, "path", path)
	return handle, nil
}

// Release removes the checkout and detaches the branch. Releasing an
// already-released handle is a no-op.
func (g *GitIsolator) Release(ctx context.Context, handle *Handle) error {
	if handle.Released() {
		return nil
	}
	handle.released = true

	var firstErr error
	if _, err := g.runGit(ctx, "worktree", "remove", "--force", handle.Path); err != nil {
		if !isMissingWorktree(err) {
			firstErr = err
		}
	}
	if _, err := g.runGit(ctx, "worktree", "prune"); err != nil && firstErr == nil {
		firstErr = err
	}
	g.deleteBranch(handle.Branch)

	g.mu.Lock()
	delete(g.live, handle.Path)
	g.mu.Unlock()

	if firstErr != nil {
		return fmt.Errorf("%w: teardown %s: %v", ErrWorkspaceUnavailable, handle.Path, firstErr)
	}
	g.log.Info("workspace released", "agent_id", handle.AgentID, "path", handle.Path)
	return nil
}

// LiveCount reports how many workspaces are currently held.
func (g *GitIsolator) LiveCount() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.live)
}

// createBranch points a new branch ref at the current HEAD.
func (g *GitIsolator) createBranch(name string) error {
	head, err := g.repo.Head()
	if err != nil {
		return err
	}
	refName := plumbing.NewBranchReferenceName(name)
	if _, err := g.repo.Reference(refName, false); err == nil {
		return fmt.Errorf("branch %s already exists", name)
	}
	return g.repo.Storer.SetReference(plumbing.NewHashReference(refName, head.Hash()))
}

// deleteBranch drops the branch ref, tolerating its absence.
func (g *GitIsolator) deleteBranch(name string) {
	refName := plumbing.NewBranchReferenceName(name)
	if err := g.repo.Storer.RemoveReference(refName); err != nil && err != plumbing.ErrReferenceNotFound {
		g.log.Warn("branch cleanup failed", "branch", name, "error", err)
	}
}

// runGit executes a git command against the primary repository.
func (g *GitIsolator) runGit(ctx context.Context, args ...string) (string, error) {
	cmd := exec.CommandContext(ctx, "git", args...)
	cmd.Dir = g.cfg.RepoPath
	output, err := cmd.CombinedOutput()
	if err != nil {
		return "", fmt.Errorf("git %s: %w: %s", strings.Join(args, " "), err, strings.TrimSpace(string(output)))
	}
	return strings.TrimSpace(string(output)), nil
}

func isMissingWorktree(err error) bool {
	msg := err.Error()
	return strings.Contains(msg, "not a working tree") ||
		strings.Contains(msg, "is not a working tree") ||
		strings.Contains(msg, "No such file or directory") ||
		strings.Contains(msg, "does not exist")
}

// agentBrief is the JSON config dropped into each checkout.
type agentBrief struct {
	AgentID string `json:"agent_id"`
	Role    string `json:"role"`
	Branch  string `json:"branch"`
	Path    string `json:"workspace"`
}

// writeBriefs drops the identity reminder and machine-readable config
// into the checkout so the agent process can discover who it is.
func (g *GitIsolator) writeBriefs(handle *Handle, roleName string) error {
	md := fmt.Sprintf(`# Agent Brief

You are the %s agent.

- Agent ID: %s
- Workspace: %s
- Branch: %s

Work only inside this checkout. Start every response with your identity
header: AGENT: %s / WORKSPACE: %s / SCOPE: <current focus>.
`, roleName, handle.AgentID, handle.Path, handle.Branch, roleName, handle.Path)

	if err := os.WriteFile(filepath.Join(handle.Path, "AGENT.md"), []byte(md), 0o640); err != nil {
		return err
	}

	brief := agentBrief{AgentID: handle.AgentID, Role: roleName, Branch: handle.Branch, Path: handle.Path}
	data, err := json.MarshalIndent(brief, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(filepath.Join(handle.Path, "agent.json"), data, 0o640)
}
