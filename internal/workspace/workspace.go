// Package workspace materializes isolated per-agent working directories.
// Each agent gets its own branch and linked checkout for the life of one
// session; teardown is guaranteed and idempotent.
package workspace

import (
	"context"
	"errors"
	"fmt"
)

// Mode selects how agent workspaces are isolated.
type Mode string

const (
	// ModeGit isolates agents on dedicated branches with linked
	// checkouts.
	ModeGit Mode = "git"
	// ModeContainer additionally sandboxes the agent process with the
	// checkout bind-mounted.
	ModeContainer Mode = "container"
	// ModeHybrid attempts container isolation and falls back to git
	// isolation, logging the downgrade.
	ModeHybrid Mode = "hybrid"
)

// ErrWorkspaceUnavailable indicates workspace creation or teardown
// failed and the session cannot be used.
var ErrWorkspaceUnavailable = errors.New("workspace unavailable")

// ErrWorkspaceConflict indicates the requested workspace path is owned
// by another live session.
var ErrWorkspaceConflict = errors.New("workspace already in use")

// Handle identifies one acquired workspace. Handles are returned to the
// backend exactly once; releasing a released handle is a no-op.
type Handle struct {
	AgentID     string
	Branch      string
	Path        string
	ContainerID string
	mode        Mode
	released    bool
}

// Mode reports how this workspace was isolated.
func (h *Handle) Mode() Mode { return h.mode }

// Released reports whether the handle has been torn down.
func (h *Handle) Released() bool { return h == nil || h.released }

// Backend stands up and tears down agent workspaces. The rest of the
// runtime is oblivious to the isolation mode behind it.
type Backend interface {
	Acquire(ctx context.Context, roleName, agentID string) (*Handle, error)
	Release(ctx context.Context, handle *Handle) error
}

// With acquires a workspace, runs fn, and guarantees release on every
// exit path including panics.
func With(ctx context.Context, backend Backend, roleName, agentID string, fn func(*Handle) error) (err error) {
	handle, err := backend.Acquire(ctx, roleName, agentID)
	if err != nil {
		return err
	}
	defer func() {
		releaseErr := backend.Release(ctx, handle)
		if err == nil {
			err = releaseErr
		}
		if r := recover(); r != nil {
			panic(r)
		}
	}()
	return fn(handle)
}

// New constructs the backend for the configured isolation mode.
func New(mode Mode, cfg GitConfig, logger Logger) (Backend, error) {
	switch mode {
	case ModeGit, "":
		return NewGitIsolator(cfg, logger)
	case ModeContainer:
		git, err := NewGitIsolator(cfg, logger)
		if err != nil {
			return nil, err
		}
		return NewContainerIsolator(git, cfg.ContainerImage, logger)
	case ModeHybrid:
		git, err := NewGitIsolator(cfg, logger)
		if err != nil {
			return nil, err
		}
		return NewHybridIsolator(git, cfg.ContainerImage, logger), nil
	default:
		return nil, fmt.Errorf("unknown isolation mode: %q", mode)
	}
}

// Logger is the minimal logging surface the isolators need.
type Logger interface {
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}
