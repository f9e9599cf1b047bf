package workspace

import (
	"context"
	"fmt"
	"os/exec"
	"strings"
)

const defaultContainerImage = "ubuntu:24.04"

// ContainerIsolator wraps the git isolator and additionally runs the
// agent inside a process sandbox with the checkout bind-mounted at
// /workspace. Construction fails when no container runtime is present;
// configurations requesting container isolation are rejected rather
// than silently downgraded.
type ContainerIsolator struct {
	git   *GitIsolator
	image string
	log   Logger
}

// NewContainerIsolator verifies the docker CLI is usable and returns the
// isolator.
func NewContainerIsolator(git *GitIsolator, image string, logger Logger) (*ContainerIsolator, error) {
	if image == "" {
		image = defaultContainerImage
	}
	if err := probeDocker(); err != nil {
		return nil, fmt.Errorf("%w: container runtime unavailable: %v", ErrWorkspaceUnavailable, err)
	}
	return &ContainerIsolator{git: git, image: image, log: logger}, nil
}

// Acquire stands up the git workspace, then starts the sandbox around
// it. The git workspace is rolled back if the sandbox cannot start.
func (c *ContainerIsolator) Acquire(ctx context.Context, roleName, agentID string) (*Handle, error) {
	handle, err := c.git.Acquire(ctx, roleName, agentID)
	if err != nil {
		return nil, err
	}

	containerID, err := c.startContainer(ctx, handle)
	if err != nil {
		if releaseErr := c.git.Release(ctx, handle); releaseErr != nil {
			c.log.Error("sandbox rollback failed", "agent_id", agentID, "error", releaseErr)
		}
		return nil, fmt.Errorf("%w: start sandbox: %v", ErrWorkspaceUnavailable, err)
	}

	handle.ContainerID = containerID
	handle.mode = ModeContainer
	return handle, nil
}

// Release stops the sandbox and tears down the git workspace.
func (c *ContainerIsolator) Release(ctx context.Context, handle *Handle) error {
	if handle.Released() {
		return nil
	}
	if handle.ContainerID != "" {
		if err := runDocker(ctx, "rm", "-f", handle.ContainerID); err != nil {
			c.log.Warn("sandbox removal failed", "container_id", handle.ContainerID, "error", err)
		}
		handle.ContainerID = ""
	}
	return c.git.Release(ctx, handle)
}

func (c *ContainerIsolator) startContainer(ctx context.Context, handle *Handle) (string, error) {
	name := fmt.Sprintf("conductor-%s", handle.AgentID)
	out, err := dockerOutput(ctx, "run", "-d",
		"--name", name,
		"-v", fmt.Sprintf("%s:/workspace", handle.Path),
		"-w", "/workspace",
		"-e", "AGENT_ID="+handle.AgentID,
		c.image, "sleep", "infinity")
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(out), nil
}

// HybridIsolator attempts container isolation per acquire and falls back
// to the git-only workspace on failure, logging the downgrade.
type HybridIsolator struct {
	git   *GitIsolator
	image string
	log   Logger
}

// NewHybridIsolator builds the hybrid backend. Unlike the container
// backend, the runtime probe is deferred to acquire time.
func NewHybridIsolator(git *GitIsolator, image string, logger Logger) *HybridIsolator {
	if image == "" {
		image = defaultContainerImage
	}
	return &HybridIsolator{git: git, image: image, log: logger}
}

// Acquire tries the sandboxed path first and downgrades to git-only
// isolation when the sandbox is unavailable.
func (h *HybridIsolator) Acquire(ctx context.Context, roleName, agentID string) (*Handle, error) {
	if err := probeDocker(); err == nil {
		container := &ContainerIsolator{git: h.git, image: h.image, log: h.log}
		handle, containerErr := container.Acquire(ctx, roleName, agentID)
		if containerErr == nil {
			return handle, nil
		}
		h.log.Warn("container isolation failed, downgrading to workspace isolation",
			"agent_id", agentID, "error", containerErr)
	} else {
		h.log.Warn("container runtime unavailable, downgrading to workspace isolation",
			"agent_id", agentID, "error", err)
	}
	return h.git.Acquire(ctx, roleName, agentID)
}

// Release tears down whichever isolation the handle ended up with.
func (h *HybridIsolator) Release(ctx context.Context, handle *Handle) error {
	if !handle.Released() && handle.ContainerID != "" {
		container := &ContainerIsolator{git: h.git, image: h.image, log: h.log}
		return container.Release(ctx, handle)
	}
	return h.git.Release(ctx, handle)
}

func probeDocker() error {
	if _, err := exec.LookPath("docker"); err != nil {
		return err
	}
	return exec.Command("docker", "info").Run()
}

func runDocker(ctx context.Context, args ...string) error {
	_, err := dockerOutput(ctx, args...)
	return err
}

func dockerOutput(ctx context.Context, args ...string) (string, error) {
	cmd := exec.CommandContext(ctx, "docker", args...)
	output, err := cmd.CombinedOutput()
	if err != nil {
		return "", fmt.Errorf("docker %s: %w: %s", strings.Join(args, " "), err, strings.TrimSpace(string(output)))
	}
	return string(output), nil
}
