package identity

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Environment variable names set on every spawned session.
const (
	EnvAgentID   = "AGENT_ID"
	EnvSessionID = "SESSION_ID"
	EnvRole      = "ROLE"
)

// Clock supplies wall-clock time. Overridable for tests.
type Clock func() time.Time

// AgentIdentity is the immutable identity of one agent. It is created
// once per agent and owned exclusively by the session hosting the agent.
type AgentIdentity struct {
	AgentID         string            `json:"agent_id"`
	Role            Role              `json:"role"`
	WorkspacePath   string            `json:"workspace_path"`
	SessionID       string            `json:"session_id"`
	ParentProcessID int               `json:"parent_process_id"`
	InitializedAt   time.Time         `json:"initialized_at"`
	EnvVars         map[string]string `json:"env_vars"`
}

// NewAgentIdentity mints an identity for a role rooted under
// workspaceRoot. The agent id has the form <role>-agent-<uuid>.
func NewAgentIdentity(role Role, workspaceRoot string) AgentIdentity {
	return NewAgentIdentityAt(role, workspaceRoot, time.Now, uuid.NewString)
}

// NewAgentIdentityAt is NewAgentIdentity with an injected clock and id
// source for deterministic tests.
func NewAgentIdentityAt(role Role, workspaceRoot string, now Clock, newID func() string) AgentIdentity {
	agentID := fmt.Sprintf("%s-agent-%s", strings.ToLower(role.Name()), newID())
	sessionID := newID()
	return AgentIdentity{
		AgentID:         agentID,
		Role:            role,
		WorkspacePath:   filepath.Join(workspaceRoot, "agents", agentID),
		SessionID:       sessionID,
		ParentProcessID: os.Getpid(),
		InitializedAt:   now(),
		EnvVars: map[string]string{
			EnvAgentID:   agentID,
			EnvSessionID: sessionID,
			EnvRole:      role.Name(),
		},
	}
}

// Header renders the identity header block every agent response must
// carry.
func (id AgentIdentity) Header(scope string) string {
	return fmt.Sprintf("AGENT: %s / WORKSPACE: %s / SCOPE: %s", id.Role.Name(), id.WorkspacePath, scope)
}
