package orchestrator

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/ferg-cod3s/conductor/internal/identity"
	"github.com/ferg-cod3s/conductor/internal/observability"
	"github.com/ferg-cod3s/conductor/internal/provider"
	"github.com/ferg-cod3s/conductor/internal/session"
	"github.com/ferg-cod3s/conductor/internal/workspace"
)

// SessionFactory builds sessions for the pool: it mints an agent
// identity, stands up an isolated workspace, and verifies the provider
// is reachable from it.
type SessionFactory struct {
	backend     workspace.Backend
	executor    provider.Executor
	logger      *observability.Logger
	compression bool
	now         func() time.Time
	newID       func() string
}

// NewSessionFactory wires a factory.
func NewSessionFactory(backend workspace.Backend, executor provider.Executor, logger *observability.Logger, compression bool) *SessionFactory {
	return &SessionFactory{
		backend:     backend,
		executor:    executor,
		logger:      logger,
		compression: compression,
		now:         time.Now,
		newID:       uuid.NewString,
	}
}

// Create mints an identity, acquires its workspace, and wraps both into
// a session. The workspace is rolled back if anything later fails.
func (f *SessionFactory) Create(ctx context.Context, role identity.Role) (*session.Session, error) {
	ident := identity.NewAgentIdentityAt(role, "", f.now, f.newID)

	handle, err := f.backend.Acquire(ctx, role.Name(), ident.AgentID)
	if err != nil {
		return nil, err
	}

	// The workspace backend owns path layout; adopt its path as the
	// identity's workspace.
	ident.WorkspacePath = handle.Path

	s := session.NewSession(f.newID(), ident, handle, f.compression, f.now())
	f.logger.Info("session materialized",
		"session_id", s.ID, "agent_id", ident.AgentID, "workspace", handle.Path)
	return s, nil
}

// Validate probes the provider from the session's workspace.
func (f *SessionFactory) Validate(ctx context.Context, s *session.Session) (bool, error) {
	status, err := f.executor.HealthCheck(ctx, s.Identity.WorkspacePath)
	if err != nil {
		return false, err
	}
	return status.Healthy, nil
}

// Destroy releases the session's workspace.
func (f *SessionFactory) Destroy(ctx context.Context, s *session.Session) error {
	if s.Workspace == nil {
		return nil
	}
	return f.backend.Release(ctx, s.Workspace)
}
