// Package session maintains a bounded population of warm, reusable
// agent sessions per role, with reuse strategies, LRU eviction, circuit
// breaking around session creation, and batch execution.
package session

import (
	"sync"
	"time"

	"github.com/ferg-cod3s/conductor/internal/identity"
	"github.com/ferg-cod3s/conductor/internal/workspace"
)

// Metrics aggregates per-session operation counters. The invariant
// TotalOps == SuccessfulOps + FailedOps holds at all times.
type Metrics struct {
	TotalOps      int           `json:"total_operations"`
	SuccessfulOps int           `json:"successful_operations"`
	FailedOps     int           `json:"failed_operations"`
	TotalExecTime time.Duration `json:"total_execution_time"`
	AvgExecTime   time.Duration `json:"average_execution_time"`
	TokensSaved   int           `json:"tokens_saved"`
}

// Session is a long-lived execution context around one agent. It
// exclusively owns its identity and workspace; callers share it by
// reference only for the duration of one operation, serialized through
// the execution mutex.
type Session struct {
	ID                 string
	Identity           identity.AgentIdentity
	Role               identity.Role
	CreatedAt          time.Time
	CompressionEnabled bool
	Workspace          *workspace.Handle

	// execMu serializes operations; at most one is in flight.
	execMu sync.Mutex

	// stateMu guards lastUsed and metrics.
	stateMu  sync.Mutex
	lastUsed time.Time
	metrics  Metrics
}

// NewSession wraps an identity and workspace into a fresh session.
func NewSession(id string, ident identity.AgentIdentity, handle *workspace.Handle, compression bool, now time.Time) *Session {
	return &Session{
		ID:                 id,
		Identity:           ident,
		Role:               ident.Role,
		CreatedAt:          now,
		CompressionEnabled: compression,
		Workspace:          handle,
		lastUsed:           now,
	}
}

// LastUsed returns when the session last ran an operation.
func (s *Session) LastUsed() time.Time {
	s.stateMu.Lock()
	defer s.stateMu.Unlock()
	return s.lastUsed
}

// Metrics returns a copy of the session's aggregate metrics.
func (s *Session) Metrics() Metrics {
	s.stateMu.Lock()
	defer s.stateMu.Unlock()
	return s.metrics
}

// Load estimates how busy the session is on a 0..1 scale from its
// operation rate and failure rate.
func (s *Session) Load() float64 {
	m := s.Metrics()
	operationRate := float64(m.TotalOps) / 100.0
	failureRate := 0.0
	if m.TotalOps > 0 {
		failureRate = float64(m.FailedOps) / float64(m.TotalOps)
	}
	load := operationRate + failureRate*2.0
	if load > 1.0 {
		load = 1.0
	}
	return load
}

// touch advances the last-used timestamp.
func (s *Session) touch(now time.Time) {
	s.stateMu.Lock()
	s.lastUsed = now
	s.stateMu.Unlock()
}

// recordOperation folds one completed operation into the metrics. The
// update is atomic with respect to operation completion: it runs before
// the execution mutex is released.
func (s *Session) recordOperation(success bool, elapsed time.Duration, now time.Time) {
	s.stateMu.Lock()
	defer s.stateMu.Unlock()
	s.metrics.TotalOps++
	if success {
		s.metrics.SuccessfulOps++
	} else {
		s.metrics.FailedOps++
	}
	s.metrics.TotalExecTime += elapsed
	s.metrics.AvgExecTime = s.metrics.TotalExecTime / time.Duration(s.metrics.TotalOps)
	s.lastUsed = now
}

// addTokenSavings credits estimated tokens saved through reuse or
// batching.
func (s *Session) addTokenSavings(tokens int) {
	s.stateMu.Lock()
	s.metrics.TokensSaved += tokens
	s.stateMu.Unlock()
}
