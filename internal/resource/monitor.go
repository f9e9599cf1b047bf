package resource

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/ferg-cod3s/conductor/internal/observability"
)

// historyWindow bounds the per-agent sample history.
const historyWindow = 100

// DefaultSampleInterval is how often the monitoring loop samples the OS.
const DefaultSampleInterval = 5 * time.Second

// ErrAgentNotMonitored indicates an operation referenced an unregistered
// agent.
var ErrAgentNotMonitored = errors.New("agent not monitored")

// EventKind names a monitoring event.
type EventKind string

const (
	EventMonitoringStarted EventKind = "monitoring_started"
	EventMonitoringStopped EventKind = "monitoring_stopped"
	EventAgentSuspended    EventKind = "agent_suspended"
	EventAgentResumed      EventKind = "agent_resumed"
	EventLimitExceeded     EventKind = "limit_exceeded"
)

// Event is broadcast to subscribers when the monitor observes a state
// change or limit breach.
type Event struct {
	Kind      EventKind `json:"kind"`
	AgentID   string    `json:"agent_id"`
	PID       int32     `json:"pid,omitempty"`
	Reason    string    `json:"reason,omitempty"`
	Resource  string    `json:"resource,omitempty"`
	Current   float64   `json:"current,omitempty"`
	Limit     float64   `json:"limit,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// State is the monitor's view of one agent: a bounded rolling window of
// samples plus suspension bookkeeping.
type State struct {
	AgentID         string    `json:"agent_id"`
	PID             int32     `json:"pid"`
	Current         Usage     `json:"current_usage"`
	History         []Usage   `json:"usage_history"`
	IsSuspended     bool      `json:"is_suspended"`
	LastActive      time.Time `json:"last_active"`
	Limits          Limits    `json:"limits"`
	LimitViolations int       `json:"limit_violations"`
}

// AverageUsage returns the arithmetic mean over the stored window, or
// the current sample when the window is empty.
func (s *State) AverageUsage() Usage {
	if len(s.History) == 0 {
		return s.Current
	}
	var cpu, memPct float64
	var memBytes uint64
	var threads int
	for _, u := range s.History {
		cpu += u.CPUPercent
		memBytes += u.MemoryBytes
		memPct += u.MemoryPercent
		threads += u.ThreadCount
	}
	n := float64(len(s.History))
	return Usage{
		CPUPercent:    cpu / n,
		MemoryBytes:   uint64(float64(memBytes) / n),
		MemoryPercent: memPct / n,
		ThreadCount:   int(float64(threads) / n),
		Timestamp:     s.Current.Timestamp,
	}
}

// EfficiencyStats aggregates usage across all monitored agents.
type EfficiencyStats struct {
	Total            int     `json:"total"`
	Active           int     `json:"active"`
	Suspended        int     `json:"suspended"`
	AvgCPUPercent    float64 `json:"avg_cpu"`
	AvgMemoryBytes   uint64  `json:"avg_mem_bytes"`
	AvgMemoryPercent float64 `json:"avg_mem_percent"`
	TotalMemoryBytes uint64  `json:"total_mem_bytes"`
	SuspensionRate   float64 `json:"suspension_rate"`
}

// Monitor tracks per-agent resource usage. A single cooperative loop
// samples the OS; readers only contend on a read lock.
type Monitor struct {
	sampler  Sampler
	interval time.Duration
	now      func() time.Time
	defaults Limits
	logger   *observability.Logger
	metrics  *observability.MetricsCollector

	mu     sync.RWMutex
	agents map[string]*State

	subMu sync.Mutex
	subs  []chan Event
}

// Option customizes a Monitor.
type Option func(*Monitor)

// WithClock overrides the monitor's wall clock for tests.
func WithClock(now func() time.Time) Option {
	return func(m *Monitor) { m.now = now }
}

// WithSampleInterval overrides the sampling cadence.
func WithSampleInterval(d time.Duration) Option {
	return func(m *Monitor) { m.interval = d }
}

// WithMetrics attaches the Prometheus collector.
func WithMetrics(metrics *observability.MetricsCollector) Option {
	return func(m *Monitor) { m.metrics = metrics }
}

// NewMonitor builds a monitor with global default limits.
func NewMonitor(sampler Sampler, defaults Limits, logger *observability.Logger, opts ...Option) *Monitor {
	m := &Monitor{
		sampler:  sampler,
		interval: DefaultSampleInterval,
		now:      time.Now,
		defaults: defaults,
		logger:   logger,
		agents:   make(map[string]*State),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// StartMonitoring registers an agent. Custom limits override the global
// defaults when non-nil.
func (m *Monitor) StartMonitoring(agentID string, pid int32, custom *Limits) {
	limits := m.defaults
	if custom != nil {
		limits = *custom
	}
	now := m.now()

	m.mu.Lock()
	m.agents[agentID] = &State{
		AgentID:    agentID,
		PID:        pid,
		LastActive: now,
		Limits:     limits,
		History:    make([]Usage, 0, historyWindow),
	}
	m.mu.Unlock()

	m.publish(Event{Kind: EventMonitoringStarted, AgentID: agentID, PID: pid, Timestamp: now})
	m.logger.Info("resource monitoring started", "agent_id", agentID, "pid", pid)
}

// StopMonitoring unregisters an agent and destroys its state.
func (m *Monitor) StopMonitoring(agentID string) {
	m.mu.Lock()
	_, known := m.agents[agentID]
	delete(m.agents, agentID)
	m.mu.Unlock()

	if known {
		m.publish(Event{Kind: EventMonitoringStopped, AgentID: agentID, Timestamp: m.now()})
		m.logger.Info("resource monitoring stopped", "agent_id", agentID)
	}
}

// IsMonitored reports whether the agent is registered.
func (m *Monitor) IsMonitored(agentID string) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	_, ok := m.agents[agentID]
	return ok
}

// UpdateLimits replaces an agent's limits.
func (m *Monitor) UpdateLimits(agentID string, limits Limits) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	state, ok := m.agents[agentID]
	if !ok {
		return fmt.Errorf("%w: %s", ErrAgentNotMonitored, agentID)
	}
	state.Limits = limits
	return nil
}

// State returns a copy of an agent's monitoring state.
func (m *Monitor) State(agentID string) (State, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	state, ok := m.agents[agentID]
	if !ok {
		return State{}, false
	}
	copied := *state
	copied.History = append([]Usage(nil), state.History...)
	return copied, true
}

// Resume clears an agent's suspension and resets its activity clock.
func (m *Monitor) Resume(agentID string) error {
	m.mu.Lock()
	state, ok := m.agents[agentID]
	if !ok {
		m.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrAgentNotMonitored, agentID)
	}
	wasSuspended := state.IsSuspended
	state.IsSuspended = false
	state.LastActive = m.now()
	m.mu.Unlock()

	if wasSuspended {
		m.publish(Event{Kind: EventAgentResumed, AgentID: agentID, Timestamp: m.now()})
		m.logger.Info("agent resumed", "agent_id", agentID)
	}
	return nil
}

// Subscribe returns a channel of monitoring events. Slow subscribers
// drop events rather than block the sampling loop.
func (m *Monitor) Subscribe() <-chan Event {
	ch := make(chan Event, 64)
	m.subMu.Lock()
	m.subs = append(m.subs, ch)
	m.subMu.Unlock()
	return ch
}

// Run samples all registered agents every interval until the context is
// cancelled.
func (m *Monitor) Run(ctx context.Context) {
	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.Poll(ctx)
		}
	}
}

// Poll performs one sampling pass over every registered agent. It is
// exported so tests can drive the monitor deterministically.
func (m *Monitor) Poll(ctx context.Context) {
	m.mu.RLock()
	ids := make([]string, 0, len(m.agents))
	pids := make(map[string]int32, len(m.agents))
	for id, state := range m.agents {
		ids = append(ids, id)
		pids[id] = state.PID
	}
	m.mu.RUnlock()

	for _, id := range ids {
		usage, err := m.sampler.Sample(ctx, pids[id])
		if err != nil {
			m.logger.Warn("sample failed", "agent_id", id, "error", err)
			continue
		}
		m.Record(id, usage)
	}
}

// Record folds one sample into an agent's state, emitting suspension and
// limit events as warranted.
func (m *Monitor) Record(agentID string, usage Usage) {
	now := m.now()
	if usage.Timestamp.IsZero() {
		usage.Timestamp = now
	}

	var events []Event

	m.mu.Lock()
	state, ok := m.agents[agentID]
	if !ok {
		m.mu.Unlock()
		return
	}

	if usage.CPUPercent > state.Limits.IdleCPUThreshold {
		state.LastActive = usage.Timestamp
	}

	state.Current = usage
	state.History = append(state.History, usage)
	if len(state.History) > historyWindow {
		state.History = state.History[1:]
	}

	if state.Limits.EnforceLimits {
		if breached := usage.exceeded(state.Limits); len(breached) > 0 {
			state.LimitViolations++
			for _, resource := range breached {
				current, limit := breachValues(usage, state.Limits, resource)
				events = append(events, Event{
					Kind:      EventLimitExceeded,
					AgentID:   agentID,
					Resource:  resource,
					Current:   current,
					Limit:     limit,
					Timestamp: now,
				})
			}
		}
	}

	if state.Limits.AutoSuspend && !state.IsSuspended &&
		now.Sub(state.LastActive) > state.Limits.IdleTimeout {
		state.IsSuspended = true
		events = append(events, Event{
			Kind:      EventAgentSuspended,
			AgentID:   agentID,
			Reason:    "Idle timeout exceeded",
			Timestamp: now,
		})
	}
	m.mu.Unlock()

	for _, event := range events {
		m.publish(event)
		switch event.Kind {
		case EventLimitExceeded:
			m.logger.Warn("resource limit exceeded", "agent_id", agentID,
				"resource", event.Resource, "current", event.Current, "limit", event.Limit)
			if m.metrics != nil {
				m.metrics.ResourceLimitViolations.WithLabelValues(event.Resource).Inc()
			}
		case EventAgentSuspended:
			m.logger.Info("agent suspended", "agent_id", agentID, "reason", event.Reason)
			if m.metrics != nil {
				m.metrics.AgentSuspensions.Inc()
			}
		}
	}
}

// EfficiencyStats aggregates usage across all monitored agents.
// Suspended agents are excluded from the usage averages.
func (m *Monitor) EfficiencyStats() EfficiencyStats {
	m.mu.RLock()
	defer m.mu.RUnlock()

	stats := EfficiencyStats{Total: len(m.agents)}
	var cpu, memPct float64
	var memBytes uint64
	for _, state := range m.agents {
		if state.IsSuspended {
			stats.Suspended++
			continue
		}
		stats.Active++
		cpu += state.Current.CPUPercent
		memBytes += state.Current.MemoryBytes
		memPct += state.Current.MemoryPercent
	}
	stats.TotalMemoryBytes = memBytes
	if stats.Active > 0 {
		n := float64(stats.Active)
		stats.AvgCPUPercent = cpu / n
		stats.AvgMemoryBytes = uint64(float64(memBytes) / n)
		stats.AvgMemoryPercent = memPct / n
	}
	if stats.Total > 0 {
		stats.SuspensionRate = float64(stats.Suspended) / float64(stats.Total)
	}
	return stats
}

func (m *Monitor) publish(event Event) {
	m.subMu.Lock()
	defer m.subMu.Unlock()
	for _, ch := range m.subs {
		select {
		case ch <- event:
		default:
		}
	}
}

func breachValues(usage Usage, limits Limits, resource string) (current, limit float64) {
	switch resource {
	case ResourceCPU:
		return usage.CPUPercent, limits.MaxCPUPercent
	case ResourceMemory:
		return float64(usage.MemoryBytes), float64(limits.MaxMemoryBytes)
	case ResourceMemoryPercent:
		return usage.MemoryPercent, limits.MaxMemoryPercent
	}
	return 0, 0
}
