package session

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/ferg-cod3s/conductor/internal/identity"
	"github.com/ferg-cod3s/conductor/internal/observability"
)

// StrategyKind names a session reuse policy.
type StrategyKind string

const (
	StrategyAggressive StrategyKind = "aggressive"
	StrategyLoadBased  StrategyKind = "load_based"
	StrategyTimeBased  StrategyKind = "time_based"
	StrategyHybrid     StrategyKind = "hybrid"
)

// ReuseStrategy decides which pooled sessions may serve another task.
type ReuseStrategy struct {
	Kind          StrategyKind  `json:"kind" yaml:"kind"`
	LoadThreshold float64       `json:"load_threshold" yaml:"load_threshold"`
	MaxAge        time.Duration `json:"max_age" yaml:"max_age"`
}

// Config tunes the session pool.
type Config struct {
	MaxSessionsPerRole   int           `json:"max_sessions_per_role" yaml:"max_sessions_per_role"`
	IdleTimeout          time.Duration `json:"idle_timeout" yaml:"idle_timeout"`
	HealthCheckInterval  time.Duration `json:"health_check_interval" yaml:"health_check_interval"`
	CompressionEnabled   bool          `json:"compression_enabled" yaml:"compression_enabled"`
	CompressionThreshold float64       `json:"compression_threshold" yaml:"compression_threshold"`
	Strategy             ReuseStrategy `json:"reuse_strategy" yaml:"reuse_strategy"`
	BatchEnabled         bool          `json:"batch_operations" yaml:"batch_operations"`
	BatchSize            int           `json:"batch_size" yaml:"batch_size"`
	BreakerMaxFailures   int           `json:"breaker_max_failures" yaml:"breaker_max_failures"`
	BreakerResetTimeout  time.Duration `json:"breaker_reset_timeout" yaml:"breaker_reset_timeout"`
	// ReuseTokenSavings is the estimated prompt tokens amortized each
	// time a warm session is reused instead of cold-started.
	ReuseTokenSavings int `json:"reuse_token_savings" yaml:"reuse_token_savings"`
	// ValidateTimeout bounds the factory liveness probe.
	ValidateTimeout time.Duration `json:"validate_timeout" yaml:"validate_timeout"`
}

// DefaultConfig returns the default pool configuration.
func DefaultConfig() Config {
	return Config{
		MaxSessionsPerRole:   5,
		IdleTimeout:          5 * time.Minute,
		HealthCheckInterval:  30 * time.Second,
		CompressionEnabled:   true,
		CompressionThreshold: 0.8,
		Strategy: ReuseStrategy{
			Kind:          StrategyHybrid,
			LoadThreshold: 0.7,
			MaxAge:        time.Hour,
		},
		BatchEnabled:        true,
		BatchSize:           10,
		BreakerMaxFailures:  3,
		BreakerResetTimeout: 60 * time.Second,
		ReuseTokenSavings:   1500,
		ValidateTimeout:     2 * time.Second,
	}
}

// Factory creates, probes, and destroys the sessions the pool manages.
// The production factory acquires a workspace and builds the agent
// identity; Destroy releases the workspace.
type Factory interface {
	Create(ctx context.Context, role identity.Role) (*Session, error)
	Validate(ctx context.Context, s *Session) (bool, error)
	Destroy(ctx context.Context, s *Session) error
}

// RoleStats summarizes one role's bucket.
type RoleStats struct {
	TotalSessions int `json:"total_sessions"`
	TotalOps      int `json:"total_operations"`
	TokensSaved   int `json:"tokens_saved"`
}

// Stats summarizes the pool.
type Stats struct {
	SessionsByRole  map[string]RoleStats `json:"sessions_by_role"`
	SessionsCreated int                  `json:"sessions_created"`
	SessionsReused  int                  `json:"sessions_reused"`
	SessionsEvicted int                  `json:"sessions_evicted"`
}

// Pool maintains per-role buckets of reusable sessions.
type Pool struct {
	cfg     Config
	factory Factory
	logger  *observability.Logger
	metrics *observability.MetricsCollector
	now     func() time.Time

	mu       sync.RWMutex
	buckets  map[string][]*Session
	breakers map[string]*CircuitBreaker
	created  int
	reused   int
	evicted  int
}

// PoolOption customizes a Pool.
type PoolOption func(*Pool)

// WithPoolClock overrides the pool's wall clock for tests.
func WithPoolClock(now func() time.Time) PoolOption {
	return func(p *Pool) { p.now = now }
}

// WithPoolMetrics attaches the Prometheus collector.
func WithPoolMetrics(metrics *observability.MetricsCollector) PoolOption {
	return func(p *Pool) { p.metrics = metrics }
}

// NewPool builds a session pool around a factory.
func NewPool(cfg Config, factory Factory, logger *observability.Logger, opts ...PoolOption) *Pool {
	p := &Pool{
		cfg:      cfg,
		factory:  factory,
		logger:   logger,
		now:      time.Now,
		buckets:  make(map[string][]*Session),
		breakers: make(map[string]*CircuitBreaker),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// GetOrCreate returns a reusable session for the role or creates a new
// one under circuit breaker protection, evicting the least-recently-used
// session when the bucket is full.
func (p *Pool) GetOrCreate(ctx context.Context, role identity.Role) (*Session, error) {
	roleKey := roleKey(role)

	if s := p.findReusable(ctx, roleKey); s != nil {
		s.touch(p.now())
		s.addTokenSavings(p.cfg.ReuseTokenSavings)
		p.mu.Lock()
		p.reused++
		p.mu.Unlock()
		if p.metrics != nil {
			p.metrics.SessionsReused.WithLabelValues(roleKey).Inc()
		}
		p.logger.Debug("session reused", "session_id", s.ID, "role", roleKey)
		return s, nil
	}

	breaker := p.breakerFor(roleKey)
	if err := breaker.Allow(); err != nil {
		if p.metrics != nil {
			p.metrics.CircuitBreakerOpen.WithLabelValues(roleKey).Set(1)
		}
		return nil, fmt.Errorf("%w for role %s, retry after %s", ErrCircuitOpen, roleKey, breaker.RetryAfter())
	}

	s, err := p.factory.Create(ctx, role)
	if err != nil {
		breaker.RecordFailure()
		return nil, fmt.Errorf("create session for role %s: %w", roleKey, err)
	}
	breaker.RecordSuccess()
	if p.metrics != nil {
		p.metrics.CircuitBreakerOpen.WithLabelValues(roleKey).Set(0)
	}

	evictee := p.register(roleKey, s)
	if evictee != nil {
		p.destroy(ctx, evictee, "capacity")
	}

	if p.metrics != nil {
		p.metrics.SessionsCreated.WithLabelValues(roleKey).Inc()
		p.metrics.PoolSize.WithLabelValues(roleKey).Set(float64(p.bucketLen(roleKey)))
	}
	p.logger.Info("session created", "session_id", s.ID, "role", roleKey, "agent_id", s.Identity.AgentID)
	return s, nil
}

// ExecuteOnSession runs op while holding the session's execution mutex
// and folds the outcome into the session metrics before releasing it.
func (p *Pool) ExecuteOnSession(ctx context.Context, s *Session, op func(ctx context.Context) error) error {
	s.execMu.Lock()
	defer s.execMu.Unlock()

	start := p.now()
	err := op(ctx)
	s.recordOperation(err == nil, p.now().Sub(start), p.now())
	return err
}

// BatchExecute runs a group of operations for one role sequentially on a
// single acquired session, amortizing session startup. Each operation
// still gets its own result slot.
func (p *Pool) BatchExecute(ctx context.Context, role identity.Role, ops []func(ctx context.Context) error) ([]error, error) {
	if len(ops) == 0 {
		return nil, nil
	}
	if !p.cfg.BatchEnabled {
		return nil, errors.New("batch operations are disabled")
	}

	results := make([]error, len(ops))
	for start := 0; start < len(ops); start += p.cfg.BatchSize {
		end := start + p.cfg.BatchSize
		if end > len(ops) {
			end = len(ops)
		}
		s, err := p.GetOrCreate(ctx, role)
		if err != nil {
			for i := start; i < end; i++ {
				results[i] = err
			}
			continue
		}
		if start > 0 {
			// Later chunks on the same warm session save the full
			// startup cost again.
			s.addTokenSavings(p.cfg.ReuseTokenSavings)
		}
		for i := start; i < end; i++ {
			results[i] = p.ExecuteOnSession(ctx, s, ops[i])
		}
	}
	return results, nil
}

// Discard removes a session from the pool and tears it down, regardless
// of reuse policy. Used for critical identity failures.
func (p *Pool) Discard(ctx context.Context, s *Session, reason string) {
	p.mu.Lock()
	roleKey := roleKey(s.Role)
	bucket := p.buckets[roleKey]
	for i, candidate := range bucket {
		if candidate == s {
			p.buckets[roleKey] = append(bucket[:i], bucket[i+1:]...)
			break
		}
	}
	p.mu.Unlock()
	p.destroy(ctx, s, reason)
}

// Cleanup prunes sessions idle for longer than the idle timeout.
func (p *Pool) Cleanup(ctx context.Context) int {
	cutoff := p.now().Add(-p.cfg.IdleTimeout)

	var stale []*Session
	p.mu.Lock()
	for roleKey, bucket := range p.buckets {
		kept := bucket[:0]
		for _, s := range bucket {
			if s.LastUsed().Before(cutoff) {
				stale = append(stale, s)
			} else {
				kept = append(kept, s)
			}
		}
		p.buckets[roleKey] = kept
	}
	p.mu.Unlock()

	for _, s := range stale {
		p.destroy(ctx, s, "idle")
	}
	return len(stale)
}

// RunCleanup prunes idle sessions periodically until the context is
// cancelled.
func (p *Pool) RunCleanup(ctx context.Context) {
	ticker := time.NewTicker(p.cfg.HealthCheckInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if n := p.Cleanup(ctx); n > 0 {
				p.logger.Info("pruned idle sessions", "count", n)
			}
		}
	}
}

// Shutdown destroys every pooled session.
func (p *Pool) Shutdown(ctx context.Context) {
	p.mu.Lock()
	var all []*Session
	for _, bucket := range p.buckets {
		all = append(all, bucket...)
	}
	p.buckets = make(map[string][]*Session)
	p.mu.Unlock()

	for _, s := range all {
		p.destroy(ctx, s, "shutdown")
	}
}

// Stats summarizes pool activity by role.
func (p *Pool) Stats() Stats {
	p.mu.RLock()
	defer p.mu.RUnlock()

	stats := Stats{
		SessionsByRole:  make(map[string]RoleStats, len(p.buckets)),
		SessionsCreated: p.created,
		SessionsReused:  p.reused,
		SessionsEvicted: p.evicted,
	}
	for roleKey, bucket := range p.buckets {
		rs := RoleStats{TotalSessions: len(bucket)}
		for _, s := range bucket {
			m := s.Metrics()
			rs.TotalOps += m.TotalOps
			rs.TokensSaved += m.TokensSaved
		}
		stats.SessionsByRole[roleKey] = rs
	}
	return stats
}

// findReusable scans the role bucket in most-recently-used order for a
// session passing the reuse strategy and the factory liveness probe.
func (p *Pool) findReusable(ctx context.Context, roleKey string) *Session {
	p.mu.RLock()
	candidates := append([]*Session(nil), p.buckets[roleKey]...)
	p.mu.RUnlock()

	sort.Slice(candidates, func(i, j int) bool {
		return candidates[i].LastUsed().After(candidates[j].LastUsed())
	})

	for _, s := range candidates {
		if !p.reusable(s) {
			continue
		}
		probeCtx, cancel := context.WithTimeout(ctx, p.cfg.ValidateTimeout)
		alive, err := p.factory.Validate(probeCtx, s)
		cancel()
		if err != nil || !alive {
			continue
		}
		return s
	}
	return nil
}

// reusable applies the configured reuse strategy.
func (p *Pool) reusable(s *Session) bool {
	switch p.cfg.Strategy.Kind {
	case StrategyAggressive:
		return true
	case StrategyLoadBased:
		return s.Load() < p.cfg.Strategy.LoadThreshold
	case StrategyTimeBased:
		return p.now().Sub(s.CreatedAt) < p.cfg.Strategy.MaxAge
	case StrategyHybrid:
		return s.Load() < p.cfg.Strategy.LoadThreshold &&
			p.now().Sub(s.CreatedAt) < p.cfg.Strategy.MaxAge
	default:
		return true
	}
}

// register adds the session to its bucket and returns the LRU session to
// evict when the bucket was full.
func (p *Pool) register(roleKey string, s *Session) *Session {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.created++
	bucket := p.buckets[roleKey]

	var evictee *Session
	if len(bucket) >= p.cfg.MaxSessionsPerRole {
		lru := 0
		for i, candidate := range bucket {
			if candidate.LastUsed().Before(bucket[lru].LastUsed()) {
				lru = i
			}
		}
		evictee = bucket[lru]
		bucket = append(bucket[:lru], bucket[lru+1:]...)
	}

	p.buckets[roleKey] = append(bucket, s)
	return evictee
}

// destroy tears a session down via the factory, releasing its workspace.
func (p *Pool) destroy(ctx context.Context, s *Session, reason string) {
	p.mu.Lock()
	p.evicted++
	p.mu.Unlock()

	if err := p.factory.Destroy(ctx, s); err != nil {
		p.logger.Error("session teardown failed", "session_id", s.ID, "error", err)
	}
	if p.metrics != nil {
		p.metrics.SessionsEvicted.WithLabelValues(roleKey(s.Role), reason).Inc()
		p.metrics.PoolSize.WithLabelValues(roleKey(s.Role)).Set(float64(p.bucketLen(roleKey(s.Role))))
	}
	p.logger.Info("session evicted", "session_id", s.ID, "reason", reason)
}

func (p *Pool) breakerFor(roleKey string) *CircuitBreaker {
	p.mu.Lock()
	defer p.mu.Unlock()
	breaker, ok := p.breakers[roleKey]
	if !ok {
		breaker = NewCircuitBreaker(p.cfg.BreakerMaxFailures, p.cfg.BreakerResetTimeout, p.now)
		p.breakers[roleKey] = breaker
	}
	return breaker
}

func (p *Pool) bucketLen(roleKey string) int {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return len(p.buckets[roleKey])
}

func roleKey(role identity.Role) string {
	return strings.ToLower(role.Name())
}
