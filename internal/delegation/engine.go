package delegation

import (
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/ferg-cod3s/conductor/internal/identity"
	"github.com/ferg-cod3s/conductor/internal/observability"
	"github.com/ferg-cod3s/conductor/pkg/schema"
)

// Strategy selects how the engine maps tasks to roles.
type Strategy string

const (
	StrategyContentBased   Strategy = "content_based"
	StrategyLoadBased      Strategy = "load_based"
	StrategyExpertiseBased Strategy = "expertise_based"
	StrategyHybrid         Strategy = "hybrid"
)

// historyCap bounds the decision history used for statistics.
const historyCap = 1000

// fallbackConfidence is used when no rule matches.
const fallbackConfidence = 0.3

// Decision is the engine's verdict for one task.
type Decision struct {
	Task               schema.Task       `json:"task"`
	TargetRole         identity.RoleKind `json:"target_role"`
	Confidence         float64           `json:"confidence"`
	Reasoning          string            `json:"reasoning"`
	PriorityAdjustment *schema.Priority  `json:"priority_adjustment,omitempty"`
	EstimatedDuration  int               `json:"estimated_duration_secs,omitempty"`
	Dependencies       []string          `json:"dependencies,omitempty"`
	DecidedAt          time.Time         `json:"decided_at"`
}

// RoleMetrics is the per-role workload and performance feed the
// orchestrator publishes after every task. Load and expertise based
// strategies read it.
type RoleMetrics struct {
	Role                identity.RoleKind `json:"role"`
	CurrentTasks        int               `json:"current_tasks"`
	CompletedTasks      int               `json:"completed_tasks"`
	AverageCompletion   time.Duration     `json:"average_completion_time"`
	SuccessRate         float64           `json:"success_rate"`
	SpecializationScore float64           `json:"specialization_score"`
	Availability        float64           `json:"availability"`
}

// Stats summarizes the engine's decision history.
type Stats struct {
	TotalDelegations   int            `json:"total_delegations"`
	AverageConfidence  float64        `json:"average_confidence"`
	DistributionByRole map[string]int `json:"distribution_by_role"`
	Strategy           Strategy       `json:"strategy"`
}

// Engine delegates tasks to roles.
type Engine struct {
	strategy    Strategy
	defaultRole identity.RoleKind
	rules       []Rule
	logger      *observability.Logger
	metrics     *observability.MetricsCollector
	now         func() time.Time

	mu          sync.RWMutex
	roleMetrics map[identity.RoleKind]RoleMetrics
	history     []Decision
}

// EngineOption customizes an Engine.
type EngineOption func(*Engine)

// WithEngineClock overrides the engine's wall clock for tests.
func WithEngineClock(now func() time.Time) EngineOption {
	return func(e *Engine) { e.now = now }
}

// WithEngineMetrics attaches the Prometheus collector.
func WithEngineMetrics(metrics *observability.MetricsCollector) EngineOption {
	return func(e *Engine) { e.metrics = metrics }
}

// WithRules replaces the default rule set.
func WithRules(rules []Rule) EngineOption {
	return func(e *Engine) { e.rules = rules }
}

// NewEngine validates the rule set and builds an engine. A malformed
// rule is a construction-time error; it is never detected lazily.
func NewEngine(strategy Strategy, defaultRole identity.RoleKind, logger *observability.Logger, opts ...EngineOption) (*Engine, error) {
	e := &Engine{
		strategy:    strategy,
		defaultRole: defaultRole,
		rules:       DefaultRules(),
		logger:      logger,
		now:         time.Now,
		roleMetrics: make(map[identity.RoleKind]RoleMetrics),
	}
	for _, opt := range opts {
		opt(e)
	}

	switch strategy {
	case StrategyContentBased, StrategyLoadBased, StrategyExpertiseBased, StrategyHybrid:
	default:
		return nil, fmt.Errorf("unknown delegation strategy: %q", strategy)
	}
	if _, err := identity.DefaultRole(defaultRole); err != nil {
		return nil, fmt.Errorf("default role: %w", err)
	}
	for _, rule := range e.rules {
		if err := rule.Validate(); err != nil {
			return nil, err
		}
	}

	// Highest priority first; ties keep declaration order.
	sort.SliceStable(e.rules, func(i, j int) bool {
		return e.rules[i].Priority > e.rules[j].Priority
	})
	return e, nil
}

// UpdateRoleMetrics publishes fresh workload metrics for a role.
func (e *Engine) UpdateRoleMetrics(metrics RoleMetrics) {
	e.mu.Lock()
	e.roleMetrics[metrics.Role] = metrics
	e.mu.Unlock()
}

// Delegate decides which role should execute the task.
func (e *Engine) Delegate(task schema.Task) (Decision, error) {
	var decision Decision
	switch e.strategy {
	case StrategyContentBased:
		decision = e.delegateContentBased(task)
	case StrategyLoadBased:
		decision = e.delegateLoadBased(task)
	case StrategyExpertiseBased:
		decision = e.delegateExpertiseBased(task)
	case StrategyHybrid:
		decision = e.delegateHybrid(task)
	default:
		return Decision{}, fmt.Errorf("unknown delegation strategy: %q", e.strategy)
	}

	decision.DecidedAt = e.now()
	if decision.Confidence < 0 {
		decision.Confidence = 0
	}
	if decision.Confidence > 1 {
		decision.Confidence = 1
	}

	e.mu.Lock()
	e.history = append(e.history, decision)
	if len(e.history) > historyCap {
		e.history = e.history[len(e.history)-historyCap:]
	}
	e.mu.Unlock()

	e.logger.Info("task delegated",
		"task_id", task.ID,
		"target_role", string(decision.TargetRole),
		"confidence", decision.Confidence,
		"reasoning", decision.Reasoning,
	)
	if e.metrics != nil {
		e.metrics.RecordDelegation(strings.ToLower(string(decision.TargetRole)), string(e.strategy), decision.Confidence)
	}
	return decision, nil
}

// Stats summarizes the bounded decision history.
func (e *Engine) Stats() Stats {
	e.mu.RLock()
	defer e.mu.RUnlock()

	stats := Stats{
		TotalDelegations:   len(e.history),
		DistributionByRole: make(map[string]int),
		Strategy:           e.strategy,
	}
	total := 0.0
	for _, decision := range e.history {
		stats.DistributionByRole[string(decision.TargetRole)]++
		total += decision.Confidence
	}
	if stats.TotalDelegations > 0 {
		stats.AverageConfidence = total / float64(stats.TotalDelegations)
	}
	return stats
}

// delegateContentBased walks the rule set in descending priority and
// picks the best-scoring rule; ties are broken by rule order.
func (e *Engine) delegateContentBased(task schema.Task) Decision {
	descriptionLower := strings.ToLower(task.Description + " " + task.Details)

	var bestRule *Rule
	bestScore := 0.0
	for i := range e.rules {
		rule := &e.rules[i]
		match, ok := rule.Condition.evaluate(task, descriptionLower)
		if !ok {
			continue
		}
		score := match + rule.ConfidenceBoost
		if score > 1.0 {
			score = 1.0
		}
		if bestRule == nil || score > bestScore {
			bestRule = rule
			bestScore = score
		}
	}

	if bestRule == nil {
		return Decision{
			Task:              task,
			TargetRole:        e.defaultRole,
			Confidence:        fallbackConfidence,
			Reasoning:         "no rule matched",
			EstimatedDuration: task.EstimatedDuration,
		}
	}
	return Decision{
		Task:              task,
		TargetRole:        bestRule.TargetRole,
		Confidence:        bestScore,
		Reasoning:         fmt.Sprintf("matched rule %q with %.1f%% confidence", bestRule.Name, bestScore*100),
		EstimatedDuration: task.EstimatedDuration,
	}
}

// delegateLoadBased picks the role with the best availability. Without
// a metrics feed it falls back to content-based delegation.
func (e *Engine) delegateLoadBased(task schema.Task) Decision {
	e.mu.RLock()
	var best *RoleMetrics
	bestScore := 0.0
	for kind := range e.roleMetrics {
		metrics := e.roleMetrics[kind]
		workload := float64(metrics.CurrentTasks) / 10.0
		if workload > 1 {
			workload = 1
		}
		score := metrics.Availability * (1.0 - workload)
		if best == nil || score > bestScore {
			copied := metrics
			best = &copied
			bestScore = score
		}
	}
	e.mu.RUnlock()

	if best == nil {
		fallback := e.delegateContentBased(task)
		fallback.Reasoning = fmt.Sprintf("load-based: no role metrics yet, content-based fallback (%s)", fallback.Reasoning)
		return fallback
	}
	return Decision{
		Task:              task,
		TargetRole:        best.Role,
		Confidence:        bestScore,
		Reasoning:         fmt.Sprintf("load-balanced assignment with availability score %.1f%%", bestScore*100),
		EstimatedDuration: task.EstimatedDuration,
	}
}

// delegateExpertiseBased maximizes specialization x success rate.
// Without a metrics feed it falls back to content-based delegation.
func (e *Engine) delegateExpertiseBased(task schema.Task) Decision {
	e.mu.RLock()
	var best *RoleMetrics
	bestScore := 0.0
	for kind := range e.roleMetrics {
		metrics := e.roleMetrics[kind]
		score := metrics.SpecializationScore * metrics.SuccessRate
		if best == nil || score > bestScore {
			copied := metrics
			best = &copied
			bestScore = score
		}
	}
	e.mu.RUnlock()

	if best == nil {
		fallback := e.delegateContentBased(task)
		fallback.Reasoning = fmt.Sprintf("expertise-based: no role metrics yet, content-based fallback (%s)", fallback.Reasoning)
		return fallback
	}
	return Decision{
		Task:              task,
		TargetRole:        best.Role,
		Confidence:        bestScore,
		Reasoning:         fmt.Sprintf("expertise-based assignment with score %.1f%%", bestScore*100),
		EstimatedDuration: task.EstimatedDuration,
	}
}

// delegateHybrid runs content and load strategies and keeps the more
// confident result, recording the winner in the reasoning.
func (e *Engine) delegateHybrid(task schema.Task) Decision {
	content := e.delegateContentBased(task)
	load := e.delegateLoadBased(task)

	if content.Confidence >= load.Confidence {
		content.Reasoning = fmt.Sprintf("hybrid: content-based (%s)", content.Reasoning)
		return content
	}
	load.Reasoning = fmt.Sprintf("hybrid: load-based (%s)", load.Reasoning)
	return load
}
