package delegation

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ferg-cod3s/conductor/internal/identity"
	"github.com/ferg-cod3s/conductor/internal/observability"
	"github.com/ferg-cod3s/conductor/pkg/schema"
)

func newTestEngine(t *testing.T, strategy Strategy, opts ...EngineOption) *Engine {
	t.Helper()
	logger := observability.NewLogger(observability.LoggerConfig{Level: "error", Format: "text"})
	engine, err := NewEngine(strategy, identity.RoleBackend, logger, opts...)
	require.NoError(t, err)
	return engine
}

func TestContentBasedFrontendDelegation(t *testing.T) {
	engine := newTestEngine(t, StrategyContentBased)

	task := schema.NewTask("t1", "Create a responsive React navbar with hover states",
		schema.PriorityHigh, schema.TaskTypeFeature)

	decision, err := engine.Delegate(task)
	require.NoError(t, err)
	assert.Equal(t, identity.RoleFrontend, decision.TargetRole)
	assert.GreaterOrEqual(t, decision.Confidence, 0.7)
	assert.Contains(t, decision.Reasoning, "Frontend UI Tasks")
}

func TestContentBasedTestingDelegation(t *testing.T) {
	engine := newTestEngine(t, StrategyContentBased)

	task := schema.NewTask("t2", "Write unit tests for payment API endpoints",
		schema.PriorityMedium, schema.TaskTypeTesting)

	decision, err := engine.Delegate(task)
	require.NoError(t, err)
	assert.Equal(t, identity.RoleQA, decision.TargetRole)
	assert.GreaterOrEqual(t, decision.Confidence, 0.8)
	assert.Contains(t, decision.Reasoning, "Testing Tasks")
}

func TestContentBasedFallsBackToDefaultRole(t *testing.T) {
	engine := newTestEngine(t, StrategyContentBased)

	task := schema.NewTask("t3", "Tidy the meeting notes archive",
		schema.PriorityLow, schema.TaskTypeCoordination)

	decision, err := engine.Delegate(task)
	require.NoError(t, err)
	assert.Equal(t, identity.RoleBackend, decision.TargetRole)
	assert.Equal(t, 0.3, decision.Confidence)
	assert.Equal(t, "no rule matched", decision.Reasoning)
}

func TestConfidenceAlwaysClamped(t *testing.T) {
	engine := newTestEngine(t, StrategyContentBased)

	tasks := []schema.Task{
		schema.NewTask("a", "react ui component frontend css html javascript", schema.PriorityHigh, schema.TaskTypeFeature),
		schema.NewTask("b", "nothing relevant here", schema.PriorityLow, schema.TaskTypeReview),
		schema.NewTask("c", "deploy docker pipeline infrastructure", schema.PriorityCritical, schema.TaskTypeInfrastructure),
	}
	for _, task := range tasks {
		decision, err := engine.Delegate(task)
		require.NoError(t, err)
		assert.GreaterOrEqual(t, decision.Confidence, 0.0)
		assert.LessOrEqual(t, decision.Confidence, 1.0)
	}
}

func TestLoadBasedPrefersIdleRole(t *testing.T) {
	engine := newTestEngine(t, StrategyLoadBased)

	engine.UpdateRoleMetrics(RoleMetrics{
		Role: identity.RoleFrontend, CurrentTasks: 8, Availability: 1.0,
	})
	engine.UpdateRoleMetrics(RoleMetrics{
		Role: identity.RoleQA, CurrentTasks: 1, Availability: 1.0,
	})

	task := schema.NewTask("t4", "anything", schema.PriorityMedium, schema.TaskTypeAssistance)
	decision, err := engine.Delegate(task)
	require.NoError(t, err)
	assert.Equal(t, identity.RoleQA, decision.TargetRole)
	assert.Contains(t, decision.Reasoning, "load-balanced")
}

func TestLoadBasedWithoutMetricsFallsBackToContent(t *testing.T) {
	engine := newTestEngine(t, StrategyLoadBased)

	task := schema.NewTask("t5", "Write unit tests for the parser",
		schema.PriorityMedium, schema.TaskTypeTesting)

	decision, err := engine.Delegate(task)
	require.NoError(t, err)
	assert.Equal(t, identity.RoleQA, decision.TargetRole)
}

func TestExpertiseBasedMaximizesScore(t *testing.T) {
	engine := newTestEngine(t, StrategyExpertiseBased)

	engine.UpdateRoleMetrics(RoleMetrics{
		Role: identity.RoleBackend, SpecializationScore: 0.9, SuccessRate: 0.5,
	})
	engine.UpdateRoleMetrics(RoleMetrics{
		Role: identity.RoleDevOps, SpecializationScore: 0.8, SuccessRate: 0.9,
	})

	task := schema.NewTask("t6", "anything", schema.PriorityMedium, schema.TaskTypeAssistance)
	decision, err := engine.Delegate(task)
	require.NoError(t, err)
	assert.Equal(t, identity.RoleDevOps, decision.TargetRole)
	assert.InDelta(t, 0.72, decision.Confidence, 1e-9)
}

func TestHybridRecordsWinningStrategy(t *testing.T) {
	engine := newTestEngine(t, StrategyHybrid)

	task := schema.NewTask("t7", "Create React component for settings page",
		schema.PriorityHigh, schema.TaskTypeFeature)

	decision, err := engine.Delegate(task)
	require.NoError(t, err)
	assert.Equal(t, identity.RoleFrontend, decision.TargetRole)
	assert.Contains(t, decision.Reasoning, "hybrid: content-based")
}

func TestStatsTrackHistory(t *testing.T) {
	clock := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	engine := newTestEngine(t, StrategyContentBased, WithEngineClock(func() time.Time { return clock }))

	_, err := engine.Delegate(schema.NewTask("a", "react ui work", schema.PriorityHigh, schema.TaskTypeFeature))
	require.NoError(t, err)
	_, err = engine.Delegate(schema.NewTask("b", "write tests", schema.PriorityLow, schema.TaskTypeTesting))
	require.NoError(t, err)

	stats := engine.Stats()
	assert.Equal(t, 2, stats.TotalDelegations)
	assert.Equal(t, 1, stats.DistributionByRole[string(identity.RoleFrontend)])
	assert.Equal(t, 1, stats.DistributionByRole[string(identity.RoleQA)])
	assert.Greater(t, stats.AverageConfidence, 0.0)
}

func TestNewEngineRejectsBadConfig(t *testing.T) {
	logger := observability.NewLogger(observability.LoggerConfig{Level: "error", Format: "text"})

	_, err := NewEngine(Strategy("psychic"), identity.RoleBackend, logger)
	assert.Error(t, err)

	_, err = NewEngine(StrategyContentBased, identity.RoleKind("Wizard"), logger)
	assert.Error(t, err)

	badRules := []Rule{{Name: "", TargetRole: identity.RoleQA, Condition: TaskTypeEquals(schema.TaskTypeTesting)}}
	_, err = NewEngine(StrategyContentBased, identity.RoleBackend, logger, WithRules(badRules))
	assert.Error(t, err)
}

func TestConditionValidate(t *testing.T) {
	assert.Error(t, DescriptionContains().Validate())
	assert.Error(t, And().Validate())
	assert.Error(t, Condition{Kind: ConditionKind("sideways")}.Validate())
	assert.NoError(t, Or(TaskTypeEquals(schema.TaskTypeTesting), PriorityAbove(schema.PriorityHigh)).Validate())
}
