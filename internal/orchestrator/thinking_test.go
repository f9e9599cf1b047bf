package orchestrator

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestThinkingCompleteOnCompletionMarkers(t *testing.T) {
	engine := NewThinkingEngine()
	decision := engine.Process("All tests pass. Task complete.", "Frontend")
	assert.Equal(t, DecisionComplete, decision.Kind)
	assert.Contains(t, decision.Summary, "Frontend")
}

func TestThinkingPivotsOnFirstErrorAbortsOnSecond(t *testing.T) {
	engine := NewThinkingEngine()

	first := engine.Process("error: module not found while building", "Backend")
	assert.Equal(t, DecisionPivot, first.Kind)
	assert.NotEmpty(t, first.NewApproach)

	second := engine.Process("error: still failing with the same problem", "Backend")
	assert.Equal(t, DecisionAbort, second.Kind)
}

func TestThinkingErrorCounterResetsOnHealthyOutput(t *testing.T) {
	engine := NewThinkingEngine()

	_ = engine.Process("failed to compile the module", "QA")
	healthy := strings.Repeat("making steady progress on the test suite. ", 3)
	_ = engine.Process(healthy, "QA")

	third := engine.Process("error: flaky test detected", "QA")
	assert.Equal(t, DecisionPivot, third.Kind, "counter reset by healthy output")
}

func TestThinkingRequestsContextForQuestions(t *testing.T) {
	engine := NewThinkingEngine()
	decision := engine.Process("Which database should I target?\nShould I use the staging cluster?", "Backend")
	require.Equal(t, DecisionRequestContext, decision.Kind)
	assert.NotEmpty(t, decision.Questions)
	assert.LessOrEqual(t, len(decision.Questions), 3)
}

func TestThinkingRefinesShortOutput(t *testing.T) {
	engine := NewThinkingEngine()
	decision := engine.Process("ok", "DevOps")
	assert.Equal(t, DecisionRefine, decision.Kind)
}

func TestThinkingContinuesOnPlausibleOutput(t *testing.T) {
	engine := NewThinkingEngine()
	body := strings.Repeat("implemented the handler and wired the routes. ", 3)
	decision := engine.Process(body, "Backend")
	assert.Equal(t, DecisionContinue, decision.Kind)
}

func TestThinkingSummary(t *testing.T) {
	engine := NewThinkingEngine()
	_ = engine.Process(strings.Repeat("progress on the implementation. ", 3), "QA")
	_ = engine.Process("Task complete.", "QA")

	summary := engine.Summary()
	assert.Equal(t, 2, summary.TotalSteps)
	assert.Equal(t, string(DecisionComplete), summary.FinalDecision)
	assert.Greater(t, summary.AvgConfidence, 0.0)
}

func TestThinkingStepBudgetForcesCompletion(t *testing.T) {
	engine := NewThinkingEngine()
	body := strings.Repeat("still iterating on the design of the module. ", 3)

	var last Decision
	for i := 0; i < 20; i++ {
		last = engine.Process(body, "Backend")
	}
	assert.Equal(t, DecisionComplete, last.Kind)
}
