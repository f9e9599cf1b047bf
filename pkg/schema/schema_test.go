package schema

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPriorityJSONRoundTrip(t *testing.T) {
	for _, p := range []Priority{PriorityLow, PriorityMedium, PriorityHigh, PriorityCritical} {
		data, err := json.Marshal(p)
		require.NoError(t, err)

		var got Priority
		require.NoError(t, json.Unmarshal(data, &got))
		assert.Equal(t, p, got)
	}
}

func TestPriorityUnmarshalUnknown(t *testing.T) {
	var p Priority
	err := json.Unmarshal([]byte(`"urgent"`), &p)
	assert.Error(t, err)
}

func TestSeverityOrdering(t *testing.T) {
	assert.True(t, SeverityCritical.AtLeast(SeverityHigh))
	assert.True(t, SeverityHigh.AtLeast(SeverityHigh))
	assert.False(t, SeverityMedium.AtLeast(SeverityHigh))
	assert.True(t, SeverityLow.AtLeast(IssueSeverity("bogus")))
}

func TestQualityEvaluationAggregates(t *testing.T) {
	eval := QualityEvaluation{
		Issues: []QualityIssue{
			{Severity: SeverityMedium, FixEffortMinutes: 30},
			{Severity: SeverityCritical, FixEffortMinutes: 20},
			{Severity: SeverityHigh, FixEffortMinutes: 90},
		},
	}

	sev, ok := eval.HighestSeverity()
	require.True(t, ok)
	assert.Equal(t, SeverityCritical, sev)
	assert.Equal(t, 140, eval.TotalFixEffort())

	empty := QualityEvaluation{}
	_, ok = empty.HighestSeverity()
	assert.False(t, ok)
	assert.Zero(t, empty.TotalFixEffort())
}

func TestStatusSnapshotRoundTrip(t *testing.T) {
	task := NewTask("t1", "Create a responsive React navbar", PriorityHigh, TaskTypeFeature).
		WithDetails("hover states included")
	result := SuccessResult(map[string]any{"response": "done"}, 2*time.Second)

	snapshot := StatusSnapshot{
		AgentID:     "frontend-agent-123",
		Role:        "Frontend",
		Status:      StatusWaitingForReview,
		CurrentTask: &task,
		LastResult:  &result,
		Timestamp:   time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC),
		Workspace:   "/work/agents/frontend-agent-123",
		TaskHistory: TaskHistorySummary{Total: 3, Successful: 2, Failed: 1},
	}

	data, err := json.Marshal(snapshot)
	require.NoError(t, err)

	var got StatusSnapshot
	require.NoError(t, json.Unmarshal(data, &got))
	assert.Equal(t, snapshot, got)
}

func TestTaskBuilders(t *testing.T) {
	task := NewTask("t2", "fix login bug", PriorityCritical, TaskTypeBugfix).
		WithParent("t1")
	assert.Equal(t, "t1", task.ParentTaskID)
	assert.Empty(t, task.Details)
}

func TestFailureResultNilOutput(t *testing.T) {
	r := FailureResult(nil, "boom", 0)
	require.NotNil(t, r.Output)
	assert.False(t, r.Success)
	assert.Equal(t, "boom", r.Error)
}
