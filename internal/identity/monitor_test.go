package identity

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testIdentity(t *testing.T, kind RoleKind) AgentIdentity {
	t.Helper()
	n := 0
	newID := func() string {
		n++
		if n == 1 {
			return "abcd-1234"
		}
		return "efgh-5678"
	}
	now := func() time.Time { return time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC) }
	return NewAgentIdentityAt(MustDefaultRole(kind), "/work", now, newID)
}

func TestNewAgentIdentity(t *testing.T) {
	id := testIdentity(t, RoleFrontend)

	assert.Equal(t, "frontend-agent-abcd-1234", id.AgentID)
	assert.Equal(t, "efgh-5678", id.SessionID)
	assert.Equal(t, "/work/agents/frontend-agent-abcd-1234", id.WorkspacePath)
	assert.Equal(t, map[string]string{
		EnvAgentID:   "frontend-agent-abcd-1234",
		EnvSessionID: "efgh-5678",
		EnvRole:      "Frontend",
	}, id.EnvVars)
	assert.NotZero(t, id.ParentProcessID)
}

func TestMonitorHealthyResponse(t *testing.T) {
	id := testIdentity(t, RoleFrontend)
	monitor := NewMonitor(id)

	response := id.Header("building the navbar component") + "\n\nAdded hover states to the navbar."
	status := monitor.CheckResponse(response)
	assert.Equal(t, MonitorHealthy, status.Kind)
}

func TestMonitorDetectsMissingHeader(t *testing.T) {
	monitor := NewMonitor(testIdentity(t, RoleFrontend))

	status := monitor.CheckResponse("Working on the task without any header.")
	assert.Equal(t, MonitorDriftDetected, status.Kind)
	assert.Contains(t, status.Message, "identity header")
}

func TestMonitorDetectsWrongAgent(t *testing.T) {
	monitor := NewMonitor(testIdentity(t, RoleFrontend))

	status := monitor.CheckResponse("AGENT: Backend / WORKSPACE: /work / SCOPE: api work\ndone")
	assert.Equal(t, MonitorDriftDetected, status.Kind)
}

func TestMonitorDetectsBoundaryViolation(t *testing.T) {
	id := testIdentity(t, RoleFrontend)
	monitor := NewMonitor(id)

	response := id.Header("navbar work") + "\n\nI am also modifying the database schema to add a column."
	status := monitor.CheckResponse(response)
	assert.Equal(t, MonitorBoundaryViolation, status.Kind)
}

func TestMonitorEmptyResponseIsCritical(t *testing.T) {
	monitor := NewMonitor(testIdentity(t, RoleQA))

	status := monitor.CheckResponse("   \n")
	assert.Equal(t, MonitorCriticalFailure, status.Kind)
}

func TestCorrectionPromptNamesRoleAndWorkspace(t *testing.T) {
	id := testIdentity(t, RoleBackend)
	monitor := NewMonitor(id)

	prompt := monitor.CorrectionPrompt()
	assert.Contains(t, prompt, "Backend agent")
	assert.Contains(t, prompt, id.WorkspacePath)
}

func TestParseHeader(t *testing.T) {
	agent, workspace, scope, ok := ParseHeader("AGENT: QA / WORKSPACE: /work/agents/qa-agent-1 / SCOPE: test planning\nbody")
	require.True(t, ok)
	assert.Equal(t, "QA", agent)
	assert.Equal(t, "/work/agents/qa-agent-1", workspace)
	assert.Equal(t, "test planning", scope)

	_, _, _, ok = ParseHeader("no header here")
	assert.False(t, ok)
}
