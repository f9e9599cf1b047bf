package identity

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ferg-cod3s/conductor/pkg/schema"
)

func TestEvaluateTaskAcceptsInScopeWork(t *testing.T) {
	checker := NewBoundaryChecker(MustDefaultRole(RoleFrontend))

	task := schema.NewTask("t1", "Create a responsive React navbar with hover states",
		schema.PriorityHigh, schema.TaskTypeFeature)

	eval := checker.EvaluateTask(task)
	assert.Equal(t, EvaluationAccept, eval.Kind)
	assert.NotEmpty(t, eval.Reason)
}

func TestEvaluateTaskRejectsBoundaryPhrase(t *testing.T) {
	checker := NewBoundaryChecker(MustDefaultRole(RoleFrontend))

	task := schema.NewTask("t2", "No backend API development",
		schema.PriorityMedium, schema.TaskTypeDocumentation)

	eval := checker.EvaluateTask(task)
	assert.Equal(t, EvaluationReject, eval.Kind)
}

func TestEvaluateTaskDelegatesDatabaseWork(t *testing.T) {
	checker := NewBoundaryChecker(MustDefaultRole(RoleFrontend))

	task := schema.NewTask("t3", "Add index on users.email in Postgres",
		schema.PriorityMedium, schema.TaskTypeDevelopment)

	eval := checker.EvaluateTask(task)
	require.Equal(t, EvaluationDelegate, eval.Kind)
	assert.Equal(t, RoleBackend, eval.TargetRole)
	assert.NotEmpty(t, eval.Suggestion)
}

func TestEvaluateTaskDelegatesOnBoundaryHit(t *testing.T) {
	checker := NewBoundaryChecker(MustDefaultRole(RoleFrontend))

	task := schema.NewTask("t4", "Update the database migration for the users table",
		schema.PriorityMedium, schema.TaskTypeDevelopment)

	eval := checker.EvaluateTask(task)
	require.Equal(t, EvaluationDelegate, eval.Kind)
	assert.Equal(t, RoleBackend, eval.TargetRole)
}

func TestEvaluateTaskClarifiesAmbiguousWork(t *testing.T) {
	checker := NewBoundaryChecker(MustDefaultRole(RoleQA))

	task := schema.NewTask("t5", "Look into the weird thing from yesterday",
		schema.PriorityLow, schema.TaskTypeAssistance)

	eval := checker.EvaluateTask(task)
	require.Equal(t, EvaluationClarify, eval.Kind)
	assert.NotEmpty(t, eval.Questions)
	assert.LessOrEqual(t, len(eval.Questions), 3)
}

func TestTypeAffinityFavorsQAForTesting(t *testing.T) {
	checker := NewBoundaryChecker(MustDefaultRole(RoleQA))

	task := schema.NewTask("t6", "Write integration tests for the checkout flow",
		schema.PriorityHigh, schema.TaskTypeTesting)

	eval := checker.EvaluateTask(task)
	assert.Equal(t, EvaluationAccept, eval.Kind)
}

func TestRoleValidation(t *testing.T) {
	for _, kind := range AllRoleKinds {
		role := MustDefaultRole(kind)
		assert.NoError(t, role.Validate(), "role %s", kind)
	}

	bad := Role{
		Kind:             RoleBackend,
		Technologies:     []string{"Go"},
		Responsibilities: []string{"API Development"},
		Boundaries:       []string{"API Development"},
	}
	assert.Error(t, bad.Validate())

	empty := Role{Kind: RoleFrontend}
	assert.Error(t, empty.Validate())
}

func TestDefaultRoleUnknownKind(t *testing.T) {
	_, err := DefaultRole(RoleKind("Wizard"))
	assert.Error(t, err)
}
