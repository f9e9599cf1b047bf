package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ferg-cod3s/conductor/internal/delegation"
	"github.com/ferg-cod3s/conductor/internal/identity"
	"github.com/ferg-cod3s/conductor/internal/observability"
	"github.com/ferg-cod3s/conductor/internal/provider"
	"github.com/ferg-cod3s/conductor/internal/resource"
	"github.com/ferg-cod3s/conductor/internal/session"
	"github.com/ferg-cod3s/conductor/pkg/schema"
)

// mockExecutor returns scripted responses and records prompts.
type mockExecutor struct {
	mu        sync.Mutex
	responses []func(prompt string, ident identity.AgentIdentity) (string, error)
	prompts   []string
}

func (m *mockExecutor) ExecutePrompt(ctx context.Context, prompt string, ident identity.AgentIdentity, workdir string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	m.mu.Lock()
	m.prompts = append(m.prompts, prompt)
	idx := len(m.prompts) - 1
	m.mu.Unlock()

	if idx < len(m.responses) {
		return m.responses[idx](prompt, ident)
	}
	return healthyResponse(ident, "Task complete."), nil
}

func (m *mockExecutor) HealthCheck(ctx context.Context, workdir string) (provider.HealthStatus, error) {
	return provider.HealthStatus{Healthy: true}, nil
}

func (m *mockExecutor) Capabilities() provider.Capabilities {
	return provider.Capabilities{SupportsJSONOutput: true, MaxContextLength: 100_000}
}

func (m *mockExecutor) callCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.prompts)
}

func healthyResponse(ident identity.AgentIdentity, body string) string {
	return ident.Header("executing assigned task") + "\n\n" + body
}

// testFactory builds sessions without touching git or docker.
type testFactory struct {
	mu        sync.Mutex
	created   int
	destroyed int
}

func (f *testFactory) Create(ctx context.Context, role identity.Role) (*session.Session, error) {
	f.mu.Lock()
	f.created++
	n := f.created
	f.mu.Unlock()
	ident := identity.NewAgentIdentityAt(role, "/work",
		time.Now, func() string { return fmt.Sprintf("%s-%d", strings.ToLower(role.Name()), n) })
	return session.NewSession(fmt.Sprintf("sess-%d", n), ident, nil, false, time.Now()), nil
}

func (f *testFactory) Validate(ctx context.Context, s *session.Session) (bool, error) {
	return true, nil
}

func (f *testFactory) Destroy(ctx context.Context, s *session.Session) error {
	f.mu.Lock()
	f.destroyed++
	f.mu.Unlock()
	return nil
}

// passJudge always passes; failJudge returns scripted issues.
type passJudge struct{}

func (passJudge) Evaluate(ctx context.Context, task schema.Task, content string, role identity.Role) (*schema.QualityEvaluation, error) {
	return &schema.QualityEvaluation{
		OverallScore:    0.95,
		PassesStandards: true,
		Confidence:      0.9,
		EvaluatedAt:     time.Now(),
	}, nil
}

type failJudge struct {
	issues []schema.QualityIssue
}

func (j failJudge) Evaluate(ctx context.Context, task schema.Task, content string, role identity.Role) (*schema.QualityEvaluation, error) {
	return &schema.QualityEvaluation{
		OverallScore:    0.4,
		Issues:          j.issues,
		PassesStandards: false,
		Confidence:      0.9,
		EvaluatedAt:     time.Now(),
	}, nil
}

type erroringJudge struct{}

func (erroringJudge) Evaluate(ctx context.Context, task schema.Task, content string, role identity.Role) (*schema.QualityEvaluation, error) {
	return nil, errors.New("judge unavailable")
}

// recordingSink captures snapshots and messages.
type recordingSink struct {
	mu        sync.Mutex
	snapshots []schema.StatusSnapshot
	messages  []schema.CoordinationMessage
}

func (r *recordingSink) WriteSnapshot(ctx context.Context, snapshot schema.StatusSnapshot) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.snapshots = append(r.snapshots, snapshot)
	return nil
}

func (r *recordingSink) WriteMessage(ctx context.Context, message schema.CoordinationMessage) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.messages = append(r.messages, message)
	return nil
}

type testEnv struct {
	orch     *Orchestrator
	executor *mockExecutor
	factory  *testFactory
	pool     *session.Pool
	sink     *recordingSink
}

func newTestEnv(t *testing.T, configure func(*Deps, *Config)) *testEnv {
	t.Helper()
	logger := observability.NewLogger(observability.LoggerConfig{Level: "error", Format: "text"})

	engine, err := delegation.NewEngine(delegation.StrategyContentBased, identity.RoleBackend, logger)
	require.NoError(t, err)

	factory := &testFactory{}
	pool := session.NewPool(session.DefaultConfig(), factory, logger)
	monitor := resource.NewMonitor(nil, resource.DefaultLimits(), logger)
	executor := &mockExecutor{}
	sink := &recordingSink{}

	cfg := DefaultConfig()
	deps := Deps{
		Engine:   engine,
		Pool:     pool,
		Monitor:  monitor,
		Executor: executor,
		Judge:    passJudge{},
		Sink:     sink,
		Logger:   logger,
	}
	if configure != nil {
		configure(&deps, &cfg)
	}

	return &testEnv{
		orch:     New(cfg, deps),
		executor: executor,
		factory:  factory,
		pool:     pool,
		sink:     sink,
	}
}

func TestFrontendAcceptEndToEnd(t *testing.T) {
	env := newTestEnv(t, nil)

	task := schema.NewTask("t1", "Create a responsive React navbar with hover states",
		schema.PriorityHigh, schema.TaskTypeFeature)

	result, err := env.orch.Execute(context.Background(), task)
	require.NoError(t, err)

	assert.True(t, result.Success)
	assert.Equal(t, 1, env.executor.callCount())
	assert.Equal(t, 1, env.pool.Stats().SessionsByRole["frontend"].TotalSessions)
	assert.Equal(t, "t1", result.Output["task_id"])

	// The session returned to the pool: a second task reuses it.
	_, err = env.orch.Execute(context.Background(), task)
	require.NoError(t, err)
	assert.Equal(t, 1, env.factory.created)
}

func TestBoundaryDelegationShortCircuits(t *testing.T) {
	// Route database work to Frontend so the boundary guard must
	// hand it off.
	env := newTestEnv(t, func(deps *Deps, cfg *Config) {
		logger := observability.NewLogger(observability.LoggerConfig{Level: "error", Format: "text"})
		rules := []delegation.Rule{{
			Name:            "Misrouted DB Tasks",
			Priority:        10,
			Condition:       delegation.DescriptionContains("postgres", "index"),
			TargetRole:      identity.RoleFrontend,
			ConfidenceBoost: 0.8,
		}}
		engine, err := delegation.NewEngine(delegation.StrategyContentBased, identity.RoleFrontend, logger,
			delegation.WithRules(rules))
		require.NoError(t, err)
		deps.Engine = engine
	})

	task := schema.NewTask("t3", "Add index on users.email in Postgres",
		schema.PriorityMedium, schema.TaskTypeDevelopment)

	result, err := env.orch.Execute(context.Background(), task)
	require.NoError(t, err)

	assert.False(t, result.Success)
	assert.Equal(t, "delegated", result.Output["action"])
	assert.Equal(t, string(identity.RoleBackend), result.Output["target"])
	assert.Zero(t, env.executor.callCount(), "provider must not be called")
}

func TestQualityRemediationEmitted(t *testing.T) {
	issues := []schema.QualityIssue{
		{Severity: schema.SeverityCritical, Category: schema.CategorySecurity,
			Description: "hardcoded credentials", SuggestedFix: "use env vars", FixEffortMinutes: 20},
		{Severity: schema.SeverityHigh, Category: schema.CategoryTestCoverage,
			Description: "0% coverage", SuggestedFix: "add tests", FixEffortMinutes: 90},
	}
	env := newTestEnv(t, func(deps *Deps, cfg *Config) {
		deps.Judge = failJudge{issues: issues}
	})

	task := schema.NewTask("t6", "Create login endpoint", schema.PriorityHigh, schema.TaskTypeFeature)

	result, err := env.orch.Execute(context.Background(), task)
	require.NoError(t, err)
	assert.False(t, result.Success)

	remediations := env.orch.PendingRemediations()
	require.Len(t, remediations, 1)
	remediation := remediations[0]
	assert.Equal(t, schema.TaskTypeRemediation, remediation.Type)
	assert.Equal(t, "t6", remediation.ParentTaskID)
	assert.Contains(t, remediation.Description, "hardcoded credentials")
	assert.Contains(t, remediation.Description, "0% coverage")
	assert.Contains(t, remediation.Description, "110 minutes")

	var remediationMsg *schema.CoordinationMessage
	for i := range env.sink.messages {
		if env.sink.messages[i].Kind == schema.MessageRemediation {
			remediationMsg = &env.sink.messages[i]
		}
	}
	require.NotNil(t, remediationMsg)
	assert.Equal(t, 110, remediationMsg.Payload["total_fix_minutes"])
}

func TestJudgeFailureIsNonBlocking(t *testing.T) {
	env := newTestEnv(t, func(deps *Deps, cfg *Config) {
		deps.Judge = erroringJudge{}
	})

	task := schema.NewTask("t7", "Create a React widget", schema.PriorityMedium, schema.TaskTypeFeature)

	result, err := env.orch.Execute(context.Background(), task)
	require.NoError(t, err)
	assert.True(t, result.Success)
	assert.Equal(t, "quality review unavailable", result.Output["quality_warning"])
}

func TestProviderTimeoutAborts(t *testing.T) {
	env := newTestEnv(t, func(deps *Deps, cfg *Config) {
		cfg.ProviderTimeout = 30 * time.Millisecond
	})
	env.executor.responses = []func(string, identity.AgentIdentity) (string, error){
		func(prompt string, ident identity.AgentIdentity) (string, error) {
			time.Sleep(100 * time.Millisecond)
			return "", context.DeadlineExceeded
		},
	}

	task := schema.NewTask("t8", "Create a React widget", schema.PriorityMedium, schema.TaskTypeFeature)

	result, err := env.orch.Execute(context.Background(), task)
	require.NoError(t, err)
	assert.False(t, result.Success)
	assert.Equal(t, "timeout", result.Output["cause"])
	assert.Equal(t, 1, env.executor.callCount(), "timeouts are not retried")

	// The session remains pooled after a timeout.
	assert.Equal(t, 1, env.pool.Stats().SessionsByRole["frontend"].TotalSessions)
}

func TestTransientProviderErrorRetriedOnce(t *testing.T) {
	env := newTestEnv(t, nil)
	env.executor.responses = []func(string, identity.AgentIdentity) (string, error){
		func(prompt string, ident identity.AgentIdentity) (string, error) {
			return "", provider.NewTransientError("mock", errors.New("overloaded"))
		},
		func(prompt string, ident identity.AgentIdentity) (string, error) {
			return healthyResponse(ident, "Task complete."), nil
		},
	}

	task := schema.NewTask("t9", "Create a React widget", schema.PriorityMedium, schema.TaskTypeFeature)

	result, err := env.orch.Execute(context.Background(), task)
	require.NoError(t, err)
	assert.True(t, result.Success)
	assert.Equal(t, 2, env.executor.callCount())
}

func TestPermanentProviderErrorNotRetried(t *testing.T) {
	env := newTestEnv(t, nil)
	env.executor.responses = []func(string, identity.AgentIdentity) (string, error){
		func(prompt string, ident identity.AgentIdentity) (string, error) {
			return "", provider.NewPermanentError("mock", errors.New("bad request"))
		},
	}

	task := schema.NewTask("t10", "Create a React widget", schema.PriorityMedium, schema.TaskTypeFeature)

	result, err := env.orch.Execute(context.Background(), task)
	require.NoError(t, err)
	assert.False(t, result.Success)
	assert.Equal(t, 1, env.executor.callCount())
}

func TestIdentityDriftCorrectedOnce(t *testing.T) {
	env := newTestEnv(t, nil)
	env.executor.responses = []func(string, identity.AgentIdentity) (string, error){
		func(prompt string, ident identity.AgentIdentity) (string, error) {
			return "Working on it without any header.", nil
		},
		func(prompt string, ident identity.AgentIdentity) (string, error) {
			return healthyResponse(ident, "Task complete."), nil
		},
	}

	task := schema.NewTask("t11", "Create a React widget", schema.PriorityMedium, schema.TaskTypeFeature)

	result, err := env.orch.Execute(context.Background(), task)
	require.NoError(t, err)
	assert.True(t, result.Success)
	require.Equal(t, 2, env.executor.callCount())
	assert.Contains(t, env.executor.prompts[1], "IDENTITY DRIFT DETECTED")
}

func TestRepeatedDriftDiscardsSession(t *testing.T) {
	env := newTestEnv(t, nil)
	env.executor.responses = []func(string, identity.AgentIdentity) (string, error){
		func(prompt string, ident identity.AgentIdentity) (string, error) {
			return "No header, attempt one.", nil
		},
		func(prompt string, ident identity.AgentIdentity) (string, error) {
			return "No header, attempt two.", nil
		},
	}

	task := schema.NewTask("t12", "Create a React widget", schema.PriorityMedium, schema.TaskTypeFeature)

	result, err := env.orch.Execute(context.Background(), task)
	require.NoError(t, err)
	assert.False(t, result.Success)
	assert.Equal(t, "identity_failure", result.Output["cause"])
	assert.Equal(t, 1, env.factory.destroyed, "session torn down on repeated drift")
}

func TestBoundaryViolationMidExecution(t *testing.T) {
	env := newTestEnv(t, nil)
	env.executor.responses = []func(string, identity.AgentIdentity) (string, error){
		func(prompt string, ident identity.AgentIdentity) (string, error) {
			return healthyResponse(ident, "I am also modifying the database schema now."), nil
		},
	}

	task := schema.NewTask("t13", "Create a React widget", schema.PriorityMedium, schema.TaskTypeFeature)

	result, err := env.orch.Execute(context.Background(), task)
	require.NoError(t, err)
	assert.False(t, result.Success)
	assert.Equal(t, "boundary_violation", result.Output["cause"])
	// The session stays healthy and pooled.
	assert.Zero(t, env.factory.destroyed)
	assert.Equal(t, 1, env.pool.Stats().SessionsByRole["frontend"].TotalSessions)
}

func TestSnapshotWrittenAfterTask(t *testing.T) {
	env := newTestEnv(t, nil)

	task := schema.NewTask("t14", "Create a React widget", schema.PriorityMedium, schema.TaskTypeFeature)
	_, err := env.orch.Execute(context.Background(), task)
	require.NoError(t, err)

	require.NotEmpty(t, env.sink.snapshots)
	last := env.sink.snapshots[len(env.sink.snapshots)-1]
	assert.Equal(t, "Frontend", last.Role)
	assert.Equal(t, 1, last.TaskHistory.Total)
	assert.Equal(t, 1, last.TaskHistory.Successful)
	assert.NotNil(t, last.LastResult)

	summary, ok := env.orch.AgentHistory(last.AgentID)
	require.True(t, ok)
	assert.Equal(t, 1, summary.Total)
}

func TestRefinementLoopCapped(t *testing.T) {
	env := newTestEnv(t, nil)
	longBody := strings.Repeat("still working through the component structure. ", 5)
	respond := func(prompt string, ident identity.AgentIdentity) (string, error) {
		return healthyResponse(ident, longBody), nil
	}
	env.executor.responses = []func(string, identity.AgentIdentity) (string, error){respond, respond, respond, respond}

	task := schema.NewTask("t15", "Create a React widget", schema.PriorityMedium, schema.TaskTypeFeature)

	result, err := env.orch.Execute(context.Background(), task)
	require.NoError(t, err)
	assert.True(t, result.Success)
	assert.Equal(t, 3, env.executor.callCount(), "loop capped at max iterations")
	assert.Equal(t, 3, result.Output["execution_iterations"])
}
