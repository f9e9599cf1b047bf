package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"

	"github.com/ferg-cod3s/conductor/internal/delegation"
	"github.com/ferg-cod3s/conductor/internal/identity"
	"github.com/ferg-cod3s/conductor/internal/observability"
	"github.com/ferg-cod3s/conductor/internal/persistence"
	"github.com/ferg-cod3s/conductor/internal/provider"
	"github.com/ferg-cod3s/conductor/internal/quality"
	"github.com/ferg-cod3s/conductor/internal/ratelimit"
	"github.com/ferg-cod3s/conductor/internal/resource"
	"github.com/ferg-cod3s/conductor/internal/session"
	"github.com/ferg-cod3s/conductor/pkg/schema"
)

// Config tunes the orchestrator's execution pipeline.
type Config struct {
	// MaxIterations bounds the refinement loop.
	MaxIterations int `json:"max_iterations" yaml:"max_iterations"`
	// ProviderTimeout bounds one provider invocation.
	ProviderTimeout time.Duration `json:"provider_timeout" yaml:"provider_timeout"`
	// HistoryLimit bounds per-agent task history.
	HistoryLimit int `json:"history_limit" yaml:"history_limit"`
}

// DefaultConfig returns the default orchestrator configuration.
func DefaultConfig() Config {
	return Config{
		MaxIterations:   3,
		ProviderTimeout: 5 * time.Minute,
		HistoryLimit:    100,
	}
}

// Deps are the collaborators the orchestrator composes.
type Deps struct {
	Engine   *delegation.Engine
	Pool     *session.Pool
	Monitor  *resource.Monitor
	Executor provider.Executor
	Judge    quality.Judge
	Limiter  *ratelimit.RateLimiter // optional
	Sink     persistence.Sink       // optional, defaults to Discard
	Logger   *observability.Logger
	Metrics  *observability.MetricsCollector // optional
	Tracer   *observability.Tracing          // optional
}

// agentRecord tracks one agent's task history and status.
type agentRecord struct {
	status  schema.AgentStatus
	history []historyEntry
	summary schema.TaskHistorySummary
	drift   int // consecutive drift detections
}

type historyEntry struct {
	task   schema.Task
	result schema.TaskResult
}

// Orchestrator accepts tasks, delegates them, and executes them on
// pooled sessions under boundary and resource guards.
type Orchestrator struct {
	cfg  Config
	deps Deps
	now  func() time.Time

	mu           sync.RWMutex
	agents       map[string]*agentRecord
	remediations []schema.Task
}

// Option customizes an Orchestrator.
type Option func(*Orchestrator)

// WithClock overrides the orchestrator's wall clock for tests.
func WithClock(now func() time.Time) Option {
	return func(o *Orchestrator) { o.now = now }
}

// New wires an orchestrator.
func New(cfg Config, deps Deps, opts ...Option) *Orchestrator {
	if cfg.MaxIterations <= 0 {
		cfg.MaxIterations = 3
	}
	if cfg.ProviderTimeout <= 0 {
		cfg.ProviderTimeout = 5 * time.Minute
	}
	if cfg.HistoryLimit <= 0 {
		cfg.HistoryLimit = 100
	}
	if deps.Sink == nil {
		deps.Sink = persistence.Discard{}
	}
	o := &Orchestrator{
		cfg:    cfg,
		deps:   deps,
		now:    time.Now,
		agents: make(map[string]*agentRecord),
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// Execute runs one task end to end: delegate, acquire, guard, execute
// under monitoring, review, and record. All component errors are mapped
// into the returned TaskResult here and nowhere else.
func (o *Orchestrator) Execute(ctx context.Context, task schema.Task) (schema.TaskResult, error) {
	start := o.now()
	ctx = context.WithValue(ctx, observability.TaskIDKey, task.ID)

	if o.deps.Metrics != nil {
		o.deps.Metrics.TasksInFlight.Inc()
		defer o.deps.Metrics.TasksInFlight.Dec()
	}

	// Step 1: delegate.
	decision, err := o.deps.Engine.Delegate(task)
	if err != nil {
		return o.finishWithoutSession(ctx, task, schema.FailureResult(nil, err.Error(), o.now().Sub(start)))
	}
	role, err := identity.DefaultRole(decision.TargetRole)
	if err != nil {
		return o.finishWithoutSession(ctx, task, schema.FailureResult(nil, err.Error(), o.now().Sub(start)))
	}

	// Step 2: acquire a session.
	s, err := o.deps.Pool.GetOrCreate(ctx, role)
	if err != nil {
		if errors.Is(err, session.ErrCircuitOpen) {
			result := schema.FailureResult(map[string]any{
				"action":      "rejected",
				"reason":      "session creation temporarily disabled",
				"retry_after": "60s",
			}, err.Error(), o.now().Sub(start))
			return o.finishWithoutSession(ctx, task, result)
		}
		return o.finishWithoutSession(ctx, task, schema.FailureResult(nil, err.Error(), o.now().Sub(start)))
	}

	ctx = context.WithValue(ctx, observability.AgentIDKey, s.Identity.AgentID)
	ctx = context.WithValue(ctx, observability.SessionIDKey, s.Identity.SessionID)
	ctx = context.WithValue(ctx, observability.RoleKey, role.Name())

	if o.deps.Tracer != nil {
		spanCtx, span := o.deps.Tracer.TaskSpan(ctx, task.ID, role.Name())
		ctx = spanCtx
		span.SetAttributes(attribute.Float64("delegation.confidence", decision.Confidence))
		defer span.End()
	}

	o.setStatus(ctx, s, schema.StatusWorking, &task, nil)

	// Step 3: guard with the session role's boundary checker.
	checker := identity.NewBoundaryChecker(role)
	evaluation := checker.EvaluateTask(task)
	switch evaluation.Kind {
	case identity.EvaluationAccept:
		// fall through to execution
	case identity.EvaluationDelegate:
		result := schema.FailureResult(map[string]any{
			"action":     "delegated",
			"target":     string(evaluation.TargetRole),
			"suggestion": evaluation.Suggestion,
		}, "", o.now().Sub(start))
		o.emitMessage(ctx, s.Identity.AgentID, string(evaluation.TargetRole), schema.MessageTaskDelegated, map[string]any{
			"task_id": task.ID, "reason": evaluation.Reason,
		})
		return o.finish(ctx, s, task, result, "delegated")
	case identity.EvaluationClarify:
		result := schema.FailureResult(map[string]any{
			"action":    "clarification_needed",
			"questions": evaluation.Questions,
		}, "", o.now().Sub(start))
		return o.finish(ctx, s, task, result, "clarification_needed")
	case identity.EvaluationReject:
		// The delegation engine picked a role whose boundaries reject
		// the task: a consistency bug between rules and roles.
		o.deps.Logger.ErrorContext(ctx, "delegated task rejected by boundary check",
			"task_id", task.ID, "role", role.Name(), "reason", evaluation.Reason)
		result := schema.FailureResult(map[string]any{
			"action": "rejected",
			"reason": evaluation.Reason,
		}, fmt.Sprintf("task rejected: %s", evaluation.Reason), o.now().Sub(start))
		return o.finish(ctx, s, task, result, "rejected")
	}

	// Register the agent with the resource monitor on first use.
	if o.deps.Monitor != nil && !o.deps.Monitor.IsMonitored(s.Identity.AgentID) {
		o.deps.Monitor.StartMonitoring(s.Identity.AgentID, int32(s.Identity.ParentProcessID), nil)
	}

	// Steps 4-6: execute the refinement loop on the session.
	var result schema.TaskResult
	execErr := o.deps.Pool.ExecuteOnSession(ctx, s, func(opCtx context.Context) error {
		var loopErr error
		result, loopErr = o.executeLoop(opCtx, s, role, task, start)
		if loopErr != nil {
			return loopErr
		}
		if !result.Success {
			return errors.New(result.Error)
		}
		return nil
	})
	if result.Output == nil {
		msg := "task execution produced no result"
		if execErr != nil {
			msg = execErr.Error()
		}
		result = schema.FailureResult(nil, msg, o.now().Sub(start))
	}

	// Step 7: quality review, non-blocking on judge failure.
	if result.Success && o.deps.Judge != nil {
		result = o.reviewQuality(ctx, s, role, task, result)
	}

	// Step 8: record.
	outcome := "success"
	if !result.Success {
		outcome = "failure"
	}
	return o.finish(ctx, s, task, result, outcome)
}

// executeLoop runs the provider with interleaved thinking, identity
// monitoring, and bounded refinement.
func (o *Orchestrator) executeLoop(ctx context.Context, s *session.Session, role identity.Role, task schema.Task, start time.Time) (schema.TaskResult, error) {
	thinking := NewThinkingEngine()
	monitor := identity.NewMonitor(s.Identity)
	prompt := o.composePrompt(s.Identity, role, task, "")

	var finalOutput string
	iterations := 0
	correctionIssued := false

	for iterations < o.cfg.MaxIterations {
		iterations++

		output, err := o.invokeProvider(ctx, s, prompt)
		if err != nil {
			if errors.Is(err, context.DeadlineExceeded) {
				return schema.FailureResult(map[string]any{
					"action": "aborted",
					"cause":  "timeout",
				}, "task aborted: provider timeout", o.now().Sub(start)), nil
			}
			if errors.Is(err, context.Canceled) {
				return schema.FailureResult(map[string]any{
					"action": "cancelled",
				}, "cancelled", o.now().Sub(start)), nil
			}
			return schema.FailureResult(nil, err.Error(), o.now().Sub(start)), nil
		}

		// Identity screening before the thinking step.
		status := monitor.CheckResponse(output)
		switch status.Kind {
		case identity.MonitorBoundaryViolation:
			o.deps.Logger.WarnContext(ctx, "boundary violation mid-execution", "detail", status.Message)
			return schema.FailureResult(map[string]any{
				"action": "aborted",
				"cause":  "boundary_violation",
			}, fmt.Sprintf("boundary violation: %s", status.Message), o.now().Sub(start)), nil
		case identity.MonitorCriticalFailure:
			o.deps.Pool.Discard(ctx, s, "critical identity failure")
			o.recordDrift(s.Identity.AgentID, 2)
			return schema.FailureResult(map[string]any{
				"action": "aborted",
				"cause":  "identity_failure",
			}, fmt.Sprintf("critical identity failure: %s", status.Message), o.now().Sub(start)), nil
		case identity.MonitorDriftDetected:
			if o.deps.Metrics != nil {
				o.deps.Metrics.IdentityDrift.Inc()
			}
			if correctionIssued {
				// Second consecutive drift demotes the session.
				o.deps.Pool.Discard(ctx, s, "repeated identity drift")
				o.setStatus(ctx, s, schema.StatusError("repeated identity drift"), nil, nil)
				return schema.FailureResult(map[string]any{
					"action": "aborted",
					"cause":  "identity_failure",
				}, fmt.Sprintf("identity drift not corrected: %s", status.Message), o.now().Sub(start)), nil
			}
			correctionIssued = true
			o.deps.Logger.WarnContext(ctx, "identity drift detected, issuing correction", "detail", status.Message)
			prompt = monitor.CorrectionPrompt()
			continue
		case identity.MonitorHealthy:
			correctionIssued = false
		}

		decision := thinking.Process(output, role.Name())
		switch decision.Kind {
		case DecisionContinue:
			finalOutput = output
		case DecisionRefine:
			finalOutput = output
			prompt = o.composePrompt(s.Identity, role, task,
				fmt.Sprintf("Previous attempt:\n%s\n\nRefine the approach: %s", truncate(output, 2000), decision.Refinement))
		case DecisionComplete:
			finalOutput = output
			return o.successResult(s, task, finalOutput, thinking, iterations, start), nil
		case DecisionPivot:
			prompt = o.composePrompt(s.Identity, role, task,
				fmt.Sprintf("The previous approach failed. New approach: %s", decision.NewApproach))
		case DecisionRequestContext:
			prompt += fmt.Sprintf("\n\nPlease address: %s", strings.Join(decision.Questions, ", "))
		case DecisionAbort:
			return schema.FailureResult(map[string]any{
				"action": "aborted",
				"cause":  "thinking_abort",
			}, fmt.Sprintf("task aborted: %s", decision.Reason), o.now().Sub(start)), nil
		}
	}

	if finalOutput == "" {
		return schema.FailureResult(nil, "no usable provider output", o.now().Sub(start)), nil
	}
	return o.successResult(s, task, finalOutput, thinking, iterations, start), nil
}

// invokeProvider runs one provider call under the timeout and rate
// limiter, with a single retry for transient failures.
func (o *Orchestrator) invokeProvider(ctx context.Context, s *session.Session, prompt string) (string, error) {
	if o.deps.Limiter != nil {
		verdict, err := o.deps.Limiter.AllowProviderCall(ctx, s.Identity.AgentID)
		if err != nil {
			o.deps.Logger.WarnContext(ctx, "rate limiter unavailable", "error", err)
		} else if !verdict.Allowed {
			return "", provider.NewTransientError("ratelimit",
				fmt.Errorf("provider call rate limited, retry after %s", verdict.RetryAfter))
		}
	}

	attempt := func() (string, error) {
		callCtx, cancel := context.WithTimeout(ctx, o.cfg.ProviderTimeout)
		defer cancel()

		callStart := o.now()
		output, err := o.deps.Executor.ExecutePrompt(callCtx, prompt, s.Identity, s.Identity.WorkspacePath)
		elapsed := o.now().Sub(callStart)

		if o.deps.Metrics != nil {
			status := "success"
			if err != nil {
				status = "failure"
			}
			o.deps.Metrics.RecordProviderCall("default", status, elapsed)
		}
		o.deps.Logger.LogProviderCall(ctx, "default", err == nil, elapsed)
		return output, err
	}

	output, err := attempt()
	if err == nil {
		return output, nil
	}
	// Timeouts are never retried; transient failures get one retry.
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return "", err
	}
	if provider.IsTransient(err) {
		o.deps.Logger.WarnContext(ctx, "transient provider error, retrying once", "error", err)
		return attempt()
	}
	return "", err
}

// reviewQuality runs the judge and, on failed standards with High or
// worse issues, synthesizes a remediation task for the same role.
func (o *Orchestrator) reviewQuality(ctx context.Context, s *session.Session, role identity.Role, task schema.Task, result schema.TaskResult) schema.TaskResult {
	content, _ := result.Output["response"].(string)
	eval, err := o.deps.Judge.Evaluate(ctx, task, content, role)
	if err != nil {
		// Review is non-blocking: surface the warning, keep the result.
		o.deps.Logger.WarnContext(ctx, "quality judge failed, skipping review", "error", err)
		result.Output["quality_warning"] = "quality review unavailable"
		return result
	}

	if o.deps.Metrics != nil {
		verdict := "pass"
		if !eval.PassesStandards {
			verdict = "fail"
		}
		o.deps.Metrics.QualityReviews.WithLabelValues(strings.ToLower(role.Name()), verdict).Inc()
		o.deps.Metrics.QualityScore.Observe(eval.OverallScore)
	}

	result.Output["quality"] = map[string]any{
		"overall_score":    eval.OverallScore,
		"passes_standards": eval.PassesStandards,
		"issues":           len(eval.Issues),
	}

	if eval.PassesStandards {
		return result
	}

	severity, ok := eval.HighestSeverity()
	if !ok || !severity.AtLeast(schema.SeverityHigh) {
		return result
	}

	remediation := schema.NewTask(
		fmt.Sprintf("%s-remediation", task.ID),
		quality.FixInstructions(eval.Issues, role.Name()),
		schema.PriorityHigh,
		schema.TaskTypeRemediation,
	).WithParent(task.ID)

	o.mu.Lock()
	o.remediations = append(o.remediations, remediation)
	o.mu.Unlock()

	if o.deps.Metrics != nil {
		o.deps.Metrics.RemediationTasks.Inc()
	}
	o.emitMessage(ctx, "master", s.Identity.AgentID, schema.MessageRemediation, map[string]any{
		"task_id":           remediation.ID,
		"parent_task_id":    task.ID,
		"total_fix_minutes": eval.TotalFixEffort(),
	})
	o.deps.Logger.InfoContext(ctx, "remediation task synthesized",
		"task_id", remediation.ID, "issues", len(eval.Issues), "total_fix_minutes", eval.TotalFixEffort())

	result.Success = false
	result.Output["remediation_task_id"] = remediation.ID
	return result
}

// PendingRemediations drains the synthesized remediation tasks.
func (o *Orchestrator) PendingRemediations() []schema.Task {
	o.mu.Lock()
	defer o.mu.Unlock()
	tasks := o.remediations
	o.remediations = nil
	return tasks
}

// AgentHistory returns the recorded history summary for an agent.
func (o *Orchestrator) AgentHistory(agentID string) (schema.TaskHistorySummary, bool) {
	o.mu.RLock()
	defer o.mu.RUnlock()
	record, ok := o.agents[agentID]
	if !ok {
		return schema.TaskHistorySummary{}, false
	}
	return record.summary, true
}

// successResult assembles the success result envelope.
func (o *Orchestrator) successResult(s *session.Session, task schema.Task, output string, thinking *ThinkingEngine, iterations int, start time.Time) schema.TaskResult {
	return schema.SuccessResult(map[string]any{
		"response":             output,
		"agent":                s.Identity.AgentID,
		"task_id":              task.ID,
		"thinking_summary":     thinking.Summary(),
		"execution_iterations": iterations,
	}, o.now().Sub(start))
}

// composePrompt renders the provider prompt: identity header, task,
// boundary reminder, and any carried refinement context. This is the
// only place a provider-ready prompt is constructed.
func (o *Orchestrator) composePrompt(ident identity.AgentIdentity, role identity.Role, task schema.Task, carried string) string {
	var b strings.Builder
	b.WriteString(ident.Header("task execution") + "\n\n")
	fmt.Fprintf(&b, "## Task %s\n%s\n", task.ID, task.Description)
	if task.Details != "" {
		fmt.Fprintf(&b, "\n### Details\n%s\n", task.Details)
	}
	if len(role.Boundaries) > 0 {
		b.WriteString("\n### Boundaries (do NOT do any of these)\n")
		for _, boundary := range role.Boundaries {
			fmt.Fprintf(&b, "- %s\n", boundary)
		}
	}
	b.WriteString("\nStart your response with your identity header.\n")
	if carried != "" {
		fmt.Fprintf(&b, "\n### Carried context\n%s\n", carried)
	}
	return b.String()
}

// finish records the outcome for a session-backed execution: session
// metrics were already folded in by the pool; here the history, status
// snapshot, and metrics are written and the session returns to the
// pool.
func (o *Orchestrator) finish(ctx context.Context, s *session.Session, task schema.Task, result schema.TaskResult, outcome string) (schema.TaskResult, error) {
	agentID := s.Identity.AgentID

	o.mu.Lock()
	record := o.agents[agentID]
	if record == nil {
		record = &agentRecord{status: schema.StatusAvailable}
		o.agents[agentID] = record
	}
	record.history = append(record.history, historyEntry{task: task, result: result})
	if len(record.history) > o.cfg.HistoryLimit {
		record.history = record.history[len(record.history)-o.cfg.HistoryLimit:]
	}
	record.summary.Total++
	if result.Success {
		record.summary.Successful++
		record.status = schema.StatusWaitingForReview
	} else {
		record.summary.Failed++
		record.status = schema.StatusAvailable
	}
	summary := record.summary
	status := record.status
	o.mu.Unlock()

	if o.deps.Metrics != nil {
		o.deps.Metrics.RecordTask(strings.ToLower(s.Role.Name()), outcome, result.Duration)
	}
	o.deps.Logger.LogTaskExecution(ctx, task.ID, result.Success, result.Duration)

	snapshot := schema.StatusSnapshot{
		AgentID:     agentID,
		Role:        s.Role.Name(),
		Status:      status,
		LastResult:  &result,
		Timestamp:   o.now(),
		Workspace:   s.Identity.WorkspacePath,
		TaskHistory: summary,
	}
	if err := o.deps.Sink.WriteSnapshot(ctx, snapshot); err != nil {
		o.deps.Logger.WarnContext(ctx, "status snapshot write failed", "error", err)
	}

	o.feedEngineMetrics(s.Role)
	return result, nil
}

// finishWithoutSession records an outcome for tasks that never reached
// a session (delegation or acquisition failures).
func (o *Orchestrator) finishWithoutSession(ctx context.Context, task schema.Task, result schema.TaskResult) (schema.TaskResult, error) {
	o.deps.Logger.LogTaskExecution(ctx, task.ID, result.Success, result.Duration)
	if o.deps.Metrics != nil {
		o.deps.Metrics.RecordTask("none", "failure", result.Duration)
	}
	return result, nil
}

// setStatus updates the recorded status and publishes a snapshot.
func (o *Orchestrator) setStatus(ctx context.Context, s *session.Session, status schema.AgentStatus, current *schema.Task, last *schema.TaskResult) {
	agentID := s.Identity.AgentID

	o.mu.Lock()
	record := o.agents[agentID]
	if record == nil {
		record = &agentRecord{}
		o.agents[agentID] = record
	}
	record.status = status
	summary := record.summary
	o.mu.Unlock()

	snapshot := schema.StatusSnapshot{
		AgentID:     agentID,
		Role:        s.Role.Name(),
		Status:      status,
		CurrentTask: current,
		LastResult:  last,
		Timestamp:   o.now(),
		Workspace:   s.Identity.WorkspacePath,
		TaskHistory: summary,
	}
	if err := o.deps.Sink.WriteSnapshot(ctx, snapshot); err != nil {
		o.deps.Logger.WarnContext(ctx, "status snapshot write failed", "error", err)
	}
}

// recordDrift tracks consecutive drift counts per agent.
func (o *Orchestrator) recordDrift(agentID string, count int) {
	o.mu.Lock()
	if record := o.agents[agentID]; record != nil {
		record.drift = count
	}
	o.mu.Unlock()
}

// emitMessage writes a coordination message to the sink.
func (o *Orchestrator) emitMessage(ctx context.Context, from, to string, kind schema.MessageKind, payload map[string]any) {
	message := schema.CoordinationMessage{
		From:    from,
		To:      to,
		Kind:    kind,
		Payload: payload,
		SentAt:  o.now(),
	}
	if err := o.deps.Sink.WriteMessage(ctx, message); err != nil {
		o.deps.Logger.WarnContext(ctx, "coordination message write failed", "error", err)
	}
}

// feedEngineMetrics publishes pool-derived workload metrics so the
// load and expertise delegation strategies have live data.
func (o *Orchestrator) feedEngineMetrics(role identity.Role) {
	stats := o.deps.Pool.Stats()
	roleStats := stats.SessionsByRole[strings.ToLower(role.Name())]

	o.mu.RLock()
	var completed, successful int
	for _, record := range o.agents {
		completed += record.summary.Total
		successful += record.summary.Successful
	}
	o.mu.RUnlock()

	successRate := 0.0
	if completed > 0 {
		successRate = float64(successful) / float64(completed)
	}
	o.deps.Engine.UpdateRoleMetrics(delegation.RoleMetrics{
		Role:                identity.RoleKind(role.Name()),
		CurrentTasks:        roleStats.TotalSessions,
		CompletedTasks:      completed,
		SuccessRate:         successRate,
		SpecializationScore: 0.8,
		Availability:        1.0,
	})
}

// truncate bounds carried context so prompts stay within provider
// limits.
func truncate(s string, limit int) string {
	if len(s) <= limit {
		return s
	}
	return s[:limit] + "\n[truncated]"
}
