package quality

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	gocache "github.com/patrickmn/go-cache"

	"github.com/ferg-cod3s/conductor/internal/identity"
	"github.com/ferg-cod3s/conductor/internal/observability"
	"github.com/ferg-cod3s/conductor/internal/provider"
	"github.com/ferg-cod3s/conductor/pkg/schema"
)

// ProviderJudge asks a provider to evaluate content against the rubric
// and falls back to heuristics when the response cannot be parsed.
// Identical content is served from a TTL cache instead of re-judging.
type ProviderJudge struct {
	executor   provider.Executor
	fallback   *HeuristicJudge
	rubric     Rubric
	logger     *observability.Logger
	cache      *gocache.Cache
	judgeIdent identity.AgentIdentity
}

// NewProviderJudge builds a provider-backed judge.
func NewProviderJudge(executor provider.Executor, logger *observability.Logger) *ProviderJudge {
	rubric := DefaultRubric()
	return &ProviderJudge{
		executor:   executor,
		fallback:   NewHeuristicJudgeWithRubric(rubric, nil),
		rubric:     rubric,
		logger:     logger,
		cache:      gocache.New(10*time.Minute, 30*time.Minute),
		judgeIdent: identity.NewAgentIdentity(identity.MustDefaultRole(identity.RoleMaster), ""),
	}
}

// Evaluate runs the provider evaluation with caching and heuristic
// fallback.
func (j *ProviderJudge) Evaluate(ctx context.Context, task schema.Task, content string, role identity.Role) (*schema.QualityEvaluation, error) {
	key := cacheKey(task.ID, content, role.Name())
	if cached, ok := j.cache.Get(key); ok {
		eval := cached.(schema.QualityEvaluation)
		return &eval, nil
	}

	prompt := j.evaluationPrompt(task, content, role)
	response, err := j.executor.ExecutePrompt(ctx, prompt, j.judgeIdent, "")
	if err != nil {
		j.logger.Warn("provider evaluation failed, using heuristics",
			"task_id", task.ID, "error", err)
		return j.fallback.Evaluate(ctx, task, content, role)
	}

	eval, err := parseEvaluation(response)
	if err != nil {
		j.logger.Warn("provider evaluation unparseable, using heuristics",
			"task_id", task.ID, "error", err)
		return j.fallback.Evaluate(ctx, task, content, role)
	}

	j.cache.Set(key, *eval, gocache.DefaultExpiration)
	return eval, nil
}

// evaluationPrompt renders the judge prompt with the role's dimensions.
func (j *ProviderJudge) evaluationPrompt(task schema.Task, content string, role identity.Role) string {
	weights := j.rubric.WeightsFor(role.Name())
	dimensions := make([]string, 0, len(weights))
	for dimension := range weights {
		dimensions = append(dimensions, "- "+dimension)
	}

	var b strings.Builder
	fmt.Fprintf(&b, "You are a code quality judge evaluating the output of a %s agent.\n\n", role.Name())
	fmt.Fprintf(&b, "## Task Description\n%s\n\n", task.Description)
	fmt.Fprintf(&b, "## Content to Evaluate\n```\n%s\n```\n\n", content)
	fmt.Fprintf(&b, "## Evaluation Rubric\nEvaluate on these dimensions (0.0 to 1.0 scale):\n%s\n\n", strings.Join(dimensions, "\n"))
	b.WriteString(`## Required Output Format
Respond with a JSON object:
{
  "overall_score": 0.0,
  "dimension_scores": {"correctness": 0.0},
  "issues": [
    {"severity": "critical|high|medium|low", "category": "security",
     "description": "...", "suggested_fix": "...", "fix_effort_minutes": 30}
  ],
  "feedback": "...",
  "passes_standards": true,
  "confidence": 0.0
}
`)
	fmt.Fprintf(&b, "\nFocus on %s agent-specific concerns. Be thorough but constructive.\n", role.Name())
	return b.String()
}

// parseEvaluation extracts the JSON verdict from a provider response,
// tolerating surrounding prose and code fences.
func parseEvaluation(response string) (*schema.QualityEvaluation, error) {
	start := strings.Index(response, "{")
	end := strings.LastIndex(response, "}")
	if start < 0 || end <= start {
		return nil, fmt.Errorf("no JSON object in evaluation response")
	}

	var eval schema.QualityEvaluation
	if err := json.Unmarshal([]byte(response[start:end+1]), &eval); err != nil {
		return nil, fmt.Errorf("parse evaluation: %w", err)
	}
	if eval.OverallScore < 0 || eval.OverallScore > 1 {
		return nil, fmt.Errorf("overall score %f outside [0,1]", eval.OverallScore)
	}
	if eval.EvaluatedAt.IsZero() {
		eval.EvaluatedAt = time.Now()
	}
	return &eval, nil
}

func cacheKey(taskID, content, role string) string {
	sum := sha256.Sum256([]byte(taskID + "\x00" + role + "\x00" + content))
	return hex.EncodeToString(sum[:])
}
