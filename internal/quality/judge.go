// Package quality judges task output against role-weighted standards
// and renders fix instructions for failed reviews.
package quality

import (
	"context"
	"regexp"
	"strings"
	"time"

	"github.com/ferg-cod3s/conductor/internal/identity"
	"github.com/ferg-cod3s/conductor/pkg/schema"
)

// Judge evaluates a task's output for a role. Implementations may call
// out to a provider; the orchestrator treats review as non-blocking.
type Judge interface {
	Evaluate(ctx context.Context, task schema.Task, content string, role identity.Role) (*schema.QualityEvaluation, error)
}

// Rubric holds evaluation dimensions with their weights, acceptance
// thresholds, and per-role weight adjustments.
type Rubric struct {
	Dimensions  map[string]float64            `json:"dimensions"`
	Thresholds  map[string]float64            `json:"thresholds"`
	RoleWeights map[string]map[string]float64 `json:"role_weights"`
	// PassScore is the minimum overall score that passes standards.
	PassScore float64 `json:"pass_score"`
}

// DefaultRubric returns the baseline evaluation rubric.
func DefaultRubric() Rubric {
	return Rubric{
		Dimensions: map[string]float64{
			"correctness":     0.3,
			"maintainability": 0.2,
			"test_quality":    0.2,
			"security":        0.15,
			"performance":     0.1,
			"documentation":   0.05,
		},
		Thresholds: map[string]float64{
			"correctness":     0.9,
			"maintainability": 0.8,
			"test_quality":    0.85,
			"security":        0.9,
			"performance":     0.7,
			"documentation":   0.7,
		},
		RoleWeights: map[string]map[string]float64{
			"Frontend": {
				"correctness":     0.25,
				"maintainability": 0.2,
				"test_quality":    0.15,
				"security":        0.1,
				"performance":     0.15,
				"documentation":   0.05,
				"accessibility":   0.1,
			},
			"Backend": {
				"correctness":     0.3,
				"maintainability": 0.15,
				"test_quality":    0.25,
				"security":        0.2,
				"performance":     0.1,
			},
			"DevOps": {
				"correctness":     0.25,
				"maintainability": 0.15,
				"test_quality":    0.1,
				"security":        0.3,
				"performance":     0.15,
				"documentation":   0.05,
			},
		},
		PassScore: 0.85,
	}
}

// WeightsFor returns the weight map for a role, falling back to the
// global dimensions.
func (r Rubric) WeightsFor(role string) map[string]float64 {
	if weights, ok := r.RoleWeights[role]; ok {
		return weights
	}
	return r.Dimensions
}

// HeuristicJudge scores content without calling a provider. Confidence
// is capped accordingly.
type HeuristicJudge struct {
	rubric Rubric
	now    func() time.Time
}

// NewHeuristicJudge builds a heuristic judge with the default rubric.
func NewHeuristicJudge() *HeuristicJudge {
	return &HeuristicJudge{rubric: DefaultRubric(), now: time.Now}
}

// NewHeuristicJudgeWithRubric builds a heuristic judge with a custom
// rubric and clock.
func NewHeuristicJudgeWithRubric(rubric Rubric, now func() time.Time) *HeuristicJudge {
	if now == nil {
		now = time.Now
	}
	return &HeuristicJudge{rubric: rubric, now: now}
}

var credentialPattern = regexp.MustCompile(`(?i)(password|secret|api[_-]?key|token)\s*[:=]\s*["'][^"']+["']`)

// Evaluate scores the content with cheap textual heuristics.
func (j *HeuristicJudge) Evaluate(ctx context.Context, task schema.Task, content string, role identity.Role) (*schema.QualityEvaluation, error) {
	lower := strings.ToLower(content)
	lines := strings.Count(content, "\n") + 1
	hasTests := strings.Contains(lower, "test") || strings.Contains(lower, "spec")
	hasErrorHandling := strings.Contains(lower, "try") || strings.Contains(lower, "catch") ||
		strings.Contains(content, "err != nil") || strings.Contains(content, "Result") ||
		strings.Contains(content, "Option")
	hasComments := strings.Contains(content, "//") || strings.Contains(content, "/*") ||
		strings.Contains(content, "#")
	hasCredentials := credentialPattern.MatchString(content)

	dimensionScores := map[string]float64{
		"correctness":    0.8,
		"security":       0.7,
		"performance":    0.7,
		"architecture":   0.7,
		"error_handling": 0.5,
		"test_quality":   0.3,
		"documentation":  0.4,
	}
	if lines < 200 {
		dimensionScores["maintainability"] = 0.9
	} else {
		dimensionScores["maintainability"] = 0.7
	}
	if hasTests {
		dimensionScores["test_quality"] = 0.8
	}
	if hasComments {
		dimensionScores["documentation"] = 0.7
	}
	if hasErrorHandling {
		dimensionScores["error_handling"] = 0.8
	}
	if hasCredentials {
		dimensionScores["security"] = 0.2
	}

	var issues []schema.QualityIssue
	if hasCredentials {
		issues = append(issues, schema.QualityIssue{
			Severity:         schema.SeverityCritical,
			Category:         schema.CategorySecurity,
			Description:      "Hardcoded credentials detected in output",
			SuggestedFix:     "Move secrets to environment variables or a secret store",
			FixEffortMinutes: 20,
		})
	}
	if !hasTests {
		issues = append(issues, schema.QualityIssue{
			Severity:         schema.SeverityHigh,
			Category:         schema.CategoryTestCoverage,
			Description:      "No tests found for the implementation",
			SuggestedFix:     "Add unit tests covering main functionality and edge cases",
			FixEffortMinutes: 60,
		})
	}
	if !hasErrorHandling {
		issues = append(issues, schema.QualityIssue{
			Severity:         schema.SeverityMedium,
			Category:         schema.CategoryErrorHandling,
			Description:      "Limited error handling detected",
			SuggestedFix:     "Add proper error handling for edge cases and failures",
			FixEffortMinutes: 30,
		})
	}

	weights := j.rubric.WeightsFor(role.Name())
	weightedSum := 0.0
	weightTotal := 0.0
	for dimension, weight := range weights {
		score, ok := dimensionScores[dimension]
		if !ok {
			score = 0.1
		}
		weightedSum += weight * score
		weightTotal += weight
	}
	overall := 0.0
	if weightTotal > 0 {
		overall = weightedSum / weightTotal
	}

	highOrWorse := 0
	for _, issue := range issues {
		if issue.Severity.AtLeast(schema.SeverityHigh) {
			highOrWorse++
		}
	}
	passes := overall >= j.rubric.PassScore && highOrWorse == 0

	feedback := "Meets standards."
	if !passes {
		feedback = "Needs improvement."
	}
	return &schema.QualityEvaluation{
		OverallScore:    overall,
		DimensionScores: dimensionScores,
		Issues:          issues,
		Feedback:        feedback,
		PassesStandards: passes,
		Confidence:      0.6, // heuristic evaluation carries lower confidence
		EvaluatedAt:     j.now(),
	}, nil
}
