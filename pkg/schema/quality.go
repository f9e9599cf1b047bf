package schema

import "time"

// IssueSeverity ranks quality issues. Critical > High > Medium > Low.
type IssueSeverity string

const (
	SeverityCritical IssueSeverity = "critical"
	SeverityHigh     IssueSeverity = "high"
	SeverityMedium   IssueSeverity = "medium"
	SeverityLow      IssueSeverity = "low"
)

var severityRank = map[IssueSeverity]int{
	SeverityCritical: 3,
	SeverityHigh:     2,
	SeverityMedium:   1,
	SeverityLow:      0,
}

// Rank returns the numeric ordering of a severity; unknown severities
// rank below Low.
func (s IssueSeverity) Rank() int {
	if r, ok := severityRank[s]; ok {
		return r
	}
	return -1
}

// AtLeast reports whether s is at least as severe as other.
func (s IssueSeverity) AtLeast(other IssueSeverity) bool {
	return s.Rank() >= other.Rank()
}

// IssueCategory classifies what aspect of the work an issue concerns.
type IssueCategory string

const (
	CategorySecurity      IssueCategory = "security"
	CategoryPerformance   IssueCategory = "performance"
	CategoryTestCoverage  IssueCategory = "test_coverage"
	CategoryComplexity    IssueCategory = "code_complexity"
	CategoryDocumentation IssueCategory = "documentation"
	CategoryErrorHandling IssueCategory = "error_handling"
	CategoryArchitecture  IssueCategory = "architecture"
	CategoryBestPractices IssueCategory = "best_practices"
	CategoryAccessibility IssueCategory = "accessibility"
	CategoryTypeSafety    IssueCategory = "type_safety"
)

// QualityIssue is a single defect detected during quality review.
type QualityIssue struct {
	Severity         IssueSeverity `json:"severity"`
	Category         IssueCategory `json:"category"`
	Description      string        `json:"description"`
	SuggestedFix     string        `json:"suggested_fix,omitempty"`
	AffectedAreas    []string      `json:"affected_areas,omitempty"`
	FixEffortMinutes int           `json:"fix_effort_minutes"`
}

// QualityEvaluation is the verdict returned by a quality judge for one
// task's output.
type QualityEvaluation struct {
	OverallScore    float64            `json:"overall_score"`
	DimensionScores map[string]float64 `json:"dimension_scores"`
	Issues          []QualityIssue     `json:"issues"`
	Feedback        string             `json:"feedback,omitempty"`
	PassesStandards bool               `json:"passes_standards"`
	Confidence      float64            `json:"confidence"`
	EvaluatedAt     time.Time          `json:"evaluated_at"`
}

// HighestSeverity returns the most severe issue severity present, or
// false when the evaluation has no issues.
func (e *QualityEvaluation) HighestSeverity() (IssueSeverity, bool) {
	if len(e.Issues) == 0 {
		return "", false
	}
	best := e.Issues[0].Severity
	for _, issue := range e.Issues[1:] {
		if issue.Severity.Rank() > best.Rank() {
			best = issue.Severity
		}
	}
	return best, true
}

// TotalFixEffort sums the estimated fix effort across all issues.
func (e *QualityEvaluation) TotalFixEffort() int {
	total := 0
	for _, issue := range e.Issues {
		total += issue.FixEffortMinutes
	}
	return total
}
