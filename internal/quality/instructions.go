package quality

import (
	"fmt"
	"sort"
	"strings"

	"github.com/ferg-cod3s/conductor/pkg/schema"
)

// FixInstructions renders a severity-ordered fix list for a failed
// review, with per-issue effort and the summed total.
func FixInstructions(issues []schema.QualityIssue, roleName string) string {
	if len(issues) == 0 {
		return "No issues found. Great work!"
	}

	ordered := append([]schema.QualityIssue(nil), issues...)
	sort.SliceStable(ordered, func(i, j int) bool {
		return ordered[i].Severity.Rank() > ordered[j].Severity.Rank()
	})

	var b strings.Builder
	fmt.Fprintf(&b, "## Quality Review - Fix Instructions for %s Agent\n\n", roleName)

	sections := []struct {
		severity schema.IssueSeverity
		heading  string
	}{
		{schema.SeverityCritical, "### CRITICAL Issues (Fix Immediately)"},
		{schema.SeverityHigh, "### HIGH Priority Issues"},
		{schema.SeverityMedium, "### MEDIUM Priority Issues"},
		{schema.SeverityLow, "### LOW Priority Issues"},
	}

	total := 0
	for _, section := range sections {
		var matched []schema.QualityIssue
		for _, issue := range ordered {
			if issue.Severity == section.severity {
				matched = append(matched, issue)
			}
		}
		if len(matched) == 0 {
			continue
		}
		b.WriteString(section.heading + "\n")
		for _, issue := range matched {
			fmt.Fprintf(&b, "- **%s**: %s\n", issue.Category, issue.Description)
			if issue.SuggestedFix != "" {
				fmt.Fprintf(&b, "  - Fix: %s\n", issue.SuggestedFix)
			}
			if issue.FixEffortMinutes > 0 {
				fmt.Fprintf(&b, "  - Effort: %d minutes\n", issue.FixEffortMinutes)
			}
			b.WriteString("\n")
			total += issue.FixEffortMinutes
		}
	}

	fmt.Fprintf(&b, "### Estimated Total Fix Time: %d minutes\n", total)
	return b.String()
}
