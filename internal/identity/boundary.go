package identity

import (
	"fmt"
	"strings"

	"github.com/ferg-cod3s/conductor/pkg/schema"
)

// Decision thresholds for task evaluation. Scores at or above
// acceptThreshold accept, scores at or below -rejectThreshold reject,
// and scores inside the neutral band delegate or clarify.
const (
	acceptThreshold  = 1.0
	rejectThreshold  = 1.5
	delegateMargin   = 0.5
	maxClarifyCount  = 3
	multiWordWeight  = 1.5
	negativeWeight   = 1.5
	affinityBonus    = 0.25
	minPrefixOverlap = 4
)

// EvaluationKind names the outcome of a boundary evaluation.
type EvaluationKind string

const (
	EvaluationAccept   EvaluationKind = "accept"
	EvaluationDelegate EvaluationKind = "delegate"
	EvaluationClarify  EvaluationKind = "clarify"
	EvaluationReject   EvaluationKind = "reject"
)

// Evaluation is the outcome of checking a task against a role's
// boundaries.
type Evaluation struct {
	Kind       EvaluationKind
	Reason     string
	TargetRole RoleKind
	Suggestion string
	Questions  []string
}

// BoundaryChecker scores tasks against one role's declared scope.
type BoundaryChecker struct {
	role       Role
	peerScorer func(description string) (RoleKind, float64)
}

// NewBoundaryChecker builds a checker for a role. Delegation targets are
// picked by scoring the same description against every other role's
// positive terms.
func NewBoundaryChecker(role Role) *BoundaryChecker {
	return &BoundaryChecker{role: role, peerScorer: bestPeerRole(role.Kind)}
}

// EvaluateTask decides whether a task is in-scope for the checker's
// role.
func (c *BoundaryChecker) EvaluateTask(task schema.Task) Evaluation {
	description := strings.ToLower(task.Description + " " + task.Details)
	tokens := tokenize(description)

	positive := scoreTerms(description, tokens, positiveTerms(c.role), 1.0)
	negative := scoreTerms(description, tokens, c.role.Boundaries, negativeWeight)
	score := positive - negative + c.typeAffinity(task.Type)

	switch {
	case score >= acceptThreshold:
		return Evaluation{
			Kind:   EvaluationAccept,
			Reason: fmt.Sprintf("task matches %s scope (score %.2f)", c.role.Name(), score),
		}
	case score <= -rejectThreshold:
		return Evaluation{
			Kind:   EvaluationReject,
			Reason: fmt.Sprintf("task falls inside %s forbidden areas (score %.2f)", c.role.Name(), score),
		}
	}

	// Neutral band: hand off when the work clearly belongs to a peer,
	// either because a boundary term matched or because another role's
	// positive terms outscore ours by at least delegateMargin.
	peer, peerScore := c.peerScorer(description)
	if negative > 0 || peerScore >= positive+delegateMargin {
		if peer != "" && peer != c.role.Kind {
			return Evaluation{
				Kind:       EvaluationDelegate,
				TargetRole: peer,
				Reason:     fmt.Sprintf("task scores higher for %s (%.2f) than %s (%.2f)", peer, peerScore, c.role.Name(), positive),
				Suggestion: fmt.Sprintf("reassign to the %s agent", peer),
			}
		}
	}

	questions := make([]string, 0, maxClarifyCount)
	for _, boundary := range c.role.Boundaries {
		if len(questions) == maxClarifyCount {
			break
		}
		questions = append(questions, fmt.Sprintf("Does this task require work covered by %q?", boundary))
	}
	return Evaluation{
		Kind:      EvaluationClarify,
		Reason:    fmt.Sprintf("task is ambiguous for %s (score %.2f)", c.role.Name(), score),
		Questions: questions,
	}
}

// typeAffinity nudges the score when the task type naturally belongs to
// this role.
func (c *BoundaryChecker) typeAffinity(taskType schema.TaskType) float64 {
	switch taskType {
	case schema.TaskTypeCoordination:
		if c.role.IsMaster() {
			return affinityBonus
		}
		return -affinityBonus
	case schema.TaskTypeTesting:
		if c.role.Kind == RoleQA {
			return affinityBonus
		}
	case schema.TaskTypeInfrastructure:
		if c.role.Kind == RoleDevOps {
			return affinityBonus
		}
	case schema.TaskTypeResearch:
		if c.role.Kind == RoleSearch {
			return affinityBonus
		}
	case schema.TaskTypeFeature, schema.TaskTypeDevelopment:
		if !c.role.IsMaster() {
			return affinityBonus
		}
		return -affinityBonus
	}
	return 0
}

// positiveTerms collects the terms that argue a task belongs to the
// role: its name, technologies, and responsibilities.
func positiveTerms(role Role) []string {
	terms := make([]string, 0, 1+len(role.Technologies)+len(role.Responsibilities)+len(role.OversightRoles))
	terms = append(terms, role.Name())
	terms = append(terms, role.Technologies...)
	terms = append(terms, role.Responsibilities...)
	if role.IsMaster() {
		terms = append(terms, "coordination", "orchestration", "delegation")
	}
	return terms
}

// scoreTerms sums weighted hits of the term set against the
// description. A full-phrase substring match counts with the term's
// full specificity weight; partial matches contribute the fraction of
// term tokens found, with prefix tolerance so "postgres" still hits
// "PostgreSQL".
func scoreTerms(description string, tokens []string, terms []string, weight float64) float64 {
	score := 0.0
	for _, term := range terms {
		normalized := strings.TrimPrefix(strings.ToLower(term), "no ")
		if normalized == "" {
			continue
		}
		specificity := 1.0
		if strings.ContainsRune(normalized, ' ') {
			specificity = multiWordWeight
		}
		if strings.Contains(description, normalized) {
			score += weight * specificity
			continue
		}
		termTokens := tokenize(normalized)
		if len(termTokens) == 0 {
			continue
		}
		matched := 0
		for _, termToken := range termTokens {
			if matchToken(tokens, termToken) {
				matched++
			}
		}
		if matched > 0 {
			score += weight * float64(matched) / float64(len(termTokens))
		}
	}
	return score
}

// bestPeerRole returns a scorer that finds the role (other than self)
// whose positive terms best match a description.
func bestPeerRole(self RoleKind) func(description string) (RoleKind, float64) {
	return func(description string) (RoleKind, float64) {
		tokens := tokenize(description)
		var best RoleKind
		bestScore := 0.0
		for _, kind := range AllRoleKinds {
			if kind == self || kind == RoleMaster {
				continue
			}
			role := MustDefaultRole(kind)
			score := scoreTerms(description, tokens, positiveTerms(role), 1.0)
			if score > bestScore {
				best, bestScore = kind, score
			}
		}
		return best, bestScore
	}
}

var stopwords = map[string]bool{
	"the": true, "and": true, "for": true, "with": true, "from": true,
	"this": true, "that": true, "not": true, "are": true, "its": true,
}

func tokenize(s string) []string {
	fields := strings.FieldsFunc(strings.ToLower(s), func(r rune) bool {
		return !('a' <= r && r <= 'z' || '0' <= r && r <= '9')
	})
	tokens := fields[:0]
	for _, f := range fields {
		if len(f) >= 3 && !stopwords[f] {
			tokens = append(tokens, f)
		}
	}
	return tokens
}

// matchToken reports whether token appears in the description tokens,
// allowing prefix matches of at least minPrefixOverlap characters.
func matchToken(descTokens []string, token string) bool {
	for _, dt := range descTokens {
		if dt == token {
			return true
		}
		if len(dt) >= minPrefixOverlap && len(token) >= minPrefixOverlap {
			if strings.HasPrefix(dt, token) || strings.HasPrefix(token, dt) {
				return true
			}
		}
	}
	return false
}
