// Package orchestrator composes identity, workspace, resource, session,
// delegation, provider, and quality components into the master task
// execution pipeline.
package orchestrator

import (
	"fmt"
	"strings"
)

// DecisionKind names a refinement loop decision.
type DecisionKind string

const (
	DecisionContinue       DecisionKind = "continue"
	DecisionRefine         DecisionKind = "refine"
	DecisionComplete       DecisionKind = "complete"
	DecisionPivot          DecisionKind = "pivot"
	DecisionRequestContext DecisionKind = "request_context"
	DecisionAbort          DecisionKind = "abort"
)

// Decision is one step of the interleaved refinement loop. The loop is
// a flat state machine rather than recursion so termination is easy to
// audit.
type Decision struct {
	Kind        DecisionKind
	Reason      string
	Refinement  string
	Summary     string
	NewApproach string
	Questions   []string
}

// ThinkingStep records one observation and the decision it produced.
type ThinkingStep struct {
	Observation string
	Decision    Decision
	Confidence  float64
}

// ThinkingSummary aggregates a completed thinking run.
type ThinkingSummary struct {
	TotalSteps    int     `json:"total_steps"`
	AvgConfidence float64 `json:"avg_confidence"`
	FinalDecision string  `json:"final_decision"`
}

// ThinkingEngine turns provider output observations into loop
// decisions using textual heuristics.
type ThinkingEngine struct {
	maxSteps          int
	confidenceFloor   float64
	steps             []ThinkingStep
	consecutiveErrors int
}

// NewThinkingEngine returns an engine with default bounds.
func NewThinkingEngine() *ThinkingEngine {
	return &ThinkingEngine{maxSteps: 15, confidenceFloor: 0.6}
}

// Process classifies one observation into a decision.
func (e *ThinkingEngine) Process(observation, roleName string) Decision {
	lower := strings.ToLower(observation)
	decision := e.classify(observation, lower, roleName)

	confidence := 0.8
	switch decision.Kind {
	case DecisionAbort:
		confidence = 0.9
	case DecisionRefine, DecisionPivot:
		confidence = 0.6
	case DecisionRequestContext:
		confidence = 0.5
	}

	e.steps = append(e.steps, ThinkingStep{
		Observation: observation,
		Decision:    decision,
		Confidence:  confidence,
	})
	if len(e.steps) >= e.maxSteps && decision.Kind != DecisionAbort {
		return Decision{Kind: DecisionComplete, Summary: "thinking step limit reached"}
	}
	return decision
}

func (e *ThinkingEngine) classify(observation, lower, roleName string) Decision {
	errorish := strings.Contains(lower, "error:") || strings.Contains(lower, "failed to") ||
		strings.Contains(lower, "cannot ") || strings.Contains(lower, "unable to")
	if errorish {
		e.consecutiveErrors++
		if e.consecutiveErrors >= 2 {
			return Decision{
				Kind:   DecisionAbort,
				Reason: "repeated execution errors",
			}
		}
		return Decision{
			Kind:        DecisionPivot,
			NewApproach: "take a different implementation approach avoiding the failing path",
			Reason:      "output reports an execution error",
		}
	}
	e.consecutiveErrors = 0

	if strings.Contains(lower, "which ") && strings.Contains(observation, "?") ||
		strings.Contains(lower, "should i") || strings.Contains(lower, "need more context") ||
		strings.Contains(lower, "please clarify") {
		return Decision{
			Kind:      DecisionRequestContext,
			Questions: extractQuestions(observation),
		}
	}

	if strings.Contains(lower, "task complete") || strings.Contains(lower, "implementation complete") ||
		strings.Contains(lower, "all done") || strings.Contains(lower, "finished implementing") {
		return Decision{
			Kind:    DecisionComplete,
			Summary: fmt.Sprintf("%s agent reports completion", roleName),
		}
	}

	if len(strings.TrimSpace(observation)) < 50 {
		return Decision{
			Kind:       DecisionRefine,
			Refinement: "expand the response with concrete implementation details",
			Reason:     "output too short to evaluate",
		}
	}

	return Decision{Kind: DecisionContinue, Reason: "output looks plausible, keep going"}
}

// Summary aggregates the recorded steps.
func (e *ThinkingEngine) Summary() ThinkingSummary {
	summary := ThinkingSummary{TotalSteps: len(e.steps)}
	if len(e.steps) == 0 {
		return summary
	}
	total := 0.0
	for _, step := range e.steps {
		total += step.Confidence
	}
	summary.AvgConfidence = total / float64(len(e.steps))
	summary.FinalDecision = string(e.steps[len(e.steps)-1].Decision.Kind)
	return summary
}

// extractQuestions pulls question sentences out of an observation,
// capped at three.
func extractQuestions(observation string) []string {
	var questions []string
	for _, line := range strings.Split(observation, "\n") {
		line = strings.TrimSpace(line)
		if strings.HasSuffix(line, "?") {
			questions = append(questions, line)
			if len(questions) == 3 {
				break
			}
		}
	}
	if len(questions) == 0 {
		questions = append(questions, "What additional context is needed to proceed?")
	}
	return questions
}
