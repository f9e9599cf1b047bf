// Package delegation maps tasks to target roles using a rule-priority
// system with confidence scoring.
package delegation

import (
	"fmt"
	"strings"

	"github.com/ferg-cod3s/conductor/internal/identity"
	"github.com/ferg-cod3s/conductor/pkg/schema"
)

// ConditionKind names a node type in a rule's condition tree.
type ConditionKind string

const (
	ConditionDescriptionContains ConditionKind = "description_contains"
	ConditionTaskTypeEquals      ConditionKind = "task_type_equals"
	ConditionPriorityAbove       ConditionKind = "priority_above"
	ConditionAgentWorkloadBelow  ConditionKind = "agent_workload_below"
	ConditionAnd                 ConditionKind = "and"
	ConditionOr                  ConditionKind = "or"
)

// Condition is a recursive predicate over a task. Leaf conditions match
// description keywords, task type, priority, or agent workload; And/Or
// combine children.
type Condition struct {
	Kind     ConditionKind   `json:"kind"`
	Keywords []string        `json:"keywords,omitempty"`
	TaskType schema.TaskType `json:"task_type,omitempty"`
	Priority schema.Priority `json:"priority,omitempty"`
	Workload float64         `json:"workload,omitempty"`
	Children []Condition     `json:"children,omitempty"`
}

// DescriptionContains builds a keyword leaf.
func DescriptionContains(keywords ...string) Condition {
	return Condition{Kind: ConditionDescriptionContains, Keywords: keywords}
}

// TaskTypeEquals builds a task type leaf.
func TaskTypeEquals(t schema.TaskType) Condition {
	return Condition{Kind: ConditionTaskTypeEquals, TaskType: t}
}

// PriorityAbove builds a priority threshold leaf.
func PriorityAbove(p schema.Priority) Condition {
	return Condition{Kind: ConditionPriorityAbove, Priority: p}
}

// AgentWorkloadBelow builds a workload leaf.
func AgentWorkloadBelow(threshold float64) Condition {
	return Condition{Kind: ConditionAgentWorkloadBelow, Workload: threshold}
}

// And combines children; all must match.
func And(children ...Condition) Condition {
	return Condition{Kind: ConditionAnd, Children: children}
}

// Or combines children; the best match wins.
func Or(children ...Condition) Condition {
	return Condition{Kind: ConditionOr, Children: children}
}

// Validate rejects malformed condition trees at construction time.
func (c Condition) Validate() error {
	switch c.Kind {
	case ConditionDescriptionContains:
		if len(c.Keywords) == 0 {
			return fmt.Errorf("description_contains condition needs keywords")
		}
	case ConditionTaskTypeEquals:
		if c.TaskType == "" {
			return fmt.Errorf("task_type_equals condition needs a task type")
		}
	case ConditionPriorityAbove, ConditionAgentWorkloadBelow:
		// Zero thresholds are legal.
	case ConditionAnd, ConditionOr:
		if len(c.Children) == 0 {
			return fmt.Errorf("%s condition needs children", c.Kind)
		}
		for _, child := range c.Children {
			if err := child.Validate(); err != nil {
				return err
			}
		}
	default:
		return fmt.Errorf("unknown condition kind: %q", c.Kind)
	}
	return nil
}

// Rule maps a condition tree to a target role with a confidence boost.
type Rule struct {
	Name            string            `json:"name"`
	Priority        uint8             `json:"priority"`
	Condition       Condition         `json:"condition"`
	TargetRole      identity.RoleKind `json:"target_role"`
	ConfidenceBoost float64           `json:"confidence_boost"`
}

// Validate rejects malformed rules.
func (r Rule) Validate() error {
	if r.Name == "" {
		return fmt.Errorf("delegation rule needs a name")
	}
	if r.ConfidenceBoost < 0 || r.ConfidenceBoost > 1 {
		return fmt.Errorf("rule %s: confidence boost %f outside [0,1]", r.Name, r.ConfidenceBoost)
	}
	if _, err := identity.DefaultRole(r.TargetRole); err != nil {
		return fmt.Errorf("rule %s: %w", r.Name, err)
	}
	return r.Condition.Validate()
}

// DefaultRules returns the built-in delegation rule set.
func DefaultRules() []Rule {
	return []Rule{
		{
			Name:     "Frontend UI Tasks",
			Priority: 10,
			Condition: Or(
				DescriptionContains("html", "css", "javascript", "ui", "component",
					"frontend", "react", "vue", "angular"),
				TaskTypeEquals(schema.TaskTypeFeature),
			),
			TargetRole:      identity.RoleFrontend,
			ConfidenceBoost: 0.8,
		},
		{
			Name:     "Backend API Tasks",
			Priority: 10,
			Condition: And(
				DescriptionContains("api", "server", "database", "backend",
					"endpoint", "rest", "node", "express"),
				TaskTypeEquals(schema.TaskTypeDevelopment),
			),
			TargetRole:      identity.RoleBackend,
			ConfidenceBoost: 0.8,
		},
		{
			Name:     "Testing Tasks",
			Priority: 9,
			Condition: Or(
				DescriptionContains("test", "testing", "qa", "quality", "validation"),
				TaskTypeEquals(schema.TaskTypeTesting),
			),
			TargetRole:      identity.RoleQA,
			ConfidenceBoost: 0.9,
		},
		{
			Name:     "Infrastructure Tasks",
			Priority: 9,
			Condition: Or(
				DescriptionContains("deploy", "ci/cd", "docker", "infrastructure", "pipeline"),
				TaskTypeEquals(schema.TaskTypeInfrastructure),
			),
			TargetRole:      identity.RoleDevOps,
			ConfidenceBoost: 0.9,
		},
		{
			Name:     "Research Tasks",
			Priority: 8,
			Condition: Or(
				DescriptionContains("research", "investigate", "documentation", "find out", "compare"),
				TaskTypeEquals(schema.TaskTypeResearch),
			),
			TargetRole:      identity.RoleSearch,
			ConfidenceBoost: 0.7,
		},
	}
}

// evaluate scores a condition against a task. ok is false when the
// condition fails outright.
func (c Condition) evaluate(task schema.Task, descriptionLower string) (float64, bool) {
	switch c.Kind {
	case ConditionDescriptionContains:
		matches := 0
		for _, keyword := range c.Keywords {
			if strings.Contains(descriptionLower, strings.ToLower(keyword)) {
				matches++
			}
		}
		if matches == 0 {
			return 0, false
		}
		return float64(matches) / float64(len(c.Keywords)), true
	case ConditionTaskTypeEquals:
		if task.Type == c.TaskType {
			return 1.0, true
		}
		return 0, false
	case ConditionPriorityAbove:
		if task.Priority >= c.Priority {
			return 0.5 + float64(task.Priority)/10.0, true
		}
		return 0, false
	case ConditionAgentWorkloadBelow:
		// Workload is judged by the engine against live metrics; as a
		// leaf with no metrics the condition matches weakly.
		return 0.5, true
	case ConditionAnd:
		sum := 0.0
		for _, child := range c.Children {
			score, ok := child.evaluate(task, descriptionLower)
			if !ok {
				return 0, false
			}
			sum += score
		}
		return sum / float64(len(c.Children)), true
	case ConditionOr:
		best := 0.0
		matched := false
		for _, child := range c.Children {
			if score, ok := child.evaluate(task, descriptionLower); ok {
				matched = true
				if score > best {
					best = score
				}
			}
		}
		return best, matched
	}
	return 0, false
}
