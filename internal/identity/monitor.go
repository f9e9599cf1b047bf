package identity

import (
	"fmt"
	"regexp"
	"strings"
)

// MonitorStatus is the result of screening one agent response.
type MonitorStatus struct {
	Kind    MonitorStatusKind
	Message string
}

// MonitorStatusKind names the identity health of a response.
type MonitorStatusKind string

const (
	MonitorHealthy           MonitorStatusKind = "healthy"
	MonitorDriftDetected     MonitorStatusKind = "drift_detected"
	MonitorBoundaryViolation MonitorStatusKind = "boundary_violation"
	MonitorCriticalFailure   MonitorStatusKind = "critical_failure"
)

// Header fields are separated by " / "; the workspace field itself
// contains slashes, so the delimiters anchor on surrounding whitespace.
var (
	headerAgentRe     = regexp.MustCompile(`AGENT:\s*(.+?)\s+/\s+WORKSPACE:`)
	headerWorkspaceRe = regexp.MustCompile(`WORKSPACE:\s*(.+?)\s+/\s+SCOPE:`)
	headerScopeRe     = regexp.MustCompile(`SCOPE:\s*(.+)`)
)

// violationPatterns flag responses describing work outside the role.
// Keyed by the role performing the work, valued by regexes that indicate
// foreign territory.
var violationPatterns = map[RoleKind][]*regexp.Regexp{
	RoleFrontend: {
		regexp.MustCompile(`(?i)modifying (the )?database schema`),
		regexp.MustCompile(`(?i)(creating|writing) (backend|server-side) (code|endpoints)`),
		regexp.MustCompile(`(?i)provisioning infrastructure`),
	},
	RoleBackend: {
		regexp.MustCompile(`(?i)(styling|designing) (the )?(ui|components)`),
		regexp.MustCompile(`(?i)writing css`),
		regexp.MustCompile(`(?i)provisioning infrastructure`),
	},
	RoleDevOps: {
		regexp.MustCompile(`(?i)implementing business logic`),
		regexp.MustCompile(`(?i)modifying (the )?database schema`),
	},
	RoleQA: {
		regexp.MustCompile(`(?i)(implementing|shipping) (the )?feature`),
		regexp.MustCompile(`(?i)changing production code`),
	},
	RoleSearch: {
		regexp.MustCompile(`(?i)(implementing|writing) (code|the fix)`),
	},
}

// Monitor screens agent responses for the required identity header and
// for phrases indicating cross-role work.
type Monitor struct {
	identity AgentIdentity
}

// NewMonitor builds a monitor bound to one agent identity.
func NewMonitor(id AgentIdentity) *Monitor {
	return &Monitor{identity: id}
}

// CheckResponse classifies a single response. An empty response is a
// critical failure; a missing header is drift; a violation phrase is a
// boundary violation.
func (m *Monitor) CheckResponse(response string) MonitorStatus {
	if strings.TrimSpace(response) == "" {
		return MonitorStatus{Kind: MonitorCriticalFailure, Message: "empty response from agent"}
	}

	agent, _, _, ok := ParseHeader(response)
	if !ok {
		return MonitorStatus{Kind: MonitorDriftDetected, Message: "missing identity header"}
	}
	if !strings.EqualFold(agent, m.identity.Role.Name()) {
		return MonitorStatus{
			Kind:    MonitorDriftDetected,
			Message: fmt.Sprintf("header names %q, expected %q", agent, m.identity.Role.Name()),
		}
	}

	for _, pattern := range violationPatterns[m.identity.Role.Kind] {
		if pattern.MatchString(response) {
			return MonitorStatus{
				Kind:    MonitorBoundaryViolation,
				Message: fmt.Sprintf("response indicates work outside specialization: %s", pattern.String()),
			}
		}
	}
	return MonitorStatus{Kind: MonitorHealthy}
}

// CorrectionPrompt renders the re-identification prompt sent after a
// single identity drift.
func (m *Monitor) CorrectionPrompt() string {
	var b strings.Builder
	b.WriteString("IDENTITY DRIFT DETECTED\n\n")
	b.WriteString("You seem to have forgotten your role. A reminder:\n\n")
	fmt.Fprintf(&b, "- You are the %s agent\n", m.identity.Role.Name())
	fmt.Fprintf(&b, "- Your workspace is %s\n", m.identity.WorkspacePath)
	fmt.Fprintf(&b, "- You work ONLY within your declared specialization\n\n")
	b.WriteString("Acknowledge your identity and continue the current task, starting your response with:\n")
	fmt.Fprintf(&b, "%s\n", m.identity.Header("[task assessment]"))
	return b.String()
}

// ParseHeader extracts the agent, workspace, and scope fields from a
// response's identity header. ok is false when any field is missing.
func ParseHeader(response string) (agent, workspace, scope string, ok bool) {
	am := headerAgentRe.FindStringSubmatch(response)
	wm := headerWorkspaceRe.FindStringSubmatch(response)
	sm := headerScopeRe.FindStringSubmatch(response)
	if am == nil || wm == nil || sm == nil {
		return "", "", "", false
	}
	return strings.TrimSpace(am[1]), strings.TrimSpace(wm[1]), strings.TrimSpace(strings.Split(sm[1], "\n")[0]), true
}
