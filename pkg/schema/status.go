package schema

import "time"

// TaskHistorySummary aggregates an agent's completed task counts.
type TaskHistorySummary struct {
	Total      int `json:"total"`
	Successful int `json:"successful"`
	Failed     int `json:"failed"`
}

// StatusSnapshot is the persisted view of an agent's state written after
// every task for external consumers. The schema is stable; consumers
// rely on field names not changing.
type StatusSnapshot struct {
	AgentID     string             `json:"agent_id"`
	Role        string             `json:"role"`
	Status      AgentStatus        `json:"status"`
	CurrentTask *Task              `json:"current_task,omitempty"`
	LastResult  *TaskResult        `json:"last_result,omitempty"`
	Timestamp   time.Time          `json:"timestamp"`
	Workspace   string             `json:"workspace"`
	TaskHistory TaskHistorySummary `json:"task_history_summary"`
}

// MessageKind classifies coordination messages between agents.
type MessageKind string

const (
	MessageTaskAssigned   MessageKind = "task_assigned"
	MessageTaskCompleted  MessageKind = "task_completed"
	MessageTaskDelegated  MessageKind = "task_delegated"
	MessageRemediation    MessageKind = "remediation_requested"
	MessageStatusChanged  MessageKind = "status_changed"
	MessageIdentityDrift  MessageKind = "identity_drift"
	MessageLimitExceeded  MessageKind = "limit_exceeded"
	MessageAgentSuspended MessageKind = "agent_suspended"
)

// CoordinationMessage is a structured record emitted to the persistent
// sinks so agents and outer tooling can observe orchestration decisions.
type CoordinationMessage struct {
	From    string         `json:"from"`
	To      string         `json:"to"`
	Kind    MessageKind    `json:"kind"`
	Payload map[string]any `json:"payload,omitempty"`
	SentAt  time.Time      `json:"sent_at"`
}
