package task

import "time"

// LogKind categorizes audit trail entries.
type LogKind string

const (
	LogDecision      LogKind = "decision"
	LogAction        LogKind = "action"
	LogObservation   LogKind = "observation"
	LogLearning      LogKind = "learning"
	LogError         LogKind = "error"
	LogApproval      LogKind = "approval"
	LogRuleTriggered LogKind = "rule_triggered"
)

// LogEntry is one append-only audit record. Entries are never mutated.
type LogEntry struct {
	ID         string         `json:"id"`
	OrgID      string         `json:"org_id"`
	TaskID     string         `json:"task_id,omitempty"`
	Kind       LogKind        `json:"kind"`
	Message    string         `json:"message"`
	Details    map[string]any `json:"details,omitempty"`
	Reasoning  string         `json:"reasoning,omitempty"`
	Confidence float64        `json:"confidence,omitempty"`
	RuleID     string         `json:"rule_id,omitempty"`
	CreatedAt  time.Time      `json:"created_at"`
}
