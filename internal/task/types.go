package task

import "time"

// Type is the closed set of work the agent knows how to perform.
type Type string

const (
	TypeFindLeads        Type = "find_leads"
	TypeEnrichLead       Type = "enrich_lead"
	TypeGenerateSequence Type = "generate_sequence"
	TypeSendMessage      Type = "send_message"
	TypeCheckInbox       Type = "check_inbox"
	TypeClassifyReply    Type = "classify_reply"
	TypeRespondToReply   Type = "respond_to_reply"
	TypeBookMeeting      Type = "book_meeting"
	TypeFollowUp         Type = "follow_up"
	TypeReport           Type = "report"
)

// AllTypes lists every valid task type.
var AllTypes = []Type{
	TypeFindLeads, TypeEnrichLead, TypeGenerateSequence, TypeSendMessage,
	TypeCheckInbox, TypeClassifyReply, TypeRespondToReply, TypeBookMeeting,
	TypeFollowUp, TypeReport,
}

// Valid reports whether t is a known task type.
func (t Type) Valid() bool {
	for _, k := range AllTypes {
		if t == k {
			return true
		}
	}
	return false
}

// Status tracks a task through its lifecycle.
type Status string

const (
	StatusPending          Status = "pending"
	StatusRunning          Status = "running"
	StatusAwaitingApproval Status = "awaiting_approval"
	StatusCompleted        Status = "completed"
	StatusFailed           Status = "failed"
	StatusCancelled        Status = "cancelled"
)

// Terminal reports whether the status is a final state.
func (s Status) Terminal() bool {
	switch s {
	case StatusCompleted, StatusFailed, StatusCancelled:
		return true
	}
	return false
}

// validTransitions encodes the task state machine. pending and
// awaiting_approval are the only non-terminal waiting states.
var validTransitions = map[Status][]Status{
	StatusPending:          {StatusRunning, StatusCancelled},
	StatusRunning:          {StatusCompleted, StatusAwaitingApproval, StatusPending, StatusFailed},
	StatusAwaitingApproval: {StatusPending, StatusRunning, StatusCancelled},
}

// CanTransition reports whether moving from one status to another is legal.
func CanTransition(from, to Status) bool {
	for _, s := range validTransitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

// Task is one unit of agent work.
type Task struct {
	ID         string `json:"id"`
	OrgID      string `json:"org_id"`
	AgentID    string `json:"agent_id"`
	Type       Type   `json:"type"`
	Priority   int    `json:"priority"`
	CampaignID string `json:"campaign_id,omitempty"`
	LeadID     string `json:"lead_id,omitempty"`

	Payload    Payload        `json:"payload,omitempty"`
	OutputData map[string]any `json:"output_data,omitempty"`

	Status Status `json:"status"`

	RequiresApproval bool       `json:"requires_approval"`
	ApprovedBy       string     `json:"approved_by,omitempty"`
	ApprovedAt       *time.Time `json:"approved_at,omitempty"`
	RejectionReason  string     `json:"rejection_reason,omitempty"`

	// PendingAction and PendingData freeze the decision that parked the
	// task for approval. An approved task runs exactly this action; the
	// model is not consulted again.
	PendingAction string         `json:"pending_action,omitempty"`
	PendingData   map[string]any `json:"pending_data,omitempty"`

	ScheduledFor time.Time  `json:"scheduled_for"`
	StartedAt    *time.Time `json:"started_at,omitempty"`
	CompletedAt  *time.Time `json:"completed_at,omitempty"`
	CreatedAt    time.Time  `json:"created_at"`

	RetryCount int    `json:"retry_count"`
	MaxRetries int    `json:"max_retries"`
	Error      string `json:"error,omitempty"`
}

// DefaultMaxRetries is the retry budget applied when a task is enqueued
// without an explicit budget.
const DefaultMaxRetries = 3
