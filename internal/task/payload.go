package task

import (
	"encoding/json"
	"fmt"
)

// Payload is the typed input of a task. Each task type has exactly one
// payload shape; the union is serialized as plain JSON at the persistence
// boundary so external stores never see the Go types.
type Payload interface {
	TaskType() Type
}

// FindLeadsPayload asks the agent to source new leads for a campaign.
type FindLeadsPayload struct {
	CampaignID string `json:"campaign_id"`
	Limit      int    `json:"limit,omitempty"`
	Criteria   string `json:"criteria,omitempty"`
}

func (FindLeadsPayload) TaskType() Type { return TypeFindLeads }

// EnrichLeadPayload asks the agent to fill in missing lead fields.
type EnrichLeadPayload struct {
	LeadID string `json:"lead_id"`
}

func (EnrichLeadPayload) TaskType() Type { return TypeEnrichLead }

// GenerateSequencePayload asks the agent to draft an outreach sequence.
type GenerateSequencePayload struct {
	CampaignID string `json:"campaign_id"`
	LeadID     string `json:"lead_id,omitempty"`
	Steps      int    `json:"steps,omitempty"`
}

func (GenerateSequencePayload) TaskType() Type { return TypeGenerateSequence }

// SendMessagePayload carries one outbound message on one channel.
type SendMessagePayload struct {
	LeadID       string `json:"lead_id"`
	Channel      string `json:"channel"` // email|whatsapp|sms
	Subject      string `json:"subject,omitempty"`
	Body         string `json:"body"`
	SequenceStep int    `json:"sequence_step,omitempty"`
}

func (SendMessagePayload) TaskType() Type { return TypeSendMessage }

// CheckInboxPayload triggers an inbound-message scan. It carries no data;
// the task exists for scheduling and dedup.
type CheckInboxPayload struct{}

func (CheckInboxPayload) TaskType() Type { return TypeCheckInbox }

// ClassifyReplyPayload asks for a classification of one inbound reply.
type ClassifyReplyPayload struct {
	LeadID    string `json:"lead_id"`
	MessageID string `json:"message_id"`
	Body      string `json:"body"`
}

func (ClassifyReplyPayload) TaskType() Type { return TypeClassifyReply }

// RespondToReplyPayload asks the agent to answer a classified reply.
type RespondToReplyPayload struct {
	LeadID         string `json:"lead_id"`
	MessageID      string `json:"message_id"`
	Classification string `json:"classification,omitempty"`
	Body           string `json:"body,omitempty"`
}

func (RespondToReplyPayload) TaskType() Type { return TypeRespondToReply }

// BookMeetingPayload asks the agent to book a meeting with a lead.
type BookMeetingPayload struct {
	LeadID        string   `json:"lead_id"`
	ProposedTimes []string `json:"proposed_times,omitempty"`
	DurationMins  int      `json:"duration_mins,omitempty"`
}

func (BookMeetingPayload) TaskType() Type { return TypeBookMeeting }

// FollowUpPayload nudges a lead that went silent after an outbound send.
type FollowUpPayload struct {
	LeadID     string `json:"lead_id"`
	CampaignID string `json:"campaign_id,omitempty"`
	DaysSilent int    `json:"days_silent,omitempty"`
}

func (FollowUpPayload) TaskType() Type { return TypeFollowUp }

// ReportPayload asks for an activity summary over a period.
type ReportPayload struct {
	Period string `json:"period,omitempty"` // daily|weekly
}

func (ReportPayload) TaskType() Type { return TypeReport }

// DecodePayload parses raw JSON into the payload struct for the given task
// type. Empty input yields the zero payload for that type.
func DecodePayload(t Type, raw []byte) (Payload, error) {
	var p Payload
	switch t {
	case TypeFindLeads:
		p = &FindLeadsPayload{}
	case TypeEnrichLead:
		p = &EnrichLeadPayload{}
	case TypeGenerateSequence:
		p = &GenerateSequencePayload{}
	case TypeSendMessage:
		p = &SendMessagePayload{}
	case TypeCheckInbox:
		p = &CheckInboxPayload{}
	case TypeClassifyReply:
		p = &ClassifyReplyPayload{}
	case TypeRespondToReply:
		p = &RespondToReplyPayload{}
	case TypeBookMeeting:
		p = &BookMeetingPayload{}
	case TypeFollowUp:
		p = &FollowUpPayload{}
	case TypeReport:
		p = &ReportPayload{}
	default:
		return nil, fmt.Errorf("unknown task type: %s", t)
	}
	if len(raw) == 0 {
		return deref(p), nil
	}
	if err := json.Unmarshal(raw, p); err != nil {
		return nil, fmt.Errorf("decode %s payload: %w", t, err)
	}
	return deref(p), nil
}

// EncodePayload serializes a payload for storage. A nil payload encodes
// as an empty JSON object.
func EncodePayload(p Payload) ([]byte, error) {
	if p == nil {
		return []byte("{}"), nil
	}
	data, err := json.Marshal(p)
	if err != nil {
		return nil, fmt.Errorf("encode payload: %w", err)
	}
	return data, nil
}

// deref normalizes the pointer receivers used for unmarshaling into the
// value forms callers type-switch on.
func deref(p Payload) Payload {
	switch v := p.(type) {
	case *FindLeadsPayload:
		return *v
	case *EnrichLeadPayload:
		return *v
	case *GenerateSequencePayload:
		return *v
	case *SendMessagePayload:
		return *v
	case *CheckInboxPayload:
		return *v
	case *ClassifyReplyPayload:
		return *v
	case *RespondToReplyPayload:
		return *v
	case *BookMeetingPayload:
		return *v
	case *FollowUpPayload:
		return *v
	case *ReportPayload:
		return *v
	}
	return p
}
