package tool

import (
	"context"
	"fmt"
	"time"
)

// OutboundMessage is one message handed to a channel transport.
type OutboundMessage struct {
	LeadID  string `json:"lead_id"`
	Channel string `json:"channel"` // email|whatsapp|sms
	Subject string `json:"subject,omitempty"`
	Body    string `json:"body"`
}

// Messenger delivers outbound messages. The wire protocol behind it
// (SMTP relay, WhatsApp gateway, SMS provider) is out of scope here.
type Messenger interface {
	Send(ctx context.Context, orgID string, msg *OutboundMessage) (messageID string, err error)
}

// Calendar books meetings with leads.
type Calendar interface {
	Book(ctx context.Context, orgID, leadID string, start time.Time, durationMins int) (eventID string, err error)
}

// LeadBook reads and mutates lead records.
type LeadBook interface {
	UpdateStatus(ctx context.Context, orgID, leadID, status string) error
	AddNote(ctx context.Context, orgID, leadID, note string) error
	HasChannel(ctx context.Context, orgID, leadID, channel string) (bool, error)
}

// GenerateFunc produces content with the language model.
type GenerateFunc func(ctx context.Context, prompt string) (string, error)

// Backends bundles the external systems outreach tools act on.
type Backends struct {
	Messenger Messenger
	Calendar  Calendar
	Leads     LeadBook
	Generate  GenerateFunc
}

// RegisterOutreachTools wires the outreach capabilities for one org into
// the registry. Each tool performs exactly one externally-visible side
// effect and returns a structured result.
func RegisterOutreachTools(reg *Registry, orgID string, b Backends) {
	for _, channel := range []string{"email", "whatsapp", "sms"} {
		reg.Register(sendTool(orgID, channel, b))
	}

	reg.Register(&Tool{
		Name:        "book_meeting",
		Description: "Book a meeting with a lead at the given time",
		Parameters: map[string]any{
			"lead_id":       "lead to meet",
			"start":         "RFC3339 start time",
			"duration_mins": "meeting length in minutes",
		},
		Execute: func(ctx context.Context, params map[string]any) (*Result, error) {
			if b.Calendar == nil {
				return Fail("no calendar backend configured"), nil
			}
			leadID, ok := strParam(params, "lead_id")
			if !ok {
				return FailPermanent("book_meeting requires lead_id"), nil
			}
			startStr, ok := strParam(params, "start")
			if !ok {
				return FailPermanent("book_meeting requires start"), nil
			}
			start, err := time.Parse(time.RFC3339, startStr)
			if err != nil {
				return FailPermanent("invalid start time %q", startStr), nil
			}
			mins, ok := numParam(params, "duration_mins")
			if !ok || mins <= 0 {
				mins = 30
			}
			eventID, err := b.Calendar.Book(ctx, orgID, leadID, start, mins)
			if err != nil {
				return Fail("book meeting: %v", err), nil
			}
			return Ok(map[string]any{"event_id": eventID, "lead_id": leadID, "booked": true}), nil
		},
	})

	reg.Register(&Tool{
		Name:        "update_lead_status",
		Description: "Set a lead's pipeline status (e.g. interested, not_interested, meeting_booked)",
		Parameters: map[string]any{
			"lead_id": "lead to update",
			"status":  "new pipeline status",
		},
		Execute: func(ctx context.Context, params map[string]any) (*Result, error) {
			if b.Leads == nil {
				return Fail("no lead backend configured"), nil
			}
			leadID, okL := strParam(params, "lead_id")
			status, okS := strParam(params, "status")
			if !okL || !okS {
				return FailPermanent("update_lead_status requires lead_id and status"), nil
			}
			if err := b.Leads.UpdateStatus(ctx, orgID, leadID, status); err != nil {
				return Fail("update lead: %v", err), nil
			}
			return Ok(map[string]any{"lead_id": leadID, "status": status}), nil
		},
	})

	reg.Register(&Tool{
		Name:        "save_lead_note",
		Description: "Attach a note to a lead record",
		Parameters: map[string]any{
			"lead_id": "lead to annotate",
			"note":    "note text",
		},
		Execute: func(ctx context.Context, params map[string]any) (*Result, error) {
			if b.Leads == nil {
				return Fail("no lead backend configured"), nil
			}
			leadID, okL := strParam(params, "lead_id")
			note, okN := strParam(params, "note")
			if !okL || !okN {
				return FailPermanent("save_lead_note requires lead_id and note"), nil
			}
			if err := b.Leads.AddNote(ctx, orgID, leadID, note); err != nil {
				return Fail("add note: %v", err), nil
			}
			return Ok(map[string]any{"lead_id": leadID, "noted": true}), nil
		},
	})

	reg.Register(&Tool{
		Name:        "generate_content",
		Description: "Draft message or sequence copy with the language model",
		Parameters: map[string]any{
			"prompt": "what to write and for whom",
		},
		Execute: func(ctx context.Context, params map[string]any) (*Result, error) {
			if b.Generate == nil {
				return Fail("no generation backend configured"), nil
			}
			prompt, ok := strParam(params, "prompt")
			if !ok {
				return FailPermanent("generate_content requires prompt"), nil
			}
			content, err := b.Generate(ctx, prompt)
			if err != nil {
				return Fail("generate content: %v", err), nil
			}
			return Ok(map[string]any{"content": content}), nil
		},
	})
}

// sendTool builds the per-channel send capability. A lead without the
// channel (no email address, no phone number) is a permanent failure —
// retrying cannot conjure a missing address.
func sendTool(orgID, channel string, b Backends) *Tool {
	return &Tool{
		Name:        "send_" + channel,
		Description: fmt.Sprintf("Send a %s message to a lead", channel),
		Parameters: map[string]any{
			"lead_id": "recipient lead",
			"subject": "subject line (email only)",
			"body":    "message body",
		},
		Execute: func(ctx context.Context, params map[string]any) (*Result, error) {
			if b.Messenger == nil {
				return Fail("no messenger backend configured"), nil
			}
			leadID, ok := strParam(params, "lead_id")
			if !ok {
				return FailPermanent("send_%s requires lead_id", channel), nil
			}
			body, ok := strParam(params, "body")
			if !ok {
				return FailPermanent("send_%s requires body", channel), nil
			}
			if b.Leads != nil {
				has, err := b.Leads.HasChannel(ctx, orgID, leadID, channel)
				if err != nil {
					return Fail("check lead channel: %v", err), nil
				}
				if !has {
					return FailPermanent("lead %s has no %s channel", leadID, channel), nil
				}
			}
			subject, _ := strParam(params, "subject")
			msgID, err := b.Messenger.Send(ctx, orgID, &OutboundMessage{
				LeadID:  leadID,
				Channel: channel,
				Subject: subject,
				Body:    body,
			})
			if err != nil {
				return Fail("send %s: %v", channel, err), nil
			}
			return Ok(map[string]any{
				"message_id": msgID,
				"lead_id":    leadID,
				"channel":    channel,
			}), nil
		},
	}
}
