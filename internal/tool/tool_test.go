package tool

import (
	"context"
	"errors"
	"testing"
	"time"
)

type fakeMessenger struct {
	lastMsg *OutboundMessage
	err     error
}

func (f *fakeMessenger) Send(_ context.Context, _ string, msg *OutboundMessage) (string, error) {
	f.lastMsg = msg
	if f.err != nil {
		return "", f.err
	}
	return "m1", nil
}

type fakeLeads struct {
	channels map[string]bool
	statuses map[string]string
	notes    []string
}

func (f *fakeLeads) UpdateStatus(_ context.Context, _, leadID, status string) error {
	if f.statuses == nil {
		f.statuses = make(map[string]string)
	}
	f.statuses[leadID] = status
	return nil
}

func (f *fakeLeads) AddNote(_ context.Context, _, _, note string) error {
	f.notes = append(f.notes, note)
	return nil
}

func (f *fakeLeads) HasChannel(_ context.Context, _, leadID, channel string) (bool, error) {
	return f.channels[leadID+":"+channel], nil
}

type fakeCalendar struct{ eventID string }

func (f *fakeCalendar) Book(_ context.Context, _, _ string, _ time.Time, _ int) (string, error) {
	return f.eventID, nil
}

func TestRegistryExecute_Unknown(t *testing.T) {
	reg := NewRegistry()
	res, err := reg.Execute(context.Background(), "teleport", nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.Success || !res.Permanent {
		t.Errorf("unknown tool should be a permanent failure, got %+v", res)
	}
}

func TestSendEmail(t *testing.T) {
	msngr := &fakeMessenger{}
	leads := &fakeLeads{channels: map[string]bool{"l1:email": true}}
	reg := NewRegistry()
	RegisterOutreachTools(reg, "org1", Backends{Messenger: msngr, Leads: leads})

	res, err := reg.Execute(context.Background(), "send_email", map[string]any{
		"lead_id": "l1", "subject": "hello", "body": "hi there",
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !res.Success {
		t.Fatalf("got failure: %s", res.Error)
	}
	if res.Data["message_id"] != "m1" {
		t.Errorf("got message_id %v, want m1", res.Data["message_id"])
	}
	if msngr.lastMsg.Subject != "hello" {
		t.Errorf("got subject %q", msngr.lastMsg.Subject)
	}
}

func TestSendEmail_NoChannelIsPermanent(t *testing.T) {
	reg := NewRegistry()
	RegisterOutreachTools(reg, "org1", Backends{
		Messenger: &fakeMessenger{},
		Leads:     &fakeLeads{}, // l1 has no email
	})

	res, _ := reg.Execute(context.Background(), "send_email", map[string]any{
		"lead_id": "l1", "body": "hi",
	})
	if res.Success {
		t.Fatal("send to a lead without the channel must fail")
	}
	if !res.Permanent {
		t.Error("missing channel is not retryable")
	}
}

func TestSendEmail_TransportErrorIsRetryable(t *testing.T) {
	reg := NewRegistry()
	RegisterOutreachTools(reg, "org1", Backends{
		Messenger: &fakeMessenger{err: errors.New("smtp timeout")},
		Leads:     &fakeLeads{channels: map[string]bool{"l1:email": true}},
	})

	res, _ := reg.Execute(context.Background(), "send_email", map[string]any{
		"lead_id": "l1", "body": "hi",
	})
	if res.Success || res.Permanent {
		t.Errorf("transport failure should be retryable, got %+v", res)
	}
}

func TestBookMeeting(t *testing.T) {
	reg := NewRegistry()
	RegisterOutreachTools(reg, "org1", Backends{Calendar: &fakeCalendar{eventID: "ev1"}})

	res, _ := reg.Execute(context.Background(), "book_meeting", map[string]any{
		"lead_id": "l1", "start": time.Now().Add(time.Hour).Format(time.RFC3339),
	})
	if !res.Success || res.Data["event_id"] != "ev1" {
		t.Errorf("got %+v, want booked event ev1", res)
	}

	res, _ = reg.Execute(context.Background(), "book_meeting", map[string]any{
		"lead_id": "l1", "start": "tomorrow-ish",
	})
	if res.Success || !res.Permanent {
		t.Error("unparseable start time is a permanent failure")
	}
}

func TestUpdateLeadStatus(t *testing.T) {
	leads := &fakeLeads{}
	reg := NewRegistry()
	RegisterOutreachTools(reg, "org1", Backends{Leads: leads})

	res, _ := reg.Execute(context.Background(), "update_lead_status", map[string]any{
		"lead_id": "l1", "status": "interested",
	})
	if !res.Success || leads.statuses["l1"] != "interested" {
		t.Errorf("got %+v, statuses %v", res, leads.statuses)
	}
}

func TestControlTools(t *testing.T) {
	var escalated string
	reg := NewRegistry()
	RegisterControlTools(reg, func(_ context.Context, reason string) error {
		escalated = reason
		return nil
	})

	res, _ := reg.Execute(context.Background(), ActionSkip, nil)
	if !res.Success || res.Delayed() || res.Escalated() {
		t.Errorf("skip: got %+v", res)
	}

	res, _ = reg.Execute(context.Background(), ActionEscalate, map[string]any{"reason": "weird reply"})
	if !res.Escalated() {
		t.Errorf("escalate: got %+v", res)
	}
	if escalated != "weird reply" {
		t.Errorf("got escalation reason %q", escalated)
	}

	res, _ = reg.Execute(context.Background(), ActionDelay, map[string]any{"minutes": float64(15)})
	if !res.Delayed() {
		t.Errorf("delay: got %+v", res)
	}
	if res.Data["delay_minutes"] != 15 {
		t.Errorf("got delay_minutes %v, want 15", res.Data["delay_minutes"])
	}
}

func TestDescriptions(t *testing.T) {
	reg := NewRegistry()
	RegisterControlTools(reg, nil)
	lines := reg.Descriptions()
	if len(lines) != 3 {
		t.Fatalf("got %d lines, want 3", len(lines))
	}
	names := reg.Names()
	if names[0] != "delay" || names[1] != "escalate" || names[2] != "skip" {
		t.Errorf("names not sorted: %v", names)
	}
}
