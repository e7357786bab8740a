package brain

import (
	"context"
	"strings"
	"testing"

	"go.uber.org/zap"

	"github.com/bionixus/leadpilot-sub000/internal/agent"
	"github.com/bionixus/leadpilot-sub000/internal/provider"
	"github.com/bionixus/leadpilot-sub000/internal/task"
)

type scriptedLLM struct {
	reply   string
	lastReq *provider.ChatRequest
}

func (s *scriptedLLM) Chat(_ context.Context, _ string, req *provider.ChatRequest) (*provider.ChatResponse, error) {
	s.lastReq = req
	return &provider.ChatResponse{Content: s.reply, Model: req.Model}, nil
}

func testInput(t task.Type, reply string) (*Brain, Input, *scriptedLLM) {
	llm := &scriptedLLM{reply: reply}
	b := New(llm, zap.NewNop())
	cfg := agent.DefaultConfig("org1")
	in := Input{
		Config:  cfg,
		Task:    &task.Task{ID: "t1", OrgID: "org1", Type: t, LeadID: "l1"},
		Context: "lead replied asking for pricing",
	}
	return b, in, llm
}

func TestDecide_ParsesWellFormedReply(t *testing.T) {
	b, in, _ := testInput(task.TypeClassifyReply,
		`Looking at the reply, this is clearly interest.
{"action":"update_lead_status","reasoning":"asked for pricing","confidence":0.9,"requires_approval":false,"data":{"status":"interested"}}`)

	d, err := b.Decide(context.Background(), in)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if d.Action != "update_lead_status" {
		t.Errorf("got action %q", d.Action)
	}
	if d.Confidence != 0.9 {
		t.Errorf("got confidence %v", d.Confidence)
	}
	if d.RequiresApproval {
		t.Error("update_lead_status is not on the approval list")
	}
	if d.Data["status"] != "interested" {
		t.Errorf("got data %v", d.Data)
	}
}

func TestDecide_NoJSONFailsClosed(t *testing.T) {
	b, in, _ := testInput(task.TypeClassifyReply, "I think we should mark this lead as interested.")

	d, err := b.Decide(context.Background(), in)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if d.Action != ActionError {
		t.Errorf("got action %q, want %q", d.Action, ActionError)
	}
	if d.Confidence != 0 {
		t.Errorf("got confidence %v, want 0", d.Confidence)
	}
	if !d.RequiresApproval {
		t.Error("fail-closed decision must require approval")
	}
	if d.Raw == "" {
		t.Error("raw model reply must be preserved")
	}
}

func TestDecide_MissingActionFailsClosed(t *testing.T) {
	b, in, _ := testInput(task.TypeClassifyReply,
		`{"reasoning":"not sure what to do","confidence":0.5}`)

	d, err := b.Decide(context.Background(), in)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if d.Action != ActionError || !d.RequiresApproval {
		t.Errorf("got %+v, want fail-closed decision", d)
	}
}

func TestDecide_IllegalActionFailsClosed(t *testing.T) {
	// book_meeting is not legal for classify_reply.
	b, in, _ := testInput(task.TypeClassifyReply,
		`{"action":"book_meeting","reasoning":"just book it","confidence":0.99}`)

	d, err := b.Decide(context.Background(), in)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if d.Action != ActionError {
		t.Errorf("got action %q, want %q", d.Action, ActionError)
	}
	if d.Confidence != 0 || !d.RequiresApproval {
		t.Errorf("illegal action must collapse to fail-closed, got %+v", d)
	}
}

func TestDecide_ApprovalFloor(t *testing.T) {
	// send_email is on the default approval list; the model saying
	// requires_approval=false must not lower the floor.
	b, in, _ := testInput(task.TypeSendMessage,
		`{"action":"send_email","reasoning":"first touch","confidence":0.8,"requires_approval":false,"data":{"subject":"hi"}}`)

	d, err := b.Decide(context.Background(), in)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if d.Action != "send_email" {
		t.Fatalf("got action %q", d.Action)
	}
	if !d.RequiresApproval {
		t.Error("approval floor bypassed")
	}
}

func TestDecide_ControlActionAlwaysLegal(t *testing.T) {
	b, in, _ := testInput(task.TypeReport,
		`{"action":"skip","reasoning":"nothing to report","confidence":0.7}`)

	d, err := b.Decide(context.Background(), in)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if d.Action != "skip" {
		t.Errorf("got action %q, want skip", d.Action)
	}
}

func TestDecide_PromptCarriesRulesAndActions(t *testing.T) {
	b, in, llm := testInput(task.TypeSendMessage,
		`{"action":"skip","reasoning":"","confidence":1}`)
	in.RuleLines = []string{"- [filter, priority 10] IF lead.status equals unsubscribed THEN block"}
	in.ToolLines = []string{"send_email: send an email to a lead"}

	if _, err := b.Decide(context.Background(), in); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	sys := llm.lastReq.Messages[0].Content
	if !strings.Contains(sys, "unsubscribed") {
		t.Error("system prompt missing rule text")
	}
	if !strings.Contains(sys, "send_email: send an email") {
		t.Error("system prompt missing tool descriptions")
	}
	user := llm.lastReq.Messages[1].Content
	if !strings.Contains(user, "send_email") || !strings.Contains(user, "escalate") {
		t.Errorf("user prompt missing legal actions: %q", user)
	}
}

func TestParseDecision_ClampsConfidence(t *testing.T) {
	d := parseDecision(`{"action":"skip","confidence":3.5}`)
	if d.Confidence != 1 {
		t.Errorf("got %v, want 1", d.Confidence)
	}
	d = parseDecision(`{"action":"skip","confidence":-1}`)
	if d.Confidence != 0 {
		t.Errorf("got %v, want 0", d.Confidence)
	}
}

func TestFirstJSONObject(t *testing.T) {
	cases := []struct {
		in, want string
	}{
		{`{"a":1}`, `{"a":1}`},
		{`prefix {"a":{"b":2}} suffix`, `{"a":{"b":2}}`},
		{`{"s":"brace } inside"}`, `{"s":"brace } inside"}`},
		{`{"s":"escaped \" quote}"}`, `{"s":"escaped \" quote}"}`},
		{`no json here`, ``},
		{`{"unterminated":`, ``},
	}
	for _, c := range cases {
		if got := firstJSONObject(c.in); got != c.want {
			t.Errorf("firstJSONObject(%q) = %q, want %q", c.in, got, c.want)
		}
	}
}
