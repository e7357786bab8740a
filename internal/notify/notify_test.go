package notify

import (
	"context"
	"errors"
	"strings"
	"testing"

	"go.uber.org/zap"
)

type recording struct {
	events []*Event
	err    error
}

func (r *recording) Notify(_ context.Context, ev *Event) error {
	r.events = append(r.events, ev)
	return r.err
}

func TestEventFormat(t *testing.T) {
	ev := &Event{
		Kind:   KindApprovalNeeded,
		OrgID:  "org1",
		TaskID: "t1",
		Action: "send_email",
		Reason: "first outreach to a new lead",
	}
	got := ev.Format()
	for _, want := range []string{"send_email", "org1", "t1", "first outreach"} {
		if !strings.Contains(got, want) {
			t.Errorf("format %q missing %q", got, want)
		}
	}

	got = (&Event{Kind: KindTaskFailed, OrgID: "org1", TaskID: "t2"}).Format()
	if !strings.Contains(got, "failed") {
		t.Errorf("got %q", got)
	}
}

func TestMultiFanOut(t *testing.T) {
	a := &recording{}
	b := &recording{err: errors.New("channel gone")}
	c := &recording{}
	m := NewMulti(zap.NewNop(), a, b, c)

	ev := &Event{Kind: KindEscalated, OrgID: "org1", TaskID: "t1"}
	if err := m.Notify(context.Background(), ev); err != nil {
		t.Fatalf("multi must swallow delivery errors, got %v", err)
	}

	for i, r := range []*recording{a, b, c} {
		if len(r.events) != 1 || r.events[0] != ev {
			t.Errorf("notifier %d got %v", i, r.events)
		}
	}
}
