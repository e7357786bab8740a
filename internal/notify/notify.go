package notify

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"
)

// EventKind classifies what the operator is being told about.
type EventKind string

const (
	KindApprovalNeeded EventKind = "approval_needed"
	KindEscalated      EventKind = "escalated"
	KindTaskFailed     EventKind = "task_failed"
	KindAgentError     EventKind = "agent_error"
)

// Event is one operator notification.
type Event struct {
	Kind   EventKind
	OrgID  string
	TaskID string
	Action string
	Reason string
	At     time.Time
}

// Format renders the event as a single human-readable line.
func (e *Event) Format() string {
	var head string
	switch e.Kind {
	case KindApprovalNeeded:
		head = fmt.Sprintf("Approval needed: agent wants to %s", e.Action)
	case KindEscalated:
		head = "Agent escalated a task to you"
	case KindTaskFailed:
		head = "Task failed permanently"
	case KindAgentError:
		head = "Agent error"
	default:
		head = string(e.Kind)
	}
	line := fmt.Sprintf("%s (org %s, task %s)", head, e.OrgID, e.TaskID)
	if e.Reason != "" {
		line += ": " + e.Reason
	}
	return line
}

// Notifier delivers operator notifications. Delivery is best-effort;
// the orchestrator never blocks or fails a task on a notification.
type Notifier interface {
	Notify(ctx context.Context, ev *Event) error
}

// Multi fans one event out to several notifiers. Errors are logged and
// swallowed so one dead channel cannot silence the others.
type Multi struct {
	notifiers []Notifier
	logger    *zap.Logger
}

// NewMulti builds a fan-out notifier.
func NewMulti(logger *zap.Logger, notifiers ...Notifier) *Multi {
	return &Multi{notifiers: notifiers, logger: logger}
}

// Notify sends the event to every registered notifier.
func (m *Multi) Notify(ctx context.Context, ev *Event) error {
	for _, n := range m.notifiers {
		if err := n.Notify(ctx, ev); err != nil {
			m.logger.Warn("notification delivery failed",
				zap.String("kind", string(ev.Kind)),
				zap.String("task_id", ev.TaskID),
				zap.Error(err))
		}
	}
	return nil
}

// Nop discards all notifications.
type Nop struct{}

func (Nop) Notify(context.Context, *Event) error { return nil }
