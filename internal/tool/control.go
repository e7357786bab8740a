package tool

import (
	"context"
	"time"
)

// Universal control actions available for every task type. They are
// provided by the engine itself, never by the tool backend.
const (
	ActionSkip     = "skip"
	ActionEscalate = "escalate"
	ActionDelay    = "delay"
)

// EscalateFunc notifies a human that a task needs attention.
type EscalateFunc func(ctx context.Context, reason string) error

// RegisterControlTools adds skip, escalate and delay to the registry.
// The orchestrator interprets their results specially: delayed tasks are
// rescheduled, escalated tasks go to awaiting_approval.
func RegisterControlTools(reg *Registry, escalate EscalateFunc) {
	reg.Register(&Tool{
		Name:        ActionSkip,
		Description: "Take no action on this task and mark it done",
		Execute: func(_ context.Context, _ map[string]any) (*Result, error) {
			return Ok(map[string]any{"skipped": true}), nil
		},
	})

	reg.Register(&Tool{
		Name:        ActionEscalate,
		Description: "Route this task to a human for review",
		Parameters: map[string]any{
			"reason": "why a human needs to look at this",
		},
		Execute: func(ctx context.Context, params map[string]any) (*Result, error) {
			reason, _ := strParam(params, "reason")
			if reason == "" {
				reason = "agent requested human review"
			}
			if escalate != nil {
				// Notification failure must not fail the escalation itself.
				_ = escalate(ctx, reason)
			}
			return Ok(map[string]any{"escalated": true, "reason": reason}), nil
		},
	})

	reg.Register(&Tool{
		Name:        ActionDelay,
		Description: "Postpone this task to a later time",
		Parameters: map[string]any{
			"minutes": "how long to wait before retrying the task",
		},
		Execute: func(_ context.Context, params map[string]any) (*Result, error) {
			minutes, ok := numParam(params, "minutes")
			if !ok || minutes <= 0 {
				minutes = 60
			}
			until := time.Now().Add(time.Duration(minutes) * time.Minute)
			return Ok(map[string]any{
				"delayed":       true,
				"delay_minutes": minutes,
				"until":         until.Format(time.RFC3339),
			}), nil
		},
	})
}
