package queue

import (
	"context"
	"errors"
	"time"

	"github.com/bionixus/leadpilot-sub000/internal/task"
)

// TaskQueue is the durable work list. ClaimNext is the single
// correctness-critical operation: it must be atomic against concurrent
// callers, including other orchestrator processes for the same org.
type TaskQueue interface {
	// Enqueue persists a new task and returns its ID. Status, ID and
	// CreatedAt are assigned by the queue; a zero ScheduledFor means now.
	Enqueue(ctx context.Context, t *task.Task) (string, error)

	// ClaimNext atomically selects the highest-priority, earliest-created
	// pending task for the org whose scheduled_for has elapsed, marks it
	// running, and returns it. Returns (nil, nil) when nothing is eligible.
	// Two concurrent callers never receive the same task.
	ClaimNext(ctx context.Context, orgID string) (*task.Task, error)

	// MarkCompleted finishes a running task with its output.
	MarkCompleted(ctx context.Context, id string, output map[string]any) error

	// MarkAwaitingApproval parks a running task until a human decides,
	// freezing the action and parameters that were about to run. An
	// approved task executes exactly the frozen action; action may be
	// empty when no decision was reached (escalations).
	MarkAwaitingApproval(ctx context.Context, id, action string, data map[string]any) error

	// MarkFailed terminally fails a task. Only reachable once the retry
	// budget is exhausted; earlier failures go through Reschedule.
	MarkFailed(ctx context.Context, id string, errMsg string) error

	// Reschedule returns a running task to pending with a new
	// scheduled_for, incrementing its retry count.
	Reschedule(ctx context.Context, id string, at time.Time, errMsg string) error

	// Delay moves a pending or running task's scheduled_for without
	// touching the retry count (the delay control tool, not a failure).
	Delay(ctx context.Context, id string, at time.Time) error

	// Approve records the approver and returns an awaiting_approval task
	// to pending so the loop re-claims and executes it.
	Approve(ctx context.Context, id, approver string) error

	// Reject cancels an awaiting_approval task with a reason.
	Reject(ctx context.Context, id, approver, reason string) error

	// Cancel cancels a pending or awaiting_approval task.
	Cancel(ctx context.Context, id string) error

	// Get returns a task by ID.
	Get(ctx context.Context, id string) (*task.Task, error)

	// List returns an org's tasks, newest first, optionally filtered by status.
	List(ctx context.Context, orgID string, status task.Status, limit int) ([]*task.Task, error)

	// CountRecent counts tasks of a type created since the given time,
	// in any non-cancelled state. Used for work-discovery dedup.
	CountRecent(ctx context.Context, orgID string, tt task.Type, since time.Time) (int, error)

	// HasInFlight reports whether a non-terminal task of the given type
	// exists for the lead. Used for follow-up dedup.
	HasInFlight(ctx context.Context, orgID, leadID string, tt task.Type) (bool, error)

	// PurgeBefore deletes terminal tasks completed before the cutoff.
	// Housekeeping only; never touches pending or running work.
	PurgeBefore(ctx context.Context, cutoff time.Time) (int, error)
}

// ErrNotFound is returned for operations on unknown task IDs.
var ErrNotFound = errors.New("task not found")

// ErrBadTransition is returned when a state change violates the task
// state machine (e.g. approving a task that is not awaiting approval).
var ErrBadTransition = errors.New("invalid task state transition")
