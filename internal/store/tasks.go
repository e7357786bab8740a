package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/bionixus/leadpilot-sub000/internal/queue"
	"github.com/bionixus/leadpilot-sub000/internal/task"
)

const taskColumns = `id, org_id, agent_id, type, priority,
	COALESCE(campaign_id,''), COALESCE(lead_id,''), payload, output_data,
	status, requires_approval, COALESCE(approved_by,''), approved_at,
	COALESCE(rejection_reason,''), COALESCE(pending_action,''), pending_data,
	scheduled_for, started_at, completed_at,
	created_at, retry_count, max_retries, COALESCE(error,'')`

// Enqueue persists a new task. ID, status and created_at come from the
// database; a zero ScheduledFor means eligible immediately.
func (s *Store) Enqueue(ctx context.Context, t *task.Task) (string, error) {
	if !t.Type.Valid() {
		return "", fmt.Errorf("enqueue: unknown task type %q", t.Type)
	}
	if t.MaxRetries == 0 {
		t.MaxRetries = task.DefaultMaxRetries
	}

	var payloadJSON []byte
	if t.Payload != nil {
		var err error
		payloadJSON, err = task.EncodePayload(t.Payload)
		if err != nil {
			return "", fmt.Errorf("enqueue: %w", err)
		}
	}

	scheduledFor := t.ScheduledFor
	if scheduledFor.IsZero() {
		scheduledFor = time.Now()
	}

	var id string
	err := s.db.QueryRow(ctx, `
		INSERT INTO agent_tasks (id, org_id, agent_id, type, priority, campaign_id, lead_id,
			payload, status, requires_approval, scheduled_for, max_retries)
		VALUES (gen_random_uuid(), $1, $2, $3, $4, NULLIF($5,''), NULLIF($6,''),
			$7, 'pending', $8, $9, $10)
		RETURNING id`,
		t.OrgID, t.AgentID, string(t.Type), t.Priority, t.CampaignID, t.LeadID,
		payloadJSON, t.RequiresApproval, scheduledFor, t.MaxRetries,
	).Scan(&id)
	if err != nil {
		return "", fmt.Errorf("enqueue task: %w", err)
	}
	return id, nil
}

// ClaimNext atomically claims the best eligible pending task for the
// org. FOR UPDATE SKIP LOCKED guarantees two concurrent claimers never
// receive the same row, even across processes.
func (s *Store) ClaimNext(ctx context.Context, orgID string) (*task.Task, error) {
	tx, err := s.db.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("claim begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	row := tx.QueryRow(ctx, `
		SELECT `+taskColumns+`
		FROM agent_tasks
		WHERE org_id = $1 AND status = 'pending' AND scheduled_for <= NOW()
		ORDER BY priority DESC, created_at ASC
		LIMIT 1
		FOR UPDATE SKIP LOCKED`, orgID)

	t, err := scanTask(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("claim select: %w", err)
	}

	now := time.Now()
	if _, err := tx.Exec(ctx, `
		UPDATE agent_tasks SET status = 'running', started_at = $2 WHERE id = $1`,
		t.ID, now); err != nil {
		return nil, fmt.Errorf("claim update: %w", err)
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("claim commit: %w", err)
	}

	t.Status = task.StatusRunning
	t.StartedAt = &now
	return t, nil
}

// MarkCompleted finishes a running task with its output.
func (s *Store) MarkCompleted(ctx context.Context, id string, output map[string]any) error {
	var outputJSON []byte
	if output != nil {
		var err error
		outputJSON, err = json.Marshal(output)
		if err != nil {
			return fmt.Errorf("marshal output: %w", err)
		}
	}
	return s.transition(ctx, id, `
		UPDATE agent_tasks SET status = 'completed', output_data = $2, completed_at = NOW()
		WHERE id = $1 AND status = 'running'`, id, outputJSON)
}

// MarkAwaitingApproval parks a running task until a human decides,
// freezing the decided action so approval releases exactly what was
// shown to the approver.
func (s *Store) MarkAwaitingApproval(ctx context.Context, id, action string, data map[string]any) error {
	var dataJSON []byte
	if data != nil {
		var err error
		dataJSON, err = json.Marshal(data)
		if err != nil {
			return fmt.Errorf("marshal pending data: %w", err)
		}
	}
	return s.transition(ctx, id, `
		UPDATE agent_tasks SET status = 'awaiting_approval', requires_approval = TRUE,
			pending_action = NULLIF($2,''), pending_data = $3
		WHERE id = $1 AND status = 'running'`, id, action, dataJSON)
}

// MarkFailed terminally fails a task.
func (s *Store) MarkFailed(ctx context.Context, id string, errMsg string) error {
	return s.transition(ctx, id, `
		UPDATE agent_tasks SET status = 'failed', error = $2, completed_at = NOW()
		WHERE id = $1 AND status = 'running'`, id, errMsg)
}

// Reschedule returns a running task to pending with a later
// scheduled_for, charging one retry.
func (s *Store) Reschedule(ctx context.Context, id string, at time.Time, errMsg string) error {
	return s.transition(ctx, id, `
		UPDATE agent_tasks SET status = 'pending', scheduled_for = $2,
			retry_count = retry_count + 1, error = $3, started_at = NULL
		WHERE id = $1 AND status = 'running'`, id, at, errMsg)
}

// Delay moves a task's scheduled_for without touching the retry count.
func (s *Store) Delay(ctx context.Context, id string, at time.Time) error {
	return s.transition(ctx, id, `
		UPDATE agent_tasks SET status = 'pending', scheduled_for = $2, started_at = NULL
		WHERE id = $1 AND status IN ('pending','running')`, id, at)
}

// Approve records the approver and releases the task back to pending.
func (s *Store) Approve(ctx context.Context, id, approver string) error {
	return s.transition(ctx, id, `
		UPDATE agent_tasks SET status = 'pending', approved_by = $2, approved_at = NOW(),
			started_at = NULL
		WHERE id = $1 AND status = 'awaiting_approval'`, id, approver)
}

// Reject cancels an awaiting_approval task with a reason.
func (s *Store) Reject(ctx context.Context, id, approver, reason string) error {
	return s.transition(ctx, id, `
		UPDATE agent_tasks SET status = 'cancelled', approved_by = $2,
			rejection_reason = $3, completed_at = NOW()
		WHERE id = $1 AND status = 'awaiting_approval'`, id, approver, reason)
}

// Cancel cancels a pending or awaiting_approval task.
func (s *Store) Cancel(ctx context.Context, id string) error {
	return s.transition(ctx, id, `
		UPDATE agent_tasks SET status = 'cancelled', completed_at = NOW()
		WHERE id = $1 AND status IN ('pending','awaiting_approval')`, id)
}

// transition runs a guarded status update. Zero rows means either the
// task does not exist or its current status rejects the change.
func (s *Store) transition(ctx context.Context, id, sql string, args ...any) error {
	tag, err := s.db.Exec(ctx, sql, args...)
	if err != nil {
		return fmt.Errorf("task transition: %w", err)
	}
	if tag.RowsAffected() == 0 {
		var exists bool
		if err := s.db.QueryRow(ctx,
			`SELECT EXISTS(SELECT 1 FROM agent_tasks WHERE id = $1)`, id).Scan(&exists); err != nil {
			return fmt.Errorf("task transition: %w", err)
		}
		if !exists {
			return queue.ErrNotFound
		}
		return queue.ErrBadTransition
	}
	return nil
}

// Get returns a task by ID.
func (s *Store) Get(ctx context.Context, id string) (*task.Task, error) {
	row := s.db.QueryRow(ctx,
		`SELECT `+taskColumns+` FROM agent_tasks WHERE id = $1`, id)
	t, err := scanTask(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, queue.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get task %s: %w", id, err)
	}
	return t, nil
}

// List returns an org's tasks, newest first, optionally filtered by status.
func (s *Store) List(ctx context.Context, orgID string, status task.Status, limit int) ([]*task.Task, error) {
	if limit <= 0 {
		limit = 50
	}

	sql := `SELECT ` + taskColumns + ` FROM agent_tasks WHERE org_id = $1`
	args := []any{orgID}
	if status != "" {
		sql += ` AND status = $2`
		args = append(args, string(status))
	}
	sql += fmt.Sprintf(` ORDER BY created_at DESC LIMIT %d`, limit)

	rows, err := s.db.Query(ctx, sql, args...)
	if err != nil {
		return nil, fmt.Errorf("list tasks: %w", err)
	}
	defer rows.Close()

	var tasks []*task.Task
	for rows.Next() {
		t, err := scanTask(rows)
		if err != nil {
			return nil, fmt.Errorf("scan task: %w", err)
		}
		tasks = append(tasks, t)
	}
	return tasks, rows.Err()
}

// CountRecent counts non-cancelled tasks of a type created since the
// given time.
func (s *Store) CountRecent(ctx context.Context, orgID string, tt task.Type, since time.Time) (int, error) {
	var n int
	err := s.db.QueryRow(ctx, `
		SELECT COUNT(*) FROM agent_tasks
		WHERE org_id = $1 AND type = $2 AND created_at >= $3 AND status != 'cancelled'`,
		orgID, string(tt), since).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count recent tasks: %w", err)
	}
	return n, nil
}

// HasInFlight reports whether a non-terminal task of the type exists
// for the lead.
func (s *Store) HasInFlight(ctx context.Context, orgID, leadID string, tt task.Type) (bool, error) {
	var exists bool
	err := s.db.QueryRow(ctx, `
		SELECT EXISTS(
			SELECT 1 FROM agent_tasks
			WHERE org_id = $1 AND lead_id = $2 AND type = $3
			  AND status IN ('pending','running','awaiting_approval'))`,
		orgID, leadID, string(tt)).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("in-flight check: %w", err)
	}
	return exists, nil
}

// PurgeBefore deletes terminal tasks completed before the cutoff.
func (s *Store) PurgeBefore(ctx context.Context, cutoff time.Time) (int, error) {
	tag, err := s.db.Exec(ctx, `
		DELETE FROM agent_tasks
		WHERE status IN ('completed','failed','cancelled') AND completed_at < $1`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("purge tasks: %w", err)
	}
	return int(tag.RowsAffected()), nil
}

// scanTask maps one row onto a Task, decoding the typed payload.
func scanTask(row pgx.Row) (*task.Task, error) {
	var t task.Task
	var typ, status string
	var payloadJSON, outputJSON, pendingJSON []byte

	err := row.Scan(
		&t.ID, &t.OrgID, &t.AgentID, &typ, &t.Priority,
		&t.CampaignID, &t.LeadID, &payloadJSON, &outputJSON,
		&status, &t.RequiresApproval, &t.ApprovedBy, &t.ApprovedAt,
		&t.RejectionReason, &t.PendingAction, &pendingJSON,
		&t.ScheduledFor, &t.StartedAt, &t.CompletedAt,
		&t.CreatedAt, &t.RetryCount, &t.MaxRetries, &t.Error,
	)
	if err != nil {
		return nil, err
	}
	if len(pendingJSON) > 0 {
		if err := json.Unmarshal(pendingJSON, &t.PendingData); err != nil {
			return nil, fmt.Errorf("decode pending data for %s: %w", t.ID, err)
		}
	}
	t.Type = task.Type(typ)
	t.Status = task.Status(status)

	if len(payloadJSON) > 0 {
		p, err := task.DecodePayload(t.Type, payloadJSON)
		if err != nil {
			return nil, fmt.Errorf("decode payload for %s: %w", t.ID, err)
		}
		t.Payload = p
	}
	if len(outputJSON) > 0 {
		if err := json.Unmarshal(outputJSON, &t.OutputData); err != nil {
			return nil, fmt.Errorf("decode output for %s: %w", t.ID, err)
		}
	}
	return &t, nil
}
