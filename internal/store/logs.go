package store

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/bionixus/leadpilot-sub000/internal/task"
)

// AppendLog writes one audit entry. Entries are never updated; only
// the housekeeping sweep removes them, past the retention window.
func (s *Store) AppendLog(ctx context.Context, e *task.LogEntry) error {
	var detailsJSON []byte
	if e.Details != nil {
		var err error
		detailsJSON, err = json.Marshal(e.Details)
		if err != nil {
			return fmt.Errorf("marshal log details: %w", err)
		}
	}

	_, err := s.db.Exec(ctx, `
		INSERT INTO agent_logs (id, org_id, task_id, kind, message, details,
			reasoning, confidence, rule_id)
		VALUES (gen_random_uuid(), $1, NULLIF($2,''), $3, $4, $5, NULLIF($6,''), $7, NULLIF($8,''))`,
		e.OrgID, e.TaskID, string(e.Kind), e.Message, detailsJSON,
		e.Reasoning, e.Confidence, e.RuleID,
	)
	if err != nil {
		return fmt.Errorf("append log: %w", err)
	}
	return nil
}

// ListLogs returns an org's audit entries, newest first. A non-empty
// taskID narrows to one task's trail.
func (s *Store) ListLogs(ctx context.Context, orgID, taskID string, limit int) ([]*task.LogEntry, error) {
	if limit <= 0 {
		limit = 100
	}

	sql := `SELECT id, org_id, COALESCE(task_id,''), kind, message, details,
		COALESCE(reasoning,''), COALESCE(confidence,0), COALESCE(rule_id,''), created_at
		FROM agent_logs WHERE org_id = $1`
	args := []any{orgID}
	if taskID != "" {
		sql += ` AND task_id = $2`
		args = append(args, taskID)
	}
	sql += fmt.Sprintf(` ORDER BY created_at DESC LIMIT %d`, limit)

	rows, err := s.db.Query(ctx, sql, args...)
	if err != nil {
		return nil, fmt.Errorf("list logs: %w", err)
	}
	defer rows.Close()

	var entries []*task.LogEntry
	for rows.Next() {
		var e task.LogEntry
		var kind string
		var detailsJSON []byte
		if err := rows.Scan(
			&e.ID, &e.OrgID, &e.TaskID, &kind, &e.Message, &detailsJSON,
			&e.Reasoning, &e.Confidence, &e.RuleID, &e.CreatedAt,
		); err != nil {
			return nil, fmt.Errorf("scan log: %w", err)
		}
		e.Kind = task.LogKind(kind)
		if len(detailsJSON) > 0 {
			json.Unmarshal(detailsJSON, &e.Details)
		}
		entries = append(entries, &e)
	}
	return entries, rows.Err()
}

// PurgeLogsBefore deletes audit entries created before the cutoff.
func (s *Store) PurgeLogsBefore(ctx context.Context, cutoff time.Time) (int, error) {
	tag, err := s.db.Exec(ctx, `DELETE FROM agent_logs WHERE created_at < $1`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("purge logs: %w", err)
	}
	return int(tag.RowsAffected()), nil
}
